package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/raincheck/internal/weather"
)

func sampleSubscription(id, phone string) weather.Subscription {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("EST", -5*3600))
	return weather.Subscription{
		ID:         id,
		Subscriber: weather.Subscriber{Phone: phone, AlertTexts: true},
		Events: []weather.Event{{
			ID:    id + "-evt",
			Time:  weather.TimeWindow{Start: start},
			Place: weather.NewPlace("123 Main St, Louisville, KY 40202"),
		}},
	}
}

func TestMemoryStoreCRUD(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.CreateSubscription(ctx, sampleSubscription("a", "+1")))
	require.NoError(t, s.CreateSubscription(ctx, sampleSubscription("b", "+2")))
	assert.ErrorIs(t, s.CreateSubscription(ctx, sampleSubscription("a", "+3")), ErrDuplicateID)

	got, err := s.GetSubscription(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "+1", got.Subscriber.Phone)

	byPhone, err := s.GetSubscriptionByPhone(ctx, "+2")
	require.NoError(t, err)
	assert.Equal(t, "b", byPhone.ID)

	byEvent, err := s.FindSubscriptionByEvent(ctx, "b-evt")
	require.NoError(t, err)
	assert.Equal(t, "b", byEvent.ID)

	list, err := s.ListSubscriptions(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].ID)
	assert.Equal(t, "b", list[1].ID)

	require.NoError(t, s.SetSubscriber(ctx, "a", weather.Subscriber{Phone: "+9"}))
	byPhone, err = s.GetSubscriptionByPhone(ctx, "+9")
	require.NoError(t, err)
	assert.Equal(t, "a", byPhone.ID)
	assert.Len(t, byPhone.Events, 1)

	require.NoError(t, s.DeleteSubscription(ctx, "a"))
	_, err = s.GetSubscription(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, weather.ErrNotFound)

	list, err = s.ListSubscriptions(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestMemoryStoreMissingRecords(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.GetSubscriptionByPhone(ctx, "+1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.FindSubscriptionByEvent(ctx, "evt")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.SetSubscriber(ctx, "x", weather.Subscriber{Phone: "+1"}), ErrNotFound)
	assert.ErrorIs(t, s.AppendEvent(ctx, "x", weather.Event{ID: "evt"}), ErrNotFound)
	assert.ErrorIs(t, s.ReplaceEvent(ctx, weather.Event{ID: "evt"}, 0), ErrNotFound)
	assert.ErrorIs(t, s.RemoveEvent(ctx, "evt"), ErrNotFound)
	assert.ErrorIs(t, s.DeleteSubscription(ctx, "x"), ErrNotFound)

	list, err := s.ListSubscriptions(ctx)
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)
}

func TestMemoryStoreIsolatesCallers(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	sub := sampleSubscription("a", "+1")
	require.NoError(t, s.CreateSubscription(ctx, sub))

	sub.Events[0].Place.Address = "changed"
	got, err := s.GetSubscription(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "123 Main St, Louisville, KY 40202", got.Events[0].Place.Address)

	got.Events[0].Place.SetCoordinates(weather.Coordinates{Lat: 1, Lon: 2})
	again, err := s.GetSubscription(ctx, "a")
	require.NoError(t, err)
	_, ok := again.Events[0].Place.Coordinates()
	assert.False(t, ok)
}

func TestMemoryStoreConcurrentAppend(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateSubscription(ctx, sampleSubscription("a", "+1")))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			ev := weather.Event{ID: fmt.Sprintf("evt-%d", i), Place: weather.NewPlace("9 Elm St")}
			assert.NoError(t, s.AppendEvent(ctx, "a", ev))
		}()
	}
	wg.Wait()

	got, err := s.GetSubscription(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, got.Events, 51)
}

func TestMemoryStoreReplaceEventChecksRevision(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateSubscription(ctx, sampleSubscription("a", "+1")))
	require.NoError(t, s.AppendEvent(ctx, "a", weather.Event{ID: "other", Place: weather.NewPlace("9 Elm St")}))

	sub, err := s.FindSubscriptionByEvent(ctx, "a-evt")
	require.NoError(t, err)
	ev := sub.Events[0]
	ev.Place.SetCoordinates(weather.Coordinates{Lat: 1, Lon: 2})
	ev.Revision = 1
	require.NoError(t, s.ReplaceEvent(ctx, ev, 0))

	// A writer still holding revision 0 loses.
	stale := sub.Events[0]
	stale.Revision = 1
	assert.ErrorIs(t, s.ReplaceEvent(ctx, stale, 0), ErrConflict)
	assert.ErrorIs(t, s.ReplaceEvent(ctx, stale, 0), weather.ErrConflict)

	got, err := s.GetSubscription(ctx, "a")
	require.NoError(t, err)
	require.Len(t, got.Events, 2)
	assert.Equal(t, int64(1), got.Events[0].Revision)
	_, ok := got.Events[0].Place.Coordinates()
	assert.True(t, ok)
	assert.Equal(t, "other", got.Events[1].ID)
}

func TestMemoryStoreRemoveEvent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateSubscription(ctx, sampleSubscription("a", "+1")))

	require.NoError(t, s.RemoveEvent(ctx, "a-evt"))
	assert.ErrorIs(t, s.RemoveEvent(ctx, "a-evt"), ErrNotFound)

	got, err := s.GetSubscription(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, got.Events)

	// A removed event cannot be written back.
	assert.ErrorIs(t, s.ReplaceEvent(ctx, weather.Event{ID: "a-evt"}, 0), ErrNotFound)
}
