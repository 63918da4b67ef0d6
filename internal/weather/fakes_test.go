package weather

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/i474232898/raincheck/internal/observability"
)

var errBoom = errors.New("boom")

var testNow = time.Date(2024, 3, 1, 9, 0, 0, 0, time.FixedZone("EST", -5*3600))

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeGeocoder struct {
	calls  atomic.Int32
	coords Coordinates
	err    error
}

func (f *fakeGeocoder) Geocode(_ context.Context, _ string) (Coordinates, error) {
	f.calls.Add(1)
	if f.err != nil {
		return Coordinates{}, f.err
	}
	return f.coords, nil
}

type fakeGrids struct {
	calls atomic.Int32
	cell  GridCell
	err   error
}

func (f *fakeGrids) ResolveGrid(_ context.Context, _ Coordinates) (GridCell, error) {
	f.calls.Add(1)
	if f.err != nil {
		return GridCell{}, f.err
	}
	return f.cell, nil
}

type fakeFetcher struct {
	calls   atomic.Int32
	periods []ForecastPeriod
	err     error
	// failures is how many calls fail with err before succeeding; 0 means always.
	failures int32
	// delay holds every call open, standing in for a slow provider.
	delay time.Duration
	// during runs inside each call, before it returns.
	during func()
}

func (f *fakeFetcher) FetchHourly(_ context.Context, _ GridCell) ([]ForecastPeriod, error) {
	n := f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.during != nil {
		f.during()
	}
	if f.err != nil && (f.failures == 0 || n <= f.failures) {
		return nil, f.err
	}
	return f.periods, nil
}

type fakeSummarizer struct {
	calls   atomic.Int32
	summary string
	err     error
}

func (f *fakeSummarizer) Summarize(_ context.Context, _ []ForecastPeriod, _ TimeWindow) (string, error) {
	f.calls.Add(1)
	if f.err != nil {
		return "", f.err
	}
	return f.summary, nil
}

// hourlyPeriods returns n one-hour periods starting at start.
func hourlyPeriods(start time.Time, n int) []ForecastPeriod {
	out := make([]ForecastPeriod, n)
	for i := range out {
		s := start.Add(time.Duration(i) * time.Hour)
		out[i] = ForecastPeriod{
			Number:        i + 1,
			StartTime:     s,
			EndTime:       s.Add(time.Hour),
			Temperature:   50 + i,
			ShortForecast: "Cloudy",
		}
	}
	return out
}

type testProviders struct {
	geo   *fakeGeocoder
	grids *fakeGrids
	fetch *fakeFetcher
	sum   *fakeSummarizer
}

func newTestProviders() *testProviders {
	return &testProviders{
		geo:   &fakeGeocoder{coords: Coordinates{Lat: 38.2542, Lon: -85.7594}},
		grids: &fakeGrids{cell: GridCell{ID: "LMK", X: 50, Y: 78}},
		fetch: &fakeFetcher{periods: hourlyPeriods(testNow.Truncate(time.Hour), 156)},
		sum:   &fakeSummarizer{summary: "Expect clouds around noon, you'll be fine without a coat."},
	}
}

func (tp *testProviders) providers() Providers {
	return Providers{Geocoder: tp.geo, Grids: tp.grids, Fetcher: tp.fetch, Summarizer: tp.sum}
}

func newTestPipeline(tp *testProviders, clock clockwork.Clock) *Pipeline {
	p, err := NewPipeline(tp.providers(), PipelineConfig{
		StageTimeout: time.Second,
		Retry:        RetryPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond},
	}, clock, discardLogger(), observability.NewTestMetrics())
	if err != nil {
		panic(err)
	}
	return p
}

// memStore is a minimal Store used by service tests. Event writes to a
// subscription listed in failIDs fail with errBoom.
type memStore struct {
	mu          sync.Mutex
	subs        map[string]Subscription
	eventWrites atomic.Int32
	failIDs     map[string]bool
}

func newMemStore() *memStore {
	return &memStore{subs: map[string]Subscription{}, failIDs: map[string]bool{}}
}

func (m *memStore) CreateSubscription(_ context.Context, sub Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[sub.ID] = sub.Clone()
	return nil
}

func (m *memStore) GetSubscription(_ context.Context, id string) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[id]
	if !ok {
		return Subscription{}, ErrNotFound
	}
	return sub.Clone(), nil
}

func (m *memStore) GetSubscriptionByPhone(_ context.Context, phone string) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sub := range m.subs {
		if sub.Subscriber.Phone == phone {
			return sub.Clone(), nil
		}
	}
	return Subscription{}, ErrNotFound
}

func (m *memStore) FindSubscriptionByEvent(_ context.Context, eventID string) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sub := range m.subs {
		if sub.EventIndex(eventID) >= 0 {
			return sub.Clone(), nil
		}
	}
	return Subscription{}, ErrNotFound
}

func (m *memStore) ListSubscriptions(_ context.Context) ([]Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Subscription, 0, len(m.subs))
	for _, sub := range m.subs {
		out = append(out, sub.Clone())
	}
	return out, nil
}

func (m *memStore) SetSubscriber(_ context.Context, id string, subscriber Subscriber) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[id]
	if !ok {
		return ErrNotFound
	}
	sub.Subscriber = subscriber
	m.subs[id] = sub
	return nil
}

func (m *memStore) AppendEvent(_ context.Context, id string, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[id]
	if !ok {
		return ErrNotFound
	}
	sub.Events = append(sub.Events, ev.Clone())
	m.subs[id] = sub
	return nil
}

func (m *memStore) ReplaceEvent(_ context.Context, ev Event, expectRevision int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.eventWrites.Add(1)
	for id, sub := range m.subs {
		idx := sub.EventIndex(ev.ID)
		if idx < 0 {
			continue
		}
		if m.failIDs[id] {
			return errBoom
		}
		if sub.Events[idx].Revision != expectRevision {
			return ErrConflict
		}
		sub.Events[idx] = ev.Clone()
		return nil
	}
	return ErrNotFound
}

func (m *memStore) RemoveEvent(_ context.Context, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, sub := range m.subs {
		if idx := sub.EventIndex(eventID); idx >= 0 {
			sub.Events = append(sub.Events[:idx], sub.Events[idx+1:]...)
			m.subs[id] = sub
			return nil
		}
	}
	return ErrNotFound
}

func (m *memStore) DeleteSubscription(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[id]; !ok {
		return ErrNotFound
	}
	delete(m.subs, id)
	return nil
}
