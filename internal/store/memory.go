package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/i474232898/raincheck/internal/weather"
)

var (
	// ErrNotFound is returned when no subscription matches the lookup.
	ErrNotFound = weather.ErrNotFound

	// ErrConflict is returned when an event changed since it was read.
	ErrConflict = weather.ErrConflict

	// ErrDuplicateID is returned when creating a subscription whose id is taken.
	ErrDuplicateID = errors.New("subscription id already exists")
)

// MemoryStore is a concurrency-safe in-memory implementation of weather.Store.
// Records are copied on the way in and out, so callers never share state
// with the store.
type MemoryStore struct {
	mu sync.RWMutex

	// key: subscription id
	data map[string]weather.Subscription
	// insertion order, used for listing and phone lookups
	order []string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]weather.Subscription),
	}
}

func (s *MemoryStore) CreateSubscription(_ context.Context, sub weather.Subscription) error {
	if sub.ID == "" {
		return fmt.Errorf("create subscription: empty id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data[sub.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateID, sub.ID)
	}
	s.data[sub.ID] = sub.Clone()
	s.order = append(s.order, sub.ID)
	return nil
}

func (s *MemoryStore) GetSubscription(_ context.Context, id string) (weather.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.data[id]
	if !ok {
		return weather.Subscription{}, fmt.Errorf("subscription %s: %w", id, ErrNotFound)
	}
	return sub.Clone(), nil
}

// GetSubscriptionByPhone returns the oldest subscription with the given phone.
func (s *MemoryStore) GetSubscriptionByPhone(_ context.Context, phone string) (weather.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, id := range s.order {
		if sub := s.data[id]; sub.Subscriber.Phone == phone {
			return sub.Clone(), nil
		}
	}
	return weather.Subscription{}, fmt.Errorf("subscription with phone %s: %w", phone, ErrNotFound)
}

func (s *MemoryStore) FindSubscriptionByEvent(_ context.Context, eventID string) (weather.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if id, idx := s.locateEvent(eventID); idx >= 0 {
		return s.data[id].Clone(), nil
	}
	return weather.Subscription{}, fmt.Errorf("event %s: %w", eventID, ErrNotFound)
}

func (s *MemoryStore) ListSubscriptions(_ context.Context) ([]weather.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]weather.Subscription, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.data[id].Clone())
	}
	return out, nil
}

func (s *MemoryStore) SetSubscriber(_ context.Context, subscriptionID string, subscriber weather.Subscriber) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.data[subscriptionID]
	if !ok {
		return fmt.Errorf("subscription %s: %w", subscriptionID, ErrNotFound)
	}
	sub.Subscriber = subscriber
	s.data[subscriptionID] = sub
	return nil
}

func (s *MemoryStore) AppendEvent(_ context.Context, subscriptionID string, ev weather.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.data[subscriptionID]
	if !ok {
		return fmt.Errorf("subscription %s: %w", subscriptionID, ErrNotFound)
	}
	sub.Events = append(sub.Events, ev.Clone())
	s.data[subscriptionID] = sub
	return nil
}

func (s *MemoryStore) ReplaceEvent(_ context.Context, ev weather.Event, expectRevision int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, idx := s.locateEvent(ev.ID)
	if idx < 0 {
		return fmt.Errorf("event %s: %w", ev.ID, ErrNotFound)
	}
	sub := s.data[id]
	if got := sub.Events[idx].Revision; got != expectRevision {
		return fmt.Errorf("event %s at revision %d, expected %d: %w", ev.ID, got, expectRevision, ErrConflict)
	}
	sub.Events[idx] = ev.Clone()
	return nil
}

func (s *MemoryStore) RemoveEvent(_ context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, idx := s.locateEvent(eventID)
	if idx < 0 {
		return fmt.Errorf("event %s: %w", eventID, ErrNotFound)
	}
	sub := s.data[id]
	sub.Events = append(sub.Events[:idx], sub.Events[idx+1:]...)
	s.data[id] = sub
	return nil
}

// locateEvent returns the subscription holding eventID and the event's
// index in it. Callers hold s.mu.
func (s *MemoryStore) locateEvent(eventID string) (string, int) {
	for _, id := range s.order {
		if idx := s.data[id].EventIndex(eventID); idx >= 0 {
			return id, idx
		}
	}
	return "", -1
}

func (s *MemoryStore) DeleteSubscription(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data[id]; !ok {
		return fmt.Errorf("subscription %s: %w", id, ErrNotFound)
	}
	delete(s.data, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}
