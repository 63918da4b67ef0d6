package weather

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/i474232898/raincheck/internal/observability"
)

// EventInput is the user-supplied part of an event.
type EventInput struct {
	Address string
	Start   time.Time
	End     *time.Time
}

// EventResult pairs an event with the outcome of its latest pipeline run.
type EventResult struct {
	Event  Event
	Result Result
}

// SubscriberRecord is a subscriber together with the id of its subscription.
type SubscriberRecord struct {
	SubscriptionID string     `json:"subscription_id"`
	Subscriber     Subscriber `json:"subscriber"`
}

// RefreshStats summarizes one RefreshAll pass. Stale counts runs whose
// result was discarded because the event was edited or deleted meanwhile.
type RefreshStats struct {
	Subscriptions int
	Events        int
	Failed        int
	Stale         int
}

// Service manages subscription records and runs the forecast pipeline for
// the events they contain.
type Service struct {
	store       Store
	pipeline    *Pipeline
	clock       clockwork.Clock
	logger      *slog.Logger
	metrics     *observability.Metrics
	concurrency int
}

// NewService creates a new Service. concurrency bounds how many
// subscriptions RefreshAll processes at once and how many events of a new
// subscription are forecast in parallel.
func NewService(store Store, pipeline *Pipeline, clock clockwork.Clock, concurrency int, logger *slog.Logger, metrics *observability.Metrics) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &Service{
		store:       store,
		pipeline:    pipeline,
		clock:       clock,
		logger:      logger,
		metrics:     metrics,
		concurrency: concurrency,
	}
}

// newEvent validates the input against the current time and builds an
// event with a fresh id and an underived place.
func (s *Service) newEvent(in EventInput, now time.Time) (Event, error) {
	if strings.TrimSpace(in.Address) == "" {
		return Event{}, &ValidationError{Field: "address", Reason: "is required"}
	}
	w, err := NewTimeWindow(in.Start, in.End, now)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:    uuid.NewString(),
		Time:  w,
		Place: NewPlace(strings.TrimSpace(in.Address)),
	}, nil
}

func validateSubscriber(sub Subscriber) error {
	if strings.TrimSpace(sub.Phone) == "" {
		return &ValidationError{Field: "phone", Reason: "is required"}
	}
	return nil
}

// CreateSubscription validates every event before anything is stored,
// runs the pipeline for each, at most concurrency at a time, and persists
// the subscription.
func (s *Service) CreateSubscription(ctx context.Context, subscriber Subscriber, inputs []EventInput) (Subscription, []Result, error) {
	if err := validateSubscriber(subscriber); err != nil {
		return Subscription{}, nil, err
	}

	now := s.clock.Now()
	events := make([]Event, 0, len(inputs))
	for i, in := range inputs {
		ev, err := s.newEvent(in, now)
		if err != nil {
			return Subscription{}, nil, fmt.Errorf("event %d: %w", i, err)
		}
		events = append(events, ev)
	}

	results := make([]Result, len(events))
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i := range events {
		i := i
		g.Go(func() error {
			results[i] = s.pipeline.Run(ctx, &events[i])
			return nil
		})
	}
	_ = g.Wait()

	sub := Subscription{
		ID:         uuid.NewString(),
		Subscriber: subscriber,
		Events:     events,
	}
	if err := s.store.CreateSubscription(ctx, sub); err != nil {
		return Subscription{}, nil, fmt.Errorf("create subscription: %w", err)
	}
	return sub, results, nil
}

// GetSubscription delegates to the underlying store.
func (s *Service) GetSubscription(ctx context.Context, id string) (Subscription, error) {
	return s.store.GetSubscription(ctx, id)
}

// GetSubscriptionByPhone delegates to the underlying store.
func (s *Service) GetSubscriptionByPhone(ctx context.Context, phone string) (Subscription, error) {
	return s.store.GetSubscriptionByPhone(ctx, phone)
}

// ListSubscriptions delegates to the underlying store.
func (s *Service) ListSubscriptions(ctx context.Context) ([]Subscription, error) {
	return s.store.ListSubscriptions(ctx)
}

// DeleteSubscription delegates to the underlying store.
func (s *Service) DeleteSubscription(ctx context.Context, id string) error {
	return s.store.DeleteSubscription(ctx, id)
}

// CreateSubscriber stores a new subscription holding only a subscriber.
func (s *Service) CreateSubscriber(ctx context.Context, subscriber Subscriber) (SubscriberRecord, error) {
	if err := validateSubscriber(subscriber); err != nil {
		return SubscriberRecord{}, err
	}
	sub := Subscription{
		ID:         uuid.NewString(),
		Subscriber: subscriber,
		Events:     []Event{},
	}
	if err := s.store.CreateSubscription(ctx, sub); err != nil {
		return SubscriberRecord{}, fmt.Errorf("create subscriber: %w", err)
	}
	return SubscriberRecord{SubscriptionID: sub.ID, Subscriber: subscriber}, nil
}

// GetSubscriber returns the subscriber of a subscription.
func (s *Service) GetSubscriber(ctx context.Context, subscriptionID string) (SubscriberRecord, error) {
	sub, err := s.store.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return SubscriberRecord{}, err
	}
	return SubscriberRecord{SubscriptionID: sub.ID, Subscriber: sub.Subscriber}, nil
}

// GetSubscriberByPhone looks a subscriber up by phone number.
func (s *Service) GetSubscriberByPhone(ctx context.Context, phone string) (SubscriberRecord, error) {
	sub, err := s.store.GetSubscriptionByPhone(ctx, phone)
	if err != nil {
		return SubscriberRecord{}, err
	}
	return SubscriberRecord{SubscriptionID: sub.ID, Subscriber: sub.Subscriber}, nil
}

// UpdateSubscriber replaces the subscriber of a subscription.
func (s *Service) UpdateSubscriber(ctx context.Context, subscriptionID string, subscriber Subscriber) (SubscriberRecord, error) {
	if err := validateSubscriber(subscriber); err != nil {
		return SubscriberRecord{}, err
	}
	if err := s.store.SetSubscriber(ctx, subscriptionID, subscriber); err != nil {
		return SubscriberRecord{}, fmt.Errorf("update subscriber: %w", err)
	}
	return SubscriberRecord{SubscriptionID: subscriptionID, Subscriber: subscriber}, nil
}

// ListSubscribers returns the subscriber of every subscription.
func (s *Service) ListSubscribers(ctx context.Context) ([]SubscriberRecord, error) {
	subs, err := s.store.ListSubscriptions(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]SubscriberRecord, 0, len(subs))
	for _, sub := range subs {
		out = append(out, SubscriberRecord{SubscriptionID: sub.ID, Subscriber: sub.Subscriber})
	}
	return out, nil
}

// AddEvent validates the input, runs the pipeline and appends the event to
// the subscription.
func (s *Service) AddEvent(ctx context.Context, subscriptionID string, in EventInput) (EventResult, error) {
	ev, err := s.newEvent(in, s.clock.Now())
	if err != nil {
		return EventResult{}, err
	}

	// Fail fast instead of running the pipeline for a missing subscription.
	if _, err := s.store.GetSubscription(ctx, subscriptionID); err != nil {
		return EventResult{}, err
	}

	res := s.pipeline.Run(ctx, &ev)

	if err := s.store.AppendEvent(ctx, subscriptionID, ev); err != nil {
		return EventResult{}, fmt.Errorf("add event: %w", err)
	}
	return EventResult{Event: ev, Result: res}, nil
}

// GetEvent returns a stored event by id.
func (s *Service) GetEvent(ctx context.Context, eventID string) (Event, error) {
	return s.findEvent(ctx, eventID)
}

// ListEvents returns the events of one subscription.
func (s *Service) ListEvents(ctx context.Context, subscriptionID string) ([]Event, error) {
	sub, err := s.store.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.Events == nil {
		return []Event{}, nil
	}
	return sub.Events, nil
}

// ListAllEvents returns the events of every subscription.
func (s *Service) ListAllEvents(ctx context.Context) ([]Event, error) {
	subs, err := s.store.ListSubscriptions(ctx)
	if err != nil {
		return nil, err
	}
	events := make([]Event, 0)
	for _, sub := range subs {
		events = append(events, sub.Events...)
	}
	return events, nil
}

// UpdateEvent replaces the time window of an event and, when the address
// changes, its place. The pipeline is re-run with the new values. A
// concurrent write to the same event fails with ErrConflict.
func (s *Service) UpdateEvent(ctx context.Context, eventID string, in EventInput) (EventResult, error) {
	if strings.TrimSpace(in.Address) == "" {
		return EventResult{}, &ValidationError{Field: "address", Reason: "is required"}
	}
	w, err := NewTimeWindow(in.Start, in.End, s.clock.Now())
	if err != nil {
		return EventResult{}, err
	}

	ev, err := s.findEvent(ctx, eventID)
	if err != nil {
		return EventResult{}, err
	}

	ev.Time = w
	ev.Place = ev.Place.WithAddress(strings.TrimSpace(in.Address))
	res, err := s.runAndReplace(ctx, &ev)
	if err != nil {
		return EventResult{}, fmt.Errorf("update event: %w", err)
	}
	return EventResult{Event: ev, Result: res}, nil
}

// DeleteEvent removes an event from its subscription.
func (s *Service) DeleteEvent(ctx context.Context, eventID string) error {
	if err := s.store.RemoveEvent(ctx, eventID); err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	return nil
}

// RefreshEvent re-runs the pipeline for a stored event and persists the result.
func (s *Service) RefreshEvent(ctx context.Context, eventID string) (EventResult, error) {
	ev, err := s.findEvent(ctx, eventID)
	if err != nil {
		return EventResult{}, err
	}

	res, err := s.runAndReplace(ctx, &ev)
	if err != nil {
		return EventResult{}, fmt.Errorf("refresh event: %w", err)
	}
	return EventResult{Event: ev, Result: res}, nil
}

// runAndReplace runs the pipeline on ev and writes it back only if the
// stored copy is still the revision ev was read at.
func (s *Service) runAndReplace(ctx context.Context, ev *Event) (Result, error) {
	read := ev.Revision
	res := s.pipeline.Run(ctx, ev)
	ev.Revision = read + 1
	if err := s.store.ReplaceEvent(ctx, *ev, read); err != nil {
		ev.Revision = read
		return res, err
	}
	return res, nil
}

// RefreshAll re-runs the pipeline for every event that has not ended yet.
// Subscriptions are processed concurrently; the events of one subscription
// run in order. Each event is written back on its own, and a run whose
// event was edited or deleted in the meantime is dropped.
func (s *Service) RefreshAll(ctx context.Context) (RefreshStats, error) {
	subs, err := s.store.ListSubscriptions(ctx)
	if err != nil {
		return RefreshStats{}, fmt.Errorf("list subscriptions: %w", err)
	}

	var (
		mu    sync.Mutex
		stats RefreshStats
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for _, sub := range subs {
		sub := sub
		g.Go(func() error {
			now := s.clock.Now()
			var refreshed, written, failedRuns, stale int
			for _, ev := range sub.Events {
				if ev.Time.EffectiveEnd().Before(now) {
					continue
				}
				refreshed++

				res, err := s.runAndReplace(gCtx, &ev)
				switch {
				case errors.Is(err, ErrConflict), errors.Is(err, ErrNotFound):
					s.logger.Debug("refresh: event changed during run; result dropped",
						"subscription_id", sub.ID, "event_id", ev.ID, "error", err)
					stale++
				case err != nil:
					// One bad record must not stop the others.
					s.logger.Error("refresh: replace event failed",
						"subscription_id", sub.ID, "event_id", ev.ID, "error", err)
					failedRuns++
				default:
					written++
					if res.Failed() {
						failedRuns++
					}
				}
			}
			if refreshed == 0 {
				return nil
			}
			s.metrics.RefreshedEvents.Add(float64(written))

			mu.Lock()
			stats.Subscriptions++
			stats.Events += refreshed
			stats.Failed += failedRuns
			stats.Stale += stale
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait()
	return stats, ctx.Err()
}

func (s *Service) findEvent(ctx context.Context, eventID string) (Event, error) {
	sub, err := s.store.FindSubscriptionByEvent(ctx, eventID)
	if err != nil {
		return Event{}, err
	}
	idx := sub.EventIndex(eventID)
	if idx < 0 {
		return Event{}, fmt.Errorf("event %s: %w", eventID, ErrNotFound)
	}
	return sub.Events[idx], nil
}
