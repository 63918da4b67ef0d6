package weather

import (
	"context"
)

// Geocoder resolves a free-text address to coordinates.
// Implementations return ErrNoGeocodeResult when the provider has no match.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (Coordinates, error)
}

// GridResolver maps coordinates to the forecast provider's grid cell.
type GridResolver interface {
	ResolveGrid(ctx context.Context, c Coordinates) (GridCell, error)
}

// ForecastFetcher returns the hourly forecast periods of a grid cell in
// chronological order.
type ForecastFetcher interface {
	FetchHourly(ctx context.Context, cell GridCell) ([]ForecastPeriod, error)
}

// Summarizer condenses matched periods into a short prose blurb.
type Summarizer interface {
	Summarize(ctx context.Context, periods []ForecastPeriod, w TimeWindow) (string, error)
}

// Store is the contract for subscription persistence. Every write touches
// a single document atomically; event writes modify one array element and
// leave the rest of the record as stored.
type Store interface {
	CreateSubscription(ctx context.Context, sub Subscription) error
	GetSubscription(ctx context.Context, id string) (Subscription, error)
	GetSubscriptionByPhone(ctx context.Context, phone string) (Subscription, error)
	FindSubscriptionByEvent(ctx context.Context, eventID string) (Subscription, error)
	ListSubscriptions(ctx context.Context) ([]Subscription, error)
	DeleteSubscription(ctx context.Context, id string) error

	SetSubscriber(ctx context.Context, subscriptionID string, subscriber Subscriber) error
	AppendEvent(ctx context.Context, subscriptionID string, ev Event) error
	// ReplaceEvent overwrites the event with ev.ID if its stored revision is
	// still expectRevision. It returns ErrNotFound when the event is gone and
	// ErrConflict when it was rewritten in the meantime.
	ReplaceEvent(ctx context.Context, ev Event, expectRevision int64) error
	RemoveEvent(ctx context.Context, eventID string) error
}
