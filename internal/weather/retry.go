package weather

import (
	"context"
	"errors"
	"time"
)

// RetryPolicy controls how often a single pipeline stage is re-attempted
// before the run is marked as failed.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy is three attempts with exponential backoff starting
// at 500ms and capped at 5s.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:     3,
	InitialInterval: 500 * time.Millisecond,
	MaxInterval:     5 * time.Second,
}

// Do runs fn until it succeeds, returns a permanent error, the attempts
// are exhausted or ctx is done. The last error is returned.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := p.InitialInterval

	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil || !retryable(err) || attempt >= attempts || ctx.Err() != nil {
			return err
		}
		if !sleepWithContext(ctx, delay) {
			return err
		}
		delay = nextBackoff(delay, p.MaxInterval)
	}
}

// A missing geocode result is an answer, not a failure, so asking again won't help.
func retryable(err error) bool {
	if IsValidation(err) {
		return false
	}
	return !errors.Is(err, ErrNoGeocodeResult) && !errors.Is(err, context.Canceled)
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if maxBackoff > 0 && next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
