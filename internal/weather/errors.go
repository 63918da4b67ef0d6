package weather

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by stores when a record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned by stores when a record changed since it was read.
	ErrConflict = errors.New("record was modified concurrently")

	ErrNoGeocodeResult       = errors.New("the address provided returned no results")
	ErrGeocodeProvider       = errors.New("geocoding provider error")
	ErrGridProvider          = errors.New("grid provider error")
	ErrForecastProvider      = errors.New("forecast provider error")
	ErrSummarizationProvider = errors.New("summarization provider error")
	errNoProvidersConfigured = errors.New("pipeline providers not configured")
)

// ValidationError reports malformed user input. Time windows are checked
// against the clock only when they are created.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err carries a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Stage names a pipeline step that talks to an external provider.
type Stage string

const (
	StageGeocode   Stage = "geocode"
	StageGrid      Stage = "grid"
	StageFetch     Stage = "fetch"
	StageSummarize Stage = "summarize"
)

// StageError is the cause of a Failed pipeline run.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline failed at %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// providerError tags err with the provider sentinel unless it already carries one.
func providerError(sentinel, err error) error {
	if err == nil || errors.Is(err, sentinel) || errors.Is(err, ErrNoGeocodeResult) {
		return err
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}
