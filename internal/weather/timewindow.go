package weather

import "time"

// ForecastHorizon is how far ahead the forecast provider is expected to have data.
const ForecastHorizon = 7 * 24 * time.Hour

// TimeWindow is the scheduled time of an event. End is optional.
type TimeWindow struct {
	Start time.Time  `json:"startDateTime"`
	End   *time.Time `json:"endDateTime,omitempty"`
}

// NewTimeWindow validates and builds a TimeWindow. The start must be
// strictly after now, and strictly before end when end is given.
func NewTimeWindow(start time.Time, end *time.Time, now time.Time) (TimeWindow, error) {
	if start.IsZero() {
		return TimeWindow{}, &ValidationError{Field: "startDateTime", Reason: "is required"}
	}
	if end != nil && !start.Before(*end) {
		return TimeWindow{}, &ValidationError{Field: "startDateTime", Reason: "the startDateTime must be before the endDateTime"}
	}
	if !start.After(now) {
		return TimeWindow{}, &ValidationError{Field: "startDateTime", Reason: "the startDateTime must be in the future"}
	}

	w := TimeWindow{Start: start}
	if end != nil {
		e := *end
		w.End = &e
	}
	return w, nil
}

// EffectiveEnd is End when present, otherwise Start.
func (w TimeWindow) EffectiveEnd() time.Time {
	if w.End != nil {
		return *w.End
	}
	return w.Start
}

// IsForecastable reports whether a forecast can be produced for w at now.
// Only windows starting beyond now+ForecastHorizon are rejected; past
// starts are left to the fetcher and matcher.
func IsForecastable(w TimeWindow, now time.Time) bool {
	horizon := now.Add(ForecastHorizon)
	return !(w.Start.After(now) && w.Start.After(horizon))
}
