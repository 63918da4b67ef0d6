package weather

// MatchPeriods selects the periods that contain the event window: the
// period starts at or before the window start and ends at or after the
// window end (or start, when the window has no end). Input order is kept.
// No match yields an empty, non-nil slice.
func MatchPeriods(periods []ForecastPeriod, w TimeWindow) []ForecastPeriod {
	end := w.EffectiveEnd()

	matched := make([]ForecastPeriod, 0, 1)
	for _, p := range periods {
		if w.Start.Before(p.StartTime) {
			continue
		}
		if end.After(p.EndTime) {
			continue
		}
		matched = append(matched, p)
	}
	return matched
}
