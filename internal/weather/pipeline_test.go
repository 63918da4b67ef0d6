package weather

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/raincheck/internal/observability"
)

func louisvilleEvent(start time.Time, d time.Duration) *Event {
	end := start.Add(d)
	return &Event{
		ID:    "evt-1",
		Time:  TimeWindow{Start: start, End: &end},
		Place: NewPlace("123 Main St, Louisville, KY 40202"),
	}
}

func TestPipelineRunEndToEnd(t *testing.T) {
	tp := newTestProviders()
	p := newTestPipeline(tp, clockwork.NewFakeClockAt(testNow))

	ev := louisvilleEvent(testNow.Add(3*time.Hour), time.Hour)
	res := p.Run(context.Background(), ev)

	assert.Equal(t, StateSummarized, res.State)
	assert.NoError(t, res.Err)

	coords, ok := ev.Place.Coordinates()
	require.True(t, ok)
	assert.Equal(t, Coordinates{Lat: 38.2542, Lon: -85.7594}, coords)

	cell, ok := ev.Place.GridCell()
	require.True(t, ok)
	assert.Equal(t, GridCell{ID: "LMK", X: 50, Y: 78}, cell)

	require.NotNil(t, ev.Forecast)
	assert.Len(t, ev.Forecast.Raw, 156)
	require.Len(t, ev.Forecast.Matched, 1)
	assert.True(t, ev.Forecast.Matched[0].StartTime.Equal(ev.Time.Start))
	require.NotNil(t, ev.Forecast.Summary)
	assert.Equal(t, tp.sum.summary, *ev.Forecast.Summary)
	assert.True(t, ev.Forecast.GeneratedAt.Equal(testNow))

	assert.Equal(t, int32(1), tp.geo.calls.Load())
	assert.Equal(t, int32(1), tp.grids.calls.Load())
	assert.Equal(t, int32(1), tp.fetch.calls.Load())
	assert.Equal(t, int32(1), tp.sum.calls.Load())
}

func TestPipelineRunSkipsBeyondHorizon(t *testing.T) {
	tp := newTestProviders()
	p := newTestPipeline(tp, clockwork.NewFakeClockAt(testNow))

	ev := louisvilleEvent(testNow.Add(9*24*time.Hour), time.Hour)
	res := p.Run(context.Background(), ev)

	assert.Equal(t, StateSkipped, res.State)
	assert.Equal(t, ReasonBeyondHorizon, res.Reason)
	assert.Nil(t, ev.Forecast)
	_, ok := ev.Place.Coordinates()
	assert.False(t, ok)

	assert.Zero(t, tp.geo.calls.Load())
	assert.Zero(t, tp.grids.calls.Load())
	assert.Zero(t, tp.fetch.calls.Load())
	assert.Zero(t, tp.sum.calls.Load())
}

func TestPipelineRunFetchFailureKeepsDerivedPlace(t *testing.T) {
	tp := newTestProviders()
	tp.fetch.err = errBoom
	p := newTestPipeline(tp, clockwork.NewFakeClockAt(testNow))

	ev := louisvilleEvent(testNow.Add(3*time.Hour), time.Hour)
	res := p.Run(context.Background(), ev)

	assert.True(t, res.Failed())
	assert.Equal(t, StageFetch, res.Stage)
	assert.ErrorIs(t, res.Err, ErrForecastProvider)
	assert.ErrorIs(t, res.Err, errBoom)

	var stageErr *StageError
	require.True(t, errors.As(res.Err, &stageErr))
	assert.Equal(t, StageFetch, stageErr.Stage)

	assert.Nil(t, ev.Forecast)
	_, ok := ev.Place.Coordinates()
	assert.True(t, ok)
	_, ok = ev.Place.GridCell()
	assert.True(t, ok)

	assert.Equal(t, int32(3), tp.fetch.calls.Load())
	assert.Zero(t, tp.sum.calls.Load())

	// A retry of the whole run skips the lookups already done.
	tp.fetch.err = nil
	res = p.Run(context.Background(), ev)
	assert.Equal(t, StateSummarized, res.State)
	assert.Equal(t, int32(1), tp.geo.calls.Load())
	assert.Equal(t, int32(1), tp.grids.calls.Load())
}

func TestPipelineRunRetriesTransientFetchFailure(t *testing.T) {
	tp := newTestProviders()
	tp.fetch.err = errBoom
	tp.fetch.failures = 2
	p := newTestPipeline(tp, clockwork.NewFakeClockAt(testNow))

	res := p.Run(context.Background(), louisvilleEvent(testNow.Add(3*time.Hour), time.Hour))

	assert.Equal(t, StateSummarized, res.State)
	assert.Equal(t, int32(3), tp.fetch.calls.Load())
}

func TestPipelineRunSummaryFailureIsPartial(t *testing.T) {
	tp := newTestProviders()
	tp.sum.err = errBoom
	p := newTestPipeline(tp, clockwork.NewFakeClockAt(testNow))

	ev := louisvilleEvent(testNow.Add(3*time.Hour), time.Hour)
	res := p.Run(context.Background(), ev)

	assert.Equal(t, StateMatched, res.State)
	assert.False(t, res.Failed())
	assert.Equal(t, StageSummarize, res.Stage)
	assert.ErrorIs(t, res.Err, ErrSummarizationProvider)

	require.NotNil(t, ev.Forecast)
	assert.Len(t, ev.Forecast.Matched, 1)
	assert.Nil(t, ev.Forecast.Summary)
}

func TestPipelineRunWithoutSummarizer(t *testing.T) {
	tp := newTestProviders()
	providers := tp.providers()
	providers.Summarizer = nil

	p, err := NewPipeline(providers, PipelineConfig{}, clockwork.NewFakeClockAt(testNow), discardLogger(), observability.NewTestMetrics())
	require.NoError(t, err)

	ev := louisvilleEvent(testNow.Add(3*time.Hour), time.Hour)
	res := p.Run(context.Background(), ev)

	assert.Equal(t, StateMatched, res.State)
	assert.NoError(t, res.Err)
	require.NotNil(t, ev.Forecast)
	assert.Nil(t, ev.Forecast.Summary)
}

func TestPipelineRunNoMatchSkipsSummary(t *testing.T) {
	tp := newTestProviders()
	p := newTestPipeline(tp, clockwork.NewFakeClockAt(testNow))

	// Spans two hourly periods, so nothing contains it.
	ev := louisvilleEvent(testNow.Add(3*time.Hour), 2*time.Hour)
	res := p.Run(context.Background(), ev)

	assert.Equal(t, StateMatched, res.State)
	require.NotNil(t, ev.Forecast)
	assert.NotNil(t, ev.Forecast.Matched)
	assert.Empty(t, ev.Forecast.Matched)
	assert.Zero(t, tp.sum.calls.Load())
}

func TestPipelineRunNoGeocodeResultIsNotRetried(t *testing.T) {
	tp := newTestProviders()
	tp.geo.err = ErrNoGeocodeResult
	p := newTestPipeline(tp, clockwork.NewFakeClockAt(testNow))

	ev := louisvilleEvent(testNow.Add(3*time.Hour), time.Hour)
	res := p.Run(context.Background(), ev)

	assert.True(t, res.Failed())
	assert.Equal(t, StageGeocode, res.Stage)
	assert.ErrorIs(t, res.Err, ErrNoGeocodeResult)
	assert.NotErrorIs(t, res.Err, ErrGeocodeProvider)
	assert.Equal(t, int32(1), tp.geo.calls.Load())
	assert.Zero(t, tp.grids.calls.Load())
}

func TestPipelineRunEmptyAddress(t *testing.T) {
	tp := newTestProviders()
	p := newTestPipeline(tp, clockwork.NewFakeClockAt(testNow))

	ev := louisvilleEvent(testNow.Add(3*time.Hour), time.Hour)
	ev.Place = NewPlace("  ")
	res := p.Run(context.Background(), ev)

	assert.True(t, res.Failed())
	assert.Equal(t, StageGeocode, res.Stage)
	assert.True(t, IsValidation(res.Err))
	assert.Zero(t, tp.geo.calls.Load())
}

func TestPipelineRunUsesExistingDerivedPlace(t *testing.T) {
	tp := newTestProviders()
	p := newTestPipeline(tp, clockwork.NewFakeClockAt(testNow))

	ev := louisvilleEvent(testNow.Add(3*time.Hour), time.Hour)
	ev.Place.SetCoordinates(Coordinates{Lat: 38.2542, Lon: -85.7594})
	ev.Place.SetGridCell(GridCell{ID: "LMK", X: 50, Y: 78})

	res := p.Run(context.Background(), ev)

	assert.Equal(t, StateSummarized, res.State)
	assert.Zero(t, tp.geo.calls.Load())
	assert.Zero(t, tp.grids.calls.Load())
	assert.Equal(t, int32(1), tp.fetch.calls.Load())
}

func TestPipelineRunClearsStaleForecast(t *testing.T) {
	tp := newTestProviders()
	p := newTestPipeline(tp, clockwork.NewFakeClockAt(testNow))

	ev := louisvilleEvent(testNow.Add(3*time.Hour), time.Hour)
	require.Equal(t, StateSummarized, p.Run(context.Background(), ev).State)
	require.NotNil(t, ev.Forecast)

	tp.fetch.err = errBoom
	res := p.Run(context.Background(), ev)

	assert.True(t, res.Failed())
	assert.Nil(t, ev.Forecast)
}

func TestPipelineStageTimeout(t *testing.T) {
	tp := newTestProviders()
	providers := tp.providers()
	providers.Fetcher = blockingFetcher{}

	p, err := NewPipeline(providers, PipelineConfig{
		StageTimeout: 20 * time.Millisecond,
		Retry:        RetryPolicy{MaxAttempts: 5, InitialInterval: time.Millisecond},
	}, clockwork.NewFakeClockAt(testNow), discardLogger(), observability.NewTestMetrics())
	require.NoError(t, err)

	res := p.Run(context.Background(), louisvilleEvent(testNow.Add(3*time.Hour), time.Hour))

	assert.True(t, res.Failed())
	assert.Equal(t, StageFetch, res.Stage)
	assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
}

func TestNewPipelineRequiresProviders(t *testing.T) {
	_, err := NewPipeline(Providers{}, PipelineConfig{}, nil, discardLogger(), observability.NewTestMetrics())
	assert.ErrorIs(t, err, errNoProvidersConfigured)
}

type blockingFetcher struct{}

func (blockingFetcher) FetchHourly(ctx context.Context, _ GridCell) ([]ForecastPeriod, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
