package weather

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/i474232898/raincheck/internal/observability"
)

// State is a step of the event-forecast pipeline.
type State string

const (
	StatePending      State = "pending"
	StateGated        State = "gated"
	StateGeocoded     State = "geocoded"
	StateGridResolved State = "grid_resolved"
	StateFetched      State = "fetched"
	StateMatched      State = "matched"
	StateSummarized   State = "summarized"
	StateFailed       State = "failed"
	StateSkipped      State = "skipped"
)

// ReasonBeyondHorizon is the Skipped reason for events starting too far ahead.
const ReasonBeyondHorizon = "beyond-horizon"

// Result is the terminal outcome of one pipeline run.
//
// State is Summarized on full success, Matched when the forecast was
// attached without a summary, Skipped when the event is not yet
// forecastable and Failed otherwise. Err carries a *StageError for Failed
// runs and for Matched runs whose summarization failed.
type Result struct {
	State  State
	Stage  Stage
	Reason string
	Err    error
}

// Failed reports whether the run ended in the Failed state.
func (r Result) Failed() bool {
	return r.State == StateFailed
}

func failed(stage Stage, err error) Result {
	return Result{State: StateFailed, Stage: stage, Err: &StageError{Stage: stage, Err: err}}
}

// Providers bundles the external collaborators of the pipeline.
// Summarizer may be nil, in which case forecasts carry no summary.
type Providers struct {
	Geocoder   Geocoder
	Grids      GridResolver
	Fetcher    ForecastFetcher
	Summarizer Summarizer
}

// PipelineConfig bounds each stage in time and attempts.
type PipelineConfig struct {
	StageTimeout time.Duration
	Retry        RetryPolicy
}

// Pipeline turns an event's address and time window into a forecast:
// gate, geocode, grid-resolve, fetch, match, summarize.
type Pipeline struct {
	providers Providers
	cfg       PipelineConfig
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// NewPipeline creates a Pipeline. Geocoder, Grids and Fetcher are required.
// A zero retry policy is replaced by DefaultRetryPolicy.
func NewPipeline(providers Providers, cfg PipelineConfig, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) (*Pipeline, error) {
	if providers.Geocoder == nil || providers.Grids == nil || providers.Fetcher == nil {
		return nil, errNoProvidersConfigured
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultRetryPolicy
	}
	return &Pipeline{
		providers: providers,
		cfg:       cfg,
		clock:     clock,
		logger:    logger,
		metrics:   metrics,
	}, nil
}

// Run executes the pipeline for ev, starting from Pending every time.
//
// ev is updated in place: derived place fields are filled in when absent
// and kept even if a later stage fails, so a retry skips the lookups
// already done. Any previous forecast is dropped; a new one is attached
// only when the fetch and match stages succeed.
func (p *Pipeline) Run(ctx context.Context, ev *Event) Result {
	res := p.run(ctx, ev)
	p.metrics.PipelineRuns.WithLabelValues(string(res.State)).Inc()

	switch {
	case res.Failed():
		p.logger.Warn("pipeline failed",
			"event_id", ev.ID,
			"stage", res.Stage,
			"error", res.Err,
		)
	case res.Err != nil:
		p.logger.Warn("forecast attached without summary",
			"event_id", ev.ID,
			"error", res.Err,
		)
	default:
		p.logger.Info("pipeline finished",
			"event_id", ev.ID,
			"state", res.State,
			"reason", res.Reason,
		)
	}
	return res
}

func (p *Pipeline) run(ctx context.Context, ev *Event) Result {
	ev.Forecast = nil

	now := p.clock.Now()
	if !IsForecastable(ev.Time, now) {
		return Result{State: StateSkipped, Reason: ReasonBeyondHorizon}
	}

	coords, ok := ev.Place.Coordinates()
	if !ok {
		err := p.stage(ctx, StageGeocode, func(ctx context.Context) error {
			if strings.TrimSpace(ev.Place.Address) == "" {
				return &ValidationError{Field: "address", Reason: "is required"}
			}
			c, err := p.providers.Geocoder.Geocode(ctx, ev.Place.Address)
			if err != nil {
				return providerError(ErrGeocodeProvider, err)
			}
			coords = c
			return nil
		})
		if err != nil {
			return failed(StageGeocode, err)
		}
		ev.Place.SetCoordinates(coords)
	}

	cell, ok := ev.Place.GridCell()
	if !ok {
		err := p.stage(ctx, StageGrid, func(ctx context.Context) error {
			g, err := p.providers.Grids.ResolveGrid(ctx, coords)
			if err != nil {
				return providerError(ErrGridProvider, err)
			}
			cell = g
			return nil
		})
		if err != nil {
			return failed(StageGrid, err)
		}
		ev.Place.SetGridCell(cell)
	}

	var periods []ForecastPeriod
	err := p.stage(ctx, StageFetch, func(ctx context.Context) error {
		fetched, err := p.providers.Fetcher.FetchHourly(ctx, cell)
		if err != nil {
			return providerError(ErrForecastProvider, err)
		}
		periods = fetched
		return nil
	})
	if err != nil {
		return failed(StageFetch, err)
	}
	if periods == nil {
		periods = []ForecastPeriod{}
	}

	forecast := &Forecast{
		Raw:         periods,
		Matched:     MatchPeriods(periods, ev.Time),
		GeneratedAt: now,
	}
	res := Result{State: StateMatched}

	if p.providers.Summarizer != nil && len(forecast.Matched) > 0 {
		var summary string
		err := p.stage(ctx, StageSummarize, func(ctx context.Context) error {
			s, err := p.providers.Summarizer.Summarize(ctx, forecast.Matched, ev.Time)
			if err != nil {
				return providerError(ErrSummarizationProvider, err)
			}
			summary = s
			return nil
		})
		if err != nil {
			res.Stage = StageSummarize
			res.Err = &StageError{Stage: StageSummarize, Err: err}
		} else {
			forecast.Summary = &summary
			res.State = StateSummarized
		}
	}

	ev.Forecast = forecast
	return res
}

func (p *Pipeline) stage(ctx context.Context, stage Stage, fn func(ctx context.Context) error) error {
	start := time.Now()
	defer func() {
		p.metrics.StageDuration.WithLabelValues(string(stage)).Observe(time.Since(start).Seconds())
	}()

	if p.cfg.StageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.StageTimeout)
		defer cancel()
	}

	err := p.cfg.Retry.Do(ctx, fn)
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		p.logger.Debug("pipeline stage timed out", "stage", stage)
	}
	return err
}
