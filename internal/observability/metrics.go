package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "raincheck"

// Metrics holds all Prometheus collectors for the application.
type Metrics struct {
	// Pipeline
	PipelineRuns  *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec

	// Providers
	ProviderRequests *prometheus.CounterVec

	// Caches
	CacheLookups *prometheus.CounterVec

	// Scheduler
	RefreshedEvents prometheus.Counter
}

// NewMetrics creates and registers all application metrics with the default registry.
func NewMetrics() *Metrics {
	return newMetrics(promauto.With(prometheus.DefaultRegisterer))
}

// NewTestMetrics creates metrics backed by a throw-away registry.
// Safe to call from multiple tests without duplicate-registration panics.
func NewTestMetrics() *Metrics {
	return newMetrics(promauto.With(prometheus.NewRegistry()))
}

func newMetrics(factory promauto.Factory) *Metrics {
	return &Metrics{
		PipelineRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_total",
			Help:      "Pipeline runs by terminal state.",
		}, []string{"state"}),

		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_stage_duration_seconds",
			Help:      "Duration of a single pipeline stage including retries.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"stage"}),

		ProviderRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "Outbound provider requests by outcome.",
		}, []string{"provider", "outcome"}),

		CacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Memoization cache lookups by result.",
		}, []string{"cache", "result"}),

		RefreshedEvents: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refreshed_events_total",
			Help:      "Events re-run through the pipeline by the scheduler.",
		}),
	}
}
