package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/i474232898/raincheck/internal/weather"
)

// Refresher re-runs the forecast pipeline for stored events.
type Refresher interface {
	RefreshAll(ctx context.Context) (weather.RefreshStats, error)
}

// Scheduler periodically refreshes forecasts of stored events.
type Scheduler struct {
	scheduler *gocron.Scheduler
	refresher Refresher
	interval  time.Duration
	timeout   time.Duration
	logger    *slog.Logger
}

// New creates a new Scheduler. A zero interval disables it.
// timeout bounds a single refresh pass; zero means the interval.
func New(refresher Refresher, interval, timeout time.Duration, logger *slog.Logger) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	if timeout <= 0 {
		timeout = interval
	}
	return &Scheduler{
		scheduler: s,
		refresher: refresher,
		interval:  interval,
		timeout:   timeout,
		logger:    logger,
	}
}

// Start schedules the periodic job and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	if s.interval <= 0 {
		s.logger.Info("scheduler: refresh interval is zero; nothing to schedule")
		return nil
	}

	// The first run happens one interval after start; events were just
	// forecast when they were stored.
	_, err := s.scheduler.Every(s.interval).WaitForSchedule().Do(s.run)
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	return nil
}

func (s *Scheduler) run() {
	s.logger.Info("scheduler: running forecast refresh job")

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	start := time.Now()
	stats, err := s.refresher.RefreshAll(ctx)
	if err != nil {
		s.logger.Error("scheduler: refresh failed", "error", err)
		return
	}
	s.logger.Info("scheduler: completed forecast refresh job",
		"subscriptions", stats.Subscriptions,
		"events", stats.Events,
		"failed", stats.Failed,
		"duration", time.Since(start),
	)
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
