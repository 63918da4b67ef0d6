package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/raincheck/internal/weather"
)

type countingRefresher struct {
	calls    atomic.Int32
	err      error
	deadline atomic.Bool
}

func (r *countingRefresher) RefreshAll(ctx context.Context) (weather.RefreshStats, error) {
	r.calls.Add(1)
	_, ok := ctx.Deadline()
	r.deadline.Store(ok)
	return weather.RefreshStats{Subscriptions: 1, Events: 2}, r.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSchedulerRunsRefresh(t *testing.T) {
	r := &countingRefresher{}
	s := New(r, 20*time.Millisecond, time.Second, quietLogger())

	require.NoError(t, s.Start())
	defer s.Stop()

	assert.Eventually(t, func() bool { return r.calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, r.deadline.Load())
}

func TestSchedulerDisabledWithZeroInterval(t *testing.T) {
	r := &countingRefresher{}
	s := New(r, 0, 0, quietLogger())

	require.NoError(t, s.Start())
	defer s.Stop()

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, r.calls.Load())
}

func TestSchedulerRunSurvivesRefreshError(t *testing.T) {
	r := &countingRefresher{err: errors.New("store down")}
	s := New(r, time.Hour, 0, quietLogger())

	s.run()
	s.run()

	assert.Equal(t, int32(2), r.calls.Load())
}
