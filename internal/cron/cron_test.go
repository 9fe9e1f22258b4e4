package cron

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/desertthunder/spotprune/internal/metrics"
	"github.com/desertthunder/spotprune/internal/shared"
	"github.com/desertthunder/spotprune/internal/tasks"
)

type fakeSweeper struct {
	mu       sync.Mutex
	horizons []time.Time
	err      error
}

func (f *fakeSweeper) Sweep(ctx context.Context, horizon time.Time) (*tasks.SweepResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.horizons = append(f.horizons, horizon)
	result := &tasks.SweepResult{Horizon: horizon, Refreshed: []string{"a", "b"}}
	if f.err != nil {
		result.Failed = []*tasks.PhaseError{{Phase: tasks.PhaseRefresh, ID: "c", Err: f.err}}
		return result, result.Err()
	}
	return result, nil
}

func (f *fakeSweeper) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.horizons)
}

// blockingRetainer holds every tick until release is closed.
type blockingRetainer struct {
	started chan struct{}
	release chan struct{}
	ticks   atomic.Int32
}

func newBlockingRetainer() *blockingRetainer {
	return &blockingRetainer{started: make(chan struct{}, 16), release: make(chan struct{})}
}

func (b *blockingRetainer) Tick(ctx context.Context) (*tasks.TickResult, error) {
	b.ticks.Add(1)
	select {
	case b.started <- struct{}{}:
	default:
	}
	select {
	case <-b.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &tasks.TickResult{RunID: "run", Playlists: 1, Succeeded: []string{"p"}, Removed: 2}, nil
}

type recorder struct {
	mu        sync.Mutex
	ticks     map[string][]error
	skipped   map[string]int
	refreshed [2]int
	enforced  [2]int
	removed   int
}

func newRecorder() *recorder {
	return &recorder{ticks: map[string][]error{}, skipped: map[string]int{}}
}

func (r *recorder) RecordTick(job string, _ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ticks[job] = append(r.ticks[job], err)
}

func (r *recorder) RecordSkipped(job string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skipped[job]++
}

func (r *recorder) RecordRefreshes(ok, failed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refreshed[0] += ok
	r.refreshed[1] += failed
}

func (r *recorder) RecordEnforced(ok, failed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enforced[0] += ok
	r.enforced[1] += failed
}

func (r *recorder) RecordRemoved(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed += n
}

func (r *recorder) skippedFor(job string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.skipped[job]
}

func TestRunSweep(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("Uses Horizon Before Now", func(t *testing.T) {
		sweeper := &fakeSweeper{}
		rec := newRecorder()
		s := NewScheduler(sweeper, newBlockingRetainer(), rec, shared.NewLogger(io.Discard), Options{})
		s.now = func() time.Time { return now }

		result, err := s.RunSweep(ctx)
		require.NoError(t, err)
		assert.Len(t, result.Refreshed, 2)
		require.Len(t, sweeper.horizons, 1)
		assert.True(t, sweeper.horizons[0].Equal(now.Add(-6*time.Hour)))
		assert.Equal(t, []error{nil}, rec.ticks[metrics.JobSweep])
		assert.Equal(t, [2]int{2, 0}, rec.refreshed)
	})

	t.Run("Failure Is Recorded", func(t *testing.T) {
		sweeper := &fakeSweeper{err: shared.ErrRefreshFailed}
		rec := newRecorder()
		s := NewScheduler(sweeper, newBlockingRetainer(), rec, shared.NewLogger(io.Discard), Options{SessionHorizon: time.Hour})

		result, err := s.RunSweep(ctx)
		assert.ErrorIs(t, err, shared.ErrRefreshFailed)
		assert.Len(t, result.Failed, 1)
		assert.Equal(t, [2]int{2, 1}, rec.refreshed)
		require.Len(t, rec.ticks[metrics.JobSweep], 1)
		assert.Error(t, rec.ticks[metrics.JobSweep][0])
	})
}

type failingRetainer struct{ err error }

func (f failingRetainer) Tick(ctx context.Context) (*tasks.TickResult, error) {
	return nil, f.err
}

func TestRunRetention(t *testing.T) {
	ctx := context.Background()

	t.Run("Records Result", func(t *testing.T) {
		retainer := newBlockingRetainer()
		close(retainer.release)
		rec := newRecorder()
		s := NewScheduler(&fakeSweeper{}, retainer, rec, shared.NewLogger(io.Discard), Options{})

		result, err := s.RunRetention(ctx)
		require.NoError(t, err)
		assert.Equal(t, "run", result.RunID)
		assert.Equal(t, [2]int{1, 0}, rec.enforced)
		assert.Equal(t, 2, rec.removed)
	})

	t.Run("Listing Failure", func(t *testing.T) {
		errList := errors.New("database is locked")
		rec := newRecorder()
		s := NewScheduler(&fakeSweeper{}, failingRetainer{err: errList}, rec, shared.NewLogger(io.Discard), Options{})

		_, err := s.RunRetention(ctx)
		assert.ErrorIs(t, err, errList)
		assert.Equal(t, []error{errList}, rec.ticks[metrics.JobRetention])
	})

	t.Run("Tick Timeout", func(t *testing.T) {
		retainer := newBlockingRetainer()
		s := NewScheduler(&fakeSweeper{}, retainer, nil, shared.NewLogger(io.Discard), Options{TickTimeout: 20 * time.Millisecond})

		_, err := s.RunRetention(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestScheduler(t *testing.T) {
	t.Run("Both Timers Fire", func(t *testing.T) {
		sweeper := &fakeSweeper{}
		retainer := newBlockingRetainer()
		close(retainer.release)

		s := NewScheduler(sweeper, retainer, nil, shared.NewLogger(io.Discard), Options{
			SessionInterval:   10 * time.Millisecond,
			RetentionInterval: 10 * time.Millisecond,
		})
		s.Start(context.Background())
		defer s.Stop()

		assert.Eventually(t, func() bool {
			return sweeper.calls() >= 2 && retainer.ticks.Load() >= 2
		}, time.Second, 5*time.Millisecond)
	})

	t.Run("Overlapping Tick Is Skipped", func(t *testing.T) {
		retainer := newBlockingRetainer()
		rec := newRecorder()

		s := NewScheduler(&fakeSweeper{}, retainer, rec, shared.NewLogger(io.Discard), Options{
			SessionInterval:   time.Hour,
			RetentionInterval: 5 * time.Millisecond,
		})
		s.Start(context.Background())

		<-retainer.started
		assert.Eventually(t, func() bool {
			return rec.skippedFor(metrics.JobRetention) >= 2
		}, time.Second, 5*time.Millisecond)
		assert.EqualValues(t, 1, retainer.ticks.Load())

		close(retainer.release)
		s.Stop()
	})

	t.Run("Stop Cancels Runs In Flight", func(t *testing.T) {
		retainer := newBlockingRetainer()
		s := NewScheduler(&fakeSweeper{}, retainer, nil, shared.NewLogger(io.Discard), Options{
			SessionInterval:   time.Hour,
			RetentionInterval: 5 * time.Millisecond,
		})
		s.Start(context.Background())
		<-retainer.started

		done := make(chan struct{})
		go func() {
			s.Stop()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("Stop did not return")
		}
	})

	t.Run("Start Twice And Stop Twice", func(t *testing.T) {
		s := NewScheduler(&fakeSweeper{}, newBlockingRetainer(), nil, shared.NewLogger(io.Discard), Options{})
		s.Start(context.Background())
		s.Start(context.Background())
		s.Stop()
		s.Stop()
	})
}
