// Package cron drives the background jobs: the session sweep and the retention tick.
//
// Each job owns one ticker. A firing starts the job in its own goroutine so a slow run never
// delays the other job. A firing that finds the previous run of the same job still in flight
// is skipped and logged.
package cron

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/spotprune/internal/metrics"
	"github.com/desertthunder/spotprune/internal/tasks"
)

const (
	DefaultSessionInterval   = 30 * time.Minute
	DefaultRetentionInterval = time.Minute
	DefaultSessionHorizon    = 6 * time.Hour
	DefaultTickTimeout       = 5 * time.Minute
)

// Sweeper refreshes credentials that expired before a horizon. Implemented by [tasks.CredentialStore].
type Sweeper interface {
	Sweep(ctx context.Context, horizon time.Time) (*tasks.SweepResult, error)
}

// Retainer applies every retention policy once. Implemented by [tasks.Enforcer].
type Retainer interface {
	Tick(ctx context.Context) (*tasks.TickResult, error)
}

// Options configures the timers. Zero values fall back to the defaults above.
type Options struct {
	SessionInterval   time.Duration
	RetentionInterval time.Duration
	// SessionHorizon is how far before now the sweep horizon lies.
	SessionHorizon time.Duration
	// TickTimeout bounds a single run of either job.
	TickTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.SessionInterval <= 0 {
		o.SessionInterval = DefaultSessionInterval
	}
	if o.RetentionInterval <= 0 {
		o.RetentionInterval = DefaultRetentionInterval
	}
	if o.SessionHorizon <= 0 {
		o.SessionHorizon = DefaultSessionHorizon
	}
	if o.TickTimeout <= 0 {
		o.TickTimeout = DefaultTickTimeout
	}
	return o
}

// Scheduler owns the two job timers.
type Scheduler struct {
	sweeper  Sweeper
	retainer Retainer
	recorder metrics.Recorder
	logger   *log.Logger
	opts     Options
	now      func() time.Time

	sweeping  atomic.Bool
	retaining atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a [Scheduler]. A nil recorder records nothing.
func NewScheduler(sweeper Sweeper, retainer Retainer, recorder metrics.Recorder, logger *log.Logger, opts Options) *Scheduler {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &Scheduler{
		sweeper:  sweeper,
		retainer: retainer,
		recorder: recorder,
		logger:   logger,
		opts:     opts.withDefaults(),
		now:      time.Now,
	}
}

// Start launches both timers. It returns immediately; calling it again while running does nothing.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.logger.Info("scheduler started",
		"session_interval", s.opts.SessionInterval,
		"retention_interval", s.opts.RetentionInterval,
		"session_horizon", s.opts.SessionHorizon,
	)

	s.loop(ctx, metrics.JobSweep, s.opts.SessionInterval, &s.sweeping, func(ctx context.Context) {
		_, _ = s.RunSweep(ctx)
	})
	s.loop(ctx, metrics.JobRetention, s.opts.RetentionInterval, &s.retaining, func(ctx context.Context) {
		_, _ = s.RunRetention(ctx)
	})
}

// Stop cancels both timers and every run in flight, then waits for them to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, job string, interval time.Duration, running *atomic.Bool, run func(context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !running.CompareAndSwap(false, true) {
					s.logger.Warn("previous run still in flight, skipping tick", "job", job)
					s.recorder.RecordSkipped(job)
					continue
				}

				s.wg.Add(1)
				go func() {
					defer s.wg.Done()
					defer running.Store(false)
					run(ctx)
				}()
			}
		}
	}()
}

// RunSweep refreshes every credential that expired more than the session horizon ago.
//
// The outcome is logged and recorded; the returned error is informational.
func (s *Scheduler) RunSweep(ctx context.Context) (*tasks.SweepResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.TickTimeout)
	defer cancel()

	start := s.now()
	horizon := start.Add(-s.opts.SessionHorizon)

	result, err := s.sweeper.Sweep(ctx, horizon)
	elapsed := time.Since(start)

	s.recorder.RecordTick(metrics.JobSweep, elapsed, err)
	if result != nil {
		s.recorder.RecordRefreshes(len(result.Refreshed), len(result.Failed))
	}

	logger := s.logger.With("job", metrics.JobSweep, "horizon", horizon.Format(time.RFC3339), "duration", elapsed)
	switch {
	case err != nil && result != nil:
		logger.Error("session sweep failed", "refreshed", len(result.Refreshed), "failed", len(result.Failed), "error", err)
	case err != nil:
		logger.Error("session sweep failed", "error", err)
	default:
		logger.Info("session sweep finished", "refreshed", len(result.Refreshed))
	}
	return result, err
}

// RunRetention runs one retention tick.
//
// The outcome is logged and recorded; the returned error is informational.
func (s *Scheduler) RunRetention(ctx context.Context) (*tasks.TickResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.TickTimeout)
	defer cancel()

	start := s.now()
	result, err := s.retainer.Tick(ctx)
	elapsed := time.Since(start)

	s.recorder.RecordTick(metrics.JobRetention, elapsed, err)
	if result == nil {
		s.logger.Error("retention tick failed", "job", metrics.JobRetention, "error", err)
		return result, err
	}

	s.recorder.RecordEnforced(len(result.Succeeded), len(result.Failed))
	s.recorder.RecordRemoved(result.Removed)

	logger := s.logger.With("job", metrics.JobRetention, "run", result.RunID, "duration", elapsed)
	if err != nil {
		logger.Error("retention tick failed",
			"playlists", result.Playlists, "succeeded", len(result.Succeeded), "failed", len(result.Failed), "error", err)
		return result, err
	}

	if result.Playlists > 0 {
		logger.Info("retention tick finished", "playlists", result.Playlists, "removed", result.Removed)
	} else {
		logger.Debug("retention tick finished", "playlists", 0)
	}
	return result, nil
}
