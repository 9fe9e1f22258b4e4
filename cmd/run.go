package main

import (
	"context"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/spotprune/internal/cron"
	"github.com/desertthunder/spotprune/internal/metrics"
)

// scheduler builds a [cron.Scheduler] over the task services using the scheduler config.
func (r *Runner) scheduler(d *deps, recorder metrics.Recorder, horizon time.Duration) *cron.Scheduler {
	sc := r.cfg().Scheduler
	if horizon <= 0 {
		horizon = sc.SessionHorizon.Duration
	}
	return cron.NewScheduler(d.creds, d.enforcer, recorder, r.logger, cron.Options{
		SessionInterval:   sc.SessionInterval.Duration,
		RetentionInterval: sc.RetentionInterval.Duration,
		SessionHorizon:    horizon,
		TickTimeout:       sc.TickTimeout.Duration,
	})
}

// RunSweep refreshes every credential that expired within the horizon, once.
func (r *Runner) RunSweep(ctx context.Context, cmd *cli.Command) error {
	d, err := r.services(ctx)
	if err != nil {
		return err
	}

	result, err := r.scheduler(d, nil, cmd.Duration("horizon")).RunSweep(ctx)
	if result == nil {
		return err
	}

	r.writeOK("Refreshed %d credential(s)", len(result.Refreshed))
	for _, f := range result.Failed {
		r.writeWarn("%s: %v", f.ID, f.Err)
	}
	return err
}

// RunRetention applies every retention policy once.
func (r *Runner) RunRetention(ctx context.Context, cmd *cli.Command) error {
	d, err := r.services(ctx)
	if err != nil {
		return err
	}

	result, err := r.scheduler(d, nil, 0).RunRetention(ctx)
	if result == nil {
		return err
	}

	r.writeOK("Checked %d playlist(s), removed %d track(s) in %s",
		result.Playlists, result.Removed, result.Duration.Round(time.Millisecond))
	for _, f := range result.Failed {
		r.writeWarn("%s failed during %s: %v", f.ID, f.Phase, f.Err)
	}
	return err
}
