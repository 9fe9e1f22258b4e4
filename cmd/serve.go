package main

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v3"

	"github.com/desertthunder/spotprune/internal/metrics"
	"github.com/desertthunder/spotprune/internal/server"
)

// Serve runs the web service and both scheduled jobs until the process is interrupted.
//
// Shutdown order: the HTTP server drains, then the scheduler cancels and waits for its runs,
// then the state sweeper stops and the database closes.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	d, err := r.services(ctx)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.NewCollector(reg)

	states := server.NewPendingStates(server.DefaultStateTTL, server.DefaultMaxStates, r.logger)
	states.Start(server.DefaultSweepInterval)
	defer states.Stop()

	if !cmd.Bool("no-scheduler") {
		sched := r.scheduler(d, recorder, 0)
		sched.Start(ctx)
		defer sched.Stop()
	}

	router := server.NewRouter(r.logger, server.Routes{
		OAuth:   server.NewOAuthHandler(r.remote, states, d.accounts.Login, r.logger),
		DB:      r.db,
		Metrics: metrics.Handler(reg),
	})

	addr := cmd.String("addr")
	if addr == "" {
		addr = r.cfg().Server.Addr()
	}
	r.logger.Info("sign in at", "url", "http://"+addr+"/auth/login")

	return server.Serve(ctx, server.New(addr, router), r.logger)
}
