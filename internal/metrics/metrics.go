// Package metrics exposes Prometheus metrics for the background jobs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Job names used as the job label.
const (
	JobSweep     = "sweep"
	JobRetention = "retention"
)

// Recorder is what the scheduler reports to.
type Recorder interface {
	RecordTick(job string, duration time.Duration, err error)
	RecordSkipped(job string)
	RecordRefreshes(succeeded, failed int)
	RecordEnforced(succeeded, failed int)
	RecordRemoved(count int)
}

// Collector is the Prometheus [Recorder].
type Collector struct {
	ticks        *prometheus.CounterVec
	tickDuration *prometheus.HistogramVec
	skipped      *prometheus.CounterVec
	refreshes    *prometheus.CounterVec
	enforced     *prometheus.CounterVec
	removed      prometheus.Counter
}

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spotprune_ticks_total",
			Help: "Scheduler ticks by job and outcome.",
		}, []string{"job", "outcome"}),
		tickDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "spotprune_tick_duration_seconds",
			Help:    "Duration of scheduler ticks.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spotprune_ticks_skipped_total",
			Help: "Ticks skipped because the previous tick of the job was still running.",
		}, []string{"job"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spotprune_credential_refreshes_total",
			Help: "Credential refreshes performed by session sweeps.",
		}, []string{"outcome"}),
		enforced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spotprune_playlists_enforced_total",
			Help: "Playlists processed by retention ticks.",
		}, []string{"outcome"}),
		removed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spotprune_tracks_removed_total",
			Help: "Tracks removed by retention policies.",
		}),
	}

	reg.MustRegister(c.ticks, c.tickDuration, c.skipped, c.refreshes, c.enforced, c.removed)
	return c
}

// RecordTick records a finished tick of job.
func (c *Collector) RecordTick(job string, duration time.Duration, err error) {
	c.ticks.WithLabelValues(job, outcome(err)).Inc()
	c.tickDuration.WithLabelValues(job).Observe(duration.Seconds())
}

func (c *Collector) RecordSkipped(job string) {
	c.skipped.WithLabelValues(job).Inc()
}

func (c *Collector) RecordRefreshes(succeeded, failed int) {
	c.refreshes.WithLabelValues("success").Add(float64(succeeded))
	c.refreshes.WithLabelValues("failure").Add(float64(failed))
}

func (c *Collector) RecordEnforced(succeeded, failed int) {
	c.enforced.WithLabelValues("success").Add(float64(succeeded))
	c.enforced.WithLabelValues("failure").Add(float64(failed))
}

func (c *Collector) RecordRemoved(count int) {
	c.removed.Add(float64(count))
}

func outcome(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordTick(string, time.Duration, error) {}
func (Nop) RecordSkipped(string)                   {}
func (Nop) RecordRefreshes(int, int)               {}
func (Nop) RecordEnforced(int, int)                {}
func (Nop) RecordRemoved(int)                      {}

// Handler returns the scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
