// Package metrics exposes Prometheus metrics for command runs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/yoanbernabeu/nbexec/internal/process"
)

// Outcome label values for nbexec_runs_finished_total.
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeCanceled = "canceled"
)

// Collector records run lifecycle events. It implements process.Observer;
// all methods are safe for concurrent use.
type Collector struct {
	runsStarted  prometheus.Counter
	runsFinished *prometheus.CounterVec
	spawnErrors  prometheus.Counter
	outputBytes  prometheus.Counter
	activeRuns   prometheus.Gauge
	duration     prometheus.Histogram
}

// NewCollector creates a collector and registers it with reg.
// A nil reg uses prometheus.DefaultRegisterer.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nbexec_runs_started_total",
			Help: "Commands spawned successfully",
		}),
		runsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nbexec_runs_finished_total",
			Help: "Commands completed, by outcome",
		}, []string{"outcome"}),
		spawnErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nbexec_spawn_errors_total",
			Help: "Commands that could not be spawned",
		}),
		outputBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nbexec_output_bytes_total",
			Help: "Bytes read from command output",
		}),
		activeRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nbexec_active_runs",
			Help: "Commands currently running",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "nbexec_run_duration_seconds",
			Help:    "Wall time from spawn to completion",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
		}),
	}

	reg.MustRegister(
		c.runsStarted,
		c.runsFinished,
		c.spawnErrors,
		c.outputBytes,
		c.activeRuns,
		c.duration,
	)

	// Pre-create outcome series so they export as zero
	for _, o := range []string{OutcomeSuccess, OutcomeFailure, OutcomeCanceled} {
		c.runsFinished.WithLabelValues(o)
	}

	return c
}

// RunStarted implements process.Observer.
func (c *Collector) RunStarted(string) {
	c.runsStarted.Inc()
	c.activeRuns.Inc()
}

// RunOutput implements process.Observer.
func (c *Collector) RunOutput(n int) {
	c.outputBytes.Add(float64(n))
}

// RunFinished implements process.Observer.
func (c *Collector) RunFinished(res process.Result) {
	c.activeRuns.Dec()
	c.runsFinished.WithLabelValues(outcome(res)).Inc()
	c.duration.Observe(res.Duration().Seconds())
}

// SpawnFailed implements process.Observer.
func (c *Collector) SpawnFailed(string, error) {
	c.spawnErrors.Inc()
}

func outcome(res process.Result) string {
	switch {
	case res.Canceled:
		return OutcomeCanceled
	case res.Succeeded:
		return OutcomeSuccess
	default:
		return OutcomeFailure
	}
}

var _ process.Observer = (*Collector)(nil)
