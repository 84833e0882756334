package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects run and unit outcome counters. A nil *Metrics is a valid
// no-op sink, so callers never need to guard.
type Metrics struct {
	registry *prometheus.Registry

	unitsFinished *prometheus.CounterVec
	runsFinished  *prometheus.CounterVec
	runDuration   prometheus.Histogram
}

// NewMetrics creates a metrics collector with its own registry.
func NewMetrics(namespace string) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		unitsFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "units_finished_total",
				Help:      "Units by terminal status (applied, skipped, failed, blocked)",
			},
			[]string{"status"},
		),
		runsFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_finished_total",
				Help:      "Convergence runs by outcome",
			},
			[]string{"outcome"},
		),
		runDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of convergence runs",
				Buckets:   prometheus.DefBuckets,
			},
		),
	}

	registry.MustRegister(m.unitsFinished, m.runsFinished, m.runDuration)
	return m
}

// UnitFinished counts one unit reaching a terminal status.
func (m *Metrics) UnitFinished(status string) {
	if m == nil {
		return
	}
	m.unitsFinished.WithLabelValues(status).Inc()
}

// RunFinished counts a completed run and observes its duration.
func (m *Metrics) RunFinished(ok bool, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	m.runsFinished.WithLabelValues(outcome).Inc()
	m.runDuration.Observe(d.Seconds())
}

// Handler exposes the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
