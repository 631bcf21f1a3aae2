// Package metrics exposes the Prometheus instrumentation shared by the
// registry and server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ExecutionsTotal counts completed check executions by kind and outcome.
	ExecutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "beacon",
		Name:      "executions_total",
		Help:      "Completed check executions by kind and outcome.",
	}, []string{"kind", "outcome"})

	// ProbeDuration observes wall-clock probe execution time.
	ProbeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "beacon",
		Name:      "probe_duration_seconds",
		Help:      "Wall-clock duration of probe executions.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"kind"})

	// ActiveChecks tracks how many checks currently run on a timer.
	ActiveChecks = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "beacon",
		Name:      "active_checks",
		Help:      "Number of checks currently registered on a timer.",
	})

	// ResultWriteFailures counts executions whose result could not be
	// persisted. Those results are lost; the next tick tries again.
	ResultWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "beacon",
		Name:      "result_write_failures_total",
		Help:      "Check executions whose result could not be written to storage.",
	})
)
