// Package metrics exposes Prometheus instruments for the execution pipeline.
//
// Instruments are registered on the default registry at init time through
// promauto, and served by promhttp on /metrics (see server.setupRoutes).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Execution outcomes used as the "outcome" label of ExecutionsTotal.
const (
	OutcomeSuccess            = "success"
	OutcomeFailed             = "failed" // compile or runtime failure, both user-visible results
	OutcomeNoOutput           = "no_output"
	OutcomeUnsupported        = "unsupported"
	OutcomeSetupFailed        = "setup_failed"
	OutcomeSandboxUnavailable = "sandbox_unavailable"
	OutcomeCancelled          = "cancelled" // the caller went away, possibly while still queued
)

var (
	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coderunner_executions_total",
			Help: "Total number of code executions by language and outcome",
		},
		[]string{"language", "outcome"},
	)

	ExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coderunner_execution_duration_ms",
			Help:    "Execution duration in milliseconds",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 15000},
		},
		[]string{"language", "phase"}, // phase: "compile", "total"
	)

	ActiveSandboxes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "coderunner_active_sandboxes",
			Help: "Number of sandboxes currently bound to a room",
		},
	)

	ContainerCreationTime = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coderunner_container_creation_ms",
			Help:    "Time to create and start a pre-warmed container",
			Buckets: []float64{50, 100, 200, 500, 1000, 2000, 5000},
		},
	)

	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coderunner_rate_limit_hits_total",
			Help: "Total number of execute requests rejected by the rate limiter",
		},
	)
)
