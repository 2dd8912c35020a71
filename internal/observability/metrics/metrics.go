// Package metrics provides Prometheus instrumentation for deploygate.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	enabled     bool
	serviceName string

	// HTTP metrics
	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec

	// Pipeline metrics
	pipelineTotal       *prometheus.CounterVec
	verdictBlockedTotal *prometheus.CounterVec
	dedupConflictTotal  *prometheus.CounterVec
	activeLocksGauge    prometheus.Gauge
	stepDuration        *prometheus.HistogramVec
)

// Init initializes the metrics system.
func Init(enabledFlag bool, svcName string) {
	enabled = enabledFlag
	serviceName = svcName

	if !enabled {
		return
	}

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	pipelineTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deploy_pipeline_total",
			Help: "Total number of pipeline runs by mode and terminal outcome",
		},
		[]string{"mode", "outcome"},
	)

	verdictBlockedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verdict_blocked_total",
			Help: "Total number of blocking verdicts by triggered rule",
		},
		[]string{"rule"},
	)

	dedupConflictTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dedup_conflict_total",
			Help: "Total number of submissions rejected as duplicates in flight",
		},
		[]string{"mode"},
	)

	activeLocksGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "deploy_active_locks",
			Help: "Number of deployment locks currently held",
		},
	)

	stepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deploy_step_duration_seconds",
			Help:    "Duration of external collaborator calls in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"step"},
	)
}

// Pipeline records a terminal pipeline outcome.
func Pipeline(mode, outcome string) {
	if !enabled {
		return
	}
	pipelineTotal.WithLabelValues(mode, outcome).Inc()
}

// VerdictBlocked records one triggered blocking rule.
func VerdictBlocked(rule string) {
	if !enabled {
		return
	}
	verdictBlockedTotal.WithLabelValues(rule).Inc()
}

// DedupConflict records a duplicate-in-flight rejection.
func DedupConflict(mode string) {
	if !enabled {
		return
	}
	dedupConflictTotal.WithLabelValues(mode).Inc()
}

// ActiveLocks publishes the current number of held deployment locks.
func ActiveLocks(count int) {
	if !enabled {
		return
	}
	activeLocksGauge.Set(float64(count))
}

// StepDuration records one external collaborator call.
func StepDuration(step string, seconds float64) {
	if !enabled {
		return
	}
	stepDuration.WithLabelValues(step).Observe(seconds)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	if !enabled {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
	}
	return promhttp.Handler()
}

// Enabled returns whether metrics are enabled.
func Enabled() bool {
	return enabled
}

// ServiceName returns the configured service name for metric labels.
func ServiceName() string {
	return serviceName
}
