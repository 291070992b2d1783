// Package observability provides Prometheus metrics and HTTP middleware
// for monitoring the kgquery service and its pipeline stages.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// BackendBuckets covers generation backend latencies, from 100ms to 120s.
var BackendBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

// StageBuckets covers pipeline stage durations, from 1ms to 60s.
var StageBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60}

var (
	// RequestsTotal counts HTTP requests by method, status class, and route.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kgquery_requests_total",
			Help: "Total requests",
		},
		[]string{"method", "status", "route"},
	)

	// RequestDuration records HTTP request duration in seconds.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kgquery_request_duration_seconds",
			Help:    "Request duration",
			Buckets: BackendBuckets,
		},
		[]string{"method", "route"},
	)

	// StreamingConnections tracks active SSE connections.
	StreamingConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kgquery_streaming_connections_active",
			Help: "Active streaming connections",
		},
	)

	// QueriesTotal counts completed queries by query type and outcome.
	QueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kgquery_queries_total",
			Help: "Completed queries",
		},
		[]string{"query_type", "outcome"},
	)

	// StageDuration records how long each pipeline stage took.
	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kgquery_stage_duration_seconds",
			Help:    "Pipeline stage duration",
			Buckets: StageBuckets,
		},
		[]string{"stage"},
	)

	// BackendRequestsTotal counts generation backend calls.
	BackendRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kgquery_backend_requests_total",
			Help: "Generation backend requests",
		},
		[]string{"backend", "purpose", "status"},
	)

	// BackendLatency records generation backend latency in seconds.
	BackendLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kgquery_backend_latency_seconds",
			Help:    "Generation backend latency",
			Buckets: BackendBuckets,
		},
		[]string{"backend"},
	)

	// CacheLookupsTotal counts backend response cache lookups by result.
	CacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kgquery_cache_lookups_total",
			Help: "Backend response cache lookups",
		},
		[]string{"result"},
	)

	// RepairOutcomesTotal counts repair funnel results.
	RepairOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kgquery_repair_outcomes_total",
			Help: "Code repair outcomes",
		},
		[]string{"origin", "outcome"},
	)

	// SandboxExecutionsTotal counts sandbox executions by backend and final status.
	SandboxExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kgquery_sandbox_executions_total",
			Help: "Sandbox executions",
		},
		[]string{"backend", "status"},
	)

	// SandboxDuration records sandbox wall-clock time in seconds.
	SandboxDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kgquery_sandbox_duration_seconds",
			Help:    "Sandbox execution duration",
			Buckets: StageBuckets,
		},
		[]string{"backend"},
	)

	// RateLimitRejectedTotal counts requests rejected by the rate limiter.
	RateLimitRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kgquery_ratelimit_rejected_total",
			Help: "Rate limit rejections",
		},
		[]string{"tier"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		StreamingConnections,
		QueriesTotal,
		StageDuration,
		BackendRequestsTotal,
		BackendLatency,
		CacheLookupsTotal,
		RepairOutcomesTotal,
		SandboxExecutionsTotal,
		SandboxDuration,
		RateLimitRejectedTotal,
	)
}

// ObserveStage records the duration of one pipeline stage.
func ObserveStage(stage string, d time.Duration) {
	StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// ObserveBackend records one generation backend call.
func ObserveBackend(backend, purpose string, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	BackendRequestsTotal.WithLabelValues(backend, purpose, status).Inc()
	BackendLatency.WithLabelValues(backend).Observe(d.Seconds())
}

// ObserveSandbox records one sandbox execution.
func ObserveSandbox(backend, status string, d time.Duration) {
	SandboxExecutionsTotal.WithLabelValues(backend, status).Inc()
	SandboxDuration.WithLabelValues(backend).Observe(d.Seconds())
}
