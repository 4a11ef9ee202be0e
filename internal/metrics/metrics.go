// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codetrace_executions_total",
			Help: "Total number of code executions",
		},
		[]string{"language", "status"}, // status: "ok", "failed", "rejected"
	)

	ExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "codetrace_execution_duration_ms",
			Help:    "Execution duration in milliseconds",
			Buckets: []float64{5, 10, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
		[]string{"language"},
	)

	TraceEvents = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "codetrace_trace_events",
			Help:    "Number of trace events produced per execution",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		},
		[]string{"language"},
	)

	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "codetrace_rate_limit_hits_total",
			Help: "Total number of requests rejected by rate limiter",
		},
	)

	ContainerCreationTime = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "codetrace_container_creation_ms",
			Help:    "Time to create and start a pooled container",
			Buckets: []float64{50, 100, 200, 500, 1000, 2000},
		},
	)

	PoolIdleContainers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "codetrace_pool_idle_containers",
			Help: "Pre-warmed containers waiting in the pool",
		},
	)

	TempFileCleanupFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "codetrace_temp_file_cleanup_failures_total",
			Help: "Temporary source files that could not be removed",
		},
	)
)
