package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RedisErrorRate counts Redis errors by operation type.
	RedisErrorRate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lfgkeeper_redis_error_rate_total",
		Help: "Total number of Redis errors by operation type",
	}, []string{"operation"})

	// DatabaseQueryLatency records database query latency by operation and table.
	DatabaseQueryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lfgkeeper_database_query_latency_seconds",
		Help:    "Database query latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})

	// TransitionsTotal counts status transitions by target status and outcome.
	TransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lfgkeeper_transitions_total",
		Help: "Request status transitions by target and outcome",
	}, []string{"to", "outcome"})

	// AdmissionDecisions counts reservation attempts by result.
	AdmissionDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lfgkeeper_admission_decisions_total",
		Help: "Admission reservation attempts by result",
	}, []string{"result"})

	// ArtifactOperations counts external post/remove calls by kind and outcome.
	ArtifactOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lfgkeeper_artifact_operations_total",
		Help: "External artifact operations by operation, kind and outcome",
	}, []string{"operation", "kind", "outcome"})

	// ArtifactLatency records external call latency.
	ArtifactLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lfgkeeper_artifact_latency_seconds",
		Help:    "External artifact call latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	// LedgerRecords counts failure records written by log type.
	LedgerRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lfgkeeper_ledger_records_total",
		Help: "Failure records written by log type",
	}, []string{"log_type"})

	// LedgerPending is the number of unresolved, retryable failure records at the last status read.
	LedgerPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lfgkeeper_ledger_pending",
		Help: "Unresolved failure records still eligible for retry",
	})

	// LedgerExhausted is the number of records that hit the retry cap.
	LedgerExhausted = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lfgkeeper_ledger_exhausted",
		Help: "Failure records that exhausted their retries",
	})

	// ReconcileEvents counts artifact deletion notifications by outcome.
	ReconcileEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lfgkeeper_reconcile_events_total",
		Help: "Artifact deletion notifications by outcome",
	}, []string{"outcome"})

	// CleanupItems counts requests touched by the cleanup sweep per phase.
	CleanupItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lfgkeeper_cleanup_items_total",
		Help: "Requests processed by cleanup phase",
	}, []string{"phase"})

	// JobDuration records background job run time.
	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lfgkeeper_job_duration_seconds",
		Help:    "Background job duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})

	// JobErrors counts failed steps inside background jobs.
	JobErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lfgkeeper_job_errors_total",
		Help: "Failed steps inside background jobs",
	}, []string{"job", "step"})

	// BreakerState exposes the chat transport circuit breaker state (0 closed, 1 half-open, 2 open).
	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "lfgkeeper_breaker_state",
		Help: "Circuit breaker state by name",
	}, []string{"name"})
)

// TrackQuery returns a function that records query latency when called (e.g. defer).
func TrackQuery(operation, table string) func() {
	start := time.Now()
	return func() {
		DatabaseQueryLatency.WithLabelValues(operation, table).Observe(time.Since(start).Seconds())
	}
}

// TrackArtifactCall returns a function that records external call latency when called.
func TrackArtifactCall(operation string) func() {
	start := time.Now()
	return func() {
		ArtifactLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}
}
