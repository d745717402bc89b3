// Stylefeed Experiments - Experimentation and Bandit Optimization Engine
// Copyright 2026 Stylefeed Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stylefeed/experiments

package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Database metrics
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "duckdb_query_duration_seconds",
			Help:    "Duration of DuckDB queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "table"},
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckdb_query_errors_total",
			Help: "Total number of DuckDB query errors",
		},
		[]string{"operation", "table", "error_type"},
	)

	DBConnectionPoolSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "duckdb_connection_pool_size",
			Help: "Current number of database connections in use",
		},
	)

	// Assignment metrics
	AssignmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "experiment_assignments_total",
			Help: "Total variant assignments served, by outcome",
		},
		[]string{"placement", "outcome"}, // "assigned", "sticky", "excluded", "fallback"
	)

	AssignmentDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "experiment_assignment_duration_seconds",
			Help:    "Time to resolve a variant assignment",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		},
	)

	// Event ingestion metrics
	EventsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "experiment_events_ingested_total",
			Help: "Total events accepted into the event log",
		},
		[]string{"event_type"},
	)

	EventsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "experiment_events_rejected_total",
			Help: "Total events rejected before append",
		},
		[]string{"reason"}, // "validation", "unknown_experiment", "storage"
	)

	// Bandit metrics
	ArmUpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bandit_arm_updates_total",
			Help: "Total bandit arm reward updates applied",
		},
		[]string{"algorithm", "arm_type"},
	)

	ArmSelectionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bandit_selection_duration_seconds",
			Help:    "Time to rank candidates with a bandit algorithm",
			Buckets: []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.05},
		},
		[]string{"algorithm"},
	)

	ArmResets = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bandit_arm_resets_total",
			Help: "Total bandit arm resets back to the uniform prior",
		},
	)

	// Reward WAL metrics
	WALPendingEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "reward_wal_pending_entries",
			Help: "Reward updates written to the WAL but not yet confirmed",
		},
	)

	WALRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reward_wal_retries_total",
			Help: "Total WAL retry attempts, by outcome",
		},
		[]string{"outcome"}, // "success", "failure", "dropped"
	)

	WALWriteErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reward_wal_write_errors_total",
			Help: "Total failures to append a reward update to the WAL",
		},
	)

	// Circuit breaker metrics
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"name"},
	)

	BreakerTrips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_trips_total",
			Help: "Total circuit breaker transitions to open",
		},
		[]string{"name"},
	)

	// Pipeline metrics
	PipelinePublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "event_pipeline_published_total",
			Help: "Total messages published to the event pipeline",
		},
		[]string{"topic"},
	)

	PipelineProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "event_pipeline_processed_total",
			Help: "Total pipeline messages processed, by outcome",
		},
		[]string{"topic", "outcome"}, // "ok", "error"
	)

	PipelineProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "event_pipeline_processing_duration_seconds",
			Help:    "Time to process a single pipeline message",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"topic"},
	)

	// API endpoint metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "api_active_requests",
			Help: "Current number of active API requests",
		},
	)

	APIRateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_rate_limit_hits_total",
			Help: "Total number of rate limit rejections",
		},
		[]string{"endpoint"},
	)
)

// RecordDBQuery records the latency of a database operation and, on error,
// increments the error counter with a bounded error label.
func RecordDBQuery(operation, table string, duration time.Duration, err error) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
	if err != nil {
		errType := err.Error()
		if len(errType) > 50 {
			errType = errType[:50]
		}
		DBQueryErrors.WithLabelValues(operation, table, errType).Inc()
	}
}

// RecordAssignment records the outcome of a single assignment resolution.
func RecordAssignment(placement, outcome string, duration time.Duration) {
	AssignmentsTotal.WithLabelValues(placement, outcome).Inc()
	AssignmentDuration.Observe(duration.Seconds())
}

// RecordEvent records an accepted event by type.
func RecordEvent(eventType string) {
	EventsIngested.WithLabelValues(eventType).Inc()
}

// RecordEventRejected records a rejected event with a fixed reason label.
func RecordEventRejected(reason string) {
	EventsRejected.WithLabelValues(reason).Inc()
}

// RecordArmUpdate records a reward update applied to a bandit arm.
func RecordArmUpdate(algorithm, armType string) {
	ArmUpdatesTotal.WithLabelValues(algorithm, armType).Inc()
}

// RecordSelection records a candidate-ranking pass for one algorithm.
func RecordSelection(algorithm string, duration time.Duration) {
	ArmSelectionDuration.WithLabelValues(algorithm).Observe(duration.Seconds())
}

// RecordAPIRequest records a completed HTTP request.
func RecordAPIRequest(method, endpoint string, statusCode int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest adjusts the in-flight request gauge.
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}

// SetBreakerState maps a breaker state name onto the numeric gauge.
func SetBreakerState(name, state string) {
	var v float64
	switch state {
	case "open":
		v = 1
		BreakerTrips.WithLabelValues(name).Inc()
	case "half-open":
		v = 2
	}
	BreakerState.WithLabelValues(name).Set(v)
}
