// Curator - Media Collection Curation and Library Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/curator

// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Job queue
	QueueJobsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "curator_queue_jobs_enqueued_total",
			Help: "Jobs added to the queue",
		},
		[]string{"kind", "priority"},
	)

	QueueJobsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "curator_queue_jobs_finished_total",
			Help: "Job executions by outcome (completed, retrying, failed)",
		},
		[]string{"kind", "outcome"},
	)

	QueueJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "curator_queue_job_duration_seconds",
			Help:    "Handler execution time",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"kind"},
	)

	QueueJobsByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "curator_queue_jobs",
			Help: "Jobs currently held by the queue, by status",
		},
		[]string{"status"},
	)

	QueuePaused = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "curator_queue_paused",
			Help: "1 when dispatch is paused",
		},
	)

	QueueEventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "curator_queue_events_dropped_total",
			Help: "Lifecycle events dropped because a subscriber was full",
		},
	)

	// Scheduler
	ScheduledCollections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "curator_schedule_entries",
			Help: "Collections with an active refresh timer",
		},
	)

	ScheduleFires = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "curator_schedule_fires_total",
			Help: "Refresh timer fires by outcome (refreshed, not_due, overlap, error)",
		},
		[]string{"outcome"},
	)

	// Refresh pipeline
	RefreshDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "curator_refresh_duration_seconds",
			Help:    "Time to pull, dedupe and store one collection",
			Buckets: prometheus.DefBuckets,
		},
	)

	RefreshRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "curator_refresh_runs_total",
			Help: "Collection refreshes by result",
		},
		[]string{"result"},
	)

	RefreshDuplicates = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "curator_refresh_duplicates_total",
			Help: "List items dropped as duplicates",
		},
	)

	// Enrichment
	EnrichmentResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "curator_enrichment_results_total",
			Help: "Enrichment attempts by result (enriched, retry, failed, missing)",
		},
		[]string{"result"},
	)

	// Reconciliation
	SyncRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "curator_sync_runs_total",
			Help: "Reconciliation runs by server and status",
		},
		[]string{"server", "status"},
	)

	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "curator_sync_duration_seconds",
			Help:    "Reconciliation run duration",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"server"},
	)

	SyncMatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "curator_sync_matches_total",
			Help: "Item matches by method",
		},
		[]string{"method"},
	)

	SyncLastSuccess = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "curator_sync_last_success_timestamp",
			Help: "Unix time of the last non-failed reconciliation per server",
		},
		[]string{"server"},
	)

	// Outbound calls
	RetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "curator_retry_attempts_total",
			Help: "Retries of external calls",
		},
		[]string{"target"},
	)

	// Circuit breakers
	LibraryCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "curator_library_call_duration_seconds",
			Help:    "Remote library server call latency including retries",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"server", "op"},
	)

	LibraryCallErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "curator_library_call_errors_total",
			Help: "Remote library server calls that failed after retries",
		},
		[]string{"server", "op"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "curator_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "curator_circuit_breaker_requests_total",
			Help: "Requests through a circuit breaker",
		},
		[]string{"name", "result"}, // success, failure, rejected
	)

	CircuitBreakerConsecutiveFailures = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "curator_circuit_breaker_consecutive_failures",
			Help: "Current consecutive failures",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "curator_circuit_breaker_state_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// Run log
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "curator_duckdb_query_duration_seconds",
			Help:    "Run log query duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "table"},
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "curator_duckdb_query_errors_total",
			Help: "Run log query errors",
		},
		[]string{"operation", "table"},
	)

	// Background jobs
	BackgroundJobRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "curator_background_job_runs_total",
			Help: "Background job executions by result",
		},
		[]string{"job", "result"},
	)

	// API
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "curator_api_requests_total",
			Help: "HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "curator_api_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "curator_api_active_requests",
			Help: "In-flight HTTP requests",
		},
	)

	// WebSocket
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "curator_websocket_connections",
			Help: "Connected websocket clients",
		},
	)

	WSMessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "curator_websocket_messages_sent_total",
			Help: "Messages written to websocket clients",
		},
	)
)

// RecordJobFinished records one handler execution.
func RecordJobFinished(kind, outcome string, d time.Duration) {
	QueueJobsFinished.WithLabelValues(kind, outcome).Inc()
	QueueJobDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// RecordRefresh records one refresh run.
func RecordRefresh(d time.Duration, duplicates int, err error) {
	RefreshDuration.Observe(d.Seconds())
	RefreshDuplicates.Add(float64(duplicates))
	if err != nil {
		RefreshRuns.WithLabelValues("error").Inc()
		return
	}
	RefreshRuns.WithLabelValues("ok").Inc()
}

// RecordSync records one reconciliation run.
func RecordSync(server, status string, d time.Duration) {
	SyncRuns.WithLabelValues(server, status).Inc()
	SyncDuration.WithLabelValues(server).Observe(d.Seconds())
	if status != "failed" {
		SyncLastSuccess.WithLabelValues(server).Set(float64(time.Now().Unix()))
	}
}

// RecordLibraryCall records one wrapped library server call.
func RecordLibraryCall(server, op string, d time.Duration, err error) {
	LibraryCallDuration.WithLabelValues(server, op).Observe(d.Seconds())
	if err != nil {
		LibraryCallErrors.WithLabelValues(server, op).Inc()
	}
}

// RecordDBQuery records a run log query.
func RecordDBQuery(operation, table string, d time.Duration, err error) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(d.Seconds())
	if err != nil {
		DBQueryErrors.WithLabelValues(operation, table).Inc()
	}
}

// RecordAPIRequest records one HTTP request.
func RecordAPIRequest(method, endpoint, status string, d time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(d.Seconds())
}

// TrackActiveRequest adjusts the in-flight gauge.
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
		return
	}
	APIActiveRequests.Dec()
}
