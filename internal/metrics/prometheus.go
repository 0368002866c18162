// Chatwatch - Chat Message Threat Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatwatch

// Package metrics exposes Prometheus collectors and the in-process Recorder
// that keeps short rolling series for the dashboard.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus instrumentation for:
// - Ingestion batches and queue depth
// - Threat analysis
// - Webhook dispatch and circuit breaker
// - Session supervisor
// - DuckDB, API and dashboard websocket

var (
	// Ingestion
	IngestEnqueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatwatch_ingest_enqueued_total",
			Help: "Raw messages accepted into the ingestion buffer",
		},
	)

	IngestQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatwatch_ingest_queue_depth",
			Help: "Raw messages waiting in the ingestion buffer",
		},
	)

	IngestMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatwatch_ingest_messages_total",
			Help: "Messages handled per batch outcome",
		},
		[]string{"result"}, // processed, invalid, filtered, failed, discarded
	)

	IngestBatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chatwatch_ingest_batch_duration_seconds",
			Help:    "Duration of one batch run",
			Buckets: prometheus.DefBuckets,
		},
	)

	IngestBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chatwatch_ingest_batch_size",
			Help:    "Items popped per batch run",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
	)

	IngestRunsSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatwatch_ingest_runs_skipped_total",
			Help: "Batch triggers ignored because a run was already in flight",
		},
	)

	// Detection
	DetectionAlerts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatwatch_detection_alerts_total",
			Help: "Alerts raised by threat analysis",
		},
		[]string{"type", "severity"},
	)

	DetectionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chatwatch_detection_duration_seconds",
			Help:    "Time spent analyzing one message",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1},
		},
	)

	DetectionErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatwatch_detection_errors_total",
			Help: "Analyses that failed or panicked and fell back to zero risk",
		},
	)

	DetectionRiskScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chatwatch_detection_risk_score",
			Help:    "Distribution of message risk scores",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		},
	)

	// Dispatch
	DispatchDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatwatch_dispatch_deliveries_total",
			Help: "Webhook deliveries by event and outcome",
		},
		[]string{"event", "result"}, // success, dropped, rejected
	)

	DispatchAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatwatch_dispatch_attempts_total",
			Help: "Webhook POST attempts including retries",
		},
	)

	DispatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chatwatch_dispatch_duration_seconds",
			Help:    "Duration of one webhook POST",
			Buckets: prometheus.DefBuckets,
		},
	)

	DispatchConsecutiveFailures = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatwatch_dispatch_consecutive_failures",
			Help: "Dropped deliveries since the last success",
		},
	)

	// Circuit Breaker
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// Session
	SessionState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatwatch_session_state",
			Help: "Connection state (0=disconnected, 1=awaiting_pairing, 2=connected, 3=auth_failed)",
		},
	)

	SessionReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatwatch_session_reconnects_total",
			Help: "Reconnect attempts scheduled by the session supervisor",
		},
	)

	SessionFatal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatwatch_session_fatal_total",
			Help: "Times reconnection was abandoned after max attempts",
		},
	)

	CredentialErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatwatch_credential_persist_errors_total",
			Help: "Failed credential persistence callbacks",
		},
	)

	// Database
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
		[]string{"operation", "table"},
	)

	// API
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Dashboard WebSocket
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connections_active",
			Help: "Number of active dashboard WebSocket connections",
		},
	)

	WSMessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_messages_sent_total",
			Help: "Total number of WebSocket messages sent",
		},
	)

	// Event bus
	EventBusPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatwatch_eventbus_published_total",
			Help: "Envelopes published to the event bus",
		},
		[]string{"topic", "result"},
	)

	// System
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_info",
			Help: "Application version and build information",
		},
		[]string{"version", "go_version"},
	)
)

// RecordDBQuery records a database query metric.
func RecordDBQuery(operation, table string, duration time.Duration, err error) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
	if err != nil {
		DBQueryErrors.WithLabelValues(operation, table).Inc()
	}
}

// RecordAPIRequest records an API request metric.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordBatch records one ingestion run.
func RecordBatch(size int, duration time.Duration) {
	IngestBatchSize.Observe(float64(size))
	IngestBatchDuration.Observe(duration.Seconds())
}

// RecordAlert counts an alert raised by analysis.
func RecordAlert(alertType, severity string) {
	DetectionAlerts.WithLabelValues(alertType, severity).Inc()
}

// RecordDelivery counts a finished webhook delivery.
func RecordDelivery(event, result string) {
	DispatchDeliveries.WithLabelValues(event, result).Inc()
}
