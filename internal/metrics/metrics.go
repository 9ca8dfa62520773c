// Threatwatch - Security Threat Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/threatwatch

// Package metrics declares the Prometheus collectors for Threatwatch.
//
// Collectors are registered on the default registry through promauto and
// exposed on /metrics by the API router. Record* helpers keep label values
// consistent across call sites.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threatwatch_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "threatwatch_api_request_duration_seconds",
			Help:    "API request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "threatwatch_api_active_requests",
			Help: "Number of API requests currently being served",
		},
	)

	// Ingestion metrics
	SubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threatwatch_submissions_total",
			Help: "Accepted submissions by channel and classification",
		},
		[]string{"channel", "classification"},
	)

	SubmissionFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threatwatch_submission_failures_total",
			Help: "Rejected or failed submissions by reason",
		},
		[]string{"reason"}, // validation, classification, store
	)

	SubmissionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "threatwatch_submission_duration_seconds",
			Help:    "End-to-end submission latency up to durable storage",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"channel"},
	)

	SubmissionDuplicates = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "threatwatch_submission_duplicates_total",
			Help: "Submissions answered from an existing idempotency key",
		},
	)

	ClassificationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "threatwatch_classification_duration_seconds",
			Help:    "Time spent classifying one submission",
			Buckets: []float64{0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		},
	)

	SignatureSetVersion = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "threatwatch_signature_set_info",
			Help: "Currently loaded signature set (value is the signature count)",
		},
		[]string{"version"},
	)

	// Store metrics
	StoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "threatwatch_store_operation_duration_seconds",
			Help:    "Event store operation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threatwatch_store_errors_total",
			Help: "Event store operation errors",
		},
		[]string{"backend", "operation"},
	)

	StoreBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "threatwatch_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// Notification metrics
	NotificationsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "threatwatch_notifications_created_total",
			Help: "Notifications created for threat events",
		},
	)

	NotificationDispatchFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threatwatch_notification_dispatch_failures_total",
			Help: "Failed notification deliveries by stage",
		},
		[]string{"stage"}, // trigger, store, notifier
	)

	// Event bus metrics
	BusPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threatwatch_bus_published_total",
			Help: "Messages published to the event bus",
		},
		[]string{"topic"},
	)

	BusHandled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threatwatch_bus_handled_total",
			Help: "Messages handled by bus consumers",
		},
		[]string{"topic", "result"}, // ok, error, duplicate
	)

	// Aggregator metrics
	AggregatorActiveOwners = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "threatwatch_aggregator_active_owners",
			Help: "Owners with at least one live dashboard session",
		},
	)

	AggregatorSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "threatwatch_aggregator_sessions",
			Help: "Live dashboard sessions",
		},
	)

	AggregatorReconcileDrift = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "threatwatch_aggregator_reconcile_drift_total",
			Help: "Snapshots replaced by the reconciler because they drifted",
		},
	)

	// Report metrics
	ReportDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "threatwatch_report_duration_seconds",
			Help:    "Report generation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind", "format"},
	)

	ReportErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threatwatch_report_errors_total",
			Help: "Failed report generations",
		},
		[]string{"kind"},
	)

	// WebSocket metrics
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "threatwatch_websocket_connections",
			Help: "Open websocket connections",
		},
	)
)

// RecordAPIRequest records an API request metric.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest tracks in-flight API requests.
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}

// RecordSubmission records an accepted submission.
func RecordSubmission(channel, classification string, duplicate bool) {
	SubmissionsTotal.WithLabelValues(channel, classification).Inc()
	if duplicate {
		SubmissionDuplicates.Inc()
	}
}

// RecordStoreOperation records an event store call.
func RecordStoreOperation(backend, operation string, duration time.Duration, err error) {
	StoreOperationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
	if err != nil {
		StoreErrors.WithLabelValues(backend, operation).Inc()
	}
}
