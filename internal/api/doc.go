// Threatwatch - Security Threat Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/threatwatch

/*
Package api exposes the Threatwatch pipeline over HTTP using the Chi router.

# Routes

All routes live under /api/v1:

	POST /events                          submit content for classification
	GET  /events                          query stored events
	GET  /events/{id}                     fetch one event
	GET  /notifications?owner=            list notifications (unread=true)
	GET  /notifications/unread-count      unread count for owner
	POST /notifications/{id}/read         mark one notification read
	POST /notifications/read-all          mark all of an owner's notifications read
	GET  /alerts?owner=                   list alerts
	POST /alerts/{id}/resolve             resolve an alert
	GET  /stats?owner=                    current rolling statistics
	GET  /stats/trends?owner=&days=       per-day dashboard trends
	POST /reports                         generate a report
	GET  /ws?owner=&channel=&severity=    live snapshot, deltas, events and notifications
	GET  /health/live, /health/ready      probes

Prometheus metrics are served on /metrics and the OpenAPI document on
/swagger/doc.json (Swagger UI under /swagger/).

# Responses

Every JSON response uses models.APIResponse. Errors carry a machine-readable
code:

	VALIDATION_ERROR      400  malformed request, nothing was stored
	NOT_FOUND             404  unknown event, notification or alert
	CLASSIFICATION_ERROR  503  classifier failed; retry with the same idempotency key
	STORE_UNAVAILABLE     503  event store failed; Retry-After is set
	GENERATION_ERROR      500  report failed; details carry report_type and time_period
	TOO_MANY_REQUESTS     429  rate limit exceeded

# Middleware

Request and correlation IDs, RealIP, Recoverer and CORS apply globally.
API routes add httprate limiting (stricter for ingestion), security headers
and Prometheus request metrics.
*/
package api
