// Threatwatch - Security Threat Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/threatwatch

package models

import "time"

// APIResponse is the envelope returned by every HTTP endpoint.
//
// Status is "success" (see Data) or "error" (see Error):
//
//	{
//	  "status": "success",
//	  "data": {"event_id": 42, "threat_detected": true},
//	  "metadata": {"timestamp": "2026-03-01T12:00:00Z", "query_time_ms": 3}
//	}
type APIResponse struct {
	Status   string      `json:"status"`
	Data     interface{} `json:"data"`
	Metadata Metadata    `json:"metadata"`
	Error    *APIError   `json:"error,omitempty"`
}

// Metadata carries response timing.
type Metadata struct {
	Timestamp   time.Time `json:"timestamp"`
	QueryTimeMS int64     `json:"query_time_ms,omitempty"`
}

// APIError is a machine-readable error body.
//
// Codes: VALIDATION_ERROR, CLASSIFICATION_ERROR, STORE_UNAVAILABLE,
// NOT_FOUND, GENERATION_ERROR, INTERNAL_ERROR.
type APIError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// SubmitResponse is returned by POST /api/v1/events.
type SubmitResponse struct {
	EventID        int64    `json:"event_id"`
	ThreatDetected bool     `json:"threat_detected"`
	Severity       Severity `json:"severity"`
	Status         Status   `json:"status"`
	Duplicate      bool     `json:"duplicate"`
}

// EventListResponse is returned by GET /api/v1/events.
type EventListResponse struct {
	Events []ThreatEvent `json:"events"`
	Total  int           `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

// ReportResponse is returned by POST /api/v1/reports.
type ReportResponse struct {
	Content  string `json:"content"`
	MimeType string `json:"mime_type"`
	Filename string `json:"filename"`
}
