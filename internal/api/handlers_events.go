// Threatwatch - Security Threat Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/threatwatch

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/threatwatch/internal/ingest"
	"github.com/tomtom215/threatwatch/internal/models"
)

// SubmitEvent classifies and stores one submission.
//
// POST /api/v1/events. Responds 201 for a new event and 200 when the
// idempotency key matched an earlier submission. The Idempotency-Key header
// is used when the body carries no key.
func (h *Handler) SubmitEvent(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var sub ingest.Submission
	if !decodeJSON(w, r, &sub) {
		return
	}
	if sub.IdempotencyKey == "" {
		sub.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}

	result, err := h.gateway.Submit(r.Context(), sub)
	if err != nil {
		respondErr(w, r, err)
		return
	}

	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	}
	respondData(w, status, start, models.SubmitResponse{
		EventID:        result.EventID,
		ThreatDetected: result.ThreatDetected,
		Severity:       result.Severity,
		Status:         result.Status,
		Duplicate:      result.Duplicate,
	})
}

// ListEvents returns stored events, newest first.
//
// GET /api/v1/events?owner=&channel=&severity=&status=&classification=&since=&until=&limit=&offset=
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	q, ok := parseEventsQuery(w, r)
	if !ok {
		return
	}
	filter := q.Filter()

	events, err := h.events.Query(r.Context(), filter)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	total, err := h.events.Count(r.Context(), filter.Predicate())
	if err != nil {
		respondErr(w, r, err)
		return
	}
	if events == nil {
		events = []models.ThreatEvent{}
	}

	respondData(w, http.StatusOK, start, models.EventListResponse{
		Events: events,
		Total:  total,
		Limit:  q.Limit,
		Offset: q.Offset,
	})
}

// GetEvent returns one event by ID.
//
// GET /api/v1/events/{id}
func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, r, http.StatusBadRequest, ErrCodeValidation, "id must be a positive integer", nil)
		return
	}

	ev, err := h.events.Get(r.Context(), id)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondData(w, http.StatusOK, start, ev)
}
