// Threatwatch - Security Threat Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/threatwatch

package api

import (
	"net/http"
	"time"

	"github.com/tomtom215/threatwatch/internal/models"
	"github.com/tomtom215/threatwatch/internal/report"
)

// Stats returns an owner's rolling statistics.
//
// GET /api/v1/stats?owner=
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	owner, ok := parseOwner(w, r)
	if !ok {
		return
	}
	snap, err := h.stats.Snapshot(r.Context(), owner)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondData(w, http.StatusOK, start, snap)
}

// Trends returns per-day dashboard trends.
//
// GET /api/v1/stats/trends?owner=&days=7
func (h *Handler) Trends(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	req := TrendsQuery{
		Owner: r.URL.Query().Get("owner"),
		Days:  getIntParam(r, "days", 0),
	}
	if !validateRequest(w, r, &req) {
		return
	}
	trends, err := h.stats.Dashboard(r.Context(), req.Owner, req.Days)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondData(w, http.StatusOK, start, trends)
}

// GenerateReport renders a report.
//
// POST /api/v1/reports with a report.Request body. Unknown kinds, periods,
// formats and malformed custom ranges are VALIDATION_ERROR; any other failure
// is GENERATION_ERROR and returns no content.
func (h *Handler) GenerateReport(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req report.Request
	if !decodeJSON(w, r, &req) {
		return
	}
	if !validateRequest(w, r, &req) {
		return
	}

	rep, err := h.reports.Generate(r.Context(), req)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondData(w, http.StatusOK, start, models.ReportResponse{
		Content:  string(rep.Content),
		MimeType: rep.MimeType,
		Filename: rep.Filename,
	})
}
