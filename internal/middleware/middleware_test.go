// Threatwatch - Security Threat Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/threatwatch

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tomtom215/threatwatch/internal/logging"
	"github.com/tomtom215/threatwatch/internal/metrics"
)

func TestRequestIDGeneratesAndPropagates(t *testing.T) {
	t.Parallel()

	var gotRequestID, gotCorrelationID string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRequestID = logging.RequestIDFromContext(r.Context())
		gotCorrelationID = logging.CorrelationIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if gotRequestID == "" || rec.Header().Get(RequestIDHeader) != gotRequestID {
		t.Errorf("request id not propagated: ctx=%q header=%q", gotRequestID, rec.Header().Get(RequestIDHeader))
	}
	if gotCorrelationID == "" || rec.Header().Get(CorrelationIDHeader) != gotCorrelationID {
		t.Errorf("correlation id not propagated")
	}
}

func TestRequestIDHonoursUpstreamHeaders(t *testing.T) {
	t.Parallel()

	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "upstream-req")
	req.Header.Set(CorrelationIDHeader, "upstream-corr")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Header().Get(RequestIDHeader) != "upstream-req" {
		t.Errorf("expected upstream request id, got %q", rec.Header().Get(RequestIDHeader))
	}
	if rec.Header().Get(CorrelationIDHeader) != "upstream-corr" {
		t.Errorf("expected upstream correlation id, got %q", rec.Header().Get(CorrelationIDHeader))
	}
}

func TestPrometheusMetricsUsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/api/v1/events/{id}", PrometheusMetrics(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	counter := metrics.APIRequestsTotal.WithLabelValues("GET", "/api/v1/events/{id}", "404")
	before := testutil.ToFloat64(counter)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/events/42", nil))

	if got := testutil.ToFloat64(counter); got != before+1 {
		t.Errorf("counter = %v, want %v", got, before+1)
	}
}
