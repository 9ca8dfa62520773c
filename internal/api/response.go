// Threatwatch - Security Threat Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/threatwatch

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/threatwatch/internal/aggregator"
	"github.com/tomtom215/threatwatch/internal/ingest"
	"github.com/tomtom215/threatwatch/internal/logging"
	"github.com/tomtom215/threatwatch/internal/models"
	"github.com/tomtom215/threatwatch/internal/notify"
	"github.com/tomtom215/threatwatch/internal/report"
	"github.com/tomtom215/threatwatch/internal/store"
)

// Error codes for API responses
const (
	ErrCodeValidation         = "VALIDATION_ERROR"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	ErrCodeTooManyRequests    = "TOO_MANY_REQUESTS"
	ErrCodeClassification     = "CLASSIFICATION_ERROR"
	ErrCodeStoreUnavailable   = "STORE_UNAVAILABLE"
	ErrCodeGeneration         = "GENERATION_ERROR"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

// retryAfterSeconds is sent with STORE_UNAVAILABLE.
const retryAfterSeconds = 5

// sanitizeLogValue replaces control characters to prevent log injection.
func sanitizeLogValue(s string) string {
	var result strings.Builder
	result.Grow(len(s))
	for _, r := range s {
		if r < 0x20 || r == 0x7F {
			result.WriteString(fmt.Sprintf("\\x%02x", r))
		} else {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// respondJSON sends a JSON response with proper headers
func respondJSON(w http.ResponseWriter, status int, response *models.APIResponse) {
	data, err := json.Marshal(response)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Error().Err(err).Msg("Failed to write JSON response")
	}
}

func respondData(w http.ResponseWriter, status int, start time.Time, data interface{}) {
	respondJSON(w, status, &models.APIResponse{
		Status: "success",
		Data:   data,
		Metadata: models.Metadata{
			Timestamp:   time.Now().UTC(),
			QueryTimeMS: time.Since(start).Milliseconds(),
		},
	})
}

// respondError sends an error envelope.
func respondError(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]interface{}) {
	respondJSON(w, status, &models.APIResponse{
		Status: "error",
		Metadata: models.Metadata{
			Timestamp: time.Now().UTC(),
		},
		Error: &models.APIError{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

// respondAPIError sends a prebuilt error body.
func respondAPIError(w http.ResponseWriter, r *http.Request, status int, apiErr *models.APIError) {
	respondError(w, r, status, apiErr.Code, apiErr.Message, apiErr.Details)
}

// respondErr maps pipeline errors to status codes and error codes.
func respondErr(w http.ResponseWriter, r *http.Request, err error) {
	logger := logging.Ctx(r.Context())

	var (
		verr *ingest.ValidationError
		gerr *report.GenerationError
	)
	switch {
	case errors.As(err, &verr):
		respondAPIError(w, r, http.StatusBadRequest, verr.APIError())

	case errors.Is(err, report.ErrInvalidRequest):
		respondError(w, r, http.StatusBadRequest, ErrCodeValidation, unwrapMessage(err), nil)

	case errors.As(err, &gerr):
		logger.Error().Err(err).Msg("Report generation failed")
		respondError(w, r, http.StatusInternalServerError, ErrCodeGeneration, "Report generation failed",
			map[string]interface{}{"report_type": gerr.Kind, "time_period": gerr.Period, "cause": gerr.Err.Error()})

	case errors.Is(err, ingest.ErrClassification):
		logger.Warn().Err(err).Msg("Classification unavailable")
		respondError(w, r, http.StatusServiceUnavailable, ErrCodeClassification,
			"Classification failed; retry with the same idempotency key", nil)

	case errors.Is(err, store.ErrStoreUnavailable), errors.Is(err, store.ErrClosed):
		logger.Warn().Err(err).Msg("Event store unavailable")
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
		respondError(w, r, http.StatusServiceUnavailable, ErrCodeStoreUnavailable,
			"Event store unavailable; retry with the same idempotency key", nil)

	case errors.Is(err, store.ErrNotFound), errors.Is(err, notify.ErrNotFound):
		respondError(w, r, http.StatusNotFound, ErrCodeNotFound, err.Error(), nil)

	case errors.Is(err, aggregator.ErrOwnerRequired):
		respondError(w, r, http.StatusBadRequest, ErrCodeValidation, "owner is required", nil)

	case errors.Is(err, aggregator.ErrClosed), errors.Is(err, notify.ErrClosed):
		respondError(w, r, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "Service shutting down", nil)

	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		respondError(w, r, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "Request canceled or timed out", nil)

	default:
		logger.Error().Str("error", sanitizeLogValue(err.Error())).Msg("API error")
		respondError(w, r, http.StatusInternalServerError, ErrCodeInternal, "Internal server error", nil)
	}
}

// unwrapMessage strips the "invalid report request: " prefix for clients.
func unwrapMessage(err error) string {
	msg := err.Error()
	if i := strings.LastIndex(msg, report.ErrInvalidRequest.Error()+": "); i >= 0 {
		return msg[i+len(report.ErrInvalidRequest.Error())+2:]
	}
	return msg
}
