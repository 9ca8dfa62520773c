// Threatwatch - Security Threat Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/threatwatch

package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/threatwatch/internal/models"
	"github.com/tomtom215/threatwatch/internal/validation"
)

const (
	defaultListLimit = 50
	maxBodyBytes     = 1 << 20
)

// EventsQuery holds the GET /events query parameters.
type EventsQuery struct {
	Owner          string     `json:"owner" validate:"max=256"`
	Channel        string     `json:"channel" validate:"omitempty,channel"`
	Severity       string     `json:"severity" validate:"omitempty,oneof=low medium high critical"`
	Status         string     `json:"status" validate:"omitempty,oneof=detected blocked quarantined reviewed"`
	Classification string     `json:"classification" validate:"omitempty,oneof=safe threat"`
	Limit          int        `json:"limit" validate:"gte=1,lte=1000"`
	Offset         int        `json:"offset" validate:"gte=0"`
	Since          *time.Time `json:"since"`
	Until          *time.Time `json:"until"`
}

// OwnerQuery holds the owner parameter of owner-scoped endpoints.
type OwnerQuery struct {
	Owner string `json:"owner" validate:"notblank,max=256"`
}

// TrendsQuery holds the GET /stats/trends query parameters.
type TrendsQuery struct {
	Owner string `json:"owner" validate:"notblank,max=256"`
	Days  int    `json:"days" validate:"gte=0,lte=366"`
}

// Filter converts the query to a store filter.
func (q EventsQuery) Filter() models.EventFilter {
	return models.EventFilter{
		Owner:          q.Owner,
		Channel:        models.Channel(q.Channel),
		Severity:       models.Severity(q.Severity),
		Status:         models.Status(q.Status),
		Classification: models.Classification(q.Classification),
		Since:          q.Since,
		Until:          q.Until,
		Limit:          q.Limit,
		Offset:         q.Offset,
	}
}

// getIntParam extracts an integer query parameter with a default value
func getIntParam(r *http.Request, key string, defaultValue int) int {
	value := r.URL.Query().Get(key)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return intValue
}

// parseTimeParam parses an optional RFC3339 query parameter.
func parseTimeParam(r *http.Request, key string) (*time.Time, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, fmt.Errorf("%s must be a valid date/time in RFC3339 format", key)
	}
	t = t.UTC()
	return &t, nil
}

// parseEventsQuery reads and validates the GET /events parameters. It writes
// the error response itself and returns false on failure.
func parseEventsQuery(w http.ResponseWriter, r *http.Request) (EventsQuery, bool) {
	q := r.URL.Query()
	req := EventsQuery{
		Owner:          q.Get("owner"),
		Channel:        q.Get("channel"),
		Severity:       q.Get("severity"),
		Status:         q.Get("status"),
		Classification: q.Get("classification"),
		Limit:          getIntParam(r, "limit", defaultListLimit),
		Offset:         getIntParam(r, "offset", 0),
	}

	var err error
	if req.Since, err = parseTimeParam(r, "since"); err != nil {
		respondError(w, r, http.StatusBadRequest, ErrCodeValidation, err.Error(), nil)
		return req, false
	}
	if req.Until, err = parseTimeParam(r, "until"); err != nil {
		respondError(w, r, http.StatusBadRequest, ErrCodeValidation, err.Error(), nil)
		return req, false
	}
	if req.Since != nil && req.Until != nil && !req.Since.Before(*req.Until) {
		respondError(w, r, http.StatusBadRequest, ErrCodeValidation, "since must be before until", nil)
		return req, false
	}

	if !validateRequest(w, r, &req) {
		return req, false
	}
	return req, true
}

// parseOwner reads and validates the owner query parameter.
func parseOwner(w http.ResponseWriter, r *http.Request) (string, bool) {
	req := OwnerQuery{Owner: r.URL.Query().Get("owner")}
	if !validateRequest(w, r, &req) {
		return "", false
	}
	return req.Owner, true
}

// validateRequest validates req and responds with VALIDATION_ERROR on failure.
func validateRequest(w http.ResponseWriter, r *http.Request, req interface{}) bool {
	if verr := validation.ValidateStruct(req); verr != nil {
		respondAPIError(w, r, http.StatusBadRequest, verr.ToAPIError())
		return false
	}
	return true
}

// decodeJSON decodes a size-limited JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, r, http.StatusBadRequest, ErrCodeValidation, "Invalid request body", map[string]interface{}{
			"cause": err.Error(),
		})
		return false
	}
	return true
}
