// Threatwatch - Security Threat Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/threatwatch

package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/tomtom215/threatwatch/internal/models"
)

const readinessTimeout = 2 * time.Second

// HealthLive handles liveness probe requests (Kubernetes-style)
// Returns 200 OK if the process is alive, regardless of dependencies
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, &models.APIResponse{
		Status: "success",
		Data: map[string]interface{}{
			"alive":  true,
			"uptime": time.Since(h.startTime).Seconds(),
		},
		Metadata: models.Metadata{
			Timestamp: time.Now().UTC(),
		},
	})
}

// HealthReady handles readiness probe requests (Kubernetes-style)
// Returns 503 when any readiness check fails.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	names := make([]string, 0, len(h.readiness))
	for name := range h.readiness {
		names = append(names, name)
	}
	sort.Strings(names)

	ready := true
	checks := make(map[string]string, len(names))
	for _, name := range names {
		if err := h.readiness[name](ctx); err != nil {
			ready = false
			checks[name] = err.Error()
			continue
		}
		checks[name] = "ok"
	}

	data := map[string]interface{}{
		"ready":  ready,
		"checks": checks,
		"uptime": time.Since(h.startTime).Seconds(),
	}
	if h.wsHub != nil {
		data["websocket_clients"] = h.wsHub.GetClientCount()
	}

	if !ready {
		respondJSON(w, http.StatusServiceUnavailable, &models.APIResponse{
			Status: "error",
			Data:   data,
			Metadata: models.Metadata{
				Timestamp: time.Now().UTC(),
			},
			Error: &models.APIError{
				Code:    ErrCodeServiceUnavailable,
				Message: "Service not ready",
			},
		})
		return
	}

	respondJSON(w, http.StatusOK, &models.APIResponse{
		Status: "success",
		Data:   data,
		Metadata: models.Metadata{
			Timestamp: time.Now().UTC(),
		},
	})
}
