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

	"github.com/tomtom215/threatwatch/internal/models"
)

// ListNotifications returns an owner's notifications, newest first.
//
// GET /api/v1/notifications?owner=&unread=true
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	owner, ok := parseOwner(w, r)
	if !ok {
		return
	}
	unreadOnly, _ := strconv.ParseBool(r.URL.Query().Get("unread"))

	list, err := h.notifications.List(r.Context(), owner, unreadOnly)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	if list == nil {
		list = []models.Notification{}
	}
	respondData(w, http.StatusOK, start, list)
}

// UnreadCount returns the number of unread notifications.
//
// GET /api/v1/notifications/unread-count?owner=
func (h *Handler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	owner, ok := parseOwner(w, r)
	if !ok {
		return
	}
	count, err := h.notifications.UnreadCount(r.Context(), owner)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondData(w, http.StatusOK, start, map[string]interface{}{"owner": owner, "unread": count})
}

// MarkNotificationRead marks one notification read. Marking an already read
// notification succeeds and keeps its original read time.
//
// POST /api/v1/notifications/{id}/read
func (h *Handler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	n, err := h.notifications.MarkAsRead(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondData(w, http.StatusOK, start, n)
}

// MarkAllNotificationsRead marks every unread notification of an owner read.
//
// POST /api/v1/notifications/read-all?owner=
func (h *Handler) MarkAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	owner, ok := parseOwner(w, r)
	if !ok {
		return
	}
	marked, err := h.notifications.MarkAllAsRead(r.Context(), owner)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondData(w, http.StatusOK, start, map[string]interface{}{"owner": owner, "marked": marked})
}

// ListAlerts returns an owner's alerts, newest first.
//
// GET /api/v1/alerts?owner=
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	owner, ok := parseOwner(w, r)
	if !ok {
		return
	}
	alerts, err := h.notifications.Alerts(r.Context(), owner)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	if alerts == nil {
		alerts = []models.Alert{}
	}
	respondData(w, http.StatusOK, start, alerts)
}

// ResolveAlert marks an alert resolved.
//
// POST /api/v1/alerts/{id}/resolve
func (h *Handler) ResolveAlert(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	alert, err := h.notifications.ResolveAlert(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondData(w, http.StatusOK, start, alert)
}
