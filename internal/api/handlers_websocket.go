// Threatwatch - Security Threat Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/threatwatch

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/threatwatch/internal/aggregator"
	"github.com/tomtom215/threatwatch/internal/logging"
	"github.com/tomtom215/threatwatch/internal/models"
	ws "github.com/tomtom215/threatwatch/internal/websocket"
)

// StreamQuery holds the GET /ws query parameters. Channel and Severity
// filter the "event" messages only; "delta" messages always carry the full
// snapshot.
type StreamQuery struct {
	Owner    string `json:"owner" validate:"notblank,max=256"`
	Channel  string `json:"channel" validate:"omitempty,channel"`
	Severity string `json:"severity" validate:"omitempty,oneof=low medium high critical"`
}

func (q StreamQuery) matches(ev *models.ThreatEvent) bool {
	if q.Channel != "" && string(ev.Channel) != q.Channel {
		return false
	}
	if q.Severity != "" && string(ev.Severity) != q.Severity {
		return false
	}
	return true
}

// getUpgrader returns a WebSocket upgrader with origin validation
func (h *Handler) getUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		CheckOrigin:      h.checkWebSocketOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
}

// checkWebSocketOrigin allows the configured CORS origins. Requests without
// an Origin header come from non-browser clients and are allowed.
func (h *Handler) checkWebSocketOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.corsOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	logging.Warn().Str("origin", sanitizeLogValue(origin)).Msg("WebSocket connection rejected: origin not allowed")
	return false
}

// WebSocket streams an owner's live dashboard.
//
// GET /api/v1/ws?owner=&channel=&severity=
//
// The first message is a "snapshot". Every stored event for the owner then
// produces a "delta" (and an "event" when it matches the filter), in event ID
// order. Notifications for the owner arrive as "notification" messages.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	if h.wsHub == nil || h.stats == nil {
		logging.Warn().Msg("WebSocket connection rejected: hub not initialized")
		respondError(w, r, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "WebSocket service unavailable", nil)
		return
	}

	q := StreamQuery{
		Owner:    r.URL.Query().Get("owner"),
		Channel:  r.URL.Query().Get("channel"),
		Severity: r.URL.Query().Get("severity"),
	}
	if !validateRequest(w, r, &q) {
		return
	}

	session, err := h.stats.Attach(r.Context(), q.Owner)
	if err != nil {
		respondErr(w, r, err)
		return
	}

	upgrader := h.getUpgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		session.Detach()
		logging.Error().Err(err).Msg("WebSocket upgrade error")
		return
	}

	client := ws.NewClient(h.wsHub, conn, q.Owner)
	if err := client.Register(r.Context()); err != nil {
		session.Detach()
		_ = conn.Close()
		return
	}
	client.Start()
	if !h.wsHub.Send(client, ws.MessageTypeSnapshot, session.Initial()) {
		session.Detach()
		client.Close()
		return
	}

	go h.pumpSession(client, session, q)
}

// pumpSession forwards session deltas to client until either side ends.
func (h *Handler) pumpSession(client *ws.Client, session *aggregator.Session, q StreamQuery) {
	defer session.Detach()

	for {
		select {
		case <-client.Done():
			return
		case delta, ok := <-session.C():
			if !ok {
				err := session.Err()
				if errors.Is(err, aggregator.ErrSlowConsumer) {
					logging.Warn().Str("owner", q.Owner).Uint64("client_id", client.ID()).Msg("Dashboard session dropped, client must reconnect")
				}
				client.Close()
				return
			}
			sent := h.wsHub.Send(client, ws.MessageTypeDelta, delta)
			if sent && delta.Event != nil && q.matches(delta.Event) {
				sent = h.wsHub.Send(client, ws.MessageTypeEvent, delta.Event)
			}
			if !sent {
				// The hub removed this client because its own buffer was full.
				logging.Warn().Str("owner", q.Owner).Uint64("client_id", client.ID()).Msg("Dashboard client too slow, session ended")
				return
			}
		}
	}
}
