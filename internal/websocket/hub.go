// Threatwatch - Security Threat Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/threatwatch

package websocket

import (
	"context"
	"sort"
	"sync"

	"github.com/goccy/go-json"

	"github.com/tomtom215/threatwatch/internal/logging"
	"github.com/tomtom215/threatwatch/internal/metrics"
)

// ShutdownReason identifies why the hub is shutting down.
type ShutdownReason string

const (
	// ShutdownReasonContextCanceled is the normal graceful shutdown path.
	ShutdownReasonContextCanceled ShutdownReason = "context_canceled"

	// ShutdownReasonContextDeadline may indicate a hung operation during shutdown.
	ShutdownReasonContextDeadline ShutdownReason = "context_deadline"
)

// Message types for WebSocket communication
const (
	MessageTypeSnapshot     = "snapshot"
	MessageTypeDelta        = "delta"
	MessageTypeEvent        = "event"
	MessageTypeNotification = "notification"
	MessageTypePing         = "ping"
	MessageTypePong         = "pong"
)

// Message represents a WebSocket message
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Hub maintains the set of active clients and routes messages to them by owner.
// Messages go straight into each target client's send buffer, so one owner's
// backlog never delays or drops another owner's traffic.
type Hub struct {
	clients    map[*Client]bool
	owners     map[string]map[*Client]bool
	Register   chan *Client
	Unregister chan *Client
	mu         sync.RWMutex
}

// NewHub creates a new Hub
func NewHub() *Hub {
	return &Hub{
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		owners:     make(map[string]map[*Client]bool),
	}
}

// RunWithContext registers and removes clients until ctx is canceled, then
// closes every client and returns ctx.Err().
func (h *Hub) RunWithContext(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.logGracefulShutdown(ctx)
			return ctx.Err()
		case client := <-h.Register:
			h.add(client)
		case client := <-h.Unregister:
			h.remove(client)
		}
	}
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	set := h.owners[c.owner]
	if set == nil {
		set = make(map[*Client]bool)
		h.owners[c.owner] = set
	}
	set[c] = true
	total := len(h.clients)
	h.mu.Unlock()
	c.markRegistered()

	metrics.WSConnections.Inc()
	logging.Info().Str("owner", c.owner).Int("total_clients", total).Msg("websocket client connected")
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	removed := h.removeLocked(c)
	total := len(h.clients)
	h.mu.Unlock()

	if removed {
		logging.Info().Str("owner", c.owner).Int("total_clients", total).Msg("websocket client disconnected")
	}
}

// removeLocked drops c and closes its send buffer. Callers hold mu.
func (h *Hub) removeLocked(c *Client) bool {
	if _, ok := h.clients[c]; !ok {
		return false
	}
	delete(h.clients, c)
	if set := h.owners[c.owner]; set != nil {
		delete(set, c)
		if len(set) == 0 {
			delete(h.owners, c.owner)
		}
	}
	close(c.send)
	c.markClosed()
	metrics.WSConnections.Dec()
	return true
}

func (h *Hub) logGracefulShutdown(ctx context.Context) {
	clientCount := h.GetClientCount()
	h.closeAllClients()

	logging.Info().
		Str("component", "websocket-hub").
		Str("reason", string(getShutdownReason(ctx))).
		Int("clients_closed", clientCount).
		Msg("websocket hub stopped")
}

func getShutdownReason(ctx context.Context) ShutdownReason {
	if ctx.Err() == context.DeadlineExceeded {
		return ShutdownReasonContextDeadline
	}
	return ShutdownReasonContextCanceled
}

// sortedClients returns the clients in set ordered by ID. Callers hold mu.
func sortedClients(set map[*Client]bool) []*Client {
	clients := make([]*Client, 0, len(set))
	for client := range set {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})
	return clients
}

// deliverLocked hands msg to client without blocking. A client whose buffer
// is full is removed. Callers hold mu.
func (h *Hub) deliverLocked(client *Client, msg Message) bool {
	select {
	case client.send <- msg:
		return true
	default:
		logging.Warn().
			Str("owner", client.owner).
			Uint64("client_id", client.id).
			Str("message_type", msg.Type).
			Msg("websocket client too slow, disconnecting")
		h.removeLocked(client)
		return false
	}
}

// closeAllClients closes every client in ID order.
func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, client := range sortedClients(h.clients) {
		h.removeLocked(client)
	}
}

// BroadcastToOwner delivers a message to every client of owner, in client ID
// order. Only clients of owner can be removed as slow.
func (h *Hub) BroadcastToOwner(owner, messageType string, data interface{}) {
	msg := Message{Type: messageType, Data: data}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, client := range sortedClients(h.owners[owner]) {
		h.deliverLocked(client, msg)
	}
}

// Send delivers a message to one client. It reports false when the client is
// not registered or its buffer was full, in which case the client has been
// removed.
func (h *Hub) Send(c *Client, messageType string, data interface{}) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.clients[c] {
		return false
	}
	return h.deliverLocked(c, Message{Type: messageType, Data: data})
}

// GetClientCount returns the number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// OwnerClientCount returns the number of connected clients bound to owner.
func (h *Hub) OwnerClientCount(owner string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.owners[owner])
}

// MarshalMessage converts a message to JSON
func MarshalMessage(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}
