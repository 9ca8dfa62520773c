// Threatwatch - Security Threat Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/threatwatch

package websocket

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/threatwatch/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
	sendBufferSize = 256
)

// clientIDCounter orders clients for deterministic fan-out.
var clientIDCounter atomic.Uint64

// Client is a middleman between one websocket connection and the hub.
type Client struct {
	id    uint64
	owner string
	hub   *Hub
	conn  *websocket.Conn
	send  chan Message

	registered   chan struct{}
	registerOnce sync.Once
	closed       chan struct{}
	closeOnce    sync.Once
}

// NewClient creates a client bound to owner.
func NewClient(hub *Hub, conn *websocket.Conn, owner string) *Client {
	return &Client{
		id:     clientIDCounter.Add(1),
		owner:  owner,
		hub:    hub,
		conn:   conn,
		send:       make(chan Message, sendBufferSize),
		registered: make(chan struct{}),
		closed:     make(chan struct{}),
	}
}

// ID returns the client's unique identifier
func (c *Client) ID() uint64 {
	return c.id
}

// Owner returns the owner the client is bound to.
func (c *Client) Owner() string {
	return c.owner
}

// Done is closed once the hub has removed the client.
func (c *Client) Done() <-chan struct{} {
	return c.closed
}

func (c *Client) markRegistered() {
	c.registerOnce.Do(func() { close(c.registered) })
}

func (c *Client) markClosed() {
	c.closeOnce.Do(func() { close(c.closed) })
}

// Register hands the client to the hub and returns once the hub has added
// it, so Send succeeds immediately afterwards. It fails when ctx ends before
// the hub accepts the client.
func (c *Client) Register(ctx context.Context) error {
	select {
	case c.hub.Register <- c:
	case <-ctx.Done():
		return ctx.Err()
	}
	<-c.registered
	return nil
}

// Close asks the hub to remove the client. Safe to call more than once.
func (c *Client) Close() {
	select {
	case c.hub.Unregister <- c:
	case <-c.closed:
	}
}

// readPump handles keepalives until the connection fails.
func (c *Client) readPump() {
	defer func() {
		c.Close()
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logging.Error().Err(err).Msg("failed to set read deadline")
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Error().Err(err).Msg("unexpected websocket close error")
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			logging.Debug().Err(err).Uint64("client_id", c.id).Msg("ignoring malformed websocket message")
			continue
		}
		if msg.Type == MessageTypePing {
			c.hub.Send(c, MessageTypePong, nil)
		}
	}
}

// writePump writes queued messages and protocol pings to the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logging.Error().Err(err).Msg("failed to set write deadline")
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			payload, err := MarshalMessage(message)
			if err != nil {
				logging.Error().Err(err).Str("message_type", message.Type).Msg("failed to encode websocket message")
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				logging.Debug().Err(err).Msg("failed to write websocket message")
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Start begins reading and writing for the client
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}
