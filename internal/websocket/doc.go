// Threatwatch - Security Threat Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/threatwatch

/*
Package websocket pushes live dashboard traffic to browser sessions.

Every Client is bound to one owner when it connects. The Hub goroutine
(RunWithContext) registers and removes clients. Messages are delivered either
to all clients of an owner (BroadcastToOwner) or to one client (Send), written
directly into each target client's send buffer under the hub lock, so a client
observes messages in the order they were delivered and owners never share a
queue.

# Message Types

	snapshot      initial aggregate statistics for the owner
	delta         updated statistics, with the event that caused them
	event         a new threat event matching the connection's filter
	notification  a notification created for the owner
	ping / pong   application-level keepalive

Protocol-level ping frames are also sent every pingPeriod; a client that does
not answer within pongWait is disconnected.

# Slow Clients

The hub never blocks on a client. When a client's send buffer is full that
client alone is removed and its connection closed; the browser reconnects and
receives a fresh snapshot. A busy owner cannot disconnect another owner's
clients.

# Shutdown

When the context passed to RunWithContext is canceled every client is closed
and the method returns ctx.Err(), so a supervisor can restart the hub.
*/
package websocket
