// Threatwatch - Security Threat Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/threatwatch

/*
Package supervisor runs the long-lived Threatwatch components under a
suture v4 supervisor tree.

Services are grouped in three layers so that a failure restarts only its own
layer:

	pipeline-layer   eventbus.Router, aggregator.Reconciler, badger GC
	messaging-layer  websocket.Hub
	api-layer        http.Server

Supervisor events (restarts, backoff, timeouts) are logged through
sutureslog into the zerolog-backed slog handler from internal/logging.

The services subpackage adapts components whose lifecycle is not already a
Serve(ctx) error method.
*/
package supervisor
