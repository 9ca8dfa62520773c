// Threatwatch - Security Threat Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/threatwatch

/*
Package services provides suture.Service wrappers for Threatwatch components.

Each wrapper translates a component lifecycle into suture's
Serve(ctx) error and names itself through fmt.Stringer:

	HTTPServerService   ListenAndServe/Shutdown (http.Server)
	RunnerService       RunWithContext (websocket.Hub)
	StartStopService    Start/Stop (aggregator.Reconciler)
	GCService           periodic RunGC (notify.BadgerStore)

Components that already implement Serve, such as eventbus.Router, are added
to the tree directly.
*/
package services
