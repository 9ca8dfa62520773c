// Threatwatch - Security Threat Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/threatwatch

/*
Command server runs the Threatwatch security threat event pipeline.

Submissions arrive over HTTP, are classified against the signature set and
stored in the event store. New threat events are published on the event bus;
its consumer creates alerts and notifications and pushes them to connected
dashboards. The aggregator keeps rolling per-owner statistics for live
dashboards, and reports are rendered on demand from the store.

# Supervisor Tree

	threatwatch
	├── pipeline-layer
	│   ├── event-bus-router        threats.detected -> notify.Dispatcher
	│   ├── aggregator-reconciler   periodic snapshot drift repair
	│   └── notify-badger-gc        value log GC (badger driver only)
	├── messaging-layer
	│   └── websocket-hub
	└── api-layer
	    └── http-server

# Configuration

Koanf layers, highest priority first: environment variables, config file
(CONFIG_PATH or ./config.yaml), built-in defaults.

	HTTP_PORT=3857
	LOG_LEVEL=info                LOG_FORMAT=json
	STORE_DRIVER=sqlite           STORE_PATH=/data/threatwatch.db
	NOTIFY_DRIVER=badger          NOTIFY_PATH=/data/notifications
	BUS_DRIVER=gochannel          NATS_URL=nats://127.0.0.1:4222
	SIGNATURES_PATH=              WATCH_SIGNATURES=false
	WEBHOOK_URL=                  CORS_ORIGINS=*

# Build Tags

	go build ./cmd/server               in-process event bus only
	go build -tags nats ./cmd/server    NATS JetStream bus (BUS_DRIVER=nats)

# Signals

SIGINT and SIGTERM cancel the tree. The HTTP server drains for
HTTP_SHUTDOWN_TIMEOUT, websocket clients are closed, the bus router finishes
in-flight messages and the stores are closed last.
*/
package main
