// Threatwatch - Security Threat Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/threatwatch

//go:build !nats

package eventbus

import (
	"github.com/ThreeDotsLabs/watermill"

	"github.com/tomtom215/threatwatch/internal/config"
)

// NATSEnabled reports whether this build supports the NATS driver.
const NATSEnabled = false

func newNATSPubSub(config.BusConfig, watermill.LoggerAdapter) (*PubSub, error) {
	return nil, ErrNATSNotEnabled
}
