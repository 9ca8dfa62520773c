// Threatwatch - Security Threat Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/threatwatch

package notify

import (
	"fmt"

	"github.com/tomtom215/threatwatch/internal/config"
)

// OpenStore builds the configured notification store.
func OpenStore(cfg config.NotifyConfig) (Store, error) {
	switch cfg.Driver {
	case "memory":
		return NewMemoryStore(), nil
	case "badger":
		return OpenBadgerStore(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown notification store driver %q", cfg.Driver)
	}
}

// NotifiersFromConfig returns the external notifiers enabled in cfg.
func NotifiersFromConfig(cfg config.NotifyConfig) []Notifier {
	var notifiers []Notifier
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, NewWebhookNotifier(WebhookConfig{
			URL:       cfg.WebhookURL,
			Headers:   cfg.WebhookHeaders,
			RateLimit: cfg.WebhookRateLimit,
			Timeout:   cfg.WebhookTimeout,
		}))
	}
	return notifiers
}
