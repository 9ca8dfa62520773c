// Threatwatch - Security Threat Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/threatwatch

package config

import (
	"fmt"
	"strings"
)

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateNotify(); err != nil {
		return err
	}
	if err := c.validateBus(); err != nil {
		return err
	}
	if err := c.validateAggregator(); err != nil {
		return err
	}
	if err := c.validateSecurity(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	return nil
}

func (c *Config) validateStore() error {
	switch c.Store.Driver {
	case "memory":
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("STORE_PATH is required when STORE_DRIVER=sqlite")
		}
	case "duckdb":
	default:
		return fmt.Errorf("STORE_DRIVER must be one of memory, sqlite, duckdb, got %q", c.Store.Driver)
	}
	if c.Store.PollInterval <= 0 {
		return fmt.Errorf("STORE_POLL_INTERVAL must be positive")
	}
	if c.Store.BreakerThreshold == 0 {
		return fmt.Errorf("STORE_BREAKER_THRESHOLD must be at least 1")
	}
	return nil
}

func (c *Config) validateNotify() error {
	switch c.Notify.Driver {
	case "memory":
	case "badger":
		if c.Notify.Path == "" {
			return fmt.Errorf("NOTIFY_PATH is required when NOTIFY_DRIVER=badger")
		}
	default:
		return fmt.Errorf("NOTIFY_DRIVER must be memory or badger, got %q", c.Notify.Driver)
	}
	if c.Notify.WebhookURL != "" &&
		!strings.HasPrefix(c.Notify.WebhookURL, "http://") &&
		!strings.HasPrefix(c.Notify.WebhookURL, "https://") {
		return fmt.Errorf("WEBHOOK_URL must start with http:// or https://")
	}
	return nil
}

func (c *Config) validateBus() error {
	switch c.Bus.Driver {
	case "gochannel":
	case "nats":
		if c.Bus.NATSURL == "" && !c.Bus.Embedded {
			return fmt.Errorf("NATS_URL is required when BUS_DRIVER=nats")
		}
	default:
		return fmt.Errorf("BUS_DRIVER must be gochannel or nats, got %q", c.Bus.Driver)
	}
	if c.Bus.MaxRetries < 0 {
		return fmt.Errorf("BUS_MAX_RETRIES must not be negative")
	}
	if c.Bus.SubscribersCount < 1 {
		return fmt.Errorf("BUS_SUBSCRIBERS_COUNT must be at least 1")
	}
	return nil
}

func (c *Config) validateAggregator() error {
	if c.Aggregator.Window <= 0 {
		return fmt.Errorf("AGGREGATOR_WINDOW must be positive")
	}
	if c.Aggregator.ReconcileInterval <= 0 {
		return fmt.Errorf("RECONCILE_INTERVAL must be positive")
	}
	if c.Aggregator.SessionBuffer < 1 {
		return fmt.Errorf("SESSION_BUFFER must be at least 1")
	}
	return nil
}

func (c *Config) validateSecurity() error {
	if c.Security.RateLimitDisabled {
		return nil
	}
	if c.Security.RateLimitRequests < 1 || c.Security.IngestRateLimit < 1 {
		return fmt.Errorf("rate limits must be at least 1 request per window")
	}
	if c.Security.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic", "disabled":
	default:
		return fmt.Errorf("LOG_LEVEL %q is not a recognized level", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.Logging.Format)
	}
	return nil
}
