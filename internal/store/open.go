// Threatwatch - Security Threat Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/threatwatch

package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/tomtom215/threatwatch/internal/config"
	"github.com/tomtom215/threatwatch/internal/logging"
)

// Open builds the configured backend wrapped in a BreakerStore.
func Open(cfg config.StoreConfig, opts ...Option) (*BreakerStore, error) {
	opts = append([]Option{WithPollInterval(cfg.PollInterval)}, opts...)

	var (
		inner EventStore
		err   error
	)
	switch cfg.Driver {
	case "memory":
		inner = NewMemoryStore(opts...)
	case string(DialectSQLite):
		if err = ensureDir(cfg.Path); err != nil {
			return nil, err
		}
		inner, err = OpenSQLite(cfg.Path, opts...)
	case string(DialectDuckDB):
		if err = ensureDir(cfg.Path); err != nil {
			return nil, err
		}
		inner, err = OpenDuckDB(cfg.Path, opts...)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	logging.Info().
		Str("driver", cfg.Driver).
		Str("path", cfg.Path).
		Msg("Event store opened")

	return NewBreakerStore(inner, BreakerConfig{
		Name:             "event-store-" + cfg.Driver,
		FailureThreshold: cfg.BreakerThreshold,
		Timeout:          cfg.BreakerTimeout,
	}), nil
}

func ensureDir(path string) error {
	if path == "" || path == ":memory:" {
		return nil
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating store directory %s: %w", dir, err)
	}
	return nil
}
