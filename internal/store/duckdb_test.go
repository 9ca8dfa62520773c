// Threatwatch - Security Threat Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/threatwatch

//go:build integration

package store

import (
	"path/filepath"
	"testing"
)

func TestDuckDBStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T, opts ...Option) EventStore {
		s, err := OpenDuckDB(filepath.Join(t.TempDir(), "events.duckdb"), opts...)
		if err != nil {
			t.Fatalf("OpenDuckDB() error = %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}
