// Threatwatch - Security Threat Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/threatwatch

package store

import (
	"context"
	"fmt"
	"strings"
)

// migration is one schema step. Statements are separated by ";" and must be
// valid in both SQLite and DuckDB.
type migration struct {
	version int
	sql     string
}

var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS threat_events (
	id                 BIGINT PRIMARY KEY,
	channel            VARCHAR NOT NULL,
	source             VARCHAR NOT NULL,
	target             VARCHAR NOT NULL,
	content            VARCHAR NOT NULL,
	classification     VARCHAR NOT NULL,
	severity           VARCHAR NOT NULL,
	status             VARCHAR NOT NULL,
	matched_signatures VARCHAR NOT NULL,
	owner              VARCHAR NOT NULL,
	idempotency_key    VARCHAR,
	detected_at        BIGINT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_threat_events_idempotency_key ON threat_events (idempotency_key);
CREATE INDEX IF NOT EXISTS idx_threat_events_owner_detected ON threat_events (owner, detected_at);
CREATE INDEX IF NOT EXISTS idx_threat_events_detected ON threat_events (detected_at)`,
	},
}

const createSchemaVersion = `CREATE TABLE IF NOT EXISTS schema_version (
	version    INTEGER NOT NULL,
	applied_at BIGINT NOT NULL
)`

// splitStatements splits a migration into individual statements.
func splitStatements(sql string) []string {
	var out []string
	for _, stmt := range strings.Split(sql, ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

// runMigrations applies every migration newer than the recorded schema
// version, each in its own transaction.
func (s *SQLStore) runMigrations(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createSchemaVersion); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	var current int
	if err := s.db.GetContext(ctx, &current, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("beginning migration v%d: %w", m.version, err)
		}
		for _, stmt := range splitStatements(m.sql) {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("applying migration v%d: %w", m.version, err)
			}
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_version (version, applied_at) VALUES (?, ?)",
			m.version, s.opts.clock().UnixNano(),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("recording migration v%d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration v%d: %w", m.version, err)
		}
	}
	return nil
}
