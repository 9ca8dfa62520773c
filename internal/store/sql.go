// Threatwatch - Security Threat Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/threatwatch

/*
sql.go - SQL-backed EventStore

SQLStore runs the same schema on two database/sql drivers through sqlx:

  - sqlite: modernc.org/sqlite, pure Go, one connection, WAL journal
  - duckdb: github.com/duckdb/duckdb-go/v2 (cgo), columnar file database

Timestamps are stored as unix nanoseconds and matched signatures as a JSON
array so that no dialect-specific column type is needed.

Appends are serialized by a process-wide writer lock. The lock covers ID
assignment and the insert, which keeps IDs strictly increasing in commit
order. A unique index on idempotency_key backs up the in-lock key lookup
when another process writes to the same file.
*/

//nolint:staticcheck // File documentation, not package doc
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/tomtom215/threatwatch/internal/metrics"
	"github.com/tomtom215/threatwatch/internal/models"
)

// Dialect selects the SQL driver.
type Dialect string

const (
	DialectSQLite Dialect = "sqlite"
	DialectDuckDB Dialect = "duckdb"
)

// noLimit stands in for "all rows" when only an offset is given.
const noLimit = 2147483647

const eventColumns = `id, channel, source, target, content, classification, severity, status,
	matched_signatures, owner, idempotency_key, detected_at`

// eventRow is the storage shape of a ThreatEvent.
type eventRow struct {
	ID                int64          `db:"id"`
	Channel           string         `db:"channel"`
	Source            string         `db:"source"`
	Target            string         `db:"target"`
	Content           string         `db:"content"`
	Classification    string         `db:"classification"`
	Severity          string         `db:"severity"`
	Status            string         `db:"status"`
	MatchedSignatures string         `db:"matched_signatures"`
	Owner             string         `db:"owner"`
	IdempotencyKey    sql.NullString `db:"idempotency_key"`
	DetectedAt        int64          `db:"detected_at"`
}

func (r *eventRow) toEvent() (models.ThreatEvent, error) {
	ev := models.ThreatEvent{
		ID:             r.ID,
		Channel:        models.Channel(r.Channel),
		Source:         r.Source,
		Target:         r.Target,
		Content:        r.Content,
		Classification: models.Classification(r.Classification),
		Severity:       models.Severity(r.Severity),
		Status:         models.Status(r.Status),
		Owner:          r.Owner,
		IdempotencyKey: r.IdempotencyKey.String,
		DetectedAt:     time.Unix(0, r.DetectedAt).UTC(),
	}
	if r.MatchedSignatures != "" && r.MatchedSignatures != "null" {
		if err := json.Unmarshal([]byte(r.MatchedSignatures), &ev.MatchedSignatures); err != nil {
			return models.ThreatEvent{}, fmt.Errorf("decoding matched_signatures of event %d: %w", r.ID, err)
		}
	}
	return ev, nil
}

// SQLStore is an EventStore on a SQL database.
type SQLStore struct {
	db      *sqlx.DB
	dialect Dialect

	writeMu sync.Mutex
	lastID  int64

	closed atomic.Bool
	wake   *broadcaster
	opts   options
}

// OpenSQLite opens (or creates) a SQLite event store at path. Use ":memory:"
// for a throwaway database.
func OpenSQLite(path string, opts ...Option) (*SQLStore, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	// One connection: SQLite serializes writers anyway and an in-memory
	// database exists per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	return newSQLStore(db, DialectSQLite, opts)
}

// OpenDuckDB opens (or creates) a DuckDB event store at path. An empty path
// opens an in-memory database.
func OpenDuckDB(path string, opts ...Option) (*SQLStore, error) {
	// Extension autoloading reaches out to the network; the schema needs none.
	dsn := path + "?autoinstall_known_extensions=false&autoload_known_extensions=false"
	db, err := sqlx.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening duckdb: %w", err)
	}
	return newSQLStore(db, DialectDuckDB, opts)
}

func newSQLStore(db *sqlx.DB, dialect Dialect, opts []Option) (*SQLStore, error) {
	s := &SQLStore{
		db:      db,
		dialect: dialect,
		wake:    newBroadcaster(),
		opts:    buildOptions(opts),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if err := s.runMigrations(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	if err := s.loadLastID(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) loadLastID(ctx context.Context) error {
	var last int64
	if err := s.db.GetContext(ctx, &last, "SELECT COALESCE(MAX(id), 0) FROM threat_events"); err != nil {
		return fmt.Errorf("reading last event id: %w", err)
	}
	s.lastID = last
	return nil
}

// Dialect returns the backend dialect.
func (s *SQLStore) Dialect() Dialect {
	return s.dialect
}

func (s *SQLStore) observe(op string, start time.Time, err error) {
	metrics.RecordStoreOperation(string(s.dialect), op, time.Since(start), err)
}

// Append implements EventStore.
func (s *SQLStore) Append(ctx context.Context, ev *models.ThreatEvent, idempotencyKey string) (stored *models.ThreatEvent, created bool, err error) {
	if s.closed.Load() {
		return nil, false, ErrClosed
	}
	stored, key, err := prepareEvent(ev, idempotencyKey)
	if err != nil {
		return nil, false, err
	}

	start := time.Now()
	defer func() { s.observe("append", start, err) }()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if key != "" {
		prior, err := s.getByKey(ctx, key)
		if err == nil {
			return prior, false, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, false, err
		}
	}

	sigs, err := json.Marshal(stored.MatchedSignatures)
	if err != nil {
		return nil, false, fmt.Errorf("encoding matched signatures: %w", err)
	}

	stored.ID = s.lastID + 1
	stored.DetectedAt = s.opts.clock().UTC()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO threat_events (
			id, channel, source, target, content, classification, severity, status,
			matched_signatures, owner, idempotency_key, detected_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		stored.ID, string(stored.Channel), stored.Source, stored.Target, stored.Content,
		string(stored.Classification), string(stored.Severity), string(stored.Status),
		string(sigs), stored.Owner, nullString(key), stored.DetectedAt.UnixNano(),
	)
	if err != nil {
		// Another process may have written the same key or ID.
		if key != "" {
			if prior, lookupErr := s.getByKey(ctx, key); lookupErr == nil {
				return prior, false, nil
			}
		}
		if reloadErr := s.loadLastID(ctx); reloadErr != nil {
			return nil, false, fmt.Errorf("inserting event: %w (%v)", err, reloadErr)
		}
		return nil, false, fmt.Errorf("inserting event: %w", err)
	}

	s.lastID = stored.ID
	s.wake.broadcast()
	return stored.Clone(), true, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (s *SQLStore) getByKey(ctx context.Context, key string) (*models.ThreatEvent, error) {
	var row eventRow
	err := s.db.GetContext(ctx, &row, "SELECT "+eventColumns+" FROM threat_events WHERE idempotency_key = ?", key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("looking up idempotency key: %w", err)
	}
	ev, err := row.toEvent()
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

// Get implements EventStore.
func (s *SQLStore) Get(ctx context.Context, id int64) (ev *models.ThreatEvent, err error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	start := time.Now()
	defer func() {
		if errors.Is(err, ErrNotFound) {
			s.observe("get", start, nil)
			return
		}
		s.observe("get", start, err)
	}()

	var row eventRow
	err = s.db.GetContext(ctx, &row, "SELECT "+eventColumns+" FROM threat_events WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting event %d: %w", id, err)
	}
	out, err := row.toEvent()
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// buildWhere renders the predicate part of filter.
func buildWhere(filter models.EventFilter) (string, []interface{}) {
	var conditions []string
	var args []interface{}

	if filter.Channel != "" {
		conditions = append(conditions, "channel = ?")
		args = append(args, string(filter.Channel))
	}
	if filter.Owner != "" {
		conditions = append(conditions, "owner = ?")
		args = append(args, filter.Owner)
	}
	if filter.Severity != "" {
		conditions = append(conditions, "severity = ?")
		args = append(args, string(filter.Severity))
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Classification != "" {
		conditions = append(conditions, "classification = ?")
		args = append(args, string(filter.Classification))
	}
	if filter.Since != nil {
		conditions = append(conditions, "detected_at >= ?")
		args = append(args, filter.Since.UnixNano())
	}
	if filter.Until != nil {
		conditions = append(conditions, "detected_at < ?")
		args = append(args, filter.Until.UnixNano())
	}

	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func (s *SQLStore) selectEvents(ctx context.Context, query string, args []interface{}) ([]models.ThreatEvent, error) {
	var rows []eventRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	events := make([]models.ThreatEvent, 0, len(rows))
	for i := range rows {
		ev, err := rows[i].toEvent()
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

// Query implements EventStore.
func (s *SQLStore) Query(ctx context.Context, filter models.EventFilter) (events []models.ThreatEvent, err error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	start := time.Now()
	defer func() { s.observe("query", start, err) }()

	where, args := buildWhere(filter)
	query := "SELECT " + eventColumns + " FROM threat_events" + where + " ORDER BY detected_at DESC, id DESC"
	switch {
	case filter.Limit > 0:
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	case filter.Offset > 0:
		query += fmt.Sprintf(" LIMIT %d", noLimit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	events, err = s.selectEvents(ctx, query, args)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	return events, nil
}

// Count implements EventStore.
func (s *SQLStore) Count(ctx context.Context, filter models.EventFilter) (n int, err error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	start := time.Now()
	defer func() { s.observe("count", start, err) }()

	where, args := buildWhere(filter)
	if err = s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM threat_events"+where, args...); err != nil {
		return 0, fmt.Errorf("counting events: %w", err)
	}
	return n, nil
}

// After implements EventStore.
func (s *SQLStore) After(ctx context.Context, afterID int64, filter models.EventFilter, limit int) (events []models.ThreatEvent, err error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	start := time.Now()
	defer func() { s.observe("after", start, err) }()

	where, args := buildWhere(filter)
	if where == "" {
		where = " WHERE id > ?"
	} else {
		where += " AND id > ?"
	}
	args = append(args, afterID)

	query := "SELECT " + eventColumns + " FROM threat_events" + where + " ORDER BY id ASC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	events, err = s.selectEvents(ctx, query, args)
	if err != nil {
		return nil, fmt.Errorf("reading events after %d: %w", afterID, err)
	}
	return events, nil
}

// Subscribe implements EventStore. Appends through this store wake
// subscriptions at once; rows written by other processes are picked up on
// the poll interval.
func (s *SQLStore) Subscribe(ctx context.Context, filter models.EventFilter, afterID int64) (*Subscription, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	return newSubscription(ctx, s, s.wake, filter, afterID, s.opts), nil
}

// Close implements EventStore.
func (s *SQLStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.wake.broadcast()
	return s.db.Close()
}
