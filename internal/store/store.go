// Threatwatch - Security Threat Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/threatwatch

// Package store persists ThreatEvents.
//
// Every backend assigns event IDs through a single writer, so IDs are unique
// and strictly increasing in commit order. That total order is what
// subscriptions use as their resume cursor: a subscriber that remembers the
// last ID it saw can reconnect with Subscribe(filter, lastID) and continue
// without gaps.
//
// Backends:
//   - MemoryStore: process-local, used by tests and the default dev setup
//   - SQLStore (sqlite): embedded modernc.org/sqlite file database
//   - SQLStore (duckdb): DuckDB file database for analytical workloads
//
// BreakerStore wraps any backend with a circuit breaker and reports backend
// failures as ErrStoreUnavailable.
package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/tomtom215/threatwatch/internal/models"
)

var (
	// ErrNotFound is returned by Get for an unknown event ID.
	ErrNotFound = errors.New("event not found")

	// ErrStoreUnavailable marks a backend failure. Callers may retry the
	// operation; Append retries must reuse the same idempotency key.
	ErrStoreUnavailable = errors.New("event store unavailable")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("event store closed")
)

// EventStore is the durable log of classified events.
type EventStore interface {
	// Append assigns ID and DetectedAt and stores ev. When idempotencyKey is
	// not empty and already known, the previously stored event is returned
	// with created=false and nothing is written.
	Append(ctx context.Context, ev *models.ThreatEvent, idempotencyKey string) (stored *models.ThreatEvent, created bool, err error)

	// Get returns one event by ID.
	Get(ctx context.Context, id int64) (*models.ThreatEvent, error)

	// Query returns matching events newest first (DetectedAt desc, ID desc).
	Query(ctx context.Context, filter models.EventFilter) ([]models.ThreatEvent, error)

	// Count returns the number of events matching the filter predicate.
	Count(ctx context.Context, filter models.EventFilter) (int, error)

	// After returns up to limit matching events with ID > afterID in ID order.
	After(ctx context.Context, afterID int64, filter models.EventFilter, limit int) ([]models.ThreatEvent, error)

	// Subscribe streams matching events with ID > afterID, in ID order.
	Subscribe(ctx context.Context, filter models.EventFilter, afterID int64) (*Subscription, error)

	Close() error
}

const (
	defaultPollInterval = 2 * time.Second
	defaultBatchSize    = 256
)

type options struct {
	clock        func() time.Time
	pollInterval time.Duration
	batchSize    int
}

func defaultOptions() options {
	return options{
		clock:        time.Now,
		pollInterval: defaultPollInterval,
		batchSize:    defaultBatchSize,
	}
}

func buildOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Option configures a store.
type Option func(*options)

// WithClock sets the clock used for DetectedAt.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithPollInterval sets how often subscriptions poll for events written by
// other processes. Local appends wake subscriptions immediately.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithBatchSize sets how many events a subscription reads per round trip.
func WithBatchSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

// prepareEvent validates ev and returns the copy that will be stored.
func prepareEvent(ev *models.ThreatEvent, idempotencyKey string) (*models.ThreatEvent, string, error) {
	if ev == nil {
		return nil, "", models.ErrInvalidEvent
	}
	if err := ev.Validate(); err != nil {
		return nil, "", err
	}
	if idempotencyKey == "" {
		idempotencyKey = ev.IdempotencyKey
	}
	out := ev.Clone()
	out.IdempotencyKey = idempotencyKey
	out.MatchedSignatures = normalizeSignatures(out.MatchedSignatures)
	return out, idempotencyKey, nil
}

// normalizeSignatures sorts and deduplicates matched signatures.
func normalizeSignatures(sigs []string) []string {
	if len(sigs) == 0 {
		return nil
	}
	out := append([]string(nil), sigs...)
	sort.Strings(out)
	n := 1
	for i := 1; i < len(out); i++ {
		if out[i] != out[n-1] {
			out[n] = out[i]
			n++
		}
	}
	return out[:n]
}

// sortNewestFirst orders events by DetectedAt desc, then ID desc.
func sortNewestFirst(events []models.ThreatEvent) {
	sort.Slice(events, func(i, j int) bool {
		a, b := events[i].DetectedAt, events[j].DetectedAt
		if !a.Equal(b) {
			return a.After(b)
		}
		return events[i].ID > events[j].ID
	})
}

// paginate applies offset and limit to an ordered result.
func paginate(events []models.ThreatEvent, limit, offset int) []models.ThreatEvent {
	if offset > 0 {
		if offset >= len(events) {
			return []models.ThreatEvent{}
		}
		events = events[offset:]
	}
	if limit > 0 && limit < len(events) {
		events = events[:limit]
	}
	return events
}

// broadcaster wakes every waiter at once by closing the current channel.
type broadcaster struct {
	mu sync.Mutex
	ch chan struct{}
}

func newBroadcaster() *broadcaster {
	return &broadcaster{ch: make(chan struct{})}
}

// wait returns a channel that is closed on the next broadcast.
func (b *broadcaster) wait() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ch
}

func (b *broadcaster) broadcast() {
	b.mu.Lock()
	close(b.ch)
	b.ch = make(chan struct{})
	b.mu.Unlock()
}
