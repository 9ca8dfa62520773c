// Threatwatch - Security Threat Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/threatwatch

package store

import (
	"context"
	"sort"
	"sync"

	"github.com/tomtom215/threatwatch/internal/models"
)

// MemoryStore is an in-process EventStore. The event log is kept in ID order.
type MemoryStore struct {
	mu     sync.RWMutex
	events []models.ThreatEvent
	byKey  map[string]int64
	lastID int64
	closed bool

	wake *broadcaster
	opts options
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{
		byKey: make(map[string]int64),
		wake:  newBroadcaster(),
		opts:  buildOptions(opts),
	}
}

// Append implements EventStore.
func (m *MemoryStore) Append(ctx context.Context, ev *models.ThreatEvent, idempotencyKey string) (*models.ThreatEvent, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	stored, key, err := prepareEvent(ev, idempotencyKey)
	if err != nil {
		return nil, false, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, false, ErrClosed
	}
	if key != "" {
		if id, ok := m.byKey[key]; ok {
			prior := m.events[m.indexOf(id)].Clone()
			m.mu.Unlock()
			return prior, false, nil
		}
	}

	m.lastID++
	stored.ID = m.lastID
	stored.DetectedAt = m.opts.clock().UTC()
	m.events = append(m.events, *stored)
	if key != "" {
		m.byKey[key] = stored.ID
	}
	m.mu.Unlock()

	m.wake.broadcast()
	return stored.Clone(), true, nil
}

// indexOf returns the log position of id, or -1. Callers hold mu.
func (m *MemoryStore) indexOf(id int64) int {
	i := sort.Search(len(m.events), func(i int) bool { return m.events[i].ID >= id })
	if i < len(m.events) && m.events[i].ID == id {
		return i
	}
	return -1
}

// Get implements EventStore.
func (m *MemoryStore) Get(ctx context.Context, id int64) (*models.ThreatEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	i := m.indexOf(id)
	if i < 0 {
		return nil, ErrNotFound
	}
	return m.events[i].Clone(), nil
}

// Query implements EventStore.
func (m *MemoryStore) Query(ctx context.Context, filter models.EventFilter) ([]models.ThreatEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return nil, ErrClosed
	}
	matched := make([]models.ThreatEvent, 0)
	for i := range m.events {
		if filter.Matches(&m.events[i]) {
			matched = append(matched, *m.events[i].Clone())
		}
	}
	m.mu.RUnlock()

	sortNewestFirst(matched)
	return paginate(matched, filter.Limit, filter.Offset), nil
}

// Count implements EventStore.
func (m *MemoryStore) Count(ctx context.Context, filter models.EventFilter) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, ErrClosed
	}
	n := 0
	for i := range m.events {
		if filter.Matches(&m.events[i]) {
			n++
		}
	}
	return n, nil
}

// After implements EventStore.
func (m *MemoryStore) After(ctx context.Context, afterID int64, filter models.EventFilter, limit int) ([]models.ThreatEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	start := sort.Search(len(m.events), func(i int) bool { return m.events[i].ID > afterID })
	var out []models.ThreatEvent
	for i := start; i < len(m.events); i++ {
		if !filter.Matches(&m.events[i]) {
			continue
		}
		out = append(out, *m.events[i].Clone())
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Subscribe implements EventStore.
func (m *MemoryStore) Subscribe(ctx context.Context, filter models.EventFilter, afterID int64) (*Subscription, error) {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	return newSubscription(ctx, m, m.wake, filter, afterID, m.opts), nil
}

// Close implements EventStore. Active subscriptions end with ErrClosed.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.wake.broadcast()
	return nil
}
