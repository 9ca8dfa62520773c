// Threatwatch - Security Threat Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/threatwatch

package notify

import (
	"context"
	"sync"
	"time"

	"github.com/tomtom215/threatwatch/internal/models"
)

// MemoryStore keeps alerts and notifications in process memory.
type MemoryStore struct {
	mu            sync.RWMutex
	notifications map[string]models.Notification
	alerts        map[string]models.Alert
	byEvent       map[int64]eventRef
	closed        bool
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		notifications: make(map[string]models.Notification),
		alerts:        make(map[string]models.Alert),
		byEvent:       make(map[int64]eventRef),
	}
}

// SaveForEvent implements Store.
func (m *MemoryStore) SaveForEvent(_ context.Context, alert models.Alert, n models.Notification) (models.Alert, models.Notification, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return models.Alert{}, models.Notification{}, false, ErrClosed
	}

	if ref, ok := m.byEvent[alert.EventID]; ok {
		return m.alerts[ref.AlertID], cloneNotification(m.notifications[ref.NotificationID]), false, nil
	}
	m.alerts[alert.ID] = alert
	m.notifications[n.ID] = cloneNotification(n)
	m.byEvent[alert.EventID] = eventRef{Owner: alert.Owner, AlertID: alert.ID, NotificationID: n.ID}
	return alert, cloneNotification(n), true, nil
}

// ListNotifications implements Store.
func (m *MemoryStore) ListNotifications(_ context.Context, owner string, unreadOnly bool) ([]models.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	out := make([]models.Notification, 0)
	for _, n := range m.notifications {
		if n.Owner != owner || (unreadOnly && n.Read) {
			continue
		}
		out = append(out, cloneNotification(n))
	}
	sortNotifications(out)
	return out, nil
}

// MarkRead implements Store.
func (m *MemoryStore) MarkRead(_ context.Context, id string, at time.Time) (models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return models.Notification{}, ErrClosed
	}

	n, ok := m.notifications[id]
	if !ok {
		return models.Notification{}, ErrNotFound
	}
	if !n.Read {
		n.Read = true
		n.ReadAt = &at
		m.notifications[id] = n
	}
	return cloneNotification(n), nil
}

// MarkAllRead implements Store.
func (m *MemoryStore) MarkAllRead(_ context.Context, owner string, at time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}

	changed := 0
	for id, n := range m.notifications {
		if n.Owner != owner || n.Read {
			continue
		}
		readAt := at
		n.Read = true
		n.ReadAt = &readAt
		m.notifications[id] = n
		changed++
	}
	return changed, nil
}

// ListAlerts implements Store.
func (m *MemoryStore) ListAlerts(_ context.Context, owner string) ([]models.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	out := make([]models.Alert, 0)
	for _, a := range m.alerts {
		if a.Owner == owner {
			out = append(out, a)
		}
	}
	sortAlerts(out)
	return out, nil
}

// ResolveAlert implements Store.
func (m *MemoryStore) ResolveAlert(_ context.Context, id string) (models.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return models.Alert{}, ErrClosed
	}

	a, ok := m.alerts[id]
	if !ok {
		return models.Alert{}, ErrNotFound
	}
	a.Resolved = true
	m.alerts[id] = a
	return a, nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
