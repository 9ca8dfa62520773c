// Threatwatch - Security Threat Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/threatwatch

package notify

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/tomtom215/threatwatch/internal/models"
)

var (
	// ErrNotFound is returned for unknown notification or alert IDs.
	ErrNotFound = errors.New("not found")

	// ErrClosed is returned by a closed store.
	ErrClosed = errors.New("notification store closed")
)

// Store persists alerts and notifications.
type Store interface {
	// SaveForEvent stores alert and n together unless a pair already exists
	// for alert.EventID, in which case the stored pair is returned with
	// created=false.
	SaveForEvent(ctx context.Context, alert models.Alert, n models.Notification) (models.Alert, models.Notification, bool, error)

	ListNotifications(ctx context.Context, owner string, unreadOnly bool) ([]models.Notification, error)

	// MarkRead sets Read and ReadAt once; later calls return the stored value.
	MarkRead(ctx context.Context, id string, at time.Time) (models.Notification, error)

	// MarkAllRead marks every unread notification of owner and returns how
	// many changed.
	MarkAllRead(ctx context.Context, owner string, at time.Time) (int, error)

	ListAlerts(ctx context.Context, owner string) ([]models.Alert, error)

	// ResolveAlert sets Resolved; resolving twice is not an error.
	ResolveAlert(ctx context.Context, id string) (models.Alert, error)

	Close() error
}

// eventRef links a threat event to its alert and notification.
type eventRef struct {
	Owner          string `json:"owner"`
	AlertID        string `json:"alert_id"`
	NotificationID string `json:"notification_id"`
}

func cloneNotification(n models.Notification) models.Notification {
	if n.ReadAt != nil {
		at := *n.ReadAt
		n.ReadAt = &at
	}
	return n
}

func sortNotifications(list []models.Notification) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		}
		return list[i].EventID > list[j].EventID
	})
}

func sortAlerts(list []models.Alert) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		}
		return list[i].EventID > list[j].EventID
	})
}
