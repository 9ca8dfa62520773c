// Threatwatch - Security Threat Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/threatwatch

// Package notify turns stored threat events into per-owner alerts and
// notifications.
//
// Dispatch is idempotent per event ID: redelivering an event returns the
// pair created the first time. External notifiers (webhooks) run after the
// pair is stored and their failures never surface to the caller.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/threatwatch/internal/logging"
	"github.com/tomtom215/threatwatch/internal/metrics"
	"github.com/tomtom215/threatwatch/internal/models"
)

// ErrDispatch wraps failures to create the alert and notification.
var ErrDispatch = errors.New("notification dispatch failed")

// MessageTypeNotification is the websocket message type for new notifications.
const MessageTypeNotification = "notification"

const notifierTimeout = 30 * time.Second

// Broadcaster pushes a message to every live session of an owner.
type Broadcaster interface {
	BroadcastToOwner(owner, messageType string, data interface{})
}

// Dispatcher creates alerts and notifications for threat events.
type Dispatcher struct {
	store       Store
	notifiers   []Notifier
	broadcaster Broadcaster
	clock       func() time.Time
	newID       func() string

	wg sync.WaitGroup
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithNotifiers adds external notifiers.
func WithNotifiers(n ...Notifier) Option {
	return func(d *Dispatcher) { d.notifiers = append(d.notifiers, n...) }
}

// WithBroadcaster pushes new notifications to live sessions.
func WithBroadcaster(b Broadcaster) Option {
	return func(d *Dispatcher) { d.broadcaster = b }
}

// WithClock sets the clock for CreatedAt and ReadAt.
func WithClock(clock func() time.Time) Option {
	return func(d *Dispatcher) { d.clock = clock }
}

// NewDispatcher creates a dispatcher over store.
func NewDispatcher(store Store, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store: store,
		clock: time.Now,
		newID: func() string { return uuid.Must(uuid.NewV7()).String() },
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SetBroadcaster installs the broadcaster after construction. It must be
// called before the first Dispatch.
func (d *Dispatcher) SetBroadcaster(b Broadcaster) {
	d.broadcaster = b
}

// Dispatch creates the alert and notification for ev. Safe events are
// ignored. Calling Dispatch again for the same event creates nothing.
func (d *Dispatcher) Dispatch(ctx context.Context, ev *models.ThreatEvent) error {
	if ev == nil || !ev.IsThreat() {
		return nil
	}

	now := d.clock().UTC()
	alert := models.Alert{
		ID:        d.newID(),
		EventID:   ev.ID,
		Owner:     ev.Owner,
		Channel:   ev.Channel,
		Severity:  ev.Severity,
		Message:   models.AlertMessage(ev),
		CreatedAt: now,
	}
	notification := models.Notification{
		ID:        d.newID(),
		EventID:   ev.ID,
		Owner:     ev.Owner,
		Title:     models.NotificationTitle,
		Message:   models.NotificationMessage(ev),
		CreatedAt: now,
	}

	alert, notification, created, err := d.store.SaveForEvent(ctx, alert, notification)
	if err != nil {
		metrics.NotificationDispatchFailures.WithLabelValues("store").Inc()
		return fmt.Errorf("%w: event %d: %w", ErrDispatch, ev.ID, err)
	}
	if !created {
		logging.Ctx(ctx).Debug().Int64("event_id", ev.ID).Msg("Notification already exists for event")
		return nil
	}

	metrics.NotificationsCreated.Inc()
	if d.broadcaster != nil {
		d.broadcaster.BroadcastToOwner(ev.Owner, MessageTypeNotification, notification)
	}
	d.fanOut(ctx, alert)
	return nil
}

// fanOut sends alert to every enabled notifier in the background.
func (d *Dispatcher) fanOut(ctx context.Context, alert models.Alert) {
	for _, n := range d.notifiers {
		if !n.Enabled() {
			continue
		}
		d.wg.Add(1)
		go func(n Notifier) {
			defer d.wg.Done()
			sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifierTimeout)
			defer cancel()

			if err := n.Send(sendCtx, &alert); err != nil {
				metrics.NotificationDispatchFailures.WithLabelValues(n.Name()).Inc()
				logging.Ctx(ctx).Warn().
					Err(err).
					Str("notifier", n.Name()).
					Int64("event_id", alert.EventID).
					Msg("NotificationDispatchFailure: external notifier failed")
			}
		}(n)
	}
}

// Wait blocks until background notifier sends finish.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// List returns the owner's notifications, newest first.
func (d *Dispatcher) List(ctx context.Context, owner string, unreadOnly bool) ([]models.Notification, error) {
	return d.store.ListNotifications(ctx, owner, unreadOnly)
}

// UnreadCount returns the number of unread notifications of owner.
func (d *Dispatcher) UnreadCount(ctx context.Context, owner string) (int, error) {
	unread, err := d.store.ListNotifications(ctx, owner, true)
	if err != nil {
		return 0, err
	}
	return len(unread), nil
}

// MarkAsRead marks one notification read. Repeated calls keep the first ReadAt.
func (d *Dispatcher) MarkAsRead(ctx context.Context, id string) (models.Notification, error) {
	return d.store.MarkRead(ctx, id, d.clock().UTC())
}

// MarkAllAsRead marks every notification of owner read and returns how many
// changed.
func (d *Dispatcher) MarkAllAsRead(ctx context.Context, owner string) (int, error) {
	return d.store.MarkAllRead(ctx, owner, d.clock().UTC())
}

// Alerts returns the owner's alerts, newest first.
func (d *Dispatcher) Alerts(ctx context.Context, owner string) ([]models.Alert, error) {
	return d.store.ListAlerts(ctx, owner)
}

// ResolveAlert marks an alert resolved.
func (d *Dispatcher) ResolveAlert(ctx context.Context, id string) (models.Alert, error) {
	return d.store.ResolveAlert(ctx, id)
}
