// Threatwatch - Security Threat Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/threatwatch

package api

import (
	"context"
	"time"

	"github.com/tomtom215/threatwatch/internal/aggregator"
	"github.com/tomtom215/threatwatch/internal/ingest"
	"github.com/tomtom215/threatwatch/internal/models"
	"github.com/tomtom215/threatwatch/internal/report"
	ws "github.com/tomtom215/threatwatch/internal/websocket"
)

// Submitter accepts submissions (ingest.Gateway).
type Submitter interface {
	Submit(ctx context.Context, sub ingest.Submission) (*ingest.Result, error)
}

// EventReader is the read side of the event store.
type EventReader interface {
	Get(ctx context.Context, id int64) (*models.ThreatEvent, error)
	Query(ctx context.Context, filter models.EventFilter) ([]models.ThreatEvent, error)
	Count(ctx context.Context, filter models.EventFilter) (int, error)
}

// NotificationService manages notifications and alerts (notify.Dispatcher).
type NotificationService interface {
	List(ctx context.Context, owner string, unreadOnly bool) ([]models.Notification, error)
	UnreadCount(ctx context.Context, owner string) (int, error)
	MarkAsRead(ctx context.Context, id string) (models.Notification, error)
	MarkAllAsRead(ctx context.Context, owner string) (int, error)
	Alerts(ctx context.Context, owner string) ([]models.Alert, error)
	ResolveAlert(ctx context.Context, id string) (models.Alert, error)
}

// StatsService serves live statistics (aggregator.Aggregator).
type StatsService interface {
	Attach(ctx context.Context, owner string) (*aggregator.Session, error)
	Snapshot(ctx context.Context, owner string) (aggregator.StatsSnapshot, error)
	Dashboard(ctx context.Context, owner string, days int) (*aggregator.Trends, error)
}

// ReportGenerator renders reports (report.Generator).
type ReportGenerator interface {
	Generate(ctx context.Context, req report.Request) (*report.Report, error)
}

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

// Deps are the collaborators served by the API.
type Deps struct {
	Gateway       Submitter
	Events        EventReader
	Notifications NotificationService
	Stats         StatsService
	Reports       ReportGenerator
	Hub           *ws.Hub
	// CORSOrigins restricts websocket upgrades; "*" allows any origin.
	CORSOrigins []string
	// Readiness checks run by /health/ready, keyed by component name.
	Readiness map[string]ReadinessCheck
}

// Handler holds the HTTP handlers.
type Handler struct {
	gateway       Submitter
	events        EventReader
	notifications NotificationService
	stats         StatsService
	reports       ReportGenerator
	wsHub         *ws.Hub
	corsOrigins   []string
	readiness     map[string]ReadinessCheck
	startTime     time.Time
}

// NewHandler creates a handler over deps.
func NewHandler(deps Deps) *Handler {
	return &Handler{
		gateway:       deps.Gateway,
		events:        deps.Events,
		notifications: deps.Notifications,
		stats:         deps.Stats,
		reports:       deps.Reports,
		wsHub:         deps.Hub,
		corsOrigins:   deps.CORSOrigins,
		readiness:     deps.Readiness,
		startTime:     time.Now(),
	}
}
