// Threatwatch - Security Threat Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/threatwatch

package models

import (
	"fmt"
	"strings"
	"time"
)

// NotificationTitle is the title of every threat notification.
const NotificationTitle = "Security Threat Detected"

// Alert is the per-event security alert shown on the owner's dashboard.
// Exactly one alert exists per threat event.
type Alert struct {
	ID        string    `json:"id"`
	EventID   int64     `json:"event_id"`
	Owner     string    `json:"owner"`
	Channel   Channel   `json:"channel"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	Resolved  bool      `json:"resolved"`
	CreatedAt time.Time `json:"created_at"`
}

// Notification is the per-owner message announcing a threat event.
// Read only ever moves from false to true.
type Notification struct {
	ID        string     `json:"id"`
	EventID   int64      `json:"event_id"`
	Owner     string     `json:"owner"`
	Title     string     `json:"title"`
	Message   string     `json:"message"`
	Read      bool       `json:"read"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// AlertMessage renders the alert text for ev, e.g. "EMAIL threat detected from x@y".
func AlertMessage(ev *ThreatEvent) string {
	return fmt.Sprintf("%s threat detected from %s", strings.ToUpper(string(ev.Channel)), ev.Source)
}

// NotificationMessage renders the notification body for ev.
func NotificationMessage(ev *ThreatEvent) string {
	switch ev.Status {
	case StatusQuarantined:
		return fmt.Sprintf("A potential %s threat has been detected and quarantined.", ev.Channel)
	case StatusBlocked:
		return fmt.Sprintf("A potential %s threat has been detected and blocked.", ev.Channel)
	default:
		return fmt.Sprintf("A potential %s threat has been detected.", ev.Channel)
	}
}
