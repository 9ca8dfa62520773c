// Threatwatch - Security Threat Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/threatwatch

package models

import "time"

// EventFilter selects ThreatEvents for queries and subscriptions.
// Zero-valued fields do not constrain the result.
//
// Since is inclusive and Until is exclusive. Limit <= 0 means no limit.
type EventFilter struct {
	Channel        Channel        `json:"channel,omitempty"`
	Owner          string         `json:"owner,omitempty"`
	Severity       Severity       `json:"severity,omitempty"`
	Status         Status         `json:"status,omitempty"`
	Classification Classification `json:"classification,omitempty"`
	Since          *time.Time     `json:"since,omitempty"`
	Until          *time.Time     `json:"until,omitempty"`
	Limit          int            `json:"limit,omitempty"`
	Offset         int            `json:"offset,omitempty"`
}

// Matches evaluates the predicate part of the filter (everything except
// Limit and Offset) against ev.
func (f *EventFilter) Matches(ev *ThreatEvent) bool {
	if f.Channel != "" && ev.Channel != f.Channel {
		return false
	}
	if f.Owner != "" && ev.Owner != f.Owner {
		return false
	}
	if f.Severity != "" && ev.Severity != f.Severity {
		return false
	}
	if f.Status != "" && ev.Status != f.Status {
		return false
	}
	if f.Classification != "" && ev.Classification != f.Classification {
		return false
	}
	if f.Since != nil && ev.DetectedAt.Before(*f.Since) {
		return false
	}
	if f.Until != nil && !ev.DetectedAt.Before(*f.Until) {
		return false
	}
	return true
}

// Predicate returns a copy of the filter without pagination.
func (f EventFilter) Predicate() EventFilter {
	f.Limit = 0
	f.Offset = 0
	return f
}
