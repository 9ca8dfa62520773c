// Threatwatch - Security Threat Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/threatwatch

package models

import (
	"errors"
	"fmt"
	"time"
)

// Channel is the medium a submission arrived through.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelLogin Channel = "login"
)

// Channels lists every recognized channel in display order.
var Channels = []Channel{ChannelEmail, ChannelSMS, ChannelLogin}

// Valid reports whether c is a recognized channel.
func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelLogin:
		return true
	}
	return false
}

// Classification is the verdict recorded for an event.
type Classification string

const (
	ClassificationSafe   Classification = "safe"
	ClassificationThreat Classification = "threat"
)

// Valid reports whether c is a recognized classification.
func (c Classification) Valid() bool {
	return c == ClassificationSafe || c == ClassificationThreat
}

// Severity is the derived urgency tier of an event. It is never caller supplied.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Severities lists every severity from least to most urgent.
var Severities = []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

// Valid reports whether s is a recognized severity.
func (s Severity) Valid() bool {
	return s.Rank() >= 0
}

// Rank orders severities from 0 (low) to 3 (critical); -1 for unknown values.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 0
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	}
	return -1
}

// Status is the lifecycle state of an event.
type Status string

const (
	StatusDetected    Status = "detected"
	StatusBlocked     Status = "blocked"
	StatusQuarantined Status = "quarantined"
	StatusReviewed    Status = "reviewed"
)

// Valid reports whether s is a recognized status.
func (s Status) Valid() bool {
	switch s {
	case StatusDetected, StatusBlocked, StatusQuarantined, StatusReviewed:
		return true
	}
	return false
}

// IsTerminal reports whether s is a terminal state.
func (s Status) IsTerminal() bool {
	return s == StatusBlocked || s == StatusQuarantined || s == StatusReviewed
}

// IsContained reports whether the event was kept away from its recipient.
func (s Status) IsContained() bool {
	return s == StatusBlocked || s == StatusQuarantined
}

// CanTransition reports whether an event may move from one status to another.
// Status is assigned once at creation, so no transition is allowed.
func CanTransition(from, to Status) bool {
	return false
}

// ErrInvalidEvent is returned by ThreatEvent.Validate.
var ErrInvalidEvent = errors.New("invalid threat event")

// ThreatEvent is one classified content submission.
type ThreatEvent struct {
	ID                int64          `json:"id" db:"id"`
	Channel           Channel        `json:"channel" db:"channel"`
	Source            string         `json:"source" db:"source"`
	Target            string         `json:"target" db:"target"`
	Content           string         `json:"content" db:"content"`
	Classification    Classification `json:"classification" db:"classification"`
	Severity          Severity       `json:"severity" db:"severity"`
	Status            Status         `json:"status" db:"status"`
	MatchedSignatures []string       `json:"matched_signatures,omitempty" db:"-"`
	Owner             string         `json:"owner" db:"owner"`
	IdempotencyKey    string         `json:"idempotency_key,omitempty" db:"idempotency_key"`
	DetectedAt        time.Time      `json:"detected_at" db:"-"`
}

// IsThreat reports whether the event was classified as a threat.
func (e *ThreatEvent) IsThreat() bool {
	return e.Classification == ClassificationThreat
}

// Validate checks the enumerations and the quarantine invariant.
func (e *ThreatEvent) Validate() error {
	switch {
	case !e.Channel.Valid():
		return fmt.Errorf("%w: unknown channel %q", ErrInvalidEvent, e.Channel)
	case !e.Classification.Valid():
		return fmt.Errorf("%w: unknown classification %q", ErrInvalidEvent, e.Classification)
	case !e.Severity.Valid():
		return fmt.Errorf("%w: unknown severity %q", ErrInvalidEvent, e.Severity)
	case !e.Status.Valid():
		return fmt.Errorf("%w: unknown status %q", ErrInvalidEvent, e.Status)
	case e.Status == StatusQuarantined && e.Classification != ClassificationThreat:
		return fmt.Errorf("%w: quarantined event must be classified as threat", ErrInvalidEvent)
	case e.Owner == "":
		return fmt.Errorf("%w: owner is required", ErrInvalidEvent)
	}
	return nil
}

// Clone returns a deep copy of the event.
func (e *ThreatEvent) Clone() *ThreatEvent {
	c := *e
	if e.MatchedSignatures != nil {
		c.MatchedSignatures = append([]string(nil), e.MatchedSignatures...)
	}
	return &c
}
