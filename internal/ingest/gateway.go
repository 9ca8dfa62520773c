// Threatwatch - Security Threat Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/threatwatch

// Package ingest is the entry point for content submissions.
//
// Submit validates a submission, classifies it, derives severity and status
// from a fixed policy table and appends the resulting ThreatEvent to the
// event store. The call returns once the event is durably stored; newly
// created threat events are then handed to a DispatchTrigger, whose failures
// are logged and never undo the stored event.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/threatwatch/internal/classifier"
	"github.com/tomtom215/threatwatch/internal/logging"
	"github.com/tomtom215/threatwatch/internal/metrics"
	"github.com/tomtom215/threatwatch/internal/models"
	"github.com/tomtom215/threatwatch/internal/store"
	"github.com/tomtom215/threatwatch/internal/validation"
)

// Classifier classifies submitted content.
type Classifier interface {
	Classify(ctx context.Context, content string, channel models.Channel) (classifier.Verdict, error)
}

// DispatchTrigger receives every newly stored threat event.
type DispatchTrigger interface {
	Trigger(ctx context.Context, ev *models.ThreatEvent) error
}

// TriggerFunc adapts a function to DispatchTrigger.
type TriggerFunc func(ctx context.Context, ev *models.ThreatEvent) error

// Trigger implements DispatchTrigger.
func (f TriggerFunc) Trigger(ctx context.Context, ev *models.ThreatEvent) error {
	return f(ctx, ev)
}

// Submission is one piece of content to classify.
type Submission struct {
	Channel        models.Channel `json:"channel" validate:"required,channel"`
	Source         string         `json:"source" validate:"max=512"`
	Target         string         `json:"target" validate:"max=512"`
	Content        string         `json:"content" validate:"notblank,max=65536"`
	Owner          string         `json:"owner" validate:"notblank,max=256"`
	IdempotencyKey string         `json:"idempotency_key,omitempty" validate:"max=256"`
	// Flagged is decided by the caller (for example a brute-force detector)
	// and only affects login submissions.
	Flagged bool `json:"flagged,omitempty"`
}

// Result is the outcome of Submit.
type Result struct {
	EventID        int64           `json:"event_id"`
	ThreatDetected bool            `json:"threat_detected"`
	Severity       models.Severity `json:"severity"`
	Status         models.Status   `json:"status"`
	// Duplicate is true when the idempotency key matched an earlier submission.
	Duplicate bool                `json:"duplicate"`
	Event     *models.ThreatEvent `json:"-"`
}

// Gateway accepts submissions.
type Gateway struct {
	classifier Classifier
	store      store.EventStore
	trigger    DispatchTrigger
}

// NewGateway creates a gateway. trigger may be nil when nothing reacts to
// threat events.
func NewGateway(c Classifier, s store.EventStore, trigger DispatchTrigger) *Gateway {
	return &Gateway{classifier: c, store: s, trigger: trigger}
}

// Submit classifies and stores one submission.
//
// Errors: *ValidationError (no event), *ClassificationError (no event,
// retryable) and store.ErrStoreUnavailable (retry with the same idempotency
// key; at most one event is ever stored for a key).
func (g *Gateway) Submit(ctx context.Context, sub Submission) (*Result, error) {
	start := time.Now()
	logger := logging.Ctx(ctx)

	if verr := validation.ValidateStruct(&sub); verr != nil {
		metrics.SubmissionFailures.WithLabelValues("validation").Inc()
		return nil, &ValidationError{fields: verr}
	}

	verdict, err := g.classifier.Classify(ctx, sub.Content, sub.Channel)
	if err != nil {
		metrics.SubmissionFailures.WithLabelValues("classification").Inc()
		logger.Warn().Err(err).Str("channel", string(sub.Channel)).Msg("Classification failed, submission rejected")
		return nil, &ClassificationError{Err: err}
	}

	classification := ClassificationFor(sub.Channel, verdict.IsThreat, sub.Flagged)
	ev := &models.ThreatEvent{
		Channel:           sub.Channel,
		Source:            sub.Source,
		Target:            sub.Target,
		Content:           sub.Content,
		Classification:    classification,
		Severity:          SeverityFor(sub.Channel, classification, sub.Flagged),
		Status:            StatusFor(sub.Channel, classification, sub.Flagged),
		MatchedSignatures: verdict.MatchedSignatures,
		Owner:             sub.Owner,
	}

	stored, created, err := g.store.Append(ctx, ev, sub.IdempotencyKey)
	if err != nil {
		metrics.SubmissionFailures.WithLabelValues("store").Inc()
		return nil, fmt.Errorf("storing event: %w", err)
	}

	metrics.RecordSubmission(string(stored.Channel), string(stored.Classification), !created)
	metrics.SubmissionDuration.WithLabelValues(string(stored.Channel)).Observe(time.Since(start).Seconds())

	logger.Info().
		Int64("event_id", stored.ID).
		Str("channel", string(stored.Channel)).
		Str("classification", string(stored.Classification)).
		Str("severity", string(stored.Severity)).
		Bool("duplicate", !created).
		Msg("Submission stored")

	if created && stored.IsThreat() && g.trigger != nil {
		if err := g.trigger.Trigger(ctx, stored); err != nil {
			metrics.NotificationDispatchFailures.WithLabelValues("trigger").Inc()
			logger.Error().Err(err).Int64("event_id", stored.ID).Msg("NotificationDispatchFailure: trigger failed, event kept")
		}
	}

	return &Result{
		EventID:        stored.ID,
		ThreatDetected: stored.IsThreat(),
		Severity:       stored.Severity,
		Status:         stored.Status,
		Duplicate:      !created,
		Event:          stored,
	}, nil
}
