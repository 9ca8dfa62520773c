// Threatwatch - Security Threat Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/threatwatch

package eventbus

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/threatwatch/internal/breaker"
	"github.com/tomtom215/threatwatch/internal/logging"
	"github.com/tomtom215/threatwatch/internal/metrics"
	"github.com/tomtom215/threatwatch/internal/models"
)

// ErrPublisherClosed is returned by Trigger after Close.
var ErrPublisherClosed = errors.New("publisher is closed")

// Publisher publishes threat events to TopicThreatDetected behind a circuit
// breaker. It implements ingest.DispatchTrigger.
type Publisher struct {
	publisher message.Publisher
	cb        *gobreaker.CircuitBreaker[any]
	closed    atomic.Bool
}

// NewPublisher wraps pub.
func NewPublisher(pub message.Publisher) *Publisher {
	return &Publisher{
		publisher: pub,
		cb: breaker.New[any](breaker.Config{
			Name:             "event-bus-publisher",
			FailureThreshold: 5,
			Timeout:          15 * time.Second,
		}),
	}
}

// Trigger publishes ev. The request correlation ID travels in the metadata.
func (p *Publisher) Trigger(ctx context.Context, ev *models.ThreatEvent) error {
	if p.closed.Load() {
		return ErrPublisherClosed
	}

	correlationID := logging.CorrelationIDFromContext(ctx)
	msg, err := NewThreatMessage(ev, correlationID)
	if err != nil {
		return err
	}

	_, err = p.cb.Execute(func() (any, error) {
		return nil, p.publisher.Publish(TopicThreatDetected, msg)
	})
	if err != nil {
		return err
	}

	metrics.BusPublished.WithLabelValues(TopicThreatDetected).Inc()
	return nil
}

// Close stops accepting events. The underlying transport is closed by its
// PubSub.
func (p *Publisher) Close() error {
	p.closed.Store(true)
	return nil
}
