// Threatwatch - Security Threat Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/threatwatch

package store

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/tomtom215/threatwatch/internal/logging"
	"github.com/tomtom215/threatwatch/internal/models"
)

// changeFeed is the read side a subscription pumps from.
type changeFeed interface {
	After(ctx context.Context, afterID int64, filter models.EventFilter, limit int) ([]models.ThreatEvent, error)
}

// Subscription delivers matching events in ID order on C.
//
// Delivery is at-least-once across restarts: Cursor is the ID of the last
// event handed to the consumer, and Subscribe(filter, Cursor()) resumes right
// after it. The pump blocks while the consumer is busy; events are never
// dropped.
type Subscription struct {
	ch     chan models.ThreatEvent
	cursor atomic.Int64
	err    atomic.Pointer[error]
	cancel context.CancelFunc
	done   chan struct{}
}

func newSubscription(ctx context.Context, feed changeFeed, wake *broadcaster, filter models.EventFilter, afterID int64, opts options) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	s := &Subscription{
		ch:     make(chan models.ThreatEvent),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.cursor.Store(afterID)
	go s.pump(ctx, feed, wake, filter.Predicate(), opts)
	return s
}

// C returns the delivery channel. It is closed when the subscription ends.
func (s *Subscription) C() <-chan models.ThreatEvent {
	return s.ch
}

// Cursor returns the ID of the last delivered event.
func (s *Subscription) Cursor() int64 {
	return s.cursor.Load()
}

// Err returns the error that ended the subscription, if any. A subscription
// ended by Close or context cancellation has no error.
func (s *Subscription) Err() error {
	if p := s.err.Load(); p != nil {
		return *p
	}
	return nil
}

// Close stops the pump and waits for it to exit.
func (s *Subscription) Close() {
	s.cancel()
	<-s.done
}

func (s *Subscription) pump(ctx context.Context, feed changeFeed, wake *broadcaster, filter models.EventFilter, opts options) {
	defer close(s.done)
	defer close(s.ch)

	logger := logging.WithComponent("store.subscription")
	ticker := time.NewTicker(opts.pollInterval)
	defer ticker.Stop()

	cursor := s.cursor.Load()
	for {
		// Take the wake channel before reading so an append that lands
		// between the read and the wait is not missed.
		var woken <-chan struct{}
		if wake != nil {
			woken = wake.wait()
		}

		events, err := feed.After(ctx, cursor, filter, opts.batchSize)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, ErrClosed) {
				s.err.Store(&err)
				return
			}
			logger.Warn().Err(err).Int64("cursor", cursor).Msg("Subscription read failed, retrying on next poll")
		}

		for i := range events {
			select {
			case s.ch <- events[i]:
				cursor = events[i].ID
				s.cursor.Store(cursor)
			case <-ctx.Done():
				return
			}
		}

		if len(events) == opts.batchSize {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-woken:
		case <-ticker.C:
		}
	}
}
