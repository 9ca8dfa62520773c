// Threatwatch - Security Threat Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/threatwatch

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/threatwatch/internal/breaker"
	"github.com/tomtom215/threatwatch/internal/models"
)

// BreakerStore guards an EventStore with a circuit breaker. Backend failures
// and calls refused by an open breaker come back wrapped in
// ErrStoreUnavailable.
type BreakerStore struct {
	inner EventStore
	cb    *gobreaker.CircuitBreaker[any]
}

// BreakerConfig configures NewBreakerStore.
type BreakerConfig struct {
	Name             string
	FailureThreshold uint32
	Timeout          time.Duration
}

// NewBreakerStore wraps inner.
func NewBreakerStore(inner EventStore, cfg BreakerConfig) *BreakerStore {
	if cfg.Name == "" {
		cfg.Name = "event-store"
	}
	return &BreakerStore{
		inner: inner,
		cb: breaker.New[any](breaker.Config{
			Name:             cfg.Name,
			FailureThreshold: cfg.FailureThreshold,
			Timeout:          cfg.Timeout,
			IsSuccessful:     isBackendHealthy,
		}),
	}
}

// isBackendHealthy reports errors that say nothing about backend health.
func isBackendHealthy(err error) bool {
	return err == nil ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, models.ErrInvalidEvent) ||
		errors.Is(err, context.Canceled)
}

// unavailable maps backend and breaker errors to ErrStoreUnavailable.
func unavailable(err error) error {
	if isBackendHealthy(err) || errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}

type appendResult struct {
	ev      *models.ThreatEvent
	created bool
}

// Append implements EventStore.
func (b *BreakerStore) Append(ctx context.Context, ev *models.ThreatEvent, idempotencyKey string) (*models.ThreatEvent, bool, error) {
	res, err := b.cb.Execute(func() (any, error) {
		stored, created, err := b.inner.Append(ctx, ev, idempotencyKey)
		return appendResult{ev: stored, created: created}, err
	})
	if err != nil {
		return nil, false, unavailable(err)
	}
	r := res.(appendResult)
	return r.ev, r.created, nil
}

// Get implements EventStore.
func (b *BreakerStore) Get(ctx context.Context, id int64) (*models.ThreatEvent, error) {
	res, err := b.cb.Execute(func() (any, error) {
		return b.inner.Get(ctx, id)
	})
	if err != nil {
		return nil, unavailable(err)
	}
	return res.(*models.ThreatEvent), nil
}

// Query implements EventStore.
func (b *BreakerStore) Query(ctx context.Context, filter models.EventFilter) ([]models.ThreatEvent, error) {
	res, err := b.cb.Execute(func() (any, error) {
		return b.inner.Query(ctx, filter)
	})
	if err != nil {
		return nil, unavailable(err)
	}
	return res.([]models.ThreatEvent), nil
}

// Count implements EventStore.
func (b *BreakerStore) Count(ctx context.Context, filter models.EventFilter) (int, error) {
	res, err := b.cb.Execute(func() (any, error) {
		return b.inner.Count(ctx, filter)
	})
	if err != nil {
		return 0, unavailable(err)
	}
	return res.(int), nil
}

// After implements EventStore.
func (b *BreakerStore) After(ctx context.Context, afterID int64, filter models.EventFilter, limit int) ([]models.ThreatEvent, error) {
	res, err := b.cb.Execute(func() (any, error) {
		return b.inner.After(ctx, afterID, filter, limit)
	})
	if err != nil {
		return nil, unavailable(err)
	}
	return res.([]models.ThreatEvent), nil
}

// Subscribe implements EventStore. The subscription pump reads the inner
// store directly and retries on its own schedule.
func (b *BreakerStore) Subscribe(ctx context.Context, filter models.EventFilter, afterID int64) (*Subscription, error) {
	return b.inner.Subscribe(ctx, filter, afterID)
}

// Close implements EventStore.
func (b *BreakerStore) Close() error {
	return b.inner.Close()
}

// State returns the breaker state.
func (b *BreakerStore) State() gobreaker.State {
	return b.cb.State()
}
