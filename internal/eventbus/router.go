// Threatwatch - Security Threat Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/threatwatch

package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"

	"github.com/tomtom215/threatwatch/internal/config"
	"github.com/tomtom215/threatwatch/internal/logging"
	"github.com/tomtom215/threatwatch/internal/metrics"
	"github.com/tomtom215/threatwatch/internal/models"
)

// HandlerFunc consumes one decoded threat event. notify.Dispatcher.Dispatch
// satisfies it.
type HandlerFunc func(ctx context.Context, ev *models.ThreatEvent) error

// RouterConfig holds configuration for the Watermill router.
type RouterConfig struct {
	CloseTimeout time.Duration

	RetryMaxRetries      int
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
	RetryMultiplier      float64

	PoisonQueueTopic string

	DeduplicationTTL      time.Duration
	DeduplicationCapacity int
}

// DefaultRouterConfig returns production defaults.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		CloseTimeout:          30 * time.Second,
		RetryMaxRetries:       5,
		RetryInitialInterval:  100 * time.Millisecond,
		RetryMaxInterval:      10 * time.Second,
		RetryMultiplier:       2.0,
		PoisonQueueTopic:      TopicPoison,
		DeduplicationTTL:      10 * time.Minute,
		DeduplicationCapacity: 10000,
	}
}

// RouterConfigFromBus maps the bus section of the configuration.
func RouterConfigFromBus(cfg config.BusConfig) RouterConfig {
	rc := DefaultRouterConfig()
	if cfg.CloseTimeout > 0 {
		rc.CloseTimeout = cfg.CloseTimeout
	}
	if cfg.MaxRetries > 0 {
		rc.RetryMaxRetries = cfg.MaxRetries
	}
	if cfg.RetryInitialInterval > 0 {
		rc.RetryInitialInterval = cfg.RetryInitialInterval
	}
	if cfg.RetryMaxInterval > 0 {
		rc.RetryMaxInterval = cfg.RetryMaxInterval
	}
	if cfg.DedupTTL > 0 {
		rc.DeduplicationTTL = cfg.DedupTTL
	}
	return rc
}

// Router consumes TopicThreatDetected and hands each event to a HandlerFunc.
//
// Middleware, outer to inner:
//  1. PoisonQueue: messages still failing after all retries go to PoisonQueueTopic
//  2. Retry: exponential backoff
//  3. forgetOnError: a failed attempt releases its dedup key
//  4. Deduplicator: drops redeliveries of an event ID already handled
//  5. Recoverer: handler panics become errors
//
// A Watermill router cannot be restarted after Close, so Run builds a fresh
// one on every call. This lets a supervisor restart the service. The
// subscription to TopicThreatDetected is taken once by NewRouter and outlives
// the individual runs.
type Router struct {
	config  RouterConfig
	pubsub  *PubSub
	handle  HandlerFunc
	dedup   *DedupRepository
	held    *heldSubscription
	logger  watermill.LoggerAdapter
	mu      sync.Mutex
	current *message.Router
	ready   chan struct{}
	once    sync.Once
}

// NewRouter validates cfg, subscribes to TopicThreatDetected on ps and
// prepares a router. Events published from here on are delivered once Run is
// called.
func NewRouter(cfg RouterConfig, ps *PubSub, handle HandlerFunc) (*Router, error) {
	if ps == nil || ps.Subscriber == nil {
		return nil, errors.New("eventbus: router requires a subscriber")
	}
	if handle == nil {
		return nil, errors.New("eventbus: router requires a handler")
	}
	if cfg.DeduplicationCapacity <= 0 {
		cfg.DeduplicationCapacity = 10000
	}

	held, err := holdSubscription(ps.Subscriber, TopicThreatDetected)
	if err != nil {
		return nil, err
	}

	return &Router{
		config: cfg,
		pubsub: ps,
		handle: handle,
		dedup:  NewDedupRepository(cfg.DeduplicationCapacity, cfg.DeduplicationTTL),
		held:   held,
		logger: NewLogger(),
		ready:  make(chan struct{}),
	}, nil
}

func (r *Router) build() (*message.Router, error) {
	wmRouter, err := message.NewRouter(message.RouterConfig{CloseTimeout: r.config.CloseTimeout}, r.logger)
	if err != nil {
		return nil, fmt.Errorf("create watermill router: %w", err)
	}

	if r.pubsub.Publisher != nil && r.config.PoisonQueueTopic != "" {
		poison, err := middleware.PoisonQueue(r.pubsub.Publisher, r.config.PoisonQueueTopic)
		if err != nil {
			return nil, fmt.Errorf("create poison queue middleware: %w", err)
		}
		wmRouter.AddMiddleware(poison)
	}

	retry := middleware.Retry{
		MaxRetries:      r.config.RetryMaxRetries,
		InitialInterval: r.config.RetryInitialInterval,
		MaxInterval:     r.config.RetryMaxInterval,
		Multiplier:      r.config.RetryMultiplier,
		Logger:          r.logger,
	}
	wmRouter.AddMiddleware(retry.Middleware)
	wmRouter.AddMiddleware(forgetOnError(r.dedup))

	dedup := middleware.Deduplicator{
		KeyFactory: dedupKey,
		Repository: r.dedup,
	}
	wmRouter.AddMiddleware(dedup.Middleware)
	wmRouter.AddMiddleware(middleware.Recoverer)

	wmRouter.AddConsumerHandler("threat-dispatch", TopicThreatDetected, r.held, r.consume)
	return wmRouter, nil
}

func (r *Router) consume(msg *message.Message) error {
	ev, err := DecodeThreatMessage(msg)
	if err != nil {
		metrics.BusHandled.WithLabelValues(TopicThreatDetected, "error").Inc()
		return err
	}

	ctx := msg.Context()
	if id := msg.Metadata.Get(MetadataCorrelationID); id != "" {
		ctx = logging.ContextWithCorrelationID(ctx, id)
	}

	if err := r.handle(ctx, ev); err != nil {
		metrics.BusHandled.WithLabelValues(TopicThreatDetected, "error").Inc()
		logging.Ctx(ctx).Warn().Err(err).Int64("event_id", ev.ID).Msg("Threat event handler failed")
		return err
	}
	metrics.BusHandled.WithLabelValues(TopicThreatDetected, "ok").Inc()
	return nil
}

// Run builds a router and blocks until ctx is canceled or Close is called.
func (r *Router) Run(ctx context.Context) error {
	wmRouter, err := r.build()
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.current = wmRouter
	r.mu.Unlock()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-wmRouter.Running():
			r.once.Do(func() { close(r.ready) })
		case <-done:
		}
	}()

	return wmRouter.Run(ctx)
}

// Serve implements suture.Service.
func (r *Router) Serve(ctx context.Context) error {
	err := r.Run(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (r *Router) String() string { return "event-bus-router" }

// Running is closed once the first router is consuming messages.
func (r *Router) Running() <-chan struct{} {
	return r.ready
}

// Close stops the current router, waiting up to CloseTimeout for handlers,
// and releases the subscription. The Router cannot be run again.
func (r *Router) Close() error {
	r.mu.Lock()
	current := r.current
	r.mu.Unlock()

	var err error
	if current != nil {
		err = current.Close()
	}
	r.held.release()
	return err
}

// Dedup exposes the deduplication repository.
func (r *Router) Dedup() *DedupRepository {
	return r.dedup
}
