// Threatwatch - Security Threat Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/threatwatch

// Package aggregator maintains rolling per-owner threat statistics for live
// dashboards.
//
// The first session attached for an owner starts a worker that bootstraps
// from the event store (a window query, whose largest ID becomes the
// high-water mark) and then follows a store subscription starting after that
// mark. Live events at or below the mark are ignored, so an event seen by
// both paths is counted once. The worker is the only writer of the owner's
// snapshot; owners never share state.
//
// Each session receives a copy of the snapshot when it attaches and then a
// Delta per change on its own buffered channel. A session whose buffer is
// full is closed with ErrSlowConsumer instead of stalling the worker.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tomtom215/threatwatch/internal/logging"
	"github.com/tomtom215/threatwatch/internal/metrics"
	"github.com/tomtom215/threatwatch/internal/models"
	"github.com/tomtom215/threatwatch/internal/store"
)

var (
	// ErrSlowConsumer ends a session that fell a full buffer behind.
	ErrSlowConsumer = errors.New("session too slow, reattach to resume")

	// ErrClosed is returned by Attach after Close and ends every session.
	ErrClosed = errors.New("aggregator closed")

	// ErrOwnerRequired is returned for an empty owner.
	ErrOwnerRequired = errors.New("owner is required")
)

// Config tunes an Aggregator.
type Config struct {
	// Window is the rolling statistics window. Default 24h.
	Window time.Duration
	// SessionBuffer is the per-session delta buffer. Default 64.
	SessionBuffer int
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// Delta is pushed to sessions after every change. Event is nil when the
// snapshot was replaced by reconciliation.
type Delta struct {
	Event    *models.ThreatEvent `json:"event,omitempty"`
	Snapshot StatsSnapshot       `json:"snapshot"`
}

// Aggregator owns the live snapshots of every attached owner.
type Aggregator struct {
	store  store.EventStore
	window time.Duration
	buffer int
	clock  func() time.Time

	mu     sync.Mutex
	owners map[string]*ownerState
	closed bool
}

// New creates an aggregator reading from s.
func New(s store.EventStore, cfg Config) *Aggregator {
	if cfg.Window <= 0 {
		cfg.Window = 24 * time.Hour
	}
	if cfg.SessionBuffer <= 0 {
		cfg.SessionBuffer = 64
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Aggregator{
		store:  s,
		window: cfg.Window,
		buffer: cfg.SessionBuffer,
		clock:  cfg.Clock,
		owners: make(map[string]*ownerState),
	}
}

// Window returns the rolling window length.
func (a *Aggregator) Window() time.Duration {
	return a.window
}

type ownerState struct {
	owner string

	ready chan struct{} // closed once bootstrap finished
	err   error         // bootstrap error, valid after ready

	mu       sync.Mutex
	snap     *Snapshot
	sessions map[*Session]struct{}
	stopped  bool

	sub    *store.Subscription
	cancel context.CancelFunc
	done   chan struct{}
}

// Attach opens a live session for owner. The first session for an owner
// bootstraps its snapshot; ctx bounds that bootstrap only. Concurrent callers
// waiting on a bootstrap that failed because the bootstrapping caller's ctx
// ended retry under their own ctx.
func (a *Aggregator) Attach(ctx context.Context, owner string) (*Session, error) {
	if owner == "" {
		return nil, ErrOwnerRequired
	}

	for {
		a.mu.Lock()
		if a.closed {
			a.mu.Unlock()
			return nil, ErrClosed
		}
		st, ok := a.owners[owner]
		if !ok {
			st = &ownerState{
				owner:    owner,
				ready:    make(chan struct{}),
				sessions: make(map[*Session]struct{}),
				done:     make(chan struct{}),
			}
			a.owners[owner] = st
			metrics.AggregatorActiveOwners.Inc()
		}
		a.mu.Unlock()

		if !ok {
			a.start(ctx, st)
		}

		// A finished bootstrap wins over a context that ended meanwhile, so a
		// started worker always gets its session.
		select {
		case <-st.ready:
		default:
			select {
			case <-st.ready:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if st.err != nil {
			if ok && canceled(st.err) && ctx.Err() == nil {
				// Another request's context ended its bootstrap; the owner was
				// forgotten, so bootstrap again under ours.
				continue
			}
			return nil, st.err
		}

		st.mu.Lock()
		if st.stopped {
			// The last session left while we waited; start over.
			st.mu.Unlock()
			continue
		}
		sess := newSession(a, st, a.buffer)
		st.sessions[sess] = struct{}{}
		st.snap.Advance(a.clock())
		sess.initial = st.snap.Stats()
		st.mu.Unlock()

		metrics.AggregatorSessions.Inc()
		return sess, nil
	}
}

// start bootstraps st and launches its worker. Failures are reported to every
// waiter through st.err and the owner is forgotten.
func (a *Aggregator) start(ctx context.Context, st *ownerState) {
	defer close(st.ready)

	now := a.clock()
	from := now.Add(-a.window)
	events, err := a.store.Query(ctx, models.EventFilter{Owner: st.owner, Since: &from})
	if err != nil {
		st.err = fmt.Errorf("bootstrap snapshot for %s: %w", st.owner, err)
		a.forget(st)
		return
	}

	snap := Build(st.owner, a.window, now, events)

	// The worker outlives the attaching request.
	workerCtx, cancel := context.WithCancel(context.Background())
	sub, err := a.store.Subscribe(workerCtx, models.EventFilter{Owner: st.owner, Since: &from}, snap.HighWaterMark())
	if err != nil {
		cancel()
		st.err = fmt.Errorf("subscribe for %s: %w", st.owner, err)
		a.forget(st)
		return
	}

	st.snap = snap
	st.sub = sub
	st.cancel = cancel
	go a.run(st)

	logging.Debug().
		Str("owner", st.owner).
		Int("events", snap.Len()).
		Int64("high_water_mark", snap.HighWaterMark()).
		Msg("Aggregator owner bootstrapped")
}

func canceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (a *Aggregator) forget(st *ownerState) {
	a.mu.Lock()
	if a.owners[st.owner] == st {
		delete(a.owners, st.owner)
		metrics.AggregatorActiveOwners.Dec()
	}
	a.mu.Unlock()
}

// run is the single writer for st.snap.
func (a *Aggregator) run(st *ownerState) {
	defer close(st.done)

	for ev := range st.sub.C() {
		ev := ev
		st.mu.Lock()
		st.snap.Advance(a.clock())
		if st.snap.Apply(&ev) {
			st.broadcast(Delta{Event: &ev, Snapshot: st.snap.Stats()})
		}
		st.mu.Unlock()
	}

	// The subscription ended without Detach: the store closed or failed.
	err := st.sub.Err()
	if err == nil {
		return
	}
	logging.Warn().Err(err).Str("owner", st.owner).Msg("Aggregator subscription ended")
	st.cancel()
	a.forget(st)
	st.mu.Lock()
	st.stopped = true
	for sess := range st.sessions {
		sess.end(err)
		metrics.AggregatorSessions.Dec()
	}
	st.sessions = map[*Session]struct{}{}
	st.mu.Unlock()
}

// broadcast delivers d to every session. Caller holds st.mu.
func (st *ownerState) broadcast(d Delta) {
	for sess := range st.sessions {
		select {
		case sess.ch <- d:
		default:
			delete(st.sessions, sess)
			sess.end(ErrSlowConsumer)
			metrics.AggregatorSessions.Dec()
			logging.Warn().Str("owner", st.owner).Msg("Dropping slow aggregator session")
		}
	}
}

// detach removes sess and stops the owner's worker when it was the last one.
func (a *Aggregator) detach(sess *Session) {
	st := sess.state

	a.mu.Lock()
	st.mu.Lock()
	_, attached := st.sessions[sess]
	if attached {
		delete(st.sessions, sess)
		metrics.AggregatorSessions.Dec()
	}
	last := !st.stopped && len(st.sessions) == 0
	if last {
		st.stopped = true
		if a.owners[st.owner] == st {
			delete(a.owners, st.owner)
			metrics.AggregatorActiveOwners.Dec()
		}
	}
	st.mu.Unlock()
	a.mu.Unlock()

	if attached {
		sess.end(nil)
	}
	if last {
		st.stop()
	}
}

func (st *ownerState) stop() {
	if st.cancel == nil {
		return
	}
	st.cancel()
	st.sub.Close()
	<-st.done
}

// Snapshot returns owner's current statistics: a copy of the live snapshot
// when a session is attached, otherwise a fresh computation.
func (a *Aggregator) Snapshot(ctx context.Context, owner string) (StatsSnapshot, error) {
	if owner == "" {
		return StatsSnapshot{}, ErrOwnerRequired
	}

	a.mu.Lock()
	st, ok := a.owners[owner]
	a.mu.Unlock()

	if ok {
		select {
		case <-st.ready:
		case <-ctx.Done():
			return StatsSnapshot{}, ctx.Err()
		}
		if st.err == nil {
			st.mu.Lock()
			if !st.stopped {
				st.snap.Advance(a.clock())
				stats := st.snap.Stats()
				st.mu.Unlock()
				return stats, nil
			}
			st.mu.Unlock()
		}
	}

	snap, err := a.compute(ctx, owner)
	if err != nil {
		return StatsSnapshot{}, err
	}
	return snap.Stats(), nil
}

// compute rebuilds owner's snapshot from the store.
func (a *Aggregator) compute(ctx context.Context, owner string) (*Snapshot, error) {
	now := a.clock()
	from := now.Add(-a.window)
	events, err := a.store.Query(ctx, models.EventFilter{Owner: owner, Since: &from})
	if err != nil {
		return nil, fmt.Errorf("compute snapshot for %s: %w", owner, err)
	}
	return Build(owner, a.window, now, events), nil
}

// Owners returns the owners with live sessions.
func (a *Aggregator) Owners() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	owners := make([]string, 0, len(a.owners))
	for owner := range a.owners {
		owners = append(owners, owner)
	}
	return owners
}

// Close ends every session and stops all workers.
func (a *Aggregator) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	states := make([]*ownerState, 0, len(a.owners))
	for _, st := range a.owners {
		states = append(states, st)
	}
	a.owners = map[string]*ownerState{}
	a.mu.Unlock()

	for _, st := range states {
		<-st.ready
		st.mu.Lock()
		st.stopped = true
		for sess := range st.sessions {
			sess.end(ErrClosed)
			metrics.AggregatorSessions.Dec()
		}
		st.sessions = map[*Session]struct{}{}
		st.mu.Unlock()
		metrics.AggregatorActiveOwners.Dec()
		st.stop()
	}
	return nil
}

// Session is one dashboard's view of an owner's statistics.
type Session struct {
	agg     *Aggregator
	state   *ownerState
	ch      chan Delta
	initial StatsSnapshot

	endOnce sync.Once
	mu      sync.Mutex
	err     error
}

func newSession(a *Aggregator, st *ownerState, buffer int) *Session {
	return &Session{agg: a, state: st, ch: make(chan Delta, buffer)}
}

// Owner returns the owner the session follows.
func (s *Session) Owner() string { return s.state.owner }

// Initial returns the snapshot taken when the session attached.
func (s *Session) Initial() StatsSnapshot { return s.initial }

// C delivers deltas in event ID order. It is closed when the session ends.
func (s *Session) C() <-chan Delta { return s.ch }

// Err reports why the session ended; nil after Detach.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Detach ends the session. It is safe to call more than once.
func (s *Session) Detach() {
	s.agg.detach(s)
}

func (s *Session) end(err error) {
	s.endOnce.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.ch)
	})
}
