// Threatwatch - Security Threat Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/threatwatch

package aggregator

import (
	"context"
	"sync"
	"time"

	"github.com/tomtom215/threatwatch/internal/logging"
	"github.com/tomtom215/threatwatch/internal/metrics"
)

// ReconcileResult summarizes one reconciliation pass.
type ReconcileResult struct {
	Owners   int
	Replaced int
	Drifted  int
	Expired  int
}

// Reconcile rebuilds every live snapshot from the store and prunes expired
// events. A snapshot whose counts differ from the rebuilt one is replaced and
// its sessions receive the new snapshot as a Delta without an event. When the
// worker applied an event while the store was being queried, the owner is
// left for the next pass.
func (a *Aggregator) Reconcile(ctx context.Context) (ReconcileResult, error) {
	a.mu.Lock()
	states := make([]*ownerState, 0, len(a.owners))
	for _, st := range a.owners {
		states = append(states, st)
	}
	a.mu.Unlock()

	var res ReconcileResult
	for _, st := range states {
		select {
		case <-st.ready:
		default:
			continue // still bootstrapping
		}
		if st.err != nil {
			continue
		}

		st.mu.Lock()
		before := st.snap.HighWaterMark()
		st.mu.Unlock()

		fresh, err := a.compute(ctx, st.owner)
		if err != nil {
			return res, err
		}

		st.mu.Lock()
		if st.stopped {
			st.mu.Unlock()
			continue
		}
		res.Owners++
		expired := st.snap.Advance(a.clock())
		res.Expired += expired
		cur := st.snap.Stats()
		next := fresh.Stats()
		switch {
		case cur.HighWaterMark == before && !cur.SameCounts(next):
			if fresh.mark <= before {
				res.Drifted++
				metrics.AggregatorReconcileDrift.Inc()
				fresh.mark = before
			}
			st.snap = fresh
			res.Replaced++
			st.broadcast(Delta{Snapshot: fresh.Stats()})
		case expired > 0:
			st.broadcast(Delta{Snapshot: cur})
		}
		st.mu.Unlock()
	}
	return res, nil
}

// Reconciler runs Reconcile on a fixed interval.
type Reconciler struct {
	agg      *Aggregator
	interval time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	lastRun time.Time
}

// NewReconciler creates a stopped reconciler. interval defaults to one minute.
func NewReconciler(agg *Aggregator, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reconciler{agg: agg, interval: interval}
}

// Start launches the periodic task. Starting a running reconciler is a no-op.
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true

	r.wg.Add(1)
	go r.run(runCtx)

	logging.Info().Dur("interval", r.interval).Msg("Aggregator reconciler started")
	return nil
}

// Stop cancels the task and waits for an in-flight pass to finish.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.cancel()
	r.running = false
	r.mu.Unlock()

	r.wg.Wait()
	logging.Info().Msg("Aggregator reconciler stopped")
}

// IsRunning reports whether the periodic task is active.
func (r *Reconciler) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// LastRun returns the completion time of the last pass.
func (r *Reconciler) LastRun() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastRun
}

func (r *Reconciler) run(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.reconcile(ctx)
		}
	}
}

func (r *Reconciler) reconcile(ctx context.Context) {
	start := time.Now()
	res, err := r.agg.Reconcile(ctx)
	if err != nil && ctx.Err() == nil {
		logging.Error().Err(err).Msg("Aggregator reconciliation failed")
	}

	r.mu.Lock()
	r.lastRun = time.Now()
	r.mu.Unlock()

	if res.Replaced > 0 || res.Expired > 0 {
		logging.Info().
			Int("owners", res.Owners).
			Int("replaced", res.Replaced).
			Int("drifted", res.Drifted).
			Int("expired", res.Expired).
			Dur("duration", time.Since(start)).
			Msg("Aggregator reconciliation updated snapshots")
	}
}
