// Threatwatch - Security Threat Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/threatwatch

package aggregator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/threatwatch/internal/classifier"
	"github.com/tomtom215/threatwatch/internal/ingest"
	"github.com/tomtom215/threatwatch/internal/models"
	"github.com/tomtom215/threatwatch/internal/store"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Add(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	clock *testClock
	store *store.MemoryStore
	agg   *Aggregator
}

func newFixture(t *testing.T, buffer int) *fixture {
	t.Helper()
	clk := &testClock{now: t0}
	s := store.NewMemoryStore(store.WithClock(clk.Now), store.WithPollInterval(20*time.Millisecond))
	a := New(s, Config{Window: 24 * time.Hour, SessionBuffer: buffer, Clock: clk.Now})
	t.Cleanup(func() {
		_ = a.Close()
		_ = s.Close()
	})
	return &fixture{clock: clk, store: s, agg: a}
}

func (f *fixture) append(t *testing.T, owner string, ch models.Channel, sev models.Severity, status models.Status) *models.ThreatEvent {
	t.Helper()
	class := models.ClassificationThreat
	if status == models.StatusDetected && sev == models.SeverityLow {
		class = models.ClassificationSafe
	}
	stored, _, err := f.store.Append(context.Background(), &models.ThreatEvent{
		Channel: ch, Source: "src", Content: "content", Owner: owner,
		Classification: class, Severity: sev, Status: status,
	}, "")
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	return stored
}

func receive(t *testing.T, sess *Session) Delta {
	t.Helper()
	select {
	case d, ok := <-sess.C():
		if !ok {
			t.Fatalf("session closed: %v", sess.Err())
		}
		return d
	case <-time.After(5 * time.Second):
		t.Fatal("no delta within 5s")
	}
	return Delta{}
}

func TestAttachBootstrapsThenFollows(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 16)
	ctx := context.Background()

	f.append(t, "alice", models.ChannelEmail, models.SeverityHigh, models.StatusQuarantined)
	f.append(t, "alice", models.ChannelSMS, models.SeverityLow, models.StatusDetected)
	f.append(t, "bob", models.ChannelSMS, models.SeverityHigh, models.StatusQuarantined)

	sess, err := f.agg.Attach(ctx, "alice")
	if err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	defer sess.Detach()

	initial := sess.Initial()
	if initial.Total != 2 || initial.Threats != 1 || initial.HighWaterMark != 2 {
		t.Fatalf("initial = %+v", initial)
	}

	f.clock.Add(time.Minute)
	live := f.append(t, "alice", models.ChannelLogin, models.SeverityCritical, models.StatusBlocked)
	f.append(t, "bob", models.ChannelLogin, models.SeverityCritical, models.StatusBlocked)

	d := receive(t, sess)
	if d.Event == nil || d.Event.ID != live.ID {
		t.Fatalf("delta event = %+v, want id %d", d.Event, live.ID)
	}
	if d.Snapshot.Total != 3 || d.Snapshot.ThreatLevel != ThreatLevelCritical || d.Snapshot.Contained != 2 {
		t.Errorf("delta snapshot = %+v", d.Snapshot)
	}

	// Bob's event must never reach alice.
	select {
	case d := <-sess.C():
		t.Errorf("unexpected delta %+v", d)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestScenarioSixFlaggedLoginsAreCritical(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 16)
	ctx := context.Background()

	c, err := classifier.New(classifier.DefaultSignatureSet())
	if err != nil {
		t.Fatal(err)
	}
	gw := ingest.NewGateway(c, f.store, nil)

	sess, err := f.agg.Attach(ctx, "carol")
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Detach()

	for i := 0; i < 6; i++ {
		f.clock.Add(time.Hour)
		_, err := gw.Submit(ctx, ingest.Submission{
			Channel: models.ChannelLogin,
			Source:  "203.0.113.7",
			Content: fmt.Sprintf("login attempt %d", i),
			Owner:   "carol",
			Flagged: true,
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	var last Delta
	for i := 0; i < 6; i++ {
		last = receive(t, sess)
	}
	if last.Snapshot.ThreatLevel != ThreatLevelCritical {
		t.Errorf("level = %s, want critical", last.Snapshot.ThreatLevel)
	}
	if last.Snapshot.ByChannel[models.ChannelLogin] != 6 || last.Snapshot.Threats != 6 {
		t.Errorf("snapshot = %+v", last.Snapshot)
	}

	snap, err := f.agg.Snapshot(ctx, "carol")
	if err != nil || snap.ThreatLevel != ThreatLevelCritical {
		t.Errorf("Snapshot() = %+v, %v", snap, err)
	}
}

func TestSessionsShareOwnerWorker(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 16)
	ctx := context.Background()

	a, _ := f.agg.Attach(ctx, "alice")
	b, _ := f.agg.Attach(ctx, "alice")
	other, _ := f.agg.Attach(ctx, "bob")
	defer other.Detach()

	if owners := f.agg.Owners(); len(owners) != 2 {
		t.Errorf("owners = %v, want 2", owners)
	}

	for i := 0; i < 3; i++ {
		f.append(t, "alice", models.ChannelEmail, models.SeverityHigh, models.StatusQuarantined)
	}
	for _, sess := range []*Session{a, b} {
		var ids []int64
		for i := 0; i < 3; i++ {
			ids = append(ids, receive(t, sess).Event.ID)
		}
		if ids[0] != 1 || ids[1] != 2 || ids[2] != 3 {
			t.Errorf("delivery order = %v", ids)
		}
	}

	a.Detach()
	a.Detach()
	if _, ok := <-a.C(); ok {
		t.Error("detached session channel still open")
	}
	if a.Err() != nil {
		t.Errorf("Err() after Detach = %v", a.Err())
	}

	f.append(t, "alice", models.ChannelSMS, models.SeverityHigh, models.StatusQuarantined)
	if d := receive(t, b); d.Snapshot.Total != 4 {
		t.Errorf("remaining session total = %d", d.Snapshot.Total)
	}

	b.Detach()
	if owners := f.agg.Owners(); len(owners) != 1 || owners[0] != "bob" {
		t.Errorf("owners after last detach = %v", owners)
	}
}

func TestSlowSessionIsDropped(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 1)
	ctx := context.Background()

	slow, _ := f.agg.Attach(ctx, "alice")
	for i := 0; i < 3; i++ {
		f.append(t, "alice", models.ChannelEmail, models.SeverityHigh, models.StatusQuarantined)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-slow.C():
			if !ok {
				if !errors.Is(slow.Err(), ErrSlowConsumer) {
					t.Errorf("Err() = %v, want ErrSlowConsumer", slow.Err())
				}
				return
			}
			// Drain slowly so the buffer overflows.
			time.Sleep(100 * time.Millisecond)
		case <-deadline:
			t.Fatal("slow session never dropped")
		}
	}
}

func TestConcurrentAppendsDuringAttach(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 256)
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				_, _, err := f.store.Append(ctx, &models.ThreatEvent{
					Channel: models.ChannelSMS, Owner: "alice", Content: "tax refund",
					Classification: models.ClassificationThreat,
					Severity:       models.SeverityHigh,
					Status:         models.StatusQuarantined,
				}, "")
				if err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}

	sess, err := f.agg.Attach(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Detach()
	wg.Wait()

	total := sess.Initial().Total
	for total < 80 {
		d := receive(t, sess)
		if d.Snapshot.Total != total+1 {
			t.Fatalf("delta jumped from %d to %d", total, d.Snapshot.Total)
		}
		total = d.Snapshot.Total
	}

	want, _ := f.agg.compute(ctx, "alice")
	got, _ := f.agg.Snapshot(ctx, "alice")
	if !got.SameCounts(want.Stats()) {
		t.Errorf("live = %+v, recomputed = %+v", got, want.Stats())
	}
}

func TestSnapshotWithoutSession(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 4)

	f.append(t, "dave", models.ChannelEmail, models.SeverityHigh, models.StatusQuarantined)
	snap, err := f.agg.Snapshot(context.Background(), "dave")
	if err != nil {
		t.Fatal(err)
	}
	if snap.Total != 1 || len(f.agg.Owners()) != 0 {
		t.Errorf("snapshot = %+v, owners = %v", snap, f.agg.Owners())
	}

	if _, err := f.agg.Snapshot(context.Background(), ""); !errors.Is(err, ErrOwnerRequired) {
		t.Errorf("err = %v", err)
	}
}

func TestReconcileExpiresAndRepairs(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 16)
	ctx := context.Background()

	f.append(t, "alice", models.ChannelLogin, models.SeverityCritical, models.StatusBlocked)
	sess, _ := f.agg.Attach(ctx, "alice")
	defer sess.Detach()

	f.clock.Add(25 * time.Hour)
	res, err := f.agg.Reconcile(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Owners != 1 || res.Expired != 1 {
		t.Errorf("result = %+v", res)
	}
	d := receive(t, sess)
	if d.Event != nil || d.Snapshot.Total != 0 || d.Snapshot.ThreatLevel != ThreatLevelLow {
		t.Errorf("expiry delta = %+v", d)
	}

	// Corrupt the live snapshot; reconciliation must replace it.
	f.append(t, "alice", models.ChannelEmail, models.SeverityHigh, models.StatusQuarantined)
	receive(t, sess)

	f.agg.mu.Lock()
	st := f.agg.owners["alice"]
	f.agg.mu.Unlock()
	st.mu.Lock()
	broken := Build("alice", 24*time.Hour, f.clock.Now(), nil)
	broken.mark = st.snap.HighWaterMark()
	st.snap = broken
	st.mu.Unlock()

	res, err = f.agg.Reconcile(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Replaced != 1 || res.Drifted != 1 {
		t.Errorf("result = %+v", res)
	}
	if d := receive(t, sess); d.Snapshot.Total != 1 {
		t.Errorf("repaired total = %d, want 1", d.Snapshot.Total)
	}
}

func TestReconcilerStartStop(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 4)

	r := NewReconciler(f.agg, 10*time.Millisecond)
	if err := r.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !r.IsRunning() {
		t.Error("not running after Start")
	}

	deadline := time.Now().Add(5 * time.Second)
	for r.LastRun().IsZero() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if r.LastRun().IsZero() {
		t.Error("reconciler never ran")
	}

	r.Stop()
	r.Stop()
	if r.IsRunning() {
		t.Error("running after Stop")
	}
}

func TestCloseEndsSessions(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 4)

	sess, _ := f.agg.Attach(context.Background(), "alice")
	if err := f.agg.Close(); err != nil {
		t.Fatal(err)
	}
	if _, ok := <-sess.C(); ok {
		t.Error("session open after Close")
	}
	if !errors.Is(sess.Err(), ErrClosed) {
		t.Errorf("Err() = %v", sess.Err())
	}
	sess.Detach()

	if _, err := f.agg.Attach(context.Background(), "alice"); !errors.Is(err, ErrClosed) {
		t.Errorf("Attach after Close = %v", err)
	}
}

type failingQueryStore struct {
	*store.MemoryStore
}

func (failingQueryStore) Query(context.Context, models.EventFilter) ([]models.ThreatEvent, error) {
	return nil, store.ErrStoreUnavailable
}

func TestAttachBootstrapFailure(t *testing.T) {
	t.Parallel()

	a := New(failingQueryStore{store.NewMemoryStore()}, Config{})
	if _, err := a.Attach(context.Background(), "alice"); !errors.Is(err, store.ErrStoreUnavailable) {
		t.Fatalf("Attach() = %v, want ErrStoreUnavailable", err)
	}
	if len(a.Owners()) != 0 {
		t.Error("failed bootstrap left owner state behind")
	}
	if _, err := a.Attach(context.Background(), ""); !errors.Is(err, ErrOwnerRequired) {
		t.Errorf("empty owner = %v", err)
	}
}

// blockingQueryStore holds the first Query until its caller's ctx ends.
type blockingQueryStore struct {
	*store.MemoryStore
	entered chan struct{}
	once    sync.Once
}

func (s *blockingQueryStore) Query(ctx context.Context, filter models.EventFilter) ([]models.ThreatEvent, error) {
	first := false
	s.once.Do(func() { first = true })
	if first {
		close(s.entered)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return s.MemoryStore.Query(ctx, filter)
}

func TestAttachSurvivesCanceledBootstrap(t *testing.T) {
	t.Parallel()

	mem := store.NewMemoryStore()
	t.Cleanup(func() { _ = mem.Close() })
	s := &blockingQueryStore{MemoryStore: mem, entered: make(chan struct{})}
	a := New(s, Config{})
	t.Cleanup(func() { _ = a.Close() })

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := a.Attach(firstCtx, "alice")
		firstErr <- err
	}()
	<-s.entered

	type result struct {
		sess *Session
		err  error
	}
	second := make(chan result, 1)
	go func() {
		sess, err := a.Attach(context.Background(), "alice")
		second <- result{sess, err}
	}()
	// Let the second caller start waiting on the first bootstrap.
	time.Sleep(50 * time.Millisecond)
	cancelFirst()

	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Errorf("first Attach() = %v, want context.Canceled", err)
	}
	select {
	case r := <-second:
		if r.err != nil {
			t.Fatalf("second Attach() = %v, want a session", r.err)
		}
		defer r.sess.Detach()
		if owners := a.Owners(); len(owners) != 1 || owners[0] != "alice" {
			t.Errorf("owners = %v, want [alice]", owners)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("second Attach() did not return")
	}
}
