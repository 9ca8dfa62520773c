// Threatwatch - Security Threat Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/threatwatch

package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/threatwatch/internal/models"
)

// stepClock returns a clock that advances by one second per call.
func stepClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	now := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

var suiteStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type storeFactory func(t *testing.T, opts ...Option) EventStore

func threatEvent(owner string, ch models.Channel) *models.ThreatEvent {
	return &models.ThreatEvent{
		Channel:           ch,
		Source:            "attacker@example.com",
		Target:            owner + "@example.com",
		Content:           "URGENT ACTION REQUIRED",
		Classification:    models.ClassificationThreat,
		Severity:          models.SeverityHigh,
		Status:            models.StatusQuarantined,
		MatchedSignatures: []string{"verify your account", "urgent action required", "verify your account"},
		Owner:             owner,
	}
}

func safeEvent(owner string) *models.ThreatEvent {
	return &models.ThreatEvent{
		Channel:        models.ChannelSMS,
		Source:         "+15550100",
		Target:         owner,
		Content:        "Hello, dinner at 7?",
		Classification: models.ClassificationSafe,
		Severity:       models.SeverityLow,
		Status:         models.StatusDetected,
		Owner:          owner,
	}
}

// runStoreSuite exercises the EventStore contract against one backend.
func runStoreSuite(t *testing.T, factory storeFactory) {
	t.Run("AppendAssignsIDAndTime", func(t *testing.T) {
		s := factory(t, WithClock(stepClock(suiteStart)))
		ctx := context.Background()

		first, created, err := s.Append(ctx, threatEvent("alice", models.ChannelEmail), "")
		if err != nil || !created {
			t.Fatalf("Append() = %v, created=%v", err, created)
		}
		second, _, err := s.Append(ctx, safeEvent("alice"), "")
		if err != nil {
			t.Fatal(err)
		}
		if first.ID != 1 || second.ID != 2 {
			t.Errorf("ids = %d, %d; want 1, 2", first.ID, second.ID)
		}
		if !first.DetectedAt.Equal(suiteStart.Add(time.Second)) {
			t.Errorf("DetectedAt = %v", first.DetectedAt)
		}
		want := []string{"urgent action required", "verify your account"}
		if fmt.Sprint(first.MatchedSignatures) != fmt.Sprint(want) {
			t.Errorf("MatchedSignatures = %v, want %v", first.MatchedSignatures, want)
		}

		got, err := s.Get(ctx, first.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Content != first.Content || got.Status != models.StatusQuarantined || !got.DetectedAt.Equal(first.DetectedAt) {
			t.Errorf("Get() = %+v", got)
		}
		if fmt.Sprint(got.MatchedSignatures) != fmt.Sprint(want) {
			t.Errorf("stored signatures = %v", got.MatchedSignatures)
		}
	})

	t.Run("AppendRejectsInvalid", func(t *testing.T) {
		s := factory(t)
		ev := safeEvent("alice")
		ev.Status = models.StatusQuarantined
		if _, _, err := s.Append(context.Background(), ev, ""); !errors.Is(err, models.ErrInvalidEvent) {
			t.Errorf("expected ErrInvalidEvent, got %v", err)
		}
		if n, _ := s.Count(context.Background(), models.EventFilter{}); n != 0 {
			t.Errorf("invalid event stored, count = %d", n)
		}
	})

	t.Run("Idempotency", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()

		a, created, err := s.Append(ctx, threatEvent("alice", models.ChannelEmail), "msg-1")
		if err != nil || !created {
			t.Fatalf("first Append() = %v, created=%v", err, created)
		}
		b, created, err := s.Append(ctx, threatEvent("alice", models.ChannelEmail), "msg-1")
		if err != nil {
			t.Fatal(err)
		}
		if created || b.ID != a.ID {
			t.Errorf("replay created=%v id=%d, want false %d", created, b.ID, a.ID)
		}
		if b.IdempotencyKey != "msg-1" {
			t.Errorf("IdempotencyKey = %q", b.IdempotencyKey)
		}

		// Events without a key never collide.
		for i := 0; i < 2; i++ {
			if _, created, err := s.Append(ctx, safeEvent("alice"), ""); err != nil || !created {
				t.Fatalf("keyless Append() = %v, created=%v", err, created)
			}
		}
		if n, _ := s.Count(ctx, models.EventFilter{}); n != 3 {
			t.Errorf("count = %d, want 3", n)
		}
	})

	t.Run("ConcurrentAppendSameKey", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()

		var wg sync.WaitGroup
		seen := make([]int64, 16)
		for i := range seen {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				ev, _, err := s.Append(ctx, threatEvent("bob", models.ChannelSMS), "retry-key")
				if err != nil {
					t.Error(err)
					return
				}
				seen[i] = ev.ID
			}(i)
		}
		wg.Wait()

		for _, id := range seen {
			if id != seen[0] {
				t.Fatalf("different ids for one key: %v", seen)
			}
		}
		if n, _ := s.Count(ctx, models.EventFilter{}); n != 1 {
			t.Errorf("count = %d, want 1", n)
		}
	})

	t.Run("QueryOrderAndFilters", func(t *testing.T) {
		s := factory(t, WithClock(stepClock(suiteStart)))
		ctx := context.Background()

		for i := 0; i < 3; i++ {
			if _, _, err := s.Append(ctx, threatEvent("alice", models.ChannelEmail), ""); err != nil {
				t.Fatal(err)
			}
		}
		if _, _, err := s.Append(ctx, safeEvent("alice"), ""); err != nil {
			t.Fatal(err)
		}
		if _, _, err := s.Append(ctx, threatEvent("bob", models.ChannelLogin), ""); err != nil {
			t.Fatal(err)
		}

		all, err := s.Query(ctx, models.EventFilter{})
		if err != nil {
			t.Fatal(err)
		}
		if len(all) != 5 {
			t.Fatalf("len = %d, want 5", len(all))
		}
		for i := 1; i < len(all); i++ {
			if all[i-1].ID <= all[i].ID {
				t.Fatalf("not newest first: %d before %d", all[i-1].ID, all[i].ID)
			}
		}

		alice, _ := s.Query(ctx, models.EventFilter{Owner: "alice", Classification: models.ClassificationThreat})
		if len(alice) != 3 {
			t.Errorf("alice threats = %d, want 3", len(alice))
		}

		page, _ := s.Query(ctx, models.EventFilter{Owner: "alice", Limit: 2, Offset: 1})
		if len(page) != 2 || page[0].ID != 3 || page[1].ID != 2 {
			t.Errorf("page = %v", ids(page))
		}

		offsetOnly, _ := s.Query(ctx, models.EventFilter{Offset: 3})
		if len(offsetOnly) != 2 {
			t.Errorf("offset-only len = %d, want 2", len(offsetOnly))
		}

		since := suiteStart.Add(2 * time.Second)
		until := suiteStart.Add(4 * time.Second)
		window, _ := s.Query(ctx, models.EventFilter{Since: &since, Until: &until})
		if fmt.Sprint(ids(window)) != "[3 2]" {
			t.Errorf("window = %v, want [3 2] (since inclusive, until exclusive)", ids(window))
		}

		n, err := s.Count(ctx, models.EventFilter{Channel: models.ChannelLogin})
		if err != nil || n != 1 {
			t.Errorf("Count(login) = %d, %v", n, err)
		}
	})

	t.Run("GetNotFound", func(t *testing.T) {
		s := factory(t)
		if _, err := s.Get(context.Background(), 42); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("AfterIsIDOrdered", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()
		for i := 0; i < 5; i++ {
			owner := "alice"
			if i%2 == 1 {
				owner = "bob"
			}
			if _, _, err := s.Append(ctx, threatEvent(owner, models.ChannelEmail), ""); err != nil {
				t.Fatal(err)
			}
		}

		got, err := s.After(ctx, 1, models.EventFilter{Owner: "alice"}, 0)
		if err != nil {
			t.Fatal(err)
		}
		if fmt.Sprint(ids(got)) != "[3 5]" {
			t.Errorf("After(1, alice) = %v, want [3 5]", ids(got))
		}

		limited, _ := s.After(ctx, 0, models.EventFilter{}, 2)
		if fmt.Sprint(ids(limited)) != "[1 2]" {
			t.Errorf("After(0, limit 2) = %v", ids(limited))
		}
	})

	t.Run("SubscribeResumesFromCursor", func(t *testing.T) {
		s := factory(t, WithPollInterval(20*time.Millisecond), WithBatchSize(2))
		ctx := context.Background()

		for i := 0; i < 3; i++ {
			if _, _, err := s.Append(ctx, threatEvent("alice", models.ChannelEmail), ""); err != nil {
				t.Fatal(err)
			}
		}
		if _, _, err := s.Append(ctx, threatEvent("bob", models.ChannelEmail), ""); err != nil {
			t.Fatal(err)
		}

		sub, err := s.Subscribe(ctx, models.EventFilter{Owner: "alice"}, 1)
		if err != nil {
			t.Fatal(err)
		}
		got := receive(t, sub, 2)
		if fmt.Sprint(got) != "[2 3]" {
			t.Fatalf("backlog = %v, want [2 3]", got)
		}

		// Live appends are delivered after the backlog.
		if _, _, err := s.Append(ctx, threatEvent("alice", models.ChannelSMS), ""); err != nil {
			t.Fatal(err)
		}
		got = receive(t, sub, 1)
		if fmt.Sprint(got) != "[5]" {
			t.Fatalf("live = %v, want [5]", got)
		}
		if sub.Cursor() != 5 {
			t.Errorf("Cursor() = %d, want 5", sub.Cursor())
		}
		sub.Close()
		if _, ok := <-sub.C(); ok {
			t.Error("channel should be closed after Close")
		}

		resumed, err := s.Subscribe(ctx, models.EventFilter{Owner: "alice"}, 3)
		if err != nil {
			t.Fatal(err)
		}
		defer resumed.Close()
		if got := receive(t, resumed, 1); fmt.Sprint(got) != "[5]" {
			t.Errorf("resumed = %v, want [5]", got)
		}
	})

	t.Run("SubscriptionEndsOnContextCancel", func(t *testing.T) {
		s := factory(t)
		ctx, cancel := context.WithCancel(context.Background())
		sub, err := s.Subscribe(ctx, models.EventFilter{}, 0)
		if err != nil {
			t.Fatal(err)
		}
		cancel()
		select {
		case _, ok := <-sub.C():
			if ok {
				t.Error("unexpected event")
			}
		case <-time.After(2 * time.Second):
			t.Fatal("subscription did not stop")
		}
		if sub.Err() != nil {
			t.Errorf("Err() = %v, want nil", sub.Err())
		}
	})

	t.Run("ClosedStore", func(t *testing.T) {
		s := factory(t)
		sub, err := s.Subscribe(context.Background(), models.EventFilter{}, 0)
		if err != nil {
			t.Fatal(err)
		}
		if err := s.Close(); err != nil {
			t.Fatal(err)
		}
		select {
		case <-sub.C():
		case <-time.After(5 * time.Second):
			t.Fatal("subscription did not end on store close")
		}
		sub.Close()
		if !errors.Is(sub.Err(), ErrClosed) {
			t.Errorf("Err() = %v, want ErrClosed", sub.Err())
		}
		if _, _, err := s.Append(context.Background(), safeEvent("alice"), ""); !errors.Is(err, ErrClosed) {
			t.Errorf("Append after Close = %v, want ErrClosed", err)
		}
	})
}

func ids(events []models.ThreatEvent) []int64 {
	out := make([]int64, len(events))
	for i := range events {
		out[i] = events[i].ID
	}
	return out
}

func receive(t *testing.T, sub *Subscription, n int) []int64 {
	t.Helper()
	var out []int64
	timeout := time.After(5 * time.Second)
	for len(out) < n {
		select {
		case ev, ok := <-sub.C():
			if !ok {
				t.Fatalf("subscription closed after %v", out)
			}
			out = append(out, ev.ID)
		case <-timeout:
			t.Fatalf("timed out after %v", out)
		}
	}
	return out
}
