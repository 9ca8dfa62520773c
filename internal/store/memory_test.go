// Threatwatch - Security Threat Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/threatwatch

package store

import (
	"context"
	"testing"

	"github.com/tomtom215/threatwatch/internal/models"
)

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T, opts ...Option) EventStore {
		s := NewMemoryStore(opts...)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ev, _, err := s.Append(context.Background(), threatEvent("alice", models.ChannelEmail), "")
	if err != nil {
		t.Fatal(err)
	}
	ev.MatchedSignatures[0] = "tampered"
	ev.Status = models.StatusReviewed

	got, _ := s.Get(context.Background(), ev.ID)
	if got.MatchedSignatures[0] == "tampered" || got.Status != models.StatusQuarantined {
		t.Errorf("stored event was mutated through a returned copy: %+v", got)
	}
}

func TestNormalizeSignatures(t *testing.T) {
	t.Parallel()

	got := normalizeSignatures([]string{"b", "a", "b", "c", "a"})
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("normalizeSignatures = %v", got)
	}
	if normalizeSignatures(nil) != nil {
		t.Error("expected nil for no signatures")
	}
}

func TestPaginate(t *testing.T) {
	t.Parallel()

	events := make([]models.ThreatEvent, 5)
	tests := []struct {
		limit, offset, want int
	}{
		{0, 0, 5},
		{2, 0, 2},
		{2, 4, 1},
		{0, 3, 2},
		{10, 10, 0},
	}
	for _, tt := range tests {
		if got := len(paginate(events, tt.limit, tt.offset)); got != tt.want {
			t.Errorf("paginate(limit=%d, offset=%d) len = %d, want %d", tt.limit, tt.offset, got, tt.want)
		}
	}
}
