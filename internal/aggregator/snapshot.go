// Threatwatch - Security Threat Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/threatwatch

package aggregator

import (
	"sort"
	"time"

	"github.com/tomtom215/threatwatch/internal/models"
)

// ThreatLevel summarizes the events of a window.
type ThreatLevel string

const (
	ThreatLevelLow      ThreatLevel = "low"
	ThreatLevelMedium   ThreatLevel = "medium"
	ThreatLevelHigh     ThreatLevel = "high"
	ThreatLevelCritical ThreatLevel = "critical"
)

// Threat level thresholds; counts must exceed them.
const (
	highSeverityThreshold = 2
	totalEventsThreshold  = 5
)

// LevelFor derives the threat level: any critical event is critical, more
// than two high events is high, more than five events in total is medium.
func LevelFor(bySeverity map[models.Severity]int, total int) ThreatLevel {
	switch {
	case bySeverity[models.SeverityCritical] > 0:
		return ThreatLevelCritical
	case bySeverity[models.SeverityHigh] > highSeverityThreshold:
		return ThreatLevelHigh
	case total > totalEventsThreshold:
		return ThreatLevelMedium
	default:
		return ThreatLevelLow
	}
}

// StatsSnapshot is a point-in-time copy of one owner's rolling statistics.
// It is a cache: Build over the same window always yields the same counts.
type StatsSnapshot struct {
	Owner         string                  `json:"owner"`
	WindowSeconds int64                   `json:"window_seconds"`
	From          time.Time               `json:"from"`
	To            time.Time               `json:"to"`
	Total         int                     `json:"total"`
	Threats       int                     `json:"threats"`
	Contained     int                     `json:"contained"`
	ByChannel     map[models.Channel]int  `json:"by_channel"`
	BySeverity    map[models.Severity]int `json:"by_severity"`
	ThreatLevel   ThreatLevel             `json:"threat_level"`
	HighWaterMark int64                   `json:"high_water_mark"`
	UpdatedAt     time.Time               `json:"updated_at"`
}

// SameCounts reports whether both snapshots carry identical statistics.
func (s StatsSnapshot) SameCounts(o StatsSnapshot) bool {
	if s.Total != o.Total || s.Threats != o.Threats || s.Contained != o.Contained || s.ThreatLevel != o.ThreatLevel {
		return false
	}
	for _, ch := range models.Channels {
		if s.ByChannel[ch] != o.ByChannel[ch] {
			return false
		}
	}
	for _, sev := range models.Severities {
		if s.BySeverity[sev] != o.BySeverity[sev] {
			return false
		}
	}
	return true
}

// entry is the part of an event a window needs to count and expire it.
type entry struct {
	id         int64
	detectedAt time.Time
	channel    models.Channel
	severity   models.Severity
	threat     bool
	contained  bool
}

func (e entry) before(o entry) bool {
	if e.detectedAt.Equal(o.detectedAt) {
		return e.id < o.id
	}
	return e.detectedAt.Before(o.detectedAt)
}

// Snapshot is the mutable rolling window behind a StatsSnapshot. It is not
// safe for concurrent use; the aggregator gives each owner a single writer.
type Snapshot struct {
	owner   string
	window  time.Duration
	now     time.Time
	mark    int64
	entries []entry // ordered by detectedAt, then id

	total      int
	threats    int
	contained  int
	byChannel  map[models.Channel]int
	bySeverity map[models.Severity]int
}

func newSnapshot(owner string, window time.Duration, now time.Time) *Snapshot {
	return &Snapshot{
		owner:      owner,
		window:     window,
		now:        now,
		byChannel:  make(map[models.Channel]int, len(models.Channels)),
		bySeverity: make(map[models.Severity]int, len(models.Severities)),
	}
}

// Build computes a snapshot from scratch. Events outside [now-window, now]
// or belonging to another owner are ignored; the high-water mark is the
// largest ID seen.
func Build(owner string, window time.Duration, now time.Time, events []models.ThreatEvent) *Snapshot {
	s := newSnapshot(owner, window, now)
	for i := range events {
		ev := &events[i]
		if ev.ID > s.mark {
			s.mark = ev.ID
		}
		if ev.Owner != owner || !s.inWindow(ev.DetectedAt) {
			continue
		}
		s.insert(toEntry(ev))
	}
	return s
}

func toEntry(ev *models.ThreatEvent) entry {
	return entry{
		id:         ev.ID,
		detectedAt: ev.DetectedAt,
		channel:    ev.Channel,
		severity:   ev.Severity,
		threat:     ev.IsThreat(),
		contained:  ev.Status.IsContained(),
	}
}

func (s *Snapshot) from() time.Time {
	return s.now.Add(-s.window)
}

func (s *Snapshot) inWindow(t time.Time) bool {
	return !t.Before(s.from())
}

// Apply adds one live event. Events at or below the high-water mark were
// already counted and are ignored, as are events of other owners and events
// older than the window. It reports whether the counts changed.
func (s *Snapshot) Apply(ev *models.ThreatEvent) bool {
	if ev.ID <= s.mark {
		return false
	}
	s.mark = ev.ID
	if ev.Owner != s.owner || !s.inWindow(ev.DetectedAt) {
		return false
	}
	if ev.DetectedAt.After(s.now) {
		s.now = ev.DetectedAt
	}
	s.insert(toEntry(ev))
	return true
}

// Advance moves the window end to now and drops expired events. It returns
// the number of events dropped.
func (s *Snapshot) Advance(now time.Time) int {
	if now.After(s.now) {
		s.now = now
	}
	cut := sort.Search(len(s.entries), func(i int) bool {
		return s.inWindow(s.entries[i].detectedAt)
	})
	for _, e := range s.entries[:cut] {
		s.count(e, -1)
	}
	s.entries = append(s.entries[:0], s.entries[cut:]...)
	return cut
}

func (s *Snapshot) insert(e entry) {
	i := sort.Search(len(s.entries), func(i int) bool { return e.before(s.entries[i]) })
	s.entries = append(s.entries, entry{})
	copy(s.entries[i+1:], s.entries[i:])
	s.entries[i] = e
	s.count(e, 1)
}

func (s *Snapshot) count(e entry, delta int) {
	s.total += delta
	s.byChannel[e.channel] += delta
	s.bySeverity[e.severity] += delta
	if e.threat {
		s.threats += delta
	}
	if e.contained {
		s.contained += delta
	}
}

// HighWaterMark returns the largest event ID folded into the snapshot.
func (s *Snapshot) HighWaterMark() int64 {
	return s.mark
}

// Len returns the number of events inside the window.
func (s *Snapshot) Len() int {
	return len(s.entries)
}

// Stats returns an independent copy of the current statistics.
func (s *Snapshot) Stats() StatsSnapshot {
	byChannel := make(map[models.Channel]int, len(models.Channels))
	for _, ch := range models.Channels {
		byChannel[ch] = s.byChannel[ch]
	}
	bySeverity := make(map[models.Severity]int, len(models.Severities))
	for _, sev := range models.Severities {
		bySeverity[sev] = s.bySeverity[sev]
	}

	return StatsSnapshot{
		Owner:         s.owner,
		WindowSeconds: int64(s.window / time.Second),
		From:          s.from(),
		To:            s.now,
		Total:         s.total,
		Threats:       s.threats,
		Contained:     s.contained,
		ByChannel:     byChannel,
		BySeverity:    bySeverity,
		ThreatLevel:   LevelFor(bySeverity, s.total),
		HighWaterMark: s.mark,
		UpdatedAt:     s.now,
	}
}
