// Threatwatch - Security Threat Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/threatwatch

package aggregator

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/tomtom215/threatwatch/internal/models"
)

const (
	defaultTrendDays = 7
	maxTrendDays     = 366
	dayLayout        = "2006-01-02"
)

// DayTrend is one UTC day of an owner's events.
type DayTrend struct {
	Date      string `json:"date"`
	Events    int    `json:"events"`
	Threats   int    `json:"threats"`
	Critical  int    `json:"critical"`
	High      int    `json:"high"`
	Contained int    `json:"contained"`

	Emails       int `json:"emails"`
	EmailThreats int `json:"email_threats"`
	EmailSafe    int `json:"email_safe"`
}

// Trends is the dashboard view over the last N days.
type Trends struct {
	Owner     string     `json:"owner"`
	From      time.Time  `json:"from"`
	To        time.Time  `json:"to"`
	Days      []DayTrend `json:"days"`
	Threats   int        `json:"threats"`
	Contained int        `json:"contained"`
	// DetectionRate is the contained share of threats in percent, one decimal.
	DetectionRate float64 `json:"detection_rate"`
	// ThreatGrowth is today's threat count minus yesterday's.
	ThreatGrowth int `json:"threat_growth"`
}

// Dashboard computes per-day trends for the last days UTC days, today
// included. days <= 0 means seven.
func (a *Aggregator) Dashboard(ctx context.Context, owner string, days int) (*Trends, error) {
	if owner == "" {
		return nil, ErrOwnerRequired
	}
	if days <= 0 {
		days = defaultTrendDays
	}
	if days > maxTrendDays {
		days = maxTrendDays
	}

	now := a.clock().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	from := today.AddDate(0, 0, -(days - 1))

	events, err := a.store.Query(ctx, models.EventFilter{Owner: owner, Since: &from})
	if err != nil {
		return nil, fmt.Errorf("dashboard trends for %s: %w", owner, err)
	}

	t := &Trends{Owner: owner, From: from, To: now, Days: make([]DayTrend, days)}
	index := make(map[string]int, days)
	for i := range t.Days {
		date := from.AddDate(0, 0, i).Format(dayLayout)
		t.Days[i].Date = date
		index[date] = i
	}

	for i := range events {
		ev := &events[i]
		pos, ok := index[ev.DetectedAt.UTC().Format(dayLayout)]
		if !ok {
			continue
		}
		day := &t.Days[pos]
		day.Events++
		if ev.Channel == models.ChannelEmail {
			day.Emails++
		}
		if !ev.IsThreat() {
			if ev.Channel == models.ChannelEmail {
				day.EmailSafe++
			}
			continue
		}

		day.Threats++
		t.Threats++
		if ev.Channel == models.ChannelEmail {
			day.EmailThreats++
		}
		switch ev.Severity {
		case models.SeverityCritical:
			day.Critical++
		case models.SeverityHigh:
			day.High++
		}
		if ev.Status.IsContained() {
			day.Contained++
			t.Contained++
		}
	}

	if t.Threats > 0 {
		t.DetectionRate = math.Round(float64(t.Contained)/float64(t.Threats)*1000) / 10
	}
	if days >= 2 {
		t.ThreatGrowth = t.Days[days-1].Threats - t.Days[days-2].Threats
	}
	return t, nil
}
