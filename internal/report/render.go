// Threatwatch - Security Threat Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/threatwatch

package report

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/threatwatch/internal/models"
)

const (
	title         = "THREATWATCH SECURITY REPORT"
	separator     = "==================================="
	timestampNote = "Only the Generated line varies between runs over the same events and window."
)

func render(f Format, d data, generated time.Time) ([]byte, error) {
	switch f {
	case FormatJSON:
		return renderJSON(d, generated)
	case FormatCSV:
		return renderCSV(d, generated)
	default:
		return renderText(d, generated), nil
	}
}

func periodLabel(p Period) string {
	if p == PeriodDefault {
		return "DEFAULT"
	}
	return strings.ToUpper(string(p))
}

func renderText(d data, generated time.Time) []byte {
	var b bytes.Buffer
	w := func(format string, args ...interface{}) {
		fmt.Fprintf(&b, format+"\n", args...)
	}

	w(title)
	w("Generated: %s", generated.UTC().Format(time.RFC3339))
	w("Note: %s", timestampNote)
	w("Report Type: %s", strings.ToUpper(string(d.kind)))
	w("Time Period: %s", periodLabel(d.req.Period))
	w("Owner: %s", d.req.Owner)
	w("From: %s", d.window.From.UTC().Format(time.RFC3339))
	w("To: %s", d.window.To.UTC().Format(time.RFC3339))
	w("")
	w(separator)
	w("")

	if d.training != nil {
		t := d.training
		w("TRAINING PROGRESS:")
		w("  Total modules:       %d", t.TotalModules)
		w("  Completed modules:   %d", t.CompletedModules)
		w("  In-progress modules: %d", t.InProgressModules)
		w("  Total points:        %d", t.TotalPoints)
	} else {
		s := d.summary
		w("SUMMARY:")
		w("  Total events:  %d", s.TotalEvents)
		w("  Threats:       %d", s.Threats)
		w("  Email threats: %d", s.EmailThreats)
		w("  SMS threats:   %d", s.SMSThreats)
		w("  Login threats: %d", s.LoginThreats)
		w("  Quarantined:   %d", s.Quarantined)
		w("  Blocked:       %d", s.Blocked)
		w("  Alerts:        %d", s.Alerts)
		w("")
		w("SEVERITY:")
		w("  Critical: %d", s.BySeverity.Critical)
		w("  High:     %d", s.BySeverity.High)
		w("  Medium:   %d", s.BySeverity.Medium)
		w("  Low:      %d", s.BySeverity.Low)
		w("")
		w("THREAT EVENTS:")
		if len(d.threats) == 0 {
			w("  none")
		}
		for i := range d.threats {
			ev := &d.threats[i]
			w("  #%d %s %s %s %s %s -> %s [%s]",
				ev.ID, ev.DetectedAt.UTC().Format(time.RFC3339), ev.Channel, ev.Severity, ev.Status,
				ev.Source, ev.Target, strings.Join(ev.MatchedSignatures, ", "))
		}
	}

	w("")
	w(separator)
	w("Generated by Threatwatch")
	return b.Bytes()
}

type jsonEvent struct {
	ID                int64           `json:"id"`
	DetectedAt        time.Time       `json:"detected_at"`
	Channel           models.Channel  `json:"channel"`
	Severity          models.Severity `json:"severity"`
	Status            models.Status   `json:"status"`
	Source            string          `json:"source"`
	Target            string          `json:"target"`
	MatchedSignatures []string        `json:"matched_signatures"`
}

type jsonDocument struct {
	GeneratedAt  string            `json:"generated_at"`
	Note         string            `json:"note"`
	ReportType   Kind              `json:"report_type"`
	TimePeriod   Period            `json:"time_period"`
	Owner        string            `json:"owner"`
	From         time.Time         `json:"from"`
	To           time.Time         `json:"to"`
	Summary      *Summary          `json:"summary,omitempty"`
	Training     *TrainingProgress `json:"training,omitempty"`
	ThreatEvents []jsonEvent       `json:"threat_events,omitempty"`
}

func renderJSON(d data, generated time.Time) ([]byte, error) {
	doc := jsonDocument{
		GeneratedAt: generated.UTC().Format(time.RFC3339),
		Note:        timestampNote,
		ReportType:  d.kind,
		TimePeriod:  d.req.Period,
		Owner:       d.req.Owner,
		From:        d.window.From.UTC(),
		To:          d.window.To.UTC(),
		Summary:     d.summary,
		Training:    d.training,
	}
	if d.summary != nil {
		doc.ThreatEvents = make([]jsonEvent, 0, len(d.threats))
		for i := range d.threats {
			ev := &d.threats[i]
			sigs := ev.MatchedSignatures
			if sigs == nil {
				sigs = []string{}
			}
			doc.ThreatEvents = append(doc.ThreatEvents, jsonEvent{
				ID:                ev.ID,
				DetectedAt:        ev.DetectedAt.UTC(),
				Channel:           ev.Channel,
				Severity:          ev.Severity,
				Status:            ev.Status,
				Source:            ev.Source,
				Target:            ev.Target,
				MatchedSignatures: sigs,
			})
		}
	}

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode json report: %w", err)
	}
	return append(out, '\n'), nil
}

func renderCSV(d data, generated time.Time) ([]byte, error) {
	var b bytes.Buffer
	fmt.Fprintf(&b, "# Generated: %s\n", generated.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "# Note: %s\n", timestampNote)
	fmt.Fprintf(&b, "# Report Type: %s\n", strings.ToUpper(string(d.kind)))
	fmt.Fprintf(&b, "# Time Period: %s\n", periodLabel(d.req.Period))
	fmt.Fprintf(&b, "# From: %s\n", d.window.From.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "# To: %s\n", d.window.To.UTC().Format(time.RFC3339))

	cw := csv.NewWriter(&b)
	var rows [][]string
	if d.training != nil {
		t := d.training
		rows = [][]string{
			{"metric", "value"},
			{"total_modules", strconv.Itoa(t.TotalModules)},
			{"completed_modules", strconv.Itoa(t.CompletedModules)},
			{"in_progress_modules", strconv.Itoa(t.InProgressModules)},
			{"total_points", strconv.Itoa(t.TotalPoints)},
		}
	} else {
		rows = [][]string{{"id", "detected_at", "owner", "channel", "classification", "severity", "status", "source", "target", "matched_signatures"}}
		for i := range d.threats {
			ev := &d.threats[i]
			rows = append(rows, []string{
				strconv.FormatInt(ev.ID, 10),
				ev.DetectedAt.UTC().Format(time.RFC3339),
				ev.Owner,
				string(ev.Channel),
				string(ev.Classification),
				string(ev.Severity),
				string(ev.Status),
				ev.Source,
				ev.Target,
				strings.Join(ev.MatchedSignatures, ";"),
			})
		}
	}
	if err := cw.WriteAll(rows); err != nil {
		return nil, fmt.Errorf("encode csv report: %w", err)
	}
	return b.Bytes(), nil
}
