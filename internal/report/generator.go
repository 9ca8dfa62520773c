// Threatwatch - Security Threat Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/threatwatch

package report

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/threatwatch/internal/logging"
	"github.com/tomtom215/threatwatch/internal/metrics"
	"github.com/tomtom215/threatwatch/internal/models"
)

// EventSource is the read side of the event store.
type EventSource interface {
	Query(ctx context.Context, filter models.EventFilter) ([]models.ThreatEvent, error)
}

// Config tunes a Generator.
type Config struct {
	// Timeout bounds one generation. Zero means no timeout.
	Timeout time.Duration
	// DefaultPeriodDays is used for an empty period. Default 30.
	DefaultPeriodDays int
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// Generator renders reports.
type Generator struct {
	events   EventSource
	training TrainingProgressSource
	cfg      Config
}

// NewGenerator creates a generator. A nil training source means StaticTraining.
func NewGenerator(events EventSource, training TrainingProgressSource, cfg Config) *Generator {
	if training == nil {
		training = StaticTraining{}
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.DefaultPeriodDays <= 0 {
		cfg.DefaultPeriodDays = 30
	}
	return &Generator{events: events, training: training, cfg: cfg}
}

// Summary holds the aggregates of a security report.
type Summary struct {
	TotalEvents  int               `json:"total_events"`
	Threats      int               `json:"threats"`
	EmailThreats int               `json:"email_threats"`
	SMSThreats   int               `json:"sms_threats"`
	LoginThreats int               `json:"login_threats"`
	Quarantined  int               `json:"quarantined"`
	Blocked      int               `json:"blocked"`
	Alerts       int               `json:"alerts"`
	BySeverity   SeverityBreakdown `json:"by_severity"`
}

// SeverityBreakdown counts events per severity.
type SeverityBreakdown struct {
	Low      int `json:"low"`
	Medium   int `json:"medium"`
	High     int `json:"high"`
	Critical int `json:"critical"`
}

func (b *SeverityBreakdown) add(s models.Severity) {
	switch s {
	case models.SeverityLow:
		b.Low++
	case models.SeverityMedium:
		b.Medium++
	case models.SeverityHigh:
		b.High++
	case models.SeverityCritical:
		b.Critical++
	}
}

// data is everything a renderer needs; it never contains the generation time.
type data struct {
	req      Request
	kind     Kind
	window   Range
	summary  *Summary
	threats  []models.ThreatEvent
	training *TrainingProgress
}

// Generate builds and renders one report. Any failure is a *GenerationError.
// An unknown kind produces a security report and an unknown period covers the
// default number of days.
func (g *Generator) Generate(ctx context.Context, req Request) (*Report, error) {
	start := time.Now()
	if req.Format == "" {
		req.Format = FormatText
	}
	if !req.Kind.valid() {
		if req.Kind != "" {
			logging.Ctx(ctx).Debug().Str("kind", string(req.Kind)).Msg("Unknown report type, generating security report")
		}
		req.Kind = KindSecurity
	}
	if !req.Period.known() {
		logging.Ctx(ctx).Debug().Str("period", string(req.Period)).Msg("Unknown report period, using default window")
		req.Period = PeriodDefault
	}

	rep, err := g.generate(ctx, req)
	if err != nil {
		metrics.ReportErrors.WithLabelValues(string(req.Kind)).Inc()
		logging.Ctx(ctx).Error().Err(err).
			Str("kind", string(req.Kind)).
			Str("period", string(req.Period)).
			Msg("Report generation failed")
		return nil, &GenerationError{Kind: req.Kind, Period: req.Period, Err: err}
	}

	metrics.ReportDuration.WithLabelValues(string(req.Kind), string(req.Format)).Observe(time.Since(start).Seconds())
	return rep, nil
}

func (g *Generator) generate(ctx context.Context, req Request) (*Report, error) {
	if req.Owner == "" {
		return nil, fmt.Errorf("%w: owner is required", ErrInvalidRequest)
	}
	if !req.Format.valid() {
		return nil, fmt.Errorf("%w: unknown format %q", ErrInvalidRequest, req.Format)
	}

	if g.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
	}

	now := g.cfg.Clock().UTC()
	window, err := Resolve(req.Period, now, req.From, req.To, g.cfg.DefaultPeriodDays)
	if err != nil {
		return nil, err
	}

	d := data{req: req, kind: req.Kind, window: window}
	if d.kind == KindThreats {
		d.kind = KindSecurity
	}

	switch d.kind {
	case KindTraining:
		progress, err := g.training.Progress(ctx, req.Owner)
		if err != nil {
			return nil, fmt.Errorf("training progress: %w", err)
		}
		d.training = &progress
	default:
		events, err := g.events.Query(ctx, models.EventFilter{
			Owner: req.Owner,
			Since: &window.From,
			Until: window.Until,
		})
		if err != nil {
			return nil, fmt.Errorf("query events: %w", err)
		}
		d.summary, d.threats = summarize(events)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	content, err := render(req.Format, d, now)
	if err != nil {
		return nil, err
	}

	return &Report{
		Content:  content,
		MimeType: req.Format.mimeType(),
		Filename: filename(req, window),
	}, nil
}

func summarize(events []models.ThreatEvent) (*Summary, []models.ThreatEvent) {
	s := &Summary{}

	var threats []models.ThreatEvent
	for i := range events {
		ev := &events[i]
		s.TotalEvents++
		s.BySeverity.add(ev.Severity)
		switch ev.Status {
		case models.StatusQuarantined:
			s.Quarantined++
		case models.StatusBlocked:
			s.Blocked++
		}
		if !ev.IsThreat() {
			continue
		}
		s.Threats++
		threats = append(threats, *ev)
		switch ev.Channel {
		case models.ChannelEmail:
			s.EmailThreats++
		case models.ChannelSMS:
			s.SMSThreats++
		case models.ChannelLogin:
			s.LoginThreats++
		}
	}
	// One alert is raised per threat event.
	s.Alerts = s.Threats
	return s, threats
}

func filename(req Request, window Range) string {
	period := string(req.Period)
	if period == "" {
		period = "default"
	}
	return fmt.Sprintf("threatwatch-%s-report-%s-%s.%s",
		req.Kind, period, window.From.Format("20060102"), req.Format.extension())
}
