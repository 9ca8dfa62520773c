// Threatwatch - Security Threat Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/threatwatch

// Package report renders on-demand security reports from the event store.
//
// Generation is read-only. Two runs over the same stored events and the same
// window produce identical bytes except for one generation timestamp line,
// which every format marks explicitly:
//
//	text  "Generated: <RFC3339>"
//	csv   "# Generated: <RFC3339>"
//	json  the "generated_at" member, on its own line
package report

import (
	"errors"
	"fmt"
	"time"
)

// Kind selects the report content.
type Kind string

const (
	KindSecurity Kind = "security"
	// KindThreats is an alias of KindSecurity.
	KindThreats  Kind = "threats"
	KindTraining Kind = "training"
)

// Period names a report window relative to the generation time.
type Period string

const (
	PeriodWeek    Period = "week"
	PeriodMonth   Period = "month"
	PeriodQuarter Period = "quarter"
	PeriodYear    Period = "year"
	PeriodCustom  Period = "custom"
	// PeriodDefault covers the configured default number of days.
	PeriodDefault Period = ""
)

// Format selects the encoding.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// ErrInvalidRequest is wrapped for unknown kinds, periods, formats and
// malformed custom ranges.
var ErrInvalidRequest = errors.New("invalid report request")

// Request describes one report.
type Request struct {
	Owner  string     `json:"owner" validate:"notblank,max=256"`
	Kind   Kind       `json:"report_type"`
	Period Period     `json:"time_period"`
	Format Format     `json:"format"`
	From   *time.Time `json:"from,omitempty"`
	To     *time.Time `json:"to,omitempty"`
}

// Report is rendered content ready to download.
type Report struct {
	Content  []byte `json:"content"`
	MimeType string `json:"mime_type"`
	Filename string `json:"filename"`
}

// GenerationError reports a failed generation. No partial content is
// returned with it.
type GenerationError struct {
	Kind   Kind
	Period Period
	Err    error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generate %s report for period %q: %v", e.Kind, e.Period, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

func (k Kind) valid() bool {
	switch k {
	case KindSecurity, KindThreats, KindTraining:
		return true
	}
	return false
}

func (p Period) known() bool {
	switch p {
	case PeriodDefault, PeriodWeek, PeriodMonth, PeriodQuarter, PeriodYear, PeriodCustom:
		return true
	}
	return false
}

func (f Format) valid() bool {
	switch f {
	case FormatText, FormatJSON, FormatCSV:
		return true
	}
	return false
}

func (f Format) mimeType() string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatCSV:
		return "text/csv"
	default:
		return "text/plain"
	}
}

func (f Format) extension() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatCSV:
		return "csv"
	default:
		return "txt"
	}
}
