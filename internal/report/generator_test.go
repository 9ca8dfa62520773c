// Threatwatch - Security Threat Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/threatwatch

package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/threatwatch/internal/classifier"
	"github.com/tomtom215/threatwatch/internal/ingest"
	"github.com/tomtom215/threatwatch/internal/models"
	"github.com/tomtom215/threatwatch/internal/store"
)

var t0 = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

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
	gen   *Generator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := &testClock{now: t0}
	s := store.NewMemoryStore(store.WithClock(clk.Now))
	t.Cleanup(func() { _ = s.Close() })
	return &fixture{
		clock: clk,
		store: s,
		gen:   NewGenerator(s, nil, Config{Clock: clk.Now, Timeout: 5 * time.Second}),
	}
}

func (f *fixture) append(t *testing.T, owner string, ch models.Channel, class models.Classification, sev models.Severity, st models.Status) {
	t.Helper()
	ev := &models.ThreatEvent{
		Channel:        ch,
		Source:         "src@example.com",
		Target:         owner + "@example.com",
		Content:        "content",
		Classification: class,
		Severity:       sev,
		Status:         st,
		Owner:          owner,
	}
	if class == models.ClassificationThreat {
		ev.MatchedSignatures = []string{"verify your account"}
	}
	if _, _, err := f.store.Append(context.Background(), ev, ""); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
}

func (f *fixture) seed(t *testing.T) {
	t.Helper()
	f.append(t, "alice", models.ChannelEmail, models.ClassificationThreat, models.SeverityHigh, models.StatusQuarantined)
	f.append(t, "alice", models.ChannelSMS, models.ClassificationSafe, models.SeverityLow, models.StatusDetected)
	f.append(t, "alice", models.ChannelSMS, models.ClassificationThreat, models.SeverityHigh, models.StatusQuarantined)
	f.append(t, "alice", models.ChannelLogin, models.ClassificationThreat, models.SeverityCritical, models.StatusBlocked)
	f.append(t, "bob", models.ChannelEmail, models.ClassificationThreat, models.SeverityHigh, models.StatusQuarantined)
}

// withoutTimestamp drops the single line allowed to differ between runs.
func withoutTimestamp(t *testing.T, content []byte) string {
	t.Helper()
	var kept []string
	removed := 0
	for _, line := range strings.Split(string(content), "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "Generated: ") ||
			strings.HasPrefix(trimmed, "# Generated: ") ||
			strings.HasPrefix(trimmed, `"generated_at": `) {
			removed++
			continue
		}
		kept = append(kept, line)
	}
	if removed != 1 {
		t.Fatalf("expected exactly one timestamp line, found %d in:\n%s", removed, content)
	}
	return strings.Join(kept, "\n")
}

func TestGenerateDeterministic(t *testing.T) {
	t.Parallel()

	for _, format := range []Format{FormatText, FormatJSON, FormatCSV} {
		t.Run(string(format), func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			f.seed(t)

			from, to := t0.Add(-time.Hour), t0.Add(time.Hour)
			req := Request{Owner: "alice", Kind: KindSecurity, Period: PeriodCustom, Format: format, From: &from, To: &to}

			first, err := f.gen.Generate(context.Background(), req)
			if err != nil {
				t.Fatalf("Generate() error = %v", err)
			}
			f.clock.Add(90 * time.Minute)
			second, err := f.gen.Generate(context.Background(), req)
			if err != nil {
				t.Fatalf("Generate() error = %v", err)
			}

			if bytes.Equal(first.Content, second.Content) {
				t.Fatal("expected generation timestamps to differ")
			}
			if withoutTimestamp(t, first.Content) != withoutTimestamp(t, second.Content) {
				t.Errorf("reports differ beyond the timestamp line:\n%s\n---\n%s", first.Content, second.Content)
			}
			if first.Filename != second.Filename || first.MimeType != format.mimeType() {
				t.Errorf("filename/mime = %s %s", first.Filename, first.MimeType)
			}
		})
	}
}

func TestGenerateSecuritySummary(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.seed(t)

	rep, err := f.gen.Generate(context.Background(), Request{Owner: "alice", Period: PeriodWeek, Format: FormatJSON})
	if err != nil {
		t.Fatal(err)
	}

	var doc struct {
		GeneratedAt  string            `json:"generated_at"`
		ReportType   string            `json:"report_type"`
		Summary      Summary           `json:"summary"`
		ThreatEvents []json.RawMessage `json:"threat_events"`
	}
	if err := json.Unmarshal(rep.Content, &doc); err != nil {
		t.Fatalf("invalid json: %v\n%s", err, rep.Content)
	}
	if doc.GeneratedAt != t0.Format(time.RFC3339) || doc.ReportType != "security" {
		t.Errorf("header = %q %q", doc.GeneratedAt, doc.ReportType)
	}

	want := Summary{
		TotalEvents: 4, Threats: 3, EmailThreats: 1, SMSThreats: 1, LoginThreats: 1,
		Quarantined: 2, Blocked: 1, Alerts: 3,
		BySeverity: SeverityBreakdown{Low: 1, High: 2, Critical: 1},
	}
	if doc.Summary != want {
		t.Errorf("summary = %+v, want %+v", doc.Summary, want)
	}
	if len(doc.ThreatEvents) != 3 {
		t.Errorf("threat events = %d", len(doc.ThreatEvents))
	}
	if rep.Filename != "threatwatch-security-report-week-20260303.json" {
		t.Errorf("filename = %s", rep.Filename)
	}
}

func TestGenerateWeekAfterFlaggedLogins(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	c, err := classifier.New(classifier.DefaultSignatureSet())
	if err != nil {
		t.Fatal(err)
	}
	gw := ingest.NewGateway(c, f.store, nil)
	for i := 0; i < 6; i++ {
		_, err := gw.Submit(context.Background(), ingest.Submission{
			Channel: models.ChannelLogin,
			Source:  "203.0.113.7",
			Target:  "alice",
			Content: "suspicious activity: repeated failed logins",
			Owner:   "alice",
			Flagged: true,
		})
		if err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
		f.clock.Add(time.Hour)
	}

	rep, err := f.gen.Generate(context.Background(), Request{Owner: "alice", Kind: KindThreats, Period: PeriodWeek})
	if err != nil {
		t.Fatal(err)
	}
	text := string(rep.Content)
	for _, want := range []string{"Report Type: SECURITY", "Time Period: WEEK", "Login threats: 6", "Blocked:       6", "Critical: 6"} {
		if !strings.Contains(text, want) {
			t.Errorf("report missing %q:\n%s", want, text)
		}
	}
	if got := strings.Count(text, " login critical blocked "); got != 6 {
		t.Errorf("listed login threat events = %d, want 6", got)
	}
	if rep.MimeType != "text/plain" {
		t.Errorf("mime = %s", rep.MimeType)
	}
}

func TestGeneratePeriodExcludesOlderEvents(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.clock.Add(-10 * 24 * time.Hour)
	f.append(t, "alice", models.ChannelEmail, models.ClassificationThreat, models.SeverityHigh, models.StatusQuarantined)
	f.clock.Add(10 * 24 * time.Hour)
	f.append(t, "alice", models.ChannelSMS, models.ClassificationThreat, models.SeverityHigh, models.StatusQuarantined)

	tests := []struct {
		period Period
		total  string
	}{
		{PeriodWeek, "Total events:  1"},
		{PeriodMonth, "Total events:  2"},
		{PeriodDefault, "Total events:  2"},
	}
	for _, tt := range tests {
		rep, err := f.gen.Generate(context.Background(), Request{Owner: "alice", Period: tt.period})
		if err != nil {
			t.Fatalf("%q: %v", tt.period, err)
		}
		if !strings.Contains(string(rep.Content), tt.total) {
			t.Errorf("%q: expected %q in\n%s", tt.period, tt.total, rep.Content)
		}
	}
}

func TestGenerateCSV(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.seed(t)

	rep, err := f.gen.Generate(context.Background(), Request{Owner: "alice", Period: PeriodWeek, Format: FormatCSV})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(rep.Content), "# Generated: ") {
		t.Errorf("csv must start with the timestamp comment:\n%s", rep.Content)
	}

	r := csv.NewReader(bytes.NewReader(rep.Content))
	r.Comment = '#'
	records, err := r.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 4 || records[0][0] != "id" {
		t.Fatalf("records = %v", records)
	}
	if records[3][3] != "login" || records[3][6] != "blocked" {
		t.Errorf("last row = %v", records[3])
	}
}

func TestGenerateTraining(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	gen := NewGenerator(f.store, StaticTraining{
		Completed:  map[string]int{"alice": 3},
		InProgress: map[string]int{"alice": 1},
	}, Config{Clock: f.clock.Now})

	rep, err := gen.Generate(context.Background(), Request{Owner: "alice", Kind: KindTraining, Format: FormatJSON})
	if err != nil {
		t.Fatal(err)
	}
	var doc struct {
		Training TrainingProgress `json:"training"`
		Summary  *Summary         `json:"summary"`
	}
	if err := json.Unmarshal(rep.Content, &doc); err != nil {
		t.Fatal(err)
	}
	want := TrainingProgress{TotalModules: 5, CompletedModules: 3, InProgressModules: 1, TotalPoints: 150}
	if doc.Training != want || doc.Summary != nil {
		t.Errorf("training = %+v summary = %v", doc.Training, doc.Summary)
	}
}

type failingSource struct{ err error }

func (s failingSource) Query(context.Context, models.EventFilter) ([]models.ThreatEvent, error) {
	return nil, s.err
}

func (s failingSource) Progress(context.Context, string) (TrainingProgress, error) {
	return TrainingProgress{}, s.err
}

func TestGenerateErrors(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	from := t0

	tests := []struct {
		name    string
		gen     *Generator
		req     Request
		invalid bool
		wantErr error
	}{
		{"unknown format", f.gen, Request{Owner: "alice", Format: "pdf"}, true, nil},
		{"missing owner", f.gen, Request{}, true, nil},
		{"custom without to", f.gen, Request{Owner: "alice", Period: PeriodCustom, From: &from}, true, nil},
		{"store down", NewGenerator(failingSource{store.ErrStoreUnavailable}, nil, Config{}),
			Request{Owner: "alice", Period: PeriodWeek}, false, store.ErrStoreUnavailable},
		{"training down", NewGenerator(f.store, failingSource{errors.New("catalog offline")}, Config{}),
			Request{Owner: "alice", Kind: KindTraining}, false, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rep, err := tt.gen.Generate(context.Background(), tt.req)
			if rep != nil {
				t.Error("no content may be returned on failure")
			}
			var gerr *GenerationError
			if !errors.As(err, &gerr) {
				t.Fatalf("expected *GenerationError, got %v", err)
			}
			if gerr.Kind == "" {
				t.Error("generation error must carry the report kind")
			}
			if tt.invalid != errors.Is(err, ErrInvalidRequest) {
				t.Errorf("errors.Is(ErrInvalidRequest) = %v", !tt.invalid)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v in chain, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestGenerateFallsBackForUnknownKindAndPeriod(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.seed(t)
	ctx := context.Background()

	want, err := f.gen.Generate(ctx, Request{Owner: "alice", Kind: KindSecurity})
	if err != nil {
		t.Fatalf("Generate(security, default) error = %v", err)
	}

	for _, req := range []Request{
		{Owner: "alice", Kind: "payroll"},
		{Owner: "alice", Period: "decade"},
		{Owner: "alice", Kind: "payroll", Period: "decade"},
	} {
		got, err := f.gen.Generate(ctx, req)
		if err != nil {
			t.Fatalf("Generate(%q, %q) error = %v", req.Kind, req.Period, err)
		}
		if got.Filename != want.Filename {
			t.Errorf("Generate(%q, %q) filename = %s, want %s", req.Kind, req.Period, got.Filename, want.Filename)
		}
		if withoutTimestamp(t, got.Content) != withoutTimestamp(t, want.Content) {
			t.Errorf("Generate(%q, %q) differs from the default security report:\n%s", req.Kind, req.Period, got.Content)
		}
	}
}

func TestGenerateCancelled(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.seed(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.gen.Generate(ctx, Request{Owner: "alice", Period: PeriodMonth})
	var gerr *GenerationError
	if !errors.As(err, &gerr) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancelled GenerationError, got %v", err)
	}
	if gerr.Period != PeriodMonth || gerr.Kind != KindSecurity {
		t.Errorf("context = %s/%s", gerr.Kind, gerr.Period)
	}
}
