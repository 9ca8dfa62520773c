// Threatwatch - Security Threat Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/threatwatch

package classifier

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"unicode"

	"github.com/tomtom215/threatwatch/internal/models"
)

func newDefault(t *testing.T) *Classifier {
	t.Helper()
	c, err := New(DefaultSignatureSet())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct{ in, want string }{
		{"URGENT  Action\tREQUIRED", "urgent action required"},
		{"  verify\n\nyour account  ", "verify your account"},
		{"", ""},
		{" \t ", ""},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestAutomatonFindAll(t *testing.T) {
	t.Parallel()

	a := Compile([]string{"he", "she", "his", "hers", "HERS", "  "})
	if a.Len() != 4 {
		t.Fatalf("expected duplicates and blanks dropped, got %d patterns", a.Len())
	}

	got := a.FindAll("ushers")
	want := []string{"he", "hers", "she"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("FindAll(ushers) = %v, want %v", got, want)
	}

	if a.FindAll("xyz") != nil {
		t.Error("expected no matches")
	}
}

func TestAutomatonOverlappingSuffixes(t *testing.T) {
	t.Parallel()

	a := Compile([]string{"money", "mtn money", "airtel money"})
	got := a.FindAll(Normalize("Send via MTN   money now"))
	want := []string{"money", "mtn money"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("FindAll = %v, want %v", got, want)
	}
}

func TestClassifyScenarios(t *testing.T) {
	t.Parallel()
	c := newDefault(t)

	tests := []struct {
		name    string
		content string
		channel models.Channel
		threat  bool
		matches []string
	}{
		{"phishing email", "URGENT ACTION REQUIRED - verify your account", models.ChannelEmail, true,
			[]string{"urgent action required", "verify your account"}},
		{"benign sms", "Hello, dinner at 7?", models.ChannelSMS, false, nil},
		{"mobile money", "Your Airtel\nMoney balance", models.ChannelSMS, true, []string{"airtel money"}},
		{"empty", "", models.ChannelEmail, false, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			v, err := c.Classify(context.Background(), tt.content, tt.channel)
			if err != nil {
				t.Fatalf("Classify() error = %v", err)
			}
			if v.IsThreat != tt.threat {
				t.Errorf("IsThreat = %v, want %v", v.IsThreat, tt.threat)
			}
			if !reflect.DeepEqual(v.MatchedSignatures, tt.matches) {
				t.Errorf("MatchedSignatures = %v, want %v", v.MatchedSignatures, tt.matches)
			}
		})
	}
}

// randomCase flips letter case and widens whitespace, which must not change the verdict.
func randomCase(r *rand.Rand, s string) string {
	var b strings.Builder
	for _, ch := range s {
		switch {
		case ch == ' ':
			b.WriteString([]string{" ", "  ", "\t", "\n ", " "}[r.Intn(5)])
		case r.Intn(2) == 0:
			b.WriteRune(unicode.ToUpper(ch))
		default:
			b.WriteRune(ch)
		}
	}
	return b.String()
}

func TestClassifyProperties(t *testing.T) {
	t.Parallel()
	c := newDefault(t)
	r := rand.New(rand.NewSource(42))
	phrases := DefaultSignatureSet().Phrases()

	// Filler drawn from digits and punctuation can never contain a signature.
	const filler = "0123456789 .,;:!?-"
	randomFiller := func() string {
		n := r.Intn(40)
		b := make([]byte, n)
		for i := range b {
			b[i] = filler[r.Intn(len(filler))]
		}
		return string(b)
	}

	for i := 0; i < 200; i++ {
		safe := randomFiller()
		v, err := c.Classify(context.Background(), safe, models.ChannelSMS)
		if err != nil || v.IsThreat {
			t.Fatalf("content %q without signature classified as threat (err=%v)", safe, err)
		}

		phrase := phrases[r.Intn(len(phrases))]
		content := randomFiller() + " " + randomCase(r, phrase) + " " + randomFiller()
		v, err = c.Classify(context.Background(), content, models.ChannelEmail)
		if err != nil || !v.IsThreat {
			t.Fatalf("content %q containing %q not classified as threat (err=%v)", content, phrase, err)
		}
	}
}

func TestClassifyIndependentOfSignatureOrder(t *testing.T) {
	t.Parallel()

	set := DefaultSignatureSet()
	reversed := SignatureSet{Version: "reversed"}
	for i := len(set.Signatures) - 1; i >= 0; i-- {
		reversed.Signatures = append(reversed.Signatures, set.Signatures[i], set.Signatures[i])
	}

	a, _ := New(set)
	b, _ := New(reversed)
	content := "Tax refund pending: confirm your password and verify your account"

	va, _ := a.Classify(context.Background(), content, models.ChannelEmail)
	vb, _ := b.Classify(context.Background(), content, models.ChannelEmail)
	if !reflect.DeepEqual(va.MatchedSignatures, vb.MatchedSignatures) || va.IsThreat != vb.IsThreat {
		t.Errorf("verdicts differ: %+v vs %+v", va, vb)
	}
}

type fixedStrategy struct {
	name string
	v    Verdict
	err  error
}

func (f fixedStrategy) Name() string { return f.name }
func (f fixedStrategy) Classify(context.Context, string, models.Channel) (Verdict, error) {
	v := f.v
	v.Strategy = f.name
	return v, f.err
}

func TestPipelineMaxConfidence(t *testing.T) {
	t.Parallel()

	p, err := NewPipeline(
		fixedStrategy{name: "a", v: Verdict{IsThreat: true, Confidence: 0.6, MatchedSignatures: []string{"x"}}},
		fixedStrategy{name: "b", v: Verdict{IsThreat: true, Confidence: 0.9, MatchedSignatures: []string{"y"}}},
		fixedStrategy{name: "c", v: Verdict{IsThreat: true, Confidence: 0.9, MatchedSignatures: []string{"z"}}},
	)
	if err != nil {
		t.Fatal(err)
	}

	v, err := p.Classify(context.Background(), "anything", models.ChannelEmail)
	if err != nil {
		t.Fatal(err)
	}
	if v.Strategy != "b" {
		t.Errorf("expected earliest max-confidence strategy b, got %s", v.Strategy)
	}
	if !reflect.DeepEqual(v.MatchedSignatures, []string{"x", "y", "z"}) {
		t.Errorf("expected union of signatures, got %v", v.MatchedSignatures)
	}
}

func TestPipelineFailureIsClassificationError(t *testing.T) {
	t.Parallel()

	p, _ := NewPipeline(
		NewSubstringStrategy([]string{"tax refund"}),
		fixedStrategy{name: "broken", err: errors.New("model unavailable")},
	)
	_, err := p.Classify(context.Background(), "tax refund", models.ChannelEmail)
	if !errors.Is(err, ErrClassification) {
		t.Fatalf("expected ErrClassification, got %v", err)
	}

	if _, err := NewPipeline(); !errors.Is(err, ErrEmptyPipeline) {
		t.Errorf("expected ErrEmptyPipeline, got %v", err)
	}
}

func TestReloadSwapsSignatures(t *testing.T) {
	t.Parallel()
	c := newDefault(t)

	if err := c.Reload(SignatureSet{Version: "v2", Signatures: []Signature{{Phrase: "gift card"}}}); err != nil {
		t.Fatal(err)
	}
	if c.Version() != "v2" {
		t.Errorf("Version() = %q", c.Version())
	}

	v, _ := c.Classify(context.Background(), "buy a GIFT card", models.ChannelSMS)
	if !v.IsThreat {
		t.Error("expected new signature to match")
	}
	v, _ = c.Classify(context.Background(), "tax refund", models.ChannelSMS)
	if v.IsThreat {
		t.Error("expected old signature to be gone")
	}

	if err := c.Reload(SignatureSet{Version: "v3"}); !errors.Is(err, ErrEmptySignatureSet) {
		t.Errorf("expected ErrEmptySignatureSet, got %v", err)
	}
	if c.Version() != "v2" {
		t.Error("rejected reload must keep the current set")
	}
}

func TestConcurrentClassifyDuringReload(t *testing.T) {
	t.Parallel()
	c := newDefault(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				if _, err := c.Classify(context.Background(), "suspicious activity", models.ChannelLogin); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	for i := 0; i < 20; i++ {
		_ = c.Reload(DefaultSignatureSet())
	}
	wg.Wait()
}

func TestLoadSignatureFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "signatures.yaml")
	content := `
version: "2026-03-01"
signatures:
  - phrase: "Reset Your PIN"
    category: credential
  - phrase: "wire transfer"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	set, err := LoadSignatureFile(path)
	if err != nil {
		t.Fatalf("LoadSignatureFile() error = %v", err)
	}
	if set.Version != "2026-03-01" || len(set.Signatures) != 2 {
		t.Fatalf("unexpected set %+v", set)
	}
	if set.Signatures[0].Category != "credential" {
		t.Errorf("category = %q", set.Signatures[0].Category)
	}

	c, err := New(set)
	if err != nil {
		t.Fatal(err)
	}
	v, _ := c.Classify(context.Background(), "please reset your   pin", models.ChannelSMS)
	if !v.IsThreat {
		t.Error("expected loaded signature to match")
	}
}

func TestLoadSignatureFileRejectsEmpty(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "empty.yaml")
	if err := os.WriteFile(path, []byte("version: x\nsignatures: []\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadSignatureFile(path); !errors.Is(err, ErrEmptySignatureSet) {
		t.Errorf("expected ErrEmptySignatureSet, got %v", err)
	}
}
