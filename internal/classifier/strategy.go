// Threatwatch - Security Threat Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/threatwatch

package classifier

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/tomtom215/threatwatch/internal/models"
)

var (
	// ErrClassification wraps every failure of a classification strategy.
	// Callers treat it as retryable.
	ErrClassification = errors.New("classification failed")

	// ErrEmptyPipeline is returned when a pipeline has no strategies.
	ErrEmptyPipeline = errors.New("classification pipeline has no strategies")
)

// Verdict is the outcome of classifying one piece of content.
type Verdict struct {
	IsThreat          bool     `json:"is_threat"`
	MatchedSignatures []string `json:"matched_signatures,omitempty"`
	// Confidence that the content is a threat, in [0, 1].
	Confidence float64 `json:"confidence"`
	Strategy   string  `json:"strategy"`
}

// Strategy classifies content. Implementations must be deterministic and
// free of side effects so classification can be retried safely.
type Strategy interface {
	Name() string
	Classify(ctx context.Context, content string, channel models.Channel) (Verdict, error)
}

// SubstringStrategy reports a threat when any signature phrase occurs in the
// normalized content.
type SubstringStrategy struct {
	automaton *Automaton
}

// NewSubstringStrategy compiles phrases into an immutable automaton.
func NewSubstringStrategy(phrases []string) *SubstringStrategy {
	return &SubstringStrategy{automaton: Compile(phrases)}
}

// Name implements Strategy.
func (s *SubstringStrategy) Name() string { return "substring" }

// Classify implements Strategy. The channel does not influence matching.
func (s *SubstringStrategy) Classify(ctx context.Context, content string, _ models.Channel) (Verdict, error) {
	if err := ctx.Err(); err != nil {
		return Verdict{}, err
	}
	matches := s.automaton.FindAll(Normalize(content))
	v := Verdict{Strategy: s.Name(), MatchedSignatures: matches}
	if len(matches) > 0 {
		v.IsThreat = true
		v.Confidence = 1.0
	}
	return v, nil
}

// Pipeline runs several strategies and keeps the most confident verdict.
type Pipeline struct {
	strategies []Strategy
}

// NewPipeline returns a pipeline over strategies, evaluated in order.
func NewPipeline(strategies ...Strategy) (*Pipeline, error) {
	if len(strategies) == 0 {
		return nil, ErrEmptyPipeline
	}
	return &Pipeline{strategies: append([]Strategy(nil), strategies...)}, nil
}

// Classify evaluates every strategy. The result is the verdict with the
// highest confidence (the earliest strategy wins ties) carrying the union of
// signatures matched by all threat verdicts. Any strategy error fails the
// whole classification.
func (p *Pipeline) Classify(ctx context.Context, content string, channel models.Channel) (Verdict, error) {
	var (
		best    Verdict
		hasBest bool
		union   = map[string]struct{}{}
	)

	for _, s := range p.strategies {
		v, err := s.Classify(ctx, content, channel)
		if err != nil {
			return Verdict{}, fmt.Errorf("%w: strategy %s: %w", ErrClassification, s.Name(), err)
		}
		if v.IsThreat {
			for _, m := range v.MatchedSignatures {
				union[m] = struct{}{}
			}
		}
		if !hasBest || v.Confidence > best.Confidence {
			best = v
			hasBest = true
		}
	}

	if len(union) > 0 {
		merged := make([]string, 0, len(union))
		for m := range union {
			merged = append(merged, m)
		}
		sort.Strings(merged)
		best.MatchedSignatures = merged
	} else {
		best.MatchedSignatures = nil
	}
	return best, nil
}

// Strategies returns the strategy names in evaluation order.
func (p *Pipeline) Strategies() []string {
	names := make([]string, len(p.strategies))
	for i, s := range p.strategies {
		names[i] = s.Name()
	}
	return names
}
