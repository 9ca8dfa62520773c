// Threatwatch - Security Threat Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/threatwatch

// Package classifier decides whether submitted content is a threat.
//
// The default strategy scans normalized content with an Aho-Corasick
// automaton compiled once from a versioned SignatureSet. Further strategies
// can be composed in a Pipeline, which keeps the most confident verdict.
//
//	c, err := classifier.New(classifier.DefaultSignatureSet())
//	v, err := c.Classify(ctx, "URGENT ACTION REQUIRED", models.ChannelEmail)
//	// v.IsThreat == true, v.MatchedSignatures == ["urgent action required"]
//
// Reload swaps the signature set atomically; in-flight classifications finish
// against the set they started with.
package classifier

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/tomtom215/threatwatch/internal/metrics"
	"github.com/tomtom215/threatwatch/internal/models"
)

// compiled is one immutable generation of the classifier.
type compiled struct {
	set      SignatureSet
	pipeline *Pipeline
}

// Classifier is the classification engine used by the ingestion gateway.
type Classifier struct {
	current atomic.Pointer[compiled]
	// extra strategies run after the signature strategy in every generation.
	extra []Strategy
}

// New compiles set and returns a ready classifier. Extra strategies are
// evaluated after the signature strategy.
func New(set SignatureSet, extra ...Strategy) (*Classifier, error) {
	c := &Classifier{extra: append([]Strategy(nil), extra...)}
	if err := c.Reload(set); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload compiles set and makes it current.
func (c *Classifier) Reload(set SignatureSet) error {
	if err := set.Validate(); err != nil {
		return err
	}

	strategies := make([]Strategy, 0, 1+len(c.extra))
	strategies = append(strategies, NewSubstringStrategy(set.Phrases()))
	strategies = append(strategies, c.extra...)
	pipeline, err := NewPipeline(strategies...)
	if err != nil {
		return err
	}

	prev := c.current.Swap(&compiled{set: set, pipeline: pipeline})
	if prev != nil && prev.set.Version != set.Version {
		metrics.SignatureSetVersion.DeleteLabelValues(prev.set.Version)
	}
	metrics.SignatureSetVersion.WithLabelValues(set.Version).Set(float64(len(set.Signatures)))
	return nil
}

// Classify classifies content against the current signature set.
func (c *Classifier) Classify(ctx context.Context, content string, channel models.Channel) (Verdict, error) {
	gen := c.current.Load()
	if gen == nil {
		return Verdict{}, fmt.Errorf("%w: classifier not initialized", ErrClassification)
	}

	start := time.Now()
	v, err := gen.pipeline.Classify(ctx, content, channel)
	metrics.ClassificationDuration.Observe(time.Since(start).Seconds())
	return v, err
}

// Version returns the version of the current signature set.
func (c *Classifier) Version() string {
	if gen := c.current.Load(); gen != nil {
		return gen.set.Version
	}
	return ""
}

// Signatures returns the current signature set.
func (c *Classifier) Signatures() SignatureSet {
	if gen := c.current.Load(); gen != nil {
		return gen.set
	}
	return SignatureSet{}
}
