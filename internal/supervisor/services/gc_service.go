// Threatwatch - Security Threat Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/threatwatch

package services

import (
	"context"
	"time"

	"github.com/tomtom215/threatwatch/internal/logging"
)

// DefaultGCDiscardRatio is the badger value log discard ratio.
const DefaultGCDiscardRatio = 0.5

// ValueLogCollector is satisfied by *notify.BadgerStore.
type ValueLogCollector interface {
	RunGC(discardRatio float64) error
}

// GCService runs value log garbage collection on a fixed interval. GC errors
// are logged and retried on the next tick; they never restart the service.
type GCService struct {
	collector    ValueLogCollector
	interval     time.Duration
	discardRatio float64
	name         string
}

// NewGCService creates a GC service. A non-positive interval means 10m.
func NewGCService(name string, collector ValueLogCollector, interval time.Duration) *GCService {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &GCService{
		collector:    collector,
		interval:     interval,
		discardRatio: DefaultGCDiscardRatio,
		name:         name,
	}
}

// Serve implements suture.Service.
func (s *GCService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			start := time.Now()
			if err := s.collector.RunGC(s.discardRatio); err != nil {
				logging.Warn().Err(err).Str("service", s.name).Msg("Value log GC failed")
				continue
			}
			logging.Debug().Str("service", s.name).Dur("duration", time.Since(start)).Msg("Value log GC completed")
		}
	}
}

// String implements fmt.Stringer for suture logs.
func (s *GCService) String() string {
	return s.name
}
