// Threatwatch - Security Threat Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/threatwatch

package services

import (
	"context"
	"fmt"
)

// StartStopper is satisfied by *aggregator.Reconciler.
type StartStopper interface {
	Start(ctx context.Context) error
	Stop()
	IsRunning() bool
}

// StartStopService adapts a Start/Stop component to suture:
//  1. Start(ctx) launches the component's goroutine
//  2. Serve blocks until ctx is canceled
//  3. Stop waits for the goroutine to exit
//
// A failed Start is returned so suture restarts with backoff.
type StartStopService struct {
	component StartStopper
	name      string
}

// NewStartStopService wraps component under name.
func NewStartStopService(name string, component StartStopper) *StartStopService {
	return &StartStopService{component: component, name: name}
}

// Serve implements suture.Service.
func (s *StartStopService) Serve(ctx context.Context) error {
	if err := s.component.Start(ctx); err != nil {
		return fmt.Errorf("%s start failed: %w", s.name, err)
	}

	<-ctx.Done()
	s.component.Stop()
	return ctx.Err()
}

// String implements fmt.Stringer for suture logs.
func (s *StartStopService) String() string {
	return s.name
}
