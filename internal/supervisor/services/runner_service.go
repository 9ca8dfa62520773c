// Threatwatch - Security Threat Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/threatwatch

package services

import (
	"context"
)

// ContextRunner is satisfied by *websocket.Hub.
type ContextRunner interface {
	RunWithContext(ctx context.Context) error
}

// RunnerService delegates Serve to RunWithContext and gives the component a
// name in supervisor logs.
type RunnerService struct {
	runner ContextRunner
	name   string
}

// NewRunnerService wraps runner under name.
func NewRunnerService(name string, runner ContextRunner) *RunnerService {
	return &RunnerService{runner: runner, name: name}
}

// NewWebSocketHubService wraps the websocket hub.
func NewWebSocketHubService(hub ContextRunner) *RunnerService {
	return NewRunnerService("websocket-hub", hub)
}

// Serve implements suture.Service.
func (s *RunnerService) Serve(ctx context.Context) error {
	return s.runner.RunWithContext(ctx)
}

// String implements fmt.Stringer for suture logs.
func (s *RunnerService) String() string {
	return s.name
}
