// Threatwatch - Security Threat Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/threatwatch

package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/tomtom215/threatwatch/internal/logging"
)

const defaultDrainTimeout = 10 * time.Second

// HTTPServer is satisfied by *http.Server.
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// HTTPServerService serves the API until the tree stops it. In-flight
// requests get shutdownTimeout to finish; websocket connections are hijacked
// and closed by the hub instead.
type HTTPServerService struct {
	server          HTTPServer
	shutdownTimeout time.Duration
}

// NewHTTPServerService wraps server. A non-positive timeout means 10s.
func NewHTTPServerService(server HTTPServer, shutdownTimeout time.Duration) *HTTPServerService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = defaultDrainTimeout
	}
	return &HTTPServerService{server: server, shutdownTimeout: shutdownTimeout}
}

// Serve implements suture.Service.
func (h *HTTPServerService) Serve(ctx context.Context) error {
	listenDone := make(chan error, 1)
	go func() {
		err := h.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		listenDone <- err
	}()

	select {
	case err := <-listenDone:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	return h.drain(ctx.Err(), listenDone)
}

// drain shuts the server down on a fresh deadline and waits for
// ListenAndServe to return. cause is returned when the drain succeeds.
func (h *HTTPServerService) drain(cause error, listenDone <-chan error) error {
	start := time.Now()
	drainCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
	defer cancel()

	if err := h.server.Shutdown(drainCtx); err != nil {
		logging.Warn().Err(err).Dur("timeout", h.shutdownTimeout).Msg("HTTP server did not drain in time")
		return fmt.Errorf("http server shutdown failed: %w", err)
	}
	<-listenDone

	logging.Info().Dur("duration", time.Since(start)).Msg("HTTP server drained")
	return cause
}

// String implements fmt.Stringer.
func (h *HTTPServerService) String() string {
	return "http-server"
}
