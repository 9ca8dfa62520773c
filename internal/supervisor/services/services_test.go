// Threatwatch - Security Threat Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/threatwatch

package services

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"
)

var (
	_ suture.Service = (*HTTPServerService)(nil)
	_ suture.Service = (*RunnerService)(nil)
	_ suture.Service = (*StartStopService)(nil)
	_ suture.Service = (*GCService)(nil)
)

type fakeHTTPServer struct {
	listenErr error
	stopped   chan struct{}
	once      sync.Once
	shutdowns atomic.Int32
}

func newFakeHTTPServer(listenErr error) *fakeHTTPServer {
	return &fakeHTTPServer{listenErr: listenErr, stopped: make(chan struct{})}
}

func (f *fakeHTTPServer) ListenAndServe() error {
	if f.listenErr != nil {
		return f.listenErr
	}
	<-f.stopped
	return http.ErrServerClosed
}

func (f *fakeHTTPServer) Shutdown(context.Context) error {
	f.shutdowns.Add(1)
	f.once.Do(func() { close(f.stopped) })
	return nil
}

func serveAsync(ctx context.Context, svc suture.Service) <-chan error {
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Serve(ctx) }()
	return errCh
}

func waitErr(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
		return nil
	}
}

func TestHTTPServerService(t *testing.T) {
	t.Parallel()

	t.Run("graceful shutdown", func(t *testing.T) {
		t.Parallel()
		server := newFakeHTTPServer(nil)
		svc := NewHTTPServerService(server, time.Second)

		ctx, cancel := context.WithCancel(context.Background())
		errCh := serveAsync(ctx, svc)
		time.Sleep(10 * time.Millisecond)
		cancel()

		if err := waitErr(t, errCh); !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() = %v, want context.Canceled", err)
		}
		if server.shutdowns.Load() != 1 {
			t.Errorf("shutdowns = %d, want 1", server.shutdowns.Load())
		}
	})

	t.Run("listen failure", func(t *testing.T) {
		t.Parallel()
		listenErr := errors.New("address already in use")
		svc := NewHTTPServerService(newFakeHTTPServer(listenErr), 0)

		err := waitErr(t, serveAsync(context.Background(), svc))
		if !errors.Is(err, listenErr) {
			t.Errorf("Serve() = %v, want %v", err, listenErr)
		}
		if svc.shutdownTimeout != 10*time.Second {
			t.Errorf("default shutdown timeout = %v", svc.shutdownTimeout)
		}
	})
}

type fakeRunner struct{ runs atomic.Int32 }

func (f *fakeRunner) RunWithContext(ctx context.Context) error {
	f.runs.Add(1)
	<-ctx.Done()
	return ctx.Err()
}

func TestRunnerService(t *testing.T) {
	t.Parallel()
	runner := &fakeRunner{}
	svc := NewWebSocketHubService(runner)
	if svc.String() != "websocket-hub" {
		t.Errorf("String() = %q", svc.String())
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := serveAsync(ctx, svc)
	cancel()
	if err := waitErr(t, errCh); !errors.Is(err, context.Canceled) {
		t.Errorf("Serve() = %v", err)
	}
	if runner.runs.Load() != 1 {
		t.Errorf("runs = %d, want 1", runner.runs.Load())
	}
}

type fakeStartStopper struct {
	startErr error
	running  atomic.Bool
	stops    atomic.Int32
}

func (f *fakeStartStopper) Start(context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.running.Store(true)
	return nil
}

func (f *fakeStartStopper) Stop() {
	f.stops.Add(1)
	f.running.Store(false)
}

func (f *fakeStartStopper) IsRunning() bool { return f.running.Load() }

func TestStartStopService(t *testing.T) {
	t.Parallel()

	t.Run("stops on cancel", func(t *testing.T) {
		t.Parallel()
		component := &fakeStartStopper{}
		svc := NewStartStopService("aggregator-reconciler", component)

		ctx, cancel := context.WithCancel(context.Background())
		errCh := serveAsync(ctx, svc)

		deadline := time.Now().Add(time.Second)
		for !component.IsRunning() {
			if time.Now().After(deadline) {
				t.Fatal("component never started")
			}
			time.Sleep(time.Millisecond)
		}
		cancel()

		if err := waitErr(t, errCh); !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() = %v", err)
		}
		if component.IsRunning() || component.stops.Load() != 1 {
			t.Errorf("running = %v, stops = %d", component.IsRunning(), component.stops.Load())
		}
	})

	t.Run("start failure", func(t *testing.T) {
		t.Parallel()
		startErr := errors.New("no store")
		svc := NewStartStopService("aggregator-reconciler", &fakeStartStopper{startErr: startErr})
		if err := waitErr(t, serveAsync(context.Background(), svc)); !errors.Is(err, startErr) {
			t.Errorf("Serve() = %v, want %v", err, startErr)
		}
	})
}

type fakeCollector struct {
	calls atomic.Int32
	fail  atomic.Bool
	ratio atomic.Value
}

func (f *fakeCollector) RunGC(discardRatio float64) error {
	f.calls.Add(1)
	f.ratio.Store(discardRatio)
	if f.fail.Load() {
		return errors.New("gc failed")
	}
	return nil
}

func TestGCService(t *testing.T) {
	t.Parallel()
	collector := &fakeCollector{}
	collector.fail.Store(true)
	svc := NewGCService("notify-gc", collector, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := serveAsync(ctx, svc)

	// Failures are retried on the next tick.
	deadline := time.Now().Add(time.Second)
	for collector.calls.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("GC ran %d times, want at least 3", collector.calls.Load())
		}
		time.Sleep(time.Millisecond)
	}
	cancel()

	if err := waitErr(t, errCh); !errors.Is(err, context.Canceled) {
		t.Errorf("Serve() = %v", err)
	}
	if ratio, _ := collector.ratio.Load().(float64); ratio != DefaultGCDiscardRatio {
		t.Errorf("discard ratio = %v", ratio)
	}
	if NewGCService("x", collector, 0).interval != 10*time.Minute {
		t.Error("default interval not applied")
	}
}
