// Threatwatch - Security Threat Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/threatwatch

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/tomtom215/threatwatch/internal/aggregator"
	"github.com/tomtom215/threatwatch/internal/api"
	"github.com/tomtom215/threatwatch/internal/classifier"
	"github.com/tomtom215/threatwatch/internal/config"
	"github.com/tomtom215/threatwatch/internal/eventbus"
	"github.com/tomtom215/threatwatch/internal/ingest"
	"github.com/tomtom215/threatwatch/internal/logging"
	"github.com/tomtom215/threatwatch/internal/models"
	"github.com/tomtom215/threatwatch/internal/notify"
	"github.com/tomtom215/threatwatch/internal/report"
	"github.com/tomtom215/threatwatch/internal/store"
	"github.com/tomtom215/threatwatch/internal/supervisor"
	"github.com/tomtom215/threatwatch/internal/supervisor/services"
	ws "github.com/tomtom215/threatwatch/internal/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().
		Str("store_driver", cfg.Store.Driver).
		Str("notify_driver", cfg.Notify.Driver).
		Str("bus_driver", cfg.Bus.Driver).
		Msg("Starting Threatwatch with supervisor tree")

	if err := run(cfg); err != nil {
		logging.Fatal().Err(err).Msg("Threatwatch stopped with error")
	}
	logging.Info().Msg("Threatwatch stopped")
}

// run wires the pipeline and blocks until a shutdown signal. Resources are
// released in reverse order of creation.
func run(cfg *config.Config) error {
	eventStore, err := store.Open(cfg.Store)
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}
	defer closeLogged("event store", eventStore.Close)

	threatClassifier, stopWatch, err := initClassifier(cfg.Classifier)
	if err != nil {
		return err
	}
	if stopWatch != nil {
		defer closeLogged("signature watcher", stopWatch)
	}

	notifyStore, err := notify.OpenStore(cfg.Notify)
	if err != nil {
		return fmt.Errorf("open notification store: %w", err)
	}
	defer closeLogged("notification store", notifyStore.Close)

	notifiers := notify.NotifiersFromConfig(cfg.Notify)
	dispatcher := notify.NewDispatcher(notifyStore, notify.WithNotifiers(notifiers...))
	defer dispatcher.Wait()
	logging.Info().Int("notifiers", len(notifiers)).Msg("Notification dispatcher ready")

	wsHub := ws.NewHub()
	dispatcher.SetBroadcaster(wsHub)

	pubsub, err := eventbus.NewPubSub(cfg.Bus)
	if err != nil {
		return fmt.Errorf("create event bus: %w", err)
	}
	defer closeLogged("event bus", pubsub.Close)

	publisher := eventbus.NewPublisher(pubsub.Publisher)
	defer closeLogged("event bus publisher", publisher.Close)

	busRouter, err := eventbus.NewRouter(eventbus.RouterConfigFromBus(cfg.Bus), pubsub, dispatcher.Dispatch)
	if err != nil {
		return fmt.Errorf("create event bus router: %w", err)
	}

	gateway := ingest.NewGateway(threatClassifier, eventStore, publisher)

	agg := aggregator.New(eventStore, aggregator.Config{
		Window:        cfg.Aggregator.Window,
		SessionBuffer: cfg.Aggregator.SessionBuffer,
	})
	defer closeLogged("aggregator", agg.Close)
	reconciler := aggregator.NewReconciler(agg, cfg.Aggregator.ReconcileInterval)

	reports := report.NewGenerator(eventStore, nil, report.Config{
		Timeout:           cfg.Report.Timeout,
		DefaultPeriodDays: cfg.Report.DefaultPeriodDays,
	})

	handler := api.NewHandler(api.Deps{
		Gateway:       gateway,
		Events:        eventStore,
		Notifications: dispatcher,
		Stats:         agg,
		Reports:       reports,
		Hub:           wsHub,
		CORSOrigins:   cfg.Security.CORSOrigins,
		Readiness: map[string]api.ReadinessCheck{
			"store": func(ctx context.Context) error {
				_, err := eventStore.Query(ctx, models.EventFilter{Limit: 1})
				return err
			},
			"event_bus": func(context.Context) error {
				select {
				case <-busRouter.Running():
					return nil
				default:
					return errors.New("event bus router not running")
				}
			},
		},
	})
	router := api.NewRouter(handler, api.NewChiMiddleware(api.ChiMiddlewareConfigFromSecurity(cfg.Security)))

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.SetupChi(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfigFromConfig(cfg.Supervisor))
	if err != nil {
		return fmt.Errorf("create supervisor tree: %w", err)
	}

	tree.AddPipelineService(busRouter)
	tree.AddPipelineService(services.NewStartStopService("aggregator-reconciler", reconciler))
	if badgerStore, ok := notifyStore.(*notify.BadgerStore); ok {
		tree.AddPipelineService(services.NewGCService("notify-badger-gc", badgerStore, cfg.Notify.GCInterval))
	}
	tree.AddMessagingService(services.NewWebSocketHubService(wsHub))
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logging.Info().Str("addr", server.Addr).Msg("Supervisor tree starting")
	err = tree.Serve(ctx)
	tree.LogUnstopped()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("supervisor tree: %w", err)
	}
	logging.Info().Msg("Shutdown signal received, releasing resources")
	return nil
}

// initClassifier loads the configured signature set. The returned stop
// function is non-nil when the signature file is watched.
func initClassifier(cfg config.ClassifierConfig) (*classifier.Classifier, func() error, error) {
	set := classifier.DefaultSignatureSet()
	if cfg.SignaturesPath != "" {
		loaded, err := classifier.LoadSignatureFile(cfg.SignaturesPath)
		if err != nil {
			return nil, nil, err
		}
		set = loaded
	}

	c, err := classifier.New(set)
	if err != nil {
		return nil, nil, fmt.Errorf("build classifier: %w", err)
	}
	logging.Info().
		Str("version", c.Version()).
		Int("signatures", len(set.Signatures)).
		Msg("Classifier ready")

	if cfg.SignaturesPath == "" || !cfg.WatchSignatures {
		return c, nil, nil
	}
	stop, err := classifier.WatchSignatureFile(cfg.SignaturesPath, c)
	if err != nil {
		return nil, nil, err
	}
	return c, stop, nil
}

func closeLogged(name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logging.Error().Err(err).Str("component", name).Msg("Error during shutdown")
	}
}
