// Threatwatch - Security Threat Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/threatwatch

// Package eventbus carries "threat detected" messages from the ingestion
// gateway to the notification dispatcher over Watermill.
//
// The default transport is the in-process gochannel pub/sub. Builds with
// -tags nats can switch to NATS JetStream (bus.driver=nats), optionally
// against an embedded server.
//
//	ps, _ := eventbus.NewPubSub(cfg.Bus)
//	router, _ := eventbus.NewRouter(eventbus.RouterConfigFromBus(cfg.Bus), ps, dispatcher.Dispatch)
//	gateway := ingest.NewGateway(classifier, store, eventbus.NewPublisher(ps.Publisher))
package eventbus

import (
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/tomtom215/threatwatch/internal/config"
	"github.com/tomtom215/threatwatch/internal/logging"
)

const (
	// TopicThreatDetected carries every newly stored threat event.
	TopicThreatDetected = "threats.detected"

	// TopicPoison receives messages that failed after all retries.
	TopicPoison = "threats.poison"
)

const (
	DriverGoChannel = "gochannel"
	DriverNATS      = "nats"
)

// ErrNATSNotEnabled is returned when the NATS driver is selected in a build
// without the nats tag.
var ErrNATSNotEnabled = errors.New("NATS support not enabled (build with -tags nats)")

// PubSub bundles the publisher and subscriber of one transport.
type PubSub struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
	Driver     string
	closers    []func() error
}

// Close closes the transport in reverse creation order.
func (ps *PubSub) Close() error {
	var errs []error
	for i := len(ps.closers) - 1; i >= 0; i-- {
		if err := ps.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	ps.closers = nil
	return errors.Join(errs...)
}

// NewPubSub creates the transport selected by cfg.Driver.
func NewPubSub(cfg config.BusConfig) (*PubSub, error) {
	logger := NewLogger()

	switch cfg.Driver {
	case "", DriverGoChannel:
		return newGoChannel(cfg, logger), nil
	case DriverNATS:
		return newNATSPubSub(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown bus driver %q", cfg.Driver)
	}
}

// NewLogger adapts the global zerolog logger for Watermill.
func NewLogger() watermill.LoggerAdapter {
	return watermill.NewSlogLogger(logging.NewSlogLogger())
}

func newGoChannel(cfg config.BusConfig, logger watermill.LoggerAdapter) *PubSub {
	ch := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: cfg.BufferSize,
		Persistent:          false,
	}, logger)

	return &PubSub{
		Publisher:  ch,
		Subscriber: ch,
		Driver:     DriverGoChannel,
		closers:    []func() error{ch.Close},
	}
}
