// Threatwatch - Security Threat Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/threatwatch

//go:build nats

package eventbus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/nats-io/nats-server/v2/server"
	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/tomtom215/threatwatch/internal/config"
)

// StreamName is the JetStream stream holding every threats.* subject.
const StreamName = "THREATS"

// NATSEnabled reports whether this build supports the NATS driver.
const NATSEnabled = true

func newNATSPubSub(cfg config.BusConfig, logger watermill.LoggerAdapter) (*PubSub, error) {
	ps := &PubSub{Driver: DriverNATS}
	url := cfg.NATSURL

	if cfg.Embedded {
		ns, err := startEmbeddedServer(cfg)
		if err != nil {
			return nil, err
		}
		ps.closers = append(ps.closers, func() error {
			ns.Shutdown()
			ns.WaitForShutdown()
			return nil
		})
		url = ns.ClientURL()
	}

	if err := ensureStream(url); err != nil {
		_ = ps.Close()
		return nil, err
	}

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2 * time.Second),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS reconnected", watermill.LogFields{"url": nc.ConnectedUrl()})
		}),
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         url,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			AutoProvision: false,
			TrackMsgId:    true,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}, logger)
	if err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("create watermill publisher: %w", err)
	}
	ps.closers = append(ps.closers, pub.Close)

	subscribers := cfg.SubscribersCount
	if subscribers <= 0 {
		subscribers = 1
	}
	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:              url,
		QueueGroupPrefix: "threatwatch",
		SubscribersCount: subscribers,
		AckWaitTimeout:   30 * time.Second,
		CloseTimeout:     cfg.CloseTimeout,
		NatsOptions:      natsOpts,
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			AutoProvision: false,
			SubscribeOptions: []natsgo.SubOpt{
				natsgo.BindStream(StreamName),
				natsgo.MaxDeliver(cfg.MaxRetries + 5),
				natsgo.AckWait(30 * time.Second),
				natsgo.DeliverNew(),
			},
			DurablePrefix: "threatwatch",
		},
	}, logger)
	if err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("create watermill subscriber: %w", err)
	}
	ps.closers = append(ps.closers, sub.Close)

	ps.Publisher = msgIDPublisher{pub}
	ps.Subscriber = sub
	return ps, nil
}

// msgIDPublisher sets Nats-Msg-Id from the event ID so JetStream drops
// republished copies of one event inside its duplicate window.
type msgIDPublisher struct {
	message.Publisher
}

func (p msgIDPublisher) Publish(topic string, msgs ...*message.Message) error {
	for _, msg := range msgs {
		if id := msg.Metadata.Get(MetadataEventID); id != "" && msg.Metadata.Get(natsgo.MsgIdHdr) == "" {
			msg.Metadata.Set(natsgo.MsgIdHdr, topic+"-"+id)
		}
	}
	return p.Publisher.Publish(topic, msgs...)
}

func startEmbeddedServer(cfg config.BusConfig) (*server.Server, error) {
	ns, err := server.NewServer(&server.Options{
		ServerName: "threatwatch-bus",
		Host:       "127.0.0.1",
		Port:       cfg.EmbeddedPort,
		JetStream:  true,
		StoreDir:   cfg.EmbeddedStoreDir,
		MaxPayload: 8 * 1024 * 1024,
	})
	if err != nil {
		return nil, fmt.Errorf("create NATS server: %w", err)
	}
	ns.ConfigureLogger()
	go ns.Start()

	if !ns.ReadyForConnections(30 * time.Second) {
		ns.Shutdown()
		return nil, errors.New("NATS server not ready within timeout")
	}
	return ns, nil
}

// ensureStream creates or updates the THREATS stream.
func ensureStream(url string) error {
	nc, err := natsgo.Connect(url)
	if err != nil {
		return fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("create JetStream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	streamCfg := jetstream.StreamConfig{
		Name:       StreamName,
		Subjects:   []string{"threats.>"},
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     7 * 24 * time.Hour,
		Duplicates: 10 * time.Minute,
		Storage:    jetstream.FileStorage,
		Discard:    jetstream.DiscardOld,
	}

	if _, err := js.Stream(ctx, StreamName); err == nil {
		if _, err := js.UpdateStream(ctx, streamCfg); err != nil {
			return fmt.Errorf("update stream %s: %w", StreamName, err)
		}
		return nil
	} else if !errors.Is(err, jetstream.ErrStreamNotFound) {
		return fmt.Errorf("check stream %s: %w", StreamName, err)
	}

	if _, err := js.CreateStream(ctx, streamCfg); err != nil {
		return fmt.Errorf("create stream %s: %w", StreamName, err)
	}
	return nil
}
