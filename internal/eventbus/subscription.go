// Threatwatch - Security Threat Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/threatwatch

package eventbus

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
)

// heldSubscription keeps one transport subscription open for the lifetime of
// a Router. Each watermill router run attaches to it through Subscribe, so
// messages published before the first run or between restarts wait in the
// subscription instead of being dropped by a transport with no subscriber.
//
// Close is a no-op: a closing watermill router closes its subscriber, and for
// gochannel that subscriber is the whole transport.
type heldSubscription struct {
	topic    string
	messages <-chan *message.Message
	cancel   context.CancelFunc
}

func holdSubscription(sub message.Subscriber, topic string) (*heldSubscription, error) {
	ctx, cancel := context.WithCancel(context.Background())
	messages, err := sub.Subscribe(ctx, topic)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return &heldSubscription{topic: topic, messages: messages, cancel: cancel}, nil
}

// Subscribe forwards held messages until ctx ends. A message read but not
// handed over is nacked so the transport redelivers it to the next run.
func (h *heldSubscription) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	if topic != h.topic {
		return nil, fmt.Errorf("held subscription serves %s, not %s", h.topic, topic)
	}

	out := make(chan *message.Message)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-h.messages:
				if !ok {
					return
				}
				select {
				case out <- msg:
				case <-ctx.Done():
					msg.Nack()
					return
				}
			}
		}
	}()
	return out, nil
}

func (h *heldSubscription) Close() error { return nil }

// release ends the transport subscription.
func (h *heldSubscription) release() {
	h.cancel()
}
