// Threatwatch - Security Threat Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/threatwatch

package eventbus

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/tomtom215/threatwatch/internal/cache"
	"github.com/tomtom215/threatwatch/internal/metrics"
)

// DedupRepository implements middleware.ExpiringKeyRepository on a bounded
// LRU. Keys are event IDs, so a redelivered message is dropped even when the
// transport assigned it a new UUID.
type DedupRepository struct {
	seen *cache.LRU[struct{}]
}

// NewDedupRepository remembers up to capacity keys for ttl.
func NewDedupRepository(capacity int, ttl time.Duration) *DedupRepository {
	return &DedupRepository{seen: cache.NewLRU[struct{}](capacity, ttl)}
}

// IsDuplicate records key and reports whether it was already present.
func (d *DedupRepository) IsDuplicate(_ context.Context, key string) (bool, error) {
	dup := d.seen.AddIfAbsent(key, struct{}{})
	if dup {
		metrics.BusHandled.WithLabelValues(TopicThreatDetected, "duplicate").Inc()
	}
	return dup, nil
}

// Forget drops key so the next delivery is processed again.
func (d *DedupRepository) Forget(key string) {
	d.seen.Remove(key)
}

// Len returns the number of remembered keys.
func (d *DedupRepository) Len() int {
	return d.seen.Len()
}

func dedupKey(msg *message.Message) (string, error) {
	if id := msg.Metadata.Get(MetadataEventID); id != "" {
		return id, nil
	}
	return msg.UUID, nil
}

// forgetOnError releases the dedup key of a failed message. It sits between
// Retry and the Deduplicator so retries reach the handler again.
func forgetOnError(repo *DedupRepository) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			out, err := h(msg)
			if err != nil {
				if key, kerr := dedupKey(msg); kerr == nil {
					repo.Forget(key)
				}
			}
			return out, err
		}
	}
}
