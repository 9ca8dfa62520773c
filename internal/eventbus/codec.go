// Threatwatch - Security Threat Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/threatwatch

package eventbus

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"

	"github.com/tomtom215/threatwatch/internal/models"
)

// Message metadata keys.
const (
	MetadataEventID       = "event_id"
	MetadataOwner         = "owner"
	MetadataChannel       = "channel"
	MetadataCorrelationID = "correlation_id"
)

const schemaVersion = 1

// ErrMalformedMessage is returned for payloads that cannot be decoded.
var ErrMalformedMessage = errors.New("malformed threat message")

type threatMessage struct {
	SchemaVersion int                 `json:"schema_version"`
	Event         *models.ThreatEvent `json:"event"`
}

// NewThreatMessage encodes ev into a Watermill message carrying the routing
// metadata consumers use without decoding the payload.
func NewThreatMessage(ev *models.ThreatEvent, correlationID string) (*message.Message, error) {
	payload, err := json.Marshal(threatMessage{SchemaVersion: schemaVersion, Event: ev})
	if err != nil {
		return nil, fmt.Errorf("encode threat event %d: %w", ev.ID, err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(MetadataEventID, strconv.FormatInt(ev.ID, 10))
	msg.Metadata.Set(MetadataOwner, ev.Owner)
	msg.Metadata.Set(MetadataChannel, string(ev.Channel))
	if correlationID != "" {
		msg.Metadata.Set(MetadataCorrelationID, correlationID)
	}
	return msg, nil
}

// DecodeThreatMessage decodes the event carried by msg.
func DecodeThreatMessage(msg *message.Message) (*models.ThreatEvent, error) {
	var tm threatMessage
	if err := json.Unmarshal(msg.Payload, &tm); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	if tm.Event == nil {
		return nil, fmt.Errorf("%w: missing event", ErrMalformedMessage)
	}
	if tm.SchemaVersion != schemaVersion {
		return nil, fmt.Errorf("%w: unsupported schema version %d", ErrMalformedMessage, tm.SchemaVersion)
	}
	return tm.Event, nil
}
