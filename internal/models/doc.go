// Threatwatch - Security Threat Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/threatwatch

/*
Package models defines the data structures shared across Threatwatch.

Key Components:

  - ThreatEvent: one classified submission (channel, verdict, severity, status)
  - EventFilter: query and subscription predicate over ThreatEvents
  - Alert, Notification: per-owner records derived from threat events
  - APIResponse: standardized HTTP response envelope

Enumerations (Channel, Classification, Severity, Status) carry their own
validity checks so that stores and transports can reject corrupt values
without consulting the ingestion policy.

ThreatEvent state machine:

	detected (initial) ──X── blocked | quarantined | reviewed (terminal)

No transition is defined between states once an event has been created;
administrative overrides live outside this module.
*/
package models
