// Threatwatch - Security Threat Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/threatwatch

package ingest

import "github.com/tomtom215/threatwatch/internal/models"

// policyKey indexes the severity and status tables. Flagged is only
// meaningful for login submissions.
type policyKey struct {
	channel models.Channel
	threat  bool
	flagged bool
}

type policy struct {
	severity models.Severity
	status   models.Status
}

var policyTable = map[policyKey]policy{
	{models.ChannelEmail, false, false}: {models.SeverityLow, models.StatusDetected},
	{models.ChannelEmail, true, false}:  {models.SeverityHigh, models.StatusQuarantined},
	{models.ChannelSMS, false, false}:   {models.SeverityLow, models.StatusDetected},
	{models.ChannelSMS, true, false}:    {models.SeverityHigh, models.StatusQuarantined},
	{models.ChannelLogin, false, false}: {models.SeverityMedium, models.StatusDetected},
	{models.ChannelLogin, true, false}:  {models.SeverityHigh, models.StatusDetected},
	{models.ChannelLogin, true, true}:   {models.SeverityCritical, models.StatusBlocked},
}

func lookup(channel models.Channel, classification models.Classification, flagged bool) policy {
	key := policyKey{
		channel: channel,
		threat:  classification == models.ClassificationThreat,
		flagged: flagged && channel == models.ChannelLogin,
	}
	// A flagged login is always a threat; a safe verdict cannot carry the flag.
	if !key.threat {
		key.flagged = false
	}
	if p, ok := policyTable[key]; ok {
		return p
	}
	return policy{models.SeverityLow, models.StatusDetected}
}

// SeverityFor derives the severity of a classified submission.
func SeverityFor(channel models.Channel, classification models.Classification, flagged bool) models.Severity {
	return lookup(channel, classification, flagged).severity
}

// StatusFor derives the initial status of a classified submission.
func StatusFor(channel models.Channel, classification models.Classification, flagged bool) models.Status {
	return lookup(channel, classification, flagged).status
}

// ClassificationFor combines the classifier verdict with the caller's flag.
// A login the caller flagged is a threat even without a signature match.
func ClassificationFor(channel models.Channel, signatureMatch, flagged bool) models.Classification {
	if signatureMatch || (channel == models.ChannelLogin && flagged) {
		return models.ClassificationThreat
	}
	return models.ClassificationSafe
}
