// Threatwatch - Security Threat Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/threatwatch

package classifier

import (
	"errors"
	"fmt"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/tomtom215/threatwatch/internal/logging"
)

// ErrEmptySignatureSet is returned when a signature set has no usable phrase.
var ErrEmptySignatureSet = errors.New("signature set contains no phrases")

// Signature is one phrase that marks content as a likely threat.
type Signature struct {
	Phrase   string `koanf:"phrase" json:"phrase"`
	Category string `koanf:"category" json:"category,omitempty"`
}

// SignatureSet is a versioned list of signatures. Signatures are data: a new
// set can be loaded at runtime with Classifier.Reload.
type SignatureSet struct {
	Version    string      `koanf:"version" json:"version"`
	Signatures []Signature `koanf:"signatures" json:"signatures"`
}

// Phrases returns the raw phrases of the set.
func (s SignatureSet) Phrases() []string {
	phrases := make([]string, 0, len(s.Signatures))
	for _, sig := range s.Signatures {
		phrases = append(phrases, sig.Phrase)
	}
	return phrases
}

// Validate rejects sets without a single non-blank phrase.
func (s SignatureSet) Validate() error {
	for _, sig := range s.Signatures {
		if Normalize(sig.Phrase) != "" {
			return nil
		}
	}
	return ErrEmptySignatureSet
}

// DefaultSignatureSet returns the built-in signature set.
func DefaultSignatureSet() SignatureSet {
	return SignatureSet{
		Version: "builtin-1",
		Signatures: []Signature{
			{Phrase: "urgent action required", Category: "urgency"},
			{Phrase: "verify your account", Category: "credential"},
			{Phrase: "click here immediately", Category: "urgency"},
			{Phrase: "limited time offer", Category: "scam"},
			{Phrase: "congratulations you have won", Category: "scam"},
			{Phrase: "tax refund", Category: "scam"},
			{Phrase: "suspended account", Category: "credential"},
			{Phrase: "confirm your password", Category: "credential"},
			{Phrase: "mobile money transfer", Category: "mobile_money"},
			{Phrase: "airtel money", Category: "mobile_money"},
			{Phrase: "mtn money", Category: "mobile_money"},
			{Phrase: "suspicious activity", Category: "account_takeover"},
		},
	}
}

// LoadSignatureFile reads a YAML signature file:
//
//	version: "2026-03-01"
//	signatures:
//	  - phrase: "urgent action required"
//	    category: urgency
func LoadSignatureFile(path string) (SignatureSet, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return SignatureSet{}, fmt.Errorf("failed to load signature file %s: %w", path, err)
	}

	var set SignatureSet
	if err := k.Unmarshal("", &set); err != nil {
		return SignatureSet{}, fmt.Errorf("failed to decode signature file %s: %w", path, err)
	}
	if set.Version == "" {
		set.Version = path
	}
	if err := set.Validate(); err != nil {
		return SignatureSet{}, fmt.Errorf("signature file %s: %w", path, err)
	}
	return set, nil
}

// WatchSignatureFile reloads c whenever the file at path changes. A file that
// fails to parse is logged and the current signatures stay in effect.
// The returned function stops watching.
func WatchSignatureFile(path string, c *Classifier) (func() error, error) {
	provider := file.Provider(path)
	logger := logging.WithComponent("classifier")

	err := provider.Watch(func(_ interface{}, err error) {
		if err != nil {
			logger.Warn().Err(err).Str("path", path).Msg("Signature file watch error")
			return
		}
		set, err := LoadSignatureFile(path)
		if err != nil {
			logger.Error().Err(err).Str("path", path).Msg("Signature reload rejected")
			return
		}
		if err := c.Reload(set); err != nil {
			logger.Error().Err(err).Str("path", path).Msg("Signature reload failed")
			return
		}
		logger.Info().Str("version", set.Version).Int("signatures", len(set.Signatures)).Msg("Signatures reloaded")
	})
	if err != nil {
		return nil, fmt.Errorf("failed to watch signature file %s: %w", path, err)
	}
	return provider.Unwatch, nil
}
