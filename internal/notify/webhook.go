// Threatwatch - Security Threat Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/threatwatch

package notify

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/tomtom215/threatwatch/internal/models"
)

// Notifier delivers alerts to an external system.
type Notifier interface {
	Name() string
	Enabled() bool
	Send(ctx context.Context, alert *models.Alert) error
}

// WebhookConfig configures WebhookNotifier.
type WebhookConfig struct {
	URL     string
	Headers map[string]string
	// RateLimit is the minimum spacing between requests (default 500ms).
	RateLimit time.Duration
	// Timeout bounds each request (default 10s).
	Timeout time.Duration
}

// WebhookPayload is the JSON body posted to the webhook.
type WebhookPayload struct {
	Alert     *models.Alert `json:"alert"`
	EventType string        `json:"event_type"`
	Timestamp time.Time     `json:"timestamp"`
	Source    string        `json:"source"`
}

// WebhookNotifier posts alerts as JSON to a generic webhook endpoint.
type WebhookNotifier struct {
	url     string
	headers map[string]string
	client  *http.Client
	limiter *rate.Limiter
	now     func() time.Time
}

// NewWebhookNotifier creates a webhook notifier.
func NewWebhookNotifier(cfg WebhookConfig) *WebhookNotifier {
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 500 * time.Millisecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	headers := make(map[string]string, len(cfg.Headers))
	for k, v := range cfg.Headers {
		headers[k] = v
	}

	return &WebhookNotifier{
		url:     cfg.URL,
		headers: headers,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Every(cfg.RateLimit), 1),
		now:     time.Now,
	}
}

// Name implements Notifier.
func (n *WebhookNotifier) Name() string { return "webhook" }

// Enabled implements Notifier.
func (n *WebhookNotifier) Enabled() bool { return n.url != "" }

// Send implements Notifier. It waits for the rate limiter, honoring ctx.
func (n *WebhookNotifier) Send(ctx context.Context, alert *models.Alert) error {
	if !n.Enabled() {
		return nil
	}
	if err := n.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("webhook rate limit: %w", err)
	}

	body, err := json.Marshal(WebhookPayload{
		Alert:     alert,
		EventType: "threat_alert",
		Timestamp: n.now().UTC(),
		Source:    "threatwatch",
	})
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range n.headers {
		req.Header.Set(key, value)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
