// Threatwatch - Security Threat Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/threatwatch

// Package config loads Threatwatch configuration with koanf.
//
// Loading order (later layers override earlier ones):
//  1. Defaults: defaultConfig()
//  2. Config file: optional YAML (CONFIG_PATH or DefaultConfigPaths)
//  3. Environment variables: explicit mapping table in envTransformFunc
//
// Config is immutable after Load and safe for concurrent reads.
package config

import "time"

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Logging    LoggingConfig    `koanf:"logging"`
	Store      StoreConfig      `koanf:"store"`
	Notify     NotifyConfig     `koanf:"notify"`
	Bus        BusConfig        `koanf:"bus"`
	Classifier ClassifierConfig `koanf:"classifier"`
	Aggregator AggregatorConfig `koanf:"aggregator"`
	Report     ReportConfig     `koanf:"report"`
	Security   SecurityConfig   `koanf:"security"`
	Supervisor SupervisorConfig `koanf:"supervisor"`
}

// ServerConfig holds HTTP server settings.
//
// Environment Variables:
//   - HTTP_HOST, HTTP_PORT
//   - HTTP_READ_TIMEOUT, HTTP_WRITE_TIMEOUT, HTTP_SHUTDOWN_TIMEOUT
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// StoreConfig selects and tunes the event store backend.
//
// Driver is one of "memory", "sqlite" or "duckdb". Path is the database file
// for the SQL drivers (empty for duckdb means in-memory).
type StoreConfig struct {
	Driver           string        `koanf:"driver"`
	Path             string        `koanf:"path"`
	PollInterval     time.Duration `koanf:"poll_interval"`
	BreakerThreshold uint32        `koanf:"breaker_threshold"`
	BreakerTimeout   time.Duration `koanf:"breaker_timeout"`
}

// NotifyConfig configures notification persistence and outbound webhooks.
//
// Driver is "memory" or "badger"; Path is the badger directory and
// GCInterval its value log GC period.
type NotifyConfig struct {
	Driver           string            `koanf:"driver"`
	Path             string            `koanf:"path"`
	WebhookURL       string            `koanf:"webhook_url"`
	WebhookHeaders   map[string]string `koanf:"webhook_headers"`
	WebhookRateLimit time.Duration     `koanf:"webhook_rate_limit"`
	WebhookTimeout   time.Duration     `koanf:"webhook_timeout"`
	GCInterval       time.Duration     `koanf:"gc_interval"`
}

// BusConfig configures the watermill event bus that carries threat events
// from the gateway to the notification dispatcher.
//
// Driver is "gochannel" (in-process) or "nats" (requires -tags nats).
type BusConfig struct {
	Driver               string        `koanf:"driver"`
	NATSURL              string        `koanf:"nats_url"`
	Embedded             bool          `koanf:"embedded"`
	EmbeddedPort         int           `koanf:"embedded_port"`
	EmbeddedStoreDir     string        `koanf:"embedded_store_dir"`
	BufferSize           int64         `koanf:"buffer_size"`
	SubscribersCount     int           `koanf:"subscribers_count"`
	MaxRetries           int           `koanf:"max_retries"`
	RetryInitialInterval time.Duration `koanf:"retry_initial_interval"`
	RetryMaxInterval     time.Duration `koanf:"retry_max_interval"`
	DedupTTL             time.Duration `koanf:"dedup_ttl"`
	CloseTimeout         time.Duration `koanf:"close_timeout"`
}

// ClassifierConfig points at an optional signature file.
// Without one, the built-in signature set is used.
type ClassifierConfig struct {
	SignaturesPath  string `koanf:"signatures_path"`
	WatchSignatures bool   `koanf:"watch_signatures"`
}

// AggregatorConfig tunes the live statistics aggregator.
type AggregatorConfig struct {
	Window            time.Duration `koanf:"window"`
	ReconcileInterval time.Duration `koanf:"reconcile_interval"`
	SessionBuffer     int           `koanf:"session_buffer"`
}

// ReportConfig tunes report generation.
type ReportConfig struct {
	Timeout           time.Duration `koanf:"timeout"`
	DefaultPeriodDays int           `koanf:"default_period_days"`
}

// SecurityConfig holds CORS and rate limiting settings.
type SecurityConfig struct {
	CORSOrigins       []string      `koanf:"cors_origins"`
	RateLimitRequests int           `koanf:"rate_limit_requests"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	IngestRateLimit   int           `koanf:"ingest_rate_limit"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
}

// SupervisorConfig mirrors supervisor.TreeConfig.
type SupervisorConfig struct {
	FailureThreshold float64       `koanf:"failure_threshold"`
	FailureDecay     float64       `koanf:"failure_decay"`
	FailureBackoff   time.Duration `koanf:"failure_backoff"`
	ShutdownTimeout  time.Duration `koanf:"shutdown_timeout"`
}

// defaultConfig returns the built-in defaults; file and env layers override them.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            3857,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Store: StoreConfig{
			Driver:           "sqlite",
			Path:             "/data/threatwatch.db",
			PollInterval:     2 * time.Second,
			BreakerThreshold: 5,
			BreakerTimeout:   30 * time.Second,
		},
		Notify: NotifyConfig{
			Driver:           "badger",
			Path:             "/data/notifications",
			WebhookRateLimit: 500 * time.Millisecond,
			WebhookTimeout:   10 * time.Second,
			GCInterval:       10 * time.Minute,
		},
		Bus: BusConfig{
			Driver:               "gochannel",
			NATSURL:              "nats://127.0.0.1:4222",
			EmbeddedPort:         4222,
			EmbeddedStoreDir:     "/data/nats",
			BufferSize:           1024,
			SubscribersCount:     1,
			MaxRetries:           5,
			RetryInitialInterval: 100 * time.Millisecond,
			RetryMaxInterval:     10 * time.Second,
			DedupTTL:             10 * time.Minute,
			CloseTimeout:         30 * time.Second,
		},
		Aggregator: AggregatorConfig{
			Window:            24 * time.Hour,
			ReconcileInterval: time.Minute,
			SessionBuffer:     64,
		},
		Report: ReportConfig{
			Timeout:           30 * time.Second,
			DefaultPeriodDays: 30,
		},
		Security: SecurityConfig{
			CORSOrigins:       []string{"*"},
			RateLimitRequests: 100,
			RateLimitWindow:   time.Minute,
			IngestRateLimit:   30,
		},
		Supervisor: SupervisorConfig{
			FailureThreshold: 5,
			FailureDecay:     30,
			FailureBackoff:   15 * time.Second,
			ShutdownTimeout:  10 * time.Second,
		},
	}
}
