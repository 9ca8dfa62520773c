// Threatwatch - Security Threat Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/threatwatch

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the config file locations searched in order.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/threatwatch/config.yaml",
	"/etc/threatwatch/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// Load builds the configuration from defaults, an optional YAML file and
// environment variables, then validates it.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := FindConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// STORE_DRIVER -> store.driver, HTTP_PORT -> server.port, ...
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// FindConfigFile returns the config file in use, or "" when running on
// defaults and environment only.
func FindConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths are parsed from comma-separated env values.
var sliceConfigPaths = []string{
	"security.cors_origins",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings maps lowercased environment variable names to config paths.
// Unmapped variables are ignored so unrelated env cannot leak into config.
var envMappings = map[string]string{
	"http_host":             "server.host",
	"http_port":             "server.port",
	"http_read_timeout":     "server.read_timeout",
	"http_write_timeout":    "server.write_timeout",
	"http_shutdown_timeout": "server.shutdown_timeout",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",

	"store_driver":            "store.driver",
	"store_path":              "store.path",
	"store_poll_interval":     "store.poll_interval",
	"store_breaker_threshold": "store.breaker_threshold",
	"store_breaker_timeout":   "store.breaker_timeout",

	"notify_driver":      "notify.driver",
	"notify_path":        "notify.path",
	"webhook_url":        "notify.webhook_url",
	"webhook_rate_limit": "notify.webhook_rate_limit",
	"webhook_timeout":    "notify.webhook_timeout",
	"notify_gc_interval": "notify.gc_interval",

	"bus_driver":             "bus.driver",
	"nats_url":               "bus.nats_url",
	"nats_embedded":          "bus.embedded",
	"nats_embedded_port":     "bus.embedded_port",
	"nats_store_dir":         "bus.embedded_store_dir",
	"bus_max_retries":        "bus.max_retries",
	"bus_dedup_ttl":          "bus.dedup_ttl",
	"bus_subscribers_count":  "bus.subscribers_count",
	"bus_retry_max_interval": "bus.retry_max_interval",

	"signatures_path":  "classifier.signatures_path",
	"watch_signatures": "classifier.watch_signatures",

	"aggregator_window":    "aggregator.window",
	"reconcile_interval":   "aggregator.reconcile_interval",
	"session_buffer":       "aggregator.session_buffer",
	"report_timeout":       "report.timeout",
	"report_default_days":  "report.default_period_days",
	"cors_origins":         "security.cors_origins",
	"rate_limit_requests":  "security.rate_limit_requests",
	"rate_limit_window":    "security.rate_limit_window",
	"ingest_rate_limit":    "security.ingest_rate_limit",
	"disable_rate_limit":   "security.rate_limit_disabled",
	"supervisor_threshold": "supervisor.failure_threshold",
	"supervisor_backoff":   "supervisor.failure_backoff",
}

func envTransformFunc(key string) string {
	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}
	return ""
}

// WatchConfigFile invokes callback whenever the file at path changes.
// Callers reload and swap configuration under their own lock.
func WatchConfigFile(path string, callback func()) error {
	return file.Provider(path).Watch(func(_ interface{}, err error) {
		if err != nil {
			return
		}
		callback()
	})
}
