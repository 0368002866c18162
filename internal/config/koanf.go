// Chatwatch - Chat Message Threat Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatwatch

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order of priority.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/chatwatch/config.yaml",
	"/etc/chatwatch/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// DefaultSpamKeywords is the keyword battery used when none is configured.
// The spam keyword ratio is hits divided by the battery size, so a longer
// list makes each hit count for less.
var DefaultSpamKeywords = []string{"free", "money", "click here", "winner", "urgent"}

// defaultConfig returns a Config with all defaults applied.
// These are loaded first, then overridden by the config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Transport: TransportConfig{
			URL:              "ws://127.0.0.1:8081/ws",
			SessionName:      "default",
			HandshakeTimeout: 10 * time.Second,
			PingInterval:     30 * time.Second,
			ReadTimeout:      90 * time.Second,
			EventBuffer:      256,
		},
		Reconnect: ReconnectConfig{
			BaseDelay:   time.Second,
			CapDelay:    time.Minute,
			MaxAttempts: 10,
		},
		Queue: QueueConfig{
			BatchSize:           50,
			ProcessInterval:     time.Second,
			MaxConcurrency:      8,
			SubscriptionRefresh: 5 * time.Minute,
			DrainTimeout:        5 * time.Second,
			SeedChannels:        []string{},
		},
		Detection: DetectionConfig{
			SpamKeywords:        append([]string(nil), DefaultSpamKeywords...),
			RateLimitWindow:     time.Minute,
			RateLimitThreshold:  10,
			FingerprintCapacity: 1000,
			NormalHoursStart:    6,
			NormalHoursEnd:      23,
			Location:            "Local",
		},
		Dispatch: DispatchConfig{
			WebhookURL:           "", // Disabled until configured
			Timeout:              10 * time.Second,
			RetryAttempts:        3,
			RetryDelay:           time.Second,
			RateLimit:            10,
			RateBurst:            20,
			NotifyMessages:       false,
			MessageRiskThreshold: 0.5,
			HealthLowFailures:    3,
			HealthMediumFailures: 5,
			HealthHighFailures:   10,
			SilenceThreshold:     10 * time.Minute,
			BreakerThreshold:     10,
			BreakerTimeout:       time.Minute,
		},
		Metrics: MetricsConfig{
			Retention:             time.Hour,
			CleanupInterval:       5 * time.Minute,
			Persist:               true,
			DegradedBatchDuration: 5 * time.Second,
			DegradedFailureRatio:  0.2,
		},
		Database: DatabaseConfig{
			Path:      "/data/chatwatch.duckdb",
			MaxMemory: "1GB",
			Threads:   0,
		},
		Credentials: CredentialsConfig{
			Path:     "/data/credentials",
			InMemory: false,
		},
		NATS: NATSConfig{
			Enabled:       false,
			URL:           "nats://127.0.0.1:4222",
			TopicPrefix:   "chatwatch",
			JetStream:     true,
			MaxReconnects: -1, // Reconnect forever
			ReconnectWait: 2 * time.Second,
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Security: SecurityConfig{
			APIToken:        "",
			CORSOrigins:     []string{"*"},
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Supervisor: SupervisorConfig{
			FailureThreshold: 5.0,
			FailureDecay:     30.0,
			FailureBackoff:   15 * time.Second,
			ShutdownTimeout:  10 * time.Second,
		},
	}
}

// Load is an alias for LoadWithKoanf.
func Load() (*Config, error) {
	return LoadWithKoanf()
}

// LoadWithKoanf loads configuration with layered sources:
//  1. Defaults
//  2. Config file (optional)
//  3. Environment variables
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// WEBHOOK_URL -> dispatch.webhook_url
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

// findConfigFile returns the first existing config file, or "".
func findConfigFile() string {
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

// sliceConfigPaths are parsed as comma-separated lists when set from the environment.
var sliceConfigPaths = []string{
	"detection.spam_keywords",
	"queue.seed_channels",
	"security.cors_origins",
}

// processSliceFields converts comma-separated string values to slices for known slice fields.
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
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envMappings maps environment variable names (lowercased) to koanf paths.
var envMappings = map[string]string{
	// Transport
	"transport_url":               "transport.url",
	"transport_session":           "transport.session_name",
	"transport_phone_number":      "transport.phone_number",
	"transport_handshake_timeout": "transport.handshake_timeout",
	"transport_ping_interval":     "transport.ping_interval",
	"transport_read_timeout":      "transport.read_timeout",

	// Reconnect policy
	"reconnect_base_delay":   "reconnect.base_delay",
	"reconnect_cap_delay":    "reconnect.cap_delay",
	"reconnect_max_attempts": "reconnect.max_attempts",

	// Queue
	"queue_batch_size":           "queue.batch_size",
	"queue_process_interval":     "queue.process_interval",
	"queue_max_concurrency":      "queue.max_concurrency",
	"queue_subscription_refresh": "queue.subscription_refresh",
	"queue_drain_timeout":        "queue.drain_timeout",
	"seed_channels":              "queue.seed_channels",

	// Detection
	"spam_keywords":         "detection.spam_keywords",
	"detection_rate_window": "detection.rate_limit_window",
	"rate_limit_threshold":  "detection.rate_limit_threshold",
	"fingerprint_capacity":  "detection.fingerprint_capacity",
	"normal_hours_start":    "detection.normal_hours_start",
	"normal_hours_end":      "detection.normal_hours_end",
	"detection_location":    "detection.location",

	// Dispatch
	"webhook_url":            "dispatch.webhook_url",
	"webhook_secret":         "dispatch.webhook_secret",
	"webhook_timeout":        "dispatch.timeout",
	"webhook_retry_attempts": "dispatch.retry_attempts",
	"webhook_retry_delay":    "dispatch.retry_delay",
	"webhook_rate_limit":     "dispatch.rate_limit",
	"webhook_rate_burst":     "dispatch.rate_burst",
	"notify_messages":        "dispatch.notify_messages",
	"message_risk_threshold": "dispatch.message_risk_threshold",

	// Metrics
	"metrics_retention":        "metrics.retention",
	"metrics_cleanup_interval": "metrics.cleanup_interval",
	"metrics_persist":          "metrics.persist",

	// Database
	"duckdb_path":       "database.path",
	"duckdb_max_memory": "database.max_memory",
	"duckdb_threads":    "database.threads",

	// Credentials
	"credentials_path":      "credentials.path",
	"credentials_in_memory": "credentials.in_memory",

	// NATS
	"nats_enabled":        "nats.enabled",
	"nats_url":            "nats.url",
	"nats_topic_prefix":   "nats.topic_prefix",
	"nats_jetstream":      "nats.jetstream",
	"nats_stream_max_age": "nats.stream_max_age",

	// Server
	"http_port":             "server.port",
	"http_host":             "server.host",
	"http_read_timeout":     "server.read_timeout",
	"http_write_timeout":    "server.write_timeout",
	"http_shutdown_timeout": "server.shutdown_timeout",

	// Security
	"api_token":           "security.api_token",
	"cors_origins":        "security.cors_origins",
	"rate_limit_requests": "security.rate_limit_reqs",
	"rate_limit_window":   "security.rate_limit_window",
	"disable_rate_limit":  "security.rate_limit_disabled",

	// Logging
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",

	// Supervisor
	"supervisor_failure_threshold": "supervisor.failure_threshold",
	"supervisor_failure_decay":     "supervisor.failure_decay",
	"supervisor_failure_backoff":   "supervisor.failure_backoff",
	"supervisor_shutdown_timeout":  "supervisor.shutdown_timeout",
}

// envTransformFunc maps an environment variable to a koanf path.
// Unmapped variables return "" and are ignored, which keeps unrelated
// process environment (PATH, HOME) out of the config tree.
//
// Examples:
//   - WEBHOOK_URL -> dispatch.webhook_url
//   - QUEUE_BATCH_SIZE -> queue.batch_size
//   - DUCKDB_PATH -> database.path
func envTransformFunc(key string) string {
	if path, ok := envMappings[strings.ToLower(key)]; ok {
		return path
	}
	return ""
}
