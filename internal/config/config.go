// Chatwatch - Chat Message Threat Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatwatch

// Package config loads chatwatch configuration.
//
// Configuration Loading Order (Koanf v2):
//  1. Defaults: built-in defaults from defaultConfig()
//  2. Config File: optional YAML file (CONFIG_PATH, config.yaml, /etc/chatwatch/config.yaml)
//  3. Environment Variables: override any setting (see envTransformFunc)
//
// Config is immutable after Load() and safe for concurrent reads.
package config

import (
	"fmt"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Transport   TransportConfig   `koanf:"transport"`
	Reconnect   ReconnectConfig   `koanf:"reconnect"`
	Queue       QueueConfig       `koanf:"queue"`
	Detection   DetectionConfig   `koanf:"detection"`
	Dispatch    DispatchConfig    `koanf:"dispatch"`
	Metrics     MetricsConfig     `koanf:"metrics"`
	Database    DatabaseConfig    `koanf:"database"`
	Credentials CredentialsConfig `koanf:"credentials"`
	NATS        NATSConfig        `koanf:"nats"`
	Server      ServerConfig      `koanf:"server"`
	Security    SecurityConfig    `koanf:"security"`
	Logging     LoggingConfig     `koanf:"logging"`
	Supervisor  SupervisorConfig  `koanf:"supervisor"`
}

// TransportConfig configures the websocket bridge to the chat network.
type TransportConfig struct {
	URL              string        `koanf:"url" validate:"required,url"`
	SessionName      string        `koanf:"session_name" validate:"required"`
	PhoneNumber      string        `koanf:"phone_number"` // Request a pairing code for this number instead of a QR
	HandshakeTimeout time.Duration `koanf:"handshake_timeout" validate:"gt=0"`
	PingInterval     time.Duration `koanf:"ping_interval" validate:"gt=0"`
	ReadTimeout      time.Duration `koanf:"read_timeout" validate:"gt=0"`
	EventBuffer      int           `koanf:"event_buffer" validate:"min=1"`
}

// ReconnectConfig holds the session supervisor's backoff policy.
type ReconnectConfig struct {
	BaseDelay   time.Duration `koanf:"base_delay" validate:"gt=0"`
	CapDelay    time.Duration `koanf:"cap_delay" validate:"gt=0"`
	MaxAttempts int           `koanf:"max_attempts" validate:"min=1"`
}

// QueueConfig holds ingestion queue settings.
type QueueConfig struct {
	BatchSize           int           `koanf:"batch_size" validate:"min=1,max=10000"`
	ProcessInterval     time.Duration `koanf:"process_interval" validate:"gt=0"`
	MaxConcurrency      int           `koanf:"max_concurrency" validate:"min=1,max=256"`
	SubscriptionRefresh time.Duration `koanf:"subscription_refresh" validate:"gt=0"`
	DrainTimeout        time.Duration `koanf:"drain_timeout" validate:"gt=0"`
	// SeedChannels are upserted as active subscriptions at startup.
	SeedChannels []string `koanf:"seed_channels" validate:"dive,jid"`
}

// DetectionConfig holds threat analyzer settings.
type DetectionConfig struct {
	SpamKeywords        []string      `koanf:"spam_keywords"`
	RateLimitWindow     time.Duration `koanf:"rate_limit_window" validate:"gt=0"`
	RateLimitThreshold  int           `koanf:"rate_limit_threshold" validate:"min=1"`
	FingerprintCapacity int           `koanf:"fingerprint_capacity" validate:"min=2"`
	NormalHoursStart    int           `koanf:"normal_hours_start" validate:"min=0,max=23"`
	NormalHoursEnd      int           `koanf:"normal_hours_end" validate:"min=0,max=23"`
	Location            string        `koanf:"location"` // IANA time zone used for the normal-hours check
}

// DispatchConfig holds webhook delivery settings.
type DispatchConfig struct {
	WebhookURL           string        `koanf:"webhook_url" validate:"omitempty,url"`
	WebhookSecret        string        `koanf:"webhook_secret"`
	Timeout              time.Duration `koanf:"timeout" validate:"gt=0"`
	RetryAttempts        int           `koanf:"retry_attempts" validate:"min=1,max=10"`
	RetryDelay           time.Duration `koanf:"retry_delay" validate:"gt=0"`
	RateLimit            float64       `koanf:"rate_limit" validate:"gt=0"` // deliveries per second
	RateBurst            int           `koanf:"rate_burst" validate:"min=1"`
	NotifyMessages       bool          `koanf:"notify_messages"`
	MessageRiskThreshold float64       `koanf:"message_risk_threshold" validate:"gte=0,lte=1"`
	HealthLowFailures    int           `koanf:"health_low_failures" validate:"min=1"`
	HealthMediumFailures int           `koanf:"health_medium_failures" validate:"min=1"`
	HealthHighFailures   int           `koanf:"health_high_failures" validate:"min=1"`
	SilenceThreshold     time.Duration `koanf:"silence_threshold" validate:"gt=0"`
	BreakerThreshold     int           `koanf:"breaker_threshold" validate:"min=1"`
	BreakerTimeout       time.Duration `koanf:"breaker_timeout" validate:"gt=0"`
}

// MetricsConfig holds in-process metric series settings.
type MetricsConfig struct {
	Retention             time.Duration `koanf:"retention" validate:"gt=0"`
	CleanupInterval       time.Duration `koanf:"cleanup_interval" validate:"gt=0"`
	Persist               bool          `koanf:"persist"`
	DegradedBatchDuration time.Duration `koanf:"degraded_batch_duration" validate:"gt=0"`
	DegradedFailureRatio  float64       `koanf:"degraded_failure_ratio" validate:"gte=0,lte=1"`
}

// DatabaseConfig holds DuckDB settings.
type DatabaseConfig struct {
	Path      string `koanf:"path" validate:"required"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads" validate:"min=0"` // 0 = DuckDB default
}

// CredentialsConfig holds the session credential store settings.
type CredentialsConfig struct {
	Path     string `koanf:"path"`
	InMemory bool   `koanf:"in_memory"`
}

// NATSConfig configures the optional event-bus publisher.
type NATSConfig struct {
	Enabled       bool          `koanf:"enabled"`
	URL           string        `koanf:"url" validate:"required_if=Enabled true"`
	TopicPrefix   string        `koanf:"topic_prefix"`
	JetStream     bool          `koanf:"jetstream"`
	MaxReconnects int           `koanf:"max_reconnects"`
	ReconnectWait time.Duration `koanf:"reconnect_wait"`
	StreamMaxAge  time.Duration `koanf:"stream_max_age" validate:"gte=0"`
}

// ServerConfig holds dashboard HTTP server settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `koanf:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `koanf:"write_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
}

// Addr returns host:port for net/http.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// SecurityConfig holds dashboard API protections.
type SecurityConfig struct {
	APIToken          string        `koanf:"api_token"` // Bearer token for /api/v1; empty disables auth
	CORSOrigins       []string      `koanf:"cors_origins"`
	RateLimitReqs     int           `koanf:"rate_limit_reqs" validate:"min=1"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window" validate:"gt=0"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// SupervisorConfig holds suture tree settings.
type SupervisorConfig struct {
	FailureThreshold float64       `koanf:"failure_threshold" validate:"gt=0"`
	FailureDecay     float64       `koanf:"failure_decay" validate:"gt=0"`
	FailureBackoff   time.Duration `koanf:"failure_backoff" validate:"gt=0"`
	ShutdownTimeout  time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
}
