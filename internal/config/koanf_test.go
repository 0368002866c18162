// Chatwatch - Chat Message Threat Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatwatch

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// TestDefaultConfig verifies that defaultConfig() returns proper defaults
func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Reconnect.BaseDelay != time.Second {
		t.Errorf("Reconnect.BaseDelay = %v, want 1s", cfg.Reconnect.BaseDelay)
	}
	if cfg.Reconnect.CapDelay != time.Minute {
		t.Errorf("Reconnect.CapDelay = %v, want 1m", cfg.Reconnect.CapDelay)
	}
	if cfg.Queue.BatchSize != 50 {
		t.Errorf("Queue.BatchSize = %d, want 50", cfg.Queue.BatchSize)
	}
	if cfg.Detection.RateLimitWindow != time.Minute {
		t.Errorf("Detection.RateLimitWindow = %v, want 1m", cfg.Detection.RateLimitWindow)
	}
	if cfg.Detection.RateLimitThreshold != 10 {
		t.Errorf("Detection.RateLimitThreshold = %d, want 10", cfg.Detection.RateLimitThreshold)
	}
	if cfg.Detection.FingerprintCapacity != 1000 {
		t.Errorf("Detection.FingerprintCapacity = %d, want 1000", cfg.Detection.FingerprintCapacity)
	}
	if cfg.Dispatch.RetryAttempts != 3 {
		t.Errorf("Dispatch.RetryAttempts = %d, want 3", cfg.Dispatch.RetryAttempts)
	}
	if cfg.Dispatch.WebhookEnabled() {
		t.Error("webhook should be disabled by default")
	}
	if cfg.NATS.Enabled {
		t.Error("NATS should be disabled by default")
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want info", cfg.Logging.Level)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestEnvTransformFunc(t *testing.T) {
	tests := []struct {
		env  string
		want string
	}{
		{"WEBHOOK_URL", "dispatch.webhook_url"},
		{"QUEUE_BATCH_SIZE", "queue.batch_size"},
		{"DUCKDB_PATH", "database.path"},
		{"HTTP_PORT", "server.port"},
		{"RECONNECT_MAX_ATTEMPTS", "reconnect.max_attempts"},
		{"PATH", ""},
		{"HOME", ""},
	}
	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			if got := envTransformFunc(tt.env); got != tt.want {
				t.Errorf("envTransformFunc(%q) = %q, want %q", tt.env, got, tt.want)
			}
		})
	}
}

func TestLoadWithKoanf_EnvOverrides(t *testing.T) {
	t.Setenv(ConfigPathEnvVar, filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("WEBHOOK_URL", "https://hooks.example.com/chat")
	t.Setenv("QUEUE_BATCH_SIZE", "25")
	t.Setenv("RECONNECT_BASE_DELAY", "2s")
	t.Setenv("SPAM_KEYWORDS", "free, lottery ,prize")
	t.Setenv("SEED_CHANNELS", "120363025246125486@g.us")

	cfg, err := LoadWithKoanf()
	if err != nil {
		t.Fatalf("LoadWithKoanf() error = %v", err)
	}
	if cfg.Dispatch.WebhookURL != "https://hooks.example.com/chat" {
		t.Errorf("WebhookURL = %q", cfg.Dispatch.WebhookURL)
	}
	if cfg.Queue.BatchSize != 25 {
		t.Errorf("BatchSize = %d, want 25", cfg.Queue.BatchSize)
	}
	if cfg.Reconnect.BaseDelay != 2*time.Second {
		t.Errorf("BaseDelay = %v, want 2s", cfg.Reconnect.BaseDelay)
	}
	want := []string{"free", "lottery", "prize"}
	if strings.Join(cfg.Detection.SpamKeywords, "|") != strings.Join(want, "|") {
		t.Errorf("SpamKeywords = %v, want %v", cfg.Detection.SpamKeywords, want)
	}
	if len(cfg.Queue.SeedChannels) != 1 {
		t.Errorf("SeedChannels = %v", cfg.Queue.SeedChannels)
	}
}

func TestLoadWithKoanf_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chatwatch.yaml")
	content := `
dispatch:
  webhook_url: https://hooks.example.com/file
  retry_attempts: 5
detection:
  rate_limit_threshold: 20
  spam_keywords:
    - giveaway
    - prize
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("WEBHOOK_RETRY_ATTEMPTS", "4")

	cfg, err := LoadWithKoanf()
	if err != nil {
		t.Fatalf("LoadWithKoanf() error = %v", err)
	}
	if cfg.Dispatch.WebhookURL != "https://hooks.example.com/file" {
		t.Errorf("WebhookURL = %q", cfg.Dispatch.WebhookURL)
	}
	if cfg.Dispatch.RetryAttempts != 4 {
		t.Errorf("env should override file: RetryAttempts = %d, want 4", cfg.Dispatch.RetryAttempts)
	}
	if cfg.Detection.RateLimitThreshold != 20 {
		t.Errorf("RateLimitThreshold = %d, want 20", cfg.Detection.RateLimitThreshold)
	}
	if len(cfg.Detection.SpamKeywords) != 2 || cfg.Detection.SpamKeywords[0] != "giveaway" {
		t.Errorf("SpamKeywords = %v", cfg.Detection.SpamKeywords)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid defaults", func(*Config) {}, ""},
		{"zero batch size", func(c *Config) { c.Queue.BatchSize = 0 }, "queue.batch_size"},
		{"bad webhook url", func(c *Config) { c.Dispatch.WebhookURL = "not a url" }, "dispatch.webhook_url"},
		{"cap below base", func(c *Config) { c.Reconnect.CapDelay = time.Millisecond }, "reconnect.cap_delay"},
		{"hours out of range", func(c *Config) { c.Detection.NormalHoursEnd = 24 }, "detection.normal_hours_end"},
		{"hours inverted", func(c *Config) { c.Detection.NormalHoursStart = 22; c.Detection.NormalHoursEnd = 5 }, "normal_hours_start"},
		{"bad zone", func(c *Config) { c.Detection.Location = "Mars/Olympus" }, "detection.location"},
		{"bad seed channel", func(c *Config) { c.Queue.SeedChannels = []string{"nope"} }, "queue.seed_channels"},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"health order", func(c *Config) { c.Dispatch.HealthLowFailures = 20 }, "low <= medium <= high"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}
