// Chatwatch - Chat Message Threat Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatwatch

// Package detection scores chat messages for spam, flooding, duplicated
// content, suspicious patterns and behavioral anomalies.
//
// An Analyzer runs five independent detectors over each message. Each detector
// raises zero or one alert; the analyzer then folds the alerts and a few
// content signals into a single risk score in [0,1].
//
// Rate and fingerprint state are owned by the Analyzer instance. There is no
// package-level mutable state.
package detection

import (
	"context"
	"errors"
	"time"

	"github.com/tomtom215/chatwatch/internal/models"
)

// ErrAnalysis marks a failed or panicked analysis. The message is still
// persisted, with a zero risk score.
var ErrAnalysis = errors.New("analysis failed")

// Detector is one independent check.
type Detector interface {
	// Type returns the alert type this detector raises.
	Type() models.AlertType

	// Check inspects msg and returns an alert or nil.
	Check(ctx context.Context, msg *models.NormalizedMessage, now time.Time) (*models.Alert, error)
}

// Config configures an Analyzer.
type Config struct {
	SpamKeywords        []string
	RateLimitWindow     time.Duration
	RateLimitThreshold  int
	FingerprintCapacity int
	NormalHoursStart    int
	NormalHoursEnd      int
	Location            *time.Location
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		SpamKeywords:        []string{"free", "money", "click here", "winner", "urgent"},
		RateLimitWindow:     time.Minute,
		RateLimitThreshold:  10,
		FingerprintCapacity: 1000,
		NormalHoursStart:    6,
		NormalHoursEnd:      23,
		Location:            time.Local,
	}
}

// Result is the outcome of analyzing one message.
type Result struct {
	Alerts    []models.Alert `json:"alerts"`
	RiskScore float64        `json:"risk_score"`
}

// Stats summarizes analyzer state for the dashboard.
type Stats struct {
	MessagesAnalyzed     int64 `json:"messages_analyzed"`
	AlertsRaised         int64 `json:"alerts_raised"`
	Errors               int64 `json:"errors"`
	TrackedSenders       int   `json:"tracked_senders"`
	Fingerprints         int   `json:"fingerprints"`
	FingerprintEvictions int64 `json:"fingerprint_evictions"`
}
