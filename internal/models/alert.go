// Chatwatch - Chat Message Threat Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatwatch

package models

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// AlertType identifies which check raised an alert.
type AlertType string

const (
	AlertTypeSpam              AlertType = "spam"
	AlertTypeRateLimit         AlertType = "rate_limit"
	AlertTypeSuspiciousPattern AlertType = "suspicious_pattern"
	AlertTypeBehavioral        AlertType = "behavioral_anomaly"
	AlertTypeDuplicate         AlertType = "duplicate_content"

	// AlertTypeSystem is raised by the session supervisor, never by analysis.
	AlertTypeSystem AlertType = "system"
)

// Severity of an alert.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Weight is the severity's contribution to a message risk score.
func (s Severity) Weight() float64 {
	switch s {
	case SeverityCritical:
		return 0.4
	case SeverityHigh:
		return 0.3
	case SeverityMedium:
		return 0.2
	case SeverityLow:
		return 0.1
	default:
		return 0
	}
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	return s.Weight() > 0
}

// SpamMeta carries the spam score breakdown.
type SpamMeta struct {
	Score           float64  `json:"score"`
	KeywordRatio    float64  `json:"keyword_ratio"`
	MatchedKeywords []string `json:"matched_keywords,omitempty"`
	RepetitionScore float64  `json:"repetition_score"`
	URLCount        int      `json:"url_count"`
	CapsRatio       float64  `json:"caps_ratio"`
}

// RateLimitMeta carries the sliding window state at the time of the alert.
type RateLimitMeta struct {
	Count     int   `json:"count"`
	Threshold int   `json:"threshold"`
	WindowMs  int64 `json:"window_ms"`
}

// PatternMeta carries per-category match counts.
type PatternMeta struct {
	Confidence float64        `json:"confidence"`
	Matches    map[string]int `json:"matches"`
}

// BehaviorMeta lists behavioral flags.
type BehaviorMeta struct {
	Flags []string `json:"flags"`
	Hour  int      `json:"hour"`
}

// DuplicateMeta carries the fingerprint and how often it was seen before.
type DuplicateMeta struct {
	Fingerprint string `json:"fingerprint"`
	PriorCount  int    `json:"prior_count"`
	Occurrences int    `json:"occurrences"`
}

// SystemMeta describes a supervisor-level failure.
type SystemMeta struct {
	Component string `json:"component"`
	Attempts  int    `json:"attempts,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// AlertMetadata is a tagged variant keyed by Type.
type AlertMetadata struct {
	Type      AlertType      `json:"type"`
	Spam      *SpamMeta      `json:"spam,omitempty"`
	RateLimit *RateLimitMeta `json:"rate_limit,omitempty"`
	Pattern   *PatternMeta   `json:"pattern,omitempty"`
	Behavior  *BehaviorMeta  `json:"behavior,omitempty"`
	Duplicate *DuplicateMeta `json:"duplicate,omitempty"`
	System    *SystemMeta    `json:"system,omitempty"`
}

// Alert is a finding raised for a message, or by the supervisor for system failures.
type Alert struct {
	ID          string        `json:"id"`
	Type        AlertType     `json:"type"`
	Severity    Severity      `json:"severity"`
	ChannelID   string        `json:"channel_id,omitempty"`
	MessageID   string        `json:"message_id,omitempty"`
	Sender      string        `json:"sender,omitempty"`
	Description string        `json:"description"`
	Timestamp   time.Time     `json:"timestamp"`
	Resolved    bool          `json:"resolved"`
	ResolvedAt  *time.Time    `json:"resolved_at,omitempty"`
	Metadata    AlertMetadata `json:"metadata"`
}

// MarshalJSON adds epoch-millisecond copies of the alert's timestamps.
func (a Alert) MarshalJSON() ([]byte, error) {
	type wire Alert
	out := struct {
		wire
		TimestampMs  int64  `json:"timestamp_ms"`
		ResolvedAtMs *int64 `json:"resolved_at_ms,omitempty"`
	}{wire: wire(a), TimestampMs: a.Timestamp.UnixMilli()}
	if a.ResolvedAt != nil {
		ms := a.ResolvedAt.UnixMilli()
		out.ResolvedAtMs = &ms
	}
	return json.Marshal(out)
}

// NewAlert builds an alert for msg with a fresh id.
func NewAlert(t AlertType, sev Severity, msg *NormalizedMessage, desc string, meta AlertMetadata, now time.Time) Alert {
	meta.Type = t
	a := Alert{
		ID:          uuid.NewString(),
		Type:        t,
		Severity:    sev,
		Description: desc,
		Timestamp:   now,
		Metadata:    meta,
	}
	if msg != nil {
		a.ChannelID = msg.ChannelID
		a.MessageID = msg.ID
		a.Sender = msg.Sender
	}
	return a
}

// NewSystemAlert builds a critical system alert.
func NewSystemAlert(component, desc string, meta SystemMeta, now time.Time) Alert {
	meta.Component = component
	return NewAlert(AlertTypeSystem, SeverityCritical, nil, desc, AlertMetadata{System: &meta}, now)
}
