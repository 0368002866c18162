// Chatwatch - Chat Message Threat Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatwatch

package models

import "time"

// ChannelCount is a channel with its message count.
type ChannelCount struct {
	ChannelID string `json:"channel_id"`
	Messages  int64  `json:"messages"`
}

// SystemStats is the dashboard summary.
type SystemStats struct {
	TotalMessages    int64              `json:"total_messages"`
	TotalAlerts      int64              `json:"total_alerts"`
	UnresolvedAlerts int64              `json:"unresolved_alerts"`
	ActiveChannels   int64              `json:"active_channels"`
	MessagesLast24h  int64              `json:"messages_last_24h"`
	TopChannels      []ChannelCount     `json:"top_channels"`
	AlertsBySeverity map[Severity]int64 `json:"alerts_by_severity"`
	GeneratedAt      time.Time          `json:"generated_at"`
}

// AlertFilter narrows alert listings.
type AlertFilter struct {
	Limit     int        `json:"limit" validate:"min=0,max=1000"`
	Severity  Severity   `json:"severity" validate:"omitempty,oneof=low medium high critical"`
	Type      AlertType  `json:"type" validate:"omitempty,oneof=spam rate_limit suspicious_pattern behavioral_anomaly duplicate_content system"`
	ChannelID string     `json:"channel_id" validate:"omitempty,jid"`
	Resolved  *bool      `json:"resolved"`
	Since     *time.Time `json:"since"`
}
