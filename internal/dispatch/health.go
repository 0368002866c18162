// Chatwatch - Chat Message Threat Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatwatch

package dispatch

import "time"

// HealthStatus is the rolling webhook health.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// Health is a snapshot of delivery state.
type Health struct {
	Status              HealthStatus `json:"status"`
	WebhookConfigured   bool         `json:"webhook_configured"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	Delivered           int64        `json:"delivered"`
	Dropped             int64        `json:"dropped"`
	Skipped             int64        `json:"skipped"`
	LastSuccess         *time.Time   `json:"last_success,omitempty"`
	LastFailure         *time.Time   `json:"last_failure,omitempty"`
	LastError           string       `json:"last_error,omitempty"`
	BreakerState        string       `json:"breaker_state"`
}

// Health derives the status from consecutive dropped deliveries and the time
// since the last success (or since start when nothing succeeded yet).
func (d *Dispatcher) Health() Health {
	d.mu.Lock()
	failures := d.failures
	lastSuccess := d.lastSuccess
	lastFailure := d.lastFailure
	lastError := d.lastError
	started := d.startedAt
	d.mu.Unlock()

	now := d.now()
	ref := lastSuccess
	if ref.IsZero() {
		ref = started
	}
	silent := now.Sub(ref) > d.cfg.SilenceThreshold

	h := Health{
		Status:              classify(failures, silent, d.cfg),
		WebhookConfigured:   d.cfg.WebhookURL != "",
		ConsecutiveFailures: failures,
		Delivered:           d.delivered.Load(),
		Dropped:             d.dropped.Load(),
		Skipped:             d.skipped.Load(),
		LastError:           lastError,
		BreakerState:        stateToString(d.breaker.State()),
	}
	if !lastSuccess.IsZero() {
		t := lastSuccess
		h.LastSuccess = &t
	}
	if !lastFailure.IsZero() {
		t := lastFailure
		h.LastFailure = &t
	}
	return h
}

func classify(failures int, silent bool, cfg Config) HealthStatus {
	switch {
	case failures < cfg.HealthLowFailures:
		return HealthHealthy
	case failures > cfg.HealthHighFailures:
		return HealthUnhealthy
	case failures > cfg.HealthMediumFailures:
		return HealthDegraded
	case silent:
		return HealthDegraded
	default:
		return HealthHealthy
	}
}
