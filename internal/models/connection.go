// Chatwatch - Chat Message Threat Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatwatch

package models

import "time"

// ConnectionState is the session state machine position.
type ConnectionState string

const (
	StateDisconnected    ConnectionState = "disconnected"
	StateAwaitingPairing ConnectionState = "awaiting_pairing"
	StateConnected       ConnectionState = "connected"

	// StateAuthFailed is terminal until credentials are reset by hand.
	StateAuthFailed ConnectionState = "auth_failed"
)

// Gauge returns the numeric value exported to Prometheus.
func (s ConnectionState) Gauge() float64 {
	switch s {
	case StateAwaitingPairing:
		return 1
	case StateConnected:
		return 2
	case StateAuthFailed:
		return 3
	default:
		return 0
	}
}

// ConnectionStatus is what the dashboard shows about the session.
type ConnectionStatus struct {
	State       ConnectionState `json:"state"`
	Attempt     int             `json:"attempt"`
	PairingCode string          `json:"pairing_code,omitempty"`
	LastReason  string          `json:"last_reason,omitempty"`
	Since       time.Time       `json:"since"`
}
