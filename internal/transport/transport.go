// Chatwatch - Chat Message Threat Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatwatch

// Package transport defines the chat transport capability and a WebSocket
// client for a chat bridge.
//
// A transport delivers typed events on a single channel for its whole
// lifetime. It never reconnects on its own: a dropped connection surfaces as
// a close ConnectionEvent and the session supervisor decides what happens next.
package transport

import (
	"context"
	"errors"

	"github.com/goccy/go-json"
)

// ErrTransportClosed is returned when an operation needs a live connection.
var ErrTransportClosed = errors.New("transport closed")

// Credentials is the opaque credential blob rotated by the bridge.
type Credentials = json.RawMessage

// CredentialHook is invoked on every credential rotation.
type CredentialHook func(ctx context.Context, creds Credentials) error

// CredentialLoader returns the stored credentials, or nil when none exist.
type CredentialLoader func(ctx context.Context) (Credentials, error)

// Transport is the capability the session supervisor drives.
type Transport interface {
	Connect(ctx context.Context) error
	Events() <-chan Event
	SendText(ctx context.Context, channelID, text string) error
	Logout(ctx context.Context) error
	Close() error
	SetCredentialHook(hook CredentialHook)
}

// ConnectionKind classifies connection events.
type ConnectionKind string

const (
	ConnectionPairing ConnectionKind = "pairing"
	ConnectionOpen    ConnectionKind = "open"
	ConnectionClose   ConnectionKind = "close"
)

// CloseReason explains why a connection closed.
type CloseReason string

const (
	ReasonLoggedOut       CloseReason = "logged_out"
	ReasonConnectionLost  CloseReason = "connection_lost"
	ReasonConnectionClose CloseReason = "connection_closed"
	ReasonTimedOut        CloseReason = "timed_out"
	ReasonRestartRequired CloseReason = "restart_required"
	ReasonReplaced        CloseReason = "replaced"
	ReasonUnknown         CloseReason = "unknown"
)

// ParseCloseReason maps a bridge reason string, defaulting to ReasonUnknown.
func ParseCloseReason(s string) CloseReason {
	switch r := CloseReason(s); r {
	case ReasonLoggedOut, ReasonConnectionLost, ReasonConnectionClose, ReasonTimedOut,
		ReasonRestartRequired, ReasonReplaced:
		return r
	default:
		return ReasonUnknown
	}
}

// Terminal reports whether the credential was invalidated. Only a manual
// credential reset recovers from a terminal close.
func (r CloseReason) Terminal() bool {
	return r == ReasonLoggedOut
}

// Event is one of ConnectionEvent, MessageBatchEvent or ParticipantsEvent.
type Event interface {
	isEvent()
}

// ConnectionEvent reports pairing, open and close.
type ConnectionEvent struct {
	Kind        ConnectionKind
	PairingCode string
	Reason      CloseReason
}

// MessageBatchEvent carries messages as delivered by the bridge.
type MessageBatchEvent struct {
	Messages []RawMessage
}

// ParticipantsEvent reports a group membership change.
type ParticipantsEvent struct {
	ChannelID    string
	Participants []string
	Action       string
}

func (ConnectionEvent) isEvent()   {}
func (MessageBatchEvent) isEvent() {}
func (ParticipantsEvent) isEvent() {}
