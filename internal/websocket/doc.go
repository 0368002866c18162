// Chatwatch - Chat Message Threat Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatwatch

/*
Package websocket pushes live updates to dashboard clients.

A Hub owns the set of connected clients and fans out typed messages:

  - security_alert: an alert raised by the analyzer or the session supervisor
  - new_message: a persisted message (only those the dispatcher forwards)
  - group_participants_update: group membership changes
  - connection_state: session state machine transitions
  - ping / pong: client keepalive

The hub implements dispatch.Sink, so everything the dispatcher delivers to
the webhook is mirrored to the dashboard. Connection state changes come from
the session supervisor through BroadcastConnection.

Each client runs a readPump and a writePump goroutine. A client whose send
buffer is full is dropped rather than blocking the broadcast loop.

Timeouts:
  - writeWait: 10 seconds
  - pongWait: 60 seconds
  - pingPeriod: 54 seconds
  - maxMessageSize: 512 KB
*/
package websocket
