// Chatwatch - Chat Message Threat Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatwatch

package api

import (
	"net/http"

	"github.com/tomtom215/chatwatch/internal/logging"
	ws "github.com/tomtom215/chatwatch/internal/websocket"
)

// WebSocket upgrades a dashboard client and registers it with the hub. The
// current connection status is pushed right after registration.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	if h.deps.Hub == nil {
		logging.Warn().Msg("websocket connection rejected: hub not initialized")
		NewResponseWriter(w, r).ServiceUnavailable("websocket service unavailable")
		return
	}

	upgrader := h.getUpgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := ws.NewClient(h.deps.Hub, conn)
	h.deps.Hub.Register <- client
	client.Start()

	if h.deps.Session != nil {
		h.deps.Hub.BroadcastConnection(h.deps.Session.Status())
	}
}
