// Chatwatch - Chat Message Threat Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatwatch

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/tomtom215/chatwatch/internal/detection"
	"github.com/tomtom215/chatwatch/internal/dispatch"
	"github.com/tomtom215/chatwatch/internal/ingest"
	"github.com/tomtom215/chatwatch/internal/logging"
	"github.com/tomtom215/chatwatch/internal/metrics"
	"github.com/tomtom215/chatwatch/internal/models"
)

// Overall health values.
const (
	HealthOK        = "ok"
	HealthDegraded  = "degraded"
	HealthUnhealthy = "unhealthy"
)

// HealthResponse summarizes every pipeline component.
type HealthResponse struct {
	Status           string                   `json:"status"`
	UptimeSeconds    int64                    `json:"uptime_seconds"`
	Database         string                   `json:"database"`
	Connection       *models.ConnectionStatus `json:"connection,omitempty"`
	Webhook          *dispatch.Health         `json:"webhook,omitempty"`
	Queue            *ingest.Stats            `json:"queue,omitempty"`
	Analyzer         *detection.Stats         `json:"analyzer,omitempty"`
	Pipeline         *metrics.Degradation     `json:"pipeline,omitempty"`
	DashboardClients int                      `json:"dashboard_clients"`
}

// Health reports component health. It answers 503 when the database is
// unreachable or the webhook is unhealthy.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:        HealthOK,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Database:      "ok",
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.deps.Store.Ping(ctx); err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Msg("health check database ping failed")
		resp.Database = "error"
		resp.Status = HealthUnhealthy
	}

	degrade := func() {
		if resp.Status == HealthOK {
			resp.Status = HealthDegraded
		}
	}

	if h.deps.Session != nil {
		st := h.deps.Session.Status()
		resp.Connection = &st
		if st.State != models.StateConnected {
			degrade()
		}
	}
	if h.deps.Dispatcher != nil {
		wh := h.deps.Dispatcher.Health()
		resp.Webhook = &wh
		switch wh.Status {
		case dispatch.HealthUnhealthy:
			resp.Status = HealthUnhealthy
		case dispatch.HealthDegraded:
			degrade()
		}
	}
	if h.deps.Queue != nil {
		qs := h.deps.Queue.Stats()
		resp.Queue = &qs
	}
	if h.deps.Analyzer != nil {
		as := h.deps.Analyzer.Stats()
		resp.Analyzer = &as
	}
	if h.deps.Recorder != nil {
		deg := h.deps.Recorder.Degraded()
		resp.Pipeline = &deg
		if deg.Degraded {
			degrade()
		}
	}
	if h.deps.Hub != nil {
		resp.DashboardClients = h.deps.Hub.GetClientCount()
	}

	rw := NewResponseWriter(w, r)
	if resp.Status == HealthUnhealthy {
		rw.ErrorWithDetails(http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "pipeline unhealthy", resp)
		return
	}
	rw.Success(resp)
}

// Connection returns the session state.
func (h *Handler) Connection(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	if h.deps.Session == nil {
		rw.ServiceUnavailable("session supervisor not running")
		return
	}
	rw.Success(h.deps.Session.Status())
}

// ResetConnection clears stored credentials and starts a fresh session.
// This is the manual recovery from auth_failed.
func (h *Handler) ResetConnection(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	if h.deps.Session == nil {
		rw.ServiceUnavailable("session supervisor not running")
		return
	}
	if err := h.deps.Session.ResetCredentials(r.Context()); err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("credential reset failed")
		rw.Error(http.StatusInternalServerError, ErrCodeInternalError, "credential reset failed")
		return
	}
	logging.Ctx(r.Context()).Warn().Msg("session credentials reset from dashboard")
	rw.Success(h.deps.Session.Status())
}
