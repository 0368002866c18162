// Chatwatch - Chat Message Threat Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatwatch

package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/chatwatch/internal/dispatch"
	"github.com/tomtom215/chatwatch/internal/logging"
	"github.com/tomtom215/chatwatch/internal/metrics"
)

// MetricsOverview lists recorded series with derived indicators.
type MetricsOverview struct {
	Series      []string            `json:"series"`
	Degradation metrics.Degradation `json:"degradation"`
}

// MetricsIndex lists the recorder's series.
func (h *Handler) MetricsIndex(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	if h.deps.Recorder == nil {
		rw.ServiceUnavailable("metrics recorder not running")
		return
	}
	rw.Success(MetricsOverview{
		Series:      h.deps.Recorder.Names(),
		Degradation: h.deps.Recorder.Degraded(),
	})
}

// MetricSeries returns one series summary over the retention window.
func (h *Handler) MetricSeries(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	if h.deps.Recorder == nil {
		rw.ServiceUnavailable("metrics recorder not running")
		return
	}
	name := chi.URLParam(r, "name")
	summary, ok := h.deps.Recorder.Get(name)
	if !ok {
		rw.NotFound("no samples for metric " + sanitizeLogValue(name))
		return
	}
	rw.Success(summary)
}

// WebhookTest sends a test envelope to the configured webhook. A failed
// test answers 502 with the result as details.
func (h *Handler) WebhookTest(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	if h.deps.Dispatcher == nil {
		rw.ServiceUnavailable("dispatcher not running")
		return
	}

	result, err := h.deps.Dispatcher.TestWebhook(r.Context())
	if errors.Is(err, dispatch.ErrNoWebhook) {
		rw.BadRequest("no webhook URL configured")
		return
	}
	if err != nil {
		rw.Error(http.StatusInternalServerError, ErrCodeInternalError, "webhook test could not be built")
		return
	}
	logging.Ctx(r.Context()).Info().
		Bool("success", result.Success).
		Int("status_code", result.StatusCode).
		Int64("round_trip_ms", result.RoundTripMs).
		Msg("webhook test")
	if !result.Success {
		rw.ErrorWithDetails(http.StatusBadGateway, ErrCodeWebhookFailed, "webhook did not accept the test event", result)
		return
	}
	rw.Success(result)
}
