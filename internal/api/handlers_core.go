// Chatwatch - Chat Message Threat Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatwatch

package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/chatwatch/internal/logging"
	"github.com/tomtom215/chatwatch/internal/models"
	"github.com/tomtom215/chatwatch/internal/store"
	"github.com/tomtom215/chatwatch/internal/validation"
)

const statsCacheKey = "global"

// Stats returns system statistics, cached for a few seconds.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	if stats, ok := h.statsCache.Get(statsCacheKey); ok {
		rw.Cached(stats, true)
		return
	}

	stats, err := h.deps.Store.GetStats(r.Context())
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	h.statsCache.Set(statsCacheKey, stats)
	rw.Cached(stats, false)
}

// Alerts lists alerts, newest first.
func (h *Handler) Alerts(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	filter, err := parseAlertFilter(r)
	if err != nil {
		var verr *validation.Error
		if errors.As(err, &verr) {
			rw.ValidationError(verr.Error(), verr.Fields)
			return
		}
		rw.BadRequest(err.Error())
		return
	}

	alerts, err := h.deps.Store.ListAlerts(r.Context(), filter)
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	if alerts == nil {
		alerts = []models.Alert{}
	}
	rw.List(alerts, len(alerts))
}

// ResolveAlert marks an alert resolved. Resolving twice keeps the first
// resolution time.
func (h *Handler) ResolveAlert(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	id := chi.URLParam(r, "id")
	if id == "" {
		rw.BadRequest("alert id is required")
		return
	}

	if err := h.deps.Store.ResolveAlert(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			rw.NotFound("alert not found")
			return
		}
		rw.DatabaseError(err)
		return
	}
	h.statsCache.Delete(statsCacheKey)
	logging.Ctx(r.Context()).Info().Str("alert_id", sanitizeLogValue(id)).Msg("alert resolved")
	rw.Success(map[string]any{"id": id, "resolved": true})
}

// Channels lists channel subscriptions.
func (h *Handler) Channels(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	channels, err := h.deps.Store.ListChannels(r.Context())
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	if channels == nil {
		channels = []models.ChannelSubscription{}
	}
	rw.List(channels, len(channels))
}

// UpsertChannel creates or updates a subscription and refreshes the queue's
// snapshot so the change applies to the next batch.
func (h *Handler) UpsertChannel(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	id := chi.URLParam(r, "id")
	if !validation.IsJID(id) {
		rw.BadRequest("channel id must be a chat identifier (user@server)")
		return
	}

	var req channelRequest
	if err := decodeJSON(r, &req); err != nil {
		rw.BadRequest(err.Error())
		return
	}
	if err := validation.ValidateStruct(&req); err != nil {
		var verr *validation.Error
		if errors.As(err, &verr) {
			rw.ValidationError(verr.Error(), verr.Fields)
			return
		}
		rw.BadRequest(err.Error())
		return
	}

	sub := models.ChannelSubscription{
		ChannelID: id,
		Name:      req.Name,
		Active:    *req.Active,
		UpdatedAt: h.now().UTC(),
	}
	if err := h.deps.Store.UpsertChannel(r.Context(), sub); err != nil {
		rw.DatabaseError(err)
		return
	}

	if h.deps.Queue != nil {
		if err := h.deps.Queue.RefreshSubscriptions(r.Context()); err != nil {
			logging.Ctx(r.Context()).Warn().Err(err).Msg("subscription refresh after update failed")
		}
	}
	h.statsCache.Delete(statsCacheKey)
	logging.Ctx(r.Context()).Info().Str("channel_id", id).Bool("active", sub.Active).Msg("channel subscription updated")
	rw.Success(sub)
}

const (
	defaultMessageLimit = 50
	maxMessageLimit     = 500
)

// ChannelMessages returns a channel's most recent stored messages.
func (h *Handler) ChannelMessages(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	id := chi.URLParam(r, "id")
	if !validation.IsJID(id) {
		rw.BadRequest("channel id must be a chat identifier (user@server)")
		return
	}

	limit := defaultMessageLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxMessageLimit {
			rw.BadRequest("limit must be between 1 and 500")
			return
		}
		limit = n
	}

	msgs, err := h.deps.Store.RecentMessages(r.Context(), id, limit)
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	if msgs == nil {
		msgs = []models.NormalizedMessage{}
	}
	rw.List(msgs, len(msgs))
}
