// Chatwatch - Chat Message Threat Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatwatch

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/chatwatch/internal/cache"
	"github.com/tomtom215/chatwatch/internal/detection"
	"github.com/tomtom215/chatwatch/internal/dispatch"
	"github.com/tomtom215/chatwatch/internal/ingest"
	"github.com/tomtom215/chatwatch/internal/logging"
	"github.com/tomtom215/chatwatch/internal/metrics"
	"github.com/tomtom215/chatwatch/internal/models"
	ws "github.com/tomtom215/chatwatch/internal/websocket"
)

// Store is the read side the dashboard needs.
type Store interface {
	ListAlerts(ctx context.Context, filter models.AlertFilter) ([]models.Alert, error)
	ResolveAlert(ctx context.Context, id string) error
	GetStats(ctx context.Context) (*models.SystemStats, error)
	UpsertChannel(ctx context.Context, sub models.ChannelSubscription) error
	ListChannels(ctx context.Context) ([]models.ChannelSubscription, error)
	RecentMessages(ctx context.Context, channelID string, limit int) ([]models.NormalizedMessage, error)
	Ping(ctx context.Context) error
}

// Session exposes the connection supervisor.
type Session interface {
	Status() models.ConnectionStatus
	ResetCredentials(ctx context.Context) error
}

// Dispatcher exposes webhook health and the test delivery.
type Dispatcher interface {
	Health() dispatch.Health
	TestWebhook(ctx context.Context) (dispatch.TestResult, error)
}

// Recorder exposes the rolling metric series.
type Recorder interface {
	Get(name string) (metrics.Summary, bool)
	Names() []string
	Degraded() metrics.Degradation
}

// Queue exposes ingestion counters.
type Queue interface {
	Stats() ingest.Stats
	RefreshSubscriptions(ctx context.Context) error
}

// Analyzer exposes detection counters.
type Analyzer interface {
	Stats() detection.Stats
}

// Deps are the handler's collaborators. Only Store is required.
type Deps struct {
	Store      Store
	Session    Session
	Dispatcher Dispatcher
	Recorder   Recorder
	Queue      Queue
	Analyzer   Analyzer
	Hub        *ws.Hub

	// CORSOrigins is checked against the Origin of websocket upgrades.
	CORSOrigins []string
	StatsTTL    time.Duration
}

// Handler serves the dashboard endpoints.
type Handler struct {
	deps       Deps
	statsCache *cache.TTL[*models.SystemStats]
	startTime  time.Time
	now        func() time.Time
}

// NewHandler creates a handler.
func NewHandler(deps Deps) *Handler {
	ttl := deps.StatsTTL
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &Handler{
		deps:       deps,
		statsCache: cache.NewTTL[*models.SystemStats](ttl),
		startTime:  time.Now(),
		now:        time.Now,
	}
}

func (h *Handler) getUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		CheckOrigin:      h.checkWebSocketOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
}

// checkWebSocketOrigin requires an Origin header listed in CORSOrigins.
// With no origins configured, same-host upgrades are allowed.
func (h *Handler) checkWebSocketOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		logging.Warn().Msg("websocket connection rejected: missing Origin header")
		return false
	}
	if len(h.deps.CORSOrigins) == 0 {
		return origin == "http://"+r.Host || origin == "https://"+r.Host
	}
	for _, allowed := range h.deps.CORSOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	logging.Warn().Str("origin", sanitizeLogValue(origin)).Msg("websocket connection rejected from unauthorized origin")
	return false
}
