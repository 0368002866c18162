// Chatwatch - Chat Message Threat Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatwatch

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/chatwatch/internal/api"
	"github.com/tomtom215/chatwatch/internal/config"
	"github.com/tomtom215/chatwatch/internal/credentials"
	"github.com/tomtom215/chatwatch/internal/detection"
	"github.com/tomtom215/chatwatch/internal/dispatch"
	"github.com/tomtom215/chatwatch/internal/eventbus"
	"github.com/tomtom215/chatwatch/internal/ingest"
	"github.com/tomtom215/chatwatch/internal/logging"
	"github.com/tomtom215/chatwatch/internal/metrics"
	"github.com/tomtom215/chatwatch/internal/models"
	"github.com/tomtom215/chatwatch/internal/session"
	"github.com/tomtom215/chatwatch/internal/store"
	"github.com/tomtom215/chatwatch/internal/supervisor"
	"github.com/tomtom215/chatwatch/internal/supervisor/services"
	"github.com/tomtom215/chatwatch/internal/transport"
	ws "github.com/tomtom215/chatwatch/internal/websocket"
)

//nolint:gocyclo // sequential wiring
func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().
		Str("session", cfg.Transport.SessionName).
		Str("db_path", cfg.Database.Path).
		Bool("webhook", cfg.Dispatch.WebhookURL != "").
		Str("webhook_secret", logging.SanitizeSecret(cfg.Dispatch.WebhookSecret)).
		Bool("nats", cfg.NATS.Enabled).
		Msg("Starting chatwatch")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := store.Open(ctx, store.Config{
		Path:      cfg.Database.Path,
		MaxMemory: cfg.Database.MaxMemory,
		Threads:   cfg.Database.Threads,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()

	credStore, err := credentials.Open(credentials.Config{
		Path:       cfg.Credentials.Path,
		InMemory:   cfg.Credentials.InMemory,
		SyncWrites: true,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open credential store")
	}
	defer func() {
		if err := credStore.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing credential store")
		}
	}()
	logStoredCredentials(ctx, credStore, cfg.Transport.SessionName)

	seedChannels(ctx, db, cfg.Queue.SeedChannels)

	// Recorder: the dispatcher and queue both feed it.
	var persist metrics.Persister
	if cfg.Metrics.Persist {
		persist = db
	}
	recorder := metrics.NewRecorder(metrics.RecorderConfig{
		Retention:             cfg.Metrics.Retention,
		CleanupInterval:       cfg.Metrics.CleanupInterval,
		DegradedBatchDuration: cfg.Metrics.DegradedBatchDuration,
		DegradedFailureRatio:  cfg.Metrics.DegradedFailureRatio,
	}, persist)

	analyzer := detection.NewAnalyzer(detectionConfig(cfg.Detection))

	hub := ws.NewHub()
	dispatcher := dispatch.New(dispatch.Config{
		WebhookURL:           cfg.Dispatch.WebhookURL,
		Secret:               cfg.Dispatch.WebhookSecret,
		Timeout:              cfg.Dispatch.Timeout,
		RetryAttempts:        cfg.Dispatch.RetryAttempts,
		RetryDelay:           cfg.Dispatch.RetryDelay,
		RateLimit:            cfg.Dispatch.RateLimit,
		RateBurst:            cfg.Dispatch.RateBurst,
		NotifyMessages:       cfg.Dispatch.NotifyMessages,
		MessageRiskThreshold: cfg.Dispatch.MessageRiskThreshold,
		HealthLowFailures:    cfg.Dispatch.HealthLowFailures,
		HealthMediumFailures: cfg.Dispatch.HealthMediumFailures,
		HealthHighFailures:   cfg.Dispatch.HealthHighFailures,
		SilenceThreshold:     cfg.Dispatch.SilenceThreshold,
		BreakerThreshold:     uint32(cfg.Dispatch.BreakerThreshold), //nolint:gosec // validated min=1
		BreakerTimeout:       cfg.Dispatch.BreakerTimeout,
	}, recorder)
	dispatcher.AddSink(hub)

	if cfg.NATS.Enabled {
		publisher, err := eventbus.NewNATSPublisher(eventbus.Config{
			URL:           cfg.NATS.URL,
			TopicPrefix:   cfg.NATS.TopicPrefix,
			JetStream:     cfg.NATS.JetStream,
			MaxReconnects: cfg.NATS.MaxReconnects,
			ReconnectWait: cfg.NATS.ReconnectWait,
			StreamMaxAge:  cfg.NATS.StreamMaxAge,
		}, eventbus.NewLoggerAdapter())
		if err != nil {
			// The webhook and dashboard still work without the bus.
			logging.Error().Err(err).Str("url", cfg.NATS.URL).Msg("NATS publisher unavailable, continuing without event bus")
		} else {
			dispatcher.AddSink(publisher)
			defer func() {
				if err := publisher.Close(); err != nil {
					logging.Warn().Err(err).Msg("Error closing NATS publisher")
				}
			}()
			logging.Info().Str("url", cfg.NATS.URL).Str("prefix", cfg.NATS.TopicPrefix).Msg("NATS sink enabled")
		}
	}

	queue := ingest.NewQueue(ingest.Config{
		BatchSize:           cfg.Queue.BatchSize,
		ProcessInterval:     cfg.Queue.ProcessInterval,
		MaxConcurrency:      cfg.Queue.MaxConcurrency,
		SubscriptionRefresh: cfg.Queue.SubscriptionRefresh,
		DrainTimeout:        cfg.Queue.DrainTimeout,
		SeedChannels:        cfg.Queue.SeedChannels,
	}, db, analyzer, dispatcher, recorder)

	sessionName := cfg.Transport.SessionName
	chat := transport.NewWebSocketTransport(transport.Config{
		URL:              cfg.Transport.URL,
		Session:          sessionName,
		PhoneNumber:      cfg.Transport.PhoneNumber,
		HandshakeTimeout: cfg.Transport.HandshakeTimeout,
		PingInterval:     cfg.Transport.PingInterval,
		ReadTimeout:      cfg.Transport.ReadTimeout,
		EventBuffer:      cfg.Transport.EventBuffer,
		LoadCredentials: func(ctx context.Context) (transport.Credentials, error) {
			blob, err := credStore.Load(ctx, sessionName)
			if errors.Is(err, credentials.ErrNoCredentials) {
				return nil, nil
			}
			if err != nil {
				return nil, err
			}
			return transport.Credentials(blob), nil
		},
	})

	sess := session.New(session.Config{
		Session:     sessionName,
		BaseDelay:   cfg.Reconnect.BaseDelay,
		CapDelay:    cfg.Reconnect.CapDelay,
		MaxAttempts: cfg.Reconnect.MaxAttempts,
	}, chat, queue, dispatcher, credStore)
	sess.OnStateChange(hub.BroadcastConnection)

	handler := api.NewHandler(api.Deps{
		Store:       db,
		Session:     sess,
		Dispatcher:  dispatcher,
		Recorder:    recorder,
		Queue:       queue,
		Analyzer:    analyzer,
		Hub:         hub,
		CORSOrigins: cfg.Security.CORSOrigins,
	})
	mw := api.NewMiddleware(api.MiddlewareConfig{
		CORSAllowedOrigins: cfg.Security.CORSOrigins,
		CORSMaxAge:         api.DefaultMiddlewareConfig().CORSMaxAge,
		RateLimitRequests:  cfg.Security.RateLimitReqs,
		RateLimitWindow:    cfg.Security.RateLimitWindow,
		RateLimitDisabled:  cfg.Security.RateLimitDisabled,
		APIToken:           cfg.Security.APIToken,
	})
	if cfg.Security.APIToken == "" {
		logging.Warn().Msg("API_TOKEN is not set: the dashboard API is unauthenticated")
	}
	if cfg.Security.RateLimitDisabled {
		logging.Warn().Msg("Rate limiting is disabled")
	}

	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           api.NewRouter(handler, mw).Setup(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		FailureThreshold: cfg.Supervisor.FailureThreshold,
		FailureDecay:     cfg.Supervisor.FailureDecay,
		FailureBackoff:   cfg.Supervisor.FailureBackoff,
		ShutdownTimeout:  cfg.Supervisor.ShutdownTimeout,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	tree.AddDataService(services.NewRunnerService("metrics-recorder", recorder))
	if cfg.Metrics.Persist {
		tree.AddDataService(services.NewRunnerService("metric-retention",
			newMetricRetention(db, cfg.Metrics.CleanupInterval, cfg.Metrics.Retention)))
	}
	tree.AddPipelineService(services.NewRunnerService("ingest-queue", queue))
	tree.AddPipelineService(services.NewLifecycleService("chat-session", sess, cfg.Supervisor.ShutdownTimeout))
	tree.AddAPIService(services.NewDashboardService(server, hub, cfg.Server.ShutdownTimeout))
	logging.Info().Str("addr", server.Addr).Msg("Dashboard service added")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	errCh := tree.ServeBackground(ctx)
	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().
		Int64("discarded", queue.Stats().Discarded).
		Msg("Chatwatch stopped")
}

// logStoredCredentials reports whether a resumable session exists at startup.
func logStoredCredentials(ctx context.Context, creds *credentials.Store, session string) {
	sessions, err := creds.Sessions()
	if err != nil {
		logging.Warn().Err(err).Msg("Failed to list stored sessions")
		return
	}
	updated, err := creds.UpdatedAt(ctx, session)
	if errors.Is(err, credentials.ErrNoCredentials) {
		logging.Info().Int("stored_sessions", len(sessions)).Msg("No stored credentials, pairing required")
		return
	}
	if err != nil {
		logging.Warn().Err(err).Msg("Failed to read credential timestamp")
		return
	}
	logging.Info().
		Int("stored_sessions", len(sessions)).
		Time("rotated_at", updated).
		Msg("Resuming stored session")
}

// seedChannels upserts configured channels as active subscriptions.
func seedChannels(ctx context.Context, db *store.DuckDBStore, channels []string) {
	now := time.Now().UTC()
	for _, id := range channels {
		err := db.UpsertChannel(ctx, models.ChannelSubscription{ChannelID: id, Active: true, UpdatedAt: now})
		if err != nil {
			logging.Warn().Err(err).Str("channel_id", logging.SanitizeJID(id)).Msg("Failed to seed channel subscription")
		}
	}
	if len(channels) > 0 {
		logging.Info().Int("count", len(channels)).Msg("Seed channels subscribed")
	}
}

// detectionConfig maps configuration onto analyzer defaults. An unknown time
// zone falls back to local time.
func detectionConfig(c config.DetectionConfig) detection.Config {
	out := detection.DefaultConfig()
	if len(c.SpamKeywords) > 0 {
		out.SpamKeywords = c.SpamKeywords
	}
	out.RateLimitWindow = c.RateLimitWindow
	out.RateLimitThreshold = c.RateLimitThreshold
	out.FingerprintCapacity = c.FingerprintCapacity
	out.NormalHoursStart = c.NormalHoursStart
	out.NormalHoursEnd = c.NormalHoursEnd
	if c.Location != "" {
		loc, err := time.LoadLocation(c.Location)
		if err != nil {
			logging.Warn().Err(err).Str("location", c.Location).Msg("Unknown detection time zone, using local time")
		} else {
			out.Location = loc
		}
	}
	return out
}
