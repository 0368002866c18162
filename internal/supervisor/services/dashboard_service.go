// Chatwatch - Chat Message Threat Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatwatch

package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/tomtom215/chatwatch/internal/logging"
)

// HTTPServer is the part of *http.Server the service drives.
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// DashboardHub matches *websocket.Hub.
type DashboardHub interface {
	RunWithContext(ctx context.Context) error
	GetClientCount() int
}

// DashboardService runs the dashboard API server together with its live
// push hub.
//
// The hub outlives the listener: the WebSocket handler registers clients on
// an unbuffered channel, so a hub that stopped first would leave upgrade
// requests blocked and Shutdown waiting on them. http.Server.Shutdown does
// not touch hijacked connections either, so the hub closes those afterwards.
type DashboardService struct {
	server          HTTPServer
	hub             DashboardHub
	shutdownTimeout time.Duration
}

// NewDashboardService wraps server and hub. hub may be nil when live push
// is disabled. shutdownTimeout bounds request draining and defaults to 10s.
func NewDashboardService(server HTTPServer, hub DashboardHub, shutdownTimeout time.Duration) *DashboardService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &DashboardService{
		server:          server,
		hub:             hub,
		shutdownTimeout: shutdownTimeout,
	}
}

// Serve implements suture.Service.
func (s *DashboardService) Serve(ctx context.Context) error {
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	hubDone := make(chan struct{})
	if s.hub != nil {
		go func() {
			defer close(hubDone)
			_ = s.hub.RunWithContext(hubCtx)
		}()
	} else {
		close(hubDone)
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		stopHub()
		<-hubDone
		if err != nil {
			return fmt.Errorf("dashboard server failed: %w", err)
		}
		return errors.New("dashboard server exited unexpectedly")

	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()

		shutdownErr := s.server.Shutdown(shutdownCtx)
		<-serveErr

		clients := 0
		if s.hub != nil {
			clients = s.hub.GetClientCount()
		}
		stopHub()
		select {
		case <-hubDone:
		case <-shutdownCtx.Done():
			logging.Warn().Msg("dashboard hub did not stop before the shutdown timeout")
		}
		logging.Info().Int("clients_closed", clients).Msg("dashboard stopped")

		if shutdownErr != nil {
			return fmt.Errorf("dashboard server shutdown failed: %w", shutdownErr)
		}
		return ctx.Err()
	}
}

// String implements fmt.Stringer for suture's logs.
func (s *DashboardService) String() string {
	return "dashboard"
}
