// Chatwatch - Chat Message Threat Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatwatch

package services

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/chatwatch/internal/logging"
)

// Lifecycle is a component with explicit Start and Stop. Start must return
// once the component is running.
//
// Satisfied by *session.Supervisor.
type Lifecycle interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// LifecycleService adapts Start/Stop to suture's Serve.
type LifecycleService struct {
	component       Lifecycle
	shutdownTimeout time.Duration
	name            string
}

// NewLifecycleService wraps component. shutdownTimeout bounds Stop and
// defaults to 10s.
func NewLifecycleService(name string, component Lifecycle, shutdownTimeout time.Duration) *LifecycleService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &LifecycleService{
		component:       component,
		shutdownTimeout: shutdownTimeout,
		name:            name,
	}
}

// Serve starts the component, waits for ctx and stops it. A failed Start is
// returned so suture restarts the service with backoff.
func (s *LifecycleService) Serve(ctx context.Context) error {
	if err := s.component.Start(ctx); err != nil {
		return fmt.Errorf("%s start failed: %w", s.name, err)
	}

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.component.Stop(stopCtx); err != nil {
		logging.Warn().Err(err).Str("service", s.name).Msg("stop returned an error")
	}
	return ctx.Err()
}

// String implements fmt.Stringer for suture's logs.
func (s *LifecycleService) String() string {
	return s.name
}
