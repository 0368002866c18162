// Chatwatch - Chat Message Threat Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatwatch

// Package session owns the transport session lifecycle.
//
// The Supervisor consumes transport events, tracks the connection state
// machine and reconnects with capped exponential backoff:
//
//	Disconnected -> AwaitingPairing -> Connected -> Disconnected
//
// A close with reason logged_out moves to AuthFailed, which never reconnects
// until ResetCredentials is called. Any other close schedules exactly one
// reconnect timer. After MaxAttempts consecutive failures scheduling stops
// and a single critical system alert is dispatched.
package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/tomtom215/chatwatch/internal/logging"
	"github.com/tomtom215/chatwatch/internal/metrics"
	"github.com/tomtom215/chatwatch/internal/models"
	"github.com/tomtom215/chatwatch/internal/transport"
)

var (
	// ErrAuthFailed is returned while the session credentials are invalidated.
	ErrAuthFailed = errors.New("session credentials invalidated, manual reset required")

	// ErrNotConnected is returned by SendText when no session is open.
	ErrNotConnected = errors.New("session not connected")
)

// Enqueuer receives message batches.
type Enqueuer interface {
	Enqueue(raws ...transport.RawMessage)
}

// Notifier receives participants updates and fatal system alerts.
type Notifier interface {
	NotifySystem(ctx context.Context, alert models.Alert) error
	NotifyParticipants(ctx context.Context, update models.ParticipantsUpdate) error
}

// CredentialStore persists rotated session credentials.
type CredentialStore interface {
	Save(ctx context.Context, session string, blob []byte) error
	Reset(ctx context.Context, session string) error
}

// Timer is a cancellable scheduled callback.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Config is the reconnect policy.
type Config struct {
	Session     string
	BaseDelay   time.Duration
	CapDelay    time.Duration
	MaxAttempts int
}

// BackoffDelay returns min(base * 2^attempt, cap).
func (c Config) BackoffDelay(attempt int) time.Duration {
	d := c.BaseDelay
	for range attempt {
		if d >= c.CapDelay {
			return c.CapDelay
		}
		d *= 2
	}
	return min(d, c.CapDelay)
}

// Supervisor drives one transport session.
type Supervisor struct {
	cfg       Config
	transport transport.Transport
	queue     Enqueuer
	notifier  Notifier
	creds     CredentialStore
	afterFunc AfterFunc
	now       func() time.Time

	mu          sync.Mutex
	state       models.ConnectionState
	attempt     int
	pairingCode string
	lastReason  transport.CloseReason
	since       time.Time
	timer       Timer
	started     bool
	stopping    bool
	fatalRaised bool
	listeners   []func(models.ConnectionStatus)

	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a supervisor. notifier and creds may be nil.
func New(cfg Config, t transport.Transport, queue Enqueuer, notifier Notifier, creds CredentialStore) *Supervisor {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.CapDelay < cfg.BaseDelay {
		cfg.CapDelay = max(cfg.BaseDelay, 5*time.Minute)
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	s := &Supervisor{
		cfg:       cfg,
		transport: t,
		queue:     queue,
		notifier:  notifier,
		creds:     creds,
		afterFunc: realAfterFunc,
		now:       time.Now,
		state:     models.StateDisconnected,
		runCtx:    context.Background(),
	}
	s.since = s.now()
	return s
}

// OnStateChange registers a listener called after every state transition.
// Listeners run on the event goroutine and must not block.
func (s *Supervisor) OnStateChange(fn func(models.ConnectionStatus)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Start installs the credential hook, begins consuming events and opens the
// first connection. A failed first dial is retried with backoff.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.stopping = false
	s.runCtx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	runCtx := s.runCtx
	s.mu.Unlock()

	s.transport.SetCredentialHook(s.persistCredentials)

	s.wg.Add(1)
	go s.eventLoop(runCtx)

	logging.Info().
		Str("session", s.cfg.Session).
		Dur("base_delay", s.cfg.BaseDelay).
		Dur("cap_delay", s.cfg.CapDelay).
		Int("max_attempts", s.cfg.MaxAttempts).
		Msg("session supervisor starting")
	s.dial(runCtx)
	return nil
}

// Stop logs out gracefully, cancels any pending reconnect and closes the
// transport.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.stopping = true
	s.cancelTimerLocked()
	state := s.state
	s.mu.Unlock()

	var logoutErr error
	if state == models.StateConnected || state == models.StateAwaitingPairing {
		if err := s.transport.Logout(ctx); err != nil && !errors.Is(err, transport.ErrTransportClosed) {
			logoutErr = fmt.Errorf("logout: %w", err)
			logging.Warn().Err(err).Msg("graceful logout failed")
		}
	}

	s.cancel()
	if err := s.transport.Close(); err != nil {
		logging.Warn().Err(err).Msg("transport close failed")
	}
	s.wg.Wait()

	s.mu.Lock()
	s.started = false
	s.mu.Unlock()
	s.setState(models.StateDisconnected, "", transport.ReasonConnectionClose)
	logging.Info().Msg("session supervisor stopped")
	return logoutErr
}

// ResetCredentials clears stored credentials and starts a fresh session.
// It is the only way out of AuthFailed.
func (s *Supervisor) ResetCredentials(ctx context.Context) error {
	if s.creds != nil {
		if err := s.creds.Reset(ctx, s.cfg.Session); err != nil {
			return fmt.Errorf("reset credentials: %w", err)
		}
	}

	s.mu.Lock()
	s.cancelTimerLocked()
	s.attempt = 0
	s.fatalRaised = false
	runCtx := s.runCtx
	s.mu.Unlock()

	s.setState(models.StateDisconnected, "", "")
	logging.Warn().Str("session", s.cfg.Session).Msg("session credentials reset, starting fresh session")
	s.dial(runCtx)
	return nil
}

// SendText sends a text message through the open session.
func (s *Supervisor) SendText(ctx context.Context, channelID, text string) error {
	switch s.State() {
	case models.StateConnected:
		return s.transport.SendText(ctx, channelID, text)
	case models.StateAuthFailed:
		return ErrAuthFailed
	default:
		return ErrNotConnected
	}
}

// State returns the current state.
func (s *Supervisor) State() models.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Attempt returns the current reconnect attempt counter.
func (s *Supervisor) Attempt() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempt
}

// PairingCode returns the pending pairing code, if any.
func (s *Supervisor) PairingCode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pairingCode
}

// Status returns a snapshot for the dashboard.
func (s *Supervisor) Status() models.ConnectionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

func (s *Supervisor) statusLocked() models.ConnectionStatus {
	return models.ConnectionStatus{
		State:       s.state,
		Attempt:     s.attempt,
		PairingCode: s.pairingCode,
		LastReason:  string(s.lastReason),
		Since:       s.since,
	}
}

func (s *Supervisor) eventLoop(ctx context.Context) {
	defer s.wg.Done()
	events := s.transport.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.handleEvent(ctx, ev)
		}
	}
}

func (s *Supervisor) handleEvent(ctx context.Context, ev transport.Event) {
	switch e := ev.(type) {
	case transport.ConnectionEvent:
		s.handleConnection(ctx, e)
	case transport.MessageBatchEvent:
		if s.queue != nil && len(e.Messages) > 0 {
			s.queue.Enqueue(e.Messages...)
		}
	case transport.ParticipantsEvent:
		if s.notifier == nil {
			return
		}
		update := models.ParticipantsUpdate{
			ChannelID:    e.ChannelID,
			Participants: e.Participants,
			Action:       e.Action,
		}
		if err := s.notifier.NotifyParticipants(ctx, update); err != nil {
			logging.Debug().Err(err).Str("channel_id", logging.SanitizeJID(e.ChannelID)).Msg("participants update not delivered")
		}
	}
}

func (s *Supervisor) handleConnection(ctx context.Context, e transport.ConnectionEvent) {
	switch e.Kind {
	case transport.ConnectionPairing:
		s.setState(models.StateAwaitingPairing, e.PairingCode, "")
		logging.Info().Msg("waiting for device pairing")

	case transport.ConnectionOpen:
		s.mu.Lock()
		s.cancelTimerLocked()
		s.attempt = 0
		s.fatalRaised = false
		s.mu.Unlock()
		s.setState(models.StateConnected, "", "")
		logging.Info().Str("session", s.cfg.Session).Msg("session connected")

	case transport.ConnectionClose:
		s.mu.Lock()
		stopping := s.stopping
		authFailed := s.state == models.StateAuthFailed
		s.mu.Unlock()

		switch {
		case authFailed:
			logging.Debug().Str("reason", string(e.Reason)).Msg("ignoring close while credentials are invalidated")
		case stopping:
			s.setState(models.StateDisconnected, "", e.Reason)
		case e.Reason.Terminal():
			s.mu.Lock()
			s.cancelTimerLocked()
			s.mu.Unlock()
			s.setState(models.StateAuthFailed, "", e.Reason)
			logging.Error().Str("reason", string(e.Reason)).Msg("session logged out, credentials must be reset")
		default:
			s.setState(models.StateDisconnected, "", e.Reason)
			logging.Warn().Str("reason", string(e.Reason)).Msg("session closed")
			s.scheduleReconnect(ctx, e.Reason)
		}
	}
}

func (s *Supervisor) dial(ctx context.Context) {
	if err := s.transport.Connect(ctx); err != nil {
		logging.Warn().Err(err).Msg("transport connect failed")
		s.scheduleReconnect(ctx, transport.ReasonConnectionLost)
	}
}

// scheduleReconnect arms the single reconnect timer, or raises the fatal
// alert once attempts are exhausted.
func (s *Supervisor) scheduleReconnect(ctx context.Context, reason transport.CloseReason) {
	s.mu.Lock()
	if s.stopping || s.state == models.StateAuthFailed || s.timer != nil {
		s.mu.Unlock()
		return
	}
	if s.attempt >= s.cfg.MaxAttempts {
		raise := !s.fatalRaised
		s.fatalRaised = true
		attempts := s.attempt
		s.mu.Unlock()
		if raise {
			s.raiseFatal(ctx, attempts, reason)
		}
		return
	}

	delay := s.cfg.BackoffDelay(s.attempt)
	s.attempt++
	attempt := s.attempt
	var t Timer
	t = s.afterFunc(delay, func() {
		s.mu.Lock()
		if s.timer != t {
			s.mu.Unlock()
			return
		}
		s.timer = nil
		skip := s.stopping || s.state == models.StateAuthFailed || s.state == models.StateConnected
		s.mu.Unlock()
		if !skip {
			s.dial(ctx)
		}
	})
	s.timer = t
	s.mu.Unlock()

	metrics.SessionReconnects.Inc()
	logging.Info().
		Int("attempt", attempt).
		Int("max_attempts", s.cfg.MaxAttempts).
		Dur("delay", delay).
		Msg("reconnect scheduled")
}

func (s *Supervisor) raiseFatal(ctx context.Context, attempts int, reason transport.CloseReason) {
	metrics.SessionFatal.Inc()
	logging.Error().Int("attempts", attempts).Str("reason", string(reason)).Msg("giving up on reconnection")
	if s.notifier == nil {
		return
	}
	alert := models.NewSystemAlert("session",
		fmt.Sprintf("reconnection abandoned after %d attempts", attempts),
		models.SystemMeta{Attempts: attempts, Reason: string(reason)},
		s.now())
	if err := s.notifier.NotifySystem(ctx, alert); err != nil {
		logging.Warn().Err(err).Msg("fatal session alert not delivered")
	}
}

func (s *Supervisor) cancelTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Supervisor) setState(state models.ConnectionState, pairingCode string, reason transport.CloseReason) {
	s.mu.Lock()
	changed := s.state != state || s.pairingCode != pairingCode
	s.state = state
	s.pairingCode = pairingCode
	if reason != "" {
		s.lastReason = reason
	}
	if changed {
		s.since = s.now()
	}
	status := s.statusLocked()
	listeners := slices.Clone(s.listeners)
	s.mu.Unlock()

	metrics.SessionState.Set(state.Gauge())
	if !changed {
		return
	}
	for _, fn := range listeners {
		fn(status)
	}
}

func (s *Supervisor) persistCredentials(ctx context.Context, creds transport.Credentials) error {
	if s.creds == nil {
		return nil
	}
	if err := s.creds.Save(ctx, s.cfg.Session, creds); err != nil {
		logging.Warn().Err(err).Str("session", s.cfg.Session).Msg("failed to persist rotated credentials")
		return err
	}
	logging.Debug().Str("session", s.cfg.Session).Msg("session credentials persisted")
	return nil
}
