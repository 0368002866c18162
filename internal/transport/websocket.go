// Chatwatch - Chat Message Threat Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatwatch

package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/chatwatch/internal/logging"
)

// Bridge frame types.
const (
	frameHello        = "hello"
	frameSendText     = "send_text"
	frameLogout       = "logout"
	framePairing      = "pairing"
	frameOpen         = "open"
	frameClose        = "close"
	frameMessages     = "messages"
	frameParticipants = "participants"
	frameCreds        = "creds"
)

// frame is the bridge wire envelope.
type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type helloData struct {
	Session     string      `json:"session"`
	PhoneNumber string      `json:"phone_number,omitempty"`
	Credentials Credentials `json:"credentials,omitempty"`
}

type sendTextData struct {
	JID  string `json:"jid"`
	Text string `json:"text"`
}

type pairingData struct {
	Code string `json:"code"`
}

type closeData struct {
	Reason string `json:"reason"`
}

type messagesData struct {
	Messages []RawMessage `json:"messages"`
}

type participantsData struct {
	ID           string   `json:"id"`
	Participants []string `json:"participants"`
	Action       string   `json:"action"`
}

// Config configures the WebSocket bridge client.
type Config struct {
	URL              string
	Session          string
	PhoneNumber      string
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	ReadTimeout      time.Duration
	EventBuffer      int

	// LoadCredentials supplies the credentials sent in the hello frame.
	LoadCredentials CredentialLoader
}

// conn is one dialed connection. closed guards the single close event.
type conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	closed  atomic.Bool
	done    chan struct{}
}

// WebSocketTransport connects to a chat bridge over WebSocket.
type WebSocketTransport struct {
	cfg    Config
	events chan Event

	connMu sync.RWMutex
	conn   *conn

	hookMu sync.RWMutex
	hook   CredentialHook

	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
}

var _ Transport = (*WebSocketTransport)(nil)

// NewWebSocketTransport creates a transport. Call Connect to dial.
func NewWebSocketTransport(cfg Config) *WebSocketTransport {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 3 * cfg.PingInterval
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 256
	}
	return &WebSocketTransport{
		cfg:    cfg,
		events: make(chan Event, cfg.EventBuffer),
		stop:   make(chan struct{}),
	}
}

// Events returns the transport's event stream. It is closed by Close.
func (t *WebSocketTransport) Events() <-chan Event {
	return t.events
}

// SetCredentialHook registers the rotation hook.
func (t *WebSocketTransport) SetCredentialHook(hook CredentialHook) {
	t.hookMu.Lock()
	t.hook = hook
	t.hookMu.Unlock()
}

// Connect dials the bridge and sends the hello frame. Any previous
// connection is dropped without an event.
func (t *WebSocketTransport) Connect(ctx context.Context) error {
	select {
	case <-t.stop:
		return ErrTransportClosed
	default:
	}

	var creds Credentials
	if t.cfg.LoadCredentials != nil {
		c, err := t.cfg.LoadCredentials(ctx)
		if err != nil {
			logging.Warn().Err(err).Msg("failed to load stored credentials, pairing a new session")
		}
		creds = c
	}

	dialer := websocket.Dialer{
		HandshakeTimeout:  t.cfg.HandshakeTimeout,
		EnableCompression: true,
	}
	ws, resp, err := dialer.DialContext(ctx, t.cfg.URL, nil)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return fmt.Errorf("%w: websocket dial failed (HTTP %d): %w", ErrTransportClosed, resp.StatusCode, err)
		}
		return fmt.Errorf("%w: websocket dial: %w", ErrTransportClosed, err)
	}

	c := &conn{ws: ws, done: make(chan struct{})}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(t.cfg.ReadTimeout))
	})

	if err := t.write(c, frameHello, helloData{
		Session:     t.cfg.Session,
		PhoneNumber: t.cfg.PhoneNumber,
		Credentials: creds,
	}); err != nil {
		_ = ws.Close()
		return fmt.Errorf("%w: send hello: %w", ErrTransportClosed, err)
	}

	t.connMu.Lock()
	prev := t.conn
	t.conn = c
	t.connMu.Unlock()
	if prev != nil && prev.closed.CompareAndSwap(false, true) {
		close(prev.done)
		_ = prev.ws.Close()
	}

	t.wg.Add(2)
	go t.readLoop(c)
	go t.pingLoop(c)

	logging.Info().Str("url", t.cfg.URL).Str("session", t.cfg.Session).Bool("resumed", len(creds) > 0).Msg("bridge connected")
	return nil
}

// SendText sends a text message to channelID.
func (t *WebSocketTransport) SendText(ctx context.Context, channelID, text string) error {
	c := t.current()
	if c == nil {
		return ErrTransportClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := t.write(c, frameSendText, sendTextData{JID: channelID, Text: text}); err != nil {
		return fmt.Errorf("%w: send text: %w", ErrTransportClosed, err)
	}
	return nil
}

// Logout asks the bridge to invalidate the session and closes the connection.
func (t *WebSocketTransport) Logout(ctx context.Context) error {
	c := t.current()
	if c == nil {
		return nil
	}
	err := t.write(c, frameLogout, nil)
	t.closeConn(c, ReasonConnectionClose, true)
	if err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return ctx.Err()
}

// Close drops the connection and closes the event stream.
func (t *WebSocketTransport) Close() error {
	t.stopOnce.Do(func() {
		close(t.stop)
		if c := t.current(); c != nil {
			t.closeConn(c, ReasonConnectionClose, false)
		}
		t.wg.Wait()
		close(t.events)
	})
	return nil
}

func (t *WebSocketTransport) current() *conn {
	t.connMu.RLock()
	defer t.connMu.RUnlock()
	return t.conn
}

func (t *WebSocketTransport) write(c *conn, typ string, data any) error {
	f := frame{Type: typ}
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return err
		}
		f.Data = b
	}
	b, err := json.Marshal(f)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, b)
}

// closeConn closes c once and optionally emits the close event.
func (t *WebSocketTransport) closeConn(c *conn, reason CloseReason, emit bool) {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	close(c.done)

	c.writeMu.Lock()
	_ = c.ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	c.writeMu.Unlock()
	_ = c.ws.Close()

	t.connMu.Lock()
	if t.conn == c {
		t.conn = nil
	}
	t.connMu.Unlock()

	logging.Info().Str("reason", string(reason)).Msg("bridge connection closed")
	if emit {
		t.emit(ConnectionEvent{Kind: ConnectionClose, Reason: reason})
	}
}

func (t *WebSocketTransport) emit(ev Event) {
	select {
	case t.events <- ev:
	case <-t.stop:
	}
}

func (t *WebSocketTransport) readLoop(c *conn) {
	defer t.wg.Done()

	for {
		if err := c.ws.SetReadDeadline(time.Now().Add(t.cfg.ReadTimeout)); err != nil {
			t.closeConn(c, ReasonConnectionLost, true)
			return
		}
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}
			reason := ReasonConnectionLost
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				reason = ReasonTimedOut
			}
			logging.Warn().Err(err).Str("reason", string(reason)).Msg("bridge read failed")
			t.closeConn(c, reason, true)
			return
		}
		if done := t.handleFrame(c, data); done {
			return
		}
	}
}

// handleFrame dispatches one frame. It returns true when the connection ended.
func (t *WebSocketTransport) handleFrame(c *conn, data []byte) bool {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		logging.Warn().Err(err).Msg("failed to parse bridge frame")
		return false
	}

	switch f.Type {
	case framePairing:
		var p pairingData
		if err := json.Unmarshal(f.Data, &p); err != nil {
			logging.Warn().Err(err).Msg("malformed pairing frame")
			return false
		}
		t.emit(ConnectionEvent{Kind: ConnectionPairing, PairingCode: p.Code})

	case frameOpen:
		t.emit(ConnectionEvent{Kind: ConnectionOpen})

	case frameClose:
		var cd closeData
		if len(f.Data) > 0 {
			_ = json.Unmarshal(f.Data, &cd)
		}
		t.closeConn(c, ParseCloseReason(cd.Reason), true)
		return true

	case frameMessages:
		var m messagesData
		if err := json.Unmarshal(f.Data, &m); err != nil {
			logging.Warn().Err(err).Msg("malformed messages frame")
			return false
		}
		if len(m.Messages) > 0 {
			t.emit(MessageBatchEvent{Messages: m.Messages})
		}

	case frameParticipants:
		var p participantsData
		if err := json.Unmarshal(f.Data, &p); err != nil {
			logging.Warn().Err(err).Msg("malformed participants frame")
			return false
		}
		t.emit(ParticipantsEvent{ChannelID: p.ID, Participants: p.Participants, Action: p.Action})

	case frameCreds:
		t.hookMu.RLock()
		hook := t.hook
		t.hookMu.RUnlock()
		if hook == nil {
			return false
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := hook(ctx, Credentials(f.Data))
		cancel()
		if err != nil {
			logging.Error().Err(err).Msg("failed to persist rotated credentials")
		}

	default:
		logging.Debug().Str("type", f.Type).Msg("ignoring unknown bridge frame")
	}
	return false
}

func (t *WebSocketTransport) pingLoop(c *conn) {
	defer t.wg.Done()

	ticker := time.NewTicker(t.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-t.stop:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second))
			c.writeMu.Unlock()
			if err != nil {
				logging.Warn().Err(err).Msg("bridge ping failed")
				t.closeConn(c, ReasonConnectionLost, true)
				return
			}
		}
	}
}
