// Chatwatch - Chat Message Threat Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatwatch

package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

// fakeBridge is a scripted bridge endpoint.
type fakeBridge struct {
	t      *testing.T
	srv    *httptest.Server
	conns  chan *websocket.Conn
	frames chan frame
}

func newFakeBridge(t *testing.T) *fakeBridge {
	t.Helper()
	b := &fakeBridge{
		t:      t,
		conns:  make(chan *websocket.Conn, 4),
		frames: make(chan frame, 16),
	}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		b.conns <- ws
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			var f frame
			if json.Unmarshal(data, &f) == nil {
				b.frames <- f
			}
		}
	}))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBridge) url() string {
	return "ws" + strings.TrimPrefix(b.srv.URL, "http")
}

func (b *fakeBridge) accept() *websocket.Conn {
	b.t.Helper()
	select {
	case c := <-b.conns:
		return c
	case <-time.After(2 * time.Second):
		b.t.Fatal("bridge: no connection")
		return nil
	}
}

func (b *fakeBridge) nextFrame() frame {
	b.t.Helper()
	select {
	case f := <-b.frames:
		return f
	case <-time.After(2 * time.Second):
		b.t.Fatal("bridge: no frame")
		return frame{}
	}
}

func (b *fakeBridge) send(ws *websocket.Conn, typ string, data any) {
	b.t.Helper()
	raw, _ := json.Marshal(data)
	payload, _ := json.Marshal(frame{Type: typ, Data: raw})
	if err := ws.WriteMessage(websocket.TextMessage, payload); err != nil {
		b.t.Fatalf("bridge write: %v", err)
	}
}

func nextEvent(t *testing.T, tr *WebSocketTransport) Event {
	t.Helper()
	select {
	case ev := <-tr.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
		return nil
	}
}

func TestWebSocketTransport_Events(t *testing.T) {
	bridge := newFakeBridge(t)

	tr := NewWebSocketTransport(Config{
		URL:     bridge.url(),
		Session: "default",
		LoadCredentials: func(context.Context) (Credentials, error) {
			return Credentials(`{"k":"stored"}`), nil
		},
	})
	t.Cleanup(func() { _ = tr.Close() })

	var (
		mu      sync.Mutex
		rotated []string
	)
	tr.SetCredentialHook(func(_ context.Context, c Credentials) error {
		mu.Lock()
		rotated = append(rotated, string(c))
		mu.Unlock()
		return nil
	})

	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	ws := bridge.accept()

	hello := bridge.nextFrame()
	if hello.Type != frameHello {
		t.Fatalf("first frame = %q, want hello", hello.Type)
	}
	var hd helloData
	if err := json.Unmarshal(hello.Data, &hd); err != nil {
		t.Fatalf("hello data: %v", err)
	}
	if hd.Session != "default" || string(hd.Credentials) != `{"k":"stored"}` {
		t.Errorf("hello = %+v", hd)
	}

	bridge.send(ws, framePairing, pairingData{Code: "ABCD-1234"})
	if ev, ok := nextEvent(t, tr).(ConnectionEvent); !ok || ev.Kind != ConnectionPairing || ev.PairingCode != "ABCD-1234" {
		t.Fatalf("pairing event = %+v", ev)
	}

	bridge.send(ws, frameOpen, struct{}{})
	if ev, ok := nextEvent(t, tr).(ConnectionEvent); !ok || ev.Kind != ConnectionOpen {
		t.Fatalf("open event = %+v", ev)
	}

	bridge.send(ws, frameCreds, map[string]string{"k": "rotated"})

	bridge.send(ws, frameMessages, messagesData{Messages: []RawMessage{{
		Key:              MessageKey{ID: "m1", RemoteJID: "123@g.us", Participant: "555@s.whatsapp.net"},
		MessageTimestamp: 1700000000,
		Message:          &MessageBody{Conversation: "hi"},
	}}})
	batch, ok := nextEvent(t, tr).(MessageBatchEvent)
	if !ok || len(batch.Messages) != 1 || batch.Messages[0].Message.Conversation != "hi" {
		t.Fatalf("batch event = %+v", batch)
	}

	bridge.send(ws, frameParticipants, participantsData{ID: "123@g.us", Participants: []string{"a"}, Action: "add"})
	if ev, ok := nextEvent(t, tr).(ParticipantsEvent); !ok || ev.ChannelID != "123@g.us" || ev.Action != "add" {
		t.Fatalf("participants event = %+v", ev)
	}

	mu.Lock()
	got := append([]string(nil), rotated...)
	mu.Unlock()
	if len(got) != 1 || got[0] != `{"k":"rotated"}` {
		t.Errorf("rotated credentials = %v", got)
	}

	if err := tr.SendText(context.Background(), "123@g.us", "pong"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	sent := bridge.nextFrame()
	var st sendTextData
	_ = json.Unmarshal(sent.Data, &st)
	if sent.Type != frameSendText || st.JID != "123@g.us" || st.Text != "pong" {
		t.Errorf("send_text frame = %+v / %+v", sent, st)
	}
}

func TestWebSocketTransport_CloseReasons(t *testing.T) {
	tests := []struct {
		name   string
		script func(b *fakeBridge, ws *websocket.Conn)
		want   CloseReason
	}{
		{
			name: "bridge reports logged out",
			script: func(b *fakeBridge, ws *websocket.Conn) {
				b.send(ws, frameClose, closeData{Reason: "logged_out"})
			},
			want: ReasonLoggedOut,
		},
		{
			name: "socket dropped",
			script: func(_ *fakeBridge, ws *websocket.Conn) {
				_ = ws.Close()
			},
			want: ReasonConnectionLost,
		},
		{
			name: "unknown reason",
			script: func(b *fakeBridge, ws *websocket.Conn) {
				b.send(ws, frameClose, closeData{Reason: "weird"})
			},
			want: ReasonUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bridge := newFakeBridge(t)
			tr := NewWebSocketTransport(Config{URL: bridge.url(), Session: "s"})
			t.Cleanup(func() { _ = tr.Close() })

			if err := tr.Connect(context.Background()); err != nil {
				t.Fatalf("Connect: %v", err)
			}
			ws := bridge.accept()
			bridge.nextFrame() // hello

			tt.script(bridge, ws)

			ev, ok := nextEvent(t, tr).(ConnectionEvent)
			if !ok || ev.Kind != ConnectionClose || ev.Reason != tt.want {
				t.Fatalf("event = %+v, want close %s", ev, tt.want)
			}

			select {
			case extra := <-tr.Events():
				t.Fatalf("unexpected second event %+v", extra)
			case <-time.After(100 * time.Millisecond):
			}

			if err := tr.SendText(context.Background(), "x@g.us", "hi"); !errors.Is(err, ErrTransportClosed) {
				t.Errorf("SendText after close = %v, want ErrTransportClosed", err)
			}
		})
	}
}

func TestWebSocketTransport_DialFailure(t *testing.T) {
	tr := NewWebSocketTransport(Config{URL: "ws://127.0.0.1:1/ws", HandshakeTimeout: 200 * time.Millisecond})
	t.Cleanup(func() { _ = tr.Close() })

	if err := tr.Connect(context.Background()); !errors.Is(err, ErrTransportClosed) {
		t.Fatalf("Connect = %v, want ErrTransportClosed", err)
	}
}

func TestWebSocketTransport_CloseEndsStream(t *testing.T) {
	tr := NewWebSocketTransport(Config{URL: "ws://unused"})
	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, ok := <-tr.Events(); ok {
		t.Fatal("events channel still open")
	}
	if err := tr.Connect(context.Background()); !errors.Is(err, ErrTransportClosed) {
		t.Errorf("Connect after Close = %v", err)
	}
}

func TestParseCloseReason(t *testing.T) {
	tests := []struct {
		in       string
		want     CloseReason
		terminal bool
	}{
		{"logged_out", ReasonLoggedOut, true},
		{"connection_lost", ReasonConnectionLost, false},
		{"restart_required", ReasonRestartRequired, false},
		{"", ReasonUnknown, false},
		{"bogus", ReasonUnknown, false},
	}
	for _, tt := range tests {
		got := ParseCloseReason(tt.in)
		if got != tt.want || got.Terminal() != tt.terminal {
			t.Errorf("ParseCloseReason(%q) = %s (terminal %v)", tt.in, got, got.Terminal())
		}
	}
}
