// Chatwatch - Chat Message Threat Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatwatch

package dispatch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/chatwatch/internal/models"
)

type captured struct {
	event     string
	signature string
	body      []byte
}

// newWebhook returns a server that fails the first failFirst requests.
func newWebhook(t *testing.T, failFirst int32) (*httptest.Server, *atomic.Int32, *[]captured, *sync.Mutex) {
	t.Helper()
	var (
		calls atomic.Int32
		mu    sync.Mutex
		got   []captured
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		got = append(got, captured{
			event:     r.Header.Get(HeaderEvent),
			signature: r.Header.Get(HeaderSignature),
			body:      body,
		})
		mu.Unlock()
		if n <= failFirst {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls, &got, &mu
}

func testDispatcher(url string) (*Dispatcher, *[]time.Duration) {
	cfg := DefaultConfig()
	cfg.WebhookURL = url
	cfg.Secret = "s3cret"
	cfg.RateLimit = 0
	cfg.RetryDelay = 100 * time.Millisecond
	cfg.BreakerThreshold = 1000
	d := New(cfg, nil)

	var delays []time.Duration
	d.sleep = func(_ context.Context, dur time.Duration) error {
		delays = append(delays, dur)
		return nil
	}
	return d, &delays
}

func testAlert() models.Alert {
	msg := &models.NormalizedMessage{ID: "m1", Sender: "a@s.whatsapp.net", ChannelID: "c@g.us"}
	return models.NewAlert(models.AlertTypeSpam, models.SeverityHigh, msg, "spam detected",
		models.AlertMetadata{Spam: &models.SpamMeta{Score: 0.8}}, time.Now())
}

func TestNotify_RetriesThenSucceeds(t *testing.T) {
	srv, calls, got, mu := newWebhook(t, 2)
	d, delays := testDispatcher(srv.URL)

	if err := d.Notify(context.Background(), testAlert()); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("POST calls = %d, want 3", calls.Load())
	}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}
	if len(*delays) != len(want) || (*delays)[0] != want[0] || (*delays)[1] != want[1] {
		t.Errorf("retry delays = %v, want %v", *delays, want)
	}

	h := d.Health()
	if h.Status != HealthHealthy || h.ConsecutiveFailures != 0 || h.Delivered != 1 {
		t.Errorf("health = %+v", h)
	}

	mu.Lock()
	defer mu.Unlock()
	last := (*got)[len(*got)-1]
	if last.event != EventSecurityAlert {
		t.Errorf("event header = %q", last.event)
	}
	if !Verify(last.body, "s3cret", last.signature) {
		t.Errorf("signature %q does not verify", last.signature)
	}
	var env struct {
		Event     string       `json:"event"`
		Timestamp int64        `json:"timestamp"`
		Data      models.Alert `json:"data"`
	}
	if err := json.Unmarshal(last.body, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.Event != EventSecurityAlert || env.Timestamp == 0 || env.Data.Type != models.AlertTypeSpam {
		t.Errorf("envelope = %+v", env)
	}

	// Data timestamps use the same epoch-ms unit as the envelope.
	var raw struct {
		Data struct {
			TimestampMs int64 `json:"timestamp_ms"`
		} `json:"data"`
	}
	if err := json.Unmarshal(last.body, &raw); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if raw.Data.TimestampMs != env.Data.Timestamp.UnixMilli() || raw.Data.TimestampMs == 0 {
		t.Errorf("data.timestamp_ms = %d, want %d", raw.Data.TimestampMs, env.Data.Timestamp.UnixMilli())
	}
}

func TestNotify_DropsAfterRetries(t *testing.T) {
	srv, calls, _, _ := newWebhook(t, 1000)
	d, _ := testDispatcher(srv.URL)

	err := d.Notify(context.Background(), testAlert())
	if !errors.Is(err, ErrDelivery) {
		t.Fatalf("err = %v, want ErrDelivery", err)
	}
	if calls.Load() != int32(d.cfg.RetryAttempts) {
		t.Errorf("POST calls = %d, want %d", calls.Load(), d.cfg.RetryAttempts)
	}
	h := d.Health()
	if h.ConsecutiveFailures != 1 || h.Dropped != 1 {
		t.Errorf("health after one drop = %+v", h)
	}
	if h.LastError == "" || h.LastFailure == nil {
		t.Errorf("last failure not recorded: %+v", h)
	}
}

func TestHealthClassification(t *testing.T) {
	cfg := DefaultConfig()
	tests := []struct {
		name     string
		failures int
		silent   bool
		want     HealthStatus
	}{
		{"no failures", 0, false, HealthHealthy},
		{"below low even when silent", 2, true, HealthHealthy},
		{"at low, recent success", 3, false, HealthHealthy},
		{"at low, silent", 3, true, HealthDegraded},
		{"above medium", 6, false, HealthDegraded},
		{"at high", 10, false, HealthDegraded},
		{"above high", 11, false, HealthUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classify(tt.failures, tt.silent, cfg); got != tt.want {
				t.Errorf("classify(%d, %v) = %s, want %s", tt.failures, tt.silent, got, tt.want)
			}
		})
	}
}

func TestHealth_SuccessResetsFailures(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	d, _ := testDispatcher(srv.URL)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }
	d.startedAt = now

	for i := 0; i < 6; i++ {
		_ = d.Notify(context.Background(), testAlert())
	}
	if h := d.Health(); h.Status != HealthDegraded || h.ConsecutiveFailures != 6 {
		t.Fatalf("after 6 drops: %+v", h)
	}

	fail.Store(false)
	if err := d.Notify(context.Background(), testAlert()); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if h := d.Health(); h.Status != HealthHealthy || h.ConsecutiveFailures != 0 {
		t.Errorf("after success: %+v", h)
	}
}

func TestTestWebhook_DoesNotAffectHealth(t *testing.T) {
	srv, calls, got, mu := newWebhook(t, 1000)
	d, _ := testDispatcher(srv.URL)

	res, err := d.TestWebhook(context.Background())
	if err != nil {
		t.Fatalf("TestWebhook: %v", err)
	}
	if res.Success || res.StatusCode != http.StatusInternalServerError || res.Error == "" {
		t.Errorf("result = %+v", res)
	}
	if calls.Load() != 1 {
		t.Errorf("POST calls = %d, want 1", calls.Load())
	}
	if h := d.Health(); h.ConsecutiveFailures != 0 || h.Dropped != 0 {
		t.Errorf("health changed by test delivery: %+v", h)
	}
	mu.Lock()
	if (*got)[0].event != EventWebhookTest {
		t.Errorf("event = %q, want %q", (*got)[0].event, EventWebhookTest)
	}
	mu.Unlock()

	empty := New(DefaultConfig(), nil)
	if _, err := empty.TestWebhook(context.Background()); !errors.Is(err, ErrNoWebhook) {
		t.Errorf("unconfigured TestWebhook = %v, want ErrNoWebhook", err)
	}
}

func TestNotifyMessage_RiskThreshold(t *testing.T) {
	srv, calls, _, _ := newWebhook(t, 0)
	d, _ := testDispatcher(srv.URL)

	low := &models.NormalizedMessage{ID: "low"}
	low.SetRiskScore(0.1)
	high := &models.NormalizedMessage{ID: "high"}
	high.SetRiskScore(0.9)

	if err := d.NotifyMessage(context.Background(), low); err != nil {
		t.Fatalf("NotifyMessage(low): %v", err)
	}
	if err := d.NotifyMessage(context.Background(), high); err != nil {
		t.Fatalf("NotifyMessage(high): %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("POST calls = %d, want 1", calls.Load())
	}

	d.cfg.NotifyMessages = true
	if err := d.NotifyMessage(context.Background(), low); err != nil {
		t.Fatalf("NotifyMessage(low, all): %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("POST calls = %d, want 2", calls.Load())
	}
}

type recordingSink struct {
	mu     sync.Mutex
	events []string
	err    error
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Publish(_ context.Context, env Envelope, _ []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, env.Event)
	return s.err
}

func TestSinks_ReceiveEnvelopesWithoutWebhook(t *testing.T) {
	d := New(DefaultConfig(), nil)
	ok := &recordingSink{}
	broken := &recordingSink{err: errors.New("bus down")}
	d.AddSink(ok)
	d.AddSink(broken)

	ctx := context.Background()
	if err := d.NotifyParticipants(ctx, models.ParticipantsUpdate{ChannelID: "c@g.us", Action: "add"}); err != nil {
		t.Fatalf("NotifyParticipants: %v", err)
	}
	if err := d.NotifySystem(ctx, models.NewSystemAlert("session", "gave up", models.SystemMeta{}, time.Now())); err != nil {
		t.Fatalf("NotifySystem: %v", err)
	}

	want := []string{EventParticipantsUpdate, EventSystemAlert}
	if len(ok.events) != 2 || ok.events[0] != want[0] || ok.events[1] != want[1] {
		t.Errorf("sink events = %v, want %v", ok.events, want)
	}
	if h := d.Health(); h.ConsecutiveFailures != 0 || h.WebhookConfigured {
		t.Errorf("sink error affected health: %+v", h)
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	srv, calls, _, _ := newWebhook(t, 1000)
	d, _ := testDispatcher(srv.URL)
	d.cfg.RetryAttempts = 2
	d.cfg.BreakerThreshold = 2
	d = rebuildBreaker(d)

	_ = d.Notify(context.Background(), testAlert())
	if calls.Load() != 2 {
		t.Fatalf("POST calls = %d, want 2", calls.Load())
	}

	// Open breaker rejects attempts without reaching the endpoint.
	err := d.Notify(context.Background(), testAlert())
	if !errors.Is(err, ErrDelivery) {
		t.Fatalf("err = %v, want ErrDelivery", err)
	}
	if calls.Load() != 2 {
		t.Errorf("POST calls with open breaker = %d, want 2", calls.Load())
	}
	if h := d.Health(); h.BreakerState != "open" || h.ConsecutiveFailures != 2 {
		t.Errorf("health = %+v", h)
	}
}

func TestOpenBreakerSkipsBackoff(t *testing.T) {
	srv, calls, _, _ := newWebhook(t, 1000)
	d, _ := testDispatcher(srv.URL)
	d.cfg.RetryAttempts = 3
	d.cfg.BreakerThreshold = 1
	d = rebuildBreaker(d)

	var delays []time.Duration
	d.sleep = func(_ context.Context, dur time.Duration) error {
		delays = append(delays, dur)
		return nil
	}

	// First attempt trips the breaker; the rest are rejected immediately.
	if err := d.Notify(context.Background(), testAlert()); !errors.Is(err, ErrDelivery) {
		t.Fatalf("err = %v, want ErrDelivery", err)
	}
	if calls.Load() != 1 {
		t.Errorf("POST calls = %d, want 1", calls.Load())
	}
	if len(delays) != 1 {
		t.Errorf("backoff sleeps = %v, want one before the rejected attempt", delays)
	}

	delays = nil
	if err := d.Notify(context.Background(), testAlert()); !errors.Is(err, ErrDelivery) {
		t.Fatalf("err = %v, want ErrDelivery", err)
	}
	if len(delays) != 0 {
		t.Errorf("backoff sleeps with open breaker = %v, want none", delays)
	}
	if h := d.Health(); h.ConsecutiveFailures != 2 || h.Dropped != 2 {
		t.Errorf("health = %+v, want 2 failures and 2 dropped", h)
	}
}

func TestNotify_CanceledContextStopsRetries(t *testing.T) {
	srv, calls, _, _ := newWebhook(t, 1000)
	d, _ := testDispatcher(srv.URL)
	d.cfg.RetryDelay = time.Hour
	d.sleep = sleepContext

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := d.Notify(ctx, testAlert())
	if !errors.Is(err, ErrDelivery) || !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want ErrDelivery wrapping context.Canceled", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Notify took %v with a canceled context", elapsed)
	}
	if calls.Load() != 0 {
		t.Errorf("POST calls = %d, want 0", calls.Load())
	}
}

// rebuildBreaker re-creates d with its current config, keeping the test hooks.
func rebuildBreaker(d *Dispatcher) *Dispatcher {
	nd := New(d.cfg, nil)
	nd.sleep = d.sleep
	return nd
}

func TestSign(t *testing.T) {
	body := []byte(`{"event":"x"}`)

	plain := Sign(body, "")
	if len(plain) != len("sha256=")+64 {
		t.Errorf("plain signature has wrong shape: %q", plain)
	}
	if !Verify(body, "", plain) {
		t.Error("plain signature should verify without a secret")
	}

	signed := Sign(body, "k")
	if signed == plain {
		t.Error("HMAC signature should differ from plain hash")
	}
	if !Verify(body, "k", signed) {
		t.Error("HMAC signature should verify")
	}
	if Verify(body, "other", signed) {
		t.Error("signature verified with wrong secret")
	}
	if Verify(body, "k", "md5=abc") {
		t.Error("unknown scheme accepted")
	}
}
