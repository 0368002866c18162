// Chatwatch - Chat Message Threat Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatwatch

package api

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

	"github.com/tomtom215/chatwatch/internal/detection"
	"github.com/tomtom215/chatwatch/internal/dispatch"
	"github.com/tomtom215/chatwatch/internal/ingest"
	"github.com/tomtom215/chatwatch/internal/metrics"
	"github.com/tomtom215/chatwatch/internal/models"
	"github.com/tomtom215/chatwatch/internal/store"
)

type fakeStore struct {
	mu         sync.Mutex
	pingErr    error
	statsCalls int
	alerts     []models.Alert
	lastFilter models.AlertFilter
	resolved   []string
	channels   []models.ChannelSubscription
	messages   []models.NormalizedMessage
	lastLimit  int
}

func (f *fakeStore) ListAlerts(_ context.Context, filter models.AlertFilter) ([]models.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastFilter = filter
	return f.alerts, nil
}

func (f *fakeStore) ResolveAlert(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.alerts {
		if a.ID == id {
			f.resolved = append(f.resolved, id)
			return nil
		}
	}
	return store.ErrNotFound
}

func (f *fakeStore) GetStats(context.Context) (*models.SystemStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statsCalls++
	return &models.SystemStats{TotalMessages: 42}, nil
}

func (f *fakeStore) UpsertChannel(_ context.Context, sub models.ChannelSubscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels = append(f.channels, sub)
	return nil
}

func (f *fakeStore) ListChannels(context.Context) ([]models.ChannelSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.channels, nil
}

func (f *fakeStore) RecentMessages(_ context.Context, channelID string, limit int) ([]models.NormalizedMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastLimit = limit
	var out []models.NormalizedMessage
	for _, m := range f.messages {
		if m.ChannelID == channelID && len(out) < limit {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

type fakeSession struct {
	status models.ConnectionStatus
	resets int
}

func (f *fakeSession) Status() models.ConnectionStatus { return f.status }

func (f *fakeSession) ResetCredentials(context.Context) error {
	f.resets++
	f.status = models.ConnectionStatus{State: models.StateDisconnected}
	return nil
}

type fakeDispatcher struct {
	health dispatch.Health
	result dispatch.TestResult
	err    error
}

func (f *fakeDispatcher) Health() dispatch.Health { return f.health }

func (f *fakeDispatcher) TestWebhook(context.Context) (dispatch.TestResult, error) {
	return f.result, f.err
}

type fakeRecorder struct {
	series   map[string]metrics.Summary
	degraded metrics.Degradation
}

func (f *fakeRecorder) Get(name string) (metrics.Summary, bool) {
	s, ok := f.series[name]
	return s, ok
}

func (f *fakeRecorder) Names() []string {
	names := make([]string, 0, len(f.series))
	for n := range f.series {
		names = append(names, n)
	}
	return names
}

func (f *fakeRecorder) Degraded() metrics.Degradation { return f.degraded }

type fakeQueue struct {
	refreshes int
}

func (f *fakeQueue) Stats() ingest.Stats { return ingest.Stats{Processed: 7} }

func (f *fakeQueue) RefreshSubscriptions(context.Context) error {
	f.refreshes++
	return nil
}

type fakeAnalyzer struct{}

func (fakeAnalyzer) Stats() detection.Stats { return detection.Stats{MessagesAnalyzed: 7} }

type testEnv struct {
	store      *fakeStore
	session    *fakeSession
	dispatcher *fakeDispatcher
	recorder   *fakeRecorder
	queue      *fakeQueue
	handler    *Handler
	router     http.Handler
}

func newTestEnv(t *testing.T, mwCfg MiddlewareConfig) *testEnv {
	t.Helper()
	env := &testEnv{
		store:      &fakeStore{},
		session:    &fakeSession{status: models.ConnectionStatus{State: models.StateConnected}},
		dispatcher: &fakeDispatcher{health: dispatch.Health{Status: dispatch.HealthHealthy, WebhookConfigured: true}},
		recorder: &fakeRecorder{series: map[string]metrics.Summary{
			metrics.MetricBatchSize: {Name: metrics.MetricBatchSize, Current: 3, Count: 1},
		}},
		queue: &fakeQueue{},
	}
	env.handler = NewHandler(Deps{
		Store:      env.store,
		Session:    env.session,
		Dispatcher: env.dispatcher,
		Recorder:   env.recorder,
		Queue:      env.queue,
		Analyzer:   fakeAnalyzer{},
		StatsTTL:   time.Minute,
	})
	env.router = NewRouter(env.handler, NewMiddleware(mwCfg)).Setup()
	return env
}

func (env *testEnv) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, APIResponse) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	var resp APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("%s %s: decode response: %v (body %q)", method, path, err, rec.Body.String())
	}
	return rec, resp
}

func testMiddlewareConfig() MiddlewareConfig {
	cfg := DefaultMiddlewareConfig()
	cfg.RateLimitDisabled = true
	return cfg
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(env *testEnv)
		wantCode   int
		wantStatus string
	}{
		{"all healthy", func(*testEnv) {}, http.StatusOK, HealthOK},
		{"session disconnected", func(env *testEnv) {
			env.session.status.State = models.StateDisconnected
		}, http.StatusOK, HealthDegraded},
		{"webhook degraded", func(env *testEnv) {
			env.dispatcher.health.Status = dispatch.HealthDegraded
		}, http.StatusOK, HealthDegraded},
		{"pipeline degraded", func(env *testEnv) {
			env.recorder.degraded.Degraded = true
		}, http.StatusOK, HealthDegraded},
		{"webhook unhealthy", func(env *testEnv) {
			env.dispatcher.health.Status = dispatch.HealthUnhealthy
		}, http.StatusServiceUnavailable, HealthUnhealthy},
		{"database down", func(env *testEnv) {
			env.store.pingErr = errors.New("closed")
		}, http.StatusServiceUnavailable, HealthUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, testMiddlewareConfig())
			tt.setup(env)

			rec, resp := env.do(t, http.MethodGet, "/api/v1/health", "")
			if rec.Code != tt.wantCode {
				t.Fatalf("status code = %d, want %d", rec.Code, tt.wantCode)
			}

			raw := resp.Data
			if !resp.Success {
				raw = resp.Error.Details
			}
			b, _ := json.Marshal(raw)
			var health HealthResponse
			if err := json.Unmarshal(b, &health); err != nil {
				t.Fatalf("decode health: %v", err)
			}
			if health.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", health.Status, tt.wantStatus)
			}
		})
	}
}

func TestHealth_SkipsAuth(t *testing.T) {
	cfg := testMiddlewareConfig()
	cfg.APIToken = "secret"
	env := newTestEnv(t, cfg)

	rec, _ := env.do(t, http.MethodGet, "/api/v1/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("health with token configured = %d, want 200", rec.Code)
	}
}

func TestConnectionAndReset(t *testing.T) {
	env := newTestEnv(t, testMiddlewareConfig())
	env.session.status = models.ConnectionStatus{State: models.StateAuthFailed, LastReason: "logged_out"}

	rec, resp := env.do(t, http.MethodGet, "/api/v1/connection", "")
	if rec.Code != http.StatusOK || !resp.Success {
		t.Fatalf("GET connection = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), string(models.StateAuthFailed)) {
		t.Errorf("connection body missing state: %s", rec.Body.String())
	}

	rec, _ = env.do(t, http.MethodPost, "/api/v1/connection/reset", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("POST reset = %d", rec.Code)
	}
	if env.session.resets != 1 {
		t.Errorf("resets = %d, want 1", env.session.resets)
	}
}

func TestStats_Cached(t *testing.T) {
	env := newTestEnv(t, testMiddlewareConfig())

	_, first := env.do(t, http.MethodGet, "/api/v1/stats", "")
	_, second := env.do(t, http.MethodGet, "/api/v1/stats", "")

	if first.Meta.Cached {
		t.Error("first stats response should not be cached")
	}
	if !second.Meta.Cached {
		t.Error("second stats response should be cached")
	}
	if env.store.statsCalls != 1 {
		t.Errorf("GetStats calls = %d, want 1", env.store.statsCalls)
	}
}

func TestAlerts_Filter(t *testing.T) {
	env := newTestEnv(t, testMiddlewareConfig())
	env.store.alerts = []models.Alert{{ID: "a1", Type: models.AlertTypeSpam, Severity: models.SeverityHigh}}

	rec, resp := env.do(t, http.MethodGet, "/api/v1/alerts?severity=high&resolved=false&limit=10&channel_id=123@g.us", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET alerts = %d: %s", rec.Code, rec.Body.String())
	}
	if resp.Meta.Count == nil || *resp.Meta.Count != 1 {
		t.Errorf("count = %v, want 1", resp.Meta.Count)
	}

	f := env.store.lastFilter
	if f.Limit != 10 || f.Severity != models.SeverityHigh || f.ChannelID != "123@g.us" {
		t.Errorf("filter = %+v", f)
	}
	if f.Resolved == nil || *f.Resolved {
		t.Errorf("resolved filter = %v, want false", f.Resolved)
	}
}

func TestAlerts_DefaultLimit(t *testing.T) {
	env := newTestEnv(t, testMiddlewareConfig())
	env.do(t, http.MethodGet, "/api/v1/alerts", "")
	if env.store.lastFilter.Limit != defaultAlertLimit {
		t.Errorf("limit = %d, want %d", env.store.lastFilter.Limit, defaultAlertLimit)
	}
}

func TestAlerts_InvalidQuery(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		wantCode string
	}{
		{"limit not a number", "limit=ten", ErrCodeBadRequest},
		{"limit too large", "limit=5000", ErrCodeValidationFailed},
		{"unknown severity", "severity=extreme", ErrCodeValidationFailed},
		{"unknown type", "type=phishing", ErrCodeValidationFailed},
		{"bad channel", "channel_id=not-a-jid", ErrCodeValidationFailed},
		{"bad since", "since=yesterday", ErrCodeBadRequest},
		{"bad resolved", "resolved=maybe", ErrCodeBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, testMiddlewareConfig())
			rec, resp := env.do(t, http.MethodGet, "/api/v1/alerts?"+tt.query, "")
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if resp.Error == nil || resp.Error.Code != tt.wantCode {
				t.Errorf("error = %+v, want code %s", resp.Error, tt.wantCode)
			}
		})
	}
}

func TestResolveAlert(t *testing.T) {
	env := newTestEnv(t, testMiddlewareConfig())
	env.store.alerts = []models.Alert{{ID: "a1"}}

	rec, _ := env.do(t, http.MethodPost, "/api/v1/alerts/a1/resolve", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("resolve existing = %d", rec.Code)
	}
	if len(env.store.resolved) != 1 || env.store.resolved[0] != "a1" {
		t.Errorf("resolved = %v", env.store.resolved)
	}

	rec, resp := env.do(t, http.MethodPost, "/api/v1/alerts/missing/resolve", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("resolve missing = %d, want 404", rec.Code)
	}
	if resp.Error.Code != ErrCodeNotFound {
		t.Errorf("code = %s", resp.Error.Code)
	}
}

func TestUpsertChannel(t *testing.T) {
	env := newTestEnv(t, testMiddlewareConfig())

	rec, _ := env.do(t, http.MethodPut, "/api/v1/channels/123@g.us", `{"name":"ops","active":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT channel = %d: %s", rec.Code, rec.Body.String())
	}
	if len(env.store.channels) != 1 || !env.store.channels[0].Active || env.store.channels[0].ChannelID != "123@g.us" {
		t.Errorf("channels = %+v", env.store.channels)
	}
	if env.queue.refreshes != 1 {
		t.Errorf("queue refreshes = %d, want 1", env.queue.refreshes)
	}

	rec, resp := env.do(t, http.MethodGet, "/api/v1/channels", "")
	if rec.Code != http.StatusOK || resp.Meta.Count == nil || *resp.Meta.Count != 1 {
		t.Errorf("GET channels = %d, count %v", rec.Code, resp.Meta.Count)
	}
}

func TestUpsertChannel_Invalid(t *testing.T) {
	tests := []struct {
		name string
		id   string
		body string
		code string
	}{
		{"bad id", "general", `{"active":true}`, ErrCodeBadRequest},
		{"missing active", "123@g.us", `{"name":"ops"}`, ErrCodeValidationFailed},
		{"unknown field", "123@g.us", `{"active":true,"owner":"x"}`, ErrCodeBadRequest},
		{"malformed", "123@g.us", `{"active":`, ErrCodeBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, testMiddlewareConfig())
			rec, resp := env.do(t, http.MethodPut, "/api/v1/channels/"+tt.id, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if resp.Error.Code != tt.code {
				t.Errorf("code = %s, want %s", resp.Error.Code, tt.code)
			}
			if len(env.store.channels) != 0 || env.queue.refreshes != 0 {
				t.Error("invalid request must not reach the store")
			}
		})
	}
}

func TestChannelMessages(t *testing.T) {
	env := newTestEnv(t, testMiddlewareConfig())
	env.store.messages = []models.NormalizedMessage{
		{ID: "m1", ChannelID: "123@g.us"},
		{ID: "m2", ChannelID: "123@g.us"},
		{ID: "m3", ChannelID: "456@g.us"},
	}

	rec, resp := env.do(t, http.MethodGet, "/api/v1/channels/123@g.us/messages", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if resp.Meta.Count == nil || *resp.Meta.Count != 2 {
		t.Errorf("count = %v, want 2", resp.Meta.Count)
	}
	if env.store.lastLimit != defaultMessageLimit {
		t.Errorf("limit = %d, want %d", env.store.lastLimit, defaultMessageLimit)
	}

	for _, q := range []string{"limit=0", "limit=501", "limit=x"} {
		rec, _ := env.do(t, http.MethodGet, "/api/v1/channels/123@g.us/messages?"+q, "")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, rec.Code)
		}
	}
}

func TestMetricSeries(t *testing.T) {
	env := newTestEnv(t, testMiddlewareConfig())

	rec, _ := env.do(t, http.MethodGet, "/api/v1/metrics/"+metrics.MetricBatchSize, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("known series = %d", rec.Code)
	}

	rec, _ = env.do(t, http.MethodGet, "/api/v1/metrics/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown series = %d, want 404", rec.Code)
	}

	rec, resp := env.do(t, http.MethodGet, "/api/v1/metrics", "")
	if rec.Code != http.StatusOK || !resp.Success {
		t.Fatalf("metrics index = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), metrics.MetricBatchSize) {
		t.Errorf("index missing series name: %s", rec.Body.String())
	}
}

func TestWebhookTest(t *testing.T) {
	tests := []struct {
		name     string
		result   dispatch.TestResult
		err      error
		wantCode int
	}{
		{"delivered", dispatch.TestResult{Success: true, StatusCode: 200}, nil, http.StatusOK},
		{"rejected", dispatch.TestResult{StatusCode: 500, Error: "webhook returned 500"}, nil, http.StatusBadGateway},
		{"not configured", dispatch.TestResult{}, dispatch.ErrNoWebhook, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, testMiddlewareConfig())
			env.dispatcher.result = tt.result
			env.dispatcher.err = tt.err

			rec, _ := env.do(t, http.MethodPost, "/api/v1/webhook/test", "")
			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
		})
	}
}

func TestWebSocket_NoHub(t *testing.T) {
	env := newTestEnv(t, testMiddlewareConfig())
	rec, _ := env.do(t, http.MethodGet, "/api/v1/ws", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestCheckWebSocketOrigin(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"missing origin", nil, "", false},
		{"same host without config", nil, "http://example.com", true},
		{"other host without config", nil, "http://evil.test", false},
		{"listed origin", []string{"https://dash.test"}, "https://dash.test", true},
		{"unlisted origin", []string{"https://dash.test"}, "https://evil.test", false},
		{"wildcard", []string{"*"}, "https://anything.test", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(Deps{Store: &fakeStore{}, CORSOrigins: tt.allowed})
			req := httptest.NewRequest(http.MethodGet, "http://example.com/api/v1/ws", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if got := h.checkWebSocketOrigin(req); got != tt.want {
				t.Errorf("checkWebSocketOrigin() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNotFoundRoute(t *testing.T) {
	env := newTestEnv(t, testMiddlewareConfig())
	rec, resp := env.do(t, http.MethodGet, "/api/v1/nothing-here", "")
	if rec.Code != http.StatusNotFound || resp.Error.Code != ErrCodeNotFound {
		t.Errorf("status = %d, error = %+v", rec.Code, resp.Error)
	}
}
