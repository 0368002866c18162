// Chatwatch - Chat Message Threat Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatwatch

// Package dispatch delivers pipeline events to a signed webhook and to any
// additional sinks such as the event bus.
//
// Each webhook delivery is retried with exponential backoff. A delivery that
// exhausts its attempts is dropped and counted; the count drives Health.
// Extra sinks receive the same envelope but never affect webhook health.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/tomtom215/chatwatch/internal/logging"
	"github.com/tomtom215/chatwatch/internal/metrics"
	"github.com/tomtom215/chatwatch/internal/models"
)

// Event names carried in Envelope.Event.
const (
	EventNewMessage         = "new_message"
	EventSecurityAlert      = "security_alert"
	EventParticipantsUpdate = "group_participants_update"
	EventSystemAlert        = "system_alert"
	EventWebhookTest        = "webhook_test"
)

const breakerName = "webhook"

var (
	// ErrDelivery is returned when a delivery was dropped after all retries.
	ErrDelivery = errors.New("webhook delivery failed")

	// ErrNoWebhook is returned by TestWebhook when no URL is configured.
	ErrNoWebhook = errors.New("webhook not configured")
)

// Envelope is the JSON body posted to the webhook.
type Envelope struct {
	Event     string `json:"event"`
	Timestamp int64  `json:"timestamp"` // epoch milliseconds
	Data      any    `json:"data"`
}

// Sink receives every envelope in addition to the webhook.
type Sink interface {
	Name() string
	Publish(ctx context.Context, env Envelope, body []byte) error
}

// SampleRecorder receives delivery latency samples.
type SampleRecorder interface {
	Record(name string, value float64)
}

// Config controls delivery.
type Config struct {
	WebhookURL           string
	Secret               string
	Timeout              time.Duration
	RetryAttempts        int
	RetryDelay           time.Duration
	RateLimit            float64 // POSTs per second; 0 disables pacing
	RateBurst            int
	NotifyMessages       bool
	MessageRiskThreshold float64
	HealthLowFailures    int
	HealthMediumFailures int
	HealthHighFailures   int
	SilenceThreshold     time.Duration
	BreakerThreshold     uint32
	BreakerTimeout       time.Duration
}

// DefaultConfig returns production defaults without a webhook URL.
func DefaultConfig() Config {
	return Config{
		Timeout:              10 * time.Second,
		RetryAttempts:        3,
		RetryDelay:           time.Second,
		RateLimit:            10,
		RateBurst:            20,
		MessageRiskThreshold: 0.5,
		HealthLowFailures:    3,
		HealthMediumFailures: 5,
		HealthHighFailures:   10,
		SilenceThreshold:     10 * time.Minute,
		BreakerThreshold:     10,
		BreakerTimeout:       time.Minute,
	}
}

// Dispatcher delivers envelopes. Safe for concurrent use.
type Dispatcher struct {
	cfg      Config
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker[int]
	limiter  *rate.Limiter
	recorder SampleRecorder

	sinkMu sync.RWMutex
	sinks  []Sink

	mu          sync.Mutex
	failures    int
	startedAt   time.Time
	lastSuccess time.Time
	lastFailure time.Time
	lastError   string

	delivered atomic.Int64
	dropped   atomic.Int64
	skipped   atomic.Int64

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a dispatcher. recorder may be nil.
func New(cfg Config, recorder SampleRecorder) *Dispatcher {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = def.RetryAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	if cfg.HealthLowFailures <= 0 {
		cfg.HealthLowFailures = def.HealthLowFailures
	}
	if cfg.HealthMediumFailures <= 0 {
		cfg.HealthMediumFailures = def.HealthMediumFailures
	}
	if cfg.HealthHighFailures <= 0 {
		cfg.HealthHighFailures = def.HealthHighFailures
	}
	if cfg.SilenceThreshold <= 0 {
		cfg.SilenceThreshold = def.SilenceThreshold
	}
	if cfg.BreakerThreshold == 0 {
		cfg.BreakerThreshold = def.BreakerThreshold
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = def.BreakerTimeout
	}

	d := &Dispatcher{
		cfg:      cfg,
		client:   &http.Client{Timeout: cfg.Timeout},
		recorder: recorder,
		now:      time.Now,
		sleep:    sleepContext,
	}
	d.startedAt = d.now()

	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)
	d.breaker = gobreaker.NewCircuitBreaker[int](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("breaker", name).Str("from", stateToString(from)).Str("to", stateToString(to)).Msg("webhook circuit breaker state change")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, stateToString(from), stateToString(to)).Inc()
		},
	})

	if cfg.WebhookURL == "" {
		logging.Info().Msg("webhook not configured, deliveries go to sinks only")
	}
	return d
}

// AddSink registers an additional sink.
func (d *Dispatcher) AddSink(s Sink) {
	d.sinkMu.Lock()
	d.sinks = append(d.sinks, s)
	d.sinkMu.Unlock()
}

// Notify delivers a security alert.
func (d *Dispatcher) Notify(ctx context.Context, alert models.Alert) error {
	return d.deliver(ctx, EventSecurityAlert, alert)
}

// NotifySystem delivers a supervisor-level alert.
func (d *Dispatcher) NotifySystem(ctx context.Context, alert models.Alert) error {
	return d.deliver(ctx, EventSystemAlert, alert)
}

// NotifyMessage delivers a persisted message. Unless notify_messages is set,
// only messages at or above the risk threshold are sent.
func (d *Dispatcher) NotifyMessage(ctx context.Context, msg *models.NormalizedMessage) error {
	if msg == nil {
		return nil
	}
	if !d.cfg.NotifyMessages && msg.RiskScore < d.cfg.MessageRiskThreshold {
		d.skipped.Add(1)
		return nil
	}
	return d.deliver(ctx, EventNewMessage, msg)
}

// NotifyParticipants delivers a group membership change.
func (d *Dispatcher) NotifyParticipants(ctx context.Context, update models.ParticipantsUpdate) error {
	return d.deliver(ctx, EventParticipantsUpdate, update)
}

func (d *Dispatcher) envelope(event string, data any) (Envelope, []byte, error) {
	env := Envelope{Event: event, Timestamp: d.now().UnixMilli(), Data: data}
	body, err := json.Marshal(env)
	if err != nil {
		return env, nil, fmt.Errorf("marshal %s envelope: %w", event, err)
	}
	return env, body, nil
}

func (d *Dispatcher) deliver(ctx context.Context, event string, data any) error {
	env, body, err := d.envelope(event, data)
	if err != nil {
		return err
	}

	d.publishSinks(ctx, env, body)

	if d.cfg.WebhookURL == "" {
		return nil
	}
	return d.postWithRetry(ctx, event, body)
}

func (d *Dispatcher) publishSinks(ctx context.Context, env Envelope, body []byte) {
	d.sinkMu.RLock()
	sinks := d.sinks
	d.sinkMu.RUnlock()

	for _, s := range sinks {
		if err := s.Publish(ctx, env, body); err != nil {
			logging.Warn().Err(err).Str("sink", s.Name()).Str("event", env.Event).Msg("sink publish failed")
		}
	}
}

// postWithRetry makes up to RetryAttempts POSTs, sleeping
// RetryDelay*2^(n-1) after the n-th failure.
func (d *Dispatcher) postWithRetry(ctx context.Context, event string, body []byte) error {
	var lastErr error
	for attempt := 1; attempt <= d.cfg.RetryAttempts; attempt++ {
		if d.limiter != nil {
			if err := d.limiter.Wait(ctx); err != nil {
				lastErr = err
				break
			}
		}

		start := time.Now()
		_, err := d.breaker.Execute(func() (int, error) {
			return d.post(ctx, event, body)
		})
		elapsed := time.Since(start)
		metrics.DispatchAttempts.Inc()
		metrics.DispatchDuration.Observe(elapsed.Seconds())

		if err == nil {
			d.recordSuccess()
			if d.recorder != nil {
				d.recorder.Record(metrics.MetricDispatchLatencyMs, float64(elapsed.Milliseconds()))
			}
			metrics.RecordDelivery(event, "success")
			logging.Info().Str("event", event).Int("attempt", attempt).Dur("latency", elapsed).Msg("webhook delivered")
			return nil
		}

		lastErr = err
		logging.Debug().Err(err).Str("event", event).Int("attempt", attempt).Msg("webhook attempt failed")

		// A rejected attempt never reached the endpoint; backing off would
		// only hold the caller.
		if breakerRejected(err) || attempt == d.cfg.RetryAttempts {
			break
		}
		delay := d.cfg.RetryDelay * time.Duration(1<<uint(attempt-1))
		if err := d.sleep(ctx, delay); err != nil {
			lastErr = err
			break
		}
	}

	failures := d.recordFailure(lastErr)
	metrics.RecordDelivery(event, "dropped")
	logging.Error().Err(lastErr).Str("event", event).Int("consecutive_failures", failures).Msg("webhook delivery dropped")
	return fmt.Errorf("%w: %s: %w", ErrDelivery, event, lastErr)
}

// post performs one signed POST. Non-2xx responses are errors.
func (d *Dispatcher) post(ctx context.Context, event string, body []byte) (int, error) {
	req, err := newSignedRequest(ctx, d.cfg.WebhookURL, event, body, d.cfg.Secret)
	if err != nil {
		return 0, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("send webhook: %w", err)
	}
	defer drainAndClose(resp)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

func (d *Dispatcher) recordSuccess() {
	d.mu.Lock()
	d.failures = 0
	d.lastSuccess = d.now()
	d.mu.Unlock()
	d.delivered.Add(1)
	metrics.DispatchConsecutiveFailures.Set(0)
}

func (d *Dispatcher) recordFailure(err error) int {
	d.mu.Lock()
	d.failures++
	d.lastFailure = d.now()
	if err != nil {
		d.lastError = err.Error()
	}
	n := d.failures
	d.mu.Unlock()
	d.dropped.Add(1)
	metrics.DispatchConsecutiveFailures.Set(float64(n))
	return n
}

// TestResult is the outcome of a webhook test delivery.
type TestResult struct {
	Success     bool          `json:"success"`
	StatusCode  int           `json:"status_code,omitempty"`
	RoundTrip   time.Duration `json:"-"`
	RoundTripMs int64         `json:"round_trip_ms"`
	Error       string        `json:"error,omitempty"`
}

// TestWebhook posts one webhook_test envelope. It bypasses retries and the
// breaker and leaves health counters untouched.
func (d *Dispatcher) TestWebhook(ctx context.Context) (TestResult, error) {
	if d.cfg.WebhookURL == "" {
		return TestResult{}, ErrNoWebhook
	}
	_, body, err := d.envelope(EventWebhookTest, map[string]string{"message": "chatwatch webhook test"})
	if err != nil {
		return TestResult{}, err
	}

	start := time.Now()
	status, err := d.post(ctx, EventWebhookTest, body)
	elapsed := time.Since(start)

	res := TestResult{
		Success:     err == nil,
		StatusCode:  status,
		RoundTrip:   elapsed,
		RoundTripMs: elapsed.Milliseconds(),
	}
	if err != nil {
		res.Error = err.Error()
	}
	logging.Info().Bool("success", res.Success).Int("status", status).Dur("round_trip", elapsed).Msg("webhook test")
	return res, nil
}

func breakerRejected(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
