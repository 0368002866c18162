// Chatwatch - Chat Message Threat Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatwatch

// Package ingest buffers bridge messages and processes them in batches.
//
// The buffer is in memory only: items not yet processed when the process
// stops are lost. At most one batch runs at a time; a trigger that arrives
// while a run is in flight is ignored and the next tick picks up the backlog.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tomtom215/chatwatch/internal/detection"
	"github.com/tomtom215/chatwatch/internal/logging"
	"github.com/tomtom215/chatwatch/internal/metrics"
	"github.com/tomtom215/chatwatch/internal/models"
	"github.com/tomtom215/chatwatch/internal/transport"
)

// Store is the persistence the queue needs.
type Store interface {
	SaveMessage(ctx context.Context, msg *models.NormalizedMessage) error
	SaveAlert(ctx context.Context, alert *models.Alert) error
	GetActiveChannels(ctx context.Context) (map[string]struct{}, error)
}

// Analyzer scores messages.
type Analyzer interface {
	SafeAnalyze(ctx context.Context, msg *models.NormalizedMessage) (detection.Result, error)
	Sweep() int
}

// Notifier forwards persisted messages and alerts.
type Notifier interface {
	NotifyMessage(ctx context.Context, msg *models.NormalizedMessage) error
	Notify(ctx context.Context, alert models.Alert) error
}

// SampleRecorder receives per-batch performance samples.
type SampleRecorder interface {
	Record(name string, value float64)
}

// Config controls batching.
type Config struct {
	BatchSize           int
	ProcessInterval     time.Duration
	MaxConcurrency      int
	SubscriptionRefresh time.Duration

	// DrainTimeout bounds how long Stop waits for an in-flight batch before
	// canceling its outstanding deliveries.
	DrainTimeout time.Duration

	// SeedChannels are always treated as active.
	SeedChannels []string
}

// Stats are cumulative queue counters.
type Stats struct {
	Buffered    int   `json:"buffered"`
	Enqueued    int64 `json:"enqueued"`
	Batches     int64 `json:"batches"`
	RunsSkipped int64 `json:"runs_skipped"`
	Processed   int64 `json:"processed"`
	Invalid     int64 `json:"invalid"`
	Filtered    int64 `json:"filtered"`
	Failed      int64 `json:"failed"`
	Discarded   int64 `json:"discarded"`
	Channels    int   `json:"active_channels"`
}

// Queue is the ingestion buffer and batch processor.
type Queue struct {
	cfg      Config
	store    Store
	analyzer Analyzer
	notifier Notifier
	recorder SampleRecorder

	mu      sync.Mutex
	buf     []transport.RawMessage
	stopped bool

	running  atomic.Bool
	inFlight sync.WaitGroup
	trigger  chan struct{}

	// deliveries is canceled once the drain timeout passes on Stop.
	deliveries       context.Context
	cancelDeliveries context.CancelFunc

	subsMu sync.RWMutex
	subs   map[string]struct{}

	now func() time.Time

	enqueued    atomic.Int64
	batches     atomic.Int64
	runsSkipped atomic.Int64
	processed   atomic.Int64
	invalid     atomic.Int64
	filtered    atomic.Int64
	failed      atomic.Int64
	discarded   atomic.Int64
}

// NewQueue creates a queue. notifier and recorder may be nil.
func NewQueue(cfg Config, store Store, analyzer Analyzer, notifier Notifier, recorder SampleRecorder) *Queue {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.ProcessInterval <= 0 {
		cfg.ProcessInterval = time.Second
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 8
	}
	if cfg.SubscriptionRefresh <= 0 {
		cfg.SubscriptionRefresh = 5 * time.Minute
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 5 * time.Second
	}

	q := &Queue{
		cfg:      cfg,
		store:    store,
		analyzer: analyzer,
		notifier: notifier,
		recorder: recorder,
		trigger:  make(chan struct{}, 1),
		subs:     make(map[string]struct{}),
		now:      time.Now,
	}
	q.deliveries, q.cancelDeliveries = context.WithCancel(context.Background())
	for _, ch := range cfg.SeedChannels {
		q.subs[ch] = struct{}{}
	}
	return q
}

// Enqueue appends raw messages. A full batch triggers an immediate run.
func (q *Queue) Enqueue(raws ...transport.RawMessage) {
	if len(raws) == 0 {
		return
	}

	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		q.discarded.Add(int64(len(raws)))
		metrics.IngestMessages.WithLabelValues("discarded").Add(float64(len(raws)))
		logging.Warn().Int("count", len(raws)).Msg("queue stopped, dropping messages")
		return
	}
	q.buf = append(q.buf, raws...)
	depth := len(q.buf)
	q.mu.Unlock()

	q.enqueued.Add(int64(len(raws)))
	metrics.IngestEnqueued.Add(float64(len(raws)))
	metrics.IngestQueueDepth.Set(float64(depth))

	if depth >= q.cfg.BatchSize {
		select {
		case q.trigger <- struct{}{}:
		default:
		}
	}
}

// Len returns the number of buffered messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}

// Run drives batches from the ticker and full-buffer triggers until ctx is
// done, then stops the queue. Each batch runs in its own goroutine so the
// run guard decides whether a trigger is honored.
func (q *Queue) Run(ctx context.Context) error {
	if err := q.RefreshSubscriptions(ctx); err != nil {
		logging.Warn().Err(err).Msg("initial subscription refresh failed, using seed channels")
	}

	ticker := time.NewTicker(q.cfg.ProcessInterval)
	defer ticker.Stop()
	refresh := time.NewTicker(q.cfg.SubscriptionRefresh)
	defer refresh.Stop()

	logging.Info().
		Int("batch_size", q.cfg.BatchSize).
		Dur("interval", q.cfg.ProcessInterval).
		Int("max_concurrency", q.cfg.MaxConcurrency).
		Msg("ingestion queue started")

	// In-flight batches finish even after ctx is canceled.
	batchCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			q.Stop()
			return ctx.Err()
		case <-ticker.C:
			q.startBatch(batchCtx)
		case <-q.trigger:
			q.startBatch(batchCtx)
		case <-refresh.C:
			if err := q.RefreshSubscriptions(ctx); err != nil {
				logging.Warn().Err(err).Msg("subscription refresh failed, keeping previous snapshot")
			}
		}
	}
}

func (q *Queue) startBatch(ctx context.Context) {
	q.inFlight.Add(1)
	go func() {
		defer q.inFlight.Done()
		q.ProcessBatch(ctx)
	}()
}

// Stop waits up to DrainTimeout for an in-flight batch, canceling its
// pending deliveries after that, then discards what is still buffered.
// It returns the number of discarded messages.
func (q *Queue) Stop() int {
	q.mu.Lock()
	q.stopped = true
	q.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		q.inFlight.Wait()
		close(drained)
	}()
	timer := time.NewTimer(q.cfg.DrainTimeout)
	select {
	case <-drained:
		timer.Stop()
	case <-timer.C:
		logging.Warn().Dur("drain_timeout", q.cfg.DrainTimeout).Msg("batch still in flight, canceling pending deliveries")
		q.cancelDeliveries()
		<-drained
	}
	q.cancelDeliveries()

	q.mu.Lock()
	n := len(q.buf)
	q.buf = nil
	q.mu.Unlock()

	metrics.IngestQueueDepth.Set(0)
	if n > 0 {
		q.discarded.Add(int64(n))
		metrics.IngestMessages.WithLabelValues("discarded").Add(float64(n))
		logging.Warn().Int("discarded", n).Msg("ingestion queue stopped with unprocessed messages")
	} else {
		logging.Info().Msg("ingestion queue stopped")
	}
	return n
}

// RefreshSubscriptions reloads the active channel snapshot from the store.
func (q *Queue) RefreshSubscriptions(ctx context.Context) error {
	active, err := q.store.GetActiveChannels(ctx)
	if err != nil {
		return fmt.Errorf("load active channels: %w", err)
	}
	if active == nil {
		active = make(map[string]struct{})
	}
	for _, ch := range q.cfg.SeedChannels {
		active[ch] = struct{}{}
	}

	q.subsMu.Lock()
	q.subs = active
	q.subsMu.Unlock()

	logging.Debug().Int("channels", len(active)).Msg("subscription snapshot refreshed")
	return nil
}

// IsActive reports whether channelID is in the current snapshot.
func (q *Queue) IsActive(channelID string) bool {
	q.subsMu.RLock()
	defer q.subsMu.RUnlock()
	_, ok := q.subs[channelID]
	return ok
}

// Stats returns a snapshot of queue counters.
func (q *Queue) Stats() Stats {
	q.subsMu.RLock()
	channels := len(q.subs)
	q.subsMu.RUnlock()

	return Stats{
		Buffered:    q.Len(),
		Enqueued:    q.enqueued.Load(),
		Batches:     q.batches.Load(),
		RunsSkipped: q.runsSkipped.Load(),
		Processed:   q.processed.Load(),
		Invalid:     q.invalid.Load(),
		Filtered:    q.filtered.Load(),
		Failed:      q.failed.Load(),
		Discarded:   q.discarded.Load(),
		Channels:    channels,
	}
}

func (q *Queue) pop() []transport.RawMessage {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := min(len(q.buf), q.cfg.BatchSize)
	if n == 0 {
		return nil
	}
	batch := make([]transport.RawMessage, n)
	copy(batch, q.buf[:n])
	q.buf = q.buf[n:]
	metrics.IngestQueueDepth.Set(float64(len(q.buf)))
	return batch
}

// ProcessBatch runs one batch. It returns false without doing anything when
// another run is in flight.
func (q *Queue) ProcessBatch(ctx context.Context) bool {
	if !q.running.CompareAndSwap(false, true) {
		q.runsSkipped.Add(1)
		metrics.IngestRunsSkipped.Inc()
		return false
	}
	defer q.running.Store(false)

	batch := q.pop()
	if len(batch) == 0 {
		return true
	}

	ctx = logging.ContextWithNewCorrelationID(ctx)
	log := logging.Ctx(ctx)
	start := time.Now()

	// Store writes always finish; deliveries stop when the queue gives up
	// draining.
	notifyCtx, cancelNotify := context.WithCancel(ctx)
	defer cancelNotify()
	stopNotify := context.AfterFunc(q.deliveries, cancelNotify)
	defer stopNotify()
	now := q.now()

	// Normalize and filter, grouping by channel in delivery order.
	var (
		order    []string
		channels = make(map[string][]*models.NormalizedMessage)
		invalid  int
		filtered int
	)
	for _, raw := range batch {
		msg, err := Normalize(raw, now)
		if err != nil {
			invalid++
			log.Debug().Err(err).Str("message_id", raw.Key.ID).Msg("dropping invalid message")
			continue
		}
		if !q.IsActive(msg.ChannelID) {
			filtered++
			continue
		}
		if _, seen := channels[msg.ChannelID]; !seen {
			order = append(order, msg.ChannelID)
		}
		channels[msg.ChannelID] = append(channels[msg.ChannelID], msg)
	}

	var (
		succeeded atomic.Int64
		failed    atomic.Int64
		wg        sync.WaitGroup
		sem       = make(chan struct{}, q.cfg.MaxConcurrency)
	)
	for _, ch := range order {
		msgs := channels[ch]
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			// Messages of one channel are processed in order.
			for _, msg := range msgs {
				if q.processMessage(ctx, notifyCtx, msg) {
					succeeded.Add(1)
				} else {
					failed.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	if q.analyzer != nil {
		q.analyzer.Sweep()
	}

	elapsed := time.Since(start)
	ok, bad := succeeded.Load(), failed.Load()
	q.batches.Add(1)
	q.processed.Add(ok)
	q.failed.Add(bad)
	q.invalid.Add(int64(invalid))
	q.filtered.Add(int64(filtered))

	metrics.RecordBatch(len(batch), elapsed)
	metrics.IngestMessages.WithLabelValues("processed").Add(float64(ok))
	metrics.IngestMessages.WithLabelValues("failed").Add(float64(bad))
	metrics.IngestMessages.WithLabelValues("invalid").Add(float64(invalid))
	metrics.IngestMessages.WithLabelValues("filtered").Add(float64(filtered))

	if q.recorder != nil {
		q.recorder.Record(metrics.MetricBatchSize, float64(len(batch)))
		q.recorder.Record(metrics.MetricBatchDurationMs, float64(elapsed.Milliseconds()))
		q.recorder.Record(metrics.MetricBatchSuccess, float64(ok))
		q.recorder.Record(metrics.MetricBatchFailed, float64(bad))
	}

	log.Info().
		Int("size", len(batch)).
		Int64("processed", ok).
		Int64("failed", bad).
		Int("invalid", invalid).
		Int("filtered", filtered).
		Dur("duration", elapsed).
		Msg("batch processed")
	return true
}

// processMessage analyzes, persists and forwards one message. A persistence
// failure drops the message from alerting; analysis failures do not.
// Forwarding uses notifyCtx so a stuck sink cannot hold shutdown.
func (q *Queue) processMessage(ctx, notifyCtx context.Context, msg *models.NormalizedMessage) (ok bool) {
	log := logging.Ctx(ctx)
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("message_id", msg.ID).
				Str("panic", fmt.Sprint(r)).
				Str("stack", string(debug.Stack())).
				Msg("message processing panicked")
			ok = false
		}
	}()

	var result detection.Result
	if q.analyzer != nil {
		// SafeAnalyze already logs and counts failures; zero risk is kept.
		result, _ = q.analyzer.SafeAnalyze(ctx, msg)
	}
	msg.SetRiskScore(result.RiskScore)

	if err := q.store.SaveMessage(ctx, msg); err != nil {
		log.Warn().Err(err).Str("message_id", msg.ID).Msg("failed to persist message, skipping alerts")
		return false
	}

	saved := make([]models.Alert, 0, len(result.Alerts))
	for i := range result.Alerts {
		alert := result.Alerts[i]
		if err := q.store.SaveAlert(ctx, &alert); err != nil {
			log.Warn().Err(err).Str("alert_id", alert.ID).Str("type", string(alert.Type)).Msg("failed to persist alert")
			continue
		}
		saved = append(saved, alert)
	}

	if q.notifier == nil {
		return true
	}
	if err := q.notifier.NotifyMessage(notifyCtx, msg); err != nil && !errors.Is(err, context.Canceled) {
		log.Debug().Err(err).Str("message_id", msg.ID).Msg("message notification not delivered")
	}
	for _, alert := range saved {
		if notifyCtx.Err() != nil {
			log.Debug().Int("alerts", len(saved)).Str("message_id", msg.ID).Msg("deliveries canceled, alerts kept in store only")
			break
		}
		if err := q.notifier.Notify(notifyCtx, alert); err != nil {
			log.Debug().Err(err).Str("alert_id", alert.ID).Msg("alert notification not delivered")
		}
	}
	return true
}
