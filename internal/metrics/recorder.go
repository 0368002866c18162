// Chatwatch - Chat Message Threat Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatwatch

package metrics

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/tomtom215/chatwatch/internal/logging"
)

// Series names written by the pipeline.
const (
	MetricBatchSize         = "batch_size"
	MetricBatchDurationMs   = "batch_duration_ms"
	MetricBatchSuccess      = "batch_success"
	MetricBatchFailed       = "batch_failed"
	MetricDispatchLatencyMs = "dispatch_latency_ms"
	MetricHeapAllocMB       = "heap_alloc_mb"
)

// Sample is one timestamped value.
type Sample struct {
	Value float64   `json:"value"`
	At    time.Time `json:"at"`
}

// Summary aggregates a series over the retention window.
type Summary struct {
	Name    string    `json:"name"`
	Current float64   `json:"current"`
	Average float64   `json:"average"`
	Max     float64   `json:"max"`
	Min     float64   `json:"min"`
	Count   int       `json:"count"`
	From    time.Time `json:"from"`
	To      time.Time `json:"to"`
}

// Degradation reports derived health indicators.
type Degradation struct {
	Degraded           bool    `json:"degraded"`
	SlowBatches        bool    `json:"slow_batches"`
	HighFailureRatio   bool    `json:"high_failure_ratio"`
	AvgBatchDurationMs float64 `json:"avg_batch_duration_ms"`
	FailureRatio       float64 `json:"failure_ratio"`
	MessagesPerMinute  float64 `json:"messages_per_minute"`
}

// Persister stores samples durably. Store implements it.
type Persister interface {
	RecordMetric(ctx context.Context, name string, value float64, at time.Time) error
}

// RecorderConfig configures a Recorder.
type RecorderConfig struct {
	Retention             time.Duration
	CleanupInterval       time.Duration
	DegradedBatchDuration time.Duration
	DegradedFailureRatio  float64
}

// DefaultRecorderConfig returns production defaults.
func DefaultRecorderConfig() RecorderConfig {
	return RecorderConfig{
		Retention:             time.Hour,
		CleanupInterval:       5 * time.Minute,
		DegradedBatchDuration: 5 * time.Second,
		DegradedFailureRatio:  0.2,
	}
}

// Recorder keeps named in-memory series over a bounded retention window.
// It only aggregates; callers decide what the numbers mean.
type Recorder struct {
	mu      sync.RWMutex
	series  map[string][]Sample
	cfg     RecorderConfig
	persist Persister
	now     func() time.Time
}

// NewRecorder creates a recorder. persist may be nil.
func NewRecorder(cfg RecorderConfig, persist Persister) *Recorder {
	def := DefaultRecorderConfig()
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}
	if cfg.DegradedBatchDuration <= 0 {
		cfg.DegradedBatchDuration = def.DegradedBatchDuration
	}
	if cfg.DegradedFailureRatio <= 0 {
		cfg.DegradedFailureRatio = def.DegradedFailureRatio
	}
	return &Recorder{
		series:  make(map[string][]Sample),
		cfg:     cfg,
		persist: persist,
		now:     time.Now,
	}
}

// Record appends a sample to the named series.
// Persistence is best effort: failures are logged and never returned.
func (r *Recorder) Record(name string, value float64) {
	at := r.now()

	r.mu.Lock()
	r.series[name] = append(r.series[name], Sample{Value: value, At: at})
	r.mu.Unlock()

	if r.persist == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.persist.RecordMetric(ctx, name, value, at); err != nil {
		logging.Debug().Err(err).Str("metric", name).Msg("metric sample not persisted")
	}
}

// Get summarizes a series over the retention window.
func (r *Recorder) Get(name string) (Summary, bool) {
	cutoff := r.now().Add(-r.cfg.Retention)

	r.mu.RLock()
	defer r.mu.RUnlock()

	var s Summary
	var sum float64
	for _, sample := range r.series[name] {
		if sample.At.Before(cutoff) {
			continue
		}
		if s.Count == 0 {
			s.Min, s.Max, s.From = sample.Value, sample.Value, sample.At
		}
		s.Count++
		sum += sample.Value
		s.Current = sample.Value
		s.To = sample.At
		if sample.Value > s.Max {
			s.Max = sample.Value
		}
		if sample.Value < s.Min {
			s.Min = sample.Value
		}
	}
	if s.Count == 0 {
		return Summary{}, false
	}
	s.Name = name
	s.Average = sum / float64(s.Count)
	return s, true
}

// Samples returns the retained samples of a series, oldest first.
func (r *Recorder) Samples(name string) []Sample {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Sample(nil), r.series[name]...)
}

// Names returns all series names in sorted order.
func (r *Recorder) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.series))
	for name := range r.series {
		names = append(names, name)
	}
	r.mu.RUnlock()

	sort.Strings(names)
	return names
}

// Cleanup drops samples older than the retention window and removes empty
// series. It returns the number of samples and series removed.
func (r *Recorder) Cleanup() (samples, series int) {
	cutoff := r.now().Add(-r.cfg.Retention)

	r.mu.Lock()
	defer r.mu.Unlock()

	for name, list := range r.series {
		kept := list[:0]
		for _, s := range list {
			if s.At.Before(cutoff) {
				samples++
				continue
			}
			kept = append(kept, s)
		}
		if len(kept) == 0 {
			delete(r.series, name)
			series++
			continue
		}
		r.series[name] = kept
	}
	return samples, series
}

// ProcessingRate returns successfully processed messages per minute over the
// retention window.
func (r *Recorder) ProcessingRate() float64 {
	s, ok := r.Get(MetricBatchSuccess)
	if !ok {
		return 0
	}
	return s.Average * float64(s.Count) / r.cfg.Retention.Minutes()
}

// Degraded derives health indicators from the batch series.
func (r *Recorder) Degraded() Degradation {
	var d Degradation
	d.MessagesPerMinute = r.ProcessingRate()

	if dur, ok := r.Get(MetricBatchDurationMs); ok {
		d.AvgBatchDurationMs = dur.Average
		d.SlowBatches = dur.Average > float64(r.cfg.DegradedBatchDuration.Milliseconds())
	}

	success, okS := r.Get(MetricBatchSuccess)
	failed, okF := r.Get(MetricBatchFailed)
	if okS || okF {
		ok := success.Average * float64(success.Count)
		bad := failed.Average * float64(failed.Count)
		if total := ok + bad; total > 0 {
			d.FailureRatio = bad / total
			d.HighFailureRatio = d.FailureRatio > r.cfg.DegradedFailureRatio
		}
	}

	d.Degraded = d.SlowBatches || d.HighFailureRatio
	return d
}

// Run prunes series every CleanupInterval and samples heap usage until ctx is done.
func (r *Recorder) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			var ms runtime.MemStats
			runtime.ReadMemStats(&ms)
			r.Record(MetricHeapAllocMB, float64(ms.HeapAlloc)/(1<<20))

			samples, series := r.Cleanup()
			if samples > 0 || series > 0 {
				logging.Debug().Int("samples", samples).Int("series", series).Msg("pruned metric series")
			}
		}
	}
}
