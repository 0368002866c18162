// Chatwatch - Chat Message Threat Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatwatch

package metrics

import (
	"context"
	"errors"
	"math"
	"reflect"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestRecorder(persist Persister) (*Recorder, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)}
	r := NewRecorder(RecorderConfig{Retention: 10 * time.Minute}, persist)
	r.now = clock.Now
	return r, clock
}

func TestRecorder_GetSummary(t *testing.T) {
	r, clock := newTestRecorder(nil)

	for _, v := range []float64{4, 10, 1, 5} {
		r.Record("latency", v)
		clock.Advance(time.Second)
	}

	s, ok := r.Get("latency")
	if !ok {
		t.Fatal("series not found")
	}
	if s.Count != 4 || s.Current != 5 || s.Max != 10 || s.Min != 1 || s.Average != 5 {
		t.Errorf("unexpected summary: %+v", s)
	}

	if _, ok := r.Get("missing"); ok {
		t.Error("Get on unknown series should report false")
	}
}

func TestRecorder_RetentionWindow(t *testing.T) {
	r, clock := newTestRecorder(nil)

	r.Record("old", 100)
	r.Record("x", 100)
	clock.Advance(11 * time.Minute)
	r.Record("x", 2)

	s, ok := r.Get("x")
	if !ok || s.Count != 1 || s.Average != 2 {
		t.Errorf("expected only the fresh sample, got %+v (ok=%v)", s, ok)
	}

	samples, series := r.Cleanup()
	if samples != 2 || series != 1 {
		t.Errorf("Cleanup() = %d samples, %d series; want 2, 1", samples, series)
	}
	if got := r.Names(); !reflect.DeepEqual(got, []string{"x"}) {
		t.Errorf("Names() = %v, want [x]", got)
	}
}

func TestRecorder_ProcessingRateAndDegraded(t *testing.T) {
	r, _ := newTestRecorder(nil)
	r.cfg.DegradedBatchDuration = 100 * time.Millisecond
	r.cfg.DegradedFailureRatio = 0.2

	r.Record(MetricBatchSuccess, 40)
	r.Record(MetricBatchSuccess, 40)
	r.Record(MetricBatchFailed, 30)
	r.Record(MetricBatchFailed, 0)
	r.Record(MetricBatchDurationMs, 50)
	r.Record(MetricBatchDurationMs, 250)

	if rate := r.ProcessingRate(); math.Abs(rate-8) > 1e-9 {
		t.Errorf("ProcessingRate() = %v, want 8 (80 msgs / 10 min)", rate)
	}

	d := r.Degraded()
	if !d.SlowBatches {
		t.Error("avg 150ms should exceed 100ms threshold")
	}
	if want := 30.0 / 110.0; math.Abs(d.FailureRatio-want) > 1e-9 {
		t.Errorf("FailureRatio = %v, want %v", d.FailureRatio, want)
	}
	if !d.HighFailureRatio {
		t.Error("failure ratio above 0.2 should be flagged")
	}
	if !d.Degraded {
		t.Error("Degraded should be true")
	}
}

type failingPersister struct {
	calls int
}

func (f *failingPersister) RecordMetric(context.Context, string, float64, time.Time) error {
	f.calls++
	return errors.New("disk full")
}

func TestRecorder_PersistFailureIsBestEffort(t *testing.T) {
	p := &failingPersister{}
	r, _ := newTestRecorder(p)

	r.Record("x", 1)

	if p.calls != 1 {
		t.Errorf("persister calls = %d, want 1", p.calls)
	}
	if _, ok := r.Get("x"); !ok {
		t.Error("sample should be kept in memory despite persistence failure")
	}
}

func TestRecorder_RunStopsOnCancel(t *testing.T) {
	r := NewRecorder(RecorderConfig{CleanupInterval: time.Millisecond}, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
	if _, ok := r.Get(MetricHeapAllocMB); !ok {
		t.Error("heap sample should have been recorded")
	}
}
