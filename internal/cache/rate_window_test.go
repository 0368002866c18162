// Chatwatch - Chat Message Threat Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatwatch

package cache

import (
	"sync"
	"testing"
	"time"
)

func TestRateWindow_HitCountsWithinWindow(t *testing.T) {
	w := NewRateWindow(time.Minute)
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	for i := 1; i <= 5; i++ {
		if got := w.Hit("alice", base.Add(time.Duration(i)*time.Second)); got != i {
			t.Fatalf("hit %d: count = %d, want %d", i, got, i)
		}
	}

	// 2 minutes later everything earlier has aged out.
	if got := w.Hit("alice", base.Add(2*time.Minute)); got != 1 {
		t.Errorf("count after window = %d, want 1", got)
	}
}

func TestRateWindow_KeysIndependent(t *testing.T) {
	w := NewRateWindow(time.Minute)
	now := time.Now()

	w.Hit("alice", now)
	w.Hit("alice", now)
	w.Hit("bob", now)

	if got := w.Count("alice", now); got != 2 {
		t.Errorf("alice = %d, want 2", got)
	}
	if got := w.Count("bob", now); got != 1 {
		t.Errorf("bob = %d, want 1", got)
	}
	if got := w.Count("carol", now); got != 0 {
		t.Errorf("carol = %d, want 0", got)
	}
	if w.Len() != 2 {
		t.Errorf("Len() = %d, want 2", w.Len())
	}
}

func TestRateWindow_OutOfOrderTimestamps(t *testing.T) {
	w := NewRateWindow(10 * time.Second)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	w.Hit("k", base.Add(5*time.Second))
	w.Hit("k", base) // late delivery, still inside window
	if got := w.Count("k", base.Add(12*time.Second)); got != 1 {
		t.Errorf("count = %d, want 1 (only the +5s entry remains)", got)
	}
}

func TestRateWindow_Sweep(t *testing.T) {
	w := NewRateWindow(time.Second)
	base := time.Now()
	w.Hit("a", base)
	w.Hit("b", base.Add(5*time.Second))

	if removed := w.Sweep(base.Add(5 * time.Second)); removed != 1 {
		t.Errorf("Sweep removed %d, want 1", removed)
	}
	if w.Len() != 1 {
		t.Errorf("Len() = %d, want 1", w.Len())
	}
}

func TestRateWindow_Concurrent(t *testing.T) {
	w := NewRateWindow(time.Hour)
	now := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				w.Hit("shared", now)
			}
		}()
	}
	wg.Wait()

	if got := w.Count("shared", now); got != 800 {
		t.Errorf("count = %d, want 800", got)
	}
}
