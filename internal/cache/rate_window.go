// Chatwatch - Chat Message Threat Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatwatch

package cache

import (
	"sync"
	"time"
)

// RateWindow tracks recent event timestamps per key.
//
// Unlike a bucketed counter it keeps the exact timestamps, so the count for a
// key is the number of events whose timestamp lies within window of the most
// recent access. Entries are pruned on every Hit and Count.
//
// Example:
//
//	w := cache.NewRateWindow(time.Minute)
//	n := w.Hit("4915123456789@s.whatsapp.net", msg.Timestamp)
//	if n > threshold { ... }
type RateWindow struct {
	mu      sync.Mutex
	window  time.Duration
	entries map[string][]time.Time
}

// NewRateWindow creates a window of the given width. Non-positive widths default to one minute.
func NewRateWindow(window time.Duration) *RateWindow {
	if window <= 0 {
		window = time.Minute
	}
	return &RateWindow{
		window:  window,
		entries: make(map[string][]time.Time),
	}
}

// Window returns the configured width.
func (w *RateWindow) Window() time.Duration {
	return w.window
}

// Hit records ts for key, prunes entries older than the window relative to ts
// and returns the number of retained entries including this one.
func (w *RateWindow) Hit(key string, ts time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	list := append(w.entries[key], ts)
	list = w.prune(list, ts)
	w.entries[key] = list
	return len(list)
}

// Count prunes key relative to now and returns the retained count.
func (w *RateWindow) Count(key string, now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	list, ok := w.entries[key]
	if !ok {
		return 0
	}
	list = w.prune(list, now)
	if len(list) == 0 {
		delete(w.entries, key)
		return 0
	}
	w.entries[key] = list
	return len(list)
}

// Len returns the number of tracked keys.
func (w *RateWindow) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}

// Sweep prunes every key relative to now and drops keys left empty.
// It returns the number of keys removed.
func (w *RateWindow) Sweep(now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	removed := 0
	for key, list := range w.entries {
		list = w.prune(list, now)
		if len(list) == 0 {
			delete(w.entries, key)
			removed++
			continue
		}
		w.entries[key] = list
	}
	return removed
}

// prune keeps timestamps t with now-t <= window. Timestamps are not assumed
// sorted since transports may deliver slightly out of order.
// Must be called with lock held.
func (w *RateWindow) prune(list []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-w.window)
	kept := list[:0]
	for _, t := range list {
		if !t.Before(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}
