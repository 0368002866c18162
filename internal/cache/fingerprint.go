// Chatwatch - Chat Message Threat Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatwatch

package cache

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint hashes already-normalized content.
func Fingerprint(normalized string) uint64 {
	return xxhash.Sum64String(normalized)
}

// FormatFingerprint renders a fingerprint as fixed-width hex.
func FormatFingerprint(fp uint64) string {
	return fmt.Sprintf("%016x", fp)
}

// FingerprintCache counts occurrences of content fingerprints.
//
// Eviction is frequency-biased and recency-insensitive: when an insert pushes
// the size past capacity, entries are ranked by count (descending) and only
// the top half is kept. Long-lived frequent fingerprints survive; recent rare
// ones are dropped first.
type FingerprintCache struct {
	mu        sync.Mutex
	capacity  int
	counts    map[uint64]int
	evictions atomic.Int64
}

// NewFingerprintCache creates a cache bounded to capacity entries (minimum 2).
func NewFingerprintCache(capacity int) *FingerprintCache {
	if capacity < 2 {
		capacity = 2
	}
	return &FingerprintCache{
		capacity: capacity,
		counts:   make(map[uint64]int, capacity+1),
	}
}

// Increment records one occurrence of fp and returns the count seen before
// this call (0 for a new fingerprint).
func (c *FingerprintCache) Increment(fp uint64) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	prior := c.counts[fp]
	c.counts[fp] = prior + 1

	if len(c.counts) > c.capacity {
		c.evict()
	}
	return prior
}

// Count returns the current count for fp.
func (c *FingerprintCache) Count(fp uint64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[fp]
}

// Len returns the number of fingerprints held.
func (c *FingerprintCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.counts)
}

// Capacity returns the configured bound.
func (c *FingerprintCache) Capacity() int {
	return c.capacity
}

// Evictions returns how many eviction passes have run.
func (c *FingerprintCache) Evictions() int64 {
	return c.evictions.Load()
}

type fpCount struct {
	fp    uint64
	count int
}

// evict keeps the top half of entries by count. Ties break on the
// fingerprint value so the result is deterministic.
// Must be called with lock held.
func (c *FingerprintCache) evict() {
	ranked := make([]fpCount, 0, len(c.counts))
	for fp, n := range c.counts {
		ranked = append(ranked, fpCount{fp: fp, count: n})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].fp < ranked[j].fp
	})

	keep := len(ranked) / 2
	next := make(map[uint64]int, c.capacity+1)
	for _, e := range ranked[:keep] {
		next[e.fp] = e.count
	}
	c.counts = next
	c.evictions.Add(1)
}
