// Chatwatch - Chat Message Threat Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatwatch

package cache

import (
	"fmt"
	"sort"
	"testing"
)

func TestFingerprintCache_IncrementReturnsPrior(t *testing.T) {
	c := NewFingerprintCache(10)
	fp := Fingerprint("hello world")

	for want := 0; want < 4; want++ {
		if got := c.Increment(fp); got != want {
			t.Fatalf("Increment #%d returned %d, want %d", want+1, got, want)
		}
	}
	if c.Count(fp) != 4 {
		t.Errorf("Count = %d, want 4", c.Count(fp))
	}
}

func TestFingerprint_Stable(t *testing.T) {
	if Fingerprint("hello world") != Fingerprint("hello world") {
		t.Fatal("fingerprint is not deterministic")
	}
	if Fingerprint("hello world") == Fingerprint("hello  world") {
		t.Fatal("fingerprint should hash the exact normalized input")
	}
	if got := FormatFingerprint(0xabc); got != "0000000000000abc" {
		t.Errorf("FormatFingerprint = %q", got)
	}
}

// TestFingerprintCache_EvictionKeepsFrequentHalf inserts 150 distinct
// fingerprints into a cache of capacity 100 and checks the state right after
// the insert that triggers the eviction pass.
func TestFingerprintCache_EvictionKeepsFrequentHalf(t *testing.T) {
	c := NewFingerprintCache(100)

	// Give the first 100 fingerprints varied counts so ranking matters.
	for i := 0; i < 100; i++ {
		fp := Fingerprint(fmt.Sprintf("msg-%d", i))
		for n := 0; n <= i%7; n++ {
			c.Increment(fp)
		}
	}
	if c.Evictions() != 0 {
		t.Fatalf("no eviction expected at capacity, got %d", c.Evictions())
	}

	// Snapshot the pre-eviction distribution including the triggering insert.
	pre := make([]int, 0, 101)
	c.mu.Lock()
	for _, n := range c.counts {
		pre = append(pre, n)
	}
	c.mu.Unlock()
	pre = append(pre, 1)
	sort.Ints(pre)
	median := pre[len(pre)/2]

	c.Increment(Fingerprint("msg-100"))

	if c.Evictions() != 1 {
		t.Fatalf("Evictions = %d, want 1", c.Evictions())
	}
	if c.Len() > 50 {
		t.Fatalf("size after eviction = %d, want <= 50", c.Len())
	}
	c.mu.Lock()
	for fp, n := range c.counts {
		if n < median {
			t.Errorf("retained %x with count %d below median %d", fp, n, median)
		}
	}
	c.mu.Unlock()

	for i := 101; i < 150; i++ {
		c.Increment(Fingerprint(fmt.Sprintf("msg-%d", i)))
	}
	if c.Len() > c.Capacity() {
		t.Errorf("size %d exceeds capacity %d", c.Len(), c.Capacity())
	}
}

func TestFingerprintCache_NeverExceedsCapacity(t *testing.T) {
	c := NewFingerprintCache(8)
	for i := 0; i < 1000; i++ {
		c.Increment(uint64(i))
		if c.Len() > 8 {
			t.Fatalf("size %d exceeds capacity after insert %d", c.Len(), i)
		}
	}
}
