// Chatwatch - Chat Message Threat Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatwatch

/*
Package cache provides the in-memory data structures used by threat analysis
and the dashboard API.

# Structures

  - RateWindow: per-key timestamp lists pruned to a sliding window on every access
  - FingerprintCache: content-hash occurrence counts with frequency-biased eviction
  - KeywordMatcher: Aho-Corasick automaton for multi-keyword search in one pass
  - TTL: small expiring cache for dashboard responses

# Thread Safety

All structures are safe for concurrent use. The analyzer still serializes its
own access through the ingestion queue's single-run guard, so the locks are
uncontended on the hot path.
*/
package cache
