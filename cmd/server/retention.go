// Chatwatch - Chat Message Threat Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatwatch

package main

import (
	"context"
	"time"

	"github.com/tomtom215/chatwatch/internal/logging"
)

// metricPruner is the part of the store that retention needs.
type metricPruner interface {
	PruneMetrics(ctx context.Context, cutoff time.Time) (int64, error)
}

// metricRetention deletes persisted metric samples older than retention.
type metricRetention struct {
	store     metricPruner
	interval  time.Duration
	retention time.Duration
	now       func() time.Time
}

func newMetricRetention(store metricPruner, interval, retention time.Duration) *metricRetention {
	return &metricRetention{store: store, interval: interval, retention: retention, now: time.Now}
}

// Run prunes once per interval until ctx is done.
func (m *metricRetention) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.prune(ctx)
		}
	}
}

func (m *metricRetention) prune(ctx context.Context) {
	cutoff := m.now().Add(-m.retention)
	n, err := m.store.PruneMetrics(ctx, cutoff)
	if err != nil {
		logging.Warn().Err(err).Msg("metric retention failed")
		return
	}
	if n > 0 {
		logging.Debug().Int64("rows", n).Time("cutoff", cutoff).Msg("pruned persisted metrics")
	}
}
