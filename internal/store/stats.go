// Chatwatch - Chat Message Threat Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatwatch

package store

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/tomtom215/chatwatch/internal/metrics"
	"github.com/tomtom215/chatwatch/internal/models"
)

const topChannelLimit = 5

// RecordMetric appends a metric sample. Satisfies metrics.Persister.
func (s *DuckDBStore) RecordMetric(ctx context.Context, name string, value float64, at time.Time) error {
	if _, err := s.execWithRetry(ctx, "insert", "metric_samples",
		`INSERT INTO metric_samples (name, value, recorded_at) VALUES (?, ?, ?)`,
		name, value, at.UTC()); err != nil {
		return fmt.Errorf("%w: record metric %s: %w", ErrPersistence, name, err)
	}
	return nil
}

// PruneMetrics deletes samples older than cutoff.
func (s *DuckDBStore) PruneMetrics(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.execWithRetry(ctx, "delete", "metric_samples",
		`DELETE FROM metric_samples WHERE recorded_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("%w: prune metrics: %w", ErrPersistence, err)
	}
	return res.RowsAffected()
}

// GetStats builds the dashboard summary.
func (s *DuckDBStore) GetStats(ctx context.Context) (*models.SystemStats, error) {
	now := s.now().UTC()
	stats := &models.SystemStats{
		TopChannels:      make([]models.ChannelCount, 0, topChannelLimit),
		AlertsBySeverity: make(map[models.Severity]int64),
		GeneratedAt:      now,
	}

	start := time.Now()
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM messages),
			(SELECT COUNT(*) FROM messages WHERE ts >= ?),
			(SELECT COUNT(*) FROM alerts),
			(SELECT COUNT(*) FROM alerts WHERE resolved = false),
			(SELECT COUNT(*) FROM channels WHERE active = true)
	`, now.Add(-24*time.Hour)).Scan(
		&stats.TotalMessages, &stats.MessagesLast24h,
		&stats.TotalAlerts, &stats.UnresolvedAlerts, &stats.ActiveChannels)
	recordQuery("select", "stats", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to query totals: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT channel_id, COUNT(*) AS n
		FROM messages
		GROUP BY channel_id
		ORDER BY n DESC, channel_id
		LIMIT ?
	`, topChannelLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top channels: %w", err)
	}
	for rows.Next() {
		var cc models.ChannelCount
		if err := rows.Scan(&cc.ChannelID, &cc.Messages); err != nil {
			closeQuietly(rows)
			return nil, fmt.Errorf("failed to scan top channel: %w", err)
		}
		stats.TopChannels = append(stats.TopChannels, cc)
	}
	closeQuietly(rows)
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, `SELECT severity, COUNT(*) FROM alerts GROUP BY severity`)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts by severity: %w", err)
	}
	defer closeQuietly(rows)
	for rows.Next() {
		var (
			sev string
			n   int64
		)
		if err := rows.Scan(&sev, &n); err != nil {
			return nil, fmt.Errorf("failed to scan severity count: %w", err)
		}
		stats.AlertsBySeverity[models.Severity(sev)] = n
	}
	return stats, rows.Err()
}

func recordQuery(op, table string, start time.Time, err error) {
	metrics.RecordDBQuery(op, table, time.Since(start), err)
}

// closeQuietly closes c and discards the error.
// For read-only rows, close errors carry nothing actionable.
func closeQuietly(c io.Closer) {
	_ = c.Close()
}
