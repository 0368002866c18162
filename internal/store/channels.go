// Chatwatch - Chat Message Threat Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatwatch

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tomtom215/chatwatch/internal/models"
)

// GetActiveChannels returns the ids of channels currently monitored.
func (s *DuckDBStore) GetActiveChannels(ctx context.Context) (map[string]struct{}, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, `SELECT channel_id FROM channels WHERE active = true`)
	recordQuery("select", "channels", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to query active channels: %w", err)
	}
	defer closeQuietly(rows)

	active := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan channel: %w", err)
		}
		active[id] = struct{}{}
	}
	return active, rows.Err()
}

// UpsertChannel inserts or updates a subscription.
func (s *DuckDBStore) UpsertChannel(ctx context.Context, sub models.ChannelSubscription) error {
	if sub.ChannelID == "" {
		return fmt.Errorf("%w: channel id is required", ErrPersistence)
	}
	updated := sub.UpdatedAt
	if updated.IsZero() {
		updated = s.now()
	}

	query := `
		INSERT INTO channels (channel_id, name, active, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (channel_id) DO UPDATE SET
			name = EXCLUDED.name,
			active = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at
	`
	if _, err := s.execWithRetry(ctx, "upsert", "channels", query,
		sub.ChannelID, sub.Name, sub.Active, updated.UTC()); err != nil {
		return fmt.Errorf("%w: upsert channel %s: %w", ErrPersistence, sub.ChannelID, err)
	}
	return nil
}

// ListChannels returns every subscription ordered by id.
func (s *DuckDBStore) ListChannels(ctx context.Context) ([]models.ChannelSubscription, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx,
		`SELECT channel_id, name, active, updated_at FROM channels ORDER BY channel_id`)
	recordQuery("select", "channels", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to query channels: %w", err)
	}
	defer closeQuietly(rows)

	subs := make([]models.ChannelSubscription, 0)
	for rows.Next() {
		var (
			sub  models.ChannelSubscription
			name sql.NullString
		)
		if err := rows.Scan(&sub.ChannelID, &name, &sub.Active, &sub.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan channel: %w", err)
		}
		sub.Name = name.String
		sub.UpdatedAt = sub.UpdatedAt.UTC()
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}
