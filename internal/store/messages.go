// Chatwatch - Chat Message Threat Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatwatch

package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/tomtom215/chatwatch/internal/models"
)

// SaveMessage inserts msg. Saving the same id twice is a no-op.
func (s *DuckDBStore) SaveMessage(ctx context.Context, msg *models.NormalizedMessage) error {
	if msg == nil || msg.ID == "" {
		return fmt.Errorf("%w: message id is required", ErrPersistence)
	}

	var media sql.NullString
	if msg.Media != nil {
		b, err := json.Marshal(msg.Media)
		if err != nil {
			return fmt.Errorf("%w: marshal media: %w", ErrPersistence, err)
		}
		media = sql.NullString{String: string(b), Valid: true}
	}

	query := `
		INSERT INTO messages (id, sender, sender_name, channel_id, direction, content,
			media_kind, media, risk_score, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := s.execWithRetry(ctx, "insert", "messages", query,
		msg.ID, msg.Sender, msg.SenderName, msg.ChannelID, string(msg.Direction), msg.Content,
		string(msg.MediaKind), media, msg.RiskScore, msg.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("%w: save message %s: %w", ErrPersistence, msg.ID, err)
	}
	return nil
}

// RecentMessages returns the newest messages, optionally for one channel.
func (s *DuckDBStore) RecentMessages(ctx context.Context, channelID string, limit int) ([]models.NormalizedMessage, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := `
		SELECT id, sender, sender_name, channel_id, direction, content, media_kind, media, risk_score, ts
		FROM messages
	`
	args := []any{}
	if channelID != "" {
		query += " WHERE channel_id = ?"
		args = append(args, channelID)
	}
	query += " ORDER BY ts DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer closeQuietly(rows)

	var out []models.NormalizedMessage
	for rows.Next() {
		var m models.NormalizedMessage
		if err := scanMessage(rows, &m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanMessage(scanner interface{ Scan(dest ...any) error }, m *models.NormalizedMessage) error {
	var (
		senderName, content, media sql.NullString
		direction, kind            string
		risk                       float64
	)
	if err := scanner.Scan(&m.ID, &m.Sender, &senderName, &m.ChannelID, &direction, &content,
		&kind, &media, &risk, &m.Timestamp); err != nil {
		return fmt.Errorf("failed to scan message: %w", err)
	}
	m.SenderName = senderName.String
	m.Content = content.String
	m.Direction = models.Direction(direction)
	m.MediaKind = models.MediaKind(kind)
	m.Timestamp = m.Timestamp.UTC()
	m.SetRiskScore(risk)
	if media.Valid && media.String != "" {
		var meta models.MediaMetadata
		if err := json.Unmarshal([]byte(media.String), &meta); err != nil {
			return fmt.Errorf("failed to decode media metadata: %w", err)
		}
		m.Media = &meta
	}
	return nil
}
