// Chatwatch - Chat Message Threat Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatwatch

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/chatwatch/internal/models"
)

const defaultAlertLimit = 100

// SaveAlert persists an alert. Metadata is stored as JSON text.
func (s *DuckDBStore) SaveAlert(ctx context.Context, alert *models.Alert) error {
	if alert == nil || alert.ID == "" {
		return fmt.Errorf("%w: alert id is required", ErrPersistence)
	}

	meta, err := json.Marshal(alert.Metadata)
	if err != nil {
		return fmt.Errorf("%w: marshal alert metadata: %w", ErrPersistence, err)
	}

	var resolvedAt sql.NullTime
	if alert.ResolvedAt != nil {
		resolvedAt = sql.NullTime{Time: alert.ResolvedAt.UTC(), Valid: true}
	}

	query := `
		INSERT INTO alerts (id, alert_type, severity, channel_id, message_id, sender,
			description, metadata, resolved, resolved_at, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`
	_, err = s.execWithRetry(ctx, "insert", "alerts", query,
		alert.ID, string(alert.Type), string(alert.Severity), alert.ChannelID, alert.MessageID,
		alert.Sender, alert.Description, string(meta), alert.Resolved, resolvedAt, alert.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("%w: save alert %s: %w", ErrPersistence, alert.ID, err)
	}
	return nil
}

// ListAlerts returns alerts matching filter, newest first.
func (s *DuckDBStore) ListAlerts(ctx context.Context, filter models.AlertFilter) ([]models.Alert, error) {
	var (
		conds []string
		args  []any
	)
	if filter.Severity != "" {
		conds = append(conds, "severity = ?")
		args = append(args, string(filter.Severity))
	}
	if filter.Type != "" {
		conds = append(conds, "alert_type = ?")
		args = append(args, string(filter.Type))
	}
	if filter.ChannelID != "" {
		conds = append(conds, "channel_id = ?")
		args = append(args, filter.ChannelID)
	}
	if filter.Resolved != nil {
		conds = append(conds, "resolved = ?")
		args = append(args, *filter.Resolved)
	}
	if filter.Since != nil {
		conds = append(conds, "ts >= ?")
		args = append(args, filter.Since.UTC())
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultAlertLimit
	}

	query := `
		SELECT id, alert_type, severity, channel_id, message_id, sender, description,
			metadata, resolved, resolved_at, ts
		FROM alerts
	`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY ts DESC LIMIT ?"
	args = append(args, limit)

	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query, args...)
	recordQuery("select", "alerts", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer closeQuietly(rows)

	alerts := make([]models.Alert, 0)
	for rows.Next() {
		var a models.Alert
		if err := scanAlert(rows, &a); err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// ResolveAlert marks an alert resolved. Resolving twice keeps the first
// resolution time.
func (s *DuckDBStore) ResolveAlert(ctx context.Context, id string) error {
	res, err := s.execWithRetry(ctx, "update", "alerts",
		`UPDATE alerts SET resolved = true, resolved_at = COALESCE(resolved_at, ?) WHERE id = ?`,
		s.now().UTC(), id)
	if err != nil {
		return fmt.Errorf("%w: resolve alert %s: %w", ErrPersistence, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: resolve alert %s: %w", ErrPersistence, id, err)
	}
	if n == 0 {
		return fmt.Errorf("alert %s: %w", id, ErrNotFound)
	}
	return nil
}

func scanAlert(scanner interface{ Scan(dest ...any) error }, a *models.Alert) error {
	var (
		alertType, severity  string
		channelID, messageID sql.NullString
		sender, meta         sql.NullString
		resolvedAt           sql.NullTime
	)
	if err := scanner.Scan(&a.ID, &alertType, &severity, &channelID, &messageID, &sender,
		&a.Description, &meta, &a.Resolved, &resolvedAt, &a.Timestamp); err != nil {
		return fmt.Errorf("failed to scan alert: %w", err)
	}
	a.Type = models.AlertType(alertType)
	a.Severity = models.Severity(severity)
	a.ChannelID = channelID.String
	a.MessageID = messageID.String
	a.Sender = sender.String
	a.Timestamp = a.Timestamp.UTC()
	if resolvedAt.Valid {
		t := resolvedAt.Time.UTC()
		a.ResolvedAt = &t
	}
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &a.Metadata); err != nil {
			return fmt.Errorf("failed to decode alert metadata: %w", err)
		}
	}
	return nil
}
