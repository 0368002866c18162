// Chatwatch - Chat Message Threat Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatwatch

// Package store persists messages, alerts, channel subscriptions and metric
// samples in DuckDB.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/tomtom215/chatwatch/internal/models"
)

var (
	// ErrPersistence wraps every failed write. The pipeline drops the item
	// from downstream alerting and continues the batch.
	ErrPersistence = errors.New("persistence failed")

	// ErrNotFound is returned when an addressed row does not exist.
	ErrNotFound = errors.New("not found")
)

// Store is the persistence contract used by the pipeline and dashboard.
type Store interface {
	SaveMessage(ctx context.Context, msg *models.NormalizedMessage) error
	SaveAlert(ctx context.Context, alert *models.Alert) error
	GetActiveChannels(ctx context.Context) (map[string]struct{}, error)
	RecordMetric(ctx context.Context, name string, value float64, at time.Time) error

	RecentMessages(ctx context.Context, channelID string, limit int) ([]models.NormalizedMessage, error)
	ListAlerts(ctx context.Context, filter models.AlertFilter) ([]models.Alert, error)
	ResolveAlert(ctx context.Context, id string) error
	GetStats(ctx context.Context) (*models.SystemStats, error)
	UpsertChannel(ctx context.Context, sub models.ChannelSubscription) error
	ListChannels(ctx context.Context) ([]models.ChannelSubscription, error)
	Ping(ctx context.Context) error
	Close() error
}

var _ Store = (*DuckDBStore)(nil)
