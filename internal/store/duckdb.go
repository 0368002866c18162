// Chatwatch - Chat Message Threat Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatwatch

package store

import (
	"context"
	"database/sql"
	"fmt"
	"runtime"
	"strings"
	"time"

	_ "github.com/duckdb/duckdb-go/v2" // register the duckdb driver

	"github.com/tomtom215/chatwatch/internal/logging"
	"github.com/tomtom215/chatwatch/internal/metrics"
)

// Config holds connection settings.
type Config struct {
	Path      string // "" or ":memory:" for an in-memory database
	MaxMemory string
	Threads   int
}

// DuckDBStore implements Store on DuckDB.
type DuckDBStore struct {
	db  *sql.DB
	now func() time.Time
}

// Open connects to DuckDB, tunes the pool and creates the schema.
func Open(ctx context.Context, cfg Config) (*DuckDBStore, error) {
	threads := cfg.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	maxMemory := cfg.MaxMemory
	if maxMemory == "" {
		maxMemory = "1GB"
	}
	path := cfg.Path
	if path == ":memory:" {
		path = ""
	}

	// Disable auto-install/auto-load so startup never reaches for the network.
	connStr := fmt.Sprintf("%s?threads=%d&max_memory=%s&autoinstall_known_extensions=false&autoload_known_extensions=false",
		path, threads, maxMemory)

	db, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(runtime.NumCPU())
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(5 * time.Minute)

	s := NewDuckDBStore(db)
	if err := s.InitSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	logging.Info().Str("path", displayPath(cfg.Path)).Int("threads", threads).Str("max_memory", maxMemory).Msg("database opened")
	return s, nil
}

// NewDuckDBStore wraps an open handle. Call InitSchema before use.
func NewDuckDBStore(db *sql.DB) *DuckDBStore {
	return &DuckDBStore{db: db, now: time.Now}
}

// DB exposes the handle for tests and maintenance.
func (s *DuckDBStore) DB() *sql.DB {
	return s.db
}

// Ping checks connectivity.
func (s *DuckDBStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *DuckDBStore) Close() error {
	return s.db.Close()
}

// InitSchema creates tables and indexes if they don't exist.
func (s *DuckDBStore) InitSchema(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			sender TEXT NOT NULL,
			sender_name TEXT,
			channel_id TEXT NOT NULL,
			direction TEXT NOT NULL,
			content TEXT,
			media_kind TEXT NOT NULL,
			media TEXT,
			risk_score DOUBLE DEFAULT 0,
			ts TIMESTAMP NOT NULL,
			created_at TIMESTAMP DEFAULT current_timestamp
		)`,

		`CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			alert_type TEXT NOT NULL,
			severity TEXT NOT NULL,
			channel_id TEXT,
			message_id TEXT,
			sender TEXT,
			description TEXT NOT NULL,
			metadata TEXT,
			resolved BOOLEAN DEFAULT false,
			resolved_at TIMESTAMP,
			ts TIMESTAMP NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS channels (
			channel_id TEXT PRIMARY KEY,
			name TEXT,
			active BOOLEAN NOT NULL DEFAULT true,
			updated_at TIMESTAMP NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS metric_samples (
			name TEXT NOT NULL,
			value DOUBLE NOT NULL,
			recorded_at TIMESTAMP NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_messages_channel ON messages(channel_id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_ts ON messages(ts)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_ts ON alerts(ts)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_severity ON alerts(severity)`,
		`CREATE INDEX IF NOT EXISTS idx_metric_samples_name ON metric_samples(name, recorded_at)`,
	}

	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("%w: init schema: %w", ErrPersistence, err)
		}
	}
	return nil
}

// execWithRetry retries transaction conflicts, which DuckDB reports when
// concurrent writers touch the same rows.
func (s *DuckDBStore) execWithRetry(ctx context.Context, op, table, query string, args ...any) (sql.Result, error) {
	const maxAttempts = 3

	var (
		res sql.Result
		err error
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		start := time.Now()
		res, err = s.db.ExecContext(ctx, query, args...)
		metrics.RecordDBQuery(op, table, time.Since(start), err)
		if err == nil || !isTransactionConflict(err) {
			return res, err
		}
		logging.Debug().Err(err).Str("table", table).Int("attempt", attempt).Msg("transaction conflict, retrying")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * 10 * time.Millisecond):
		}
	}
	return res, err
}

func isTransactionConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "Transaction conflict") ||
		strings.Contains(msg, "Conflict on update")
}

func displayPath(p string) string {
	if p == "" || p == ":memory:" {
		return ":memory:"
	}
	return p
}
