// Chatwatch - Chat Message Threat Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatwatch

// Package credentials persists transport session credentials in Badger.
//
// The bridge rotates its credential blob on every key update; each rotation
// overwrites the previous value under creds:<session>. The blob is opaque to
// chatwatch.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/chatwatch/internal/logging"
	"github.com/tomtom215/chatwatch/internal/metrics"
)

const keyPrefix = "creds:"

var (
	// ErrCredentialPersist is returned when a rotation could not be written.
	// Callers log it and keep the session running.
	ErrCredentialPersist = errors.New("credential persist failed")

	// ErrNoCredentials is returned by Load when nothing is stored yet.
	ErrNoCredentials = errors.New("no stored credentials")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("credential store is closed")
)

// Config controls where credentials are kept.
type Config struct {
	Path       string
	InMemory   bool
	SyncWrites bool
}

// record is the stored envelope around the opaque blob.
type record struct {
	Session   string          `json:"session"`
	Blob      json.RawMessage `json:"blob"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Store is a Badger-backed credential store.
type Store struct {
	db     *badger.DB
	mu     sync.RWMutex
	closed bool
	now    func() time.Time
}

// Open opens (or creates) the credential store.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, fmt.Errorf("credentials path is required")
	}

	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.SyncWrites = cfg.SyncWrites
	// Credential blobs are tiny.
	opts.MemTableSize = 8 << 20
	opts.ValueLogFileSize = 16 << 20
	opts.NumCompactors = 2

	// Reduce logging verbosity
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}

	logging.Info().Str("path", cfg.Path).Bool("in_memory", cfg.InMemory).Msg("credential store opened")
	return &Store{db: db, now: time.Now}, nil
}

// Save overwrites the blob for session.
func (s *Store) Save(ctx context.Context, session string, blob []byte) error {
	if err := s.checkOpen(); err != nil {
		return fmt.Errorf("%w: %w", ErrCredentialPersist, err)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCredentialPersist, err)
	}
	if !json.Valid(blob) {
		metrics.CredentialErrors.Inc()
		return fmt.Errorf("%w: credential blob is not valid JSON", ErrCredentialPersist)
	}

	data, err := json.Marshal(record{Session: session, Blob: blob, UpdatedAt: s.now().UTC()})
	if err != nil {
		metrics.CredentialErrors.Inc()
		return fmt.Errorf("%w: marshal: %w", ErrCredentialPersist, err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(session), data)
	})
	if err != nil {
		metrics.CredentialErrors.Inc()
		return fmt.Errorf("%w: %w", ErrCredentialPersist, err)
	}

	logging.Debug().Str("session", session).Int("bytes", len(blob)).Msg("credentials rotated")
	return nil
}

// Load returns the stored blob for session, or ErrNoCredentials.
func (s *Store) Load(ctx context.Context, session string) ([]byte, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rec record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(session))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNoCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	return rec.Blob, nil
}

// UpdatedAt reports when session's credentials were last rotated.
func (s *Store) UpdatedAt(ctx context.Context, session string) (time.Time, error) {
	if err := s.checkOpen(); err != nil {
		return time.Time{}, err
	}
	var rec record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(session))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return time.Time{}, ErrNoCredentials
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("load credentials: %w", err)
	}
	return rec.UpdatedAt, nil
}

// Reset deletes stored credentials so the next connect starts pairing.
func (s *Store) Reset(ctx context.Context, session string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(session))
	})
	if err != nil {
		return fmt.Errorf("reset credentials: %w", err)
	}
	logging.Info().Str("session", session).Msg("credentials reset")
	return nil
}

// Sessions lists sessions with stored credentials.
func (s *Store) Sessions() ([]string, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	var out []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			out = append(out, string(it.Item().Key()[len(keyPrefix):]))
		}
		return nil
	})
	return out, err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func key(session string) []byte {
	return []byte(keyPrefix + session)
}
