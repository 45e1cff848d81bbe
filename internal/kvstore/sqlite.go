// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package kvstore

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// DefaultPollInterval is how often a SQLite store checks for commits made by
// other connections while something is being watched.
const DefaultPollInterval = 500 * time.Millisecond

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS kv (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at INTEGER NOT NULL -- Unix millis
) WITHOUT ROWID;
`

// =============================================================================
// SQLITE STORE
// =============================================================================

// SQLite keeps all keys in one table. Change detection polls
// PRAGMA data_version, which only moves when another connection commits, so
// this handle's own writes never show up as external changes.
type SQLite struct {
	db       *sql.DB
	path     string
	logger   *zap.Logger
	interval time.Duration

	watchers *registry

	mu          sync.Mutex
	known       map[string]*string
	dataVersion int64
	done        chan struct{}
	wg          sync.WaitGroup
	closed      bool
}

// SQLiteOption configures a SQLite store.
type SQLiteOption func(*SQLite)

// WithSQLiteLogger sets the logger used for poll errors.
func WithSQLiteLogger(l *zap.Logger) SQLiteOption {
	return func(s *SQLite) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithPollInterval overrides DefaultPollInterval.
func WithPollInterval(d time.Duration) SQLiteOption {
	return func(s *SQLite) {
		if d > 0 {
			s.interval = d
		}
	}
}

// NewSQLite opens (or creates) a SQLite-backed store at path.
func NewSQLite(path string, opts ...SQLiteOption) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: data_version is per connection, and it keeps writes
	// from this handle serialized.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", p, err)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	s := &SQLite{
		db:       db,
		path:     path,
		logger:   zap.NewNop(),
		interval: DefaultPollInterval,
		watchers: newRegistry(),
		known:    make(map[string]*string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Path returns the database file path.
func (s *SQLite) Path() string {
	return s.path
}

// Get implements Store.
func (s *SQLite) Get(key string) (string, bool, error) {
	if key == "" {
		return "", false, ErrInvalidKey
	}
	if s.isClosed() {
		return "", false, ErrClosed
	}
	v, err := s.read(key)
	if err != nil {
		return "", false, err
	}
	if v == nil {
		return "", false, nil
	}
	return *v, true, nil
}

func (s *SQLite) read(key string) (*string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %q: %w", key, err)
	}
	return &value, nil
}

// Set implements Store.
func (s *SQLite) Set(key, value string) error {
	if key == "" {
		return ErrInvalidKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	_, err := s.db.Exec(
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to write %q: %w", key, err)
	}
	v := value
	s.known[key] = &v
	return nil
}

// Delete implements Store.
func (s *SQLite) Delete(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, err := s.db.Exec(`DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete %q: %w", key, err)
	}
	s.known[key] = nil
	return nil
}

// Watch implements Store. Polling starts on the first call.
func (s *SQLite) Watch(key string, fn WatchFunc) func() {
	cancel := s.watchers.add(key, fn)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return cancel
	}
	if _, seen := s.known[key]; !seen {
		v, err := s.read(key)
		if err != nil {
			s.logger.Warn("kvstore baseline read failed", zap.String("key", key), zap.Error(err))
		}
		s.known[key] = v
	}
	if s.done == nil {
		version, err := s.readDataVersion()
		if err != nil {
			s.logger.Warn("kvstore data_version unavailable", zap.Error(err))
		}
		s.dataVersion = version
		s.done = make(chan struct{})
		s.wg.Add(1)
		go s.poll(s.done)
	}
	return cancel
}

func (s *SQLite) readDataVersion() (int64, error) {
	var v int64
	if err := s.db.QueryRow(`PRAGMA data_version`).Scan(&v); err != nil {
		return 0, err
	}
	return v, nil
}

// poll checks data_version on every tick and re-reads watched keys when
// another connection has committed.
func (s *SQLite) poll(done <-chan struct{}) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s.checkForChanges()
		}
	}
}

func (s *SQLite) checkForChanges() {
	version, err := s.readDataVersion()
	if err != nil {
		s.logger.Warn("kvstore poll failed", zap.Error(err))
		return
	}

	s.mu.Lock()
	if s.closed || version == s.dataVersion {
		s.mu.Unlock()
		return
	}
	s.dataVersion = version
	s.mu.Unlock()

	for _, key := range s.watchers.keys() {
		cur, err := s.read(key)
		if err != nil {
			s.logger.Warn("kvstore read failed", zap.String("key", key), zap.Error(err))
			continue
		}

		s.mu.Lock()
		prev := s.known[key]
		changed := !sameValue(prev, cur)
		if changed {
			s.known[key] = cur
		}
		s.mu.Unlock()

		if !changed {
			continue
		}
		s.logger.Debug("kvstore external change", zap.String("key", key), zap.Bool("present", cur != nil))
		if cur == nil {
			s.watchers.notify(key, "", false)
		} else {
			s.watchers.notify(key, *cur, true)
		}
	}
}

// Close implements Store. It stops polling and closes the database.
func (s *SQLite) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	done := s.done
	s.mu.Unlock()

	if done != nil {
		close(done)
		s.wg.Wait()
	}
	return s.db.Close()
}

func (s *SQLite) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
