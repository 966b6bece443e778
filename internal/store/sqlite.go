// Package store persists terminal request outcomes so operators can see
// what the daemon fetched, served from cache, or failed across restarts.
// In-flight state stays in memory; only terminal transitions are written.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Record is one terminal request outcome.
type Record struct {
	ID          int64     `json:"id"`
	RequestID   string    `json:"request_id"`
	Requester   string    `json:"requester"`
	URL         string    `json:"url"`
	Profile     string    `json:"profile"`
	Kind        string    `json:"kind"` // video|audio
	CacheKey    string    `json:"cache_key"`
	Status      string    `json:"status"` // completed|cached|cancelled|failed
	SizeBytes   int64     `json:"size_bytes"`
	DurationSec int64     `json:"duration_sec"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store wraps an sql.DB and provides typed helpers.
type Store struct {
	db *sql.DB
}

// Open opens or creates a SQLite database at the given path and ensures schema.
func Open(path string) (*Store, error) {
	// Pragmas: busy timeout and WAL for better concurrency.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// Conservative limits.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func initSchema(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS request_history (
    id INTEGER PRIMARY KEY,
    request_id TEXT NOT NULL,
    requester TEXT NOT NULL,
    url TEXT NOT NULL,
    profile TEXT NOT NULL,
    kind TEXT NOT NULL DEFAULT 'video',
    cache_key TEXT NOT NULL,
    status TEXT NOT NULL,
    size_bytes INTEGER NOT NULL DEFAULT 0,
    duration_sec INTEGER NOT NULL DEFAULT 0,
    error_message TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_history_status ON request_history(status);
CREATE INDEX IF NOT EXISTS idx_history_created_at ON request_history(created_at);
CREATE INDEX IF NOT EXISTS idx_history_cache_key ON request_history(cache_key);
`
	_, err := db.Exec(ddl)
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordOutcome inserts one terminal outcome row and returns its ID.
func (s *Store) RecordOutcome(ctx context.Context, rec Record) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO request_history (request_id, requester, url, profile, kind, cache_key, status, size_bytes, duration_sec, error_message)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RequestID, rec.Requester, rec.URL, rec.Profile, rec.Kind, rec.CacheKey, rec.Status, rec.SizeBytes, rec.DurationSec, rec.Error)
	if err != nil {
		return 0, fmt.Errorf("insert outcome: %w", err)
	}
	return res.LastInsertId()
}

// ListRecent returns the newest terminal outcomes, most recent first.
// limit <= 0 defaults to 50.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, request_id, requester, url, profile, kind, cache_key, status, size_bytes, duration_sec, COALESCE(error_message, ''), created_at
		 FROM request_history ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.RequestID, &rec.Requester, &rec.URL, &rec.Profile, &rec.Kind,
			&rec.CacheKey, &rec.Status, &rec.SizeBytes, &rec.DurationSec, &rec.Error, &rec.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CountByStatus aggregates outcome counts for reporting.
func (s *Store) CountByStatus(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM request_history GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count history: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}
