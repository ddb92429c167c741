// Package journal persists a history of tool calls backed by SQLite. The
// daemon records every call outcome; the status surface aggregates them.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"skilld/internal/config"
)

// Call outcomes recorded in the journal.
const (
	OutcomeOK              = "ok"
	OutcomeToolError       = "tool_error"
	OutcomeTimeout         = "timeout"
	OutcomeTransportClosed = "transport_closed"
)

// Entry is one recorded tool call.
type Entry struct {
	ID        int64
	Tool      string
	StartedAt time.Time
	Duration  time.Duration
	Outcome   string
	Detail    string
}

// Stats aggregates the journal for the status surface.
type Stats struct {
	TotalCalls int64
	Failures   int64
	LastCallAt time.Time
}

// Store manages call history persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the journal database and applies
// migrations.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := cfg.JournalPath()
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.applyMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Record appends one call to the journal.
func (s *Store) Record(ctx context.Context, tool string, startedAt time.Time, duration time.Duration, outcome, detail string) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO calls (tool, started_at, duration_ms, outcome, detail)
         VALUES (?, ?, ?, ?, ?)`,
		tool,
		startedAt.UTC().Format(time.RFC3339Nano),
		duration.Milliseconds(),
		outcome,
		detail,
	)
	if err != nil {
		return fmt.Errorf("record call: %w", err)
	}
	return nil
}

// Stats aggregates totals across the whole journal.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	var last sql.NullString
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1),
                COALESCE(SUM(CASE WHEN outcome != ? THEN 1 ELSE 0 END), 0),
                MAX(started_at)
         FROM calls`, OutcomeOK)
	if err := row.Scan(&stats.TotalCalls, &stats.Failures, &last); err != nil {
		return Stats{}, fmt.Errorf("aggregate journal: %w", err)
	}
	if last.Valid {
		parsed, err := time.Parse(time.RFC3339Nano, last.String)
		if err != nil {
			return Stats{}, fmt.Errorf("parse last call time: %w", err)
		}
		stats.LastCallAt = parsed
	}
	return stats, nil
}

// Recent returns the most recent calls, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tool, started_at, duration_ms, outcome, detail
         FROM calls ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent calls: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var entry Entry
		var startedAt string
		var durationMs int64
		if err := rows.Scan(&entry.ID, &entry.Tool, &startedAt, &durationMs, &entry.Outcome, &entry.Detail); err != nil {
			return nil, fmt.Errorf("scan call row: %w", err)
		}
		parsed, err := time.Parse(time.RFC3339Nano, startedAt)
		if err != nil {
			return nil, fmt.Errorf("parse call time: %w", err)
		}
		entry.StartedAt = parsed
		entry.Duration = time.Duration(durationMs) * time.Millisecond
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
