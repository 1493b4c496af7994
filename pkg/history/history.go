package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	source      TEXT NOT NULL,
	input_type  TEXT NOT NULL,
	status      TEXT NOT NULL,
	output_path TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT '',
	units       INTEGER NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS runs_created_at_idx ON runs (created_at);
`

const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// Run is one row of the run history.
type Run struct {
	ID         int64
	Source     string
	InputType  string
	Status     string
	OutputPath string
	Error      string
	Units      int
	Duration   time.Duration
	CreatedAt  time.Time
}

// Store keeps one row per extraction run in a local sqlite database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the history database at path and ensures
// the schema exists.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("history: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("history: %s: %w", p, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: ensure schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Record inserts one run. A zero CreatedAt is filled with the current
// time.
func (s *Store) Record(run Run) error {
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.Exec(`
		INSERT INTO runs (source, input_type, status, output_path, error, units, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.Source,
		run.InputType,
		run.Status,
		run.OutputPath,
		run.Error,
		run.Units,
		run.Duration.Milliseconds(),
		run.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("history: record run: %w", err)
	}

	return nil
}

// Recent returns up to limit runs, newest first.
func (s *Store) Recent(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.Query(`
		SELECT id, source, input_type, status, output_path, error, units, duration_ms, created_at
		FROM runs
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run        Run
			durationMS int64
			createdAt  string
		)
		if err := rows.Scan(
			&run.ID,
			&run.Source,
			&run.InputType,
			&run.Status,
			&run.OutputPath,
			&run.Error,
			&run.Units,
			&durationMS,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("history: scan run: %w", err)
		}
		run.Duration = time.Duration(durationMS) * time.Millisecond
		if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
			run.CreatedAt = t
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: scan runs: %w", err)
	}

	return runs, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
