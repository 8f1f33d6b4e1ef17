// Package history records one row per iteration in a SQLite database.
// The controller writes it; the status command and post-trip postmortems
// read it.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS iterations (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id      TEXT NOT NULL,
	iteration   INTEGER NOT NULL,
	task_id     TEXT NOT NULL,
	status      TEXT NOT NULL,
	fingerprint TEXT NOT NULL DEFAULT '',
	duration_ms INTEGER NOT NULL DEFAULT 0,
	started_at  TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_iterations_run ON iterations(run_id, iteration);
`

// Iteration is one recorded iteration outcome.
type Iteration struct {
	ID          int64
	RunID       string
	Iteration   int
	TaskID      string
	Status      string
	Fingerprint string
	Duration    time.Duration
	StartedAt   time.Time
}

// Store manages the iteration history database.
type Store struct {
	db *sql.DB
}

// NewStore opens (creating if necessary) the history database at dbPath.
func NewStore(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure history database: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialise history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record inserts one iteration row.
func (s *Store) Record(it Iteration) error {
	_, err := s.db.Exec(
		`INSERT INTO iterations (run_id, iteration, task_id, status, fingerprint, duration_ms, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		it.RunID, it.Iteration, it.TaskID, it.Status, it.Fingerprint,
		it.Duration.Milliseconds(), it.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("record iteration: %w", err)
	}
	return nil
}

// Recent returns the most recent n iterations, newest first.
func (s *Store) Recent(n int) ([]Iteration, error) {
	rows, err := s.db.Query(
		`SELECT id, run_id, iteration, task_id, status, fingerprint, duration_ms, started_at
		 FROM iterations ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query iterations: %w", err)
	}
	defer rows.Close()

	var out []Iteration
	for rows.Next() {
		var it Iteration
		var ms int64
		if err := rows.Scan(&it.ID, &it.RunID, &it.Iteration, &it.TaskID,
			&it.Status, &it.Fingerprint, &ms, &it.StartedAt); err != nil {
			return nil, fmt.Errorf("scan iteration: %w", err)
		}
		it.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, it)
	}
	return out, rows.Err()
}

// Summary aggregates counts by status across all recorded iterations.
func (s *Store) Summary() (map[string]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM iterations GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("summarise iterations: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
