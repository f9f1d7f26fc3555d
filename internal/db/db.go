// Package db keeps a SQLite history of acquisitions.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Run statuses.
const (
	StatusOK      = "ok"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// RunRecord is one row of the runs table.
type RunRecord struct {
	ID             int64
	RunID          string
	SourceURL      string
	OutputPath     string
	Status         string
	Strategy       string
	Category       string
	Error          string
	FileSize       int64
	Segments       int
	ReusedSegments int
	Bandwidth      int
	MediaDuration  float64
	ElapsedMillis  int64
	CreatedAt      time.Time
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS runs (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id           TEXT NOT NULL UNIQUE,
    source_url       TEXT NOT NULL,
    output_path      TEXT NOT NULL DEFAULT '',
    status           TEXT NOT NULL,
    strategy         TEXT NOT NULL DEFAULT '',
    category         TEXT NOT NULL DEFAULT '',
    error            TEXT NOT NULL DEFAULT '',
    file_size        INTEGER NOT NULL DEFAULT 0,
    segments         INTEGER NOT NULL DEFAULT 0,
    reused_segments  INTEGER NOT NULL DEFAULT 0,
    bandwidth        INTEGER NOT NULL DEFAULT 0,
    media_duration   REAL NOT NULL DEFAULT 0,
    elapsed_ms       INTEGER NOT NULL DEFAULT 0,
    created_at       DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_runs_source_url ON runs(source_url);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
`

// DB wraps an SQLite connection for the run history.
type DB struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens or creates the SQLite database at the given path, creating its
// parent directory when needed.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database at %s: %w", path, err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", pragma, err)
		}
	}

	if _, err := sqlDB.Exec(createTableSQL); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &DB{db: sqlDB}, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

// InsertRun stores record and returns its row id.
func (d *DB) InsertRun(record RunRecord) (int64, error) {
	if d == nil || d.db == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	result, err := d.db.Exec(`
		INSERT INTO runs (
			run_id, source_url, output_path, status, strategy,
			category, error, file_size, segments, reused_segments,
			bandwidth, media_duration, elapsed_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		record.RunID, record.SourceURL, record.OutputPath, record.Status, record.Strategy,
		record.Category, record.Error, record.FileSize, record.Segments, record.ReusedSegments,
		record.Bandwidth, record.MediaDuration, record.ElapsedMillis,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting run record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("getting last insert id: %w", err)
	}
	return id, nil
}

// ListRuns returns runs, newest first.
func (d *DB) ListRuns(limit, offset int) ([]RunRecord, error) {
	if d == nil || d.db == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := d.db.Query(`
		SELECT id, run_id, source_url, output_path, status, strategy,
			category, error, file_size, segments, reused_segments,
			bandwidth, media_duration, elapsed_ms, created_at
		FROM runs
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var r RunRecord
		if err := rows.Scan(
			&r.ID, &r.RunID, &r.SourceURL, &r.OutputPath, &r.Status, &r.Strategy,
			&r.Category, &r.Error, &r.FileSize, &r.Segments, &r.ReusedSegments,
			&r.Bandwidth, &r.MediaDuration, &r.ElapsedMillis, &r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning run row: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// LastSuccess returns the newest successful run for sourceURL.
func (d *DB) LastSuccess(sourceURL string) (RunRecord, bool, error) {
	if d == nil || d.db == nil {
		return RunRecord{}, false, fmt.Errorf("database not initialized")
	}

	var r RunRecord
	err := d.db.QueryRow(`
		SELECT id, run_id, source_url, output_path, status, strategy, file_size, created_at
		FROM runs
		WHERE source_url = ? AND status = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, sourceURL, StatusOK).Scan(&r.ID, &r.RunID, &r.SourceURL, &r.OutputPath, &r.Status, &r.Strategy, &r.FileSize, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return RunRecord{}, false, nil
	}
	if err != nil {
		return RunRecord{}, false, fmt.Errorf("querying last success: %w", err)
	}
	return r, true, nil
}

// Count returns the total number of runs.
func (d *DB) Count() (int, error) {
	if d == nil || d.db == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	var count int
	if err := d.db.QueryRow("SELECT COUNT(*) FROM runs").Scan(&count); err != nil {
		return 0, fmt.Errorf("counting runs: %w", err)
	}
	return count, nil
}
