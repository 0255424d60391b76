// Package audit is an append-only log of completed dispatches, kept for
// operational debugging: which request ran, against which component,
// object and op, with what returncode and how long it took. This is
// observability, not domain state — the service's actual configuration
// still lives in the single JSON file internal/config owns.
package audit

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS dispatch_log (
	id          TEXT PRIMARY KEY,
	component   TEXT NOT NULL,
	object      TEXT NOT NULL,
	op          TEXT NOT NULL,
	returncode  INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	at          TEXT NOT NULL
);
`

// Entry is one completed dispatch, ready to be recorded.
type Entry struct {
	ID         string
	Component  string
	Object     string
	Op         string
	Returncode int
	Duration   time.Duration
	At         time.Time
}

// Log owns the sqlite database backing the audit trail.
type Log struct {
	db *sql.DB
}

// Open opens (creating if necessary) the sqlite database at databasePath
// and applies the schema, following the same open/pragma/schema bootstrap
// shape as planner.New.
func Open(databasePath string) (*Log, error) {
	if dir := filepath.Dir(databasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("audit: create directory for %s: %w", databasePath, err)
		}
	}

	db, err := sql.Open("sqlite3", databasePath)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", databasePath, err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: enable foreign keys: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: apply schema: %w", err)
	}

	return &Log{db: db}, nil
}

// Close closes the underlying database.
func (l *Log) Close() error {
	if l.db != nil {
		return l.db.Close()
	}
	return nil
}

// Record appends one completed dispatch.
func (l *Log) Record(e Entry) error {
	_, err := l.db.Exec(
		"INSERT INTO dispatch_log (id, component, object, op, returncode, duration_ms, at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		e.ID, e.Component, e.Object, e.Op, e.Returncode, e.Duration.Milliseconds(), e.At.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("audit: record entry %s: %w", e.ID, err)
	}
	return nil
}

// RecordDispatch implements dispatch.Recorder, logging failures to stderr
// rather than propagating them: a dropped audit row must never fail the
// request it describes.
func (l *Log) RecordDispatch(componentName, objectName, opName string, returncode int, requestID uuid.UUID, d time.Duration) {
	if err := l.Record(Entry{
		ID:         requestID.String(),
		Component:  componentName,
		Object:     objectName,
		Op:         opName,
		Returncode: returncode,
		Duration:   d,
		At:         time.Now().UTC(),
	}); err != nil {
		fmt.Fprintf(os.Stderr, "audit: record dispatch: %v\n", err)
	}
}

// Recent returns the most recent n entries, newest first.
func (l *Log) Recent(n int) ([]Entry, error) {
	rows, err := l.db.Query(
		"SELECT id, component, object, op, returncode, duration_ms, at FROM dispatch_log ORDER BY at DESC LIMIT ?",
		n,
	)
	if err != nil {
		return nil, fmt.Errorf("audit: query recent: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var durationMs int64
		var at string
		if err := rows.Scan(&e.ID, &e.Component, &e.Object, &e.Op, &e.Returncode, &durationMs, &at); err != nil {
			return nil, fmt.Errorf("audit: scan row: %w", err)
		}
		e.Duration = time.Duration(durationMs) * time.Millisecond
		e.At, err = time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return nil, fmt.Errorf("audit: parse timestamp: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
