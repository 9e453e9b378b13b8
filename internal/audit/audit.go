// Package audit persists an evaluation ledger to SQLite. One row per
// evaluation, written best-effort from the server handlers.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Entry is one ledger row.
type Entry struct {
	SessionID string
	Principal string
	Kind      string
	Operation string
	ExitCode  int
	ElapsedMs int64
	CreatedAt time.Time
}

// Log is a SQLite-backed evaluation ledger.
type Log struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS evaluations (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	principal  TEXT NOT NULL,
	kind       TEXT NOT NULL,
	operation  TEXT NOT NULL,
	exit_code  INTEGER NOT NULL,
	elapsed_ms INTEGER NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_evaluations_session ON evaluations(session_id, id);
`

// Open creates or opens the ledger at path.
func Open(path string) (*Log, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create audit directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy_timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set synchronous: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create audit schema: %w", err)
	}
	return &Log{db: db}, nil
}

// Record appends one entry. A zero CreatedAt is stamped with the current
// time.
func (l *Log) Record(ctx context.Context, e Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO evaluations (session_id, principal, kind, operation, exit_code, elapsed_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.SessionID, e.Principal, e.Kind, e.Operation, e.ExitCode, e.ElapsedMs, e.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record audit entry: %w", err)
	}
	return nil
}

// RecentForSession returns up to n entries for a session, newest first.
func (l *Log) RecentForSession(ctx context.Context, sessionID string, n int) ([]Entry, error) {
	if n <= 0 {
		n = 50
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT session_id, principal, kind, operation, exit_code, elapsed_ms, created_at
		 FROM evaluations WHERE session_id = ? ORDER BY id DESC LIMIT ?`,
		sessionID, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var ms int64
		if err := rows.Scan(&e.SessionID, &e.Principal, &e.Kind, &e.Operation, &e.ExitCode, &e.ElapsedMs, &ms); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.CreatedAt = time.UnixMilli(ms)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (l *Log) Close() error {
	return l.db.Close()
}
