// Package audit records executed commands in a local SQLite log and
// forwards them to NATS JetStream.
package audit

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/opensandbox/codespace/pkg/types"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS command_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    command TEXT NOT NULL,
    cwd TEXT,
    exit_code INTEGER,
    timed_out INTEGER DEFAULT 0,
    duration_ms INTEGER,
    stdout_len INTEGER,
    stderr_len INTEGER,
    created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
);

CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    type TEXT NOT NULL,
    payload TEXT,
    synced INTEGER DEFAULT 0,
    created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
);

CREATE INDEX IF NOT EXISTS idx_events_unsynced ON events(synced) WHERE synced = 0;
`

// Entry describes one finished command.
type Entry struct {
	Command    string
	WorkingDir string
	ExitCode   int
	TimedOut   bool
	Duration   time.Duration
	StdoutLen  int
	StderrLen  int
}

// Event is an outbox row not yet forwarded.
type Event struct {
	ID        int64
	Type      string
	Payload   string
	CreatedAt string
}

// CommandLog manages the audit database.
type CommandLog struct {
	db     *sql.DB
	nodeID string
}

// Open opens (or creates) the audit database under dataDir.
func Open(dataDir, nodeID string) (*CommandLog, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, "audit.db")
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply sqlite schema: %w", err)
	}

	return &CommandLog{db: db, nodeID: nodeID}, nil
}

// Close closes the database connection.
func (l *CommandLog) Close() error {
	return l.db.Close()
}

// Record stores a command execution and queues it for forwarding. Both rows
// are written in one transaction.
func (l *CommandLog) Record(e Entry) error {
	durationMs := int(e.Duration.Milliseconds())

	tx, err := l.db.Begin()
	if err != nil {
		return fmt.Errorf("begin audit tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO command_log (command, cwd, exit_code, timed_out, duration_ms, stdout_len, stderr_len) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Command, e.WorkingDir, e.ExitCode, e.TimedOut, durationMs, e.StdoutLen, e.StderrLen)
	if err != nil {
		return fmt.Errorf("failed to log command: %w", err)
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"node_id":     l.nodeID,
		"command":     e.Command,
		"cwd":         e.WorkingDir,
		"exit_code":   e.ExitCode,
		"timed_out":   e.TimedOut,
		"duration_ms": durationMs,
	})
	if _, err := tx.Exec(`INSERT INTO events (type, payload) VALUES ('command', ?)`, string(payload)); err != nil {
		return fmt.Errorf("failed to queue command event: %w", err)
	}
	return tx.Commit()
}

// Recent returns the newest commands first.
func (l *CommandLog) Recent(limit int) ([]types.CommandRecord, error) {
	rows, err := l.db.Query(
		`SELECT id, command, cwd, exit_code, timed_out, duration_ms, stdout_len, stderr_len, created_at
		 FROM command_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []types.CommandRecord{}
	for rows.Next() {
		var r types.CommandRecord
		if err := rows.Scan(&r.ID, &r.Command, &r.WorkingDir, &r.ExitCode, &r.TimedOut,
			&r.DurationMs, &r.StdoutLen, &r.StderrLen, &r.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Unsynced returns events that haven't been forwarded yet, oldest first.
func (l *CommandLog) Unsynced(limit int) ([]Event, error) {
	rows, err := l.db.Query(
		`SELECT id, type, payload, created_at FROM events WHERE synced = 0 ORDER BY id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.Type, &e.Payload, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// MarkSynced marks the given event IDs as forwarded.
func (l *CommandLog) MarkSynced(ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := l.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`UPDATE events SET synced = 1 WHERE id = ?`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.Exec(id); err != nil {
			return err
		}
	}
	return tx.Commit()
}
