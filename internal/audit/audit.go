// Package audit persists the append-only journal of host decisions.
//
// Every dispatched action, scan verdict, sandbox spawn and scheduler decision
// lands here. The exposed interface can append and query; nothing can mutate
// or delete individual records.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Result classes recorded per entry.
const (
	ResultSuccess = "success"
	ResultBlocked = "blocked"
	ResultError   = "error"
)

// Entry is one journal record. Missing fields are nulled; Timestamp defaults
// to now at append time.
type Entry struct {
	ID         int64          `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	SessionID  string         `json:"sessionId"`
	Action     string         `json:"action"`
	Args       map[string]any `json:"args,omitempty"`
	Result     string         `json:"result"`
	Taint      string         `json:"taint,omitempty"`
	DurationMs int64          `json:"durationMs,omitempty"`
	TokenUsage int64          `json:"tokenUsage,omitempty"`
	Detail     string         `json:"detail,omitempty"`
}

// Filter selects journal rows. Limit returns the most recent N, restored to
// ascending order.
type Filter struct {
	Action    string
	SessionID string
	Since     time.Time
	Until     time.Time
	Limit     int
}

// Log is the sqlite-backed journal. Writes are serialized by a single
// writer lock; readers go straight to the pool.
type Log struct {
	db      *sql.DB
	writeMu sync.Mutex

	maxRows  int64 // 0 = unbounded
	appended int64 // appends since last prune check
}

const schema = `
CREATE TABLE IF NOT EXISTS audit_log (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	ts          INTEGER NOT NULL,
	session_id  TEXT,
	action      TEXT NOT NULL,
	args_json   TEXT,
	result      TEXT NOT NULL,
	taint       TEXT,
	duration_ms INTEGER,
	token_usage INTEGER,
	detail      TEXT
);
CREATE INDEX IF NOT EXISTS idx_audit_action ON audit_log(action);
CREATE INDEX IF NOT EXISTS idx_audit_session ON audit_log(session_id);
CREATE INDEX IF NOT EXISTS idx_audit_ts ON audit_log(ts);
`

// pruneEvery is how many appends pass between retention checks.
const pruneEvery = 4096

// Open opens (and creates if needed) the journal at path. Use ":memory:" in
// tests. maxRows caps retention; 0 keeps everything.
func Open(path string, maxRows int64) (*Log, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}
	// modernc sqlite is single-writer; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: create schema: %w", err)
	}
	return &Log{db: db, maxRows: maxRows}, nil
}

// Close releases the underlying database.
func (l *Log) Close() error { return l.db.Close() }

// Append writes one entry. A zero Timestamp is stamped now.
func (l *Log) Append(ctx context.Context, e Entry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	var argsJSON sql.NullString
	if e.Args != nil {
		data, err := json.Marshal(e.Args)
		if err != nil {
			return fmt.Errorf("audit: marshal args: %w", err)
		}
		argsJSON = sql.NullString{String: string(data), Valid: true}
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO audit_log (ts, session_id, action, args_json, result, taint, duration_ms, token_usage, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Timestamp.UnixMilli(), nullStr(e.SessionID), e.Action, argsJSON,
		e.Result, nullStr(e.Taint), nullInt(e.DurationMs), nullInt(e.TokenUsage), nullStr(e.Detail),
	)
	if err != nil {
		return fmt.Errorf("audit: append: %w", err)
	}

	l.appended++
	if l.maxRows > 0 && l.appended >= pruneEvery {
		l.appended = 0
		l.pruneLocked(ctx)
	}
	return nil
}

// pruneLocked drops the oldest rows above the retention cap. Retention is the
// only path that removes rows; it is not reachable through the query surface.
func (l *Log) pruneLocked(ctx context.Context) {
	res, err := l.db.ExecContext(ctx, `
		DELETE FROM audit_log WHERE id <= (
			SELECT id FROM audit_log ORDER BY id DESC LIMIT 1 OFFSET ?
		)`, l.maxRows)
	if err != nil {
		slog.Warn("audit.prune_failed", "error", err)
		return
	}
	if n, _ := res.RowsAffected(); n > 0 {
		slog.Info("audit.pruned", "rows", n)
	}
}

// Query returns matching entries in ascending id order.
func (l *Log) Query(ctx context.Context, f Filter) ([]Entry, error) {
	q := `SELECT id, ts, session_id, action, args_json, result, taint, duration_ms, token_usage, detail FROM audit_log WHERE 1=1`
	var args []any
	if f.Action != "" {
		q += ` AND action = ?`
		args = append(args, f.Action)
	}
	if f.SessionID != "" {
		q += ` AND session_id = ?`
		args = append(args, f.SessionID)
	}
	if !f.Since.IsZero() {
		q += ` AND ts >= ?`
		args = append(args, f.Since.UnixMilli())
	}
	if !f.Until.IsZero() {
		q += ` AND ts <= ?`
		args = append(args, f.Until.UnixMilli())
	}
	// Limit selects the most recent N; the outer order restores ascending.
	if f.Limit > 0 {
		q = `SELECT * FROM (` + q + ` ORDER BY id DESC LIMIT ?) ORDER BY id ASC`
		args = append(args, f.Limit)
	} else {
		q += ` ORDER BY id ASC`
	}

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: query: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e        Entry
			ts       int64
			session  sql.NullString
			argsJSON sql.NullString
			taint    sql.NullString
			durMs    sql.NullInt64
			tokens   sql.NullInt64
			detail   sql.NullString
		)
		if err := rows.Scan(&e.ID, &ts, &session, &e.Action, &argsJSON, &e.Result, &taint, &durMs, &tokens, &detail); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		e.Timestamp = time.UnixMilli(ts).UTC()
		e.SessionID = session.String
		e.Taint = taint.String
		e.DurationMs = durMs.Int64
		e.TokenUsage = tokens.Int64
		e.Detail = detail.String
		if argsJSON.Valid {
			_ = json.Unmarshal([]byte(argsJSON.String), &e.Args)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Count returns the total number of journal rows.
func (l *Log) Count(ctx context.Context) (int64, error) {
	var n int64
	err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_log`).Scan(&n)
	return n, err
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}
