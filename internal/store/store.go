// Package store persists host state in a single sqlite database: the
// conversation journal, the scheduler job store, the taint-tagged memory
// store and the skill proposal queue.
//
// Writes go through a single connection (modernc sqlite is single-writer);
// concurrent readers are fine.
package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Store wraps the sqlite database.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS conversation_turns (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	role       TEXT NOT NULL,
	content    TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_turns_session ON conversation_turns(session_id, id);

CREATE TABLE IF NOT EXISTS seen_messages (
	message_id TEXT PRIMARY KEY,
	seen_at    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS cron_jobs (
	id               TEXT PRIMARY KEY,
	kind             TEXT NOT NULL DEFAULT 'cron',
	cron_expr        TEXT,
	at_ms            INTEGER,
	agent_id         TEXT,
	prompt           TEXT NOT NULL,
	max_token_budget INTEGER,
	delivery         TEXT,
	run_once         INTEGER NOT NULL DEFAULT 0,
	created_at       INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS memory_entries (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	agent_id     TEXT NOT NULL,
	user_id      TEXT NOT NULL DEFAULT '',
	key          TEXT NOT NULL,
	content      TEXT NOT NULL,
	tags         TEXT,
	taint_source TEXT NOT NULL,
	taint_trust  TEXT NOT NULL,
	created_at   INTEGER NOT NULL,
	updated_at   INTEGER NOT NULL,
	UNIQUE(agent_id, user_id, key)
);

CREATE TABLE IF NOT EXISTS skill_proposals (
	id         TEXT PRIMARY KEY,
	agent_id   TEXT NOT NULL,
	name       TEXT NOT NULL,
	content    TEXT NOT NULL,
	reason     TEXT,
	status     TEXT NOT NULL DEFAULT 'pending',
	note       TEXT,
	created_at INTEGER NOT NULL,
	decided_at INTEGER
);
`

// Open opens (creating if needed) the store at path. Use ":memory:" in tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error { return s.db.Close() }
