package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nextlevelbuilder/clawden/internal/taint"
)

// ErrMemoryNotFound is returned when a memory key does not exist.
var ErrMemoryNotFound = errors.New("store: memory entry not found")

// MemoryEntry is a taint-tagged key/value memory record scoped to an
// agent/user pair.
type MemoryEntry struct {
	ID        int64     `json:"id"`
	AgentID   string    `json:"agentId"`
	UserID    string    `json:"userId,omitempty"`
	Key       string    `json:"key"`
	Content   string    `json:"content"`
	Tags      []string  `json:"tags,omitempty"`
	Taint     taint.Tag `json:"taint"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// WriteMemory upserts an entry under (agentID, userID, key).
func (s *Store) WriteMemory(ctx context.Context, agentID, userID, key, content string, tags []string, tag taint.Tag) error {
	now := time.Now().UnixMilli()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memory_entries (agent_id, user_id, key, content, tags, taint_source, taint_trust, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(agent_id, user_id, key) DO UPDATE SET
			content = excluded.content,
			tags = excluded.tags,
			taint_source = excluded.taint_source,
			taint_trust = excluded.taint_trust,
			updated_at = excluded.updated_at`,
		agentID, userID, key, content, nullStr(strings.Join(tags, ",")),
		tag.Source, string(tag.Trust), now, now)
	if err != nil {
		return fmt.Errorf("store: write memory: %w", err)
	}
	return nil
}

// ReadMemory fetches a single entry by key.
func (s *Store) ReadMemory(ctx context.Context, agentID, userID, key string) (MemoryEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, agent_id, user_id, key, content, tags, taint_source, taint_trust, created_at, updated_at
		FROM memory_entries WHERE agent_id = ? AND user_id = ? AND key = ?`,
		agentID, userID, key)
	e, err := scanMemory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return MemoryEntry{}, ErrMemoryNotFound
	}
	return e, err
}

// DeleteMemory removes an entry by key.
func (s *Store) DeleteMemory(ctx context.Context, agentID, userID, key string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM memory_entries WHERE agent_id = ? AND user_id = ? AND key = ?`,
		agentID, userID, key)
	if err != nil {
		return fmt.Errorf("store: delete memory: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrMemoryNotFound
	}
	return nil
}

// QueryMemory returns entries whose key or content contains query
// (case-insensitive substring match), newest first.
func (s *Store) QueryMemory(ctx context.Context, agentID, userID, query string, limit int) ([]MemoryEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	pat := "%" + strings.ToLower(query) + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, agent_id, user_id, key, content, tags, taint_source, taint_trust, created_at, updated_at
		FROM memory_entries
		WHERE agent_id = ? AND user_id = ? AND (LOWER(key) LIKE ? OR LOWER(content) LIKE ?)
		ORDER BY updated_at DESC LIMIT ?`,
		agentID, userID, pat, pat, limit)
	if err != nil {
		return nil, fmt.Errorf("store: query memory: %w", err)
	}
	defer rows.Close()
	return collectMemory(rows)
}

// ListMemory returns the newest entries for the scope.
func (s *Store) ListMemory(ctx context.Context, agentID, userID string, limit int) ([]MemoryEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, agent_id, user_id, key, content, tags, taint_source, taint_trust, created_at, updated_at
		FROM memory_entries WHERE agent_id = ? AND user_id = ?
		ORDER BY updated_at DESC LIMIT ?`,
		agentID, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list memory: %w", err)
	}
	defer rows.Close()
	return collectMemory(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(r rowScanner) (MemoryEntry, error) {
	var (
		e          MemoryEntry
		tags       sql.NullString
		src, trust string
		created    int64
		updated    int64
	)
	if err := r.Scan(&e.ID, &e.AgentID, &e.UserID, &e.Key, &e.Content, &tags, &src, &trust, &created, &updated); err != nil {
		return MemoryEntry{}, err
	}
	if tags.Valid && tags.String != "" {
		e.Tags = strings.Split(tags.String, ",")
	}
	e.Taint = taint.Tag{Source: src, Trust: taint.Trust(trust), Timestamp: time.UnixMilli(updated).UTC()}
	e.CreatedAt = time.UnixMilli(created).UTC()
	e.UpdatedAt = time.UnixMilli(updated).UTC()
	return e, nil
}

func collectMemory(rows *sql.Rows) ([]MemoryEntry, error) {
	var out []MemoryEntry
	for rows.Next() {
		e, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan memory: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
