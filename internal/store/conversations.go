package store

import (
	"context"
	"fmt"
	"time"
)

// Turn is one message in the conversation journal.
type Turn struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"sessionId"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// AppendTurn writes one turn to the journal.
func (s *Store) AppendTurn(ctx context.Context, sessionID, role, content string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversation_turns (session_id, role, content, created_at)
		VALUES (?, ?, ?, ?)`,
		sessionID, role, content, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("store: append turn: %w", err)
	}
	return nil
}

// History returns the most recent limit turns for the session in
// chronological order. limit <= 0 returns everything.
func (s *Store) History(ctx context.Context, sessionID string, limit int) ([]Turn, error) {
	q := `SELECT id, session_id, role, content, created_at FROM conversation_turns WHERE session_id = ?`
	args := []any{sessionID}
	if limit > 0 {
		q = `SELECT * FROM (` + q + ` ORDER BY id DESC LIMIT ?) ORDER BY id ASC`
		args = append(args, limit)
	} else {
		q += ` ORDER BY id ASC`
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: history: %w", err)
	}
	defer rows.Close()

	var out []Turn
	for rows.Next() {
		var t Turn
		var ts int64
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Role, &t.Content, &ts); err != nil {
			return nil, fmt.Errorf("store: scan turn: %w", err)
		}
		t.CreatedAt = time.UnixMilli(ts).UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}

// MarkSeen records a message id for inbound dedup. Returns true when the id
// was new (the caller should proceed) and false on a duplicate.
func (s *Store) MarkSeen(ctx context.Context, messageID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO seen_messages (message_id, seen_at) VALUES (?, ?)`,
		messageID, time.Now().UnixMilli())
	if err != nil {
		return false, fmt.Errorf("store: mark seen: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: mark seen: %w", err)
	}
	return n > 0, nil
}
