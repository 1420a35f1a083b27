package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Proposal statuses.
const (
	ProposalPending  = "pending"
	ProposalApproved = "approved"
	ProposalRejected = "rejected"
)

// ErrProposalNotFound is returned for unknown proposal ids.
var ErrProposalNotFound = errors.New("store: proposal not found")

// SkillProposal is a sandbox-originated request to add or change a skill.
// The live skills directory is never written from the sandbox; proposals sit
// here until a human review.
type SkillProposal struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agentId"`
	Name      string    `json:"name"`
	Content   string    `json:"content"`
	Reason    string    `json:"reason,omitempty"`
	Status    string    `json:"status"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	DecidedAt time.Time `json:"decidedAt,omitempty"`
}

// AddProposal stores a new pending proposal.
func (s *Store) AddProposal(ctx context.Context, p SkillProposal) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO skill_proposals (id, agent_id, name, content, reason, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.AgentID, p.Name, p.Content, nullStr(p.Reason), ProposalPending, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("store: add proposal: %w", err)
	}
	return nil
}

// ListProposals returns proposals for the agent, newest first.
func (s *Store) ListProposals(ctx context.Context, agentID string) ([]SkillProposal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, agent_id, name, content, reason, status, note, created_at, decided_at
		FROM skill_proposals WHERE agent_id = ? ORDER BY created_at DESC`, agentID)
	if err != nil {
		return nil, fmt.Errorf("store: list proposals: %w", err)
	}
	defer rows.Close()

	var out []SkillProposal
	for rows.Next() {
		var (
			p       SkillProposal
			reason  sql.NullString
			note    sql.NullString
			created int64
			decided sql.NullInt64
		)
		if err := rows.Scan(&p.ID, &p.AgentID, &p.Name, &p.Content, &reason, &p.Status, &note, &created, &decided); err != nil {
			return nil, fmt.Errorf("store: scan proposal: %w", err)
		}
		p.Reason = reason.String
		p.Note = note.String
		p.CreatedAt = time.UnixMilli(created).UTC()
		if decided.Valid {
			p.DecidedAt = time.UnixMilli(decided.Int64).UTC()
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ReviewProposal records a decision on a pending proposal.
func (s *Store) ReviewProposal(ctx context.Context, id, status, note string) error {
	if status != ProposalApproved && status != ProposalRejected {
		return fmt.Errorf("store: invalid proposal status %q", status)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE skill_proposals SET status = ?, note = ?, decided_at = ?
		WHERE id = ? AND status = ?`,
		status, nullStr(note), time.Now().UnixMilli(), id, ProposalPending)
	if err != nil {
		return fmt.Errorf("store: review proposal: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrProposalNotFound
	}
	return nil
}
