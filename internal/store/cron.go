package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Job kinds.
const (
	JobKindCron = "cron"
	JobKindOnce = "once"
)

// ErrJobNotFound is returned for lookups and deletes of unknown job ids.
var ErrJobNotFound = errors.New("store: job not found")

// Job is a scheduled unit of work: either a recurring cron entry or a
// one-shot timer.
type Job struct {
	ID             string    `json:"id"`
	Kind           string    `json:"kind"`
	CronExpr       string    `json:"cronExpr,omitempty"`
	At             time.Time `json:"at,omitempty"`
	AgentID        string    `json:"agentId,omitempty"`
	Prompt         string    `json:"prompt"`
	MaxTokenBudget int64     `json:"maxTokenBudget,omitempty"`
	Delivery       string    `json:"delivery,omitempty"`
	RunOnce        bool      `json:"runOnce,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// AddJob persists a job. The id must be unique.
func (s *Store) AddJob(ctx context.Context, j Job) error {
	if j.Kind == "" {
		j.Kind = JobKindCron
	}
	var atMs sql.NullInt64
	if !j.At.IsZero() {
		atMs = sql.NullInt64{Int64: j.At.UnixMilli(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cron_jobs (id, kind, cron_expr, at_ms, agent_id, prompt, max_token_budget, delivery, run_once, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.Kind, nullStr(j.CronExpr), atMs, nullStr(j.AgentID), j.Prompt,
		nullInt(j.MaxTokenBudget), nullStr(j.Delivery), boolInt(j.RunOnce), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("store: add job: %w", err)
	}
	return nil
}

// RemoveJob deletes a job by id.
func (s *Store) RemoveJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cron_jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: remove job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrJobNotFound
	}
	return nil
}

// ListJobs returns every stored job, oldest first.
func (s *Store) ListJobs(ctx context.Context) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, cron_expr, at_ms, agent_id, prompt, max_token_budget, delivery, run_once, created_at
		FROM cron_jobs ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("store: list jobs: %w", err)
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func scanJob(rows *sql.Rows) (Job, error) {
	var (
		j        Job
		cronExpr sql.NullString
		atMs     sql.NullInt64
		agentID  sql.NullString
		budget   sql.NullInt64
		delivery sql.NullString
		runOnce  int
		created  int64
	)
	if err := rows.Scan(&j.ID, &j.Kind, &cronExpr, &atMs, &agentID, &j.Prompt, &budget, &delivery, &runOnce, &created); err != nil {
		return Job{}, fmt.Errorf("store: scan job: %w", err)
	}
	j.CronExpr = cronExpr.String
	if atMs.Valid {
		j.At = time.UnixMilli(atMs.Int64).UTC()
	}
	j.AgentID = agentID.String
	j.MaxTokenBudget = budget.Int64
	j.Delivery = delivery.String
	j.RunOnce = runOnce != 0
	j.CreatedAt = time.UnixMilli(created).UTC()
	return j, nil
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
