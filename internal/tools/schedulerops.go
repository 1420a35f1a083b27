package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"

	"github.com/nextlevelbuilder/clawden/internal/dispatch"
	"github.com/nextlevelbuilder/clawden/internal/store"
)

// SchedulerAddCron registers a recurring job. The cron expression is
// validated before it is stored.
func (t *Tools) SchedulerAddCron(ctx context.Context, call *dispatch.Call) (map[string]any, error) {
	expr := argString(call.Args, "cronExpr")
	if !gronx.New().IsValid(expr) {
		return nil, fmt.Errorf("invalid cron expression %q", expr)
	}

	agentID := argString(call.Args, "agentId")
	if agentID == "" {
		agentID = baseAgent(call.Session.AgentID)
	}
	j := store.Job{
		ID:             uuid.NewString(),
		Kind:           store.JobKindCron,
		CronExpr:       expr,
		AgentID:        agentID,
		Prompt:         argString(call.Args, "prompt"),
		MaxTokenBudget: argInt64(call.Args, "maxTokenBudget", 0),
		Delivery:       argString(call.Args, "delivery"),
		RunOnce:        argBool(call.Args, "runOnce"),
	}
	if err := t.store.AddJob(ctx, j); err != nil {
		return nil, err
	}
	t.notifyJobsChanged()
	return map[string]any{"jobId": j.ID, "cronExpr": expr}, nil
}

// SchedulerRunAt registers a one-shot job at an absolute time.
func (t *Tools) SchedulerRunAt(ctx context.Context, call *dispatch.Call) (map[string]any, error) {
	atMs := argInt64(call.Args, "atMs", 0)
	agentID := argString(call.Args, "agentId")
	if agentID == "" {
		agentID = baseAgent(call.Session.AgentID)
	}
	j := store.Job{
		ID:      uuid.NewString(),
		Kind:    store.JobKindOnce,
		At:      time.UnixMilli(atMs).UTC(),
		AgentID: agentID,
		Prompt:  argString(call.Args, "prompt"),
		RunOnce: true,
	}
	if err := t.store.AddJob(ctx, j); err != nil {
		return nil, err
	}
	t.notifyJobsChanged()
	return map[string]any{"jobId": j.ID, "at": j.At}, nil
}

// SchedulerRemoveCron deletes a job by id.
func (t *Tools) SchedulerRemoveCron(ctx context.Context, call *dispatch.Call) (map[string]any, error) {
	id := argString(call.Args, "jobId")
	if err := t.store.RemoveJob(ctx, id); err != nil {
		return nil, err
	}
	t.notifyJobsChanged()
	return map[string]any{"jobId": id, "removed": true}, nil
}

// SchedulerListJobs returns every stored job.
func (t *Tools) SchedulerListJobs(ctx context.Context, _ *dispatch.Call) (map[string]any, error) {
	jobs, err := t.store.ListJobs(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"jobs": jobs, "count": len(jobs)}, nil
}

func (t *Tools) notifyJobsChanged() {
	if t.jobsChanged != nil {
		t.jobsChanged()
	}
}
