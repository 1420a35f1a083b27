package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/clawden/internal/dispatch"
	"github.com/nextlevelbuilder/clawden/internal/store"
	"github.com/nextlevelbuilder/clawden/internal/workspace"
)

// SkillRead returns the named skill file. Skills are read-only from the
// sandbox; changes go through proposals.
func (t *Tools) SkillRead(_ context.Context, call *dispatch.Call) (map[string]any, error) {
	dir, err := t.ws.SkillsDir(baseAgent(call.Session.AgentID))
	if err != nil {
		return nil, err
	}
	abs, err := workspace.Resolve(dir, argString(call.Args, "name"))
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("skill read: %w", err)
	}
	return map[string]any{"name": argString(call.Args, "name"), "content": string(data)}, nil
}

// SkillList enumerates the agent's skill files.
func (t *Tools) SkillList(_ context.Context, call *dispatch.Call) (map[string]any, error) {
	dir, err := t.ws.SkillsDir(baseAgent(call.Session.AgentID))
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{"skills": []string{}, "count": 0}, nil
		}
		return nil, fmt.Errorf("skill list: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return map[string]any{"skills": names, "count": len(names)}, nil
}

// SkillPropose records a pending skill change. Nothing touches the live
// skills directory until a review approves it.
func (t *Tools) SkillPropose(ctx context.Context, call *dispatch.Call) (map[string]any, error) {
	p := store.SkillProposal{
		ID:      uuid.NewString(),
		AgentID: baseAgent(call.Session.AgentID),
		Name:    argString(call.Args, "name"),
		Content: argString(call.Args, "content"),
		Reason:  argString(call.Args, "reason"),
	}
	if err := t.store.AddProposal(ctx, p); err != nil {
		return nil, err
	}
	return map[string]any{"proposalId": p.ID, "status": store.ProposalPending}, nil
}

// ProposalList returns the agent's proposals, newest first.
func (t *Tools) ProposalList(ctx context.Context, call *dispatch.Call) (map[string]any, error) {
	props, err := t.store.ListProposals(ctx, baseAgent(call.Session.AgentID))
	if err != nil {
		return nil, err
	}
	return map[string]any{"proposals": props, "count": len(props)}, nil
}

// ProposalReview decides a pending proposal. Approval installs the skill
// file into the live skills directory.
func (t *Tools) ProposalReview(ctx context.Context, call *dispatch.Call) (map[string]any, error) {
	id := argString(call.Args, "proposalId")
	decision := argString(call.Args, "decision")
	note := argString(call.Args, "note")

	status := store.ProposalRejected
	if decision == "approve" {
		status = store.ProposalApproved
	}

	var approved *store.SkillProposal
	if status == store.ProposalApproved {
		props, err := t.store.ListProposals(ctx, baseAgent(call.Session.AgentID))
		if err != nil {
			return nil, err
		}
		for i := range props {
			if props[i].ID == id {
				approved = &props[i]
				break
			}
		}
		if approved == nil {
			return nil, store.ErrProposalNotFound
		}
	}

	if err := t.store.ReviewProposal(ctx, id, status, note); err != nil {
		return nil, err
	}

	if approved != nil {
		dir, err := t.ws.SkillsDir(approved.AgentID)
		if err != nil {
			return nil, err
		}
		abs, err := workspace.Resolve(dir, approved.Name)
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return nil, fmt.Errorf("install skill: %w", err)
		}
		if err := os.WriteFile(abs, []byte(approved.Content), 0o644); err != nil {
			return nil, fmt.Errorf("install skill: %w", err)
		}
	}
	return map[string]any{"proposalId": id, "status": status}, nil
}
