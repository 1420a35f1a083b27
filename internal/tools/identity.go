package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nextlevelbuilder/clawden/internal/dispatch"
	"github.com/nextlevelbuilder/clawden/internal/workspace"
)

// IdentityWrite updates one of the agent's identity markdown files. The file
// name is schema-restricted to a flat *.md name.
func (t *Tools) IdentityWrite(_ context.Context, call *dispatch.Call) (map[string]any, error) {
	dir, err := t.ws.AgentDir(baseAgent(call.Session.AgentID))
	if err != nil {
		return nil, err
	}
	abs, err := workspace.Resolve(dir, argString(call.Args, "file"))
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, fmt.Errorf("identity write: %w", err)
	}
	content := argString(call.Args, "content")
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("identity write: %w", err)
	}
	return map[string]any{"file": argString(call.Args, "file"), "bytes": len(content)}, nil
}

// UserWrite writes into the per-user subtree.
func (t *Tools) UserWrite(_ context.Context, call *dispatch.Call) (map[string]any, error) {
	dir, err := t.ws.UserDir(baseAgent(call.Session.AgentID), scopeUser(call.Session))
	if err != nil {
		return nil, err
	}
	abs, err := workspace.Resolve(dir, argString(call.Args, "path"))
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, fmt.Errorf("user write: %w", err)
	}
	content := argString(call.Args, "content")
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("user write: %w", err)
	}
	return map[string]any{"path": argString(call.Args, "path"), "bytes": len(content)}, nil
}
