package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nextlevelbuilder/clawden/internal/dispatch"
	"github.com/nextlevelbuilder/clawden/internal/workspace"
)

const maxWorkspaceReadBytes = 1 << 20

// resolveTier maps a request's tier and relative path to a verified absolute
// path inside the tier root.
func (t *Tools) resolveTier(call *dispatch.Call, rel string) (string, error) {
	tier := workspace.Tier(argString(call.Args, "tier"))
	root, err := t.ws.TierRoot(tier, baseAgent(call.Session.AgentID), scopeUser(call.Session), call.Session.ID)
	if err != nil {
		return "", err
	}
	if rel == "" {
		return root, nil
	}
	return workspace.Resolve(root, rel)
}

// WorkspaceRead returns the contents of one file, capped at 1 MiB.
func (t *Tools) WorkspaceRead(_ context.Context, call *dispatch.Call) (map[string]any, error) {
	abs, err := t.resolveTier(call, argString(call.Args, "path"))
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("workspace read: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("workspace read: %s is a directory", argString(call.Args, "path"))
	}
	if info.Size() > maxWorkspaceReadBytes {
		return nil, fmt.Errorf("workspace read: file exceeds %d bytes", maxWorkspaceReadBytes)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("workspace read: %w", err)
	}
	return map[string]any{"path": argString(call.Args, "path"), "content": string(data), "size": info.Size()}, nil
}

// WorkspaceWrite writes a file in the user or scratch tier. The shared tier
// is rejected at the schema layer.
func (t *Tools) WorkspaceWrite(_ context.Context, call *dispatch.Call) (map[string]any, error) {
	rel := argString(call.Args, "path")
	abs, err := t.resolveTier(call, rel)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, fmt.Errorf("workspace write: %w", err)
	}
	content := argString(call.Args, "content")
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("workspace write: %w", err)
	}
	return map[string]any{"path": rel, "bytes": len(content)}, nil
}

// WorkspaceList enumerates one directory level.
func (t *Tools) WorkspaceList(_ context.Context, call *dispatch.Call) (map[string]any, error) {
	abs, err := t.resolveTier(call, argString(call.Args, "path"))
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("workspace list: %w", err)
	}
	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		item := map[string]any{"name": e.Name(), "dir": e.IsDir()}
		if info, err := e.Info(); err == nil && !e.IsDir() {
			item["size"] = info.Size()
		}
		out = append(out, item)
	}
	return map[string]any{"entries": out, "count": len(out)}, nil
}
