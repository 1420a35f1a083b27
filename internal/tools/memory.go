package tools

import (
	"context"
	"errors"

	"github.com/nextlevelbuilder/clawden/internal/dispatch"
	"github.com/nextlevelbuilder/clawden/internal/store"
	"github.com/nextlevelbuilder/clawden/internal/taint"
)

// MemoryWrite upserts a taint-tagged entry scoped to the agent/user pair.
func (t *Tools) MemoryWrite(ctx context.Context, call *dispatch.Call) (map[string]any, error) {
	key := argString(call.Args, "key")
	content := argString(call.Args, "content")
	tags := argStrings(call.Args, "tags")

	tag := taint.NewTag("memory_write:"+call.Session.ID, call.Session.Actor)
	err := t.store.WriteMemory(ctx, baseAgent(call.Session.AgentID), scopeUser(call.Session), key, content, tags, tag)
	if err != nil {
		return nil, err
	}
	return map[string]any{"key": key, "stored": true}, nil
}

// MemoryRead fetches one entry by key.
func (t *Tools) MemoryRead(ctx context.Context, call *dispatch.Call) (map[string]any, error) {
	key := argString(call.Args, "key")
	e, err := t.store.ReadMemory(ctx, baseAgent(call.Session.AgentID), scopeUser(call.Session), key)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"key":     e.Key,
		"content": e.Content,
		"tags":    e.Tags,
		"taint":   e.Taint,
	}, nil
}

// MemoryDelete removes an entry. Deleting a missing key is not an error.
func (t *Tools) MemoryDelete(ctx context.Context, call *dispatch.Call) (map[string]any, error) {
	key := argString(call.Args, "key")
	err := t.store.DeleteMemory(ctx, baseAgent(call.Session.AgentID), scopeUser(call.Session), key)
	if err != nil && !errors.Is(err, store.ErrMemoryNotFound) {
		return nil, err
	}
	return map[string]any{"key": key, "deleted": err == nil}, nil
}

// MemoryQuery searches keys and contents by substring.
func (t *Tools) MemoryQuery(ctx context.Context, call *dispatch.Call) (map[string]any, error) {
	entries, err := t.store.QueryMemory(ctx, baseAgent(call.Session.AgentID), scopeUser(call.Session),
		argString(call.Args, "query"), argInt(call.Args, "limit", 20))
	if err != nil {
		return nil, err
	}
	return map[string]any{"entries": entries, "count": len(entries)}, nil
}

// MemoryList returns the newest entries for the scope.
func (t *Tools) MemoryList(ctx context.Context, call *dispatch.Call) (map[string]any, error) {
	entries, err := t.store.ListMemory(ctx, baseAgent(call.Session.AgentID), scopeUser(call.Session),
		argInt(call.Args, "limit", 100))
	if err != nil {
		return nil, err
	}
	return map[string]any{"entries": entries, "count": len(entries)}, nil
}
