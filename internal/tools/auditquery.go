package tools

import (
	"context"
	"time"

	"github.com/nextlevelbuilder/clawden/internal/audit"
	"github.com/nextlevelbuilder/clawden/internal/dispatch"
)

// AuditQuery exposes the read side of the journal to the agent, scoped to
// its own session.
func (t *Tools) AuditQuery(ctx context.Context, call *dispatch.Call) (map[string]any, error) {
	f := audit.Filter{
		SessionID: call.Session.ID,
		Action:    argString(call.Args, "filterAction"),
		Limit:     argInt(call.Args, "limit", 100),
	}
	if sinceMs := argInt64(call.Args, "sinceMs", 0); sinceMs > 0 {
		f.Since = time.UnixMilli(sinceMs).UTC()
	}
	entries, err := t.auditor.Query(ctx, f)
	if err != nil {
		return nil, err
	}
	return map[string]any{"entries": entries, "count": len(entries)}, nil
}
