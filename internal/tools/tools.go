// Package tools implements the action handlers behind the dispatcher: memory,
// web, workspace, skills, scheduler, browser and llm_call.
package tools

import (
	"strings"

	"github.com/nextlevelbuilder/clawden/internal/audit"
	"github.com/nextlevelbuilder/clawden/internal/dispatch"
	"github.com/nextlevelbuilder/clawden/internal/store"
	"github.com/nextlevelbuilder/clawden/internal/taint"
	"github.com/nextlevelbuilder/clawden/internal/workspace"
)

// Tools bundles the handler dependencies.
type Tools struct {
	store   *store.Store
	ws      *workspace.Manager
	auditor *audit.Log
	budget  *taint.Budget
	llm     *LLMClient

	browsers    *browserPool
	jobsChanged func()
}

// New wires the handler set. llm may be nil when no credential proxy is
// configured; browser sessions are created lazily.
func New(st *store.Store, ws *workspace.Manager, auditor *audit.Log, budget *taint.Budget, llm *LLMClient) *Tools {
	return &Tools{
		store:    st,
		ws:       ws,
		auditor:  auditor,
		budget:   budget,
		llm:      llm,
		browsers: newBrowserPool(),
	}
}

// SetJobsChanged installs a callback fired after scheduler job mutations so
// the scheduler can re-arm timers.
func (t *Tools) SetJobsChanged(fn func()) { t.jobsChanged = fn }

// RegisterAll installs every handler on the dispatcher.
func (t *Tools) RegisterAll(srv *dispatch.Server) {
	handlers := map[string]dispatch.HandlerFunc{
		"llm_call":              t.LLMCall,
		"memory_write":          t.MemoryWrite,
		"memory_query":          t.MemoryQuery,
		"memory_read":           t.MemoryRead,
		"memory_delete":         t.MemoryDelete,
		"memory_list":           t.MemoryList,
		"web_fetch":             t.WebFetch,
		"web_search":            t.WebSearch,
		"browser_launch":        t.BrowserLaunch,
		"browser_navigate":      t.BrowserNavigate,
		"browser_snapshot":      t.BrowserSnapshot,
		"browser_click":         t.BrowserClick,
		"browser_type":          t.BrowserType,
		"browser_screenshot":    t.BrowserScreenshot,
		"browser_close":         t.BrowserClose,
		"skill_read":            t.SkillRead,
		"skill_list":            t.SkillList,
		"skill_propose":         t.SkillPropose,
		"proposal_list":         t.ProposalList,
		"proposal_review":       t.ProposalReview,
		"audit_query":           t.AuditQuery,
		"identity_write":        t.IdentityWrite,
		"user_write":            t.UserWrite,
		"scheduler_add_cron":    t.SchedulerAddCron,
		"scheduler_run_at":      t.SchedulerRunAt,
		"scheduler_remove_cron": t.SchedulerRemoveCron,
		"scheduler_list_jobs":   t.SchedulerListJobs,
		"workspace_read":        t.WorkspaceRead,
		"workspace_write":       t.WorkspaceWrite,
		"workspace_list":        t.WorkspaceList,
	}
	for action, h := range handlers {
		srv.Register(action, h)
	}
}

// Close releases any live browser sessions.
func (t *Tools) Close() { t.browsers.closeAll() }

// baseAgent strips the delegation depth suffix from an agent id.
func baseAgent(agentID string) string {
	if i := strings.LastIndex(agentID, "#depth="); i >= 0 {
		return agentID[:i]
	}
	return agentID
}

// scopeUser resolves the user id for storage scoping; sessions without a
// user fall back to a fixed bucket.
func scopeUser(sess dispatch.Session) string {
	if sess.UserID != "" {
		return sess.UserID
	}
	return "default"
}

func argString(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func argInt(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return fallback
	}
}

func argInt64(args map[string]any, key string, fallback int64) int64 {
	switch v := args[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	default:
		return fallback
	}
}

func argBool(args map[string]any, key string) bool {
	b, _ := args[key].(bool)
	return b
}

func argStrings(args map[string]any, key string) []string {
	raw, _ := args[key].([]any)
	if len(raw) == 0 {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
