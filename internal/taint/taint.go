// Package taint tracks per-session trust accounting.
//
// Every inbound byte is attributed to a trust class. Sessions whose external
// byte ratio exceeds the configured threshold lose access to the gated action
// classes until the session ends. Counters are monotonic for the lifetime of
// the session; the store is process-local.
package taint

import (
	"sync"
	"time"
)

// Trust classifies the origin of a piece of data.
type Trust string

const (
	TrustUser     Trust = "user"
	TrustExternal Trust = "external"
	TrustSystem   Trust = "system"
)

// Tag is attached to stored data (memory entries, fetched web content,
// scheduler-originated prompts) to preserve its origin.
type Tag struct {
	Source    string    `json:"source"`
	Trust     Trust     `json:"trust"`
	Timestamp time.Time `json:"timestamp"`
}

// NewTag builds a tag stamped now.
func NewTag(source string, trust Trust) Tag {
	return Tag{Source: source, Trust: trust, Timestamp: time.Now().UTC()}
}

// DefaultThreshold is the external-byte ratio above which gated actions are
// denied.
const DefaultThreshold = 0.5

// DefaultGatedActions is the action class gated by the budget.
var DefaultGatedActions = []string{
	"memory_write",
	"web_fetch",
	"web_search",
	"identity_write",
	"user_write",
	"scheduler_add_cron",
	"agent_delegate",
}

// Decision is the outcome of a gate check.
type Decision struct {
	Allowed   bool    `json:"allowed"`
	Ratio     float64 `json:"ratio"`
	Threshold float64 `json:"threshold"`
	Reason    string  `json:"reason,omitempty"`
}

type counters struct {
	trustedBytes  int64
	externalBytes int64
}

// Budget is the process-local per-session taint accounting store.
type Budget struct {
	mu        sync.Mutex
	threshold float64
	gated     map[string]bool
	sessions  map[string]*counters
}

// NewBudget creates a budget with the given threshold and gated action set.
// A threshold <= 0 selects DefaultThreshold; a nil action list selects
// DefaultGatedActions.
func NewBudget(threshold float64, gatedActions []string) *Budget {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if gatedActions == nil {
		gatedActions = DefaultGatedActions
	}
	gated := make(map[string]bool, len(gatedActions))
	for _, a := range gatedActions {
		gated[a] = true
	}
	return &Budget{
		threshold: threshold,
		gated:     gated,
		sessions:  make(map[string]*counters),
	}
}

// RecordInbound attributes n bytes of the given trust class to the session.
// System bytes count as trusted.
func (b *Budget) RecordInbound(sessionID string, n int, trust Trust) {
	if n <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.sessions[sessionID]
	if c == nil {
		c = &counters{}
		b.sessions[sessionID] = c
	}
	if trust == TrustExternal {
		c.externalBytes += int64(n)
	} else {
		c.trustedBytes += int64(n)
	}
}

// Ratio returns the session's current external byte ratio.
// A session with no recorded bytes has ratio 0.
func (b *Budget) Ratio(sessionID string) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ratioLocked(sessionID)
}

func (b *Budget) ratioLocked(sessionID string) float64 {
	c := b.sessions[sessionID]
	if c == nil {
		return 0
	}
	total := c.trustedBytes + c.externalBytes
	if total == 0 {
		return 0
	}
	return float64(c.externalBytes) / float64(total)
}

// IsGated reports whether the action class is subject to the budget.
func (b *Budget) IsGated(action string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.gated[action]
}

// CheckAction decides whether the session may perform the action. Non-gated
// actions and system-trust actors are always admitted.
func (b *Budget) CheckAction(sessionID, action string, actor Trust) Decision {
	b.mu.Lock()
	defer b.mu.Unlock()

	ratio := b.ratioLocked(sessionID)
	d := Decision{Allowed: true, Ratio: ratio, Threshold: b.threshold}
	if !b.gated[action] || actor == TrustSystem {
		return d
	}
	if ratio > b.threshold {
		d.Allowed = false
		d.Reason = "taint budget exceeded: session content is predominantly external"
	}
	return d
}

// EndSession discards the session's counters. The budget decays only here.
func (b *Budget) EndSession(sessionID string) {
	b.mu.Lock()
	delete(b.sessions, sessionID)
	b.mu.Unlock()
}
