package scheduler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/clawden/internal/audit"
)

// Hint is a proactive suggestion the agent may surface without a user turn.
type Hint struct {
	Kind       string  `json:"kind"`
	Scope      string  `json:"scope"`
	Prompt     string  `json:"prompt"`
	Confidence float64 `json:"confidence"`
	SessionID  string  `json:"sessionId"`
}

// signature identifies a hint for cooldown purposes.
func (h Hint) signature() string {
	sum := sha256.Sum256([]byte(h.Kind + "\x00" + h.Scope + "\x00" + h.Prompt))
	return hex.EncodeToString(sum[:16])
}

// RecordTokens charges token usage against the hint budget for a session.
func (s *Scheduler) RecordTokens(sessionID string, n int64) {
	if n <= 0 {
		return
	}
	s.mu.Lock()
	s.tokensUsed[sessionID] += n
	s.mu.Unlock()
}

// QueuedHints returns hints deferred because their session was over budget.
func (s *Scheduler) QueuedHints() []Hint {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Hint, len(s.queued))
	copy(out, s.queued)
	return out
}

// SubmitHint runs the hint gate and, when every check passes, delivers the
// hint as a system-trust inbound message. It reports whether the hint fired
// and the suppression reason otherwise.
func (s *Scheduler) SubmitHint(ctx context.Context, h Hint) (bool, string) {
	now := s.now().In(s.loc)

	if h.Confidence < s.cfg.HintConfidenceThreshold {
		s.suppress(ctx, h, "low_confidence")
		return false, "low_confidence"
	}
	if !s.inActiveHours(now) {
		s.suppress(ctx, h, "outside_active_hours")
		return false, "outside_active_hours"
	}

	sig := h.signature()
	cooldown := time.Duration(s.cfg.HintCooldownMinutes) * time.Minute

	s.mu.Lock()
	if last, ok := s.cooldowns[sig]; ok && cooldown > 0 && now.Sub(last) < cooldown {
		s.mu.Unlock()
		s.suppress(ctx, h, "cooldown")
		return false, "cooldown"
	}
	if s.cfg.SessionTokenBudget > 0 && s.tokensUsed[h.SessionID] >= s.cfg.SessionTokenBudget {
		s.queued = append(s.queued, h)
		s.mu.Unlock()
		s.suppress(ctx, h, "token_budget_exceeded")
		return false, "token_budget_exceeded"
	}
	s.cooldowns[sig] = now
	s.mu.Unlock()

	s.deliver(ctx, h.SessionID, h.Prompt)
	return true, ""
}

func (s *Scheduler) suppress(ctx context.Context, h Hint, reason string) {
	slog.Debug("scheduler.hint_suppressed", "kind", h.Kind, "reason", reason)
	if s.auditor == nil {
		return
	}
	err := s.auditor.Append(ctx, audit.Entry{
		SessionID: h.SessionID,
		Action:    "hint_suppressed",
		Result:    audit.ResultBlocked,
		Detail:    reason,
		Args:      map[string]any{"kind": h.Kind, "scope": h.Scope, "confidence": h.Confidence},
	})
	if err != nil {
		slog.Error("scheduler.audit_failed", "error", err)
	}
}
