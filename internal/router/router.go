// Package router is the trust boundary for message content. Inbound text is
// scanned, wrapped in external-content markers with a fresh canary, and
// queued; outbound text is scanned for leakage and checked for canary
// exfiltration before it may leave the host.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/clawden/internal/audit"
	"github.com/nextlevelbuilder/clawden/internal/bus"
	"github.com/nextlevelbuilder/clawden/internal/metrics"
	"github.com/nextlevelbuilder/clawden/internal/scanner"
	"github.com/nextlevelbuilder/clawden/internal/taint"
)

// CanaryRedaction is the exact content returned when a canary leaks.
const CanaryRedaction = "[Response redacted: canary token leaked]"

// ScanRedaction replaces outbound content blocked by the scanner.
const ScanRedaction = "[Response redacted: sensitive content detected]"

// Deduper marks message ids as seen; duplicates are dropped before scanning.
type Deduper interface {
	MarkSeen(ctx context.Context, messageID string) (bool, error)
}

// Router routes content across the trust boundary.
type Router struct {
	scanner *scanner.Scanner
	budget  *taint.Budget
	auditor *audit.Log
	queue   *bus.Queue
	dedup   Deduper

	mu       sync.Mutex
	canaries map[string]string // session id → live canary
}

// New wires a router. dedup may be nil (no message-id dedup, used in tests).
func New(sc *scanner.Scanner, budget *taint.Budget, auditor *audit.Log, queue *bus.Queue, dedup Deduper) *Router {
	return &Router{
		scanner:  sc,
		budget:   budget,
		auditor:  auditor,
		queue:    queue,
		dedup:    dedup,
		canaries: make(map[string]string),
	}
}

// InboundResult reports the outcome of ProcessInbound.
type InboundResult struct {
	Queued      bool           `json:"queued"`
	MessageID   string         `json:"messageId,omitempty"`
	SessionID   string         `json:"sessionId,omitempty"`
	CanaryToken string         `json:"canaryToken,omitempty"`
	Scan        scanner.Result `json:"scanResult"`
	Duplicate   bool           `json:"duplicate,omitempty"`
}

// OutboundResult reports the outcome of ProcessOutbound.
type OutboundResult struct {
	Content      string         `json:"content"`
	Scan         scanner.Result `json:"scanResult"`
	CanaryLeaked bool           `json:"canaryLeaked"`
}

// Canary returns the session's live canary token, if any.
func (r *Router) Canary(sessionID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.canaries[sessionID]
}

// ProcessInbound scans, wraps, canaries and enqueues one inbound message.
// msg.Content must be the raw untrusted text; on success the queued message
// carries the wrapped form. trust attributes the message bytes in the
// session's taint budget.
func (r *Router) ProcessInbound(ctx context.Context, msg *bus.InboundMessage, trust taint.Trust) (InboundResult, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	if err := bus.ValidateAttachments(msg.Attachments); err != nil {
		return InboundResult{}, err
	}

	// At-most-once agent invocation per message id.
	if r.dedup != nil {
		fresh, err := r.dedup.MarkSeen(ctx, msg.ID)
		if err != nil {
			return InboundResult{}, fmt.Errorf("router: dedup: %w", err)
		}
		if !fresh {
			slog.Debug("router.inbound_duplicate", "message_id", msg.ID)
			return InboundResult{Duplicate: true, MessageID: msg.ID, SessionID: msg.SessionID}, nil
		}
	}

	raw := msg.Content
	res := r.scanner.ScanInbound(raw)
	metrics.ScanVerdicts.WithLabelValues("inbound", string(res.Verdict)).Inc()
	if res.Blocked() {
		r.audit(ctx, audit.Entry{
			SessionID: msg.SessionID,
			Action:    "router_inbound",
			Result:    audit.ResultBlocked,
			Taint:     string(trust),
			Detail:    res.Reason,
			Args:      map[string]any{"messageId": msg.ID, "patterns": res.Patterns},
		})
		return InboundResult{Queued: false, MessageID: msg.ID, SessionID: msg.SessionID, Scan: res}, nil
	}

	token := scanner.CanaryToken()
	r.mu.Lock()
	r.canaries[msg.SessionID] = token
	r.mu.Unlock()

	msg.Content = WrapExternal(raw, msg.Address.Provider, token)

	if err := r.queue.Enqueue(msg); err != nil {
		return InboundResult{}, fmt.Errorf("router: enqueue: %w", err)
	}
	r.budget.RecordInbound(msg.SessionID, len(raw), trust)

	r.audit(ctx, audit.Entry{
		SessionID: msg.SessionID,
		Action:    "router_inbound",
		Result:    audit.ResultSuccess,
		Taint:     string(trust),
		Args:      map[string]any{"messageId": msg.ID, "bytes": len(raw), "verdict": string(res.Verdict)},
	})

	return InboundResult{
		Queued:      true,
		MessageID:   msg.ID,
		SessionID:   msg.SessionID,
		CanaryToken: token,
		Scan:        res,
	}, nil
}

// ProcessOutbound scans agent output and redacts canary leakage. The returned
// content never contains the canary token; a leaked canary yields exactly
// CanaryRedaction. Completing the outbound retires the session's canary.
func (r *Router) ProcessOutbound(ctx context.Context, content, sessionID, canaryToken string) OutboundResult {
	out := OutboundResult{Content: content}

	out.Scan = r.scanner.ScanOutbound(content)
	metrics.ScanVerdicts.WithLabelValues("outbound", string(out.Scan.Verdict)).Inc()
	if out.Scan.Blocked() {
		out.Content = ScanRedaction
		r.audit(ctx, audit.Entry{
			SessionID: sessionID,
			Action:    "router_outbound",
			Result:    audit.ResultBlocked,
			Detail:    out.Scan.Reason,
		})
	}

	// Canary containment is checked against the original agent output.
	if scanner.CheckCanary(content, canaryToken) {
		out.Content = CanaryRedaction
		out.CanaryLeaked = true
		r.audit(ctx, audit.Entry{
			SessionID: sessionID,
			Action:    "canary_leaked",
			Result:    audit.ResultBlocked,
		})
		slog.Warn("router.canary_leaked", "session_id", sessionID)
	}

	if !out.Scan.Blocked() && !out.CanaryLeaked {
		r.audit(ctx, audit.Entry{
			SessionID: sessionID,
			Action:    "router_outbound",
			Result:    audit.ResultSuccess,
			Args:      map[string]any{"bytes": len(content), "verdict": string(out.Scan.Verdict)},
		})
	}

	// The canary's lifetime ends with the outbound completion.
	r.mu.Lock()
	if r.canaries[sessionID] == canaryToken && canaryToken != "" {
		delete(r.canaries, sessionID)
	}
	r.mu.Unlock()

	return out
}

// EndSession forgets the session's canary and taint counters.
func (r *Router) EndSession(sessionID string) {
	r.mu.Lock()
	delete(r.canaries, sessionID)
	r.mu.Unlock()
	r.budget.EndSession(sessionID)
}

func (r *Router) audit(ctx context.Context, e audit.Entry) {
	if r.auditor == nil {
		return
	}
	if err := r.auditor.Append(ctx, e); err != nil {
		slog.Error("router.audit_failed", "action", e.Action, "error", err)
	}
}

// WrapExternal encloses raw content in the external-content marker. Wrapped
// content is always attributed trust="external": the marker tells the agent
// what it must not trust, regardless of who relayed it.
func WrapExternal(raw, source, canary string) string {
	return fmt.Sprintf("<external_content trust=\"external\" source=%q canary=%q>\n%s\n</external_content>", source, canary, raw)
}
