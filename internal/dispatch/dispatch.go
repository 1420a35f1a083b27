// Package dispatch serves the agent-facing request protocol over per-session
// unix sockets: length-prefixed JSON frames in, validated and taint-gated
// handler calls out, every step audited.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/nextlevelbuilder/clawden/internal/audit"
	"github.com/nextlevelbuilder/clawden/internal/metrics"
	"github.com/nextlevelbuilder/clawden/internal/schema"
	"github.com/nextlevelbuilder/clawden/internal/taint"
	"github.com/nextlevelbuilder/clawden/pkg/wire"
)

// Defaults for the delegation guards and the per-call timeout.
const (
	DefaultMaxDelegationDepth = 2
	DefaultMaxConcurrent      = 3
	DefaultCallTimeout        = 30 * time.Second
)

const argsPreviewLimit = 500

// Session is the trusted call context bound to a connection. The host sets
// it when it spawns the agent; agents cannot alter it.
type Session struct {
	ID      string
	AgentID string
	UserID  string
	Actor   taint.Trust
}

// Call is one validated request handed to a handler.
type Call struct {
	Session Session
	Action  string
	Args    map[string]any
	Payload []byte
}

// HandlerFunc executes one action. Returned fields are merged into the
// {ok:true} reply.
type HandlerFunc func(ctx context.Context, call *Call) (map[string]any, error)

// DelegateFunc runs a delegated sub-agent task and returns its output.
type DelegateFunc func(ctx context.Context, sess Session, targetAgent, task, taskContext string) (string, error)

// Options tunes a Server. Zero values select the defaults.
type Options struct {
	MaxDelegationDepth int
	MaxConcurrent      int
	CallTimeout        time.Duration
}

// Server validates, gates and dispatches agent requests.
type Server struct {
	registry *schema.Registry
	budget   *taint.Budget
	auditor  *audit.Log

	maxDepth    int
	callTimeout time.Duration
	delegations *semaphore.Weighted

	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	delegate DelegateFunc
}

// NewServer builds a dispatcher. registry, budget and auditor are required.
func NewServer(registry *schema.Registry, budget *taint.Budget, auditor *audit.Log, opts Options) *Server {
	if opts.MaxDelegationDepth <= 0 {
		opts.MaxDelegationDepth = DefaultMaxDelegationDepth
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	s := &Server{
		registry:    registry,
		budget:      budget,
		auditor:     auditor,
		maxDepth:    opts.MaxDelegationDepth,
		callTimeout: opts.CallTimeout,
		delegations: semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		handlers:    make(map[string]HandlerFunc),
	}
	s.Register("agent_delegate", s.handleDelegate)
	return s
}

// Register installs the handler for an action, replacing any previous one.
func (s *Server) Register(action string, h HandlerFunc) {
	s.mu.Lock()
	s.handlers[action] = h
	s.mu.Unlock()
}

// SetDelegate installs the sub-agent callback used by agent_delegate.
func (s *Server) SetDelegate(d DelegateFunc) {
	s.mu.Lock()
	s.delegate = d
	s.mu.Unlock()
}

// Listen binds a unix socket for one session and serves connections until
// ctx is done or the returned closer is closed. Stale socket files are
// removed before listen; the socket is owner-only.
func (s *Server) Listen(ctx context.Context, socketPath string, sess Session) (net.Listener, error) {
	if err := os.Remove(socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("dispatch: remove stale socket: %w", err)
	}
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("dispatch: listen %s: %w", socketPath, err)
	}
	if err := os.Chmod(socketPath, 0o600); err != nil {
		ln.Close()
		return nil, fmt.Errorf("dispatch: chmod socket: %w", err)
	}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go s.ServeConn(ctx, conn, sess)
		}
	}()
	return ln, nil
}

// ServeConn handles one agent connection until EOF or a frame-level error.
func (s *Server) ServeConn(ctx context.Context, conn net.Conn, sess Session) {
	defer conn.Close()
	r := wire.NewReader(conn)
	w := wire.NewWriter(conn)

	for {
		payload, err := r.ReadFrame()
		if err != nil {
			// Frame errors (EOF, oversize, truncation) end the connection.
			if !errors.Is(err, net.ErrClosed) && !isEOF(err) {
				slog.Debug("dispatch.connection_closed", "session_id", sess.ID, "error", err)
			}
			return
		}
		resp := s.Dispatch(ctx, sess, payload)
		if err := w.WriteJSON(resp); err != nil {
			slog.Warn("dispatch.write_failed", "session_id", sess.ID, "error", err)
			return
		}
	}
}

// Dispatch runs the full pipeline for one raw payload and returns the reply.
func (s *Server) Dispatch(ctx context.Context, sess Session, payload []byte) wire.Response {
	var probe any
	if err := json.Unmarshal(payload, &probe); err != nil {
		s.audit(ctx, sess, "ipc_parse_error", audit.ResultError, err.Error(), nil, 0)
		return wire.ErrResponse("invalid JSON payload")
	}

	action, err := s.registry.ValidateEnvelope(payload)
	if err != nil {
		s.audit(ctx, sess, "ipc_unknown_action", audit.ResultError, err.Error(),
			map[string]any{"action": action}, 0)
		return wire.ErrResponse(err.Error())
	}

	if err := s.registry.ValidateAction(action, payload); err != nil {
		s.audit(ctx, sess, "ipc_validation_failure", audit.ResultError, err.Error(),
			map[string]any{"action": action, "preview": preview(payload)}, 0)
		metrics.DispatchTotal.WithLabelValues(action, "invalid").Inc()
		return wire.ErrResponse(err.Error())
	}

	if s.budget.IsGated(action) {
		d := s.budget.CheckAction(sess.ID, action, sess.Actor)
		if !d.Allowed {
			s.audit(ctx, sess, "ipc_taint_blocked", audit.ResultBlocked, d.Reason,
				map[string]any{"action": action, "ratio": d.Ratio, "threshold": d.Threshold}, 0)
			metrics.DispatchTotal.WithLabelValues(action, "taint_blocked").Inc()
			metrics.TaintDenials.WithLabelValues(action).Inc()
			return wire.Response{OK: false, TaintBlocked: true, Error: d.Reason}
		}
	}

	s.mu.RLock()
	h := s.handlers[action]
	s.mu.RUnlock()
	if h == nil {
		s.audit(ctx, sess, "ipc_handler_error", audit.ResultError,
			"no handler registered", map[string]any{"action": action}, 0)
		return wire.ErrResponse(fmt.Sprintf("action %s has no handler", action))
	}

	var args map[string]any
	if err := json.Unmarshal(payload, &args); err != nil {
		return wire.ErrResponse("invalid JSON payload")
	}
	delete(args, "action")

	call := &Call{Session: sess, Action: action, Args: args, Payload: payload}
	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	start := time.Now()
	fields, err := runHandler(callCtx, h, call)
	elapsed := time.Since(start)
	metrics.DispatchDuration.WithLabelValues(action).Observe(elapsed.Seconds())

	if err != nil {
		s.audit(ctx, sess, "ipc_handler_error", audit.ResultError, err.Error(),
			map[string]any{"action": action}, elapsed)
		metrics.DispatchTotal.WithLabelValues(action, "error").Inc()
		return wire.ErrResponse(err.Error())
	}

	s.audit(ctx, sess, action, audit.ResultSuccess, "", nil, elapsed)
	metrics.DispatchTotal.WithLabelValues(action, "success").Inc()
	return wire.OKResponse(fields)
}

// runHandler converts a handler panic into an error so one bad action cannot
// take down the connection loop.
func runHandler(ctx context.Context, h HandlerFunc, call *Call) (fields map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, call)
}

func (s *Server) audit(ctx context.Context, sess Session, action string, result, detail string, args map[string]any, elapsed time.Duration) {
	if s.auditor == nil {
		return
	}
	e := audit.Entry{
		SessionID:  sess.ID,
		Action:     action,
		Result:     result,
		Taint:      string(sess.Actor),
		Detail:     detail,
		Args:       args,
		DurationMs: elapsed.Milliseconds(),
	}
	if err := s.auditor.Append(ctx, e); err != nil {
		slog.Error("dispatch.audit_failed", "action", action, "error", err)
	}
}

func preview(payload []byte) string {
	if len(payload) > argsPreviewLimit {
		return string(payload[:argsPreviewLimit])
	}
	return string(payload)
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}
