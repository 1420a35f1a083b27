package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/clawden/internal/bus"
	"github.com/nextlevelbuilder/clawden/internal/dispatch"
	"github.com/nextlevelbuilder/clawden/internal/metrics"
	"github.com/nextlevelbuilder/clawden/internal/router"
	"github.com/nextlevelbuilder/clawden/internal/sandbox"
	"github.com/nextlevelbuilder/clawden/internal/taint"
)

const (
	historyLimit   = 50
	maxAgentOutput = 8 << 20
	maxAgentStderr = 64 << 10
	stderrTailLen  = 512
)

type outcome struct {
	content string
	err     error
}

// waiterTable maps in-flight message ids to the HTTP handlers waiting on
// their results.
type waiterTable struct {
	mu sync.Mutex
	m  map[string]chan outcome
}

func newWaiterTable() *waiterTable {
	return &waiterTable{m: make(map[string]chan outcome)}
}

func (t *waiterTable) add(id string) chan outcome {
	ch := make(chan outcome, 1)
	t.mu.Lock()
	t.m[id] = ch
	t.mu.Unlock()
	return ch
}

func (t *waiterTable) drop(id string) {
	t.mu.Lock()
	delete(t.m, id)
	t.mu.Unlock()
}

func (t *waiterTable) take(id string) chan outcome {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch := t.m[id]
	delete(t.m, id)
	return ch
}

// agentInput is the JSON handed to the agent on stdin.
type agentInput struct {
	SessionID string        `json:"session_id"`
	AgentID   string        `json:"agent_id"`
	History   []ChatMessage `json:"history"`
	Message   string        `json:"message"`
}

// Run is the session worker: it consumes the inbound queue one message at a
// time, runs the agent, and hands the result to a waiting HTTP handler when
// one exists. Scheduler deliveries have no waiter; their output only reaches
// the journal.
func (s *Server) Run(ctx context.Context) error {
	for {
		msg, err := s.queue.Dequeue(ctx)
		if err != nil {
			return err
		}
		metrics.QueueDepth.Set(float64(s.queue.Len()))

		content, runErr := s.runSession(ctx, msg)
		if ch := s.waiters.take(msg.ID); ch != nil {
			ch <- outcome{content: content, err: runErr}
			continue
		}
		if runErr != nil {
			slog.Error("gateway.background_run_failed", "session_id", msg.SessionID, "error", runErr)
		}
	}
}

// runSession executes one agent turn: stage a scratch workspace, bind the
// per-session dispatch socket, spawn the sandboxed agent with the journal
// history and the wrapped message on stdin, then route its stdout back out
// through the trust boundary.
func (s *Server) runSession(ctx context.Context, msg *bus.InboundMessage) (string, error) {
	agentID := msg.AgentID
	if agentID == "" {
		agentID = s.cfg.Agent.DefaultID
	}
	// Delegated agents carry a depth suffix that must not reach the
	// filesystem layer.
	baseAgent, _, _ := strings.Cut(agentID, "#")

	userID := msg.UserID
	if userID == "" {
		userID = "default"
	}
	trust := taint.TrustUser
	if msg.Address.Provider == "scheduler" {
		trust = taint.TrustSystem
	}

	scratch, err := s.ws.ScratchDir(msg.SessionID)
	if err != nil {
		s.queue.MarkFailed(msg.ID, err.Error())
		return "", fmt.Errorf("gateway: scratch dir: %w", err)
	}
	defer s.ws.RemoveScratch(msg.SessionID)

	s.stageWorkspace(scratch, baseAgent, msg)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sock := filepath.Join(scratch, "dispatch.sock")
	sess := dispatch.Session{ID: msg.SessionID, AgentID: agentID, UserID: userID, Actor: trust}
	ln, err := s.disp.Listen(runCtx, sock, sess)
	if err != nil {
		s.queue.MarkFailed(msg.ID, err.Error())
		return "", fmt.Errorf("gateway: dispatch socket: %w", err)
	}
	defer ln.Close()

	history, err := s.st.History(ctx, msg.SessionID, historyLimit)
	if err != nil {
		slog.Warn("gateway.history_failed", "session_id", msg.SessionID, "error", err)
	}
	input := agentInput{
		SessionID: msg.SessionID,
		AgentID:   baseAgent,
		History:   make([]ChatMessage, 0, len(history)),
		Message:   msg.Content,
	}
	for _, t := range history {
		input.History = append(input.History, ChatMessage{Role: t.Role, Content: t.Content})
	}
	payload, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("gateway: encode agent input: %w", err)
	}

	proc, err := s.sb.Start(ctx, sandbox.Config{
		Command:       s.cfg.Agent.Command,
		Dir:           scratch,
		Env:           s.agentEnv(scratch, sock, msg.SessionID, baseAgent),
		Timeout:       time.Duration(s.cfg.Sandbox.TimeoutSeconds) * time.Second,
		MemoryLimitMB: s.cfg.Sandbox.MemoryLimitMB,
		PidsLimit:     s.cfg.Sandbox.PidsLimit,
		Image:         s.cfg.Sandbox.Image,
	})
	if err != nil {
		s.queue.MarkFailed(msg.ID, err.Error())
		return "", fmt.Errorf("gateway: start agent: %w", err)
	}

	var stdout, stderr bytes.Buffer
	g, _ := errgroup.WithContext(runCtx)
	g.Go(func() error {
		defer proc.Stdin.Close()
		if _, err := proc.Stdin.Write(payload); err != nil {
			// The agent may exit before reading stdin. Its exit status is
			// what matters.
			slog.Debug("gateway.stdin_write_failed", "session_id", msg.SessionID, "error", err)
		}
		return nil
	})
	g.Go(func() error {
		_, err := io.Copy(&stdout, io.LimitReader(proc.Stdout, maxAgentOutput))
		return err
	})
	g.Go(func() error {
		_, err := io.Copy(&stderr, io.LimitReader(proc.Stderr, maxAgentStderr))
		return err
	})
	copyErr := g.Wait()
	exitErr := proc.Wait()

	if exitErr != nil {
		s.queue.MarkFailed(msg.ID, exitErr.Error())
		slog.Error("gateway.agent_failed", "session_id", msg.SessionID, "error", exitErr)
		return "", fmt.Errorf("gateway: agent run failed: %v%s", exitErr, stderrTail(stderr.String()))
	}
	if copyErr != nil {
		slog.Warn("gateway.stream_error", "session_id", msg.SessionID, "error", copyErr)
	}

	raw := strings.TrimSpace(stdout.String())
	out := s.rt.ProcessOutbound(ctx, raw, msg.SessionID, s.rt.Canary(msg.SessionID))

	if err := s.st.AppendTurn(ctx, msg.SessionID, "user", msg.Content); err != nil {
		slog.Error("gateway.journal_failed", "session_id", msg.SessionID, "error", err)
	}
	if err := s.st.AppendTurn(ctx, msg.SessionID, "assistant", out.Content); err != nil {
		slog.Error("gateway.journal_failed", "session_id", msg.SessionID, "error", err)
	}
	return out.Content, nil
}

// stageWorkspace populates the scratch dir with a skills copy and a context
// file. Everything here is best effort; a missing skills dir is normal.
func (s *Server) stageWorkspace(scratch, agentID string, msg *bus.InboundMessage) {
	if skills, err := s.ws.SkillsDir(agentID); err == nil {
		if err := copyTree(skills, filepath.Join(scratch, "skills")); err != nil {
			slog.Debug("gateway.skills_copy_failed", "agent_id", agentID, "error", err)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Session Context\n\n")
	fmt.Fprintf(&b, "- Session: %s\n- Agent: %s\n- Provider: %s\n- Sender: %s\n",
		msg.SessionID, agentID, msg.Address.Provider, msg.Sender)
	if !msg.Timestamp.IsZero() {
		fmt.Fprintf(&b, "- Received: %s\n", msg.Timestamp.Format(time.RFC3339))
	}
	if err := os.WriteFile(filepath.Join(scratch, "CONTEXT.md"), []byte(b.String()), 0o644); err != nil {
		slog.Debug("gateway.context_write_failed", "error", err)
	}
	if err := os.WriteFile(filepath.Join(scratch, "MESSAGE.md"), []byte(msg.Content), 0o644); err != nil {
		slog.Debug("gateway.message_write_failed", "error", err)
	}
}

func (s *Server) agentEnv(scratch, sock, sessionID, agentID string) []string {
	env := []string{
		"PATH=" + os.Getenv("PATH"),
		"HOME=" + scratch,
		"CLAWDEN_DISPATCH_SOCKET=" + sock,
		"CLAWDEN_SESSION_ID=" + sessionID,
		"CLAWDEN_AGENT_ID=" + agentID,
	}
	if s.cfg.Proxy.Socket != "" {
		env = append(env, "CLAWDEN_PROXY_SOCKET="+s.cfg.Proxy.Socket)
	}
	return env
}

// delegate runs a sub-agent session synchronously. The caller already
// enforced the depth and concurrency guards; sess.AgentID carries the child
// depth suffix so nested delegations keep counting.
func (s *Server) delegate(ctx context.Context, sess dispatch.Session, targetAgent, task, taskContext string) (string, error) {
	content := task
	if taskContext != "" {
		content = taskContext + "\n\n" + task
	}
	childSession := fmt.Sprintf("delegate:%s:%s", targetAgent, uuid.NewString()[:8])

	msg := &bus.InboundMessage{
		ID:        uuid.NewString(),
		SessionID: childSession,
		Address:   bus.Address{Provider: "delegate", Scope: bus.ScopeDM, ID: sess.ID},
		Sender:    sess.AgentID,
		Content:   router.WrapExternal(content, "delegate", ""),
		AgentID:   sess.AgentID,
		UserID:    sess.UserID,
		Timestamp: time.Now().UTC(),
	}
	defer s.rt.EndSession(childSession)
	return s.runSession(ctx, msg)
}

// copyTree copies src into dst, creating directories as needed. A missing
// src is not an error.
func copyTree(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("gateway: %s is not a directory", src)
	}
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, 0o644)
	})
}

func stderrTail(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if len(s) > stderrTailLen {
		s = s[len(s)-stderrTailLen:]
	}
	return ": " + s
}
