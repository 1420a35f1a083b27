// Package gateway is the user-facing completions surface: an OpenAI-shaped
// chat endpoint over a unix socket or loopback TCP. Each completion runs one
// sandboxed agent session wired to the dispatcher and the router.
package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/clawden/internal/bus"
	"github.com/nextlevelbuilder/clawden/internal/config"
	"github.com/nextlevelbuilder/clawden/internal/dispatch"
	"github.com/nextlevelbuilder/clawden/internal/metrics"
	"github.com/nextlevelbuilder/clawden/internal/router"
	"github.com/nextlevelbuilder/clawden/internal/sandbox"
	"github.com/nextlevelbuilder/clawden/internal/store"
	"github.com/nextlevelbuilder/clawden/internal/taint"
	"github.com/nextlevelbuilder/clawden/internal/workspace"
)

const (
	maxRequestBytes = 4 << 20

	// blockedReply is returned when the inbound scan refuses the message.
	blockedReply = "This message was blocked by the inbound security scan."
)

// Server serves chat completions and runs the session worker.
type Server struct {
	cfg   *config.Config
	rt    *router.Router
	queue *bus.Queue
	st    *store.Store
	ws    *workspace.Manager
	sb    *sandbox.Manager
	disp  *dispatch.Server

	waiters *waiterTable
}

// New wires the gateway. It installs itself as the dispatcher's delegation
// callback so agent_delegate runs sub-agent sessions through the same path.
func New(cfg *config.Config, rt *router.Router, queue *bus.Queue, st *store.Store, ws *workspace.Manager, sb *sandbox.Manager, disp *dispatch.Server) *Server {
	s := &Server{
		cfg:     cfg,
		rt:      rt,
		queue:   queue,
		st:      st,
		ws:      ws,
		sb:      sb,
		disp:    disp,
		waiters: newWaiterTable(),
	}
	disp.SetDelegate(s.delegate)
	return s
}

// Listen serves HTTP until ctx is done. Unix socket mode relies on file
// permissions; TCP mode is loopback-only with a mandatory bearer token,
// enforced at config load.
func (s *Server) Listen(ctx context.Context) error {
	g := s.cfg.Gateway

	var (
		ln      net.Listener
		handler http.Handler
		err     error
	)
	if g.Socket != "" {
		if err := os.Remove(g.Socket); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("gateway: remove stale socket: %w", err)
		}
		ln, err = net.Listen("unix", g.Socket)
		if err != nil {
			return fmt.Errorf("gateway: listen %s: %w", g.Socket, err)
		}
		if err := os.Chmod(g.Socket, 0o600); err != nil {
			ln.Close()
			return fmt.Errorf("gateway: chmod socket: %w", err)
		}
		handler = s.routes(false)
		slog.Info("gateway.listening", "socket", g.Socket)
	} else {
		ln, err = net.Listen("tcp", g.Addr)
		if err != nil {
			return fmt.Errorf("gateway: listen %s: %w", g.Addr, err)
		}
		handler = s.routes(true)
		slog.Info("gateway.listening", "addr", g.Addr)
	}

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// routes builds the HTTP surface. /metrics is only exposed in TCP mode where
// the bearer check runs; the unix socket is already owner-only.
func (s *Server) routes(tcp bool) http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("/v1/chat/completions", s.handleChat)
	api.HandleFunc("/v1/models", s.handleModels)

	if !tcp {
		return countRequests(api)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/", countRequests(s.requireBearer(api)))
	return mux
}

// statusRecorder captures the response code for the request counter. Flush is
// forwarded so SSE streaming keeps working through the wrapper.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)
		metrics.GatewayRequests.WithLabelValues(strconv.Itoa(rec.code)).Inc()
	})
}

func (s *Server) requireBearer(next http.Handler) http.Handler {
	want := []byte("Bearer " + s.cfg.Gateway.BearerToken)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := []byte(r.Header.Get("Authorization"))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			writeError(w, http.StatusUnauthorized, "authentication_error", "missing or invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "invalid_request_error", "use POST")
		return
	}

	var req ChatRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "malformed request body: "+err.Error())
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "messages must not be empty")
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if !workspace.ValidSessionID(sessionID) {
		writeError(w, http.StatusBadRequest, "invalid_request_error", fmt.Sprintf("invalid session_id %q", req.SessionID))
		return
	}

	var content string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			content = req.Messages[i].Content
			break
		}
	}
	if content == "" {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "no user message found")
		return
	}

	model := req.Model
	if model == "" {
		model = s.cfg.Gateway.Model
	}
	userID := req.User
	if userID == "" {
		userID = "default"
	}

	msg := &bus.InboundMessage{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Address:   bus.Address{Provider: "openai", Scope: bus.ScopeDM, ID: userID},
		Sender:    userID,
		Content:   content,
		AgentID:   s.cfg.Agent.DefaultID,
		UserID:    userID,
	}

	// Register before enqueue so the worker always finds the waiter.
	ch := s.waiters.add(msg.ID)
	defer s.waiters.drop(msg.ID)

	res, err := s.rt.ProcessInbound(r.Context(), msg, taint.TrustUser)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	if !res.Queued {
		s.respond(w, req.Stream, model, blockedReply, "content_filter")
		return
	}
	metrics.QueueDepth.Set(float64(s.queue.Len()))

	timeout := time.Duration(s.cfg.Sandbox.TimeoutSeconds)*time.Second + 30*time.Second
	select {
	case out := <-ch:
		if out.err != nil {
			writeError(w, http.StatusBadGateway, "server_error", out.err.Error())
			return
		}
		s.respond(w, req.Stream, model, out.content, "stop")
	case <-r.Context().Done():
	case <-time.After(timeout):
		writeError(w, http.StatusGatewayTimeout, "server_error", "agent run timed out")
	}
}

func (s *Server) respond(w http.ResponseWriter, stream bool, model, content, finishReason string) {
	if stream {
		writeStream(w, model, content, finishReason)
		return
	}
	writeCompletion(w, model, content, finishReason)
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "invalid_request_error", "use GET")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(modelList{
		Object: "list",
		Data: []modelInfo{{
			ID:      s.cfg.Gateway.Model,
			Object:  "model",
			Created: time.Now().Unix(),
			OwnedBy: "clawden",
		}},
	})
}
