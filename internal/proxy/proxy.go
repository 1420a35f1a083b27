// Package proxy is the credential boundary: a unix-socket HTTP server that
// forwards POST /v1/messages to the upstream model API, stripping any
// agent-supplied credentials and injecting the real ones. The sandbox only
// ever sees the socket.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/nextlevelbuilder/clawden/internal/config"
	"github.com/nextlevelbuilder/clawden/internal/diagnose"
)

// MaxBodyBytes caps the forwarded request body.
const MaxBodyBytes = 4 << 20

const apiKeyHeader = "x-api-key"

// hopHeaders are never forwarded upstream.
var hopHeaders = []string{"Host", "Connection", "Content-Length"}

// Server forwards messages requests with injected credentials.
type Server struct {
	upstream *url.URL
	creds    config.Credentials
	client   *http.Client
}

// New builds a proxy for the given upstream base URL.
func New(upstreamBaseURL string, creds config.Credentials) (*Server, error) {
	u, err := url.Parse(upstreamBaseURL)
	if err != nil {
		return nil, fmt.Errorf("proxy: upstream url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("proxy: upstream scheme %q not supported", u.Scheme)
	}
	return &Server{
		upstream: u,
		creds:    creds,
		// No client timeout: responses may stream for minutes. Cancellation
		// comes from the inbound request context.
		client: &http.Client{},
	}, nil
}

// Listen serves on the unix socket until ctx is done. A stale socket file is
// removed before bind.
func (s *Server) Listen(ctx context.Context, socketPath string) error {
	if err := os.Remove(socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("proxy: remove stale socket: %w", err)
	}
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("proxy: listen %s: %w", socketPath, err)
	}
	if err := os.Chmod(socketPath, 0o600); err != nil {
		ln.Close()
		return fmt.Errorf("proxy: chmod socket: %w", err)
	}

	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	slog.Info("proxy.listening", "socket", socketPath, "upstream", s.upstream.String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ServeHTTP implements the single-route surface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || r.URL.Path != "/v1/messages" {
		http.NotFound(w, r)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "request body exceeds 4 MiB", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	target := *s.upstream
	target.Path = strings.TrimSuffix(target.Path, "/") + "/v1/messages"

	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, target.String(), strings.NewReader(string(body)))
	if err != nil {
		http.Error(w, "failed to build upstream request", http.StatusInternalServerError)
		return
	}

	copyRequestHeaders(req.Header, r.Header)
	s.injectCredentials(req.Header)

	resp, err := s.client.Do(req)
	if err != nil {
		slog.Error("proxy.upstream_failed", "error", err)
		http.Error(w, "upstream request failed: "+diagnose.Describe(err), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	for k, vals := range resp.Header {
		if strings.EqualFold(k, "Transfer-Encoding") {
			continue
		}
		for _, v := range vals {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		slog.Debug("proxy.stream_interrupted", "error", err)
	}
}

// copyRequestHeaders forwards everything except hop headers and any
// credential the agent tried to smuggle through.
func copyRequestHeaders(dst, src http.Header) {
	for k, vals := range src {
		skip := false
		for _, h := range hopHeaders {
			if strings.EqualFold(k, h) {
				skip = true
				break
			}
		}
		if skip {
			continue
		}
		for _, v := range vals {
			dst.Add(k, v)
		}
	}
}

// injectCredentials replaces whatever auth the client sent with the host's
// real credentials. API key wins over OAuth.
func (s *Server) injectCredentials(h http.Header) {
	h.Del(apiKeyHeader)
	h.Del("Authorization")
	switch {
	case s.creds.APIKey != "":
		h.Set(apiKeyHeader, s.creds.APIKey)
	case s.creds.OAuthToken != "":
		h.Set("Authorization", "Bearer "+s.creds.OAuthToken)
	}
}
