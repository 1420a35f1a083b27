// Package sandbox runs agent processes under platform isolation.
//
// Backends in order of preference: linux namespaces, macOS seatbelt, docker
// container, plain subprocess. The subprocess backend provides no isolation
// and exists for development.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nextlevelbuilder/clawden/internal/metrics"
)

// DefaultTimeout bounds a single agent run.
const DefaultTimeout = 300 * time.Second

// ErrTimeout reports that the process was killed by the run timeout.
var ErrTimeout = errors.New("sandbox: run timed out")

// Config describes one sandboxed run.
type Config struct {
	Command       []string
	Dir           string // working directory, mounted writable
	Env           []string
	Timeout       time.Duration
	MemoryLimitMB int64
	PidsLimit     int64
	AllowNetwork  bool
	Image         string // container backend only
}

// Process is a started sandboxed process. Stdin/Stdout/Stderr are live
// streams; Wait blocks until exit. Kill is idempotent and tolerates an
// already-exited process.
type Process struct {
	Stdin  io.WriteCloser
	Stdout io.ReadCloser
	Stderr io.ReadCloser

	pid      int
	waitOnce sync.Once
	waitErr  error
	waitFn   func() error
	killFn   func() error
	killed   atomic.Bool
}

// PID returns the host pid, or 0 when the backend has none.
func (p *Process) PID() int { return p.pid }

// Wait blocks until the process exits and returns its exit error.
func (p *Process) Wait() error {
	p.waitOnce.Do(func() { p.waitErr = p.waitFn() })
	return p.waitErr
}

// Kill terminates the process. Safe to call more than once and after exit.
func (p *Process) Kill() error {
	if !p.killed.CompareAndSwap(false, true) {
		return nil
	}
	if p.killFn == nil {
		return nil
	}
	return p.killFn()
}

// Killed reports whether Kill was invoked.
func (p *Process) Killed() bool { return p.killed.Load() }

// Backend starts isolated processes.
type Backend interface {
	Name() string
	Available() bool
	Start(ctx context.Context, cfg Config) (*Process, error)
}

// Manager selects a backend and enforces run timeouts.
type Manager struct {
	backend Backend
}

// NewManager resolves the named backend. "auto" picks the first available
// platform backend, falling back to subprocess.
func NewManager(name, image string) (*Manager, error) {
	candidates := map[string]Backend{
		"namespace":  newNamespaceBackend(),
		"seatbelt":   newSeatbeltBackend(),
		"container":  newContainerBackend(image),
		"subprocess": subprocessBackend{},
	}

	if name != "" && name != "auto" {
		b, ok := candidates[name]
		if !ok {
			return nil, fmt.Errorf("sandbox: unknown backend %q", name)
		}
		if !b.Available() {
			return nil, fmt.Errorf("sandbox: backend %q is not available on this host", name)
		}
		return &Manager{backend: b}, nil
	}

	for _, n := range []string{"namespace", "seatbelt", "container"} {
		if b := candidates[n]; b.Available() {
			slog.Info("sandbox.backend_selected", "backend", n)
			return &Manager{backend: b}, nil
		}
	}
	slog.Warn("sandbox.no_isolation", "backend", "subprocess")
	return &Manager{backend: candidates["subprocess"]}, nil
}

// Backend returns the selected backend name.
func (m *Manager) Backend() string { return m.backend.Name() }

// Start launches cfg.Command under the selected backend with the timeout
// armed. When the timeout fires the process is hard killed and Wait returns
// an error wrapping ErrTimeout.
func (m *Manager) Start(ctx context.Context, cfg Config) (*Process, error) {
	if len(cfg.Command) == 0 {
		return nil, errors.New("sandbox: empty command")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	proc, err := m.backend.Start(ctx, cfg)
	if err != nil {
		metrics.SandboxRuns.WithLabelValues(m.backend.Name(), "start_error").Inc()
		return nil, fmt.Errorf("sandbox: %s: %w", m.backend.Name(), err)
	}

	timer := time.AfterFunc(cfg.Timeout, func() {
		slog.Warn("sandbox.timeout", "backend", m.backend.Name(), "pid", proc.PID(), "timeout", cfg.Timeout)
		_ = proc.Kill()
	})

	inner := proc.waitFn
	proc.waitFn = func() error {
		err := inner()
		timedOut := !timer.Stop() && proc.Killed()
		switch {
		case timedOut:
			metrics.SandboxRuns.WithLabelValues(m.backend.Name(), "timeout").Inc()
			return fmt.Errorf("%w after %s", ErrTimeout, cfg.Timeout)
		case err != nil:
			metrics.SandboxRuns.WithLabelValues(m.backend.Name(), "error").Inc()
			return err
		default:
			metrics.SandboxRuns.WithLabelValues(m.backend.Name(), "ok").Inc()
			return nil
		}
	}
	return proc, nil
}
