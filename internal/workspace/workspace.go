// Package workspace manages the tiered filesystem layout below the host root
// and guards every path computed from request input.
//
// Layout:
//
//	<root>/data/                    journals
//	<root>/agents/<id>/agent/       identity + shared workspace (RO to sandbox)
//	<root>/agents/<id>/skills/      skill files (RO to sandbox)
//	<root>/agents/<id>/users/<uid>/workspace/   per-user tier (RW)
//	<root>/scratch/<sessionDir>/    per-session scratch (RW, deleted on end)
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Tier names the three sandbox-visible subtrees.
type Tier string

const (
	TierShared  Tier = "shared"
	TierUser    Tier = "user"
	TierScratch Tier = "scratch"
)

// ErrPathEscape is returned when a resolved path leaves its tier root.
var ErrPathEscape = errors.New("workspace: path escapes tier root")

// ErrBadSession is returned for malformed session identifiers.
var ErrBadSession = errors.New("workspace: invalid session id")

// EnvHome overrides the host root directory.
const EnvHome = "CLAWDEN_HOME"

// Manager resolves tier roots for a given agent/user/session triple.
type Manager struct {
	root string
}

// NewManager creates a manager rooted at root. An empty root consults
// CLAWDEN_HOME and falls back to ~/.clawden.
func NewManager(root string) (*Manager, error) {
	if root == "" {
		root = os.Getenv(EnvHome)
	}
	if root == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("workspace: resolve home: %w", err)
		}
		root = filepath.Join(home, ".clawden")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("workspace: resolve root: %w", err)
	}
	return &Manager{root: abs}, nil
}

// Root returns the host root directory.
func (m *Manager) Root() string { return m.root }

// DataDir returns the journal directory, created on demand.
func (m *Manager) DataDir() (string, error) {
	dir := filepath.Join(m.root, "data")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("workspace: create data dir: %w", err)
	}
	return dir, nil
}

// AgentDir returns the agent-shared subtree for agentID.
func (m *Manager) AgentDir(agentID string) (string, error) {
	if !segmentRe.MatchString(agentID) {
		return "", fmt.Errorf("workspace: invalid agent id %q", agentID)
	}
	return filepath.Join(m.root, "agents", agentID, "agent"), nil
}

// SkillsDir returns the agent's skills subtree.
func (m *Manager) SkillsDir(agentID string) (string, error) {
	if !segmentRe.MatchString(agentID) {
		return "", fmt.Errorf("workspace: invalid agent id %q", agentID)
	}
	return filepath.Join(m.root, "agents", agentID, "skills"), nil
}

// UserDir returns the per-user read-write subtree.
func (m *Manager) UserDir(agentID, userID string) (string, error) {
	if !segmentRe.MatchString(agentID) || !segmentRe.MatchString(userID) {
		return "", fmt.Errorf("workspace: invalid agent/user id %q/%q", agentID, userID)
	}
	return filepath.Join(m.root, "agents", agentID, "users", userID, "workspace"), nil
}

// ScratchDir returns (and creates) the per-session scratch subtree.
func (m *Manager) ScratchDir(sessionID string) (string, error) {
	rel := SessionDir(sessionID)
	if rel == "" {
		return "", fmt.Errorf("%w: %q", ErrBadSession, sessionID)
	}
	dir := filepath.Join(m.root, "scratch", rel)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("workspace: create scratch: %w", err)
	}
	return dir, nil
}

// RemoveScratch deletes the session scratch subtree. Best effort.
func (m *Manager) RemoveScratch(sessionID string) {
	rel := SessionDir(sessionID)
	if rel == "" {
		return
	}
	os.RemoveAll(filepath.Join(m.root, "scratch", rel))
}

// TierRoot resolves a tier to its root for the given context. Every tier root
// is created on demand so Resolve can stat it.
func (m *Manager) TierRoot(tier Tier, agentID, userID, sessionID string) (string, error) {
	var dir string
	var err error
	switch tier {
	case TierShared:
		dir, err = m.AgentDir(agentID)
	case TierUser:
		dir, err = m.UserDir(agentID, userID)
	case TierScratch:
		return m.ScratchDir(sessionID)
	default:
		return "", fmt.Errorf("workspace: unknown tier %q", tier)
	}
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("workspace: create tier dir: %w", err)
	}
	return dir, nil
}

// Resolve joins rel under root and verifies the result stays strictly inside
// root. Absolute inputs and traversal via .. both fail with ErrPathEscape.
func Resolve(root, rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("%w: empty path", ErrPathEscape)
	}
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: absolute path %q", ErrPathEscape, rel)
	}
	abs := filepath.Clean(filepath.Join(root, rel))
	rootClean := filepath.Clean(root)
	if abs == rootClean {
		return "", fmt.Errorf("%w: %q resolves to the tier root", ErrPathEscape, rel)
	}
	if !strings.HasPrefix(abs, rootClean+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrPathEscape, rel)
	}
	return abs, nil
}
