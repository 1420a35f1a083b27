package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const depthMarker = "#depth="

// Depth extracts the delegation depth encoded in an agent id.
// "research" has depth 0, "research#depth=2" has depth 2.
func Depth(agentID string) int {
	i := strings.LastIndex(agentID, depthMarker)
	if i < 0 {
		return 0
	}
	d, err := strconv.Atoi(agentID[i+len(depthMarker):])
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// WithDepth returns agentID with the depth suffix set to d.
func WithDepth(agentID string, d int) string {
	if i := strings.LastIndex(agentID, depthMarker); i >= 0 {
		agentID = agentID[:i]
	}
	return agentID + depthMarker + strconv.Itoa(d)
}

// handleDelegate runs a sub-agent task through the host-supplied callback.
// The in-flight slot is taken before the callback starts and released on
// every exit path.
func (s *Server) handleDelegate(ctx context.Context, call *Call) (map[string]any, error) {
	s.mu.RLock()
	delegate := s.delegate
	s.mu.RUnlock()
	if delegate == nil {
		return nil, errors.New("delegation is not configured")
	}

	depth := Depth(call.Session.AgentID)
	if depth >= s.maxDepth {
		return nil, fmt.Errorf("Max delegation depth %d reached", s.maxDepth)
	}

	if !s.delegations.TryAcquire(1) {
		return nil, errors.New("delegation concurrency limit reached")
	}
	defer s.delegations.Release(1)

	targetAgent, _ := call.Args["targetAgent"].(string)
	task, _ := call.Args["task"].(string)
	taskContext, _ := call.Args["context"].(string)

	child := call.Session
	child.AgentID = WithDepth(targetAgent, depth+1)

	output, err := delegate(ctx, child, targetAgent, task, taskContext)
	if err != nil {
		return nil, fmt.Errorf("delegation to %s failed: %w", targetAgent, err)
	}
	return map[string]any{"agent": targetAgent, "output": output}, nil
}
