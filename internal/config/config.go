// Package config loads and validates the host configuration: a YAML file,
// an optional .env file, and a fixed set of environment overrides.
package config

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// Environment variables consumed by the host.
const (
	EnvHome             = "CLAWDEN_HOME"
	EnvAPIKey           = "ANTHROPIC_API_KEY"
	EnvOAuthToken       = "CLAWDEN_OAUTH_TOKEN"
	EnvGatewayToken     = "CLAWDEN_GATEWAY_TOKEN"
	EnvScannerThreshold = "CLAWDEN_SCANNER_THRESHOLD"
	EnvCredStore        = "CLAWDEN_CRED_STORE"
	EnvCredPassphrase   = "CLAWDEN_CRED_PASSPHRASE"
)

// Config is the root configuration.
type Config struct {
	Home       string           `yaml:"home"`
	Agent      AgentConfig      `yaml:"agent"`
	Gateway    GatewayConfig    `yaml:"gateway"`
	Proxy      ProxyConfig      `yaml:"proxy"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Security   SecurityConfig   `yaml:"security"`
	Sandbox    SandboxConfig    `yaml:"sandbox"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`

	// Credentials are read from the environment once at load time, never
	// from the YAML file.
	Credentials Credentials `yaml:"-"`
}

// AgentConfig names the default agent and its run command.
type AgentConfig struct {
	DefaultID string   `yaml:"default_id" validate:"required"`
	Command   []string `yaml:"command" validate:"required,min=1"`
}

// GatewayConfig configures the completions endpoint.
// Socket selects unix mode (no auth, OS permissions); Addr selects loopback
// TCP (bearer token mandatory). Socket wins when both are set.
type GatewayConfig struct {
	Socket      string `yaml:"socket"`
	Addr        string `yaml:"addr"`
	BearerToken string `yaml:"-"` // env only
	Model       string `yaml:"model"`
}

// ProxyConfig configures the credential-injecting upstream proxy.
type ProxyConfig struct {
	Socket          string `yaml:"socket" validate:"required"`
	UpstreamBaseURL string `yaml:"upstream_base_url" validate:"required,url"`
}

// DispatcherConfig configures the agent-facing request server.
type DispatcherConfig struct {
	Socket             string  `yaml:"socket" validate:"required"`
	MaxDelegationDepth int     `yaml:"max_delegation_depth" validate:"min=1,max=10"`
	MaxConcurrent      int     `yaml:"max_concurrent_delegations" validate:"min=1,max=64"`
	CallTimeoutSeconds float64 `yaml:"call_timeout_seconds" validate:"min=1"`
}

// CallTimeout returns the per-call timeout as a duration.
func (d DispatcherConfig) CallTimeout() time.Duration {
	return time.Duration(d.CallTimeoutSeconds * float64(time.Second))
}

// SecurityConfig tunes the scanner and the taint budget.
type SecurityConfig struct {
	ScannerThreshold float64  `yaml:"scanner_threshold" validate:"min=0,max=10"`
	TaintThreshold   float64  `yaml:"taint_threshold" validate:"min=0,max=1"`
	GatedActions     []string `yaml:"gated_actions"`
	AuditMaxRows     int64    `yaml:"audit_max_rows" validate:"min=0"`
}

// SandboxConfig selects and tunes the isolation backend.
type SandboxConfig struct {
	Backend        string `yaml:"backend" validate:"oneof=auto namespace seatbelt container subprocess"`
	Image          string `yaml:"image"`
	TimeoutSeconds int    `yaml:"timeout_seconds" validate:"min=1,max=3600"`
	MemoryLimitMB  int64  `yaml:"memory_limit_mb" validate:"min=0"`
	PidsLimit      int64  `yaml:"pids_limit" validate:"min=0"`
}

// SchedulerConfig tunes heartbeats, cron and hint gating.
type SchedulerConfig struct {
	Enabled                  bool    `yaml:"enabled"`
	Timezone                 string  `yaml:"timezone"`
	ActiveHoursStart         string  `yaml:"active_hours_start"` // "08:00"
	ActiveHoursEnd           string  `yaml:"active_hours_end"`   // "22:00"
	HeartbeatIntervalMinutes int     `yaml:"heartbeat_interval_minutes" validate:"min=0"`
	HintConfidenceThreshold  float64 `yaml:"hint_confidence_threshold" validate:"min=0,max=1"`
	HintCooldownMinutes      int     `yaml:"hint_cooldown_minutes" validate:"min=0"`
	SessionTokenBudget       int64   `yaml:"session_token_budget" validate:"min=0"`
}

// Credentials are the upstream API credentials, environment-sourced.
type Credentials struct {
	APIKey     string
	OAuthToken string
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			DefaultID: "default",
			Command:   []string{"clawden-agent"},
		},
		Gateway: GatewayConfig{
			Socket: "gateway.sock",
			Model:  "clawden-agent",
		},
		Proxy: ProxyConfig{
			Socket:          "proxy.sock",
			UpstreamBaseURL: "https://api.anthropic.com",
		},
		Dispatcher: DispatcherConfig{
			Socket:             "dispatch.sock",
			MaxDelegationDepth: 2,
			MaxConcurrent:      3,
			CallTimeoutSeconds: 30,
		},
		Security: SecurityConfig{
			ScannerThreshold: 0.7,
			TaintThreshold:   0.5,
			AuditMaxRows:     500000,
		},
		Sandbox: SandboxConfig{
			Backend:        "auto",
			TimeoutSeconds: 300,
			MemoryLimitMB:  512,
			PidsLimit:      128,
		},
		Scheduler: SchedulerConfig{
			Enabled:                  true,
			Timezone:                 "UTC",
			ActiveHoursStart:         "00:00",
			ActiveHoursEnd:           "24:00",
			HeartbeatIntervalMinutes: 30,
			HintConfidenceThreshold:  0.6,
			HintCooldownMinutes:      60,
			SessionTokenBudget:       200000,
		},
	}
}

// validateGateway enforces the binding policy: unix socket mode needs no
// auth, loopback TCP requires a bearer token, non-loopback binds are
// forbidden outright.
func (c *Config) validateGateway() error {
	g := c.Gateway
	if g.Socket != "" {
		return nil
	}
	if g.Addr == "" {
		return fmt.Errorf("gateway: either socket or addr must be set")
	}
	host, _, err := net.SplitHostPort(g.Addr)
	if err != nil {
		return fmt.Errorf("gateway: invalid addr %q: %w", g.Addr, err)
	}
	ip := net.ParseIP(host)
	if host != "localhost" && (ip == nil || !ip.IsLoopback()) {
		return fmt.Errorf("gateway: binding to non-loopback interface %q is forbidden", host)
	}
	if strings.TrimSpace(g.BearerToken) == "" {
		return fmt.Errorf("gateway: TCP mode requires a bearer token (%s)", EnvGatewayToken)
	}
	return nil
}
