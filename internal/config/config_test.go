package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Dispatcher.MaxDelegationDepth != 2 {
		t.Errorf("MaxDelegationDepth = %d, want 2", cfg.Dispatcher.MaxDelegationDepth)
	}
	if cfg.Dispatcher.MaxConcurrent != 3 {
		t.Errorf("MaxConcurrent = %d, want 3", cfg.Dispatcher.MaxConcurrent)
	}
	if cfg.Dispatcher.CallTimeoutSeconds != 30 {
		t.Errorf("CallTimeoutSeconds = %v, want 30", cfg.Dispatcher.CallTimeoutSeconds)
	}
	if cfg.Security.ScannerThreshold != 0.7 {
		t.Errorf("ScannerThreshold = %v, want 0.7", cfg.Security.ScannerThreshold)
	}
	if cfg.Security.TaintThreshold != 0.5 {
		t.Errorf("TaintThreshold = %v, want 0.5", cfg.Security.TaintThreshold)
	}
	if cfg.Sandbox.TimeoutSeconds != 300 {
		t.Errorf("sandbox timeout = %d, want 300", cfg.Sandbox.TimeoutSeconds)
	}
}

func TestLoadYAMLAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
home: ` + dir + `
security:
  scanner_threshold: 1.2
sandbox:
  backend: subprocess
  timeout_seconds: 60
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvScannerThreshold, "0.9")
	t.Setenv(EnvGatewayToken, "")
	t.Setenv(EnvAPIKey, "sk-test")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Security.ScannerThreshold != 0.9 {
		t.Errorf("env override lost: %v", cfg.Security.ScannerThreshold)
	}
	if cfg.Sandbox.Backend != "subprocess" || cfg.Sandbox.TimeoutSeconds != 60 {
		t.Errorf("yaml values lost: %+v", cfg.Sandbox)
	}
	if cfg.Credentials.APIKey != "sk-test" {
		t.Errorf("api key not read from env")
	}
	if !filepath.IsAbs(cfg.Dispatcher.Socket) {
		t.Errorf("relative socket not resolved: %q", cfg.Dispatcher.Socket)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("no_such_key: 1\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("unknown field accepted")
	}
}

func TestGatewayBindingPolicy(t *testing.T) {
	tests := []struct {
		name    string
		gateway GatewayConfig
		wantErr string
	}{
		{"unix ok", GatewayConfig{Socket: "/tmp/g.sock"}, ""},
		{"loopback with token", GatewayConfig{Addr: "127.0.0.1:8080", BearerToken: "tok"}, ""},
		{"localhost with token", GatewayConfig{Addr: "localhost:8080", BearerToken: "tok"}, ""},
		{"loopback no token", GatewayConfig{Addr: "127.0.0.1:8080"}, "bearer token"},
		{"public bind", GatewayConfig{Addr: "0.0.0.0:8080", BearerToken: "tok"}, "forbidden"},
		{"external bind", GatewayConfig{Addr: "10.1.2.3:8080", BearerToken: "tok"}, "forbidden"},
		{"nothing set", GatewayConfig{}, "either socket or addr"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Gateway = tt.gateway
			err := cfg.validateGateway()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
