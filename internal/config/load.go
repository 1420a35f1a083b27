package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// Load builds the effective configuration: defaults, then the YAML file at
// path (missing file is fine when path is empty or the default location),
// then a .env file next to it, then environment overrides. The result is
// validated before being returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if path == "" {
		path = filepath.Join(homeDir(), "config.yaml")
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		dec := yaml.NewDecoder(strings.NewReader(string(data)))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
		// Defaults only.
	default:
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	// .env is best effort; real environment variables win over it.
	_ = godotenv.Load(filepath.Join(filepath.Dir(path), ".env"))

	applyEnv(cfg)

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.validateGateway(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvHome); v != "" {
		cfg.Home = v
	}
	if cfg.Home == "" {
		cfg.Home = homeDir()
	}
	if v := os.Getenv(EnvScannerThreshold); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.Security.ScannerThreshold = f
		}
	}
	cfg.Gateway.BearerToken = os.Getenv(EnvGatewayToken)
	cfg.Credentials.APIKey = os.Getenv(EnvAPIKey)
	cfg.Credentials.OAuthToken = os.Getenv(EnvOAuthToken)

	// Relative socket paths live under the home directory.
	cfg.Gateway.Socket = resolveSocket(cfg.Home, cfg.Gateway.Socket)
	cfg.Proxy.Socket = resolveSocket(cfg.Home, cfg.Proxy.Socket)
	cfg.Dispatcher.Socket = resolveSocket(cfg.Home, cfg.Dispatcher.Socket)
}

func resolveSocket(home, sock string) string {
	if sock == "" || filepath.IsAbs(sock) {
		return sock
	}
	return filepath.Join(home, sock)
}

func homeDir() string {
	if v := os.Getenv(EnvHome); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".clawden"
	}
	return filepath.Join(home, ".clawden")
}
