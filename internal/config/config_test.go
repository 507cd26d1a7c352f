package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pluto.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  environment: production
  port: 9090
control_plane:
  url: http://cp.internal:5380
  token_env: CP_TOKEN
store:
  path: /var/lib/pluto/pluto.db
pipeline:
  commit_timeout: 30s
  extract_interval: 1s
  extract_timeout: 2m
  overall_timeout: 10m
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9090 || cfg.Server.Environment != "production" {
		t.Fatalf("server section mangled: %+v", cfg.Server)
	}
	if cfg.ControlPlane.URL != "http://cp.internal:5380" {
		t.Fatalf("control plane url: %q", cfg.ControlPlane.URL)
	}
	if time.Duration(cfg.Pipeline.CommitTimeout) != 30*time.Second {
		t.Fatalf("commit timeout: %v", cfg.Pipeline.CommitTimeout)
	}
	if time.Duration(cfg.Pipeline.OverallTimeout) != 10*time.Minute {
		t.Fatalf("overall timeout: %v", cfg.Pipeline.OverallTimeout)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
control_plane:
  url: http://localhost:5380
store:
  path: ./pluto.db
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 8080 || cfg.Server.Environment != "development" {
		t.Fatalf("server defaults: %+v", cfg.Server)
	}
	if time.Duration(cfg.Pipeline.CommitTimeout) != 2*time.Minute {
		t.Fatalf("commit timeout default: %v", cfg.Pipeline.CommitTimeout)
	}
	if time.Duration(cfg.Pipeline.ExtractInterval) != 2*time.Second {
		t.Fatalf("extract interval default: %v", cfg.Pipeline.ExtractInterval)
	}
	if cfg.Broker.Subject != "pluto.deployments" {
		t.Fatalf("broker subject default: %q", cfg.Broker.Subject)
	}
}

func TestLoadConfigBadDuration(t *testing.T) {
	path := writeConfig(t, `
pipeline:
  commit_timeout: soon
`)
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}

func TestControlPlaneToken(t *testing.T) {
	var cfg Config
	cfg.ControlPlane.TokenEnv = "PLUTO_TEST_TOKEN"
	t.Setenv("PLUTO_TEST_TOKEN", "sekrit")
	if got := cfg.ControlPlaneToken(); got != "sekrit" {
		t.Fatalf("token: %q", got)
	}

	cfg.ControlPlane.TokenEnv = ""
	t.Setenv("PLUTO_CONTROL_PLANE_TOKEN", "fallback")
	if got := cfg.ControlPlaneToken(); got != "fallback" {
		t.Fatalf("fallback token: %q", got)
	}
}
