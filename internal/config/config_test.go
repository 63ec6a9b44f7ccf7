package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDecodesFile(t *testing.T) {
	path := writeConfig(t, `
agents = 10
attempts = 50
seed = 7

[relay]
addr = ":9000"
step_delay_ms = 5

[visualizer]
trial_pause_ms = 10
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Agents != 10 || cfg.Attempts != 50 || cfg.Seed != 7 {
		t.Fatalf("unexpected top-level values: %+v", cfg)
	}
	if cfg.Relay.Addr != ":9000" || cfg.Relay.StepDelayMS != 5 {
		t.Fatalf("unexpected relay values: %+v", cfg.Relay)
	}
	if cfg.Relay.SessionAgents != 100 {
		t.Fatalf("expected default session agents, got %d", cfg.Relay.SessionAgents)
	}
	if cfg.Visualizer.TrialPauseMS != 10 || cfg.Visualizer.StepDelayMS != 200 {
		t.Fatalf("unexpected visualizer values: %+v", cfg.Visualizer)
	}
	if cfg.Path != path {
		t.Fatalf("expected path %s, got %s", path, cfg.Path)
	}
	if _, ok := cfg.Raw["relay"]; !ok {
		t.Fatalf("expected raw config to keep relay table")
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "agents = 10\n")
	t.Setenv("PRISONERS_AGENTS", "20")
	t.Setenv("PRISONERS_RELAY_ADDR", ":7000")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Agents != 20 {
		t.Fatalf("expected env to override agents, got %d", cfg.Agents)
	}
	if cfg.Relay.Addr != ":7000" {
		t.Fatalf("expected env to override relay addr, got %s", cfg.Relay.Addr)
	}
}

func TestLoadMissingExplicitFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatalf("expected missing explicit config to fail")
	}
}

func TestLoadMissingDefaultFileUsesDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Agents != 100 || cfg.Attempts != 1000 || cfg.Relay.Addr != ":8081" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Path != "" {
		t.Fatalf("expected empty path without a file, got %s", cfg.Path)
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := writeConfig(t, "agents = [\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected decode error")
	}
}
