package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Defaults.IntegrationBranch != "develop" {
		t.Errorf("expected default integration branch 'develop', got %q", cfg.Defaults.IntegrationBranch)
	}
	if cfg.Defaults.TokenBudget != 100000 {
		t.Errorf("expected default token budget 100000, got %d", cfg.Defaults.TokenBudget)
	}
	if cfg.Timeouts.Clone != 300*time.Second {
		t.Errorf("expected clone timeout 300s, got %v", cfg.Timeouts.Clone)
	}
	if cfg.Timeouts.HostKey != 30*time.Second {
		t.Errorf("expected host-key timeout 30s, got %v", cfg.Timeouts.HostKey)
	}
	if !cfg.QualityGates.Test || !cfg.QualityGates.Build || !cfg.QualityGates.Lint || !cfg.QualityGates.Typecheck {
		t.Error("expected every quality gate to default to true")
	}
	if cfg.Pool.MinWorkers != 1 || cfg.Pool.MaxWorkers != 10 {
		t.Errorf("expected pool defaults min=1 max=10, got min=%d max=%d", cfg.Pool.MinWorkers, cfg.Pool.MaxWorkers)
	}
	if cfg.Pool.ScaleUpThreshold != 2.0 || cfg.Pool.ScaleDownThreshold != 0.5 {
		t.Errorf("unexpected pool scaling thresholds: %+v", cfg.Pool)
	}
}

func TestLoadFromPath(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
anthropic:
  api_key: test-key
  model: claude-opus-4
defaults:
  integration_branch: trunk
  token_budget: 50000
timeouts:
  clone: 10m
quality_gates:
  test: false
  build: true
  lint: false
  typecheck: true
pool:
  min_workers: 2
  max_workers: 20
`
	if err := os.WriteFile(configPath, []byte(configContent), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}

	if cfg.Anthropic.APIKey != "test-key" {
		t.Errorf("expected api_key 'test-key', got %q", cfg.Anthropic.APIKey)
	}
	if cfg.Defaults.IntegrationBranch != "trunk" {
		t.Errorf("expected integration branch 'trunk', got %q", cfg.Defaults.IntegrationBranch)
	}
	if cfg.Defaults.TokenBudget != 50000 {
		t.Errorf("expected token budget 50000, got %d", cfg.Defaults.TokenBudget)
	}
	if cfg.Timeouts.Clone != 10*time.Minute {
		t.Errorf("expected clone timeout 10m, got %v", cfg.Timeouts.Clone)
	}
	if cfg.QualityGates.Test {
		t.Error("expected quality_gates.test to be false")
	}
	if !cfg.QualityGates.Build {
		t.Error("expected quality_gates.build to be true")
	}
	if cfg.Pool.MinWorkers != 2 || cfg.Pool.MaxWorkers != 20 {
		t.Errorf("expected overridden pool bounds 2/20, got %d/%d", cfg.Pool.MinWorkers, cfg.Pool.MaxWorkers)
	}
}

func TestExpandEnv(t *testing.T) {
	os.Setenv("TEST_VAR", "expanded-value")
	defer os.Unsetenv("TEST_VAR")

	if got := expandEnv("${TEST_VAR}"); got != "expanded-value" {
		t.Errorf("expected 'expanded-value', got %q", got)
	}
	if got := expandEnv("prefix-${TEST_VAR}-suffix"); got != "prefix-expanded-value-suffix" {
		t.Errorf("expected 'prefix-expanded-value-suffix', got %q", got)
	}
}

func TestGetUserConfigDir(t *testing.T) {
	os.Setenv("XDG_CONFIG_HOME", "/custom/config")
	defer os.Unsetenv("XDG_CONFIG_HOME")

	dir := getUserConfigDir()
	want := "/custom/config/agent-orchestrator"
	if dir != want {
		t.Errorf("expected %q, got %q", want, dir)
	}
}

func TestWatchProjectConfig_NoopWhenNoProjectFile(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(cwd)

	stop, err := WatchProjectConfig(func(*Config) {})
	if err != nil {
		t.Fatalf("WatchProjectConfig failed: %v", err)
	}
	if err := stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
}
