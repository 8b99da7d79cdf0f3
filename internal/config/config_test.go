package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Limits.MaxConcurrentTasks != 3 {
		t.Errorf("MaxConcurrentTasks = %d, want 3", cfg.Limits.MaxConcurrentTasks)
	}
	if cfg.Limits.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", cfg.Limits.MaxRetries)
	}
	if cfg.Daemon.SessionRecovery.ContextWindowThreshold != 0.8 {
		t.Errorf("ContextWindowThreshold = %v, want 0.8", cfg.Daemon.SessionRecovery.ContextWindowThreshold)
	}
	if !cfg.Workspace.ShouldCleanup() {
		t.Error("cleanup should default to true when unset")
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	apexDir := filepath.Join(dir, ApexDir)
	if err := os.MkdirAll(apexDir, 0o755); err != nil {
		t.Fatal(err)
	}
	yaml := `
limits:
  maxConcurrentTasks: 5
  dailyBudget: 25.5
workspace:
  cleanupOnComplete: false
daemon:
  sessionRecovery:
    maxResumeAttempts: 7
`
	if err := os.WriteFile(filepath.Join(apexDir, ConfigFileName), []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Limits.MaxConcurrentTasks != 5 {
		t.Errorf("MaxConcurrentTasks = %d, want 5", cfg.Limits.MaxConcurrentTasks)
	}
	if cfg.Limits.DailyBudget != 25.5 {
		t.Errorf("DailyBudget = %v, want 25.5", cfg.Limits.DailyBudget)
	}
	if cfg.Workspace.ShouldCleanup() {
		t.Error("cleanupOnComplete: false should disable cleanup")
	}
	if cfg.Daemon.SessionRecovery.MaxResumeAttempts != 7 {
		t.Errorf("MaxResumeAttempts = %d, want 7", cfg.Daemon.SessionRecovery.MaxResumeAttempts)
	}
	// Untouched keys keep defaults.
	if cfg.Limits.RetryDelayMs != 1000 {
		t.Errorf("RetryDelayMs = %d, want default 1000", cfg.Limits.RetryDelayMs)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("APEX_LIMITS_DAILYBUDGET", "99.5")
	t.Setenv("APEX_GIT_PUSHAFTERTASK", "true")
	t.Setenv("APEX_WORKSPACE_CLEANUPONCOMPLETE", "false")

	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Limits.DailyBudget != 99.5 {
		t.Errorf("DailyBudget = %v, want 99.5", cfg.Limits.DailyBudget)
	}
	if !cfg.Git.PushAfterTask {
		t.Error("PushAfterTask should be overridden to true")
	}
	if cfg.Workspace.ShouldCleanup() {
		t.Error("cleanup should be overridden to false")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	apexDir := filepath.Join(dir, ApexDir)
	if err := os.MkdirAll(apexDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(apexDir, ConfigFileName), []byte("limits: ["), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(dir); err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}

	bad := Default()
	bad.Limits.MaxConcurrentTasks = 0
	if err := bad.Validate(); err == nil {
		t.Error("zero maxConcurrentTasks should fail")
	}

	bad = Default()
	bad.Daemon.SessionRecovery.ContextWindowThreshold = 1.5
	if err := bad.Validate(); err == nil {
		t.Error("threshold above 1 should fail")
	}

	bad = Default()
	bad.Autonomy.Default = "yolo"
	if err := bad.Validate(); err == nil {
		t.Error("default autonomy outside allowed set should fail")
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()

	cfg := Default()
	cfg.Limits.DailyBudget = 12.25
	cfg.Server.Port = 9000
	if err := Save(dir, cfg); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.Limits.DailyBudget != 12.25 {
		t.Errorf("DailyBudget = %v, want 12.25", got.Limits.DailyBudget)
	}
	if got.Server.Port != 9000 {
		t.Errorf("Port = %d, want 9000", got.Server.Port)
	}
}
