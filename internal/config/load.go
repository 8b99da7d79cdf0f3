package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/apexhq/apex/internal/aerrors"
)

// Load reads the project configuration from <projectPath>/.apex/config.yaml.
// A missing file yields the defaults. Environment variables with the APEX_
// prefix override file values (dots become underscores, e.g.
// APEX_LIMITS_DAILYBUDGET).
func Load(projectPath string) (*Config, error) {
	cfg := Default()

	path := filepath.Join(projectPath, ApexDir, ConfigFileName)
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// Defaults only.
	case err != nil:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, aerrors.ErrConfigInvalid(path, err.Error())
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to <projectPath>/.apex/config.yaml.
func Save(projectPath string, cfg *Config) error {
	dir := filepath.Join(projectPath, ApexDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	path := filepath.Join(dir, ConfigFileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

// Validate rejects configurations the daemon cannot run with.
func (c *Config) Validate() error {
	if c.Limits.MaxConcurrentTasks <= 0 {
		return aerrors.ErrConfigInvalid("limits.maxConcurrentTasks", "must be positive")
	}
	if c.Limits.MaxRetries < 0 {
		return aerrors.ErrConfigInvalid("limits.maxRetries", "must not be negative")
	}
	if c.Limits.RetryBackoffFactor < 1 {
		return aerrors.ErrConfigInvalid("limits.retryBackoffFactor", "must be >= 1")
	}
	if t := c.Daemon.SessionRecovery.ContextWindowThreshold; t <= 0 || t > 1 {
		return aerrors.ErrConfigInvalid("daemon.sessionRecovery.contextWindowThreshold", "must be in (0, 1]")
	}
	if c.Autonomy.Default != "" && len(c.Autonomy.Allowed) > 0 {
		ok := false
		for _, a := range c.Autonomy.Allowed {
			if a == c.Autonomy.Default {
				ok = true
				break
			}
		}
		if !ok {
			return aerrors.ErrConfigInvalid("autonomy.default", "not in autonomy.allowed")
		}
	}
	return nil
}

// applyEnv overrides scalar settings from APEX_* environment variables.
func applyEnv(cfg *Config) {
	envInt := func(key string, dst *int) {
		if v, ok := lookupEnv(key); ok {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	envFloat := func(key string, dst *float64) {
		if v, ok := lookupEnv(key); ok {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = f
			}
		}
	}
	envBool := func(key string, dst *bool) {
		if v, ok := lookupEnv(key); ok {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}
	envString := func(key string, dst *string) {
		if v, ok := lookupEnv(key); ok {
			*dst = v
		}
	}

	envInt("limits.maxConcurrentTasks", &cfg.Limits.MaxConcurrentTasks)
	envInt("limits.maxTokensPerTask", &cfg.Limits.MaxTokensPerTask)
	envFloat("limits.maxCostPerTask", &cfg.Limits.MaxCostPerTask)
	envFloat("limits.dailyBudget", &cfg.Limits.DailyBudget)
	envInt("limits.maxTurns", &cfg.Limits.MaxTurns)
	envInt("limits.maxRetries", &cfg.Limits.MaxRetries)
	envInt("limits.retryDelayMs", &cfg.Limits.RetryDelayMs)
	envFloat("limits.retryBackoffFactor", &cfg.Limits.RetryBackoffFactor)
	envBool("git.autoWorktree", &cfg.Git.AutoWorktree)
	envBool("git.pushAfterTask", &cfg.Git.PushAfterTask)
	envBool("daemon.watchdog", &cfg.Daemon.Watchdog)
	envBool("daemon.healthCheck", &cfg.Daemon.HealthCheck)
	envInt("daemon.pollIntervalMs", &cfg.Daemon.PollIntervalMs)
	envBool("daemon.sessionRecovery.enabled", &cfg.Daemon.SessionRecovery.Enabled)
	envInt("daemon.sessionRecovery.maxResumeAttempts", &cfg.Daemon.SessionRecovery.MaxResumeAttempts)
	envFloat("daemon.sessionRecovery.contextWindowThreshold", &cfg.Daemon.SessionRecovery.ContextWindowThreshold)
	envInt("daemon.sessionRecovery.contextWindowTokens", &cfg.Daemon.SessionRecovery.ContextWindowTokens)
	envBool("daemon.sessionRecovery.autoResume", &cfg.Daemon.SessionRecovery.AutoResume)
	envBool("daemon.timeBasedUsage.enabled", &cfg.Daemon.TimeBasedUsage.Enabled)
	envFloat("daemon.timeBasedUsage.dayModeCapacityThreshold", &cfg.Daemon.TimeBasedUsage.DayModeCapacityThreshold)
	envFloat("daemon.timeBasedUsage.nightModeCapacityThreshold", &cfg.Daemon.TimeBasedUsage.NightModeCapacityThreshold)
	envString("autonomy.default", &cfg.Autonomy.Default)
	envString("hosting.provider", &cfg.Hosting.Provider)
	envString("hosting.baseURL", &cfg.Hosting.BaseURL)
	envString("hosting.tokenEnvVar", &cfg.Hosting.TokenEnvVar)
	envString("server.host", &cfg.Server.Host)
	envInt("server.port", &cfg.Server.Port)

	if v, ok := lookupEnv("workspace.cleanupOnComplete"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Workspace.CleanupOnComplete = &b
		}
	}
}

// lookupEnv maps a dotted config key to its APEX_ environment variable.
func lookupEnv(key string) (string, bool) {
	name := "APEX_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
	v, ok := os.LookupEnv(name)
	return v, ok
}
