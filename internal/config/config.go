// Package config defines the apex configuration and loads it from
// .apex/config.yaml with defaults and APEX_* environment overrides.
package config

import (
	"time"

	"github.com/apexhq/apex/internal/capacity"
)

// ConfigFileName is the project config file under .apex/.
const ConfigFileName = "config.yaml"

// ApexDir is the project-local state directory.
const ApexDir = ".apex"

// Config is the full apex configuration tree.
type Config struct {
	Limits    Limits           `yaml:"limits" json:"limits"`
	Git       Git              `yaml:"git" json:"git"`
	Models    map[string]string `yaml:"models,omitempty" json:"models,omitempty"`
	Daemon    Daemon           `yaml:"daemon" json:"daemon"`
	Workspace Workspace        `yaml:"workspace" json:"workspace"`
	Autonomy  Autonomy         `yaml:"autonomy" json:"autonomy"`
	Hosting   Hosting          `yaml:"hosting" json:"hosting"`
	Server    Server           `yaml:"server" json:"server"`
}

// Limits bounds task execution and spend.
type Limits struct {
	MaxConcurrentTasks int     `yaml:"maxConcurrentTasks" json:"maxConcurrentTasks"`
	MaxTokensPerTask   int     `yaml:"maxTokensPerTask" json:"maxTokensPerTask"`
	MaxCostPerTask     float64 `yaml:"maxCostPerTask" json:"maxCostPerTask"`
	DailyBudget        float64 `yaml:"dailyBudget" json:"dailyBudget"`
	MaxTurns           int     `yaml:"maxTurns" json:"maxTurns"`
	MaxRetries         int     `yaml:"maxRetries" json:"maxRetries"`
	RetryDelayMs       int     `yaml:"retryDelayMs" json:"retryDelayMs"`
	RetryBackoffFactor float64 `yaml:"retryBackoffFactor" json:"retryBackoffFactor"`
}

// Git controls branch and push behavior.
type Git struct {
	AutoWorktree  bool `yaml:"autoWorktree" json:"autoWorktree"`
	PushAfterTask bool `yaml:"pushAfterTask" json:"pushAfterTask"`
}

// Daemon configures the long-running scheduler process.
type Daemon struct {
	Watchdog        bool            `yaml:"watchdog" json:"watchdog"`
	HealthCheck     bool            `yaml:"healthCheck" json:"healthCheck"`
	PollIntervalMs  int             `yaml:"pollIntervalMs" json:"pollIntervalMs"`
	SessionRecovery SessionRecovery `yaml:"sessionRecovery" json:"sessionRecovery"`
	TimeBasedUsage  capacity.Config `yaml:"timeBasedUsage" json:"timeBasedUsage"`
}

// SessionRecovery controls checkpoint/resume behavior under context
// pressure.
type SessionRecovery struct {
	Enabled                bool    `yaml:"enabled" json:"enabled"`
	MaxResumeAttempts      int     `yaml:"maxResumeAttempts" json:"maxResumeAttempts"`
	ContextWindowThreshold float64 `yaml:"contextWindowThreshold" json:"contextWindowThreshold"`
	ContextWindowTokens    int     `yaml:"contextWindowTokens" json:"contextWindowTokens"`
	AutoResume             bool    `yaml:"autoResume" json:"autoResume"`
}

// Workspace controls per-task workspace handling.
type Workspace struct {
	// CleanupOnComplete defaults to true when unset.
	CleanupOnComplete *bool `yaml:"cleanupOnComplete,omitempty" json:"cleanupOnComplete,omitempty"`
}

// ShouldCleanup reports the effective cleanup setting.
func (w Workspace) ShouldCleanup() bool {
	return w.CleanupOnComplete == nil || *w.CleanupOnComplete
}

// Autonomy sets the default human-oversight level and the allowed set.
type Autonomy struct {
	Default string   `yaml:"default" json:"default"`
	Allowed []string `yaml:"allowed,omitempty" json:"allowed,omitempty"`
}

// Hosting selects the PR hosting provider used by the status poller.
type Hosting struct {
	Provider    string `yaml:"provider,omitempty" json:"provider,omitempty"` // github, gitlab
	BaseURL     string `yaml:"baseURL,omitempty" json:"baseURL,omitempty"`
	TokenEnvVar string `yaml:"tokenEnvVar,omitempty" json:"tokenEnvVar,omitempty"`
}

// Server configures the REST/WebSocket API listener.
type Server struct {
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Limits: Limits{
			MaxConcurrentTasks: 3,
			MaxTokensPerTask:   500000,
			MaxCostPerTask:     10.0,
			DailyBudget:        50.0,
			MaxTurns:           50,
			MaxRetries:         3,
			RetryDelayMs:       1000,
			RetryBackoffFactor: 2.0,
		},
		Git: Git{
			AutoWorktree:  true,
			PushAfterTask: false,
		},
		Daemon: Daemon{
			Watchdog:       true,
			HealthCheck:    true,
			PollIntervalMs: 5000,
			SessionRecovery: SessionRecovery{
				Enabled:                true,
				MaxResumeAttempts:      3,
				ContextWindowThreshold: 0.8,
				ContextWindowTokens:    200000,
				AutoResume:             true,
			},
			TimeBasedUsage: capacity.DefaultConfig(),
		},
		Autonomy: Autonomy{
			Default: "review-before-merge",
			Allowed: []string{"full", "review-before-merge", "manual"},
		},
		Hosting: Hosting{
			Provider: "github",
		},
		Server: Server{
			Host: "127.0.0.1",
			Port: 7433,
		},
	}
}

// PollInterval returns the scheduler tick as a duration.
func (c *Config) PollInterval() time.Duration {
	if c.Daemon.PollIntervalMs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.Daemon.PollIntervalMs) * time.Millisecond
}

// RetryDelay returns the base retry delay as a duration.
func (c *Config) RetryDelay() time.Duration {
	if c.Limits.RetryDelayMs <= 0 {
		return time.Second
	}
	return time.Duration(c.Limits.RetryDelayMs) * time.Millisecond
}
