package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Server.ListenAddress != DefaultListenAddress {
		t.Errorf("Expected listen address %q, got %q", DefaultListenAddress, cfg.Server.ListenAddress)
	}
	if cfg.Quota.SessionTokenLimit != DefaultSessionTokenLimit {
		t.Errorf("Expected session token limit %d, got %d", DefaultSessionTokenLimit, cfg.Quota.SessionTokenLimit)
	}
	if cfg.Quota.SessionDuration != 5*time.Hour {
		t.Errorf("Expected 5h session duration, got %s", cfg.Quota.SessionDuration)
	}
	if cfg.Upstream.Concurrency != DefaultConcurrency {
		t.Errorf("Expected concurrency %d, got %d", DefaultConcurrency, cfg.Upstream.Concurrency)
	}
	if cfg.Guest.MaxAttempts != DefaultGuestMaxAttempts {
		t.Errorf("Expected guest max attempts %d, got %d", DefaultGuestMaxAttempts, cfg.Guest.MaxAttempts)
	}
	if cfg.Estimates["explain"] != 3000 {
		t.Errorf("Expected explain estimate 3000, got %d", cfg.Estimates["explain"])
	}
	if cfg.Telemetry.Metrics.Enabled == nil || !*cfg.Telemetry.Metrics.Enabled {
		t.Error("Expected metrics enabled by default")
	}
}

func TestApplyDefaults_Idempotent(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	before := *cfg
	ApplyDefaults(cfg)

	if cfg.Quota.WeeklyTokenLimit != before.Quota.WeeklyTokenLimit {
		t.Error("ApplyDefaults changed an already-defaulted value")
	}
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := &Config{}
	cfg.Quota.WeeklyTokenLimit = 1000
	cfg.Guest.MaxAttempts = 3
	ApplyDefaults(cfg)

	if cfg.Quota.WeeklyTokenLimit != 1000 {
		t.Errorf("Expected explicit weekly limit 1000 preserved, got %d", cfg.Quota.WeeklyTokenLimit)
	}
	if cfg.Guest.MaxAttempts != 3 {
		t.Errorf("Expected explicit max attempts 3 preserved, got %d", cfg.Guest.MaxAttempts)
	}
}

func TestApplyDefaults_ClampsSweepInterval(t *testing.T) {
	cfg := &Config{}
	cfg.Retention.SweepInterval = 5 * time.Second
	ApplyDefaults(cfg)

	if cfg.Retention.SweepInterval != time.Minute {
		t.Errorf("Expected sweep interval clamped to 1m, got %s", cfg.Retention.SweepInterval)
	}
}

func TestValidate_Defaults(t *testing.T) {
	cfg := DefaultConfig()
	if err := Validate(cfg); err != nil {
		t.Errorf("Default config should validate, got error: %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad listen address", func(c *Config) { c.Server.ListenAddress = "not-an-address" }},
		{"zero session limit", func(c *Config) { c.Quota.SessionTokenLimit = -1 }},
		{"zero concurrency", func(c *Config) { c.Upstream.Concurrency = -2 }},
		{"zero guest attempts", func(c *Config) { c.Guest.MaxAttempts = -1 }},
		{"bad cron schedule", func(c *Config) { c.Retention.PruneSchedule = "every day" }},
		{"bad log level", func(c *Config) { c.Telemetry.Logging.Level = "verbose" }},
		{"bad metrics path", func(c *Config) { c.Telemetry.Metrics.Path = "metrics" }},
		{"empty estimate op", func(c *Config) { c.Estimates[" "] = 100 }},
		{"negative estimate", func(c *Config) { c.Estimates["chat"] = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := Validate(cfg); err == nil {
				t.Error("Expected validation error, got nil")
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "warden.yaml")
	content := `
quota:
  weekly_token_limit: 1000
  session_token_limit: 500
guest:
  max_attempts: 3
upstream:
  concurrency: 2
  timeout: 10s
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Quota.WeeklyTokenLimit != 1000 {
		t.Errorf("Expected weekly limit 1000, got %d", cfg.Quota.WeeklyTokenLimit)
	}
	if cfg.Upstream.Timeout != 10*time.Second {
		t.Errorf("Expected upstream timeout 10s, got %s", cfg.Upstream.Timeout)
	}
	// Unset fields fall back to defaults.
	if cfg.Quota.SessionDuration != DefaultSessionDuration {
		t.Errorf("Expected default session duration, got %s", cfg.Quota.SessionDuration)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := LoadConfig("/nonexistent/warden.yaml"); err == nil {
		t.Error("Expected error for missing config file")
	}
}

func TestLoadConfigWithEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "warden.yaml")
	if err := os.WriteFile(path, []byte("quota:\n  weekly_token_limit: 1000\n"), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	t.Setenv("WARDEN_QUOTA_WEEKLY_TOKEN_LIMIT", "2000")
	t.Setenv("WARDEN_UPSTREAM_CONCURRENCY", "8")

	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		t.Fatalf("LoadConfigWithEnvOverrides failed: %v", err)
	}

	if cfg.Quota.WeeklyTokenLimit != 2000 {
		t.Errorf("Expected env override 2000, got %d", cfg.Quota.WeeklyTokenLimit)
	}
	if cfg.Upstream.Concurrency != 8 {
		t.Errorf("Expected env override 8, got %d", cfg.Upstream.Concurrency)
	}
}

func TestLoadOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "overrides.yaml")
	content := `
user-42:
  weekly_token_limit: 300000
  unlimited: false
admin-1:
  unlimited: true
banned-9:
  disabled: true
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write overrides file: %v", err)
	}

	overrides, err := LoadOverrides(path)
	if err != nil {
		t.Fatalf("LoadOverrides failed: %v", err)
	}

	if overrides["user-42"].WeeklyTokenLimit != 300000 {
		t.Errorf("Expected weekly override 300000, got %d", overrides["user-42"].WeeklyTokenLimit)
	}
	if !overrides["admin-1"].Unlimited {
		t.Error("Expected admin-1 to be unlimited")
	}
	if !overrides["banned-9"].Disabled {
		t.Error("Expected banned-9 to be disabled")
	}
}

func TestLoadOverrides_MissingFileIsEmpty(t *testing.T) {
	overrides, err := LoadOverrides("/nonexistent/overrides.yaml")
	if err != nil {
		t.Fatalf("Expected no error for missing overrides file, got %v", err)
	}
	if len(overrides) != 0 {
		t.Errorf("Expected empty overrides, got %d entries", len(overrides))
	}
}
