package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads configuration from a YAML file at the specified path.
// It applies default values, validates the configuration, and returns any
// errors. Environment variables are not consulted; use
// LoadConfigWithEnvOverrides for that functionality.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention WARDEN_SECTION_FIELD (e.g., WARDEN_SERVER_LISTEN_ADDRESS) and
// always take precedence over file-based configuration.
//
// The loading sequence is:
//  1. Load YAML from file
//  2. Apply default values
//  3. Apply environment variable overrides
//  4. Validate final configuration
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}

	return cfg, nil
}

// LoadOverrides reads the per-identity limit overrides file.
// A missing file is not an error; it yields an empty override set.
func LoadOverrides(path string) (Overrides, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Overrides{}, nil
		}
		return nil, fmt.Errorf("failed to read overrides file %q: %w", path, err)
	}

	var overrides Overrides
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("failed to parse overrides file %q: %w", path, err)
	}
	if overrides == nil {
		overrides = Overrides{}
	}

	return overrides, nil
}

// applyEnvOverrides applies environment variable overrides to the
// configuration. Environment variables use the format WARDEN_SECTION_FIELD.
func applyEnvOverrides(cfg *Config) {
	// Server overrides
	if val := os.Getenv("WARDEN_SERVER_LISTEN_ADDRESS"); val != "" {
		cfg.Server.ListenAddress = val
	}
	if val := os.Getenv("WARDEN_SERVER_READ_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Server.ReadTimeout = d
		}
	}
	if val := os.Getenv("WARDEN_SERVER_WRITE_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Server.WriteTimeout = d
		}
	}
	if val := os.Getenv("WARDEN_SERVER_SHUTDOWN_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Server.ShutdownTimeout = d
		}
	}

	// Quota overrides
	if val := os.Getenv("WARDEN_QUOTA_STORE_PATH"); val != "" {
		cfg.Quota.StorePath = val
	}
	if val := os.Getenv("WARDEN_QUOTA_SESSION_TOKEN_LIMIT"); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			cfg.Quota.SessionTokenLimit = i
		}
	}
	if val := os.Getenv("WARDEN_QUOTA_SESSION_DURATION"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Quota.SessionDuration = d
		}
	}
	if val := os.Getenv("WARDEN_QUOTA_WEEKLY_TOKEN_LIMIT"); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			cfg.Quota.WeeklyTokenLimit = i
		}
	}
	if val := os.Getenv("WARDEN_QUOTA_MONTHLY_TOKEN_LIMIT"); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			cfg.Quota.MonthlyTokenLimit = i
		}
	}
	if val := os.Getenv("WARDEN_QUOTA_OVERRIDES_PATH"); val != "" {
		cfg.Quota.OverridesPath = val
	}

	// Upstream overrides
	if val := os.Getenv("WARDEN_UPSTREAM_CONCURRENCY"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Upstream.Concurrency = i
		}
	}
	if val := os.Getenv("WARDEN_UPSTREAM_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Upstream.Timeout = d
		}
	}
	if val := os.Getenv("WARDEN_UPSTREAM_FAILURE_THRESHOLD"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Upstream.FailureThreshold = i
		}
	}
	if val := os.Getenv("WARDEN_UPSTREAM_RECOVERY_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Upstream.RecoveryTimeout = d
		}
	}

	// Guest overrides
	if val := os.Getenv("WARDEN_GUEST_MAX_ATTEMPTS"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Guest.MaxAttempts = i
		}
	}
	if val := os.Getenv("WARDEN_GUEST_WINDOW"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Guest.Window = d
		}
	}

	// Retention overrides
	if val := os.Getenv("WARDEN_RETENTION_USAGE_LOG_DAYS"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Retention.UsageLogDays = i
		}
	}
	if val := os.Getenv("WARDEN_RETENTION_PRUNE_SCHEDULE"); val != "" {
		cfg.Retention.PruneSchedule = val
	}
	if val := os.Getenv("WARDEN_RETENTION_SWEEP_INTERVAL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Retention.SweepInterval = d
		}
	}

	// Telemetry overrides
	if val := os.Getenv("WARDEN_TELEMETRY_LOGGING_LEVEL"); val != "" {
		cfg.Telemetry.Logging.Level = val
	}
	if val := os.Getenv("WARDEN_TELEMETRY_LOGGING_FORMAT"); val != "" {
		cfg.Telemetry.Logging.Format = val
	}
	if val := os.Getenv("WARDEN_TELEMETRY_METRICS_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Telemetry.Metrics.Enabled = &b
		}
	}
	if val := os.Getenv("WARDEN_TELEMETRY_METRICS_PATH"); val != "" {
		cfg.Telemetry.Metrics.Path = val
	}
}
