package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Validate checks a configuration for invalid or inconsistent values.
// It returns the first error found, or nil if the configuration is valid.
// Validate assumes defaults have already been applied.
func Validate(cfg *Config) error {
	if err := validateServer(&cfg.Server); err != nil {
		return err
	}
	if err := validateQuota(&cfg.Quota); err != nil {
		return err
	}
	if err := validateUpstream(&cfg.Upstream); err != nil {
		return err
	}
	if err := validateGuest(&cfg.Guest); err != nil {
		return err
	}
	if err := validateBehavior(&cfg.Behavior); err != nil {
		return err
	}
	if err := validateEstimates(cfg.Estimates); err != nil {
		return err
	}
	if err := validateRetention(&cfg.Retention); err != nil {
		return err
	}
	if err := validateTelemetry(&cfg.Telemetry); err != nil {
		return err
	}
	return nil
}

func validateServer(cfg *ServerConfig) error {
	if _, _, err := net.SplitHostPort(cfg.ListenAddress); err != nil {
		return fmt.Errorf("server.listen_address %q is not a valid host:port: %w", cfg.ListenAddress, err)
	}
	if cfg.ShutdownTimeout < 0 {
		return fmt.Errorf("server.shutdown_timeout must not be negative")
	}
	return nil
}

func validateQuota(cfg *QuotaConfig) error {
	if cfg.SessionTokenLimit <= 0 {
		return fmt.Errorf("quota.session_token_limit must be positive, got %d", cfg.SessionTokenLimit)
	}
	if cfg.SessionDuration <= 0 {
		return fmt.Errorf("quota.session_duration must be positive, got %s", cfg.SessionDuration)
	}
	if cfg.WeeklyTokenLimit <= 0 {
		return fmt.Errorf("quota.weekly_token_limit must be positive, got %d", cfg.WeeklyTokenLimit)
	}
	if cfg.MonthlyTokenLimit <= 0 {
		return fmt.Errorf("quota.monthly_token_limit must be positive, got %d", cfg.MonthlyTokenLimit)
	}
	return nil
}

func validateUpstream(cfg *UpstreamConfig) error {
	if cfg.Concurrency <= 0 {
		return fmt.Errorf("upstream.concurrency must be positive, got %d", cfg.Concurrency)
	}
	if cfg.Timeout <= 0 {
		return fmt.Errorf("upstream.timeout must be positive, got %s", cfg.Timeout)
	}
	if cfg.FailureThreshold <= 0 {
		return fmt.Errorf("upstream.failure_threshold must be positive, got %d", cfg.FailureThreshold)
	}
	if cfg.RecoveryTimeout <= 0 {
		return fmt.Errorf("upstream.recovery_timeout must be positive, got %s", cfg.RecoveryTimeout)
	}
	return nil
}

func validateGuest(cfg *GuestConfig) error {
	if cfg.MaxAttempts <= 0 {
		return fmt.Errorf("guest.max_attempts must be positive, got %d", cfg.MaxAttempts)
	}
	if cfg.Window <= 0 {
		return fmt.Errorf("guest.window must be positive, got %s", cfg.Window)
	}
	return nil
}

func validateBehavior(cfg *BehaviorConfig) error {
	checks := []struct {
		name string
		ok   bool
	}{
		{"behavior.ip_hop_min_ips", cfg.IPHopMinIPs > 0},
		{"behavior.ip_hop_min_requests", cfg.IPHopMinRequests > 0},
		{"behavior.ip_hop_window", cfg.IPHopWindow > 0},
		{"behavior.rapid_request_count", cfg.RapidRequestCount > 0},
		{"behavior.rapid_request_window", cfg.RapidRequestWindow > 0},
		{"behavior.bot_timing_samples", cfg.BotTimingSamples > 0},
		{"behavior.bot_timing_jitter", cfg.BotTimingJitter > 0},
		{"behavior.header_min_agents", cfg.HeaderMinAgents > 0},
		{"behavior.header_window", cfg.HeaderWindow > 0},
		{"behavior.failure_count", cfg.FailureCount > 0},
		{"behavior.failure_window", cfg.FailureWindow > 0},
		{"behavior.dedup_cooldown", cfg.DedupCooldown > 0},
		{"behavior.suspicion_window", cfg.SuspicionWindow > 0},
	}
	for _, c := range checks {
		if !c.ok {
			return fmt.Errorf("%s must be positive", c.name)
		}
	}
	return nil
}

func validateEstimates(estimates map[string]int64) error {
	for op, tokens := range estimates {
		if strings.TrimSpace(op) == "" {
			return fmt.Errorf("estimates contains an empty operation name")
		}
		if tokens <= 0 {
			return fmt.Errorf("estimates[%q] must be positive, got %d", op, tokens)
		}
	}
	return nil
}

func validateRetention(cfg *RetentionConfig) error {
	if cfg.UsageLogDays < 0 {
		return fmt.Errorf("retention.usage_log_days must not be negative, got %d", cfg.UsageLogDays)
	}
	if cfg.PruneSchedule != "" {
		if _, err := cron.ParseStandard(cfg.PruneSchedule); err != nil {
			return fmt.Errorf("retention.prune_schedule %q is not a valid cron expression: %w", cfg.PruneSchedule, err)
		}
	}
	if cfg.SweepInterval < time.Minute {
		return fmt.Errorf("retention.sweep_interval must be at least one minute, got %s", cfg.SweepInterval)
	}
	if cfg.SessionGrace <= 0 {
		return fmt.Errorf("retention.session_grace must be positive, got %s", cfg.SessionGrace)
	}
	if cfg.ProfileIdle <= 0 {
		return fmt.Errorf("retention.profile_idle must be positive, got %s", cfg.ProfileIdle)
	}
	return nil
}

func validateTelemetry(cfg *TelemetryConfig) error {
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("telemetry.logging.level %q is not one of debug, info, warn, error", cfg.Logging.Level)
	}
	switch cfg.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("telemetry.logging.format %q is not one of json, text", cfg.Logging.Format)
	}
	if cfg.Metrics.Path != "" && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return fmt.Errorf("telemetry.metrics.path %q must start with /", cfg.Metrics.Path)
	}
	return nil
}
