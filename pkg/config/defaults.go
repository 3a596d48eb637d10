package config

import "time"

// Default values for configuration fields.
const (
	// Server defaults
	DefaultListenAddress   = "127.0.0.1:8090"
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 30 * time.Second

	// Quota defaults
	DefaultStorePath         = "data/warden.db"
	DefaultSessionTokenLimit = int64(25000)
	DefaultSessionDuration   = 5 * time.Hour
	DefaultWeeklyTokenLimit  = int64(150000)
	DefaultMonthlyTokenLimit = int64(500000)

	// Upstream defaults
	DefaultConcurrency      = 4
	DefaultUpstreamTimeout  = 60 * time.Second
	DefaultFailureThreshold = 5
	DefaultRecoveryTimeout  = 60 * time.Second

	// Guest defaults
	DefaultGuestMaxAttempts = 5
	DefaultGuestWindow      = 24 * time.Hour

	// Behavior defaults
	DefaultIPHopMinIPs        = 3
	DefaultIPHopMinRequests   = 5
	DefaultIPHopWindow        = time.Hour
	DefaultRapidRequestCount  = 10
	DefaultRapidRequestWindow = 60 * time.Second
	DefaultBotTimingSamples   = 5
	DefaultBotTimingJitter    = 50 * time.Millisecond
	DefaultHeaderMinAgents    = 3
	DefaultHeaderWindow       = time.Hour
	DefaultFailureCount       = 5
	DefaultFailureWindow      = 5 * time.Minute
	DefaultDedupCooldown      = 5 * time.Minute
	DefaultSuspicionWindow    = time.Hour

	// Retention defaults
	DefaultUsageLogDays  = 90
	DefaultPruneSchedule = "0 3 * * *"
	DefaultSweepInterval = 5 * time.Minute
	DefaultSessionGrace  = 72 * time.Hour
	DefaultProfileIdle   = 24 * time.Hour

	// Telemetry defaults
	DefaultLoggingLevel   = "info"
	DefaultLoggingFormat  = "json"
	DefaultMetricsEnabled = true
	DefaultMetricsPath    = "/metrics"
)

// DefaultEstimates is the built-in operation cost table used when the
// configuration does not provide one. Values are pre-flight estimates in
// tokens; actual cost is committed from provider-reported usage.
func DefaultEstimates() map[string]int64 {
	return map[string]int64{
		"chat":      1500,
		"summarize": 2000,
		"explain":   3000,
		"quiz":      5000,
	}
}

// ApplyDefaults applies default values to a Config struct.
// It sets defaults for any fields that have zero values.
// This function is idempotent and safe to call multiple times.
func ApplyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = DefaultListenAddress
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	// Quota defaults
	if cfg.Quota.StorePath == "" {
		cfg.Quota.StorePath = DefaultStorePath
	}
	if cfg.Quota.SessionTokenLimit == 0 {
		cfg.Quota.SessionTokenLimit = DefaultSessionTokenLimit
	}
	if cfg.Quota.SessionDuration == 0 {
		cfg.Quota.SessionDuration = DefaultSessionDuration
	}
	if cfg.Quota.WeeklyTokenLimit == 0 {
		cfg.Quota.WeeklyTokenLimit = DefaultWeeklyTokenLimit
	}
	if cfg.Quota.MonthlyTokenLimit == 0 {
		cfg.Quota.MonthlyTokenLimit = DefaultMonthlyTokenLimit
	}

	// Upstream defaults
	if cfg.Upstream.Concurrency == 0 {
		cfg.Upstream.Concurrency = DefaultConcurrency
	}
	if cfg.Upstream.Timeout == 0 {
		cfg.Upstream.Timeout = DefaultUpstreamTimeout
	}
	if cfg.Upstream.FailureThreshold == 0 {
		cfg.Upstream.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.Upstream.RecoveryTimeout == 0 {
		cfg.Upstream.RecoveryTimeout = DefaultRecoveryTimeout
	}

	// Guest defaults
	if cfg.Guest.MaxAttempts == 0 {
		cfg.Guest.MaxAttempts = DefaultGuestMaxAttempts
	}
	if cfg.Guest.Window == 0 {
		cfg.Guest.Window = DefaultGuestWindow
	}

	// Behavior defaults
	if cfg.Behavior.IPHopMinIPs == 0 {
		cfg.Behavior.IPHopMinIPs = DefaultIPHopMinIPs
	}
	if cfg.Behavior.IPHopMinRequests == 0 {
		cfg.Behavior.IPHopMinRequests = DefaultIPHopMinRequests
	}
	if cfg.Behavior.IPHopWindow == 0 {
		cfg.Behavior.IPHopWindow = DefaultIPHopWindow
	}
	if cfg.Behavior.RapidRequestCount == 0 {
		cfg.Behavior.RapidRequestCount = DefaultRapidRequestCount
	}
	if cfg.Behavior.RapidRequestWindow == 0 {
		cfg.Behavior.RapidRequestWindow = DefaultRapidRequestWindow
	}
	if cfg.Behavior.BotTimingSamples == 0 {
		cfg.Behavior.BotTimingSamples = DefaultBotTimingSamples
	}
	if cfg.Behavior.BotTimingJitter == 0 {
		cfg.Behavior.BotTimingJitter = DefaultBotTimingJitter
	}
	if cfg.Behavior.HeaderMinAgents == 0 {
		cfg.Behavior.HeaderMinAgents = DefaultHeaderMinAgents
	}
	if cfg.Behavior.HeaderWindow == 0 {
		cfg.Behavior.HeaderWindow = DefaultHeaderWindow
	}
	if cfg.Behavior.FailureCount == 0 {
		cfg.Behavior.FailureCount = DefaultFailureCount
	}
	if cfg.Behavior.FailureWindow == 0 {
		cfg.Behavior.FailureWindow = DefaultFailureWindow
	}
	if cfg.Behavior.DedupCooldown == 0 {
		cfg.Behavior.DedupCooldown = DefaultDedupCooldown
	}
	if cfg.Behavior.SuspicionWindow == 0 {
		cfg.Behavior.SuspicionWindow = DefaultSuspicionWindow
	}

	// Estimate table defaults
	if len(cfg.Estimates) == 0 {
		cfg.Estimates = DefaultEstimates()
	}

	// Retention defaults
	if cfg.Retention.UsageLogDays == 0 {
		cfg.Retention.UsageLogDays = DefaultUsageLogDays
	}
	if cfg.Retention.PruneSchedule == "" {
		cfg.Retention.PruneSchedule = DefaultPruneSchedule
	}
	if cfg.Retention.SweepInterval == 0 {
		cfg.Retention.SweepInterval = DefaultSweepInterval
	}
	if cfg.Retention.SweepInterval < time.Minute {
		cfg.Retention.SweepInterval = time.Minute
	}
	if cfg.Retention.SessionGrace == 0 {
		cfg.Retention.SessionGrace = DefaultSessionGrace
	}
	if cfg.Retention.ProfileIdle == 0 {
		cfg.Retention.ProfileIdle = DefaultProfileIdle
	}

	// Telemetry defaults
	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = DefaultLoggingLevel
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = DefaultLoggingFormat
	}
	if cfg.Telemetry.Metrics.Enabled == nil {
		enabled := DefaultMetricsEnabled
		cfg.Telemetry.Metrics.Enabled = &enabled
	}
	if cfg.Telemetry.Metrics.Path == "" {
		cfg.Telemetry.Metrics.Path = DefaultMetricsPath
	}
}

// DefaultConfig returns a fully defaulted configuration.
func DefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
