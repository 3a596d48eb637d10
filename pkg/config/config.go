package config

import "time"

// Config is the root configuration structure for Warden.
// It contains all configuration sections for the HTTP surface, quota
// accounting, upstream call guarding, guest throttling, abuse detection,
// background reaping, and telemetry.
type Config struct {
	// Server contains HTTP server configuration including listen address
	// and timeouts.
	Server ServerConfig `yaml:"server"`

	// Quota contains quota accounting configuration: session, weekly and
	// monthly token windows and the durable store location.
	Quota QuotaConfig `yaml:"quota"`

	// Upstream contains configuration for the guards wrapped around calls
	// to the model provider: concurrency limit, timeout, circuit breaker.
	Upstream UpstreamConfig `yaml:"upstream"`

	// Guest contains configuration for the anonymous device throttle.
	Guest GuestConfig `yaml:"guest"`

	// Behavior contains thresholds for the behavioral abuse detectors.
	Behavior BehaviorConfig `yaml:"behavior"`

	// Estimates maps operation names to a priori token-cost estimates
	// used for pre-flight admission checks. Actual cost is committed
	// post-flight from provider-reported usage.
	Estimates map[string]int64 `yaml:"estimates"`

	// Retention contains configuration for the background reaper.
	Retention RetentionConfig `yaml:"retention"`

	// Telemetry contains observability configuration.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig contains configuration for the HTTP server.
type ServerConfig struct {
	// ListenAddress is the address and port to listen on.
	// Format: "host:port". Default: "127.0.0.1:8090"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading the entire request.
	// Default: 30s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of
	// the response. Default: 30s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the keep-alive idle timeout. Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout is the maximum duration to wait for graceful
	// shutdown. Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// QuotaConfig contains configuration for the quota accountant.
type QuotaConfig struct {
	// StorePath is the path to the SQLite database holding quota records,
	// accounting sessions and the usage log. Default: "data/warden.db"
	StorePath string `yaml:"store_path"`

	// SessionTokenLimit is the token ceiling for one accounting session.
	// Default: 25000
	SessionTokenLimit int64 `yaml:"session_token_limit"`

	// SessionDuration is the length of the rolling accounting session
	// window. Default: 5h
	SessionDuration time.Duration `yaml:"session_duration"`

	// WeeklyTokenLimit is the default per-identity weekly token ceiling.
	// Per-identity overrides take precedence. Default: 150000
	WeeklyTokenLimit int64 `yaml:"weekly_token_limit"`

	// MonthlyTokenLimit is the default per-identity monthly token ceiling.
	// Monthly usage is tracked for reporting only and never denies a
	// request on its own. Default: 500000
	MonthlyTokenLimit int64 `yaml:"monthly_token_limit"`

	// OverridesPath is an optional YAML file mapping identities to limit
	// overrides. When set, the file is watched and reloaded on change.
	OverridesPath string `yaml:"overrides_path"`
}

// UpstreamConfig contains configuration for the upstream call guards.
type UpstreamConfig struct {
	// Concurrency is the maximum number of simultaneous in-flight calls
	// to the provider. Excess callers queue in FIFO order. Default: 4
	Concurrency int `yaml:"concurrency"`

	// Timeout is the deadline raced against each provider call. The
	// underlying call is abandoned, not cancelled, on timeout.
	// Default: 60s
	Timeout time.Duration `yaml:"timeout"`

	// FailureThreshold is the number of consecutive failures that opens
	// the circuit breaker. Default: 5
	FailureThreshold int `yaml:"failure_threshold"`

	// RecoveryTimeout is how long the breaker stays open before allowing
	// a half-open probe. Default: 60s
	RecoveryTimeout time.Duration `yaml:"recovery_timeout"`
}

// GuestConfig contains configuration for the guest throttle.
type GuestConfig struct {
	// MaxAttempts is the request ceiling per guest device within the
	// window. Default: 5
	MaxAttempts int `yaml:"max_attempts"`

	// Window is the sliding throttle window, anchored to the device's
	// last attempt. Default: 24h
	Window time.Duration `yaml:"window"`
}

// BehaviorConfig contains thresholds for the abuse detectors.
// Each detector is independently tunable.
type BehaviorConfig struct {
	// IPHopMinIPs is the distinct-IP count within IPHopWindow that raises
	// an IP-hopping activity. Default: 3
	IPHopMinIPs int `yaml:"ip_hop_min_ips"`

	// IPHopMinRequests is the minimum total requests before IP-hopping
	// can fire. Default: 5
	IPHopMinRequests int `yaml:"ip_hop_min_requests"`

	// IPHopWindow bounds the IP-hopping observation window. Default: 1h
	IPHopWindow time.Duration `yaml:"ip_hop_window"`

	// RapidRequestCount is the request count within RapidRequestWindow
	// that raises a rapid-requests activity. Default: 10
	RapidRequestCount int `yaml:"rapid_request_count"`

	// RapidRequestWindow bounds the rapid-request observation window.
	// Default: 60s
	RapidRequestWindow time.Duration `yaml:"rapid_request_window"`

	// BotTimingSamples is how many of the last ten inter-request gaps
	// must cluster near their mean to raise bot-timing. Default: 5
	BotTimingSamples int `yaml:"bot_timing_samples"`

	// BotTimingJitter is the clustering tolerance around the mean gap.
	// Default: 50ms
	BotTimingJitter time.Duration `yaml:"bot_timing_jitter"`

	// HeaderMinAgents is the distinct user-agent count within
	// HeaderWindow that raises a header-anomaly activity. Default: 3
	HeaderMinAgents int `yaml:"header_min_agents"`

	// HeaderWindow bounds the header-anomaly observation window.
	// Default: 1h
	HeaderWindow time.Duration `yaml:"header_window"`

	// FailureCount is the count of >=400 responses within FailureWindow
	// that raises an excessive-failures activity. Default: 5
	FailureCount int `yaml:"failure_count"`

	// FailureWindow bounds the failure observation window. Default: 5m
	FailureWindow time.Duration `yaml:"failure_window"`

	// DedupCooldown suppresses repeat (device, pattern) activities for
	// this long after one is raised. Default: 5m
	DedupCooldown time.Duration `yaml:"dedup_cooldown"`

	// SuspicionWindow is the trailing window IsSuspicious looks at for
	// non-low activities. Default: 1h
	SuspicionWindow time.Duration `yaml:"suspicion_window"`
}

// RetentionConfig contains configuration for the background reaper.
type RetentionConfig struct {
	// UsageLogDays is how long usage-log detail is retained before the
	// scheduled prune deletes it. 0 keeps it forever. Default: 90
	UsageLogDays int `yaml:"usage_log_days"`

	// PruneSchedule is a cron expression for the usage-log prune.
	// Default: "0 3 * * *" (daily at 3 AM)
	PruneSchedule string `yaml:"prune_schedule"`

	// SweepInterval is how often the in-process sweep expires stale guest
	// sessions, idle device profiles, and long-expired accounting
	// sessions. Clamped to at least one minute. Default: 5m
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// SessionGrace is how long an expired accounting session row is kept
	// before the sweep deletes it. Default: 72h
	SessionGrace time.Duration `yaml:"session_grace"`

	// ProfileIdle is how long a device profile may sit idle before the
	// sweep drops it. Default: 24h
	ProfileIdle time.Duration `yaml:"profile_idle"`
}

// TelemetryConfig contains observability configuration.
type TelemetryConfig struct {
	// Logging contains structured logging configuration.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics contains Prometheus metrics configuration.
	Metrics MetricsConfig `yaml:"metrics"`
}

// LoggingConfig contains structured logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level ("debug", "info", "warn", "error").
	// Default: "info"
	Level string `yaml:"level"`

	// Format is the output format ("json", "text"). Default: "json"
	Format string `yaml:"format"`
}

// MetricsConfig contains Prometheus metrics configuration.
type MetricsConfig struct {
	// Enabled controls whether the /metrics endpoint is served.
	// Default: true
	Enabled *bool `yaml:"enabled"`

	// Path is the metrics endpoint path. Default: "/metrics"
	Path string `yaml:"path"`
}

// LimitOverride is a per-identity limit override loaded from the
// overrides file. Zero fields leave the global default in place.
type LimitOverride struct {
	// WeeklyTokenLimit overrides the weekly ceiling for this identity.
	WeeklyTokenLimit int64 `yaml:"weekly_token_limit"`

	// MonthlyTokenLimit overrides the monthly ceiling for this identity.
	MonthlyTokenLimit int64 `yaml:"monthly_token_limit"`

	// Unlimited grants the admin bypass: admission always allows.
	Unlimited bool `yaml:"unlimited"`

	// Disabled is the kill-switch: admission always denies.
	Disabled bool `yaml:"disabled"`
}

// Overrides maps identities to their limit overrides.
type Overrides map[string]LimitOverride
