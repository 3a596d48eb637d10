package storage

import (
	"context"
	"errors"
	"time"
)

// Store defines the interface for durable quota state.
//
// Implementations must be safe for concurrent use and must perform counter
// mutations atomically inside the store (conditional updates, not
// read-modify-write in Go), so that accounting stays correct even with
// multiple server processes sharing one database.
type Store interface {
	// EnsureRecord returns the quota record for an identity, creating it
	// with the given defaults if it does not exist yet.
	EnsureRecord(ctx context.Context, identity string, defaults RecordDefaults) (*Record, error)

	// GetRecord retrieves the quota record for an identity.
	// Returns nil if no record exists.
	GetRecord(ctx context.Context, identity string) (*Record, error)

	// ApplyOverride sets per-identity limit overrides. Zero limits leave
	// the current limit in place.
	ApplyOverride(ctx context.Context, identity string, override Override) error

	// ResetWeeklyIfDue zeroes the weekly counter and advances the reset
	// time, but only if the identity's weekly reset is due at now.
	// Returns true if a reset was applied. The conditional update makes
	// the operation idempotent: concurrent callers cannot double-reset.
	ResetWeeklyIfDue(ctx context.Context, identity string, now, nextReset time.Time) (bool, error)

	// ResetMonthlyIfDue is the monthly counterpart of ResetWeeklyIfDue.
	ResetMonthlyIfDue(ctx context.Context, identity string, now, nextReset time.Time) (bool, error)

	// SweepWeeklyResets resets every identity whose weekly reset time has
	// passed. Returns the number of records reset.
	SweepWeeklyResets(ctx context.Context, now, nextReset time.Time) (int64, error)

	// SweepMonthlyResets is the monthly counterpart of SweepWeeklyResets.
	SweepMonthlyResets(ctx context.Context, now, nextReset time.Time) (int64, error)

	// GetSession retrieves the accounting session row for an identity.
	// Returns nil if the identity has never had a session.
	GetSession(ctx context.Context, identity string) (*Session, error)

	// AcquireSession returns the identity's active session, renewing the
	// single session row in place (fresh ID, zero tokens, new window) if
	// the previous one has expired or none exists. Exactly one active
	// session per identity exists at any time.
	AcquireSession(ctx context.Context, identity, sessionID string, now time.Time, duration time.Duration, tokenLimit int64) (*Session, error)

	// CommitUsage applies a completed operation's actual token cost:
	// weekly, monthly and session counters are incremented together with
	// the usage-log append in one transaction. A partial update is never
	// observable. Returns ErrSessionUnknown if the identity has no
	// session row at all.
	CommitUsage(ctx context.Context, entry *UsageEntry) (*CommitResult, error)

	// UsageHistory returns the most recent usage-log entries for an
	// identity, newest first, up to limit.
	UsageHistory(ctx context.Context, identity string, limit int) ([]*UsageEntry, error)

	// ListRecords returns all quota records, for admin reporting.
	ListRecords(ctx context.Context) ([]*Record, error)

	// PruneUsageLog deletes usage-log entries older than the cutoff.
	// Returns the number of entries deleted.
	PruneUsageLog(ctx context.Context, olderThan time.Time) (int64, error)

	// PruneSessions deletes session rows that expired before the cutoff.
	// Returns the number of rows deleted.
	PruneSessions(ctx context.Context, expiredBefore time.Time) (int64, error)

	// Close releases any resources held by the store.
	Close() error
}

// ErrSessionUnknown is returned by CommitUsage when the identity has no
// session row, i.e. finalize was called without a prior successful admit.
var ErrSessionUnknown = errors.New("no accounting session for identity")

// Record is the durable quota state for one authenticated identity.
type Record struct {
	// Identity is the opaque identity key.
	Identity string `json:"identity"`

	// WeeklyLimit and WeeklyUsed track the calendar-week token window.
	// WeeklyUsed may transiently exceed WeeklyLimit by one in-flight
	// request's worth; admission gates on pre-commit availability.
	WeeklyLimit   int64     `json:"weekly_limit"`
	WeeklyUsed    int64     `json:"weekly_used"`
	WeeklyResetAt time.Time `json:"weekly_reset_at"`

	// MonthlyLimit and MonthlyUsed track the calendar-month token window.
	// Monthly usage is informational; it never denies a request.
	MonthlyLimit   int64     `json:"monthly_limit"`
	MonthlyUsed    int64     `json:"monthly_used"`
	MonthlyResetAt time.Time `json:"monthly_reset_at"`

	// Unlimited is the admin bypass: admission always allows.
	Unlimited bool `json:"unlimited"`

	// AccessEnabled is the kill-switch: when false, admission always
	// denies.
	AccessEnabled bool `json:"access_enabled"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RecordDefaults seeds a freshly created quota record.
type RecordDefaults struct {
	WeeklyLimit    int64
	MonthlyLimit   int64
	WeeklyResetAt  time.Time
	MonthlyResetAt time.Time
}

// Override carries per-identity limit overrides.
type Override struct {
	// WeeklyLimit and MonthlyLimit replace the record's limits when
	// positive; zero leaves the current limit in place.
	WeeklyLimit  int64
	MonthlyLimit int64

	// Unlimited grants the admin bypass.
	Unlimited bool

	// Disabled flips the record's kill-switch off.
	Disabled bool
}

// Session is the rolling accounting session row for one identity.
// The row is renewed in place on expiry rather than deleted, to avoid
// unbounded row growth under a fixed reaping cadence.
type Session struct {
	// ID identifies one session window; it changes on renewal.
	ID string

	// Identity is the opaque identity key.
	Identity string

	// TokensUsed and TokenLimit track the session token window.
	TokensUsed int64
	TokenLimit int64

	StartedAt time.Time
	ExpiresAt time.Time

	// Active is false once the session has been renewed or swept.
	Active bool
}

// Expired reports whether the session window has ended at the given time.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// UsageEntry is one append-only usage-log record for a completed metered
// call. Entries are never mutated.
type UsageEntry struct {
	// Identity is the opaque identity key.
	Identity string `json:"identity"`

	// SessionID references the accounting session the call was admitted
	// under. The referenced session may have been renewed by the time a
	// slow call commits; the reference is preserved as issued.
	SessionID string `json:"session_id"`

	// Operation is the endpoint/operation tag (e.g. "explain", "quiz").
	Operation string `json:"operation"`

	// PromptTokens and CompletionTokens are the provider-reported split.
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`

	// Metadata carries free-form key/value detail for analytics.
	Metadata map[string]string `json:"metadata,omitempty"`

	// Timestamp is when the usage was committed.
	Timestamp time.Time `json:"timestamp"`
}

// TotalTokens returns the combined prompt and completion cost.
func (e *UsageEntry) TotalTokens() int64 {
	return e.PromptTokens + e.CompletionTokens
}

// CommitResult reports counter state after a commit.
type CommitResult struct {
	// WeeklyUsed and MonthlyUsed are the record counters after the
	// commit.
	WeeklyUsed  int64
	MonthlyUsed int64

	// SessionTokens is the session counter after the commit, or -1 if
	// the referenced session had already been renewed (the cost is still
	// reflected in the weekly and monthly counters and the usage log).
	SessionTokens int64
}
