package quota

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"studyhall/warden/pkg/config"
	"studyhall/warden/pkg/quota/storage"
)

// Accountant tracks token usage across three windows per identity: the
// rolling accounting session, the calendar week, and the calendar month.
//
// Pre-flight checks gate on the session and weekly windows using an a
// priori cost estimate; the actual cost is committed post-flight from
// provider-reported usage. The monthly window is tracked for reporting
// only. Window resets are applied lazily on the identity's next touch and
// by the background sweep, both through conditional store updates, so no
// reset is ever applied twice.
type Accountant struct {
	store  storage.Store
	cfg    config.QuotaConfig
	logger *slog.Logger

	// now is replaceable in tests.
	now func() time.Time

	// newSessionID is replaceable in tests.
	newSessionID func() string

	overridesMu sync.RWMutex
	overrides   config.Overrides
}

// AccountantOption customizes an Accountant.
type AccountantOption func(*Accountant)

// WithClock overrides the accountant's time source.
func WithClock(now func() time.Time) AccountantOption {
	return func(a *Accountant) { a.now = now }
}

// WithSessionIDFunc overrides session ID generation.
func WithSessionIDFunc(fn func() string) AccountantOption {
	return func(a *Accountant) { a.newSessionID = fn }
}

// NewAccountant creates an accountant over the given store.
func NewAccountant(store storage.Store, cfg config.QuotaConfig, opts ...AccountantOption) *Accountant {
	a := &Accountant{
		store:        store,
		cfg:          cfg,
		logger:       slog.Default().With("component", "quota.accountant"),
		now:          time.Now,
		newSessionID: uuid.NewString,
		overrides:    config.Overrides{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// SetOverrides replaces the per-identity limit override set and pushes
// each override onto any record that already exists. Overrides for
// identities not seen yet are applied when their record is first created.
// Suitable as an OverridesWatcher callback.
func (a *Accountant) SetOverrides(ctx context.Context, overrides config.Overrides) {
	if overrides == nil {
		overrides = config.Overrides{}
	}

	a.overridesMu.Lock()
	a.overrides = overrides
	a.overridesMu.Unlock()

	for identity, o := range overrides {
		err := a.store.ApplyOverride(ctx, identity, storage.Override{
			WeeklyLimit:  o.WeeklyTokenLimit,
			MonthlyLimit: o.MonthlyTokenLimit,
			Unlimited:    o.Unlimited,
			Disabled:     o.Disabled,
		})
		if err != nil {
			a.logger.Error("failed to apply limit override", "identity", identity, "error", err)
		}
	}
}

// lookupOverride returns the override for an identity, if any.
func (a *Accountant) lookupOverride(identity string) (config.LimitOverride, bool) {
	a.overridesMu.RLock()
	defer a.overridesMu.RUnlock()
	o, ok := a.overrides[identity]
	return o, ok
}

// touch loads the identity's record, creating it on first sight and
// applying any lazy window resets that have come due.
func (a *Accountant) touch(ctx context.Context, identity string) (*storage.Record, error) {
	now := a.now()

	defaults := storage.RecordDefaults{
		WeeklyLimit:    a.cfg.WeeklyTokenLimit,
		MonthlyLimit:   a.cfg.MonthlyTokenLimit,
		WeeklyResetAt:  nextWeekStart(now),
		MonthlyResetAt: nextMonthStart(now),
	}
	if o, ok := a.lookupOverride(identity); ok {
		if o.WeeklyTokenLimit > 0 {
			defaults.WeeklyLimit = o.WeeklyTokenLimit
		}
		if o.MonthlyTokenLimit > 0 {
			defaults.MonthlyLimit = o.MonthlyTokenLimit
		}
	}

	record, err := a.store.EnsureRecord(ctx, identity, defaults)
	if err != nil {
		return nil, err
	}

	// First sight of an identity with an unlimited/disabled override.
	if o, ok := a.lookupOverride(identity); ok &&
		(record.Unlimited != o.Unlimited || record.AccessEnabled == o.Disabled) {
		err := a.store.ApplyOverride(ctx, identity, storage.Override{
			WeeklyLimit:  o.WeeklyTokenLimit,
			MonthlyLimit: o.MonthlyTokenLimit,
			Unlimited:    o.Unlimited,
			Disabled:     o.Disabled,
		})
		if err != nil {
			return nil, err
		}
		record, err = a.store.GetRecord(ctx, identity)
		if err != nil {
			return nil, err
		}
	}

	reloaded := false
	if !record.WeeklyResetAt.After(now) {
		applied, err := a.store.ResetWeeklyIfDue(ctx, identity, now, nextWeekStart(now))
		if err != nil {
			return nil, err
		}
		if applied {
			a.logger.Debug("weekly window reset", "identity", identity)
		}
		reloaded = true
	}
	if !record.MonthlyResetAt.After(now) {
		applied, err := a.store.ResetMonthlyIfDue(ctx, identity, now, nextMonthStart(now))
		if err != nil {
			return nil, err
		}
		if applied {
			a.logger.Debug("monthly window reset", "identity", identity)
		}
		reloaded = true
	}

	if reloaded {
		record, err = a.store.GetRecord(ctx, identity)
		if err != nil {
			return nil, err
		}
		if record == nil {
			return nil, fmt.Errorf("record for %q vanished during reset", identity)
		}
	}
	return record, nil
}

// CheckAvailability runs the pre-flight admission check for an estimated
// token cost. Denial order is fixed: the kill-switch first, then the
// weekly window, then the session window. The monthly window never denies.
// The check mutates no counters; the caller commits actual cost after the
// call completes.
func (a *Accountant) CheckAvailability(ctx context.Context, identity string, estimate int64) (*Decision, error) {
	if identity == "" {
		return nil, ErrInvalidIdentity
	}
	if estimate <= 0 {
		return nil, ErrInvalidEstimate
	}

	record, err := a.touch(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("failed to load quota record: %w", err)
	}

	if !record.AccessEnabled {
		return &Decision{
			Allowed: false,
			Reason:  ReasonAccessDisabled,
		}, nil
	}

	if record.Unlimited {
		return &Decision{Allowed: true, Unlimited: true}, nil
	}

	weeklyRemaining := record.WeeklyLimit - record.WeeklyUsed
	if weeklyRemaining < 0 {
		weeklyRemaining = 0
	}
	if record.WeeklyUsed+estimate > record.WeeklyLimit {
		return &Decision{
			Allowed:   false,
			Reason:    ReasonWeeklyExhausted,
			Window:    WindowWeekly,
			Remaining: weeklyRemaining,
			ResetAt:   record.WeeklyResetAt,
		}, nil
	}

	// A missing or expired session counts as zero usage: the acquire that
	// follows a successful check starts it fresh.
	now := a.now()
	var sessionUsed int64
	sessionReset := now.Add(a.cfg.SessionDuration)
	session, err := a.store.GetSession(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if session != nil && session.Active && !session.Expired(now) {
		sessionUsed = session.TokensUsed
		sessionReset = session.ExpiresAt
	}

	sessionRemaining := a.cfg.SessionTokenLimit - sessionUsed
	if sessionRemaining < 0 {
		sessionRemaining = 0
	}
	if sessionUsed+estimate > a.cfg.SessionTokenLimit {
		return &Decision{
			Allowed:   false,
			Reason:    ReasonSessionExhausted,
			Window:    WindowSession,
			Remaining: sessionRemaining,
			ResetAt:   sessionReset,
		}, nil
	}

	decision := &Decision{Allowed: true, Window: WindowWeekly, Remaining: weeklyRemaining, ResetAt: record.WeeklyResetAt}
	if sessionRemaining < weeklyRemaining {
		decision.Window = WindowSession
		decision.Remaining = sessionRemaining
		decision.ResetAt = sessionReset
	}
	return decision, nil
}

// AcquireSession returns the identity's active accounting session,
// starting or renewing one as needed.
func (a *Accountant) AcquireSession(ctx context.Context, identity string) (*storage.Session, error) {
	if identity == "" {
		return nil, ErrInvalidIdentity
	}

	session, err := a.store.AcquireSession(ctx, identity, a.newSessionID(),
		a.now(), a.cfg.SessionDuration, a.cfg.SessionTokenLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire session: %w", err)
	}
	return session, nil
}

// Commit records a completed call's actual token cost against all three
// windows and appends a usage-log entry, atomically. Commit never
// re-validates limits: a cost that lands over a ceiling is still recorded
// in full, and the overshoot simply denies the next pre-flight check.
func (a *Accountant) Commit(ctx context.Context, entry *storage.UsageEntry) (*storage.CommitResult, error) {
	if entry == nil {
		return nil, fmt.Errorf("entry cannot be nil")
	}
	if entry.Identity == "" {
		return nil, ErrInvalidIdentity
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = a.now()
	}

	result, err := a.store.CommitUsage(ctx, entry)
	if err != nil {
		return nil, err
	}

	a.logger.Debug("usage committed",
		"identity", entry.Identity,
		"operation", entry.Operation,
		"tokens", entry.TotalTokens(),
		"weekly_used", result.WeeklyUsed,
	)
	return result, nil
}

// SweepResets applies every due weekly and monthly reset in bulk. The
// background reaper calls this on its sweep interval; lazy per-identity
// resets in CheckAvailability make the sweep a backstop, not a
// correctness requirement.
func (a *Accountant) SweepResets(ctx context.Context) (weekly, monthly int64, err error) {
	now := a.now()

	weekly, err = a.store.SweepWeeklyResets(ctx, now, nextWeekStart(now))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to sweep weekly resets: %w", err)
	}
	monthly, err = a.store.SweepMonthlyResets(ctx, now, nextMonthStart(now))
	if err != nil {
		return weekly, 0, fmt.Errorf("failed to sweep monthly resets: %w", err)
	}
	return weekly, monthly, nil
}

// PruneSessions deletes accounting-session rows that expired before the
// grace cutoff.
func (a *Accountant) PruneSessions(ctx context.Context, grace time.Duration) (int64, error) {
	return a.store.PruneSessions(ctx, a.now().Add(-grace))
}

// PruneUsageLog deletes usage-log detail older than the retention cutoff.
func (a *Accountant) PruneUsageLog(ctx context.Context, retain time.Duration) (int64, error) {
	return a.store.PruneUsageLog(ctx, a.now().Add(-retain))
}
