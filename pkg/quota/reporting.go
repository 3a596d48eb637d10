package quota

import (
	"context"
	"fmt"
	"time"

	"studyhall/warden/pkg/quota/storage"
)

// WindowUsage reports one token window's state.
type WindowUsage struct {
	Used       int64     `json:"used"`
	Limit      int64     `json:"limit"`
	Remaining  int64     `json:"remaining"`
	Percentage float64   `json:"percentage"`
	ResetAt    time.Time `json:"reset_at"`
}

// Snapshot is a read-only view of one identity's quota state across all
// three windows, for the usage endpoints.
type Snapshot struct {
	Identity      string       `json:"identity"`
	Session       *WindowUsage `json:"session,omitempty"`
	Weekly        WindowUsage  `json:"weekly"`
	Monthly       WindowUsage  `json:"monthly"`
	Unlimited     bool         `json:"unlimited"`
	AccessEnabled bool         `json:"access_enabled"`
}

// Snapshot returns the identity's current quota state. The record is
// touched first so a due reset is reflected rather than stale counters.
func (a *Accountant) Snapshot(ctx context.Context, identity string) (*Snapshot, error) {
	if identity == "" {
		return nil, ErrInvalidIdentity
	}

	record, err := a.touch(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("failed to load quota record: %w", err)
	}

	snapshot := &Snapshot{
		Identity:      identity,
		Weekly:        windowUsage(record.WeeklyUsed, record.WeeklyLimit, record.WeeklyResetAt),
		Monthly:       windowUsage(record.MonthlyUsed, record.MonthlyLimit, record.MonthlyResetAt),
		Unlimited:     record.Unlimited,
		AccessEnabled: record.AccessEnabled,
	}

	session, err := a.store.GetSession(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if session != nil && session.Active && !session.Expired(a.now()) {
		usage := windowUsage(session.TokensUsed, session.TokenLimit, session.ExpiresAt)
		snapshot.Session = &usage
	}
	return snapshot, nil
}

// History returns the identity's most recent usage-log entries, newest
// first.
func (a *Accountant) History(ctx context.Context, identity string, limit int) ([]*storage.UsageEntry, error) {
	if identity == "" {
		return nil, ErrInvalidIdentity
	}
	return a.store.UsageHistory(ctx, identity, limit)
}

// Overview returns every identity's quota record, for admin reporting.
func (a *Accountant) Overview(ctx context.Context) ([]*storage.Record, error) {
	return a.store.ListRecords(ctx)
}

func windowUsage(used, limit int64, resetAt time.Time) WindowUsage {
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	// Percentage may exceed 100 when a commit overshot the ceiling.
	var percentage float64
	if limit > 0 {
		percentage = float64(used) / float64(limit) * 100
	}
	return WindowUsage{Used: used, Limit: limit, Remaining: remaining, Percentage: percentage, ResetAt: resetAt}
}
