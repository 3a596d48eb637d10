package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory implementation of Store, intended for tests
// and local development. All mutations happen under a single mutex, which
// gives the same atomicity guarantees as the SQLite store's transactions
// within one process.
type MemoryStore struct {
	mu       sync.Mutex
	records  map[string]*Record
	sessions map[string]*Session
	usage    []*UsageEntry
	closed   bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:  make(map[string]*Record),
		sessions: make(map[string]*Session),
	}
}

// EnsureRecord returns the quota record for an identity, creating it with
// the given defaults if it does not exist yet.
func (s *MemoryStore) EnsureRecord(ctx context.Context, identity string, defaults RecordDefaults) (*Record, error) {
	if identity == "" {
		return nil, fmt.Errorf("identity cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if record, ok := s.records[identity]; ok {
		return copyRecord(record), nil
	}

	now := time.Now()
	record := &Record{
		Identity:       identity,
		WeeklyLimit:    defaults.WeeklyLimit,
		WeeklyResetAt:  defaults.WeeklyResetAt,
		MonthlyLimit:   defaults.MonthlyLimit,
		MonthlyResetAt: defaults.MonthlyResetAt,
		AccessEnabled:  true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.records[identity] = record
	return copyRecord(record), nil
}

// GetRecord retrieves the quota record for an identity.
func (s *MemoryStore) GetRecord(ctx context.Context, identity string) (*Record, error) {
	if identity == "" {
		return nil, fmt.Errorf("identity cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[identity]
	if !ok {
		return nil, nil
	}
	return copyRecord(record), nil
}

// ApplyOverride sets per-identity limit overrides on an existing record.
func (s *MemoryStore) ApplyOverride(ctx context.Context, identity string, override Override) error {
	if identity == "" {
		return fmt.Errorf("identity cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[identity]
	if !ok {
		return nil
	}
	if override.WeeklyLimit > 0 {
		record.WeeklyLimit = override.WeeklyLimit
	}
	if override.MonthlyLimit > 0 {
		record.MonthlyLimit = override.MonthlyLimit
	}
	record.Unlimited = override.Unlimited
	record.AccessEnabled = !override.Disabled
	record.UpdatedAt = time.Now()
	return nil
}

// ResetWeeklyIfDue zeroes the weekly counter if the reset time has passed.
func (s *MemoryStore) ResetWeeklyIfDue(ctx context.Context, identity string, now, nextReset time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[identity]
	if !ok || record.WeeklyResetAt.After(now) {
		return false, nil
	}
	record.WeeklyUsed = 0
	record.WeeklyResetAt = nextReset
	record.UpdatedAt = now
	return true, nil
}

// ResetMonthlyIfDue zeroes the monthly counter if the reset time has passed.
func (s *MemoryStore) ResetMonthlyIfDue(ctx context.Context, identity string, now, nextReset time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[identity]
	if !ok || record.MonthlyResetAt.After(now) {
		return false, nil
	}
	record.MonthlyUsed = 0
	record.MonthlyResetAt = nextReset
	record.UpdatedAt = now
	return true, nil
}

// SweepWeeklyResets resets every identity whose weekly reset is due.
func (s *MemoryStore) SweepWeeklyResets(ctx context.Context, now, nextReset time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for _, record := range s.records {
		if !record.WeeklyResetAt.After(now) {
			record.WeeklyUsed = 0
			record.WeeklyResetAt = nextReset
			record.UpdatedAt = now
			count++
		}
	}
	return count, nil
}

// SweepMonthlyResets resets every identity whose monthly reset is due.
func (s *MemoryStore) SweepMonthlyResets(ctx context.Context, now, nextReset time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for _, record := range s.records {
		if !record.MonthlyResetAt.After(now) {
			record.MonthlyUsed = 0
			record.MonthlyResetAt = nextReset
			record.UpdatedAt = now
			count++
		}
	}
	return count, nil
}

// GetSession retrieves the accounting session row for an identity.
func (s *MemoryStore) GetSession(ctx context.Context, identity string) (*Session, error) {
	if identity == "" {
		return nil, fmt.Errorf("identity cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[identity]
	if !ok {
		return nil, nil
	}
	return copySession(session), nil
}

// AcquireSession returns the identity's active session, renewing the single
// session row in place if the previous window has ended.
func (s *MemoryStore) AcquireSession(ctx context.Context, identity, sessionID string, now time.Time, duration time.Duration, tokenLimit int64) (*Session, error) {
	if identity == "" {
		return nil, fmt.Errorf("identity cannot be empty")
	}
	if sessionID == "" {
		return nil, fmt.Errorf("session id cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.sessions[identity]; ok && existing.Active && !existing.Expired(now) {
		return copySession(existing), nil
	}

	session := &Session{
		ID:         sessionID,
		Identity:   identity,
		TokenLimit: tokenLimit,
		StartedAt:  now,
		ExpiresAt:  now.Add(duration),
		Active:     true,
	}
	s.sessions[identity] = session
	return copySession(session), nil
}

// CommitUsage applies a completed operation's actual cost atomically.
func (s *MemoryStore) CommitUsage(ctx context.Context, entry *UsageEntry) (*CommitResult, error) {
	if entry == nil {
		return nil, fmt.Errorf("entry cannot be nil")
	}
	if entry.Identity == "" {
		return nil, fmt.Errorf("identity cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[entry.Identity]
	if !ok {
		return nil, ErrSessionUnknown
	}

	record, ok := s.records[entry.Identity]
	if !ok {
		return nil, fmt.Errorf("no quota record for identity %q", entry.Identity)
	}

	total := entry.TotalTokens()
	record.WeeklyUsed += total
	record.MonthlyUsed += total
	record.UpdatedAt = entry.Timestamp

	result := &CommitResult{
		WeeklyUsed:    record.WeeklyUsed,
		MonthlyUsed:   record.MonthlyUsed,
		SessionTokens: -1,
	}
	if session.ID == entry.SessionID {
		session.TokensUsed += total
		result.SessionTokens = session.TokensUsed
	}

	logged := *entry
	s.usage = append(s.usage, &logged)
	return result, nil
}

// UsageHistory returns the most recent usage-log entries for an identity.
func (s *MemoryStore) UsageHistory(ctx context.Context, identity string, limit int) ([]*UsageEntry, error) {
	if identity == "" {
		return nil, fmt.Errorf("identity cannot be empty")
	}
	if limit <= 0 {
		limit = 100
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var entries []*UsageEntry
	for i := len(s.usage) - 1; i >= 0 && len(entries) < limit; i-- {
		if s.usage[i].Identity == identity {
			copied := *s.usage[i]
			entries = append(entries, &copied)
		}
	}
	return entries, nil
}

// ListRecords returns all quota records sorted by identity.
func (s *MemoryStore) ListRecords(ctx context.Context) ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]*Record, 0, len(s.records))
	for _, record := range s.records {
		records = append(records, copyRecord(record))
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Identity < records[j].Identity
	})
	return records, nil
}

// PruneUsageLog deletes usage-log entries older than the cutoff.
func (s *MemoryStore) PruneUsageLog(ctx context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var kept []*UsageEntry
	var deleted int64
	for _, entry := range s.usage {
		if entry.Timestamp.Before(olderThan) {
			deleted++
			continue
		}
		kept = append(kept, entry)
	}
	s.usage = kept
	return deleted, nil
}

// PruneSessions deletes session rows that expired before the cutoff.
func (s *MemoryStore) PruneSessions(ctx context.Context, expiredBefore time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for identity, session := range s.sessions {
		if session.ExpiresAt.Before(expiredBefore) {
			delete(s.sessions, identity)
			deleted++
		}
	}
	return deleted, nil
}

// Close releases store resources. It is safe to call multiple times.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func copyRecord(r *Record) *Record {
	copied := *r
	return &copied
}

func copySession(s *Session) *Session {
	copied := *s
	return &copied
}
