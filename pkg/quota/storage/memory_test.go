package storage

import (
	"context"
	"testing"
	"time"
)

// The memory store backs unit tests elsewhere; these tests pin the
// behaviors the accountant depends on.

func TestMemoryStore_CommitAndReset(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	defaults := testDefaults(now)
	if _, err := store.EnsureRecord(ctx, "user-1", defaults); err != nil {
		t.Fatalf("EnsureRecord failed: %v", err)
	}
	if _, err := store.AcquireSession(ctx, "user-1", "sess-a", now, 5*time.Hour, 25000); err != nil {
		t.Fatalf("AcquireSession failed: %v", err)
	}

	result, err := store.CommitUsage(ctx, &UsageEntry{
		Identity: "user-1", SessionID: "sess-a", Operation: "quiz",
		PromptTokens: 3000, CompletionTokens: 2000, Timestamp: now,
	})
	if err != nil {
		t.Fatalf("CommitUsage failed: %v", err)
	}
	if result.WeeklyUsed != 5000 || result.SessionTokens != 5000 {
		t.Errorf("Expected 5000/5000, got weekly=%d session=%d", result.WeeklyUsed, result.SessionTokens)
	}

	// Force a due weekly reset and check the counter clears.
	record, _ := store.GetRecord(ctx, "user-1")
	applied, err := store.ResetWeeklyIfDue(ctx, "user-1", record.WeeklyResetAt.Add(time.Second), now.Add(14*24*time.Hour))
	if err != nil {
		t.Fatalf("ResetWeeklyIfDue failed: %v", err)
	}
	if !applied {
		t.Error("Expected reset to apply")
	}
	record, _ = store.GetRecord(ctx, "user-1")
	if record.WeeklyUsed != 0 {
		t.Errorf("Expected weekly counter cleared, got %d", record.WeeklyUsed)
	}
	if record.MonthlyUsed != 5000 {
		t.Errorf("Expected monthly counter preserved, got %d", record.MonthlyUsed)
	}
}

func TestMemoryStore_CommitUnknownSession(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	store.EnsureRecord(ctx, "user-1", testDefaults(now))

	_, err := store.CommitUsage(ctx, &UsageEntry{
		Identity: "user-1", SessionID: "ghost", Operation: "chat",
		PromptTokens: 10, Timestamp: now,
	})
	if err != ErrSessionUnknown {
		t.Errorf("Expected ErrSessionUnknown, got %v", err)
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	store.EnsureRecord(ctx, "user-1", testDefaults(now))

	record, _ := store.GetRecord(ctx, "user-1")
	record.WeeklyUsed = 999999

	fresh, _ := store.GetRecord(ctx, "user-1")
	if fresh.WeeklyUsed != 0 {
		t.Error("Mutating a returned record leaked into the store")
	}
}
