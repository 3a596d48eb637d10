package admission

import (
	"context"
	"errors"
	"testing"
	"time"

	"studyhall/warden/pkg/behavior"
	"studyhall/warden/pkg/config"
	"studyhall/warden/pkg/guard"
	"studyhall/warden/pkg/guest"
	"studyhall/warden/pkg/quota"
	"studyhall/warden/pkg/quota/storage"
)

func newTestService(t *testing.T, mutate func(*config.Config)) *Service {
	t.Helper()

	cfg := config.DefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}

	accountant := quota.NewAccountant(storage.NewMemoryStore(), cfg.Quota)
	callGuard, err := guard.New(cfg.Upstream)
	if err != nil {
		t.Fatalf("Failed to create guard: %v", err)
	}
	throttle, err := guest.NewThrottle(cfg.Guest)
	if err != nil {
		t.Fatalf("Failed to create throttle: %v", err)
	}
	analyzer := behavior.NewAnalyzer(cfg.Behavior)

	return NewService(accountant, callGuard, throttle, analyzer, cfg.Estimates)
}

func TestAdmitAuthenticated_IssuesTicket(t *testing.T) {
	service := newTestService(t, nil)

	ticket, err := service.AdmitAuthenticated(context.Background(), "user-1", "explain")
	if err != nil {
		t.Fatalf("AdmitAuthenticated failed: %v", err)
	}
	if ticket.SessionID == "" {
		t.Error("Expected ticket to carry a session ID")
	}
	if ticket.Estimate != 3000 {
		t.Errorf("Expected explain estimate 3000, got %d", ticket.Estimate)
	}
}

func TestAdmitAuthenticated_UnknownOperationFallsBack(t *testing.T) {
	service := newTestService(t, nil)

	ticket, err := service.AdmitAuthenticated(context.Background(), "user-1", "translate")
	if err != nil {
		t.Fatalf("AdmitAuthenticated failed: %v", err)
	}
	if ticket.Estimate != fallbackEstimate {
		t.Errorf("Expected fallback estimate %d, got %d", fallbackEstimate, ticket.Estimate)
	}
}

func TestAdmitAuthenticated_DenialIsQuotaError(t *testing.T) {
	service := newTestService(t, func(c *config.Config) {
		c.Quota.WeeklyTokenLimit = 100
	})
	ctx := context.Background()

	_, err := service.AdmitAuthenticated(ctx, "user-1", "quiz")
	var quotaErr *quota.QuotaError
	if !errors.As(err, &quotaErr) {
		t.Fatalf("Expected *quota.QuotaError, got %v", err)
	}
	if quotaErr.Window != quota.WindowWeekly {
		t.Errorf("Expected weekly denial, got %q", quotaErr.Window)
	}
}

func TestAdmitAndFinalize_RoundTrip(t *testing.T) {
	service := newTestService(t, nil)
	ctx := context.Background()

	ticket, err := service.AdmitAuthenticated(ctx, "user-1", "chat")
	if err != nil {
		t.Fatalf("AdmitAuthenticated failed: %v", err)
	}

	result, err := service.Finalize(ctx, ticket, 800, 400, map[string]string{"model": "tutor-small"})
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	if result.WeeklyUsed != 1200 {
		t.Errorf("Expected weekly used 1200, got %d", result.WeeklyUsed)
	}

	snapshot, err := service.Snapshot(ctx, "user-1")
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if snapshot.Session == nil || snapshot.Session.Used != 1200 {
		t.Errorf("Expected session usage 1200, got %+v", snapshot.Session)
	}
}

func TestExecute_CommitsActualUsage(t *testing.T) {
	service := newTestService(t, nil)
	ctx := context.Background()

	ticket, _ := service.AdmitAuthenticated(ctx, "user-1", "chat")

	result, err := service.Execute(ctx, ticket, func(ctx context.Context) (*guard.CallResult, error) {
		return &guard.CallResult{PromptTokens: 900, CompletionTokens: 600}, nil
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.TotalTokens() != 1500 {
		t.Errorf("Expected result 1500 tokens, got %d", result.TotalTokens())
	}

	// The actual cost, not the estimate, was committed.
	snapshot, _ := service.Snapshot(ctx, "user-1")
	if snapshot.Weekly.Used != 1500 {
		t.Errorf("Expected weekly used 1500, got %d", snapshot.Weekly.Used)
	}
}

func TestExecute_FailedCallCommitsNothing(t *testing.T) {
	service := newTestService(t, nil)
	ctx := context.Background()

	ticket, _ := service.AdmitAuthenticated(ctx, "user-1", "chat")

	upstreamErr := errors.New("provider unavailable")
	_, err := service.Execute(ctx, ticket, func(ctx context.Context) (*guard.CallResult, error) {
		return nil, upstreamErr
	})
	if err != upstreamErr {
		t.Fatalf("Expected upstream error, got %v", err)
	}

	snapshot, _ := service.Snapshot(ctx, "user-1")
	if snapshot.Weekly.Used != 0 {
		t.Errorf("Expected no usage committed for failed call, got %d", snapshot.Weekly.Used)
	}
}

func TestExecute_AbandonedCallStillCommits(t *testing.T) {
	service := newTestService(t, func(c *config.Config) {
		c.Upstream.Timeout = 20 * time.Millisecond
	})
	ctx := context.Background()

	ticket, _ := service.AdmitAuthenticated(ctx, "user-1", "chat")

	released := make(chan struct{})
	_, err := service.Execute(ctx, ticket, func(ctx context.Context) (*guard.CallResult, error) {
		<-released
		return &guard.CallResult{PromptTokens: 2000, CompletionTokens: 1000}, nil
	})
	if !errors.Is(err, guard.ErrUpstreamTimeout) {
		t.Fatalf("Expected ErrUpstreamTimeout, got %v", err)
	}

	// The provider answers after abandonment; the tokens were billed
	// upstream so they must land in the counters.
	close(released)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snapshot, err := service.Snapshot(ctx, "user-1")
		if err == nil && snapshot.Weekly.Used == 3000 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	snapshot, _ := service.Snapshot(ctx, "user-1")
	t.Fatalf("Expected 3000 tokens committed after late completion, got %d", snapshot.Weekly.Used)
}

func TestAdmitGuest(t *testing.T) {
	service := newTestService(t, func(c *config.Config) {
		c.Guest.MaxAttempts = 2
	})

	if _, err := service.AdmitGuest("device-1"); err != nil {
		t.Fatalf("First guest attempt failed: %v", err)
	}
	remaining, err := service.AdmitGuest("device-1")
	if err != nil {
		t.Fatalf("Second guest attempt failed: %v", err)
	}
	if remaining != 0 {
		t.Errorf("Expected 0 remaining, got %d", remaining)
	}

	if _, err := service.AdmitGuest("device-1"); !errors.Is(err, guest.ErrLimitReached) {
		t.Errorf("Expected ErrLimitReached, got %v", err)
	}

	service.ResetGuest("device-1")
	if _, err := service.AdmitGuest("device-1"); err != nil {
		t.Errorf("Expected attempt allowed after reset, got %v", err)
	}
}

func TestRecordTraffic_FeedsAnalyzer(t *testing.T) {
	service := newTestService(t, nil)

	for _, ip := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3", "10.0.0.4", "10.0.0.5"} {
		service.RecordTraffic(behavior.Event{
			Device: "device-1", IP: ip, UserAgent: "app/1.0",
			Endpoint: "/chat", StatusCode: 200,
		})
	}

	if !service.IsSuspicious("device-1") {
		t.Error("Expected IP-hopping device to be flagged suspicious")
	}
	if len(service.Activities("device-1")) == 0 {
		t.Error("Expected recorded activities")
	}
}
