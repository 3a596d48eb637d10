package guard

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestTimeoutGuard_FastCallPasses(t *testing.T) {
	guard, err := NewTimeoutGuard(time.Second)
	if err != nil {
		t.Fatalf("Failed to create guard: %v", err)
	}

	result, err := guard.Do(context.Background(), func(ctx context.Context) (*CallResult, error) {
		return &CallResult{PromptTokens: 10, CompletionTokens: 20}, nil
	})
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if result.CompletionTokens != 20 {
		t.Errorf("Expected completion tokens 20, got %d", result.CompletionTokens)
	}
}

func TestTimeoutGuard_SlowCallTimesOut(t *testing.T) {
	guard, _ := NewTimeoutGuard(20 * time.Millisecond)

	_, err := guard.Do(context.Background(), func(ctx context.Context) (*CallResult, error) {
		time.Sleep(200 * time.Millisecond)
		return &CallResult{}, nil
	})
	if err != ErrUpstreamTimeout {
		t.Errorf("Expected ErrUpstreamTimeout, got %v", err)
	}
}

func TestTimeoutGuard_LateOutcomeReachesHook(t *testing.T) {
	guard, _ := NewTimeoutGuard(20 * time.Millisecond)

	late := make(chan *CallResult, 1)
	guard.OnLate = func(result *CallResult, err error, elapsed time.Duration) {
		late <- result
	}

	_, err := guard.Do(context.Background(), func(ctx context.Context) (*CallResult, error) {
		time.Sleep(100 * time.Millisecond)
		return &CallResult{PromptTokens: 500, CompletionTokens: 700}, nil
	})
	if err != ErrUpstreamTimeout {
		t.Fatalf("Expected ErrUpstreamTimeout, got %v", err)
	}

	select {
	case result := <-late:
		if result.TotalTokens() != 1200 {
			t.Errorf("Expected late usage 1200 tokens, got %d", result.TotalTokens())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Late outcome never reached the hook")
	}
}

func TestTimeoutGuard_CallerCancellation(t *testing.T) {
	guard, _ := NewTimeoutGuard(time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := guard.Do(ctx, func(ctx context.Context) (*CallResult, error) {
		time.Sleep(500 * time.Millisecond)
		return &CallResult{}, nil
	})
	if err != context.Canceled {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestGuard_RecordsOutcomes(t *testing.T) {
	guard, err := New(testUpstreamConfig())
	if err != nil {
		t.Fatalf("Failed to create guard: %v", err)
	}
	ctx := context.Background()
	upstreamErr := errors.New("provider unavailable")

	// Two consecutive failures open the threshold-2 breaker.
	for i := 0; i < 2; i++ {
		_, err := guard.Do(ctx, func(ctx context.Context) (*CallResult, error) {
			return nil, upstreamErr
		})
		if err != upstreamErr {
			t.Fatalf("Expected upstream error, got %v", err)
		}
	}
	if guard.BreakerState() != BreakerOpen {
		t.Fatalf("Expected open breaker, got %s", guard.BreakerState())
	}

	// Open breaker fails fast without invoking the call.
	var invoked atomic.Bool
	_, err = guard.Do(ctx, func(ctx context.Context) (*CallResult, error) {
		invoked.Store(true)
		return &CallResult{}, nil
	})
	if err != ErrCircuitOpen {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
	if invoked.Load() {
		t.Error("Expected open breaker to skip the upstream call")
	}
}

func TestGuard_TimeoutCountsAsFailure(t *testing.T) {
	cfg := testUpstreamConfig()
	cfg.FailureThreshold = 1
	cfg.Timeout = 20 * time.Millisecond
	guard, _ := New(cfg)

	_, err := guard.Do(context.Background(), func(ctx context.Context) (*CallResult, error) {
		time.Sleep(200 * time.Millisecond)
		return &CallResult{}, nil
	})
	if err != ErrUpstreamTimeout {
		t.Fatalf("Expected ErrUpstreamTimeout, got %v", err)
	}
	if guard.BreakerState() != BreakerOpen {
		t.Errorf("Expected timeout to open threshold-1 breaker, got %s", guard.BreakerState())
	}
}

func TestGuard_SuccessPath(t *testing.T) {
	guard, _ := New(testUpstreamConfig())

	result, err := guard.Do(context.Background(), func(ctx context.Context) (*CallResult, error) {
		return &CallResult{PromptTokens: 100}, nil
	})
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if result.PromptTokens != 100 {
		t.Errorf("Expected result passed through, got %+v", result)
	}
	if guard.Active() != 0 {
		t.Errorf("Expected slot released, got %d active", guard.Active())
	}
}
