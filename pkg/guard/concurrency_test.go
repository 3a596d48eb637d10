package guard

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestLimiter_AllowsUpToLimit(t *testing.T) {
	limiter, err := NewConcurrencyLimiter(3)
	if err != nil {
		t.Fatalf("Failed to create limiter: %v", err)
	}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := limiter.Acquire(ctx); err != nil {
			t.Fatalf("Acquire %d failed: %v", i, err)
		}
	}
	if limiter.Active() != 3 {
		t.Errorf("Expected 3 active, got %d", limiter.Active())
	}
}

func TestLimiter_QueuesAndWakesFIFO(t *testing.T) {
	limiter, _ := NewConcurrencyLimiter(1)
	ctx := context.Background()

	if err := limiter.Acquire(ctx); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup

	// Queue three waiters, spacing them so arrival order is fixed.
	for i := 1; i <= 3; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := limiter.Acquire(ctx); err != nil {
				t.Errorf("Queued acquire %d failed: %v", i, err)
				return
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			limiter.Release()
		}()
		// Wait until this goroutine is actually queued before
		// starting the next one.
		deadline := time.Now().Add(2 * time.Second)
		for limiter.Pending() < i && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
		if limiter.Pending() < i {
			t.Fatalf("Waiter %d never queued", i)
		}
	}

	limiter.Release()
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	for i, got := range order {
		if got != i+1 {
			t.Fatalf("Expected FIFO wake order [1 2 3], got %v", order)
		}
	}
}

func TestLimiter_CancelWhileQueued(t *testing.T) {
	limiter, _ := NewConcurrencyLimiter(1)

	if err := limiter.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- limiter.Acquire(ctx)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for limiter.Pending() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != context.Canceled {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Cancelled waiter never returned")
	}

	if limiter.Pending() != 0 {
		t.Errorf("Expected empty queue after cancel, got %d", limiter.Pending())
	}

	// The held slot is unaffected and still hands off normally.
	limiter.Release()
	if err := limiter.Acquire(context.Background()); err != nil {
		t.Errorf("Acquire after cancel failed: %v", err)
	}
}

func TestLimiter_ReleaseHandsSlotToWaiter(t *testing.T) {
	limiter, _ := NewConcurrencyLimiter(1)
	ctx := context.Background()

	limiter.Acquire(ctx)

	acquired := make(chan struct{})
	go func() {
		limiter.Acquire(ctx)
		close(acquired)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for limiter.Pending() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	limiter.Release()
	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("Waiter never received the released slot")
	}

	// The slot changed hands without ever going idle.
	if limiter.Active() != 1 {
		t.Errorf("Expected 1 active after handoff, got %d", limiter.Active())
	}
}

func TestNewConcurrencyLimiter_Validation(t *testing.T) {
	if _, err := NewConcurrencyLimiter(0); err == nil {
		t.Error("Expected error for zero limit")
	}
	if _, err := NewConcurrencyLimiter(-1); err == nil {
		t.Error("Expected error for negative limit")
	}
}
