package guard

import (
	"context"
	"fmt"
	"sync"
)

// ConcurrencyLimiter bounds the number of simultaneous upstream calls.
// Callers over the limit queue in arrival order rather than being
// rejected; a queued caller leaves the queue when its context is
// cancelled.
type ConcurrencyLimiter struct {
	mu      sync.Mutex
	limit   int
	active  int
	waiters []chan struct{}
}

// NewConcurrencyLimiter creates a limiter allowing at most limit
// simultaneous holders.
func NewConcurrencyLimiter(limit int) (*ConcurrencyLimiter, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("concurrency limit must be positive, got %d", limit)
	}
	return &ConcurrencyLimiter{limit: limit}, nil
}

// Acquire takes a slot, blocking in FIFO order behind earlier callers when
// all slots are held. Returns the context's error if it is cancelled while
// waiting. Every successful Acquire must be paired with a Release.
func (l *ConcurrencyLimiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	if l.active < l.limit {
		l.active++
		l.mu.Unlock()
		return nil
	}

	ready := make(chan struct{})
	l.waiters = append(l.waiters, ready)
	l.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		for i, w := range l.waiters {
			if w == ready {
				l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
				l.mu.Unlock()
				return ctx.Err()
			}
		}
		// The slot was granted between cancellation and our cleanup;
		// pass it along so it is not leaked.
		l.releaseLocked()
		l.mu.Unlock()
		return ctx.Err()
	}
}

// Release returns a slot, handing it directly to the oldest waiter if any.
func (l *ConcurrencyLimiter) Release() {
	l.mu.Lock()
	l.releaseLocked()
	l.mu.Unlock()
}

func (l *ConcurrencyLimiter) releaseLocked() {
	if len(l.waiters) > 0 {
		ready := l.waiters[0]
		l.waiters = l.waiters[1:]
		close(ready)
		return
	}
	if l.active > 0 {
		l.active--
	}
}

// Active returns the number of slots currently held.
func (l *ConcurrencyLimiter) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

// Pending returns the number of callers queued for a slot.
func (l *ConcurrencyLimiter) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.waiters)
}

// Limit returns the configured slot count.
func (l *ConcurrencyLimiter) Limit() int {
	return l.limit
}
