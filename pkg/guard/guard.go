package guard

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"studyhall/warden/pkg/config"
)

// Guard composes the three protections wrapped around every upstream
// call: the circuit breaker fails fast while the provider is down, the
// concurrency limiter bounds simultaneous in-flight calls with FIFO
// queueing, and the timeout guard abandons calls that run too long.
//
// Order matters: the breaker is consulted before a caller may queue, so
// an open circuit sheds load instead of building a line, and timeouts are
// recorded as breaker failures because a hung provider is a failing one.
type Guard struct {
	breaker *CircuitBreaker
	limiter *ConcurrencyLimiter
	timeout *TimeoutGuard
	logger  *slog.Logger
}

// New creates a guard from upstream configuration.
func New(cfg config.UpstreamConfig) (*Guard, error) {
	breaker, err := NewCircuitBreaker(cfg.FailureThreshold, cfg.RecoveryTimeout)
	if err != nil {
		return nil, err
	}
	limiter, err := NewConcurrencyLimiter(cfg.Concurrency)
	if err != nil {
		return nil, err
	}
	timeout, err := NewTimeoutGuard(cfg.Timeout)
	if err != nil {
		return nil, err
	}

	return &Guard{
		breaker: breaker,
		limiter: limiter,
		timeout: timeout,
		logger:  slog.Default().With("component", "guard"),
	}, nil
}

// SetOnLate installs the hook that receives outcomes of abandoned calls
// that eventually completed. Late successes are not fed back into the
// breaker; their timeout was already recorded as the failure.
func (g *Guard) SetOnLate(fn func(result *CallResult, err error, elapsed time.Duration)) {
	g.timeout.OnLate = fn
}

// Do runs one upstream call through all three guards.
func (g *Guard) Do(ctx context.Context, fn CallFunc) (*CallResult, error) {
	if err := g.breaker.Allow(); err != nil {
		return nil, err
	}

	if err := g.limiter.Acquire(ctx); err != nil {
		// The caller gave up while queued; no upstream verdict.
		g.breaker.cancelProbe()
		return nil, err
	}
	defer g.limiter.Release()

	result, err := g.timeout.Do(ctx, fn)
	switch {
	case err == nil:
		g.breaker.RecordSuccess()
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		// Caller cancellation says nothing about upstream health.
		g.breaker.cancelProbe()
	default:
		g.breaker.RecordFailure()
	}
	return result, err
}

// BreakerState returns the circuit breaker's current state.
func (g *Guard) BreakerState() BreakerState {
	return g.breaker.State()
}

// Active returns the number of in-flight upstream calls.
func (g *Guard) Active() int {
	return g.limiter.Active()
}

// Pending returns the number of callers queued for a slot.
func (g *Guard) Pending() int {
	return g.limiter.Pending()
}
