package guard

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// BreakerState represents the circuit breaker's current state.
type BreakerState int

const (
	// BreakerClosed is normal operation; calls pass through.
	BreakerClosed BreakerState = iota

	// BreakerOpen rejects all calls until the recovery timeout elapses.
	BreakerOpen

	// BreakerHalfOpen lets exactly one probe call through to test
	// whether the upstream has recovered.
	BreakerHalfOpen
)

// String returns the state name.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker protects the upstream provider from being hammered while
// it is failing. The breaker opens after a run of consecutive failures,
// rejects calls for the recovery timeout, then admits a single probe.
// A successful probe closes the breaker and zeroes the failure count; a
// failed probe reopens it for another full recovery timeout.
type CircuitBreaker struct {
	failureThreshold int
	recoveryTimeout  time.Duration
	logger           *slog.Logger

	// now is replaceable in tests.
	now func() time.Time

	mu            sync.Mutex
	state         BreakerState
	failures      int
	openedAt      time.Time
	probeInFlight bool
}

// BreakerOption customizes a CircuitBreaker.
type BreakerOption func(*CircuitBreaker)

// WithBreakerClock overrides the breaker's time source.
func WithBreakerClock(now func() time.Time) BreakerOption {
	return func(b *CircuitBreaker) { b.now = now }
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(failureThreshold int, recoveryTimeout time.Duration, opts ...BreakerOption) (*CircuitBreaker, error) {
	if failureThreshold <= 0 {
		return nil, fmt.Errorf("failure threshold must be positive, got %d", failureThreshold)
	}
	if recoveryTimeout <= 0 {
		return nil, fmt.Errorf("recovery timeout must be positive, got %s", recoveryTimeout)
	}

	b := &CircuitBreaker{
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		logger:           slog.Default().With("component", "guard.breaker"),
		now:              time.Now,
		state:            BreakerClosed,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Allow reports whether a call may proceed. When the recovery timeout has
// elapsed on an open breaker, the first caller through Allow becomes the
// half-open probe; concurrent callers keep getting ErrCircuitOpen until
// the probe's outcome is recorded.
func (b *CircuitBreaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return nil

	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.recoveryTimeout {
			return ErrCircuitOpen
		}
		b.state = BreakerHalfOpen
		b.probeInFlight = true
		b.logger.Info("circuit breaker half-open, admitting probe")
		return nil

	case BreakerHalfOpen:
		if b.probeInFlight {
			return ErrCircuitOpen
		}
		b.probeInFlight = true
		return nil

	default:
		return ErrCircuitOpen
	}
}

// RecordSuccess records a successful call outcome.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerHalfOpen {
		b.logger.Info("circuit breaker closed after successful probe")
	}
	b.state = BreakerClosed
	b.failures = 0
	b.probeInFlight = false
}

// RecordFailure records a failed call outcome.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerHalfOpen:
		// Failed probe: reopen for another full recovery timeout.
		b.state = BreakerOpen
		b.openedAt = b.now()
		b.probeInFlight = false
		b.logger.Warn("circuit breaker reopened after failed probe")

	case BreakerClosed:
		b.failures++
		if b.failures >= b.failureThreshold {
			b.state = BreakerOpen
			b.openedAt = b.now()
			b.logger.Warn("circuit breaker opened",
				"consecutive_failures", b.failures,
				"recovery_timeout", b.recoveryTimeout)
		}
	}
}

// cancelProbe releases a half-open probe slot without recording an
// outcome, for probes that never reached the upstream.
func (b *CircuitBreaker) cancelProbe() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerHalfOpen {
		b.probeInFlight = false
	}
}

// State returns the breaker's current state.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the current consecutive failure count.
func (b *CircuitBreaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}
