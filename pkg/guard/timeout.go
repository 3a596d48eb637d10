package guard

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// CallResult carries the outcome of one upstream call.
type CallResult struct {
	// PromptTokens and CompletionTokens are the provider-reported usage
	// split for the call.
	PromptTokens     int64
	CompletionTokens int64

	// Payload is the provider response body, opaque to the guards.
	Payload any
}

// TotalTokens returns the combined prompt and completion usage.
func (r *CallResult) TotalTokens() int64 {
	return r.PromptTokens + r.CompletionTokens
}

// CallFunc performs one upstream call.
type CallFunc func(ctx context.Context) (*CallResult, error)

// TimeoutGuard races each upstream call against a deadline. On timeout the
// call is abandoned rather than cancelled: the goroutine runs to
// completion in the background and its outcome is delivered to the
// OnLate hook, so late usage can still be accounted for.
type TimeoutGuard struct {
	timeout time.Duration
	logger  *slog.Logger

	// OnLate receives the outcome of calls that completed after the
	// caller had already given up. Optional. The hook runs on a
	// background goroutine.
	OnLate func(result *CallResult, err error, elapsed time.Duration)
}

// NewTimeoutGuard creates a guard with the given deadline.
func NewTimeoutGuard(timeout time.Duration) (*TimeoutGuard, error) {
	if timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive, got %s", timeout)
	}
	return &TimeoutGuard{
		timeout: timeout,
		logger:  slog.Default().With("component", "guard.timeout"),
	}, nil
}

// Do runs fn, returning ErrUpstreamTimeout if it does not finish within
// the deadline and ctx.Err() if the caller's context ends first.
func (g *TimeoutGuard) Do(ctx context.Context, fn CallFunc) (*CallResult, error) {
	type outcome struct {
		result *CallResult
		err    error
	}

	started := time.Now()
	done := make(chan outcome, 1)

	go func() {
		result, err := fn(ctx)
		done <- outcome{result, err}
	}()

	// collect drains the abandoned call's eventual outcome on a
	// background goroutine and hands it to OnLate.
	collect := func() {
		go func() {
			o := <-done
			elapsed := time.Since(started)
			g.logger.Warn("abandoned upstream call completed",
				"elapsed", elapsed, "error", o.err)
			if g.OnLate != nil {
				g.OnLate(o.result, o.err, elapsed)
			}
		}()
	}

	timer := time.NewTimer(g.timeout)
	defer timer.Stop()

	select {
	case o := <-done:
		return o.result, o.err

	case <-timer.C:
		// The call may have finished while the timer fired.
		select {
		case o := <-done:
			return o.result, o.err
		default:
		}
		collect()
		g.logger.Warn("upstream call timed out", "timeout", g.timeout)
		return nil, ErrUpstreamTimeout

	case <-ctx.Done():
		select {
		case o := <-done:
			return o.result, o.err
		default:
		}
		collect()
		return nil, ctx.Err()
	}
}
