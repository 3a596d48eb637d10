// Package guard wraps upstream model-provider calls in three layered
// protections: a FIFO-queueing concurrency limiter, a deadline that
// abandons (never cancels) slow calls, and a consecutive-failure circuit
// breaker with a single half-open probe.
package guard
