package guard

import "errors"

// ErrCircuitOpen is returned when the circuit breaker is rejecting calls.
var ErrCircuitOpen = errors.New("upstream circuit is open")

// ErrUpstreamTimeout is returned when an upstream call exceeded the
// deadline and was abandoned.
var ErrUpstreamTimeout = errors.New("upstream call timed out")
