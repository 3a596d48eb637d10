package quota

import (
	"errors"
	"fmt"
	"time"
)

// Window names the token window a decision or error refers to.
type Window string

const (
	// WindowSession is the rolling accounting-session window.
	WindowSession Window = "session"

	// WindowWeekly is the calendar-week window.
	WindowWeekly Window = "weekly"

	// WindowMonthly is the calendar-month window. Monthly usage is
	// informational and never denies a request.
	WindowMonthly Window = "monthly"
)

// Deny reasons reported in decisions.
const (
	ReasonAccessDisabled   = "access_disabled"
	ReasonWeeklyExhausted  = "weekly_exhausted"
	ReasonSessionExhausted = "session_exhausted"
)

// ErrInvalidIdentity is returned when an identity key is empty.
var ErrInvalidIdentity = errors.New("identity cannot be empty")

// ErrInvalidEstimate is returned when an estimated cost is not positive.
var ErrInvalidEstimate = errors.New("estimate must be positive")

// QuotaError is returned when admission is denied. It carries enough
// detail for the HTTP surface to build a useful 429 response.
type QuotaError struct {
	// Identity is the denied identity key.
	Identity string

	// Window is the window that denied the request, empty when access is
	// disabled outright.
	Window Window

	// Reason is one of the Reason* constants.
	Reason string

	// Remaining is how many tokens the denying window had left.
	Remaining int64

	// ResetAt is when the denying window resets; zero for the disabled
	// kill-switch, which has no reset.
	ResetAt time.Time
}

func (e *QuotaError) Error() string {
	if e.Reason == ReasonAccessDisabled {
		return fmt.Sprintf("quota: access disabled for %s", e.Identity)
	}
	return fmt.Sprintf("quota: %s window exhausted for %s (%d tokens remaining)",
		e.Window, e.Identity, e.Remaining)
}

// Decision is the result of a pre-flight availability check.
type Decision struct {
	// Allowed reports whether the estimated cost fits every gating window.
	Allowed bool

	// Reason explains a denial; empty when allowed.
	Reason string

	// Window is the first window that denied, empty when allowed.
	Window Window

	// Remaining is the denying window's headroom, or the tightest
	// remaining headroom when allowed.
	Remaining int64

	// ResetAt is when the denying window resets.
	ResetAt time.Time

	// Unlimited is set when the identity holds the admin bypass.
	Unlimited bool
}

// Err converts a denial into a *QuotaError; nil when allowed.
func (d *Decision) Err(identity string) error {
	if d.Allowed {
		return nil
	}
	return &QuotaError{
		Identity:  identity,
		Window:    d.Window,
		Reason:    d.Reason,
		Remaining: d.Remaining,
		ResetAt:   d.ResetAt,
	}
}
