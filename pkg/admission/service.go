package admission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"studyhall/warden/pkg/behavior"
	"studyhall/warden/pkg/guard"
	"studyhall/warden/pkg/guest"
	"studyhall/warden/pkg/quota"
	"studyhall/warden/pkg/quota/storage"
)

// Ticket is a successful admission. It carries what Finalize needs to
// commit the actual cost once the upstream call completes.
type Ticket struct {
	// Identity is the admitted identity key.
	Identity string

	// SessionID is the accounting session the call was admitted under.
	SessionID string

	// Operation is the endpoint/operation tag.
	Operation string

	// Estimate is the pre-flight token estimate the check gated on.
	Estimate int64
}

// Service is the admission facade the request-handling layer talks to.
// It sequences the pre-flight quota check, session acquisition, the
// guarded upstream call, and the post-flight commit, and feeds the
// advisory behavior analyzer.
type Service struct {
	accountant *quota.Accountant
	guard      *guard.Guard
	throttle   *guest.Throttle
	analyzer   *behavior.Analyzer
	estimates  *EstimateTable
	logger     *slog.Logger
}

// NewService wires the admission facade.
func NewService(
	accountant *quota.Accountant,
	callGuard *guard.Guard,
	throttle *guest.Throttle,
	analyzer *behavior.Analyzer,
	estimates map[string]int64,
) *Service {
	s := &Service{
		accountant: accountant,
		guard:      callGuard,
		throttle:   throttle,
		analyzer:   analyzer,
		estimates:  NewEstimateTable(estimates),
		logger:     slog.Default().With("component", "admission"),
	}
	return s
}

// AdmitAuthenticated runs the pre-flight check for an authenticated
// identity and returns a ticket on success. A denial surfaces as a
// *quota.QuotaError; the check itself mutates no counters.
func (s *Service) AdmitAuthenticated(ctx context.Context, identity, operation string) (*Ticket, error) {
	estimate := s.estimates.For(operation)

	decision, err := s.accountant.CheckAvailability(ctx, identity, estimate)
	if err != nil {
		return nil, fmt.Errorf("availability check failed: %w", err)
	}
	if !decision.Allowed {
		admissionDecisions.WithLabelValues("denied", decision.Reason).Inc()
		s.logger.Info("admission denied",
			"identity", identity,
			"operation", operation,
			"reason", decision.Reason,
			"remaining", decision.Remaining,
		)
		return nil, decision.Err(identity)
	}

	session, err := s.accountant.AcquireSession(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("session acquisition failed: %w", err)
	}

	admissionDecisions.WithLabelValues("allowed", "").Inc()
	return &Ticket{
		Identity:  identity,
		SessionID: session.ID,
		Operation: operation,
		Estimate:  estimate,
	}, nil
}

// AdmitGuest consumes one guest attempt for the device and returns how
// many remain in the window. Returns guest.ErrLimitReached when the
// device is at its ceiling.
func (s *Service) AdmitGuest(deviceID string) (remaining int, err error) {
	remaining, err = s.throttle.Attempt(deviceID)
	if err != nil {
		if errors.Is(err, guest.ErrLimitReached) {
			guestAttempts.WithLabelValues("denied").Inc()
			s.logger.Info("guest attempt denied", "device", deviceID)
		}
		return 0, err
	}
	guestAttempts.WithLabelValues("allowed").Inc()
	return remaining, nil
}

// Finalize commits the actual token cost of a completed call against the
// ticket's identity and session.
func (s *Service) Finalize(ctx context.Context, ticket *Ticket, promptTokens, completionTokens int64, metadata map[string]string) (*storage.CommitResult, error) {
	if ticket == nil {
		return nil, fmt.Errorf("ticket cannot be nil")
	}

	result, err := s.accountant.Commit(ctx, &storage.UsageEntry{
		Identity:         ticket.Identity,
		SessionID:        ticket.SessionID,
		Operation:        ticket.Operation,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		Metadata:         metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("usage commit failed: %w", err)
	}

	tokensCommitted.WithLabelValues(ticket.Operation).Add(float64(promptTokens + completionTokens))
	return result, nil
}

// Execute runs the upstream call through the guards and commits its
// usage. The commit is attached to the call's own completion, not the
// caller's wait: a call abandoned on timeout still commits its tokens
// when the provider eventually answers, because that work was billed
// upstream either way.
func (s *Service) Execute(ctx context.Context, ticket *Ticket, call guard.CallFunc) (*guard.CallResult, error) {
	if ticket == nil {
		return nil, fmt.Errorf("ticket cannot be nil")
	}

	wrapped := func(ctx context.Context) (*guard.CallResult, error) {
		result, err := call(ctx)
		if err == nil && result != nil {
			// Commit on a background context: the caller may be long
			// gone by the time a slow call completes.
			if _, cerr := s.Finalize(context.Background(), ticket, result.PromptTokens, result.CompletionTokens, nil); cerr != nil {
				s.logger.Error("failed to commit usage for completed call",
					"identity", ticket.Identity,
					"operation", ticket.Operation,
					"error", cerr,
				)
			}
		}
		return result, err
	}

	result, err := s.guard.Do(ctx, wrapped)
	s.observeGuard()

	switch {
	case err == nil:
		upstreamCalls.WithLabelValues("ok").Inc()
	case errors.Is(err, guard.ErrCircuitOpen):
		upstreamCalls.WithLabelValues("circuit_open").Inc()
	case errors.Is(err, guard.ErrUpstreamTimeout):
		upstreamCalls.WithLabelValues("timeout").Inc()
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		upstreamCalls.WithLabelValues("cancelled").Inc()
	default:
		upstreamCalls.WithLabelValues("error").Inc()
	}
	return result, err
}

// RecordTraffic feeds one observed request into the behavior analyzer.
// Best-effort and advisory: it never fails and never blocks admission.
func (s *Service) RecordTraffic(event behavior.Event) {
	for _, activity := range s.analyzer.RecordEvent(event) {
		suspiciousActivities.WithLabelValues(string(activity.Pattern), string(activity.Severity)).Inc()
	}
}

// IsSuspicious reports the analyzer's advisory verdict for a device.
func (s *Service) IsSuspicious(device string) bool {
	return s.analyzer.IsSuspicious(device)
}

// Activities returns the analyzer's raised signals for a device.
func (s *Service) Activities(device string) []*behavior.Activity {
	return s.analyzer.Activities(device)
}

// Snapshot returns an identity's quota state for the usage endpoints.
func (s *Service) Snapshot(ctx context.Context, identity string) (*quota.Snapshot, error) {
	return s.accountant.Snapshot(ctx, identity)
}

// History returns an identity's recent usage-log entries.
func (s *Service) History(ctx context.Context, identity string, limit int) ([]*storage.UsageEntry, error) {
	return s.accountant.History(ctx, identity, limit)
}

// Overview returns all quota records for admin reporting.
func (s *Service) Overview(ctx context.Context) ([]*storage.Record, error) {
	return s.accountant.Overview(ctx)
}

// ResetGuest clears a device's throttle state, e.g. after sign-up.
func (s *Service) ResetGuest(deviceID string) {
	s.throttle.Reset(deviceID)
}

// observeGuard refreshes the guard gauges.
func (s *Service) observeGuard() {
	upstreamInflight.Set(float64(s.guard.Active()))
	upstreamPending.Set(float64(s.guard.Pending()))
	breakerState.Set(float64(s.guard.BreakerState()))
}
