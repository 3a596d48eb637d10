package behavior

import (
	"log/slog"
	"sync"
	"time"

	"studyhall/warden/pkg/config"
)

// Analyzer observes per-device traffic and raises SuspiciousActivity
// signals from five independent detectors. All state is in-memory and
// rebuildable from live traffic; a restart forgets abuse history by
// design.
//
// The analyzer never blocks a request. IsSuspicious is an advisory
// signal for the request-handling layer or a human operator.
type Analyzer struct {
	cfg    config.BehaviorConfig
	logger *slog.Logger

	// now is replaceable in tests.
	now func() time.Time

	mu       sync.Mutex
	profiles map[string]*profile
}

// AnalyzerOption customizes an Analyzer.
type AnalyzerOption func(*Analyzer)

// WithClock overrides the analyzer's time source.
func WithClock(now func() time.Time) AnalyzerOption {
	return func(a *Analyzer) { a.now = now }
}

// NewAnalyzer creates an analyzer with the given detector thresholds.
func NewAnalyzer(cfg config.BehaviorConfig, opts ...AnalyzerOption) *Analyzer {
	a := &Analyzer{
		cfg:      cfg,
		logger:   slog.Default().With("component", "behavior.analyzer"),
		now:      time.Now,
		profiles: make(map[string]*profile),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// RecordEvent folds one observed request into the device's profile, runs
// every detector, and returns the activities newly raised (after dedup).
func (a *Analyzer) RecordEvent(event Event) []*Activity {
	if event.Device == "" {
		return nil
	}

	now := a.now()

	a.mu.Lock()
	defer a.mu.Unlock()

	p, ok := a.profiles[event.Device]
	if !ok {
		p = newProfile(now)
		a.profiles[event.Device] = p
	}
	p.observe(event, now)

	detectors := []func(*profile, time.Time) *Activity{
		a.detectIPHopping,
		a.detectRapidRequests,
		a.detectBotTiming,
		a.detectHeaderAnomaly,
		a.detectExcessiveFailures,
	}

	var raised []*Activity
	for _, detect := range detectors {
		activity := detect(p, now)
		if activity == nil {
			continue
		}
		if recorded := a.raiseLocked(event.Device, p, activity, now); recorded != nil {
			raised = append(raised, recorded)
		}
	}
	return raised
}

// FlagSessionManipulation raises a session-manipulation activity for the
// device. The session layer calls this when it sees token tampering;
// there is no traffic heuristic for it.
func (a *Analyzer) FlagSessionManipulation(device, detail string) *Activity {
	if device == "" {
		return nil
	}

	now := a.now()

	a.mu.Lock()
	defer a.mu.Unlock()

	p, ok := a.profiles[device]
	if !ok {
		p = newProfile(now)
		a.profiles[device] = p
	}
	return a.raiseLocked(device, p, &Activity{
		Pattern:    PatternSessionManipulation,
		Confidence: 0.9,
		Detail:     detail,
	}, now)
}

// raiseLocked finalizes and stores an activity unless the (device,
// pattern) pair is still in its dedup cool-down.
func (a *Analyzer) raiseLocked(device string, p *profile, activity *Activity, now time.Time) *Activity {
	if last, ok := p.lastRaised[activity.Pattern]; ok && now.Sub(last) < a.cfg.DedupCooldown {
		return nil
	}
	p.lastRaised[activity.Pattern] = now

	activity.Device = device
	activity.Severity = severityFor[activity.Pattern]
	activity.RaisedAt = now
	p.activities = append(p.activities, activity)

	a.logger.Warn("suspicious activity raised",
		"device", device,
		"pattern", activity.Pattern,
		"severity", activity.Severity,
		"confidence", activity.Confidence,
		"detail", activity.Detail,
	)
	return activity
}

// IsSuspicious reports whether any non-low activity was raised for the
// device within the trailing suspicion window. Advisory only.
func (a *Analyzer) IsSuspicious(device string) bool {
	if device == "" {
		return false
	}

	cutoff := a.now().Add(-a.cfg.SuspicionWindow)

	a.mu.Lock()
	defer a.mu.Unlock()

	p, ok := a.profiles[device]
	if !ok {
		return false
	}
	for i := len(p.activities) - 1; i >= 0; i-- {
		activity := p.activities[i]
		if !activity.RaisedAt.After(cutoff) {
			break
		}
		if activity.Severity != SeverityLow {
			return true
		}
	}
	return false
}

// Activities returns the device's raised activities, oldest first.
func (a *Analyzer) Activities(device string) []*Activity {
	a.mu.Lock()
	defer a.mu.Unlock()

	p, ok := a.profiles[device]
	if !ok {
		return nil
	}
	out := make([]*Activity, len(p.activities))
	copy(out, p.activities)
	return out
}

// SweepIdle drops profiles whose device has not been seen for at least
// idle, and prunes activities older than the suspicion window from the
// profiles that remain. Returns the number of profiles dropped.
func (a *Analyzer) SweepIdle(idle time.Duration) int {
	now := a.now()
	activityCutoff := now.Add(-a.cfg.SuspicionWindow)

	a.mu.Lock()
	defer a.mu.Unlock()

	dropped := 0
	for device, p := range a.profiles {
		if now.Sub(p.lastSeen) >= idle {
			delete(a.profiles, device)
			dropped++
			continue
		}
		trimmed := p.activities[:0]
		for _, activity := range p.activities {
			if activity.RaisedAt.After(activityCutoff) {
				trimmed = append(trimmed, activity)
			}
		}
		p.activities = trimmed
	}

	if dropped > 0 {
		a.logger.Debug("swept idle device profiles", "dropped", dropped)
	}
	return dropped
}

// ProfileCount returns the number of tracked devices.
func (a *Analyzer) ProfileCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.profiles)
}
