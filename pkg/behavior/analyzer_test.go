package behavior

import (
	"fmt"
	"testing"
	"time"

	"studyhall/warden/pkg/config"
)

func testBehaviorConfig() config.BehaviorConfig {
	cfg := config.Config{}
	config.ApplyDefaults(&cfg)
	return cfg.Behavior
}

func newTestAnalyzer(t *testing.T) (*Analyzer, *time.Time) {
	t.Helper()

	now := time.Date(2025, 6, 11, 10, 0, 0, 0, time.UTC)
	clock := &now
	analyzer := NewAnalyzer(testBehaviorConfig(),
		WithClock(func() time.Time { return *clock }))
	return analyzer, clock
}

func hasPattern(activities []*Activity, pattern Pattern) bool {
	for _, a := range activities {
		if a.Pattern == pattern {
			return true
		}
	}
	return false
}

func TestBotTiming_MachineRegularGaps(t *testing.T) {
	analyzer, clock := newTestAnalyzer(t)

	var raised []*Activity
	for i := 0; i < 10; i++ {
		raised = append(raised, analyzer.RecordEvent(Event{
			Device: "device-1", IP: "10.0.0.1", UserAgent: "bot/1.0",
			Endpoint: "/chat", StatusCode: 200,
		})...)
		*clock = clock.Add(100 * time.Millisecond)
	}

	if !hasPattern(raised, PatternBotTiming) {
		t.Error("Expected bot-timing raised for exact 100ms gaps")
	}
}

func TestBotTiming_HumanPaceDoesNotFire(t *testing.T) {
	analyzer, clock := newTestAnalyzer(t)

	var raised []*Activity
	for i := 0; i < 10; i++ {
		raised = append(raised, analyzer.RecordEvent(Event{
			Device: "device-1", IP: "10.0.0.1", UserAgent: "browser/1.0",
			Endpoint: "/chat", StatusCode: 200,
		})...)
		*clock = clock.Add(5 * time.Second)
	}

	if hasPattern(raised, PatternBotTiming) {
		t.Error("Expected no bot-timing for regular 5s gaps at human pace")
	}
}

func TestIPHopping(t *testing.T) {
	analyzer, clock := newTestAnalyzer(t)

	ips := []string{"10.0.0.1", "10.0.0.2", "10.0.0.3", "10.0.0.4", "10.0.0.1"}
	var raised []*Activity
	for _, ip := range ips {
		raised = append(raised, analyzer.RecordEvent(Event{
			Device: "device-1", IP: ip, UserAgent: "app/1.0",
			Endpoint: "/chat", StatusCode: 200,
		})...)
		*clock = clock.Add(2 * time.Second)
	}

	if !hasPattern(raised, PatternIPHopping) {
		t.Error("Expected IP-hopping raised for 4 distinct IPs")
	}

	var activity *Activity
	for _, a := range analyzer.Activities("device-1") {
		if a.Pattern == PatternIPHopping {
			activity = a
		}
	}
	if activity == nil {
		t.Fatal("Expected stored IP-hopping activity")
	}
	if activity.Severity != SeverityHigh {
		t.Errorf("Expected high severity, got %s", activity.Severity)
	}
}

func TestIPHopping_NeedsEnoughTraffic(t *testing.T) {
	analyzer, clock := newTestAnalyzer(t)

	// Three IPs but only three requests: below the traffic floor.
	var raised []*Activity
	for _, ip := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"} {
		raised = append(raised, analyzer.RecordEvent(Event{
			Device: "device-1", IP: ip, UserAgent: "app/1.0",
			Endpoint: "/chat", StatusCode: 200,
		})...)
		*clock = clock.Add(2 * time.Second)
	}

	if hasPattern(raised, PatternIPHopping) {
		t.Error("Expected no IP-hopping below the request floor")
	}
}

func TestRapidRequests(t *testing.T) {
	analyzer, clock := newTestAnalyzer(t)

	var raised []*Activity
	for i := 0; i < 10; i++ {
		raised = append(raised, analyzer.RecordEvent(Event{
			Device: "device-1", IP: "10.0.0.1", UserAgent: "app/1.0",
			Endpoint: "/quiz", StatusCode: 200,
		})...)
		*clock = clock.Add(3 * time.Second)
	}

	if !hasPattern(raised, PatternRapidRequests) {
		t.Error("Expected rapid-requests raised for 10 requests in 30s")
	}
}

func TestHeaderAnomaly(t *testing.T) {
	analyzer, clock := newTestAnalyzer(t)

	agents := []string{"agent-a", "agent-b", "agent-c"}
	var raised []*Activity
	for _, agent := range agents {
		raised = append(raised, analyzer.RecordEvent(Event{
			Device: "device-1", IP: "10.0.0.1", UserAgent: agent,
			Endpoint: "/chat", StatusCode: 200,
		})...)
		*clock = clock.Add(2 * time.Second)
	}

	if !hasPattern(raised, PatternHeaderAnomaly) {
		t.Error("Expected header-anomaly raised for 3 distinct user-agents")
	}
}

func TestExcessiveFailures(t *testing.T) {
	analyzer, clock := newTestAnalyzer(t)

	var raised []*Activity
	for i := 0; i < 5; i++ {
		raised = append(raised, analyzer.RecordEvent(Event{
			Device: "device-1", IP: "10.0.0.1", UserAgent: "app/1.0",
			Endpoint: "/chat", StatusCode: 429,
		})...)
		*clock = clock.Add(10 * time.Second)
	}

	if !hasPattern(raised, PatternExcessiveFailures) {
		t.Error("Expected excessive-failures raised for 5 error responses")
	}
}

func TestDedup_SuppressesRepeatPattern(t *testing.T) {
	analyzer, clock := newTestAnalyzer(t)

	hop := func() []*Activity {
		var raised []*Activity
		for _, ip := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3", "10.0.0.4", "10.0.0.5"} {
			raised = append(raised, analyzer.RecordEvent(Event{
				Device: "device-1", IP: ip, UserAgent: "app/1.0",
				Endpoint: "/chat", StatusCode: 200,
			})...)
			*clock = clock.Add(2 * time.Second)
		}
		return raised
	}

	if !hasPattern(hop(), PatternIPHopping) {
		t.Fatal("Expected first IP-hopping raised")
	}

	// Within the cool-down the same pattern stays quiet.
	if hasPattern(hop(), PatternIPHopping) {
		t.Error("Expected IP-hopping suppressed within dedup cool-down")
	}

	// After the cool-down it may fire again.
	*clock = clock.Add(5 * time.Minute)
	if !hasPattern(hop(), PatternIPHopping) {
		t.Error("Expected IP-hopping raised again after cool-down")
	}
}

func TestIsSuspicious(t *testing.T) {
	analyzer, clock := newTestAnalyzer(t)

	if analyzer.IsSuspicious("device-1") {
		t.Error("Expected unknown device to not be suspicious")
	}

	// Low-severity activity alone does not mark the device.
	for i := 0; i < 5; i++ {
		analyzer.RecordEvent(Event{
			Device: "device-low", IP: "10.0.0.1", UserAgent: "app/1.0",
			Endpoint: "/chat", StatusCode: 500,
		})
		*clock = clock.Add(10 * time.Second)
	}
	if analyzer.IsSuspicious("device-low") {
		t.Error("Expected low-severity-only device to not be suspicious")
	}

	// A high-severity activity does.
	for _, ip := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3", "10.0.0.4", "10.0.0.5"} {
		analyzer.RecordEvent(Event{
			Device: "device-high", IP: ip, UserAgent: "app/1.0",
			Endpoint: "/chat", StatusCode: 200,
		})
		*clock = clock.Add(2 * time.Second)
	}
	if !analyzer.IsSuspicious("device-high") {
		t.Error("Expected device with high-severity activity to be suspicious")
	}

	// The signal ages out after the suspicion window.
	*clock = clock.Add(2 * time.Hour)
	if analyzer.IsSuspicious("device-high") {
		t.Error("Expected suspicion to age out after the trailing window")
	}
}

func TestFlagSessionManipulation(t *testing.T) {
	analyzer, _ := newTestAnalyzer(t)

	activity := analyzer.FlagSessionManipulation("device-1", "device token replayed from another client")
	if activity == nil {
		t.Fatal("Expected activity raised")
	}
	if activity.Severity != SeverityMedium {
		t.Errorf("Expected medium severity, got %s", activity.Severity)
	}
	if !analyzer.IsSuspicious("device-1") {
		t.Error("Expected flagged device to be suspicious")
	}

	// Dedup applies to manual flags too.
	if analyzer.FlagSessionManipulation("device-1", "again") != nil {
		t.Error("Expected repeat flag suppressed within cool-down")
	}
}

func TestSweepIdle(t *testing.T) {
	analyzer, clock := newTestAnalyzer(t)

	analyzer.RecordEvent(Event{Device: "stale", IP: "10.0.0.1", UserAgent: "a", Endpoint: "/chat", StatusCode: 200})
	*clock = clock.Add(25 * time.Hour)
	analyzer.RecordEvent(Event{Device: "fresh", IP: "10.0.0.1", UserAgent: "a", Endpoint: "/chat", StatusCode: 200})

	dropped := analyzer.SweepIdle(24 * time.Hour)
	if dropped != 1 {
		t.Errorf("Expected 1 profile dropped, got %d", dropped)
	}
	if analyzer.ProfileCount() != 1 {
		t.Errorf("Expected 1 profile remaining, got %d", analyzer.ProfileCount())
	}
}

func TestProfilesAreIndependent(t *testing.T) {
	analyzer, clock := newTestAnalyzer(t)

	for i := 0; i < 20; i++ {
		analyzer.RecordEvent(Event{
			Device: fmt.Sprintf("device-%d", i%2), IP: "10.0.0.1", UserAgent: "app/1.0",
			Endpoint: "/chat", StatusCode: 200,
		})
		*clock = clock.Add(5 * time.Second)
	}

	if analyzer.ProfileCount() != 2 {
		t.Errorf("Expected 2 profiles, got %d", analyzer.ProfileCount())
	}
}
