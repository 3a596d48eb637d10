package behavior

import "time"

// Pattern tags a category of suspicious behavior. The set is closed.
type Pattern string

const (
	PatternIPHopping           Pattern = "ip_hopping"
	PatternRapidRequests       Pattern = "rapid_requests"
	PatternBotTiming           Pattern = "bot_timing"
	PatternHeaderAnomaly       Pattern = "header_anomaly"
	PatternSessionManipulation Pattern = "session_manipulation"
	PatternExcessiveFailures   Pattern = "excessive_failures"
)

// Severity ranks an activity. Severity is fixed per pattern.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Activity is one raised suspicious-behavior signal. Activities are
// advisory: nothing in this package blocks a request.
type Activity struct {
	// Device is the opaque device token the activity was raised for.
	Device string `json:"device"`

	// Pattern tags the detector that fired.
	Pattern Pattern `json:"pattern"`

	// Severity is the pattern's fixed severity.
	Severity Severity `json:"severity"`

	// Confidence is a 0..1 score of how far past its threshold the
	// detector was.
	Confidence float64 `json:"confidence"`

	// Detail is a human-readable explanation for operators.
	Detail string `json:"detail"`

	// RaisedAt is when the detector fired.
	RaisedAt time.Time `json:"raised_at"`
}

// Event is one observed request used as detector input.
type Event struct {
	Device     string
	IP         string
	UserAgent  string
	Endpoint   string
	StatusCode int
}
