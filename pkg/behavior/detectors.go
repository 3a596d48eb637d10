package behavior

import (
	"fmt"
	"time"
)

// botTimingMaxMean bounds the mean inter-request gap for bot-timing.
// Regular spacing at human scale (several seconds between requests) is
// normal reading rhythm; only machine-scale regularity is suspicious.
const botTimingMaxMean = time.Second

// severityFor is the fixed severity per pattern.
var severityFor = map[Pattern]Severity{
	PatternIPHopping:           SeverityHigh,
	PatternBotTiming:           SeverityHigh,
	PatternRapidRequests:       SeverityMedium,
	PatternHeaderAnomaly:       SeverityMedium,
	PatternSessionManipulation: SeverityMedium,
	PatternExcessiveFailures:   SeverityLow,
}

// detectIPHopping fires when the device has used several distinct IPs
// recently, once there is enough traffic to judge.
func (a *Analyzer) detectIPHopping(p *profile, now time.Time) *Activity {
	if p.requestCount < int64(a.cfg.IPHopMinRequests) {
		return nil
	}
	distinct := distinctWithin(p.ips, now.Add(-a.cfg.IPHopWindow))
	if distinct < a.cfg.IPHopMinIPs {
		return nil
	}
	return &Activity{
		Pattern:    PatternIPHopping,
		Confidence: ratioConfidence(distinct, a.cfg.IPHopMinIPs),
		Detail:     fmt.Sprintf("%d distinct IPs within %s", distinct, a.cfg.IPHopWindow),
	}
}

// detectRapidRequests fires on a burst of requests in a short window.
func (a *Analyzer) detectRapidRequests(p *profile, now time.Time) *Activity {
	count := p.requestTimes.countSince(now.Add(-a.cfg.RapidRequestWindow))
	if count < a.cfg.RapidRequestCount {
		return nil
	}
	return &Activity{
		Pattern:    PatternRapidRequests,
		Confidence: ratioConfidence(count, a.cfg.RapidRequestCount),
		Detail:     fmt.Sprintf("%d requests within %s", count, a.cfg.RapidRequestWindow),
	}
}

// detectBotTiming fires when recent inter-request gaps are machine-fast
// and cluster tightly around their mean.
func (a *Analyzer) detectBotTiming(p *profile, _ time.Time) *Activity {
	gaps := p.recentGaps(10)
	if len(gaps) < a.cfg.BotTimingSamples {
		return nil
	}

	var sum time.Duration
	for _, gap := range gaps {
		sum += gap
	}
	mean := sum / time.Duration(len(gaps))
	if mean >= botTimingMaxMean {
		return nil
	}

	clustered := 0
	for _, gap := range gaps {
		delta := gap - mean
		if delta < 0 {
			delta = -delta
		}
		if delta <= a.cfg.BotTimingJitter {
			clustered++
		}
	}
	if clustered < a.cfg.BotTimingSamples {
		return nil
	}
	return &Activity{
		Pattern:    PatternBotTiming,
		Confidence: ratioConfidence(clustered, a.cfg.BotTimingSamples),
		Detail:     fmt.Sprintf("%d of %d gaps within %s of mean %s", clustered, len(gaps), a.cfg.BotTimingJitter, mean.Round(time.Millisecond)),
	}
}

// detectHeaderAnomaly fires when the device keeps changing user-agents.
func (a *Analyzer) detectHeaderAnomaly(p *profile, now time.Time) *Activity {
	distinct := distinctWithin(p.userAgents, now.Add(-a.cfg.HeaderWindow))
	if distinct < a.cfg.HeaderMinAgents {
		return nil
	}
	return &Activity{
		Pattern:    PatternHeaderAnomaly,
		Confidence: ratioConfidence(distinct, a.cfg.HeaderMinAgents),
		Detail:     fmt.Sprintf("%d distinct user-agents within %s", distinct, a.cfg.HeaderWindow),
	}
}

// detectExcessiveFailures fires on a run of error responses.
func (a *Analyzer) detectExcessiveFailures(p *profile, now time.Time) *Activity {
	count := p.failureTimes.countSince(now.Add(-a.cfg.FailureWindow))
	if count < a.cfg.FailureCount {
		return nil
	}
	return &Activity{
		Pattern:    PatternExcessiveFailures,
		Confidence: ratioConfidence(count, a.cfg.FailureCount),
		Detail:     fmt.Sprintf("%d error responses within %s", count, a.cfg.FailureWindow),
	}
}

// ratioConfidence maps how far past its threshold a detector is onto
// 0.5..1.0; exactly at threshold scores 0.5, twice the threshold or more
// scores 1.0.
func ratioConfidence(observed, threshold int) float64 {
	if threshold <= 0 {
		return 1
	}
	score := float64(observed) / float64(2*threshold)
	if score > 1 {
		score = 1
	}
	if score < 0.5 {
		score = 0.5
	}
	return score
}
