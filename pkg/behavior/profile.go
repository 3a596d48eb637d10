package behavior

import "time"

// gapRingSize bounds the per-device inter-request gap history.
const gapRingSize = 50

// timesRingSize bounds the per-device request timestamp history. It only
// needs to cover the rapid-request and failure windows.
const timesRingSize = 128

// profile is the rolling observation state for one device.
type profile struct {
	firstSeen    time.Time
	lastSeen     time.Time
	requestCount int64

	// ips and userAgents map each distinct value to the last time it was
	// seen, so windowed distinct counts stay cheap.
	ips        map[string]time.Time
	userAgents map[string]time.Time

	// gaps is a ring of the most recent inter-request gaps.
	gaps    [gapRingSize]time.Duration
	gapLen  int
	gapNext int

	// requestTimes and failureTimes are rings of recent timestamps.
	requestTimes timeRing
	failureTimes timeRing

	// endpoints and statuses count requests per endpoint and status code.
	endpoints map[string]int64
	statuses  map[int]int64

	// lastRaised implements the (device, pattern) dedup cool-down.
	lastRaised map[Pattern]time.Time

	// activities holds recently raised signals, pruned by the sweep.
	activities []*Activity
}

func newProfile(now time.Time) *profile {
	return &profile{
		firstSeen:    now,
		lastSeen:     now,
		ips:          make(map[string]time.Time),
		userAgents:   make(map[string]time.Time),
		requestTimes: timeRing{buf: make([]time.Time, timesRingSize)},
		failureTimes: timeRing{buf: make([]time.Time, timesRingSize)},
		endpoints:    make(map[string]int64),
		statuses:     make(map[int]int64),
		lastRaised:   make(map[Pattern]time.Time),
	}
}

// observe folds one event into the profile and returns the gap since the
// previous event, or -1 for the first event.
func (p *profile) observe(event Event, now time.Time) time.Duration {
	gap := time.Duration(-1)
	if p.requestCount > 0 {
		gap = now.Sub(p.lastSeen)
		p.gaps[p.gapNext] = gap
		p.gapNext = (p.gapNext + 1) % gapRingSize
		if p.gapLen < gapRingSize {
			p.gapLen++
		}
	}

	p.lastSeen = now
	p.requestCount++
	if event.IP != "" {
		p.ips[event.IP] = now
	}
	if event.UserAgent != "" {
		p.userAgents[event.UserAgent] = now
	}
	p.requestTimes.push(now)
	if event.StatusCode >= 400 {
		p.failureTimes.push(now)
	}
	p.endpoints[event.Endpoint]++
	p.statuses[event.StatusCode]++
	return gap
}

// recentGaps returns up to the last n inter-request gaps, oldest first.
func (p *profile) recentGaps(n int) []time.Duration {
	if n > p.gapLen {
		n = p.gapLen
	}
	out := make([]time.Duration, 0, n)
	for i := 0; i < n; i++ {
		idx := (p.gapNext - n + i + gapRingSize) % gapRingSize
		out = append(out, p.gaps[idx])
	}
	return out
}

// distinctWithin counts map entries last seen after the cutoff.
func distinctWithin(seen map[string]time.Time, cutoff time.Time) int {
	count := 0
	for _, at := range seen {
		if at.After(cutoff) {
			count++
		}
	}
	return count
}

// timeRing is a fixed-capacity ring of timestamps.
type timeRing struct {
	buf  []time.Time
	len  int
	next int
}

func (r *timeRing) push(t time.Time) {
	r.buf[r.next] = t
	r.next = (r.next + 1) % len(r.buf)
	if r.len < len(r.buf) {
		r.len++
	}
}

// countSince returns how many recorded timestamps fall after the cutoff.
func (r *timeRing) countSince(cutoff time.Time) int {
	count := 0
	for i := 0; i < r.len; i++ {
		idx := (r.next - 1 - i + len(r.buf)) % len(r.buf)
		if !r.buf[idx].After(cutoff) {
			break
		}
		count++
	}
	return count
}
