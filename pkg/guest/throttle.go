package guest

import (
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"studyhall/warden/pkg/config"
)

// ErrLimitReached is returned when a guest device has used up its
// attempts for the window.
var ErrLimitReached = errors.New("guest attempt limit reached")

// ErrInvalidDevice is returned when a device token is empty.
var ErrInvalidDevice = errors.New("device token cannot be empty")

// shardCount spreads device entries over independent locks.
const shardCount = 32

// deviceEntry tracks one guest device's attempts.
type deviceEntry struct {
	count    int
	lastSeen time.Time
}

type shard struct {
	mu      sync.Mutex
	devices map[string]*deviceEntry
}

// Throttle caps how many metered requests an anonymous device may make
// within a sliding window. The window is anchored to the device's last
// attempt: a device that stays away for a full window starts fresh, one
// that keeps trying keeps pushing its window forward.
//
// State is in-memory only. Guests lose little by a restart clearing the
// slate, and the durable quota machinery stays reserved for
// authenticated identities.
type Throttle struct {
	maxAttempts int
	window      time.Duration
	logger      *slog.Logger

	// now is replaceable in tests.
	now func() time.Time

	shards [shardCount]*shard
}

// ThrottleOption customizes a Throttle.
type ThrottleOption func(*Throttle)

// WithClock overrides the throttle's time source.
func WithClock(now func() time.Time) ThrottleOption {
	return func(t *Throttle) { t.now = now }
}

// NewThrottle creates a throttle from guest configuration.
func NewThrottle(cfg config.GuestConfig, opts ...ThrottleOption) (*Throttle, error) {
	if cfg.MaxAttempts <= 0 {
		return nil, fmt.Errorf("max attempts must be positive, got %d", cfg.MaxAttempts)
	}
	if cfg.Window <= 0 {
		return nil, fmt.Errorf("window must be positive, got %s", cfg.Window)
	}

	t := &Throttle{
		maxAttempts: cfg.MaxAttempts,
		window:      cfg.Window,
		logger:      slog.Default().With("component", "guest.throttle"),
		now:         time.Now,
	}
	for i := range t.shards {
		t.shards[i] = &shard{devices: make(map[string]*deviceEntry)}
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// IssueDeviceID mints a fresh opaque device token for a new guest.
func IssueDeviceID() string {
	return uuid.NewString()
}

func (t *Throttle) shardFor(deviceID string) *shard {
	h := fnv.New32a()
	h.Write([]byte(deviceID))
	return t.shards[h.Sum32()%shardCount]
}

// Attempt records one attempt for the device and returns how many remain
// in the window. Returns ErrLimitReached, without consuming an attempt,
// when the device is already at the ceiling.
func (t *Throttle) Attempt(deviceID string) (remaining int, err error) {
	if deviceID == "" {
		return 0, ErrInvalidDevice
	}

	now := t.now()
	s := t.shardFor(deviceID)
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.devices[deviceID]
	if !ok || now.Sub(entry.lastSeen) >= t.window {
		s.devices[deviceID] = &deviceEntry{count: 1, lastSeen: now}
		return t.maxAttempts - 1, nil
	}

	if entry.count >= t.maxAttempts {
		// The denied attempt still anchors the window: hammering does
		// not shorten the wait.
		entry.lastSeen = now
		return 0, ErrLimitReached
	}

	entry.count++
	entry.lastSeen = now
	return t.maxAttempts - entry.count, nil
}

// IsLimitReached reports whether the device is at its ceiling, without
// recording an attempt or moving the window.
func (t *Throttle) IsLimitReached(deviceID string) bool {
	if deviceID == "" {
		return false
	}

	now := t.now()
	s := t.shardFor(deviceID)
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.devices[deviceID]
	if !ok || now.Sub(entry.lastSeen) >= t.window {
		return false
	}
	return entry.count >= t.maxAttempts
}

// Attempts returns the device's current attempt count within the window.
func (t *Throttle) Attempts(deviceID string) int {
	if deviceID == "" {
		return 0
	}

	now := t.now()
	s := t.shardFor(deviceID)
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.devices[deviceID]
	if !ok || now.Sub(entry.lastSeen) >= t.window {
		return 0
	}
	return entry.count
}

// Reset clears the device's attempt state, e.g. after the guest signs up.
func (t *Throttle) Reset(deviceID string) {
	if deviceID == "" {
		return
	}

	s := t.shardFor(deviceID)
	s.mu.Lock()
	delete(s.devices, deviceID)
	s.mu.Unlock()
}

// SweepIdle drops devices not seen for at least idle and returns how many
// were dropped. The background reaper calls this to bound memory.
func (t *Throttle) SweepIdle(idle time.Duration) int {
	now := t.now()
	dropped := 0

	for _, s := range t.shards {
		s.mu.Lock()
		for deviceID, entry := range s.devices {
			if now.Sub(entry.lastSeen) >= idle {
				delete(s.devices, deviceID)
				dropped++
			}
		}
		s.mu.Unlock()
	}

	if dropped > 0 {
		t.logger.Debug("swept idle guest devices", "dropped", dropped)
	}
	return dropped
}

// Size returns the number of tracked devices.
func (t *Throttle) Size() int {
	total := 0
	for _, s := range t.shards {
		s.mu.Lock()
		total += len(s.devices)
		s.mu.Unlock()
	}
	return total
}
