package peer

import (
	"sync"
	"time"
)

// ephemeralTTL and ephemeralMessageLimit bound how long (wall-clock
// and message count) an ephemeral key slot remains valid before
// rotation is required.
const (
	ephemeralTTL           = 30 * time.Minute
	ephemeralMessageLimit  = 1 << 20
)

type ephemeralKey struct {
	key       [48]byte
	createdAt time.Time
	messages  uint64
}

func (k *ephemeralKey) expired(now time.Time) bool {
	if k == nil {
		return true
	}
	return now.Sub(k.createdAt) > ephemeralTTL || k.messages > ephemeralMessageLimit
}

// ephemeralSchedule holds the current and previous ephemeral keys. A
// packet keyed under the previous slot remains decryptable until that
// slot has exceeded both of its limits, wall-clock age and message
// count.
type ephemeralSchedule struct {
	mu       sync.Mutex
	current  *ephemeralKey
	previous *ephemeralKey
}

// Rotate installs a freshly agreed ephemeral key as current, demoting
// the old current to previous.
func (s *ephemeralSchedule) Rotate(key [48]byte, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.previous = s.current
	s.current = &ephemeralKey{key: key, createdAt: now}
}

// NeedsRotation reports whether the current slot has expired and a new
// HELLO-driven key exchange should be initiated.
func (s *ephemeralSchedule) NeedsRotation(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.expired(now)
}

// KeyFor returns a usable key for encryption (always current) or
// returns ok=false if no ephemeral key has ever been established,
// telling the caller to fall back to the permanent key.
func (s *ephemeralSchedule) KeyFor() (key [48]byte, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return key, false
	}
	s.current.messages++
	return s.current.key, true
}

// TryDecryptKeys returns the keys that might decrypt an incoming
// packet, most-recent first: current, then previous unless it has
// exceeded both its wall-clock TTL and its message limit.
func (s *ephemeralSchedule) TryDecryptKeys(now time.Time) [][48]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out [][48]byte
	if s.current != nil {
		out = append(out, s.current.key)
	}
	if prev := s.previous; prev != nil && (now.Sub(prev.createdAt) <= ephemeralTTL || prev.messages <= ephemeralMessageLimit) {
		out = append(out, s.previous.key)
	}
	return out
}
