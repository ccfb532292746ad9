package dispatch

import (
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// expectationTTL bounds how long a sent packet ID remains eligible for
// an OK/ERROR reply before it is considered stale.
const expectationTTL = 10 * time.Second

// SentExpectations tracks recently sent packet IDs for which an OK or
// ERROR reply is legitimate; an unsolicited reply is dropped as
// REPLY_NOT_EXPECTED. The stored value is the send timestamp, so a
// matching OK can fold the round trip into the path's latency
// estimate without a second lookup table.
type SentExpectations struct {
	cache *ttlcache.Cache[uint64, time.Time]
}

// NewSentExpectations constructs the table and starts its background
// eviction loop.
func NewSentExpectations() *SentExpectations {
	c := ttlcache.New[uint64, time.Time](
		ttlcache.WithTTL[uint64, time.Time](expectationTTL),
		ttlcache.WithDisableTouchOnHit[uint64, time.Time](),
	)
	go c.Start()
	return &SentExpectations{cache: c}
}

// Stop shuts down the background eviction goroutine.
func (s *SentExpectations) Stop() {
	s.cache.Stop()
}

// Expect records packetID as eligible for a reply, along with the time
// it was sent.
func (s *SentExpectations) Expect(packetID uint64, sentAt time.Time) {
	s.cache.Set(packetID, sentAt, ttlcache.DefaultTTL)
}

// Consume reports whether packetID was expected and, if so, removes it
// (a reply is matched at most once) and returns the original send time.
func (s *SentExpectations) Consume(packetID uint64) (sentAt time.Time, ok bool) {
	item := s.cache.Get(packetID)
	if item == nil {
		return time.Time{}, false
	}
	sentAt = item.Value()
	s.cache.Delete(packetID)
	return sentAt, true
}
