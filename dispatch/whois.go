package dispatch

import (
	"sync"
	"time"

	"github.com/quillnet/vl1/identity"
)

// whoisRingSize bounds how many deferred packets are retained per
// unresolved address; the eldest is overwritten on overflow.
const whoisRingSize = 8

// whoisRetryInterval bounds how often a WHOIS is re-sent for the same
// unresolved address.
const whoisRetryInterval = 2 * time.Second

type deferredPacket struct {
	buf []byte
}

type whoisEntry struct {
	ring      [whoisRingSize]deferredPacket
	count     int
	next      int
	lastRetry time.Time
}

func (e *whoisEntry) push(buf []byte) {
	e.ring[e.next] = deferredPacket{buf: buf}
	e.next = (e.next + 1) % whoisRingSize
	if e.count < whoisRingSize {
		e.count++
	}
}

// drain returns the deferred packets in the order received (oldest
// surviving entry first) and clears the entry.
func (e *whoisEntry) drain() [][]byte {
	out := make([][]byte, 0, e.count)
	start := (e.next - e.count + whoisRingSize) % whoisRingSize
	for i := 0; i < e.count; i++ {
		idx := (start + i) % whoisRingSize
		out = append(out, e.ring[idx].buf)
	}
	e.count = 0
	return out
}

// WhoisQueue holds, per unresolved source address, a bounded ring of
// raw packets awaiting identity resolution. It has its own mutex,
// acquired strictly after any topology/peer lock per the dispatcher's
// lock-ordering contract.
type WhoisQueue struct {
	mu      sync.Mutex
	entries map[identity.Address]*whoisEntry
}

// NewWhoisQueue constructs an empty queue.
func NewWhoisQueue() *WhoisQueue {
	return &WhoisQueue{entries: make(map[identity.Address]*whoisEntry)}
}

// Defer stores buf for addr and reports whether a WHOIS retry should
// be sent now (last retry elapsed or this is the first deferral).
func (q *WhoisQueue) Defer(addr identity.Address, buf []byte, now time.Time) (shouldRetry bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[addr]
	if !ok {
		e = &whoisEntry{}
		q.entries[addr] = e
	}
	e.push(buf)

	if now.Sub(e.lastRetry) < whoisRetryInterval {
		return false
	}
	e.lastRetry = now
	return true
}

// Resolve removes and returns the deferred packets for addr, if any,
// for replay through the decrypt path now that the identity is known.
func (q *WhoisQueue) Resolve(addr identity.Address) [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[addr]
	if !ok {
		return nil
	}
	out := e.drain()
	delete(q.entries, addr)
	return out
}
