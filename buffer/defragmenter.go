package buffer

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// MaxFragments bounds how many fragments (head included) a single packet
// may be split into. The total is carried as a full byte, both after a
// fragmented head's outer header and in a continuation fragment's
// header; Submit rejects totals above this bound.
const MaxFragments = 8

// Outcome is the result of submitting one fragment to the Defragmenter.
type Outcome int

const (
	// OK means the fragment was accepted but the packet is not yet
	// complete.
	OK Outcome = iota
	// Complete means all fragments for this packet are now present;
	// the caller should consume the assembled slices and discard the
	// entry.
	Complete
	// DuplicateFragment means this (packet ID, path, index) was already
	// seen and the new copy was dropped.
	DuplicateFragment
	// InvalidFragment means the fragment's index/total fields are out
	// of range.
	InvalidFragment
	// TooManyFragmentsForPath means the path already has the maximum
	// number of concurrent in-flight reassemblies.
	TooManyFragmentsForPath
	// OutOfMemory means the global reassembly entry bound was hit.
	OutOfMemory
)

// reassembly holds the fragments received so far for one (packet ID,
// path) pair.
type reassembly struct {
	total    uint8
	received uint8
	present  [MaxFragments]bool
	slices   [MaxFragments][]byte
}

func (r *reassembly) complete() bool {
	return r.total > 0 && r.received == r.total
}

// key identifies one in-flight reassembly.
type key struct {
	packetID uint64
	path     uint64 // caller-assigned opaque path identifier
}

// Defragmenter reassembles multi-fragment packets, keyed by packet ID
// and path, with a TTL-bounded entry count so a peer cannot exhaust
// memory by sending heads that are never completed.
type Defragmenter struct {
	cache           *ttlcache.Cache[key, *reassembly]
	maxEntries      int
	maxPerPath      int
	perPathInFlight map[uint64]int
}

// NewDefragmenter builds a Defragmenter whose entries expire after ttl
// and which admits at most maxEntries concurrent reassemblies globally
// and maxPerPath per path.
func NewDefragmenter(ttl time.Duration, maxEntries, maxPerPath int) *Defragmenter {
	d := &Defragmenter{
		maxEntries:      maxEntries,
		maxPerPath:      maxPerPath,
		perPathInFlight: make(map[uint64]int),
	}
	d.cache = ttlcache.New[key, *reassembly](
		ttlcache.WithTTL[key, *reassembly](ttl),
		ttlcache.WithDisableTouchOnHit[key, *reassembly](),
	)
	d.cache.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[key, *reassembly]) {
		d.perPathInFlight[item.Key().path]--
	})
	go d.cache.Start()
	return d
}

// Stop shuts down the background eviction goroutine.
func (d *Defragmenter) Stop() {
	d.cache.Stop()
}

// Submit adds one fragment (index of total, 0-based) to the reassembly
// for (packetID, path). payload is retained, not copied; callers must
// not mutate it afterward.
func (d *Defragmenter) Submit(packetID uint64, path uint64, index, total uint8, payload []byte) ([][]byte, Outcome) {
	if total == 0 || total > MaxFragments || index >= total {
		return nil, InvalidFragment
	}

	k := key{packetID: packetID, path: path}
	item := d.cache.Get(k)
	if item == nil {
		if d.cache.Len() >= d.maxEntries {
			return nil, OutOfMemory
		}
		if d.perPathInFlight[path] >= d.maxPerPath {
			return nil, TooManyFragmentsForPath
		}
		r := &reassembly{total: total}
		d.cache.Set(k, r, ttlcache.DefaultTTL)
		d.perPathInFlight[path]++
		item = d.cache.Get(k)
	}
	r := item.Value()

	if r.total != total {
		return nil, InvalidFragment
	}
	if r.present[index] {
		return nil, DuplicateFragment
	}
	r.present[index] = true
	r.slices[index] = payload
	r.received++

	if !r.complete() {
		return nil, OK
	}

	d.cache.Delete(k)
	out := make([][]byte, total)
	copy(out, r.slices[:total])
	return out, Complete
}

// Len reports the number of in-flight reassemblies, for diagnostics.
func (d *Defragmenter) Len() int {
	return d.cache.Len()
}
