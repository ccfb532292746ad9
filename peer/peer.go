package peer

import (
	"net/netip"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quillnet/vl1/identity"
	"github.com/quillnet/vl1/wire"
)

// rateGateInterval bounds how often a given rate-gated action (HELLO,
// probe) may fire, the "at most once per configured interval" latch
// from the spec. Implemented with atomics, matching the teacher's
// lastHandshakeNano-style fields, not a token bucket — relay traffic
// shaping is the only place a bucket fits (see the dispatch package).
const rateGateInterval = 30 * time.Second

// versionFloor is the minimum advertised protocol version a peer may
// report before being tagged too-old and excluded from relay
// selection.
const versionFloor = 9

// MaxPaths bounds how many direct paths a single peer may accumulate,
// the spec's "up to N direct paths (N <= 16)" invariant. A new path
// beyond the cap is always admitted, evicting the current worst path.
const MaxPaths = 16

// SendFunc delegates an outbound datagram to the host WireSend
// callback, already bound to a (local socket, remote address) pair.
type SendFunc func(localSocket int64, remote netip.AddrPort, data []byte) bool

// Peer is the per-remote-node state machine: identity, permanent
// shared secret, ranked path set, ephemeral key schedule, and the
// try-queue driving direct path discovery.
type Peer struct {
	remote *identity.Identity
	addr   identity.Address

	permanentKey   [48]byte
	permanentKeySet bool

	pathsMu sync.RWMutex
	paths   []*Path
	alive   int // count of paths in paths[:alive] considered alive, maintained by PathSort

	protocolVersion atomic.Uint32
	tooOld          atomic.Bool

	lastHelloNano atomic.Int64
	lastProbeNano atomic.Int64
	lastReceiveMs atomic.Int64

	// probeToken is this peer's own low-bandwidth handshake-initiation
	// token, learned from its HELLO metadata dictionary (DictKeyProbeToken).
	// hasProbeToken distinguishes "never advertised one" from the zero
	// value, which is a legal token.
	probeToken    atomic.Uint64
	hasProbeToken atomic.Bool

	physicalDestination   wire.Endpoint
	physicalDestinationMu sync.RWMutex

	ephemeral ephemeralSchedule

	tryMu    sync.Mutex
	tryQueue []tryQueueItem
}

type tryQueueItem struct {
	endpoint   wire.Endpoint
	bruteForce bool
	attempts   int
}

// New constructs a Peer for a remote identity, deriving the permanent
// shared secret via hybrid key agreement (C1). local must carry
// private key material.
func New(local, remote *identity.Identity) (*Peer, error) {
	p := &Peer{remote: remote, addr: remote.Address()}
	if err := p.init(local); err != nil {
		return nil, err
	}
	return p, nil
}

// init derives the permanent symmetric key. Failure here means the
// peer cannot be used at all.
func (p *Peer) init(local *identity.Identity) error {
	secret, err := local.Agree(p.remote)
	if err != nil {
		return err
	}
	p.permanentKey = secret
	p.permanentKeySet = true
	return nil
}

// Identity returns the remote node's identity.
func (p *Peer) Identity() *identity.Identity { return p.remote }

// Address returns the remote node's address.
func (p *Peer) Address() identity.Address { return p.addr }

// PermanentKey returns the 48-byte hybrid-agreement shared secret.
func (p *Peer) PermanentKey() [48]byte { return p.permanentKey }

// ProtocolVersion returns the peer's last-advertised protocol version.
func (p *Peer) ProtocolVersion() uint32 { return p.protocolVersion.Load() }

// TooOld reports whether the peer's advertised protocol version is
// below versionFloor, per the peer-too-old relay-selection policy.
func (p *Peer) TooOld() bool { return p.tooOld.Load() }

// pathFor returns the existing Path for key, or nil.
func (p *Peer) pathFor(key Key) *Path {
	for _, path := range p.paths {
		if path.Key() == key {
			return path
		}
	}
	return nil
}

// findOrCreatePath returns the Path for key, creating and appending it
// under the write lock if novel. This mirrors Topology's find-or-insert
// contract at path granularity: never two distinct Path objects for
// the same key. Once the peer already holds MaxPaths paths, admitting
// a new one first evicts the worst-ranked existing path (dead paths
// before alive ones, highest latency among alive ones).
func (p *Peer) findOrCreatePath(key Key, nowMs int64) (*Path, bool) {
	p.pathsMu.RLock()
	if existing := p.pathFor(key); existing != nil {
		p.pathsMu.RUnlock()
		return existing, false
	}
	p.pathsMu.RUnlock()

	p.pathsMu.Lock()
	defer p.pathsMu.Unlock()
	if existing := p.pathFor(key); existing != nil {
		return existing, false
	}
	if len(p.paths) >= MaxPaths {
		p.evictWorstLocked(nowMs)
	}
	path := NewPath(key)
	p.paths = append(p.paths, path)
	return path, true
}

// evictWorstLocked drops the single lowest-ranked path to make room
// under MaxPaths. Caller must hold pathsMu for writing.
func (p *Peer) evictWorstLocked(nowMs int64) {
	worst := 0
	for i := 1; i < len(p.paths); i++ {
		if pathEvictionRank(p.paths[i], nowMs) > pathEvictionRank(p.paths[worst], nowMs) {
			worst = i
		}
	}
	p.paths = append(p.paths[:worst], p.paths[worst+1:]...)
}

// pathEvictionRank orders paths worst-first: any dead path outranks
// every alive path, and among alive paths higher latency is worse.
func pathEvictionRank(path *Path, nowMs int64) time.Duration {
	if !path.Alive(nowMs) {
		return time.Duration(1<<62 - 1)
	}
	return path.Latency()
}

// Received updates path state for an authenticated incoming packet,
// promoting the path if it is novel and updating latency when the
// packet is a reply to a request we tracked (inReVerb/expected RTT is
// computed by the caller and passed via UpdateLatency separately).
func (p *Peer) Received(key Key, nowMs int64, payloadLen int, hops uint8) *Path {
	path, _ := p.findOrCreatePath(key, nowMs)
	path.Received(nowMs, payloadLen)
	p.lastReceiveMs.Store(nowMs)
	// Re-rank immediately so BestPath reflects a newly-live path without
	// waiting for the next periodic pulse; PathSort is cheap relative to
	// packet processing and idempotent when nothing changed.
	p.PathSort(nowMs)
	return path
}

// SetProtocolVersion records the peer's advertised protocol version
// and updates the too-old tag.
func (p *Peer) SetProtocolVersion(v uint32) {
	p.protocolVersion.Store(v)
	p.tooOld.Store(v < versionFloor)
}

// SetProbeToken records the low-bandwidth handshake-initiation token
// this peer advertised in its HELLO metadata dictionary. A later bare
// probe datagram anonymized against this peer's own identity and this
// token identifies it as the prober, per the receiver-side probe flow.
func (p *Peer) SetProbeToken(token uint64) {
	p.probeToken.Store(token)
	p.hasProbeToken.Store(true)
}

// ProbeToken returns the peer's last-advertised probe token, and
// whether one has ever been learned.
func (p *Peer) ProbeToken() (uint64, bool) {
	return p.probeToken.Load(), p.hasProbeToken.Load()
}

// SetPhysicalDestination records the "pd" HELLO metadata key: the
// address the sender believes it sent this HELLO to, used by a
// relay-aware peer to notice a stale or NAT-rewritten path.
func (p *Peer) SetPhysicalDestination(ep wire.Endpoint) {
	p.physicalDestinationMu.Lock()
	defer p.physicalDestinationMu.Unlock()
	p.physicalDestination = ep
}

// PhysicalDestination returns the last-recorded "pd" metadata value.
func (p *Peer) PhysicalDestination() wire.Endpoint {
	p.physicalDestinationMu.RLock()
	defer p.physicalDestinationMu.RUnlock()
	return p.physicalDestination
}

// PathSort re-sorts paths: alive paths first ordered by ascending
// latency (ties broken by most-recent receive), dead paths after. It
// is called from Received for every authenticated packet and from
// Pulse; no minimum interval between calls is enforced.
func (p *Peer) PathSort(nowMs int64) {
	p.pathsMu.Lock()
	defer p.pathsMu.Unlock()

	slices.SortFunc(p.paths, func(a, b *Path) int {
		aAlive, bAlive := a.Alive(nowMs), b.Alive(nowMs)
		if aAlive != bAlive {
			if aAlive {
				return -1
			}
			return 1
		}
		if aAlive {
			if d := a.Latency() - b.Latency(); d != 0 {
				if d < 0 {
					return -1
				}
				return 1
			}
		}
		// tie-break: most recent receive first
		return int(b.LastReceive() - a.LastReceive())
	})

	alive := 0
	for _, path := range p.paths {
		if path.Alive(nowMs) {
			alive++
		} else {
			break
		}
	}
	p.alive = alive
}

// BestPath returns the highest-ranked path (slot 0) if it is alive,
// matching `path(now)`'s "slot 0 or none" contract.
func (p *Peer) BestPath(nowMs int64) *Path {
	p.pathsMu.RLock()
	defer p.pathsMu.RUnlock()
	if len(p.paths) == 0 || p.alive == 0 {
		return nil
	}
	return p.paths[0]
}

// EachPath invokes f for every known path under a shared lock.
func (p *Peer) EachPath(f func(*Path)) {
	p.pathsMu.RLock()
	defer p.pathsMu.RUnlock()
	for _, path := range p.paths {
		f(path)
	}
}

// Send transmits via the best alive path; if none is alive, the
// caller is expected to route via a root instead (root selection is a
// Topology-level concern, so Send here only covers the direct case and
// reports false when no direct path is usable).
func (p *Peer) Send(send SendFunc, data []byte, nowMs int64) bool {
	best := p.BestPath(nowMs)
	if best == nil {
		return false
	}
	return p.SendVia(best, send, data, nowMs)
}

// SendVia bypasses path selection and sends over an explicit path.
func (p *Peer) SendVia(path *Path, send SendFunc, data []byte, nowMs int64) bool {
	return path.Send(send, data, nowMs)
}

// ResetWithinScope marks every path whose remote address falls in
// scope (as classified by the caller-supplied predicate) as needing
// re-probe, deactivating it (Path.Alive reports false) until the next
// packet is received on it.
func (p *Peer) ResetWithinScope(inScope func(netip.Addr) bool) {
	p.pathsMu.RLock()
	defer p.pathsMu.RUnlock()
	for _, path := range p.paths {
		if inScope(path.Key().Remote.Addr()) {
			path.MarkReprobe()
		}
	}
}

// rateGate implements "returns true at most once per configured
// interval": it atomically claims the interval if nowNano is past the
// last claim, matching the teacher's lastHandshakeNano pattern.
func rateGate(last *atomic.Int64, nowNano int64, interval time.Duration) bool {
	for {
		prev := last.Load()
		if nowNano-prev < int64(interval) {
			return false
		}
		if last.CompareAndSwap(prev, nowNano) {
			return true
		}
	}
}

// RateGateHello reports whether a HELLO may be sent now.
func (p *Peer) RateGateHello(nowNano int64) bool {
	return rateGate(&p.lastHelloNano, nowNano, rateGateInterval)
}

// RateGateProbe reports whether a probe may be sent now.
func (p *Peer) RateGateProbe(nowNano int64) bool {
	return rateGate(&p.lastProbeNano, nowNano, rateGateInterval)
}

// EnqueueTryPath appends a candidate endpoint to the try-queue,
// expanding it into a BFG1024 candidate set first when bruteForce is
// set and the endpoint is an IPv4 address behind what is presumed to
// be a symmetric NAT.
func (p *Peer) EnqueueTryPath(endpoint wire.Endpoint, bruteForce bool) {
	p.tryMu.Lock()
	defer p.tryMu.Unlock()

	if bruteForce && endpoint.Kind == wire.EndpointIPv4 {
		for _, candidate := range BFG1024(p.addr, endpoint) {
			p.tryQueue = append(p.tryQueue, tryQueueItem{endpoint: candidate})
		}
		return
	}
	p.tryQueue = append(p.tryQueue, tryQueueItem{endpoint: endpoint, bruteForce: bruteForce})
}

// DrainTryQueue removes and returns up to max pending try-queue items,
// for the pulse loop to act on at a bounded rate.
func (p *Peer) DrainTryQueue(max int) []wire.Endpoint {
	p.tryMu.Lock()
	defer p.tryMu.Unlock()
	if max > len(p.tryQueue) {
		max = len(p.tryQueue)
	}
	out := make([]wire.Endpoint, max)
	for i := 0; i < max; i++ {
		out[i] = p.tryQueue[i].endpoint
	}
	p.tryQueue = p.tryQueue[max:]
	return out
}
