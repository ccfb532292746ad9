// Package topology implements the VL1 topology database: the
// concurrent peer/path maps, root-designation bookkeeping, and the
// periodic maintenance sweep.
package topology

import (
	"net/netip"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/quillnet/vl1/identity"
	"github.com/quillnet/vl1/peer"
	"github.com/quillnet/vl1/wire"
)

// StateLoader/StateSaver mirror the host StateGet/StatePut callbacks,
// narrowed to what Topology needs for demand-loading and persisting
// peer records.
type StateLoader func(addr identity.Address) (*peer.Peer, bool)
type StateSaver func(addr identity.Address, p *peer.Peer)

// pathDeadRetention bounds how long a dead path is kept before
// do_periodic_tasks evicts it.
const pathDeadRetention = 10 * time.Minute

// Topology holds the concurrent peer/path/root tables. Lock order is
// strict — topology, then peer, then the dispatch package's WHOIS
// queue — callers must never acquire a
// topology lock again from inside an EachPeer callback.
type Topology struct {
	local *identity.Identity

	peersMu sync.RWMutex
	peers   map[identity.Address]*peer.Peer

	pathsMu sync.RWMutex
	paths   map[peer.Key]*peer.Path

	rootsMu   sync.RWMutex
	roots     map[identity.Fingerprint]*wire.Locator
	rootPeers []*peer.Peer

	scope *ScopeClassifier

	load StateLoader
	save StateSaver
}

// New constructs an empty Topology for the given local node identity.
// load/save may be nil if the host does not persist peer state.
func New(local *identity.Identity, load StateLoader, save StateSaver) *Topology {
	return &Topology{
		local: local,
		peers: make(map[identity.Address]*peer.Peer),
		paths: make(map[peer.Key]*peer.Path),
		roots: make(map[identity.Fingerprint]*wire.Locator),
		scope: NewScopeClassifier(nil),
		load:  load,
		save:  save,
	}
}

// Add is the find-or-insert contract for the peer set: if a peer at
// candidate's address already exists, it is returned unchanged and
// candidate is discarded; otherwise candidate is inserted and
// returned. Atomic with respect to concurrent Add/Peer calls for the
// same address.
func (t *Topology) Add(candidate *peer.Peer) *peer.Peer {
	addr := candidate.Address()

	t.peersMu.RLock()
	if existing, ok := t.peers[addr]; ok {
		t.peersMu.RUnlock()
		return existing
	}
	t.peersMu.RUnlock()

	t.peersMu.Lock()
	defer t.peersMu.Unlock()
	if existing, ok := t.peers[addr]; ok {
		return existing
	}
	t.peers[addr] = candidate
	return candidate
}

// Peer looks up a peer by address. On miss, if loadFromCached is set
// and a loader is configured, it attempts to demand-load the peer from
// the external state store under a writer lock with double-checked
// insertion, so two concurrent misses never produce two Peer objects.
func (t *Topology) Peer(addr identity.Address, loadFromCached bool) (*peer.Peer, bool) {
	t.peersMu.RLock()
	if p, ok := t.peers[addr]; ok {
		t.peersMu.RUnlock()
		return p, true
	}
	t.peersMu.RUnlock()

	if !loadFromCached || t.load == nil {
		return nil, false
	}

	t.peersMu.Lock()
	defer t.peersMu.Unlock()
	if p, ok := t.peers[addr]; ok {
		return p, true
	}
	p, ok := t.load(addr)
	if !ok {
		return nil, false
	}
	t.peers[addr] = p
	return p, true
}

// Path computes the canonical path key and returns the existing Path
// for it, or creates one under a writer lock (with a double-checked
// read) if novel. Two concurrent calls for the same (localSocket,
// remote) never produce two distinct Path objects.
func (t *Topology) Path(localSocket int64, remote netip.AddrPort) *peer.Path {
	key := peer.Key{LocalSocket: localSocket, Remote: remote}

	t.pathsMu.RLock()
	if p, ok := t.paths[key]; ok {
		t.pathsMu.RUnlock()
		return p
	}
	t.pathsMu.RUnlock()

	t.pathsMu.Lock()
	defer t.pathsMu.Unlock()
	if p, ok := t.paths[key]; ok {
		return p
	}
	p := peer.NewPath(key)
	t.paths[key] = p
	return p
}

// AddRoot validates identity/locator and registers a root designation,
// then recomputes rootPeers.
func (t *Topology) AddRoot(id *identity.Identity, locator *wire.Locator) error {
	if !id.LocallyValidate() {
		return errInvalidRootIdentity
	}
	if !locator.Verify(id) {
		return errInvalidRootLocator
	}

	fp := identity.FingerprintOf(id)
	t.rootsMu.Lock()
	t.roots[fp] = locator
	t.rootsMu.Unlock()

	t.updateRootPeers(id)
	return nil
}

// RemoveRoot deletes a root designation. The underlying Peer entry is
// retained — roots are designations, not ownership.
func (t *Topology) RemoveRoot(fp identity.Fingerprint) {
	t.rootsMu.Lock()
	defer t.rootsMu.Unlock()
	delete(t.roots, fp)
	t.rootPeers = slices.DeleteFunc(t.rootPeers, func(p *peer.Peer) bool {
		return identity.FingerprintOf(p.Identity()) == fp
	})
}

// updateRootPeers ensures the just-added root has a materialized Peer
// entry, deriving the permanent key if the peer is newly created.
func (t *Topology) updateRootPeers(id *identity.Identity) {
	existing, ok := t.Peer(id.Address(), true)
	if !ok {
		p, err := peer.New(t.local, id)
		if err != nil {
			return
		}
		existing = t.Add(p)
	}

	t.rootsMu.Lock()
	defer t.rootsMu.Unlock()
	for _, rp := range t.rootPeers {
		if rp.Address() == existing.Address() {
			return
		}
	}
	t.rootPeers = append(t.rootPeers, existing)
}

// RankRoots sorts rootPeers ascending by each root's average latency
// across its alive paths (roots with no alive path sort last).
func (t *Topology) RankRoots(nowMs int64) {
	t.rootsMu.Lock()
	defer t.rootsMu.Unlock()

	sort.SliceStable(t.rootPeers, func(i, j int) bool {
		return averageAliveLatency(t.rootPeers[i], nowMs) < averageAliveLatency(t.rootPeers[j], nowMs)
	})
}

func averageAliveLatency(p *peer.Peer, nowMs int64) time.Duration {
	var total time.Duration
	var count int
	p.EachPath(func(path *peer.Path) {
		if path.Alive(nowMs) {
			total += path.Latency()
			count++
		}
	})
	if count == 0 {
		return time.Hour // unreachable roots sort last
	}
	return total / time.Duration(count)
}

// BestRoot returns the highest-ranked root peer, or nil if there are
// none.
func (t *Topology) BestRoot() *peer.Peer {
	t.rootsMu.RLock()
	defer t.rootsMu.RUnlock()
	if len(t.rootPeers) == 0 {
		return nil
	}
	return t.rootPeers[0]
}

// EachPeer iterates every known peer under a shared lock. f must not
// call back into Topology.
func (t *Topology) EachPeer(f func(*peer.Peer)) {
	t.peersMu.RLock()
	defer t.peersMu.RUnlock()
	for _, p := range t.peers {
		f(p)
	}
}

// EachPeerWithRoot iterates every known peer, reporting whether each
// one is currently designated a root.
func (t *Topology) EachPeerWithRoot(f func(p *peer.Peer, isRoot bool)) {
	t.rootsMu.RLock()
	rootAddrs := make(map[identity.Address]struct{}, len(t.rootPeers))
	for _, rp := range t.rootPeers {
		rootAddrs[rp.Address()] = struct{}{}
	}
	t.rootsMu.RUnlock()

	t.peersMu.RLock()
	defer t.peersMu.RUnlock()
	for _, p := range t.peers {
		_, isRoot := rootAddrs[p.Address()]
		f(p, isRoot)
	}
}

// ClassifyScope exposes the scope classifier for ResetWithinScope
// callers (the dispatcher, on a suspected network change).
func (t *Topology) ClassifyScope(addr netip.Addr) Scope {
	return t.scope.Classify(addr)
}

// DoPeriodicTasks evicts paths dead beyond retention, pulses every
// peer, and persists state. Peers themselves are never evicted. sendHello/tryEndpoint are bound by the
// caller to the dispatcher's SendHello/path-try machinery — topology
// cannot import dispatch (dispatch already imports topology), so the
// actual wire actions a pulse triggers are always supplied from above.
func (t *Topology) DoPeriodicTasks(now time.Time, sendHello func(p *peer.Peer), tryEndpoint func(p *peer.Peer, ep wire.Endpoint)) {
	nowMs := now.UnixMilli()

	t.pathsMu.Lock()
	for key, p := range t.paths {
		if !p.Alive(nowMs) && nowMs-p.LastReceive() > pathDeadRetention.Milliseconds() {
			delete(t.paths, key)
		}
	}
	t.pathsMu.Unlock()

	t.EachPeer(func(p *peer.Peer) {
		p.Pulse(now, t.isRoot(p), func() { sendHello(p) }, func(ep wire.Endpoint) { tryEndpoint(p, ep) })
	})

	t.SaveAll()
}

func (t *Topology) isRoot(p *peer.Peer) bool {
	return t.IsRoot(p.Address())
}

// IsRoot reports whether addr is currently designated a root.
func (t *Topology) IsRoot(addr identity.Address) bool {
	t.rootsMu.RLock()
	defer t.rootsMu.RUnlock()
	for _, rp := range t.rootPeers {
		if rp.Address() == addr {
			return true
		}
	}
	return false
}

// SaveAll marshals every peer to the external state store via the
// configured StateSaver.
func (t *Topology) SaveAll() {
	if t.save == nil {
		return
	}
	t.EachPeer(func(p *peer.Peer) {
		t.save(p.Address(), p)
	})
}
