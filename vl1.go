// Package vl1 wires the identity, topology, and dispatch packages into
// a runnable node: a single entry point a host (tap-device driver, UDP
// listener, CLI) can hand received datagrams to and ask to drive the
// periodic maintenance pulse.
package vl1

import (
	"context"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/quillnet/vl1/dispatch"
	"github.com/quillnet/vl1/identity"
	"github.com/quillnet/vl1/peer"
	"github.com/quillnet/vl1/perf"
	"github.com/quillnet/vl1/topology"
	"github.com/quillnet/vl1/trace"
	"github.com/quillnet/vl1/wire"
)

// pulseInterval is the default cadence of the periodic maintenance
// sweep (path pruning, peer pulses, root ranking, state persistence).
const pulseInterval = 2 * time.Second

// HostCallbacks is the integration surface a real host implements:
// socket I/O, persistence, the event sink, and the two optional policy
// hooks. It has the same methods as dispatch.Callbacks; Node wraps it
// so every dispatch event reaches both the host's own Event sink and
// the structured trace logger/metrics layer.
type HostCallbacks interface {
	WireSend(ctx any, localSocket int64, remote wire.Endpoint, data []byte, ttlHint int) bool
	StatePut(kind dispatch.StateObjectKind, id []byte, data []byte) error
	StateGet(kind dispatch.StateObjectKind, id []byte) ([]byte, bool)
	Event(kind dispatch.EventKind, payload any)
	PathCheck(addr identity.Address, id *identity.Identity, localSocket int64, remote wire.Endpoint) bool
	PathLookup(addr identity.Address, id *identity.Identity, family int) (wire.Endpoint, bool)
}

// Node is a running VL1 instance: one local identity, its topology
// database, and the packet dispatcher bound together with a pulse
// loop that keeps paths warm and roots ranked.
type Node struct {
	local *identity.Identity
	topo  *topology.Topology
	disp  *dispatch.Dispatcher
	log   *trace.Logger
	host  HostCallbacks

	mu      sync.Mutex
	stop    chan struct{}
	running bool
}

// New constructs a Node. load/save wire the topology's demand-loading
// and persistence of peer records through the host's StateGet/StatePut
// (nil is fine if the host doesn't persist peer state across restarts).
func New(local *identity.Identity, host HostCallbacks, log *trace.Logger, load topology.StateLoader, save topology.StateSaver) *Node {
	topo := topology.New(local, load, save)
	n := &Node{local: local, topo: topo, host: host, log: log}
	n.disp = dispatch.New(local, topo, &callbackBridge{n: n})
	return n
}

// Address returns the node's own cryptographic address.
func (n *Node) Address() identity.Address { return n.local.Address() }

// Identity returns the node's local identity.
func (n *Node) Identity() *identity.Identity { return n.local }

// Topology exposes the topology database for host code that manages
// peers/roots directly (the CLI's `roots` subcommands, diagnostics).
func (n *Node) Topology() *topology.Topology { return n.topo }

// OnRemotePacket is the single entry point for a datagram arriving on
// any socket the host listens on. It times the whole dispatch for the
// DispatchLatency histogram before handing off.
func (n *Node) OnRemotePacket(ctx any, localSocket int64, from netip.AddrPort, buf []byte, now time.Time) {
	perf.RecvPacketsPerSecond.Add(1)
	perf.RecvBytesPerSecond.Add(float64(len(buf)))

	start := time.Now()
	n.disp.OnRemotePacket(ctx, localSocket, from, buf, now)
	perf.DispatchLatency.Add(float64(time.Since(start).Microseconds()))
}

// AddPeer registers a remote identity as a known peer, deriving the
// permanent shared secret. Returns the canonical Peer (an existing one
// if this address was already known).
func (n *Node) AddPeer(remote *identity.Identity) (*peer.Peer, error) {
	p, err := peer.New(n.local, remote)
	if err != nil {
		return nil, fmt.Errorf("vl1: add peer: %w", err)
	}
	return n.topo.Add(p), nil
}

// AddRoot designates id (validated via locator) as a root server.
func (n *Node) AddRoot(id *identity.Identity, locator *wire.Locator) error {
	if err := n.topo.AddRoot(id, locator); err != nil {
		return err
	}
	n.log.Emit(trace.Event{
		Kind:     trace.KindRootUpdated,
		Location: "vl1.AddRoot",
		Fields:   map[string]any{"address": id.Address().String()},
	})
	return nil
}

// Connect enqueues a candidate endpoint for the given peer to try on
// the next pulse (direct contact, NAT traversal bring-up). bruteForce
// requests BFG1024 port-schedule expansion for a suspected symmetric
// NAT peer.
func (n *Node) Connect(p *peer.Peer, ep wire.Endpoint, bruteForce bool) {
	p.EnqueueTryPath(ep, bruteForce)
}

// Run starts the periodic pulse loop and blocks until ctx is canceled
// or Close is called. Safe to run in its own goroutine.
func (n *Node) Run(ctx context.Context) {
	n.mu.Lock()
	if n.running {
		n.mu.Unlock()
		return
	}
	n.running = true
	n.stop = make(chan struct{})
	n.mu.Unlock()

	ticker := time.NewTicker(pulseInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-n.stop:
			return
		case now := <-ticker.C:
			n.pulse(ctx, now)
		}
	}
}

// Close stops the pulse loop and releases background resources
// (defragmenter/expectation sweepers). Safe to call once.
func (n *Node) Close() {
	n.mu.Lock()
	if n.running {
		close(n.stop)
		n.running = false
	}
	n.mu.Unlock()
	n.disp.Close()
}

func (n *Node) pulse(ctx context.Context, now time.Time) {
	n.topo.RankRoots(now.UnixMilli())
	n.topo.DoPeriodicTasks(now,
		func(p *peer.Peer) { n.pulseSendHello(ctx, p, now) },
		func(p *peer.Peer, ep wire.Endpoint) { n.pulseTryEndpoint(ctx, p, ep, now) },
	)
}

func (n *Node) pulseSendHello(ctx any, p *peer.Peer, now time.Time) {
	n.disp.SendHello(ctx, p, wire.Endpoint{}, now)
}

func (n *Node) pulseTryEndpoint(ctx any, p *peer.Peer, ep wire.Endpoint, now time.Time) {
	n.disp.SendHello(ctx, p, ep, now)
}

// callbackBridge adapts the host's HostCallbacks to dispatch.Callbacks,
// inserting metrics and structured logging at the one chokepoint every
// outbound send and every pipeline event passes through.
type callbackBridge struct {
	n *Node
}

func (b *callbackBridge) WireSend(ctx any, localSocket int64, remote wire.Endpoint, data []byte, ttlHint int) bool {
	perf.SentPacketsPerSecond.Add(1)
	perf.SentBytesPerSecond.Add(float64(len(data)))
	return b.n.host.WireSend(ctx, localSocket, remote, data, ttlHint)
}

func (b *callbackBridge) StatePut(kind dispatch.StateObjectKind, id []byte, data []byte) error {
	return b.n.host.StatePut(kind, id, data)
}

func (b *callbackBridge) StateGet(kind dispatch.StateObjectKind, id []byte) ([]byte, bool) {
	return b.n.host.StateGet(kind, id)
}

func (b *callbackBridge) Event(kind dispatch.EventKind, payload any) {
	b.n.host.Event(kind, payload)

	switch kind {
	case dispatch.EventPacketDropped:
		if reason, ok := payload.(dispatch.DropReason); ok {
			perf.RecordDrop(reason)
			b.n.log.Emit(trace.Event{Kind: trace.KindPacketDropped, Location: "dispatch", Fields: map[string]any{"reason": reason.String()}})
		}
	case dispatch.EventPacketAccepted:
		b.n.log.Emit(trace.Event{Kind: trace.KindPacketAccepted, Location: "dispatch"})
	case dispatch.EventPeerLearned:
		if addr, ok := payload.(identity.Address); ok {
			b.n.log.Emit(trace.Event{Kind: trace.KindPeerLearned, Location: "dispatch", Fields: map[string]any{"address": addr.String()}})
		}
	case dispatch.EventRelay:
		perf.RelayedPerSecond.Add(1)
		b.n.log.Emit(trace.Event{Kind: trace.KindPacketRelayed, Location: "dispatch"})
	}
}

func (b *callbackBridge) PathCheck(addr identity.Address, id *identity.Identity, localSocket int64, remote wire.Endpoint) bool {
	return b.n.host.PathCheck(addr, id, localSocket, remote)
}

func (b *callbackBridge) PathLookup(addr identity.Address, id *identity.Identity, family int) (wire.Endpoint, bool) {
	return b.n.host.PathLookup(addr, id, family)
}
