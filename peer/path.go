// Package peer implements the per-remote-node state machine: physical
// Path bookkeeping and the Peer that owns a ranked set of paths plus
// the HELLO/probe/pulse handshake logic.
package peer

import (
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/quillnet/vl1/wire"
)

// deadInterval is how long a path may go without a received packet
// before it is considered dead.
const deadInterval = 60 * time.Second

// Key canonicalizes a physical path: a local socket identifier paired
// with the remote address it talks to. Two packets from the same
// remote address received on different local sockets are distinct
// paths, matching the teacher's one-local-socket-per-link model.
type Key struct {
	LocalSocket int64
	Remote      netip.AddrPort
}

// Path is pure data-plus-metrics: the send/receive callback lives on
// the host side (Callbacks.WireSend); Path only tracks liveness and
// throughput counters plus latency smoothing for ranking.
type Path struct {
	key Key

	lastSendMs atomic.Int64
	lastRecvMs atomic.Int64
	sentBytes  atomic.Uint64
	recvBytes  atomic.Uint64
	mtuHint    atomic.Int32

	needsReprobe atomic.Bool

	latency *latencyEstimator
}

// NewPath constructs a Path for the given canonicalized key.
func NewPath(key Key) *Path {
	return &Path{
		key:     key,
		latency: newLatencyEstimator(),
	}
}

// Key returns this path's canonicalization key.
func (p *Path) Key() Key { return p.key }

// Received records that nbytes were received at time now (Unix ms),
// the teacher's `received(now, nbytes)` contract.
func (p *Path) Received(nowMs int64, nbytes int) {
	p.lastRecvMs.Store(nowMs)
	p.recvBytes.Add(uint64(nbytes))
	p.needsReprobe.Store(false)
}

// Sent records an outbound send at time now.
func (p *Path) Sent(nowMs int64, nbytes int) {
	p.lastSendMs.Store(nowMs)
	p.sentBytes.Add(uint64(nbytes))
}

// Alive reports whether the path has received a packet within
// deadInterval of now and is not waiting for a re-probe (MarkReprobe).
func (p *Path) Alive(nowMs int64) bool {
	if p.needsReprobe.Load() {
		return false
	}
	last := p.lastRecvMs.Load()
	if last == 0 {
		return false
	}
	return time.Duration(nowMs-last)*time.Millisecond <= deadInterval
}

// LastReceive returns the Unix-ms timestamp of the last received
// packet, used to break ties when sorting paths.
func (p *Path) LastReceive() int64 { return p.lastRecvMs.Load() }

// MarkReprobe flags the path as needing a re-probe, per
// `reset_within_scope`: Alive reports false until the next packet is
// received on it.
func (p *Path) MarkReprobe() { p.needsReprobe.Store(true) }

// NeedsReprobe reports whether MarkReprobe was called since the last
// received packet.
func (p *Path) NeedsReprobe() bool { return p.needsReprobe.Load() }

// UpdateLatency folds a new round-trip sample into the smoothed
// latency estimate.
func (p *Path) UpdateLatency(rtt time.Duration) {
	p.latency.update(rtt)
}

// Latency returns the current stabilized latency estimate, used by
// path_sort and root ranking.
func (p *Path) Latency() time.Duration {
	return p.latency.stabilized()
}

// Send delegates to the host wire-send callback using this path's
// local socket and remote address, then records the send.
func (p *Path) Send(send func(localSocket int64, remote netip.AddrPort, data []byte) bool, data []byte, nowMs int64) bool {
	ok := send(p.key.LocalSocket, p.key.Remote, data)
	if ok {
		p.Sent(nowMs, len(data))
	}
	return ok
}

// Endpoint renders the path's remote address as a wire Endpoint, e.g.
// for PUSH_DIRECT_PATHS advertisements.
func (p *Path) Endpoint() wire.Endpoint {
	return wire.EndpointFromAddrPort(p.key.Remote)
}
