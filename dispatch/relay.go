package dispatch

import (
	"time"

	"github.com/quillnet/vl1/wire"
)

// relay forwards a packet not addressed to the local node toward its
// destination, incrementing the hop count in place (the hops bits are
// outside what any MAC covers: Poly1305 covers the envelope and keys on
// the first 16 header bytes, which end before the flags byte, and the
// HELLO HMAC covers the packet with hops zeroed) and subject to a
// global token-bucket rate limit shared across all relayed traffic.
// Packets addressed to a peer tagged too-old are dropped.
func (d *Dispatcher) relay(ctx any, head *wire.Head, assembled []byte, now time.Time) {
	if head.Hops >= wire.HopLimit {
		d.drop(DropRelayHopLimit)
		return
	}
	if !d.relayLimiter.Allow() {
		d.drop(DropRelayRateLimited)
		return
	}

	destPeer, ok := d.topo.Peer(head.Destination, true)
	if !ok {
		d.drop(DropRelayNoPath)
		return
	}
	if destPeer.TooOld() {
		d.drop(DropPeerTooOld)
		return
	}
	best := destPeer.BestPath(now.UnixMilli())
	if best == nil {
		d.drop(DropRelayNoPath)
		return
	}

	wire.SetHops(assembled, head.Hops+1)
	if d.cb.WireSend(ctx, best.Key().LocalSocket, best.Endpoint(), assembled, 0) {
		best.Sent(now.UnixMilli(), len(assembled))
		d.cb.Event(EventRelay, head.Destination)
	}
}
