package dispatch

import (
	"net/netip"
	"time"

	"github.com/quillnet/vl1/peer"
	"github.com/quillnet/vl1/wire"
)

// SendProbe sends a bare, anonymized-token probe datagram: the 32-byte
// SHA-256 hash of this node's own identity plus its own probe token,
// with no VL1 header at all. It only works on a peer that already
// learned this token from an earlier HELLO's metadata dictionary, and
// lets that peer re-establish contact cheaply (§4.7 step 2) without a
// full handshake attempt against a path that may no longer work.
func (d *Dispatcher) SendProbe(ctx any, localSocket int64, remote netip.AddrPort) {
	hash := peer.ProbeToken(uint64(d.probeToken), d.local)
	d.cb.WireSend(ctx, localSocket, wire.EndpointFromAddrPort(remote), hash[:], 0)
}

// handleProbe answers a bare probe datagram (no VL1 header at all —
// just ProbeLength bytes) by resolving it against every peer already
// known to this topology: a peer's own advertised probe token, learned
// from its HELLO metadata dictionary (peer.Peer.SetProbeToken), makes
// the hash it would send recognizable via peer.VerifyProbeToken
// without the datagram itself carrying any identifying information.
// On a match a full HELLO is sent back to the prober.
func (d *Dispatcher) handleProbe(ctx any, localSocket int64, from netip.AddrPort, buf []byte, now time.Time) {
	if !d.probeLimiter.Allow() {
		d.drop(DropTooShort)
		return
	}

	var hash [32]byte
	copy(hash[:], buf)

	var matched *peer.Peer
	d.topo.EachPeer(func(candidate *peer.Peer) {
		if matched != nil {
			return
		}
		token, ok := candidate.ProbeToken()
		if !ok {
			return
		}
		if peer.VerifyProbeToken(hash, token, candidate.Identity()) {
			matched = candidate
		}
	})
	if matched == nil {
		d.drop(DropUnknownSource)
		return
	}

	d.cb.Event(EventPacketAccepted, "probe")
	d.SendHello(ctx, matched, wire.EndpointFromAddrPort(from), now)
}
