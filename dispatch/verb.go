package dispatch

import (
	"time"

	"github.com/quillnet/vl1/identity"
	"github.com/quillnet/vl1/peer"
	"github.com/quillnet/vl1/wire"
)

// dispatchVerb routes an authenticated, decompressed inner packet to
// its verb handler. plaintext's first byte is the flags+verb byte
// already consumed by the caller for compression; verb is re-extracted
// here since decompression may have rewritten plaintext[0]'s high bit.
func (d *Dispatcher) dispatchVerb(ctx any, srcPeer *peer.Peer, path *peer.Path, head *wire.Head, plaintext []byte, now time.Time) {
	verb := wire.Verb(plaintext[0] & innerVerbMask)
	payload := plaintext[1:]

	switch verb {
	case wire.VerbNop:
		// keepalive; liveness already recorded by the caller

	case wire.VerbOK, wire.VerbError:
		if len(payload) < 9 {
			d.drop(DropTooShort)
			return
		}
		inReVerb := wire.Verb(payload[0])
		inRePacketID := beUint64(payload[1:9])
		rest := payload[9:]

		sentAt, expected := d.expectations.Consume(inRePacketID)
		if !expected {
			d.drop(DropReplyNotExpected)
			return
		}
		if verb == wire.VerbOK {
			d.handleOK(ctx, srcPeer, path, inReVerb, rest, sentAt, now)
		}

	case wire.VerbWhois:
		d.handleWhois(ctx, srcPeer, head, payload, now)

	case wire.VerbRendezvous:
		d.handleRendezvous(srcPeer, payload, now)

	case wire.VerbEcho:
		d.sendOK(ctx, srcPeer, wire.VerbEcho, head.PacketID, payload, now)

	case wire.VerbPushDirectPaths:
		d.handlePushDirectPaths(srcPeer, payload)

	case wire.VerbUserMessage, wire.VerbEncap:
		d.cb.Event(EventPacketAccepted, verb)

	default:
		if verb.IsVL2() {
			// VL2 (virtual Ethernet) verbs are authenticated and
			// resolved to a peer/path here, then handed off unparsed;
			// forwarding them is outside this package's scope.
			d.cb.Event(EventPacketAccepted, verb)
			return
		}
		d.cb.Event(EventPacketAccepted, verb)
	}
}

// handleOK processes a reply we were expecting, folding the round
// trip into the path's latency estimate and handling the verb-specific
// payload of the request it answers.
func (d *Dispatcher) handleOK(ctx any, srcPeer *peer.Peer, path *peer.Path, inReVerb wire.Verb, rest []byte, sentAt, now time.Time) {
	path.UpdateLatency(now.Sub(sentAt))

	switch inReVerb {
	case wire.VerbWhois:
		if len(rest) == 0 {
			return
		}
		id, err := identity.UnmarshalPublicBlob(rest)
		if err != nil {
			return
		}
		p, err := peer.New(d.local, id)
		if err != nil {
			return
		}
		resolved := d.topo.Add(p)
		d.cb.Event(EventPeerLearned, resolved.Address())
		for _, buf := range d.whois.Resolve(resolved.Address()) {
			d.OnRemotePacket(ctx, path.Key().LocalSocket, path.Key().Remote, buf, now)
		}

	case wire.VerbHello:
		if len(rest) == 0 {
			return
		}
		var ep wire.Endpoint
		if err := ep.UnmarshalBinary(rest); err == nil {
			d.cb.Event(EventPacketAccepted, ep)
		}
	}
}

// handleWhois answers a batch of address queries with one OK(WHOIS)
// per address we know, each carrying the target's public key blob.
func (d *Dispatcher) handleWhois(ctx any, srcPeer *peer.Peer, head *wire.Head, payload []byte, now time.Time) {
	for i := 0; i+5 <= len(payload); i += 5 {
		queried := addressFrom5(payload[i : i+5])
		target, ok := d.topo.Peer(queried, true)
		if !ok {
			continue
		}
		d.sendOK(ctx, srcPeer, wire.VerbWhois, head.PacketID, target.Identity().PublicKeyBlob(), now)
	}
}

// handleRendezvous enqueues a NAT hole-punch attempt toward the named
// target, trusted only when it comes from a currently designated root.
func (d *Dispatcher) handleRendezvous(srcPeer *peer.Peer, payload []byte, now time.Time) {
	if !d.topo.IsRoot(srcPeer.Address()) {
		return
	}
	if len(payload) < 5 {
		return
	}
	targetAddr := addressFrom5(payload[:5])
	var ep wire.Endpoint
	if err := ep.UnmarshalBinary(payload[5:]); err != nil {
		return
	}
	target, ok := d.topo.Peer(targetAddr, true)
	if !ok {
		return
	}
	target.EnqueueTryPath(ep, false)
}

// handlePushDirectPaths enqueues every endpoint a peer advertises as
// directly reachable for a future hole-punch/try attempt.
func (d *Dispatcher) handlePushDirectPaths(srcPeer *peer.Peer, payload []byte) {
	off := 0
	for off+2 <= len(payload) {
		n := int(payload[off])<<8 | int(payload[off+1])
		off += 2
		if off+n > len(payload) {
			return
		}
		var ep wire.Endpoint
		if err := ep.UnmarshalBinary(payload[off : off+n]); err == nil {
			srcPeer.EnqueueTryPath(ep, false)
		}
		off += n
	}
}

func beUint64(b []byte) uint64 {
	var v uint64
	for _, x := range b {
		v = (v << 8) | uint64(x)
	}
	return v
}

func addressFrom5(b []byte) identity.Address {
	var v uint64
	for _, x := range b {
		v = (v << 8) | uint64(x)
	}
	return identity.Address(v)
}

func addressTo5(a identity.Address) []byte {
	v := uint64(a)
	out := make([]byte, 5)
	for i := 4; i >= 0; i-- {
		out[i] = byte(v)
		v >>= 8
	}
	return out
}
