package dispatch

import (
	"encoding/binary"
	"net/netip"
	"time"

	"github.com/quillnet/vl1/cipher"
	"github.com/quillnet/vl1/identity"
	"github.com/quillnet/vl1/peer"
	"github.com/quillnet/vl1/wire"
)

// helloHMACTagLen is the width of the HMAC-SHA384 tag protocol >= 11
// HELLOs carry appended after the envelope. The outer header's MAC
// field is only 8 bytes — wide enough for a truncated Poly1305 tag but
// not a full HMAC-SHA384 tag — so the HELLO path appends the tag to
// the datagram instead of trying to fit it in that field.
const helloHMACTagLen = 48

// handleHello implements the self-authenticating HELLO sequence: the
// sender's identity travels in the packet, so the peer is found (or
// created and added to the topology) from that identity first, and the
// MAC/HMAC is then verified with that peer's permanent key.
func (d *Dispatcher) handleHello(ctx any, localSocket int64, from netip.AddrPort, head *wire.Head, now time.Time) {
	envelope := head.Envelope
	hmacSigned := head.Cipher == cipher.None
	var tag [helloHMACTagLen]byte
	if hmacSigned {
		if len(envelope) < helloHMACTagLen {
			d.drop(DropMACFailed)
			return
		}
		tagStart := len(envelope) - helloHMACTagLen
		copy(tag[:], envelope[tagStart:])
		envelope = envelope[:tagStart]
	}

	body, err := parseHelloBody(envelope, head.Cipher)
	if err != nil {
		d.drop(DropMACFailed)
		return
	}

	senderID, err := identity.UnmarshalPublicBlob(body.SenderIdentityBlob)
	if err != nil {
		d.drop(DropMACFailed)
		return
	}
	if senderID.Address() != head.Source {
		d.drop(DropMACFailed)
		return
	}

	existing, known := d.topo.Peer(senderID.Address(), true)
	if known && !existing.Identity().Equal(senderID) {
		d.drop(DropMACFailed) // address-collision attempt
		return
	}

	var srcPeer *peer.Peer
	if known {
		srcPeer = existing
	} else {
		p, err := peer.New(d.local, senderID)
		if err != nil {
			d.drop(DropMACFailed)
			return
		}
		srcPeer = d.topo.Add(p)
		d.cb.Event(EventPeerLearned, senderID.Address())
	}

	if !hmacSigned {
		macKey := cipher.PerPacketKey(srcPeer.PermanentKey(), head.HeaderFirst16())
		if !cipher.VerifyPoly1305None(macKey, head.PacketID, head.Envelope, head.MAC) {
			d.drop(DropMACFailed)
			return
		}
	} else {
		region := head.MACRegion()
		region = region[:len(region)-helloHMACTagLen]
		if !cipher.VerifyHMACSHA384(srcPeer.PermanentKey(), region, tag) {
			d.drop(DropMACFailed)
			return
		}
	}

	srcPeer.SetProtocolVersion(body.ProtocolVersion)

	if body.ProtocolVersion >= peer.HelloMetadataVersion && len(body.Dictionary) > 0 {
		d.applyHelloMetadata(srcPeer, head.PacketID, body.Dictionary)
	}

	key := peer.Key{LocalSocket: localSocket, Remote: from}
	srcPeer.Received(key, now.UnixMilli(), len(envelope), head.Hops)

	d.sendHelloOK(ctx, srcPeer, from, head.PacketID, now)
}

// applyHelloMetadata decrypts and decodes a HELLO's metadata
// dictionary and records the fields this dispatcher acts on: the
// sender's probe token (so a later bare probe from them can be
// resolved, see probe.go) and the physical destination they believe
// they sent this HELLO to. A decrypt/decode failure is not fatal to
// the handshake — the HMAC/MAC already authenticated the envelope the
// dictionary came from, so a malformed dictionary just means less
// metadata, not a forged sender.
func (d *Dispatcher) applyHelloMetadata(srcPeer *peer.Peer, packetID uint64, encrypted []byte) {
	nonce := wire.NonceFromPacketID(packetID)
	plain, err := wire.DecryptDictionary(srcPeer.PermanentKey(), nonce[:], encrypted)
	if err != nil {
		return
	}
	dict, err := wire.DecodeDictionary(plain)
	if err != nil {
		return
	}

	if tok, ok := dict.Get(wire.DictKeyProbeToken); ok && len(tok) == 4 {
		srcPeer.SetProbeToken(uint64(binary.BigEndian.Uint32(tok)))
	}
	if pd, ok := dict.Get(wire.DictKeyPhysicalDestination); ok {
		var ep wire.Endpoint
		if ep.UnmarshalBinary(pd) == nil {
			srcPeer.SetPhysicalDestination(ep)
		}
	}
}

func parseHelloBody(envelope []byte, suite cipher.Suite) (*peer.HelloBody, error) {
	if len(envelope) < 1 {
		return nil, errShortHello
	}
	return peer.DecodeHelloBody(envelope[1:]) // skip inner flags+verb byte
}

// sendHelloOK builds and sends the OK(HELLO) reply, echoing the
// sender's observed external IP/port so NAT'd clients learn their own
// public endpoint.
func (d *Dispatcher) sendHelloOK(ctx any, p *peer.Peer, observedFrom netip.AddrPort, requestPacketID uint64, now time.Time) {
	observed := wire.EndpointFromAddrPort(observedFrom)
	payload, _ := observed.MarshalBinary()
	d.sendOK(ctx, p, wire.VerbHello, requestPacketID, payload, now)
}

var errShortHello = helloError("dispatch: hello body too short")

type helloError string

func (e helloError) Error() string { return string(e) }
