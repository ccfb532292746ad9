package dispatch

import (
	"net/netip"
	"time"

	"github.com/pierrec/lz4/v4"

	"github.com/quillnet/vl1/cipher"
	"github.com/quillnet/vl1/peer"
	"github.com/quillnet/vl1/wire"
)

// compressThreshold is the inner-plaintext size above which a verb
// payload is tried through LZ4 before sending; packets that don't
// shrink are sent uncompressed.
const compressThreshold = 256

// aesGmacSivKey derives the 32-byte AES key the AesGmacSiv suite needs
// from the 48-byte hybrid-agreement secret. Truncation, not a fresh
// derivation, because the secret already came out of a cryptographic
// hash (Identity.Agree ends in SHA-384) and truncating a wide PRF
// output is safe as a sub-key, the same structure PerPacketKey uses.
func aesGmacSivKey(permanentKey [48]byte) [32]byte {
	var out [32]byte
	copy(out[:], permanentKey[:32])
	return out
}

// encodeVerbPlaintext prepends the verb byte and opportunistically
// LZ4-compresses the result, matching the innerFlagCompressed
// convention OnRemotePacket decodes on the receive side.
func encodeVerbPlaintext(verb wire.Verb, payload []byte) []byte {
	plaintext := make([]byte, 0, 1+len(payload))
	plaintext = append(plaintext, byte(verb))
	plaintext = append(plaintext, payload...)

	if len(plaintext) <= compressThreshold {
		return plaintext
	}
	compressed := make([]byte, lz4.CompressBlockBound(len(plaintext)-1))
	n, err := lz4.CompressBlock(plaintext[1:], compressed, nil)
	if err != nil || n <= 0 || n >= len(plaintext)-1 {
		return plaintext
	}
	out := make([]byte, 0, 1+n)
	out = append(out, plaintext[0]|innerFlagCompressed)
	out = append(out, compressed[:n]...)
	return out
}

// nextPacketID draws the next outbound packet ID from the dispatcher's
// counter, seeded randomly at construction so restarts don't replay a
// predictable sequence.
func (d *Dispatcher) nextPacketID() uint64 {
	return d.packetIDCounter.Add(1)
}

// sendPacket assembles and sends one whole (unfragmented) packet to an
// explicit socket/remote pair, under the given cipher suite. Fragmenting
// oversized packets is a host/Node-layer concern (MTU is path-specific);
// this always sends a single datagram.
func (d *Dispatcher) sendPacket(ctx any, localSocket int64, remote netip.AddrPort, target *peer.Peer, plaintext []byte, suite cipher.Suite, now time.Time) (packetID uint64, ok bool) {
	return d.sendPacketWithID(ctx, localSocket, remote, target, d.nextPacketID(), plaintext, suite, now)
}

// sendPacketWithID is sendPacket with the packet ID chosen by the
// caller, for send paths (HELLO) where the ID must be known before the
// envelope is built so it can also seed the metadata dictionary nonce.
func (d *Dispatcher) sendPacketWithID(ctx any, localSocket int64, remote netip.AddrPort, target *peer.Peer, packetID uint64, plaintext []byte, suite cipher.Suite, now time.Time) (_ uint64, ok bool) {
	skeleton := wire.EncodeHead(&wire.Head{
		PacketID:    packetID,
		Destination: target.Address(),
		Source:      d.local.Address(),
		Cipher:      suite,
	})
	first16 := skeleton[:16]

	var envelope []byte
	var mac uint64
	switch suite {
	case cipher.None:
		envelope = plaintext
	case cipher.Poly1305None:
		perPacketKey := cipher.PerPacketKey(target.PermanentKey(), first16)
		mac = cipher.MACPoly1305None(perPacketKey, packetID, plaintext)
		envelope = plaintext
	case cipher.Poly1305Salsa2012:
		perPacketKey := cipher.PerPacketKey(target.PermanentKey(), first16)
		envelope, mac = cipher.SealSalsaPoly1305(perPacketKey, packetID, plaintext)
	case cipher.AesGmacSiv:
		state, err := cipher.NewAesGmacSiv(aesGmacSivKey(target.PermanentKey()))
		if err != nil {
			return packetID, false
		}
		envelope = state.Seal(packetID, plaintext)
	default:
		return packetID, false
	}

	packet := wire.EncodeHead(&wire.Head{
		PacketID:    packetID,
		Destination: target.Address(),
		Source:      d.local.Address(),
		Cipher:      suite,
		MAC:         mac,
		Envelope:    envelope,
	})

	if !d.cb.WireSend(ctx, localSocket, wire.EndpointFromAddrPort(remote), packet, 0) {
		return packetID, false
	}
	if best := target.BestPath(now.UnixMilli()); best != nil && best.Key().LocalSocket == localSocket && best.Key().Remote == remote {
		best.Sent(now.UnixMilli(), len(packet))
	}
	return packetID, true
}

// sendVerb builds a verb payload and sends it to target over its
// currently best-ranked path, using the default data-path cipher
// suite. Returns ok=false if target has no alive path.
func (d *Dispatcher) sendVerb(ctx any, target *peer.Peer, verb wire.Verb, payload []byte, now time.Time) (packetID uint64, ok bool) {
	best := target.BestPath(now.UnixMilli())
	if best == nil {
		return 0, false
	}
	plaintext := encodeVerbPlaintext(verb, payload)
	return d.sendPacket(ctx, best.Key().LocalSocket, best.Key().Remote, target, plaintext, cipher.Poly1305Salsa2012, now)
}

// sendRequestVerb sends a verb that expects an OK/ERROR reply and
// registers the packet ID as a live expectation. The expectation is
// registered before the send, since the reply can arrive (on another
// thread, or synchronously through a loopback host) before WireSend
// returns; it is removed again if the send fails.
func (d *Dispatcher) sendRequestVerb(ctx any, target *peer.Peer, verb wire.Verb, payload []byte, now time.Time) (packetID uint64, ok bool) {
	best := target.BestPath(now.UnixMilli())
	if best == nil {
		return 0, false
	}
	packetID = d.nextPacketID()
	d.expectations.Expect(packetID, now)
	plaintext := encodeVerbPlaintext(verb, payload)
	packetID, ok = d.sendPacketWithID(ctx, best.Key().LocalSocket, best.Key().Remote, target, packetID, plaintext, cipher.Poly1305Salsa2012, now)
	if !ok {
		d.expectations.Consume(packetID)
	}
	return packetID, ok
}

// sendOK sends an OK reply referencing the request it answers, per the
// [inReVerb:1][inRePacketID:8][payload] OK/ERROR envelope convention.
func (d *Dispatcher) sendOK(ctx any, target *peer.Peer, inReVerb wire.Verb, inRePacketID uint64, payload []byte, now time.Time) bool {
	_, ok := d.sendVerb(ctx, target, wire.VerbOK, encodeOKEnvelope(inReVerb, inRePacketID, payload), now)
	return ok
}

func encodeOKEnvelope(inReVerb wire.Verb, inRePacketID uint64, payload []byte) []byte {
	out := make([]byte, 0, 9+len(payload))
	out = append(out, byte(inReVerb))
	var idBuf [8]byte
	for i := 7; i >= 0; i-- {
		idBuf[i] = byte(inRePacketID)
		inRePacketID >>= 8
	}
	out = append(out, idBuf[:]...)
	out = append(out, payload...)
	return out
}

// SendHello initiates a HELLO handshake to target, choosing the best
// known path if one exists or sentTo's own address for a first contact.
// The packet ID is drawn up front so it can double as the metadata
// dictionary's encryption nonce and still land, unchanged, in the
// transmitted outer header. Exposed for the host orchestration layer's
// periodic pulse.
func (d *Dispatcher) SendHello(ctx any, target *peer.Peer, sentTo wire.Endpoint, now time.Time) bool {
	packetID := d.nextPacketID()
	payload, suite, err := target.BuildHello(d.local, sentTo, packetID, d.probeToken)
	if err != nil {
		return false
	}

	var localSocket int64
	var remote netip.AddrPort
	if best := target.BestPath(now.UnixMilli()); best != nil {
		localSocket, remote = best.Key().LocalSocket, best.Key().Remote
	} else if ap, ok := sentTo.AddrPort(); ok {
		remote = ap
	} else {
		return false
	}

	envelope := make([]byte, 0, 1+len(payload))
	envelope = append(envelope, byte(wire.VerbHello))
	envelope = append(envelope, payload...)

	if suite == cipher.None {
		return d.sendHelloSigned(ctx, localSocket, remote, target, packetID, envelope, now)
	}

	_, ok := d.sendPacketWithID(ctx, localSocket, remote, target, packetID, envelope, suite, now)
	if ok {
		d.expectations.Expect(packetID, now)
	}
	return ok
}

// sendHelloSigned sends a protocol >= HelloMetadataVersion HELLO: the
// envelope is sent unencrypted (the sensitive part, the metadata
// dictionary, is already encrypted inside it) and authenticated by a
// full HMAC-SHA384 tag appended after the envelope rather than the
// outer header's 8-byte MAC field, which is too narrow to carry it.
// packetID must be the same value BuildHello used to derive the
// dictionary nonce.
func (d *Dispatcher) sendHelloSigned(ctx any, localSocket int64, remote netip.AddrPort, target *peer.Peer, packetID uint64, envelope []byte, now time.Time) bool {
	packet := wire.EncodeHead(&wire.Head{
		PacketID:    packetID,
		Destination: target.Address(),
		Source:      d.local.Address(),
		Cipher:      cipher.None,
		Envelope:    envelope,
	})
	tag := cipher.HMACSHA384(target.PermanentKey(), packet)
	full := append(packet, tag[:]...)

	if !d.cb.WireSend(ctx, localSocket, wire.EndpointFromAddrPort(remote), full, 0) {
		return false
	}
	if best := target.BestPath(now.UnixMilli()); best != nil && best.Key().LocalSocket == localSocket && best.Key().Remote == remote {
		best.Sent(now.UnixMilli(), len(full))
	}
	d.expectations.Expect(packetID, now)
	return true
}
