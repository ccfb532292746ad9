package peer

import (
	"encoding/binary"
	"time"

	"github.com/quillnet/vl1/cipher"
	"github.com/quillnet/vl1/identity"
	"github.com/quillnet/vl1/wire"
)

// ProtocolVersion is this node's advertised wire protocol version.
// HELLOs at v>=11 get the encrypted metadata dictionary and
// HMAC-SHA384 signing; earlier versions use plaintext Poly1305.
const ProtocolVersion = 11

// HelloMetadataVersion is the protocol floor at which the encrypted
// dictionary and HMAC-SHA384 signing apply.
const HelloMetadataVersion = 11

// HelloBody is the serialized payload of a HELLO verb, built by
// BuildHello and parsed by the dispatcher's HELLO handler.
type HelloBody struct {
	SenderIdentityBlob []byte
	SentToAddr         wire.Endpoint
	ProtocolVersion    uint32
	Dictionary         []byte // present (possibly empty) only at v>=HelloMetadataVersion
}

// EncodeHelloBody serializes a HelloBody for inclusion as a HELLO
// verb payload.
func EncodeHelloBody(b *HelloBody) []byte {
	out := make([]byte, 0, 128)

	var idLen [2]byte
	binary.BigEndian.PutUint16(idLen[:], uint16(len(b.SenderIdentityBlob)))
	out = append(out, idLen[:]...)
	out = append(out, b.SenderIdentityBlob...)

	sentTo, _ := b.SentToAddr.MarshalBinary()
	var epLen [2]byte
	binary.BigEndian.PutUint16(epLen[:], uint16(len(sentTo)))
	out = append(out, epLen[:]...)
	out = append(out, sentTo...)

	var v [4]byte
	binary.BigEndian.PutUint32(v[:], b.ProtocolVersion)
	out = append(out, v[:]...)

	if b.ProtocolVersion >= HelloMetadataVersion {
		var dictLen [2]byte
		binary.BigEndian.PutUint16(dictLen[:], uint16(len(b.Dictionary)))
		out = append(out, dictLen[:]...)
		out = append(out, b.Dictionary...)
	}
	return out
}

// DecodeHelloBody parses the payload produced by EncodeHelloBody.
func DecodeHelloBody(data []byte) (*HelloBody, error) {
	b := &HelloBody{}
	off := 0

	idLen, off2, err := readU16Prefixed(data, off)
	if err != nil {
		return nil, err
	}
	off = off2
	b.SenderIdentityBlob = idLen

	epBytes, off3, err := readU16Prefixed(data, off)
	if err != nil {
		return nil, err
	}
	off = off3
	if len(epBytes) > 0 {
		var ep wire.Endpoint
		if err := ep.UnmarshalBinary(epBytes); err != nil {
			return nil, err
		}
		b.SentToAddr = ep
	}

	if len(data) < off+4 {
		return nil, errShortHelloBody
	}
	b.ProtocolVersion = binary.BigEndian.Uint32(data[off : off+4])
	off += 4

	if b.ProtocolVersion >= HelloMetadataVersion && len(data) > off {
		dict, _, err := readU16Prefixed(data, off)
		if err != nil {
			return nil, err
		}
		b.Dictionary = dict
	}
	return b, nil
}

func readU16Prefixed(data []byte, off int) (field []byte, next int, err error) {
	if len(data) < off+2 {
		return nil, 0, errShortHelloBody
	}
	n := int(binary.BigEndian.Uint16(data[off : off+2]))
	off += 2
	if len(data) < off+n {
		return nil, 0, errShortHelloBody
	}
	return data[off : off+n], off + n, nil
}

var errShortHelloBody = helloBodyError("peer: hello body truncated")

type helloBodyError string

func (e helloBodyError) Error() string { return string(e) }

// BuildHello constructs the verb payload and cipher suite for a HELLO
// to be sent to remote via sentTo. At protocol >= HelloMetadataVersion
// the metadata dictionary is encrypted under the permanent key with a
// nonce derived from packetID (the same packet ID the dispatcher will
// place in the outer header), so the receiver can recompute the nonce
// from the header alone; the packet is HMAC-SHA384 signed by the
// caller (the dispatcher owns outer-header assembly and MAC
// application). localProbeToken is embedded so this peer learns how
// to cheaply probe us later. Below HelloMetadataVersion the legacy
// POLY1305_NONE suite is used and no metadata is sent.
func (p *Peer) BuildHello(local *identity.Identity, sentTo wire.Endpoint, packetID uint64, localProbeToken uint32) (payload []byte, suite cipher.Suite, err error) {
	body := &HelloBody{
		SenderIdentityBlob: local.PublicKeyBlob(),
		SentToAddr:         sentTo,
		ProtocolVersion:    ProtocolVersion,
	}

	if ProtocolVersion >= HelloMetadataVersion {
		dict := wire.NewDictionary()
		dict.Set(wire.DictKeyPackedVersion, packU32(ProtocolVersion))
		dict.Set(wire.DictKeyProbeToken, packU32(localProbeToken))
		if phys, physErr := sentTo.MarshalBinary(); physErr == nil {
			dict.Set(wire.DictKeyPhysicalDestination, phys)
		}
		plain := dict.Encode()
		nonce := wire.NonceFromPacketID(packetID)
		enc, encErr := wire.EncryptDictionary(p.permanentKey, nonce[:], plain)
		if encErr != nil {
			return nil, 0, encErr
		}
		body.Dictionary = enc
		suite = cipher.None // authenticated by an HMAC-SHA384 tag the dispatcher appends after the envelope
	} else {
		suite = cipher.Poly1305None
	}
	return EncodeHelloBody(body), suite, nil
}

// packU32 encodes a uint32 big-endian, used for both the packed
// version and probe token dictionary values.
func packU32(v uint32) []byte {
	var out [4]byte
	binary.BigEndian.PutUint32(out[:], v)
	return out[:]
}

// Pulse performs the periodic per-peer maintenance the spec assigns to
// `pulse(now, is_root)`: re-sorting paths, sending a HELLO (rate-gated)
// when the peer has no alive path or its ephemeral key slot needs
// rotation, and handing up to 8 try-queue items to tryEndpoint. Pulse
// does not install a new ephemeral key itself.
// sendHello/tryEndpoint are host-provided closures so Pulse stays free
// of direct I/O.
func (p *Peer) Pulse(now time.Time, isRoot bool, sendHello func(), tryEndpoint func(wire.Endpoint)) {
	nowMs := now.UnixMilli()
	p.PathSort(nowMs)

	if p.BestPath(nowMs) == nil || p.ephemeral.NeedsRotation(now) {
		if p.RateGateHello(now.UnixNano()) {
			sendHello()
		}
	}

	for _, ep := range p.DrainTryQueue(8) {
		tryEndpoint(ep)
	}
}
