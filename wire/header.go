package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/quillnet/vl1/cipher"
	"github.com/quillnet/vl1/identity"
)

const (
	// HeaderSize is the size of the outer header of a whole
	// (non-fragment) packet; the envelope starts at this offset.
	HeaderSize = 27
	// MinWholePacketLength is the smallest legal whole packet.
	MinWholePacketLength = 28
	// FragmentHeaderSize is the size of a continuation-fragment header.
	FragmentHeaderSize = 16
	// MinFragmentLength is the smallest legal fragment (header only).
	MinFragmentLength = 16
	// MaxPacketSize bounds a single assembled packet.
	MaxPacketSize = 10324
	// HopLimit is the maximum number of relay hops (3-bit field).
	HopLimit = 7

	// FragmentIndicator is the magic byte, at the position that would
	// otherwise be the first byte of a head packet's destination
	// address, that marks a datagram as a fragment continuation rather
	// than a packet head.
	FragmentIndicator byte = 0xFF

	flagTrustedPath byte = 0x80
	flagFragmented  byte = 0x40
	cipherShift            = 3
	cipherMask      byte   = 0x07
	hopsMask        byte   = 0x07
)

// Head describes a parsed, not-yet-decrypted whole-packet (or reassembled
// fragment head) outer header.
type Head struct {
	PacketID    uint64
	Destination identity.Address
	Source      identity.Address
	TrustedPath bool
	Fragmented  bool
	Cipher      cipher.Suite
	Hops        uint8
	MAC         uint64      // valid unless TrustedPath
	TrustedID   uint64      // valid only if TrustedPath
	Envelope    []byte      // bytes after the 27-byte header, still encrypted
	raw         []byte      // full packet bytes, retained for MAC/HMAC recomputation
}

// ParseHead parses the outer header of a whole packet. data must be at
// least HeaderSize bytes; the fragment-indicator byte must not be
// FragmentIndicator (callers route those to ParseFragment instead).
func ParseHead(data []byte) (*Head, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("wire: head too short: %d bytes", len(data))
	}
	if data[8] == FragmentIndicator {
		return nil, fmt.Errorf("wire: head has fragment-indicator destination byte")
	}
	destAddr := addr40(data[8:13])

	flagsByte := data[18]
	h := &Head{
		PacketID:    binary.BigEndian.Uint64(data[0:8]),
		Destination: destAddr,
		Source:      addr40(data[13:18]),
		TrustedPath: flagsByte&flagTrustedPath != 0,
		Fragmented:  flagsByte&flagFragmented != 0,
		Cipher:      cipher.Suite((flagsByte >> cipherShift) & cipherMask),
		Hops:        flagsByte & hopsMask,
		Envelope:    data[HeaderSize:],
		raw:         data,
	}
	v := binary.BigEndian.Uint64(data[19:27])
	if h.TrustedPath {
		h.TrustedID = v
	} else {
		h.MAC = v
	}
	return h, nil
}

// addr40 reads a big-endian 40-bit address from a 5-byte slice.
func addr40(b []byte) identity.Address {
	var v uint64
	for _, x := range b {
		v = (v << 8) | uint64(x)
	}
	return identity.Address(v)
}

func putAddr40(dst []byte, a identity.Address) {
	v := uint64(a)
	for i := 4; i >= 0; i-- {
		dst[i] = byte(v)
		v >>= 8
	}
}

// MACRegion returns the header bytes over which the MAC/HMAC is
// computed: the full packet with the hops bits zeroed out, per the
// invariant that relay hop-count increments never invalidate the MAC.
func (h *Head) MACRegion() []byte {
	region := append([]byte{}, h.raw...)
	region[18] &^= hopsMask
	return region
}

// HeaderFirst16 returns the first 16 bytes of the assembled packet,
// used as input to per-packet key derivation.
func (h *Head) HeaderFirst16() []byte {
	if len(h.raw) < 16 {
		return h.raw
	}
	return h.raw[:16]
}

// EncodeHead serializes a whole-packet header plus envelope.
func EncodeHead(h *Head) []byte {
	out := make([]byte, HeaderSize+len(h.Envelope))
	binary.BigEndian.PutUint64(out[0:8], h.PacketID)
	putAddr40(out[8:13], h.Destination)
	putAddr40(out[13:18], h.Source)

	var flagsByte byte
	if h.TrustedPath {
		flagsByte |= flagTrustedPath
	}
	if h.Fragmented {
		flagsByte |= flagFragmented
	}
	flagsByte |= (byte(h.Cipher) & cipherMask) << cipherShift
	flagsByte |= h.Hops & hopsMask
	out[18] = flagsByte

	if h.TrustedPath {
		binary.BigEndian.PutUint64(out[19:27], h.TrustedID)
	} else {
		binary.BigEndian.PutUint64(out[19:27], h.MAC)
	}
	copy(out[HeaderSize:], h.Envelope)
	return out
}

// SetHops rewrites the hops field in place (used by relay), leaving
// everything else, including the MAC, untouched. Incrementing hops
// never invalidates authentication: the Poly1305 suites MAC the
// envelope and key on the first 16 header bytes, which end before the
// flags byte, and the HELLO HMAC is computed with hops masked to zero.
func SetHops(packet []byte, hops uint8) {
	if len(packet) < HeaderSize {
		return
	}
	packet[18] = (packet[18] &^ hopsMask) | (hops & hopsMask)
}

// Fragment describes a parsed continuation-fragment datagram.
type Fragment struct {
	PacketID uint64
	Index    uint8
	Total    uint8
	Payload  []byte
}

// ParseFragment parses a continuation-fragment datagram (not a packet
// head). data must start with FragmentIndicator at offset 8, matching
// the layout ParseHead rejects.
func ParseFragment(data []byte) (*Fragment, error) {
	if len(data) < FragmentHeaderSize {
		return nil, fmt.Errorf("wire: fragment too short: %d bytes", len(data))
	}
	if data[8] != FragmentIndicator {
		return nil, fmt.Errorf("wire: not a fragment datagram")
	}
	return &Fragment{
		PacketID: binary.BigEndian.Uint64(data[0:8]),
		Index:    data[9],
		Total:    data[10],
		Payload:  data[FragmentHeaderSize:],
	}, nil
}

// EncodeFragment serializes a continuation fragment.
func EncodeFragment(f *Fragment) []byte {
	out := make([]byte, FragmentHeaderSize+len(f.Payload))
	binary.BigEndian.PutUint64(out[0:8], f.PacketID)
	out[8] = FragmentIndicator
	out[9] = f.Index
	out[10] = f.Total
	copy(out[FragmentHeaderSize:], f.Payload)
	return out
}

// IsFragment reports whether a raw datagram is a continuation fragment
// rather than a packet head, per the fragment-indicator byte rule.
func IsFragment(data []byte) bool {
	return len(data) > 8 && data[8] == FragmentIndicator
}
