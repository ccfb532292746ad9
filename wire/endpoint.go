// Package wire implements the VL1 on-wire structures: endpoints,
// locators, the outer packet header, verb identifiers, and the
// encrypted HELLO metadata dictionary.
package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/quillnet/vl1/identity"
)

// EndpointKind tags the variant carried by an Endpoint.
type EndpointKind uint8

const (
	// EndpointNil is the empty/unset endpoint.
	EndpointNil EndpointKind = iota
	// EndpointIPv4 is an IPv4 address + UDP port.
	EndpointIPv4
	// EndpointIPv6 is an IPv6 address + UDP port.
	EndpointIPv6
	// EndpointNodeRelay reaches a destination by relaying through
	// another VL1 node, addressed by that node's Address plus an
	// identity fingerprint hash for collision resistance.
	EndpointNodeRelay
	// EndpointMAC is a raw Ethernet MAC address (for endpoints reachable
	// directly on a local L2 segment).
	EndpointMAC
	// endpointKindReserved marks the start of space reserved for future
	// endpoint types; unrecognized kinds in this range decode to an
	// opaque blob instead of failing, so newer locators remain parseable
	// by older code.
	endpointKindReserved EndpointKind = 64
)

// Endpoint is a tagged-union "reachable somewhere" descriptor.
type Endpoint struct {
	Kind EndpointKind

	// EndpointIPv4 / EndpointIPv6
	IP   netip.Addr
	Port uint16

	// EndpointNodeRelay
	RelayAddress     identity.Address
	RelayFingerprint [48]byte

	// EndpointMAC
	MAC [6]byte

	// opaque payload for kinds >= endpointKindReserved
	unknownKind    EndpointKind
	unknownPayload []byte
}

// IsNil reports whether e is the empty endpoint.
func (e Endpoint) IsNil() bool { return e.Kind == EndpointNil }

// EndpointFromAddrPort builds an IPv4 or IPv6 endpoint from a netip.AddrPort.
func EndpointFromAddrPort(ap netip.AddrPort) Endpoint {
	if ap.Addr().Is4() || ap.Addr().Is4In6() {
		return Endpoint{Kind: EndpointIPv4, IP: ap.Addr().Unmap(), Port: ap.Port()}
	}
	return Endpoint{Kind: EndpointIPv6, IP: ap.Addr(), Port: ap.Port()}
}

// AddrPort extracts a netip.AddrPort from an IPv4/IPv6 endpoint. Only
// valid for those two kinds.
func (e Endpoint) AddrPort() (netip.AddrPort, bool) {
	if e.Kind != EndpointIPv4 && e.Kind != EndpointIPv6 {
		return netip.AddrPort{}, false
	}
	return netip.AddrPortFrom(e.IP, e.Port), true
}

// MarshalBinary encodes the endpoint as [kind:1][variant bytes...].
func (e Endpoint) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	switch e.Kind {
	case EndpointNil:
		buf.WriteByte(byte(EndpointNil))
	case EndpointIPv4:
		buf.WriteByte(byte(EndpointIPv4))
		a4 := e.IP.As4()
		buf.Write(a4[:])
		var p [2]byte
		binary.BigEndian.PutUint16(p[:], e.Port)
		buf.Write(p[:])
	case EndpointIPv6:
		buf.WriteByte(byte(EndpointIPv6))
		a16 := e.IP.As16()
		buf.Write(a16[:])
		var p [2]byte
		binary.BigEndian.PutUint16(p[:], e.Port)
		buf.Write(p[:])
	case EndpointNodeRelay:
		buf.WriteByte(byte(EndpointNodeRelay))
		var addrBuf [5]byte
		v := uint64(e.RelayAddress)
		for i := 4; i >= 0; i-- {
			addrBuf[i] = byte(v)
			v >>= 8
		}
		buf.Write(addrBuf[:])
		buf.Write(e.RelayFingerprint[:])
	case EndpointMAC:
		buf.WriteByte(byte(EndpointMAC))
		buf.Write(e.MAC[:])
	default:
		buf.WriteByte(byte(e.Kind))
		buf.Write(e.unknownPayload)
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes an endpoint produced by MarshalBinary.
func (e *Endpoint) UnmarshalBinary(data []byte) error {
	if len(data) < 1 {
		return fmt.Errorf("wire: empty endpoint")
	}
	kind := EndpointKind(data[0])
	body := data[1:]
	switch kind {
	case EndpointNil:
		*e = Endpoint{Kind: EndpointNil}
	case EndpointIPv4:
		if len(body) < 6 {
			return fmt.Errorf("wire: short ipv4 endpoint")
		}
		ip := netip.AddrFrom4([4]byte(body[:4]))
		*e = Endpoint{Kind: EndpointIPv4, IP: ip, Port: binary.BigEndian.Uint16(body[4:6])}
	case EndpointIPv6:
		if len(body) < 18 {
			return fmt.Errorf("wire: short ipv6 endpoint")
		}
		ip := netip.AddrFrom16([16]byte(body[:16]))
		*e = Endpoint{Kind: EndpointIPv6, IP: ip, Port: binary.BigEndian.Uint16(body[16:18])}
	case EndpointNodeRelay:
		if len(body) < 5+48 {
			return fmt.Errorf("wire: short node-relay endpoint")
		}
		var v uint64
		for _, b := range body[:5] {
			v = (v << 8) | uint64(b)
		}
		var fp [48]byte
		copy(fp[:], body[5:53])
		*e = Endpoint{Kind: EndpointNodeRelay, RelayAddress: identity.Address(v), RelayFingerprint: fp}
	case EndpointMAC:
		if len(body) < 6 {
			return fmt.Errorf("wire: short mac endpoint")
		}
		var mac [6]byte
		copy(mac[:], body[:6])
		*e = Endpoint{Kind: EndpointMAC, MAC: mac}
	default:
		*e = Endpoint{Kind: kind, unknownKind: kind, unknownPayload: append([]byte{}, body...)}
	}
	return nil
}

// compareEndpoints gives a deterministic total order over endpoints,
// used to sort a Locator's endpoint list before signing.
func compareEndpoints(a, b Endpoint) int {
	ab, _ := a.MarshalBinary()
	bb, _ := b.MarshalBinary()
	return bytes.Compare(ab, bb)
}
