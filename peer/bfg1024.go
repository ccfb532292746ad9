package peer

import (
	"encoding/binary"
	"math/rand/v2"
	"net/netip"

	"github.com/quillnet/vl1/identity"
	"github.com/quillnet/vl1/wire"
)

// bfg1024Candidates is the number of alternate ports generated when
// brute-forcing a symmetric NAT.
const bfg1024Candidates = 1024

// BFG1024 expands a single IPv4 endpoint into up to bfg1024Candidates
// alternate-port candidates, using a deterministic pseudo-random
// schedule seeded by the remote node's address and the base endpoint's
// IPv4 address and port, so repeated calls for the same peer and
// endpoint produce the same sequence. No local nonce is part of the
// seed. Ports are never repeated.
func BFG1024(remote identity.Address, base wire.Endpoint) []wire.Endpoint {
	ap, ok := base.AddrPort()
	if !ok || !ap.Addr().Is4() {
		return nil
	}

	seed1 := uint64(remote)
	seed2 := uint64(binary.BigEndian.Uint32(ap.Addr().AsSlice())) ^ uint64(ap.Port())<<32
	src := rand.NewPCG(seed1, seed2)
	rng := rand.New(src)

	seen := make(map[uint16]struct{}, bfg1024Candidates)
	out := make([]wire.Endpoint, 0, bfg1024Candidates)
	for len(out) < bfg1024Candidates && len(seen) < 65536 {
		port := uint16(rng.Uint32() | 1) // never port 0
		if _, dup := seen[port]; dup {
			continue
		}
		seen[port] = struct{}{}
		out = append(out, wire.EndpointFromAddrPort(netip.AddrPortFrom(ap.Addr(), port)))
	}
	return out
}
