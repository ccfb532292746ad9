package dispatch

import (
	"net/netip"

	"github.com/quillnet/vl1/cipher"
	"github.com/quillnet/vl1/peer"
	"github.com/quillnet/vl1/wire"
)

// decryptAndAuthenticate verifies and, where applicable, decrypts a
// whole packet's envelope under the suite its header names, returning
// the inner plaintext (flags+verb byte followed by the verb payload).
// A TrustedPath packet skips cipher authentication entirely, so it is
// only accepted when the host's PathCheck allow-list names this exact
// (peer, socket, remote) triple as an administrator-configured trusted
// path — otherwise a bare unauthenticated packet on any wire would be
// enough to forge traffic from any address.
func (d *Dispatcher) decryptAndAuthenticate(srcPeer *peer.Peer, head *wire.Head, localSocket int64, remote netip.AddrPort) (plaintext []byte, ok bool) {
	switch head.Cipher {
	case cipher.None:
		if !head.TrustedPath || len(head.Envelope) == 0 {
			return nil, false
		}
		if !d.cb.PathCheck(srcPeer.Address(), srcPeer.Identity(), localSocket, wire.EndpointFromAddrPort(remote)) {
			return nil, false
		}
		return head.Envelope, true

	case cipher.Poly1305None:
		perPacketKey := cipher.PerPacketKey(srcPeer.PermanentKey(), head.HeaderFirst16())
		if !cipher.VerifyPoly1305None(perPacketKey, head.PacketID, head.Envelope, head.MAC) || len(head.Envelope) == 0 {
			return nil, false
		}
		return head.Envelope, true

	case cipher.Poly1305Salsa2012:
		perPacketKey := cipher.PerPacketKey(srcPeer.PermanentKey(), head.HeaderFirst16())
		out, err := cipher.OpenSalsaPoly1305(perPacketKey, head.PacketID, head.Envelope, head.MAC)
		if err != nil || len(out) == 0 {
			return nil, false
		}
		return out, true

	case cipher.AesGmacSiv:
		state, err := cipher.NewAesGmacSiv(aesGmacSivKey(srcPeer.PermanentKey()))
		if err != nil {
			return nil, false
		}
		out, err := state.Open(head.PacketID, head.Envelope)
		if err != nil || len(out) == 0 {
			return nil, false
		}
		return out, true

	default:
		return nil, false
	}
}
