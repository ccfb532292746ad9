package peer

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/quillnet/vl1/identity"
)

// ProbeToken anonymizes a probe correlation token against an
// identity's public key (the dispatcher passes the prober's own
// identity), so the bare token never appears on the wire. The hash is
// deterministic: the same token and identity always give the same
// 32 bytes.
// Grounded on the teacher's generateAnonHash probe-correlation scheme.
func ProbeToken(token uint64, responder *identity.Identity) [32]byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], token)
	h := sha256.New()
	h.Write(responder.PublicKeyBlob())
	h.Write(buf[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// VerifyProbeToken reports whether hash is the anonymized form of
// token for responder.
func VerifyProbeToken(hash [32]byte, token uint64, responder *identity.Identity) bool {
	return ProbeToken(token, responder) == hash
}
