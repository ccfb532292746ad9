package identity

import (
	"crypto/sha512"
	"encoding/hex"
	"fmt"
)

// Fingerprint pairs an Address with the SHA-384 of the identity's public
// key blob, giving stronger specificity than an address alone — two
// identities that happened to collide on a 40-bit address (extremely
// unlikely given the proof-of-work cost) are still distinguishable.
type Fingerprint struct {
	Address Address
	Hash    [48]byte
}

// FingerprintOf computes the Fingerprint of an Identity's current public
// key material.
func FingerprintOf(id *Identity) Fingerprint {
	return Fingerprint{
		Address: id.Address(),
		Hash:    sha512.Sum384(id.PublicKeyBlob()),
	}
}

// Matches reports whether fp corresponds to id.
func (fp Fingerprint) Matches(id *Identity) bool {
	return fp.Address == id.Address() && fp.Hash == sha512.Sum384(id.PublicKeyBlob())
}

func (fp Fingerprint) String() string {
	return fmt.Sprintf("%s-%s", fp.Address, hex.EncodeToString(fp.Hash[:8]))
}
