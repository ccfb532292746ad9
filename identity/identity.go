package identity

import (
	"crypto"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"fmt"

	"go.step.sm/crypto/x25519"
	"golang.org/x/crypto/curve25519"
)

// Kind distinguishes the two supported identity shapes.
type Kind uint8

const (
	// KindCurve25519 is a single Curve25519/Ed25519 pair (the x25519
	// package gives us a birational mapping between the two).
	KindCurve25519 Kind = 0
	// KindP384 additionally carries a NIST P-384 key pair, used when both
	// ends of an agreement support it for a post-quantum-adjacent hedge.
	KindP384 Kind = 1
)

// addressDifficulty bounds how many leading bits of the memory-hard
// derivation digest must be zero for a candidate keypair to be accepted.
// Higher values cost more CPU/memory time at generation, same as the
// "expected seconds on desktop hardware" requirement in the spec. It is
// a variable, not a constant, so tests can dial it down to keep
// proof-of-work search fast.
var addressDifficulty = 14

// SetAddressDifficultyForTesting overrides the proof-of-work difficulty
// and returns a restore function. Intended for other packages' tests
// that need to generate identities without paying full PoW cost.
func SetAddressDifficultyForTesting(bits int) (restore func()) {
	prev := addressDifficulty
	addressDifficulty = bits
	return func() { addressDifficulty = prev }
}

// Identity is a node's asymmetric key material plus its derived Address.
// The private part is optional; an Identity received over the wire or
// loaded from a locator never carries one.
type Identity struct {
	kind Kind
	addr Address

	x25519Pub [32]byte
	edPub     []byte // 32 bytes, birational Ed25519 form of x25519Pub

	p384Pub *ecdh.PublicKey // nil unless kind == KindP384

	x25519Priv *[32]byte
	p384Priv   *ecdh.PrivateKey // nil unless private material present and kind == KindP384
}

// Kind reports the identity's key-material shape.
func (id *Identity) Kind() Kind { return id.kind }

// Address returns the node address derived from this identity's public
// key material.
func (id *Identity) Address() Address { return id.addr }

// HasPrivate reports whether this Identity carries private key material.
func (id *Identity) HasPrivate() bool { return id.x25519Priv != nil }

// publicBlob is the canonical byte serialization hashed by the
// memory-hard derivation function, and the bytes signed/verified for
// identity equality purposes.
func (id *Identity) publicBlob() []byte {
	blob := make([]byte, 0, 1+32+65)
	blob = append(blob, byte(id.kind))
	blob = append(blob, id.x25519Pub[:]...)
	if id.kind == KindP384 {
		blob = append(blob, id.p384Pub.Bytes()...)
	}
	return blob
}

// Equal compares identities by public key content, not pointer, per the
// data-model invariant.
func (id *Identity) Equal(other *Identity) bool {
	if other == nil {
		return false
	}
	if id.kind != other.kind || id.addr != other.addr {
		return false
	}
	if id.x25519Pub != other.x25519Pub {
		return false
	}
	if id.kind == KindP384 {
		return id.p384Pub != nil && other.p384Pub != nil && id.p384Pub.Equal(other.p384Pub)
	}
	return true
}

// memoryHardDerive implements the "memory-hard work function" the spec
// requires for address derivation: a scratch buffer is filled by
// chained SHA-512 digests, then mixed with a pass of digest-addressed
// reads, making the derivation materially more expensive to parallelize
// in hardware than a single hash call.
func memoryHardDerive(publicBlob []byte) [64]byte {
	const scratchBlocks = 1024 // 64 KiB scratch
	scratch := make([][64]byte, scratchBlocks)

	h := sha512.Sum512(publicBlob)
	scratch[0] = h
	for i := 1; i < scratchBlocks; i++ {
		scratch[i] = sha512.Sum512(scratch[i-1][:])
	}

	acc := scratch[scratchBlocks-1]
	var mixed [128]byte
	for i := 0; i < scratchBlocks; i++ {
		idx := uint32(acc[0])<<24 | uint32(acc[1])<<16 | uint32(acc[2])<<8 | uint32(acc[3])
		src := scratch[int(idx)%scratchBlocks]
		copy(mixed[:64], acc[:])
		copy(mixed[64:], src[:])
		acc = sha512.Sum512(mixed[:])
	}
	return acc
}

// meetsDifficulty reports whether digest has at least `bits` leading
// zero bits, the acceptance predicate for address derivation.
func meetsDifficulty(digest [64]byte, bits int) bool {
	i := 0
	for bits >= 8 {
		if digest[i] != 0 {
			return false
		}
		i++
		bits -= 8
	}
	if bits == 0 {
		return true
	}
	mask := byte(0xFF << (8 - uint(bits)))
	return digest[i]&mask == 0
}

// Generate produces a new Identity of the given kind, iterating
// candidate key pairs until the memory-hard address derivation meets the
// acceptance predicate. Expected to take a small number of seconds on
// desktop hardware at the default difficulty.
func Generate(kind Kind) (*Identity, error) {
	for {
		var xPriv [32]byte
		if _, err := rand.Read(xPriv[:]); err != nil {
			return nil, err
		}
		xPriv[0] &= 248
		xPriv[31] &= 127
		xPriv[31] |= 64

		var xPub [32]byte
		curve25519.ScalarBaseMult(&xPub, &xPriv)

		id := &Identity{
			kind:       kind,
			x25519Pub:  xPub,
			x25519Priv: &xPriv,
		}

		if kind == KindP384 {
			priv, err := ecdh.P384().GenerateKey(rand.Reader)
			if err != nil {
				return nil, err
			}
			id.p384Priv = priv
			id.p384Pub = priv.PublicKey()
		}

		digest := memoryHardDerive(id.publicBlob())
		if !meetsDifficulty(digest, addressDifficulty) {
			continue
		}
		addr := addressFromDigest(digest[:])
		if addr.IsReserved() {
			continue
		}
		id.addr = addr

		edPub, err := x25519.PublicKey(xPub[:]).ToEd25519()
		if err != nil {
			return nil, err
		}
		id.edPub = edPub
		return id, nil
	}
}

// UnmarshalPublicBlob reconstructs a public-only Identity (no private
// key material) from the canonical blob produced by publicBlob, the
// shape carried over the wire in a HELLO or WHOIS reply. The address
// is derived fresh from the key material and the derivation is
// required to meet addressDifficulty, so a forged blob that skipped
// the proof-of-work search is rejected here rather than later at
// LocallyValidate.
func UnmarshalPublicBlob(blob []byte) (*Identity, error) {
	if len(blob) < 1+32 {
		return nil, errors.New("identity: public blob too short")
	}
	kind := Kind(blob[0])
	if kind != KindCurve25519 && kind != KindP384 {
		return nil, fmt.Errorf("identity: unknown kind %d", kind)
	}

	id := &Identity{kind: kind}
	copy(id.x25519Pub[:], blob[1:33])

	if kind == KindP384 {
		pub, err := ecdh.P384().NewPublicKey(blob[33:])
		if err != nil {
			return nil, fmt.Errorf("identity: invalid p384 public key: %w", err)
		}
		id.p384Pub = pub
	}

	digest := memoryHardDerive(id.publicBlob())
	if !meetsDifficulty(digest, addressDifficulty) {
		return nil, errors.New("identity: public key fails proof-of-work difficulty")
	}
	addr := addressFromDigest(digest[:])
	if addr.IsReserved() {
		return nil, errors.New("identity: derived address is reserved")
	}
	id.addr = addr

	edPub, err := x25519.PublicKey(id.x25519Pub[:]).ToEd25519()
	if err != nil {
		return nil, err
	}
	id.edPub = edPub
	return id, nil
}

// LocallyValidate recomputes the address acceptance predicate, rejecting
// an Identity whose stated address does not match its public key, or
// whose public key never met the proof-of-work difficulty.
func (id *Identity) LocallyValidate() bool {
	digest := memoryHardDerive(id.publicBlob())
	if !meetsDifficulty(digest, addressDifficulty) {
		return false
	}
	return addressFromDigest(digest[:]) == id.addr
}

// Agree performs the hybrid Diffie-Hellman key agreement: Curve25519
// scalar multiplication, concatenated with P-384 ECDH when both sides
// carry P-384 keys, hashed with SHA-384 into a 48-byte shared secret.
// The result is deterministic: the same pair of identities always
// yields the same secret regardless of call order.
func (id *Identity) Agree(peer *Identity) ([48]byte, error) {
	var out [48]byte
	if id.x25519Priv == nil {
		return out, errors.New("identity: agree requires private key material")
	}

	shared, err := curve25519.X25519(id.x25519Priv[:], peer.x25519Pub[:])
	if err != nil {
		return out, fmt.Errorf("identity: x25519 agreement failed: %w", err)
	}

	material := shared
	if id.kind == KindP384 && peer.kind == KindP384 && id.p384Priv != nil && peer.p384Pub != nil {
		p384Shared, err := id.p384Priv.ECDH(peer.p384Pub)
		if err != nil {
			return out, fmt.Errorf("identity: p384 agreement failed: %w", err)
		}
		// Canonicalize ordering by address so both sides concatenate in
		// the same order regardless of who initiated the agreement.
		if id.addr < peer.addr {
			material = append(append([]byte{}, shared...), p384Shared...)
		} else {
			material = append(append([]byte{}, p384Shared...), shared...)
		}
	}

	sum := sha512.Sum384(material)
	copy(out[:], sum[:])
	return out, nil
}

// Sign produces an Ed25519 signature (via the X25519-to-Ed25519
// birational mapping) over data.
func (id *Identity) Sign(data []byte) ([]byte, error) {
	if id.x25519Priv == nil {
		return nil, errors.New("identity: sign requires private key material")
	}
	priv := x25519.PrivateKey(id.x25519Priv[:])
	return priv.Sign(rand.Reader, data, crypto.Hash(0))
}

// Verify checks an Ed25519 signature produced by Sign.
func (id *Identity) Verify(data, sig []byte) bool {
	return x25519.Verify(id.x25519Pub[:], data, sig)
}

// PublicKeyBlob exposes the canonical public-key bytes, e.g. for
// Fingerprint computation.
func (id *Identity) PublicKeyBlob() []byte {
	return id.publicBlob()
}

// MarshalText renders the identity's public key material as base64,
// matching the house style used for other key types.
func (id *Identity) MarshalText() ([]byte, error) {
	blob := id.publicBlob()
	return []byte(base64.StdEncoding.EncodeToString(blob)), nil
}

// ParseText reconstructs a public-only Identity from the base64 form
// MarshalText produces, for config files and CLI arguments that name a
// peer or root by its public key.
func ParseText(text string) (*Identity, error) {
	blob, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, fmt.Errorf("identity: invalid encoding: %w", err)
	}
	return UnmarshalPublicBlob(blob)
}

// secretBlob serializes the full key pair (public and private
// material) for on-disk persistence: kind, x25519 public, x25519
// private, then, for KindP384, the P-384 public and private points.
func (id *Identity) secretBlob() ([]byte, error) {
	if !id.HasPrivate() {
		return nil, errors.New("identity: no private key material to marshal")
	}
	out := append([]byte{byte(id.kind)}, id.x25519Pub[:]...)
	out = append(out, id.x25519Priv[:]...)
	if id.kind == KindP384 {
		out = append(out, id.p384Pub.Bytes()...)
		out = append(out, id.p384Priv.Bytes()...)
	}
	return out, nil
}

// MarshalSecret renders the full identity, including private key
// material, as base64 for the node's identity config
// (config.NodeConfig.Secret). Never
// transmitted over the wire — only MarshalText's public form is.
func (id *Identity) MarshalSecret() (string, error) {
	blob, err := id.secretBlob()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(blob), nil
}

// UnmarshalSecret reconstructs a full Identity (with private key
// material) from the base64 form MarshalSecret produces, re-deriving
// and re-validating the address exactly as Generate would have.
func UnmarshalSecret(text string) (*Identity, error) {
	blob, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, fmt.Errorf("identity: invalid secret encoding: %w", err)
	}
	if len(blob) < 1+32+32 {
		return nil, errors.New("identity: secret blob too short")
	}
	kind := Kind(blob[0])
	if kind != KindCurve25519 && kind != KindP384 {
		return nil, fmt.Errorf("identity: unknown kind %d", kind)
	}

	id := &Identity{kind: kind}
	copy(id.x25519Pub[:], blob[1:33])
	var xPriv [32]byte
	copy(xPriv[:], blob[33:65])
	id.x25519Priv = &xPriv

	off := 65
	if kind == KindP384 {
		const p384PubLen, p384PrivLen = 97, 48
		if len(blob) < off+p384PubLen+p384PrivLen {
			return nil, errors.New("identity: secret blob too short for p384")
		}
		pub, err := ecdh.P384().NewPublicKey(blob[off : off+p384PubLen])
		if err != nil {
			return nil, fmt.Errorf("identity: invalid p384 public key: %w", err)
		}
		priv, err := ecdh.P384().NewPrivateKey(blob[off+p384PubLen : off+p384PubLen+p384PrivLen])
		if err != nil {
			return nil, fmt.Errorf("identity: invalid p384 private key: %w", err)
		}
		id.p384Pub = pub
		id.p384Priv = priv
	}

	digest := memoryHardDerive(id.publicBlob())
	if !meetsDifficulty(digest, addressDifficulty) {
		return nil, errors.New("identity: key material fails proof-of-work difficulty")
	}
	addr := addressFromDigest(digest[:])
	if addr.IsReserved() {
		return nil, errors.New("identity: derived address is reserved")
	}
	id.addr = addr

	edPub, err := x25519.PublicKey(id.x25519Pub[:]).ToEd25519()
	if err != nil {
		return nil, err
	}
	id.edPub = edPub
	return id, nil
}
