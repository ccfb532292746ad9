// Package cipher implements the VL1 symmetric cipher suite: per-packet
// key derivation, Salsa20/12+Poly1305 (the default data-path AEAD),
// HMAC-SHA384 (used by HELLO at protocol >= 11), and AES-GMAC-SIV.
package cipher

import (
	"crypto/hmac"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/binary"
	"errors"

	"golang.org/x/crypto/poly1305"
)

// Suite is the cipher selector carried in bits 5-3 of the outer packet
// header's flags byte.
type Suite uint8

const (
	// None carries no encryption and no outer-header MAC. It is accepted
	// for protocol >= 11 HELLOs, which carry an appended HMAC-SHA384 tag,
	// and for trusted-path packets the host's PathCheck admits.
	None Suite = 0
	// Poly1305None is cleartext payload with a Poly1305 MAC, used for
	// HELLO at protocol < 11.
	Poly1305None Suite = 1
	// Poly1305Salsa2012 is the default VL1 data path: Salsa20/12
	// encrypted payload, Poly1305 MAC over the ciphertext.
	Poly1305Salsa2012 Suite = 2
	// AesGmacSiv is used for both confidentiality and authentication
	// when both endpoints advertise support for it.
	AesGmacSiv Suite = 3
)

func (s Suite) String() string {
	switch s {
	case None:
		return "none"
	case Poly1305None:
		return "poly1305-none"
	case Poly1305Salsa2012:
		return "poly1305-salsa2012"
	case AesGmacSiv:
		return "aes-gmac-siv"
	default:
		return "unknown"
	}
}

// ErrMACMismatch is returned when an authentication tag fails to verify.
var ErrMACMismatch = errors.New("cipher: mac mismatch")

// PerPacketKey derives the 32-byte per-packet Salsa20 key used by the
// Poly1305None and Poly1305Salsa2012 suites: the peer's raw identity
// agreement key combined with the first 16 bytes of the assembled
// packet (the header region).
func PerPacketKey(identityKey [48]byte, headerFirst16 []byte) [32]byte {
	var out [32]byte
	mixed := sha512.Sum384(append(append([]byte{}, identityKey[:]...), headerFirst16...))
	copy(out[:], mixed[:32])
	return out
}

// poly1305Key encrypts a 256-bit zero block under perPacketKey with the
// packet ID as the Salsa nonce; the first 32 bytes of keystream become
// the Poly1305 one-time key.
func poly1305Key(perPacketKey [32]byte, packetID uint64) [32]byte {
	var nonce [8]byte
	binary.LittleEndian.PutUint64(nonce[:], packetID)

	var zero [32]byte
	var keystream [32]byte
	salsa2012XOR(keystream[:], zero[:], &nonce, &perPacketKey)
	return keystream
}

// SealSalsaPoly1305 encrypts plaintext into a new slice (plaintext
// itself is left unmodified) with Salsa20/12 under the per-packet key/packet-ID nonce, then
// computes a Poly1305 MAC over the resulting ciphertext. It returns the
// ciphertext and the low 64 bits of the Poly1305 tag.
func SealSalsaPoly1305(perPacketKey [32]byte, packetID uint64, plaintext []byte) (ciphertext []byte, mac uint64) {
	var nonce [8]byte
	binary.LittleEndian.PutUint64(nonce[:], packetID)

	ciphertext = make([]byte, len(plaintext))
	salsa2012XOR(ciphertext, plaintext, &nonce, &perPacketKey)

	macKey := poly1305Key(perPacketKey, packetID)
	var tag [16]byte
	poly1305.Sum(&tag, ciphertext, &macKey)
	mac = binary.BigEndian.Uint64(tag[:8])
	return ciphertext, mac
}

// OpenSalsaPoly1305 verifies the Poly1305 MAC over ciphertext in
// constant time, then decrypts it with Salsa20/12.
func OpenSalsaPoly1305(perPacketKey [32]byte, packetID uint64, ciphertext []byte, mac uint64) ([]byte, error) {
	macKey := poly1305Key(perPacketKey, packetID)
	var tag [16]byte
	poly1305.Sum(&tag, ciphertext, &macKey)
	var wantMAC [8]byte
	binary.BigEndian.PutUint64(wantMAC[:], mac)
	if subtle.ConstantTimeCompare(tag[:8], wantMAC[:]) != 1 {
		return nil, ErrMACMismatch
	}

	var nonce [8]byte
	binary.LittleEndian.PutUint64(nonce[:], packetID)
	plaintext := make([]byte, len(ciphertext))
	salsa2012XOR(plaintext, ciphertext, &nonce, &perPacketKey)
	return plaintext, nil
}

// MACPoly1305None computes the Poly1305 MAC for the Poly1305None suite,
// where the payload stays plaintext and only the MAC is computed (keyed
// the same way as the encrypted suite, for uniformity of key
// derivation).
func MACPoly1305None(perPacketKey [32]byte, packetID uint64, payload []byte) uint64 {
	macKey := poly1305Key(perPacketKey, packetID)
	var tag [16]byte
	poly1305.Sum(&tag, payload, &macKey)
	return binary.BigEndian.Uint64(tag[:8])
}

// VerifyPoly1305None checks the Poly1305None MAC in constant time.
func VerifyPoly1305None(perPacketKey [32]byte, packetID uint64, payload []byte, mac uint64) bool {
	want := MACPoly1305None(perPacketKey, packetID, payload)
	var a, b [8]byte
	binary.BigEndian.PutUint64(a[:], want)
	binary.BigEndian.PutUint64(b[:], mac)
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}

// HMACSHA384 computes the HMAC-SHA384 of data under the agreed identity
// key, used to authenticate HELLO at protocol >= 11.
func HMACSHA384(identityKey [48]byte, data []byte) [48]byte {
	mac := hmac.New(sha512.New384, identityKey[:])
	mac.Write(data)
	var out [48]byte
	copy(out[:], mac.Sum(nil))
	return out
}

// VerifyHMACSHA384 checks an HMAC-SHA384 tag in constant time.
func VerifyHMACSHA384(identityKey [48]byte, data []byte, tag [48]byte) bool {
	got := HMACSHA384(identityKey, data)
	return hmac.Equal(got[:], tag[:])
}
