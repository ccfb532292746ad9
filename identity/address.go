// Package identity implements VL1 node identities: generation with
// proof-of-work address derivation, local validation, and the hybrid
// Diffie-Hellman key agreement used to establish each peer pair's
// permanent symmetric key.
package identity

import (
	"encoding/base32"
	"fmt"
)

// Address is a 40-bit node identifier derived from an Identity's public
// key material. Only the low 40 bits are meaningful; the rest must be
// zero.
type Address uint64

const (
	// AddressBits is the width of a valid address.
	AddressBits = 40
	addressMask = (uint64(1) << AddressBits) - 1

	// Reserved is the address value that can never be assigned to a real
	// identity (used as a sentinel for "no address"/"local node").
	Reserved Address = 0
)

// IsReserved reports whether a is zero, the sentinel meaning "no peer".
func (a Address) IsReserved() bool {
	return a == Reserved
}

func (a Address) String() string {
	return fmt.Sprintf("%010x", uint64(a)&addressMask)
}

// MarshalText renders the address as base32 for use in config files and
// CLI output, matching the house style of key material serialization.
func (a Address) MarshalText() ([]byte, error) {
	var buf [5]byte
	v := uint64(a) & addressMask
	for i := 4; i >= 0; i-- {
		buf[i] = byte(v)
		v >>= 8
	}
	return []byte(base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf[:])), nil
}

// UnmarshalText parses the base32 form produced by MarshalText.
func (a *Address) UnmarshalText(text []byte) error {
	buf, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("invalid address: %w", err)
	}
	if len(buf) != 5 {
		return fmt.Errorf("invalid address: expected 5 bytes, got %d", len(buf))
	}
	var v uint64
	for _, b := range buf {
		v = (v << 8) | uint64(b)
	}
	*a = Address(v)
	return nil
}

// addressFromDigest takes the low 40 bits of a derivation digest.
func addressFromDigest(digest []byte) Address {
	var v uint64
	for _, b := range digest[len(digest)-5:] {
		v = (v << 8) | uint64(b)
	}
	return Address(v & addressMask)
}
