package wire

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"slices"

	"github.com/quillnet/vl1/identity"
)

// Locator is a signed, timestamped declaration of where a node may be
// reached.
type Locator struct {
	Timestamp int64
	Signer    identity.Fingerprint
	Endpoints []Endpoint
	Signature []byte
}

// Empty reports whether the locator has a non-positive timestamp, the
// "empty locator" sentinel.
func (l *Locator) Empty() bool {
	return l.Timestamp <= 0
}

// signedBytes is the canonical serialization that gets signed: it does
// not include the signature field, and the endpoint list is sorted
// deterministically first so two constructions of "the same" locator
// always serialize identically.
func (l *Locator) signedBytes() []byte {
	sorted := slices.Clone(l.Endpoints)
	slices.SortFunc(sorted, compareEndpoints)

	var buf bytes.Buffer
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(l.Timestamp))
	buf.Write(ts[:])

	var addrBuf [5]byte
	v := uint64(l.Signer.Address)
	for i := 4; i >= 0; i-- {
		addrBuf[i] = byte(v)
		v >>= 8
	}
	buf.Write(addrBuf[:])
	buf.Write(l.Signer.Hash[:])

	var count [2]byte
	binary.BigEndian.PutUint16(count[:], uint16(len(sorted)))
	buf.Write(count[:])
	for _, ep := range sorted {
		epBytes, _ := ep.MarshalBinary()
		var epLen [2]byte
		binary.BigEndian.PutUint16(epLen[:], uint16(len(epBytes)))
		buf.Write(epLen[:])
		buf.Write(epBytes)
	}
	return buf.Bytes()
}

// Sign finalizes the locator: it sorts Endpoints deterministically and
// signs the result with id, which must be the identity named by l.Signer.
func (l *Locator) Sign(id *identity.Identity) error {
	if identity.FingerprintOf(id) != l.Signer {
		return fmt.Errorf("wire: locator signer fingerprint does not match signing identity")
	}
	slices.SortFunc(l.Endpoints, compareEndpoints)
	sig, err := id.Sign(l.signedBytes())
	if err != nil {
		return err
	}
	l.Signature = sig
	return nil
}

// Verify recomputes the serialization and checks the signature against
// id, which must be the identity the locator claims as signer.
func (l *Locator) Verify(id *identity.Identity) bool {
	if identity.FingerprintOf(id) != l.Signer {
		return false
	}
	if len(l.Signature) == 0 {
		return false
	}
	return id.Verify(l.signedBytes(), l.Signature)
}

// MarshalBinary serializes the whole locator, signature included,
// for on-disk/config-file storage — signedBytes covers only the part
// that gets signed.
func (l *Locator) MarshalBinary() ([]byte, error) {
	buf := bytes.NewBuffer(l.signedBytes())
	var sigLen [2]byte
	binary.BigEndian.PutUint16(sigLen[:], uint16(len(l.Signature)))
	buf.Write(sigLen[:])
	buf.Write(l.Signature)
	return buf.Bytes(), nil
}

// UnmarshalBinary parses the form MarshalBinary produces.
func (l *Locator) UnmarshalBinary(data []byte) error {
	if len(data) < 8+5+48+2 {
		return fmt.Errorf("wire: locator too short")
	}
	off := 0
	l.Timestamp = int64(binary.BigEndian.Uint64(data[off : off+8]))
	off += 8

	var addr identity.Address
	for i := 0; i < 5; i++ {
		addr = addr<<8 | identity.Address(data[off+i])
	}
	off += 5
	l.Signer.Address = addr
	copy(l.Signer.Hash[:], data[off:off+48])
	off += 48

	if len(data) < off+2 {
		return fmt.Errorf("wire: locator truncated endpoint count")
	}
	count := int(binary.BigEndian.Uint16(data[off : off+2]))
	off += 2

	endpoints := make([]Endpoint, 0, count)
	for i := 0; i < count; i++ {
		if len(data) < off+2 {
			return fmt.Errorf("wire: locator truncated endpoint length")
		}
		epLen := int(binary.BigEndian.Uint16(data[off : off+2]))
		off += 2
		if len(data) < off+epLen {
			return fmt.Errorf("wire: locator truncated endpoint body")
		}
		var ep Endpoint
		if err := ep.UnmarshalBinary(data[off : off+epLen]); err != nil {
			return err
		}
		endpoints = append(endpoints, ep)
		off += epLen
	}
	l.Endpoints = endpoints

	if len(data) < off+2 {
		return fmt.Errorf("wire: locator truncated signature length")
	}
	sigLen := int(binary.BigEndian.Uint16(data[off : off+2]))
	off += 2
	if len(data) < off+sigLen {
		return fmt.Errorf("wire: locator truncated signature")
	}
	l.Signature = append([]byte(nil), data[off:off+sigLen]...)
	return nil
}

// MarshalText renders the locator as base64, matching the house style
// used for identity and other key-adjacent material.
func (l *Locator) MarshalText() ([]byte, error) {
	blob, err := l.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return []byte(base64.StdEncoding.EncodeToString(blob)), nil
}

// UnmarshalText parses the base64 form MarshalText produces.
func (l *Locator) UnmarshalText(text []byte) error {
	blob, err := base64.StdEncoding.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("wire: invalid locator encoding: %w", err)
	}
	return l.UnmarshalBinary(blob)
}
