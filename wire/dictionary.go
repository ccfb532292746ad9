package wire

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"fmt"
)

// Recognized HELLO metadata dictionary keys.
const (
	DictKeyPhysicalDestination = "pd"
	DictKeyPackedVersion       = "pv"
	DictKeyProbeToken          = "pt"
)

// Dictionary is a small ordered string -> []byte map, used for the
// HELLO metadata section. Encoding is deterministic (keys in insertion
// order) so that signing/encrypting the encoded bytes is reproducible.
type Dictionary struct {
	keys   []string
	values map[string][]byte
}

// NewDictionary returns an empty Dictionary.
func NewDictionary() *Dictionary {
	return &Dictionary{values: make(map[string][]byte)}
}

// Set stores a key/value pair, preserving first-insertion order.
func (d *Dictionary) Set(key string, value []byte) {
	if _, ok := d.values[key]; !ok {
		d.keys = append(d.keys, key)
	}
	d.values[key] = value
}

// Get retrieves a value by key.
func (d *Dictionary) Get(key string) ([]byte, bool) {
	v, ok := d.values[key]
	return v, ok
}

// Encode serializes the dictionary as a sequence of
// [keylen:1][key][vallen:2][val] entries.
func (d *Dictionary) Encode() []byte {
	out := make([]byte, 0, 64)
	for _, k := range d.keys {
		v := d.values[k]
		out = append(out, byte(len(k)))
		out = append(out, k...)
		var vl [2]byte
		binary.BigEndian.PutUint16(vl[:], uint16(len(v)))
		out = append(out, vl[:]...)
		out = append(out, v...)
	}
	return out
}

// DecodeDictionary parses bytes produced by Encode.
func DecodeDictionary(data []byte) (*Dictionary, error) {
	d := NewDictionary()
	for len(data) > 0 {
		if len(data) < 1 {
			return nil, fmt.Errorf("wire: truncated dictionary key length")
		}
		kl := int(data[0])
		data = data[1:]
		if len(data) < kl+2 {
			return nil, fmt.Errorf("wire: truncated dictionary entry")
		}
		key := string(data[:kl])
		data = data[kl:]
		vl := int(binary.BigEndian.Uint16(data[:2]))
		data = data[2:]
		if len(data) < vl {
			return nil, fmt.Errorf("wire: truncated dictionary value")
		}
		d.Set(key, append([]byte{}, data[:vl]...))
		data = data[vl:]
	}
	return d, nil
}

// EncryptDictionary encrypts an encoded dictionary with AES-CTR keyed by
// the agreed identity key (first 32 bytes of the 48-byte secret) and a
// 12-byte nonce drawn from the packet header, per the HELLO v>=11
// metadata section's encryption scheme.
func EncryptDictionary(identityKey [48]byte, nonce12 []byte, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(identityKey[:32])
	if err != nil {
		return nil, err
	}
	var iv [16]byte
	copy(iv[:12], nonce12)
	stream := cipher.NewCTR(block, iv[:])
	out := make([]byte, len(plaintext))
	stream.XORKeyStream(out, plaintext)
	return out, nil
}

// DecryptDictionary is the inverse of EncryptDictionary (AES-CTR is
// symmetric).
func DecryptDictionary(identityKey [48]byte, nonce12 []byte, ciphertext []byte) ([]byte, error) {
	return EncryptDictionary(identityKey, nonce12, ciphertext)
}

// NonceFromPacketID derives the metadata dictionary's AES-CTR nonce
// from the packet ID already carried in the 27-byte outer header, so a
// receiver can recompute the exact same nonce from nothing but the
// packet it already parsed instead of needing it transmitted
// separately.
func NonceFromPacketID(packetID uint64) [12]byte {
	var nonce [12]byte
	binary.BigEndian.PutUint64(nonce[:8], packetID)
	return nonce
}
