package cipher

import "encoding/binary"

// salsa2012XOR implements the Salsa20/12 stream cipher (12 rounds
// instead of the usual 20) over src, writing the result to dst, using
// an 8-byte nonce and 32-byte key. No published Go package exposes a
// reduced-round Salsa20 variant (golang.org/x/crypto/salsa20 only
// offers the standard 20-round cipher), so the round-reduced core is
// implemented directly from the public-domain Salsa20 specification
// with the round count parameterized down to 12.
func salsa2012XOR(dst, src []byte, nonce *[8]byte, key *[32]byte) {
	var counter uint64
	var block [64]byte
	blockOff := 64

	for i := range src {
		if blockOff == 64 {
			salsaBlock(&block, counter, nonce, key)
			counter++
			blockOff = 0
		}
		dst[i] = src[i] ^ block[blockOff]
		blockOff++
	}
}

const (
	sigma0 = 0x61707865
	sigma1 = 0x3320646e
	sigma2 = 0x79622d32
	sigma3 = 0x6b206574
)

func salsaBlock(out *[64]byte, counter uint64, nonce *[8]byte, key *[32]byte) {
	var x [16]uint32
	x[0] = sigma0
	x[1] = binary.LittleEndian.Uint32(key[0:4])
	x[2] = binary.LittleEndian.Uint32(key[4:8])
	x[3] = binary.LittleEndian.Uint32(key[8:12])
	x[4] = binary.LittleEndian.Uint32(key[12:16])
	x[5] = sigma1
	x[6] = binary.LittleEndian.Uint32(nonce[0:4])
	x[7] = binary.LittleEndian.Uint32(nonce[4:8])
	x[8] = uint32(counter)
	x[9] = uint32(counter >> 32)
	x[10] = sigma2
	x[11] = binary.LittleEndian.Uint32(key[16:20])
	x[12] = binary.LittleEndian.Uint32(key[20:24])
	x[13] = binary.LittleEndian.Uint32(key[24:28])
	x[14] = binary.LittleEndian.Uint32(key[28:32])
	x[15] = sigma3

	working := x
	for i := 0; i < 12; i += 2 {
		// column round
		working[4] ^= rotl(working[0]+working[12], 7)
		working[8] ^= rotl(working[4]+working[0], 9)
		working[12] ^= rotl(working[8]+working[4], 13)
		working[0] ^= rotl(working[12]+working[8], 18)

		working[9] ^= rotl(working[5]+working[1], 7)
		working[13] ^= rotl(working[9]+working[5], 9)
		working[1] ^= rotl(working[13]+working[9], 13)
		working[5] ^= rotl(working[1]+working[13], 18)

		working[14] ^= rotl(working[10]+working[6], 7)
		working[2] ^= rotl(working[14]+working[10], 9)
		working[6] ^= rotl(working[2]+working[14], 13)
		working[10] ^= rotl(working[6]+working[2], 18)

		working[3] ^= rotl(working[15]+working[11], 7)
		working[7] ^= rotl(working[3]+working[15], 9)
		working[11] ^= rotl(working[7]+working[3], 13)
		working[15] ^= rotl(working[11]+working[7], 18)

		// row round
		working[1] ^= rotl(working[0]+working[3], 7)
		working[2] ^= rotl(working[1]+working[0], 9)
		working[3] ^= rotl(working[2]+working[1], 13)
		working[0] ^= rotl(working[3]+working[2], 18)

		working[6] ^= rotl(working[5]+working[4], 7)
		working[7] ^= rotl(working[6]+working[5], 9)
		working[4] ^= rotl(working[7]+working[6], 13)
		working[5] ^= rotl(working[4]+working[7], 18)

		working[11] ^= rotl(working[10]+working[9], 7)
		working[8] ^= rotl(working[11]+working[10], 9)
		working[9] ^= rotl(working[8]+working[11], 13)
		working[10] ^= rotl(working[9]+working[8], 18)

		working[12] ^= rotl(working[15]+working[14], 7)
		working[13] ^= rotl(working[12]+working[15], 9)
		working[14] ^= rotl(working[13]+working[12], 13)
		working[15] ^= rotl(working[14]+working[13], 18)
	}

	for i := 0; i < 16; i++ {
		binary.LittleEndian.PutUint32(out[i*4:i*4+4], working[i]+x[i])
	}
}

func rotl(x uint32, n uint) uint32 {
	return x<<n | x>>(32-n)
}
