package cipher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpenSalsaPoly1305RoundTrip(t *testing.T) {
	key, err := RandomKey32()
	require.NoError(t, err)
	plaintext := []byte("the quick brown fox jumps over the lazy dog")

	ciphertext, mac := SealSalsaPoly1305(key, 42, plaintext)
	assert.NotEqual(t, plaintext, ciphertext)

	got, err := OpenSalsaPoly1305(key, 42, ciphertext, mac)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestOpenSalsaPoly1305RejectsTamperedMAC(t *testing.T) {
	key, err := RandomKey32()
	require.NoError(t, err)
	ciphertext, mac := SealSalsaPoly1305(key, 1, []byte("payload"))

	_, err = OpenSalsaPoly1305(key, 1, ciphertext, mac^1)
	assert.ErrorIs(t, err, ErrMACMismatch)
}

func TestOpenSalsaPoly1305RejectsTamperedCiphertext(t *testing.T) {
	key, err := RandomKey32()
	require.NoError(t, err)
	ciphertext, mac := SealSalsaPoly1305(key, 1, []byte("payload!"))
	ciphertext[0] ^= 1

	_, err = OpenSalsaPoly1305(key, 1, ciphertext, mac)
	assert.ErrorIs(t, err, ErrMACMismatch)
}

func TestPoly1305NoneRoundTrip(t *testing.T) {
	key, err := RandomKey32()
	require.NoError(t, err)
	payload := []byte("hello")
	mac := MACPoly1305None(key, 7, payload)
	assert.True(t, VerifyPoly1305None(key, 7, payload, mac))
	assert.False(t, VerifyPoly1305None(key, 7, payload, mac^1))
}

func TestHMACSHA384RoundTrip(t *testing.T) {
	var key [48]byte
	copy(key[:], "a shared identity agreement secret")
	data := []byte("full HELLO packet bytes with hops zeroed")

	tag := HMACSHA384(key, data)
	assert.True(t, VerifyHMACSHA384(key, data, tag))

	data[0] ^= 1
	assert.False(t, VerifyHMACSHA384(key, data, tag))
}

func TestAesGmacSivRoundTrip(t *testing.T) {
	key, err := RandomKey32()
	require.NoError(t, err)
	state, err := NewAesGmacSiv(key)
	require.NoError(t, err)

	ciphertext := state.Seal(99, []byte("vl1 data path"))
	plaintext, err := state.Open(99, ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "vl1 data path", string(plaintext))

	ciphertext[0] ^= 1
	_, err = state.Open(99, ciphertext)
	assert.ErrorIs(t, err, ErrMACMismatch)
}

func TestSuiteString(t *testing.T) {
	assert.Equal(t, "poly1305-salsa2012", Poly1305Salsa2012.String())
	assert.Equal(t, "aes-gmac-siv", AesGmacSiv.String())
}
