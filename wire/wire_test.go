package wire

import (
	"net/netip"
	"testing"

	"github.com/quillnet/vl1/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	identity.SetAddressDifficultyForTesting(4)
}

func TestEndpointIPv4RoundTrip(t *testing.T) {
	ep := EndpointFromAddrPort(netip.MustParseAddrPort("203.0.113.5:41641"))
	data, err := ep.MarshalBinary()
	require.NoError(t, err)

	var out Endpoint
	require.NoError(t, out.UnmarshalBinary(data))
	assert.Equal(t, ep.Kind, out.Kind)
	ap1, _ := ep.AddrPort()
	ap2, _ := out.AddrPort()
	assert.Equal(t, ap1, ap2)
}

func TestEndpointIPv6RoundTrip(t *testing.T) {
	ep := EndpointFromAddrPort(netip.MustParseAddrPort("[2001:db8::1]:51820"))
	data, err := ep.MarshalBinary()
	require.NoError(t, err)

	var out Endpoint
	require.NoError(t, out.UnmarshalBinary(data))
	assert.Equal(t, EndpointIPv6, out.Kind)
}

func TestEndpointNodeRelayRoundTrip(t *testing.T) {
	ep := Endpoint{Kind: EndpointNodeRelay, RelayAddress: identity.Address(0x1122334455)}
	ep.RelayFingerprint[0] = 0xAB
	data, err := ep.MarshalBinary()
	require.NoError(t, err)

	var out Endpoint
	require.NoError(t, out.UnmarshalBinary(data))
	assert.Equal(t, ep.RelayAddress, out.RelayAddress)
	assert.Equal(t, ep.RelayFingerprint, out.RelayFingerprint)
}

func TestLocatorSignVerifyRoundTrip(t *testing.T) {
	id, err := identity.Generate(identity.KindCurve25519)
	require.NoError(t, err)

	loc := &Locator{
		Timestamp: 1234567890,
		Signer:    identity.FingerprintOf(id),
		Endpoints: []Endpoint{
			EndpointFromAddrPort(netip.MustParseAddrPort("198.51.100.2:993")),
			EndpointFromAddrPort(netip.MustParseAddrPort("198.51.100.1:993")),
		},
	}
	require.NoError(t, loc.Sign(id))
	assert.True(t, loc.Verify(id))

	// endpoints must have been sorted deterministically
	assert.True(t, compareEndpoints(loc.Endpoints[0], loc.Endpoints[1]) <= 0)
}

func TestLocatorVerifyRejectsTamperedContent(t *testing.T) {
	id, err := identity.Generate(identity.KindCurve25519)
	require.NoError(t, err)
	loc := &Locator{Timestamp: 1, Signer: identity.FingerprintOf(id)}
	require.NoError(t, loc.Sign(id))

	loc.Timestamp = 2
	assert.False(t, loc.Verify(id))
}

func TestLocatorEmpty(t *testing.T) {
	loc := &Locator{Timestamp: 0}
	assert.True(t, loc.Empty())
	loc.Timestamp = 1
	assert.False(t, loc.Empty())
}

func TestHeadRoundTrip(t *testing.T) {
	h := &Head{
		PacketID:    0x0102030405060708,
		Destination: identity.Address(0xAABBCCDDEE),
		Source:      identity.Address(0x1122334455),
		Cipher:      2,
		Hops:        3,
		MAC:         0xDEADBEEFCAFEBABE,
		Envelope:    []byte{9, 9, 9},
	}
	encoded := EncodeHead(h)
	parsed, err := ParseHead(encoded)
	require.NoError(t, err)
	assert.Equal(t, h.PacketID, parsed.PacketID)
	assert.Equal(t, h.Destination, parsed.Destination)
	assert.Equal(t, h.Source, parsed.Source)
	assert.Equal(t, h.Cipher, parsed.Cipher)
	assert.Equal(t, h.Hops, parsed.Hops)
	assert.Equal(t, h.MAC, parsed.MAC)
	assert.Equal(t, h.Envelope, parsed.Envelope)
}

func TestSetHopsChangesOnlyHops(t *testing.T) {
	h := &Head{PacketID: 1, Destination: 2, Source: 3, MAC: 4, Envelope: []byte{1}}
	encoded := EncodeHead(h)
	before := append([]byte{}, encoded...)
	SetHops(encoded, 5)

	parsed, err := ParseHead(encoded)
	require.NoError(t, err)
	assert.Equal(t, uint8(5), parsed.Hops)
	// nothing else in the header changed
	before[18] = encoded[18]
	assert.Equal(t, before, encoded)
}

func TestFragmentRoundTrip(t *testing.T) {
	f := &Fragment{PacketID: 42, Index: 1, Total: 3, Payload: []byte("abc")}
	encoded := EncodeFragment(f)
	assert.True(t, IsFragment(encoded))

	parsed, err := ParseFragment(encoded)
	require.NoError(t, err)
	assert.Equal(t, f.PacketID, parsed.PacketID)
	assert.Equal(t, f.Index, parsed.Index)
	assert.Equal(t, f.Total, parsed.Total)
	assert.Equal(t, f.Payload, parsed.Payload)
}

func TestDictionaryRoundTrip(t *testing.T) {
	d := NewDictionary()
	d.Set(DictKeyPackedVersion, []byte{2, 1, 0})
	d.Set(DictKeyProbeToken, []byte{1, 2, 3, 4})

	decoded, err := DecodeDictionary(d.Encode())
	require.NoError(t, err)
	v, ok := decoded.Get(DictKeyPackedVersion)
	require.True(t, ok)
	assert.Equal(t, []byte{2, 1, 0}, v)
}

func TestDictionaryEncryptRoundTrip(t *testing.T) {
	var key [48]byte
	copy(key[:], "0123456789012345678901234567890123456789012345")
	nonce := []byte("123456789012")

	d := NewDictionary()
	d.Set(DictKeyProbeToken, []byte{0xAA, 0xBB})
	plaintext := d.Encode()

	ciphertext, err := EncryptDictionary(key, nonce, plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, ciphertext)

	decrypted, err := DecryptDictionary(key, nonce, ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestNonceFromPacketIDIsDeterministicAndDistinct(t *testing.T) {
	a := NonceFromPacketID(1)
	b := NonceFromPacketID(1)
	c := NonceFromPacketID(2)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
