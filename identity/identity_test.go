package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	// Keep proof-of-work search fast in tests; production code uses the
	// real difficulty via Generate's default.
	addressDifficulty = 4
}

func TestGenerateAndValidate(t *testing.T) {
	id, err := Generate(KindCurve25519)
	require.NoError(t, err)
	assert.False(t, id.Address().IsReserved())
	assert.True(t, id.LocallyValidate())
}

func TestGenerateP384(t *testing.T) {
	id, err := Generate(KindP384)
	require.NoError(t, err)
	assert.True(t, id.LocallyValidate())
	assert.Equal(t, KindP384, id.Kind())
}

func TestAddressReproducible(t *testing.T) {
	id, err := Generate(KindCurve25519)
	require.NoError(t, err)
	addr1 := id.Address()
	digest := memoryHardDerive(id.publicBlob())
	addr2 := addressFromDigest(digest[:])
	assert.Equal(t, addr1, addr2)
}

func TestLocallyValidateRejectsTampering(t *testing.T) {
	id, err := Generate(KindCurve25519)
	require.NoError(t, err)
	id.addr++ // tamper
	assert.False(t, id.LocallyValidate())
}

func TestAddressMarshalRoundTrip(t *testing.T) {
	id, err := Generate(KindCurve25519)
	require.NoError(t, err)
	text, err := id.Address().MarshalText()
	require.NoError(t, err)

	var out Address
	require.NoError(t, out.UnmarshalText(text))
	assert.Equal(t, id.Address(), out)
}

func TestAgreeIsSymmetric(t *testing.T) {
	a, err := Generate(KindCurve25519)
	require.NoError(t, err)
	b, err := Generate(KindCurve25519)
	require.NoError(t, err)

	s1, err := a.Agree(b)
	require.NoError(t, err)
	s2, err := b.Agree(a)
	require.NoError(t, err)
	assert.Equal(t, s1, s2)
}

func TestAgreeDeterministic(t *testing.T) {
	a, err := Generate(KindCurve25519)
	require.NoError(t, err)
	b, err := Generate(KindCurve25519)
	require.NoError(t, err)

	s1, err := a.Agree(b)
	require.NoError(t, err)
	s2, err := a.Agree(b)
	require.NoError(t, err)
	assert.Equal(t, s1, s2)
}

func TestSignVerify(t *testing.T) {
	id, err := Generate(KindCurve25519)
	require.NoError(t, err)
	msg := []byte("hello vl1")
	sig, err := id.Sign(msg)
	require.NoError(t, err)
	assert.True(t, id.Verify(msg, sig))
	assert.False(t, id.Verify([]byte("tampered"), sig))
}

func TestEqual(t *testing.T) {
	a, err := Generate(KindCurve25519)
	require.NoError(t, err)
	b, err := Generate(KindCurve25519)
	require.NoError(t, err)
	assert.True(t, a.Equal(a))
	assert.False(t, a.Equal(b))
}

func TestFingerprintMatches(t *testing.T) {
	id, err := Generate(KindCurve25519)
	require.NoError(t, err)
	fp := FingerprintOf(id)
	assert.True(t, fp.Matches(id))

	other, err := Generate(KindCurve25519)
	require.NoError(t, err)
	assert.False(t, fp.Matches(other))
}
