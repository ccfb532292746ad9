package peer

import (
	"encoding/binary"
	"net/netip"
	"testing"
	"time"

	"github.com/quillnet/vl1/identity"
	"github.com/quillnet/vl1/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	identity.SetAddressDifficultyForTesting(4)
}

func genPair(t *testing.T) (*identity.Identity, *identity.Identity) {
	t.Helper()
	a, err := identity.Generate(identity.KindCurve25519)
	require.NoError(t, err)
	b, err := identity.Generate(identity.KindCurve25519)
	require.NoError(t, err)
	return a, b
}

func TestNewPeerDerivesPermanentKey(t *testing.T) {
	a, b := genPair(t)
	p, err := New(a, b)
	require.NoError(t, err)
	assert.True(t, p.permanentKeySet)
	assert.Equal(t, b.Address(), p.Address())

	expected, err := a.Agree(b)
	require.NoError(t, err)
	assert.Equal(t, expected, p.PermanentKey())
}

func TestFindOrCreatePathIsIdempotent(t *testing.T) {
	a, b := genPair(t)
	p, err := New(a, b)
	require.NoError(t, err)

	key := Key{LocalSocket: 1, Remote: netip.MustParseAddrPort("198.51.100.1:1234")}
	nowMs := time.Now().UnixMilli()
	path1, created1 := p.findOrCreatePath(key, nowMs)
	path2, created2 := p.findOrCreatePath(key, nowMs)
	assert.True(t, created1)
	assert.False(t, created2)
	assert.Same(t, path1, path2)
}

func TestPathSortOrdersAliveBeforeDead(t *testing.T) {
	a, b := genPair(t)
	p, err := New(a, b)
	require.NoError(t, err)

	now := time.Now()
	nowMs := now.UnixMilli()

	deadKey := Key{LocalSocket: 1, Remote: netip.MustParseAddrPort("198.51.100.1:1")}
	aliveKey := Key{LocalSocket: 1, Remote: netip.MustParseAddrPort("198.51.100.2:2")}

	p.Received(deadKey, nowMs-120000, 10, 0) // stale, becomes dead
	p.Received(aliveKey, nowMs, 10, 0)

	p.PathSort(nowMs)
	best := p.BestPath(nowMs)
	require.NotNil(t, best)
	assert.Equal(t, aliveKey, best.Key())
}

func TestRateGateHelloFiresOnceThenWaits(t *testing.T) {
	a, b := genPair(t)
	p, err := New(a, b)
	require.NoError(t, err)

	now := time.Now().UnixNano()
	assert.True(t, p.RateGateHello(now))
	assert.False(t, p.RateGateHello(now+1))
	assert.True(t, p.RateGateHello(now+int64(rateGateInterval)+1))
}

func TestBFG1024DeterministicAndBounded(t *testing.T) {
	a, b := genPair(t)
	base := wire.EndpointFromAddrPort(netip.MustParseAddrPort("203.0.113.9:4444"))

	out1 := BFG1024(b.Address(), base)
	out2 := BFG1024(b.Address(), base)
	require.Len(t, out1, bfg1024Candidates)
	assert.Equal(t, out1, out2)

	seen := make(map[netip.AddrPort]struct{})
	for _, ep := range out1 {
		ap, ok := ep.AddrPort()
		require.True(t, ok)
		seen[ap] = struct{}{}
	}
	assert.Len(t, seen, bfg1024Candidates)
	_ = a
}

func TestProbeTokenRoundTrip(t *testing.T) {
	_, b := genPair(t)
	hash := ProbeToken(42, b)
	assert.True(t, VerifyProbeToken(hash, 42, b))
	assert.False(t, VerifyProbeToken(hash, 43, b))
}

func TestEnqueueTryPathExpandsBruteForce(t *testing.T) {
	a, b := genPair(t)
	p, err := New(a, b)
	require.NoError(t, err)

	base := wire.EndpointFromAddrPort(netip.MustParseAddrPort("203.0.113.9:4444"))
	p.EnqueueTryPath(base, true)
	drained := p.DrainTryQueue(2000)
	assert.Len(t, drained, bfg1024Candidates)
}

func TestBuildHelloSelectsCipherByVersion(t *testing.T) {
	a, b := genPair(t)
	p, err := New(a, b)
	require.NoError(t, err)

	sentTo := wire.EndpointFromAddrPort(netip.MustParseAddrPort("203.0.113.9:4444"))
	payload, suite, err := p.BuildHello(a, sentTo, 1, 0xAABBCCDD)
	require.NoError(t, err)
	assert.NotEmpty(t, payload)
	if ProtocolVersion >= HelloMetadataVersion {
		assert.Equal(t, uint8(0), uint8(suite)) // cipher.None
	}
}

func TestBuildHelloDictionaryRoundTrips(t *testing.T) {
	a, b := genPair(t)
	p, err := New(a, b)
	require.NoError(t, err)

	sentTo := wire.EndpointFromAddrPort(netip.MustParseAddrPort("203.0.113.9:4444"))
	const packetID = uint64(0x0102030405060708)
	const probeToken = uint32(0xDEADBEEF)

	payload, _, err := p.BuildHello(a, sentTo, packetID, probeToken)
	require.NoError(t, err)

	body, err := DecodeHelloBody(payload)
	require.NoError(t, err)
	require.NotEmpty(t, body.Dictionary)

	nonce := wire.NonceFromPacketID(packetID)
	plain, err := wire.DecryptDictionary(p.permanentKey, nonce[:], body.Dictionary)
	require.NoError(t, err)

	dict, err := wire.DecodeDictionary(plain)
	require.NoError(t, err)

	tok, ok := dict.Get(wire.DictKeyProbeToken)
	require.True(t, ok)
	assert.Equal(t, probeToken, binary.BigEndian.Uint32(tok))
}

func TestFindOrCreatePathEvictsWorstAtCap(t *testing.T) {
	a, b := genPair(t)
	p, err := New(a, b)
	require.NoError(t, err)

	now := time.Now()
	nowMs := now.UnixMilli()

	// Fill to capacity with dead paths (never received on).
	for i := 0; i < MaxPaths; i++ {
		key := Key{LocalSocket: 1, Remote: netip.AddrPortFrom(netip.MustParseAddr("198.51.100.1"), uint16(i+1))}
		p.findOrCreatePath(key, nowMs)
	}
	assert.Len(t, p.paths, MaxPaths)

	// One more distinct path must evict rather than grow past MaxPaths.
	overflow := Key{LocalSocket: 1, Remote: netip.MustParseAddrPort("198.51.100.1:9999")}
	_, created := p.findOrCreatePath(overflow, nowMs)
	assert.True(t, created)
	assert.Len(t, p.paths, MaxPaths)
	assert.NotNil(t, p.pathFor(overflow))
}
