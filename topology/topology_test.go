package topology

import (
	"net/netip"
	"testing"
	"time"

	"github.com/quillnet/vl1/identity"
	"github.com/quillnet/vl1/peer"
	"github.com/quillnet/vl1/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	identity.SetAddressDifficultyForTesting(4)
}

func TestAddIsIdempotentFindOrInsert(t *testing.T) {
	local, err := identity.Generate(identity.KindCurve25519)
	require.NoError(t, err)
	remote, err := identity.Generate(identity.KindCurve25519)
	require.NoError(t, err)

	topo := New(local, nil, nil)

	p1, err := peer.New(local, remote)
	require.NoError(t, err)
	p2, err := peer.New(local, remote)
	require.NoError(t, err)

	got1 := topo.Add(p1)
	got2 := topo.Add(p2)
	assert.Same(t, got1, got2)
	assert.Same(t, p1, got1)
}

func TestPathCanonicalizesKey(t *testing.T) {
	local, err := identity.Generate(identity.KindCurve25519)
	require.NoError(t, err)
	topo := New(local, nil, nil)

	remote := netip.MustParseAddrPort("198.51.100.4:5555")
	p1 := topo.Path(1, remote)
	p2 := topo.Path(1, remote)
	assert.Same(t, p1, p2)

	p3 := topo.Path(2, remote)
	assert.NotSame(t, p1, p3)
}

func TestAddRootValidatesAndSetsBestRoot(t *testing.T) {
	local, err := identity.Generate(identity.KindCurve25519)
	require.NoError(t, err)
	root, err := identity.Generate(identity.KindCurve25519)
	require.NoError(t, err)

	topo := New(local, nil, nil)

	loc := &wire.Locator{Timestamp: time.Now().Unix(), Signer: identity.FingerprintOf(root)}
	require.NoError(t, loc.Sign(root))

	require.NoError(t, topo.AddRoot(root, loc))
	best := topo.BestRoot()
	require.NotNil(t, best)
	assert.Equal(t, root.Address(), best.Address())
}

func TestAddRootRejectsBadSignature(t *testing.T) {
	local, err := identity.Generate(identity.KindCurve25519)
	require.NoError(t, err)
	root, err := identity.Generate(identity.KindCurve25519)
	require.NoError(t, err)
	other, err := identity.Generate(identity.KindCurve25519)
	require.NoError(t, err)

	topo := New(local, nil, nil)
	loc := &wire.Locator{Timestamp: time.Now().Unix(), Signer: identity.FingerprintOf(other)}
	require.NoError(t, loc.Sign(other))

	err = topo.AddRoot(root, loc)
	assert.Error(t, err)
}

func TestRemoveRootRetainsPeer(t *testing.T) {
	local, err := identity.Generate(identity.KindCurve25519)
	require.NoError(t, err)
	root, err := identity.Generate(identity.KindCurve25519)
	require.NoError(t, err)

	topo := New(local, nil, nil)
	loc := &wire.Locator{Timestamp: time.Now().Unix(), Signer: identity.FingerprintOf(root)}
	require.NoError(t, loc.Sign(root))
	require.NoError(t, topo.AddRoot(root, loc))

	topo.RemoveRoot(identity.FingerprintOf(root))
	assert.Nil(t, topo.BestRoot())

	_, stillPresent := topo.Peer(root.Address(), false)
	assert.True(t, stillPresent)
}

func TestClassifyScope(t *testing.T) {
	local, err := identity.Generate(identity.KindCurve25519)
	require.NoError(t, err)
	topo := New(local, nil, nil)

	assert.Equal(t, ScopeLoopback, topo.ClassifyScope(netip.MustParseAddr("127.0.0.1")))
	assert.Equal(t, ScopePrivate, topo.ClassifyScope(netip.MustParseAddr("192.168.1.1")))
	assert.Equal(t, ScopeGlobal, topo.ClassifyScope(netip.MustParseAddr("203.0.113.9")))
}
