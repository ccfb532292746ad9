package dispatch

import (
	"context"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/quillnet/vl1/cipher"
	"github.com/quillnet/vl1/identity"
	"github.com/quillnet/vl1/peer"
	"github.com/quillnet/vl1/topology"
	"github.com/quillnet/vl1/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	identity.SetAddressDifficultyForTesting(4)
}

// fakeCallbacks is a minimal Callbacks implementation for loopback
// tests: WireSend is redirected through onSend (usually straight into
// another Dispatcher's OnRemotePacket, simulating a wire), and Event
// calls are recorded for assertions.
type fakeCallbacks struct {
	selfAddr netip.AddrPort
	onSend   func(localSocket int64, remote wire.Endpoint, data []byte) bool

	mu     sync.Mutex
	events []eventRecord
}

type eventRecord struct {
	kind    EventKind
	payload any
}

func (f *fakeCallbacks) WireSend(ctx any, localSocket int64, remote wire.Endpoint, data []byte, ttlHint int) bool {
	if f.onSend == nil {
		return true
	}
	return f.onSend(localSocket, remote, append([]byte(nil), data...))
}

func (f *fakeCallbacks) StatePut(kind StateObjectKind, id []byte, data []byte) error { return nil }
func (f *fakeCallbacks) StateGet(kind StateObjectKind, id []byte) ([]byte, bool)     { return nil, false }

func (f *fakeCallbacks) Event(kind EventKind, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, eventRecord{kind: kind, payload: payload})
}

func (f *fakeCallbacks) PathCheck(addr identity.Address, id *identity.Identity, localSocket int64, remote wire.Endpoint) bool {
	return true
}

func (f *fakeCallbacks) PathLookup(addr identity.Address, id *identity.Identity, family int) (wire.Endpoint, bool) {
	return wire.Endpoint{}, false
}

func (f *fakeCallbacks) hasEvent(k EventKind) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.events {
		if e.kind == k {
			return true
		}
	}
	return false
}

func (f *fakeCallbacks) hasDrop(reason DropReason) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.events {
		if e.kind == EventPacketDropped && e.payload == reason {
			return true
		}
	}
	return false
}

// wireBetween wires cbFrom's outbound traffic straight into toDispatcher's
// OnRemotePacket, as if fromAddr were reachable over a real socket.
func wireBetween(cbFrom *fakeCallbacks, fromAddr netip.AddrPort, toDispatcher *Dispatcher, toLocalSocket int64) {
	cbFrom.onSend = func(localSocket int64, remote wire.Endpoint, data []byte) bool {
		toDispatcher.OnRemotePacket(context.Background(), toLocalSocket, fromAddr, data, time.Now())
		return true
	}
}

func TestHelloHandshakeEndToEnd(t *testing.T) {
	idA, err := identity.Generate(identity.KindCurve25519)
	require.NoError(t, err)
	idB, err := identity.Generate(identity.KindCurve25519)
	require.NoError(t, err)

	addrA := netip.MustParseAddrPort("127.0.0.1:1000")
	addrB := netip.MustParseAddrPort("127.0.0.1:2000")

	topoA := topology.New(idA, nil, nil)
	topoB := topology.New(idB, nil, nil)

	cbA := &fakeCallbacks{selfAddr: addrA}
	cbB := &fakeCallbacks{selfAddr: addrB}

	dA := New(idA, topoA, cbA)
	dB := New(idB, topoB, cbB)
	defer dA.Close()
	defer dB.Close()

	wireBetween(cbA, addrA, dB, 1)
	wireBetween(cbB, addrB, dA, 1)

	peerBFromA, err := peer.New(idA, idB)
	require.NoError(t, err)
	topoA.Add(peerBFromA)

	ok := dA.SendHello(context.Background(), peerBFromA, wire.EndpointFromAddrPort(addrB), time.Now())
	require.True(t, ok)

	learnedA, known := topoB.Peer(idA.Address(), false)
	require.True(t, known)
	assert.Equal(t, idA.Address(), learnedA.Address())
	assert.True(t, cbB.hasEvent(EventPeerLearned))

	// The OK(HELLO) round trip should have given A's view of B a live
	// path, without waiting for a periodic pulse.
	assert.NotNil(t, peerBFromA.BestPath(time.Now().UnixMilli()))

	// B must have decrypted A's metadata dictionary and learned A's
	// probe token, not just A's identity.
	token, hasToken := learnedA.ProbeToken()
	require.True(t, hasToken)
	assert.Equal(t, uint64(dA.probeToken), token)
}

func TestBareProbeTriggersHelloBack(t *testing.T) {
	idA, err := identity.Generate(identity.KindCurve25519)
	require.NoError(t, err)
	idB, err := identity.Generate(identity.KindCurve25519)
	require.NoError(t, err)

	addrA := netip.MustParseAddrPort("127.0.0.1:1000")
	addrB := netip.MustParseAddrPort("127.0.0.1:2000")

	topoA := topology.New(idA, nil, nil)
	topoB := topology.New(idB, nil, nil)

	cbA := &fakeCallbacks{selfAddr: addrA}
	cbB := &fakeCallbacks{selfAddr: addrB}

	dA := New(idA, topoA, cbA)
	dB := New(idB, topoB, cbB)
	defer dA.Close()
	defer dB.Close()

	wireBetween(cbA, addrA, dB, 1)
	wireBetween(cbB, addrB, dA, 1)

	peerBFromA, err := peer.New(idA, idB)
	require.NoError(t, err)
	topoA.Add(peerBFromA)

	// A full handshake first, so B learns A's probe token the normal way.
	require.True(t, dA.SendHello(context.Background(), peerBFromA, wire.EndpointFromAddrPort(addrB), time.Now()))

	peerAFromB, known := topoB.Peer(idA.Address(), false)
	require.True(t, known)
	require.NotNil(t, peerAFromB.BestPath(time.Now().UnixMilli()))

	// Now A sends a bare probe (no VL1 header) to B, using A's own
	// identity and the same token B just learned. B must recognize it
	// against the peer it already knows and answer with a fresh HELLO,
	// without A having to identify itself in the probe datagram.
	hash := peer.ProbeToken(uint64(dA.probeToken), idA)
	dB.handleProbe(context.Background(), 1, addrA, hash[:], time.Now())

	assert.True(t, cbB.hasEvent(EventPacketAccepted))
}

func TestBadMACIsDropped(t *testing.T) {
	idA, err := identity.Generate(identity.KindCurve25519)
	require.NoError(t, err)
	idB, err := identity.Generate(identity.KindCurve25519)
	require.NoError(t, err)

	addrA := netip.MustParseAddrPort("127.0.0.1:1000")

	topoB := topology.New(idB, nil, nil)
	cbB := &fakeCallbacks{selfAddr: netip.MustParseAddrPort("127.0.0.1:2000")}
	dB := New(idB, topoB, cbB)
	defer dB.Close()

	peerAFromB, err := peer.New(idB, idA)
	require.NoError(t, err)
	topoB.Add(peerAFromB)
	peerAFromB.Received(peer.Key{LocalSocket: 1, Remote: addrA}, time.Now().UnixMilli(), 1, 0)

	packet := wire.EncodeHead(&wire.Head{
		PacketID:    99,
		Destination: idB.Address(),
		Source:      idA.Address(),
		Cipher:      cipher.Poly1305Salsa2012,
		MAC:         0xDEADBEEF,
		Envelope:    []byte{0x00, 0x01, 0x02, 0x03},
	})

	dB.OnRemotePacket(context.Background(), 1, addrA, packet, time.Now())
	assert.True(t, cbB.hasDrop(DropMACFailed))
}

func TestUnknownSourceDefersAndTriggersWhois(t *testing.T) {
	idA, err := identity.Generate(identity.KindCurve25519)
	require.NoError(t, err)
	idB, err := identity.Generate(identity.KindCurve25519)
	require.NoError(t, err)
	idC, err := identity.Generate(identity.KindCurve25519)
	require.NoError(t, err)

	addrA := netip.MustParseAddrPort("127.0.0.1:1000")
	addrC := netip.MustParseAddrPort("127.0.0.1:3000")

	topoA := topology.New(idA, nil, nil)
	topoB := topology.New(idB, nil, nil)

	cbA := &fakeCallbacks{selfAddr: addrA}
	cbB := &fakeCallbacks{selfAddr: netip.MustParseAddrPort("127.0.0.1:2000")}

	dA := New(idA, topoA, cbA)
	dB := New(idB, topoB, cbB)
	defer dA.Close()
	defer dB.Close()

	wireBetween(cbA, addrA, dB, 1)
	wireBetween(cbB, cbB.selfAddr, dA, 1)

	// A already knows C and B (as if learned earlier) and will act as B's
	// root; it has to know B to authenticate B's WHOIS.
	peerCFromA, err := peer.New(idA, idC)
	require.NoError(t, err)
	topoA.Add(peerCFromA)
	peerBFromA, err := peer.New(idA, idB)
	require.NoError(t, err)
	topoA.Add(peerBFromA)

	loc := &wire.Locator{Timestamp: time.Now().Unix(), Signer: identity.FingerprintOf(idA)}
	require.NoError(t, loc.Sign(idA))
	require.NoError(t, topoB.AddRoot(idA, loc))

	rootFromB, known := topoB.Peer(idA.Address(), false)
	require.True(t, known)
	rootFromB.Received(peer.Key{LocalSocket: 1, Remote: addrA}, time.Now().UnixMilli(), 1, 0)

	// A packet purportedly from the still-unknown C, addressed to B.
	fromC := wire.EncodeHead(&wire.Head{
		PacketID:    7,
		Destination: idB.Address(),
		Source:      idC.Address(),
		Cipher:      cipher.Poly1305Salsa2012,
		Envelope:    []byte{0x07, 0xAA, 0xBB},
	})

	dB.OnRemotePacket(context.Background(), 1, addrC, fromC, time.Now())

	_, known = topoB.Peer(idC.Address(), false)
	assert.True(t, known)
	assert.True(t, cbB.hasEvent(EventPeerLearned))
}

func TestRelayIncrementsHopsAndRespectsHopLimit(t *testing.T) {
	idA, err := identity.Generate(identity.KindCurve25519)
	require.NoError(t, err)
	idC, err := identity.Generate(identity.KindCurve25519)
	require.NoError(t, err)
	idR, err := identity.Generate(identity.KindCurve25519)
	require.NoError(t, err)

	addrC := netip.MustParseAddrPort("127.0.0.1:3000")

	topoR := topology.New(idR, nil, nil)
	cbR := &fakeCallbacks{selfAddr: netip.MustParseAddrPort("127.0.0.1:9000")}
	dR := New(idR, topoR, cbR)
	defer dR.Close()

	peerCFromR, err := peer.New(idR, idC)
	require.NoError(t, err)
	topoR.Add(peerCFromR)
	peerCFromR.Received(peer.Key{LocalSocket: 1, Remote: addrC}, time.Now().UnixMilli(), 1, 0)

	packet := wire.EncodeHead(&wire.Head{
		PacketID:    1,
		Destination: idC.Address(),
		Source:      idA.Address(),
		Cipher:      cipher.Poly1305Salsa2012,
		Envelope:    []byte{0x00},
	})
	head, err := wire.ParseHead(packet)
	require.NoError(t, err)

	var recorded []byte
	cbR.onSend = func(localSocket int64, remote wire.Endpoint, data []byte) bool {
		recorded = data
		return true
	}

	dR.relay(context.Background(), head, packet, time.Now())
	require.NotNil(t, recorded)
	gotHead, err := wire.ParseHead(recorded)
	require.NoError(t, err)
	assert.Equal(t, uint8(1), gotHead.Hops)

	head.Hops = wire.HopLimit
	recorded = nil
	dR.relay(context.Background(), head, packet, time.Now())
	assert.Nil(t, recorded)
	assert.True(t, cbR.hasDrop(DropRelayHopLimit))
}
