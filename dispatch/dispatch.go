package dispatch

import (
	"crypto/rand"
	"encoding/binary"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/pierrec/lz4/v4"
	"golang.org/x/time/rate"

	"github.com/quillnet/vl1/buffer"
	"github.com/quillnet/vl1/cipher"
	"github.com/quillnet/vl1/identity"
	"github.com/quillnet/vl1/peer"
	"github.com/quillnet/vl1/topology"
	"github.com/quillnet/vl1/wire"
)

// ProbeLength is the datagram length of a bare probe-token request (a
// 32-byte anonymized SHA-256 hash). OnRemotePacket checks for it before
// any header parsing, so every datagram of exactly this length is
// handled as a probe, even one that would also parse as a whole packet
// or a fragment.
const ProbeLength = 32

// innerFlagCompressed marks the inner-flags byte as carrying an
// LZ4-compressed verb payload.
const innerFlagCompressed byte = 0x80

// innerVerbMask extracts the verb from the low 5 bits of the inner
// flags byte.
const innerVerbMask = 0x1F

// maxDecompressedSize bounds LZ4 expansion to the buffer cell size
// minus the outer header, preventing decompression-bomb amplification.
const maxDecompressedSize = buffer.CellSize - wire.HeaderSize

// Dispatcher is the VL1 packet pipeline: reassembly, decrypt/
// authenticate, verb dispatch, WHOIS, and relay. It never blocks on
// I/O — WireSend/StateGet/StatePut are expected to complete promptly.
type Dispatcher struct {
	local *identity.Identity
	topo  *topology.Topology
	cb    Callbacks

	frag         *buffer.Defragmenter
	whois        *WhoisQueue
	expectations *SentExpectations

	relayLimiter *rate.Limiter
	probeLimiter *rate.Limiter

	packetIDCounter atomic.Uint64

	// probeToken is this node's own low-bandwidth handshake-initiation
	// token, advertised in every outgoing HELLO's metadata dictionary
	// and embedded (anonymized against d.local's identity) in every
	// probe datagram this node sends.
	probeToken uint32
}

// New constructs a Dispatcher bound to a local identity, topology, and
// host callback set.
func New(local *identity.Identity, topo *topology.Topology, cb Callbacks) *Dispatcher {
	d := &Dispatcher{
		local:        local,
		topo:         topo,
		cb:           cb,
		frag:         buffer.NewDefragmenter(30*time.Second, 4096, 16),
		whois:        NewWhoisQueue(),
		expectations: NewSentExpectations(),
		relayLimiter: rate.NewLimiter(rate.Limit(2000), 4000),
		probeLimiter: rate.NewLimiter(rate.Limit(500), 1000),
	}

	var seed [8]byte
	_, _ = rand.Read(seed[:])
	d.packetIDCounter.Store(binary.BigEndian.Uint64(seed[:]))

	var tokenSeed [4]byte
	_, _ = rand.Read(tokenSeed[:])
	d.probeToken = binary.BigEndian.Uint32(tokenSeed[:])

	return d
}

// Close releases background resources (defragmenter TTL sweeper, sent-
// expectation TTL sweeper).
func (d *Dispatcher) Close() {
	d.frag.Stop()
	d.expectations.Stop()
}

// OnRemotePacket is the single entry point: invoked once per received
// datagram. buf is owned by the dispatcher until this call returns.
func (d *Dispatcher) OnRemotePacket(ctx any, localSocket int64, from netip.AddrPort, buf []byte, now time.Time) {
	nowMs := now.UnixMilli()
	path := d.topo.Path(localSocket, from)
	path.Received(nowMs, len(buf))

	if len(buf) == ProbeLength {
		d.handleProbe(ctx, localSocket, from, buf, now)
		return
	}
	if len(buf) < wire.MinFragmentLength {
		d.drop(DropTooShort)
		return
	}

	assembled, ok := d.reassemble(localSocket, from, buf)
	if !ok {
		return
	}

	head, err := wire.ParseHead(assembled)
	if err != nil {
		d.drop(DropTooShort)
		return
	}

	if head.Destination != d.local.Address() {
		d.relay(ctx, head, assembled, now)
		return
	}

	innerFlags := head.Envelope[0]
	verb := wire.Verb(innerFlags & innerVerbMask)

	if (head.Cipher == cipher.None || head.Cipher == cipher.Poly1305None) && verb == wire.VerbHello {
		d.handleHello(ctx, localSocket, from, head, now)
		return
	}

	srcPeer, known := d.topo.Peer(head.Source, true)
	if !known {
		shouldRetry := d.whois.Defer(head.Source, assembled, now)
		if shouldRetry {
			d.sendWhois(ctx, head.Source, now)
		}
		d.drop(DropUnknownSource)
		return
	}

	plaintext, ok := d.decryptAndAuthenticate(srcPeer, head, localSocket, from)
	if !ok {
		d.drop(DropMACFailed)
		return
	}

	if plaintext[0]&innerFlagCompressed != 0 {
		decompressed := make([]byte, maxDecompressedSize)
		n, err := lz4.UncompressBlock(plaintext[1:], decompressed)
		if err != nil {
			d.drop(DropInvalidCompressedData)
			return
		}
		plaintext = append(plaintext[:1], decompressed[:n]...)
	}

	// Promote/refresh the peer's own path record (the one path_sort and
	// BestPath rank against) before dispatch, so a verb handler that
	// replies immediately (OK, ECHO) sends over an already-live path
	// rather than the bare physical-path record used for pre-auth
	// liveness tracking above.
	peerPath := srcPeer.Received(peer.Key{LocalSocket: localSocket, Remote: from}, nowMs, len(plaintext), head.Hops)
	d.dispatchVerb(ctx, srcPeer, peerPath, head, plaintext, now)
}

// reassemble feeds a datagram through the defragmenter, returning the
// concatenated whole-packet envelope once COMPLETE, or ok=false if the
// caller should return silently (per spec: "continue only on COMPLETE").
func (d *Dispatcher) reassemble(localSocket int64, from netip.AddrPort, buf []byte) ([]byte, bool) {
	pathKey := pathHash(localSocket, from)

	// Fragment numbering convention: total counts all fragments
	// including the head (index 0). The head packet carries total as
	// the single byte immediately following the 27-byte outer header;
	// everything after that byte is fragment 0's share of the
	// envelope. Continuation fragments carry (index, total) directly
	// in their own header. Reassembly concatenates slice 0 (header +
	// fragment-0 envelope bytes) with the continuation payloads in
	// order, producing a ready-to-parse whole packet.
	if wire.IsFragment(buf) {
		frag, err := wire.ParseFragment(buf)
		if err != nil {
			d.drop(DropFragmentRejected)
			return nil, false
		}
		slices, outcome := d.frag.Submit(frag.PacketID, pathKey, frag.Index, frag.Total, frag.Payload)
		if outcome != buffer.Complete {
			return nil, false
		}
		return concatFragments(slices), true
	}

	if len(buf) < wire.HeaderSize+1 {
		d.drop(DropTooShort)
		return nil, false
	}
	flagsByte := buf[18]
	if flagsByte&0x40 != 0 { // fragmented flag: this whole packet is fragment 0
		head, err := wire.ParseHead(buf[:wire.HeaderSize])
		if err != nil {
			d.drop(DropTooShort)
			return nil, false
		}
		total := buf[wire.HeaderSize]
		payload := make([]byte, 0, wire.HeaderSize+len(buf)-wire.HeaderSize-1)
		payload = append(payload, buf[:wire.HeaderSize]...)
		payload = append(payload, buf[wire.HeaderSize+1:]...)

		slices, outcome := d.frag.Submit(head.PacketID, pathKey, 0, total, payload)
		if outcome != buffer.Complete {
			return nil, false
		}
		return concatFragments(slices), true
	}

	return buf, true
}

func concatFragments(slices [][]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	out := make([]byte, 0, total)
	for _, s := range slices {
		out = append(out, s...)
	}
	return out
}

// pathHash derives the Defragmenter's opaque path key from a physical
// path, matching the spec's "keyed by (packet ID, path)" requirement.
func pathHash(localSocket int64, from netip.AddrPort) uint64 {
	h := uint64(localSocket)
	for _, b := range from.Addr().AsSlice() {
		h = h*1099511628211 ^ uint64(b)
	}
	h = h*1099511628211 ^ uint64(from.Port())
	return h
}

func (d *Dispatcher) drop(reason DropReason) {
	d.cb.Event(EventPacketDropped, reason)
}

func (d *Dispatcher) sendWhois(ctx any, addr identity.Address, now time.Time) {
	root := d.topo.BestRoot()
	if root == nil {
		return
	}
	buildAndSendWhois(d, ctx, root, addr, now)
}
