// Package dispatch implements the VL1 packet pipeline: the entry point
// that turns a raw datagram into reassembled, authenticated, verb-
// dispatched traffic, plus the WHOIS queue, sent-expectation table,
// and relay logic.
package dispatch

import (
	"github.com/quillnet/vl1/identity"
	"github.com/quillnet/vl1/wire"
)

// StateObjectKind tags what a StatePut/StateGet call is persisting.
type StateObjectKind uint8

const (
	StateObjectPeer StateObjectKind = iota
	StateObjectRoot
)

// EventKind tags a trace event's subject for the host Event callback.
type EventKind uint8

const (
	EventPacketAccepted EventKind = iota
	EventPacketDropped
	EventPeerLearned
	EventRelay
)

// Callbacks is the host integration surface: everything VL1 needs from
// the environment it runs in (socket I/O, persistence, and the event
// sink), modeled as an opaque ctx any propagated unchanged through
// every call, matching the original "thread pointer" convention.
type Callbacks interface {
	WireSend(ctx any, localSocket int64, remote wire.Endpoint, data []byte, ttlHint int) bool
	StatePut(kind StateObjectKind, id []byte, data []byte) error
	StateGet(kind StateObjectKind, id []byte) ([]byte, bool)
	Event(kind EventKind, payload any)
	PathCheck(addr identity.Address, id *identity.Identity, localSocket int64, remote wire.Endpoint) bool
	PathLookup(addr identity.Address, id *identity.Identity, family int) (wire.Endpoint, bool)
}
