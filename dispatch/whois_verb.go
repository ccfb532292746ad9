package dispatch

import (
	"time"

	"github.com/quillnet/vl1/identity"
	"github.com/quillnet/vl1/peer"
	"github.com/quillnet/vl1/wire"
)

// buildAndSendWhois sends a WHOIS request for addr to root, registering
// the sent packet ID as a live expectation so the eventual OK(WHOIS)
// resolves the deferred packets held in the dispatcher's WhoisQueue.
func buildAndSendWhois(d *Dispatcher, ctx any, root *peer.Peer, addr identity.Address, now time.Time) {
	_, _ = d.sendRequestVerb(ctx, root, wire.VerbWhois, addressTo5(addr), now)
}
