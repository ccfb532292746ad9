package topology

import (
	"net"
	"net/netip"

	"github.com/cilium/cilium/pkg/ip"
	"github.com/gaissmai/bart"
)

// Scope classifies an IP address for the purposes of
// Topology.ResetWithinScope after a suspected network change.
type Scope uint8

const (
	ScopeGlobal Scope = iota
	ScopeLoopback
	ScopeLinkLocal
	ScopePrivate
	ScopeSharedCGNAT
)

var defaultScopedPrefixes = map[Scope][]netip.Prefix{
	ScopeLoopback: {
		netip.MustParsePrefix("127.0.0.0/8"),
		netip.MustParsePrefix("::1/128"),
	},
	ScopeLinkLocal: {
		netip.MustParsePrefix("169.254.0.0/16"),
		netip.MustParsePrefix("fe80::/10"),
	},
	ScopePrivate: {
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("172.16.0.0/12"),
		netip.MustParsePrefix("192.168.0.0/16"),
		netip.MustParsePrefix("fc00::/7"),
	},
	ScopeSharedCGNAT: {
		netip.MustParsePrefix("100.64.0.0/10"),
	},
}

// ScopeClassifier indexes coalesced scope prefix sets in a
// longest-prefix-match trie so classification is O(log n). It keeps no
// index of paths by scope.
type ScopeClassifier struct {
	table *bart.Table[Scope]
}

// NewScopeClassifier builds a classifier from overrides (nil to use
// the administrator-overridable defaults). Input prefixes are
// coalesced per scope with cilium's pkg/ip before indexing, so
// overlapping administrator-supplied ranges collapse to a minimal set.
func NewScopeClassifier(overrides map[Scope][]netip.Prefix) *ScopeClassifier {
	prefixes := defaultScopedPrefixes
	if overrides != nil {
		prefixes = overrides
	}

	table := new(bart.Table[Scope])
	for scope, prefixSet := range prefixes {
		for _, coalesced := range coalesce(prefixSet) {
			table.Insert(coalesced, scope)
		}
	}
	c := &ScopeClassifier{table: table}
	return c
}

// coalesce merges overlapping/adjacent prefixes into a minimal
// covering set via cilium's CIDR coalescing helper.
func coalesce(prefixes []netip.Prefix) []netip.Prefix {
	nets := make([]*net.IPNet, 0, len(prefixes))
	for _, p := range prefixes {
		_, ipNet, err := net.ParseCIDR(p.String())
		if err != nil {
			continue
		}
		nets = append(nets, ipNet)
	}
	ipv4, ipv6 := ip.CoalesceCIDRs(nets)

	out := make([]netip.Prefix, 0, len(ipv4)+len(ipv6))
	for _, n := range append(ipv4, ipv6...) {
		ones, _ := n.Mask.Size()
		addr, ok := netip.AddrFromSlice(n.IP)
		if !ok {
			continue
		}
		out = append(out, netip.PrefixFrom(addr.Unmap(), ones))
	}
	return out
}

// Classify returns addr's scope, defaulting to ScopeGlobal when no
// more specific prefix matches.
func (c *ScopeClassifier) Classify(addr netip.Addr) Scope {
	scope, ok := c.table.Lookup(addr)
	if !ok {
		return ScopeGlobal
	}
	return scope
}
