package cmd

import (
	"fmt"
	"net/netip"
)

// parseAddrPort parses a "host:port" string into a netip.AddrPort,
// accepting bare IPv4/IPv6 literals only (no DNS resolution — a root's
// locator names concrete addresses, not names).
func parseAddrPort(s string) (netip.AddrPort, error) {
	ap, err := netip.ParseAddrPort(s)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("expected host:port, got %q: %w", s, err)
	}
	return ap, nil
}
