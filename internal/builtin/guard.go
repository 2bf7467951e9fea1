package builtin

import (
	"fmt"
	"net"
	"strings"
)

// blockedRanges covers private, loopback, link-local, and other
// non-routable networks that page fetches must never reach.
var blockedRanges = []string{
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"100.64.0.0/10",
	"0.0.0.0/8",
	"192.0.2.0/24",
	"198.51.100.0/24",
	"203.0.113.0/24",
	"224.0.0.0/4",
	"240.0.0.0/4",
	"::1/128",
	"fe80::/10",
	"fc00::/7",
}

// hostGuard refuses hostnames that are, or resolve to, addresses in a
// blocked range. Every resolved address is checked, not just the
// first.
type hostGuard struct {
	blocked []*net.IPNet
	lookup  func(host string) ([]net.IP, error)
}

func newHostGuard() *hostGuard {
	g := &hostGuard{lookup: net.LookupIP}
	for _, cidr := range blockedRanges {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			continue
		}
		g.blocked = append(g.blocked, network)
	}
	return g
}

func (g *hostGuard) check(hostname string) error {
	if hostname == "" {
		return fmt.Errorf("missing hostname")
	}

	lower := strings.ToLower(hostname)
	if lower == "localhost" || lower == "localhost.localdomain" || strings.HasSuffix(lower, ".localhost") {
		return fmt.Errorf("refusing to fetch local address %q", hostname)
	}

	if ip := net.ParseIP(hostname); ip != nil {
		if g.blockedIP(ip) {
			return fmt.Errorf("refusing to fetch private address %s", ip)
		}
		return nil
	}

	ips, err := g.lookup(hostname)
	if err != nil {
		return fmt.Errorf("cannot resolve %s: %w", hostname, err)
	}
	if len(ips) == 0 {
		return fmt.Errorf("%s resolves to no addresses", hostname)
	}
	for _, ip := range ips {
		if g.blockedIP(ip) {
			return fmt.Errorf("refusing to fetch %s: resolves to private address %s", hostname, ip)
		}
	}
	return nil
}

func (g *hostGuard) blockedIP(ip net.IP) bool {
	if ip == nil {
		return true
	}
	// Contains matches IPv4-mapped IPv6 addresses in their IPv4 form,
	// so ::ffff:10.0.0.1 hits the 10.0.0.0/8 entry.
	for _, network := range g.blocked {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}
