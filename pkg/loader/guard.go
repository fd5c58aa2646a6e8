package loader

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
)

var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("192.0.0.0/24"),
	netip.MustParsePrefix("198.18.0.0/15"),
	netip.MustParsePrefix("240.0.0.0/4"),
	netip.MustParsePrefix("64:ff9b::/96"),
}

// Guard enforces the outbound network policy of the fetchers. A URL is
// checked before the request, the dialed address is checked again on every
// connection, so DNS rebinding and redirects cannot reach internal hosts.
type Guard struct {
	Resolver *net.Resolver

	// AllowLoopback permits 127.0.0.0/8 and ::1, for local development only.
	AllowLoopback bool
}

// NewGuard returns a Guard using the default resolver.
func NewGuard() *Guard {
	return &Guard{Resolver: net.DefaultResolver}
}

// BlockedAddr reports whether addr is outside the public unicast space and
// names the reason.
func (g *Guard) BlockedAddr(addr netip.Addr) (string, bool) {
	addr = addr.Unmap()
	switch {
	case !addr.IsValid():
		return "invalid address", true
	case addr.IsLoopback():
		if g != nil && g.AllowLoopback {
			return "", false
		}
		return "loopback address", true
	case addr.IsPrivate():
		return "private address", true
	case addr.IsLinkLocalUnicast(), addr.IsLinkLocalMulticast():
		return "link-local address", true
	case addr.IsUnspecified():
		return "unspecified address", true
	case addr.IsMulticast(), addr.IsInterfaceLocalMulticast():
		return "multicast address", true
	}
	for _, p := range blockedPrefixes {
		if p.Contains(addr) {
			return "reserved address", true
		}
	}
	return "", false
}

// CheckURL validates scheme and host of u and resolves the host, refusing it
// when any resolved address is blocked.
func (g *Guard) CheckURL(ctx context.Context, u *url.URL) error {
	if u == nil {
		return &FetchError{Err: fmt.Errorf("empty url")}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &FetchError{URL: u.String(), Err: fmt.Errorf("unsupported scheme %q", u.Scheme)}
	}

	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return &FetchError{URL: u.String(), Err: fmt.Errorf("missing host")}
	}
	if (host == "localhost" || strings.HasSuffix(host, ".localhost")) && !g.AllowLoopback {
		return &BlockedHostError{URL: u.String(), Host: host, Reason: "localhost"}
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if reason, blocked := g.BlockedAddr(addr); blocked {
			return &BlockedHostError{URL: u.String(), Host: host, Reason: reason}
		}
		return nil
	}

	resolver := g.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	addrs, err := resolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return &FetchError{URL: u.String(), Err: fmt.Errorf("resolve %s: %w", host, err)}
	}
	for _, addr := range addrs {
		if reason, blocked := g.BlockedAddr(addr); blocked {
			return &BlockedHostError{URL: u.String(), Host: host, Reason: reason}
		}
	}
	return nil
}

// Control is a net.Dialer Control hook that refuses connections to blocked
// addresses after name resolution.
func (g *Guard) Control(network, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return &BlockedHostError{Host: host, Reason: "unresolved address"}
	}
	if reason, blocked := g.BlockedAddr(addr); blocked {
		return &BlockedHostError{Host: host, Reason: reason}
	}
	return nil
}
