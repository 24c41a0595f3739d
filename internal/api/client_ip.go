package api

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"marketplace/internal/devices"
)

const unknownClientIP = "unknown"

// ClientIPResolver resolves the client IP used for rate limiting, lockout
// bookkeeping and device fingerprints. Forwarding headers are only honoured
// when the immediate peer is a trusted proxy.
type ClientIPResolver struct {
	trustedProxies []netip.Prefix
}

// NewClientIPResolver accepts bare addresses and CIDR prefixes.
func NewClientIPResolver(trustedProxies []string) (*ClientIPResolver, error) {
	resolver := &ClientIPResolver{}

	for _, raw := range trustedProxies {
		value := strings.TrimSpace(raw)
		if value == "" {
			continue
		}

		if addr, err := netip.ParseAddr(value); err == nil {
			addr = addr.Unmap()
			resolver.trustedProxies = append(resolver.trustedProxies, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}

		prefix, err := netip.ParsePrefix(value)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", value, err)
		}
		resolver.trustedProxies = append(resolver.trustedProxies, prefix.Masked())
	}

	return resolver, nil
}

func (r *ClientIPResolver) Resolve(req *http.Request) string {
	peer, ok := parseHostAddr(req.RemoteAddr)
	if !ok {
		return unknownClientIP
	}

	if r.trusted(peer) {
		if forwarded, ok := firstForwardedFor(req.Header.Get("X-Forwarded-For")); ok {
			return forwarded.String()
		}
		if realIP, ok := parseHostAddr(req.Header.Get("X-Real-IP")); ok {
			return realIP.String()
		}
	}

	return peer.String()
}

// RequestMeta collects the request attributes that identify a device.
func (r *ClientIPResolver) RequestMeta(req *http.Request) devices.RequestMeta {
	return devices.RequestMeta{
		UserAgent:      req.UserAgent(),
		AcceptLanguage: req.Header.Get("Accept-Language"),
		AcceptEncoding: req.Header.Get("Accept-Encoding"),
		ClientIP:       r.Resolve(req),
	}
}

func (r *ClientIPResolver) trusted(addr netip.Addr) bool {
	for _, prefix := range r.trustedProxies {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// firstForwardedFor returns the left-most parseable entry of an
// X-Forwarded-For chain.
func firstForwardedFor(header string) (netip.Addr, bool) {
	for part := range strings.SplitSeq(header, ",") {
		if addr, ok := parseHostAddr(part); ok {
			return addr, true
		}
	}
	return netip.Addr{}, false
}

// parseHostAddr accepts "ip", "ip:port", "[v6]:port" and quoted forms.
func parseHostAddr(value string) (netip.Addr, bool) {
	value = strings.Trim(strings.TrimSpace(value), `"`)
	if value == "" {
		return netip.Addr{}, false
	}

	if addr, err := netip.ParseAddr(value); err == nil {
		return addr.Unmap(), true
	}

	host, _, err := net.SplitHostPort(value)
	if err != nil {
		return netip.Addr{}, false
	}
	addr, err := netip.ParseAddr(strings.Trim(host, "[]"))
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}
