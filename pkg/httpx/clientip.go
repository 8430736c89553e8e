package httpx

import (
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"strings"
)

// ClientIP resolves the address a request is attributed to. X-Forwarded-For
// and X-Real-IP are only believed when the connection itself comes from a
// trusted proxy; anyone else could put whatever they like in them. A nil
// *ClientIP trusts nobody.
type ClientIP struct {
	trusted []netip.Prefix
}

// NewClientIP trusts forwarding headers from the given proxies.
func NewClientIP(trusted []netip.Prefix) *ClientIP {
	return &ClientIP{trusted: trusted}
}

// ParseTrustedProxies parses single addresses and CIDR prefixes, e.g.
// "10.0.0.0/8" or "192.168.1.10".
func ParseTrustedProxies(entries []string) ([]netip.Prefix, error) {
	var (
		out  []netip.Prefix
		errs []error
	)
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if strings.Contains(e, "/") {
			p, err := netip.ParsePrefix(e)
			if err != nil {
				errs = append(errs, fmt.Errorf("trusted proxy %q: %w", e, err))
				continue
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(e)
		if err != nil {
			errs = append(errs, fmt.Errorf("trusted proxy %q: %w", e, err))
			continue
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, errors.Join(errs...)
}

// Of returns the client address of r.
//
// Behind trusted proxies X-Forwarded-For is walked from the nearest hop
// outwards and the first address that is not a trusted proxy wins. Hops
// further left were written by the client and are never used.
func (c *ClientIP) Of(r *http.Request) string {
	remote, ok := remoteAddr(r.RemoteAddr)
	if !ok {
		return r.RemoteAddr
	}
	if !c.trusts(remote) {
		return remote.String()
	}

	hops := forwardedFor(r.Header)
	last := remote
	for i := len(hops) - 1; i >= 0; i-- {
		hop, err := netip.ParseAddr(hops[i])
		if err != nil {
			break
		}
		hop = hop.Unmap()
		if !c.trusts(hop) {
			return hop.String()
		}
		last = hop
	}
	if len(hops) > 0 {
		return last.String()
	}

	if xri, err := netip.ParseAddr(strings.TrimSpace(r.Header.Get("X-Real-IP"))); err == nil {
		return xri.Unmap().String()
	}
	return remote.String()
}

func (c *ClientIP) trusts(addr netip.Addr) bool {
	if c == nil {
		return false
	}
	for _, p := range c.trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func remoteAddr(s string) (netip.Addr, bool) {
	if ap, err := netip.ParseAddrPort(s); err == nil {
		return ap.Addr().Unmap(), true
	}
	if a, err := netip.ParseAddr(s); err == nil {
		return a.Unmap(), true
	}
	return netip.Addr{}, false
}

// forwardedFor flattens every X-Forwarded-For header, leftmost first.
func forwardedFor(h http.Header) []string {
	var hops []string
	for _, v := range h.Values("X-Forwarded-For") {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				hops = append(hops, part)
			}
		}
	}
	return hops
}
