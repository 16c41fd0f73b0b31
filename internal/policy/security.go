package policy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ErrDisallowedTarget is returned when a fetch target resolves to a
// non-public network location. Callers must treat it as a hard rejection,
// never as a retryable fetch failure.
var ErrDisallowedTarget = errors.New("only publicly reachable hosts are allowed")

// Resolver is the name-resolution seam used by the host gate.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// HostGate validates that outbound fetch targets resolve to public
// addresses before any request is issued. It is the anti-SSRF
// precondition for web ingestion.
type HostGate struct {
	resolver Resolver
}

// NewHostGate constructs a HostGate. A nil resolver uses net.DefaultResolver.
func NewHostGate(resolver Resolver) *HostGate {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	return &HostGate{resolver: resolver}
}

// CheckURL parses raw and applies CheckHost to its hostname.
func (g *HostGate) CheckURL(ctx context.Context, raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("url missing host: %s", raw)
	}
	return g.CheckHost(ctx, host)
}

// CheckHost resolves host and rejects it when any resolved address is
// private, loopback, link-local, multicast, unspecified or otherwise
// non-global. Every address must pass: a host with one public and one
// internal address is still rejected.
func (g *HostGate) CheckHost(ctx context.Context, host string) error {
	host = strings.TrimSpace(host)
	if host == "" {
		return fmt.Errorf("empty host")
	}
	if ip := net.ParseIP(host); ip != nil {
		if disallowedIP(ip) {
			return fmt.Errorf("%w: %s", ErrDisallowedTarget, host)
		}
		return nil
	}
	addrs, err := g.resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return fmt.Errorf("resolve host %s: %w", host, err)
	}
	if len(addrs) == 0 {
		return fmt.Errorf("host %s resolved to no addresses", host)
	}
	for _, addr := range addrs {
		if disallowedIP(addr.IP) {
			return fmt.Errorf("%w: %s", ErrDisallowedTarget, host)
		}
	}
	return nil
}

func disallowedIP(ip net.IP) bool {
	switch {
	case ip.IsPrivate(),
		ip.IsLoopback(),
		ip.IsLinkLocalUnicast(),
		ip.IsLinkLocalMulticast(),
		ip.IsMulticast(),
		ip.IsUnspecified():
		return true
	}
	// Reject anything else that is not global unicast (reserved ranges, etc.).
	return !ip.IsGlobalUnicast()
}
