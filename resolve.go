package piaf

import (
	"context"
	"fmt"
	"net"
)

// IPResolver resolves a hostname to candidate addresses. *net.Resolver
// satisfies it, and tests inject fakes.
type IPResolver interface {
	LookupIP(ctx context.Context, network, host string) ([]net.IP, error)
}

// resolveAddress resolves host to its first IPv4 address. Exactly one
// candidate is selected; later addresses are never tried, so a connect
// failure is not retried against them.
func resolveAddress(ctx context.Context, r IPResolver, host string, port int) (*net.TCPAddr, error) {
	ips, err := r.LookupIP(ctx, "ip4", host)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnresolvedHost, host, err)
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnresolvedHost, host)
	}
	return &net.TCPAddr{IP: ips[0], Port: port}, nil
}
