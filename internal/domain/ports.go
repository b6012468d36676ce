package domain

import (
	"context"
	"net"
)

// Resolver turns a hostname into the first IPv4 endpoint of the resolver's
// result set. No fallback across addresses is attempted.
type Resolver interface {
	Resolve(ctx context.Context, host string, port uint16) (Endpoint, error)
}

// Firewall decides whether a SOCKS command may reach a destination.
type Firewall interface {
	Allow(cmd byte, ip net.IP) bool
}
