package vox

import (
	"fmt"
	"net/netip"
)

// AddrFamily identifies the address family carried by an Addr, per
// spec.md §6's tagged `{family: V4|V6, bytes: 4|16, port: u16}` union.
type AddrFamily uint8

const (
	// FamilyV4 marks a 4-byte IPv4 address.
	FamilyV4 AddrFamily = iota
	// FamilyV6 marks a 16-byte IPv6 address.
	FamilyV6
)

// String implements fmt.Stringer.
func (f AddrFamily) String() string {
	switch f {
	case FamilyV4:
		return "v4"
	case FamilyV6:
		return "v6"
	default:
		return "unknown"
	}
}

// Addr is the tagged socket address union used throughout the TCP/UDP/DNS
// surfaces, built on stdlib net/netip rather than a hand-rolled byte
// union, since netip.Addr already provides the zero-allocation, value-
// type representation spec.md's "bytes: 4|16" union is modeling.
type Addr struct {
	ip   netip.Addr
	port uint16
}

// AddrFromNetip builds an Addr from a netip.Addr and port.
func AddrFromNetip(ip netip.Addr, port uint16) Addr {
	return Addr{ip: ip.Unmap(), port: port}
}

// ParseAddr parses a "host:port" string into an Addr. Host must be a
// literal IPv4/IPv6 address (no DNS resolution; use Resolver for that).
func ParseAddr(hostport string) (Addr, error) {
	ap, err := netip.ParseAddrPort(hostport)
	if err != nil {
		return Addr{}, &TypeError{Cause: err, Message: fmt.Sprintf("vox: invalid address %q", hostport)}
	}
	return AddrFromNetip(ap.Addr(), ap.Port()), nil
}

// Family reports whether a is an IPv4 or IPv6 address.
func (a Addr) Family() AddrFamily {
	if a.ip.Is4() {
		return FamilyV4
	}
	return FamilyV6
}

// Port returns the 16-bit port number.
func (a Addr) Port() uint16 { return a.port }

// IsValid reports whether a carries a usable IP address.
func (a Addr) IsValid() bool { return a.ip.IsValid() }

// Bytes returns the address's raw 4 or 16 byte representation.
func (a Addr) Bytes() []byte {
	b := a.ip.As16()
	if a.ip.Is4() {
		b4 := a.ip.As4()
		return b4[:]
	}
	return b[:]
}

// Netip returns the netip.Addr view of a, for interop with stdlib net
// and golang.org/x/sys/unix sockaddr conversions.
func (a Addr) Netip() netip.Addr { return a.ip }

// AddrPort returns the combined netip.AddrPort view of a.
func (a Addr) AddrPort() netip.AddrPort { return netip.AddrPortFrom(a.ip, a.port) }

// String implements fmt.Stringer, formatting as "host:port".
func (a Addr) String() string {
	if !a.ip.IsValid() {
		return "<invalid>"
	}
	return a.AddrPort().String()
}
