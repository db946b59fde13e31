//go:build linux
// +build linux

// File: transport/sockaddr_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Conversions between netip addresses and raw socket addresses.

package transport

import (
	"fmt"
	"net"
	"net/netip"

	"golang.org/x/sys/unix"
)

// Resolve turns a host:port string for network ("udp" or "tcp") into an
// address. An empty host means the IPv4 wildcard.
func Resolve(network, addr string) (netip.AddrPort, error) {
	var ap netip.AddrPort
	switch network {
	case "udp":
		a, err := net.ResolveUDPAddr(network, addr)
		if err != nil {
			return ap, fmt.Errorf("resolve %s address %q: %w", network, addr, err)
		}
		ap = a.AddrPort()
	case "tcp":
		a, err := net.ResolveTCPAddr(network, addr)
		if err != nil {
			return ap, fmt.Errorf("resolve %s address %q: %w", network, addr, err)
		}
		ap = a.AddrPort()
	default:
		return ap, fmt.Errorf("unsupported network %q", network)
	}
	if !ap.Addr().IsValid() {
		ap = netip.AddrPortFrom(netip.IPv4Unspecified(), ap.Port())
	}
	return ap, nil
}

// Sockaddr returns the raw address for ap and its address family.
func Sockaddr(ap netip.AddrPort) (unix.Sockaddr, int) {
	addr := ap.Addr()
	if addr.Is4() || addr.Is4In6() {
		return &unix.SockaddrInet4{Port: int(ap.Port()), Addr: addr.Unmap().As4()}, unix.AF_INET
	}
	return &unix.SockaddrInet6{Port: int(ap.Port()), Addr: addr.As16()}, unix.AF_INET6
}

// AddrPort converts a raw address back; unknown families yield the zero value.
func AddrPort(sa unix.Sockaddr) netip.AddrPort {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(sa.Addr), uint16(sa.Port))
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(sa.Addr).Unmap(), uint16(sa.Port))
	}
	return netip.AddrPort{}
}

// Bind creates a non-blocking socket of sotype, enables address reuse and
// binds it to ap. It returns the descriptor and the bound local address.
func Bind(ap netip.AddrPort, sotype int) (int, netip.AddrPort, error) {
	sa, family := Sockaddr(ap)
	fd, err := unix.Socket(family, sotype|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, netip.AddrPort{}, fmt.Errorf("socket create: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, netip.AddrPort{}, fmt.Errorf("set SO_REUSEADDR: %w", err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, netip.AddrPort{}, fmt.Errorf("bind %s: %w", ap, err)
	}
	local, err := unix.Getsockname(fd)
	if err != nil {
		unix.Close(fd)
		return -1, netip.AddrPort{}, fmt.Errorf("getsockname: %w", err)
	}
	return fd, AddrPort(local), nil
}
