//go:build linux
// +build linux

// File: transport/udp/udp_linux.go
// Package udp implements a non-blocking datagram socket for message channels.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Every read attempt receives at most one datagram. It lands in a scratch
// buffer large enough for any UDP payload and is copied out at its exact
// length. Writes never block: a full send buffer reports the datagram as not
// written so the channel waits for writability.

package udp

import (
	"errors"
	"fmt"
	"net/netip"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-nio/api"
	"github.com/momentics/hioload-nio/channel"
	"github.com/momentics/hioload-nio/transport"
)

// Datagram is the message type read from and written to a Socket.
type Datagram struct {
	Data []byte
	Addr netip.AddrPort
}

// ErrUnsupportedMessage is returned for writes of anything but a Datagram.
var ErrUnsupportedMessage = errors.New("udp: message is not a Datagram")

// maxDatagram covers the largest payload of a non-jumbo UDP datagram.
const maxDatagram = 1 << 16

// Socket is a bound, non-blocking UDP socket. It implements
// channel.MessageIO.
type Socket struct {
	fd      int
	local   netip.AddrPort
	closed  atomic.Bool
	scratch []byte // loop-owned
}

var _ channel.MessageIO = (*Socket)(nil)

// Listen binds a UDP socket to addr.
func Listen(addr string) (*Socket, error) {
	ap, err := transport.Resolve("udp", addr)
	if err != nil {
		return nil, err
	}
	fd, local, err := transport.Bind(ap, unix.SOCK_DGRAM)
	if err != nil {
		return nil, fmt.Errorf("udp listen %s: %w", addr, err)
	}
	return &Socket{fd: fd, local: local, scratch: make([]byte, maxDatagram)}, nil
}

// FD returns the socket descriptor.
func (s *Socket) FD() int { return s.fd }

// LocalAddr returns the bound address.
func (s *Socket) LocalAddr() netip.AddrPort { return s.local }

// ReadMessages receives one datagram if available. A datagram that does
// not fit the scratch buffer is dropped and reported as
// api.ErrMessageTruncated, which keeps the channel open.
func (s *Socket) ReadMessages(buf *[]any, alloc channel.AllocatorHandle) (int, error) {
	// MSG_TRUNC makes n the real datagram length even when it was cut
	n, _, _, from, err := unix.Recvmsg(s.fd, s.scratch, nil, unix.MSG_DONTWAIT|unix.MSG_TRUNC)
	if err != nil {
		return 0, mapError("recvmsg", err)
	}
	alloc.IncBytesRead(n)
	if n > len(s.scratch) {
		return 0, fmt.Errorf("%w: %d bytes from %v: %w", api.ErrMessageTruncated, n,
			transport.AddrPort(from), api.NewIOError("recvmsg", unix.EMSGSIZE))
	}
	data := make([]byte, n)
	copy(data, s.scratch[:n])
	*buf = append(*buf, Datagram{Data: data, Addr: transport.AddrPort(from)})
	return 1, nil
}

// WriteMessage sends one Datagram. It reports false without error when the
// socket send buffer is full.
func (s *Socket) WriteMessage(msg any, _ *channel.OutboundBuffer) (bool, error) {
	var d Datagram
	switch m := msg.(type) {
	case Datagram:
		d = m
	case *Datagram:
		d = *m
	default:
		return false, fmt.Errorf("%w: %T", ErrUnsupportedMessage, msg)
	}
	sa, _ := transport.Sockaddr(d.Addr)
	if err := unix.Sendto(s.fd, d.Data, unix.MSG_DONTWAIT, sa); err != nil {
		if err == unix.EAGAIN {
			return false, nil
		}
		return false, mapError("sendto", err)
	}
	return true, nil
}

// mapError turns EAGAIN into "nothing available" and ICMP port-unreachable
// reports into api.ErrPortUnreachable.
func mapError(op string, err error) error {
	switch err {
	case unix.EAGAIN:
		return nil
	case unix.ECONNREFUSED:
		return fmt.Errorf("%w: %w", api.ErrPortUnreachable, api.NewIOError(op, err))
	}
	return api.NewIOError(op, err)
}

// IsActive reports whether the socket is open.
func (s *Socket) IsActive() bool { return !s.closed.Load() }

// Listening is always false for datagram sockets.
func (s *Socket) Listening() bool { return false }

// Close closes the socket once.
func (s *Socket) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return unix.Close(s.fd)
}
