//go:build linux
// +build linux

// File: transport/tcp/acceptor_linux.go
// Package tcp implements a non-blocking listening socket for message channels.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// An Acceptor is a listening channel's MessageIO: each read attempt accepts
// one pending connection and delivers it as an Accepted message.

package tcp

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

const defaultBacklog = 128

// Accepted is a connection taken from the listen queue. The handler that
// consumes it owns FD and must close it.
type Accepted struct {
	FD   int
	Peer netip.AddrPort
}

// Close closes the accepted descriptor.
func (a Accepted) Close() error { return unix.Close(a.FD) }

// ErrWriteUnsupported is returned for any write on an Acceptor.
var ErrWriteUnsupported = errors.New("tcp: acceptor does not write")

// Acceptor is a bound, listening, non-blocking TCP socket. It implements
// channel.MessageIO.
type Acceptor struct {
	fd     int
	local  netip.AddrPort
	closed atomic.Bool
}

var _ channel.MessageIO = (*Acceptor)(nil)

// Listen opens a TCP listening socket on addr. A backlog <= 0 uses 128.
func Listen(addr string, backlog int) (*Acceptor, error) {
	if backlog <= 0 {
		backlog = defaultBacklog
	}
	ap, err := transport.Resolve("tcp", addr)
	if err != nil {
		return nil, err
	}
	fd, local, err := transport.Bind(ap, unix.SOCK_STREAM)
	if err != nil {
		return nil, fmt.Errorf("tcp listen %s: %w", addr, err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("tcp listen %s: %w", addr, api.NewIOError("listen", err))
	}
	return &Acceptor{fd: fd, local: local}, nil
}

// FD returns the listening descriptor.
func (a *Acceptor) FD() int { return a.fd }

// LocalAddr returns the bound address.
func (a *Acceptor) LocalAddr() netip.AddrPort { return a.local }

// ReadMessages accepts one pending connection. The new descriptor is
// non-blocking.
func (a *Acceptor) ReadMessages(buf *[]any, _ channel.AllocatorHandle) (int, error) {
	nfd, sa, err := unix.Accept4(a.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		switch err {
		case unix.EAGAIN, unix.ECONNABORTED:
			return 0, nil
		}
		return 0, api.NewIOError("accept4", err)
	}
	*buf = append(*buf, Accepted{FD: nfd, Peer: transport.AddrPort(sa)})
	return 1, nil
}

func (a *Acceptor) WriteMessage(msg any, _ *channel.OutboundBuffer) (bool, error) {
	return false, fmt.Errorf("%w: %T", ErrWriteUnsupported, msg)
}

// IsActive reports whether the socket is open.
func (a *Acceptor) IsActive() bool { return !a.closed.Load() }

// Listening is always true.
func (a *Acceptor) Listening() bool { return true }

// Close closes the listening socket once.
func (a *Acceptor) Close() error {
	if !a.closed.CompareAndSwap(false, true) {
		return nil
	}
	return unix.Close(a.fd)
}
