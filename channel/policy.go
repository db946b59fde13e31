// File: channel/policy.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package channel

import (
	"errors"
	"net"
	"os"
	"syscall"

	"github.com/momentics/hioload-nio/api"
)

// ShouldCloseOnReadError decides whether a read failure closes the channel.
// An inactive channel always closes. An unreachable peer or a truncated
// datagram is a per-datagram condition and keeps the channel open. Other I/O failures close the channel
// unless it is listening, since an acceptor can usually recover from e.g.
// running out of descriptors. Any other error closes.
func ShouldCloseOnReadError(err error, active, listening bool) bool {
	if !active {
		return true
	}
	if IsPortUnreachable(err) || errors.Is(err, api.ErrMessageTruncated) {
		return false
	}
	if IsIOError(err) {
		return !listening
	}
	return true
}

// IsPortUnreachable reports an ICMP port-unreachable condition.
func IsPortUnreachable(err error) bool {
	return errors.Is(err, api.ErrPortUnreachable) || errors.Is(err, syscall.ECONNREFUSED)
}

// IsIOError reports whether err comes from the transport.
func IsIOError(err error) bool {
	var (
		ioErr  *api.IOError
		errno  syscall.Errno
		sysErr *os.SyscallError
		opErr  *net.OpError
	)
	return errors.As(err, &ioErr) ||
		errors.As(err, &errno) ||
		errors.As(err, &sysErr) ||
		errors.As(err, &opErr)
}
