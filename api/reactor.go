// File: api/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Readiness interest bits and the registration contract of an event loop.

package api

import "strings"

// Interest is a set of readiness conditions a descriptor is watched for.
type Interest uint8

const (
	InterestRead Interest = 1 << iota
	InterestWrite
	InterestAccept
	// InterestError is reported only, never requested.
	InterestError
	// InterestHangup is reported only, never requested.
	InterestHangup
)

func (i Interest) String() string {
	if i == 0 {
		return "none"
	}
	var parts []string
	for _, b := range []struct {
		bit  Interest
		name string
	}{
		{InterestRead, "read"},
		{InterestWrite, "write"},
		{InterestAccept, "accept"},
		{InterestError, "error"},
		{InterestHangup, "hangup"},
	} {
		if i&b.bit != 0 {
			parts = append(parts, b.name)
		}
	}
	return strings.Join(parts, "|")
}

// IOHandler receives readiness notifications for a registered descriptor.
// It is always called on the owning event loop.
type IOHandler interface {
	HandleIO(ready Interest)
}

// Registrar binds descriptors to an event loop. All methods must be called
// on that loop.
type Registrar interface {
	Register(fd int, interest Interest, h IOHandler) error
	UpdateInterest(fd int, interest Interest) error
	Deregister(fd int) error
}

// Loop is an executor that also owns a readiness registration table.
type Loop interface {
	Executor
	Registrar
}
