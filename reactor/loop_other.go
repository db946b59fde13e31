//go:build !linux
// +build !linux

// File: reactor/loop_other.go
// Author: momentics <momentics@gmail.com>
//
// Stub implementation for unsupported platforms.

package reactor

import (
	"context"
	"errors"

	"github.com/momentics/hioload-nio/api"
)

var errUnsupported = errors.New("reactor: this platform is not supported")

// EventLoop is unavailable on this platform.
type EventLoop struct{}

var _ api.Loop = (*EventLoop)(nil)

// New returns an error for unsupported platforms.
func New(opts ...Option) (*EventLoop, error) {
	return nil, errUnsupported
}

func (l *EventLoop) Run(ctx context.Context) error { return errUnsupported }

func (l *EventLoop) Shutdown() {}

func (l *EventLoop) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

func (l *EventLoop) Execute(task func()) error { return api.ErrLoopClosed }

func (l *EventLoop) InEventLoop() bool { return false }

func (l *EventLoop) Register(fd int, interest api.Interest, h api.IOHandler) error {
	return errUnsupported
}

func (l *EventLoop) UpdateInterest(fd int, interest api.Interest) error { return errUnsupported }

func (l *EventLoop) Deregister(fd int) error { return errUnsupported }

func (l *EventLoop) Registered() int { return 0 }

func (l *EventLoop) Pending() int { return 0 }
