// Package fake
// Author: momentics <momentics@gmail.com>
//
// Fake implementations for testing and development.
// Provides predictable, controllable behavior for the loop and transport
// contracts without touching the operating system.

package fake

import (
	"sync"

	"github.com/momentics/hioload-nio/api"
)

// Registration is what a Loop records for a registered descriptor.
type Registration struct {
	Handler  api.IOHandler
	Interest api.Interest
}

// Loop is a deterministic api.Loop. By default it is synchronous: the
// caller is always "on the loop" and Execute runs tasks inline. In foreign
// mode Execute queues tasks until RunPending is called, and only code run
// by RunPending is on the loop.
type Loop struct {
	mu         sync.Mutex
	foreign    bool
	running    bool
	closed     bool
	pending    []func()
	regs       map[int]*Registration
	updateErr  error
	executions int
}

var _ api.Loop = (*Loop)(nil)

// NewLoop returns a synchronous loop.
func NewLoop() *Loop {
	return &Loop{regs: make(map[int]*Registration)}
}

// NewForeignLoop returns a loop in foreign mode.
func NewForeignLoop() *Loop {
	l := NewLoop()
	l.foreign = true
	return l
}

// Execute runs task inline, or queues it in foreign mode.
func (l *Loop) Execute(task func()) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return api.ErrLoopClosed
	}
	l.executions++
	if l.foreign {
		l.pending = append(l.pending, task)
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()
	task()
	return nil
}

// InEventLoop is true for a synchronous loop and inside RunPending.
func (l *Loop) InEventLoop() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.foreign || l.running
}

// RunPending runs queued tasks, including those they queue, and returns
// how many ran.
func (l *Loop) RunPending() int {
	ran := 0
	for {
		l.mu.Lock()
		if len(l.pending) == 0 {
			l.running = false
			l.mu.Unlock()
			return ran
		}
		task := l.pending[0]
		l.pending = l.pending[1:]
		l.running = true
		l.mu.Unlock()

		task()
		ran++
	}
}

// Pending returns the number of queued tasks.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// Executions returns how many tasks were submitted.
func (l *Loop) Executions() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.executions
}

// Close makes Execute fail with api.ErrLoopClosed.
func (l *Loop) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
}

// FailUpdates makes UpdateInterest fail with err; nil restores success.
func (l *Loop) FailUpdates(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.updateErr = err
}

func (l *Loop) Register(fd int, interest api.Interest, h api.IOHandler) error {
	if !l.InEventLoop() {
		return api.ErrNotInEventLoop
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.regs[fd]; ok {
		return api.ErrAlreadyRegistered.WithContext("fd", fd)
	}
	l.regs[fd] = &Registration{Handler: h, Interest: interest}
	return nil
}

func (l *Loop) UpdateInterest(fd int, interest api.Interest) error {
	if !l.InEventLoop() {
		return api.ErrNotInEventLoop
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	reg, ok := l.regs[fd]
	if !ok {
		return api.ErrNotRegistered.WithContext("fd", fd)
	}
	if l.updateErr != nil {
		return l.updateErr
	}
	reg.Interest = interest
	return nil
}

func (l *Loop) Deregister(fd int) error {
	if !l.InEventLoop() {
		return api.ErrNotInEventLoop
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.regs[fd]; !ok {
		return api.ErrNotRegistered.WithContext("fd", fd)
	}
	delete(l.regs, fd)
	return nil
}

// Interest returns the interest registered for fd.
func (l *Loop) Interest(fd int) (api.Interest, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	reg, ok := l.regs[fd]
	if !ok {
		return 0, false
	}
	return reg.Interest, true
}

// Registered reports whether fd is registered.
func (l *Loop) Registered(fd int) bool {
	_, ok := l.Interest(fd)
	return ok
}

// Fire delivers a readiness notification for fd as the loop would. It
// reports false when fd is not registered.
func (l *Loop) Fire(fd int, ready api.Interest) bool {
	l.mu.Lock()
	reg, ok := l.regs[fd]
	l.mu.Unlock()
	if !ok {
		return false
	}
	reg.Handler.HandleIO(ready)
	return true
}
