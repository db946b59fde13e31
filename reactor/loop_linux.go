//go:build linux
// +build linux

// File: reactor/loop_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// EventLoop runs on a goroutine locked to one OS thread. Each tick waits for
// readiness, dispatches it to the registered handlers and then runs a
// bounded batch of queued tasks. Descriptor registration is owned by the
// loop and must happen on it.

package reactor

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/eapache/queue"
	"github.com/sourcegraph/conc/panics"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-nio/affinity"
	"github.com/momentics/hioload-nio/api"
	"github.com/momentics/hioload-nio/internal/metrics"
)

const (
	stateNew int32 = iota
	stateRunning
	stateShuttingDown
	stateClosed
)

type registration struct {
	h        api.IOHandler
	interest api.Interest
}

// EventLoop is a single-threaded reactor. It implements api.Loop.
type EventLoop struct {
	opts   options
	logger *zap.Logger
	poller *poller

	mu     sync.Mutex
	tasks  *queue.Queue
	closed bool

	state       atomic.Int32
	tid         atomic.Int64
	wakePending atomic.Bool
	done        chan struct{}

	// loop-owned
	handlers map[int]*registration
}

var _ api.Loop = (*EventLoop)(nil)

// New creates a loop. It does not start it; call Run.
func New(opts ...Option) (*EventLoop, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	p, err := newPoller()
	if err != nil {
		return nil, fmt.Errorf("create event loop: %w", err)
	}
	return &EventLoop{
		opts:     o,
		logger:   o.logger,
		poller:   p,
		tasks:    queue.New(),
		done:     make(chan struct{}),
		handlers: make(map[int]*registration),
	}, nil
}

// Run drives the loop until ctx is done or Shutdown is called. Tasks still
// queued at that point are run before Run returns, and handlers that can be
// closed are closed first.
func (l *EventLoop) Run(ctx context.Context) error {
	if !l.state.CompareAndSwap(stateNew, stateRunning) {
		return api.ErrLoopClosed
	}
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	l.tid.Store(int64(unix.Gettid()))
	defer l.shutdown()

	if l.opts.cpu >= 0 {
		if err := affinity.SetAffinity(l.opts.cpu); err != nil {
			l.logger.Warn("failed to pin event loop", zap.Int("cpu", l.opts.cpu), zap.Error(err))
		}
	}

	stop := context.AfterFunc(ctx, l.Shutdown)
	defer stop()

	l.logger.Debug("event loop started", zap.Int64("tid", l.tid.Load()))

	events := make([]unix.EpollEvent, l.opts.maxEvents)
	bo := l.opts.newBackoff()
	for l.state.Load() == stateRunning {
		timeout := -1
		if l.pendingTasks() > 0 {
			timeout = 0
		}
		n, err := l.poller.wait(events, timeout)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			metrics.LoopPollErrors.Inc()
			d := bo.NextBackOff()
			if d == backoff.Stop {
				return fmt.Errorf("event loop wait: %w", api.NewIOError("epoll_wait", err))
			}
			l.logger.Warn("readiness wait failed, retrying", zap.Error(err), zap.Duration("backoff", d))
			time.Sleep(d)
			continue
		}
		bo.Reset()
		metrics.LoopWakeups.Inc()

		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			if fd == l.poller.wakefd {
				l.poller.drainWake()
				l.wakePending.Store(false)
				continue
			}
			reg, ok := l.handlers[fd]
			if !ok {
				continue
			}
			if ready := fromEpoll(events[i].Events, reg.interest); ready != 0 {
				l.dispatch(fd, reg.h, ready)
			}
		}
		l.runTasks(l.opts.maxTasksPerTick)
	}
	return nil
}

func (l *EventLoop) dispatch(fd int, h api.IOHandler, ready api.Interest) {
	if r := panics.Try(func() { h.HandleIO(ready) }); r != nil {
		l.logger.Error("I/O handler panicked", zap.Int("fd", fd), zap.Stringer("ready", ready), zap.Error(r.AsError()))
	}
}

// runTasks runs up to limit queued tasks, or all of them when limit <= 0.
func (l *EventLoop) runTasks(limit int) int {
	ran := 0
	for limit <= 0 || ran < limit {
		l.mu.Lock()
		if l.tasks.Length() == 0 {
			l.mu.Unlock()
			break
		}
		task := l.tasks.Remove().(func())
		l.mu.Unlock()

		if r := panics.Try(task); r != nil {
			l.logger.Error("task panicked", zap.Error(r.AsError()))
		}
		ran++
	}
	metrics.LoopTasks.Add(float64(ran))
	return ran
}

func (l *EventLoop) pendingTasks() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tasks.Length()
}

// shutdown closes the remaining handlers, drains the task queue and releases
// the poller. It runs on the loop thread.
func (l *EventLoop) shutdown() {
	for fd, reg := range l.handlers {
		if c, ok := reg.h.(interface{ Close() error }); ok {
			if r := panics.Try(func() { _ = c.Close() }); r != nil {
				l.logger.Error("closing handler panicked", zap.Int("fd", fd), zap.Error(r.AsError()))
			}
		}
	}
	l.runTasks(0)

	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	// tasks that slipped in before the queue closed
	l.runTasks(0)

	for fd := range l.handlers {
		_ = l.poller.del(fd)
		delete(l.handlers, fd)
	}
	if err := l.poller.close(); err != nil {
		l.logger.Warn("failed to release poller", zap.Error(err))
	}
	l.tid.Store(0)
	l.state.Store(stateClosed)
	close(l.done)
	l.logger.Debug("event loop stopped")
}

// Shutdown asks the loop to stop. A loop that never ran is released at once.
func (l *EventLoop) Shutdown() {
	if l.state.CompareAndSwap(stateNew, stateClosed) {
		l.mu.Lock()
		l.closed = true
		l.mu.Unlock()
		_ = l.poller.close()
		close(l.done)
		return
	}
	if l.state.CompareAndSwap(stateRunning, stateShuttingDown) {
		l.wake()
	}
}

// Done is closed once the loop has stopped and released its resources.
func (l *EventLoop) Done() <-chan struct{} { return l.done }

// Execute queues task to run on the loop. Tasks run in submission order.
func (l *EventLoop) Execute(task func()) error {
	if task == nil {
		return nil
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return api.ErrLoopClosed
	}
	l.tasks.Add(task)
	l.mu.Unlock()

	if !l.InEventLoop() {
		l.wake()
	}
	return nil
}

func (l *EventLoop) wake() {
	if !l.wakePending.CompareAndSwap(false, true) {
		return
	}
	if err := l.poller.wake(); err != nil {
		l.wakePending.Store(false)
		l.logger.Warn("failed to wake event loop", zap.Error(err))
	}
}

// InEventLoop reports whether the caller runs on the loop thread.
func (l *EventLoop) InEventLoop() bool {
	tid := l.tid.Load()
	return tid != 0 && tid == int64(unix.Gettid())
}

// Register starts watching fd for interest and dispatches readiness to h.
func (l *EventLoop) Register(fd int, interest api.Interest, h api.IOHandler) error {
	if !l.InEventLoop() {
		return api.ErrNotInEventLoop
	}
	if _, ok := l.handlers[fd]; ok {
		return api.ErrAlreadyRegistered.WithContext("fd", fd)
	}
	if err := l.poller.add(fd, interest); err != nil {
		return err
	}
	l.handlers[fd] = &registration{h: h, interest: interest}
	return nil
}

// UpdateInterest replaces the interest set of a registered fd.
func (l *EventLoop) UpdateInterest(fd int, interest api.Interest) error {
	if !l.InEventLoop() {
		return api.ErrNotInEventLoop
	}
	reg, ok := l.handlers[fd]
	if !ok {
		return api.ErrNotRegistered.WithContext("fd", fd)
	}
	if reg.interest == interest {
		return nil
	}
	if err := l.poller.mod(fd, interest); err != nil {
		return err
	}
	reg.interest = interest
	return nil
}

// Deregister stops watching fd.
func (l *EventLoop) Deregister(fd int) error {
	if !l.InEventLoop() {
		return api.ErrNotInEventLoop
	}
	if _, ok := l.handlers[fd]; !ok {
		return api.ErrNotRegistered.WithContext("fd", fd)
	}
	delete(l.handlers, fd)
	return l.poller.del(fd)
}

// Registered returns the number of registered descriptors. Call it on the
// loop only.
func (l *EventLoop) Registered() int { return len(l.handlers) }

// Pending returns the number of queued tasks. It is safe to call from any
// goroutine.
func (l *EventLoop) Pending() int { return l.pendingTasks() }
