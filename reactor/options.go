// File: reactor/options.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package reactor

import (
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

const (
	defaultMaxEvents       = 256
	defaultMaxTasksPerTick = 64
)

type options struct {
	logger          *zap.Logger
	maxEvents       int
	maxTasksPerTick int
	newBackoff      func() backoff.BackOff
	cpu             int
	pin             bool
}

func defaultOptions() options {
	return options{
		logger:          zap.NewNop(),
		maxEvents:       defaultMaxEvents,
		maxTasksPerTick: defaultMaxTasksPerTick,
		newBackoff:      defaultBackoff,
		cpu:             -1,
	}
}

// defaultBackoff paces poll retries and gives up after a minute of
// uninterrupted failures.
func defaultBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Millisecond
	b.MaxInterval = time.Second
	b.MaxElapsedTime = time.Minute
	return b
}

// Option configures an EventLoop.
type Option func(*options)

// WithLogger sets the loop logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMaxEvents bounds the readiness events taken per wait.
func WithMaxEvents(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxEvents = n
		}
	}
}

// WithMaxTasksPerTick bounds the tasks run between two waits so that a busy
// task queue cannot starve I/O.
func WithMaxTasksPerTick(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxTasksPerTick = n
		}
	}
}

// WithBackoff replaces the retry policy for failed waits. A policy that
// returns backoff.Stop makes Run fail.
func WithBackoff(fn func() backoff.BackOff) Option {
	return func(o *options) {
		if fn != nil {
			o.newBackoff = fn
		}
	}
}

// WithCPU pins the loop thread to cpu once Run starts. A negative cpu leaves
// the thread unpinned.
func WithCPU(cpu int) Option {
	return func(o *options) { o.cpu = cpu }
}

// WithPinning makes NewGroup pin loop i to CPU i modulo the CPU count.
// It has no effect on a loop created with New.
func WithPinning(pin bool) Option {
	return func(o *options) { o.pin = pin }
}
