// File: channel/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package channel

import (
	"go.uber.org/zap"
)

// Config holds the per-channel tunables.
type Config struct {
	// WriteSpinCount bounds the immediate write attempts on one entry before
	// the channel waits for writability.
	WriteSpinCount int
	// AutoRead keeps read interest registered after every wake-up.
	AutoRead bool
	// ReadsPerWakeup bounds the read attempts in one wake-up. One keeps
	// channels that share a loop fair to each other.
	ReadsPerWakeup int
	// ContinueOnWriteError fails only the offending entry on a write error
	// and carries on with the next one.
	ContinueOnWriteError bool
	// AutoClose closes the channel when a flush fails with an I/O error.
	AutoClose bool
}

// DefaultConfig returns the defaults for message channels.
func DefaultConfig() Config {
	return Config{
		WriteSpinCount:       16,
		AutoRead:             true,
		ReadsPerWakeup:       1,
		ContinueOnWriteError: false,
		AutoClose:            true,
	}
}

func (c Config) normalize() Config {
	d := DefaultConfig()
	if c.WriteSpinCount <= 0 {
		c.WriteSpinCount = d.WriteSpinCount
	}
	if c.ReadsPerWakeup <= 0 {
		c.ReadsPerWakeup = d.ReadsPerWakeup
	}
	return c
}

type options struct {
	cfg       Config
	logger    *zap.Logger
	allocator func(*Config) AllocatorHandle
	id        uint64
}

// Option configures a MessageChannel.
type Option func(*options)

// WithConfig replaces the channel configuration.
func WithConfig(cfg Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithLogger sets the channel and pipeline logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithAllocator replaces the allocator handle factory.
func WithAllocator(fn func(*Config) AllocatorHandle) Option {
	return func(o *options) {
		if fn != nil {
			o.allocator = fn
		}
	}
}

// WithID sets the channel id instead of drawing the next one.
func WithID(id uint64) Option {
	return func(o *options) { o.id = id }
}
