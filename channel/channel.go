// File: channel/channel.go
// Package channel implements reactor-driven message channels.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// A MessageChannel binds a message-oriented descriptor (a datagram socket or
// a listening socket) to an event loop and its pipeline. Its state is owned
// by the loop: every public entry point is marshaled onto it, and the read
// and write loops run there directly from readiness callbacks.

package channel

import (
	"fmt"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/momentics/hioload-nio/api"
	"github.com/momentics/hioload-nio/internal/metrics"
	"github.com/momentics/hioload-nio/pipeline"
)

// MessageIO is the non-blocking message source and sink behind a channel.
type MessageIO interface {
	// FD returns the descriptor registered with the loop.
	FD() int
	// ReadMessages appends available messages to buf and returns how many it
	// appended, 0 when nothing is available, or a negative value at end of
	// input. It never blocks.
	ReadMessages(buf *[]any, alloc AllocatorHandle) (int, error)
	// WriteMessage makes one non-blocking attempt to write msg and reports
	// whether it was written completely.
	WriteMessage(msg any, out *OutboundBuffer) (bool, error)
	// IsActive reports whether the descriptor can carry traffic.
	IsActive() bool
	// Listening reports whether the descriptor accepts connections.
	Listening() bool
	Close() error
}

var lastID atomic.Uint64

// MessageChannel is one connection or listening socket bound to a loop.
type MessageChannel struct {
	id       uint64
	io       MessageIO
	loop     api.Loop
	cfg      Config
	logger   *zap.Logger
	pipeline *pipeline.Pipeline
	outbound *OutboundBuffer
	alloc    AllocatorHandle
	readBuf  []any

	open       atomic.Bool
	registered atomic.Bool
	autoRead   atomic.Bool

	// loop-owned
	readPending   bool
	inputShutdown bool
	inFlush       bool
	interest      api.Interest
	// parked is set while the descriptor is withdrawn from the poller after
	// an unrequested error or hangup.
	parked bool
}


// New creates a channel for io on loop. The channel is open but not
// registered; handlers can be added to its pipeline before Register.
func New(io MessageIO, loop api.Loop, opts ...Option) *MessageChannel {
	o := options{
		cfg:       DefaultConfig(),
		logger:    zap.NewNop(),
		allocator: NewMessageHandle,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.id == 0 {
		o.id = lastID.Add(1)
	}
	ch := &MessageChannel{
		id:       o.id,
		io:       io,
		loop:     loop,
		cfg:      o.cfg.normalize(),
		outbound: NewOutboundBuffer(),
	}
	ch.logger = o.logger.With(zap.Uint64("channel_id", ch.id), zap.Int("fd", io.FD()))
	ch.autoRead.Store(ch.cfg.AutoRead)
	ch.alloc = o.allocator(&ch.cfg)
	ch.pipeline = pipeline.New(loop, transport{ch}, pipeline.WithLogger(ch.logger))
	ch.open.Store(true)
	return ch
}

// ID returns the channel id.
func (ch *MessageChannel) ID() uint64 { return ch.id }

// Pipeline returns the channel's handler chain.
func (ch *MessageChannel) Pipeline() *pipeline.Pipeline { return ch.pipeline }

// Loop returns the loop the channel is bound to.
func (ch *MessageChannel) Loop() api.Loop { return ch.loop }

// IsOpen reports whether Close has not been called yet.
func (ch *MessageChannel) IsOpen() bool { return ch.open.Load() }

// IsRegistered reports whether the channel is registered with its loop.
func (ch *MessageChannel) IsRegistered() bool { return ch.registered.Load() }

// IsActive reports whether the channel is open and its descriptor usable.
func (ch *MessageChannel) IsActive() bool { return ch.open.Load() && ch.io.IsActive() }

// Config returns a copy of the channel configuration. It is safe to call
// from any goroutine.
func (ch *MessageChannel) Config() Config {
	return Config{
		WriteSpinCount:       ch.cfg.WriteSpinCount,
		AutoRead:             ch.autoRead.Load(),
		ReadsPerWakeup:       ch.cfg.ReadsPerWakeup,
		ContinueOnWriteError: ch.cfg.ContinueOnWriteError,
		AutoClose:            ch.cfg.AutoClose,
	}
}

// Interest returns the registered interest set. Call it on the loop only.
func (ch *MessageChannel) Interest() api.Interest { return ch.interest }

// Outbound returns the pending write queue. Call it on the loop only.
func (ch *MessageChannel) Outbound() *OutboundBuffer { return ch.outbound }

// InputShutdown reports whether reading has ended. Call it on the loop only.
func (ch *MessageChannel) InputShutdown() bool { return ch.inputShutdown }

// execute runs fn on the loop.
func (ch *MessageChannel) execute(fn func()) error {
	if ch.loop.InEventLoop() {
		fn()
		return nil
	}
	return ch.loop.Execute(fn)
}

// sync runs fn on the loop and waits for its result.
func (ch *MessageChannel) sync(fn func() error) error {
	if ch.loop.InEventLoop() {
		return fn()
	}
	res := make(chan error, 1)
	if err := ch.loop.Execute(func() { res <- fn() }); err != nil {
		return err
	}
	return <-res
}

// Register binds the channel to its loop, fires ChannelRegistered and, when
// the descriptor is active, ChannelActive followed by a read request if
// auto-read is on.
func (ch *MessageChannel) Register() error {
	return ch.sync(ch.register)
}

func (ch *MessageChannel) register() error {
	if ch.registered.Load() {
		return api.ErrAlreadyRegistered.WithContext("channel_id", ch.id)
	}
	if !ch.open.Load() {
		return api.ErrChannelClosed.WithContext("channel_id", ch.id)
	}
	if err := ch.loop.Register(ch.io.FD(), 0, ch); err != nil {
		return fmt.Errorf("register channel %d: %w", ch.id, err)
	}
	ch.registered.Store(true)
	ch.pipeline.Attach()
	ch.logger.Debug("channel registered")

	ch.pipeline.FireChannelRegistered()
	if ch.IsActive() {
		ch.pipeline.FireChannelActive()
		if ch.cfg.AutoRead {
			ch.pipeline.Read()
		}
	}
	return nil
}

// Read requests a read through the pipeline.
func (ch *MessageChannel) Read() { ch.pipeline.Read() }

// Write queues msg through the pipeline.
func (ch *MessageChannel) Write(msg any, done func(error)) { ch.pipeline.Write(msg, done) }

// Flush writes queued messages through the pipeline.
func (ch *MessageChannel) Flush() { ch.pipeline.Flush() }

// WriteAndFlush is Write followed by Flush.
func (ch *MessageChannel) WriteAndFlush(msg any, done func(error)) {
	ch.pipeline.WriteAndFlush(msg, done)
}

// CloseAsync closes the channel through the pipeline and reports the result
// to done.
func (ch *MessageChannel) CloseAsync(done func(error)) { ch.pipeline.Close(done) }

// Close closes the channel and waits for the result. On the loop itself it
// does not wait for handlers bound to other executors.
func (ch *MessageChannel) Close() error {
	res := make(chan error, 1)
	ch.pipeline.Close(func(err error) { res <- err })
	if ch.loop.InEventLoop() {
		select {
		case err := <-res:
			return err
		default:
			return nil
		}
	}
	return <-res
}

// SetAutoRead switches auto-read. Turning it off withdraws read interest
// unless a read was requested explicitly; turning it on requests a read.
func (ch *MessageChannel) SetAutoRead(on bool) error {
	return ch.execute(func() {
		if ch.cfg.AutoRead == on {
			return
		}
		ch.cfg.AutoRead = on
		ch.autoRead.Store(on)
		if on {
			ch.pipeline.Read()
			return
		}
		ch.readPending = false
		ch.removeInterest(ch.readInterest())
	})
}

// HandleIO is the readiness callback. Writability drains the outbound
// buffer first, then readability runs the read loop. An error or hangup
// runs it only while reading is wanted; otherwise the descriptor is parked
// until the next interest change so a level-triggered hangup cannot spin
// the loop.
func (ch *MessageChannel) HandleIO(ready api.Interest) {
	if ready&api.InterestWrite != 0 {
		ch.flush0()
	}
	switch {
	case ready&(api.InterestRead|api.InterestAccept) != 0:
		ch.read()
	case ready&(api.InterestError|api.InterestHangup) != 0:
		if ch.readPending || ch.cfg.AutoRead {
			ch.read()
			return
		}
		ch.park()
	}
}

func (ch *MessageChannel) park() {
	if ch.parked || !ch.open.Load() || !ch.registered.Load() {
		return
	}
	if err := ch.loop.Deregister(ch.io.FD()); err != nil {
		ch.logger.Warn("failed to park descriptor", zap.Error(err))
		return
	}
	ch.parked = true
	ch.interest = 0
	ch.logger.Debug("descriptor parked until reads resume")
}

func (ch *MessageChannel) readInterest() api.Interest {
	if ch.io.Listening() {
		return api.InterestAccept
	}
	return api.InterestRead
}

func (ch *MessageChannel) setInterest(i api.Interest) {
	if i == ch.interest || !ch.registered.Load() {
		return
	}
	if ch.parked {
		if err := ch.loop.Register(ch.io.FD(), i, ch); err != nil {
			ch.logger.Warn("failed to update interest", zap.Stringer("interest", i), zap.Error(err))
			return
		}
		ch.parked = false
		ch.interest = i
		return
	}
	if err := ch.loop.UpdateInterest(ch.io.FD(), i); err != nil {
		ch.logger.Warn("failed to update interest", zap.Stringer("interest", i), zap.Error(err))
		return
	}
	ch.interest = i
}

func (ch *MessageChannel) addInterest(i api.Interest) { ch.setInterest(ch.interest | i) }

func (ch *MessageChannel) removeInterest(i api.Interest) { ch.setInterest(ch.interest &^ i) }

func (ch *MessageChannel) beginRead() {
	if !ch.registered.Load() || !ch.open.Load() || ch.inputShutdown {
		return
	}
	ch.readPending = true
	ch.addInterest(ch.readInterest())
}

// read runs one read wake-up.
func (ch *MessageChannel) read() {
	defer func() {
		// A handler may have asked for another read while the messages of
		// this wake-up were delivered; keep interest in that case.
		if !ch.readPending && !ch.cfg.AutoRead {
			ch.removeInterest(ch.readInterest())
		}
	}()
	if ch.inputShutdown {
		return
	}

	p := ch.pipeline
	alloc := ch.alloc
	alloc.Reset()

	var (
		closed  bool
		readErr error
	)
	for {
		n, err := ch.io.ReadMessages(&ch.readBuf, alloc)
		if err != nil {
			if n > 0 {
				alloc.IncMessagesRead(n)
			}
			readErr = err
			break
		}
		if n == 0 {
			break
		}
		if n < 0 {
			closed = true
			break
		}
		alloc.IncMessagesRead(n)
		if !alloc.ContinueReading() {
			break
		}
	}

	metrics.MessagesRead.Add(float64(len(ch.readBuf)))
	for i, msg := range ch.readBuf {
		ch.readPending = false
		p.FireChannelRead(msg)
		ch.readBuf[i] = nil
	}
	ch.readBuf = ch.readBuf[:0]
	alloc.ReadComplete()
	p.FireChannelReadComplete()

	if readErr != nil {
		closed = ShouldCloseOnReadError(readErr, ch.IsActive(), ch.io.Listening())
		ch.logger.Debug("read failed", zap.Error(readErr), zap.Bool("close", closed))
		p.FireExceptionCaught(readErr)
	}

	if closed {
		ch.inputShutdown = true
		if ch.open.Load() {
			ch.close(nil, readErr)
		}
	}
}

// flush writes the flushed prefix unless the channel is already waiting
// for writability.
func (ch *MessageChannel) flush() {
	if ch.interest&api.InterestWrite != 0 {
		return
	}
	ch.flush0()
}

func (ch *MessageChannel) flush0() {
	if ch.inFlush {
		return
	}
	if ch.outbound.IsEmpty() {
		ch.removeInterest(api.InterestWrite)
		return
	}
	if !ch.IsActive() {
		ch.outbound.FailFlushed(api.ErrChannelClosed.WithContext("channel_id", ch.id))
		return
	}

	ch.inFlush = true
	err := ch.doWrite(ch.outbound)
	ch.inFlush = false
	if err == nil {
		return
	}

	ch.logger.Debug("write failed", zap.Error(err))
	ch.pipeline.FireExceptionCaught(err)
	if ch.cfg.AutoClose && IsIOError(err) && ch.open.Load() {
		ch.close(nil, err)
	}
}

// doWrite drains in against write readiness. An entry that cannot be
// written within the spin budget stays queued and write interest is set.
func (ch *MessageChannel) doWrite(in *OutboundBuffer) error {
	for {
		msg, ok := in.Current()
		if !ok {
			ch.removeInterest(api.InterestWrite)
			return nil
		}

		var (
			done bool
			err  error
		)
		for i := ch.cfg.WriteSpinCount - 1; i >= 0; i-- {
			done, err = ch.io.WriteMessage(msg, in)
			if done || err != nil {
				break
			}
		}

		if err != nil {
			if ch.cfg.ContinueOnWriteError {
				in.RemoveWithError(err)
				continue
			}
			return err
		}
		if !done {
			metrics.WriteBackpressure.Inc()
			ch.addInterest(api.InterestWrite)
			return nil
		}
		in.Remove()
		metrics.MessagesWritten.Inc()
	}
}

// close tears the channel down: it leaves the loop, closes the descriptor,
// fails every pending write and fires ChannelInactive and
// ChannelUnregistered. Closing a closed channel succeeds.
func (ch *MessageChannel) close(done func(error), cause error) {
	if !ch.open.Load() {
		complete(done, nil)
		return
	}
	wasActive := ch.IsActive()
	ch.open.Store(false)

	var err error
	if ch.registered.Load() && !ch.parked {
		err = multierr.Append(err, ch.loop.Deregister(ch.io.FD()))
	}
	ch.parked = false
	ch.interest = 0
	ch.readPending = false
	err = multierr.Append(err, ch.io.Close())

	var failure error = api.ErrChannelClosed.WithContext("channel_id", ch.id)
	if cause != nil {
		failure = fmt.Errorf("%w: %w", failure, cause)
	}
	ch.outbound.FailAll(failure)

	if err != nil {
		ch.logger.Warn("channel closed with errors", zap.Error(err))
	} else {
		ch.logger.Debug("channel closed")
	}

	if wasActive {
		ch.pipeline.FireChannelInactive()
	}
	if ch.registered.Swap(false) {
		ch.pipeline.FireChannelUnregistered()
	}
	complete(done, err)
}

func complete(done func(error), err error) {
	if done != nil {
		done(err)
	}
}

// transport is the head-of-pipeline view of the channel.
type transport struct {
	ch *MessageChannel
}

func (t transport) Read() { t.ch.beginRead() }

func (t transport) Write(msg any, done func(error)) {
	if !t.ch.open.Load() {
		complete(done, api.ErrChannelClosed.WithContext("channel_id", t.ch.id))
		return
	}
	t.ch.outbound.AddMessage(msg, done)
}

func (t transport) Flush() {
	t.ch.outbound.AddFlush()
	t.ch.flush()
}

func (t transport) Close(done func(error)) { t.ch.close(done, nil) }
