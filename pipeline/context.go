// File: pipeline/context.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Context binds one handler to its position in the chain, its capability
// flags and the executor its callbacks must run on.

package pipeline

import (
	"github.com/sourcegraph/conc/panics"
	"go.uber.org/zap"

	"github.com/momentics/hioload-nio/api"
)

// Context is a node of a Pipeline.
type Context struct {
	p        *Pipeline
	self     handle
	prev     handle
	next     handle
	name     string
	handler  any
	in       InboundHandler
	out      OutboundHandler
	executor api.Executor
	removed  bool

	// neighbours at the time of removal; a removed context forwards through
	// them since its handles may point at released slots
	before, after *Context
}

// ContextOption customises a context when it is added.
type ContextOption func(*Context)

// WithExecutor binds the context's callbacks to exec instead of the
// pipeline's executor.
func WithExecutor(exec api.Executor) ContextOption {
	return func(c *Context) {
		if exec != nil {
			c.executor = exec
		}
	}
}

func newContext(p *Pipeline, name string, h any, opts []ContextOption) (*Context, error) {
	c := &Context{p: p, name: name, handler: h, executor: p.executor, prev: nilHandle, next: nilHandle}
	c.in, _ = h.(InboundHandler)
	c.out, _ = h.(OutboundHandler)
	if c.in == nil && c.out == nil {
		return nil, api.ErrInvalidHandler.WithContext("name", name)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Name returns the context's unique name.
func (c *Context) Name() string { return c.name }

// Handler returns the wrapped handler.
func (c *Context) Handler() any { return c.handler }

// Pipeline returns the owning pipeline.
func (c *Context) Pipeline() *Pipeline { return c.p }

// Executor returns the executor the handler runs on.
func (c *Context) Executor() api.Executor { return c.executor }

// IsInbound reports whether the handler accepts inbound events.
func (c *Context) IsInbound() bool { return c.in != nil }

// IsOutbound reports whether the handler accepts outbound operations.
func (c *Context) IsOutbound() bool { return c.out != nil }

// IsRemoved reports whether the context has been unlinked. A removed context
// can still forward events it is currently handling.
func (c *Context) IsRemoved() bool { return c.removed }

// FireInbound forwards ev to the next inbound context.
func (c *Context) FireInbound(ev Event) {
	err := c.p.enter(func() {
		c.p.nextInbound(c).invokeInbound(ev)
	})
	if err != nil {
		c.p.logger.Warn("dropping inbound event",
			zap.String("handler", c.name), zap.Stringer("event", ev.Kind), zap.Error(err))
	}
}

func (c *Context) FireChannelRegistered() {
	c.FireInbound(Event{Kind: api.EventChannelRegistered})
}

func (c *Context) FireChannelUnregistered() {
	c.FireInbound(Event{Kind: api.EventChannelUnregistered})
}

func (c *Context) FireChannelActive() {
	c.FireInbound(Event{Kind: api.EventChannelActive})
}

func (c *Context) FireChannelInactive() {
	c.FireInbound(Event{Kind: api.EventChannelInactive})
}

func (c *Context) FireChannelRead(msg any) {
	c.FireInbound(Event{Kind: api.EventChannelRead, Msg: msg})
}

func (c *Context) FireChannelReadComplete() {
	c.FireInbound(Event{Kind: api.EventChannelReadComplete})
}

func (c *Context) FireExceptionCaught(err error) {
	c.FireInbound(Event{Kind: api.EventExceptionCaught, Err: err})
}

func (c *Context) FireUserEvent(evt any) {
	c.FireInbound(Event{Kind: api.EventUserEvent, Msg: evt})
}

// Outbound forwards op to the previous outbound context.
func (c *Context) Outbound(op Op) {
	op = op.once()
	err := c.p.enter(func() {
		c.p.prevOutbound(c).invokeOutbound(op)
	})
	if err != nil {
		op.complete(err)
	}
}

// Read requests more inbound data from the transport.
func (c *Context) Read() {
	c.Outbound(Op{Kind: api.OpRead})
}

// Write queues msg; it is sent on the next flush.
func (c *Context) Write(msg any, done func(error)) {
	c.Outbound(Op{Kind: api.OpWrite, Msg: msg, Done: done})
}

// Flush asks the transport to write queued messages.
func (c *Context) Flush() {
	c.Outbound(Op{Kind: api.OpFlush})
}

// WriteAndFlush is Write followed by Flush.
func (c *Context) WriteAndFlush(msg any, done func(error)) {
	c.Write(msg, done)
	c.Flush()
}

// Close closes the channel.
func (c *Context) Close(done func(error)) {
	c.Outbound(Op{Kind: api.OpClose, Done: done})
}

// inline reports whether a callback for c may run on the calling goroutine.
// Before the pipeline is attached to a running loop it is owned by its
// creator, so callbacks bound to the pipeline executor run in place.
func (c *Context) inline() bool {
	if c.executor.InEventLoop() {
		return true
	}
	return !c.p.attached.Load() && c.executor == c.p.executor
}

func (c *Context) invokeInbound(ev Event) {
	if c.inline() {
		c.handleInbound(ev)
		return
	}
	if err := c.executor.Execute(func() { c.handleInbound(ev) }); err != nil {
		c.p.logger.Warn("executor rejected inbound event",
			zap.String("handler", c.name), zap.Stringer("event", ev.Kind), zap.Error(err))
	}
}

func (c *Context) invokeOutbound(op Op) {
	if c.inline() {
		c.handleOutbound(op)
		return
	}
	if err := c.executor.Execute(func() { c.handleOutbound(op) }); err != nil {
		op.complete(err)
	}
}

func (c *Context) handleInbound(ev Event) {
	var err error
	if r := panics.Try(func() { err = c.in.HandleInbound(c, ev) }); r != nil {
		err = r.AsError()
	}
	if err == nil {
		return
	}
	if ev.Kind == api.EventExceptionCaught {
		c.p.logger.Warn("handler failed while handling an exception",
			zap.String("handler", c.name), zap.Error(err), zap.NamedError("cause", ev.Err))
		return
	}
	c.p.observeException()
	c.handleInbound(Event{Kind: api.EventExceptionCaught, Err: err})
}

func (c *Context) handleOutbound(op Op) {
	var err error
	if r := panics.Try(func() { err = c.out.HandleOutbound(c, op) }); r != nil {
		err = r.AsError()
	}
	if err == nil {
		return
	}
	op.complete(err)
	c.p.observeException()
	ev := Event{Kind: api.EventExceptionCaught, Err: err}
	if c.in != nil {
		c.handleInbound(ev)
		return
	}
	c.FireInbound(ev)
}
