// File: pipeline/pipeline.go
// Package pipeline implements the per-channel handler chain.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The chain always starts with an outbound-only head that drives the
// transport and ends with an inbound-only tail that discards whatever
// reaches it. All structural state is touched only on the pipeline's
// executor once the pipeline is attached; calls from other goroutines are
// marshaled there first.

package pipeline

import (
	"fmt"
	"sync/atomic"

	"github.com/sourcegraph/conc/panics"
	"go.uber.org/zap"

	"github.com/momentics/hioload-nio/api"
	"github.com/momentics/hioload-nio/internal/metrics"
)

const (
	headName = "head"
	tailName = "tail"
)

type posKind uint8

const (
	posFirst posKind = iota
	posLast
	posBefore
	posAfter
)

// Position tells Add where to link a new context.
type Position struct {
	kind posKind
	base string
}

// First places the context right after the head.
func First() Position { return Position{kind: posFirst} }

// Last places the context right before the tail.
func Last() Position { return Position{kind: posLast} }

// Before places the context right before the context named base.
func Before(base string) Position { return Position{kind: posBefore, base: base} }

// After places the context right after the context named base.
func After(base string) Position { return Position{kind: posAfter, base: base} }

// Pipeline is the ordered handler chain of one channel.
type Pipeline struct {
	arena    arena
	names    map[string]handle
	head     *Context
	tail     *Context
	executor api.Executor
	attached atomic.Bool
	logger   *zap.Logger
	seq      int
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger used by the pipeline and its tail.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// New creates a pipeline whose head forwards outbound operations to t and
// whose contexts run on exec unless bound elsewhere.
func New(exec api.Executor, t Transport, opts ...Option) *Pipeline {
	p := &Pipeline{
		names:    make(map[string]handle),
		executor: exec,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.head = &Context{p: p, name: headName, handler: headHandler{t: t}, executor: exec, prev: nilHandle, next: nilHandle}
	p.head.out = p.head.handler.(OutboundHandler)
	th := &tailHandler{logger: p.logger}
	p.tail = &Context{p: p, name: tailName, handler: th, in: th, executor: exec, prev: nilHandle, next: nilHandle}
	p.head.self = p.arena.insert(p.head)
	p.tail.self = p.arena.insert(p.tail)
	p.head.next = p.tail.self
	p.tail.prev = p.head.self
	return p
}

// Attach marks the pipeline as owned by its running executor. From then on
// every entry point from another goroutine is marshaled onto it.
func (p *Pipeline) Attach() { p.attached.Store(true) }

// Executor returns the pipeline's executor.
func (p *Pipeline) Executor() api.Executor { return p.executor }

// Head returns the head sentinel context.
func (p *Pipeline) Head() *Context { return p.head }

// Tail returns the tail sentinel context.
func (p *Pipeline) Tail() *Context { return p.tail }

// enter runs fn on the pipeline executor.
func (p *Pipeline) enter(fn func()) error {
	if !p.attached.Load() || p.executor.InEventLoop() {
		fn()
		return nil
	}
	return p.executor.Execute(fn)
}

// sync runs fn on the pipeline executor and waits for its result.
func (p *Pipeline) sync(fn func() error) error {
	if !p.attached.Load() || p.executor.InEventLoop() {
		return fn()
	}
	res := make(chan error, 1)
	if err := p.executor.Execute(func() { res <- fn() }); err != nil {
		return err
	}
	return <-res
}

// Add links handler h under name at pos. An empty name is replaced by a
// generated one. Errors are ErrDuplicateName, ErrHandlerNotFound for a
// missing base and ErrInvalidHandler; on error the chain is unchanged.
func (p *Pipeline) Add(name string, h any, pos Position, opts ...ContextOption) error {
	return p.sync(func() error { return p.add(name, h, pos, opts) })
}

func (p *Pipeline) AddFirst(name string, h any, opts ...ContextOption) error {
	return p.Add(name, h, First(), opts...)
}

func (p *Pipeline) AddLast(name string, h any, opts ...ContextOption) error {
	return p.Add(name, h, Last(), opts...)
}

func (p *Pipeline) AddBefore(base, name string, h any, opts ...ContextOption) error {
	return p.Add(name, h, Before(base), opts...)
}

func (p *Pipeline) AddAfter(base, name string, h any, opts ...ContextOption) error {
	return p.Add(name, h, After(base), opts...)
}

func (p *Pipeline) add(name string, h any, pos Position, opts []ContextOption) error {
	if name == "" {
		name = p.generateName(h)
	}
	if _, ok := p.names[name]; ok || name == headName || name == tailName {
		return api.ErrDuplicateName.WithContext("name", name)
	}
	c, err := newContext(p, name, h, opts)
	if err != nil {
		return err
	}

	var prev *Context
	switch pos.kind {
	case posFirst:
		prev = p.head
	case posLast:
		prev = p.arena.get(p.tail.prev)
	case posBefore, posAfter:
		base, ok := p.lookup(pos.base)
		if !ok {
			return api.ErrHandlerNotFound.WithContext("name", pos.base)
		}
		prev = base
		if pos.kind == posBefore {
			prev = p.arena.get(base.prev)
		}
	}

	next := p.arena.get(prev.next)
	c.self = p.arena.insert(c)
	c.prev = prev.self
	c.next = next.self
	prev.next = c.self
	next.prev = c.self
	p.names[name] = c.self

	if a, ok := h.(AddedHandler); ok {
		p.lifecycle(c, func() { a.HandlerAdded(c) })
	}
	return nil
}

func (p *Pipeline) generateName(h any) string {
	for {
		p.seq++
		name := fmt.Sprintf("%T#%d", h, p.seq)
		if _, ok := p.names[name]; !ok {
			return name
		}
	}
}

// Remove unlinks the context named name. It returns the removed handler or
// ErrHandlerNotFound.
func (p *Pipeline) Remove(name string) (any, error) {
	var removed any
	err := p.sync(func() error {
		c, ok := p.lookup(name)
		if !ok {
			return api.ErrHandlerNotFound.WithContext("name", name)
		}
		p.unlink(c)
		removed = c.handler
		return nil
	})
	return removed, err
}

func (p *Pipeline) unlink(c *Context) {
	prev := p.arena.get(c.prev)
	next := p.arena.get(c.next)
	prev.next = next.self
	next.prev = prev.self
	delete(p.names, c.name)
	p.arena.release(c.self)
	c.removed = true
	c.before, c.after = prev, next

	if r, ok := c.handler.(RemovedHandler); ok {
		p.lifecycle(c, func() { r.HandlerRemoved(c) })
	}
}

// lifecycle runs a HandlerAdded/HandlerRemoved callback on the context's
// executor; a failure is raised as ExceptionCaught from that context.
func (p *Pipeline) lifecycle(c *Context, fn func()) {
	run := func() {
		if r := panics.Try(fn); r != nil {
			p.observeException()
			c.FireExceptionCaught(fmt.Errorf("handler %q lifecycle callback: %w", c.name, r.AsError()))
		}
	}
	if c.inline() {
		run()
		return
	}
	if err := c.executor.Execute(run); err != nil {
		p.logger.Warn("executor rejected lifecycle callback", zap.String("handler", c.name), zap.Error(err))
	}
}

func (p *Pipeline) lookup(name string) (*Context, bool) {
	h, ok := p.names[name]
	if !ok {
		return nil, false
	}
	c := p.arena.get(h)
	return c, c != nil
}

// Get returns the handler registered under name.
func (p *Pipeline) Get(name string) (any, bool) {
	c, ok := p.Context(name)
	if !ok {
		return nil, false
	}
	return c.handler, true
}

// Context returns the context registered under name.
func (p *Pipeline) Context(name string) (*Context, bool) {
	var (
		c  *Context
		ok bool
	)
	_ = p.sync(func() error {
		c, ok = p.lookup(name)
		return nil
	})
	return c, ok
}

// Names lists user context names from head to tail.
func (p *Pipeline) Names() []string {
	var names []string
	_ = p.sync(func() error {
		for c := p.arena.get(p.head.next); c != nil && c != p.tail; c = p.arena.get(c.next) {
			names = append(names, c.name)
		}
		return nil
	})
	return names
}

// Len returns the number of user contexts.
func (p *Pipeline) Len() int {
	var n int
	_ = p.sync(func() error {
		n = p.arena.len() - 2
		return nil
	})
	return n
}

// successor and predecessor resolve the neighbours of c. Removed contexts
// are passed through so a walk starting at one reaches the live chain.
func (p *Pipeline) successor(c *Context) *Context {
	if c.removed {
		return c.after
	}
	return p.arena.get(c.next)
}

func (p *Pipeline) predecessor(c *Context) *Context {
	if c.removed {
		return c.before
	}
	return p.arena.get(c.prev)
}

func (p *Pipeline) nextInbound(c *Context) *Context {
	for {
		n := p.successor(c)
		if n == nil {
			return p.tail
		}
		if !n.removed && n.in != nil {
			return n
		}
		c = n
	}
}

func (p *Pipeline) prevOutbound(c *Context) *Context {
	for {
		n := p.predecessor(c)
		if n == nil {
			return p.head
		}
		if !n.removed && n.out != nil {
			return n
		}
		c = n
	}
}

func (p *Pipeline) observeException() {
	metrics.HandlerExceptions.Inc()
}

// FireInbound delivers ev to the first inbound context after the head.
func (p *Pipeline) FireInbound(ev Event) {
	p.head.FireInbound(ev)
}

func (p *Pipeline) FireChannelRegistered() { p.head.FireChannelRegistered() }

func (p *Pipeline) FireChannelUnregistered() { p.head.FireChannelUnregistered() }

func (p *Pipeline) FireChannelActive() { p.head.FireChannelActive() }

func (p *Pipeline) FireChannelInactive() { p.head.FireChannelInactive() }

func (p *Pipeline) FireChannelRead(msg any) { p.head.FireChannelRead(msg) }

func (p *Pipeline) FireChannelReadComplete() { p.head.FireChannelReadComplete() }

func (p *Pipeline) FireExceptionCaught(err error) { p.head.FireExceptionCaught(err) }

func (p *Pipeline) FireUserEvent(evt any) { p.head.FireUserEvent(evt) }

// FireOutbound starts op at the last outbound context before the tail.
func (p *Pipeline) FireOutbound(op Op) {
	p.tail.Outbound(op)
}

// FireOutboundAt starts op at the context named name, including it when it
// is outbound-capable.
func (p *Pipeline) FireOutboundAt(name string, op Op) error {
	op = op.once()
	return p.sync(func() error {
		c, ok := p.lookup(name)
		if !ok {
			return api.ErrHandlerNotFound.WithContext("name", name)
		}
		if c.out == nil {
			c = p.prevOutbound(c)
		}
		c.invokeOutbound(op)
		return nil
	})
}

// Read requests more inbound data.
func (p *Pipeline) Read() { p.tail.Read() }

// Write queues msg at the transport.
func (p *Pipeline) Write(msg any, done func(error)) { p.tail.Write(msg, done) }

// Flush writes queued messages.
func (p *Pipeline) Flush() { p.tail.Flush() }

// WriteAndFlush is Write followed by Flush.
func (p *Pipeline) WriteAndFlush(msg any, done func(error)) { p.tail.WriteAndFlush(msg, done) }

// Close closes the channel.
func (p *Pipeline) Close(done func(error)) { p.tail.Close(done) }
