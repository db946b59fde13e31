// File: pipeline/handler.go
// Package pipeline
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Handler contracts. A handler's capabilities are the interfaces it
// implements; they are checked once when its context is created.

package pipeline

import (
	"sync"

	"github.com/momentics/hioload-nio/api"
)

// Event is an inbound event travelling from the head towards the tail.
type Event struct {
	Kind api.EventKind
	Msg  any
	Err  error
}

// Op is an outbound operation travelling from its origin towards the head.
// Done, if set, is called exactly once with the outcome.
type Op struct {
	Kind api.OpKind
	Msg  any
	Done func(error)
}

func (op Op) complete(err error) {
	if op.Done != nil {
		op.Done(err)
	}
}

// once guards Done so a handler that both forwards and fails cannot complete
// an operation twice.
func (op Op) once() Op {
	if op.Done == nil {
		return op
	}
	var o sync.Once
	done := op.Done
	op.Done = func(err error) { o.Do(func() { done(err) }) }
	return op
}

// InboundHandler handles inbound events. To keep an event moving the
// handler calls ctx.FireInbound; not calling it consumes the event.
// A returned error is delivered as an ExceptionCaught event to this context.
type InboundHandler interface {
	HandleInbound(ctx *Context, ev Event) error
}

// OutboundHandler handles outbound operations. To keep an operation moving
// the handler calls ctx.Outbound. A returned error completes the operation
// and raises ExceptionCaught, so a failing handler must not forward.
type OutboundHandler interface {
	HandleOutbound(ctx *Context, op Op) error
}

// InboundFunc adapts a function to InboundHandler.
type InboundFunc func(ctx *Context, ev Event) error

func (f InboundFunc) HandleInbound(ctx *Context, ev Event) error { return f(ctx, ev) }

// OutboundFunc adapts a function to OutboundHandler.
type OutboundFunc func(ctx *Context, op Op) error

func (f OutboundFunc) HandleOutbound(ctx *Context, op Op) error { return f(ctx, op) }

// AddedHandler is notified once its context is linked into the chain.
type AddedHandler interface {
	HandlerAdded(ctx *Context)
}

// RemovedHandler is notified once its context is unlinked.
type RemovedHandler interface {
	HandlerRemoved(ctx *Context)
}

// Transport performs the operations that reach the head of the pipeline.
// It is called on the pipeline's executor.
type Transport interface {
	Read()
	Write(msg any, done func(error))
	Flush()
	Close(done func(error))
}

// headHandler hands outbound operations to the transport.
type headHandler struct {
	t Transport
}

func (h headHandler) HandleOutbound(_ *Context, op Op) error {
	switch op.Kind {
	case api.OpRead:
		h.t.Read()
		op.complete(nil)
	case api.OpWrite:
		h.t.Write(op.Msg, op.Done)
	case api.OpFlush:
		h.t.Flush()
		op.complete(nil)
	case api.OpClose:
		h.t.Close(op.Done)
	default:
		op.complete(api.NewError(api.ErrCodeInternal, "unknown outbound operation").WithContext("op", op.Kind))
	}
	return nil
}
