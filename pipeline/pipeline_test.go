package pipeline_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/momentics/hioload-nio/api"
	"github.com/momentics/hioload-nio/fake"
	"github.com/momentics/hioload-nio/pipeline"
)

// recorder collects a trace shared by several handlers.
type recorder struct {
	mu    sync.Mutex
	trace []string
}

func (r *recorder) add(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trace = append(r.trace, fmt.Sprintf(format, args...))
}

func (r *recorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.trace...)
}

type transport struct {
	rec *recorder
}

func (t transport) Read() { t.rec.add("head:read") }

func (t transport) Write(msg any, done func(error)) {
	t.rec.add("head:write:%v", msg)
	if done != nil {
		done(nil)
	}
}

func (t transport) Flush() { t.rec.add("head:flush") }

func (t transport) Close(done func(error)) {
	t.rec.add("head:close")
	if done != nil {
		done(nil)
	}
}

// duplex is an inbound and outbound handler that records and forwards.
type duplex struct {
	name string
	rec  *recorder
}

func (d *duplex) HandleInbound(ctx *pipeline.Context, ev pipeline.Event) error {
	d.rec.add("%s:%s", d.name, ev.Kind)
	ctx.FireInbound(ev)
	return nil
}

func (d *duplex) HandleOutbound(ctx *pipeline.Context, op pipeline.Op) error {
	d.rec.add("%s:%s", d.name, op.Kind)
	ctx.Outbound(op)
	return nil
}

func newPipeline(t *testing.T, opts ...pipeline.Option) (*pipeline.Pipeline, *recorder) {
	t.Helper()
	rec := &recorder{}
	return pipeline.New(fake.NewLoop(), transport{rec: rec}, opts...), rec
}

func TestInsertBeforeOrdersBothDirections(t *testing.T) {
	p, rec := newPipeline(t)
	require.NoError(t, p.AddLast("A", &duplex{name: "A", rec: rec}))
	require.NoError(t, p.AddBefore("A", "B", &duplex{name: "B", rec: rec}))
	require.Equal(t, []string{"B", "A"}, p.Names())

	p.FireChannelRead("m")
	require.NoError(t, p.FireOutboundAt("A", pipeline.Op{Kind: api.OpWrite, Msg: "x"}))

	assert.Equal(t, []string{
		"B:ChannelRead", "A:ChannelRead",
		"A:Write", "B:Write", "head:write:x",
	}, rec.get())
}

func TestOutboundStartsAtNamedContext(t *testing.T) {
	p, rec := newPipeline(t)
	require.NoError(t, p.AddLast("B", &duplex{name: "B", rec: rec}))
	require.NoError(t, p.AddLast("A", &duplex{name: "A", rec: rec}))

	var got error = errors.New("not completed")
	require.NoError(t, p.FireOutboundAt("A", pipeline.Op{Kind: api.OpWrite, Msg: "x", Done: func(err error) { got = err }}))

	assert.Equal(t, []string{"A:Write", "B:Write", "head:write:x"}, rec.get())
	assert.NoError(t, got)
}

func TestOutboundFromTailVisitsEveryOutboundContext(t *testing.T) {
	p, rec := newPipeline(t)
	require.NoError(t, p.AddLast("B", &duplex{name: "B", rec: rec}))
	require.NoError(t, p.AddLast("A", &duplex{name: "A", rec: rec}))
	require.NoError(t, p.AddLast("in", pipeline.InboundFunc(func(ctx *pipeline.Context, ev pipeline.Event) error {
		ctx.FireInbound(ev)
		return nil
	})))

	p.WriteAndFlush("x", nil)

	assert.Equal(t, []string{
		"A:Write", "B:Write", "head:write:x",
		"A:Flush", "B:Flush", "head:flush",
	}, rec.get())
}

func TestAddPositions(t *testing.T) {
	p, rec := newPipeline(t)
	for _, name := range []string{"a", "c"} {
		require.NoError(t, p.AddLast(name, &duplex{name: name, rec: rec}))
	}
	require.NoError(t, p.AddBefore("c", "b", &duplex{name: "b", rec: rec}))
	require.NoError(t, p.AddAfter("c", "d", &duplex{name: "d", rec: rec}))
	require.NoError(t, p.AddFirst("z", &duplex{name: "z", rec: rec}))

	assert.Equal(t, []string{"z", "a", "b", "c", "d"}, p.Names())
	assert.Equal(t, 5, p.Len())
}

func TestAddRejectsDuplicateNameWithoutChange(t *testing.T) {
	p, rec := newPipeline(t)
	require.NoError(t, p.AddLast("A", &duplex{name: "A", rec: rec}))

	err := p.AddFirst("A", &duplex{name: "A2", rec: rec})
	require.ErrorIs(t, err, api.ErrDuplicateName)
	assert.Equal(t, []string{"A"}, p.Names())

	require.ErrorIs(t, p.AddLast("head", &duplex{rec: rec}), api.ErrDuplicateName)
	require.ErrorIs(t, p.AddLast("tail", &duplex{rec: rec}), api.ErrDuplicateName)
	assert.Equal(t, 1, p.Len())
}

func TestMissingNamesAndInvalidHandlers(t *testing.T) {
	p, rec := newPipeline(t)

	_, err := p.Remove("nope")
	require.ErrorIs(t, err, api.ErrHandlerNotFound)
	require.ErrorIs(t, p.AddBefore("nope", "x", &duplex{rec: rec}), api.ErrHandlerNotFound)
	require.ErrorIs(t, p.FireOutboundAt("nope", pipeline.Op{Kind: api.OpFlush}), api.ErrHandlerNotFound)
	require.ErrorIs(t, p.AddLast("x", struct{}{}), api.ErrInvalidHandler)
	assert.Zero(t, p.Len())
}

func TestGeneratedNamesAreUnique(t *testing.T) {
	p, rec := newPipeline(t)
	require.NoError(t, p.AddLast("", &duplex{rec: rec}))
	require.NoError(t, p.AddLast("", &duplex{rec: rec}))

	names := p.Names()
	require.Len(t, names, 2)
	assert.NotEqual(t, names[0], names[1])
}

func TestRemoveReturnsHandler(t *testing.T) {
	p, rec := newPipeline(t)
	h := &duplex{name: "A", rec: rec}
	require.NoError(t, p.AddLast("A", h))

	got, err := p.Remove("A")
	require.NoError(t, err)
	assert.Same(t, h, got)
	_, ok := p.Get("A")
	assert.False(t, ok)

	p.FireChannelRead("m")
	assert.Empty(t, rec.get())
}

func TestHandlerErrorBecomesExceptionOnSameContext(t *testing.T) {
	p, _ := newPipeline(t)
	boom := errors.New("boom")
	var caught []error
	require.NoError(t, p.AddLast("failing", pipeline.InboundFunc(func(ctx *pipeline.Context, ev pipeline.Event) error {
		switch ev.Kind {
		case api.EventChannelRead:
			return boom
		case api.EventExceptionCaught:
			caught = append(caught, ev.Err)
		}
		return nil
	})))

	p.FireChannelRead("m")

	require.Len(t, caught, 1)
	assert.ErrorIs(t, caught[0], boom)
}

func TestHandlerPanicBecomesException(t *testing.T) {
	p, _ := newPipeline(t)
	var caught error
	require.NoError(t, p.AddLast("panicky", pipeline.InboundFunc(func(ctx *pipeline.Context, ev pipeline.Event) error {
		if ev.Kind == api.EventExceptionCaught {
			caught = ev.Err
			return nil
		}
		panic("kaboom")
	})))

	require.NotPanics(t, func() { p.FireChannelActive() })
	require.Error(t, caught)
	assert.Contains(t, caught.Error(), "kaboom")
}

func TestOutboundErrorCompletesOpAndRaisesException(t *testing.T) {
	p, rec := newPipeline(t)
	boom := errors.New("encode failed")
	var caught error
	require.NoError(t, p.AddLast("encoder", pipeline.OutboundFunc(func(ctx *pipeline.Context, op pipeline.Op) error {
		return boom
	})))
	require.NoError(t, p.AddLast("catcher", pipeline.InboundFunc(func(ctx *pipeline.Context, ev pipeline.Event) error {
		if ev.Kind == api.EventExceptionCaught {
			caught = ev.Err
		}
		return nil
	})))

	var done error
	p.Write("x", func(err error) { done = err })

	assert.ErrorIs(t, done, boom)
	assert.ErrorIs(t, caught, boom)
	assert.Empty(t, rec.get())
}

func TestSelfRemovalWhileForwarding(t *testing.T) {
	p, rec := newPipeline(t)
	require.NoError(t, p.AddLast("once", pipeline.InboundFunc(func(ctx *pipeline.Context, ev pipeline.Event) error {
		if _, err := ctx.Pipeline().Remove(ctx.Name()); err != nil {
			return err
		}
		rec.add("once:removed=%t", ctx.IsRemoved())
		ctx.FireInbound(ev)
		return nil
	})))
	require.NoError(t, p.AddLast("after", &duplex{name: "after", rec: rec}))

	p.FireChannelRead(1)
	p.FireChannelRead(2)

	assert.Equal(t, []string{"once:removed=true", "after:ChannelRead", "after:ChannelRead"}, rec.get())
	assert.Equal(t, []string{"after"}, p.Names())
}

func TestRemovingNeighbourWhileForwardingReachesLiveContexts(t *testing.T) {
	p, rec := newPipeline(t)
	require.NoError(t, p.AddLast("A", pipeline.InboundFunc(func(ctx *pipeline.Context, ev pipeline.Event) error {
		for _, name := range []string{"A", "B"} {
			if _, err := ctx.Pipeline().Remove(name); err != nil {
				return err
			}
		}
		ctx.FireInbound(ev)
		return nil
	})))
	require.NoError(t, p.AddLast("B", &duplex{name: "B", rec: rec}))
	require.NoError(t, p.AddLast("C", &duplex{name: "C", rec: rec}))

	p.FireChannelRead("m")

	assert.Equal(t, []string{"C:ChannelRead"}, rec.get())
	assert.Equal(t, []string{"C"}, p.Names())
}

func TestRemovingNeighbourWhileForwardingOutbound(t *testing.T) {
	p, rec := newPipeline(t)
	require.NoError(t, p.AddLast("C", &duplex{name: "C", rec: rec}))
	require.NoError(t, p.AddLast("B", &duplex{name: "B", rec: rec}))
	require.NoError(t, p.AddLast("A", pipeline.OutboundFunc(func(ctx *pipeline.Context, op pipeline.Op) error {
		for _, name := range []string{"A", "B"} {
			if _, err := ctx.Pipeline().Remove(name); err != nil {
				return err
			}
		}
		ctx.Outbound(op)
		return nil
	})))

	require.NoError(t, p.FireOutboundAt("A", pipeline.Op{Kind: api.OpFlush}))

	assert.Equal(t, []string{"C:Flush", "head:flush"}, rec.get())
	assert.Equal(t, []string{"C"}, p.Names())
}

func TestContextOnForeignExecutorKeepsOrder(t *testing.T) {
	p, rec := newPipeline(t)
	foreign := fake.NewForeignLoop()
	require.NoError(t, p.AddLast("worker", pipeline.InboundFunc(func(ctx *pipeline.Context, ev pipeline.Event) error {
		if ev.Kind == api.EventChannelRead {
			require.True(t, foreign.InEventLoop())
			rec.add("worker:%v", ev.Msg)
		}
		ctx.FireInbound(ev)
		return nil
	}), pipeline.WithExecutor(foreign)))
	require.NoError(t, p.AddLast("sink", pipeline.InboundFunc(func(ctx *pipeline.Context, ev pipeline.Event) error {
		rec.add("sink:%v", ev.Msg)
		return nil
	})))

	for i := 1; i <= 3; i++ {
		p.FireChannelRead(i)
	}
	assert.Empty(t, rec.get())
	assert.Equal(t, 3, foreign.Pending())

	assert.Equal(t, 3, foreign.RunPending())
	assert.Equal(t, []string{"worker:1", "sink:1", "worker:2", "sink:2", "worker:3", "sink:3"}, rec.get())
}

func TestRejectedOutboundCompletesWithError(t *testing.T) {
	p, _ := newPipeline(t)
	foreign := fake.NewForeignLoop()
	foreign.Close()
	require.NoError(t, p.AddLast("stuck", pipeline.OutboundFunc(func(ctx *pipeline.Context, op pipeline.Op) error {
		ctx.Outbound(op)
		return nil
	}), pipeline.WithExecutor(foreign)))

	var done error
	p.Write("x", func(err error) { done = err })
	assert.ErrorIs(t, done, api.ErrLoopClosed)
}

type lifecycle struct {
	added, removed int
}

func (l *lifecycle) HandleInbound(ctx *pipeline.Context, ev pipeline.Event) error {
	ctx.FireInbound(ev)
	return nil
}

func (l *lifecycle) HandlerAdded(*pipeline.Context)   { l.added++ }
func (l *lifecycle) HandlerRemoved(*pipeline.Context) { l.removed++ }

func TestLifecycleCallbacks(t *testing.T) {
	p, _ := newPipeline(t)
	h := &lifecycle{}
	require.NoError(t, p.AddLast("l", h))
	assert.Equal(t, 1, h.added)
	_, err := p.Remove("l")
	require.NoError(t, err)
	assert.Equal(t, 1, h.removed)
}

func TestTailLogsUnhandledException(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	p, _ := newPipeline(t, pipeline.WithLogger(zap.New(core)))

	p.FireExceptionCaught(errors.New("lost"))
	p.FireChannelRead("orphan")

	warn := logs.FilterMessage("an exception reached the tail of the pipeline; no handler processed it")
	require.Equal(t, 1, warn.Len())
	assert.Equal(t, "lost", warn.All()[0].ContextMap()["error"])
	assert.Equal(t, 1, logs.FilterMessage("discarded inbound message that reached the tail of the pipeline").Len())
}

func TestFailureWhileHandlingExceptionIsLogged(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	p, _ := newPipeline(t, pipeline.WithLogger(zap.New(core)))
	require.NoError(t, p.AddLast("bad", pipeline.InboundFunc(func(ctx *pipeline.Context, ev pipeline.Event) error {
		return errors.New("again")
	})))

	require.NotPanics(t, func() { p.FireChannelRead("m") })
	assert.Equal(t, 1, logs.FilterMessage("handler failed while handling an exception").Len())
}
