// File: reactor/group.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package reactor

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/momentics/hioload-nio/affinity"
)

// Group runs several loops and hands them out round-robin.
type Group struct {
	loops []*EventLoop
	next  atomic.Uint64
}

// NewGroup creates n loops, or one per CPU when n <= 0. With WithPinning
// each loop is bound to its own CPU.
func NewGroup(n int, opts ...Option) (*Group, error) {
	if n <= 0 {
		n = runtime.NumCPU()
	}
	var probe options
	for _, opt := range opts {
		opt(&probe)
	}
	g := &Group{loops: make([]*EventLoop, 0, n)}
	for i := 0; i < n; i++ {
		loopOpts := opts
		if probe.pin {
			loopOpts = append(opts[:len(opts):len(opts)], WithCPU(affinity.CPUFor(i)))
		}
		l, err := New(loopOpts...)
		if err != nil {
			g.Shutdown()
			return nil, fmt.Errorf("create loop %d of %d: %w", i+1, n, err)
		}
		g.loops = append(g.loops, l)
	}
	return g, nil
}

// Run runs every loop until ctx is done or one of them fails; a failure
// stops the others. It returns the first error.
func (g *Group) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	for _, l := range g.loops {
		l := l
		eg.Go(func() error { return l.Run(ctx) })
	}
	return eg.Wait()
}

// Next returns the next loop in round-robin order.
func (g *Group) Next() *EventLoop {
	i := g.next.Add(1) - 1
	return g.loops[i%uint64(len(g.loops))]
}

// Loops returns the loops of the group.
func (g *Group) Loops() []*EventLoop { return g.loops }

// Len returns the number of loops.
func (g *Group) Len() int { return len(g.loops) }

// Shutdown asks every loop to stop.
func (g *Group) Shutdown() {
	for _, l := range g.loops {
		l.Shutdown()
	}
}
