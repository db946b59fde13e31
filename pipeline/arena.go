// File: pipeline/arena.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Index-stable slot arena holding the contexts of one pipeline. Links between
// contexts are handles (slot index plus generation), so a handle kept by a
// removed context never resolves to whatever reuses its neighbour's slot.

package pipeline

type handle struct {
	idx int32
	gen uint32
}

var nilHandle = handle{idx: -1}

type slot struct {
	ctx *Context
	gen uint32
}

type arena struct {
	slots []slot
	free  []int32
}

func (a *arena) insert(c *Context) handle {
	if n := len(a.free); n > 0 {
		idx := a.free[n-1]
		a.free = a.free[:n-1]
		a.slots[idx].ctx = c
		return handle{idx: idx, gen: a.slots[idx].gen}
	}
	a.slots = append(a.slots, slot{ctx: c})
	return handle{idx: int32(len(a.slots) - 1)}
}

func (a *arena) release(h handle) {
	s := &a.slots[h.idx]
	s.ctx = nil
	s.gen++
	a.free = append(a.free, h.idx)
}

// get returns nil for stale or empty handles.
func (a *arena) get(h handle) *Context {
	if h.idx < 0 || int(h.idx) >= len(a.slots) {
		return nil
	}
	s := a.slots[h.idx]
	if s.gen != h.gen {
		return nil
	}
	return s.ctx
}

func (a *arena) len() int {
	return len(a.slots) - len(a.free)
}
