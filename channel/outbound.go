// File: channel/outbound.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// OutboundBuffer queues pending writes of one channel. Entries up to the
// last flush form the flushed prefix; only those are visible to the write
// loop. It is used on the channel's loop only.

package channel

import (
	"github.com/eapache/queue"
)

type entry struct {
	msg  any
	done func(error)
}

func (e *entry) complete(err error) {
	if e.done != nil {
		e.done(err)
	}
}

// OutboundBuffer is an ordered queue of pending write entries.
type OutboundBuffer struct {
	q       *queue.Queue
	flushed int
}

// NewOutboundBuffer returns an empty buffer.
func NewOutboundBuffer() *OutboundBuffer {
	return &OutboundBuffer{q: queue.New()}
}

// AddMessage appends msg to the unflushed tail. done is called once the entry
// is written or failed.
func (b *OutboundBuffer) AddMessage(msg any, done func(error)) {
	b.q.Add(&entry{msg: msg, done: done})
}

// AddFlush marks every queued entry as flushed.
func (b *OutboundBuffer) AddFlush() {
	b.flushed = b.q.Length()
}

// Current returns the first flushed entry's message.
func (b *OutboundBuffer) Current() (any, bool) {
	if b.flushed == 0 {
		return nil, false
	}
	return b.q.Peek().(*entry).msg, true
}

// Remove pops the current entry reporting success. It returns false when no
// flushed entry is left.
func (b *OutboundBuffer) Remove() bool {
	return b.remove(nil)
}

// RemoveWithError pops the current entry reporting err to it only.
func (b *OutboundBuffer) RemoveWithError(err error) bool {
	return b.remove(err)
}

func (b *OutboundBuffer) remove(err error) bool {
	if b.flushed == 0 {
		return false
	}
	e := b.q.Remove().(*entry)
	b.flushed--
	e.complete(err)
	return true
}

// FailFlushed fails every flushed entry with err.
func (b *OutboundBuffer) FailFlushed(err error) {
	for b.remove(err) {
	}
}

// FailAll fails flushed and unflushed entries with err.
func (b *OutboundBuffer) FailAll(err error) {
	b.AddFlush()
	b.FailFlushed(err)
}

// Len returns the number of queued entries.
func (b *OutboundBuffer) Len() int { return b.q.Length() }

// Flushed returns the number of entries visible to the write loop.
func (b *OutboundBuffer) Flushed() int { return b.flushed }

// IsEmpty reports whether no flushed entry is pending.
func (b *OutboundBuffer) IsEmpty() bool { return b.flushed == 0 }
