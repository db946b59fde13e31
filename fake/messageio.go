// File: fake/messageio.go
// Author: momentics <momentics@gmail.com>
//
// Scripted channel.MessageIO for testing channel read and write loops.

package fake

import (
	"sync"

	"github.com/momentics/hioload-nio/channel"
)

type readStep struct {
	msgs []any
	n    int
	err  error
}

type writeStep struct {
	done bool
	err  error
}

// MessageIO replays queued read and write outcomes. With nothing queued a
// read finds no data and a write succeeds.
type MessageIO struct {
	mu        sync.Mutex
	fd        int
	active    bool
	listening bool
	closed    bool
	closeErr  error

	reads  []readStep
	writes []writeStep

	readCalls     int
	writeAttempts int
	written       []any
}

var _ channel.MessageIO = (*MessageIO)(nil)

// NewMessageIO returns an active, non-listening MessageIO for fd.
func NewMessageIO(fd int) *MessageIO {
	return &MessageIO{fd: fd, active: true}
}

// QueueRead makes the next read attempt deliver msgs.
func (m *MessageIO) QueueRead(msgs ...any) *MessageIO {
	return m.queueRead(readStep{msgs: msgs, n: len(msgs)})
}

// QueueEnd makes the next read attempt report end of input.
func (m *MessageIO) QueueEnd() *MessageIO {
	return m.queueRead(readStep{n: -1})
}

// QueueReadError makes the next read attempt deliver msgs and fail with err.
func (m *MessageIO) QueueReadError(err error, msgs ...any) *MessageIO {
	return m.queueRead(readStep{msgs: msgs, n: len(msgs), err: err})
}

func (m *MessageIO) queueRead(s readStep) *MessageIO {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads = append(m.reads, s)
	return m
}

// QueueWrite sets the outcome of the next write attempt.
func (m *MessageIO) QueueWrite(done bool, err error) *MessageIO {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes = append(m.writes, writeStep{done: done, err: err})
	return m
}

// QueueWriteStall makes the next n write attempts write nothing.
func (m *MessageIO) QueueWriteStall(n int) *MessageIO {
	for i := 0; i < n; i++ {
		m.QueueWrite(false, nil)
	}
	return m
}

func (m *MessageIO) FD() int { return m.fd }

func (m *MessageIO) ReadMessages(buf *[]any, alloc channel.AllocatorHandle) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readCalls++
	if len(m.reads) == 0 {
		return 0, nil
	}
	s := m.reads[0]
	m.reads = m.reads[1:]
	*buf = append(*buf, s.msgs...)
	for _, msg := range s.msgs {
		if b, ok := msg.([]byte); ok {
			alloc.IncBytesRead(len(b))
		}
	}
	return s.n, s.err
}

func (m *MessageIO) WriteMessage(msg any, _ *channel.OutboundBuffer) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeAttempts++
	s := writeStep{done: true}
	if len(m.writes) > 0 {
		s = m.writes[0]
		m.writes = m.writes[1:]
	}
	if s.done && s.err == nil {
		m.written = append(m.written, msg)
	}
	return s.done, s.err
}

func (m *MessageIO) IsActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active && !m.closed
}

// SetActive changes what IsActive reports.
func (m *MessageIO) SetActive(active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = active
}

func (m *MessageIO) Listening() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listening
}

// SetListening changes what Listening reports.
func (m *MessageIO) SetListening(listening bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listening = listening
}

// FailClose makes Close return err.
func (m *MessageIO) FailClose(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeErr = err
}

func (m *MessageIO) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return m.closeErr
}

// Closed reports whether Close was called.
func (m *MessageIO) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// ReadCalls returns the number of read attempts.
func (m *MessageIO) ReadCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readCalls
}

// WriteAttempts returns the number of write attempts.
func (m *MessageIO) WriteAttempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writeAttempts
}

// Written returns the successfully written messages in order.
func (m *MessageIO) Written() []any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]any(nil), m.written...)
}

// PendingReads returns the number of queued read outcomes not consumed yet.
func (m *MessageIO) PendingReads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.reads)
}
