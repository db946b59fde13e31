// File: channel/allocator.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Allocator handles decide how many read attempts run per wake-up and how
// large the next receive buffer should be.

package channel

// AllocatorHandle is the per-channel read heuristic. Reset is called at the
// start of every read wake-up and ReadComplete at its end.
type AllocatorHandle interface {
	Reset()
	IncMessagesRead(n int)
	IncBytesRead(n int)
	ContinueReading() bool
	ReadComplete()
	// Guess returns the receive buffer size to use for the next read.
	Guess() int
}

const (
	minGuess     = 64
	initialGuess = 2048
	maxGuess     = 65536

	indexIncrement = 4
	indexDecrement = 1
)

// sizeTable holds 16-byte steps below 512 and powers of two above.
var sizeTable = func() []int {
	var t []int
	for i := 16; i < 512; i += 16 {
		t = append(t, i)
	}
	for i := 512; i > 0 && i <= 1<<30; i <<= 1 {
		t = append(t, i)
	}
	return t
}()

func sizeIndex(size int) int {
	lo, hi := 0, len(sizeTable)-1
	for lo <= hi {
		mid := (lo + hi) / 2
		switch {
		case sizeTable[mid] < size:
			lo = mid + 1
		case sizeTable[mid] > size:
			hi = mid - 1
		default:
			return mid
		}
	}
	// round up
	if lo >= len(sizeTable) {
		return len(sizeTable) - 1
	}
	return lo
}

// adaptiveGuess grows the guess at once when a read fills it and shrinks it
// only after two consecutive small reads.
type adaptiveGuess struct {
	minIndex, maxIndex, index int
	next                      int
	decreaseNow               bool
}

func newAdaptiveGuess(lo, initial, hi int) adaptiveGuess {
	g := adaptiveGuess{
		minIndex: sizeIndex(lo),
		maxIndex: sizeIndex(hi),
		index:    sizeIndex(initial),
	}
	g.next = sizeTable[g.index]
	return g
}

func (g *adaptiveGuess) record(actual int) {
	if actual <= sizeTable[max(0, g.index-indexDecrement)] {
		if g.decreaseNow {
			g.index = max(g.index-indexDecrement, g.minIndex)
			g.next = sizeTable[g.index]
			g.decreaseNow = false
		} else {
			g.decreaseNow = true
		}
		return
	}
	if actual >= g.next {
		g.index = min(g.index+indexIncrement, g.maxIndex)
		g.next = sizeTable[g.index]
		g.decreaseNow = false
	}
}

// MessageHandle is the allocator handle of message-oriented channels.
type MessageHandle struct {
	cfg          *Config
	attempts     int
	messages     int
	bytes        int
	maxBytes     int
	lastMessages int
	guess        adaptiveGuess
}

// NewMessageHandle returns a handle reading cfg live, so auto-read changes
// take effect on the next wake-up.
func NewMessageHandle(cfg *Config) AllocatorHandle {
	return &MessageHandle{
		cfg:   cfg,
		guess: newAdaptiveGuess(minGuess, initialGuess, maxGuess),
	}
}

func (h *MessageHandle) Reset() {
	h.attempts = 0
	h.messages = 0
	h.bytes = 0
	h.maxBytes = 0
	h.lastMessages = 0
}

func (h *MessageHandle) IncMessagesRead(n int) {
	h.attempts++
	h.messages += n
	h.lastMessages = n
}

func (h *MessageHandle) IncBytesRead(n int) {
	h.bytes += n
	if n > h.maxBytes {
		h.maxBytes = n
	}
}

// ContinueReading allows another attempt while auto-read is on, the last
// attempt produced messages and the wake-up budget is not spent.
func (h *MessageHandle) ContinueReading() bool {
	return h.cfg.AutoRead && h.lastMessages > 0 && h.attempts < h.cfg.ReadsPerWakeup
}

func (h *MessageHandle) ReadComplete() {
	if h.maxBytes > 0 {
		h.guess.record(h.maxBytes)
	}
}

func (h *MessageHandle) Guess() int { return h.guess.next }

// Messages returns the messages read in the current wake-up.
func (h *MessageHandle) Messages() int { return h.messages }

// Bytes returns the bytes read in the current wake-up.
func (h *MessageHandle) Bytes() int { return h.bytes }

// Attempts returns the successful read attempts in the current wake-up.
func (h *MessageHandle) Attempts() int { return h.attempts }
