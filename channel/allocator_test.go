package channel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessageHandleContinueReading(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ReadsPerWakeup = 2
	h := NewMessageHandle(&cfg).(*MessageHandle)

	h.Reset()
	h.IncMessagesRead(3)
	assert.True(t, h.ContinueReading())
	h.IncMessagesRead(1)
	assert.False(t, h.ContinueReading(), "attempt budget spent")
	assert.Equal(t, 4, h.Messages())
	assert.Equal(t, 2, h.Attempts())

	h.Reset()
	h.IncMessagesRead(0)
	assert.False(t, h.ContinueReading(), "empty attempt ends the wake-up")

	h.Reset()
	cfg.AutoRead = false
	h.IncMessagesRead(1)
	assert.False(t, h.ContinueReading(), "auto-read off reads once")
}

func TestMessageHandleGuessAdapts(t *testing.T) {
	cfg := DefaultConfig()
	h := NewMessageHandle(&cfg)
	assert.Equal(t, initialGuess, h.Guess())

	h.Reset()
	h.IncBytesRead(initialGuess)
	h.ReadComplete()
	grown := h.Guess()
	assert.Greater(t, grown, initialGuess)
	assert.LessOrEqual(t, grown, maxGuess)

	h.Reset()
	h.IncBytesRead(100)
	h.ReadComplete()
	assert.Equal(t, grown, h.Guess(), "one small read does not shrink")

	h.Reset()
	h.IncBytesRead(100)
	h.ReadComplete()
	assert.Less(t, h.Guess(), grown)
}

func TestGuessStaysWithinBounds(t *testing.T) {
	g := newAdaptiveGuess(minGuess, initialGuess, maxGuess)
	for i := 0; i < 20; i++ {
		g.record(1 << 20)
	}
	assert.Equal(t, maxGuess, g.next)
	for i := 0; i < 200; i++ {
		g.record(1)
	}
	assert.Equal(t, minGuess, g.next)
}

func TestSizeIndexRoundsUp(t *testing.T) {
	assert.Equal(t, 16, sizeTable[sizeIndex(1)])
	assert.Equal(t, 512, sizeTable[sizeIndex(500)])
	assert.Equal(t, 2048, sizeTable[sizeIndex(2048)])
	assert.Equal(t, 4096, sizeTable[sizeIndex(2049)])
}
