package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArenaStaleHandles(t *testing.T) {
	var a arena
	c1, c2 := &Context{name: "one"}, &Context{name: "two"}

	h1 := a.insert(c1)
	require.Same(t, c1, a.get(h1))

	a.release(h1)
	assert.Nil(t, a.get(h1))

	h2 := a.insert(c2)
	assert.Equal(t, h1.idx, h2.idx, "freed slot is reused")
	assert.Nil(t, a.get(h1), "old generation must not resolve to the new occupant")
	assert.Same(t, c2, a.get(h2))
	assert.Nil(t, a.get(nilHandle))
	assert.Equal(t, 1, a.len())
}
