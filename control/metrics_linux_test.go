//go:build linux
// +build linux

package control

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-nio/reactor"
)

func TestRegisterGroupExportsQueueDepth(t *testing.T) {
	g, err := reactor.NewGroup(2)
	require.NoError(t, err)
	defer g.Shutdown()

	reg := prometheus.NewRegistry()
	require.NoError(t, RegisterGroup(reg, g))

	require.NoError(t, g.Next().Execute(func() {}))
	families, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, families, 1)
	assert.Equal(t, "hioload_loop_pending_tasks", families[0].GetName())
	assert.Len(t, families[0].GetMetric(), 2)

	assert.Error(t, RegisterGroup(reg, g), "registering twice collides")
}
