package rumpxen

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveSchedulerOptions_Defaults(t *testing.T) {
	o := resolveSchedulerOptions(nil)
	assert.Equal(t, 10*time.Second, o.idleParkCeiling)
	assert.Nil(t, o.logger)
}

func TestResolveSchedulerOptions_WithIdleParkCeiling(t *testing.T) {
	o := resolveSchedulerOptions([]Option{WithIdleParkCeiling(250 * time.Millisecond)})
	assert.Equal(t, 250*time.Millisecond, o.idleParkCeiling)
}

func TestResolveSchedulerOptions_WithLogger(t *testing.T) {
	l := NewDefaultLogger(0)
	o := resolveSchedulerOptions([]Option{WithLogger(l)})
	assert.Same(t, l, o.logger)
}

func TestResolveBridgeOptions_Defaults(t *testing.T) {
	o := resolveBridgeOptions(nil)
	assert.Equal(t, NumSlots, o.numSlots)
}

func TestResolveBridgeOptions_WithSlotCount(t *testing.T) {
	hv := NewSimulatedHypervisor()
	sched := New(hv)
	sched.InitSched()

	bridge := NewBridge(sched, WithSlotCount(2))
	require.NoError(t, bridge.AttachDriver(0, NewMemoryBlockDriver(4096, 512, false)))
	require.NoError(t, bridge.AttachDriver(1, NewMemoryBlockDriver(4096, 512, false)))

	err := bridge.AttachDriver(2, NewMemoryBlockDriver(4096, 512, false))
	require.Error(t, err)
}
