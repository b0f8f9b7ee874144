package rumpxen

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBridge_ReadRoundTrip(t *testing.T) {
	hv := NewSimulatedHypervisor()
	sched := New(hv)
	sched.InitSched()
	bridge := NewBridge(sched)

	drv := NewMemoryBlockDriver(1<<20, 512, false)
	require.NoError(t, bridge.AttachDriver(0, drv))

	fd, err := bridge.openSlot(0, true)
	require.NoError(t, err)
	require.Equal(t, BLKFDOFF, fd)

	type result struct {
		arg any
		n   int
		err error
	}
	results := make(chan result, 1)

	buf := make([]byte, 4096)
	sched.CreateThread("submitter", nil, func(any) {
		err := bridge.Submit(fd, OpRead, buf, len(buf), 0, func(arg any, n int, err error) {
			results <- result{arg, n, err}
		}, "marker")
		require.NoError(t, err)
	}, nil, nil)

	go sched.Run()

	select {
	case r := <-results:
		assert.Equal(t, "marker", r.arg)
		assert.Equal(t, 4096, r.n)
		assert.NoError(t, r.err)
	case <-time.After(5 * time.Second):
		t.Fatal("read completion never arrived")
	}

	assert.Eventually(t, func() bool {
		return bridge.Stats().OutstandingTotal == 0
	}, time.Second, time.Millisecond)
}

func TestBridge_ReadOnlyDeviceRejectsRDWR(t *testing.T) {
	hv := NewSimulatedHypervisor()
	sched := New(hv)
	sched.InitSched()
	bridge := NewBridge(sched)

	drv := NewMemoryBlockDriver(1<<20, 512, true)
	require.NoError(t, bridge.AttachDriver(3, drv))

	_, err := bridge.openSlot(3, true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrROFS))
	assert.Equal(t, 0, bridge.slots[3].openCount, "a rejected open must not bump the ref count")

	info, err := bridge.slotInfo(3)
	require.NoError(t, err)
	assert.True(t, info.ReadOnly)

	fd, err := bridge.openSlot(3, false)
	require.NoError(t, err)
	require.NoError(t, bridge.closeSlot(fd))
}

func TestBridge_IOErrorDeliveredToCallback(t *testing.T) {
	hv := NewSimulatedHypervisor()
	sched := New(hv)
	sched.InitSched()
	bridge := NewBridge(sched)

	drv := NewMemoryBlockDriver(4096, 512, false)
	require.NoError(t, bridge.AttachDriver(0, drv))
	drv.FailNextRequest()

	fd, err := bridge.openSlot(0, true)
	require.NoError(t, err)

	results := make(chan error, 1)
	buf := make([]byte, 512)
	sched.CreateThread("submitter", nil, func(any) {
		err := bridge.Submit(fd, OpWrite, buf, len(buf), 0, func(arg any, n int, err error) {
			results <- err
		}, nil)
		require.NoError(t, err)
	}, nil, nil)

	go sched.Run()

	select {
	case err := <-results:
		assert.True(t, errors.Is(err, ErrIO))
	case <-time.After(5 * time.Second):
		t.Fatal("error completion never arrived")
	}

	// the I/O-error counter is bumped after the callback returns.
	assert.Eventually(t, func() bool {
		return bridge.Stats().IOErrors == 1
	}, time.Second, time.Millisecond)

	stats := bridge.Stats()
	assert.Equal(t, int64(1), stats.IOErrors)
}

func TestBridge_SubmitUnknownFdFails(t *testing.T) {
	hv := NewSimulatedHypervisor()
	sched := New(hv)
	sched.InitSched()
	bridge := NewBridge(sched)

	err := bridge.Submit(BLKFDOFF, OpRead, nil, 0, 0, func(any, int, error) {}, nil)
	assert.True(t, errors.Is(err, ErrBadF))
}

func TestBridge_HeldCountBalancedAfterSubmit(t *testing.T) {
	hv := NewSimulatedHypervisor()
	sched := New(hv)
	sched.InitSched()
	bridge := NewBridge(sched)

	drv := NewMemoryBlockDriver(4096, 512, false)
	require.NoError(t, bridge.AttachDriver(0, drv))
	fd, err := bridge.openSlot(0, true)
	require.NoError(t, err)

	done := make(chan struct{})
	buf := make([]byte, 512)
	sched.CreateThread("submitter", nil, func(any) {
		require.NoError(t, bridge.Submit(fd, OpRead, buf, len(buf), 0, func(any, int, error) {
			close(done)
		}, nil))
	}, nil, nil)

	go sched.Run()
	<-done

	assert.Eventually(t, func() bool {
		return hv.HeldCount() == 0
	}, time.Second, time.Millisecond, "every Unsched must be matched by a Sched of the same count")
}
