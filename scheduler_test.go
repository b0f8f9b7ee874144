package rumpxen

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_PingPong(t *testing.T) {
	hv := NewSimulatedHypervisor()
	sched := New(hv)
	sched.InitSched()

	var mu sync.Mutex
	var sequence []string

	doneA := make(chan struct{})
	doneB := make(chan struct{})

	sched.CreateThread("A", nil, func(any) {
		for i := 0; i < 100; i++ {
			mu.Lock()
			sequence = append(sequence, "A")
			mu.Unlock()
			sched.Schedule()
		}
		close(doneA)
	}, nil, nil)

	sched.CreateThread("B", nil, func(any) {
		for i := 0; i < 100; i++ {
			mu.Lock()
			sequence = append(sequence, "B")
			mu.Unlock()
			sched.Schedule()
		}
		close(doneB)
	}, nil, nil)

	go sched.Run()

	<-doneA
	<-doneB

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, sequence, 200)
	for i, who := range sequence {
		if i%2 == 0 {
			assert.Equal(t, "A", who, "index %d", i)
		} else {
			assert.Equal(t, "B", who, "index %d", i)
		}
	}

	stats := sched.Stats()
	assert.GreaterOrEqual(t, stats.ContextSwitches, int64(200))
	assert.Equal(t, int64(3), stats.ThreadsCreated) // idle, A, B
}

func TestScheduler_MsleepTimesOut(t *testing.T) {
	hv := NewSimulatedHypervisor()
	sched := New(hv)
	sched.InitSched()

	var result bool
	var elapsed time.Duration
	done := make(chan struct{})

	sched.CreateThread("sleeper", nil, func(any) {
		start := hv.Now()
		result = sched.Msleep(50)
		elapsed = hv.Now().Sub(start)
		close(done)
	}, nil, nil)

	go sched.Run()
	<-done

	assert.True(t, result)
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)

	stats := sched.Stats()
	assert.GreaterOrEqual(t, stats.TimerFires, int64(1))
}

func TestScheduler_WakePreemptsTimer(t *testing.T) {
	hv := NewSimulatedHypervisor()
	sched := New(hv)
	sched.InitSched()

	var result bool
	var elapsed time.Duration

	var threadA *Thread
	readyA := make(chan struct{})
	doneA := make(chan struct{})
	doneB := make(chan struct{})

	threadA = sched.CreateThread("A", nil, func(any) {
		close(readyA)
		start := hv.Now()
		result = sched.Msleep(1000)
		elapsed = hv.Now().Sub(start)
		close(doneA)
	}, nil, nil)

	sched.CreateThread("B", nil, func(any) {
		<-readyA
		time.Sleep(10 * time.Millisecond)
		sched.Wake(threadA)
		close(doneB)
	}, nil, nil)

	go sched.Run()
	<-doneA
	<-doneB

	assert.False(t, result, "an explicit wake must return false, not a timeout")
	assert.Less(t, elapsed, 500*time.Millisecond)
}

func TestScheduler_JoinOrdering(t *testing.T) {
	hv := NewSimulatedHypervisor()
	sched := New(hv)
	sched.InitSched()

	aBody := make(chan struct{})
	threadA := sched.CreateThread("A", nil, func(any) {
		close(aBody)
	}, nil, nil)
	sched.MarkJoinable(threadA)

	doneB := make(chan struct{})
	sched.CreateThread("B", nil, func(any) {
		<-aBody
		sched.JoinThread(threadA)
		close(doneB)
	}, nil, nil)

	go sched.Run()

	select {
	case <-doneB:
	case <-time.After(5 * time.Second):
		t.Fatal("JoinThread never returned: join ordering is broken")
	}

	assert.Eventually(t, func() bool {
		return sched.Stats().ThreadsReaped >= 2
	}, time.Second, time.Millisecond, "both A and B should eventually be reaped")
}

func TestScheduler_JoinThreadWithoutMustJoin_Bugs(t *testing.T) {
	hv := NewSimulatedHypervisor()
	sched := New(hv)
	sched.InitSched()

	started := make(chan struct{})
	panicked := make(chan any, 1)

	other := sched.CreateThread("other", nil, func(any) {
		sched.Msleep(1000)
	}, nil, nil)

	sched.CreateThread("joiner", nil, func(any) {
		close(started)
		defer func() { panicked <- recover() }()
		sched.JoinThread(other)
	}, nil, nil)

	go sched.Run()
	<-started

	select {
	case r := <-panicked:
		assert.NotNil(t, r, "JoinThread on a non-MUSTJOIN target must be a bug, not silently accepted")
	case <-time.After(2 * time.Second):
		t.Fatal("expected JoinThread to panic")
	}
}

func TestScheduler_RoundRobinInvariant(t *testing.T) {
	hv := NewSimulatedHypervisor()
	sched := New(hv)
	sched.InitSched()

	const n = 4
	const rounds = 3

	var mu sync.Mutex
	seen := map[string]int{}
	dones := make([]chan struct{}, n)

	for i := 0; i < n; i++ {
		dones[i] = make(chan struct{})
		name := [...]string{"t0", "t1", "t2", "t3"}[i]
		done := dones[i]
		sched.CreateThread(name, nil, func(any) {
			for r := 0; r < rounds; r++ {
				mu.Lock()
				seen[name]++
				mu.Unlock()
				sched.Schedule()
			}
			close(done)
		}, nil, nil)
	}

	go sched.Run()
	for _, d := range dones {
		<-d
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, n)
	for name, count := range seen {
		assert.Equal(t, rounds, count, "thread %s should run exactly once per round", name)
	}
}

func TestScheduler_BlockWakeRoundTrip(t *testing.T) {
	hv := NewSimulatedHypervisor()
	sched := New(hv)
	sched.InitSched()

	done := make(chan struct{})
	woken := make(chan struct{})

	sched.CreateThread("self-park", nil, func(any) {
		me := sched.Current()
		sched.Block(me)
		go func() {
			<-woken
			sched.Wake(me)
		}()
		sched.Schedule()
		close(done)
	}, nil, nil)

	go sched.Run()
	close(woken)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("block+wake round trip never completed")
	}
}

func TestScheduler_WakeIsIdempotent(t *testing.T) {
	hv := NewSimulatedHypervisor()
	sched := New(hv)
	sched.InitSched()

	done := make(chan struct{})
	t1 := sched.CreateThread("a", nil, func(any) {
		close(done)
	}, nil, nil)

	// Block it, then double-wake: must be equivalent to a single wake,
	// not panic or double-enqueue the descriptor.
	sched.Block(t1)
	sched.Wake(t1)
	sched.Wake(t1)

	go sched.Run()
	<-done
}

func TestScheduler_MsleepZeroReturnsImmediatelyTimedOut(t *testing.T) {
	hv := NewSimulatedHypervisor()
	sched := New(hv)
	sched.InitSched()

	var result bool
	done := make(chan struct{})
	sched.CreateThread("zero-sleeper", nil, func(any) {
		result = sched.Msleep(0)
		close(done)
	}, nil, nil)

	go sched.Run()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("msleep(0) never returned")
	}
	assert.True(t, result)
}

func TestScheduler_ScheduleWithInterruptsMasked_Bugs(t *testing.T) {
	hv := NewSimulatedHypervisor()
	sched := New(hv)
	sched.InitSched()

	assert.Panics(t, func() {
		sched.Gate.Enter()
		defer sched.Gate.Exit()
		sched.Schedule()
	})
}

func TestScheduler_ScheduleFromCallbackContext_Bugs(t *testing.T) {
	hv := NewSimulatedHypervisor()
	sched := New(hv)
	sched.InitSched()

	var caught any
	sched.runInCallback(func() {
		defer func() { caught = recover() }()
		sched.Schedule()
	})
	assert.NotNil(t, caught, "Schedule from callback context must be a bug")
}

func TestScheduler_ErrorsIsMatchesSentinels(t *testing.T) {
	err := domainError("Open", ErrNXIO)
	assert.True(t, errors.Is(err, ErrNXIO))
	assert.False(t, errors.Is(err, ErrBadF))
}
