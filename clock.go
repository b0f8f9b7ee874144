package rumpxen

import (
	"sync/atomic"
	"time"
)

// Hypervisor is the collaborator boundary spec §1 names but leaves out
// of scope: the clock source and the hypervisor bring-up/event-channel
// plumbing the scheduler parks against when nothing is runnable. Shaped
// after eventloop's platform poller abstraction (poller_linux.go et al.)
// which likewise hides a platform-specific wait primitive behind one
// small interface the core dispatch loop calls through.
type Hypervisor interface {
	// Now returns the current monotonic time. Only the difference
	// between two calls is meaningful (spec §6: "64-bit nanoseconds
	// since an arbitrary epoch, monotonic").
	Now() time.Time

	// BlockDomain parks the calling goroutine until either the given
	// deadline or a wake-up event, whichever comes first. This is
	// schedule()'s "park the CPU... using the hypervisor's block-domain
	// primitive" (spec §4.2). Must be called with the Gate unmasked.
	BlockDomain(deadline time.Time)

	// ProcessEvents forces any hypervisor event-channel work queued
	// during BlockDomain to run before schedule() retries its scan
	// (spec §4.2: "force event-channel processing, and retry").
	ProcessEvents()

	// WakeDomain interrupts a goroutine currently parked in
	// BlockDomain, standing in for the real hardware event-channel
	// interrupt that would otherwise break a parked CPU out of halt
	// whenever wake() or create_thread() makes a thread runnable. Safe
	// to call when nothing is parked; the interrupt is not lost (it is
	// observed by the very next BlockDomain call instead).
	WakeDomain()

	// Unsched drops however many kernel locks the caller currently
	// holds and returns that count; Sched reacquires that many. This is
	// the kernel lock dance of spec §6, used around submit (§4.4 step 1
	// and 6) and around clock_sleep (§4.3).
	Unsched() int
	Sched(held int)
}

// SimulatedHypervisor is a reference Hypervisor sufficient to run and
// test this package without a real hypervisor underneath it (spec §0
// of SPEC_FULL.md: "a default in-process implementation... is provided
// so the package is independently testable").
//
// BlockDomain is grounded on eventloop's dual wakeup mechanism
// (wakePipe / fastWakeupCh in loop.go, createWakeFd/drainWakeUpPipe in
// wakeup_linux.go): a channel stands in for the eventfd-backed wake
// primitive, and a time.Timer stands in for the deadline.
//
// The kernel lock dance (Unsched/Sched) is deliberately NOT backed by a
// real mutex: this package's own cooperative baton (see Scheduler,
// thread.go) already gives at most one goroutine live kernel-code
// execution at a time, so a second blocking lock around Unsched/Sched
// would be redundant at best — and actively wrong, since independent
// call sites that each drop and reacquire their own count (submit's
// dance and the completion hook's separate acquire) do not nest and
// would deadlock against each other on a shared mutex. Unsched/Sched
// here are pure bookkeeping: a signed counter a test can inspect via
// HeldCount to assert every drop is matched by a reacquire of the same
// count.
type SimulatedHypervisor struct {
	wake         chan struct{}
	outstanding  atomic.Int32 // sum of in-flight Unsched() counts not yet Sched() back
}

// NewSimulatedHypervisor returns a SimulatedHypervisor ready for use.
func NewSimulatedHypervisor() *SimulatedHypervisor {
	return &SimulatedHypervisor{
		wake: make(chan struct{}, 1),
	}
}

// HeldCount returns the net number of kernel locks currently reported
// dropped (positive) across all outstanding Unsched/Sched dances. Zero
// at quiescence iff every Unsched was matched by a Sched of the same
// count.
func (h *SimulatedHypervisor) HeldCount() int32 { return h.outstanding.Load() }

func (h *SimulatedHypervisor) Now() time.Time { return monotonicNow() }

func (h *SimulatedHypervisor) BlockDomain(deadline time.Time) {
	// deadline is always derived from a prior h.Now() reading (see
	// Scheduler.scanRunQueue); computing the remaining wait against that
	// same clock keeps this correct regardless of monotonicNow's epoch,
	// rather than mixing it with a fresh time.Now() via time.Until.
	d := deadline.Sub(h.Now())
	if d <= 0 {
		select {
		case <-h.wake:
		default:
		}
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-h.wake:
	case <-timer.C:
	}
}

// WakeDomain interrupts a goroutine currently parked in BlockDomain.
// Edge triggered: a WakeDomain with nobody parked is remembered for
// exactly one future BlockDomain call, matching spec §4.4's "CV signal
// is edge-triggered" note about the bridge's own wake-up.
func (h *SimulatedHypervisor) WakeDomain() {
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

func (h *SimulatedHypervisor) ProcessEvents() {}

func (h *SimulatedHypervisor) Unsched() int {
	h.outstanding.Add(1)
	return 1
}

func (h *SimulatedHypervisor) Sched(held int) {
	h.outstanding.Add(-int32(held))
}
