package rumpxen

import (
	"container/list"
)

// ThreadFlag holds the thread descriptor's flag bits (spec §3).
type ThreadFlag uint32

const (
	// FlagRunnable marks a thread eligible to be picked as schedule()'s
	// next. Cleared by block/msleep/absmsleep/exit, set by wake or by a
	// timer firing.
	FlagRunnable ThreadFlag = 1 << iota
	// FlagMustJoin marks a thread whose exit must be observed by a
	// join_thread caller before its descriptor is eligible for reaping.
	FlagMustJoin
	// FlagJoined is latched by exit_thread once MUSTJOIN is set and is
	// never cleared; the observing join_thread call clears MUSTJOIN
	// instead, which releases the exiting thread.
	FlagJoined
	// FlagExtStack marks a thread created with a caller-supplied stack;
	// its lifetime is the caller's responsibility, not the scheduler's.
	FlagExtStack
	// FlagTimedOut is the TIMEDOUT latch: set when a sleeping thread's
	// wake-up time elapses before an explicit wake, cleared by the next
	// sleep.
	FlagTimedOut
)

// ThreadFunc is the body a thread runs once scheduled for the first
// time. It receives the opaque arg supplied to CreateThread.
type ThreadFunc func(arg any)

// Thread is a scheduler thread descriptor (spec §3 "Thread descriptor").
// Every field below is mutated only while the owning Scheduler's Gate is
// held; reading t.flags or t.wakeupTime outside the gate from any
// goroutine other than the one currently running as this thread is
// racy by construction of the single-virtual-CPU model.
type Thread struct {
	Name string

	// Cookie is the opaque value passed to the scheduler's context-switch
	// hook (spec §4.2 set_sched_hook); owned by the caller of
	// CreateThread, never interpreted by this package.
	Cookie any

	// LWP is an opaque, glue-owned "lightweight process" handle, set and
	// read only by the glue surface (spec §3: "an opaque
	// lightweight-process pointer owned by the glue layer").
	LWP any

	// Err is the thread-local last-error slot the glue surface uses for
	// POSIX-style error values (spec §7).
	Err error

	flags      ThreadFlag
	wakeupTime int64 // absolute ns, 0 == no timeout

	entry ThreadFunc
	arg   any

	// resume is the baton: unbuffered, so a send only completes once the
	// receiving goroutine is parked waiting for it, and a receive only
	// completes once the scheduler has chosen this thread as next. This
	// is the Go-native replacement for architecture-specific register
	// save/restore (explicitly out of scope, spec §1): the Go runtime
	// already owns this goroutine's stack and registers, so "context
	// switch" reduces to handing off which goroutine is allowed to run.
	resume chan struct{}

	elem *list.Element // this thread's node in runQ or exited
}

// newThread allocates a descriptor; it does not touch the run queue.
func newThread(name string, cookie any, entry ThreadFunc, arg any, extStack bool) *Thread {
	t := &Thread{
		Name:   name,
		Cookie: cookie,
		entry:  entry,
		arg:    arg,
		flags:  FlagRunnable,
		resume: make(chan struct{}),
	}
	if extStack {
		t.flags |= FlagExtStack
	}
	return t
}

func (t *Thread) hasFlag(f ThreadFlag) bool { return t.flags&f != 0 }
func (t *Thread) setFlag(f ThreadFlag)      { t.flags |= f }
func (t *Thread) clearFlag(f ThreadFlag)    { t.flags &^= f }

// joinWaiter is a borrowed, non-owning reference pairing a blocked
// join_thread caller with the thread it is waiting on (spec §9: "model
// waiters as borrowed values on the waiter's stack... the waiter is
// removed before its stack frame exits"). It lives only as a
// list.Element inside Scheduler.joinWaiters for the duration of the
// blocking join_thread call that created it.
type joinWaiter struct {
	waiter *Thread
	target *Thread
}
