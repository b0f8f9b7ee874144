package rumpxen

import (
	"container/list"
	"time"
)

// SchedHook is invoked immediately before each context switch, with the
// outgoing and incoming thread's cookies (spec §4.2 set_sched_hook).
// The glue layer uses this to track per-thread lightweight-process
// identity.
type SchedHook func(prevCookie, nextCookie any)

// Scheduler is the non-preemptive, round-robin cooperative scheduler of
// spec §4.2 (component C3), built on the run queue and thread
// descriptors of thread.go (C2) and the interrupt [Gate] of gate.go
// (C1). Grounded on eventloop/loop.go's run/tick/poll cooperative
// dispatch loop, re-expressed as a single run queue with one thread
// running at a time rather than a single always-running loop goroutine
// executing callbacks inline — thread descriptors here need independent,
// resumable stacks, which eventloop's callback model does not provide, so
// each Thread here owns a real goroutine parked on a baton channel (see
// thread.go's resume field) instead.
type Scheduler struct {
	Gate *Gate

	hv   Hypervisor
	opts schedulerOptions

	runQ        *list.List // of *Thread
	exited      *list.List // of *Thread
	joinWaiters *list.List // of *joinWaiter

	current *Thread
	idle    *Thread

	hook SchedHook

	callbackHolder uint64 // goroutine id currently in callback context, 0 = none

	metrics schedMetrics
}

// New returns a Scheduler parked against hv. Call InitSched before
// Run.
func New(hv Hypervisor, opts ...Option) *Scheduler {
	return &Scheduler{
		Gate:        NewGate(),
		hv:          hv,
		opts:        resolveSchedulerOptions(opts),
		runQ:        list.New(),
		exited:      list.New(),
		joinWaiters: list.New(),
	}
}

// SetSchedHook installs fn as the context-switch hook (spec §4.2).
func (s *Scheduler) SetSchedHook(fn SchedHook) {
	defer s.Gate.Scoped()()
	s.hook = fn
}

// InitSched creates the idle thread and returns its descriptor (spec
// §4.2 init_sched). Run drives the idle thread's body; calling
// InitSched a second time is a bug.
func (s *Scheduler) InitSched() *Thread {
	defer s.Gate.Scoped()()
	if s.idle != nil {
		bugf("InitSched: called twice")
	}
	idle := newThread("idle", nil, nil, nil, false)
	idle.elem = s.runQ.PushBack(idle)
	s.idle = idle
	s.current = idle
	s.metrics.threadsCreated.Add(1)
	return idle
}

// Run drives the idle thread's body in a loop — block, reschedule,
// forever — on the calling goroutine (spec §4.2: "the idle thread's
// body simply blocks itself and reschedules in a loop"). It never
// returns under normal operation; callers typically invoke it via `go
// sched.Run()`.
func (s *Scheduler) Run() {
	if s.idle == nil {
		s.InitSched()
	}
	for {
		s.Block(s.idle)
		s.Schedule()
	}
}

// CreateThread allocates a thread descriptor, marks it RUNNABLE, and
// appends it to the tail of the run queue under mask (spec §4.2
// create_thread). If stack is non-nil, FlagExtStack is set and the
// caller owns the stack's lifetime; this port has no manual stacks, so
// the flag is purely informational bookkeeping for tests that want to
// assert on it.
func (s *Scheduler) CreateThread(name string, cookie any, entry ThreadFunc, arg any, stack []byte) *Thread {
	t := newThread(name, cookie, entry, arg, stack != nil)

	s.Gate.Enter()
	t.elem = s.runQ.PushBack(t)
	s.metrics.threadsCreated.Add(1)
	s.hv.WakeDomain()
	s.Gate.Exit()

	go s.runThread(t)
	return t
}

// runThread is the goroutine body every non-idle Thread runs: park on
// the baton until first scheduled, run the entry function, then exit.
func (s *Scheduler) runThread(t *Thread) {
	<-t.resume
	t.entry(t.arg)
	s.ExitThread()
}

// Current returns the thread the calling goroutine is running as. Only
// meaningful when called from inside a thread's entry function (or
// from Run, for the idle thread).
func (s *Scheduler) Current() *Thread {
	defer s.Gate.Scoped()()
	return s.current
}

// Block sets t.wakeupTime = 0 and clears RUNNABLE (spec §4.2 block).
// Does not reschedule.
func (s *Scheduler) Block(t *Thread) {
	defer s.Gate.Scoped()()
	t.wakeupTime = 0
	t.clearFlag(FlagRunnable)
}

// Wake sets t.wakeupTime = 0 and sets RUNNABLE (spec §4.2 wake).
// Idempotent: wake(t) after wake(t) is equivalent to a single wake(t).
func (s *Scheduler) Wake(t *Thread) {
	defer s.Gate.Scoped()()
	s.wakeLocked(t)
}

// wakeLocked is Wake's body for callers that already hold the Gate. It
// also nudges the hypervisor in case the currently running thread is
// parked in schedule()'s BlockDomain wait, waiting to notice that a
// thread just became runnable.
func (s *Scheduler) wakeLocked(t *Thread) {
	t.wakeupTime = 0
	t.setFlag(FlagRunnable)
	s.hv.WakeDomain()
}

// Msleep sleeps the current thread for ms milliseconds relative to now,
// or until woken. Returns true iff the timer fired rather than an
// explicit wake (spec §4.2 msleep).
func (s *Scheduler) Msleep(ms int) bool {
	return s.sleepUntil(func(now time.Time) int64 {
		return now.Add(time.Duration(ms) * time.Millisecond).UnixNano()
	})
}

// AbsMsleep sleeps the current thread until atNs, an absolute
// monotonic nanosecond timestamp from the same epoch Hypervisor.Now
// uses, or until woken (spec §4.2 absmsleep).
func (s *Scheduler) AbsMsleep(atNs int64) bool {
	return s.sleepUntil(func(time.Time) int64 { return atNs })
}

func (s *Scheduler) sleepUntil(wakeAt func(now time.Time) int64) bool {
	s.Gate.Enter()
	t := s.current
	if t == nil {
		s.Gate.Exit()
		bugf("Msleep/AbsMsleep: no current thread")
	}
	t.wakeupTime = wakeAt(s.hv.Now())
	t.clearFlag(FlagRunnable)
	t.clearFlag(FlagTimedOut)
	s.Gate.Exit()

	s.Schedule()

	s.Gate.Enter()
	timedOut := t.hasFlag(FlagTimedOut)
	t.clearFlag(FlagTimedOut)
	s.Gate.Exit()
	return timedOut
}

// MarkJoinable sets FlagMustJoin on t, requiring a future JoinThread(t)
// call before t's descriptor becomes eligible for reaping. The spec's
// create_thread (§4.2) takes no joinable argument, so this mirrors it
// being set on the descriptor directly; call it before t is first
// scheduled — typically right after CreateThread returns.
func (s *Scheduler) MarkJoinable(t *Thread) {
	defer s.Gate.Scoped()()
	t.setFlag(FlagMustJoin)
}

// JoinThread blocks the calling thread until t has called ExitThread
// and latched JOINED (spec §4.2 join_thread). t must have FlagMustJoin
// set; calling JoinThread on a thread without it is a bug. A second
// join on the same thread is undefined, per spec §8.
func (s *Scheduler) JoinThread(t *Thread) {
	s.Gate.Enter()
	if !t.hasFlag(FlagMustJoin) {
		s.Gate.Exit()
		bugf("JoinThread: target does not have MUSTJOIN set")
	}
	me := s.current
	for !t.hasFlag(FlagJoined) {
		w := &joinWaiter{waiter: me, target: t}
		elem := s.joinWaiters.PushBack(w)
		me.wakeupTime = 0
		me.clearFlag(FlagRunnable)
		s.Gate.Exit()

		s.Schedule()

		s.Gate.Enter()
		s.joinWaiters.Remove(elem)
	}
	t.clearFlag(FlagMustJoin)
	s.wakeLocked(t)
	s.Gate.Exit()
}

// wakeJoinWaiters wakes every thread blocked in JoinThread on target.
// Must be called with the Gate held.
func (s *Scheduler) wakeJoinWaiters(target *Thread) {
	for e := s.joinWaiters.Front(); e != nil; e = e.Next() {
		w := e.Value.(*joinWaiter)
		if w.target == target {
			s.wakeLocked(w.waiter)
		}
	}
}

// ExitThread never returns: it is the last thing a thread's entry
// function's goroutine runs (see runThread), and the goroutine
// terminates once this function hands the baton to the next thread.
//
// If FlagMustJoin is set, it loops setting JOINED, waking any matching
// join waiter, and blocking until a joiner clears MUSTJOIN (spec §4.2
// exit_thread). It then moves the descriptor to the head of the exited
// list and performs one final, non-returning context switch. The
// spec's "reschedule forever" after that point is realized here as the
// goroutine simply ending: nothing ever sends on this thread's resume
// channel again, so a conventional infinite self-parking loop would be
// observably identical but would leak a goroutine for no benefit.
func (s *Scheduler) ExitThread() {
	s.Gate.Enter()
	me := s.current
	if me == nil || me == s.idle {
		s.Gate.Exit()
		bugf("ExitThread: called with no current thread, or from the idle thread")
	}

	for me.hasFlag(FlagMustJoin) {
		me.setFlag(FlagJoined)
		s.wakeJoinWaiters(me)
		me.wakeupTime = 0
		me.clearFlag(FlagRunnable)
		s.Gate.Exit()

		s.Schedule()

		s.Gate.Enter()
	}

	s.runQ.Remove(me.elem)
	me.elem = s.exited.PushFront(me)
	me.clearFlag(FlagRunnable)

	// me is never the idle thread (checked above) and has already been
	// removed from runQ, so scanRunQueue always has a candidate here: a
	// runnable peer, or idle as the fallback. Handing off to idle rather
	// than looping on BlockDomain ourselves is what lets idle's own
	// Schedule call (back in Run) reap this descriptor afterward —
	// reapExited never reaps s.current, and a thread can't reap itself.
	next, _ := s.scanRunQueue(s.hv.Now())
	s.Gate.Exit()
	s.switchAwayFinal(me, next)
}

// Schedule is the main dispatcher (spec §4.2 schedule). Forbidden while
// in a callback context or with interrupts already masked at entry
// (both fatal, per spec §7).
func (s *Scheduler) Schedule() {
	if s.Gate.HeldByCaller() {
		bugf("Schedule: called with interrupts already masked")
	}
	if s.inCallbackContext() {
		bugf("Schedule: called from callback context")
	}

	s.Gate.Enter()
	prev := s.current

	for {
		now := s.hv.Now()
		next, minWake := s.scanRunQueue(now)
		if next != nil {
			s.Gate.Exit()
			if next != prev {
				s.switchTo(prev, next)
			}
			s.reapExited()
			return
		}
		s.Gate.Exit()
		s.hv.BlockDomain(minWake)
		s.hv.ProcessEvents()
		s.Gate.Enter()
	}
}

// scanRunQueue performs the single pass spec §4.2 describes: for every
// non-runnable thread with a nonzero wake-up time, latch TIMEDOUT and
// wake it if its time has passed, else fold its wake-up time into the
// running minimum. Simultaneously, the first runnable thread found is
// rotated to the tail of the queue and returned as next. The idle
// thread is excluded from that scan (its own RUNNABLE flag is never
// meaningful — see Run) and instead falls out as next whenever no
// other thread is runnable and the caller isn't already idle itself:
// this is what makes idle the schedulable fallback spec §4.2 describes
// ("the idle thread's body simply blocks itself and reschedules in a
// loop"), so every exit or block with nothing else to do hands off to
// idle's own reschedule loop rather than parking inline wherever it
// happened to be called from. Only when idle is already current does
// next come back nil, letting the caller genuinely park the CPU via
// BlockDomain. Must be called with the Gate held.
func (s *Scheduler) scanRunQueue(now time.Time) (next *Thread, minWake time.Time) {
	minWake = now.Add(s.opts.idleParkCeiling)
	nowNanos := now.UnixNano()

	for e := s.runQ.Front(); e != nil; e = e.Next() {
		t := e.Value.(*Thread)
		if t == s.idle {
			continue
		}
		if !t.hasFlag(FlagRunnable) {
			if t.wakeupTime != 0 {
				if t.wakeupTime <= nowNanos {
					t.setFlag(FlagRunnable)
					t.setFlag(FlagTimedOut)
					t.wakeupTime = 0
					s.metrics.timerFires.Add(1)
				} else if wt := time.Unix(0, t.wakeupTime); wt.Before(minWake) {
					minWake = wt
				}
			}
		}
		if next == nil && t.hasFlag(FlagRunnable) {
			next = t
		}
	}
	if next != nil {
		s.runQ.MoveToBack(next.elem)
		return next, minWake
	}
	if s.current != s.idle {
		return s.idle, minWake
	}
	return nil, minWake
}

// switchTo hands the baton to next and blocks prev's goroutine until it
// is itself chosen as next by a later Schedule call.
func (s *Scheduler) switchTo(prev, next *Thread) {
	if s.hook != nil {
		s.hook(prev.Cookie, next.Cookie)
	}
	s.metrics.contextSwitches.Add(1)
	s.current = next
	next.resume <- struct{}{}
	<-prev.resume
}

// switchAwayFinal hands the baton to next without blocking prev's
// goroutine, for use by ExitThread's final, non-returning switch.
func (s *Scheduler) switchAwayFinal(prev, next *Thread) {
	if s.hook != nil {
		s.hook(prev.Cookie, next.Cookie)
	}
	s.metrics.contextSwitches.Add(1)
	s.current = next
	next.resume <- struct{}{}
}

// reapExited frees every exited thread's descriptor other than the one
// currently running (spec §4.2: "reap exited threads other than
// prev"). Using s.current rather than a captured prev variable is
// correct regardless of which goroutine's Schedule call performs the
// reap, since by the time this runs, s.current always names the
// thread executing this line.
func (s *Scheduler) reapExited() {
	s.Gate.Enter()
	defer s.Gate.Exit()
	me := s.current
	for e := s.exited.Front(); e != nil; {
		next := e.Next()
		t := e.Value.(*Thread)
		if t != me {
			s.exited.Remove(e)
			s.metrics.threadsReaped.Add(1)
		}
		e = next
	}
}

// runInCallback marks the calling goroutine as executing in callback
// context for the duration of fn, so a nested Schedule call is
// rejected per spec §5's reentrancy rule. It is unexported: only code
// inside this package (such as a test simulating a hypervisor
// event-delivery layer) can wrap it around a hardware-interrupt-style
// callback invocation; the bridge's
// own completion hook deliberately does NOT use this, per spec §5:
// "the bridge completion hook is NOT a callback context because the
// poller thread invokes it after acquiring the kernel lock."
func (s *Scheduler) runInCallback(fn func()) {
	gid := goroutineID()
	s.Gate.Enter()
	s.callbackHolder = gid
	s.Gate.Exit()
	defer func() {
		s.Gate.Enter()
		s.callbackHolder = 0
		s.Gate.Exit()
	}()
	fn()
}

func (s *Scheduler) inCallbackContext() bool {
	s.Gate.Enter()
	defer s.Gate.Exit()
	return s.callbackHolder != 0 && s.callbackHolder == goroutineID()
}
