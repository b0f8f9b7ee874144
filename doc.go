// Package rumpxen provides the core support layer for hosting a guest
// kernel on a single virtual CPU under a paravirtualized hypervisor.
//
// # Architecture
//
// Two tightly coupled subsystems form the core:
//
//   - A non-preemptive, round-robin [Scheduler] with timed sleep and
//     joinable threads, running with a single run queue guarded by an
//     interrupt [Gate].
//   - A [Bridge] that submits asynchronous block-device I/O requests and
//     funnels their completions, via a dedicated poller goroutine, back
//     through per-request callbacks that may re-enter the scheduler.
//
// Everything outside those two subsystems — console output, environment
// parameters, random byte fill, the page/general allocators, the clock
// source, hypervisor bring-up, and the block-front device driver itself —
// is treated as an external collaborator. This package names the hooks it
// needs from each ([Hypervisor], [BlockDriver]) without implementing them;
// [NewSimulatedHypervisor] and [NewMemoryBlockDriver] provide reference
// implementations sufficient for tests and for running this package
// without a real hypervisor underneath it.
//
// # Concurrency model
//
// Single-threaded cooperative, single virtual CPU: many [Thread] values
// exist, but only one runs at a time, and only [Scheduler.Schedule] (and
// the operations built on it — [Scheduler.Msleep], [Scheduler.Block]
// plus a reschedule, [Scheduler.JoinThread], [Scheduler.ExitThread]) may
// yield to another thread. Mutations of the run queue, the exited list,
// or a thread's flags/wake-up time must happen while the [Gate] is
// held.
//
// # Usage
//
//	hv := rumpxen.NewSimulatedHypervisor()
//	sched := rumpxen.New(hv)
//	sched.InitSched()
//
//	done := make(chan struct{})
//	sched.CreateThread("worker", nil, func(any) {
//		sched.Msleep(10)
//		close(done)
//	}, nil, nil)
//
//	go sched.Run()
//	<-done
package rumpxen
