package rumpxen

// pollerBody is biothread from spec §4.4 (component C6), run as a
// scheduler-managed Thread (see Bridge.ensurePoller) so that the
// Schedule() calls inside its wait loop participate in the same
// cooperative round robin as every other thread.
//
// The spec's bio_cv condition variable is realized here as Block/Wake
// on the poller thread's own descriptor rather than a raw sync.Cond:
// in this port only one goroutine ever runs unblocked kernel-level
// code at a time (the baton in thread.go), so "the poller blocks on
// the CV inside the scheduler's wait machinery" (spec §2) is most
// directly expressed by the poller calling Block(self) then Schedule(),
// and Submit waking it via Scheduler.Wake — exactly the primitives
// the scheduler already provides, rather than a second, independent
// synchronization object layered on top.
func (b *Bridge) pollerBody() {
	// Establish this thread's own lightweight-process identity once at
	// start (spec §4.4: "hyp_schedule / hyp_lwproc_newlwp(0) /
	// hyp_unschedule trio").
	b.scheduler.hv.Sched(1)
	b.scheduler.hv.Unsched()

	for {
		b.mu.Lock()
		for b.outstandingTotal == 0 {
			b.mu.Unlock()
			b.scheduler.Block(b.pollerThread)
			b.scheduler.Schedule()
			b.mu.Lock()
		}
		b.mu.Unlock()
		b.metrics.pollWakes.Add(1)

		b.scheduler.Gate.Enter()
		for {
			did := 0
			for i := range b.slots {
				b.mu.Lock()
				out := b.perSlotOutstanding[i]
				b.mu.Unlock()
				if out <= 0 {
					continue
				}
				b.slots[i].mu.Lock()
				drv := b.slots[i].driver
				b.slots[i].mu.Unlock()
				if drv != nil {
					did += drv.Poll()
				}
			}
			if did > 0 {
				break
			}
			// "enqueue wait on driver's completion waitqueue; unmask
			// interrupts; schedule(); mask interrupts" (spec §4.4): the
			// driver's own waitqueue is out of scope here (spec §1,
			// "the block-front device driver itself"), so this port
			// simply reschedules, giving other threads — including
			// whatever eventually makes the driver ready — a turn.
			b.scheduler.Gate.Exit()
			b.scheduler.Schedule()
			b.scheduler.Gate.Enter()
		}
		b.scheduler.Gate.Exit()
	}
}
