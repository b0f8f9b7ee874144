//go:build linux

package rumpxen

import (
	"time"

	"golang.org/x/sys/unix"
)

// monotonicNow reads CLOCK_MONOTONIC directly via golang.org/x/sys/unix,
// in the same syscall-wrapping idiom as eventloop's poller_linux.go and
// wakeup_linux.go, rather than relying on the runtime's own opaque
// monotonic reading inside time.Now(). This gives SimulatedHypervisor a
// clock reading with the same provenance a real rumprun-xen binding's
// hypervisor clock source would have.
func monotonicNow() time.Time {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return time.Now()
	}
	return time.Unix(ts.Unix())
}
