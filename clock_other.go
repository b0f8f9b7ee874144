//go:build !linux

package rumpxen

import "time"

// monotonicNow falls back to the runtime's monotonic clock reading on
// platforms without a unix.ClockGettime binding, mirroring the way
// eventloop's poller_darwin.go / poller_windows.go each supply their own
// platform-appropriate primitive behind the same exported name.
func monotonicNow() time.Time {
	return time.Now()
}
