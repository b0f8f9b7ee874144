package rumpxen

import (
	"time"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// schedulerOptions holds the configurable knobs for New, in the style
// of eventloop's loopOptions.
type schedulerOptions struct {
	idleParkCeiling time.Duration
	logger          *logiface.Logger[*stumpy.Event]
}

func defaultSchedulerOptions() schedulerOptions {
	return schedulerOptions{
		idleParkCeiling: 10 * time.Second, // spec §4.2: "initial value now + 10 s"
	}
}

// Option configures a Scheduler at construction, following the
// LoopOption / loopOptionImpl shape in eventloop/options.go.
type Option interface {
	applyScheduler(*schedulerOptions)
}

type schedulerOptionFunc func(*schedulerOptions)

func (f schedulerOptionFunc) applyScheduler(o *schedulerOptions) { f(o) }

// WithIdleParkCeiling overrides the running minimum's initial value
// used when schedule() finds no runnable thread and must park the CPU
// (spec §4.2). Default 10s.
func WithIdleParkCeiling(d time.Duration) Option {
	return schedulerOptionFunc(func(o *schedulerOptions) { o.idleParkCeiling = d })
}

// WithLogger records l in this Scheduler's options. Nothing in this
// package reads that value: every diagnostic, including BUG aborts, is
// written through the package-level logger installed by SetLogger.
func WithLogger(l *logiface.Logger[*stumpy.Event]) Option {
	return schedulerOptionFunc(func(o *schedulerOptions) { o.logger = l })
}

func resolveSchedulerOptions(opts []Option) schedulerOptions {
	o := defaultSchedulerOptions()
	for _, opt := range opts {
		opt.applyScheduler(&o)
	}
	return o
}

// bridgeOptions holds the configurable knobs for NewBridge.
type bridgeOptions struct {
	numSlots int
}

func defaultBridgeOptions() bridgeOptions {
	return bridgeOptions{
		numSlots: NumSlots, // spec §3: "Fixed array of N (N=10) slots"
	}
}

// BridgeOption configures a Bridge at construction.
type BridgeOption interface {
	applyBridge(*bridgeOptions)
}

type bridgeOptionFunc func(*bridgeOptions)

func (f bridgeOptionFunc) applyBridge(o *bridgeOptions) { f(o) }

// WithSlotCount overrides the number of block device slots. Spec §3
// fixes N=10; this exists for tests that want a smaller slot array
// without touching the BLKFDOFF convention (spec §6).
func WithSlotCount(n int) BridgeOption {
	return bridgeOptionFunc(func(o *bridgeOptions) { o.numSlots = n })
}

func resolveBridgeOptions(opts []BridgeOption) bridgeOptions {
	o := defaultBridgeOptions()
	for _, opt := range opts {
		opt.applyBridge(&o)
	}
	return o
}
