package rumpxen

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
)

// Gate is the scoped interrupt-masking primitive of spec §4.1. On the
// single virtual CPU this package models, "masking interrupts" is the
// mechanism the scheduler and the bridge use to get mutual exclusion
// against callback-driven wake-ups without a general-purpose lock.
//
// Composition is nestable: Enter/Exit track a depth counter per holding
// goroutine (in the style of eventloop's FastState atomic state machine,
// generalized from a multi-state CAS machine into a simple reentrant
// mask), so the outermost Enter is the only one that actually excludes
// other goroutines, and inner Enter/Exit pairs are cheap no-ops beyond
// the counter.
type Gate struct {
	mu sync.Mutex

	meta   sync.Mutex
	holder uint64
	depth  int
}

// NewGate returns an unmasked Gate.
func NewGate() *Gate {
	return &Gate{}
}

// Enter masks interrupts, blocking until any other goroutine currently
// holding the mask releases it. Calling Enter again from the same
// goroutine before a matching Exit just increments the nesting depth.
func (g *Gate) Enter() {
	gid := goroutineID()

	g.meta.Lock()
	if g.depth > 0 && g.holder == gid {
		g.depth++
		g.meta.Unlock()
		return
	}
	g.meta.Unlock()

	g.mu.Lock()

	g.meta.Lock()
	g.holder = gid
	g.depth = 1
	g.meta.Unlock()
}

// Exit unmasks interrupts, or decrements the nesting depth if this Enter
// was nested. Calling Exit from a goroutine that does not hold the mask
// is a bug.
func (g *Gate) Exit() {
	gid := goroutineID()

	g.meta.Lock()
	if g.depth == 0 || g.holder != gid {
		g.meta.Unlock()
		bugf("gate: Exit called by a goroutine that does not hold the mask")
	}
	g.depth--
	done := g.depth == 0
	if done {
		g.holder = 0
	}
	g.meta.Unlock()

	if done {
		g.mu.Unlock()
	}
}

// Scoped masks interrupts and returns a function that unmasks them,
// for use as `defer gate.Scoped()()`.
func (g *Gate) Scoped() func() {
	g.Enter()
	return g.Exit
}

// HeldByCaller reports whether the calling goroutine currently holds
// the mask, at any nesting depth. schedule() uses this to detect and
// reject being called with interrupts already masked at entry (spec
// §4.2, §7: a programmer error, fatal).
func (g *Gate) HeldByCaller() bool {
	gid := goroutineID()
	g.meta.Lock()
	defer g.meta.Unlock()
	return g.depth > 0 && g.holder == gid
}

// goroutineID extracts the calling goroutine's runtime ID by parsing the
// leading "goroutine N " of runtime.Stack, the same technique eventloop
// uses (getGoroutineID) to tell whether code is running on the loop's
// own goroutine. Used here purely to key gate reentrancy and to detect
// cross-goroutine misuse; never exposed as part of the public API.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := buf[:n]
	const prefix = "goroutine "
	if !bytes.HasPrefix(b, []byte(prefix)) {
		return 0
	}
	b = b[len(prefix):]
	if i := bytes.IndexByte(b, ' '); i >= 0 {
		b = b[:i]
	}
	id, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
