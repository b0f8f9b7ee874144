package rumpxen

import (
	"time"
)

// ABIVersion is the single integer version Init requires an exact
// match on (spec §4.3 init).
const ABIVersion = 1

// OpenMode is the bitfield open() accepts (spec §6 "Mode flags").
type OpenMode uint32

const (
	// ModeBlockIO is the required bit signalling "block I/O".
	ModeBlockIO OpenMode = 1 << 0

	accessShift = 1
	accessMask  = 0x3 << accessShift
)

// Access submode values, packed into OpenMode's access subfield.
const (
	AccessRDONLY OpenMode = 0 << accessShift
	AccessWRONLY OpenMode = 1 << accessShift
	AccessRDWR   OpenMode = 2 << accessShift
)

func (m OpenMode) access() OpenMode { return m & accessMask }

// Glue is the thin adapter surface (spec §4.3, component C7) an
// external guest kernel uses: init/getparam/clock/malloc/free/open/
// close/getfileinfo. It owns the Bridge and the Allocator, and
// delegates to the Scheduler for clock_sleep's relative-sleep case.
type Glue struct {
	scheduler *Scheduler
	bridge    *Bridge
	alloc     Allocator

	initDone bool
}

// NewGlue returns a Glue wired to scheduler and alloc. Call Init before
// any other method.
func NewGlue(scheduler *Scheduler, alloc Allocator) *Glue {
	return &Glue{scheduler: scheduler, alloc: alloc}
}

// Init validates version against ABIVersion and, on success, creates
// the bridge (spec §4.3 init: "validates a single integer version...
// creates the bridge mutex and CV"). Exactly one successful call is
// expected; a second call returns an error rather than silently
// reinitializing.
//
// The original rumpuser-xen ABI signalled a version mismatch with a
// truthy (1) integer return — callers had to remember "nonzero means
// failure". Returning a Go error removes that ambiguity entirely (spec
// §9 Open Question 3; see DESIGN.md).
func (g *Glue) Init(version int, opts ...BridgeOption) error {
	if g.initDone {
		return domainError("Init", ErrNotFound)
	}
	if version != ABIVersion {
		return domainError("Init", ErrVersionMismatch)
	}
	g.bridge = NewBridge(g.scheduler, opts...)
	g.initDone = true
	return nil
}

// Bridge returns the Glue's bridge, for tests and examples that need
// to call Bridge.AttachDriver directly. Panics if Init has not
// succeeded.
func (g *Glue) Bridge() *Bridge {
	if !g.initDone {
		bugf("Glue: Bridge called before a successful Init")
	}
	return g.bridge
}

// GetParam looks up name in the fixed parameter table (spec §4.3
// getparam) and copies its NUL-terminated value into buf, returning the
// number of bytes written including the terminator.
func (g *Glue) GetParam(name string, buf []byte) (int, error) {
	val, ok := defaultParams[name]
	if !ok {
		return 0, domainError("GetParam", ErrNotFound)
	}
	if len(val)+1 > len(buf) {
		return 0, domainError("GetParam", ErrTooBig)
	}
	n := copy(buf, val)
	buf[n] = 0
	return n + 1, nil
}

// ClockGettime reads the hypervisor monotonic clock in nanoseconds
// (spec §4.3 clock_gettime).
func (g *Glue) ClockGettime() int64 {
	return g.scheduler.hv.Now().UnixNano()
}

// ClockSleepRelative sleeps the current thread for d, delegating to
// msleep (spec §4.3 clock_sleep, relative-wall case), after first
// releasing any kernel locks the caller holds and reacquiring them on
// return (the unsched/sched hook pair).
func (g *Glue) ClockSleepRelative(d time.Duration) bool {
	held := g.scheduler.hv.Unsched()
	defer g.scheduler.hv.Sched(held)
	return g.scheduler.Msleep(int(d.Milliseconds()))
}

// ClockSleepAbsolute sleeps the current thread until atNs, an absolute
// monotonic nanosecond timestamp, by directly setting current's
// wake-up time and rescheduling (spec §4.3 clock_sleep, absolute-
// monotonic case), under the same unsched/sched dance.
func (g *Glue) ClockSleepAbsolute(atNs int64) bool {
	held := g.scheduler.hv.Unsched()
	defer g.scheduler.hv.Sched(held)
	return g.scheduler.AbsMsleep(atNs)
}

// Malloc allocates size bytes aligned to align (spec §4.3 malloc):
// page-sized, page-aligned-or-less requests route through the page
// allocator; everything else goes through the general allocator.
func (g *Glue) Malloc(size, align int) ([]byte, error) {
	if size == PageSize && align <= PageSize {
		buf, err := g.alloc.PageAlloc()
		if err != nil {
			return nil, domainError("Malloc", ErrNoMem)
		}
		return buf, nil
	}
	buf, err := g.alloc.GeneralAlloc(size, align)
	if err != nil {
		return nil, domainError("Malloc", ErrNoMem)
	}
	return buf, nil
}

// Free releases buf, choosing the path matching the size Malloc used
// to allocate it (spec §4.3 free: "Free must use the matching path,
// selected by size").
func (g *Glue) Free(buf []byte) {
	if len(buf) == PageSize {
		g.alloc.PageFree(buf)
		return
	}
	g.alloc.GeneralFree(buf)
}

// Open opens a block device (spec §4.3 open). name must match
// blk<digit> for digit in [0, NumSlots); mode must have ModeBlockIO
// set. Returns fd = BLKFDOFF + slot.
func (g *Glue) Open(name string, mode OpenMode) (int, error) {
	if mode&ModeBlockIO == 0 {
		return 0, domainError("Open", ErrNXIO)
	}
	idx, ok := parseBlockDeviceName(name)
	if !ok {
		return 0, domainError("Open", ErrNXIO)
	}
	writable := mode.access() != AccessRDONLY
	return g.bridge.openSlot(idx, writable)
}

// Close decrements fd's open count, clearing the device on zero (spec
// §4.3 close).
func (g *Glue) Close(fd int) error {
	return g.bridge.closeSlot(fd)
}

// FileInfo is the result of GetFileInfo.
type FileInfo struct {
	Size int64
	Type string
}

// GetFileInfo opens name transiently, reports its size and type, then
// closes it (spec §4.3 getfileinfo).
func (g *Glue) GetFileInfo(name string) (FileInfo, error) {
	fd, err := g.Open(name, ModeBlockIO|AccessRDONLY)
	if err != nil {
		return FileInfo{}, err
	}
	defer g.Close(fd)

	idx := fd - BLKFDOFF
	info, err := g.bridge.slotInfo(idx)
	if err != nil {
		return FileInfo{}, err
	}
	return FileInfo{Size: info.Bytes(), Type: "block device"}, nil
}

// parseBlockDeviceName matches device names "blk0".."blk9" (spec §8
// boundary behaviors: "blk" too short, "blka" non-digit, "blk10" out
// of range both in length and digit value).
func parseBlockDeviceName(name string) (slot int, ok bool) {
	if len(name) != 4 || name[:3] != "blk" {
		return 0, false
	}
	d := name[3]
	if d < '0' || d > '9' {
		return 0, false
	}
	return int(d - '0'), true
}
