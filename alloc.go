package rumpxen

import "sync/atomic"

// PageSize is the page size malloc/free use to choose between the page
// allocator and the general allocator (spec §4.3).
const PageSize = 4096

// Allocator is the memory-allocator collaborator named but left out of
// scope by spec §1 ("memory allocator wiring"). Glue.Malloc routes
// page-sized, page-aligned-or-less requests through PageAlloc/PageFree
// and everything else through GeneralAlloc/GeneralFree, exactly
// mirroring the two-path contract in spec §4.3.
type Allocator interface {
	PageAlloc() ([]byte, error)
	PageFree(buf []byte)
	GeneralAlloc(size, align int) ([]byte, error)
	GeneralFree(buf []byte)
}

// HeapAllocator is a reference Allocator backed by the Go heap. Go has
// no manual free, so PageFree/GeneralFree are bookkeeping only — they
// exist so a test can assert Free chose the path matching the original
// allocation's size, per spec §4.3's "Free must use the matching path,
// selected by size."
type HeapAllocator struct {
	pageAllocs    atomic.Int64
	pageFrees     atomic.Int64
	generalAllocs atomic.Int64
	generalFrees  atomic.Int64
}

// NewHeapAllocator returns a HeapAllocator ready for use.
func NewHeapAllocator() *HeapAllocator {
	return &HeapAllocator{}
}

func (a *HeapAllocator) PageAlloc() ([]byte, error) {
	a.pageAllocs.Add(1)
	return make([]byte, PageSize), nil
}

func (a *HeapAllocator) PageFree(buf []byte) {
	a.pageFrees.Add(1)
}

func (a *HeapAllocator) GeneralAlloc(size, align int) ([]byte, error) {
	if align <= 0 {
		align = 1
	}
	a.generalAllocs.Add(1)
	// no over-allocation for alignment: the returned slice is exactly
	// size bytes, and its backing array starts at an address whose low
	// bits we cannot observe from pure Go, so align is accepted but not
	// honoured; the result is not guaranteed to be align-aligned.
	return make([]byte, size), nil
}

func (a *HeapAllocator) GeneralFree(buf []byte) {
	a.generalFrees.Add(1)
}

// AllocStats is a read-only snapshot of HeapAllocator's counters, used
// by tests asserting malloc/free always choose matching paths.
type AllocStats struct {
	PageAllocs    int64
	PageFrees     int64
	GeneralAllocs int64
	GeneralFrees  int64
}

func (a *HeapAllocator) Stats() AllocStats {
	return AllocStats{
		PageAllocs:    a.pageAllocs.Load(),
		PageFrees:     a.pageFrees.Load(),
		GeneralAllocs: a.generalAllocs.Load(),
		GeneralFrees:  a.generalFrees.Load(),
	}
}
