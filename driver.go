package rumpxen

import (
	"sync"
)

// DeviceInfo describes a block device's geometry (spec §3 "device info
// (sector size and count, read-only or read-write)").
type DeviceInfo struct {
	SectorSize int
	Sectors    int64
	ReadOnly   bool
}

// Bytes returns the device's total size in bytes.
func (d DeviceInfo) Bytes() int64 { return d.Sectors * int64(d.SectorSize) }

// BlockDriver is the block-front device driver collaborator spec §1
// names but leaves out of scope ("the block-front device driver
// itself"). Submit enqueues req for asynchronous completion; Poll
// drains whatever completions are ready, invoking each req's hook
// exactly once, and returns how many it drained. Grounded on gaio's
// watcher.go: an aiocb-shaped request is handed to a pending list on
// submit and drained by a dedicated poll loop, rather than completed
// inline.
type BlockDriver interface {
	Info() DeviceInfo
	Submit(req *Request)
	Poll() int
	Close()
}

// MemoryBlockDriver is a deterministic, in-process reference
// BlockDriver backed by a byte slice, sufficient for tests and
// examples without a real hypervisor block-front end underneath. It
// completes requests only on the next Poll() call, never inline at
// Submit time, so it exercises the bridge's async submit/poll/complete
// path faithfully rather than short-circuiting it.
type MemoryBlockDriver struct {
	mu      sync.Mutex
	info    DeviceInfo
	data    []byte
	pending []*Request

	// failNext, when set, makes the next serviced request complete with
	// an I/O error instead of succeeding; used by the I/O-error tests.
	failNext bool
}

// NewMemoryBlockDriver returns a MemoryBlockDriver backed by size bytes
// of zeroed storage, using sectorSize-byte sectors.
func NewMemoryBlockDriver(size int64, sectorSize int, readOnly bool) *MemoryBlockDriver {
	return &MemoryBlockDriver{
		info: DeviceInfo{
			SectorSize: sectorSize,
			Sectors:    size / int64(sectorSize),
			ReadOnly:   readOnly,
		},
		data: make([]byte, size),
	}
}

func (d *MemoryBlockDriver) Info() DeviceInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.info
}

// FailNextRequest makes the next request serviced by Poll complete with
// ErrIO, for exercising the bridge's failure path in tests.
func (d *MemoryBlockDriver) FailNextRequest() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failNext = true
}

func (d *MemoryBlockDriver) Submit(req *Request) {
	d.mu.Lock()
	d.pending = append(d.pending, req)
	d.mu.Unlock()
}

func (d *MemoryBlockDriver) Poll() int {
	d.mu.Lock()
	batch := d.pending
	d.pending = nil
	d.mu.Unlock()

	for _, req := range batch {
		n, err := d.service(req)
		req.complete(n, err)
	}
	return len(batch)
}

func (d *MemoryBlockDriver) service(req *Request) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.failNext {
		d.failNext = false
		return 0, ErrIO
	}

	end := req.Off + int64(req.Len)
	if req.Off < 0 || end > int64(len(d.data)) {
		return 0, ErrIO
	}

	switch req.Op {
	case OpRead:
		n := copy(req.Buf, d.data[req.Off:end])
		return n, nil
	case OpWrite:
		n := copy(d.data[req.Off:end], req.Buf)
		return n, nil
	default:
		return 0, ErrIO
	}
}

func (d *MemoryBlockDriver) Close() {}
