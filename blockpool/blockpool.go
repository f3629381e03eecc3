// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package blockpool implements size-classed, mutex-guarded block pools
// with a shared free list and a magic-tagged header, per SPEC_FULL.md
// §4.1. It is the leaf layer every other component in this module sits
// on top of.
package blockpool

import (
	"sync"
	"unsafe"

	"go.uber.org/zap"

	"code.hybscloud.com/mcpalloc/internal/align"
)

// logger defaults to a no-op; wire it with SetLogger to surface
// pool_ref/magic mismatches and clamp warnings.
var logger = zap.NewNop()

// SetLogger installs l as this package's logger. Passing nil restores
// the no-op default.
func SetLogger(l *zap.Logger) {
	if l == nil {
		logger = zap.NewNop()
		return
	}
	logger = l
}

// magicValue tags every header belonging to a pool-issued block,
// distinguishing it from a fallback-heap pointer at free time.
const magicValue uint32 = 0xA110C0DE

// header is the fixed-size prefix placed immediately before every
// pool-issued user pointer. Its layout naturally ends on a
// pointer-aligned boundary, so the user payload that follows needs no
// extra padding.
type header struct {
	magic    uint32
	_        uint32 // padding to keep poolRef pointer-aligned on 64-bit
	poolRef  unsafe.Pointer
	nextFree unsafe.Pointer
}

var headerSize = unsafe.Sizeof(header{})

func headerOf(userPtr unsafe.Pointer) *header {
	return (*header)(unsafe.Add(userPtr, -int(headerSize)))
}

func userPtrOf(h *header) unsafe.Pointer {
	return unsafe.Add(unsafe.Pointer(h), int(headerSize))
}

// Stats is a point-in-time snapshot of a Pool's occupancy.
type Stats struct {
	TotalBlocks int
	FreeBlocks  int
	InUse       int
	BlockSize   int
	TotalMemory int
	PeakInUse   int
}

// Pool is a size-classed free-list allocator for fixed-size blocks of
// blockSize user-visible bytes each.
type Pool struct {
	mu sync.Mutex

	blockSize       int // user-visible block size, rounded up to hold a free-link
	headerBlockSize int // blockSize + header

	initialBlocks int
	maxBlocks     int // 0 == unbounded

	totalBlocks int
	freeBlocks  int
	peakInUse   int

	freeListHead *header

	slabBlocks       [][]byte         // cache-line-isolated contiguous backing, nil if individually allocated
	individualBlocks []unsafe.Pointer // keeps grown blocks reachable: free-list links live in []byte memory the GC does not scan
}

// Create allocates a new Pool backed by one contiguous slab of
// initialBlocks×(blockSize+header). There is no individual-allocation
// fallback at creation time: the slab is the only strategy, and the
// returned error is always nil. A zero initialBlocks is valid — the pool
// starts empty.
func Create(blockSize, initialBlocks, maxBlocks int) (*Pool, error) {
	minSize := int(unsafe.Sizeof(uintptr(0)))
	if blockSize < minSize {
		blockSize = minSize
	}
	if maxBlocks > 0 && initialBlocks > maxBlocks {
		logger.Warn("blockpool: clamping initial_blocks to max_blocks",
			zap.Int("initial_blocks", initialBlocks), zap.Int("max_blocks", maxBlocks))
		initialBlocks = maxBlocks
	}

	p := &Pool{
		blockSize:       blockSize,
		headerBlockSize: blockSize + int(headerSize),
		initialBlocks:   initialBlocks,
		maxBlocks:       maxBlocks,
	}
	if initialBlocks == 0 {
		return p, nil
	}

	// Each block gets its own cache line so that two goroutines
	// concurrently writing into neighboring blocks (header included)
	// never false-share.
	p.slabBlocks = align.Blocks(initialBlocks, p.headerBlockSize)
	for _, blk := range p.slabBlocks {
		h := (*header)(unsafe.Pointer(unsafe.SliceData(blk)))
		h.magic = magicValue
		h.poolRef = unsafe.Pointer(p)
		h.nextFree = unsafe.Pointer(p.freeListHead)
		p.freeListHead = h
	}
	p.totalBlocks = initialBlocks
	p.freeBlocks = initialBlocks
	return p, nil
}

// Destroy drops the pool's backing storage. Blocks still in use (not on
// the free list) are a caller-side leak and are not reclaimed — with a
// garbage-collected runtime this just means they keep the slab or
// individual block reachable until the caller itself releases them.
func (p *Pool) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.slabBlocks = nil
	p.individualBlocks = nil
	p.freeListHead = nil
	p.totalBlocks = 0
	p.freeBlocks = 0
}

// Alloc pops a block off the free list, or grows the pool from the
// fallback heap if under maxBlocks, or returns nil if at capacity.
func (p *Pool) Alloc() unsafe.Pointer {
	p.mu.Lock()
	if p.freeListHead != nil {
		h := p.freeListHead
		p.freeListHead = (*header)(h.nextFree)
		h.nextFree = nil
		p.freeBlocks--
		p.bumpPeakLocked()
		p.mu.Unlock()
		return userPtrOf(h)
	}
	if p.maxBlocks > 0 && p.totalBlocks >= p.maxBlocks {
		p.mu.Unlock()
		return nil
	}

	buf := make([]byte, p.headerBlockSize)
	h := (*header)(unsafe.Pointer(unsafe.SliceData(buf)))
	h.magic = magicValue
	h.poolRef = unsafe.Pointer(p)
	p.individualBlocks = append(p.individualBlocks, unsafe.Pointer(h))
	p.totalBlocks++
	p.bumpPeakLocked()
	p.mu.Unlock()
	return userPtrOf(h)
}

func (p *Pool) bumpPeakLocked() {
	if inUse := p.totalBlocks - p.freeBlocks; inUse > p.peakInUse {
		p.peakInUse = inUse
	}
}

// Free returns userPtr to the pool's free list. userPtr == nil is a
// no-op. Returns ErrInvalidFree if the header's pool reference does not
// match this pool — the header magic is assumed already validated by
// the caller (the dispatcher checks it to route the call here at all).
func (p *Pool) Free(userPtr unsafe.Pointer) error {
	if userPtr == nil {
		return nil
	}
	h := headerOf(userPtr)
	if h.poolRef != unsafe.Pointer(p) {
		logger.Warn("blockpool: free with mismatched pool reference", zap.Uintptr("ptr", uintptr(userPtr)))
		return ErrInvalidFree
	}
	p.mu.Lock()
	h.nextFree = unsafe.Pointer(p.freeListHead)
	p.freeListHead = h
	p.freeBlocks++
	p.mu.Unlock()
	return nil
}

// Stats takes a snapshot of the pool's occupancy under its mutex.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		TotalBlocks: p.totalBlocks,
		FreeBlocks:  p.freeBlocks,
		InUse:       p.totalBlocks - p.freeBlocks,
		BlockSize:   p.blockSize,
		TotalMemory: p.totalBlocks * p.headerBlockSize,
		PeakInUse:   p.peakInUse,
	}
}

// BlockSize returns the user-visible block size of every block this
// pool issues.
func (p *Pool) BlockSize() int { return p.blockSize }

// HeaderSize returns the fixed byte size of the header prefix placed
// before every pool-issued user pointer.
func HeaderSize() int { return int(headerSize) }

// Inspect reads the header immediately before userPtr without any
// locking (headers are immutable after publication except for
// nextFree, which is only meaningful while a block sits on a free
// list). It reports whether the magic tag is intact and, if so, the
// owning pool.
func Inspect(userPtr unsafe.Pointer) (ok bool, owner *Pool) {
	h := headerOf(userPtr)
	if h.magic != magicValue {
		return false, nil
	}
	return true, (*Pool)(h.poolRef)
}
