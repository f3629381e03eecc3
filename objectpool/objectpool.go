// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package objectpool implements capped, fixed-object-size free-list pools
// with a per-goroutine micro-cache layer in front of the shared free list,
// per SPEC_FULL.md §4.5.
package objectpool

import (
	"sync"
	"unsafe"

	"code.hybscloud.com/iox"

	"code.hybscloud.com/mcpalloc/internal/procpin"
	"code.hybscloud.com/mcpalloc/internal/xatomic"
)

// microCacheSlots is the number of distinct pools a single goroutine's
// micro-cache can hold entries for at once. Exceeding it evicts slot 0
// (the oldest binding until slot 0 is first rebound), not a true LRU
// victim — preserved
// from the source design's documented imprecision (spec.md §9 Open
// Questions).
const microCacheSlots = 8

// microCacheDepth is the local stack depth reserved per pool within a
// goroutine's micro-cache.
const microCacheDepth = 8

// Pool is a capped, fixed-object-size free-list pool for type T. Zero
// value of T must be suitable for reuse after Release; callers that need
// to clear sensitive state should do so before calling Release.
//
// The pool's preferred strategy is one contiguous slab sized to
// initialCapacity, carved via boundedRing-tracked indices; objects
// beyond that (up to maxCapacity, or unbounded if maxCapacity == 0) fall
// back to individually heap-allocated objects tracked on a plain free
// stack, per spec.md §4.1/§4.5's slab-or-individual-blocks split. The
// slab never reallocates, so a *T returned by Acquire remains valid for
// as long as the pool exists, including while cached in any goroutine's
// micro-cache.
type Pool[T any] struct {
	mu sync.Mutex

	objectSize  int
	maxCapacity int // 0 == unbounded

	slab     []T
	slabRing *boundedRing // free slot indices into slab; capacity == len(slab)
	slabFree int

	overflowFree  []*T // individually allocated objects currently free
	overflowTotal int  // count of individually allocated objects ever created

	currentInUse xatomic.SignedCounter
	peakInUse    xatomic.SignedCounter
}

// New creates a Pool with initialCapacity objects preallocated from one
// contiguous slab, capped at maxCapacity (0 for unbounded).
func New[T any](initialCapacity, maxCapacity int) *Pool[T] {
	if initialCapacity < 0 {
		initialCapacity = 0
	}
	p := &Pool[T]{
		objectSize:  int(unsafe.Sizeof(*new(T))),
		maxCapacity: maxCapacity,
		slab:        make([]T, initialCapacity),
		slabFree:    initialCapacity,
	}
	if initialCapacity > 0 {
		p.slabRing = newBoundedRing(initialCapacity)
		// A ring always rounds its capacity up to a power of two and its
		// get() order is scrambled by the cache-line remap, so the
		// overshoot slots (indices >= initialCapacity, which are the only
		// ones out of range of p.slab) don't come out in any particular
		// order. Drain by value, not by count: discard every slot that
		// lands out of range and requeue every slot that's still a valid
		// slab index, until exactly the overshoot has been removed.
		overshoot := int(p.slabRing.capacity) - initialCapacity
		for removed := 0; removed < overshoot; {
			slot, err := p.slabRing.get()
			if err != nil {
				break
			}
			if slot >= initialCapacity {
				removed++
				continue
			}
			_ = p.slabRing.put(slot)
		}
	}
	return p
}

// ObjectSize returns the size in bytes of one object of type T.
func (p *Pool[T]) ObjectSize() int { return p.objectSize }

// Acquire returns a pointer into the pool's backing storage, or nil if
// the pool is at capacity with nothing free. The per-goroutine
// micro-cache is checked first.
func (p *Pool[T]) Acquire() *T {
	pid := procpin.Pin()
	obj := popFor(pid, p)
	procpin.Unpin()
	if obj != nil {
		p.bumpInUse(1)
		return obj
	}

	p.mu.Lock()
	if p.slabFree > 0 {
		slot, err := p.slabRing.get()
		if err == nil {
			p.slabFree--
			p.mu.Unlock()
			p.bumpInUse(1)
			return &p.slab[slot]
		}
	}
	if n := len(p.overflowFree); n > 0 {
		obj := p.overflowFree[n-1]
		p.overflowFree = p.overflowFree[:n-1]
		p.mu.Unlock()
		p.bumpInUse(1)
		return obj
	}
	total := len(p.slab) + p.overflowTotal
	if p.maxCapacity > 0 && total >= p.maxCapacity {
		p.mu.Unlock()
		return nil
	}
	p.overflowTotal++
	p.mu.Unlock()

	p.bumpInUse(1)
	return new(T)
}

// Release returns obj to the pool: first to the caller's micro-cache if
// it has room, else to the shared free list.
func (p *Pool[T]) Release(obj *T) {
	p.currentInUse.Dec()

	pid := procpin.Pin()
	cached := pushFor(pid, p, obj)
	procpin.Unpin()
	if cached {
		return
	}

	p.releaseToOwner(obj)
}

func (p *Pool[T]) releaseToOwner(obj *T) {
	if slot, ok := p.slotInSlab(obj); ok {
		p.mu.Lock()
		p.slabFree++
		p.mu.Unlock()
		_ = p.slabRing.put(slot)
		return
	}
	p.mu.Lock()
	p.overflowFree = append(p.overflowFree, obj)
	p.mu.Unlock()
}

// slotInSlab reports whether obj's storage lies within the pool's
// contiguous slab, and if so, its index.
func (p *Pool[T]) slotInSlab(obj *T) (int, bool) {
	if len(p.slab) == 0 {
		return 0, false
	}
	base := uintptr(unsafe.Pointer(unsafe.SliceData(p.slab)))
	ptr := uintptr(unsafe.Pointer(obj))
	size := unsafe.Sizeof(*new(T))
	end := base + uintptr(len(p.slab))*size
	if ptr < base || ptr >= end {
		return 0, false
	}
	return int((ptr - base) / size), true
}

func (p *Pool[T]) bumpInUse(delta int64) {
	v := p.currentInUse.Add(delta)
	p.peakInUse.Max(v)
}

// Stats is a point-in-time snapshot of a Pool's occupancy.
type Stats struct {
	ObjectSize   int
	TotalObjects int
	FreeObjects  int
	CurrentInUse int64
	PeakInUse    int64
}

// Stats aggregates global free-list occupancy with whatever sits in any
// goroutine's micro-cache for this pool, per spec.md §4.5.
func (p *Pool[T]) Stats() Stats {
	p.mu.Lock()
	total := len(p.slab) + p.overflowTotal
	free := p.slabFree + len(p.overflowFree)
	p.mu.Unlock()
	free += countFor(p)
	return Stats{
		ObjectSize:   p.objectSize,
		TotalObjects: total,
		FreeObjects:  free,
		CurrentInUse: p.currentInUse.Load(),
		PeakInUse:    p.peakInUse.Load(),
	}
}

// Destroy drains every goroutine's micro-cache entry for this pool back
// to its free list, then releases the pool's storage. Objects still
// Acquired and not Released are the caller's leak, per spec.md §9.
func (p *Pool[T]) Destroy() {
	drainForDestroy(p)
	p.mu.Lock()
	p.slab = nil
	p.slabRing = nil
	p.slabFree = 0
	p.overflowFree = nil
	p.overflowTotal = 0
	p.mu.Unlock()
}

// ErrAtCapacity is returned by callers that want to distinguish
// "pool exhausted" from a nil result using errors.Is; Acquire itself
// returns nil rather than an error, per spec.md §4.5 and §7.
var ErrAtCapacity = iox.ErrWouldBlock
