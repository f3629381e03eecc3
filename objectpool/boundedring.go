// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package objectpool

import (
	"math"
	"sync/atomic"
	"unsafe"

	"code.hybscloud.com/iox"
	"code.hybscloud.com/spin"

	"code.hybscloud.com/mcpalloc/internal/align"
	"code.hybscloud.com/mcpalloc/internal/nocopy"
)

// boundedRing is the lock-free MPMC free-slot ring that backs Pool's
// global free list. It stores indices into a pool's backing slab rather
// than the objects themselves, so returning a slot is a single CAS
// regardless of the object's size.
//
// The implementation is the bounded MPMC queue used throughout this
// package family (see the object-cache and thread-cache LIFO stacks for
// the single-owner counterpart); it is based on the algorithm in
// https://nikitakoval.org/publications/ppopp20-queues.pdf.
type boundedRing struct {
	_ nocopy.Guard

	capacity  uint32
	mask      uint32
	entries   []atomic.Uint64
	remapM    uint32
	remapN    uint32
	remapMask uint32
	head, tail atomic.Uint32
}

const (
	ringEntryEmpty    = 1 << 62
	ringEntryTurnMask = ringEntryEmpty>>32 - 1
)

// newBoundedRing creates a ring whose capacity is capacity rounded up to
// the next power of two, pre-filled with indices [0, capacity).
func newBoundedRing(capacity int) *boundedRing {
	if capacity < 1 || capacity > math.MaxUint32 {
		panic("objectpool: capacity must be between 1 and MaxUint32")
	}
	capacity--
	capacity |= capacity >> 1
	capacity |= capacity >> 2
	capacity |= capacity >> 4
	capacity |= capacity >> 8
	capacity |= capacity >> 16
	capacity++

	remapM := min(align.CacheLineSize/int(unsafe.Sizeof(atomic.Uint64{})), capacity)
	remapN := max(1, capacity/remapM)

	r := &boundedRing{
		capacity:  uint32(capacity),
		mask:      uint32(capacity - 1),
		entries:   make([]atomic.Uint64, capacity),
		remapM:    uint32(remapM),
		remapN:    uint32(remapN),
		remapMask: uint32(remapN - 1),
	}
	for i := range r.entries {
		r.entries[i].Store(uint64(i))
	}
	r.tail.Store(uint32(capacity))
	return r
}

// get returns a free slot index, or iox.ErrWouldBlock if the ring is
// empty. It spins only while retrying a contended CAS. Pool.Acquire
// calls it once and, on an error, falls back to its overflow free list
// or a newly allocated object; the slab itself never grows.
func (r *boundedRing) get() (slot int, err error) {
	sw := spin.Wait{}
	for {
		h, t := r.head.Load(), r.tail.Load()
		hi := r.remap(h & r.mask)
		e := r.entries[hi].Load()

		if h != r.head.Load() {
			sw.Once()
			continue
		}
		if h == t {
			return 0, iox.ErrWouldBlock
		}

		nextTurn := (h/r.capacity + 1) & ringEntryTurnMask
		if e == r.empty(nextTurn) {
			r.head.CompareAndSwap(h, h+1)
			sw.Once()
			continue
		}
		ok := r.entries[hi].CompareAndSwap(e, r.empty(nextTurn))
		r.head.CompareAndSwap(h, h+1)
		if ok {
			return int(e & uint64(r.mask)), nil
		}
		sw.Once()
	}
}

// put returns slot to the ring. Only fails (iox.ErrWouldBlock) if the
// ring is already at capacity, which cannot happen for a ring sized to
// exactly the pool's object count unless the caller double-frees.
func (r *boundedRing) put(slot int) error {
	e := uint64(slot)
	sw := spin.Wait{}
	for {
		h, t := r.head.Load(), r.tail.Load()
		if t != r.tail.Load() {
			sw.Once()
			continue
		}
		if t == h+r.capacity {
			return iox.ErrWouldBlock
		}
		turn, ti := (t/r.capacity)&ringEntryTurnMask, r.remap(t)
		ok := r.entries[ti].CompareAndSwap(r.empty(turn), e)
		r.tail.CompareAndSwap(t, t+1)
		if ok {
			return nil
		}
		sw.Once()
	}
}

func (r *boundedRing) remap(cursor uint32) int {
	p, q := cursor/r.remapN, cursor&r.remapMask
	return int(q*r.remapM + p%r.remapM)
}

func (r *boundedRing) empty(turn uint32) uint64 {
	return ringEntryEmpty | uint64(turn&ringEntryTurnMask)
}
