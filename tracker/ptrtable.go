// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tracker

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// record is one live allocation as seen by the tracker.
type record struct {
	ptr       uintptr
	size      int
	file      *internEntry
	line      int
	frames    []uintptr
	bucketNxt *record
}

// ptrTable is a chained-bucket hash table keyed by pointer value,
// hashed with xxhash rather than relying on the pointer's low bits
// directly — a raw pointer's low bits cluster by allocator size class,
// which would concentrate collisions in exactly the buckets this table
// is busiest in.
type ptrTable struct {
	buckets []*record
	mask    uint64
	count   int
}

func newPtrTable() *ptrTable {
	const initialBuckets = 256
	return &ptrTable{
		buckets: make([]*record, initialBuckets),
		mask:    initialBuckets - 1,
	}
}

func hashPtr(ptr uintptr) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(ptr))
	return xxhash.Sum64(buf[:])
}

func (t *ptrTable) insert(r *record) {
	if t.count >= len(t.buckets) {
		t.grow()
	}
	idx := hashPtr(r.ptr) & t.mask
	r.bucketNxt = t.buckets[idx]
	t.buckets[idx] = r
	t.count++
}

func (t *ptrTable) remove(ptr uintptr) (*record, bool) {
	idx := hashPtr(ptr) & t.mask
	var prev *record
	for r := t.buckets[idx]; r != nil; r = r.bucketNxt {
		if r.ptr == ptr {
			if prev == nil {
				t.buckets[idx] = r.bucketNxt
			} else {
				prev.bucketNxt = r.bucketNxt
			}
			t.count--
			return r, true
		}
		prev = r
	}
	return nil, false
}

func (t *ptrTable) grow() {
	newBuckets := make([]*record, len(t.buckets)*2)
	newMask := uint64(len(newBuckets) - 1)
	for _, head := range t.buckets {
		for r := head; r != nil; {
			next := r.bucketNxt
			idx := hashPtr(r.ptr) & newMask
			r.bucketNxt = newBuckets[idx]
			newBuckets[idx] = r
			r = next
		}
	}
	t.buckets = newBuckets
	t.mask = newMask
}

// each iterates every live record for leak dumps. Order is unspecified.
func (t *ptrTable) each(fn func(*record)) {
	for _, head := range t.buckets {
		for r := head; r != nil; r = r.bucketNxt {
			fn(r)
		}
	}
}
