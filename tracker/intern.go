// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tracker

import (
	"sync"

	"github.com/cespare/xxhash/v2"

	"code.hybscloud.com/mcpalloc/objectpool"
)

// internEntry is one deduplicated, reference-counted string. The
// tracker's interning table exists so that repeated allocations from
// the same source file don't each carry a separate copy of the path.
type internEntry struct {
	value    string
	refCount int32
	bucketNxt *internEntry
}

// internTable is a chained-bucket hash table keyed by string content,
// backed by a dedicated object pool for entries — establishing the
// object-pool-before-tracker initialization order (spec.md §9).
type internTable struct {
	mu      sync.Mutex
	buckets []*internEntry
	mask    uint64
	pool    *objectpool.Pool[internEntry]
}

func newInternTable() *internTable {
	const initialBuckets = 64
	return &internTable{
		buckets: make([]*internEntry, initialBuckets),
		mask:    initialBuckets - 1,
		pool:    objectpool.New[internEntry](64, 0),
	}
}

func (t *internTable) bucketIndex(s string) uint64 {
	return xxhash.Sum64String(s) & t.mask
}

// intern returns a stable, reference-counted entry for s, creating one
// if this is the first reference.
func (t *internTable) intern(s string) *internEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := t.bucketIndex(s)
	for e := t.buckets[idx]; e != nil; e = e.bucketNxt {
		if e.value == s {
			e.refCount++
			return e
		}
	}

	e := t.pool.Acquire()
	e.value = s
	e.refCount = 1
	e.bucketNxt = t.buckets[idx]
	t.buckets[idx] = e
	return e
}

// release decrements e's reference count, removing and recycling the
// entry once it reaches zero.
func (t *internTable) release(e *internEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e.refCount--
	if e.refCount > 0 {
		return
	}

	idx := t.bucketIndex(e.value)
	var prev *internEntry
	for cur := t.buckets[idx]; cur != nil; cur = cur.bucketNxt {
		if cur == e {
			if prev == nil {
				t.buckets[idx] = cur.bucketNxt
			} else {
				prev.bucketNxt = cur.bucketNxt
			}
			break
		}
		prev = cur
	}
	e.value = ""
	e.bucketNxt = nil
	t.pool.Release(e)
}

// stats reports the number of distinct interned strings and the bytes
// their deduplication has saved versus one copy per reference.
func (t *internTable) stats() (unique int, savedBytes int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, head := range t.buckets {
		for e := head; e != nil; e = e.bucketNxt {
			unique++
			if e.refCount > 1 {
				savedBytes += len(e.value) * int(e.refCount-1)
			}
		}
	}
	return unique, savedBytes
}
