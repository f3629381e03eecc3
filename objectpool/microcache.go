// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package objectpool

import (
	"sync"
	"unsafe"

	"code.hybscloud.com/mcpalloc/internal/procpin"
)

// microCacheEntry binds one goroutine's cached objects to the Pool they
// came from. key is the type-erased *Pool[T] pointer; drain returns a
// single cached object to that pool's shared free list.
type microCacheEntry struct {
	key   unsafe.Pointer
	drain func(unsafe.Pointer)
	items []unsafe.Pointer
}

// perPCache is one goroutine-affine (really: P-affine) micro-cache slot.
// Guarded by its own mutex: the owning goroutine acquires it uncontended
// on every Acquire/Release; a foreign goroutine only touches it during
// Pool.Destroy or Pool.Stats, which is rare and tolerates the wait.
type perPCache struct {
	mu      sync.Mutex
	entries [microCacheSlots]microCacheEntry
}

type microCacheRegistry struct {
	mu     sync.Mutex
	caches []*perPCache
}

var globalCaches microCacheRegistry

func (r *microCacheRegistry) get(pid int) *perPCache {
	r.mu.Lock()
	if pid >= len(r.caches) {
		grown := make([]*perPCache, max(pid+1, procpin.N()))
		copy(grown, r.caches)
		r.caches = grown
	}
	if r.caches[pid] == nil {
		r.caches[pid] = &perPCache{}
	}
	c := r.caches[pid]
	r.mu.Unlock()
	return c
}

func poolKeyOf[T any](p *Pool[T]) unsafe.Pointer {
	return unsafe.Pointer(p)
}

// popFor returns a cached *T for pool p on goroutine pid's micro-cache,
// or nil if none is cached there.
func popFor[T any](pid int, p *Pool[T]) *T {
	key := poolKeyOf(p)
	c := globalCaches.get(pid)
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.entries {
		if c.entries[i].key == key && len(c.entries[i].items) > 0 {
			n := len(c.entries[i].items) - 1
			ptr := c.entries[i].items[n]
			c.entries[i].items = c.entries[i].items[:n]
			return (*T)(ptr)
		}
	}
	return nil
}

// pushFor caches obj on goroutine pid's micro-cache for pool p. Returns
// false only if the pool's own local stack is already full — the caller
// must then release obj to the shared free list itself. If all
// microCacheSlots are taken by other pools, slot 0 is drained to its
// owner and rebound to p, and obj is cached there.
func pushFor[T any](pid int, p *Pool[T], obj *T) bool {
	key := poolKeyOf(p)
	c := globalCaches.get(pid)
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.entries {
		if c.entries[i].key == key {
			if len(c.entries[i].items) >= microCacheDepth {
				return false
			}
			c.entries[i].items = append(c.entries[i].items, unsafe.Pointer(obj))
			return true
		}
	}
	for i := range c.entries {
		if c.entries[i].key == nil {
			c.entries[i] = newMicroCacheEntry(p, obj)
			return true
		}
	}
	// All microCacheSlots taken by other pools: evict slot 0. That is the
	// oldest binding only until slot 0 has been rebound once; it is not a
	// true LRU victim (spec.md §9).
	evict := c.entries[0]
	c.entries[0] = newMicroCacheEntry(p, obj)
	c.mu.Unlock()
	for _, item := range evict.items {
		evict.drain(item)
	}
	c.mu.Lock()
	return true
}

func newMicroCacheEntry[T any](p *Pool[T], obj *T) microCacheEntry {
	return microCacheEntry{
		key:   poolKeyOf(p),
		drain: func(ptr unsafe.Pointer) { p.releaseToOwner((*T)(ptr)) },
		items: []unsafe.Pointer{unsafe.Pointer(obj)},
	}
}

// countFor sums every goroutine's micro-cache occupancy for pool p.
func countFor[T any](p *Pool[T]) int {
	key := poolKeyOf(p)
	globalCaches.mu.Lock()
	caches := globalCaches.caches
	globalCaches.mu.Unlock()

	total := 0
	for _, c := range caches {
		if c == nil {
			continue
		}
		c.mu.Lock()
		for i := range c.entries {
			if c.entries[i].key == key {
				total += len(c.entries[i].items)
			}
		}
		c.mu.Unlock()
	}
	return total
}

// drainForDestroy returns every cached object for pool p across every
// goroutine's micro-cache, back to p's shared free list, and clears the
// bindings.
func drainForDestroy[T any](p *Pool[T]) {
	key := poolKeyOf(p)
	globalCaches.mu.Lock()
	caches := globalCaches.caches
	globalCaches.mu.Unlock()

	for _, c := range caches {
		if c == nil {
			continue
		}
		c.mu.Lock()
		for i := range c.entries {
			if c.entries[i].key != key {
				continue
			}
			items := c.entries[i].items
			c.entries[i] = microCacheEntry{}
			c.mu.Unlock()
			for _, ptr := range items {
				p.releaseToOwner((*T)(ptr))
			}
			c.mu.Lock()
		}
		c.mu.Unlock()
	}
}
