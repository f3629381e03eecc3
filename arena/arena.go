// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package arena implements a bump allocator whose blocks are drawn
// from the thread cache (for requests at or below LARGE) or the
// fallback heap (above it), per SPEC_FULL.md §4.7. Allocations are
// never freed individually — only by Reset or Destroy of the whole
// arena.
package arena

import (
	"sync"
	"unsafe"

	"code.hybscloud.com/mcpalloc"
	"code.hybscloud.com/mcpalloc/internal/procpin"
	"code.hybscloud.com/mcpalloc/threadcache"
)

// DefaultBlockSize is used when a caller requests 0.
const DefaultBlockSize = 4096

var ptrAlign = int(unsafe.Sizeof(uintptr(0)))

func alignUp(n int) int {
	return (n + ptrAlign - 1) &^ (ptrAlign - 1)
}

type block struct {
	data      []byte
	used      int
	fromCache bool // true if data came from the thread cache, vs. the heap
	next      *block
}

// Arena is a bump allocator: a singly-linked chain of blocks, each bump
// allocated within until exhausted.
type Arena struct {
	mu              sync.Mutex
	defaultBlockSize int
	head            *block

	totalAllocated  int
	totalBlockSize  int
	blockCount      int
}

// New zero-states a fresh Arena. defaultBlockSize == 0 uses
// DefaultBlockSize.
func New(defaultBlockSize int) *Arena {
	if defaultBlockSize <= 0 {
		defaultBlockSize = DefaultBlockSize
	}
	return &Arena{defaultBlockSize: defaultBlockSize}
}

// Alloc returns a pointer-aligned region of size bytes, bump-allocated
// from the arena's current block, growing the chain if needed.
func (a *Arena) Alloc(size int) unsafe.Pointer {
	size = alignUp(size)

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.head == nil || a.head.used+size > len(a.head.data) {
		a.growLocked(size)
	}
	b := a.head
	ptr := unsafe.Pointer(&b.data[b.used])
	b.used += size
	a.totalAllocated += size
	return ptr
}

func (a *Arena) growLocked(size int) {
	blockSize := a.defaultBlockSize
	if size > blockSize {
		blockSize = size
	}

	var data []byte
	fromCache := blockSize <= mcpalloc.LARGE
	if fromCache {
		ptr := threadcache.Alloc(blockSize)
		data = unsafe.Slice((*byte)(ptr), blockSize)
	} else {
		data = make([]byte, blockSize)
	}

	b := &block{data: data, fromCache: fromCache, next: a.head}
	a.head = b
	a.totalBlockSize += blockSize
	a.blockCount++
}

// Reset walks the block chain setting used = 0 on each, keeping every
// block allocated. total_allocated resets to 0; block_count and
// total_block_size do not.
func (a *Arena) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for b := a.head; b != nil; b = b.next {
		b.used = 0
	}
	a.totalAllocated = 0
}

// Destroy frees every block through the thread cache or heap as
// appropriate and clears the chain.
func (a *Arena) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for b := a.head; b != nil; {
		next := b.next
		if b.fromCache {
			threadcache.Free(unsafe.Pointer(&b.data[0]), len(b.data))
		}
		b = next
	}
	a.head = nil
	a.totalAllocated = 0
	a.totalBlockSize = 0
	a.blockCount = 0
}

// Stats reports the arena's bump-allocation totals.
func (a *Arena) Stats() (allocated, blockTotal, blockCount int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.totalAllocated, a.totalBlockSize, a.blockCount
}

// Buffers returns a scatter/gather view over every block's live (used)
// bytes, oldest block last — a natural fit for the arena's chain shape.
func (a *Arena) Buffers() mcpalloc.Buffers {
	a.mu.Lock()
	defer a.mu.Unlock()
	var bufs mcpalloc.Buffers
	for b := a.head; b != nil; b = b.next {
		bufs = append(bufs, b.data[:b.used])
	}
	return bufs
}

var (
	registryMu sync.Mutex
	registry   []*Arena
)

// GetCurrent returns (creating if necessary) the calling goroutine's
// thread-local arena, using the same default block size convention as
// New(0).
func GetCurrent() *Arena {
	pid := procpin.Pin()
	defer procpin.Unpin()

	registryMu.Lock()
	defer registryMu.Unlock()
	if pid >= len(registry) {
		grown := make([]*Arena, max(pid+1, procpin.N()))
		copy(grown, registry)
		registry = grown
	}
	if registry[pid] == nil {
		registry[pid] = New(0)
	}
	return registry[pid]
}

// DestroyCurrent destroys the calling goroutine's thread-local arena,
// if one was ever created.
func DestroyCurrent() {
	pid := procpin.Pin()
	defer procpin.Unpin()

	registryMu.Lock()
	a := func() *Arena {
		if pid < len(registry) {
			return registry[pid]
		}
		return nil
	}()
	if a != nil {
		registry[pid] = nil
	}
	registryMu.Unlock()

	if a != nil {
		a.Destroy()
	}
}
