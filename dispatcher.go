// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package mcpalloc

import (
	"sync"
	"unsafe"

	"go.uber.org/zap"

	"code.hybscloud.com/mcpalloc/blockpool"
)

const (
	defaultSmallInitial  = 256
	defaultMediumInitial = 128
	defaultLargeInitial  = 32
)

var (
	dispatcherMu   sync.Mutex
	dispatcherInit bool

	smallPool  *blockpool.Pool
	mediumPool *blockpool.Pool
	largePool  *blockpool.Pool
)

// Init creates the Small/Medium/Large class pools with the given
// initial block counts. Idempotent — calling it again while already
// initialized logs and returns nil without touching the existing pools.
func Init(smallInitial, mediumInitial, largeInitial int) error {
	dispatcherMu.Lock()
	defer dispatcherMu.Unlock()
	return initLocked(smallInitial, mediumInitial, largeInitial)
}

func initLocked(smallInitial, mediumInitial, largeInitial int) error {
	if dispatcherInit {
		logger.Info("mcpalloc: Init called while already initialized; no-op")
		return nil
	}

	sp, err := blockpool.Create(SMALL, smallInitial, 0)
	if err != nil {
		return err
	}
	mp, err := blockpool.Create(MEDIUM, mediumInitial, 0)
	if err != nil {
		sp.Destroy()
		return err
	}
	lp, err := blockpool.Create(LARGE, largeInitial, 0)
	if err != nil {
		sp.Destroy()
		mp.Destroy()
		return err
	}

	smallPool, mediumPool, largePool = sp, mp, lp
	dispatcherInit = true
	return nil
}

// Shutdown destroys all three class pools. Flushing live thread caches
// or object caches first is the caller's responsibility; any blocks
// they still hold leak once their owning pool is destroyed.
func Shutdown() {
	dispatcherMu.Lock()
	defer dispatcherMu.Unlock()
	if !dispatcherInit {
		return
	}
	smallPool.Destroy()
	mediumPool.Destroy()
	largePool.Destroy()
	smallPool, mediumPool, largePool = nil, nil, nil
	dispatcherInit = false
}

func poolFor(class Class) *blockpool.Pool {
	switch class {
	case ClassSmall:
		return smallPool
	case ClassMedium:
		return mediumPool
	case ClassLarge:
		return largePool
	default:
		return nil
	}
}

// Alloc routes a size-byte request to the matching class pool, lazily
// initializing the dispatcher with default counts on first use. A
// request above LARGE, or one a pool can't satisfy because it is at
// max_blocks, falls back to the heap — Alloc never returns nil.
func Alloc(size int) unsafe.Pointer {
	if size < 0 {
		size = 0
	}
	class := ClassOf(size)

	dispatcherMu.Lock()
	if !dispatcherInit {
		_ = initLocked(defaultSmallInitial, defaultMediumInitial, defaultLargeInitial)
	}
	pool := poolFor(class)
	dispatcherMu.Unlock()

	if pool == nil {
		return heapAlloc(size)
	}
	if ptr := pool.Alloc(); ptr != nil {
		return ptr
	}
	return heapAlloc(size)
}

func heapAlloc(size int) unsafe.Pointer {
	buf := make([]byte, max(size, 1))
	return unsafe.Pointer(unsafe.SliceData(buf))
}

// Free routes userPtr back to its owning pool by inspecting the header
// immediately before it; a pointer with no valid header magic is
// assumed to be a fallback-heap pointer and is simply dropped (Go's GC
// reclaims it). userPtr == nil is a no-op.
func Free(userPtr unsafe.Pointer) {
	if userPtr == nil {
		return
	}
	ok, owner := blockpool.Inspect(userPtr)
	if !ok {
		return
	}
	if err := owner.Free(userPtr); err != nil {
		logger.Warn("mcpalloc: free rejected by owning pool", zap.Error(err))
	}
}

// BlockSizeFor returns the user-visible block size if userPtr carries a
// valid pool header, or 0 if it looks like a fallback-heap pointer.
func BlockSizeFor(userPtr unsafe.Pointer) int {
	if userPtr == nil {
		return 0
	}
	ok, owner := blockpool.Inspect(userPtr)
	if !ok {
		return 0
	}
	return owner.BlockSize()
}
