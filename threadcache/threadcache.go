// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package threadcache implements a per-goroutine (per-P), adaptively
// sized LIFO cache of recycled blocks in front of the three class block
// pools, per SPEC_FULL.md §4.3.
package threadcache

import (
	"sync"
	"unsafe"

	"go.uber.org/zap"

	"code.hybscloud.com/mcpalloc"
	"code.hybscloud.com/mcpalloc/internal/procpin"
	"code.hybscloud.com/mcpalloc/internal/xatomic"
)

var logger = zap.NewNop()

// SetLogger installs l as this package's logger.
func SetLogger(l *zap.Logger) {
	if l == nil {
		logger = zap.NewNop()
		return
	}
	logger = l
}

const numClasses = 3 // Small, Medium, Large — Oversize never passes through a stack

func classIndex(c mcpalloc.Class) int {
	switch c {
	case mcpalloc.ClassSmall:
		return 0
	case mcpalloc.ClassMedium:
		return 1
	case mcpalloc.ClassLarge:
		return 2
	default:
		return -1
	}
}

// Config controls per-class cache bounds and adaptive-sizing policy.
type Config struct {
	SmallCacheSize  int
	MediumCacheSize int
	LargeCacheSize  int

	AdaptiveSizing  bool
	GrowthThreshold float64
	ShrinkThreshold float64
	MinCacheSize    int
	MaxCacheSize    int

	AdjustmentInterval int
}

// DefaultConfig returns the configuration used by Init.
func DefaultConfig() Config {
	return Config{
		SmallCacheSize:     64,
		MediumCacheSize:    32,
		LargeCacheSize:     16,
		AdaptiveSizing:     true,
		GrowthThreshold:    0.9,
		ShrinkThreshold:    0.3,
		MinCacheSize:       4,
		MaxCacheSize:       512,
		AdjustmentInterval: 1000,
	}
}

func clamp(cfg Config) Config {
	if cfg.MinCacheSize < 1 {
		cfg.MinCacheSize = 1
	}
	if cfg.MaxCacheSize < cfg.MinCacheSize {
		cfg.MaxCacheSize = cfg.MinCacheSize
	}
	clampSize := func(n int) int {
		if n < cfg.MinCacheSize {
			return cfg.MinCacheSize
		}
		if n > cfg.MaxCacheSize {
			return cfg.MaxCacheSize
		}
		return n
	}
	if cfg.SmallCacheSize <= 0 {
		cfg.SmallCacheSize = clampSize(64)
	} else {
		cfg.SmallCacheSize = clampSize(cfg.SmallCacheSize)
	}
	if cfg.MediumCacheSize <= 0 {
		cfg.MediumCacheSize = clampSize(32)
	} else {
		cfg.MediumCacheSize = clampSize(cfg.MediumCacheSize)
	}
	if cfg.LargeCacheSize <= 0 {
		cfg.LargeCacheSize = clampSize(16)
	} else {
		cfg.LargeCacheSize = clampSize(cfg.LargeCacheSize)
	}
	if cfg.GrowthThreshold <= 0 || cfg.GrowthThreshold > 1 {
		cfg.GrowthThreshold = 0.9
	}
	if cfg.ShrinkThreshold < 0 || cfg.ShrinkThreshold >= 1 {
		cfg.ShrinkThreshold = 0.3
	}
	if cfg.AdjustmentInterval <= 0 {
		cfg.AdjustmentInterval = 1000
	}
	return cfg
}

type classStack struct {
	items   []unsafe.Pointer
	maxSize int
}

type state struct {
	mu          sync.Mutex
	initialized bool
	cfg         Config
	stacks      [numClasses]classStack

	// hits is shared across all three classes, same as the object
	// cache's counter — an open question preserved as-is (spec.md §9):
	// per-class hit ratios computed from it overestimate.
	hits xatomic.Counter

	missSmall    xatomic.Counter
	missMedium   xatomic.Counter
	missLarge    xatomic.Counter
	missOversize xatomic.Counter
	flushes      xatomic.Counter

	opsSinceAdjustment xatomic.Counter
}

func (s *state) missCounter(classIdx int) *xatomic.Counter {
	switch classIdx {
	case 0:
		return &s.missSmall
	case 1:
		return &s.missMedium
	case 2:
		return &s.missLarge
	default:
		return &s.missOversize
	}
}

var (
	registryMu sync.Mutex
	registry   []*state
)

func stateFor(pid int) *state {
	registryMu.Lock()
	if pid >= len(registry) {
		grown := make([]*state, max(pid+1, procpin.N()))
		copy(grown, registry)
		registry = grown
	}
	if registry[pid] == nil {
		registry[pid] = &state{}
	}
	st := registry[pid]
	registryMu.Unlock()
	return st
}

// Init configures the calling goroutine's cache with DefaultConfig.
func Init() error {
	return InitWithConfig(DefaultConfig())
}

// InitWithConfig configures the calling goroutine's cache. Idempotent —
// a second call re-configures bounds in place without discarding
// already-cached blocks beyond trimming any that now exceed the new
// per-class bound.
func InitWithConfig(cfg Config) error {
	cfg = clamp(cfg)
	pid := procpin.Pin()
	st := stateFor(pid)
	procpin.Unpin()

	st.mu.Lock()
	st.cfg = cfg
	st.stacks[0].maxSize = cfg.SmallCacheSize
	st.stacks[1].maxSize = cfg.MediumCacheSize
	st.stacks[2].maxSize = cfg.LargeCacheSize
	var overflow [numClasses][]unsafe.Pointer
	for i := range st.stacks {
		if n := len(st.stacks[i].items); n > st.stacks[i].maxSize {
			overflow[i] = append(overflow[i], st.stacks[i].items[st.stacks[i].maxSize:]...)
			st.stacks[i].items = st.stacks[i].items[:st.stacks[i].maxSize]
		}
	}
	st.initialized = true
	st.mu.Unlock()

	for i := range overflow {
		for _, ptr := range overflow[i] {
			mcpalloc.Free(ptr)
		}
	}
	return nil
}

// Cleanup flushes the calling goroutine's three stacks and marks its
// cache uninitialized.
func Cleanup() {
	Flush()
	pid := procpin.Pin()
	st := stateFor(pid)
	procpin.Unpin()
	st.mu.Lock()
	st.initialized = false
	st.mu.Unlock()
}

// Alloc serves size bytes from the calling goroutine's cache if it has
// a free block of the matching class, else falls through to the
// dispatcher. Uninitialized goroutines fall through unconditionally.
func Alloc(size int) unsafe.Pointer {
	pid := procpin.Pin()
	st := stateFor(pid)
	procpin.Unpin()

	st.mu.Lock()
	if !st.initialized {
		st.mu.Unlock()
		return mcpalloc.Alloc(size)
	}
	st.opsSinceAdjustment.Inc()
	classIdx := classIndex(mcpalloc.ClassOf(size))
	if classIdx < 0 {
		st.mu.Unlock()
		maybeAdjust(st, pid)
		return mcpalloc.Alloc(size)
	}

	stack := &st.stacks[classIdx]
	var ptr unsafe.Pointer
	if n := len(stack.items); n > 0 {
		ptr = stack.items[n-1]
		stack.items = stack.items[:n-1]
	}
	st.mu.Unlock()

	if ptr != nil {
		st.hits.Inc()
	} else {
		st.missCounter(classIdx).Inc()
		ptr = mcpalloc.Alloc(size)
	}
	maybeAdjust(st, pid)
	return ptr
}

// Free returns ptr to the calling goroutine's cache if there is room
// for its size class, else falls through to the dispatcher's Free.
// sizeHint == 0 asks Free to recover the size via BlockSizeFor; if that
// also comes back 0, ptr is a fallback-heap pointer and is routed
// straight through.
func Free(ptr unsafe.Pointer, sizeHint int) {
	if ptr == nil {
		return
	}
	size := sizeHint
	if size == 0 {
		size = mcpalloc.BlockSizeFor(ptr)
		if size == 0 {
			mcpalloc.Free(ptr)
			return
		}
	}

	pid := procpin.Pin()
	st := stateFor(pid)
	procpin.Unpin()

	st.mu.Lock()
	if !st.initialized {
		st.mu.Unlock()
		mcpalloc.Free(ptr)
		return
	}
	classIdx := classIndex(mcpalloc.ClassOf(size))
	if classIdx < 0 {
		st.mu.Unlock()
		mcpalloc.Free(ptr)
		maybeAdjust(st, pid)
		return
	}

	stack := &st.stacks[classIdx]
	pushed := false
	if len(stack.items) < stack.maxSize {
		stack.items = append(stack.items, ptr)
		pushed = true
	}
	st.mu.Unlock()

	if !pushed {
		mcpalloc.Free(ptr)
	}
	maybeAdjust(st, pid)
}

// Flush routes every block cached by the calling goroutine back to the
// dispatcher and zeroes the counts. Idempotent: a second call is a
// no-op since the stacks are already empty.
func Flush() {
	pid := procpin.Pin()
	st := stateFor(pid)
	procpin.Unpin()

	st.mu.Lock()
	var drained [numClasses][]unsafe.Pointer
	for i := range st.stacks {
		drained[i] = st.stacks[i].items
		st.stacks[i].items = nil
	}
	st.flushes.Inc()
	st.mu.Unlock()

	for _, items := range drained {
		for _, ptr := range items {
			mcpalloc.Free(ptr)
		}
	}
}

// Stats is a point-in-time snapshot of one goroutine's thread-cache
// counters.
type Stats struct {
	Hits         int64
	MissSmall    int64
	MissMedium   int64
	MissLarge    int64
	MissOversize int64
	Flushes      int64

	SmallCount, SmallMax   int
	MediumCount, MediumMax int
	LargeCount, LargeMax   int
}

// GetStats snapshots the calling goroutine's cache.
func GetStats() Stats {
	pid := procpin.Pin()
	st := stateFor(pid)
	procpin.Unpin()

	st.mu.Lock()
	defer st.mu.Unlock()
	return Stats{
		Hits:         int64(st.hits.Load()),
		MissSmall:    int64(st.missSmall.Load()),
		MissMedium:   int64(st.missMedium.Load()),
		MissLarge:    int64(st.missLarge.Load()),
		MissOversize: int64(st.missOversize.Load()),
		Flushes:      int64(st.flushes.Load()),
		SmallCount:   len(st.stacks[0].items),
		SmallMax:     st.stacks[0].maxSize,
		MediumCount:  len(st.stacks[1].items),
		MediumMax:    st.stacks[1].maxSize,
		LargeCount:   len(st.stacks[2].items),
		LargeMax:     st.stacks[2].maxSize,
	}
}

// maybeAdjust runs the adjuster once opsSinceAdjustment reaches the
// configured interval.
func maybeAdjust(st *state, pid int) {
	st.mu.Lock()
	if !st.initialized || !st.cfg.AdaptiveSizing {
		st.mu.Unlock()
		return
	}
	if int(st.opsSinceAdjustment.Load()) < st.cfg.AdjustmentInterval {
		st.mu.Unlock()
		return
	}
	st.mu.Unlock()
	adjustSize(st)
}

// adjustSize computes a per-class hit ratio from the shared hits
// counter and each class's own miss counter, then grows or shrinks that
// class's bound within [min_cache_size, max_cache_size]. Excess blocks
// from a shrink are drained to the dispatcher in one batch.
func adjustSize(st *state) {
	st.mu.Lock()
	defer func() { st.opsSinceAdjustment.Store(0); st.mu.Unlock() }()

	hits := st.hits.Load()
	misses := [numClasses]uint64{st.missSmall.Load(), st.missMedium.Load(), st.missLarge.Load()}

	for i := 0; i < numClasses; i++ {
		denom := hits + misses[i]
		var ratio float64
		if denom > 0 {
			ratio = float64(hits) / float64(denom)
		}
		stack := &st.stacks[i]
		switch {
		case ratio > st.cfg.GrowthThreshold:
			newMax := stack.maxSize * 2
			if newMax > st.cfg.MaxCacheSize {
				newMax = st.cfg.MaxCacheSize
			}
			stack.maxSize = newMax
		case ratio < st.cfg.ShrinkThreshold:
			newMax := stack.maxSize / 2
			if newMax < st.cfg.MinCacheSize {
				newMax = st.cfg.MinCacheSize
			}
			stack.maxSize = newMax
			if len(stack.items) > stack.maxSize {
				excess := stack.items[stack.maxSize:]
				stack.items = stack.items[:stack.maxSize]
				logger.Debug("threadcache: draining excess blocks on shrink",
					zap.Int("class", i), zap.Int("count", len(excess)))
				for _, ptr := range excess {
					mcpalloc.Free(ptr)
				}
			}
		}
	}
}
