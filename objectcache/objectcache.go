// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package objectcache implements typed, per-goroutine caches with
// constructor/destructor hooks layered on top of the block pools, per
// SPEC_FULL.md §4.4. Its shape mirrors threadcache but indexes by a
// type identifier instead of a size class.
package objectcache

import (
	"errors"
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

// TypeID identifies a cache slot. The closed enum covers the common
// shapes this runtime passes through an object cache; CustomSlot0..7
// are reservable at runtime via RegisterType.
type TypeID int

const (
	Generic TypeID = iota
	String
	JSON
	Arena
	Buffer
	CustomSlot0
	CustomSlot1
	CustomSlot2
	CustomSlot3
	CustomSlot4
	CustomSlot5
	CustomSlot6
	CustomSlot7
	numTypeIDs
)

var typeNames = [numTypeIDs]string{
	Generic: "generic", String: "string", JSON: "json", Arena: "arena", Buffer: "buffer",
	CustomSlot0: "custom0", CustomSlot1: "custom1", CustomSlot2: "custom2", CustomSlot3: "custom3",
	CustomSlot4: "custom4", CustomSlot5: "custom5", CustomSlot6: "custom6", CustomSlot7: "custom7",
}

// TypeName returns the diagnostic name of a type identifier.
func TypeName(id TypeID) string {
	if id < 0 || id >= numTypeIDs {
		return "unknown"
	}
	return typeNames[id]
}

func isCustomSlot(id TypeID) bool { return id >= CustomSlot0 && id <= CustomSlot7 }

// ErrNotCustomSlot is returned by RegisterType for any type identifier
// outside the reserved Custom range.
var ErrNotCustomSlot = errors.New("objectcache: RegisterType is only valid for reserved custom slots")

// Ctor constructs a freshly obtained object in place before it is
// handed to the caller.
type Ctor func(ptr unsafe.Pointer)

// Dtor tears down an object's in-place state before it is returned to
// the cache or the dispatcher.
type Dtor func(ptr unsafe.Pointer)

type typeSlot struct {
	ctor Ctor
	dtor Dtor
}

var (
	slotsMu sync.Mutex
	slots   [numTypeIDs]typeSlot
)

// RegisterType installs ctor/dtor hooks for one of the reserved custom
// slots. Registering any other type identifier fails.
func RegisterType(id TypeID, ctor Ctor, dtor Dtor) error {
	if !isCustomSlot(id) {
		return ErrNotCustomSlot
	}
	slotsMu.Lock()
	slots[id] = typeSlot{ctor: ctor, dtor: dtor}
	slotsMu.Unlock()
	return nil
}

func hooksFor(id TypeID) typeSlot {
	slotsMu.Lock()
	s := slots[id]
	slotsMu.Unlock()
	return s
}

// Config controls one type slot's cache bound and adaptive-sizing
// policy — identical shape to threadcache.Config minus the per-class
// split, since an object cache bucket is per type, not per size.
type Config struct {
	MaxSize         int
	AdaptiveSizing  bool
	GrowthThreshold float64
	ShrinkThreshold float64
	MinCacheSize    int
	MaxCacheSize    int

	AdjustmentInterval int
}

// DefaultConfig returns the configuration SystemInit applies to every
// type slot.
func DefaultConfig() Config {
	return Config{
		MaxSize:            32,
		AdaptiveSizing:     true,
		GrowthThreshold:    0.9,
		ShrinkThreshold:    0.3,
		MinCacheSize:       4,
		MaxCacheSize:       256,
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
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = cfg.MinCacheSize
	}
	if cfg.MaxSize < cfg.MinCacheSize {
		cfg.MaxSize = cfg.MinCacheSize
	}
	if cfg.MaxSize > cfg.MaxCacheSize {
		cfg.MaxSize = cfg.MaxCacheSize
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

type typeStack struct {
	items   []unsafe.Pointer
	maxSize int
	cfg     Config
}

type state struct {
	mu          sync.Mutex
	initialized bool
	stacks      [numTypeIDs]typeStack

	// hits is shared across all type slots, mirroring the thread
	// cache's documented open question (spec.md §9): per-type hit
	// ratios computed from it overestimate.
	hits               xatomic.Counter
	misses             [numTypeIDs]xatomic.Counter
	flushes            xatomic.Counter
	opsSinceAdjustment xatomic.Counter
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

// SystemInit configures the calling goroutine's cache with
// DefaultConfig for every type slot.
func SystemInit() error {
	pid := procpin.Pin()
	st := stateFor(pid)
	procpin.Unpin()

	st.mu.Lock()
	for i := range st.stacks {
		st.stacks[i].cfg = clamp(DefaultConfig())
		st.stacks[i].maxSize = st.stacks[i].cfg.MaxSize
	}
	st.initialized = true
	st.mu.Unlock()
	return nil
}

// Configure re-tunes a single type slot's bounds for the calling
// goroutine. Valid whether or not SystemInit has already run.
func Configure(id TypeID, cfg Config) {
	cfg = clamp(cfg)
	pid := procpin.Pin()
	st := stateFor(pid)
	procpin.Unpin()

	st.mu.Lock()
	st.stacks[id].cfg = cfg
	st.stacks[id].maxSize = cfg.MaxSize
	if n := len(st.stacks[id].items); n > cfg.MaxSize {
		overflow := append([]unsafe.Pointer(nil), st.stacks[id].items[cfg.MaxSize:]...)
		st.stacks[id].items = st.stacks[id].items[:cfg.MaxSize]
		st.mu.Unlock()
		for _, ptr := range overflow {
			freeTyped(id, ptr)
		}
		return
	}
	st.mu.Unlock()
}

// EnableAdaptiveSizing toggles the adaptive-sizing policy for one type
// slot on the calling goroutine.
func EnableAdaptiveSizing(id TypeID, on bool) {
	pid := procpin.Pin()
	st := stateFor(pid)
	procpin.Unpin()
	st.mu.Lock()
	st.stacks[id].cfg.AdaptiveSizing = on
	st.mu.Unlock()
}

// SystemShutdown flushes every type slot for the calling goroutine and
// marks its cache uninitialized.
func SystemShutdown() {
	for id := TypeID(0); id < numTypeIDs; id++ {
		Flush(id)
	}
	pid := procpin.Pin()
	st := stateFor(pid)
	procpin.Unpin()
	st.mu.Lock()
	st.initialized = false
	st.mu.Unlock()
}

func freeTyped(id TypeID, ptr unsafe.Pointer) {
	if dtor := hooksFor(id).dtor; dtor != nil {
		dtor(ptr)
	}
	mcpalloc.Free(ptr)
}

// Alloc returns an object from type slot id, sized size bytes on a
// cache miss. A popped cached object and a freshly obtained one are
// both passed through the slot's constructor, if registered, so every
// pointer leaving Alloc has been constructed exactly once more than it
// has been destructed (spec.md §4.4 invariant).
func Alloc(id TypeID, size int) unsafe.Pointer {
	pid := procpin.Pin()
	st := stateFor(pid)
	procpin.Unpin()

	st.mu.Lock()
	initialized := st.initialized
	if initialized {
		st.opsSinceAdjustment.Inc()
	}
	stack := &st.stacks[id]
	var ptr unsafe.Pointer
	if n := len(stack.items); n > 0 {
		ptr = stack.items[n-1]
		stack.items = stack.items[:n-1]
	}
	st.mu.Unlock()

	if ptr != nil {
		st.hits.Inc()
	} else {
		st.misses[id].Inc()
		ptr = mcpalloc.Alloc(size)
	}
	if ctor := hooksFor(id).ctor; ctor != nil {
		ctor(ptr)
	}
	if initialized {
		maybeAdjust(st, id)
	}
	return ptr
}

// Free invokes the slot's destructor, if any, then either pushes ptr
// back onto the calling goroutine's stack for this type or routes it
// to the dispatcher's Free.
func Free(id TypeID, ptr unsafe.Pointer, size int) {
	if ptr == nil {
		return
	}
	if dtor := hooksFor(id).dtor; dtor != nil {
		dtor(ptr)
	}

	pid := procpin.Pin()
	st := stateFor(pid)
	procpin.Unpin()

	st.mu.Lock()
	initialized := st.initialized
	stack := &st.stacks[id]
	pushed := false
	if initialized && len(stack.items) < stack.maxSize {
		stack.items = append(stack.items, ptr)
		pushed = true
	}
	st.mu.Unlock()

	if !pushed {
		mcpalloc.Free(ptr)
	}
	if initialized {
		maybeAdjust(st, id)
	}
}

// flushBatch is the batch size Flush destructs/frees at a time, for
// locality of the block-size tags it would otherwise have to prefetch
// one at a time.
const flushBatch = 8

// Flush drains the calling goroutine's stack for type id in batches,
// invoking the destructor and freeing each object.
func Flush(id TypeID) {
	pid := procpin.Pin()
	st := stateFor(pid)
	procpin.Unpin()

	st.mu.Lock()
	items := st.stacks[id].items
	st.stacks[id].items = nil
	st.flushes.Inc()
	st.mu.Unlock()

	dtor := hooksFor(id).dtor
	for i := 0; i < len(items); i += flushBatch {
		end := min(i+flushBatch, len(items))
		batch := items[i:end]
		for _, ptr := range batch {
			if dtor != nil {
				dtor(ptr)
			}
		}
		for _, ptr := range batch {
			mcpalloc.Free(ptr)
		}
	}
}

// Stats is a point-in-time snapshot of one type slot's counters on the
// calling goroutine.
type Stats struct {
	Hits    int64
	Misses  int64
	Flushes int64
	Count   int
	MaxSize int
}

// GetStats snapshots type slot id on the calling goroutine.
func GetStats(id TypeID) Stats {
	pid := procpin.Pin()
	st := stateFor(pid)
	procpin.Unpin()

	st.mu.Lock()
	defer st.mu.Unlock()
	return Stats{
		Hits:    int64(st.hits.Load()),
		Misses:  int64(st.misses[id].Load()),
		Flushes: int64(st.flushes.Load()),
		Count:   len(st.stacks[id].items),
		MaxSize: st.stacks[id].maxSize,
	}
}

func maybeAdjust(st *state, id TypeID) {
	st.mu.Lock()
	cfg := st.stacks[id].cfg
	if !cfg.AdaptiveSizing || int(st.opsSinceAdjustment.Load()) < cfg.AdjustmentInterval {
		st.mu.Unlock()
		return
	}
	st.mu.Unlock()
	adjustSize(st, id)
}

func adjustSize(st *state, id TypeID) {
	st.mu.Lock()
	defer func() { st.opsSinceAdjustment.Store(0); st.mu.Unlock() }()

	hits := st.hits.Load()
	misses := st.misses[id].Load()
	denom := hits + misses
	var ratio float64
	if denom > 0 {
		ratio = float64(hits) / float64(denom)
	}

	stack := &st.stacks[id]
	switch {
	case ratio > stack.cfg.GrowthThreshold:
		newMax := stack.maxSize * 2
		if newMax > stack.cfg.MaxCacheSize {
			newMax = stack.cfg.MaxCacheSize
		}
		stack.maxSize = newMax
	case ratio < stack.cfg.ShrinkThreshold:
		newMax := stack.maxSize / 2
		if newMax < stack.cfg.MinCacheSize {
			newMax = stack.cfg.MinCacheSize
		}
		stack.maxSize = newMax
		if len(stack.items) > stack.maxSize {
			excess := append([]unsafe.Pointer(nil), stack.items[stack.maxSize:]...)
			stack.items = stack.items[:stack.maxSize]
			logger.Debug("objectcache: draining excess objects on shrink",
				zap.String("type", TypeName(id)), zap.Int("count", len(excess)))
			st.mu.Unlock()
			for _, ptr := range excess {
				freeTyped(id, ptr)
			}
			st.mu.Lock()
		}
	}
}
