// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package tracker implements the process-wide memory-usage observer:
// a pointer→record hash table, backtrace capture, leak dumps, and a
// soft byte-budget limit, per SPEC_FULL.md §4.6. It is not on the
// allocation hot path unless a caller explicitly records an event.
package tracker

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"unsafe"

	"go.uber.org/zap"

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

// maxFrames bounds how many call-stack program counters record_alloc
// captures per allocation.
const maxFrames = 32

var (
	mu                   sync.Mutex
	initialized          bool
	trackIndividual      bool
	trackBacktraces      bool
	symbolizeBacktraces  bool
	ptrs                 *ptrTable
	strings_             *internTable
	memoryLimit          int64

	totalAllocations   xatomic.Counter
	totalFrees         xatomic.Counter
	currentAllocations xatomic.SignedCounter
	peakAllocations    xatomic.SignedCounter
	totalBytes         xatomic.Counter
	currentBytes       xatomic.SignedCounter
	peakBytes          xatomic.SignedCounter
)

// Init creates the tracker's state. If trackIndividual is set, the
// pointer→record table and the string-intern table are created too —
// the latter built on the object-pool subsystem, which must therefore
// already be usable (spec.md §9 init ordering). Idempotent: a second call
// returns nil without touching existing state.
func Init(trackIndividualArg, trackBacktracesArg bool) error {
	mu.Lock()
	defer mu.Unlock()
	if initialized {
		logger.Info("tracker: Init called while already initialized; no-op")
		return nil
	}
	trackIndividual = trackIndividualArg
	trackBacktraces = trackBacktracesArg
	if trackIndividual {
		ptrs = newPtrTable()
		strings_ = newInternTable()
	}
	initialized = true
	return nil
}

// Cleanup logs any still-live allocations as leaks, destroys both
// tables, and resets all counters and flags.
func Cleanup() {
	mu.Lock()
	defer mu.Unlock()
	if !initialized {
		return
	}
	if ptrs != nil {
		ptrs.each(func(r *record) {
			logger.Warn("tracker: leaked allocation at cleanup",
				zap.Uintptr("ptr", r.ptr), zap.Int("size", r.size))
		})
	}
	ptrs = nil
	strings_ = nil
	initialized = false
	trackIndividual = false
	trackBacktraces = false
	symbolizeBacktraces = false
	memoryLimit = 0
	totalAllocations.Store(0)
	totalFrees.Store(0)
	currentAllocations.Store(0)
	peakAllocations.Store(0)
	totalBytes.Store(0)
	currentBytes.Store(0)
	peakBytes.Store(0)
}

// RecordAlloc records a size-byte allocation at file:line. When
// individual tracking is enabled it also interns file and, if backtrace
// tracking is enabled too, captures a bounded backtrace.
func RecordAlloc(ptr unsafe.Pointer, size int, file string, line int) {
	totalAllocations.Inc()
	cur := currentAllocations.Add(1)
	peakAllocations.Max(cur)
	totalBytes.Add(uint64(size))
	curBytes := currentBytes.Add(int64(size))
	peakBytes.Max(curBytes)

	mu.Lock()
	defer mu.Unlock()
	if !trackIndividual {
		return
	}

	r := &record{ptr: uintptr(ptr), size: size, line: line}
	r.file = strings_.intern(file)
	if trackBacktraces {
		pcs := make([]uintptr, maxFrames)
		n := runtime.Callers(3, pcs)
		r.frames = pcs[:n]
	}
	ptrs.insert(r)
}

// RecordFree releases the record for ptr, if individual tracking is
// enabled. A lookup miss is logged as a double-free or untracked
// pointer; the free counter is still incremented.
func RecordFree(ptr unsafe.Pointer) {
	totalFrees.Inc()

	mu.Lock()
	defer mu.Unlock()
	if !trackIndividual {
		currentAllocations.Dec()
		return
	}

	r, ok := ptrs.remove(uintptr(ptr))
	if !ok {
		logger.Warn("tracker: record_free on untracked pointer (double free?)", zap.Uintptr("ptr", uintptr(ptr)))
		currentAllocations.Dec()
		return
	}
	currentBytes.Add(-int64(r.size))
	currentAllocations.Dec()
	strings_.release(r.file)
}

// Stats is a lock-free snapshot of the tracker's global counters.
type Stats struct {
	TotalAllocations   uint64
	TotalFrees         uint64
	CurrentAllocations int64
	PeakAllocations    int64
	TotalBytes         uint64
	CurrentBytes       int64
	PeakBytes          int64
}

// GetStats takes a lock-free snapshot of the tracker's counters.
func GetStats() Stats {
	return Stats{
		TotalAllocations:   totalAllocations.Load(),
		TotalFrees:         totalFrees.Load(),
		CurrentAllocations: currentAllocations.Load(),
		PeakAllocations:    peakAllocations.Load(),
		TotalBytes:         totalBytes.Load(),
		CurrentBytes:       currentBytes.Load(),
		PeakBytes:          peakBytes.Load(),
	}
}

// SetLimit sets the soft byte budget. 0 means no limit.
func SetLimit(bytes int64) {
	mu.Lock()
	memoryLimit = bytes
	mu.Unlock()
}

// WouldExceedLimit reports whether current_bytes + extraBytes would
// exceed the configured limit. The tracker never enforces this itself.
func WouldExceedLimit(extraBytes int64) bool {
	mu.Lock()
	limit := memoryLimit
	mu.Unlock()
	if limit <= 0 {
		return false
	}
	return currentBytes.Load()+extraBytes > limit
}

// SetSymbolizeBacktraces toggles whether DumpLeaks resolves captured
// program counters to symbols (vs. raw addresses).
func SetSymbolizeBacktraces(on bool) {
	mu.Lock()
	symbolizeBacktraces = on
	mu.Unlock()
}

// StringPoolStats reports the number of distinct interned file paths
// and the bytes their deduplication has saved.
func StringPoolStats() (unique int, savedBytes int) {
	mu.Lock()
	defer mu.Unlock()
	if strings_ == nil {
		return 0, 0
	}
	return strings_.stats()
}

// DumpLeaks writes a human-readable leak report to path, matching the
// format in spec.md §6 exactly.
func DumpLeaks(path string) error {
	mu.Lock()
	stats := Stats{
		TotalAllocations:   totalAllocations.Load(),
		TotalFrees:         totalFrees.Load(),
		CurrentAllocations: currentAllocations.Load(),
		CurrentBytes:       currentBytes.Load(),
	}
	var leaks []*record
	if ptrs != nil {
		ptrs.each(func(r *record) { leaks = append(leaks, r) })
	}
	symbolize := symbolizeBacktraces
	mu.Unlock()

	var b strings.Builder
	b.WriteString("Memory Leak Report\n")
	b.WriteString("=================\n\n")
	fmt.Fprintf(&b, "Total allocations: %d\n", stats.TotalAllocations)
	fmt.Fprintf(&b, "Total frees: %d\n", stats.TotalFrees)
	fmt.Fprintf(&b, "Current allocations: %d\n", stats.CurrentAllocations)
	fmt.Fprintf(&b, "Current bytes: %d\n", stats.CurrentBytes)
	b.WriteString("\n")

	if len(leaks) == 0 {
		b.WriteString("No memory leaks detected.\n")
		return os.WriteFile(path, []byte(b.String()), 0o644)
	}

	b.WriteString("Leaked allocations:\n")
	b.WriteString("-------------------\n\n")
	for _, r := range leaks {
		fmt.Fprintf(&b, "Leak: %#x, %d bytes, allocated at %s:%d\n", r.ptr, r.size, r.file.value, r.line)
		if len(r.frames) > 0 {
			b.WriteString("  Backtrace:\n")
			for _, sym := range symbolizeFrames(r.frames, symbolize) {
				fmt.Fprintf(&b, "    %s\n", sym)
			}
		}
		b.WriteString("\n")
	}

	return os.WriteFile(path, []byte(b.String()), 0o644)
}

func symbolizeFrames(pcs []uintptr, symbolize bool) []string {
	out := make([]string, 0, len(pcs))
	if !symbolize {
		for _, pc := range pcs {
			out = append(out, fmt.Sprintf("%#x", pc))
		}
		return out
	}
	frames := runtime.CallersFrames(pcs)
	for {
		frame, more := frames.Next()
		if frame.Function != "" {
			out = append(out, fmt.Sprintf("%s\n      %s:%d", frame.Function, frame.File, frame.Line))
		} else {
			out = append(out, fmt.Sprintf("%#x", frame.PC))
		}
		if !more {
			break
		}
	}
	return out
}
