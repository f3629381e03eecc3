// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package xatomic provides the counter primitives every shared-state
// component in mcpalloc is built from: increment, decrement, add,
// subtract, and a monotone exchange-max. Relaxed ordering is sufficient
// for all of them; none of them need to synchronize anything beyond
// their own word.
package xatomic

import "sync/atomic"

// Counter wraps atomic.Uint64 with the increment/decrement/add/subtract
// vocabulary spec'd for allocator-wide statistics (total allocations,
// current bytes, peak bytes, ...).
type Counter struct {
	v atomic.Uint64
}

func (c *Counter) Load() uint64 { return c.v.Load() }
func (c *Counter) Store(n uint64) { c.v.Store(n) }
func (c *Counter) Inc() uint64   { return c.v.Add(1) }
func (c *Counter) Dec() uint64   { return c.v.Add(^uint64(0)) }
func (c *Counter) Add(n uint64) uint64 { return c.v.Add(n) }

// Sub subtracts n, saturating at zero rather than wrapping — current-byte
// and current-allocation counters must never underflow from a double
// accounting bug into a huge unsigned value.
func (c *Counter) Sub(n uint64) uint64 {
	for {
		old := c.v.Load()
		var next uint64
		if n > old {
			next = 0
		} else {
			next = old - n
		}
		if c.v.CompareAndSwap(old, next) {
			return next
		}
	}
}

// Max advances the counter to the maximum of its current value and n,
// via a CAS retry loop (the "exchange-max" primitive from the spec). It
// never moves the value down. Peaks observed slightly stale by a
// concurrent reader are acceptable — relaxed ordering is sufficient for
// statistics.
func (c *Counter) Max(n uint64) {
	for {
		old := c.v.Load()
		if n <= old {
			return
		}
		if c.v.CompareAndSwap(old, n) {
			return
		}
	}
}

// SignedCounter is the int64 counterpart of Counter, used where a
// statistic (e.g. current_in_use) can transiently be computed from a
// subtraction that must not be clamped.
type SignedCounter struct {
	v atomic.Int64
}

func (c *SignedCounter) Load() int64       { return c.v.Load() }
func (c *SignedCounter) Store(n int64)     { c.v.Store(n) }
func (c *SignedCounter) Add(n int64) int64 { return c.v.Add(n) }
func (c *SignedCounter) Inc() int64        { return c.v.Add(1) }
func (c *SignedCounter) Dec() int64        { return c.v.Add(-1) }

// Max advances the counter to the maximum of its current value and n.
func (c *SignedCounter) Max(n int64) {
	for {
		old := c.v.Load()
		if n <= old {
			return
		}
		if c.v.CompareAndSwap(old, n) {
			return
		}
	}
}
