// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package procpin exposes the runtime's per-P pinning primitive, the same
// mechanism sync.Pool uses internally to give every goroutine a fast,
// lock-free path to "its own" slot without tracking OS threads directly.
//
// This is the Go realization of the spec's "per-thread cache": a
// goroutine that Pins, does its slot lookup, and Unpins without blocking
// in between behaves exactly like the original's per-thread owner,
// because Pin disables preemption for the pinned section.
package procpin

import (
	"runtime"
	_ "unsafe" // for go:linkname
)

func numCPU() int {
	return runtime.GOMAXPROCS(0)
}

// N returns the number of slots the caller should size a per-P array to.
// It tracks GOMAXPROCS, like sync.Pool's local array.
func N() int {
	return numCPU()
}

// Pin disables preemption on the current goroutine's P and returns that
// P's id, suitable as an index into a [N]T array. The caller must call
// Unpin before doing anything that can block or call back into user code.
func Pin() int {
	return runtimeProcPin()
}

// Unpin re-enables preemption. Must be paired 1:1 with Pin.
func Unpin() {
	runtimeProcUnpin()
}

//go:linkname runtimeProcPin runtime.procPin
func runtimeProcPin() int

//go:linkname runtimeProcUnpin runtime.procUnpin
func runtimeProcUnpin()
