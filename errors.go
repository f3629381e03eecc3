// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package mcpalloc

import "errors"

// Sentinel errors naming setup/misuse conditions. Allocation failure
// itself is never an error value — alloc returns nil, matching the
// never-throw-across-the-boundary policy. No function in this package
// returns any of these values.
var (
	// ErrAlreadyInitialized names a Create/Init on a resource that a
	// caller expected to be fresh. Init of the global dispatcher does
	// not return it: it is idempotent and returns nil instead.
	ErrAlreadyInitialized = errors.New("mcpalloc: already initialized")

	// ErrInvalidFree names a free whose header carries the pool magic
	// but whose pool_ref does not reference the pool asked to free it.
	// Free does not return it; a rejection by the owning pool
	// (blockpool.ErrInvalidFree) is only logged.
	ErrInvalidFree = errors.New("mcpalloc: invalid free: pool reference mismatch")

	// ErrAllocFailed names a pool creation that produced no block.
	// blockpool.Create never reports it.
	ErrAllocFailed = errors.New("mcpalloc: block allocation failed")
)
