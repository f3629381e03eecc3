// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package mcpalloc implements a multi-tier memory allocator for
// MCP-style RPC/messaging runtimes: size-classed block pools, a global
// tier dispatcher, per-goroutine thread caches, typed object caches,
// bounded object pools, a memory-usage tracker, and a bump arena.
//
// # Layering
//
// Control flow is strictly layered, leaves-first:
//
//	atomics/alignment → block pool → dispatcher → thread cache →
//	object cache / object pool / arena → tracker (orthogonal)
//
// The root package owns the dispatcher: process-wide Small/Medium/Large
// block pools and the alloc/free routing between them. Everything above
// it lives in its own package:
//
//	blockpool   size-classed free-list pools with magic-tagged headers
//	threadcache per-goroutine LIFO caches in front of the class pools
//	objectcache typed per-goroutine caches with ctor/dtor hooks
//	objectpool  capped fixed-object-size pools with a micro-cache layer
//	tracker     pointer→record hash table, backtraces, leak dumps
//	arena       bump allocator backed by the thread cache
//
// # Usage pattern
//
//	mcpalloc.Init(256, 128, 32)      // or let Alloc lazy-init with defaults
//	ptr := mcpalloc.Alloc(128)
//	// ... use ptr ...
//	mcpalloc.Free(ptr)
//	mcpalloc.Shutdown()
//
// Higher layers route through the dispatcher on a cache miss rather
// than allocating from the fallback heap directly, so every layer's
// blocks remain ones mcpalloc.Free (or a thread cache's own flush) can
// recycle.
//
// # Concurrency
//
// Block pools, object pools, and the tracker are shared and
// mutex-guarded internally; they are safe to call from any goroutine.
// Thread caches and object caches are goroutine-local by construction —
// see the per-package documentation for how that locality is obtained
// without a language-native thread-local facility.
//
// # Dependencies
//
// mcpalloc depends on:
//   - code.hybscloud.com/iox: semantic error types (ErrWouldBlock)
//   - code.hybscloud.com/spin: spin-wait primitives for CAS retry loops
//   - go.uber.org/zap: structured logging, a no-op logger by default
//   - github.com/cespare/xxhash/v2: pointer and string-content hashing
//     in the tracker
package mcpalloc
