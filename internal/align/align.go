// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package align provides cache-line-size constants and helpers for carving
// contiguous slabs into false-sharing-safe blocks.
package align

import "unsafe"

// Blocks returns n cache-line-aligned byte slices of blockSize, all backed
// by a single contiguous allocation. Adjacent blocks start on separate
// cache lines so that concurrent writers to neighboring blocks (e.g. two
// goroutines populating two block-pool entries carved from the same slab)
// never share a cache line.
//
// Panics if n < 1 or blockSize < 1.
func Blocks(n, blockSize int) [][]byte {
	if n < 1 || blockSize < 1 {
		panic("align: invalid block count or size")
	}
	const alignment = uintptr(CacheLineSize)
	alignedSize := (uintptr(blockSize) + alignment - 1) / alignment * alignment
	backing := make([]byte, int(alignedSize)*n+int(alignment)-1)
	base := unsafe.Pointer(unsafe.SliceData(backing))
	offset := ((uintptr(base)+alignment-1)/alignment)*alignment - uintptr(base)

	blocks := make([][]byte, n)
	for i := range n {
		start := offset + uintptr(i)*alignedSize
		blocks[i] = unsafe.Slice((*byte)(unsafe.Add(base, start)), blockSize)
	}
	return blocks
}

// PadBytes returns the number of trailing padding bytes a struct of size
// used needs to round up to a whole number of cache lines, for use in a
// fixed-size `_ [align.PadBytes(n)]byte` struct field.
func PadBytes(used uintptr) uintptr {
	if used >= CacheLineSize {
		return CacheLineSize - used%CacheLineSize
	}
	return CacheLineSize - used
}
