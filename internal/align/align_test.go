// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package align

import (
	"testing"
	"unsafe"
)

func TestBlocksAreCacheLineAligned(t *testing.T) {
	blocks := Blocks(8, 40)
	for i, b := range blocks {
		if len(b) != 40 {
			t.Fatalf("block %d: expected len 40, got %d", i, len(b))
		}
		addr := uintptr(unsafe.Pointer(unsafe.SliceData(b)))
		if addr%CacheLineSize != 0 {
			t.Fatalf("block %d not cache-line aligned: addr=%#x", i, addr)
		}
	}
}

func TestPadBytesRoundsToCacheLine(t *testing.T) {
	pad := PadBytes(10)
	if (10+pad)%CacheLineSize != 0 {
		t.Fatalf("10+%d should be a multiple of %d", pad, CacheLineSize)
	}
}
