// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package blockpool

import (
	"sync"
	"testing"
	"unsafe"
)

func TestCreateStats(t *testing.T) {
	p, err := Create(128, 64, 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	s := p.Stats()
	if s.TotalBlocks != 64 || s.FreeBlocks != 64 || s.InUse != 0 || s.PeakInUse != 0 {
		t.Fatalf("unexpected initial stats: %+v", s)
	}
}

func TestAllocFreeRoundTrip(t *testing.T) {
	p, err := Create(128, 64, 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	ptrs := make([]unsafe.Pointer, 0, 500)
	for i := 0; i < 500; i++ {
		ptr := p.Alloc()
		if ptr == nil {
			t.Fatalf("alloc %d returned nil", i)
		}
		ptrs = append(ptrs, ptr)
	}
	s := p.Stats()
	if s.InUse != 500 {
		t.Fatalf("expected 500 in use, got %d", s.InUse)
	}
	if s.TotalBlocks < 500 {
		t.Fatalf("expected pool to grow past initial 64, got total=%d", s.TotalBlocks)
	}

	for i := len(ptrs) - 1; i >= 0; i-- {
		if err := p.Free(ptrs[i]); err != nil {
			t.Fatalf("free %d: %v", i, err)
		}
	}
	s = p.Stats()
	if s.InUse != 0 {
		t.Fatalf("expected 0 in use after freeing all, got %d", s.InUse)
	}
	if s.PeakInUse < 500 {
		t.Fatalf("expected peak_in_use >= 500, got %d", s.PeakInUse)
	}
}

func TestBoundedPoolExhaustion(t *testing.T) {
	p, err := Create(64, 4, 4)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	for i := 0; i < 4; i++ {
		if p.Alloc() == nil {
			t.Fatalf("alloc %d unexpectedly failed", i)
		}
	}
	if ptr := p.Alloc(); ptr != nil {
		t.Fatalf("expected nil once at max_blocks, got non-nil")
	}
}

func TestFreeNilIsNoop(t *testing.T) {
	p, err := Create(64, 1, 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := p.Free(nil); err != nil {
		t.Fatalf("Free(nil) should be a no-op, got %v", err)
	}
}

func TestInvalidFreeMismatchedPool(t *testing.T) {
	a, _ := Create(64, 1, 0)
	b, _ := Create(64, 1, 0)
	ptr := a.Alloc()
	if err := b.Free(ptr); err == nil {
		t.Fatalf("expected ErrInvalidFree when freeing with the wrong pool")
	}
}

func TestConcurrentAllocFree(t *testing.T) {
	p, err := Create(64, 256, 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				ptr := p.Alloc()
				if ptr == nil {
					t.Errorf("alloc returned nil under concurrency")
					return
				}
				if err := p.Free(ptr); err != nil {
					t.Errorf("free: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()
	s := p.Stats()
	if s.InUse != 0 {
		t.Fatalf("expected 0 in use after concurrent round-trips, got %d", s.InUse)
	}
}

