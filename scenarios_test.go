// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package mcpalloc_test

import (
	"os"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"code.hybscloud.com/mcpalloc"
	"code.hybscloud.com/mcpalloc/objectpool"
	"code.hybscloud.com/mcpalloc/threadcache"
	"code.hybscloud.com/mcpalloc/tracker"
)

func asBytes(ptr unsafe.Pointer, size int) []byte {
	return unsafe.Slice((*byte)(ptr), size)
}

// Scenario A — basic lifecycle.
func TestScenarioABasicLifecycle(t *testing.T) {
	require.NoError(t, mcpalloc.Init(64, 32, 16))

	small := mcpalloc.Alloc(mcpalloc.SMALL)
	require.NotNil(t, small)
	mcpalloc.Free(small)

	mcpalloc.Shutdown()
	require.NoError(t, mcpalloc.Init(64, 32, 16))
	mcpalloc.Shutdown()
}

// Scenario B — round-trip within a class.
func TestScenarioBRoundTripWithinClass(t *testing.T) {
	require.NoError(t, mcpalloc.Init(64, 32, 16))
	defer mcpalloc.Shutdown()

	ptrs := make([]unsafe.Pointer, 500)
	for i := 0; i < 500; i++ {
		ptr := mcpalloc.Alloc(128)
		require.NotNil(t, ptr)
		buf := asBytes(ptr, 128)
		for j := range buf {
			buf[j] = byte(i & 0xFF)
		}
		ptrs[i] = ptr
	}
	for i := len(ptrs) - 1; i >= 0; i-- {
		mcpalloc.Free(ptrs[i])
	}
}

// Scenario C — mixed sizes and heap fallback.
func TestScenarioCMixedSizesAndHeapFallback(t *testing.T) {
	require.NoError(t, mcpalloc.Init(64, 32, 16))
	defer mcpalloc.Shutdown()
	require.NoError(t, tracker.Init(true, false))
	defer tracker.Cleanup()

	sizes := []int{128, 512, 2048, 8192}
	pre := tracker.GetStats().CurrentBytes
	for i := 0; i < 300; i++ {
		size := sizes[i%4]
		ptr := mcpalloc.Alloc(size)
		require.NotNil(t, ptr)
		buf := asBytes(ptr, size)
		for j := range buf {
			buf[j] = byte(i)
		}
		if size == 8192 {
			require.Equal(t, 0, mcpalloc.BlockSizeFor(ptr), "8192-byte allocation should bypass the pools")
		}
		tracker.RecordAlloc(ptr, size, "scenario_c.go", i)
		tracker.RecordFree(ptr)
		mcpalloc.Free(ptr)
	}
	post := tracker.GetStats().CurrentBytes
	peak := tracker.GetStats().PeakBytes
	require.Equal(t, pre, post)
	require.GreaterOrEqual(t, peak, int64(8192))
}

// Scenario D — thread-cache hit path.
func TestScenarioDThreadCacheHitPath(t *testing.T) {
	require.NoError(t, mcpalloc.Init(64, 32, 16))
	defer mcpalloc.Shutdown()
	require.NoError(t, threadcache.Init())
	defer threadcache.Cleanup()

	for i := 0; i < 1000; i++ {
		ptr := threadcache.Alloc(128)
		require.NotNil(t, ptr)
		threadcache.Free(ptr, 128)
	}

	stats := threadcache.GetStats()
	require.GreaterOrEqual(t, stats.Hits, int64(999))
	require.LessOrEqual(t, stats.MissSmall, int64(1))

	threadcache.Flush()
	require.Equal(t, 0, threadcache.GetStats().SmallCount)
}

// Scenario E — leak detection.
func TestScenarioELeakDetection(t *testing.T) {
	require.NoError(t, tracker.Init(true, false))
	defer tracker.Cleanup()

	buf := make([]byte, 1024)
	ptr := unsafe.Pointer(&buf[0])
	tracker.RecordAlloc(ptr, 1024, "x.c", 42)

	stats := tracker.GetStats()
	require.Equal(t, int64(1), stats.CurrentAllocations)
	require.Equal(t, int64(1024), stats.CurrentBytes)

	path := t.TempDir() + "/leaks.txt"
	require.NoError(t, tracker.DumpLeaks(path))
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(content), "1024 bytes, allocated at x.c:42")

	tracker.RecordFree(ptr)
	require.NoError(t, tracker.DumpLeaks(path))
	content, err = os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(content), "No memory leaks detected.")
}

// Scenario F — object pool with micro-cache.
func TestScenarioFObjectPoolWithMicroCache(t *testing.T) {
	type obj struct{ data [64]byte }
	p := objectpool.New[obj](16, 16)
	defer p.Destroy()

	acquired := make([]*obj, 16)
	for i := range acquired {
		acquired[i] = p.Acquire()
		require.NotNil(t, acquired[i])
	}
	for _, o := range acquired[:10] {
		p.Release(o)
	}
	for i := 0; i < 5; i++ {
		require.NotNil(t, p.Acquire())
	}

	stats := p.Stats()
	require.Equal(t, int64(11), stats.CurrentInUse)
	require.Equal(t, int64(16), stats.PeakInUse)
	require.GreaterOrEqual(t, stats.FreeObjects, 5)
}
