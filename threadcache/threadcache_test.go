// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package threadcache_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"code.hybscloud.com/mcpalloc"
	"code.hybscloud.com/mcpalloc/threadcache"
)

func TestHitPath(t *testing.T) {
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
	stats = threadcache.GetStats()
	require.Equal(t, 0, stats.SmallCount)
}

func TestUninitializedFallsThrough(t *testing.T) {
	require.NoError(t, mcpalloc.Init(8, 8, 8))
	defer mcpalloc.Shutdown()

	ptr := threadcache.Alloc(64)
	require.NotNil(t, ptr)
	threadcache.Free(ptr, 64)
}

func TestFreeNilIsNoop(t *testing.T) {
	require.NoError(t, mcpalloc.Init(8, 8, 8))
	defer mcpalloc.Shutdown()
	threadcache.Free(nil, 64)
}
