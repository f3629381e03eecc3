// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package arena_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"code.hybscloud.com/mcpalloc"
	"code.hybscloud.com/mcpalloc/arena"
)

func TestAllocBumpsWithinBlock(t *testing.T) {
	require.NoError(t, mcpalloc.Init(8, 8, 8))
	defer mcpalloc.Shutdown()

	a := arena.New(0)
	defer a.Destroy()

	p1 := a.Alloc(16)
	p2 := a.Alloc(16)
	require.NotNil(t, p1)
	require.NotNil(t, p2)
	require.NotEqual(t, p1, p2)

	allocated, blockTotal, blockCount := a.Stats()
	require.Equal(t, 32, allocated)
	require.Equal(t, 1, blockCount)
	require.GreaterOrEqual(t, blockTotal, 32)
}

func TestResetKeepsBlocksAllocated(t *testing.T) {
	require.NoError(t, mcpalloc.Init(8, 8, 8))
	defer mcpalloc.Shutdown()

	a := arena.New(64)
	defer a.Destroy()
	a.Alloc(32)
	_, blockTotalBefore, blockCountBefore := a.Stats()

	a.Reset()
	allocated, blockTotal, blockCount := a.Stats()
	require.Equal(t, 0, allocated)
	require.Equal(t, blockTotalBefore, blockTotal)
	require.Equal(t, blockCountBefore, blockCount)
}

func TestLargeAllocationGrowsNewBlock(t *testing.T) {
	require.NoError(t, mcpalloc.Init(8, 8, 8))
	defer mcpalloc.Shutdown()

	a := arena.New(64)
	defer a.Destroy()
	p := a.Alloc(mcpalloc.LARGE + 1024)
	require.NotNil(t, p)

	_, blockTotal, blockCount := a.Stats()
	require.Equal(t, 1, blockCount)
	require.GreaterOrEqual(t, blockTotal, mcpalloc.LARGE+1024)
}

func TestGetCurrentReturnsSameArenaPerGoroutine(t *testing.T) {
	require.NoError(t, mcpalloc.Init(8, 8, 8))
	defer mcpalloc.Shutdown()
	defer arena.DestroyCurrent()

	a1 := arena.GetCurrent()
	a2 := arena.GetCurrent()
	require.True(t, a1 == a2)
}
