// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package objectpool_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"code.hybscloud.com/mcpalloc/objectpool"
)

type widget struct {
	a, b int64
}

func TestMicroCacheLifecycle(t *testing.T) {
	p := objectpool.New[widget](16, 16)
	defer p.Destroy()

	acquired := make([]*widget, 0, 16)
	for i := 0; i < 16; i++ {
		obj := p.Acquire()
		require.NotNil(t, obj)
		acquired = append(acquired, obj)
	}
	require.Nil(t, p.Acquire(), "pool at max_capacity should return nil")

	for _, obj := range acquired[:10] {
		p.Release(obj)
	}
	for i := 0; i < 5; i++ {
		require.NotNil(t, p.Acquire())
	}

	stats := p.Stats()
	require.Equal(t, int64(11), stats.CurrentInUse)
	require.Equal(t, int64(16), stats.PeakInUse)
	require.GreaterOrEqual(t, stats.FreeObjects, 5)
}

func TestSlabPointersSurviveGrowthBeyondInitialCapacity(t *testing.T) {
	p := objectpool.New[widget](2, 0)
	defer p.Destroy()

	first := p.Acquire()
	first.a = 42
	second := p.Acquire()
	third := p.Acquire() // forces growth past the 2-object slab

	require.NotNil(t, third)
	require.Equal(t, int64(42), first.a, "growth must not relocate previously issued pointers")
	_ = second
}

func TestNonPowerOfTwoInitialCapacity(t *testing.T) {
	p := objectpool.New[widget](10, 10)
	defer p.Destroy()

	acquired := make([]*widget, 0, 10)
	for i := 0; i < 10; i++ {
		obj := p.Acquire()
		require.NotNil(t, obj, "slab index must stay within the 10-object backing array")
		acquired = append(acquired, obj)
	}
	require.Nil(t, p.Acquire(), "pool at max_capacity should return nil, not panic")

	for _, obj := range acquired {
		p.Release(obj)
	}
	stats := p.Stats()
	require.Equal(t, int64(0), stats.CurrentInUse)
	require.Equal(t, 10, stats.FreeObjects)
}

func TestDestroyDrainsMicroCache(t *testing.T) {
	p := objectpool.New[widget](4, 4)
	obj := p.Acquire()
	p.Release(obj)
	p.Destroy()
}
