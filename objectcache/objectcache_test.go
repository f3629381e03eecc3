// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package objectcache_test

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"code.hybscloud.com/mcpalloc"
	"code.hybscloud.com/mcpalloc/objectcache"
)

func TestCtorDtorSymmetry(t *testing.T) {
	require.NoError(t, mcpalloc.Init(8, 8, 8))
	defer mcpalloc.Shutdown()
	require.NoError(t, objectcache.SystemInit())
	defer objectcache.SystemShutdown()

	constructed, destructed := 0, 0
	require.NoError(t, objectcache.RegisterType(objectcache.CustomSlot0,
		func(unsafe.Pointer) { constructed++ },
		func(unsafe.Pointer) { destructed++ },
	))

	ptr := objectcache.Alloc(objectcache.CustomSlot0, 64)
	require.NotNil(t, ptr)
	require.Equal(t, 1, constructed)
	require.Equal(t, 0, destructed)

	objectcache.Free(objectcache.CustomSlot0, ptr, 64)
	require.Equal(t, 1, destructed)

	ptr2 := objectcache.Alloc(objectcache.CustomSlot0, 64)
	require.Equal(t, 2, constructed)
	objectcache.Free(objectcache.CustomSlot0, ptr2, 64)
	require.Equal(t, 2, destructed)
}

func TestRegisterTypeRejectsNonCustomSlots(t *testing.T) {
	err := objectcache.RegisterType(objectcache.Generic, nil, nil)
	require.ErrorIs(t, err, objectcache.ErrNotCustomSlot)
}

func TestFlushDrainsStack(t *testing.T) {
	require.NoError(t, mcpalloc.Init(8, 8, 8))
	defer mcpalloc.Shutdown()
	require.NoError(t, objectcache.SystemInit())
	defer objectcache.SystemShutdown()

	ptrs := make([]unsafe.Pointer, 0, 20)
	for i := 0; i < 20; i++ {
		ptrs = append(ptrs, objectcache.Alloc(objectcache.Generic, 32))
	}
	for _, p := range ptrs {
		objectcache.Free(objectcache.Generic, p, 32)
	}
	stats := objectcache.GetStats(objectcache.Generic)
	require.Greater(t, stats.Count, 0)

	objectcache.Flush(objectcache.Generic)
	stats = objectcache.GetStats(objectcache.Generic)
	require.Equal(t, 0, stats.Count)
}
