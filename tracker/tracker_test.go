// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tracker_test

import (
	"os"
	"strings"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"code.hybscloud.com/mcpalloc/tracker"
)

func TestLeakDetection(t *testing.T) {
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
	require.Equal(t, 1, strings.Count(string(content), "Leak: "))

	tracker.RecordFree(ptr)
	require.NoError(t, tracker.DumpLeaks(path))
	content, err = os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(content), "No memory leaks detected.")
}

func TestRecordFreeOnUntrackedPointerStillCounts(t *testing.T) {
	require.NoError(t, tracker.Init(true, false))
	defer tracker.Cleanup()

	var x int
	tracker.RecordFree(unsafe.Pointer(&x))
	stats := tracker.GetStats()
	require.Equal(t, uint64(1), stats.TotalFrees)
}

func TestLimit(t *testing.T) {
	require.NoError(t, tracker.Init(false, false))
	defer tracker.Cleanup()

	tracker.SetLimit(1000)
	require.False(t, tracker.WouldExceedLimit(500))

	var x int
	tracker.RecordAlloc(unsafe.Pointer(&x), 900, "y.c", 1)
	require.True(t, tracker.WouldExceedLimit(200))
}

func TestInitIdempotent(t *testing.T) {
	require.NoError(t, tracker.Init(true, false))
	defer tracker.Cleanup()
	require.NoError(t, tracker.Init(true, false))
}
