// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package procpin_test

import (
	"testing"

	"code.hybscloud.com/mcpalloc/internal/procpin"
	"github.com/stretchr/testify/require"
)

func TestPinReturnsValidSlot(t *testing.T) {
	pid := procpin.Pin()
	defer procpin.Unpin()

	require.GreaterOrEqual(t, pid, 0)
	require.Less(t, pid, procpin.N())
}

func TestPinUnpinManyTimes(t *testing.T) {
	for range 1000 {
		pid := procpin.Pin()
		require.GreaterOrEqual(t, pid, 0)
		procpin.Unpin()
	}
}
