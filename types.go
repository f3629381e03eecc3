// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package mcpalloc

import "net"

// Buffers is an alias for net.Buffers, used by the arena to present a
// scoped allocation's live blocks as a single scatter/gather view without
// copying them into one contiguous slice.
type Buffers = net.Buffers
