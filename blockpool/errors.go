// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package blockpool

import "errors"

// ErrInvalidFree is returned by Free when userPtr's header carries the
// pool magic but references a different pool than the one asked to
// free it.
var ErrInvalidFree = errors.New("blockpool: invalid free: pool reference mismatch")
