// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package mcpalloc

import "go.uber.org/zap"

// logger is the package-wide structured logger. It defaults to a no-op
// so importing this library never forces a logging dependency on
// callers that don't configure one, matching zap.NewNop() convention.
var logger = zap.NewNop()

// SetLogger installs l as the dispatcher's logger. Passing nil restores
// the no-op default. Sub-packages (blockpool, threadcache, objectcache,
// tracker) carry their own logger the same way; wire all of them to the
// same *zap.Logger for unified output.
func SetLogger(l *zap.Logger) {
	if l == nil {
		logger = zap.NewNop()
		return
	}
	logger = l
}
