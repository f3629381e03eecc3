// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build race

package mcpalloc_test

// raceEnabled is true when the race detector is active. No test in this
// package reads it; every scenario test also runs in race mode.
const raceEnabled = true
