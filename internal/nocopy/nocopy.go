// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package nocopy provides the sentinel go vet uses to flag accidental
// copies of structs that embed a mutex or other non-copyable state.
package nocopy

type Guard struct{}

func (*Guard) Lock()   {}
func (*Guard) Unlock() {}
