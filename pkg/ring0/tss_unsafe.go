// Copyright 2026 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ring0

import "unsafe"

// Size returns the size of the structure in bytes.
func (t *TaskState64) Size() uintptr {
	return unsafe.Sizeof(*t)
}

// Addr returns the linear address of t.
func (t *TaskState64) Addr() uintptr {
	return uintptr(unsafe.Pointer(t))
}

// Size returns the size of the structure in bytes.
func (t *TaskState32) Size() uintptr {
	return unsafe.Sizeof(*t)
}

// Addr returns the linear address of t.
func (t *TaskState32) Addr() uintptr {
	return uintptr(unsafe.Pointer(t))
}

// stackAlign is the alignment of stack tops.
const stackAlign = 16

// StackTop returns the 16 byte aligned top of the stack in buf, or zero if
// buf is too small to hold an aligned word. The caller must keep buf alive
// and unmoved while any table refers to it.
func StackTop(buf []byte) uintptr {
	if len(buf) < stackAlign {
		return 0
	}
	start := uintptr(unsafe.Pointer(unsafe.SliceData(buf)))
	top := (start + uintptr(len(buf))) &^ (stackAlign - 1)
	if top <= start {
		return 0
	}
	return top
}
