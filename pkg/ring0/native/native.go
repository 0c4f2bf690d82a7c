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

// Package native executes descriptor table instructions on the current
// processor.
//
// Most operations are privileged. They check the current privilege level
// first and return ErrNotPrivileged outside ring 0, so they are safe to call
// from an ordinary process. CPUID and Flags work at any privilege level.
package native

import (
	"errors"
	"fmt"
)

// ErrNotPrivileged is returned by privileged operations outside ring 0.
var ErrNotPrivileged = errors.New("not running in ring 0")

// Model specific registers.
const (
	MSREFER         = 0xc0000080
	MSRSTAR         = 0xc0000081
	MSRLSTAR        = 0xc0000082
	MSRSyscallMask  = 0xc0000084
	MSRFSBase       = 0xc0000100
	MSRGSBase       = 0xc0000101
	MSRKernelGSBase = 0xc0000102
)

// pseudoDescriptor is the packed memory operand of lgdt and lidt.
type pseudoDescriptor [10]byte

// VendorID returns the vendor string reported by CPUID leaf 0.
func VendorID() (string, error) {
	_, ebx, ecx, edx, err := CPUID(0, 0)
	if err != nil {
		return "", err
	}
	var b [12]byte
	for i, r := range []uint32{ebx, edx, ecx} {
		for j := 0; j < 4; j++ {
			b[i*4+j] = byte(r >> (8 * j))
		}
	}
	return string(b[:]), nil
}

func privileged(op string) error {
	pl, err := CurrentPrivilege()
	if err != nil {
		return err
	}
	if pl != 0 {
		return fmt.Errorf("%s at ring %d: %w", op, pl, ErrNotPrivileged)
	}
	return nil
}
