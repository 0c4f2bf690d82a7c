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

//go:build !amd64
// +build !amd64

package native

import (
	"errors"

	"gvisor.dev/x86/pkg/ring0"
	"gvisor.dev/x86/pkg/ring0/abi"
)

// Supported is true if this architecture has native operations.
const Supported = false

// CurrentPrivilege returns the requested privilege level of CS.
func CurrentPrivilege() (ring0.PrivilegeLevel, error) {
	return 0, errors.ErrUnsupported
}

// CPUID executes CPUID with the given leaf and subleaf.
func CPUID(leaf, subleaf uint32) (eax, ebx, ecx, edx uint32, err error) {
	return 0, 0, 0, 0, errors.ErrUnsupported
}

// Flags returns the current flags register.
func Flags() (abi.Flags, error) {
	return 0, errors.ErrUnsupported
}

// ReadMSR reads a model specific register.
func ReadMSR(reg uint32) (uint64, error) {
	return 0, errors.ErrUnsupported
}

// WriteMSR writes a model specific register.
func WriteMSR(reg uint32, value uint64) error {
	return errors.ErrUnsupported
}

// InByte reads a byte from port.
func InByte(port uint16) (uint8, error) {
	return 0, errors.ErrUnsupported
}

// OutByte writes value to port.
func OutByte(port uint16, value uint8) error {
	return errors.ErrUnsupported
}

// Invalidate flushes the TLB entry for addr.
func Invalidate(addr uintptr) error {
	return errors.ErrUnsupported
}

// Loader is a ring0.Loader that fails every operation.
type Loader struct{}

// LoadGDT implements ring0.Loader.LoadGDT.
func (Loader) LoadGDT(ring0.TableRegister) error { return errors.ErrUnsupported }

// LoadIDT implements ring0.Loader.LoadIDT.
func (Loader) LoadIDT(ring0.TableRegister) error { return errors.ErrUnsupported }

// LoadTaskRegister implements ring0.Loader.LoadTaskRegister.
func (Loader) LoadTaskRegister(ring0.Selector, ring0.TaskSegment) error {
	return errors.ErrUnsupported
}

// LoadSegment implements ring0.Loader.LoadSegment.
func (Loader) LoadSegment(ring0.SegmentRegister, ring0.Selector, ring0.Descriptor) error {
	return errors.ErrUnsupported
}
