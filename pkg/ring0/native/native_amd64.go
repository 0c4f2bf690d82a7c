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

//go:build amd64
// +build amd64

package native

import (
	"encoding/binary"
	"fmt"

	"gvisor.dev/x86/pkg/log"
	"gvisor.dev/x86/pkg/ring0"
	"gvisor.dev/x86/pkg/ring0/abi"
)

// Supported is true if this architecture has native operations.
const Supported = true

// lgdt loads the GDT register from desc.
func lgdt(desc *pseudoDescriptor)

// lidt loads the IDT register from desc.
func lidt(desc *pseudoDescriptor)

// ltr loads the task register.
func ltr(sel uint16)

// loadCS reloads CS with a far return.
func loadCS(sel uint16)

// loadDS loads DS.
func loadDS(sel uint16)

// loadES loads ES.
func loadES(sel uint16)

// loadFS loads FS.
func loadFS(sel uint16)

// loadGS loads GS.
func loadGS(sel uint16)

// loadSS loads SS.
func loadSS(sel uint16)

// readCS reads the current CS selector.
func readCS() uint16

// rdmsr reads a model specific register.
func rdmsr(reg uint32) uint64

// wrmsr writes a model specific register.
func wrmsr(reg uint32, value uint64)

// cpuid executes CPUID.
func cpuid(leaf, subleaf uint32) (eax, ebx, ecx, edx uint32)

// inb reads a byte from an I/O port.
func inb(port uint16) uint8

// outb writes a byte to an I/O port.
func outb(port uint16, value uint8)

// invlpg invalidates the TLB entry for addr.
func invlpg(addr uintptr)

// readFlags reads RFLAGS.
func readFlags() uint64

func newPseudoDescriptor(r ring0.TableRegister) pseudoDescriptor {
	var d pseudoDescriptor
	binary.LittleEndian.PutUint16(d[0:2], r.Limit)
	binary.LittleEndian.PutUint64(d[2:10], r.Base)
	return d
}

// CurrentPrivilege returns the requested privilege level of CS.
func CurrentPrivilege() (ring0.PrivilegeLevel, error) {
	return ring0.Selector(readCS()).RPL(), nil
}

// CPUID executes CPUID with the given leaf and subleaf.
func CPUID(leaf, subleaf uint32) (eax, ebx, ecx, edx uint32, err error) {
	eax, ebx, ecx, edx = cpuid(leaf, subleaf)
	return
}

// Flags returns the current flags register.
func Flags() (abi.Flags, error) {
	return abi.Flags(readFlags()), nil
}

// ReadMSR reads a model specific register.
func ReadMSR(reg uint32) (uint64, error) {
	if err := privileged("rdmsr"); err != nil {
		return 0, err
	}
	return rdmsr(reg), nil
}

// WriteMSR writes a model specific register.
func WriteMSR(reg uint32, value uint64) error {
	if err := privileged("wrmsr"); err != nil {
		return err
	}
	wrmsr(reg, value)
	return nil
}

// InByte reads a byte from port.
func InByte(port uint16) (uint8, error) {
	if err := privileged("in"); err != nil {
		return 0, err
	}
	return inb(port), nil
}

// OutByte writes value to port.
func OutByte(port uint16, value uint8) error {
	if err := privileged("out"); err != nil {
		return err
	}
	outb(port, value)
	return nil
}

// Invalidate flushes the TLB entry for addr.
func Invalidate(addr uintptr) error {
	if err := privileged("invlpg"); err != nil {
		return err
	}
	invlpg(addr)
	return nil
}

// Loader is a ring0.Loader that executes the instructions directly.
//
// The zero value is ready to use.
type Loader struct{}

// LoadGDT implements ring0.Loader.LoadGDT.
func (Loader) LoadGDT(r ring0.TableRegister) error {
	if err := privileged("lgdt"); err != nil {
		return err
	}
	d := newPseudoDescriptor(r)
	lgdt(&d)
	log.Debugf("lgdt %v", r)
	return nil
}

// LoadIDT implements ring0.Loader.LoadIDT.
func (Loader) LoadIDT(r ring0.TableRegister) error {
	if err := privileged("lidt"); err != nil {
		return err
	}
	d := newPseudoDescriptor(r)
	lidt(&d)
	log.Debugf("lidt %v", r)
	return nil
}

// LoadTaskRegister implements ring0.Loader.LoadTaskRegister.
func (Loader) LoadTaskRegister(sel ring0.Selector, _ ring0.TaskSegment) error {
	if err := privileged("ltr"); err != nil {
		return err
	}
	ltr(uint16(sel))
	log.Debugf("ltr %v", sel)
	return nil
}

// LoadSegment implements ring0.Loader.LoadSegment.
func (Loader) LoadSegment(reg ring0.SegmentRegister, sel ring0.Selector, _ ring0.Descriptor) error {
	if err := privileged("mov"); err != nil {
		return err
	}
	s := uint16(sel)
	switch reg {
	case ring0.CS:
		loadCS(s)
	case ring0.DS:
		loadDS(s)
	case ring0.ES:
		loadES(s)
	case ring0.FS:
		loadFS(s)
	case ring0.GS:
		loadGS(s)
	case ring0.SS:
		loadSS(s)
	default:
		return fmt.Errorf("unknown segment register %v", reg)
	}
	log.Debugf("mov %v, %v", reg, sel)
	return nil
}
