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

package abi

import (
	"fmt"
	"strings"
)

// Arch selects the instruction set an entry stub is generated for.
type Arch uint8

const (
	// AMD64 is the 64-bit configuration.
	AMD64 Arch = iota

	// I386 is the 32-bit protected mode configuration.
	I386
)

// ParseArch parses a GOARCH style name.
func ParseArch(s string) (Arch, error) {
	switch strings.ToLower(s) {
	case "amd64", "x86_64", "x86-64":
		return AMD64, nil
	case "386", "i386", "x86":
		return I386, nil
	default:
		return 0, fmt.Errorf("unknown architecture %q", s)
	}
}

// String returns the GOARCH name.
func (a Arch) String() string {
	switch a {
	case AMD64:
		return "amd64"
	case I386:
		return "386"
	default:
		return fmt.Sprintf("Arch(%d)", uint8(a))
	}
}

// WordSize is the size of a stack slot in bytes.
func (a Arch) WordSize() int {
	if a == I386 {
		return 4
	}
	return 8
}

// Register is a general purpose register.
type Register uint8

// General purpose registers. The 32-bit configuration uses the first seven
// under their E-prefixed names.
const (
	RAX Register = iota
	RBX
	RCX
	RDX
	RSI
	RDI
	RBP
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
	RSP
)

var registerNames = [...]string{
	"rax", "rbx", "rcx", "rdx", "rsi", "rdi", "rbp",
	"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15",
	"rsp",
}

var asmNames = [...]string{
	"AX", "BX", "CX", "DX", "SI", "DI", "BP",
	"R8", "R9", "R10", "R11", "R12", "R13", "R14", "R15",
	"SP",
}

// String implements fmt.Stringer.
func (r Register) String() string {
	if int(r) < len(registerNames) {
		return registerNames[r]
	}
	return fmt.Sprintf("Register(%d)", uint8(r))
}

// AsmName returns the Go assembler name, which is shared by both
// configurations.
func (r Register) AsmName() string {
	if int(r) < len(asmNames) {
		return asmNames[r]
	}
	return r.String()
}

// Name returns the register's name on a.
func (a Arch) Name(r Register) string {
	if a == I386 && r <= RBP {
		return "e" + registerNames[r][1:]
	}
	if a == I386 && r == RSP {
		return "esp"
	}
	return r.String()
}

var (
	amd64Saved = []Register{RAX, RBX, RCX, RDX, RSI, RDI, RBP, R8, R9, R10, R11, R12, R13, R14, R15}
	i386Saved  = []Register{RAX, RBX, RCX, RDX, RSI, RDI, RBP}
)

// SavedRegisters returns every general purpose register other than the stack
// pointer, in the order entry stubs push them.
func (a Arch) SavedRegisters() []Register {
	if a == I386 {
		return append([]Register(nil), i386Saved...)
	}
	return append([]Register(nil), amd64Saved...)
}

// HardwareFrameWords is the number of words the processor pushes before any
// error code. In 64-bit mode SS:RSP is always pushed; in 32-bit mode only on
// a change of privilege level.
func (a Arch) HardwareFrameWords(privilegeChange bool) int {
	if a == I386 && !privilegeChange {
		return 3
	}
	return 5
}

// Offsets within the frame passed to the dispatcher. The frame starts at the
// last saved register.

// RegisterOffset returns the offset of r in the trap frame, or -1 if r is not
// saved on a.
func (a Arch) RegisterOffset(r Register) int {
	saved := amd64Saved
	if a == I386 {
		saved = i386Saved
	}
	for i, s := range saved {
		if s == r {
			return (len(saved) - 1 - i) * a.WordSize()
		}
	}
	return -1
}

func (a Arch) savedCount() int {
	if a == I386 {
		return len(i386Saved)
	}
	return len(amd64Saved)
}

// VectorOffset returns the offset of the vector number in the trap frame.
func (a Arch) VectorOffset() int {
	return a.savedCount() * a.WordSize()
}

// ErrorCodeOffset returns the offset of the error code in the trap frame.
func (a Arch) ErrorCodeOffset() int {
	return (a.savedCount() + 1) * a.WordSize()
}

// HardwareFrameOffset returns the offset of the processor pushed frame.
func (a Arch) HardwareFrameOffset() int {
	return (a.savedCount() + 2) * a.WordSize()
}
