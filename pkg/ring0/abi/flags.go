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

import "strings"

// Flags is the value of the RFLAGS (or EFLAGS) register.
type Flags uint64

// Flag bits.
const (
	FlagCarry                   Flags = 1 << 0
	FlagReserved                Flags = 1 << 1 // Always set.
	FlagParity                  Flags = 1 << 2
	FlagAdjust                  Flags = 1 << 4
	FlagZero                    Flags = 1 << 6
	FlagSign                    Flags = 1 << 7
	FlagTrap                    Flags = 1 << 8
	FlagInterrupt               Flags = 1 << 9
	FlagDirection               Flags = 1 << 10
	FlagOverflow                Flags = 1 << 11
	FlagIOPL                    Flags = 3 << 12
	FlagNestedTask              Flags = 1 << 14
	FlagResume                  Flags = 1 << 16
	FlagVirtual8086             Flags = 1 << 17
	FlagAlignmentCheck          Flags = 1 << 18
	FlagVirtualInterrupt        Flags = 1 << 19
	FlagVirtualInterruptPending Flags = 1 << 20
	FlagID                      Flags = 1 << 21
)

const (
	// KernelFlagsSet should always be set in the kernel.
	KernelFlagsSet = FlagReserved

	// UserFlagsSet are always set in userspace.
	UserFlagsSet = FlagReserved | FlagInterrupt

	// KernelFlagsClear should always be clear in the kernel.
	KernelFlagsClear = FlagTrap | FlagInterrupt | FlagIOPL | FlagAlignmentCheck | FlagNestedTask

	// UserFlagsClear are always cleared in userspace.
	UserFlagsClear = FlagNestedTask | FlagIOPL
)

var flagNames = []struct {
	flag Flags
	name string
}{
	{FlagCarry, "CF"},
	{FlagParity, "PF"},
	{FlagAdjust, "AF"},
	{FlagZero, "ZF"},
	{FlagSign, "SF"},
	{FlagTrap, "TF"},
	{FlagInterrupt, "IF"},
	{FlagDirection, "DF"},
	{FlagOverflow, "OF"},
	{FlagNestedTask, "NT"},
	{FlagResume, "RF"},
	{FlagVirtual8086, "VM"},
	{FlagAlignmentCheck, "AC"},
	{FlagVirtualInterrupt, "VIF"},
	{FlagVirtualInterruptPending, "VIP"},
	{FlagID, "ID"},
}

// IOPL returns the I/O privilege level.
func (f Flags) IOPL() uint8 {
	return uint8(f>>12) & 3
}

// WithIOPL returns f with the I/O privilege level replaced.
func (f Flags) WithIOPL(level uint8) Flags {
	return f&^FlagIOPL | Flags(level&3)<<12
}

// String lists the set flags, e.g. "ZF|IF|IOPL=3".
func (f Flags) String() string {
	var parts []string
	for _, fn := range flagNames {
		if f&fn.flag != 0 {
			parts = append(parts, fn.name)
		}
	}
	if l := f.IOPL(); l != 0 {
		parts = append(parts, "IOPL="+string(rune('0'+l)))
	}
	if len(parts) == 0 {
		return "0"
	}
	return strings.Join(parts, "|")
}
