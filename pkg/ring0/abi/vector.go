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

// Package abi describes the interrupt calling convention: how vectors are
// classified, what the processor pushes on delivery, and the mechanical
// prologue and epilogue that every entry stub follows.
//
// Nothing in this package executes privileged instructions. The entry stubs
// are produced from Plan by package entrygen, and Verify checks a Plan
// against a simulated stack before it is ever rendered.
package abi

import "fmt"

// Vector is an interrupt or exception vector.
//
// Vector is wider than the hardware vector so that out-of-range values can
// be represented, and rejected.
type Vector uint

// NumVectors is the number of IDT entries.
const NumVectors = 256

// Exception vectors.
const (
	DivideByZero Vector = iota
	Debug
	NMI
	Breakpoint
	Overflow
	BoundRangeExceeded
	InvalidOpcode
	DeviceNotAvailable
	DoubleFault
	CoprocessorSegmentOverrun
	InvalidTSS
	SegmentNotPresent
	StackSegmentFault
	GeneralProtectionFault
	PageFault
	_
	X87FloatingPointException
	AlignmentCheck
	MachineCheck
	SIMDFloatingPointException
	VirtualizationException
	ControlProtectionException
)

// Vectors past the contiguous block.
const (
	HypervisorInjectionException Vector = 28
	VMMCommunicationException    Vector = 29
	SecurityException            Vector = 30

	// FirstExternal is the first vector available for external and
	// software interrupts.
	FirstExternal Vector = 32

	// MaxVector is the last valid vector.
	MaxVector Vector = NumVectors - 1
)

var vectorNames = map[Vector]string{
	DivideByZero:                 "DivideByZero",
	Debug:                        "Debug",
	NMI:                          "NMI",
	Breakpoint:                   "Breakpoint",
	Overflow:                     "Overflow",
	BoundRangeExceeded:           "BoundRangeExceeded",
	InvalidOpcode:                "InvalidOpcode",
	DeviceNotAvailable:           "DeviceNotAvailable",
	DoubleFault:                  "DoubleFault",
	CoprocessorSegmentOverrun:    "CoprocessorSegmentOverrun",
	InvalidTSS:                   "InvalidTSS",
	SegmentNotPresent:            "SegmentNotPresent",
	StackSegmentFault:            "StackSegmentFault",
	GeneralProtectionFault:       "GeneralProtectionFault",
	PageFault:                    "PageFault",
	X87FloatingPointException:    "X87FloatingPointException",
	AlignmentCheck:               "AlignmentCheck",
	MachineCheck:                 "MachineCheck",
	SIMDFloatingPointException:   "SIMDFloatingPointException",
	VirtualizationException:      "VirtualizationException",
	ControlProtectionException:   "ControlProtectionException",
	HypervisorInjectionException: "HypervisorInjectionException",
	VMMCommunicationException:    "VMMCommunicationException",
	SecurityException:            "SecurityException",
}

// Valid returns true iff v names an IDT entry.
func (v Vector) Valid() bool {
	return v < NumVectors
}

// HasErrorCode returns true iff the processor pushes an error code when
// delivering v.
func (v Vector) HasErrorCode() bool {
	switch v {
	case DoubleFault,
		InvalidTSS,
		SegmentNotPresent,
		StackSegmentFault,
		GeneralProtectionFault,
		PageFault,
		AlignmentCheck,
		ControlProtectionException,
		VMMCommunicationException,
		SecurityException:
		return true
	default:
		return false
	}
}

// Reserved returns true iff v is an architecturally reserved exception.
func (v Vector) Reserved() bool {
	switch {
	case v == 15, v == 31:
		return true
	case v >= 22 && v <= 27:
		return true
	default:
		return false
	}
}

// External returns true iff v is available for external interrupts.
func (v Vector) External() bool {
	return v >= FirstExternal && v.Valid()
}

// String implements fmt.Stringer.
func (v Vector) String() string {
	if name, ok := vectorNames[v]; ok {
		return name
	}
	switch {
	case !v.Valid():
		return fmt.Sprintf("Vector(%d)", uint(v))
	case v.Reserved():
		return fmt.Sprintf("Reserved(%d)", uint(v))
	default:
		return fmt.Sprintf("Interrupt(%d)", uint(v))
	}
}

// CoreExceptions returns the exceptions any supported processor may raise on
// its own. A table that leaves one of these absent cannot be loaded safely.
func CoreExceptions() []Vector {
	return []Vector{
		DivideByZero,
		Debug,
		NMI,
		Breakpoint,
		Overflow,
		BoundRangeExceeded,
		InvalidOpcode,
		DeviceNotAvailable,
		DoubleFault,
		InvalidTSS,
		SegmentNotPresent,
		StackSegmentFault,
		GeneralProtectionFault,
		PageFault,
		X87FloatingPointException,
		AlignmentCheck,
		MachineCheck,
		SIMDFloatingPointException,
	}
}
