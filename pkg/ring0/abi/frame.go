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

// Frame is the state pushed by the processor on interrupt delivery in 64-bit
// mode, lowest address first.
type Frame struct {
	RIP    uint64
	CS     uint64
	RFLAGS uint64
	RSP    uint64
	SS     uint64
}

// User returns true iff the interrupted code ran with a non-zero privilege
// level.
func (f *Frame) User() bool {
	return f.CS&3 != 0
}

// Frame32 is the 32-bit equivalent of Frame. ESP and SS are only pushed, and
// only meaningful, when the interrupt changed privilege level.
type Frame32 struct {
	EIP    uint32
	CS     uint32
	EFLAGS uint32
	ESP    uint32
	SS     uint32
}

// User returns true iff the interrupted code ran with a non-zero privilege
// level. When false, ESP and SS were not pushed.
func (f *Frame32) User() bool {
	return f.CS&3 != 0
}

// TrapFrame is the complete frame built by a 64-bit entry stub. Its address
// is the single argument passed to the dispatcher.
//
// The field order is fixed by Arch.SavedRegisters: registers are pushed in
// that order, so the last one pushed sits at the lowest address.
type TrapFrame struct {
	R15 uint64
	R14 uint64
	R13 uint64
	R12 uint64
	R11 uint64
	R10 uint64
	R9  uint64
	R8  uint64
	RBP uint64
	RDI uint64
	RSI uint64
	RDX uint64
	RCX uint64
	RBX uint64
	RAX uint64

	// Vector is pushed by the stub.
	Vector uint64

	// ErrorCode is pushed by the processor, or as zero by the stub for
	// vectors without one.
	ErrorCode uint64

	Frame
}

// TrapFrame32 is the complete frame built by a 32-bit entry stub.
type TrapFrame32 struct {
	EBP       uint32
	EDI       uint32
	ESI       uint32
	EDX       uint32
	ECX       uint32
	EBX       uint32
	EAX       uint32
	Vector    uint32
	ErrorCode uint32

	Frame32
}
