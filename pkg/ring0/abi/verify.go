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

import "fmt"

// Sentinel values used by the simulator.
const (
	stackTop       = 0x100000
	hwErrorCode    = 0xec0de
	scrambledValue = 0xdeadbeef
	frameSentinel  = 0xf00d0000
	regSentinel    = 0x5a5a0000
)

// machine is a word-addressed stack and register file.
type machine struct {
	arch  Arch
	word  uint64
	sp    uint64
	mem   map[uint64]uint64
	regs  map[Register]uint64
	limit uint64 // Lowest address of the hardware frame.
}

func (m *machine) push(v uint64) {
	m.sp -= m.word
	m.mem[m.sp] = v
}

func (m *machine) pop() (uint64, error) {
	if m.sp >= m.limit {
		return 0, fmt.Errorf("%w: pop at %#x reaches the processor frame", ErrUnbalanced, m.sp)
	}
	v := m.mem[m.sp]
	m.sp += m.word
	return v, nil
}

func (m *machine) valid(r Register) bool {
	return m.arch.RegisterOffset(r) >= 0
}

// Verify simulates delivery of p.Vector, runs p, and checks the return from
// interrupt. privilegeChange selects whether the processor switched stacks,
// which only alters the frame in the 32-bit configuration.
//
// Verify returns ErrUnbalanced if the stack pointer is not at the processor
// frame when the plan returns (or the plan never returns), ErrFrameLayout if
// the dispatcher does not receive a TrapFrame, and ErrClobbered if any
// register differs from its value on entry.
func Verify(p Plan, privilegeChange bool) error {
	if !p.Vector.Valid() {
		return fmt.Errorf("%w: %d", ErrVectorOutOfRange, uint(p.Vector))
	}
	m := &machine{
		arch: p.Arch,
		word: uint64(p.Arch.WordSize()),
		sp:   stackTop,
		mem:  make(map[uint64]uint64),
		regs: make(map[Register]uint64),
	}
	saved := p.Arch.SavedRegisters()
	for _, r := range saved {
		m.regs[r] = regSentinel + uint64(r)
	}

	// Hardware delivery, highest address first.
	hw := p.Arch.HardwareFrameWords(privilegeChange)
	for i := hw - 1; i >= 0; i-- {
		m.push(frameSentinel + uint64(i))
	}
	m.limit = m.sp
	if p.Vector.HasErrorCode() {
		m.push(hwErrorCode)
	}

	var (
		called   bool
		returned bool
	)
	for i, o := range p.Ops {
		if returned {
			return fmt.Errorf("%w: step %d (%v) after iret", ErrUnbalanced, i, o)
		}
		switch o.Code {
		case OpPushImm:
			m.push(o.Imm)
		case OpPushReg:
			if !m.valid(o.Reg) {
				return fmt.Errorf("%w: step %d pushes %v, not available on %v", ErrFrameLayout, i, o.Reg, p.Arch)
			}
			m.push(m.regs[o.Reg])
		case OpPopReg:
			if !m.valid(o.Reg) {
				return fmt.Errorf("%w: step %d pops %v, not available on %v", ErrFrameLayout, i, o.Reg, p.Arch)
			}
			v, err := m.pop()
			if err != nil {
				return fmt.Errorf("step %d: %w", i, err)
			}
			m.regs[o.Reg] = v
		case OpPushFrame:
			frame := m.sp
			m.regs[RAX] = scrambledValue
			m.push(frame)
		case OpCall:
			if err := checkFrame(m, p); err != nil {
				return fmt.Errorf("step %d: %w", i, err)
			}
			for _, r := range saved {
				m.regs[r] = scrambledValue + uint64(r)
			}
			called = true
		case OpAddSP:
			m.sp += o.Imm * m.word
			if m.sp > m.limit {
				return fmt.Errorf("%w: step %d discards %d bytes of the processor frame", ErrUnbalanced, i, m.sp-m.limit)
			}
		case OpIRet:
			if m.sp != m.limit {
				return fmt.Errorf("%w: iret with stack pointer %d bytes from the processor frame", ErrUnbalanced, int64(m.limit)-int64(m.sp))
			}
			m.sp += uint64(hw) * m.word
			returned = true
		default:
			return fmt.Errorf("%w: unknown step %v", ErrFrameLayout, o)
		}
	}
	if !returned {
		return fmt.Errorf("%w: plan does not return from the interrupt", ErrUnbalanced)
	}
	if !called {
		return fmt.Errorf("%w: dispatcher never called", ErrFrameLayout)
	}
	for _, r := range saved {
		if got, want := m.regs[r], regSentinel+uint64(r); got != want {
			return fmt.Errorf("%w: %s is %#x on return, want %#x", ErrClobbered, p.Arch.Name(r), got, want)
		}
	}
	return nil
}

// checkFrame checks the memory at the dispatcher's argument against
// TrapFrame.
func checkFrame(m *machine, p Plan) error {
	frame := m.mem[m.sp]
	if frame != m.sp+m.word {
		return fmt.Errorf("%w: argument %#x does not address the saved registers at %#x", ErrFrameLayout, frame, m.sp+m.word)
	}
	for _, r := range p.Arch.SavedRegisters() {
		off := uint64(p.Arch.RegisterOffset(r))
		if got, want := m.mem[frame+off], regSentinel+uint64(r); got != want {
			return fmt.Errorf("%w: %s at offset %d holds %#x, want %#x", ErrFrameLayout, p.Arch.Name(r), off, got, want)
		}
	}
	if got := m.mem[frame+uint64(p.Arch.VectorOffset())]; got != uint64(p.Vector) {
		return fmt.Errorf("%w: vector slot holds %#x, want %d", ErrFrameLayout, got, uint(p.Vector))
	}
	wantCode := uint64(0)
	if p.Vector.HasErrorCode() {
		wantCode = hwErrorCode
	}
	if got := m.mem[frame+uint64(p.Arch.ErrorCodeOffset())]; got != wantCode {
		return fmt.Errorf("%w: error code slot holds %#x, want %#x", ErrFrameLayout, got, wantCode)
	}
	if got := m.mem[frame+uint64(p.Arch.HardwareFrameOffset())]; got != frameSentinel {
		return fmt.Errorf("%w: processor frame not at offset %d", ErrFrameLayout, p.Arch.HardwareFrameOffset())
	}
	return nil
}
