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

// OpCode is a single step of an entry stub.
type OpCode uint8

// Entry stub steps.
const (
	// OpPushImm pushes Op.Imm.
	OpPushImm OpCode = iota

	// OpPushReg pushes Op.Reg.
	OpPushReg

	// OpPopReg pops into Op.Reg.
	OpPopReg

	// OpPushFrame pushes the current stack pointer, which is the address
	// of the trap frame. It uses RAX as scratch.
	OpPushFrame

	// OpCall calls the dispatcher.
	OpCall

	// OpAddSP discards Op.Imm words.
	OpAddSP

	// OpIRet returns from the interrupt.
	OpIRet
)

// Op is one step of a Plan.
type Op struct {
	Code OpCode
	Reg  Register
	Imm  uint64
}

// String implements fmt.Stringer.
func (o Op) String() string {
	switch o.Code {
	case OpPushImm:
		return fmt.Sprintf("push $%d", o.Imm)
	case OpPushReg:
		return "push " + o.Reg.String()
	case OpPopReg:
		return "pop " + o.Reg.String()
	case OpPushFrame:
		return "push frame"
	case OpCall:
		return "call dispatch"
	case OpAddSP:
		return fmt.Sprintf("drop %d", o.Imm)
	case OpIRet:
		return "iret"
	default:
		return fmt.Sprintf("OpCode(%d)", uint8(o.Code))
	}
}

// Plan is the complete instruction sequence of one entry stub.
type Plan struct {
	Arch   Arch
	Vector Vector
	Kind   Kind
	Ops    []Op
}

// NewPlan returns the entry stub for v on a.
//
// The stub pushes a zero error code when the processor does not push one,
// pushes the vector, saves every general purpose register, passes the
// address of the resulting TrapFrame to the dispatcher and unwinds in exact
// reverse order before returning from the interrupt.
func NewPlan(a Arch, v Vector) (Plan, error) {
	if !v.Valid() {
		return Plan{}, fmt.Errorf("%w: %d", ErrVectorOutOfRange, uint(v))
	}
	if a != AMD64 && a != I386 {
		return Plan{}, fmt.Errorf("unsupported architecture %v", a)
	}
	p := Plan{
		Arch:   a,
		Vector: v,
		Kind:   KindOf(v),
	}
	if p.Kind == NoErrorCode {
		p.Ops = append(p.Ops, Op{Code: OpPushImm, Imm: 0})
	}
	p.Ops = append(p.Ops, Op{Code: OpPushImm, Imm: uint64(v)})
	saved := a.SavedRegisters()
	for _, r := range saved {
		p.Ops = append(p.Ops, Op{Code: OpPushReg, Reg: r})
	}
	p.Ops = append(p.Ops,
		Op{Code: OpPushFrame},
		Op{Code: OpCall},
		Op{Code: OpAddSP, Imm: 1})
	for i := len(saved) - 1; i >= 0; i-- {
		p.Ops = append(p.Ops, Op{Code: OpPopReg, Reg: saved[i]})
	}
	p.Ops = append(p.Ops,
		Op{Code: OpAddSP, Imm: 2},
		Op{Code: OpIRet})
	return p, nil
}

// String renders the plan one step per line.
func (p Plan) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%v %v (%v):\n", p.Arch, p.Vector, p.Kind)
	for _, o := range p.Ops {
		fmt.Fprintf(&b, "\t%v\n", o)
	}
	return b.String()
}
