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

import "fmt"

// MaxInterruptStack is the largest interrupt stack table index.
const MaxInterruptStack = 7

// TaskState64 is a 64-bit task state structure.
type TaskState64 struct {
	_              uint32
	rsp0Lo, rsp0Hi uint32
	rsp1Lo, rsp1Hi uint32
	rsp2Lo, rsp2Hi uint32
	_              [2]uint32
	ist1Lo, ist1Hi uint32
	ist2Lo, ist2Hi uint32
	ist3Lo, ist3Hi uint32
	ist4Lo, ist4Hi uint32
	ist5Lo, ist5Hi uint32
	ist6Lo, ist6Hi uint32
	ist7Lo, ist7Hi uint32
	_              [2]uint32
	_              uint16
	ioPerm         uint16
}

// NewTaskState64 returns a task state with no stacks and every I/O port
// blocked.
func NewTaskState64() *TaskState64 {
	t := new(TaskState64)

	// Set the I/O bitmap base address beyond the last byte in the TSS
	// to block access to the entire I/O address range.
	//
	// From section 18.5.2 "I/O Permission Bit Map" from Intel SDM vol1:
	// I/O addresses not spanned by the map are treated as if they had set
	// bits in the map.
	t.ioPerm = uint16(t.Size())
	return t
}

func (t *TaskState64) rsp(level PrivilegeLevel) (lo, hi *uint32) {
	switch level {
	case Ring0:
		return &t.rsp0Lo, &t.rsp0Hi
	case Ring1:
		return &t.rsp1Lo, &t.rsp1Hi
	default:
		return &t.rsp2Lo, &t.rsp2Hi
	}
}

func (t *TaskState64) ist(index uint8) (lo, hi *uint32) {
	switch index {
	case 1:
		return &t.ist1Lo, &t.ist1Hi
	case 2:
		return &t.ist2Lo, &t.ist2Hi
	case 3:
		return &t.ist3Lo, &t.ist3Hi
	case 4:
		return &t.ist4Lo, &t.ist4Hi
	case 5:
		return &t.ist5Lo, &t.ist5Hi
	case 6:
		return &t.ist6Lo, &t.ist6Hi
	default:
		return &t.ist7Lo, &t.ist7Hi
	}
}

func checkPrivilegeStack(level PrivilegeLevel) error {
	if level > Ring2 {
		return fmt.Errorf("%w: no stack slot for ring %d", ErrInvalidPrivilege, level)
	}
	return nil
}

func checkInterruptStack(index uint8) error {
	if index < 1 || index > MaxInterruptStack {
		return fmt.Errorf("%w: %d", ErrInvalidStackIndex, index)
	}
	return nil
}

// SetPrivilegeStack sets the stack loaded on a change to level, which must
// be 0, 1 or 2.
func (t *TaskState64) SetPrivilegeStack(level PrivilegeLevel, sp uintptr) error {
	if err := checkPrivilegeStack(level); err != nil {
		return err
	}
	lo, hi := t.rsp(level)
	*lo, *hi = uint32(sp), uint32(uint64(sp)>>32)
	return nil
}

// PrivilegeStack returns the stack for level, or zero.
func (t *TaskState64) PrivilegeStack(level PrivilegeLevel) uintptr {
	if checkPrivilegeStack(level) != nil {
		return 0
	}
	lo, hi := t.rsp(level)
	return uintptr(uint64(*hi)<<32 | uint64(*lo))
}

// SetInterruptStack sets interrupt stack table entry index, 1 through 7.
func (t *TaskState64) SetInterruptStack(index uint8, sp uintptr) error {
	if err := checkInterruptStack(index); err != nil {
		return err
	}
	lo, hi := t.ist(index)
	*lo, *hi = uint32(sp), uint32(uint64(sp)>>32)
	return nil
}

// InterruptStack returns interrupt stack table entry index, or zero.
func (t *TaskState64) InterruptStack(index uint8) uintptr {
	if checkInterruptStack(index) != nil {
		return 0
	}
	lo, hi := t.ist(index)
	return uintptr(uint64(*hi)<<32 | uint64(*lo))
}

// SetIOMapBase sets the offset of the I/O permission bitmap.
func (t *TaskState64) SetIOMapBase(offset uint16) {
	t.ioPerm = offset
}

// IOMapBase returns the offset of the I/O permission bitmap.
func (t *TaskState64) IOMapBase() uint16 {
	return t.ioPerm
}

// TaskState32 is a 32-bit task state structure. Only the stack fields and
// the I/O map base are used; hardware task switching is not.
type TaskState32 struct {
	link   uint16
	_      uint16
	esp0   uint32
	ss0    uint16
	_      uint16
	esp1   uint32
	ss1    uint16
	_      uint16
	esp2   uint32
	ss2    uint16
	_      uint16
	cr3    uint32
	eip    uint32
	eflags uint32
	eax    uint32
	ecx    uint32
	edx    uint32
	ebx    uint32
	esp    uint32
	ebp    uint32
	esi    uint32
	edi    uint32
	es     uint16
	_      uint16
	cs     uint16
	_      uint16
	ss     uint16
	_      uint16
	ds     uint16
	_      uint16
	fs     uint16
	_      uint16
	gs     uint16
	_      uint16
	ldt    uint16
	_      uint16
	trap   uint16
	ioPerm uint16
}

// NewTaskState32 returns a task state with no stacks and every I/O port
// blocked.
func NewTaskState32() *TaskState32 {
	t := new(TaskState32)
	t.ioPerm = uint16(t.Size())
	return t
}

func (t *TaskState32) stack(level PrivilegeLevel) (*uint32, *uint16) {
	switch level {
	case Ring0:
		return &t.esp0, &t.ss0
	case Ring1:
		return &t.esp1, &t.ss1
	default:
		return &t.esp2, &t.ss2
	}
}

// SetPrivilegeStack sets the stack pointer loaded on a change to level,
// which must be 0, 1 or 2. sp must fit in 32 bits.
func (t *TaskState32) SetPrivilegeStack(level PrivilegeLevel, sp uintptr) error {
	if err := checkPrivilegeStack(level); err != nil {
		return err
	}
	if uint64(sp)>>32 != 0 {
		return fmt.Errorf("%w: stack %#x exceeds 32 bits", ErrInvalidDescriptor, sp)
	}
	esp, _ := t.stack(level)
	*esp = uint32(sp)
	return nil
}

// PrivilegeStack returns the stack pointer for level, or zero.
func (t *TaskState32) PrivilegeStack(level PrivilegeLevel) uintptr {
	if checkPrivilegeStack(level) != nil {
		return 0
	}
	esp, _ := t.stack(level)
	return uintptr(*esp)
}

// SetPrivilegeStackSegment sets the stack segment loaded on a change to
// level.
func (t *TaskState32) SetPrivilegeStackSegment(level PrivilegeLevel, sel Selector) error {
	if err := checkPrivilegeStack(level); err != nil {
		return err
	}
	_, ss := t.stack(level)
	*ss = uint16(sel)
	return nil
}

// PrivilegeStackSegment returns the stack segment for level, or zero.
func (t *TaskState32) PrivilegeStackSegment(level PrivilegeLevel) Selector {
	if checkPrivilegeStack(level) != nil {
		return 0
	}
	_, ss := t.stack(level)
	return Selector(*ss)
}

// SetInterruptStack always fails: there is no interrupt stack table in
// 32-bit mode.
func (t *TaskState32) SetInterruptStack(index uint8, sp uintptr) error {
	return fmt.Errorf("%w: no interrupt stack table in 32-bit mode", ErrInvalidStackIndex)
}

// InterruptStack returns zero.
func (t *TaskState32) InterruptStack(index uint8) uintptr {
	return 0
}

// SetIOMapBase sets the offset of the I/O permission bitmap.
func (t *TaskState32) SetIOMapBase(offset uint16) {
	t.ioPerm = offset
}

// IOMapBase returns the offset of the I/O permission bitmap.
func (t *TaskState32) IOMapBase() uint16 {
	return t.ioPerm
}
