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

// Package kvm loads descriptor tables into a KVM virtual CPU.
//
// The Loader here translates activations into the hidden segment state
// carried by kvm_sregs. Tables are referenced by guest address, so the
// caller is responsible for mapping the table memory into the guest at the
// same addresses.
package kvm

import (
	"fmt"
	"sync"

	"gvisor.dev/x86/pkg/ring0"
)

// KVM ioctls.
const (
	_KVM_GET_API_VERSION = 0xae00
	_KVM_CREATE_VM       = 0xae01
	_KVM_CREATE_VCPU     = 0xae41
	_KVM_GET_SREGS       = 0x8138ae83
	_KVM_SET_SREGS       = 0x4138ae84
)

// _KVM_API_VERSION is the only stable KVM API version.
const _KVM_API_VERSION = 12

// _KVM_NR_INTERRUPTS is the number of interrupts in the pending bitmap.
const _KVM_NR_INTERRUPTS = 0x100

// systemRegs represents KVM system registers.
//
// This mirrors kvm_sregs.
type systemRegs struct {
	CS              segment
	DS              segment
	ES              segment
	FS              segment
	GS              segment
	SS              segment
	TR              segment
	LDT             segment
	GDT             descriptor
	IDT             descriptor
	CR0             uint64
	CR2             uint64
	CR3             uint64
	CR4             uint64
	CR8             uint64
	EFER            uint64
	apicBase        uint64
	interruptBitmap [(_KVM_NR_INTERRUPTS + 63) / 64]uint64
}

// segment is the expanded form of a segment register.
//
// This mirrors kvm_segment.
type segment struct {
	base     uint64
	limit    uint32
	selector uint16
	typ      uint8
	present  uint8
	DPL      uint8
	DB       uint8
	S        uint8
	L        uint8
	G        uint8
	AVL      uint8
	unusable uint8
	_        uint8
}

// descriptor mirrors kvm_dtable.
type descriptor struct {
	base  uint64
	limit uint16
	_     [3]uint16
}

// Clear clears the segment and marks it unusable.
func (s *segment) Clear() {
	*s = segment{unusable: 1}
}

// tobool is a simple helper.
func tobool(x ring0.SegmentDescriptorFlags) uint8 {
	if x != 0 {
		return 1
	}
	return 0
}

// Load loads the segment described by d into the segment s.
//
// The argument sel is recorded as the segment selector index.
func (s *segment) Load(d ring0.SegmentDescriptor, sel ring0.Selector) {
	flag := d.Flags()
	if flag&ring0.SegmentDescriptorPresent == 0 {
		s.Clear()
		s.selector = uint16(sel)
		return
	}
	s.base = uint64(d.Base())
	s.limit = d.Limit()
	s.typ = d.Type() | 1
	s.S = tobool(flag & ring0.SegmentDescriptorSystem)
	s.DPL = uint8(d.DPL())
	s.present = 1
	s.AVL = tobool(flag & ring0.SegmentDescriptorAVL)
	s.L = tobool(flag & ring0.SegmentDescriptorLong)
	s.DB = tobool(flag & ring0.SegmentDescriptorDB)
	s.G = tobool(flag & ring0.SegmentDescriptorG)
	if s.L != 0 {
		s.limit = 0xffffffff
	}
	s.unusable = 0
	s.selector = uint16(sel)
}

// typeTSSBusy is the type of the task register, which is always busy.
const typeTSSBusy = 0xb

// LoadTask loads the task segment t into s.
func (s *segment) LoadTask(t ring0.TaskSegment, sel ring0.Selector) {
	*s = segment{
		base:     t.Base,
		limit:    t.Limit,
		selector: uint16(sel),
		typ:      typeTSSBusy,
		present:  1,
		DPL:      uint8(t.DPL),
	}
	if t.Granularity {
		s.limit = t.Limit<<12 | 0xfff
		s.G = 1
	}
	if t.Available {
		s.AVL = 1
	}
}

// Segment is the state of a segment register, including the parts hidden
// from software.
type Segment struct {
	Base        uint64
	Limit       uint32
	Selector    ring0.Selector
	Type        uint8
	DPL         ring0.PrivilegeLevel
	Present     bool
	System      bool
	Long        bool
	DB          bool
	Granularity bool
	Available   bool
	Unusable    bool
}

func (s *segment) export() Segment {
	return Segment{
		Base:        s.base,
		Limit:       s.limit,
		Selector:    ring0.Selector(s.selector),
		Type:        s.typ,
		DPL:         ring0.PrivilegeLevel(s.DPL),
		Present:     s.present != 0,
		System:      s.S == 0,
		Long:        s.L != 0,
		DB:          s.DB != 0,
		Granularity: s.G != 0,
		Available:   s.AVL != 0,
		Unusable:    s.unusable != 0,
	}
}

// State is the descriptor table state of a virtual CPU.
type State struct {
	GDT ring0.TableRegister
	IDT ring0.TableRegister
	TR  Segment
	CS  Segment
	DS  Segment
	ES  Segment
	FS  Segment
	GS  Segment
	SS  Segment
}

// registerFile reads and writes the system registers of a virtual CPU.
type registerFile interface {
	getSystemRegisters(*systemRegs) error
	setSystemRegisters(*systemRegs) error
}

// Loader is a ring0.Loader for a virtual CPU.
//
// Every operation reads the system registers, changes the relevant part and
// writes them back.
type Loader struct {
	mu   sync.Mutex
	regs registerFile
}

func (l *Loader) update(fn func(*systemRegs) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var sregs systemRegs
	if err := l.regs.getSystemRegisters(&sregs); err != nil {
		return err
	}
	if err := fn(&sregs); err != nil {
		return err
	}
	return l.regs.setSystemRegisters(&sregs)
}

// LoadGDT implements ring0.Loader.LoadGDT.
func (l *Loader) LoadGDT(r ring0.TableRegister) error {
	return l.update(func(sregs *systemRegs) error {
		sregs.GDT = descriptor{base: r.Base, limit: r.Limit}
		return nil
	})
}

// LoadIDT implements ring0.Loader.LoadIDT.
func (l *Loader) LoadIDT(r ring0.TableRegister) error {
	return l.update(func(sregs *systemRegs) error {
		sregs.IDT = descriptor{base: r.Base, limit: r.Limit}
		return nil
	})
}

// LoadTaskRegister implements ring0.Loader.LoadTaskRegister.
func (l *Loader) LoadTaskRegister(sel ring0.Selector, d ring0.TaskSegment) error {
	return l.update(func(sregs *systemRegs) error {
		sregs.TR.LoadTask(d, sel)
		return nil
	})
}

// LoadSegment implements ring0.Loader.LoadSegment.
func (l *Loader) LoadSegment(reg ring0.SegmentRegister, sel ring0.Selector, d ring0.Descriptor) error {
	var enc ring0.SegmentDescriptor
	switch d := d.(type) {
	case ring0.Null:
	case ring0.CodeSegment:
		var err error
		if enc, err = d.Encode(); err != nil {
			return err
		}
	case ring0.DataSegment:
		var err error
		if enc, err = d.Encode(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: %v in %v", ring0.ErrInvalidSelector, d.Kind(), reg)
	}
	return l.update(func(sregs *systemRegs) error {
		var s *segment
		switch reg {
		case ring0.CS:
			s = &sregs.CS
		case ring0.DS:
			s = &sregs.DS
		case ring0.ES:
			s = &sregs.ES
		case ring0.FS:
			s = &sregs.FS
		case ring0.GS:
			s = &sregs.GS
		case ring0.SS:
			s = &sregs.SS
		default:
			return fmt.Errorf("unknown segment register %v", reg)
		}
		s.Load(enc, sel)
		return nil
	})
}

// State returns the current descriptor table state.
func (l *Loader) State() (State, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var sregs systemRegs
	if err := l.regs.getSystemRegisters(&sregs); err != nil {
		return State{}, err
	}
	return State{
		GDT: ring0.TableRegister{Base: sregs.GDT.base, Limit: sregs.GDT.limit},
		IDT: ring0.TableRegister{Base: sregs.IDT.base, Limit: sregs.IDT.limit},
		TR:  sregs.TR.export(),
		CS:  sregs.CS.export(),
		DS:  sregs.DS.export(),
		ES:  sregs.ES.export(),
		FS:  sregs.FS.export(),
		GS:  sregs.GS.export(),
		SS:  sregs.SS.export(),
	}, nil
}
