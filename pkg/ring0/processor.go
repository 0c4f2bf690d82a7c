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

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	"gvisor.dev/x86/pkg/log"
	"gvisor.dev/x86/pkg/ring0/abi"
)

// ProcessorOpts configure a Processor.
type ProcessorOpts struct {
	// ID identifies the logical processor in logs.
	ID int

	// Loader performs the loads.
	Loader Loader

	// RequiredVectors must have gates before an IDT is loaded. If nil,
	// abi.CoreExceptions is used.
	RequiredVectors []Vector
}

// Processor is the table state of one logical processor: at most one active
// GDT, IDT and task register.
//
// Loading a table activates it: the table can no longer be modified and its
// storage is pinned. The activation lasts until the table is superseded by
// another load or the processor is Reset. A table active on several
// processors stays active until every one of them releases it.
//
// Storage stays pinned until Reset, which must be called before the
// Processor is dropped.
type Processor struct {
	// mu protects the fields below.
	mu sync.Mutex

	id       int
	loader   Loader
	required []Vector

	gdt    *GDT
	gdtPin *runtime.Pinner

	idt    *IDT
	idtPin *runtime.Pinner

	// tss is the task state in the task register, loaded from tssGDT.
	// tssGDT may differ from gdt once the GDT has been superseded.
	tss    *TaskState
	tssSel Selector
	tssGDT *GDT
	tssPin *runtime.Pinner

	segments map[SegmentRegister]Selector
}

// NewProcessor returns a processor with nothing loaded.
func NewProcessor(opts ProcessorOpts) (*Processor, error) {
	if opts.Loader == nil {
		return nil, errors.New("processor requires a loader")
	}
	required := opts.RequiredVectors
	if required == nil {
		required = abi.CoreExceptions()
	}
	return &Processor{
		id:       opts.ID,
		loader:   opts.Loader,
		required: append([]Vector(nil), required...),
		segments: make(map[SegmentRegister]Selector),
	}, nil
}

// ID returns the processor identifier.
func (p *Processor) ID() int {
	return p.id
}

// GDT returns the active GDT, or nil.
func (p *Processor) GDT() *GDT {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gdt
}

// IDT returns the active IDT, or nil.
func (p *Processor) IDT() *IDT {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.idt
}

// TaskRegister returns the selector in the task register.
func (p *Processor) TaskRegister() (Selector, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tssSel, p.tss != nil
}

// Segment returns the selector last loaded into reg.
func (p *Processor) Segment(reg SegmentRegister) (Selector, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sel, ok := p.segments[reg]
	return sel, ok
}

func pin(ptrs ...any) *runtime.Pinner {
	pinner := new(runtime.Pinner)
	for _, ptr := range ptrs {
		pinner.Pin(ptr)
	}
	return pinner
}

// LoadGDT activates g, superseding the active GDT.
//
// If an IDT is active, every gate must target a valid code segment in g.
func (p *Processor) LoadGDT(g *GDT) error {
	if g == nil {
		return fmt.Errorf("%w: nil table", ErrNoActiveGDT)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.idt != nil {
		if err := checkGates(p.idt, g, nil); err != nil {
			return fmt.Errorf("active IDT does not match new GDT: %w", err)
		}
	}

	g.acquire()
	gdtPin := pin(&g.entries[0])
	r := TableRegister{Base: uint64(g.Base()), Limit: g.Limit()}
	if err := p.loader.LoadGDT(r); err != nil {
		gdtPin.Unpin()
		g.release()
		return fmt.Errorf("loading GDT %v: %w", r, err)
	}

	if old := p.gdt; old != nil {
		p.gdtPin.Unpin()
		old.release()
		log.Debugf("CPU %d: GDT at %#x superseded", p.id, old.Base())
	}
	p.gdt, p.gdtPin = g, gdtPin
	log.Infof("CPU %d: GDT %v active (%d entries)", p.id, r, g.Len())
	return nil
}

// LoadIDT activates t, superseding the active IDT.
//
// A GDT must be active. Every required vector must have a gate, every gate
// must target a present code segment, and if a task register is loaded
// every interrupt stack used must be set.
func (p *Processor) LoadIDT(t *IDT) error {
	if t == nil {
		return errors.New("nil IDT")
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.gdt == nil {
		return ErrNoActiveGDT
	}
	if err := t.Ready(p.required); err != nil {
		return err
	}
	if err := checkGates(t, p.gdt, p.tss); err != nil {
		return err
	}

	t.acquire()
	idtPin := pin(t.gates)
	r := TableRegister{Base: uint64(t.Base()), Limit: t.Limit()}
	if err := p.loader.LoadIDT(r); err != nil {
		idtPin.Unpin()
		t.release()
		return fmt.Errorf("loading IDT %v: %w", r, err)
	}

	if old := p.idt; old != nil {
		p.idtPin.Unpin()
		old.release()
		log.Debugf("CPU %d: IDT at %#x superseded", p.id, old.Base())
	}
	p.idt, p.idtPin = t, idtPin
	log.Infof("CPU %d: IDT %v active (%d gates)", p.id, r, len(t.Vectors()))
	return nil
}

// LoadTaskRegister loads the TSS whose descriptor sel names in the active
// GDT. The TSS must not be loaded on any processor, including this one,
// through this or any other descriptor.
func (p *Processor) LoadTaskRegister(sel Selector) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.gdt == nil {
		return ErrNoActiveGDT
	}
	ts, err := p.gdt.TaskState(sel)
	if err != nil {
		return err
	}
	d, err := p.gdt.Descriptor(sel)
	if err != nil {
		return err
	}
	seg, ok := d.(TaskSegment)
	if !ok {
		return fmt.Errorf("%w: %v is a %v descriptor", ErrInvalidSelector, sel, d.Kind())
	}
	if p.idt != nil {
		if err := checkStacks(p.idt, ts); err != nil {
			return err
		}
	}
	if err := p.gdt.markBusy(sel); err != nil {
		return err
	}
	if err := claimTask(ts, p.id); err != nil {
		p.gdt.clearBusy(sel)
		return fmt.Errorf("%w (descriptor %v)", err, sel)
	}

	tssPin := pin(ts)
	seg.Busy = true
	if err := p.loader.LoadTaskRegister(sel, seg); err != nil {
		tssPin.Unpin()
		releaseTask(ts)
		p.gdt.clearBusy(sel)
		return fmt.Errorf("loading task register %v: %w", sel, err)
	}

	p.releaseTaskLocked()
	p.tss, p.tssSel, p.tssGDT, p.tssPin = ts, sel, p.gdt, tssPin
	log.Infof("CPU %d: task register %v (TSS at %#x)", p.id, sel, ts.Addr())
	return nil
}

// LoadSegment loads reg with sel from the active GDT.
//
// CS requires a present code segment. SS requires a present writable data
// segment whose DPL equals the selector's RPL. The data registers accept the
// null selector, data segments, and readable code segments.
func (p *Processor) LoadSegment(reg SegmentRegister, sel Selector) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.gdt == nil {
		return ErrNoActiveGDT
	}
	d, err := p.gdt.Descriptor(sel)
	if err != nil {
		return err
	}
	if err := checkSegment(reg, sel, d); err != nil {
		return err
	}
	if err := p.loader.LoadSegment(reg, sel, d); err != nil {
		return fmt.Errorf("loading %v with %v: %w", reg, sel, err)
	}
	p.segments[reg] = sel
	log.Debugf("CPU %d: %v = %v", p.id, reg, sel)
	return nil
}

func checkSegment(reg SegmentRegister, sel Selector, d Descriptor) error {
	switch reg {
	case CS:
		if c, ok := d.(CodeSegment); ok && c.Present {
			return nil
		}
	case SS:
		if s, ok := d.(DataSegment); ok && s.Present && s.Writable && s.DPL == sel.RPL() {
			return nil
		}
	case DS, ES, FS, GS:
		switch d := d.(type) {
		case Null:
			return nil
		case DataSegment:
			if d.Present {
				return nil
			}
		case CodeSegment:
			if d.Present && d.Readable {
				return nil
			}
		}
	default:
		return fmt.Errorf("%w: unknown segment register %v", ErrInvalidSelector, reg)
	}
	return fmt.Errorf("%w: %v cannot hold %v (%v)", ErrInvalidSelector, reg, sel, d.Kind())
}

// loadedTasks maps each task state in a task register to its processor. A
// task state may be reachable through several descriptors, in one or more
// GDTs, so the per-descriptor busy bit alone does not cover it.
var loadedTasks = struct {
	mu    sync.Mutex
	owner map[*TaskState]int
}{owner: make(map[*TaskState]int)}

func claimTask(ts *TaskState, cpu int) error {
	loadedTasks.mu.Lock()
	defer loadedTasks.mu.Unlock()
	if owner, ok := loadedTasks.owner[ts]; ok {
		return fmt.Errorf("%w: TSS at %#x loaded on CPU %d", ErrTaskBusy, ts.Addr(), owner)
	}
	loadedTasks.owner[ts] = cpu
	return nil
}

func releaseTask(ts *TaskState) {
	loadedTasks.mu.Lock()
	defer loadedTasks.mu.Unlock()
	delete(loadedTasks.owner, ts)
}

// Precondition: p.mu is held.
func (p *Processor) releaseTaskLocked() {
	if p.tss == nil {
		return
	}
	p.tssGDT.clearBusy(p.tssSel)
	releaseTask(p.tss)
	p.tssPin.Unpin()
	p.tss, p.tssSel, p.tssGDT, p.tssPin = nil, 0, nil, nil
}

// Reset releases every table loaded on the processor. The caller must
// ensure the processor no longer uses them.
func (p *Processor) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.releaseTaskLocked()
	if p.idt != nil {
		p.idtPin.Unpin()
		p.idt.release()
		p.idt, p.idtPin = nil, nil
	}
	if p.gdt != nil {
		p.gdtPin.Unpin()
		p.gdt.release()
		p.gdt, p.gdtPin = nil, nil
	}
	clear(p.segments)
	log.Infof("CPU %d: tables released", p.id)
}

// checkGates checks that every gate of t targets a present code segment in g
// and, if ts is not nil, that every interrupt stack used is set in ts.
func checkGates(t *IDT, g *GDT, ts *TaskState) error {
	for _, v := range t.Vectors() {
		opts, _ := t.Options(v)
		d, err := g.Descriptor(opts.Selector)
		if err != nil {
			return fmt.Errorf("gate for %v: %w", v, err)
		}
		c, ok := d.(CodeSegment)
		if !ok || !c.Present || c.Long != LongMode {
			return fmt.Errorf("%w: gate for %v targets %v (%v)", ErrInvalidSelector, v, opts.Selector, d.Kind())
		}
	}
	if ts != nil {
		return checkStacks(t, ts)
	}
	return nil
}

// checkStacks checks that every interrupt stack used by t is set in ts.
func checkStacks(t *IDT, ts *TaskState) error {
	for _, v := range t.Vectors() {
		opts, _ := t.Options(v)
		if opts.Stack != 0 && ts.InterruptStack(opts.Stack) == 0 {
			return fmt.Errorf("%w: gate for %v uses stack %d", ErrMissingStack, v, opts.Stack)
		}
	}
	return nil
}
