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

package layout

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
	"gvisor.dev/x86/pkg/log"
	"gvisor.dev/x86/pkg/ring0"
	"gvisor.dev/x86/pkg/ring0/abi"
)

// Stacks provides the stacks a task state refers to.
type Stacks interface {
	// Stack returns the top of a new stack. name describes its use.
	Stack(name string) (uintptr, error)
}

// HeapStacks allocates stacks from the Go heap.
//
// The stacks stay reachable for as long as the HeapStacks is.
type HeapStacks struct {
	// Size is the size of each stack. Defaults to DefaultStackSize.
	Size int

	mu   sync.Mutex
	bufs map[string][]byte
}

// Stack implements Stacks.Stack.
func (h *HeapStacks) Stack(name string) (uintptr, error) {
	size := h.Size
	if size == 0 {
		size = DefaultStackSize
	}
	buf := make([]byte, size)
	top := ring0.StackTop(buf)
	if top == 0 {
		return 0, fmt.Errorf("stack %s: size %d too small", name, size)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.bufs == nil {
		h.bufs = make(map[string][]byte)
	}
	h.bufs[name] = buf
	return top, nil
}

// Len returns the number of stacks allocated.
func (h *HeapStacks) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.bufs)
}

// SyntheticEntries returns entry points at base + v*stride, tagged with the
// ABI of each vector. They are suitable for dry runs and table dumps, where
// nothing executes the handlers.
func SyntheticEntries(base, stride uintptr) map[abi.Vector]abi.EntryPoint {
	m := make(map[abi.Vector]abi.EntryPoint, abi.NumVectors)
	for v := abi.Vector(0); v < abi.NumVectors; v++ {
		m[v] = abi.NewEntryPoint(base+uintptr(v)*stride, abi.KindOf(v))
	}
	return m
}

// Tables is a built table set.
type Tables struct {
	GDT *ring0.GDT
	IDT *ring0.IDT

	// TaskState and TSS are set if the layout has a TSS.
	TaskState *ring0.TaskState
	TSS       ring0.Selector

	// Selectors maps segment names to selectors.
	Selectors map[string]ring0.Selector

	// Required are the vectors the IDT must have.
	Required []abi.Vector

	registers [][2]string

	// stacks is retained so stacks referenced by TaskState stay live.
	stacks Stacks
}

// Build builds the tables described by l. entries supplies the handler for
// every gate; stacks supplies the stacks the TSS refers to and may be nil if
// the layout has no TSS.
func Build(l *Layout, entries map[abi.Vector]abi.EntryPoint, stacks Stacks) (*Tables, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}
	capacity := l.GDTCapacity
	if capacity == 0 {
		capacity = DefaultGDTCapacity
	}
	g, err := ring0.NewGDT(capacity)
	if err != nil {
		return nil, err
	}
	t := &Tables{
		GDT:       g,
		Selectors: make(map[string]ring0.Selector),
		Required:  l.RequiredVectors(),
		stacks:    stacks,
	}
	for i := range l.Segments {
		s := &l.Segments[i]
		d, err := s.Descriptor()
		if err != nil {
			return nil, err
		}
		sel, err := g.AppendWithRPL(d, s.rpl())
		if err != nil {
			return nil, fmt.Errorf("segment %q: %w", s.Name, err)
		}
		t.Selectors[s.Name] = sel
	}

	if l.TSS != nil {
		if stacks == nil {
			return nil, fmt.Errorf("%w: layout has a TSS but no stacks were provided", ErrInvalidLayout)
		}
		ts, err := t.buildTaskState(l.TSS, stacks)
		if err != nil {
			return nil, err
		}
		if t.TSS, err = g.AppendTSS(ts); err != nil {
			return nil, fmt.Errorf("tss: %w", err)
		}
		t.TaskState = ts
	}

	t.IDT = ring0.NewIDT()
	for i := range l.Gates {
		gate := &l.Gates[i]
		opts := ring0.GateOptions{
			Selector: t.Selectors[gate.Segment],
			DPL:      ring0.PrivilegeLevel(gate.DPL),
			Stack:    gate.Stack,
			Trap:     gate.Trap,
		}
		for _, v := range gate.vectors() {
			if err := t.IDT.SetHandler(v, entries[v], opts); err != nil {
				return nil, fmt.Errorf("gate %d: %w", i, err)
			}
		}
	}
	if err := t.IDT.Ready(t.Required); err != nil {
		return nil, err
	}

	for _, reg := range registerOrder {
		if name, ok := l.Registers[reg]; ok {
			t.registers = append(t.registers, [2]string{reg, name})
		}
	}
	return t, nil
}

// privilegeStackSegmenter is implemented by task states that carry a stack
// segment per ring.
type privilegeStackSegmenter interface {
	SetPrivilegeStackSegment(level ring0.PrivilegeLevel, sel ring0.Selector) error
}

func (t *Tables) buildTaskState(cfg *TSS, stacks Stacks) (*ring0.TaskState, error) {
	ts := ring0.NewTaskState()
	rings := cfg.PrivilegeStacks
	if rings == nil {
		rings = []uint8{0}
	}
	for _, r := range rings {
		sp, err := stacks.Stack(fmt.Sprintf("ring%d", r))
		if err != nil {
			return nil, err
		}
		if err := ts.SetPrivilegeStack(ring0.PrivilegeLevel(r), sp); err != nil {
			return nil, fmt.Errorf("tss ring %d: %w", r, err)
		}
		if cfg.StackSegment == "" {
			continue
		}
		if s, ok := any(ts).(privilegeStackSegmenter); ok {
			if err := s.SetPrivilegeStackSegment(ring0.PrivilegeLevel(r), t.Selectors[cfg.StackSegment]); err != nil {
				return nil, fmt.Errorf("tss ring %d: %w", r, err)
			}
		}
	}
	for _, index := range cfg.InterruptStacks {
		sp, err := stacks.Stack(fmt.Sprintf("ist%d", index))
		if err != nil {
			return nil, err
		}
		if err := ts.SetInterruptStack(index, sp); err != nil {
			return nil, fmt.Errorf("tss stack %d: %w", index, err)
		}
	}
	if cfg.IOMapBase != nil {
		ts.SetIOMapBase(*cfg.IOMapBase)
	}
	return ts, nil
}

// Selector returns the selector of the named segment.
func (t *Tables) Selector(name string) (ring0.Selector, bool) {
	sel, ok := t.Selectors[name]
	return sel, ok
}

// NewProcessor returns a processor requiring the vectors of t.
func (t *Tables) NewProcessor(id int, l ring0.Loader) (*ring0.Processor, error) {
	return ring0.NewProcessor(ring0.ProcessorOpts{
		ID:              id,
		Loader:          l,
		RequiredVectors: t.Required,
	})
}

// Activate loads t on p: the GDT, the IDT, the task register and then the
// segment registers named by the layout.
func (t *Tables) Activate(p *ring0.Processor) error {
	if err := p.LoadGDT(t.GDT); err != nil {
		return err
	}
	if err := p.LoadIDT(t.IDT); err != nil {
		return err
	}
	if t.TaskState != nil {
		if err := p.LoadTaskRegister(t.TSS); err != nil {
			return err
		}
	}
	for _, r := range t.registers {
		if err := p.LoadSegment(registerNames[r[0]], t.Selectors[r[1]]); err != nil {
			return err
		}
	}
	return nil
}

// BuildAll builds n independent table sets concurrently, one per processor.
// newStacks is called once per processor and may be nil if the layout has no
// TSS.
func BuildAll(ctx context.Context, l *Layout, n int, entries map[abi.Vector]abi.EntryPoint, newStacks func(cpu int) Stacks) ([]*Tables, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: %d processors", ErrInvalidLayout, n)
	}
	if err := l.Validate(); err != nil {
		return nil, err
	}
	out := make([]*Tables, n)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for cpu := 0; cpu < n; cpu++ {
		cpu := cpu
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			var stacks Stacks
			if newStacks != nil {
				stacks = newStacks(cpu)
			}
			t, err := Build(l, entries, stacks)
			if err != nil {
				return fmt.Errorf("CPU %d: %w", cpu, err)
			}
			out[cpu] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	log.Debugf("built %d table sets", n)
	return out, nil
}
