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
	"fmt"
	"sync"
)

// MaxGDTEntries is the largest GDT the 16 bit limit can describe.
const MaxGDTEntries = MaxSelectorIndex + 1

type slotKind uint8

const (
	slotFree slotKind = iota
	slotNull
	slotSegment
	slotSystem   // First slot of a system descriptor.
	slotSystemHi // Continuation of a 16 byte system descriptor.
)

// GDT is a global descriptor table.
//
// Entries are appended, never replaced, and the backing storage is
// allocated once so that its address is stable for the life of the table.
// While the table is active on any Processor it cannot be modified.
type GDT struct {
	// mu protects the fields below.
	mu sync.Mutex

	// entries is the table as the processor reads it. len(entries) is the
	// capacity.
	entries []SegmentDescriptor

	// slots records the kind of each used entry.
	slots []slotKind

	// used is the number of entries in use, including the null entry.
	used int

	// tss maps the index of each TSS descriptor to its task state.
	tss map[int]*TaskState

	// busy records TSS descriptors loaded into a task register.
	busy map[int]bool

	// activations counts processors with this table loaded.
	activations int
}

// NewGDT returns a table with room for capacity entries, including the null
// descriptor at index 0.
func NewGDT(capacity int) (*GDT, error) {
	if capacity < 2 || capacity > MaxGDTEntries {
		return nil, fmt.Errorf("%w: capacity %d outside [2, %d]", ErrCapacityExceeded, capacity, MaxGDTEntries)
	}
	g := &GDT{
		entries: make([]SegmentDescriptor, capacity),
		slots:   make([]slotKind, capacity),
		used:    1,
		tss:     make(map[int]*TaskState),
		busy:    make(map[int]bool),
	}
	g.slots[0] = slotNull
	return g, nil
}

// Append appends d and returns its selector, requested at ring 0.
//
// d may be a code or data segment or a call gate. TSS descriptors are
// appended with AppendTSS; interrupt and trap gates belong in an IDT.
func (g *GDT) Append(d Descriptor) (Selector, error) {
	return g.AppendWithRPL(d, Ring0)
}

// AppendWithRPL is Append with the requested privilege level of the
// returned selector set to rpl. The entry itself is unaffected.
func (g *GDT) AppendWithRPL(d Descriptor, rpl PrivilegeLevel) (Selector, error) {
	if !rpl.Valid() {
		return 0, fmt.Errorf("%w: rpl %d", ErrInvalidPrivilege, rpl)
	}
	var (
		slots []SegmentDescriptor
		kind  = slotSegment
	)
	switch d := d.(type) {
	case CodeSegment:
		e, err := d.Encode()
		if err != nil {
			return 0, err
		}
		slots = []SegmentDescriptor{e}
	case DataSegment:
		e, err := d.Encode()
		if err != nil {
			return 0, err
		}
		slots = []SegmentDescriptor{e}
	case Gate:
		if d.Type != CallGate {
			return 0, fmt.Errorf("%w: %v gate in GDT", ErrInvalidDescriptor, d.Type)
		}
		e, err := encodeSystem(d)
		if err != nil {
			return 0, err
		}
		slots, kind = e, slotSystem
	case TaskSegment:
		return 0, fmt.Errorf("%w: TSS descriptors are appended with AppendTSS", ErrInvalidDescriptor)
	case nil, Null:
		return 0, fmt.Errorf("%w: null descriptor", ErrInvalidDescriptor)
	default:
		return 0, fmt.Errorf("%w: unsupported descriptor %T", ErrInvalidDescriptor, d)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	index, err := g.appendLocked(slots, kind)
	if err != nil {
		return 0, err
	}
	return Selector(index<<3 | int(rpl)), nil
}

// AppendTSS appends a descriptor for ts and returns its selector.
//
// The descriptor encodes the address and size of ts at the time of the
// call. The table keeps ts, so ts lives at least as long as the table; the
// caller must not copy it elsewhere and expect the descriptor to follow.
func (g *GDT) AppendTSS(ts *TaskState) (Selector, error) {
	if ts == nil {
		return 0, fmt.Errorf("%w: nil task state", ErrInvalidDescriptor)
	}
	slots, err := encodeSystem(TaskSegment{
		Base:    uint64(ts.Addr()),
		Limit:   uint32(ts.Size() - 1),
		Present: true,
	})
	if err != nil {
		return 0, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	index, err := g.appendLocked(slots, slotSystem)
	if err != nil {
		return 0, err
	}
	g.tss[index] = ts
	return Selector(index << 3), nil
}

// Precondition: g.mu is held.
func (g *GDT) appendLocked(slots []SegmentDescriptor, kind slotKind) (int, error) {
	if g.activations > 0 {
		return 0, ErrTableActive
	}
	if g.used+len(slots) > len(g.entries) {
		return 0, fmt.Errorf("%w: %d of %d entries used, %d needed", ErrCapacityExceeded, g.used, len(g.entries), len(slots))
	}
	index := g.used
	for i, s := range slots {
		g.entries[index+i] = s
		g.slots[index+i] = slotSystemHi
	}
	g.slots[index] = kind
	g.used += len(slots)
	return index, nil
}

// Precondition: g.mu is held.
func (g *GDT) lookupLocked(sel Selector) (int, error) {
	if sel.Table() != GlobalTable {
		return 0, fmt.Errorf("%w: %v refers to a local table", ErrInvalidIndex, sel)
	}
	index := sel.Index()
	if index >= g.used {
		return 0, fmt.Errorf("%w: %v beyond %d entries", ErrInvalidIndex, sel, g.used)
	}
	if g.slots[index] == slotSystemHi {
		return 0, fmt.Errorf("%w: %v names the upper half of a system descriptor", ErrInvalidIndex, sel)
	}
	return index, nil
}

// Precondition: g.mu is held.
func (g *GDT) decodeLocked(index int) (Descriptor, error) {
	switch g.slots[index] {
	case slotNull:
		return Null{}, nil
	case slotSystem:
		return decodeSystemSlots(g.entries[index : index+systemSlots])
	default:
		return DecodeSegment(g.entries[index])
	}
}

// Descriptor returns the descriptor sel refers to. The null selector yields
// Null.
func (g *GDT) Descriptor(sel Selector) (Descriptor, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	index, err := g.lookupLocked(sel)
	if err != nil {
		return nil, err
	}
	return g.decodeLocked(index)
}

// TaskState returns the task state whose descriptor sel refers to.
func (g *GDT) TaskState(sel Selector) (*TaskState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	index, err := g.lookupLocked(sel)
	if err != nil {
		return nil, err
	}
	ts, ok := g.tss[index]
	if !ok {
		return nil, fmt.Errorf("%w: %v is not a TSS descriptor", ErrInvalidSelector, sel)
	}
	return ts, nil
}

// Entries returns a copy of the used entries.
func (g *GDT) Entries() []SegmentDescriptor {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]SegmentDescriptor(nil), g.entries[:g.used]...)
}

// Selectors returns the selector of every used entry other than the null
// descriptor and the continuations of system descriptors, in table order.
func (g *GDT) Selectors() []Selector {
	g.mu.Lock()
	defer g.mu.Unlock()
	var sels []Selector
	for i := 1; i < g.used; i++ {
		if g.slots[i] != slotSystemHi {
			sels = append(sels, Selector(i<<3))
		}
	}
	return sels
}

// Len returns the number of entries in use, including the null descriptor.
func (g *GDT) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.used
}

// Cap returns the capacity.
func (g *GDT) Cap() int {
	return len(g.entries)
}

// Limit returns the value for the table register limit: the offset of the
// last byte of the last used entry.
func (g *GDT) Limit() uint16 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return uint16(g.used*8 - 1)
}

// Bytes returns the used part of the table as the processor reads it.
func (g *GDT) Bytes() []byte {
	g.mu.Lock()
	defer g.mu.Unlock()
	b := make([]byte, 0, g.used*8)
	for _, e := range g.entries[:g.used] {
		b = e.AppendBytes(b)
	}
	return b
}

// Active returns true iff the table is loaded on a processor.
func (g *GDT) Active() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.activations > 0
}

func (g *GDT) acquire() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.activations++
}

func (g *GDT) release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.activations == 0 {
		panic("GDT released more often than acquired")
	}
	g.activations--
}

// markBusy records the TSS at sel as loaded in a task register.
func (g *GDT) markBusy(sel Selector) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.busy[sel.Index()] {
		return fmt.Errorf("%w: %v", ErrTaskBusy, sel)
	}
	g.busy[sel.Index()] = true
	return nil
}

func (g *GDT) clearBusy(sel Selector) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.busy, sel.Index())
}

// Busy returns true iff the TSS at sel is loaded in a task register.
func (g *GDT) Busy(sel Selector) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.busy[sel.Index()]
}
