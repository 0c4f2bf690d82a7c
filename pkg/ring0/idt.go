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
	"strings"
	"sync"

	"gvisor.dev/x86/pkg/ring0/abi"
)

// GateOptions configure an IDT gate.
type GateOptions struct {
	// Selector is the code segment the handler runs in.
	Selector Selector

	// DPL is the lowest privilege allowed to raise the vector with a
	// software interrupt. Breakpoint and Overflow commonly use Ring3.
	DPL PrivilegeLevel

	// Stack is the interrupt stack table index to switch to, or zero for
	// none. Only valid in long mode.
	Stack uint8

	// Trap selects a trap gate, which leaves interrupts enabled.
	Trap bool
}

// IDT is an interrupt descriptor table.
//
// Every gate starts absent. SetHandler makes a gate present; gates may be
// rebound only while the table is inactive.
type IDT struct {
	// mu protects the fields below.
	mu sync.Mutex

	// gates is the table as the processor reads it.
	gates *[abi.NumVectors]gateEntry

	entries [abi.NumVectors]abi.EntryPoint
	opts    [abi.NumVectors]GateOptions

	// activations counts processors with this table loaded.
	activations int
}

// NewIDT returns a table with every gate absent.
func NewIDT() *IDT {
	return &IDT{
		gates: new([abi.NumVectors]gateEntry),
	}
}

// SetHandler binds ep to v.
func (t *IDT) SetHandler(v Vector, ep abi.EntryPoint, opts GateOptions) error {
	if err := abi.CheckBinding(v, ep); err != nil {
		return err
	}
	if opts.Selector.IsNull() || opts.Selector.Table() != GlobalTable {
		return fmt.Errorf("%w: gate for %v targets %v", ErrInvalidIndex, v, opts.Selector)
	}
	if !opts.DPL.Valid() {
		return fmt.Errorf("%w: gate dpl %d", ErrInvalidPrivilege, opts.DPL)
	}
	if opts.Stack > MaxInterruptStack || (!LongMode && opts.Stack != 0) {
		return fmt.Errorf("%w: %d for %v", ErrInvalidStackIndex, opts.Stack, v)
	}
	typ := InterruptGate
	if opts.Trap {
		typ = TrapGate
	}
	e, err := encodeGate(Gate{
		Type:     typ,
		Selector: opts.Selector,
		Offset:   uint64(ep.Addr),
		DPL:      opts.DPL,
		Present:  true,
		IST:      opts.Stack,
	})
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.activations > 0 {
		return ErrTableActive
	}
	t.gates[v] = e
	t.entries[v] = ep
	t.opts[v] = opts
	return nil
}

// Present returns true iff v has a gate.
func (t *IDT) Present(v Vector) bool {
	if !v.Valid() {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.entries[v].IsNil()
}

// Gate returns the decoded gate for v. Absent gates decode as Null.
func (t *IDT) Gate(v Vector) (Descriptor, error) {
	if !v.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrVectorOutOfRange, uint(v))
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return decodeGate(t.gates[v])
}

// EntryPoint returns the entry point bound to v.
func (t *IDT) EntryPoint(v Vector) (abi.EntryPoint, bool) {
	if !v.Valid() {
		return abi.EntryPoint{}, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.entries[v], !t.entries[v].IsNil()
}

// Options returns the options v was bound with.
func (t *IDT) Options(v Vector) (GateOptions, bool) {
	if !v.Valid() {
		return GateOptions{}, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.opts[v], !t.entries[v].IsNil()
}

// Vectors returns the vectors with a gate, in order.
func (t *IDT) Vectors() []Vector {
	t.mu.Lock()
	defer t.mu.Unlock()
	var vs []Vector
	for v := range t.entries {
		if !t.entries[v].IsNil() {
			vs = append(vs, Vector(v))
		}
	}
	return vs
}

// Missing returns the vectors in required that have no gate.
func (t *IDT) Missing(required []Vector) []Vector {
	t.mu.Lock()
	defer t.mu.Unlock()
	var missing []Vector
	for _, v := range required {
		if !v.Valid() || t.entries[v].IsNil() {
			missing = append(missing, v)
		}
	}
	return missing
}

// Ready returns ErrNotReady, listing the absent vectors, if any vector in
// required has no gate.
func (t *IDT) Ready(required []Vector) error {
	missing := t.Missing(required)
	if len(missing) == 0 {
		return nil
	}
	names := make([]string, len(missing))
	for i, v := range missing {
		names[i] = v.String()
	}
	return fmt.Errorf("%w: no gate for %s", ErrNotReady, strings.Join(names, ", "))
}

// Limit returns the value for the table register limit.
func (t *IDT) Limit() uint16 {
	return abi.NumVectors*gateSize - 1
}

// Bytes returns the table as the processor reads it.
func (t *IDT) Bytes() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	b := make([]byte, 0, abi.NumVectors*gateSize)
	for _, e := range t.gates {
		b = appendGate(b, e)
	}
	return b
}

// Active returns true iff the table is loaded on a processor.
func (t *IDT) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.activations > 0
}

func (t *IDT) acquire() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.activations++
}

func (t *IDT) release() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.activations == 0 {
		panic("IDT released more often than acquired")
	}
	t.activations--
}
