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

package kvm

import (
	"errors"
	"runtime"
	"testing"
	"unsafe"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/x86/pkg/ring0"
	"gvisor.dev/x86/pkg/ring0/abi"
)

// fakeRegisters is an in-memory register file.
type fakeRegisters struct {
	sregs systemRegs
	sets  int
	fail  error
}

func (f *fakeRegisters) getSystemRegisters(sregs *systemRegs) error {
	if f.fail != nil {
		return f.fail
	}
	*sregs = f.sregs
	return nil
}

func (f *fakeRegisters) setSystemRegisters(sregs *systemRegs) error {
	f.sregs = *sregs
	f.sets++
	return nil
}

func newLoader() (*Loader, *fakeRegisters) {
	f := &fakeRegisters{}
	return &Loader{regs: f}, f
}

func kernelCode() ring0.CodeSegment {
	if ring0.LongMode {
		return ring0.KernelCodeSegment
	}
	return ring0.KernelCodeSegment32
}

func TestMirrorSizes(t *testing.T) {
	if got := unsafe.Sizeof(systemRegs{}); got != 0x138 {
		t.Errorf("kvm_sregs size got %#x, want 0x138", got)
	}
	if got := unsafe.Sizeof(segment{}); got != 24 {
		t.Errorf("kvm_segment size got %d, want 24", got)
	}
	if got := unsafe.Sizeof(descriptor{}); got != 16 {
		t.Errorf("kvm_dtable size got %d, want 16", got)
	}
}

func TestSegmentLoad(t *testing.T) {
	for _, tc := range []struct {
		name string
		d    ring0.Descriptor
		sel  ring0.Selector
		want Segment
	}{
		{
			name: "kernel code",
			d:    ring0.KernelCodeSegment,
			sel:  0x8,
			want: Segment{
				Limit:       0xffffffff,
				Selector:    0x8,
				Type:        0xb,
				Present:     true,
				Long:        true,
				Granularity: true,
			},
		},
		{
			name: "user data",
			d:    ring0.UserDataSegment,
			sel:  0x23,
			want: Segment{
				Limit:       0xffffffff,
				Selector:    0x23,
				Type:        0x3,
				DPL:         ring0.Ring3,
				Present:     true,
				DB:          true,
				Granularity: true,
			},
		},
		{
			name: "not present",
			d:    ring0.DataSegment{Limit: 0xfff, Writable: true},
			sel:  0x10,
			want: Segment{Selector: 0x10, Unusable: true, System: true},
		},
		{
			name: "null",
			d:    ring0.Null{},
			sel:  0,
			want: Segment{Unusable: true, System: true},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			l, _ := newLoader()
			if err := l.LoadSegment(ring0.DS, tc.sel, tc.d); err != nil {
				t.Fatalf("LoadSegment got err %v", err)
			}
			st, err := l.State()
			if err != nil {
				t.Fatalf("State got err %v", err)
			}
			if diff := cmp.Diff(tc.want, st.DS); diff != "" {
				t.Errorf("DS mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLoadTask(t *testing.T) {
	l, _ := newLoader()
	d := ring0.TaskSegment{Base: 0xffff800012345000, Limit: 0x67, Present: true, Busy: true}
	if err := l.LoadTaskRegister(0x28, d); err != nil {
		t.Fatalf("LoadTaskRegister got err %v", err)
	}
	st, err := l.State()
	if err != nil {
		t.Fatalf("State got err %v", err)
	}
	want := Segment{
		Base:     0xffff800012345000,
		Limit:    0x67,
		Selector: 0x28,
		Type:     typeTSSBusy,
		Present:  true,
		System:   true,
	}
	if diff := cmp.Diff(want, st.TR); diff != "" {
		t.Errorf("TR mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadSegmentRejects(t *testing.T) {
	l, f := newLoader()
	err := l.LoadSegment(ring0.DS, 0x28, ring0.TaskSegment{Present: true})
	if !errors.Is(err, ring0.ErrInvalidSelector) {
		t.Errorf("LoadSegment(TSS) got err %v, want %v", err, ring0.ErrInvalidSelector)
	}
	if err := l.LoadSegment(ring0.SegmentRegister(42), 0x10, ring0.KernelDataSegment); err == nil {
		t.Errorf("LoadSegment(unknown register) got nil error")
	}
	if f.sets != 0 {
		t.Errorf("registers written %d times after failures", f.sets)
	}
}

func TestGetFailure(t *testing.T) {
	l, f := newLoader()
	f.fail = errors.New("ioctl failed")
	if err := l.LoadGDT(ring0.TableRegister{Base: 0x1000, Limit: 0x17}); !errors.Is(err, f.fail) {
		t.Errorf("LoadGDT got err %v, want %v", err, f.fail)
	}
	if f.sets != 0 {
		t.Errorf("registers written after failed read")
	}
}

// activate builds a complete table set and activates it through l.
func activate(t *testing.T, l ring0.Loader) (*ring0.Processor, *ring0.GDT, *ring0.IDT) {
	t.Helper()
	g, err := ring0.NewGDT(8)
	if err != nil {
		t.Fatalf("NewGDT failed: %v", err)
	}
	code, err := g.Append(kernelCode())
	if err != nil {
		t.Fatalf("Append(code) failed: %v", err)
	}
	data, err := g.Append(ring0.KernelDataSegment)
	if err != nil {
		t.Fatalf("Append(data) failed: %v", err)
	}
	ts := ring0.NewTaskState()
	stack := make([]byte, 4096)
	if err := ts.SetPrivilegeStack(ring0.Ring0, ring0.StackTop(stack)); err != nil {
		t.Fatalf("SetPrivilegeStack failed: %v", err)
	}
	// RSP0 holds only the address.
	t.Cleanup(func() { runtime.KeepAlive(stack) })
	tss, err := g.AppendTSS(ts)
	if err != nil {
		t.Fatalf("AppendTSS failed: %v", err)
	}
	idt := ring0.NewIDT()
	for _, v := range abi.CoreExceptions() {
		ep := abi.NewEntryPoint(0x1000+uintptr(v)*0x10, abi.KindOf(v))
		if err := idt.SetHandler(v, ep, ring0.GateOptions{Selector: code}); err != nil {
			t.Fatalf("SetHandler(%v) failed: %v", v, err)
		}
	}

	p, err := ring0.NewProcessor(ring0.ProcessorOpts{Loader: l})
	if err != nil {
		t.Fatalf("NewProcessor failed: %v", err)
	}
	t.Cleanup(p.Reset)
	if err := p.LoadGDT(g); err != nil {
		t.Fatalf("LoadGDT failed: %v", err)
	}
	if err := p.LoadIDT(idt); err != nil {
		t.Fatalf("LoadIDT failed: %v", err)
	}
	if err := p.LoadTaskRegister(tss); err != nil {
		t.Fatalf("LoadTaskRegister failed: %v", err)
	}
	if err := p.LoadSegment(ring0.CS, code); err != nil {
		t.Fatalf("LoadSegment(CS) failed: %v", err)
	}
	for _, reg := range []ring0.SegmentRegister{ring0.DS, ring0.ES, ring0.SS} {
		if err := p.LoadSegment(reg, data); err != nil {
			t.Fatalf("LoadSegment(%v) failed: %v", reg, err)
		}
	}
	return p, g, idt
}

// checkState verifies the state after activate.
func checkState(t *testing.T, st State, g *ring0.GDT, idt *ring0.IDT) {
	t.Helper()
	wantGDT := ring0.TableRegister{Base: uint64(g.Base()), Limit: g.Limit()}
	if st.GDT != wantGDT {
		t.Errorf("GDT got %v, want %v", st.GDT, wantGDT)
	}
	wantIDT := ring0.TableRegister{Base: uint64(idt.Base()), Limit: idt.Limit()}
	if st.IDT != wantIDT {
		t.Errorf("IDT got %v, want %v", st.IDT, wantIDT)
	}
	if st.TR.Type != typeTSSBusy || !st.TR.Present {
		t.Errorf("TR got %+v, want present busy TSS", st.TR)
	}
	if st.CS.Selector != 0x8 || st.CS.Type&0x8 == 0 || st.CS.Long != ring0.LongMode {
		t.Errorf("CS got %+v", st.CS)
	}
	for name, s := range map[string]Segment{"ds": st.DS, "es": st.ES, "ss": st.SS} {
		if s.Selector != 0x10 || s.Unusable {
			t.Errorf("%s got %+v", name, s)
		}
	}
}

func TestProcessorActivation(t *testing.T) {
	l, _ := newLoader()
	_, g, idt := activate(t, l)
	st, err := l.State()
	if err != nil {
		t.Fatalf("State got err %v", err)
	}
	checkState(t, st, g, idt)
}
