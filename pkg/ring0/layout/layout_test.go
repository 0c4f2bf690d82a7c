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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/x86/pkg/ring0"
	"gvisor.dev/x86/pkg/ring0/abi"
)

// minimal is a layout valid in either configuration.
var minimal = fmt.Sprintf(`
[[segment]]
name = "kcode"
kind = "code"
long = %v
default_size_32 = %v

[[segment]]
name = "kdata"
kind = "data"

[[gate]]
all = true
segment = "kcode"

[registers]
cs = "kcode"
ss = "kdata"
ds = "kdata"
`, ring0.LongMode, !ring0.LongMode)

func entries() map[abi.Vector]abi.EntryPoint {
	return SyntheticEntries(0x100000, 0x20)
}

func TestLoadKernel(t *testing.T) {
	if !ring0.LongMode {
		t.Skip("layout requires long mode")
	}
	l, err := Load("testdata/kernel.toml")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	stacks := &HeapStacks{}
	tb, err := Build(l, entries(), stacks)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	want := map[string]ring0.Selector{
		"kcode":   0x08,
		"kdata":   0x10,
		"ucode32": 0x1b,
		"udata":   0x23,
		"ucode64": 0x2b,
	}
	if diff := cmp.Diff(want, tb.Selectors); diff != "" {
		t.Errorf("selectors mismatch (-want +got):\n%s", diff)
	}
	if tb.TSS != 0x30 {
		t.Errorf("TSS selector got %v, want 0x30", tb.TSS)
	}
	if got := stacks.Len(); got != 3 {
		t.Errorf("allocated %d stacks, want 3", got)
	}
	for index := uint8(1); index <= 2; index++ {
		if tb.TaskState.InterruptStack(index) == 0 {
			t.Errorf("interrupt stack %d not set", index)
		}
	}
	if tb.TaskState.PrivilegeStack(ring0.Ring0) == 0 {
		t.Errorf("ring 0 stack not set")
	}

	for _, tc := range []struct {
		v    abi.Vector
		want ring0.GateOptions
	}{
		{abi.DivideByZero, ring0.GateOptions{Selector: 0x08}},
		{abi.NMI, ring0.GateOptions{Selector: 0x08, Stack: 2}},
		{abi.Breakpoint, ring0.GateOptions{Selector: 0x08, DPL: ring0.Ring3, Trap: true}},
		{abi.Overflow, ring0.GateOptions{Selector: 0x08, DPL: ring0.Ring3, Trap: true}},
		{abi.DoubleFault, ring0.GateOptions{Selector: 0x08, Stack: 1}},
		{200, ring0.GateOptions{Selector: 0x08}},
	} {
		got, ok := tb.IDT.Options(tc.v)
		if !ok {
			t.Errorf("%v: no gate", tc.v)
			continue
		}
		if got != tc.want {
			t.Errorf("%v: options got %+v, want %+v", tc.v, got, tc.want)
		}
	}

	p, err := tb.NewProcessor(0, &ring0.LoggingLoader{})
	if err != nil {
		t.Fatalf("NewProcessor failed: %v", err)
	}
	defer p.Reset()
	if err := tb.Activate(p); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	if sel, ok := p.TaskRegister(); !ok || sel != 0x30 {
		t.Errorf("task register got %v, %v", sel, ok)
	}
	for reg, want := range map[ring0.SegmentRegister]ring0.Selector{
		ring0.CS: 0x08,
		ring0.SS: 0x10,
		ring0.DS: 0x23,
		ring0.ES: 0x23,
	} {
		if got, ok := p.Segment(reg); !ok || got != want {
			t.Errorf("%v got %v, %v, want %v", reg, got, ok, want)
		}
	}
	if _, ok := p.Segment(ring0.FS); ok {
		t.Errorf("fs loaded, want untouched")
	}
}

func TestParseErrors(t *testing.T) {
	for _, tc := range []struct {
		name string
		data string
		want error
	}{
		{
			name: "unknown key",
			data: `colour = "blue"`,
			want: ErrInvalidLayout,
		},
		{
			name: "negative capacity",
			data: `gdt_capacity = -1`,
			want: ErrInvalidLayout,
		},
		{
			name: "unnamed segment",
			data: "[[segment]]\nkind = \"code\"",
			want: ErrInvalidLayout,
		},
		{
			name: "duplicate segment",
			data: "[[segment]]\nname = \"a\"\nkind = \"code\"\n[[segment]]\nname = \"a\"\nkind = \"data\"",
			want: ErrInvalidLayout,
		},
		{
			name: "bad kind",
			data: "[[segment]]\nname = \"a\"\nkind = \"gate\"",
			want: ErrInvalidLayout,
		},
		{
			name: "gate to data",
			data: "[[segment]]\nname = \"d\"\nkind = \"data\"\n[[gate]]\nvector = 0\nsegment = \"d\"",
			want: ErrInvalidLayout,
		},
		{
			name: "gate to nothing",
			data: "[[gate]]\nvector = 0\nsegment = \"x\"",
			want: ErrInvalidLayout,
		},
		{
			name: "gate selects nothing",
			data: "[[segment]]\nname = \"c\"\nkind = \"code\"\n[[gate]]\nsegment = \"c\"",
			want: ErrInvalidLayout,
		},
		{
			name: "vector out of range",
			data: "[[segment]]\nname = \"c\"\nkind = \"code\"\n[[gate]]\nvector = 256\nsegment = \"c\"",
			want: abi.ErrVectorOutOfRange,
		},
		{
			name: "required out of range",
			data: `required = [300]`,
			want: abi.ErrVectorOutOfRange,
		},
		{
			name: "unknown register",
			data: "[[segment]]\nname = \"c\"\nkind = \"code\"\n[registers]\nxs = \"c\"",
			want: ErrInvalidLayout,
		},
		{
			name: "register to nothing",
			data: "[registers]\ncs = \"c\"",
			want: ErrInvalidLayout,
		},
		{
			name: "stack segment",
			data: "[[segment]]\nname = \"c\"\nkind = \"code\"\n[tss]\nstack_segment = \"c\"",
			want: ErrInvalidLayout,
		},
		{
			name: "syntax",
			data: `gdt_capacity = `,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.data)
			if err == nil {
				t.Fatalf("Parse got nil error")
			}
			if tc.want != nil && !errors.Is(err, tc.want) {
				t.Errorf("Parse got err %v, want %v", err, tc.want)
			}
		})
	}
}

func TestBuildErrors(t *testing.T) {
	for _, tc := range []struct {
		name    string
		data    string
		entries map[abi.Vector]abi.EntryPoint
		stacks  Stacks
		want    error
	}{
		{
			name: "missing entries",
			data: minimal,
			want: abi.ErrNilEntry,
		},
		{
			name: "wrong ABI",
			data: minimal,
			entries: func() map[abi.Vector]abi.EntryPoint {
				m := entries()
				m[abi.PageFault] = abi.NewEntryPoint(0x2000, abi.NoErrorCode)
				return m
			}(),
			want: abi.ErrABIMismatch,
		},
		{
			name:    "not ready",
			data:    "[[segment]]\nname = \"c\"\nkind = \"code\"\n[[gate]]\nvector = 0\nsegment = \"c\"",
			entries: entries(),
			want:    ring0.ErrNotReady,
		},
		{
			name:    "no stacks",
			data:    minimal + "\n[tss]\n",
			entries: entries(),
			want:    ErrInvalidLayout,
		},
		{
			name:    "capacity",
			data:    "gdt_capacity = 2\n" + minimal,
			entries: entries(),
			want:    ring0.ErrCapacityExceeded,
		},
		{
			name:    "privilege",
			data:    "[[segment]]\nname = \"c\"\nkind = \"data\"\ndpl = 4",
			entries: entries(),
			want:    ring0.ErrInvalidPrivilege,
		},
		{
			name:    "privilege stack ring",
			data:    minimal + "\n[tss]\nprivilege_stacks = [3]\n",
			entries: entries(),
			stacks:  &HeapStacks{},
			want:    ring0.ErrInvalidPrivilege,
		},
		{
			name:    "tiny stacks",
			data:    minimal + "\n[tss]\n",
			entries: entries(),
			stacks:  &HeapStacks{Size: 8},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			l, err := Parse(tc.data)
			if err != nil {
				t.Fatalf("Parse failed: %v", err)
			}
			_, err = Build(l, tc.entries, tc.stacks)
			if err == nil {
				t.Fatalf("Build got nil error")
			}
			if tc.want != nil && !errors.Is(err, tc.want) {
				t.Errorf("Build got err %v, want %v", err, tc.want)
			}
		})
	}
}

func TestRequiredOverride(t *testing.T) {
	l, err := Parse("required = [0]\n[[segment]]\nname = \"c\"\nkind = \"code\"\n[[gate]]\nvector = 0\nsegment = \"c\"")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	tb, err := Build(l, entries(), nil)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if diff := cmp.Diff([]abi.Vector{0}, tb.Required); diff != "" {
		t.Errorf("required mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]abi.Vector{0}, l.Vectors()); diff != "" {
		t.Errorf("vectors mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildAll(t *testing.T) {
	l, err := Parse(minimal + "\n[tss]\n")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	const n = 4
	all, err := BuildAll(context.Background(), l, n, entries(), func(int) Stacks { return &HeapStacks{} })
	if err != nil {
		t.Fatalf("BuildAll failed: %v", err)
	}
	if len(all) != n {
		t.Fatalf("got %d table sets, want %d", len(all), n)
	}
	gdts := make(map[*ring0.GDT]bool)
	tss := make(map[uintptr]bool)
	for cpu, tb := range all {
		gdts[tb.GDT] = true
		tss[tb.TaskState.Addr()] = true

		p, err := tb.NewProcessor(cpu, &ring0.LoggingLoader{})
		if err != nil {
			t.Fatalf("NewProcessor failed: %v", err)
		}
		if err := tb.Activate(p); err != nil {
			t.Errorf("CPU %d: Activate failed: %v", cpu, err)
		}
		p.Reset()
	}
	if len(gdts) != n || len(tss) != n {
		t.Errorf("tables shared between processors: %d GDTs, %d TSSes", len(gdts), len(tss))
	}
}

func TestBuildAllErrors(t *testing.T) {
	l, err := Parse(minimal)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if _, err := BuildAll(context.Background(), l, 0, entries(), nil); !errors.Is(err, ErrInvalidLayout) {
		t.Errorf("BuildAll(0) got err %v, want %v", err, ErrInvalidLayout)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := BuildAll(ctx, l, 2, entries(), nil); !errors.Is(err, context.Canceled) {
		t.Errorf("BuildAll(cancelled) got err %v, want %v", err, context.Canceled)
	}
	if _, err := BuildAll(context.Background(), l, 2, nil, nil); !errors.Is(err, abi.ErrNilEntry) {
		t.Errorf("BuildAll(no entries) got err %v, want %v", err, abi.ErrNilEntry)
	}
}

func TestSegmentDefaults(t *testing.T) {
	s := Segment{Name: "d", Kind: KindData, DPL: 3}
	d, err := s.Descriptor()
	if err != nil {
		t.Fatalf("Descriptor failed: %v", err)
	}
	if diff := cmp.Diff(ring0.Descriptor(ring0.UserDataSegment), d); diff != "" {
		t.Errorf("descriptor mismatch (-want +got):\n%s", diff)
	}
	if got := s.rpl(); got != ring0.Ring3 {
		t.Errorf("rpl got %d, want 3", got)
	}
}

func TestParseYAML(t *testing.T) {
	data := fmt.Sprintf(`
segment:
- name: kcode
  kind: code
  long: %v
  default_size_32: %v
- name: udata
  kind: data
  dpl: 3
tss: {}
gate:
- all: true
  segment: kcode
- vectors: [3]
  segment: kcode
  dpl: 3
registers:
  cs: kcode
`, ring0.LongMode, !ring0.LongMode)
	l, err := ParseYAML([]byte(data))
	if err != nil {
		t.Fatalf("ParseYAML failed: %v", err)
	}
	tb, err := Build(l, entries(), &HeapStacks{})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if sel, _ := tb.Selector("udata"); sel != 0x13 {
		t.Errorf("udata selector got %v, want 0x13", sel)
	}
	if tb.TaskState == nil {
		t.Errorf("no task state built")
	}
	if opts, _ := tb.IDT.Options(abi.Breakpoint); opts.DPL != ring0.Ring3 {
		t.Errorf("breakpoint DPL got %d, want 3", opts.DPL)
	}

	if _, err := ParseYAML([]byte("colour: blue\n")); !errors.Is(err, ErrInvalidLayout) {
		t.Errorf("ParseYAML(unknown key) got err %v, want %v", err, ErrInvalidLayout)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "layout.yml")
	if err := os.WriteFile(path, []byte("segment:\n- name: c\n  kind: gate\n"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if _, err := Load(path); !errors.Is(err, ErrInvalidLayout) {
		t.Errorf("Load got err %v, want %v", err, ErrInvalidLayout)
	}
}
