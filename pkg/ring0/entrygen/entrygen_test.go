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

package entrygen

import (
	"bytes"
	"errors"
	"go/ast"
	"go/parser"
	"go/token"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/x86/pkg/ring0/abi"
)

func TestStubLines(t *testing.T) {
	for _, tc := range []struct {
		name   string
		arch   abi.Arch
		vector abi.Vector
		want   []string
	}{
		{
			name:   "386 no error code",
			arch:   abi.I386,
			vector: abi.Breakpoint,
			want: []string{
				"PUSHL $0",
				"PUSHL $3",
				"PUSHL AX", "PUSHL BX", "PUSHL CX", "PUSHL DX", "PUSHL SI", "PUSHL DI", "PUSHL BP",
				"MOVL SP, AX",
				"PUSHL AX",
				"CALL ·dispatch(SB)",
				"ADDL $4, SP",
				"POPL BP", "POPL DI", "POPL SI", "POPL DX", "POPL CX", "POPL BX", "POPL AX",
				"ADDL $8, SP",
				"IRETL",
			},
		},
		{
			name:   "386 error code",
			arch:   abi.I386,
			vector: abi.PageFault,
			want: []string{
				"PUSHL $14",
				"PUSHL AX", "PUSHL BX", "PUSHL CX", "PUSHL DX", "PUSHL SI", "PUSHL DI", "PUSHL BP",
				"MOVL SP, AX",
				"PUSHL AX",
				"CALL ·dispatch(SB)",
				"ADDL $4, SP",
				"POPL BP", "POPL DI", "POPL SI", "POPL DX", "POPL CX", "POPL BX", "POPL AX",
				"ADDL $8, SP",
				"IRETL",
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			stubs, err := Stubs(Options{Package: "kernel", Arch: tc.arch, Vectors: []abi.Vector{tc.vector}})
			if err != nil {
				t.Fatalf("Stubs got err %v", err)
			}
			if len(stubs) != 1 {
				t.Fatalf("got %d stubs, want 1", len(stubs))
			}
			if diff := cmp.Diff(tc.want, stubs[0].Lines); diff != "" {
				t.Errorf("lines mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestStubsAMD64(t *testing.T) {
	stubs, err := Stubs(Options{Package: "kernel", Arch: abi.AMD64})
	if err != nil {
		t.Fatalf("Stubs got err %v", err)
	}
	if len(stubs) != abi.NumVectors {
		t.Fatalf("got %d stubs, want %d", len(stubs), abi.NumVectors)
	}
	for _, s := range stubs {
		if s.Kind != abi.KindOf(s.Vector) {
			t.Errorf("%s: kind %v, want %v", s.Name, s.Kind, abi.KindOf(s.Vector))
		}
		pushes, pops := 0, 0
		for _, l := range s.Lines {
			switch {
			case strings.HasPrefix(l, "PUSHQ "):
				pushes++
			case strings.HasPrefix(l, "POPQ "):
				pops++
			}
		}
		// Vector, frame pointer and 15 registers, plus the dummy error code.
		wantPushes := 17
		if !s.Vector.HasErrorCode() {
			wantPushes++
		}
		if pushes != wantPushes || pops != 15 {
			t.Errorf("%s: %d pushes and %d pops, want %d and 15", s.Name, pushes, pops, wantPushes)
		}
		if last := s.Lines[len(s.Lines)-1]; last != "IRETQ" {
			t.Errorf("%s: last instruction %q, want IRETQ", s.Name, last)
		}
	}
}

func TestOptionErrors(t *testing.T) {
	for _, tc := range []struct {
		name string
		opts Options
		want error
	}{
		{name: "bad package", opts: Options{Package: "not a name", Arch: abi.AMD64}},
		{name: "bad dispatch", opts: Options{Package: "kernel", Arch: abi.AMD64, Dispatch: "1x"}},
		{name: "duplicate", opts: Options{Package: "kernel", Arch: abi.AMD64, Vectors: []abi.Vector{3, 3}}},
		{name: "range", opts: Options{Package: "kernel", Arch: abi.AMD64, Vectors: []abi.Vector{256}}, want: abi.ErrVectorOutOfRange},
		{name: "arch", opts: Options{Package: "kernel", Arch: abi.Arch(9), Vectors: []abi.Vector{1}}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Stubs(tc.opts)
			if err == nil {
				t.Fatalf("Stubs got nil error")
			}
			if tc.want != nil && !errors.Is(err, tc.want) {
				t.Errorf("Stubs got err %v, want %v", err, tc.want)
			}
		})
	}
}

func TestAssembly(t *testing.T) {
	var buf bytes.Buffer
	opts := Options{
		Package:  "kernel",
		Arch:     abi.AMD64,
		Vectors:  []abi.Vector{abi.PageFault, abi.DivideByZero},
		Dispatch: "trap",
	}
	if err := Assembly(&buf, opts); err != nil {
		t.Fatalf("Assembly got err %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		header,
		"//go:build amd64",
		`#include "textflag.h"`,
		"TEXT ·vector0(SB),NOSPLIT|NOFRAME,$0-0",
		"TEXT ·vector14(SB),NOSPLIT|NOFRAME,$0-0",
		"TEXT ·addrOfVector14(SB),NOSPLIT,$0-8",
		"MOVQ $·vector14(SB), AX",
		"CALL ·trap(SB)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("assembly missing %q:\n%s", want, out)
		}
	}
	if i, j := strings.Index(out, "·vector0(SB)"), strings.Index(out, "·vector14(SB)"); i > j {
		t.Errorf("stubs not sorted by vector")
	}
}

func TestDeclarations(t *testing.T) {
	var buf bytes.Buffer
	opts := Options{
		Package: "kernel",
		Arch:    abi.I386,
		Vectors: []abi.Vector{abi.DoubleFault, abi.NMI, 200},
	}
	if err := Declarations(&buf, opts); err != nil {
		t.Fatalf("Declarations got err %v", err)
	}
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, "entry_386.go", buf.Bytes(), parser.ParseComments)
	if err != nil {
		t.Fatalf("generated declarations do not parse: %v\n%s", err, buf.String())
	}
	if f.Name.Name != "kernel" {
		t.Errorf("package %q, want kernel", f.Name.Name)
	}
	var stubs, addrs []string
	for _, d := range f.Decls {
		fn, ok := d.(*ast.FuncDecl)
		if !ok {
			continue
		}
		switch {
		case fn.Body != nil:
			if fn.Name.Name != "entryPoints" {
				t.Errorf("unexpected function with body %s", fn.Name.Name)
			}
		case strings.HasPrefix(fn.Name.Name, "addrOf"):
			addrs = append(addrs, fn.Name.Name)
		default:
			stubs = append(stubs, fn.Name.Name)
		}
	}
	if diff := cmp.Diff([]string{"vector2", "vector8", "vector200"}, stubs); diff != "" {
		t.Errorf("stubs mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"addrOfVector2", "addrOfVector8", "addrOfVector200"}, addrs); diff != "" {
		t.Errorf("addrs mismatch (-want +got):\n%s", diff)
	}
	out := buf.String()
	for _, want := range []string{
		"//go:build 386",
		`import "gvisor.dev/x86/pkg/ring0/abi"`,
		"{Addr: addrOfVector8(), Kind: abi.WithErrorCode}",
		"{Addr: addrOfVector200(), Kind: abi.NoErrorCode}",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("declarations missing %q:\n%s", want, out)
		}
	}
}

func TestFileNames(t *testing.T) {
	asm, decl := FileNames(abi.I386)
	if asm != "entry_386.s" || decl != "entry_386.go" {
		t.Errorf("FileNames got %q, %q", asm, decl)
	}
}
