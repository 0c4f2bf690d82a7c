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

// Package entrygen generates interrupt entry stubs.
//
// Every stub is rendered from abi.NewPlan, and every plan is checked with
// abi.Verify before it is written, so the prologue and epilogue of a stub
// are never written by hand. The generated package must define
//
//	func dispatch(tf *abi.TrapFrame)
//
// (or *abi.TrapFrame32 for 386), which every stub calls with the frame it
// built. abi.NewDispatcher and abi.NewDispatcher32 provide the matching
// handler tables. The name can be changed with Options.Dispatch.
package entrygen

import (
	"bytes"
	"fmt"
	"go/format"
	"go/token"
	"io"
	"sort"
	"text/template"

	"gvisor.dev/x86/pkg/ring0/abi"
)

// DefaultABIImport is the import path of package abi.
const DefaultABIImport = "gvisor.dev/x86/pkg/ring0/abi"

// Options control generation.
type Options struct {
	// Package is the name of the generated package.
	Package string

	// Arch selects the instruction set.
	Arch abi.Arch

	// Vectors are the vectors to generate stubs for. If nil, all 256.
	Vectors []abi.Vector

	// Dispatch is the Go function every stub calls. Default "dispatch".
	Dispatch string

	// ABIImport is the import path of package abi. Default
	// DefaultABIImport.
	ABIImport string
}

// Stub is one generated entry stub.
type Stub struct {
	Name     string
	AddrName string
	Vector   abi.Vector
	Kind     abi.Kind

	// Lines are the assembly instructions.
	Lines []string
}

// StubName returns the name of the stub for v.
func StubName(v abi.Vector) string {
	return fmt.Sprintf("vector%d", uint(v))
}

// AddrName returns the name of the function returning the address of the
// stub for v.
func AddrName(v abi.Vector) string {
	return fmt.Sprintf("addrOfVector%d", uint(v))
}

func (o *Options) normalize() error {
	if !token.IsIdentifier(o.Package) {
		return fmt.Errorf("invalid package name %q", o.Package)
	}
	if o.Dispatch == "" {
		o.Dispatch = "dispatch"
	}
	if !token.IsIdentifier(o.Dispatch) {
		return fmt.Errorf("invalid dispatch function %q", o.Dispatch)
	}
	if o.ABIImport == "" {
		o.ABIImport = DefaultABIImport
	}
	if o.Vectors == nil {
		for v := abi.Vector(0); v < abi.NumVectors; v++ {
			o.Vectors = append(o.Vectors, v)
		}
		return nil
	}
	vs := append([]abi.Vector(nil), o.Vectors...)
	sort.Slice(vs, func(i, j int) bool { return vs[i] < vs[j] })
	for i, v := range vs {
		if !v.Valid() {
			return fmt.Errorf("%w: %d", abi.ErrVectorOutOfRange, uint(v))
		}
		if i > 0 && vs[i-1] == v {
			return fmt.Errorf("duplicate vector %v", v)
		}
	}
	o.Vectors = vs
	return nil
}

// mnemonics are the width dependent instructions.
type mnemonics struct {
	push, pop, mov, add, iret string
}

func mnemonicsFor(a abi.Arch) (mnemonics, error) {
	switch a {
	case abi.AMD64:
		return mnemonics{"PUSHQ", "POPQ", "MOVQ", "ADDQ", "IRETQ"}, nil
	case abi.I386:
		return mnemonics{"PUSHL", "POPL", "MOVL", "ADDL", "IRETL"}, nil
	default:
		return mnemonics{}, fmt.Errorf("unsupported architecture %v", a)
	}
}

// render returns the instructions for p.
func render(p abi.Plan, dispatch string) ([]string, error) {
	m, err := mnemonicsFor(p.Arch)
	if err != nil {
		return nil, err
	}
	var lines []string
	for _, o := range p.Ops {
		switch o.Code {
		case abi.OpPushImm:
			lines = append(lines, fmt.Sprintf("%s $%d", m.push, o.Imm))
		case abi.OpPushReg:
			lines = append(lines, fmt.Sprintf("%s %s", m.push, o.Reg.AsmName()))
		case abi.OpPopReg:
			lines = append(lines, fmt.Sprintf("%s %s", m.pop, o.Reg.AsmName()))
		case abi.OpPushFrame:
			lines = append(lines,
				fmt.Sprintf("%s SP, AX", m.mov),
				fmt.Sprintf("%s AX", m.push))
		case abi.OpCall:
			lines = append(lines, fmt.Sprintf("CALL ·%s(SB)", dispatch))
		case abi.OpAddSP:
			lines = append(lines, fmt.Sprintf("%s $%d, SP", m.add, o.Imm*uint64(p.Arch.WordSize())))
		case abi.OpIRet:
			lines = append(lines, m.iret)
		default:
			return nil, fmt.Errorf("unknown step %v", o)
		}
	}
	return lines, nil
}

// Stubs returns the stubs described by opts.
func Stubs(opts Options) ([]Stub, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}
	stubs := make([]Stub, 0, len(opts.Vectors))
	for _, v := range opts.Vectors {
		p, err := abi.NewPlan(opts.Arch, v)
		if err != nil {
			return nil, err
		}
		for _, privilegeChange := range []bool{false, true} {
			if err := abi.Verify(p, privilegeChange); err != nil {
				return nil, fmt.Errorf("plan for %v: %w", v, err)
			}
		}
		lines, err := render(p, opts.Dispatch)
		if err != nil {
			return nil, err
		}
		stubs = append(stubs, Stub{
			Name:     StubName(v),
			AddrName: AddrName(v),
			Vector:   v,
			Kind:     p.Kind,
			Lines:    lines,
		})
	}
	return stubs, nil
}

const header = "// Code generated by ring0ctl gen. DO NOT EDIT."

var asmTemplate = template.Must(template.New("asm").Parse(header + `

//go:build {{.Arch}}
// +build {{.Arch}}

#include "textflag.h"
{{range .Stubs}}
// {{.Name}} is the entry stub for {{.Vector}} ({{.Kind}}).
TEXT ·{{.Name}}(SB),NOSPLIT|NOFRAME,$0-0
{{- range .Lines}}
	{{.}}
{{- end}}

TEXT ·{{.AddrName}}(SB),NOSPLIT,$0-{{$.Word}}
	{{$.Mov}} $·{{.Name}}(SB), AX
	{{$.Mov}} AX, ret+0(FP)
	RET
{{end -}}
`))

var declTemplate = template.Must(template.New("decl").Parse(header + `

//go:build {{.Arch}}
// +build {{.Arch}}

package {{.Package}}

import "{{.ABIImport}}"

// Entry stubs. These are assembly functions.
{{- range .Stubs}}
func {{.Name}}()
{{- end}}

// These return the start address of the functions above.
//
// In Go 1.17+, Go references to assembly functions resolve to an ABIInternal
// wrapper function rather than the function itself. We must reference from
// assembly to get the ABI0 (i.e., primary) address.
{{- range .Stubs}}
func {{.AddrName}}() uintptr
{{- end}}

// entryPoints returns the entry point of every stub, tagged with the ABI it
// was generated for.
func entryPoints() map[abi.Vector]abi.EntryPoint {
	return map[abi.Vector]abi.EntryPoint{
{{- range .Stubs}}
		{{printf "%d" .Vector}}: {Addr: {{.AddrName}}(), Kind: abi.{{.Kind}}}, // {{.Vector}}
{{- end}}
	}
}
`))

type templateData struct {
	Options
	Stubs []Stub
	Word  int
	Mov   string
}

func data(opts Options) (*templateData, error) {
	m, err := mnemonicsFor(opts.Arch)
	if err != nil {
		return nil, err
	}
	stubs, err := Stubs(opts)
	if err != nil {
		return nil, err
	}
	if err := opts.normalize(); err != nil {
		return nil, err
	}
	return &templateData{
		Options: opts,
		Stubs:   stubs,
		Word:    opts.Arch.WordSize(),
		Mov:     m.mov,
	}, nil
}

// Assembly writes the assembly file for opts.
func Assembly(w io.Writer, opts Options) error {
	d, err := data(opts)
	if err != nil {
		return err
	}
	return asmTemplate.Execute(w, d)
}

// Declarations writes the Go declarations matching Assembly.
func Declarations(w io.Writer, opts Options) error {
	d, err := data(opts)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := declTemplate.Execute(&buf, d); err != nil {
		return err
	}
	src, err := format.Source(buf.Bytes())
	if err != nil {
		return fmt.Errorf("formatting declarations: %w", err)
	}
	_, err = w.Write(src)
	return err
}

// FileNames returns the conventional names of the generated files.
func FileNames(a abi.Arch) (asm, decl string) {
	return fmt.Sprintf("entry_%v.s", a), fmt.Sprintf("entry_%v.go", a)
}
