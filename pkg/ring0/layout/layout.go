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

// Package layout describes a descriptor table set in TOML and builds it.
//
// A layout names its segments and refers to them by name from gates and
// segment registers:
//
//	gdt_capacity = 16
//
//	[[segment]]
//	name = "kcode"
//	kind = "code"
//	long = true
//
//	[[segment]]
//	name = "kdata"
//	kind = "data"
//
//	[tss]
//	interrupt_stacks = [1]
//
//	[[gate]]
//	all = true
//	segment = "kcode"
//
//	[[gate]]
//	vector = 8
//	segment = "kcode"
//	stack = 1
//
//	[registers]
//	cs = "kcode"
//	ss = "kdata"
//
// Later gates override earlier gates for the same vector. The same keys may
// be written in YAML.
package layout

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	yaml "gopkg.in/yaml.v2"
	"gvisor.dev/x86/pkg/ring0"
	"gvisor.dev/x86/pkg/ring0/abi"
)

// ErrInvalidLayout is returned for layouts that are inconsistent.
var ErrInvalidLayout = errors.New("invalid layout")

// DefaultGDTCapacity is used when gdt_capacity is zero.
const DefaultGDTCapacity = 16

// DefaultStackSize is the size of each stack allocated by HeapStacks.
const DefaultStackSize = 16 << 10

// Segment kinds.
const (
	KindCode = "code"
	KindData = "data"
)

// Layout is a descriptor table set.
type Layout struct {
	// GDTCapacity is the number of GDT entries, including the null
	// descriptor.
	GDTCapacity int `toml:"gdt_capacity" yaml:"gdt_capacity"`

	Segments []Segment `toml:"segment" yaml:"segment"`

	// TSS is optional. If set, a task state segment is appended after the
	// segments.
	TSS *TSS `toml:"tss" yaml:"tss"`

	Gates []Gate `toml:"gate" yaml:"gate"`

	// Registers maps segment register names to segment names. They are
	// loaded, in this order, by Tables.Activate: cs, ss, ds, es, fs, gs.
	Registers map[string]string `toml:"registers" yaml:"registers"`

	// Required lists the vectors that must have gates before the IDT can
	// be loaded. If nil, the architectural exceptions are required.
	Required []uint `toml:"required" yaml:"required"`
}

// Segment is a code or data segment.
type Segment struct {
	Name string `toml:"name" yaml:"name"`
	Kind string `toml:"kind" yaml:"kind"`
	DPL  uint8  `toml:"dpl" yaml:"dpl"`

	// RPL is the requested privilege of the selector. Defaults to DPL.
	RPL *uint8 `toml:"rpl" yaml:"rpl"`

	Base uint32 `toml:"base" yaml:"base"`

	// Limit is the 20 bit limit. Defaults to ring0.MaxSegmentLimit.
	Limit *uint32 `toml:"limit" yaml:"limit"`

	// Granularity scales the limit by pages. Defaults to true.
	Granularity *bool `toml:"granularity" yaml:"granularity"`

	// Code segments.
	Long          bool  `toml:"long" yaml:"long"`
	DefaultSize32 bool  `toml:"default_size_32" yaml:"default_size_32"`
	Conforming    bool  `toml:"conforming" yaml:"conforming"`
	Readable      *bool `toml:"readable" yaml:"readable"`

	// Data segments.
	Writable   *bool `toml:"writable" yaml:"writable"`
	ExpandDown bool  `toml:"expand_down" yaml:"expand_down"`
	Big        *bool `toml:"big" yaml:"big"`
}

// TSS is a task state segment.
type TSS struct {
	// PrivilegeStacks are the rings that get a stack. Defaults to [0].
	PrivilegeStacks []uint8 `toml:"privilege_stacks" yaml:"privilege_stacks"`

	// InterruptStacks are the interrupt stack table indices that get a stack.
	InterruptStacks []uint8 `toml:"interrupt_stacks" yaml:"interrupt_stacks"`

	// StackSegment names the data segment used for privilege stacks, for
	// task states that carry one.
	StackSegment string `toml:"stack_segment" yaml:"stack_segment"`

	// IOMapBase is the I/O permission bitmap offset. Defaults to the size of
	// the task state, meaning no bitmap.
	IOMapBase *uint16 `toml:"io_map_base" yaml:"io_map_base"`
}

// Gate binds one or more vectors to a code segment.
type Gate struct {
	Vector  *uint  `toml:"vector" yaml:"vector"`
	Vectors []uint `toml:"vectors" yaml:"vectors"`

	// All selects every vector.
	All bool `toml:"all" yaml:"all"`

	// Segment names the code segment the handler runs in.
	Segment string `toml:"segment" yaml:"segment"`

	DPL   uint8 `toml:"dpl" yaml:"dpl"`
	Stack uint8 `toml:"stack" yaml:"stack"`
	Trap  bool  `toml:"trap" yaml:"trap"`
}

// vectors returns the vectors g selects.
func (g *Gate) vectors() []abi.Vector {
	var vs []abi.Vector
	if g.All {
		for v := abi.Vector(0); v < abi.NumVectors; v++ {
			vs = append(vs, v)
		}
		return vs
	}
	if g.Vector != nil {
		vs = append(vs, abi.Vector(*g.Vector))
	}
	for _, v := range g.Vectors {
		vs = append(vs, abi.Vector(v))
	}
	return vs
}

// Load decodes the layout in path. Files ending in .yaml or .yml are decoded
// as YAML, with the same keys; anything else is TOML.
func Load(path string) (*Layout, error) {
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		l, err := decodeYAML(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return l, nil
	}
	var l Layout
	md, err := toml.DecodeFile(path, &l)
	if err != nil {
		return nil, err
	}
	if err := checkUndecoded(md); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := l.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &l, nil
}

// Parse decodes a layout.
func Parse(data string) (*Layout, error) {
	var l Layout
	md, err := toml.Decode(data, &l)
	if err != nil {
		return nil, err
	}
	if err := checkUndecoded(md); err != nil {
		return nil, err
	}
	if err := l.Validate(); err != nil {
		return nil, err
	}
	return &l, nil
}

// ParseYAML decodes a layout written in YAML.
func ParseYAML(data []byte) (*Layout, error) {
	return decodeYAML(bytes.NewReader(data))
}

func decodeYAML(r io.Reader) (*Layout, error) {
	var l Layout
	dec := yaml.NewDecoder(r)
	dec.SetStrict(true)
	if err := dec.Decode(&l); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLayout, err)
	}
	if err := l.Validate(); err != nil {
		return nil, err
	}
	return &l, nil
}

func checkUndecoded(md toml.MetaData) error {
	keys := md.Undecoded()
	if len(keys) == 0 {
		return nil
	}
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		names = append(names, k.String())
	}
	return fmt.Errorf("%w: unknown keys %s", ErrInvalidLayout, strings.Join(names, ", "))
}

var registerNames = map[string]ring0.SegmentRegister{
	"cs": ring0.CS,
	"ds": ring0.DS,
	"es": ring0.ES,
	"fs": ring0.FS,
	"gs": ring0.GS,
	"ss": ring0.SS,
}

// registerOrder is the order registers are loaded in.
var registerOrder = []string{"cs", "ss", "ds", "es", "fs", "gs"}

// Validate checks names and references. Field values are checked when the
// tables are built.
func (l *Layout) Validate() error {
	if l.GDTCapacity < 0 {
		return fmt.Errorf("%w: gdt_capacity %d", ErrInvalidLayout, l.GDTCapacity)
	}
	kinds := make(map[string]string)
	for i, s := range l.Segments {
		if s.Name == "" {
			return fmt.Errorf("%w: segment %d has no name", ErrInvalidLayout, i)
		}
		if _, ok := kinds[s.Name]; ok {
			return fmt.Errorf("%w: duplicate segment %q", ErrInvalidLayout, s.Name)
		}
		switch s.Kind {
		case KindCode, KindData:
		default:
			return fmt.Errorf("%w: segment %q has kind %q", ErrInvalidLayout, s.Name, s.Kind)
		}
		kinds[s.Name] = s.Kind
	}
	if l.TSS != nil && l.TSS.StackSegment != "" && kinds[l.TSS.StackSegment] != KindData {
		return fmt.Errorf("%w: stack segment %q is not a data segment", ErrInvalidLayout, l.TSS.StackSegment)
	}
	for i, g := range l.Gates {
		if kinds[g.Segment] != KindCode {
			return fmt.Errorf("%w: gate %d refers to %q, which is not a code segment", ErrInvalidLayout, i, g.Segment)
		}
		vs := g.vectors()
		if len(vs) == 0 {
			return fmt.Errorf("%w: gate %d selects no vectors", ErrInvalidLayout, i)
		}
		for _, v := range vs {
			if !v.Valid() {
				return fmt.Errorf("gate %d: %w: %d", i, abi.ErrVectorOutOfRange, uint(v))
			}
		}
	}
	for _, v := range l.Required {
		if !abi.Vector(v).Valid() {
			return fmt.Errorf("required: %w: %d", abi.ErrVectorOutOfRange, v)
		}
	}
	for reg, name := range l.Registers {
		if _, ok := registerNames[reg]; !ok {
			return fmt.Errorf("%w: unknown register %q", ErrInvalidLayout, reg)
		}
		if _, ok := kinds[name]; !ok {
			return fmt.Errorf("%w: register %s refers to unknown segment %q", ErrInvalidLayout, reg, name)
		}
	}
	return nil
}

// Vectors returns every vector with a gate, in order.
func (l *Layout) Vectors() []abi.Vector {
	seen := make(map[abi.Vector]bool)
	for i := range l.Gates {
		for _, v := range l.Gates[i].vectors() {
			seen[v] = true
		}
	}
	vs := make([]abi.Vector, 0, len(seen))
	for v := range seen {
		vs = append(vs, v)
	}
	sort.Slice(vs, func(i, j int) bool { return vs[i] < vs[j] })
	return vs
}

// RequiredVectors returns the vectors that must have gates.
func (l *Layout) RequiredVectors() []abi.Vector {
	if l.Required == nil {
		return abi.CoreExceptions()
	}
	vs := make([]abi.Vector, 0, len(l.Required))
	for _, v := range l.Required {
		vs = append(vs, abi.Vector(v))
	}
	return vs
}

func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

// Descriptor returns the descriptor for s.
func (s *Segment) Descriptor() (ring0.Descriptor, error) {
	limit := uint32(ring0.MaxSegmentLimit)
	if s.Limit != nil {
		limit = *s.Limit
	}
	dpl := ring0.PrivilegeLevel(s.DPL)
	granularity := boolOr(s.Granularity, true)
	switch s.Kind {
	case KindCode:
		return ring0.CodeSegment{
			Base:          s.Base,
			Limit:         limit,
			DPL:           dpl,
			Present:       true,
			Accessed:      true,
			Readable:      boolOr(s.Readable, true),
			Conforming:    s.Conforming,
			Long:          s.Long,
			DefaultSize32: s.DefaultSize32,
			Granularity:   granularity,
		}, nil
	case KindData:
		return ring0.DataSegment{
			Base:        s.Base,
			Limit:       limit,
			DPL:         dpl,
			Present:     true,
			Accessed:    true,
			Writable:    boolOr(s.Writable, true),
			ExpandDown:  s.ExpandDown,
			Big:         boolOr(s.Big, true),
			Granularity: granularity,
		}, nil
	default:
		return nil, fmt.Errorf("%w: segment %q has kind %q", ErrInvalidLayout, s.Name, s.Kind)
	}
}

// rpl returns the requested privilege of the selector for s.
func (s *Segment) rpl() ring0.PrivilegeLevel {
	if s.RPL != nil {
		return ring0.PrivilegeLevel(*s.RPL)
	}
	return ring0.PrivilegeLevel(s.DPL)
}
