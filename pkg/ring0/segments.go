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

import "fmt"

// DescriptorKind identifies a Descriptor variant.
type DescriptorKind uint8

// Descriptor kinds.
const (
	NullKind DescriptorKind = iota
	CodeKind
	DataKind
	TaskSegmentKind
	GateKind
)

// String implements fmt.Stringer.
func (k DescriptorKind) String() string {
	switch k {
	case NullKind:
		return "null"
	case CodeKind:
		return "code"
	case DataKind:
		return "data"
	case TaskSegmentKind:
		return "tss"
	case GateKind:
		return "gate"
	default:
		return fmt.Sprintf("DescriptorKind(%d)", uint8(k))
	}
}

// Descriptor is the typed description of a descriptor table entry. It is
// implemented by Null, CodeSegment, DataSegment, TaskSegment and Gate.
type Descriptor interface {
	// Kind returns the variant.
	Kind() DescriptorKind

	isDescriptor()
}

// Null is the null descriptor.
type Null struct{}

// CodeSegment is an executable segment.
type CodeSegment struct {
	Base uint32

	// Limit is the 20 bit limit field, in pages if Granularity is set.
	Limit uint32

	DPL           PrivilegeLevel
	Present       bool
	Accessed      bool
	Readable      bool
	Conforming    bool
	Long          bool
	DefaultSize32 bool
	Granularity   bool
	Available     bool
}

// DataSegment is a data or stack segment.
type DataSegment struct {
	Base uint32

	// Limit is the 20 bit limit field, in pages if Granularity is set.
	Limit uint32

	DPL         PrivilegeLevel
	Present     bool
	Accessed    bool
	Writable    bool
	ExpandDown  bool
	Big         bool
	Granularity bool
	Available   bool
}

// TaskSegment is a task state segment descriptor.
type TaskSegment struct {
	Base        uint64
	Limit       uint32
	DPL         PrivilegeLevel
	Present     bool
	Busy        bool
	Granularity bool
	Available   bool
}

// GateType is the hardware type code of a gate.
type GateType uint8

// Gate types.
const (
	CallGate      GateType = 0xC
	InterruptGate GateType = 0xE
	TrapGate      GateType = 0xF
)

// String implements fmt.Stringer.
func (t GateType) String() string {
	switch t {
	case CallGate:
		return "call"
	case InterruptGate:
		return "interrupt"
	case TrapGate:
		return "trap"
	default:
		return fmt.Sprintf("GateType(%#x)", uint8(t))
	}
}

// Gate is a call, interrupt or trap gate.
type Gate struct {
	Type     GateType
	Selector Selector
	Offset   uint64
	DPL      PrivilegeLevel
	Present  bool

	// IST is the interrupt stack table index of a long mode interrupt or
	// trap gate. Zero keeps the current stack.
	IST uint8

	// ParamCount is the number of stack words a 32-bit call gate copies.
	ParamCount uint8
}

func (Null) Kind() DescriptorKind        { return NullKind }
func (CodeSegment) Kind() DescriptorKind { return CodeKind }
func (DataSegment) Kind() DescriptorKind { return DataKind }
func (TaskSegment) Kind() DescriptorKind { return TaskSegmentKind }
func (Gate) Kind() DescriptorKind        { return GateKind }

func (Null) isDescriptor()        {}
func (CodeSegment) isDescriptor() {}
func (DataSegment) isDescriptor() {}
func (TaskSegment) isDescriptor() {}
func (Gate) isDescriptor()        {}

// Standard flat segments.
var (
	KernelCodeSegment = CodeSegment{
		Limit:       MaxSegmentLimit,
		DPL:         Ring0,
		Present:     true,
		Accessed:    true,
		Readable:    true,
		Long:        true,
		Granularity: true,
	}
	KernelCodeSegment32 = CodeSegment{
		Limit:         MaxSegmentLimit,
		DPL:           Ring0,
		Present:       true,
		Accessed:      true,
		Readable:      true,
		DefaultSize32: true,
		Granularity:   true,
	}
	KernelDataSegment = DataSegment{
		Limit:       MaxSegmentLimit,
		DPL:         Ring0,
		Present:     true,
		Accessed:    true,
		Writable:    true,
		Big:         true,
		Granularity: true,
	}
	UserCodeSegment64 = CodeSegment{
		Limit:       MaxSegmentLimit,
		DPL:         Ring3,
		Present:     true,
		Accessed:    true,
		Readable:    true,
		Long:        true,
		Granularity: true,
	}
	UserCodeSegment32 = CodeSegment{
		Limit:         MaxSegmentLimit,
		DPL:           Ring3,
		Present:       true,
		Accessed:      true,
		Readable:      true,
		DefaultSize32: true,
		Granularity:   true,
	}
	UserDataSegment = DataSegment{
		Limit:       MaxSegmentLimit,
		DPL:         Ring3,
		Present:     true,
		Accessed:    true,
		Writable:    true,
		Big:         true,
		Granularity: true,
	}
)

// System descriptor type codes.
const (
	typeTSS     = 0x9
	typeTSSBusy = 0xB
)

func checkCommon(limit uint32, dpl PrivilegeLevel) error {
	if limit > MaxSegmentLimit {
		return fmt.Errorf("%w: limit %#x exceeds %#x", ErrInvalidDescriptor, limit, MaxSegmentLimit)
	}
	if !dpl.Valid() {
		return fmt.Errorf("%w: dpl %d", ErrInvalidPrivilege, dpl)
	}
	return nil
}

func flag(b bool, f SegmentDescriptorFlags) SegmentDescriptorFlags {
	if b {
		return f
	}
	return 0
}

func commonFlags(present, granularity, available bool) SegmentDescriptorFlags {
	return flag(present, SegmentDescriptorPresent) |
		flag(granularity, SegmentDescriptorG) |
		flag(available, SegmentDescriptorAVL)
}

// Encode returns the descriptor for c.
func (c CodeSegment) Encode() (SegmentDescriptor, error) {
	if err := checkCommon(c.Limit, c.DPL); err != nil {
		return SegmentDescriptor{}, err
	}
	if c.Long && c.DefaultSize32 {
		return SegmentDescriptor{}, fmt.Errorf("%w: code segment is both long and 32-bit", ErrInvalidDescriptor)
	}
	flags := SegmentDescriptorSystem | SegmentDescriptorExecute |
		commonFlags(c.Present, c.Granularity, c.Available) |
		flag(c.Accessed, SegmentDescriptorAccess) |
		flag(c.Readable, SegmentDescriptorWrite) |
		flag(c.Conforming, SegmentDescriptorExpandDown) |
		flag(c.Long, SegmentDescriptorLong) |
		flag(c.DefaultSize32, SegmentDescriptorDB)
	var d SegmentDescriptor
	d.set(c.Base, c.Limit, c.DPL, flags)
	return d, nil
}

// Encode returns the descriptor for s.
func (s DataSegment) Encode() (SegmentDescriptor, error) {
	if err := checkCommon(s.Limit, s.DPL); err != nil {
		return SegmentDescriptor{}, err
	}
	flags := SegmentDescriptorSystem |
		commonFlags(s.Present, s.Granularity, s.Available) |
		flag(s.Accessed, SegmentDescriptorAccess) |
		flag(s.Writable, SegmentDescriptorWrite) |
		flag(s.ExpandDown, SegmentDescriptorExpandDown) |
		flag(s.Big, SegmentDescriptorDB)
	var d SegmentDescriptor
	d.set(s.Base, s.Limit, s.DPL, flags)
	return d, nil
}

func (t TaskSegment) lo() (SegmentDescriptor, error) {
	if err := checkCommon(t.Limit, t.DPL); err != nil {
		return SegmentDescriptor{}, err
	}
	typ := SegmentDescriptorFlags(typeTSS)
	if t.Busy {
		typ = typeTSSBusy
	}
	var d SegmentDescriptor
	d.set(uint32(t.Base), t.Limit, t.DPL, typ<<typeShift|commonFlags(t.Present, t.Granularity, t.Available))
	return d, nil
}

// Encode64 returns the long mode descriptor for t.
func (t TaskSegment) Encode64() (SystemDescriptor, error) {
	lo, err := t.lo()
	if err != nil {
		return SystemDescriptor{}, err
	}
	var hi SegmentDescriptor
	hi.setHi(uint32(t.Base >> 32))
	return SystemDescriptorFromHalves(lo, hi), nil
}

// Encode32 returns the 32-bit descriptor for t.
func (t TaskSegment) Encode32() (SegmentDescriptor, error) {
	if t.Base>>32 != 0 {
		return SegmentDescriptor{}, fmt.Errorf("%w: base %#x exceeds 32 bits", ErrInvalidDescriptor, t.Base)
	}
	return t.lo()
}

func (g Gate) check() error {
	switch g.Type {
	case CallGate, InterruptGate, TrapGate:
	default:
		return fmt.Errorf("%w: gate type %#x", ErrInvalidDescriptor, uint8(g.Type))
	}
	if !g.DPL.Valid() {
		return fmt.Errorf("%w: dpl %d", ErrInvalidPrivilege, g.DPL)
	}
	return nil
}

func (g Gate) lo(low8 uint32) SegmentDescriptor {
	var d SegmentDescriptor
	d.bits[0] = uint32(g.Selector)<<16 | uint32(g.Offset)&0xFFFF
	d.bits[1] = uint32(g.Offset)&0xFFFF0000 |
		uint32(flag(g.Present, SegmentDescriptorPresent)) |
		uint32(g.DPL)<<dplShift |
		uint32(g.Type)<<typeShift |
		low8
	return d
}

// Encode64 returns the long mode descriptor for g.
func (g Gate) Encode64() (SystemDescriptor, error) {
	if err := g.check(); err != nil {
		return SystemDescriptor{}, err
	}
	if g.ParamCount != 0 {
		return SystemDescriptor{}, fmt.Errorf("%w: long mode call gates have no parameter count", ErrInvalidDescriptor)
	}
	var low8 uint32
	if g.Type == CallGate {
		if g.IST != 0 {
			return SystemDescriptor{}, fmt.Errorf("%w: call gates have no stack index", ErrInvalidStackIndex)
		}
	} else {
		if g.IST > 7 {
			return SystemDescriptor{}, fmt.Errorf("%w: %d", ErrInvalidStackIndex, g.IST)
		}
		low8 = uint32(g.IST)
	}
	var hi SegmentDescriptor
	hi.setHi(uint32(g.Offset >> 32))
	return SystemDescriptorFromHalves(g.lo(low8), hi), nil
}

// Encode32 returns the 32-bit descriptor for g.
func (g Gate) Encode32() (SegmentDescriptor, error) {
	if err := g.check(); err != nil {
		return SegmentDescriptor{}, err
	}
	if g.Offset>>32 != 0 {
		return SegmentDescriptor{}, fmt.Errorf("%w: offset %#x exceeds 32 bits", ErrInvalidDescriptor, g.Offset)
	}
	if g.IST != 0 {
		return SegmentDescriptor{}, fmt.Errorf("%w: no interrupt stack table in 32-bit mode", ErrInvalidStackIndex)
	}
	var low8 uint32
	if g.Type == CallGate {
		if g.ParamCount > 31 {
			return SegmentDescriptor{}, fmt.Errorf("%w: parameter count %d exceeds 31", ErrInvalidDescriptor, g.ParamCount)
		}
		low8 = uint32(g.ParamCount)
	} else if g.ParamCount != 0 {
		return SegmentDescriptor{}, fmt.Errorf("%w: %v gates have no parameter count", ErrInvalidDescriptor, g.Type)
	}
	return g.lo(low8), nil
}

// DecodeSegment decodes an 8 byte descriptor: null, code, data, or a legacy
// 32-bit TSS or gate.
func DecodeSegment(d SegmentDescriptor) (Descriptor, error) {
	if d.IsNull() {
		return Null{}, nil
	}
	f := d.Flags()
	if f&SegmentDescriptorSystem != 0 {
		if f&SegmentDescriptorExecute != 0 {
			return decodeCode(d)
		}
		return decodeData(d)
	}
	switch typ := d.Type(); typ {
	case typeTSS, typeTSSBusy:
		return decodeTSS(d, 0)
	case uint8(CallGate), uint8(InterruptGate), uint8(TrapGate):
		return decodeGate32(d)
	default:
		return nil, fmt.Errorf("%w: unsupported system type %#x", ErrInvalidDescriptor, typ)
	}
}

func decodeCode(d SegmentDescriptor) (Descriptor, error) {
	f := d.Flags()
	c := CodeSegment{
		Base:          d.Base(),
		Limit:         d.RawLimit(),
		DPL:           d.DPL(),
		Present:       f&SegmentDescriptorPresent != 0,
		Accessed:      f&SegmentDescriptorAccess != 0,
		Readable:      f&SegmentDescriptorWrite != 0,
		Conforming:    f&SegmentDescriptorExpandDown != 0,
		Long:          f&SegmentDescriptorLong != 0,
		DefaultSize32: f&SegmentDescriptorDB != 0,
		Granularity:   f&SegmentDescriptorG != 0,
		Available:     f&SegmentDescriptorAVL != 0,
	}
	if c.Long && c.DefaultSize32 {
		return nil, fmt.Errorf("%w: code segment has both L and D/B set", ErrInvalidDescriptor)
	}
	return c, nil
}

func decodeData(d SegmentDescriptor) (Descriptor, error) {
	f := d.Flags()
	if f&SegmentDescriptorLong != 0 {
		return nil, fmt.Errorf("%w: data segment has the long bit set", ErrInvalidDescriptor)
	}
	return DataSegment{
		Base:        d.Base(),
		Limit:       d.RawLimit(),
		DPL:         d.DPL(),
		Present:     f&SegmentDescriptorPresent != 0,
		Accessed:    f&SegmentDescriptorAccess != 0,
		Writable:    f&SegmentDescriptorWrite != 0,
		ExpandDown:  f&SegmentDescriptorExpandDown != 0,
		Big:         f&SegmentDescriptorDB != 0,
		Granularity: f&SegmentDescriptorG != 0,
		Available:   f&SegmentDescriptorAVL != 0,
	}, nil
}

func decodeTSS(d SegmentDescriptor, baseHi uint32) (Descriptor, error) {
	f := d.Flags()
	if f&(SegmentDescriptorLong|SegmentDescriptorDB) != 0 {
		return nil, fmt.Errorf("%w: TSS descriptor has reserved size bits set", ErrInvalidDescriptor)
	}
	return TaskSegment{
		Base:        uint64(baseHi)<<32 | uint64(d.Base()),
		Limit:       d.RawLimit(),
		DPL:         d.DPL(),
		Present:     f&SegmentDescriptorPresent != 0,
		Busy:        d.Type() == typeTSSBusy,
		Granularity: f&SegmentDescriptorG != 0,
		Available:   f&SegmentDescriptorAVL != 0,
	}, nil
}

func gateFromLo(d SegmentDescriptor) Gate {
	return Gate{
		Type:     GateType(d.Type()),
		Selector: Selector(d.bits[0] >> 16),
		Offset:   uint64(d.bits[1]&0xFFFF0000 | d.bits[0]&0xFFFF),
		DPL:      d.DPL(),
		Present:  d.Present(),
	}
}

func decodeGate32(d SegmentDescriptor) (Descriptor, error) {
	g := gateFromLo(d)
	low8 := d.bits[1] & 0xFF
	switch {
	case g.Type == CallGate && low8&^0x1F != 0:
		return nil, fmt.Errorf("%w: call gate has reserved bits %#x set", ErrInvalidDescriptor, low8)
	case g.Type == CallGate:
		g.ParamCount = uint8(low8)
	case low8 != 0:
		return nil, fmt.Errorf("%w: %v gate has reserved bits %#x set", ErrInvalidDescriptor, g.Type, low8)
	}
	return g, nil
}

// DecodeSystem decodes a 16 byte long mode descriptor: a TSS descriptor or a
// call, interrupt or trap gate. An all zero record decodes as Null, which is
// how absent IDT entries read back.
func DecodeSystem(d SystemDescriptor) (Descriptor, error) {
	if d.IsNull() {
		return Null{}, nil
	}
	lo := d.Lo()
	if lo.Flags()&SegmentDescriptorSystem != 0 {
		return nil, fmt.Errorf("%w: code or data descriptor in a system slot", ErrInvalidDescriptor)
	}
	if d.bits[3] != 0 {
		return nil, fmt.Errorf("%w: reserved upper bits %#x set", ErrInvalidDescriptor, d.bits[3])
	}
	switch typ := lo.Type(); typ {
	case typeTSS, typeTSSBusy:
		return decodeTSS(lo, d.bits[2])
	case uint8(CallGate), uint8(InterruptGate), uint8(TrapGate):
		g := gateFromLo(lo)
		g.Offset |= uint64(d.bits[2]) << 32
		low8 := lo.bits[1] & 0xFF
		switch {
		case g.Type == CallGate && low8 != 0:
			return nil, fmt.Errorf("%w: call gate has reserved bits %#x set", ErrInvalidDescriptor, low8)
		case low8&^0x7 != 0:
			return nil, fmt.Errorf("%w: IST padding %#x set", ErrInvalidDescriptor, low8)
		}
		g.IST = uint8(low8)
		return g, nil
	default:
		return nil, fmt.Errorf("%w: unsupported system type %#x", ErrInvalidDescriptor, typ)
	}
}
