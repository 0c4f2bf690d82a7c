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

import "encoding/binary"

// SegmentDescriptor is an 8 byte descriptor, as stored in the GDT.
type SegmentDescriptor struct {
	bits [2]uint32
}

// SegmentDescriptorFlags are typed flags within a descriptor.
type SegmentDescriptorFlags uint32

// SegmentDescriptorFlag declarations.
const (
	SegmentDescriptorAccess     SegmentDescriptorFlags = 1 << 8  // Access bit.
	SegmentDescriptorWrite                             = 1 << 9  // Write permission (data), read permission (code).
	SegmentDescriptorExpandDown                        = 1 << 10 // Grows down (data), conforming (code).
	SegmentDescriptorExecute                           = 1 << 11 // Execute permission.
	SegmentDescriptorSystem                            = 1 << 12 // Zero => system, 1 => user code/data.
	SegmentDescriptorPresent                           = 1 << 15 // Present.
	SegmentDescriptorAVL                               = 1 << 20 // Available.
	SegmentDescriptorLong                              = 1 << 21 // Long mode.
	SegmentDescriptorDB                                = 1 << 22 // 16 or 32-bit.
	SegmentDescriptorG                                 = 1 << 23 // Granularity: page or byte.
)

const (
	segmentFlagMask = 0x00F09F00
	typeShift       = 8
	typeMask        = 0xF
	dplShift        = 13

	// MaxSegmentLimit is the largest value of the 20 bit limit field.
	MaxSegmentLimit = 0xFFFFF
)

// SegmentDescriptorFromUint64 returns the descriptor with raw value v.
func SegmentDescriptorFromUint64(v uint64) SegmentDescriptor {
	return SegmentDescriptor{bits: [2]uint32{uint32(v), uint32(v >> 32)}}
}

// Uint64 returns the raw descriptor.
func (d SegmentDescriptor) Uint64() uint64 {
	return uint64(d.bits[1])<<32 | uint64(d.bits[0])
}

// Base returns the descriptor's base linear address.
func (d SegmentDescriptor) Base() uint32 {
	return d.bits[1]&0xFF000000 | (d.bits[1]&0x000000FF)<<16 | d.bits[0]>>16
}

// RawLimit returns the 20 bit limit field.
func (d SegmentDescriptor) RawLimit() uint32 {
	return d.bits[0]&0xFFFF | d.bits[1]&0xF0000
}

// Limit returns the descriptor size, scaled by the granularity flag.
func (d SegmentDescriptor) Limit() uint32 {
	l := d.RawLimit()
	if d.bits[1]&uint32(SegmentDescriptorG) != 0 {
		l <<= 12
		l |= 0xFFF
	}
	return l
}

// Flags returns descriptor flags.
func (d SegmentDescriptor) Flags() SegmentDescriptorFlags {
	return SegmentDescriptorFlags(d.bits[1] & segmentFlagMask)
}

// Type returns the four bit type field.
func (d SegmentDescriptor) Type() uint8 {
	return uint8(d.bits[1]>>typeShift) & typeMask
}

// DPL returns the descriptor privilege level.
func (d SegmentDescriptor) DPL() PrivilegeLevel {
	return PrivilegeLevel((d.bits[1] >> dplShift) & 3)
}

// Present returns true iff the present bit is set.
func (d SegmentDescriptor) Present() bool {
	return d.bits[1]&uint32(SegmentDescriptorPresent) != 0
}

// IsNull returns true iff the descriptor is all zeroes.
func (d SegmentDescriptor) IsNull() bool {
	return d.bits[0] == 0 && d.bits[1] == 0
}

// AppendBytes appends the little-endian encoding of d to b.
func (d SegmentDescriptor) AppendBytes(b []byte) []byte {
	b = binary.LittleEndian.AppendUint32(b, d.bits[0])
	return binary.LittleEndian.AppendUint32(b, d.bits[1])
}

// set encodes a descriptor. Callers have validated the fields, and flags
// carry the type, granularity and size bits.
func (d *SegmentDescriptor) set(base, limit uint32, dpl PrivilegeLevel, flags SegmentDescriptorFlags) {
	d.bits[0] = base<<16 | limit&0xFFFF
	d.bits[1] = base&0xFF000000 | (base>>16)&0xFF | limit&0x000F0000 | uint32(flags) | uint32(dpl)<<dplShift
}

// setHi is only used for system descriptors, which are magically 64-bits.
func (d *SegmentDescriptor) setHi(base uint32) {
	d.bits[0] = base
	d.bits[1] = 0
}

// SystemDescriptor is a 16 byte long mode system descriptor: a TSS
// descriptor or a gate.
type SystemDescriptor struct {
	bits [4]uint32
}

// SystemDescriptorFromHalves joins two GDT slots.
func SystemDescriptorFromHalves(lo, hi SegmentDescriptor) SystemDescriptor {
	return SystemDescriptor{bits: [4]uint32{lo.bits[0], lo.bits[1], hi.bits[0], hi.bits[1]}}
}

// SystemDescriptorFromUint64s returns the descriptor with raw value hi:lo.
func SystemDescriptorFromUint64s(lo, hi uint64) SystemDescriptor {
	return SystemDescriptorFromHalves(SegmentDescriptorFromUint64(lo), SegmentDescriptorFromUint64(hi))
}

// Lo returns the low 8 bytes, which are laid out as a segment descriptor.
func (d SystemDescriptor) Lo() SegmentDescriptor {
	return SegmentDescriptor{bits: [2]uint32{d.bits[0], d.bits[1]}}
}

// Hi returns the high 8 bytes.
func (d SystemDescriptor) Hi() SegmentDescriptor {
	return SegmentDescriptor{bits: [2]uint32{d.bits[2], d.bits[3]}}
}

// Uint64s returns the raw descriptor as low and high quadwords.
func (d SystemDescriptor) Uint64s() (lo, hi uint64) {
	return d.Lo().Uint64(), d.Hi().Uint64()
}

// IsNull returns true iff the descriptor is all zeroes.
func (d SystemDescriptor) IsNull() bool {
	return d.bits == [4]uint32{}
}

// AppendBytes appends the little-endian encoding of d to b.
func (d SystemDescriptor) AppendBytes(b []byte) []byte {
	for _, w := range d.bits {
		b = binary.LittleEndian.AppendUint32(b, w)
	}
	return b
}
