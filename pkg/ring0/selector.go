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

// PrivilegeLevel is a protection ring.
type PrivilegeLevel uint8

// Privilege levels.
const (
	Ring0 PrivilegeLevel = iota
	Ring1
	Ring2
	Ring3
)

// Valid returns true iff p is a ring.
func (p PrivilegeLevel) Valid() bool {
	return p <= Ring3
}

// TableIndicator selects the table a selector indexes.
type TableIndicator uint8

// Table indicators.
const (
	GlobalTable TableIndicator = 0
	LocalTable  TableIndicator = 1
)

// String implements fmt.Stringer.
func (t TableIndicator) String() string {
	switch t {
	case GlobalTable:
		return "gdt"
	case LocalTable:
		return "ldt"
	default:
		return fmt.Sprintf("TableIndicator(%d)", uint8(t))
	}
}

// Selector is a segment selector.
type Selector uint16

// MaxSelectorIndex is the largest index a selector can encode.
const MaxSelectorIndex = 1<<13 - 1

// NewSelector returns the selector for index in table, requested at rpl.
//
// The selector is not checked against any table; see GDT.Descriptor.
func NewSelector(index int, table TableIndicator, rpl PrivilegeLevel) (Selector, error) {
	if index < 0 || index > MaxSelectorIndex {
		return 0, fmt.Errorf("%w: selector index %d", ErrInvalidIndex, index)
	}
	if table != GlobalTable && table != LocalTable {
		return 0, fmt.Errorf("%w: table indicator %d", ErrInvalidIndex, table)
	}
	if !rpl.Valid() {
		return 0, fmt.Errorf("%w: %d", ErrInvalidPrivilege, rpl)
	}
	return Selector(index<<3 | int(table)<<2 | int(rpl)), nil
}

// Index returns the table index.
func (s Selector) Index() int {
	return int(s >> 3)
}

// Table returns the table indicator.
func (s Selector) Table() TableIndicator {
	return TableIndicator(s>>2) & 1
}

// RPL returns the requested privilege level.
func (s Selector) RPL() PrivilegeLevel {
	return PrivilegeLevel(s & 3)
}

// WithRPL returns s with the requested privilege level replaced.
func (s Selector) WithRPL(rpl PrivilegeLevel) Selector {
	return s&^3 | Selector(rpl&3)
}

// IsNull returns true iff s is a null selector.
func (s Selector) IsNull() bool {
	return s.Index() == 0 && s.Table() == GlobalTable
}

// String implements fmt.Stringer.
func (s Selector) String() string {
	return fmt.Sprintf("%#x(%v[%d] rpl=%d)", uint16(s), s.Table(), s.Index(), s.RPL())
}
