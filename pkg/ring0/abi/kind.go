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

package abi

import "fmt"

// Kind is the ABI tag of an entry point.
type Kind uint8

const (
	// NoErrorCode entry points push a zero error code themselves.
	NoErrorCode Kind = iota

	// WithErrorCode entry points expect the processor to have pushed one.
	WithErrorCode
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case NoErrorCode:
		return "NoErrorCode"
	case WithErrorCode:
		return "WithErrorCode"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// KindOf returns the tag required for entry points bound to v.
func KindOf(v Vector) Kind {
	if v.HasErrorCode() {
		return WithErrorCode
	}
	return NoErrorCode
}

// EntryPoint is the address of a generated entry stub plus the ABI it was
// generated for.
type EntryPoint struct {
	Addr uintptr
	Kind Kind
}

// NewEntryPoint returns an entry point for the stub at addr.
func NewEntryPoint(addr uintptr, kind Kind) EntryPoint {
	return EntryPoint{Addr: addr, Kind: kind}
}

// IsNil returns true iff the entry point has no address.
func (e EntryPoint) IsNil() bool {
	return e.Addr == 0
}

// String implements fmt.Stringer.
func (e EntryPoint) String() string {
	return fmt.Sprintf("%#x(%v)", e.Addr, e.Kind)
}

// CheckBinding returns an error if ep cannot be bound to v.
func CheckBinding(v Vector, ep EntryPoint) error {
	if !v.Valid() {
		return fmt.Errorf("%w: %d", ErrVectorOutOfRange, uint(v))
	}
	if ep.IsNil() {
		return fmt.Errorf("%w for %v", ErrNilEntry, v)
	}
	if want := KindOf(v); ep.Kind != want {
		return fmt.Errorf("%w: %v requires %v, got %v", ErrABIMismatch, v, want, ep.Kind)
	}
	return nil
}
