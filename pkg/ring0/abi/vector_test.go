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

import (
	"errors"
	"testing"
)

func TestHasErrorCode(t *testing.T) {
	want := map[Vector]bool{8: true, 10: true, 11: true, 12: true, 13: true, 14: true, 17: true, 21: true, 29: true, 30: true}
	for v := Vector(0); v < NumVectors; v++ {
		if got := v.HasErrorCode(); got != want[v] {
			t.Errorf("%v.HasErrorCode() got %v, want %v", v, got, want[v])
		}
		wantKind := NoErrorCode
		if want[v] {
			wantKind = WithErrorCode
		}
		if got := KindOf(v); got != wantKind {
			t.Errorf("KindOf(%v) got %v, want %v", v, got, wantKind)
		}
	}
}

func TestVectorString(t *testing.T) {
	for _, tc := range []struct {
		v    Vector
		want string
	}{
		{GeneralProtectionFault, "GeneralProtectionFault"},
		{PageFault, "PageFault"},
		{15, "Reserved(15)"},
		{31, "Reserved(31)"},
		{FirstExternal, "Interrupt(32)"},
		{MaxVector, "Interrupt(255)"},
		{NumVectors, "Vector(256)"},
	} {
		if got := tc.v.String(); got != tc.want {
			t.Errorf("Vector(%d).String() got %q, want %q", uint(tc.v), got, tc.want)
		}
	}
}

func TestCoreExceptions(t *testing.T) {
	for _, v := range CoreExceptions() {
		if v.Reserved() || v.External() || !v.Valid() {
			t.Errorf("core exception %v is reserved or external", v)
		}
		if v == CoprocessorSegmentOverrun {
			t.Errorf("core exceptions include %v", v)
		}
	}
}

func TestCheckBinding(t *testing.T) {
	for _, tc := range []struct {
		name string
		v    Vector
		ep   EntryPoint
		want error
	}{
		{"no code", DivideByZero, NewEntryPoint(0x1000, NoErrorCode), nil},
		{"code", GeneralProtectionFault, NewEntryPoint(0x1000, WithErrorCode), nil},
		{"last", MaxVector, NewEntryPoint(0x1000, NoErrorCode), nil},
		{"out of range", NumVectors, NewEntryPoint(0x1000, NoErrorCode), ErrVectorOutOfRange},
		{"nil", DivideByZero, NewEntryPoint(0, NoErrorCode), ErrNilEntry},
		{"missing code", PageFault, NewEntryPoint(0x1000, NoErrorCode), ErrABIMismatch},
		{"extra code", Breakpoint, NewEntryPoint(0x1000, WithErrorCode), ErrABIMismatch},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := CheckBinding(tc.v, tc.ep)
			if tc.want == nil && err != nil {
				t.Fatalf("CheckBinding(%v, %v) failed: %v", tc.v, tc.ep, err)
			}
			if !errors.Is(err, tc.want) {
				t.Errorf("CheckBinding(%v, %v) got %v, want %v", tc.v, tc.ep, err, tc.want)
			}
		})
	}
}

func TestErrorCodeVectorsRejectWrongTag(t *testing.T) {
	for v := Vector(0); v < NumVectors; v++ {
		if !v.HasErrorCode() {
			continue
		}
		if err := CheckBinding(v, NewEntryPoint(0x1000, NoErrorCode)); !errors.Is(err, ErrABIMismatch) {
			t.Errorf("binding NoErrorCode to %v got %v, want %v", v, err, ErrABIMismatch)
		}
	}
}

func TestFlags(t *testing.T) {
	f := UserFlagsSet.WithIOPL(3)
	if got := f.IOPL(); got != 3 {
		t.Errorf("IOPL() got %d, want 3", got)
	}
	if got := f.WithIOPL(0); got != UserFlagsSet {
		t.Errorf("WithIOPL(0) got %#x, want %#x", uint64(got), uint64(UserFlagsSet))
	}
	if got, want := (FlagZero | FlagInterrupt | FlagReserved).WithIOPL(3).String(), "ZF|IF|IOPL=3"; got != want {
		t.Errorf("String() got %q, want %q", got, want)
	}
	if KernelFlagsClear&KernelFlagsSet != 0 {
		t.Errorf("kernel flags overlap: set %v, clear %v", KernelFlagsSet, KernelFlagsClear)
	}
}
