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
	"time"

	"gvisor.dev/x86/pkg/log"
)

type countingEmitter struct {
	count int
}

func (c *countingEmitter) Emit(int, log.Level, time.Time, string, ...any) {
	c.count++
}

func TestDispatch(t *testing.T) {
	d := NewDispatcher(nil)

	var breakpoints int
	if err := d.Handle(Breakpoint, func(tf *TrapFrame) { breakpoints++ }); err != nil {
		t.Fatalf("Handle(%v) failed: %v", Breakpoint, err)
	}
	var faultCode uint64
	if err := d.HandleWithCode(PageFault, func(tf *TrapFrame, code uint64) { faultCode = code }); err != nil {
		t.Fatalf("HandleWithCode(%v) failed: %v", PageFault, err)
	}

	d.Dispatch(&TrapFrame{Vector: uint64(Breakpoint)})
	d.Dispatch(&TrapFrame{Vector: uint64(PageFault), ErrorCode: 0x6})
	if breakpoints != 1 {
		t.Errorf("breakpoint handler ran %d times, want 1", breakpoints)
	}
	if faultCode != 0x6 {
		t.Errorf("page fault handler got code %#x, want 0x6", faultCode)
	}
	if got := d.Unhandled(); got != 0 {
		t.Errorf("Unhandled() got %d, want 0", got)
	}

	d.Remove(Breakpoint)
	d.Dispatch(&TrapFrame{Vector: uint64(Breakpoint)})
	if breakpoints != 1 {
		t.Errorf("removed handler ran")
	}
	if got := d.Unhandled(); got != 1 {
		t.Errorf("Unhandled() got %d, want 1", got)
	}
}

func TestDispatchRejectsWrongArity(t *testing.T) {
	d := NewDispatcher(nil)
	if err := d.Handle(GeneralProtectionFault, func(*TrapFrame) {}); !errors.Is(err, ErrABIMismatch) {
		t.Errorf("Handle(%v) got %v, want %v", GeneralProtectionFault, err, ErrABIMismatch)
	}
	if err := d.HandleWithCode(DivideByZero, func(*TrapFrame, uint64) {}); !errors.Is(err, ErrABIMismatch) {
		t.Errorf("HandleWithCode(%v) got %v, want %v", DivideByZero, err, ErrABIMismatch)
	}
	if err := d.Handle(NumVectors, func(*TrapFrame) {}); !errors.Is(err, ErrVectorOutOfRange) {
		t.Errorf("Handle(%d) got %v, want %v", NumVectors, err, ErrVectorOutOfRange)
	}
	if err := d.Handle(FirstExternal, nil); !errors.Is(err, ErrNilEntry) {
		t.Errorf("Handle(nil) got %v, want %v", err, ErrNilEntry)
	}
}

func TestDispatchFallback(t *testing.T) {
	e := &countingEmitter{}
	d := NewDispatcher(&log.BasicLogger{Level: log.Warning, Emitter: e})

	for i := 0; i < 10; i++ {
		d.Dispatch(&TrapFrame{Vector: uint64(FirstExternal)})
	}
	if e.count != 1 {
		t.Errorf("fallback logged %d times, want 1 (rate limited)", e.count)
	}

	var seen []uint64
	d.SetFallback(func(tf *TrapFrame) { seen = append(seen, tf.Vector) })
	d.Dispatch(&TrapFrame{Vector: 300})
	if len(seen) != 1 || seen[0] != 300 {
		t.Errorf("fallback saw %v, want [300]", seen)
	}
	if got := d.Unhandled(); got != 11 {
		t.Errorf("Unhandled() got %d, want 11", got)
	}
}

func TestDispatch32(t *testing.T) {
	d := NewDispatcher32(nil)

	var (
		faultCode uint64
		faultIP   uint32
	)
	if err := d.HandleWithCode(GeneralProtectionFault, func(tf *TrapFrame32, code uint64) {
		faultCode, faultIP = code, tf.EIP
	}); err != nil {
		t.Fatalf("HandleWithCode(%v) failed: %v", GeneralProtectionFault, err)
	}
	if err := d.Handle(GeneralProtectionFault, func(*TrapFrame32) {}); !errors.Is(err, ErrABIMismatch) {
		t.Errorf("Handle(%v) got %v, want %v", GeneralProtectionFault, err, ErrABIMismatch)
	}

	tf := &TrapFrame32{Vector: uint32(GeneralProtectionFault), ErrorCode: 0x18}
	tf.EIP = 0xc0101000
	d.Dispatch(tf)
	if faultCode != 0x18 || faultIP != 0xc0101000 {
		t.Errorf("handler got code %#x at %#x, want 0x18 at 0xc0101000", faultCode, faultIP)
	}

	d.Dispatch(&TrapFrame32{Vector: uint32(FirstExternal)})
	if got := d.Unhandled(); got != 1 {
		t.Errorf("Unhandled() got %d, want 1", got)
	}
}
