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

//go:build linux
// +build linux

package kvm

import (
	"testing"
)

func newVCPU(t *testing.T) *VCPU {
	t.Helper()
	d, err := Open()
	if err != nil {
		t.Skipf("KVM not available: %v", err)
	}
	defer d.Close()
	vm, err := d.NewVM()
	if err != nil {
		t.Fatalf("NewVM failed: %v", err)
	}
	t.Cleanup(func() { vm.Close() })
	c, err := vm.NewVCPU(0)
	if err != nil {
		t.Fatalf("NewVCPU failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestVCPUActivation(t *testing.T) {
	c := newVCPU(t)
	if c.ID() != 0 {
		t.Errorf("ID got %d, want 0", c.ID())
	}
	_, g, idt := activate(t, c.Loader())
	st, err := c.Loader().State()
	if err != nil {
		t.Fatalf("State got err %v", err)
	}
	checkState(t, st, g, idt)
}
