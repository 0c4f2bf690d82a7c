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
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"golang.org/x/sys/unix"
	"gvisor.dev/x86/pkg/log"
)

// DevicePath is the KVM device.
const DevicePath = "/dev/kvm"

// Device is an open KVM device.
type Device struct {
	fd int
}

// Open opens the KVM device and checks its API version.
func Open() (*Device, error) {
	fd, err := unix.Open(DevicePath, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", DevicePath, err)
	}
	version, _, errno := unix.RawSyscall(unix.SYS_IOCTL, uintptr(fd), _KVM_GET_API_VERSION, 0)
	if errno != 0 {
		unix.Close(fd)
		return nil, fmt.Errorf("getting API version: %w", errno)
	}
	if version != _KVM_API_VERSION {
		unix.Close(fd)
		return nil, fmt.Errorf("unsupported KVM API version %d", version)
	}
	return &Device{fd: fd}, nil
}

// Close closes the device. VMs created from it stay valid.
func (d *Device) Close() error {
	return unix.Close(d.fd)
}

// VM is a KVM virtual machine.
type VM struct {
	fd int
}

// createVMRetries bounds retries of KVM_CREATE_VM, which fails with EINTR
// when interrupted by a signal.
const createVMRetries = 10

// NewVM creates a virtual machine.
func (d *Device) NewVM() (*VM, error) {
	var vm uintptr
	op := func() error {
		fd, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(d.fd), _KVM_CREATE_VM, 0)
		switch errno {
		case 0:
			vm = fd
			return nil
		case unix.EINTR:
			log.Debugf("KVM_CREATE_VM interrupted, retrying")
			return errno
		default:
			return backoff.Permanent(errno)
		}
	}
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), createVMRetries)
	if err := backoff.Retry(op, b); err != nil {
		return nil, fmt.Errorf("creating VM: %w", err)
	}
	return &VM{fd: int(vm)}, nil
}

// Close closes the virtual machine.
func (vm *VM) Close() error {
	return unix.Close(vm.fd)
}

// VCPU is a KVM virtual CPU.
type VCPU struct {
	id int
	fd int

	loader Loader
}

// NewVCPU creates virtual CPU id.
func (vm *VM) NewVCPU(id int) (*VCPU, error) {
	fd, _, errno := unix.RawSyscall(unix.SYS_IOCTL, uintptr(vm.fd), _KVM_CREATE_VCPU, uintptr(id))
	if errno != 0 {
		return nil, fmt.Errorf("creating vCPU %d: %w", id, errno)
	}
	c := &VCPU{id: id, fd: int(fd)}
	c.loader.regs = c
	log.Debugf("created vCPU %d", id)
	return c, nil
}

// ID returns the vCPU id.
func (c *VCPU) ID() int {
	return c.id
}

// Loader returns the ring0.Loader for c.
func (c *VCPU) Loader() *Loader {
	return &c.loader
}

// Close closes the vCPU.
func (c *VCPU) Close() error {
	return unix.Close(c.fd)
}
