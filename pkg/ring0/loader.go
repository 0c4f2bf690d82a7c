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

import (
	"fmt"

	"gvisor.dev/x86/pkg/log"
)

// TableRegister is the operand of lgdt and lidt.
type TableRegister struct {
	Base  uint64
	Limit uint16
}

// String implements fmt.Stringer.
func (r TableRegister) String() string {
	return fmt.Sprintf("%#x/%#x", r.Base, r.Limit)
}

// SegmentRegister names a segment register.
type SegmentRegister uint8

// Segment registers.
const (
	CS SegmentRegister = iota
	DS
	ES
	FS
	GS
	SS
)

// String implements fmt.Stringer.
func (r SegmentRegister) String() string {
	switch r {
	case CS:
		return "cs"
	case DS:
		return "ds"
	case ES:
		return "es"
	case FS:
		return "fs"
	case GS:
		return "gs"
	case SS:
		return "ss"
	default:
		return fmt.Sprintf("SegmentRegister(%d)", uint8(r))
	}
}

// Loader makes tables visible to a processor. It is implemented by the
// native instructions, by a KVM vCPU, and by LoggingLoader.
//
// Loader methods are called by Processor after every check has passed.
type Loader interface {
	// LoadGDT loads the global descriptor table register.
	LoadGDT(r TableRegister) error

	// LoadIDT loads the interrupt descriptor table register.
	LoadIDT(r TableRegister) error

	// LoadTaskRegister loads the task register with sel, which refers to
	// the TSS descriptor d in the active GDT. d is marked busy, as the
	// processor marks the descriptor on load.
	LoadTaskRegister(sel Selector, d TaskSegment) error

	// LoadSegment loads reg with sel, which refers to d in the active GDT.
	LoadSegment(reg SegmentRegister, sel Selector, d Descriptor) error
}

// LoggingLoader is a Loader that logs each operation and does nothing else.
type LoggingLoader struct {
	// Logger receives the operations. If nil, the global logger is used.
	Logger log.Logger
}

func (l *LoggingLoader) logger() log.Logger {
	if l.Logger == nil {
		return log.Log()
	}
	return l.Logger
}

// LoadGDT implements Loader.LoadGDT.
func (l *LoggingLoader) LoadGDT(r TableRegister) error {
	l.logger().Infof("lgdt %v", r)
	return nil
}

// LoadIDT implements Loader.LoadIDT.
func (l *LoggingLoader) LoadIDT(r TableRegister) error {
	l.logger().Infof("lidt %v", r)
	return nil
}

// LoadTaskRegister implements Loader.LoadTaskRegister.
func (l *LoggingLoader) LoadTaskRegister(sel Selector, d TaskSegment) error {
	l.logger().Infof("ltr %v (base %#x, limit %#x)", sel, d.Base, d.Limit)
	return nil
}

// LoadSegment implements Loader.LoadSegment.
func (l *LoggingLoader) LoadSegment(reg SegmentRegister, sel Selector, d Descriptor) error {
	l.logger().Infof("mov %v, %v (%v)", reg, sel, d.Kind())
	return nil
}
