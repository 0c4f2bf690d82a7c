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

//go:build !386
// +build !386

package ring0

// TaskState is the task state structure of the 64-bit configuration.
type TaskState = TaskState64

// NewTaskState returns a task state with no stacks and every I/O port
// blocked.
func NewTaskState() *TaskState {
	return NewTaskState64()
}

// LongMode is true in the 64-bit configuration.
const LongMode = true

// systemSlots is the number of GDT entries taken by a system descriptor.
const systemSlots = 2

// gateEntry is an IDT entry.
type gateEntry = SystemDescriptor

// gateSize is the size of an IDT entry in bytes.
const gateSize = 16

func encodeGate(g Gate) (gateEntry, error) {
	return g.Encode64()
}

func decodeGate(e gateEntry) (Descriptor, error) {
	return DecodeSystem(e)
}

func appendGate(b []byte, e gateEntry) []byte {
	return e.AppendBytes(b)
}

// encodeSystem returns the GDT slots for a TSS descriptor or call gate.
func encodeSystem(d Descriptor) ([]SegmentDescriptor, error) {
	var (
		s   SystemDescriptor
		err error
	)
	switch d := d.(type) {
	case TaskSegment:
		s, err = d.Encode64()
	case Gate:
		s, err = d.Encode64()
	}
	if err != nil {
		return nil, err
	}
	return []SegmentDescriptor{s.Lo(), s.Hi()}, nil
}

func decodeSystemSlots(slots []SegmentDescriptor) (Descriptor, error) {
	return DecodeSystem(SystemDescriptorFromHalves(slots[0], slots[1]))
}
