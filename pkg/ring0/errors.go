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
	"errors"

	"gvisor.dev/x86/pkg/ring0/abi"
)

// Errors returned while building and activating tables. All of them are
// reported before the processor consults a table.
var (
	// ErrInvalidIndex is returned for selectors or indices that do not name
	// an entry of the table they refer to.
	ErrInvalidIndex = errors.New("invalid index")

	// ErrInvalidDescriptor is returned for descriptors whose fields are
	// inconsistent or whose type code is not supported.
	ErrInvalidDescriptor = errors.New("invalid descriptor")

	// ErrCapacityExceeded is returned when a table has no free entries.
	ErrCapacityExceeded = errors.New("capacity exceeded")

	// ErrInvalidPrivilege is returned for privilege levels outside 0 to 3,
	// or outside the levels an operation accepts.
	ErrInvalidPrivilege = errors.New("invalid privilege level")

	// ErrInvalidStackIndex is returned for interrupt stack table indices
	// outside 1 to 7.
	ErrInvalidStackIndex = errors.New("invalid interrupt stack index")

	// ErrTableActive is returned when mutating a table that is active on a
	// processor.
	ErrTableActive = errors.New("table is active")

	// ErrNotReady is returned when a required vector has no gate.
	ErrNotReady = errors.New("interrupt table not ready")

	// ErrNoActiveGDT is returned when an operation needs a loaded GDT.
	ErrNoActiveGDT = errors.New("no active GDT")

	// ErrTaskBusy is returned when loading a task state segment that is
	// already loaded.
	ErrTaskBusy = errors.New("task state segment busy")

	// ErrMissingStack is returned when a gate switches to an empty
	// interrupt stack slot.
	ErrMissingStack = errors.New("interrupt stack not set")

	// ErrInvalidSelector is returned when a selector names a descriptor of
	// the wrong type for its use.
	ErrInvalidSelector = errors.New("invalid selector for use")
)

// Errors shared with package abi.
var (
	ErrVectorOutOfRange = abi.ErrVectorOutOfRange
	ErrABIMismatch      = abi.ErrABIMismatch
	ErrNilEntry         = abi.ErrNilEntry
)

// Vector is an interrupt vector.
type Vector = abi.Vector
