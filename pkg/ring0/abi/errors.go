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

import "errors"

// Errors returned while binding entry points and checking plans.
var (
	// ErrVectorOutOfRange is returned for vectors past MaxVector.
	ErrVectorOutOfRange = errors.New("vector out of range")

	// ErrABIMismatch is returned when an entry point's tag does not match
	// the error-code classification of its vector.
	ErrABIMismatch = errors.New("entry point ABI does not match vector")

	// ErrNilEntry is returned for an entry point with a zero address.
	ErrNilEntry = errors.New("nil entry point")

	// ErrUnbalanced is returned when a plan does not leave the stack
	// exactly as the processor expects on return from interrupt.
	ErrUnbalanced = errors.New("unbalanced stack")

	// ErrClobbered is returned when a plan returns with a register value
	// different from the one it was entered with.
	ErrClobbered = errors.New("register clobbered")

	// ErrFrameLayout is returned when the frame passed to the dispatcher
	// does not match TrapFrame.
	ErrFrameLayout = errors.New("trap frame layout mismatch")
)
