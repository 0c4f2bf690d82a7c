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
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"gvisor.dev/x86/pkg/log"
)

// TrapFrames are the frames entry stubs pass to their dispatch function:
// *TrapFrame in the 64-bit configuration and *TrapFrame32 in the 32-bit one.
type TrapFrames interface {
	*TrapFrame | *TrapFrame32

	trap() trapInfo
}

// trapInfo is the part of a frame the dispatcher inspects.
type trapInfo struct {
	vector    Vector
	errorCode uint64
	ip        uint64
	cs        uint64
	flags     Flags
}

func (tf *TrapFrame) trap() trapInfo {
	return trapInfo{
		vector:    Vector(tf.Vector),
		errorCode: tf.ErrorCode,
		ip:        tf.RIP,
		cs:        tf.CS,
		flags:     Flags(tf.RFLAGS),
	}
}

func (tf *TrapFrame32) trap() trapInfo {
	return trapInfo{
		vector:    Vector(tf.Vector),
		errorCode: uint64(tf.ErrorCode),
		ip:        uint64(tf.EIP),
		cs:        uint64(tf.CS),
		flags:     Flags(tf.EFLAGS),
	}
}

// Handler handles a vector without an error code.
type Handler[F TrapFrames] func(tf F)

// ErrorCodeHandler handles a vector with an error code.
type ErrorCodeHandler[F TrapFrames] func(tf F, code uint64)

// binding is an installed handler. Exactly one field is set.
type binding[F TrapFrames] struct {
	handler  Handler[F]
	withCode ErrorCodeHandler[F]
}

// Dispatcher routes trap frames from the entry stubs to Go handlers.
//
// Registration takes a lock; Dispatch does not, so it is safe to call from
// the dispatch function of generated stubs while handlers are still being
// registered on another CPU.
type Dispatcher[F TrapFrames] struct {
	// mu serializes registration.
	mu sync.Mutex

	bindings [NumVectors]atomic.Pointer[binding[F]]

	// unhandled counts frames routed to the fallback.
	unhandled atomic.Uint64

	fallback atomic.Pointer[Handler[F]]
	log      log.Logger
}

// NewDispatcher returns a Dispatcher for 64-bit frames with no handlers.
// Unhandled vectors are reported through a rate limited view of logger, or
// the global logger if logger is nil.
func NewDispatcher(logger log.Logger) *Dispatcher[*TrapFrame] {
	return newDispatcher[*TrapFrame](logger)
}

// NewDispatcher32 is NewDispatcher for 32-bit frames.
func NewDispatcher32(logger log.Logger) *Dispatcher[*TrapFrame32] {
	return newDispatcher[*TrapFrame32](logger)
}

func newDispatcher[F TrapFrames](logger log.Logger) *Dispatcher[F] {
	if logger == nil {
		logger = log.Log()
	}
	return &Dispatcher[F]{
		log: log.RateLimitedLogger(logger, time.Second),
	}
}

func (d *Dispatcher[F]) install(v Vector, want Kind, b *binding[F]) error {
	if !v.Valid() {
		return fmt.Errorf("%w: %d", ErrVectorOutOfRange, uint(v))
	}
	if got := KindOf(v); got != want {
		return fmt.Errorf("%w: %v is %v", ErrABIMismatch, v, got)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bindings[v].Store(b)
	return nil
}

// Handle installs h for v. It fails with ErrABIMismatch if the processor
// pushes an error code for v.
func (d *Dispatcher[F]) Handle(v Vector, h Handler[F]) error {
	if h == nil {
		return fmt.Errorf("%w for %v", ErrNilEntry, v)
	}
	return d.install(v, NoErrorCode, &binding[F]{handler: h})
}

// HandleWithCode installs h for v. It fails with ErrABIMismatch if the
// processor does not push an error code for v.
func (d *Dispatcher[F]) HandleWithCode(v Vector, h ErrorCodeHandler[F]) error {
	if h == nil {
		return fmt.Errorf("%w for %v", ErrNilEntry, v)
	}
	return d.install(v, WithErrorCode, &binding[F]{withCode: h})
}

// Remove uninstalls the handler for v, if any.
func (d *Dispatcher[F]) Remove(v Vector) {
	if !v.Valid() {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bindings[v].Store(nil)
}

// SetFallback replaces the handler for vectors with nothing installed. A nil
// h restores the default, which logs the frame.
func (d *Dispatcher[F]) SetFallback(h Handler[F]) {
	if h == nil {
		d.fallback.Store(nil)
		return
	}
	d.fallback.Store(&h)
}

// Unhandled returns the number of frames routed to the fallback.
func (d *Dispatcher[F]) Unhandled() uint64 {
	return d.unhandled.Load()
}

// Dispatch routes tf to the handler for its vector.
func (d *Dispatcher[F]) Dispatch(tf F) {
	t := tf.trap()
	if t.vector.Valid() {
		if b := d.bindings[t.vector].Load(); b != nil {
			if b.withCode != nil {
				b.withCode(tf, t.errorCode)
			} else {
				b.handler(tf)
			}
			return
		}
	}
	d.unhandled.Add(1)
	if fb := d.fallback.Load(); fb != nil {
		(*fb)(tf)
		return
	}
	d.log.Warningf("Unhandled %v at ip %#x (cs %#x, flags %v, error code %#x)",
		t.vector, t.ip, t.cs, t.flags, t.errorCode)
}
