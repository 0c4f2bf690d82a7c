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

// Package cmd holds implementations of the ring0ctl commands.
package cmd

import (
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/google/subcommands"
	"gvisor.dev/x86/pkg/log"
	"gvisor.dev/x86/pkg/ring0"
	"gvisor.dev/x86/pkg/ring0/abi"
	"gvisor.dev/x86/pkg/ring0/layout"
)

// output is where commands write their results.
type output struct {
	// Out defaults to os.Stdout.
	Out io.Writer
}

func (o *output) out() io.Writer {
	if o.Out == nil {
		return os.Stdout
	}
	return o.Out
}

// ErrorLogger is where command failures are written in addition to the log.
// It is nil when the log already goes to stderr.
var ErrorLogger io.Writer

// failure logs an error, copies it to ErrorLogger if set, and returns
// ExitFailure.
func failure(format string, v ...any) subcommands.ExitStatus {
	log.Warningf(format, v...)
	if ErrorLogger != nil {
		fmt.Fprintf(ErrorLogger, format+"\n", v...)
	}
	return subcommands.ExitFailure
}

// hostArch is the architecture of this build.
func hostArch() abi.Arch {
	if runtime.GOARCH == "386" {
		return abi.I386
	}
	return abi.AMD64
}

// archFlag is a flag.Value for an abi.Arch.
type archFlag struct {
	abi.Arch
}

// String implements flag.Value.
func (a *archFlag) String() string {
	return a.Arch.String()
}

// Set implements flag.Value.
func (a *archFlag) Set(s string) error {
	arch, err := abi.ParseArch(s)
	if err != nil {
		return err
	}
	a.Arch = arch
	return nil
}

var _ flag.Value = (*archFlag)(nil)

// dumpStackSize is small, since dumped tables are never activated.
const dumpStackSize = 4096

// buildHost builds a layout with synthetic entry points.
func buildHost(path string) (*layout.Layout, *layout.Tables, error) {
	l, err := layout.Load(path)
	if err != nil {
		return nil, nil, err
	}
	t, err := layout.Build(l, layout.SyntheticEntries(entryBase, entryStride), &layout.HeapStacks{Size: dumpStackSize})
	if err != nil {
		return nil, nil, err
	}
	return l, t, nil
}

// Synthetic entry points used by check and dump.
const (
	entryBase   = 0x100000
	entryStride = 0x20
)

// names returns the segment names by selector index.
func names(t *layout.Tables) map[int]string {
	m := make(map[int]string, len(t.Selectors)+1)
	for name, sel := range t.Selectors {
		m[sel.Index()] = name
	}
	if t.TaskState != nil {
		m[t.TSS.Index()] = "tss"
	}
	return m
}

// describe renders a descriptor on one line.
func describe(d ring0.Descriptor) string {
	if d == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%v %+v", d.Kind(), d)
}
