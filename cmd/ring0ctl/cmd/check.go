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

package cmd

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"
	"gvisor.dev/x86/pkg/log"
	"gvisor.dev/x86/pkg/ring0"
	"gvisor.dev/x86/pkg/ring0/layout"
)

// Check implements subcommands.Command for the "check" command.
type Check struct {
	output

	layoutPath string
	cpus       int
}

// Name implements subcommands.Command.Name.
func (*Check) Name() string {
	return "check"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Check) Synopsis() string {
	return "build a layout and activate it without loading anything"
}

// Usage implements subcommands.Command.Usage.
func (*Check) Usage() string {
	return `check -layout <file> [-cpus n] - build the tables for n processors and
run every activation check, logging the instructions that would execute.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (c *Check) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.layoutPath, "layout", "", "layout file.")
	f.IntVar(&c.cpus, "cpus", 1, "number of processors.")
}

// Execute implements subcommands.Command.Execute.
func (c *Check) Execute(ctx context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() != 0 || c.layoutPath == "" {
		f.Usage()
		return subcommands.ExitUsageError
	}
	l, err := layout.Load(c.layoutPath)
	if err != nil {
		return failure("loading layout: %v", err)
	}
	entries := layout.SyntheticEntries(entryBase, entryStride)
	all, err := layout.BuildAll(ctx, l, c.cpus, entries, func(int) layout.Stacks {
		return &layout.HeapStacks{Size: dumpStackSize}
	})
	if err != nil {
		return failure("building tables: %v", err)
	}
	loader := &ring0.LoggingLoader{}
	for cpu, t := range all {
		p, err := t.NewProcessor(cpu, loader)
		if err != nil {
			return failure("CPU %d: %v", cpu, err)
		}
		err = t.Activate(p)
		p.Reset()
		if err != nil {
			return failure("CPU %d: activating: %v", cpu, err)
		}
		log.Debugf("CPU %d: activation checks passed", cpu)
	}
	fmt.Fprintf(c.out(), "ok: %d processors, %d segments, %d gates\n", c.cpus, len(l.Segments), len(all[0].IDT.Vectors()))
	return subcommands.ExitSuccess
}
