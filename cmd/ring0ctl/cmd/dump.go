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
	"io"
	"strings"

	"github.com/google/subcommands"
	"gvisor.dev/x86/pkg/ring0"
	"gvisor.dev/x86/pkg/ring0/layout"
)

// Dump implements subcommands.Command for the "dump" command.
type Dump struct {
	output

	layoutPath string
}

// Name implements subcommands.Command.Name.
func (*Dump) Name() string {
	return "dump"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Dump) Synopsis() string {
	return "print the tables built from a layout"
}

// Usage implements subcommands.Command.Usage.
func (*Dump) Usage() string {
	return `dump -layout <file> - print every GDT entry and IDT gate, raw and decoded.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (d *Dump) SetFlags(f *flag.FlagSet) {
	f.StringVar(&d.layoutPath, "layout", "", "layout file.")
}

// Execute implements subcommands.Command.Execute.
func (d *Dump) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() != 0 || d.layoutPath == "" {
		f.Usage()
		return subcommands.ExitUsageError
	}
	_, t, err := buildHost(d.layoutPath)
	if err != nil {
		return failure("building tables: %v", err)
	}
	if err := dumpTables(d.out(), t); err != nil {
		return failure("%v", err)
	}
	return subcommands.ExitSuccess
}

func dumpTables(w io.Writer, t *layout.Tables) error {
	entries := t.GDT.Entries()
	sels := t.GDT.Selectors()
	byIndex := names(t)

	fmt.Fprintf(w, "GDT: %d entries, limit %#x\n", t.GDT.Len(), t.GDT.Limit())
	fmt.Fprintf(w, "  %-4d %-6v %016x  %s\n", 0, ring0.Selector(0), entries[0].Uint64(), describe(ring0.Null{}))
	for i, sel := range sels {
		end := len(entries)
		if i+1 < len(sels) {
			end = sels[i+1].Index()
		}
		raw := make([]string, 0, 2)
		for _, e := range entries[sel.Index():end] {
			raw = append(raw, fmt.Sprintf("%016x", e.Uint64()))
		}
		desc, err := t.GDT.Descriptor(sel)
		if err != nil {
			return fmt.Errorf("decoding %v: %w", sel, err)
		}
		fmt.Fprintf(w, "  %-4d %-6v %s  %-8s %s\n", sel.Index(), sel, strings.Join(raw, " "), byIndex[sel.Index()], describe(desc))
	}

	fmt.Fprintf(w, "IDT: %d gates, limit %#x\n", len(t.IDT.Vectors()), t.IDT.Limit())
	for _, v := range t.IDT.Vectors() {
		g, err := t.IDT.Gate(v)
		if err != nil {
			return fmt.Errorf("decoding gate %v: %w", v, err)
		}
		fmt.Fprintf(w, "  %-3d %-30v %s\n", uint(v), v, describe(g))
	}
	return nil
}
