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
	"bytes"
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/subcommands"
	"gvisor.dev/x86/pkg/log"
	"gvisor.dev/x86/pkg/ring0/abi"
	"gvisor.dev/x86/pkg/ring0/entrygen"
	"gvisor.dev/x86/pkg/ring0/layout"
)

// Gen implements subcommands.Command for the "gen" command.
type Gen struct {
	output

	layoutPath string
	pkg        string
	arch       archFlag
	outDir     string
	dispatch   string
}

// Name implements subcommands.Command.Name.
func (*Gen) Name() string {
	return "gen"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Gen) Synopsis() string {
	return "generate interrupt entry stubs"
}

// Usage implements subcommands.Command.Usage.
func (*Gen) Usage() string {
	return `gen [flags] - generate entry stubs for the vectors of a layout, or for all
vectors if no layout is given.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (g *Gen) SetFlags(f *flag.FlagSet) {
	g.arch.Arch = hostArch()
	f.StringVar(&g.layoutPath, "layout", "", "layout file selecting the vectors.")
	f.StringVar(&g.pkg, "package", "kernel", "package name of the generated files.")
	f.Var(&g.arch, "arch", "architecture: amd64 or 386.")
	f.StringVar(&g.outDir, "out", ".", "output directory.")
	f.StringVar(&g.dispatch, "dispatch", "dispatch", "Go function called by every stub.")
}

// Execute implements subcommands.Command.Execute.
func (g *Gen) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	opts := entrygen.Options{
		Package:  g.pkg,
		Arch:     g.arch.Arch,
		Dispatch: g.dispatch,
	}
	if g.layoutPath != "" {
		l, err := layout.Load(g.layoutPath)
		if err != nil {
			return failure("loading layout: %v", err)
		}
		opts.Vectors = l.Vectors()
		if len(opts.Vectors) == 0 {
			return failure("layout %s has no gates", g.layoutPath)
		}
	}

	var asm, decl bytes.Buffer
	if err := entrygen.Assembly(&asm, opts); err != nil {
		return failure("generating assembly: %v", err)
	}
	if err := entrygen.Declarations(&decl, opts); err != nil {
		return failure("generating declarations: %v", err)
	}
	asmName, declName := entrygen.FileNames(opts.Arch)
	for _, file := range []struct {
		name string
		data []byte
	}{
		{asmName, asm.Bytes()},
		{declName, decl.Bytes()},
	} {
		path := filepath.Join(g.outDir, file.name)
		if err := os.WriteFile(path, file.data, 0644); err != nil {
			return failure("writing %s: %v", path, err)
		}
		log.Infof("Wrote %s", path)
	}
	fmt.Fprintf(g.out(), "generated %d stubs for %v in %s\n", count(opts), opts.Arch, g.outDir)
	return subcommands.ExitSuccess
}

func count(opts entrygen.Options) int {
	if opts.Vectors == nil {
		return abi.NumVectors
	}
	return len(opts.Vectors)
}
