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
	"strconv"
	"strings"

	"github.com/google/subcommands"
	"gvisor.dev/x86/pkg/ring0"
)

// Decode implements subcommands.Command for the "decode" command.
type Decode struct {
	output

	system bool
}

// Name implements subcommands.Command.Name.
func (*Decode) Name() string {
	return "decode"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Decode) Synopsis() string {
	return "decode raw descriptors"
}

// Usage implements subcommands.Command.Usage.
func (*Decode) Usage() string {
	return `decode [-system] <hex>... - decode 8 byte descriptors, or with -system,
16 byte descriptors given as low and high quadword pairs.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (d *Decode) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&d.system, "system", false, "decode 16 byte system descriptors.")
}

func parseHex(s string) (uint64, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid descriptor %q: %w", s, err)
	}
	return v, nil
}

// Execute implements subcommands.Command.Execute.
func (d *Decode) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	args := f.Args()
	if len(args) == 0 || (d.system && len(args)%2 != 0) {
		f.Usage()
		return subcommands.ExitUsageError
	}
	values := make([]uint64, 0, len(args))
	for _, arg := range args {
		v, err := parseHex(arg)
		if err != nil {
			return failure("%v", err)
		}
		values = append(values, v)
	}

	status := subcommands.ExitSuccess
	if d.system {
		for i := 0; i < len(values); i += 2 {
			desc, err := ring0.DecodeSystem(ring0.SystemDescriptorFromUint64s(values[i], values[i+1]))
			if err != nil {
				fmt.Fprintf(d.out(), "%016x %016x: %v\n", values[i], values[i+1], err)
				status = subcommands.ExitFailure
				continue
			}
			fmt.Fprintf(d.out(), "%016x %016x: %s\n", values[i], values[i+1], describe(desc))
		}
		return status
	}
	for _, v := range values {
		desc, err := ring0.DecodeSegment(ring0.SegmentDescriptorFromUint64(v))
		if err != nil {
			fmt.Fprintf(d.out(), "%016x: %v\n", v, err)
			status = subcommands.ExitFailure
			continue
		}
		fmt.Fprintf(d.out(), "%016x: %s\n", v, describe(desc))
	}
	return status
}
