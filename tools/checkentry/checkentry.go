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

// Package checkentry ensures that abi.EntryPoint literals name their Kind.
//
// The zero Kind is NoErrorCode, so a literal that omits it silently tags an
// entry point for the wrong stack layout if its vector pushes an error code.
package checkentry

import (
	"go/ast"
	"go/types"

	"golang.org/x/tools/go/analysis"
)

// abiPath is the package defining EntryPoint.
const abiPath = "gvisor.dev/x86/pkg/ring0/abi"

// Analyzer defines the entrypoint.
var Analyzer = &analysis.Analyzer{
	Name: "checkentry",
	Doc:  "requires abi.EntryPoint literals to set Kind",
	Run:  run,
}

func isEntryPoint(t types.Type) bool {
	named, ok := types.Unalias(t).(*types.Named)
	if !ok {
		return false
	}
	obj := named.Obj()
	return obj.Pkg() != nil && obj.Pkg().Path() == abiPath && obj.Name() == "EntryPoint"
}

// setsKind returns true if lit sets the Kind field. Empty literals are the
// nil entry point and positional literals set every field.
func setsKind(lit *ast.CompositeLit) bool {
	if len(lit.Elts) == 0 {
		return true
	}
	for _, elt := range lit.Elts {
		kv, ok := elt.(*ast.KeyValueExpr)
		if !ok {
			return true
		}
		if id, ok := kv.Key.(*ast.Ident); ok && id.Name == "Kind" {
			return true
		}
	}
	return false
}

func run(pass *analysis.Pass) (any, error) {
	// The defining package constructs entry points deliberately.
	if pass.Pkg.Path() == abiPath {
		return nil, nil
	}

	for _, file := range pass.Files {
		ast.Inspect(file, func(node ast.Node) bool {
			lit, ok := node.(*ast.CompositeLit)
			if !ok {
				return true
			}
			if t := pass.TypesInfo.TypeOf(lit); t == nil || !isEntryPoint(t) {
				return true
			}
			if !setsKind(lit) {
				pass.Reportf(lit.Pos(), "abi.EntryPoint literal without Kind defaults to NoErrorCode; set Kind or use abi.NewEntryPoint")
			}
			return true
		})
	}
	return nil, nil
}
