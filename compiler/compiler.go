// Package compiler orchestrates the pipeline: AST lowering, SSA
// construction, the fixed pass suite per function in declaration order,
// bytecode emission, and linking into the final Wasm module.
package compiler

import (
	"fmt"
	"strings"

	"github.com/cot-lang/cotc/ast"
	"github.com/cot-lang/cotc/diag"
	"github.com/cot-lang/cotc/lower"
	"github.com/cot-lang/cotc/ssa"
	"github.com/cot-lang/cotc/types"
	"github.com/cot-lang/cotc/wasmcodegen"
	"github.com/cot-lang/cotc/wasmlink"
)

// Target selects the output form. Only Wasm32 is produced here; the
// native path hands the module to the external translator.
type Target byte

const (
	TargetWasm32 Target = iota
	TargetNative
)

// Options is the core's entire configuration surface; everything else
// (manifest parsing, flag handling) belongs to the CLI.
type Options struct {
	Target   Target
	TestMode bool
	FailFast bool
	Filter   string
	// HostImports links cot_write/cot_time as host imports instead of
	// no-op stubs. The native translator always provides them; a bare
	// Wasm module defaults to the stubs.
	HostImports bool
}

// DiagnosticsError reports that compilation stopped on user errors; the
// reporter already printed them.
type DiagnosticsError struct {
	Count int
}

func (e *DiagnosticsError) Error() string {
	return fmt.Sprintf("compilation failed with %d diagnostics", e.Count)
}

// Compile runs the pipeline over one flat, type-checked module.
func Compile(m *ast.Module, reg *types.Registry, opts Options) ([]byte, error) {
	rep := diag.NewReporter()
	lw := lower.New(reg, rep)
	lw.SetTestMode(opts.TestMode)
	lw.SetFailFast(opts.FailFast)
	lw.SetFilter(opts.Filter)

	mod, err := lw.Lower(m)
	if rep.HasErrors() {
		rep.Print()
		return nil, &DiagnosticsError{Count: len(rep.Diags)}
	}
	if err != nil {
		return nil, err
	}

	// Functions compile in declaration order; the string table is shared
	// so literal offsets are stable module-wide.
	st := ssa.NewStringTable()
	var funcs []*ssa.Func
	for _, irf := range mod.Funcs {
		f, err := ssa.Build(irf, reg, st)
		if err != nil {
			return nil, err
		}
		if err := ssa.RunPasses(f); err != nil {
			return nil, err
		}
		funcs = append(funcs, f)
	}

	lk := wasmlink.New()
	lk.SetLiterals(st.Literals())

	// Imports precede every defined function index.
	for _, ext := range mod.Externs {
		lk.AddImport(ext.Module, ext.Name, len(ext.Params), resultCount(reg, ext.Result))
	}
	hostImports := opts.HostImports || opts.Target == TargetNative
	lk.DeclareRuntime(hostImports)

	for _, g := range mod.Globals {
		lk.AddGlobalCell(g.Name, g.Size, g.Init)
	}
	for _, meta := range mod.Metas {
		lk.AddMetadata(meta.Name, meta.TypeID, meta.Size)
	}

	for _, f := range funcs {
		np, nr := wasmcodegen.ABISlots(reg, f.Params, f.Result)
		lk.DeclareFunc(f.Name, np, nr, exported(f.Name))
	}

	lk.ComputeLayout()

	for _, f := range funcs {
		body, err := wasmcodegen.Emit(f, lk)
		if err != nil {
			return nil, err
		}
		lk.SetBody(f.Name, body)
	}
	lk.EmitRuntimeBodies(hostImports)

	return lk.Finalize()
}

func exported(name string) bool {
	return name == "main" || strings.HasPrefix(name, "test$") || strings.HasPrefix(name, "bench$")
}

func resultCount(reg *types.Registry, t types.TypeIndex) int {
	if t == types.VOID {
		return 0
	}
	return 1
}
