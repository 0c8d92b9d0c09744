// Package lower walks the typed AST and populates a FuncBuilder per
// function: it synthesizes per-function locals, registers ARC cleanups
// for every owned allocation, and emits the defer/break/return cleanup
// fan-outs on every exit path.
package lower

import (
	"fmt"
	"strings"

	"github.com/cot-lang/cotc/arc"
	"github.com/cot-lang/cotc/ast"
	"github.com/cot-lang/cotc/diag"
	"github.com/cot-lang/cotc/ir"
	"github.com/cot-lang/cotc/types"
)

// GlobalDef is one module-level variable, placed in linear memory by the
// linker.
type GlobalDef struct {
	Name string
	Type types.TypeIndex
	Size uint32
	Init int64
}

// ExternDef is a host-imported function.
type ExternDef struct {
	Name   string
	Module string
	Params []types.TypeIndex
	Result types.TypeIndex
}

// TypeMeta is one record of the type-metadata table; the linker joins it
// with the destructor table by name.
type TypeMeta struct {
	Name   string
	TypeID uint32
	Size   uint32
}

// Module is the Lowerer's output: the IR functions plus the module-level
// tables the linker needs.
type Module struct {
	Funcs   []*ir.Func
	Globals []GlobalDef
	Externs []ExternDef
	Metas   []TypeMeta

	TestNames        []string
	TestDisplayNames []string
	BenchNames       []string
}

type localBinding struct {
	local ir.Local
	typ   types.TypeIndex
}

type loopFrame struct {
	condBlock  ir.BlockID
	exitBlock  ir.BlockID
	deferDepth int
	// cleanupDepth is the cleanup-stack depth at loop entry; break and
	// continue emit down to it.
	cleanupDepth int
	label        string
}

type deferFrame struct {
	body  []ast.Stmt
	isErr bool
	depth int // cleanup-stack depth at registration
}

type genericInst struct {
	name string
	decl *ast.FuncDecl
}

// Lowerer lowers one module. Not reusable across modules.
type Lowerer struct {
	reg *types.Registry
	rep *diag.Reporter

	testMode bool
	failFast bool
	filter   string

	out *Module

	structByName map[string]types.TypeIndex
	consts       map[string]*ast.Literal
	globals      map[string]*GlobalDef
	funcDecls    map[string]*ast.FuncDecl

	genericSeen  map[string]bool
	genericQueue []genericInst

	// Per-function state, reset by beginFunc.
	fb         *ir.FuncBuilder
	cleanups   arc.CleanupStack
	loops      []loopFrame
	defers     []deferFrame
	locals     map[string]localBinding
	weakLocals map[ir.Local]bool
	terminated bool

	nextTypeID uint32
}

// New returns a Lowerer over the given registry.
func New(reg *types.Registry, rep *diag.Reporter) *Lowerer {
	return &Lowerer{
		reg:          reg,
		rep:          rep,
		out:          &Module{},
		structByName: make(map[string]types.TypeIndex),
		consts:       make(map[string]*ast.Literal),
		globals:      make(map[string]*GlobalDef),
		funcDecls:    make(map[string]*ast.FuncDecl),
		genericSeen:  make(map[string]bool),
		nextTypeID:   1,
	}
}

// SetTestMode makes Lower emit the test-runner main.
func (l *Lowerer) SetTestMode(on bool) { l.testMode = on }

// SetFailFast makes the emitted runner halt after the first failure with
// exit code 1.
func (l *Lowerer) SetFailFast(on bool) { l.failFast = on }

// SetFilter restricts test lowering to tests whose display name or
// internal name contains the substring.
func (l *Lowerer) SetFilter(f string) { l.filter = f }

// AddTestName pre-registers a test (used when the frontend filters).
func (l *Lowerer) AddTestName(name string) { l.out.TestNames = append(l.out.TestNames, name) }

// AddTestDisplayName pre-registers a test's printed name.
func (l *Lowerer) AddTestDisplayName(name string) {
	l.out.TestDisplayNames = append(l.out.TestDisplayNames, name)
}

// QueueInstantiation requests a generic instantiation to be lowered under
// the mangled name. Deduplicated: each monomorphization lowers once.
func (l *Lowerer) QueueInstantiation(name string, decl *ast.FuncDecl) {
	if l.genericSeen[name] {
		return
	}
	l.genericSeen[name] = true
	l.genericQueue = append(l.genericQueue, genericInst{name, decl})
}

// Lower lowers every top-level declaration, drains the generic queue,
// and (in test mode) emits the runner main.
func (l *Lowerer) Lower(m *ast.Module) (*Module, error) {
	// Declaration pass: record types, consts, globals and function
	// signatures before lowering any body.
	for _, d := range m.Decls {
		l.declare(d)
	}
	for _, d := range m.Decls {
		if err := l.lowerDecl(d); err != nil {
			return nil, err
		}
	}
	for len(l.genericQueue) > 0 {
		inst := l.genericQueue[0]
		l.genericQueue = l.genericQueue[1:]
		if err := l.lowerFunc(inst.name, nil, inst.decl.Params, inst.decl.Result, inst.decl.Body); err != nil {
			return nil, err
		}
	}
	if l.testMode {
		l.emitTestRunner()
	}
	diag.Logf(diag.PhaseLower, "lowered %d funcs, %d globals, %d tests",
		len(l.out.Funcs), len(l.out.Globals), len(l.out.TestNames))
	return l.out, nil
}

func (l *Lowerer) declare(d ast.Decl) {
	switch d := d.(type) {
	case *ast.StructDecl:
		l.structByName[d.Name] = d.Type
		info := l.reg.Info(d.Type)
		l.out.Metas = append(l.out.Metas, TypeMeta{Name: d.Name, TypeID: l.nextTypeID, Size: info.Size})
		l.nextTypeID++
	case *ast.ConstDecl:
		lit := d.Value
		l.consts[d.Name] = &lit
	case *ast.VarDecl:
		info := l.reg.Info(d.Type)
		g := &GlobalDef{Name: d.Name, Type: d.Type, Size: info.Size}
		if lit, ok := d.Init.(*ast.Literal); ok && lit != nil {
			switch lit.Kind {
			case ast.LitInt:
				g.Init = lit.Int
			case ast.LitBool:
				if lit.Bool {
					g.Init = 1
				}
			}
		}
		l.globals[d.Name] = g
		l.out.Globals = append(l.out.Globals, *g)
	case *ast.FuncDecl:
		l.funcDecls[d.Name] = d
	case *ast.ExternDecl:
		var params []types.TypeIndex
		for _, p := range d.Params {
			params = append(params, p.Type)
		}
		l.out.Externs = append(l.out.Externs, ExternDef{Name: d.Name, Module: d.Module, Params: params, Result: d.Result})
	}
}

func (l *Lowerer) lowerDecl(d ast.Decl) error {
	switch d := d.(type) {
	case *ast.FuncDecl:
		if len(d.Generic) > 0 {
			return nil // template; instances lower via the queue
		}
		return l.lowerFunc(d.Name, d.Receiver, d.Params, d.Result, d.Body)
	case *ast.ImplDecl:
		for _, m := range d.Methods {
			name := d.TypeName + "_" + m.Name
			if err := l.lowerFunc(name, m.Receiver, m.Params, m.Result, m.Body); err != nil {
				return err
			}
		}
		return nil
	case *ast.TestDecl:
		if l.filter != "" && !strings.Contains(d.DisplayName, l.filter) && !strings.Contains(d.Name, l.filter) {
			return nil
		}
		name := "test$" + d.Name
		l.out.TestNames = append(l.out.TestNames, name)
		l.out.TestDisplayNames = append(l.out.TestDisplayNames, d.DisplayName)
		return l.lowerFunc(name, nil, nil, types.VOID, d.Body)
	case *ast.BenchDecl:
		name := "bench$" + d.Name
		l.out.BenchNames = append(l.out.BenchNames, name)
		return l.lowerFunc(name, nil, nil, types.VOID, d.Body)
	case *ast.VarDecl, *ast.ConstDecl, *ast.StructDecl, *ast.EnumDecl,
		*ast.UnionDecl, *ast.TypeAliasDecl, *ast.ExternDecl:
		return nil // handled by declare
	}
	return diag.Internalf("lower", "unknown decl %T", d)
}

// lowerFunc lowers one function body. Methods get the receiver prepended
// to the parameter list.
func (l *Lowerer) lowerFunc(name string, recv *ast.Param, params []ast.Param, result types.TypeIndex, body []ast.Stmt) error {
	if diag.Tracing(name) {
		diag.Logf(diag.PhaseLower, "lowering %s", name)
	}
	all := params
	if recv != nil {
		all = append([]ast.Param{*recv}, params...)
	}
	var ptypes []types.TypeIndex
	for _, p := range all {
		ptypes = append(ptypes, p.Type)
	}

	l.fb = ir.NewFuncBuilder(name, ptypes, result)
	l.cleanups = arc.CleanupStack{}
	l.loops = nil
	l.defers = nil
	l.locals = make(map[string]localBinding)
	// The weak-locals map is scoped per function body and must be
	// cleared on entry; a stale entry would mark an unrelated local weak.
	l.weakLocals = make(map[ir.Local]bool)
	l.terminated = false

	entry := l.fb.NewBlock()
	l.fb.SetCurrent(entry)

	for i, p := range all {
		info := l.reg.Info(p.Type)
		loc := l.fb.F.AllocLocal(info.Size, p.Type)
		l.locals[p.Name] = localBinding{loc, p.Type}
		a := l.fb.EmitArg(i, p.Type, ast2span(ast.Span{}))
		l.fb.EmitStoreLocal(loc, a, ast2span(ast.Span{}))
	}

	depth := l.cleanups.Depth()
	for _, s := range body {
		if l.terminated {
			break
		}
		if err := l.lowerStmt(s); err != nil {
			return err
		}
	}
	if !l.terminated {
		l.runDefersFrom(0)
		l.emitCleanups(depth)
		l.fb.SetReturn(ir.NodeIndexInvalid)
	}

	l.out.Funcs = append(l.out.Funcs, l.fb.F)
	return nil
}

// emitCleanups emits the active cleanups above depth in LIFO order and
// pops them (normal scope exit).
func (l *Lowerer) emitCleanups(depth int) {
	l.cleanups.EmitToDepth(depth, l.cleanupEmitter())
}

// emitCleanupsNoPop emits without popping (early exits: break, continue,
// return — the lexical scope stays live for other paths).
func (l *Lowerer) emitCleanupsNoPop(depth int) {
	l.cleanups.EmitToDepthNoPop(depth, l.cleanupEmitter())
}

func (l *Lowerer) cleanupEmitter() arc.Emitter {
	return func(kind arc.CleanupKind, node ir.NodeIndex, typ types.TypeIndex) {
		switch kind {
		case arc.CleanupRelease:
			l.fb.EmitRelease(node, ir.Span{})
		case arc.CleanupEndBorrow:
			// Borrows have no runtime footprint in the Wasm backend.
		}
	}
}

// runDefersFrom re-lowers every deferred body registered at or above
// depth, in reverse registration order.
func (l *Lowerer) runDefersFrom(depth int) {
	for i := len(l.defers) - 1; i >= 0; i-- {
		d := l.defers[i]
		if d.depth < depth || d.isErr {
			continue
		}
		for _, s := range d.body {
			if l.terminated {
				return
			}
			if err := l.lowerStmt(s); err != nil {
				return
			}
		}
	}
}

// runErrDefersFrom is runDefersFrom for error paths: errdefer bodies run
// too.
func (l *Lowerer) runErrDefersFrom(depth int) {
	for i := len(l.defers) - 1; i >= 0; i-- {
		d := l.defers[i]
		if d.depth < depth {
			continue
		}
		for _, s := range d.body {
			if l.terminated {
				return
			}
			if err := l.lowerStmt(s); err != nil {
				return
			}
		}
	}
}

func ast2span(s ast.Span) ir.Span {
	return ir.Span{File: s.File, StartLine: s.StartLine, StartCol: s.StartCol,
		EndLine: s.EndLine, EndCol: s.EndCol}
}

func (l *Lowerer) errf(code string, span ast.Span, format string, args ...interface{}) error {
	d := &diag.Diagnostic{File: span.File, Line: span.StartLine, Col: span.StartCol,
		Code: code, Message: fmt.Sprintf(format, args...)}
	if l.rep != nil {
		l.rep.Report(d)
	}
	return d
}
