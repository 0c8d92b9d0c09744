package lower

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cot-lang/cotc/ast"
	"github.com/cot-lang/cotc/diag"
	"github.com/cot-lang/cotc/ir"
	"github.com/cot-lang/cotc/types"
)

func countOps(f *ir.Func, op ir.Op) int {
	n := 0
	for i := 0; i < f.NumBlocks(); i++ {
		for _, ni := range f.Block(ir.BlockID(i)).Nodes() {
			if f.Node(ni).Op == op {
				n++
			}
		}
	}
	return n
}

func findFunc(t *testing.T, m *Module, name string) *ir.Func {
	t.Helper()
	for _, f := range m.Funcs {
		if f.Name == name {
			return f
		}
	}
	t.Fatalf("no function %q", name)
	return nil
}

func lowerModule(t *testing.T, reg *types.Registry, m *ast.Module) *Module {
	t.Helper()
	l := New(reg, diag.NewReporter())
	out, err := l.Lower(m)
	require.NoError(t, err)
	return out
}

func TestLowerReturnConstant(t *testing.T) {
	reg := types.NewRegistry()
	m := &ast.Module{Decls: []ast.Decl{
		&ast.FuncDecl{Name: "main", Result: types.I64, Body: []ast.Stmt{
			&ast.ReturnStmt{Value: ast.NewIntLiteral(42, types.I64, ast.Span{})},
		}},
	}}
	out := lowerModule(t, reg, m)
	f := findFunc(t, out, "main")
	require.Equal(t, 1, countOps(f, ir.OpConstInt))
	require.Equal(t, ir.TermReturn, f.Block(0).Terminator())
}

// tracerModule builds: struct Tracer; impl Tracer { fn deinit(self) };
// fn main() i64 { { let t = new Tracer{id: 7} } return 0 }
func tracerModule(reg *types.Registry) (*ast.Module, types.TypeIndex) {
	tracerT := reg.MakeStruct("Tracer", []types.Field{{Name: "id", Type: types.I64}})
	ptrT := reg.MakePointer(tracerT)
	newT := ast.NewNew("Tracer", map[string]ast.Expr{
		"id": ast.NewIntLiteral(7, types.I64, ast.Span{}),
	}, ptrT, ast.Span{})
	m := &ast.Module{Decls: []ast.Decl{
		&ast.StructDecl{Name: "Tracer", Type: tracerT},
		&ast.ImplDecl{TypeName: "Tracer", Methods: []*ast.FuncDecl{{
			Name:     "deinit",
			Receiver: &ast.Param{Name: "self", Type: ptrT},
			Result:   types.VOID,
		}}},
		&ast.FuncDecl{Name: "main", Result: types.I64, Body: []ast.Stmt{
			&ast.BlockStmt{Stmts: []ast.Stmt{
				&ast.LetStmt{Name: "t", Type: ptrT, Init: newT},
			}},
			&ast.ReturnStmt{Value: ast.NewIntLiteral(0, types.I64, ast.Span{})},
		}},
	}}
	return m, ptrT
}

func TestLowerNewEmitsAllocAndScopedRelease(t *testing.T) {
	reg := types.NewRegistry()
	m, _ := tracerModule(reg)
	out := lowerModule(t, reg, m)

	f := findFunc(t, out, "main")
	require.Equal(t, 1, countOps(f, ir.OpAlloc))
	require.Equal(t, 1, countOps(f, ir.OpTypeMetadata),
		"the alloc references the type's symbolic metadata")
	// One release on the inner scope's exit; the outer return path owns
	// nothing.
	require.Equal(t, 1, countOps(f, ir.OpRelease))

	// The deinit method lowered under the synthesized name.
	findFunc(t, out, "Tracer_deinit")
	// Metadata table has the struct.
	require.Len(t, out.Metas, 1)
	require.Equal(t, "Tracer", out.Metas[0].Name)
}

func TestLowerForwardSkipsRelease(t *testing.T) {
	// Returning the allocation transfers ownership: no release emitted.
	reg := types.NewRegistry()
	tracerT := reg.MakeStruct("Tracer", []types.Field{{Name: "id", Type: types.I64}})
	ptrT := reg.MakePointer(tracerT)
	m := &ast.Module{Decls: []ast.Decl{
		&ast.StructDecl{Name: "Tracer", Type: tracerT},
		&ast.FuncDecl{Name: "make", Result: ptrT, Body: []ast.Stmt{
			&ast.ReturnStmt{Value: ast.NewNew("Tracer", nil, ptrT, ast.Span{})},
		}},
	}}
	out := lowerModule(t, reg, m)
	f := findFunc(t, out, "make")
	require.Equal(t, 1, countOps(f, ir.OpAlloc))
	require.Equal(t, 0, countOps(f, ir.OpRelease))
}

func TestLowerNoAllocMeansNoARC(t *testing.T) {
	// A function with no `new` emits zero retain/release calls.
	reg := types.NewRegistry()
	m := &ast.Module{Decls: []ast.Decl{
		&ast.FuncDecl{Name: "main", Result: types.I64, Body: []ast.Stmt{
			&ast.ReturnStmt{Value: ast.NewBinary("+",
				ast.NewIntLiteral(40, types.I64, ast.Span{}),
				ast.NewIntLiteral(2, types.I64, ast.Span{}),
				types.I64, ast.Span{})},
		}},
	}}
	out := lowerModule(t, reg, m)
	f := findFunc(t, out, "main")
	require.Equal(t, 0, countOps(f, ir.OpRetain))
	require.Equal(t, 0, countOps(f, ir.OpRelease))
}

func TestLowerWhileWithBreak(t *testing.T) {
	reg := types.NewRegistry()
	cond := ast.NewBoolLiteral(true, types.BOOL, ast.Span{})
	m := &ast.Module{Decls: []ast.Decl{
		&ast.FuncDecl{Name: "main", Result: types.I64, Body: []ast.Stmt{
			&ast.WhileStmt{Cond: cond, Body: []ast.Stmt{
				&ast.BreakStmt{},
			}},
			&ast.ReturnStmt{Value: ast.NewIntLiteral(0, types.I64, ast.Span{})},
		}},
	}}
	out := lowerModule(t, reg, m)
	f := findFunc(t, out, "main")
	// entry, header, body, exit at minimum.
	require.GreaterOrEqual(t, f.NumBlocks(), 4)
	// The body's break jumps to the exit block, not the header.
	body := f.Block(2)
	require.Equal(t, ir.TermJump, body.Terminator())
	require.Equal(t, ir.BlockID(3), body.Targets[0])
}

func TestLowerShortCircuitAndBranches(t *testing.T) {
	reg := types.NewRegistry()
	e := ast.NewBinary("and",
		ast.NewBoolLiteral(true, types.BOOL, ast.Span{}),
		ast.NewBoolLiteral(false, types.BOOL, ast.Span{}),
		types.BOOL, ast.Span{})
	m := &ast.Module{Decls: []ast.Decl{
		&ast.FuncDecl{Name: "f", Result: types.BOOL, Body: []ast.Stmt{
			&ast.ReturnStmt{Value: e},
		}},
	}}
	out := lowerModule(t, reg, m)
	f := findFunc(t, out, "f")
	// Short-circuit lowers to control flow, not a logical_and node.
	require.Equal(t, 0, countOps(f, ir.OpLogicalAnd))
	require.GreaterOrEqual(t, f.NumBlocks(), 3)
}

func TestLowerAssertEqWidensSmallTypes(t *testing.T) {
	reg := types.NewRegistry()
	m := &ast.Module{Decls: []ast.Decl{
		&ast.TestDecl{Name: "small", DisplayName: "small enums compare widened", Body: []ast.Stmt{
			&ast.ExprStmt{X: ast.NewBuiltinCall("assertEq", []ast.Expr{
				ast.NewIntLiteral(3, types.U8, ast.Span{}),
				ast.NewIntLiteral(3, types.U8, ast.Span{}),
			}, types.VOID, ast.Span{})},
		}},
	}}
	out := lowerModule(t, reg, m)
	f := findFunc(t, out, "test$small")
	// Both operands widen before the comparison and the display stores.
	require.Equal(t, 2, countOps(f, ir.OpExtendU))
	require.Equal(t, 1, countOps(f, ir.OpCmpEq))
}

func TestLowerTestModeEmitsRunner(t *testing.T) {
	reg := types.NewRegistry()
	m := &ast.Module{Decls: []ast.Decl{
		&ast.TestDecl{Name: "a", DisplayName: "first", Body: nil},
		&ast.TestDecl{Name: "b", DisplayName: "second", Body: nil},
	}}
	l := New(reg, diag.NewReporter())
	l.SetTestMode(true)
	out, err := l.Lower(m)
	require.NoError(t, err)

	require.Equal(t, []string{"test$a", "test$b"}, out.TestNames)
	require.Equal(t, []string{"first", "second"}, out.TestDisplayNames)

	runner := findFunc(t, out, "main")
	// begin + 2x(print_name, test, pass/fail) + summary.
	calls := countOps(runner, ir.OpCall)
	require.GreaterOrEqual(t, calls, 8)
}

func TestLowerTestFilter(t *testing.T) {
	reg := types.NewRegistry()
	m := &ast.Module{Decls: []ast.Decl{
		&ast.TestDecl{Name: "a", DisplayName: "keep this", Body: nil},
		&ast.TestDecl{Name: "b", DisplayName: "drop that", Body: nil},
	}}
	l := New(reg, diag.NewReporter())
	l.SetTestMode(true)
	l.SetFilter("keep")
	out, err := l.Lower(m)
	require.NoError(t, err)
	require.Equal(t, []string{"test$a"}, out.TestNames)
}

func TestLowerSwitchOverUnion(t *testing.T) {
	reg := types.NewRegistry()
	payloadT := reg.MakeStruct("IntPayload", []types.Field{{Name: "v", Type: types.I64}})
	unionT := reg.MakeUnion("Shape", []types.UnionVariant{
		{Name: "circle", Payload: payloadT, HasPayload: true},
		{Name: "empty"},
	})
	scrut := ast.NewIdent("s", unionT, ast.Span{})
	m := &ast.Module{Decls: []ast.Decl{
		&ast.UnionDecl{Name: "Shape", Type: unionT},
		&ast.FuncDecl{Name: "f", Params: []ast.Param{{Name: "s", Type: unionT}}, Result: types.I64, Body: []ast.Stmt{
			&ast.SwitchStmt{Scrutinee: scrut, Arms: []ast.SwitchArm{
				{VariantName: "circle", Bind: "p", Body: []ast.Stmt{
					&ast.ReturnStmt{Value: ast.NewIntLiteral(1, types.I64, ast.Span{})},
				}},
				// A zero-payload variant matches by its unqualified name.
				{VariantName: "empty", Body: []ast.Stmt{
					&ast.ReturnStmt{Value: ast.NewIntLiteral(2, types.I64, ast.Span{})},
				}},
			}},
			&ast.ReturnStmt{Value: ast.NewIntLiteral(0, types.I64, ast.Span{})},
		}},
	}}
	out := lowerModule(t, reg, m)
	f := findFunc(t, out, "f")
	require.Equal(t, 1, countOps(f, ir.OpUnionTag))
	// Two arms, two equality tests.
	require.Equal(t, 2, countOps(f, ir.OpCmpEq))
	// The payload arm extracts it.
	require.Equal(t, 1, countOps(f, ir.OpUnionPayload))
}

func TestLowerGlobalAssignment(t *testing.T) {
	reg := types.NewRegistry()
	m := &ast.Module{Decls: []ast.Decl{
		&ast.VarDecl{Name: "counter", Type: types.I64,
			Init: ast.NewIntLiteral(0, types.I64, ast.Span{})},
		&ast.FuncDecl{Name: "bump", Result: types.VOID, Body: []ast.Stmt{
			&ast.AssignStmt{
				Kind:   ast.AssignLocal,
				Target: ast.NewIdent("counter", types.I64, ast.Span{}),
				Op:     "+=",
				Value:  ast.NewIntLiteral(1, types.I64, ast.Span{}),
			},
		}},
	}}
	out := lowerModule(t, reg, m)
	require.Len(t, out.Globals, 1)
	f := findFunc(t, out, "bump")
	require.GreaterOrEqual(t, countOps(f, ir.OpGlobalAddr), 1)
	require.Equal(t, 1, countOps(f, ir.OpPtrStore))
	require.Equal(t, 1, countOps(f, ir.OpPtrLoad))
	require.Equal(t, 1, countOps(f, ir.OpAdd))
}

func TestLowerWeakLocalsClearedPerFunction(t *testing.T) {
	// A local marked weak in one function must not leak its status into
	// the next function's identically-indexed local.
	reg := types.NewRegistry()
	tracerT := reg.MakeStruct("Tracer", []types.Field{{Name: "id", Type: types.I64}})
	ptrT := reg.MakePointer(tracerT)
	m := &ast.Module{Decls: []ast.Decl{
		&ast.StructDecl{Name: "Tracer", Type: tracerT},
		&ast.FuncDecl{Name: "a", Params: []ast.Param{{Name: "p", Type: ptrT}}, Result: types.VOID, Body: []ast.Stmt{
			&ast.ExprStmt{X: ast.NewBuiltinCall("weak", []ast.Expr{
				ast.NewIdent("p", ptrT, ast.Span{}),
			}, ptrT, ast.Span{})},
		}},
		&ast.FuncDecl{Name: "b", Params: []ast.Param{{Name: "q", Type: ptrT}}, Result: types.VOID, Body: nil},
	}}
	l := New(reg, diag.NewReporter())
	_, err := l.Lower(m)
	require.NoError(t, err)
	// After lowering b (the last function), the weak map reflects only
	// b's body, which marked nothing.
	require.Empty(t, l.weakLocals)
}
