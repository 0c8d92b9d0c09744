package compiler

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cot-lang/cotc/ast"
	"github.com/cot-lang/cotc/types"
)

var wasmMagic = []byte{0x00, 'a', 's', 'm', 0x01, 0x00, 0x00, 0x00}

func span() ast.Span { return ast.Span{File: "main.cot", StartLine: 1, StartCol: 1} }

// fn main() i64 { return 42 }
func TestCompileReturnConstant(t *testing.T) {
	reg := types.NewRegistry()
	m := &ast.Module{Decls: []ast.Decl{
		&ast.FuncDecl{Name: "main", Result: types.I64, Body: []ast.Stmt{
			&ast.ReturnStmt{Value: ast.NewIntLiteral(42, types.I64, span())},
		}},
	}}
	out, err := Compile(m, reg, Options{})
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(out, wasmMagic))
	require.True(t, bytes.Contains(out, []byte("main")))
	require.True(t, bytes.Contains(out, []byte("memory")))
}

// fn main() i64 { let x = 10; let y = 5; if x+y != 15 { return 1 } return 0 }
func TestCompileIfArithmetic(t *testing.T) {
	reg := types.NewRegistry()
	sum := ast.NewBinary("+",
		ast.NewIdent("x", types.I64, span()),
		ast.NewIdent("y", types.I64, span()),
		types.I64, span())
	cond := ast.NewBinary("!=", sum, ast.NewIntLiteral(15, types.I64, span()), types.BOOL, span())
	m := &ast.Module{Decls: []ast.Decl{
		&ast.FuncDecl{Name: "main", Result: types.I64, Body: []ast.Stmt{
			&ast.LetStmt{Name: "x", Type: types.I64, Init: ast.NewIntLiteral(10, types.I64, span())},
			&ast.LetStmt{Name: "y", Type: types.I64, Init: ast.NewIntLiteral(5, types.I64, span())},
			&ast.IfStmt{Cond: cond, Then: []ast.Stmt{
				&ast.ReturnStmt{Value: ast.NewIntLiteral(1, types.I64, span())},
			}},
			&ast.ReturnStmt{Value: ast.NewIntLiteral(0, types.I64, span())},
		}},
	}}
	out, err := Compile(m, reg, Options{})
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(out, wasmMagic))
}

// fn main() i64 { let sum = 0; let i = 1; while i <= 10 { sum = sum + i;
// i = i + 1 } if sum != 55 { return 40 }; return 0 }
func TestCompileWhileLoop(t *testing.T) {
	reg := types.NewRegistry()
	iLeTen := ast.NewBinary("<=",
		ast.NewIdent("i", types.I64, span()),
		ast.NewIntLiteral(10, types.I64, span()), types.BOOL, span())
	m := &ast.Module{Decls: []ast.Decl{
		&ast.FuncDecl{Name: "main", Result: types.I64, Body: []ast.Stmt{
			&ast.LetStmt{Name: "sum", Type: types.I64, Init: ast.NewIntLiteral(0, types.I64, span())},
			&ast.LetStmt{Name: "i", Type: types.I64, Init: ast.NewIntLiteral(1, types.I64, span())},
			&ast.WhileStmt{Cond: iLeTen, Body: []ast.Stmt{
				&ast.AssignStmt{Kind: ast.AssignLocal,
					Target: ast.NewIdent("sum", types.I64, span()), Op: "+",
					Value: ast.NewIdent("i", types.I64, span())},
				&ast.AssignStmt{Kind: ast.AssignLocal,
					Target: ast.NewIdent("i", types.I64, span()), Op: "+",
					Value: ast.NewIntLiteral(1, types.I64, span())},
			}},
			&ast.IfStmt{
				Cond: ast.NewBinary("!=",
					ast.NewIdent("sum", types.I64, span()),
					ast.NewIntLiteral(55, types.I64, span()), types.BOOL, span()),
				Then: []ast.Stmt{&ast.ReturnStmt{Value: ast.NewIntLiteral(40, types.I64, span())}},
			},
			&ast.ReturnStmt{Value: ast.NewIntLiteral(0, types.I64, span())},
		}},
	}}
	out, err := Compile(m, reg, Options{})
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(out, wasmMagic))
	// A while loop whose body does not branch still emits the loop
	// opcode so the back edge has a target.
	require.True(t, bytes.Contains(out, []byte{0x03, 0x40}), "loop block expected")
}

// ARC scenario: destructor called on scope exit; the module carries the
// element segment wiring Tracer_deinit into the table.
func TestCompileDestructorTable(t *testing.T) {
	reg := types.NewRegistry()
	tracerT := reg.MakeStruct("Tracer", []types.Field{{Name: "id", Type: types.I64}})
	ptrT := reg.MakePointer(tracerT)
	m := &ast.Module{Decls: []ast.Decl{
		&ast.VarDecl{Name: "global_counter", Type: types.I64,
			Init: ast.NewIntLiteral(0, types.I64, span())},
		&ast.StructDecl{Name: "Tracer", Type: tracerT},
		&ast.ImplDecl{TypeName: "Tracer", Methods: []*ast.FuncDecl{{
			Name:     "deinit",
			Receiver: &ast.Param{Name: "self", Type: ptrT},
			Result:   types.VOID,
			Body: []ast.Stmt{
				&ast.AssignStmt{Kind: ast.AssignLocal,
					Target: ast.NewIdent("global_counter", types.I64, span()), Op: "+",
					Value: ast.NewIntLiteral(1, types.I64, span())},
			},
		}}},
		&ast.FuncDecl{Name: "main", Result: types.I64, Body: []ast.Stmt{
			&ast.BlockStmt{Stmts: []ast.Stmt{
				&ast.LetStmt{Name: "t", Type: ptrT,
					Init: ast.NewNew("Tracer", map[string]ast.Expr{
						"id": ast.NewIntLiteral(7, types.I64, span()),
					}, ptrT, span())},
			}},
			&ast.ReturnStmt{Value: ast.NewIdent("global_counter", types.I64, span())},
		}},
	}}
	out, err := Compile(m, reg, Options{})
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(out, wasmMagic))
	// Destructors are reached through the table, not by an export name.
	require.True(t, bytes.Contains(out, []byte("Tracer_deinit")) == false,
		"unexported destructors do not appear by name")
	// call_indirect appears in cot_release's body.
	require.True(t, bytes.Contains(out, []byte{0x11}))
}

// String concat: fn main() i64 { let a = "hello "; let b = "world";
// let c = a ++ b; return @len(c) }
func TestCompileStringConcat(t *testing.T) {
	reg := types.NewRegistry()
	m := &ast.Module{Decls: []ast.Decl{
		&ast.FuncDecl{Name: "main", Result: types.I64, Body: []ast.Stmt{
			&ast.LetStmt{Name: "a", Type: types.STRING, Init: ast.NewStringLiteral("hello ", types.STRING, span())},
			&ast.LetStmt{Name: "b", Type: types.STRING, Init: ast.NewStringLiteral("world", types.STRING, span())},
			&ast.LetStmt{Name: "c", Type: types.STRING,
				Init: ast.NewBinary("++",
					ast.NewIdent("a", types.STRING, span()),
					ast.NewIdent("b", types.STRING, span()),
					types.STRING, span())},
			&ast.ReturnStmt{Value: ast.NewBuiltinCall("len", []ast.Expr{
				ast.NewIdent("c", types.STRING, span()),
			}, types.I64, span())},
		}},
	}}
	out, err := Compile(m, reg, Options{})
	require.NoError(t, err)
	// Both literals land contiguously in the string data segment.
	require.True(t, bytes.Contains(out, []byte("hello world")))
}

// Test runner: one passing, one failing assertion.
func TestCompileTestMode(t *testing.T) {
	reg := types.NewRegistry()
	assertCall := func(a, b int64) ast.Stmt {
		return &ast.ExprStmt{X: ast.NewBuiltinCall("assertEq", []ast.Expr{
			ast.NewIntLiteral(a, types.I64, span()),
			ast.NewIntLiteral(b, types.I64, span()),
		}, types.VOID, span())}
	}
	m := &ast.Module{Decls: []ast.Decl{
		&ast.TestDecl{Name: "pass", DisplayName: "answers match", Body: []ast.Stmt{assertCall(42, 42)}},
		&ast.TestDecl{Name: "fail", DisplayName: "numbers differ", Body: []ast.Stmt{assertCall(1, 2)}},
	}}
	out, err := Compile(m, reg, Options{TestMode: true, HostImports: true})
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(out, wasmMagic))
	// Test entries and main are exported.
	require.True(t, bytes.Contains(out, []byte("test$pass")))
	require.True(t, bytes.Contains(out, []byte("test$fail")))
	require.True(t, bytes.Contains(out, []byte("main")))
	// The runner's display names ride in the data segment.
	require.True(t, bytes.Contains(out, []byte("answers match")))
	// Host imports for write/time.
	require.True(t, bytes.Contains(out, []byte("cot_write")))
	require.True(t, bytes.Contains(out, []byte("cot_time")))
}

func TestCompileFailFast(t *testing.T) {
	reg := types.NewRegistry()
	m := &ast.Module{Decls: []ast.Decl{
		&ast.TestDecl{Name: "a", DisplayName: "a", Body: nil},
	}}
	_, err := Compile(m, reg, Options{TestMode: true, FailFast: true})
	require.NoError(t, err)
}

func TestCompileUndefinedNameIsDiagnostic(t *testing.T) {
	reg := types.NewRegistry()
	m := &ast.Module{Decls: []ast.Decl{
		&ast.FuncDecl{Name: "main", Result: types.I64, Body: []ast.Stmt{
			&ast.ReturnStmt{Value: ast.NewIdent("nope", types.I64, span())},
		}},
	}}
	_, err := Compile(m, reg, Options{})
	require.Error(t, err)
	var de *DiagnosticsError
	require.ErrorAs(t, err, &de)
}
