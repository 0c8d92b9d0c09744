// Package ast is the typed syntax tree the compiler core consumes. The
// scanner, parser and type checker that produce it live outside the core;
// this package only defines the shapes the Lowerer walks. Callers (tests,
// or an external frontend) construct these values directly after parsing
// and checking.
package ast

import "github.com/cot-lang/cotc/types"

// Span is a source location range, carried on every node for diagnostics.
type Span struct {
	File                string
	StartLine, StartCol int
	EndLine, EndCol     int
}

// Module is one flat compilation unit: imports between source files are
// resolved before the core runs, so the core sees a single module.
type Module struct {
	Decls []Decl
}

// Decl is the interface implemented by every top-level declaration kind.
type Decl interface{ declNode() }

type FuncDecl struct {
	Name     string
	Receiver *Param // non-nil for methods lowered from an Impl block
	Params   []Param
	Result   types.TypeIndex
	Body     []Stmt
	Generic  []string // type-parameter names; non-empty marks this a generic template
	Span     Span
}

type Param struct {
	Name string
	Type types.TypeIndex
}

type VarDecl struct {
	Name string
	Type types.TypeIndex
	Init Expr
	Span Span
}

type ConstDecl struct {
	Name string
	Type types.TypeIndex
	// Value holds the compile-time constant; only integer/float/bool/string
	// literals are supported.
	Value Literal
	Span  Span
}

type StructDecl struct {
	Name string
	Type types.TypeIndex
	Span Span
}

type EnumDecl struct {
	Name string
	Type types.TypeIndex
	Span Span
}

type UnionDecl struct {
	Name string
	Type types.TypeIndex
	Span Span
}

type ImplDecl struct {
	TypeName string
	Methods  []*FuncDecl
	Span     Span
}

type TestDecl struct {
	Name        string // internal unique name
	DisplayName string // printed by the test runner
	Body        []Stmt
	Span        Span
}

type BenchDecl struct {
	Name        string
	DisplayName string
	Body        []Stmt
	Span        Span
}

type TypeAliasDecl struct {
	Name string
	Type types.TypeIndex
	Span Span
}

// ExternDecl declares a function implemented outside the module (imported
// by the Wasm linker); it has no Body.
type ExternDecl struct {
	Name   string
	Module string
	Params []Param
	Result types.TypeIndex
	Span   Span
}

func (*FuncDecl) declNode()      {}
func (*VarDecl) declNode()       {}
func (*ConstDecl) declNode()     {}
func (*StructDecl) declNode()    {}
func (*EnumDecl) declNode()      {}
func (*UnionDecl) declNode()     {}
func (*ImplDecl) declNode()      {}
func (*TestDecl) declNode()      {}
func (*BenchDecl) declNode()     {}
func (*TypeAliasDecl) declNode() {}
func (*ExternDecl) declNode()    {}

// Stmt is the interface implemented by every statement kind.
type Stmt interface{ stmtNode() }

type LetStmt struct {
	Name string
	Type types.TypeIndex
	Init Expr
	Span Span
}

// AssignTargetKind discriminates the four assignment-lowering shapes:
// simple local, field, index, and through-pointer.
type AssignTargetKind byte

const (
	AssignLocal AssignTargetKind = iota
	AssignField
	AssignIndex
	AssignDeref
)

type AssignStmt struct {
	Kind AssignTargetKind
	// Target is the receiver expression: the local Ident for AssignLocal,
	// the base expr for AssignField/AssignIndex/AssignDeref.
	Target Expr
	Field  string // for AssignField
	Index  Expr   // for AssignIndex
	// Op is non-empty for compound assignment ("+=", "-=", ...); empty
	// means plain "=".
	Op    string
	Value Expr
	Span  Span
}

type ExprStmt struct {
	X    Expr
	Span Span
}

type ReturnStmt struct {
	Value Expr // nil for bare `return`
	Span  Span
}

type BreakStmt struct {
	Label string
	Span  Span
}

type ContinueStmt struct {
	Label string
	Span  Span
}

type BlockStmt struct {
	Stmts []Stmt
	Span  Span
}

type IfStmt struct {
	Cond Expr
	Then []Stmt
	Else []Stmt // nil if no else; may contain a single IfStmt for "else if"
	Span Span
}

type WhileStmt struct {
	Label string
	Cond  Expr
	Body  []Stmt
	Span  Span
}

// ForInStmt desugars to an index-increment while loop.
type ForInStmt struct {
	Label   string
	VarName string
	Iter    Expr
	Body    []Stmt
	Span    Span
}

type SwitchArm struct {
	// VariantName is the unqualified variant name for a union switch;
	// empty for a default/else arm.
	VariantName string
	// Bind is the local name capturing a payload (`Union.variant |p|`); empty
	// if the arm does not capture.
	Bind string
	Body []Stmt
}

type SwitchStmt struct {
	Scrutinee Expr
	Arms      []SwitchArm
	Span      Span
}

// TryCatchStmt models `try expr` / `catch |e| { ... }` as a
// statement-level construct over an error-union-valued expression.
type TryCatchStmt struct {
	Name    string // bound local for the try's success value
	Try     Expr
	ErrName string
	Catch   []Stmt
	Span    Span
}

type DeferStmt struct {
	IsErrDefer bool
	Body       []Stmt
	Span       Span
}

func (*LetStmt) stmtNode()      {}
func (*AssignStmt) stmtNode()   {}
func (*ExprStmt) stmtNode()     {}
func (*ReturnStmt) stmtNode()   {}
func (*BreakStmt) stmtNode()    {}
func (*ContinueStmt) stmtNode() {}
func (*BlockStmt) stmtNode()    {}
func (*IfStmt) stmtNode()       {}
func (*WhileStmt) stmtNode()    {}
func (*ForInStmt) stmtNode()    {}
func (*SwitchStmt) stmtNode()   {}
func (*TryCatchStmt) stmtNode() {}
func (*DeferStmt) stmtNode()    {}

// Expr is the interface implemented by every expression kind.
type Expr interface {
	exprNode()
	Type() types.TypeIndex
}

type base struct{ T types.TypeIndex }

func (b base) Type() types.TypeIndex { return b.T }

type Ident struct {
	base
	Name string
	Span Span
}

type LiteralKind byte

const (
	LitInt LiteralKind = iota
	LitFloat
	LitBool
	LitString
)

type Literal struct {
	base
	Kind LiteralKind
	Int  int64
	Flt  float64
	Bool bool
	Str  string
	Span Span
}

type BinaryExpr struct {
	base
	Op   string // "+","-","*","/","%","==","!=","<","<=",">",">=","&","|","^","<<",">>","and","or"
	X, Y Expr
	Span Span
}

type UnaryExpr struct {
	base
	Op   string // "-","!","~"
	X    Expr
	Span Span
}

type CallExpr struct {
	base
	Callee string
	Args   []Expr
	Span   Span
}

// MethodCallExpr lowers to a CallExpr of "Type_method" with Receiver
// prepended to Args.
type MethodCallExpr struct {
	base
	Receiver   Expr
	MethodName string
	Args       []Expr
	Span       Span
}

type FieldAccessExpr struct {
	base
	X     Expr
	Field string
	Span  Span
}

type IndexExpr struct {
	base
	X     Expr
	Index Expr
	Span  Span
}

// NewExpr allocates a heap object of the named struct type:
// `new Foo { ... }`.
type NewExpr struct {
	base
	TypeName string
	Fields   map[string]Expr
	Span     Span
}

type AddrOfExpr struct {
	base
	X    Expr
	Span Span
}

type DerefExpr struct {
	base
	X    Expr
	Span Span
}

// BuiltinCallExpr dispatches into the Lowerer's intrinsic table.
type BuiltinCallExpr struct {
	base
	Name string
	Args []Expr
	Span Span
}

// TryExpr expands to an error-arm branch using the error set's global tag
// table.
type TryExpr struct {
	base
	X    Expr
	Span Span
}

// VariantExpr constructs a union value for the named variant, optionally
// with a payload. Zero-arg-call and field-access parse shapes both resolve
// to this node.
type VariantExpr struct {
	base
	UnionType   types.TypeIndex
	VariantName string
	Payload     Expr // nil if the variant has no payload
	Span        Span
}

// IntToPtrExpr models `@intToPtr`: a raw pointer that bypasses the ARC
// load-old/retain-new/store-new/release-old discipline on assignment
// through it.
type IntToPtrExpr struct {
	base
	X    Expr
	Span Span
}

func (*Ident) exprNode()           {}
func (*Literal) exprNode()         {}
func (*BinaryExpr) exprNode()      {}
func (*UnaryExpr) exprNode()       {}
func (*CallExpr) exprNode()        {}
func (*MethodCallExpr) exprNode()  {}
func (*FieldAccessExpr) exprNode() {}
func (*IndexExpr) exprNode()       {}
func (*NewExpr) exprNode()         {}
func (*AddrOfExpr) exprNode()      {}
func (*DerefExpr) exprNode()       {}
func (*BuiltinCallExpr) exprNode() {}
func (*TryExpr) exprNode()         {}
func (*VariantExpr) exprNode()     {}
func (*IntToPtrExpr) exprNode()    {}

// Constructors below exist because base.T is unexported: an external
// frontend (or test) building AST nodes directly cannot set the type of a
// composite literal's embedded base field, so each node kind gets a small
// factory that takes its TypeIndex explicitly.

func NewIdent(name string, t types.TypeIndex, span Span) *Ident {
	return &Ident{base: base{t}, Name: name, Span: span}
}

func NewIntLiteral(v int64, t types.TypeIndex, span Span) *Literal {
	return &Literal{base: base{t}, Kind: LitInt, Int: v, Span: span}
}

func NewFloatLiteral(v float64, t types.TypeIndex, span Span) *Literal {
	return &Literal{base: base{t}, Kind: LitFloat, Flt: v, Span: span}
}

func NewBoolLiteral(v bool, t types.TypeIndex, span Span) *Literal {
	return &Literal{base: base{t}, Kind: LitBool, Bool: v, Span: span}
}

func NewStringLiteral(v string, t types.TypeIndex, span Span) *Literal {
	return &Literal{base: base{t}, Kind: LitString, Str: v, Span: span}
}

func NewBinary(op string, x, y Expr, t types.TypeIndex, span Span) *BinaryExpr {
	return &BinaryExpr{base: base{t}, Op: op, X: x, Y: y, Span: span}
}

func NewUnary(op string, x Expr, t types.TypeIndex, span Span) *UnaryExpr {
	return &UnaryExpr{base: base{t}, Op: op, X: x, Span: span}
}

func NewCall(callee string, args []Expr, t types.TypeIndex, span Span) *CallExpr {
	return &CallExpr{base: base{t}, Callee: callee, Args: args, Span: span}
}

func NewMethodCall(recv Expr, method string, args []Expr, t types.TypeIndex, span Span) *MethodCallExpr {
	return &MethodCallExpr{base: base{t}, Receiver: recv, MethodName: method, Args: args, Span: span}
}

func NewFieldAccess(x Expr, field string, t types.TypeIndex, span Span) *FieldAccessExpr {
	return &FieldAccessExpr{base: base{t}, X: x, Field: field, Span: span}
}

func NewIndex(x, idx Expr, t types.TypeIndex, span Span) *IndexExpr {
	return &IndexExpr{base: base{t}, X: x, Index: idx, Span: span}
}

func NewNew(typeName string, fields map[string]Expr, t types.TypeIndex, span Span) *NewExpr {
	return &NewExpr{base: base{t}, TypeName: typeName, Fields: fields, Span: span}
}

func NewAddrOf(x Expr, t types.TypeIndex, span Span) *AddrOfExpr {
	return &AddrOfExpr{base: base{t}, X: x, Span: span}
}

func NewDeref(x Expr, t types.TypeIndex, span Span) *DerefExpr {
	return &DerefExpr{base: base{t}, X: x, Span: span}
}

func NewBuiltinCall(name string, args []Expr, t types.TypeIndex, span Span) *BuiltinCallExpr {
	return &BuiltinCallExpr{base: base{t}, Name: name, Args: args, Span: span}
}

func NewTry(x Expr, t types.TypeIndex, span Span) *TryExpr {
	return &TryExpr{base: base{t}, X: x, Span: span}
}

func NewVariant(unionType types.TypeIndex, variant string, payload Expr, span Span) *VariantExpr {
	return &VariantExpr{base: base{unionType}, UnionType: unionType, VariantName: variant, Payload: payload, Span: span}
}

func NewIntToPtr(x Expr, t types.TypeIndex, span Span) *IntToPtrExpr {
	return &IntToPtrExpr{base: base{t}, X: x, Span: span}
}
