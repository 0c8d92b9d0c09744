package lower

import (
	"github.com/cot-lang/cotc/arc"
	"github.com/cot-lang/cotc/ast"
	"github.com/cot-lang/cotc/diag"
	"github.com/cot-lang/cotc/ir"
	"github.com/cot-lang/cotc/types"
)

func (l *Lowerer) lowerExpr(e ast.Expr) (arc.ManagedValue, error) {
	switch e := e.(type) {
	case nil:
		return arc.ForTrivial(ir.NodeIndexInvalid), nil
	case *ast.Ident:
		return l.lowerIdent(e)
	case *ast.Literal:
		return l.lowerLiteral(e)
	case *ast.BinaryExpr:
		return l.lowerBinary(e)
	case *ast.UnaryExpr:
		return l.lowerUnary(e)
	case *ast.CallExpr:
		return l.lowerCall(e.Callee, nil, e.Args, e.Type(), e.Span)
	case *ast.MethodCallExpr:
		return l.lowerMethodCall(e)
	case *ast.FieldAccessExpr:
		return l.lowerFieldAccess(e)
	case *ast.IndexExpr:
		return l.lowerIndex(e)
	case *ast.NewExpr:
		return l.lowerNew(e)
	case *ast.AddrOfExpr:
		return l.lowerAddrOf(e)
	case *ast.DerefExpr:
		x, err := l.lowerExpr(e.X)
		if err != nil {
			return arc.ManagedValue{}, err
		}
		n := l.fb.EmitPtrLoad(x.Node, e.Type(), ast2span(e.Span))
		return arc.ForTrivial(n), nil
	case *ast.BuiltinCallExpr:
		return l.lowerBuiltinCall(e)
	case *ast.TryExpr:
		return l.lowerTry(e)
	case *ast.VariantExpr:
		return l.lowerVariant(e)
	case *ast.IntToPtrExpr:
		x, err := l.lowerExpr(e.X)
		if err != nil {
			return arc.ManagedValue{}, err
		}
		// The value is already an integer address; the type changes, the
		// bits do not.
		return arc.ForTrivial(x.Node), nil
	}
	return arc.ManagedValue{}, diag.Internalf("lower", "unknown expr %T", e)
}

func (l *Lowerer) lowerIdent(e *ast.Ident) (arc.ManagedValue, error) {
	span := ast2span(e.Span)
	if bind, ok := l.locals[e.Name]; ok {
		switch l.reg.Info(bind.typ).Kind {
		case types.KindStruct, types.KindUnion, types.KindOptional, types.KindErrorUnion:
			// Memory-backed aggregates travel as their address.
			return arc.ForTrivial(l.fb.EmitLocalAddr(bind.local, types.U64, span)), nil
		}
		return arc.ForTrivial(l.fb.EmitLoadLocal(bind.local, bind.typ, span)), nil
	}
	if lit, ok := l.consts[e.Name]; ok {
		return l.lowerLiteral(lit)
	}
	if g, ok := l.globals[e.Name]; ok {
		addr := l.fb.EmitGlobalAddr(e.Name, types.U64, span)
		return arc.ForTrivial(l.fb.EmitPtrLoad(addr, g.Type, span)), nil
	}
	return arc.ManagedValue{}, l.errf("E301", e.Span, "undefined name %q", e.Name)
}

func (l *Lowerer) lowerLiteral(e *ast.Literal) (arc.ManagedValue, error) {
	span := ast2span(e.Span)
	var n ir.NodeIndex
	switch e.Kind {
	case ast.LitInt:
		n = l.fb.EmitConstInt(e.Int, e.Type(), span)
	case ast.LitFloat:
		n = l.fb.EmitConstFloat(e.Flt, e.Type(), span)
	case ast.LitBool:
		n = l.fb.EmitConstBool(e.Bool, e.Type(), span)
	case ast.LitString:
		n = l.fb.EmitConstString(e.Str, types.STRING, span)
	}
	return arc.ForTrivial(n), nil
}

func (l *Lowerer) lowerBinary(e *ast.BinaryExpr) (arc.ManagedValue, error) {
	span := ast2span(e.Span)
	switch e.Op {
	case "and", "or":
		return l.lowerShortCircuit(e)
	case "++":
		x, err := l.lowerExpr(e.X)
		if err != nil {
			return arc.ManagedValue{}, err
		}
		y, err := l.lowerExpr(e.Y)
		if err != nil {
			return arc.ManagedValue{}, err
		}
		return arc.ForTrivial(l.fb.EmitStringConcat(x.Node, y.Node, span)), nil
	}
	x, err := l.lowerExpr(e.X)
	if err != nil {
		return arc.ManagedValue{}, err
	}
	y, err := l.lowerExpr(e.Y)
	if err != nil {
		return arc.ManagedValue{}, err
	}
	if e.X.Type() == types.STRING && (e.Op == "==" || e.Op == "!=") {
		eq := l.fb.EmitStringEq(x.Node, y.Node, span)
		if e.Op == "!=" {
			eq = l.fb.EmitUnary(ir.OpNot, eq, types.BOOL, span)
		}
		return arc.ForTrivial(eq), nil
	}
	op := binIrOp(e.Op)
	if op == ir.OpInvalid {
		return arc.ManagedValue{}, l.errf("E303", e.Span, "unknown operator %q", e.Op)
	}
	return arc.ForTrivial(l.fb.EmitBinary(op, x.Node, y.Node, e.Type(), span)), nil
}

// lowerShortCircuit lowers `and`/`or` into branch-based control flow
// through a hidden bool local, so the right operand only evaluates when
// the left one did not decide the answer.
func (l *Lowerer) lowerShortCircuit(e *ast.BinaryExpr) (arc.ManagedValue, error) {
	span := ast2span(e.Span)
	tmp := l.fb.F.AllocLocal(1, types.BOOL)

	x, err := l.lowerExpr(e.X)
	if err != nil {
		return arc.ManagedValue{}, err
	}
	l.fb.EmitStoreLocal(tmp, x.Node, span)

	evalY := l.fb.NewBlock()
	done := l.fb.NewBlock()
	if e.Op == "and" {
		l.fb.SetBranch(x.Node, evalY, done)
	} else {
		l.fb.SetBranch(x.Node, done, evalY)
	}
	l.fb.AddPred(evalY, l.fb.Current())
	l.fb.AddPred(done, l.fb.Current())

	l.fb.SetCurrent(evalY)
	y, err := l.lowerExpr(e.Y)
	if err != nil {
		return arc.ManagedValue{}, err
	}
	l.fb.EmitStoreLocal(tmp, y.Node, span)
	l.fb.SetJump(done)
	l.fb.AddPred(done, l.fb.Current())

	l.fb.SetCurrent(done)
	return arc.ForTrivial(l.fb.EmitLoadLocal(tmp, types.BOOL, span)), nil
}

func (l *Lowerer) lowerUnary(e *ast.UnaryExpr) (arc.ManagedValue, error) {
	x, err := l.lowerExpr(e.X)
	if err != nil {
		return arc.ManagedValue{}, err
	}
	span := ast2span(e.Span)
	var op ir.Op
	switch e.Op {
	case "-":
		op = ir.OpNeg
	case "!":
		op = ir.OpNot
	case "~":
		op = ir.OpBnot
	default:
		return arc.ManagedValue{}, l.errf("E303", e.Span, "unknown unary operator %q", e.Op)
	}
	return arc.ForTrivial(l.fb.EmitUnary(op, x.Node, e.Type(), span)), nil
}

// lowerCall lowers a direct call. Owned arguments are forwarded: the
// callee takes over their +1.
func (l *Lowerer) lowerCall(callee string, recv ast.Expr, args []ast.Expr, result types.TypeIndex, span ast.Span) (arc.ManagedValue, error) {
	// A call to a registered generic template instantiates it on first
	// use under the mangled name.
	if d, ok := l.funcDecls[callee]; ok && len(d.Generic) > 0 {
		l.QueueInstantiation(callee+"$inst", d)
		callee = callee + "$inst"
	}

	var nodes []ir.NodeIndex
	if recv != nil {
		rv, err := l.lowerExpr(recv)
		if err != nil {
			return arc.ManagedValue{}, err
		}
		nodes = append(nodes, rv.Node)
	}
	for _, a := range args {
		mv, err := l.lowerExpr(a)
		if err != nil {
			return arc.ManagedValue{}, err
		}
		nodes = append(nodes, mv.Forward(&l.cleanups))
	}
	n := l.fb.EmitCall(callee, nodes, result, ast2span(span))
	// A call returning an ARC-managed value hands this scope a +1.
	if l.isARCManaged(result) {
		return arc.ForOwned(&l.cleanups, n, result), nil
	}
	return arc.ForTrivial(n), nil
}

// lowerMethodCall synthesizes Type_method and prepends the receiver.
func (l *Lowerer) lowerMethodCall(e *ast.MethodCallExpr) (arc.ManagedValue, error) {
	rt := e.Receiver.Type()
	info := l.reg.Info(rt)
	typeName := info.Name
	if info.Kind == types.KindPointer {
		typeName = l.reg.Info(info.Elem).Name
	}
	return l.lowerCall(typeName+"_"+e.MethodName, e.Receiver, e.Args, e.Type(), e.Span)
}

func (l *Lowerer) lowerFieldAccess(e *ast.FieldAccessExpr) (arc.ManagedValue, error) {
	span := ast2span(e.Span)
	baseT := e.X.Type()
	info := l.reg.Info(baseT)

	structT := baseT
	if info.Kind == types.KindPointer {
		structT = info.Elem
	}
	sInfo := l.reg.Info(structT)
	for _, fld := range sInfo.Fields {
		if fld.Name != e.Field {
			continue
		}
		if id, ok := e.X.(*ast.Ident); ok && info.Kind == types.KindStruct {
			if bind, isLocal := l.locals[id.Name]; isLocal {
				addr := l.fb.EmitLocalAddr(bind.local, types.U64, span)
				fa := l.fb.EmitAddPtr(addr, int64(fld.Offset), types.U64, span)
				return arc.ForTrivial(l.fb.EmitPtrLoad(fa, fld.Type, span)), nil
			}
		}
		base, err := l.lowerExpr(e.X)
		if err != nil {
			return arc.ManagedValue{}, err
		}
		return arc.ForTrivial(l.fb.EmitFieldLoad(base.Node, fld.Offset, fld.Type, span)), nil
	}
	return arc.ManagedValue{}, l.errf("E302", e.Span, "no field %q on %s", e.Field, sInfo.Name)
}

func (l *Lowerer) lowerIndex(e *ast.IndexExpr) (arc.ManagedValue, error) {
	span := ast2span(e.Span)
	base, err := l.lowerExpr(e.X)
	if err != nil {
		return arc.ManagedValue{}, err
	}
	idx, err := l.lowerExpr(e.Index)
	if err != nil {
		return arc.ManagedValue{}, err
	}
	info := l.reg.Info(e.X.Type())
	switch info.Kind {
	case types.KindList:
		return arc.ForTrivial(l.fb.EmitListGet(base.Node, idx.Node, e.Type(), span)), nil
	case types.KindMap:
		return arc.ForTrivial(l.fb.EmitMapGet(base.Node, idx.Node, e.Type(), span)), nil
	default:
		return arc.ForTrivial(l.fb.EmitIndexLoad(base.Node, idx.Node, e.Type(), span)), nil
	}
}

// lowerNew allocates a heap object: cot_alloc with the type's metadata,
// field initialization through the returned pointer, and a release
// cleanup owning the result.
func (l *Lowerer) lowerNew(e *ast.NewExpr) (arc.ManagedValue, error) {
	span := ast2span(e.Span)
	structT, ok := l.structByName[e.TypeName]
	if !ok {
		return arc.ManagedValue{}, l.errf("E304", e.Span, "unknown type %q", e.TypeName)
	}
	sInfo := l.reg.Info(structT)
	ptrT := e.Type()

	md := l.fb.EmitTypeMetadata(e.TypeName, span)
	size := l.fb.EmitConstInt(int64(sInfo.Size), types.I64, span)
	obj := l.fb.EmitAlloc(md, size, ptrT, span)

	// Bind to a temp local so the cleanup's node stays valid on every
	// path out of the scope.
	tmp := l.fb.F.AllocLocal(8, ptrT)
	l.fb.EmitStoreLocal(tmp, obj, span)

	for _, fld := range sInfo.Fields {
		init, has := e.Fields[fld.Name]
		if !has {
			continue
		}
		mv, err := l.lowerExpr(init)
		if err != nil {
			return arc.ManagedValue{}, err
		}
		// Stored into an owning slot: forward.
		val := mv.Forward(&l.cleanups)
		fa := l.fb.EmitFieldAddr(obj, fld.Offset, types.U64, span)
		l.fb.EmitPtrStore(fa, val, span)
	}
	return arc.ForOwned(&l.cleanups, obj, ptrT), nil
}

func (l *Lowerer) lowerAddrOf(e *ast.AddrOfExpr) (arc.ManagedValue, error) {
	span := ast2span(e.Span)
	if id, ok := e.X.(*ast.Ident); ok {
		if bind, isLocal := l.locals[id.Name]; isLocal {
			return arc.ForTrivial(l.fb.EmitLocalAddr(bind.local, e.Type(), span)), nil
		}
		if _, isGlobal := l.globals[id.Name]; isGlobal {
			return arc.ForTrivial(l.fb.EmitGlobalAddr(id.Name, e.Type(), span)), nil
		}
	}
	// Address of a heap value: the pointer itself.
	x, err := l.lowerExpr(e.X)
	if err != nil {
		return arc.ManagedValue{}, err
	}
	return arc.ForTrivial(x.Node), nil
}

// lowerTry expands `try expr`: on the error arm, errdefer cleanups and
// active cleanups run, then the error re-wraps into this function's
// error-union result and returns.
func (l *Lowerer) lowerTry(e *ast.TryExpr) (arc.ManagedValue, error) {
	span := ast2span(e.Span)
	mv, err := l.lowerExpr(e.X)
	if err != nil {
		return arc.ManagedValue{}, err
	}
	isErr := l.fb.EmitErrUnionIsErr(mv.Node, span)
	errB := l.fb.NewBlock()
	okB := l.fb.NewBlock()
	l.fb.SetBranch(isErr, errB, okB)
	l.fb.AddPred(errB, l.fb.Current())
	l.fb.AddPred(okB, l.fb.Current())

	l.fb.SetCurrent(errB)
	l.terminated = false
	// Error path: errdefer bodies fire, then all cleanups, then the
	// error propagates to the caller.
	l.runErrDefersFrom(0)
	l.cleanups.EmitToDepthNoPop(0, l.cleanupEmitter())

	resT := l.fb.F.Result
	resInfo := l.reg.Info(resT)
	if resInfo.Kind == types.KindErrorUnion {
		resLoc := l.fb.F.AllocLocal(resInfo.Size, resT)
		tag := l.fb.EmitPtrLoad(mv.Node, types.I64, span)
		l.fb.EmitStoreLocalField(resLoc, 0, tag, span)
		out := l.fb.EmitLocalAddr(resLoc, types.U64, span)
		l.fb.SetReturn(out)
	} else {
		// A try in a non-error function traps.
		l.fb.EmitCall("cot_panic", nil, types.VOID, span)
		l.fb.SetReturn(ir.NodeIndexInvalid)
	}

	l.fb.SetCurrent(okB)
	l.terminated = false
	okT := e.Type()
	return arc.ForTrivial(l.fb.EmitErrUnionUnwrap(mv.Node, okT, span)), nil
}

// lowerVariant constructs a union value. Both parse shapes (field access
// and zero-arg call) arrive normalized to this node.
func (l *Lowerer) lowerVariant(e *ast.VariantExpr) (arc.ManagedValue, error) {
	span := ast2span(e.Span)
	vi := l.reg.VariantIndex(e.UnionType, e.VariantName)
	if vi < 0 {
		return arc.ManagedValue{}, l.errf("E305", e.Span, "no variant %q", e.VariantName)
	}
	payload := ir.NodeIndexInvalid
	if e.Payload != nil {
		mv, err := l.lowerExpr(e.Payload)
		if err != nil {
			return arc.ManagedValue{}, err
		}
		payload = mv.Forward(&l.cleanups)
	}
	return arc.ForTrivial(l.fb.EmitUnionMake(e.UnionType, int64(vi), payload, span)), nil
}
