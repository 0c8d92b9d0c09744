package lower

import (
	"github.com/cot-lang/cotc/arc"
	"github.com/cot-lang/cotc/ast"
	"github.com/cot-lang/cotc/ir"
	"github.com/cot-lang/cotc/types"
)

// lowerBuiltinCall dispatches the @-intrinsics, grouped by category:
// assertions, sizes/lengths, casts, arithmetic helpers, ARC, memory, and
// container primitives.
func (l *Lowerer) lowerBuiltinCall(e *ast.BuiltinCallExpr) (arc.ManagedValue, error) {
	span := ast2span(e.Span)
	switch e.Name {
	// --- assertions ---
	case "assertEq":
		return l.lowerAssertEq(e)
	case "assert":
		cond, err := l.lowerExpr(e.Args[0])
		if err != nil {
			return arc.ManagedValue{}, err
		}
		failB := l.fb.NewBlock()
		contB := l.fb.NewBlock()
		l.fb.SetBranch(cond.Node, contB, failB)
		l.fb.AddPred(contB, l.fb.Current())
		l.fb.AddPred(failB, l.fb.Current())
		l.fb.SetCurrent(failB)
		one := l.fb.EmitConstInt(1, types.I64, span)
		zero := l.fb.EmitConstInt(0, types.I64, span)
		l.fb.EmitCall("__test_store_fail_values",
			[]ir.NodeIndex{one, zero, zero, zero, zero}, types.VOID, span)
		l.fb.SetJump(contB)
		l.fb.AddPred(contB, failB)
		l.fb.SetCurrent(contB)
		return arc.ForTrivial(ir.NodeIndexInvalid), nil

	// --- sizes and lengths ---
	case "len":
		x, err := l.lowerExpr(e.Args[0])
		if err != nil {
			return arc.ManagedValue{}, err
		}
		info := l.reg.Info(e.Args[0].Type())
		switch info.Kind {
		case types.KindList:
			return arc.ForTrivial(l.fb.EmitListLen(x.Node, span)), nil
		case types.KindArray:
			return arc.ForTrivial(l.fb.EmitConstInt(int64(info.ArrayLen), types.I64, span)), nil
		default:
			return arc.ForTrivial(l.fb.EmitStringLen(x.Node, span)), nil
		}
	case "sizeOf":
		return arc.ForTrivial(l.fb.EmitConstInt(int64(l.reg.Size(e.Args[0].Type())), types.I64, span)), nil
	case "alignOf":
		return arc.ForTrivial(l.fb.EmitConstInt(int64(l.reg.Info(e.Args[0].Type()).Alignment), types.I64, span)), nil

	// --- casts; the bits stay put, only the type changes ---
	case "intToPtr", "ptrToInt", "bitCast", "enumToInt", "intToEnum":
		x, err := l.lowerExpr(e.Args[0])
		if err != nil {
			return arc.ManagedValue{}, err
		}
		return arc.ForTrivial(x.Node), nil
	case "intCast":
		x, err := l.lowerExpr(e.Args[0])
		if err != nil {
			return arc.ManagedValue{}, err
		}
		srcT := e.Args[0].Type()
		dstT := e.Type()
		if l.reg.Size(dstT) > l.reg.Size(srcT) {
			return arc.ForTrivial(l.fb.EmitExtend(l.reg.IsSigned(srcT), x.Node, dstT, span)), nil
		}
		return arc.ForTrivial(l.maskTo(x.Node, dstT, span)), nil
	case "truncate":
		x, err := l.lowerExpr(e.Args[0])
		if err != nil {
			return arc.ManagedValue{}, err
		}
		return arc.ForTrivial(l.maskTo(x.Node, e.Type(), span)), nil

	// --- arithmetic helpers ---
	case "min", "max":
		return l.lowerMinMax(e)
	case "abs":
		x, err := l.lowerExpr(e.Args[0])
		if err != nil {
			return arc.ManagedValue{}, err
		}
		t := e.Type()
		tmp := l.fb.F.AllocLocal(l.reg.Size(t), t)
		l.fb.EmitStoreLocal(tmp, x.Node, span)
		zero := l.fb.EmitConstInt(0, t, span)
		neg := l.fb.EmitBinary(ir.OpCmpLt, x.Node, zero, types.BOOL, span)
		negB := l.fb.NewBlock()
		doneB := l.fb.NewBlock()
		l.fb.SetBranch(neg, negB, doneB)
		l.fb.AddPred(negB, l.fb.Current())
		l.fb.AddPred(doneB, l.fb.Current())
		l.fb.SetCurrent(negB)
		x2 := l.fb.EmitLoadLocal(tmp, t, span)
		l.fb.EmitStoreLocal(tmp, l.fb.EmitUnary(ir.OpNeg, x2, t, span), span)
		l.fb.SetJump(doneB)
		l.fb.AddPred(doneB, negB)
		l.fb.SetCurrent(doneB)
		return arc.ForTrivial(l.fb.EmitLoadLocal(tmp, t, span)), nil

	// --- ARC ---
	case "arcRetain":
		x, err := l.lowerExpr(e.Args[0])
		if err != nil {
			return arc.ManagedValue{}, err
		}
		return arc.ForTrivial(l.fb.EmitRetain(x.Node, e.Args[0].Type(), span)), nil
	case "arcRelease":
		x, err := l.lowerExpr(e.Args[0])
		if err != nil {
			return arc.ManagedValue{}, err
		}
		l.fb.EmitRelease(x.Node, span)
		return arc.ForTrivial(ir.NodeIndexInvalid), nil
	case "weak":
		if id, ok := e.Args[0].(*ast.Ident); ok {
			if bind, isLocal := l.locals[id.Name]; isLocal {
				l.weakLocals[bind.local] = true
			}
		}
		return l.lowerExpr(e.Args[0])

	// --- output and traps ---
	case "print", "write":
		s, err := l.lowerExpr(e.Args[0])
		if err != nil {
			return arc.ManagedValue{}, err
		}
		l.fb.EmitCall("cot_write", []ir.NodeIndex{s.Node}, types.VOID, span)
		return arc.ForTrivial(ir.NodeIndexInvalid), nil
	case "panic":
		if len(e.Args) > 0 {
			s, err := l.lowerExpr(e.Args[0])
			if err != nil {
				return arc.ManagedValue{}, err
			}
			l.fb.EmitCall("cot_write", []ir.NodeIndex{s.Node}, types.VOID, span)
		}
		l.fb.EmitCall("cot_panic", nil, types.VOID, span)
		return arc.ForTrivial(ir.NodeIndexInvalid), nil

	// --- memory ---
	case "memcpy":
		args, err := l.lowerArgs(e.Args)
		if err != nil {
			return arc.ManagedValue{}, err
		}
		l.fb.EmitCall("cot_memcpy", args, types.VOID, span)
		return arc.ForTrivial(ir.NodeIndexInvalid), nil
	case "memset":
		args, err := l.lowerArgs(e.Args)
		if err != nil {
			return arc.ManagedValue{}, err
		}
		l.fb.EmitCall("cot_memset", args, types.VOID, span)
		return arc.ForTrivial(ir.NodeIndexInvalid), nil

	// --- containers ---
	case "listNew":
		return arc.ForOwned(&l.cleanups, l.fb.EmitListMake(0, e.Type(), span), e.Type()), nil
	case "append":
		list, err := l.lowerExpr(e.Args[0])
		if err != nil {
			return arc.ManagedValue{}, err
		}
		v, err := l.lowerExpr(e.Args[1])
		if err != nil {
			return arc.ManagedValue{}, err
		}
		elemT := e.Args[1].Type()
		node := v.Forward(&l.cleanups)
		if l.isARCManaged(elemT) {
			// The list owns its elements: store at +1.
			node = l.fb.EmitRetain(node, elemT, span)
		}
		l.fb.EmitListAppend(list.Node, node, span)
		return arc.ForTrivial(ir.NodeIndexInvalid), nil
	case "mapNew":
		return arc.ForOwned(&l.cleanups, l.fb.EmitMapMake(e.Type(), span), e.Type()), nil
	case "mapHas":
		m, err := l.lowerExpr(e.Args[0])
		if err != nil {
			return arc.ManagedValue{}, err
		}
		k, err := l.lowerExpr(e.Args[1])
		if err != nil {
			return arc.ManagedValue{}, err
		}
		return arc.ForTrivial(l.fb.EmitMapHas(m.Node, k.Node, span)), nil
	}
	return arc.ManagedValue{}, l.errf("E306", e.Span, "unknown builtin @%s", e.Name)
}

func (l *Lowerer) lowerArgs(args []ast.Expr) ([]ir.NodeIndex, error) {
	out := make([]ir.NodeIndex, len(args))
	for i, a := range args {
		mv, err := l.lowerExpr(a)
		if err != nil {
			return nil, err
		}
		out[i] = mv.Node
	}
	return out, nil
}

// maskTo masks a value down to the byte width of t.
func (l *Lowerer) maskTo(x ir.NodeIndex, t types.TypeIndex, span ir.Span) ir.NodeIndex {
	sz := l.reg.Size(t)
	if sz >= 8 {
		return x
	}
	mask := int64(1)<<(sz*8) - 1
	m := l.fb.EmitConstInt(mask, t, span)
	return l.fb.EmitBinary(ir.OpBand, x, m, t, span)
}

// lowerAssertEq compares two values and records the failure display pair
// on mismatch. Operands narrower than 8 bytes widen to 64 bits before
// both the comparison and the fail-display stores; without the widening,
// sub-64-bit values returned from calls compare against stack garbage.
func (l *Lowerer) lowerAssertEq(e *ast.BuiltinCallExpr) (arc.ManagedValue, error) {
	span := ast2span(e.Span)
	left, err := l.lowerExpr(e.Args[0])
	if err != nil {
		return arc.ManagedValue{}, err
	}
	right, err := l.lowerExpr(e.Args[1])
	if err != nil {
		return arc.ManagedValue{}, err
	}
	t := e.Args[0].Type()
	isString := t == types.STRING

	ln, rn := left.Node, right.Node
	var eq ir.NodeIndex
	if isString {
		eq = l.fb.EmitStringEq(ln, rn, span)
	} else {
		if l.reg.Size(t) < 8 {
			signed := l.reg.IsSigned(t)
			ln = l.fb.EmitExtend(signed, ln, types.I64, span)
			rn = l.fb.EmitExtend(signed, rn, types.I64, span)
		}
		eq = l.fb.EmitBinary(ir.OpCmpEq, ln, rn, types.BOOL, span)
	}

	failB := l.fb.NewBlock()
	contB := l.fb.NewBlock()
	l.fb.SetBranch(eq, contB, failB)
	l.fb.AddPred(contB, l.fb.Current())
	l.fb.AddPred(failB, l.fb.Current())

	l.fb.SetCurrent(failB)
	if isString {
		// Each string arg expands to two slots (ptr, len) downstream, so
		// (left, right, 1) lines up with the runtime's five-slot
		// (a, b, c, d, is_string) signature.
		one := l.fb.EmitConstInt(1, types.I64, span)
		l.fb.EmitCall("__test_store_fail_values",
			[]ir.NodeIndex{ln, rn, one}, types.VOID, span)
	} else {
		zero := l.fb.EmitConstInt(0, types.I64, span)
		l.fb.EmitCall("__test_store_fail_values",
			[]ir.NodeIndex{ln, rn, zero, zero, zero}, types.VOID, span)
	}
	l.fb.SetJump(contB)
	l.fb.AddPred(contB, failB)

	l.fb.SetCurrent(contB)
	return arc.ForTrivial(ir.NodeIndexInvalid), nil
}

// lowerMinMax evaluates both operands, then keeps the winner through a
// hidden local.
func (l *Lowerer) lowerMinMax(e *ast.BuiltinCallExpr) (arc.ManagedValue, error) {
	span := ast2span(e.Span)
	a, err := l.lowerExpr(e.Args[0])
	if err != nil {
		return arc.ManagedValue{}, err
	}
	b, err := l.lowerExpr(e.Args[1])
	if err != nil {
		return arc.ManagedValue{}, err
	}
	t := e.Type()
	tmp := l.fb.F.AllocLocal(l.reg.Size(t), t)
	l.fb.EmitStoreLocal(tmp, a.Node, span)

	op := ir.OpCmpLt
	if e.Name == "min" {
		op = ir.OpCmpGt
	}
	// Replace with b when a loses.
	worse := l.fb.EmitBinary(op, a.Node, b.Node, types.BOOL, span)
	swapB := l.fb.NewBlock()
	doneB := l.fb.NewBlock()
	l.fb.SetBranch(worse, swapB, doneB)
	l.fb.AddPred(swapB, l.fb.Current())
	l.fb.AddPred(doneB, l.fb.Current())
	l.fb.SetCurrent(swapB)
	l.fb.EmitStoreLocal(tmp, b.Node, span)
	l.fb.SetJump(doneB)
	l.fb.AddPred(doneB, swapB)
	l.fb.SetCurrent(doneB)
	return arc.ForTrivial(l.fb.EmitLoadLocal(tmp, t, span)), nil
}
