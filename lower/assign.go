package lower

import (
	"github.com/cot-lang/cotc/ast"
	"github.com/cot-lang/cotc/ir"
	"github.com/cot-lang/cotc/types"
)

// isARCManaged reports whether values of t carry a refcount header:
// heap struct pointers, lists, and maps. Raw pointers from @intToPtr and
// strings (immortal literals or bump-allocated concat results) are not.
func (l *Lowerer) isARCManaged(t types.TypeIndex) bool {
	info := l.reg.Info(t)
	switch info.Kind {
	case types.KindList, types.KindMap:
		return true
	case types.KindPointer:
		return l.reg.Info(info.Elem).Kind == types.KindStruct
	}
	return false
}

func (l *Lowerer) lowerAssign(s *ast.AssignStmt) error {
	span := ast2span(s.Span)

	switch s.Kind {
	case ast.AssignLocal:
		id, ok := s.Target.(*ast.Ident)
		if !ok {
			return l.errf("E401", s.Span, "assignment target is not assignable")
		}
		if bind, isLocal := l.locals[id.Name]; isLocal {
			val, err := l.assignValue(s, func() (ir.NodeIndex, error) {
				return l.fb.EmitLoadLocal(bind.local, bind.typ, span), nil
			})
			if err != nil {
				return err
			}
			l.fb.EmitStoreLocal(bind.local, val, span)
			return nil
		}
		if g, isGlobal := l.globals[id.Name]; isGlobal {
			addr := l.fb.EmitGlobalAddr(id.Name, types.U64, span)
			val, err := l.assignValue(s, func() (ir.NodeIndex, error) {
				return l.fb.EmitPtrLoad(addr, g.Type, span), nil
			})
			if err != nil {
				return err
			}
			l.fb.EmitPtrStore(addr, val, span)
			return nil
		}
		return l.errf("E301", s.Span, "undefined name %q", id.Name)

	case ast.AssignField:
		return l.lowerAssignField(s, span)
	case ast.AssignIndex:
		return l.lowerAssignIndex(s, span)
	case ast.AssignDeref:
		return l.lowerAssignDeref(s, span)
	}
	return l.errf("E401", s.Span, "unsupported assignment")
}

// assignValue lowers the RHS; for compound assignment it loads the old
// value via loadOld and applies the operator first.
func (l *Lowerer) assignValue(s *ast.AssignStmt, loadOld func() (ir.NodeIndex, error)) (ir.NodeIndex, error) {
	mv, err := l.lowerExpr(s.Value)
	if err != nil {
		return ir.NodeIndexInvalid, err
	}
	// Storing into an owning slot transfers ownership out of this scope.
	val := mv.Forward(&l.cleanups)
	if s.Op == "" {
		return val, nil
	}
	old, err := loadOld()
	if err != nil {
		return ir.NodeIndexInvalid, err
	}
	t := s.Value.Type()
	span := ast2span(s.Span)
	return l.fb.EmitBinary(binIrOp(s.Op), old, val, t, span), nil
}

func binIrOp(op string) ir.Op {
	switch op {
	case "+", "+=":
		return ir.OpAdd
	case "-", "-=":
		return ir.OpSub
	case "*", "*=":
		return ir.OpMul
	case "/", "/=":
		return ir.OpDiv
	case "%", "%=":
		return ir.OpMod
	case "&", "&=":
		return ir.OpBand
	case "|", "|=":
		return ir.OpBor
	case "^", "^=":
		return ir.OpBxor
	case "<<", "<<=":
		return ir.OpShl
	case ">>", ">>=":
		return ir.OpShr
	case "==":
		return ir.OpCmpEq
	case "!=":
		return ir.OpCmpNe
	case "<":
		return ir.OpCmpLt
	case "<=":
		return ir.OpCmpLe
	case ">":
		return ir.OpCmpGt
	case ">=":
		return ir.OpCmpGe
	case "and":
		return ir.OpLogicalAnd
	case "or":
		return ir.OpLogicalOr
	}
	return ir.OpInvalid
}

// lowerAssignField stores into a struct field: directly for a local
// struct (store_local_field with offset), through the pointer for a heap
// object.
func (l *Lowerer) lowerAssignField(s *ast.AssignStmt, span ir.Span) error {
	baseT := s.Target.Type()
	info := l.reg.Info(baseT)

	structT := baseT
	if info.Kind == types.KindPointer {
		structT = info.Elem
	}
	sInfo := l.reg.Info(structT)
	var offset uint32
	var fieldT types.TypeIndex
	found := false
	for _, fld := range sInfo.Fields {
		if fld.Name == s.Field {
			offset, fieldT = fld.Offset, fld.Type
			found = true
			break
		}
	}
	if !found {
		return l.errf("E302", s.Span, "no field %q on %s", s.Field, sInfo.Name)
	}

	if id, ok := s.Target.(*ast.Ident); ok && info.Kind == types.KindStruct {
		bind, isLocal := l.locals[id.Name]
		if isLocal {
			val, err := l.assignValue(s, func() (ir.NodeIndex, error) {
				addr := l.fb.EmitLocalAddr(bind.local, types.U64, span)
				fa := l.fb.EmitAddPtr(addr, int64(offset), types.U64, span)
				return l.fb.EmitPtrLoad(fa, fieldT, span), nil
			})
			if err != nil {
				return err
			}
			l.fb.EmitStoreLocalField(bind.local, offset, val, span)
			return nil
		}
	}

	// Heap object: store through the pointer; an ARC-managed field uses
	// the load-old/retain-new/store-new/release-old sequence so
	// self-assignment cannot free the value being stored.
	base, err := l.lowerExpr(s.Target)
	if err != nil {
		return err
	}
	fa := l.fb.EmitFieldAddr(base.Node, offset, types.U64, span)
	val, err := l.assignValue(s, func() (ir.NodeIndex, error) {
		return l.fb.EmitPtrLoad(fa, fieldT, span), nil
	})
	if err != nil {
		return err
	}
	if l.isARCManaged(fieldT) {
		old := l.fb.EmitPtrLoad(fa, fieldT, span)
		l.fb.EmitRetain(val, fieldT, span)
		l.fb.EmitPtrStore(fa, val, span)
		l.fb.EmitRelease(old, span)
		return nil
	}
	l.fb.EmitPtrStore(fa, val, span)
	return nil
}

// lowerAssignIndex stores into a list or map element with the
// load-old/retain-new/store-new/release-old discipline for managed
// element types.
func (l *Lowerer) lowerAssignIndex(s *ast.AssignStmt, span ir.Span) error {
	base, err := l.lowerExpr(s.Target)
	if err != nil {
		return err
	}
	idx, err := l.lowerExpr(s.Index)
	if err != nil {
		return err
	}
	baseT := s.Target.Type()
	info := l.reg.Info(baseT)

	switch info.Kind {
	case types.KindList:
		elemT := info.Elem
		managed := l.isARCManaged(elemT)
		var old ir.NodeIndex
		if managed {
			old = l.fb.EmitListGet(base.Node, idx.Node, elemT, span)
		}
		val, err := l.assignValue(s, func() (ir.NodeIndex, error) {
			return l.fb.EmitListGet(base.Node, idx.Node, elemT, span), nil
		})
		if err != nil {
			return err
		}
		if managed {
			l.fb.EmitRetain(val, elemT, span)
		}
		l.fb.EmitListSet(base.Node, idx.Node, val, span)
		if managed {
			l.fb.EmitRelease(old, span)
		}
		return nil

	case types.KindMap:
		valT := info.Value
		managed := l.isARCManaged(valT)
		var old ir.NodeIndex
		if managed {
			old = l.fb.EmitMapGet(base.Node, idx.Node, valT, span)
		}
		val, err := l.assignValue(s, func() (ir.NodeIndex, error) {
			return l.fb.EmitMapGet(base.Node, idx.Node, valT, span), nil
		})
		if err != nil {
			return err
		}
		if managed {
			l.fb.EmitRetain(val, valT, span)
		}
		l.fb.EmitMapSet(base.Node, idx.Node, val, span)
		if managed {
			l.fb.EmitRelease(old, span)
		}
		return nil

	default:
		// Slice or array element.
		addr := l.fb.EmitIndexAddr(base.Node, idx.Node, l.reg.MakePointer(info.Elem), span)
		val, err := l.assignValue(s, func() (ir.NodeIndex, error) {
			return l.fb.EmitPtrLoad(addr, info.Elem, span), nil
		})
		if err != nil {
			return err
		}
		l.fb.EmitPtrStore(addr, val, span)
		return nil
	}
}

// lowerAssignDeref stores through a pointer. ARC-managed pointees use
// the retain/release sequence; raw pointers from @intToPtr bypass it.
func (l *Lowerer) lowerAssignDeref(s *ast.AssignStmt, span ir.Span) error {
	ptr, err := l.lowerExpr(s.Target)
	if err != nil {
		return err
	}
	ptrT := s.Target.Type()
	info := l.reg.Info(ptrT)
	pointee := info.Elem

	_, raw := s.Target.(*ast.IntToPtrExpr)

	val, err := l.assignValue(s, func() (ir.NodeIndex, error) {
		return l.fb.EmitPtrLoad(ptr.Node, pointee, span), nil
	})
	if err != nil {
		return err
	}
	if !raw && l.isARCManaged(pointee) {
		old := l.fb.EmitPtrLoad(ptr.Node, pointee, span)
		l.fb.EmitRetain(val, pointee, span)
		l.fb.EmitPtrStore(ptr.Node, val, span)
		l.fb.EmitRelease(old, span)
		return nil
	}
	l.fb.EmitPtrStore(ptr.Node, val, span)
	return nil
}
