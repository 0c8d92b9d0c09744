package lower

import (
	"github.com/cot-lang/cotc/ast"
	"github.com/cot-lang/cotc/diag"
	"github.com/cot-lang/cotc/ir"
	"github.com/cot-lang/cotc/types"
)

func (l *Lowerer) lowerStmt(s ast.Stmt) error {
	switch s := s.(type) {
	case *ast.LetStmt:
		return l.lowerLet(s)
	case *ast.AssignStmt:
		return l.lowerAssign(s)
	case *ast.ExprStmt:
		_, err := l.lowerExpr(s.X)
		return err
	case *ast.ReturnStmt:
		return l.lowerReturn(s)
	case *ast.BreakStmt:
		return l.lowerBreakContinue(s.Label, true, s.Span)
	case *ast.ContinueStmt:
		return l.lowerBreakContinue(s.Label, false, s.Span)
	case *ast.BlockStmt:
		return l.lowerBlock(s.Stmts)
	case *ast.IfStmt:
		return l.lowerIf(s)
	case *ast.WhileStmt:
		return l.lowerWhile(s)
	case *ast.ForInStmt:
		return l.lowerForIn(s)
	case *ast.SwitchStmt:
		return l.lowerSwitch(s)
	case *ast.TryCatchStmt:
		return l.lowerTryCatch(s)
	case *ast.DeferStmt:
		l.defers = append(l.defers, deferFrame{body: s.Body, isErr: s.IsErrDefer, depth: l.cleanups.Depth()})
		return nil
	}
	return diag.Internalf("lower", "unknown stmt %T", s)
}

func (l *Lowerer) lowerLet(s *ast.LetStmt) error {
	mv, err := l.lowerExpr(s.Init)
	if err != nil {
		return err
	}
	t := s.Type
	if t == 0 && s.Init != nil {
		t = s.Init.Type()
	}
	info := l.reg.Info(t)
	loc := l.fb.F.AllocLocal(info.Size, t)
	l.locals[s.Name] = localBinding{loc, t}
	// The local takes over the value's ownership: the cleanup stays
	// registered and fires when the local's scope exits.
	l.fb.EmitStoreLocal(loc, mv.Node, ast2span(s.Span))
	return nil
}

// lowerBlock lowers a lexical block: cleanups registered inside it are
// emitted in LIFO order on exit.
func (l *Lowerer) lowerBlock(stmts []ast.Stmt) error {
	depth := l.cleanups.Depth()
	deferMark := len(l.defers)
	for _, s := range stmts {
		if l.terminated {
			break
		}
		if err := l.lowerStmt(s); err != nil {
			return err
		}
	}
	if !l.terminated {
		l.runDefersFrom(depth)
		l.emitCleanups(depth)
	}
	l.defers = l.defers[:deferMark]
	return nil
}

func (l *Lowerer) lowerReturn(s *ast.ReturnStmt) error {
	rv := ir.NodeIndexInvalid
	if s.Value != nil {
		mv, err := l.lowerExpr(s.Value)
		if err != nil {
			return err
		}
		// Ownership transfers to the caller: the returned value must not
		// be released on the way out.
		rv = mv.Forward(&l.cleanups)
	}
	l.runDefersFrom(0)
	l.emitCleanupsNoPop(0)
	l.fb.SetReturn(rv)
	l.terminated = true
	return nil
}

func (l *Lowerer) lowerBreakContinue(label string, isBreak bool, span ast.Span) error {
	if len(l.loops) == 0 {
		return l.errf("E402", span, "break/continue outside loop")
	}
	frame := l.loops[len(l.loops)-1]
	if label != "" {
		found := false
		for i := len(l.loops) - 1; i >= 0; i-- {
			if l.loops[i].label == label {
				frame = l.loops[i]
				found = true
				break
			}
		}
		if !found {
			return l.errf("E403", span, "unknown loop label %q", label)
		}
	}
	// Cleanups down to the loop frame, then the defers registered inside
	// it, then the jump.
	l.emitCleanupsNoPop(frame.cleanupDepth)
	for i := len(l.defers) - 1; i >= frame.deferDepth; i-- {
		if d := l.defers[i]; !d.isErr {
			for _, st := range d.body {
				if l.terminated {
					break
				}
				if err := l.lowerStmt(st); err != nil {
					return err
				}
			}
		}
	}
	if isBreak {
		l.fb.SetJump(frame.exitBlock)
		l.fb.AddPred(frame.exitBlock, l.fb.Current())
	} else {
		l.fb.SetJump(frame.condBlock)
		l.fb.AddPred(frame.condBlock, l.fb.Current())
	}
	l.terminated = true
	return nil
}

func (l *Lowerer) lowerIf(s *ast.IfStmt) error {
	cond, err := l.lowerExpr(s.Cond)
	if err != nil {
		return err
	}
	thenB := l.fb.NewBlock()
	var elseB ir.BlockID
	mergeB := l.fb.NewBlock()
	if len(s.Else) > 0 {
		elseB = l.fb.NewBlock()
	} else {
		elseB = mergeB
	}
	l.fb.SetBranch(cond.Node, thenB, elseB)
	l.fb.AddPred(thenB, l.fb.Current())
	l.fb.AddPred(elseB, l.fb.Current())

	l.fb.SetCurrent(thenB)
	l.terminated = false
	if err := l.lowerBlock(s.Then); err != nil {
		return err
	}
	thenTerminated := l.terminated
	if !thenTerminated {
		l.fb.SetJump(mergeB)
		l.fb.AddPred(mergeB, l.fb.Current())
	}

	elseTerminated := false
	if len(s.Else) > 0 {
		l.fb.SetCurrent(elseB)
		l.terminated = false
		if err := l.lowerBlock(s.Else); err != nil {
			return err
		}
		elseTerminated = l.terminated
		if !elseTerminated {
			l.fb.SetJump(mergeB)
			l.fb.AddPred(mergeB, l.fb.Current())
		}
	}

	l.fb.SetCurrent(mergeB)
	l.terminated = thenTerminated && elseTerminated && len(s.Else) > 0
	return nil
}

func (l *Lowerer) lowerWhile(s *ast.WhileStmt) error {
	header := l.fb.NewBlock()
	body := l.fb.NewBlock()
	exit := l.fb.NewBlock()

	l.fb.SetJump(header)
	l.fb.AddPred(header, l.fb.Current())

	l.fb.SetCurrent(header)
	cond, err := l.lowerExpr(s.Cond)
	if err != nil {
		return err
	}
	l.fb.SetBranch(cond.Node, body, exit)
	l.fb.AddPred(body, header)
	l.fb.AddPred(exit, header)

	l.loops = append(l.loops, loopFrame{
		condBlock:    header,
		exitBlock:    exit,
		deferDepth:   len(l.defers),
		cleanupDepth: l.cleanups.Depth(),
		label:        s.Label,
	})

	l.fb.SetCurrent(body)
	l.terminated = false
	if err := l.lowerBlock(s.Body); err != nil {
		return err
	}
	if !l.terminated {
		l.fb.SetJump(header)
		l.fb.AddPred(header, l.fb.Current())
	}
	l.loops = l.loops[:len(l.loops)-1]

	l.fb.SetCurrent(exit)
	l.terminated = false
	return nil
}

// lowerForIn desugars `for item in iter` to an index-increment while
// loop over the iterable's length.
func (l *Lowerer) lowerForIn(s *ast.ForInStmt) error {
	iter, err := l.lowerExpr(s.Iter)
	if err != nil {
		return err
	}
	iterT := s.Iter.Type()
	info := l.reg.Info(iterT)
	span := ast2span(s.Span)

	// Hidden index and length.
	idxLoc := l.fb.F.AllocLocal(8, types.I64)
	zero := l.fb.EmitConstInt(0, types.I64, span)
	l.fb.EmitStoreLocal(idxLoc, zero, span)

	var lenNode ir.NodeIndex
	switch info.Kind {
	case types.KindList:
		lenNode = l.fb.EmitListLen(iter.Node, span)
	default: // slice, string, array
		if info.Kind == types.KindArray {
			lenNode = l.fb.EmitConstInt(int64(info.ArrayLen), types.I64, span)
		} else {
			lenNode = l.fb.EmitStringLen(iter.Node, span)
		}
	}
	lenLoc := l.fb.F.AllocLocal(8, types.I64)
	l.fb.EmitStoreLocal(lenLoc, lenNode, span)

	elemT := info.Elem
	elemInfo := l.reg.Info(elemT)
	itemLoc := l.fb.F.AllocLocal(elemInfo.Size, elemT)
	l.locals[s.VarName] = localBinding{itemLoc, elemT}

	header := l.fb.NewBlock()
	body := l.fb.NewBlock()
	exit := l.fb.NewBlock()

	l.fb.SetJump(header)
	l.fb.AddPred(header, l.fb.Current())

	l.fb.SetCurrent(header)
	iv := l.fb.EmitLoadLocal(idxLoc, types.I64, span)
	lv := l.fb.EmitLoadLocal(lenLoc, types.I64, span)
	cond := l.fb.EmitBinary(ir.OpCmpLt, iv, lv, types.BOOL, span)
	l.fb.SetBranch(cond, body, exit)
	l.fb.AddPred(body, header)
	l.fb.AddPred(exit, header)

	l.loops = append(l.loops, loopFrame{
		condBlock:    header,
		exitBlock:    exit,
		deferDepth:   len(l.defers),
		cleanupDepth: l.cleanups.Depth(),
		label:        s.Label,
	})

	l.fb.SetCurrent(body)
	l.terminated = false
	iv2 := l.fb.EmitLoadLocal(idxLoc, types.I64, span)
	var item ir.NodeIndex
	if info.Kind == types.KindList {
		item = l.fb.EmitListGet(iter.Node, iv2, elemT, span)
	} else {
		item = l.fb.EmitIndexLoad(iter.Node, iv2, elemT, span)
	}
	l.fb.EmitStoreLocal(itemLoc, item, span)
	if err := l.lowerBlock(s.Body); err != nil {
		return err
	}
	if !l.terminated {
		iv3 := l.fb.EmitLoadLocal(idxLoc, types.I64, span)
		one := l.fb.EmitConstInt(1, types.I64, span)
		inc := l.fb.EmitBinary(ir.OpAdd, iv3, one, types.I64, span)
		l.fb.EmitStoreLocal(idxLoc, inc, span)
		l.fb.SetJump(header)
		l.fb.AddPred(header, l.fb.Current())
	}
	l.loops = l.loops[:len(l.loops)-1]

	l.fb.SetCurrent(exit)
	l.terminated = false
	return nil
}

// lowerSwitch lowers a switch over an enum or union to a cascade of
// equality tests. Arms that capture a payload bind a local to the
// extracted payload. A variant name that fails to resolve emits a jump
// to the next-arm block rather than silently falling through.
func (l *Lowerer) lowerSwitch(s *ast.SwitchStmt) error {
	scrut, err := l.lowerExpr(s.Scrutinee)
	if err != nil {
		return err
	}
	scrutT := s.Scrutinee.Type()
	info := l.reg.Info(scrutT)
	span := ast2span(s.Span)

	var tag ir.NodeIndex
	isUnion := info.Kind == types.KindUnion
	if isUnion {
		tag = l.fb.EmitUnionTag(scrut.Node, span)
	} else {
		tag = scrut.Node
	}
	tagT := types.I64
	if !isUnion {
		tagT = scrutT
	}

	exit := l.fb.NewBlock()
	allTerminated := true

	for i, arm := range s.Arms {
		isLast := i == len(s.Arms)-1
		var armB, nextB ir.BlockID
		armB = l.fb.NewBlock()
		if !isLast {
			nextB = l.fb.NewBlock()
		} else {
			nextB = exit
		}

		if arm.VariantName == "" {
			// default arm: unconditional.
			l.fb.SetJump(armB)
			l.fb.AddPred(armB, l.fb.Current())
		} else {
			var variant int = -1
			if isUnion {
				variant = l.reg.VariantIndex(scrutT, arm.VariantName)
			} else if info.Kind == types.KindEnum {
				for vi, m := range info.Members {
					if m.Name == arm.VariantName {
						variant = vi
						break
					}
				}
				if variant >= 0 {
					variant = int(info.Members[variant].Value)
				}
			}
			if variant < 0 {
				// Unresolvable variant: jump straight to the next arm.
				l.fb.SetJump(nextB)
				l.fb.AddPred(nextB, l.fb.Current())
				l.fb.SetCurrent(nextB)
				continue
			}
			want := l.fb.EmitConstInt(int64(variant), tagT, span)
			eq := l.fb.EmitBinary(ir.OpCmpEq, tag, want, types.BOOL, span)
			l.fb.SetBranch(eq, armB, nextB)
			l.fb.AddPred(armB, l.fb.Current())
			l.fb.AddPred(nextB, l.fb.Current())
		}

		l.fb.SetCurrent(armB)
		l.terminated = false
		if arm.Bind != "" && isUnion {
			vi := l.reg.VariantIndex(scrutT, arm.VariantName)
			if vi >= 0 && info.Variants[vi].HasPayload {
				pt := info.Variants[vi].Payload
				pInfo := l.reg.Info(pt)
				payload := l.fb.EmitUnionPayload(scrut.Node, pt, span)
				loc := l.fb.F.AllocLocal(pInfo.Size, pt)
				l.locals[arm.Bind] = localBinding{loc, pt}
				l.fb.EmitStoreLocal(loc, payload, span)
			}
		}
		if err := l.lowerBlock(arm.Body); err != nil {
			return err
		}
		if !l.terminated {
			allTerminated = false
			l.fb.SetJump(exit)
			l.fb.AddPred(exit, l.fb.Current())
		}

		if arm.VariantName == "" {
			// Arms after a default are unreachable; stop.
			l.fb.SetCurrent(exit)
			l.terminated = allTerminated
			return nil
		}
		l.fb.SetCurrent(nextB)
		l.terminated = false
		if isLast {
			allTerminated = false
		}
	}
	if l.fb.Current() != exit {
		l.fb.SetJump(exit)
		l.fb.AddPred(exit, l.fb.Current())
		l.fb.SetCurrent(exit)
	}
	l.terminated = false
	return nil
}

// lowerTryCatch lowers `let name = try expr catch |e| { ... }`: the
// error arm binds the tag and runs the catch body (errdefer cleanups
// fire on that path).
func (l *Lowerer) lowerTryCatch(s *ast.TryCatchStmt) error {
	mv, err := l.lowerExpr(s.Try)
	if err != nil {
		return err
	}
	span := ast2span(s.Span)
	euT := s.Try.Type()
	okT := l.reg.Info(euT).OkType

	isErr := l.fb.EmitErrUnionIsErr(mv.Node, span)
	errB := l.fb.NewBlock()
	okB := l.fb.NewBlock()
	merge := l.fb.NewBlock()
	l.fb.SetBranch(isErr, errB, okB)
	l.fb.AddPred(errB, l.fb.Current())
	l.fb.AddPred(okB, l.fb.Current())

	okInfo := l.reg.Info(okT)
	resLoc := l.fb.F.AllocLocal(okInfo.Size, okT)
	if s.Name != "" {
		l.locals[s.Name] = localBinding{resLoc, okT}
	}

	l.fb.SetCurrent(errB)
	l.terminated = false
	if s.ErrName != "" {
		tagLoc := l.fb.F.AllocLocal(8, types.I64)
		tag := l.fb.EmitPtrLoad(mv.Node, types.I64, span)
		l.fb.EmitStoreLocal(tagLoc, tag, span)
		l.locals[s.ErrName] = localBinding{tagLoc, types.I64}
	}
	l.runErrDefersFrom(l.cleanups.Depth())
	if err := l.lowerBlock(s.Catch); err != nil {
		return err
	}
	if !l.terminated {
		l.fb.SetJump(merge)
		l.fb.AddPred(merge, l.fb.Current())
	}

	l.fb.SetCurrent(okB)
	l.terminated = false
	okv := l.fb.EmitErrUnionUnwrap(mv.Node, okT, span)
	l.fb.EmitStoreLocal(resLoc, okv, span)
	l.fb.SetJump(merge)
	l.fb.AddPred(merge, l.fb.Current())

	l.fb.SetCurrent(merge)
	l.terminated = false
	return nil
}
