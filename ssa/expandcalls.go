package ssa

import "github.com/cot-lang/cotc/types"

// expandCalls lowers the remaining aggregate traffic to the ABI:
// string/slice call arguments become two scalar arguments (the two-slot
// convention), ref-aggregates already travel as addresses, wide selects
// become explicit Move operations, and aggregate results are rewritten
// to a hidden caller-owned sret slot on both sides of the call.
//
// After this pass no SSA value has a type wider than MaxSSASize.
func expandCalls(f *Func) error {
	for _, b := range f.Blocks {
		vals := append([]*Value(nil), b.Values...)
		for _, v := range vals {
			if v.Block != b {
				continue
			}
			switch {
			case v.Op.IsCall():
				expandCallArgs(f, b, v)
				expandCallResult(f, b, v)
			case v.Op == OpSelectN && f.Types.Size(v.Type) > MaxSSASize:
				v.Op = OpMove
				v.AuxInt = int64(f.Types.Size(v.Type))
			}
		}
	}
	expandAggregateReturns(f)
	return nil
}

// resultNeedsSret reports whether the function-result convention for t
// is store-through-hidden-pointer.
func resultNeedsSret(reg *types.Registry, t types.TypeIndex) bool {
	if t == types.VOID {
		return false
	}
	return isSliceShaped(reg, t) || isRefAggregate(reg, t) || reg.Size(t) > MaxSSASize
}

// sretSlot is the argument slot of the hidden aggregate-return pointer:
// it follows the declared parameters' slots.
func sretSlot(f *Func) int64 {
	slot := int64(0)
	for _, pt := range f.Params {
		if isSliceShaped(f.Types, pt) {
			slot += 2
		} else {
			slot++
		}
	}
	return slot
}

// expandAggregateReturns rewrites each BlockRet of an aggregate-result
// function to store through the sret pointer and return nothing.
func expandAggregateReturns(f *Func) {
	if !resultNeedsSret(f.Types, f.Result) {
		return
	}
	for _, b := range f.Blocks {
		if b.Kind != BlockRet || b.Controls[0] == nil {
			continue
		}
		rv := b.Controls[0]
		sret := f.NewValue0(b, OpArg, types.U64, rv.Pos)
		sret.AuxInt = sretSlot(f)
		if isSliceShaped(f.Types, f.Result) {
			p, l, _ := stringComponents(f, b, rv)
			if p == nil {
				continue
			}
			f.NewValue2(b, OpStore, types.U64, rv.Pos, sret, p)
			hi := f.NewValue1(b, OpOffPtr, types.U64, rv.Pos, sret)
			hi.AuxInt = 8
			f.NewValue2(b, OpStore, types.I64, rv.Pos, hi, l)
		} else {
			// The control is the aggregate's address; copy its bytes.
			mv := f.NewValue2(b, OpMove, types.VOID, rv.Pos, sret, rv)
			mv.AuxInt = int64(f.Types.Size(f.Result))
		}
		b.SetControl(nil)
	}
}

// expandCallResult rewrites a call returning an aggregate: the caller
// allocates a frame slot, passes its address as the trailing sret
// argument, and the call's consumers read the slot instead.
func expandCallResult(f *Func, b *Block, call *Value) {
	t := call.Type
	if !resultNeedsSret(f.Types, t) {
		return
	}
	slot := f.AddLocalSlot(f.Types.Size(t), t)
	addr := f.NewValue0(b, OpLocalAddr, types.U64, call.Pos)
	addr.AuxInt = int64(slot)
	insertBefore(b, call, []*Value{addr})
	call.AddArg(addr)
	call.Type = types.VOID

	if isSliceShaped(f.Types, t) {
		lo := f.NewValue1(b, OpLoad, types.U64, call.Pos, addr)
		hiAddr := f.NewValue1(b, OpOffPtr, types.U64, call.Pos, addr)
		hiAddr.AuxInt = 8
		hi := f.NewValue1(b, OpLoad, types.I64, call.Pos, hiAddr)
		op := OpSliceMake
		if t == types.STRING {
			op = OpStringMake
		}
		mk := f.NewValue2(b, op, t, call.Pos, lo, hi)
		insertAfter(b, call, []*Value{lo, hiAddr, hi, mk})
		rewriteUsesExcept(f, call, mk, map[*Value]bool{mk: true})
	} else {
		// Ref-aggregate: the result value is the slot's address.
		rewriteUsesExcept(f, call, addr, map[*Value]bool{addr: true})
	}
}

// rewriteUsesExcept repoints uses of old at new, skipping the listed
// values (the freshly created ones that legitimately reference old or
// new).
func rewriteUsesExcept(f *Func, old, new *Value, skip map[*Value]bool) {
	for _, b := range f.Blocks {
		for _, v := range b.Values {
			if skip[v] || v == old {
				continue
			}
			for i, a := range v.Args {
				if a == old {
					v.SetArg(i, new)
				}
			}
		}
		for i, c := range b.Controls {
			if c == old {
				old.Uses--
				b.Controls[i] = new
				new.Uses++
			}
		}
	}
}

// expandCallArgs rewrites one call's string/slice arguments to the
// two-slot convention.
func expandCallArgs(f *Func, b *Block, call *Value) {
	needs := false
	for _, a := range call.Args {
		if isSliceShaped(f.Types, a.Type) {
			needs = true
			break
		}
	}
	if !needs {
		return
	}
	old := append([]*Value(nil), call.Args...)
	call.resetArgs()
	for _, a := range old {
		if !isSliceShaped(f.Types, a.Type) {
			call.AddArg(a)
			continue
		}
		p, l, pre := stringComponents(f, b, a)
		if p == nil {
			call.AddArg(a)
			continue
		}
		insertBefore(b, call, pre)
		call.AddArg(p)
		call.AddArg(l)
	}
}

// insertBefore moves vs (freshly appended at the block tail) to just
// before anchor.
func insertBefore(b *Block, anchor *Value, vs []*Value) {
	if len(vs) == 0 {
		return
	}
	for _, v := range vs {
		b.removeValue(v)
	}
	pos := -1
	for i, v := range b.Values {
		if v == anchor {
			pos = i
			break
		}
	}
	if pos < 0 {
		b.Values = append(b.Values, vs...)
		return
	}
	rest := append([]*Value(nil), b.Values[pos:]...)
	b.Values = append(b.Values[:pos], vs...)
	b.Values = append(b.Values, rest...)
}

// insertAfter moves vs to just after anchor.
func insertAfter(b *Block, anchor *Value, vs []*Value) {
	if len(vs) == 0 {
		return
	}
	for _, v := range vs {
		b.removeValue(v)
	}
	pos := -1
	for i, v := range b.Values {
		if v == anchor {
			pos = i
			break
		}
	}
	if pos < 0 {
		b.Values = append(b.Values, vs...)
		return
	}
	rest := append([]*Value(nil), b.Values[pos+1:]...)
	b.Values = append(b.Values[:pos+1], vs...)
	b.Values = append(b.Values, rest...)
}
