package ssa

import "github.com/cot-lang/cotc/types"

// rewritedec unwraps composite-producing ops: length/pointer extraction
// through StringMake/SliceMake, extraction through loads, and the
// string-concat expansion to its runtime call.
func rewritedec(f *Func) error {
	return applyRewrite(f, "rewritedec", rewriteValuedec)
}

func rewriteValuedec(f *Func, v *Value) bool {
	switch v.Op {
	case OpSliceLen, OpStringLen:
		x := followCopy(v.Args[0])
		if l := extractStringLen(x); l != nil {
			v.copyOf(l)
			return true
		}
		// string_len (load <STRING> addr) -> load <i64> (off_ptr addr, 8)
		if x.Op == OpLoad && f.Types.Size(x.Type) == 16 {
			addr := x.Args[0]
			off := f.NewValue1(v.Block, OpOffPtr, types.U64, v.Pos, addr)
			off.AuxInt = 8
			v.reset(OpLoad)
			v.Type = types.I64
			v.AddArg(off)
			return true
		}

	case OpSlicePtr, OpStringPtr:
		x := followCopy(v.Args[0])
		if p := extractStringPtr(x); p != nil {
			v.copyOf(p)
			return true
		}
		// string_ptr (load <STRING> addr) -> load <i64> addr
		if x.Op == OpLoad && f.Types.Size(x.Type) == 16 {
			addr := x.Args[0]
			v.reset(OpLoad)
			v.Type = types.U64
			v.AddArg(addr)
			return true
		}

	case OpStringConcat:
		// string_concat s1 s2 ->
		//   call cot_string_concat(p1, l1, p2, l2), string_make(call, add(l1, l2))
		b := v.Block
		p1, l1, pre1 := stringComponents(f, b, v.Args[0])
		p2, l2, pre2 := stringComponents(f, b, v.Args[1])
		if p1 == nil || p2 == nil {
			return false
		}
		call := f.newValueInto(b, OpStaticCall, types.U64, v.Pos)
		call.AuxStr = "cot_string_concat"
		call.AddArg(p1)
		call.AddArg(l1)
		call.AddArg(p2)
		call.AddArg(l2)
		newLen := f.NewValue2(b, OpAdd, types.I64, v.Pos, l1, l2)
		mk := f.NewValue2(b, OpStringMake, types.STRING, v.Pos, call, newLen)
		news := append(pre1, pre2...)
		news = append(news, call, newLen, mk)
		replaceValue(f, v, news)
		return true
	}
	return false
}

// stringComponents resolves a string-shaped operand to its (ptr, len)
// pair. StringMake/SliceMake producers decompose directly; a Load<STRING>
// operand is split into two 8-byte loads emitted here, returned in pre so
// the caller can splice them before the consumer.
func stringComponents(f *Func, b *Block, s *Value) (ptr, ln *Value, pre []*Value) {
	if p := extractStringPtr(s); p != nil {
		return p, extractStringLen(s), nil
	}
	sv := followCopy(s)
	if sv.Op == OpLoad && f.Types.Size(sv.Type) == 16 {
		addr := sv.Args[0]
		p := f.NewValue1(b, OpLoad, types.U64, sv.Pos, addr)
		hi := f.NewValue1(b, OpOffPtr, types.U64, sv.Pos, addr)
		hi.AuxInt = 8
		l := f.NewValue1(b, OpLoad, types.I64, sv.Pos, hi)
		return p, l, []*Value{p, hi, l}
	}
	return nil, nil, nil
}
