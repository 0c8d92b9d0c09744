package ssa

import "github.com/cot-lang/cotc/types"

// rewritegeneric runs the algebraic simplification rules. The load-bearing
// rule today is the string-literal decomposition; the constant-folding
// rules exist so downstream passes see fewer trees.
func rewritegeneric(f *Func) error {
	return applyRewrite(f, "rewritegeneric", rewriteValuegeneric)
}

func rewriteValuegeneric(f *Func, v *Value) bool {
	switch v.Op {
	case OpConstString:
		// const_string {s} -> string_make(const_lit_ptr idx, const len)
		s := v.AuxStr
		idx := f.Strings.Intern(s)
		ptr := f.NewValue0(v.Block, OpConstLitPtr, types.U64, v.Pos)
		ptr.AuxInt = int64(idx)
		ln := f.ConstInt(int64(len(s)), types.I64)
		v.reset(OpStringMake)
		v.AddArg(ptr)
		v.AddArg(ln)
		return true

	case OpAdd, OpSub, OpMul:
		x, y := followCopy(v.Args[0]), followCopy(v.Args[1])
		if x.Op == OpConst64 && y.Op == OpConst64 && f.Types.Info(v.Type).Kind == types.KindInt {
			var r int64
			switch v.Op {
			case OpAdd:
				r = x.AuxInt + y.AuxInt
			case OpSub:
				r = x.AuxInt - y.AuxInt
			case OpMul:
				r = x.AuxInt * y.AuxInt
			}
			v.copyOf(f.ConstInt(r, v.Type))
			return true
		}
		// x + 0, x - 0, x * 1 -> x
		if y.Op == OpConst64 {
			if (v.Op == OpAdd || v.Op == OpSub) && y.AuxInt == 0 ||
				v.Op == OpMul && y.AuxInt == 1 {
				v.copyOf(v.Args[0])
				return true
			}
		}

	case OpExtendU, OpExtendS:
		// Widening a constant folds immediately.
		x := followCopy(v.Args[0])
		if x.Op == OpConst64 {
			bits := uint(v.AuxInt * 8)
			val := x.AuxInt
			if v.Op == OpExtendU {
				val &= int64(1)<<bits - 1
			} else {
				val = val << (64 - bits) >> (64 - bits)
			}
			v.copyOf(f.ConstInt(val, v.Type))
			return true
		}
	}
	return false
}
