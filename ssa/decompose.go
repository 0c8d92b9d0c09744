package ssa

import (
	"github.com/cot-lang/cotc/diag"
	"github.com/cot-lang/cotc/types"
)

// decomposeIterLimit bounds the per-block fixpoint of the decompose pass.
const decomposeIterLimit = 10

// decompose breaks composite-typed values into register-sized pieces:
// 16-byte loads split into two 8-byte loads joined by StringMake (for
// STRING) or SliceMake, 16-byte stores split into two 8-byte stores, and
// 16-byte args split into two slots joined like loads. After this pass
// no SSA value carries a type wider than MaxSSASize.
func decompose(f *Func) error {
	for _, b := range f.Blocks {
		for iter := 0; ; iter++ {
			if iter >= decomposeIterLimit {
				return &diag.IterationLimitError{Pass: "decompose", Limit: decomposeIterLimit}
			}
			changed := false
			// Snapshot: replaceValue rewrites b.Values under us.
			vals := append([]*Value(nil), b.Values...)
			for _, v := range vals {
				if v.Block != b {
					continue // freed or moved by an earlier rewrite
				}
				if decomposeValue(f, b, v) {
					changed = true
				}
			}
			if !changed {
				break
			}
		}
	}
	return nil
}

func decomposeValue(f *Func, b *Block, v *Value) bool {
	switch v.Op {
	case OpLoad:
		if f.Types.Size(v.Type) != 16 {
			return false
		}
		// Load <STRING> addr -> StringMake(Load addr, Load (OffPtr addr, 8))
		addr := v.Args[0]
		lo := f.NewValue1(b, OpLoad, types.U64, v.Pos, addr)
		hiAddr := f.NewValue1(b, OpOffPtr, types.U64, v.Pos, addr)
		hiAddr.AuxInt = 8
		hi := f.NewValue1(b, OpLoad, types.I64, v.Pos, hiAddr)
		op := OpSliceMake
		if v.Type == types.STRING {
			op = OpStringMake
		}
		mk := f.NewValue2(b, op, v.Type, v.Pos, lo, hi)
		replaceValue(f, v, []*Value{lo, hiAddr, hi, mk})
		return true

	case OpStore:
		if f.Types.Size(v.Type) != 16 {
			return false
		}
		addr, val := v.Args[0], v.Args[1]
		p, l, pre := stringComponents(f, b, val)
		if p == nil {
			return false
		}
		st0 := f.NewValue2(b, OpStore, types.U64, v.Pos, addr, p)
		hiAddr := f.NewValue1(b, OpOffPtr, types.U64, v.Pos, addr)
		hiAddr.AuxInt = 8
		st1 := f.NewValue2(b, OpStore, types.I64, v.Pos, hiAddr, l)
		news := append(pre, st0, hiAddr, st1)
		replaceValue(f, v, news)
		return true

	case OpArg:
		// Two-slot args were already joined by the builder; a 16-byte Arg
		// reaching here came from a rewrite and splits the same way.
		if f.Types.Size(v.Type) != 16 {
			return false
		}
		slot := v.AuxInt
		lo := f.NewValue0(b, OpArg, types.U64, v.Pos)
		lo.AuxInt = slot
		hi := f.NewValue0(b, OpArg, types.I64, v.Pos)
		hi.AuxInt = slot + 1
		op := OpSliceMake
		if v.Type == types.STRING {
			op = OpStringMake
		}
		mk := f.NewValue2(b, op, v.Type, v.Pos, lo, hi)
		replaceValue(f, v, []*Value{lo, hi, mk})
		return true

	case OpConstString:
		// Left over when rewritegeneric was skipped; same rule.
		s := v.AuxStr
		idx := f.Strings.Intern(s)
		ptr := f.NewValue0(b, OpConstLitPtr, types.U64, v.Pos)
		ptr.AuxInt = int64(idx)
		ln := f.ConstInt(int64(len(s)), types.I64)
		op := OpSliceMake
		if v.Type == types.STRING {
			op = OpStringMake
		}
		mk := f.NewValue2(b, op, v.Type, v.Pos, ptr, ln)
		replaceValue(f, v, []*Value{ptr, mk})
		return true
	}
	return false
}
