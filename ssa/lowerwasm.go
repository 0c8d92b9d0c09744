package ssa

import (
	"github.com/cot-lang/cotc/diag"
	"github.com/cot-lang/cotc/types"
)

// lowerWasm converts the remaining generic ops to their sized wasm_*
// equivalents. Pointer-scaled arithmetic (AddPtr, OffPtr, LocalAddr,
// GlobalAddr, MetadataAddr) and the composite joins pass through
// unchanged for the codegen to resolve.
func lowerWasm(f *Func) error {
	for _, b := range f.Blocks {
		for _, v := range b.Values {
			lowerWasmValue(f, v)
		}
	}
	if diag.Enabled(diag.PhaseCodegen) {
		diag.Logf(diag.PhaseCodegen, "lowered %s:\n%s", f.Name, f.Format())
	}
	return nil
}

func lowerWasmValue(f *Func, v *Value) {
	float := f.Types.Info(v.Type).Kind == types.KindFloat
	switch v.Op {
	case OpConst64, OpConstBool:
		v.Op = OpWasmI64Const
	case OpConstF64:
		v.Op = OpWasmF64Const

	case OpAdd:
		v.Op = pick(float, OpWasmF64Add, OpWasmI64Add)
	case OpSub:
		v.Op = pick(float, OpWasmF64Sub, OpWasmI64Sub)
	case OpMul:
		v.Op = pick(float, OpWasmF64Mul, OpWasmI64Mul)
	case OpDiv:
		v.Op = pick(float, OpWasmF64Div, OpWasmI64DivS)
	case OpDivU:
		v.Op = OpWasmI64DivU
	case OpMod:
		v.Op = OpWasmI64RemS
	case OpModU:
		v.Op = OpWasmI64RemU
	case OpAnd:
		v.Op = OpWasmI64And
	case OpOr:
		v.Op = OpWasmI64Or
	case OpXor:
		v.Op = OpWasmI64Xor
	case OpShl:
		v.Op = OpWasmI64Shl
	case OpShr:
		v.Op = OpWasmI64ShrS
	case OpShrU:
		v.Op = OpWasmI64ShrU
	case OpNeg:
		if float {
			v.Op = OpWasmF64Neg
		} else {
			// neg x -> 0 - x
			x := v.Args[0]
			zero := f.ConstInt(0, v.Type)
			zero.Op = OpWasmI64Const
			v.reset(OpWasmI64Sub)
			v.AddArg(zero)
			v.AddArg(x)
		}
	case OpNot:
		// Booleans are 0/1: not x -> x == 0.
		v.Op = OpWasmI64Eqz

	case OpEq, OpNeq, OpLess, OpLessU, OpLeq, OpLeqU, OpGreater, OpGreaterU, OpGeq, OpGeqU:
		operandFloat := f.Types.Info(v.Args[0].Type).Kind == types.KindFloat
		v.Op = cmpWasmOp(v.Op, operandFloat)

	case OpExtendU:
		// Mask to the source width; the value already lives widened as
		// i64, so an And is the whole widening.
		bits := uint(v.AuxInt * 8)
		mask := int64(1)<<bits - 1
		if bits >= 64 {
			v.copyOf(v.Args[0])
			return
		}
		m := f.ConstInt(mask, types.I64)
		m.Op = OpWasmI64Const
		x := v.Args[0]
		v.reset(OpWasmI64And)
		v.Type = types.I64
		v.AddArg(x)
		v.AddArg(m)
	case OpExtendS:
		bits := int64(v.AuxInt * 8)
		if bits >= 64 {
			v.copyOf(v.Args[0])
			return
		}
		// shl then shr_s by (64 - width).
		sh := f.ConstInt(64-bits, types.I64)
		sh.Op = OpWasmI64Const
		x := v.Args[0]
		shl := f.NewValue2(v.Block, OpWasmI64Shl, types.I64, v.Pos, x, sh)
		// The shift runs where the extend was scheduled, not at the block
		// tail where the arena appended it.
		insertBefore(v.Block, v, []*Value{shl})
		v.reset(OpWasmI64ShrS)
		v.Type = types.I64
		v.AddArg(shl)
		v.AddArg(sh)

	case OpLoad:
		v.Op = loadOp(f, v.Type)
	case OpStore:
		v.Op = storeOp(f, v.Type)

	case OpStaticCall:
		v.Op = OpWasmCall
	case OpCallIndirect:
		v.Op = OpWasmCallIndirect
	}
}

func pick(cond bool, a, b Op) Op {
	if cond {
		return a
	}
	return b
}

func cmpWasmOp(op Op, float bool) Op {
	if float {
		switch op {
		case OpEq:
			return OpWasmF64Eq
		case OpNeq:
			return OpWasmF64Ne
		case OpLess:
			return OpWasmF64Lt
		case OpLeq:
			return OpWasmF64Le
		case OpGreater:
			return OpWasmF64Gt
		case OpGeq:
			return OpWasmF64Ge
		}
	}
	switch op {
	case OpEq:
		return OpWasmI64Eq
	case OpNeq:
		return OpWasmI64Ne
	case OpLess:
		return OpWasmI64LtS
	case OpLessU:
		return OpWasmI64LtU
	case OpLeq:
		return OpWasmI64LeS
	case OpLeqU:
		return OpWasmI64LeU
	case OpGreater:
		return OpWasmI64GtS
	case OpGreaterU:
		return OpWasmI64GtU
	case OpGeq:
		return OpWasmI64GeS
	case OpGeqU:
		return OpWasmI64GeU
	}
	return op
}

// loadOp picks the sized load with the correct extension for the type.
func loadOp(f *Func, t types.TypeIndex) Op {
	info := f.Types.Info(t)
	if info.Kind == types.KindFloat && info.Size == 8 {
		return OpWasmF64Load
	}
	signed := f.Types.IsSigned(t)
	switch info.Size {
	case 1:
		return pick(signed, OpWasmI64Load8S, OpWasmI64Load8U)
	case 2:
		return pick(signed, OpWasmI64Load16S, OpWasmI64Load16U)
	case 4:
		return pick(signed, OpWasmI64Load32S, OpWasmI64Load32U)
	default:
		return OpWasmI64Load
	}
}

func storeOp(f *Func, t types.TypeIndex) Op {
	info := f.Types.Info(t)
	if info.Kind == types.KindFloat && info.Size == 8 {
		return OpWasmF64Store
	}
	switch info.Size {
	case 1:
		return OpWasmI64Store8
	case 2:
		return OpWasmI64Store16
	case 4:
		return OpWasmI64Store32
	default:
		return OpWasmI64Store
	}
}
