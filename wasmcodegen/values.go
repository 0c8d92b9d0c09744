package wasmcodegen

import (
	"github.com/cot-lang/cotc/diag"
	"github.com/cot-lang/cotc/ssa"
	"github.com/cot-lang/cotc/types"
	"github.com/cot-lang/cotc/wasmlink"
)

// push emits one operand onto the Wasm stack. Constants and addresses
// rematerialize inline; everything else reads its spilled local.
func (e *emitter) push(v *ssa.Value) error {
	v = follow(v)
	switch v.Op {
	case ssa.OpWasmI64Const, ssa.OpConst64, ssa.OpConstBool:
		e.b.I64Const(v.AuxInt)
		return nil
	case ssa.OpWasmF64Const, ssa.OpConstF64:
		e.b.F64Const(v.AuxFloat)
		return nil
	case ssa.OpConstLitPtr:
		e.b.I64Const(e.env.StringAddr(v.AuxInt))
		return nil
	case ssa.OpArg:
		e.b.LocalGet(uint32(v.AuxInt))
		return nil
	case ssa.OpLocalAddr:
		slot := e.f.LocalSlots[v.AuxInt]
		e.b.LocalGet(uint32(e.fp))
		e.b.I64Const(int64(slot.Offset))
		e.b.Op(wasmlink.OpI64Add)
		return nil
	case ssa.OpGlobalAddr:
		e.b.I64Const(e.env.GlobalAddr(v.AuxStr))
		return nil
	case ssa.OpMetadataAddr:
		e.b.I64Const(e.env.MetadataAddr(v.AuxStr))
		return nil
	}
	if l := e.locals[v.ID]; l >= 0 {
		e.b.LocalGet(uint32(l))
		return nil
	}
	return diag.Internalf("codegen", "v%d (%s) has no local and is not rematerializable", v.ID, v.Op)
}

func follow(v *ssa.Value) *ssa.Value {
	for v.Op == ssa.OpCopy {
		v = v.Args[0]
	}
	return v
}

// finish stores the just-computed result into v's local, or drops it
// when nothing reads it.
func (e *emitter) finish(v *ssa.Value) {
	if l := e.locals[v.ID]; l >= 0 {
		e.b.LocalSet(uint32(l))
	} else {
		e.b.Op(wasmlink.OpDrop)
	}
}

var binOps = map[ssa.Op]byte{
	ssa.OpWasmI64Add:  wasmlink.OpI64Add,
	ssa.OpWasmI64Sub:  wasmlink.OpI64Sub,
	ssa.OpWasmI64Mul:  wasmlink.OpI64Mul,
	ssa.OpWasmI64DivS: wasmlink.OpI64DivS,
	ssa.OpWasmI64DivU: wasmlink.OpI64DivU,
	ssa.OpWasmI64RemS: wasmlink.OpI64RemS,
	ssa.OpWasmI64RemU: wasmlink.OpI64RemU,
	ssa.OpWasmI64And:  wasmlink.OpI64And,
	ssa.OpWasmI64Or:   wasmlink.OpI64Or,
	ssa.OpWasmI64Xor:  wasmlink.OpI64Xor,
	ssa.OpWasmI64Shl:  wasmlink.OpI64Shl,
	ssa.OpWasmI64ShrS: wasmlink.OpI64ShrS,
	ssa.OpWasmI64ShrU: wasmlink.OpI64ShrU,
	ssa.OpWasmF64Add:  wasmlink.OpF64Add,
	ssa.OpWasmF64Sub:  wasmlink.OpF64Sub,
	ssa.OpWasmF64Mul:  wasmlink.OpF64Mul,
	ssa.OpWasmF64Div:  wasmlink.OpF64Div,
}

// cmpOps produce an i32; the emitter widens back to i64 so every spilled
// integer value is uniformly 64-bit.
var cmpOps = map[ssa.Op]byte{
	ssa.OpWasmI64Eq:  wasmlink.OpI64Eq,
	ssa.OpWasmI64Ne:  wasmlink.OpI64Ne,
	ssa.OpWasmI64LtS: wasmlink.OpI64LtS,
	ssa.OpWasmI64LtU: wasmlink.OpI64LtU,
	ssa.OpWasmI64LeS: wasmlink.OpI64LeS,
	ssa.OpWasmI64LeU: wasmlink.OpI64LeU,
	ssa.OpWasmI64GtS: wasmlink.OpI64GtS,
	ssa.OpWasmI64GtU: wasmlink.OpI64GtU,
	ssa.OpWasmI64GeS: wasmlink.OpI64GeS,
	ssa.OpWasmI64GeU: wasmlink.OpI64GeU,
	ssa.OpWasmF64Eq:  wasmlink.OpF64Eq,
	ssa.OpWasmF64Ne:  wasmlink.OpF64Ne,
	ssa.OpWasmF64Lt:  wasmlink.OpF64Lt,
	ssa.OpWasmF64Le:  wasmlink.OpF64Le,
	ssa.OpWasmF64Gt:  wasmlink.OpF64Gt,
	ssa.OpWasmF64Ge:  wasmlink.OpF64Ge,
}

var loadOps = map[ssa.Op]struct {
	op    byte
	align uint32
}{
	ssa.OpWasmI64Load:    {wasmlink.OpI64Load, 3},
	ssa.OpWasmI64Load8U:  {wasmlink.OpI64Load8U, 0},
	ssa.OpWasmI64Load8S:  {wasmlink.OpI64Load8S, 0},
	ssa.OpWasmI64Load16U: {wasmlink.OpI64Load16U, 1},
	ssa.OpWasmI64Load16S: {wasmlink.OpI64Load16S, 1},
	ssa.OpWasmI64Load32U: {wasmlink.OpI64Load32U, 2},
	ssa.OpWasmI64Load32S: {wasmlink.OpI64Load32S, 2},
	ssa.OpWasmF64Load:    {wasmlink.OpF64Load, 3},
}

var storeOps = map[ssa.Op]struct {
	op    byte
	align uint32
}{
	ssa.OpWasmI64Store:   {wasmlink.OpI64Store, 3},
	ssa.OpWasmI64Store8:  {wasmlink.OpI64Store8, 0},
	ssa.OpWasmI64Store16: {wasmlink.OpI64Store16, 1},
	ssa.OpWasmI64Store32: {wasmlink.OpI64Store32, 2},
	ssa.OpWasmF64Store:   {wasmlink.OpF64Store, 3},
}

func (e *emitter) emitValue(v *ssa.Value) error {
	switch {
	// Rematerialized or structural values emit nothing here.
	case v.Op.IsConst(), v.Op == ssa.OpArg, v.Op == ssa.OpCopy, v.Op == ssa.OpPhi,
		v.Op == ssa.OpStringMake, v.Op == ssa.OpSliceMake,
		v.Op == ssa.OpLocalAddr, v.Op == ssa.OpGlobalAddr, v.Op == ssa.OpMetadataAddr:
		return nil
	}

	if op, ok := binOps[v.Op]; ok {
		if err := e.push(v.Args[0]); err != nil {
			return err
		}
		if err := e.push(v.Args[1]); err != nil {
			return err
		}
		e.b.Op(op)
		e.finish(v)
		return nil
	}
	if op, ok := cmpOps[v.Op]; ok {
		if err := e.push(v.Args[0]); err != nil {
			return err
		}
		if err := e.push(v.Args[1]); err != nil {
			return err
		}
		e.b.Op(op)
		e.b.ExtendU()
		e.finish(v)
		return nil
	}
	if ld, ok := loadOps[v.Op]; ok {
		if err := e.push(v.Args[0]); err != nil {
			return err
		}
		e.b.Wrap()
		e.b.Load(ld.op, ld.align, uint32(v.AuxInt))
		e.finish(v)
		return nil
	}
	if st, ok := storeOps[v.Op]; ok {
		if err := e.push(v.Args[0]); err != nil {
			return err
		}
		e.b.Wrap()
		if err := e.push(v.Args[1]); err != nil {
			return err
		}
		e.b.Store(st.op, st.align, uint32(v.AuxInt))
		return nil
	}

	switch v.Op {
	case ssa.OpWasmI64Eqz:
		if err := e.push(v.Args[0]); err != nil {
			return err
		}
		e.b.Op(wasmlink.OpI64Eqz)
		e.b.ExtendU()
		e.finish(v)
		return nil

	case ssa.OpWasmF64Neg:
		if err := e.push(v.Args[0]); err != nil {
			return err
		}
		e.b.Op(wasmlink.OpF64Neg)
		e.finish(v)
		return nil

	case ssa.OpAddPtr:
		if err := e.push(v.Args[0]); err != nil {
			return err
		}
		if err := e.push(v.Args[1]); err != nil {
			return err
		}
		e.b.Op(wasmlink.OpI64Add)
		e.finish(v)
		return nil

	case ssa.OpOffPtr:
		if err := e.push(v.Args[0]); err != nil {
			return err
		}
		if v.AuxInt != 0 {
			e.b.I64Const(v.AuxInt)
			e.b.Op(wasmlink.OpI64Add)
		}
		e.finish(v)
		return nil

	case ssa.OpMove:
		// memory.copy(dst, src, AuxInt bytes)
		if err := e.push(v.Args[0]); err != nil {
			return err
		}
		e.b.Wrap()
		if err := e.push(v.Args[1]); err != nil {
			return err
		}
		e.b.Wrap()
		e.b.I32Const(int32(v.AuxInt))
		e.b.MemoryCopy()
		return nil

	case ssa.OpWasmCall:
		for _, a := range v.Args {
			if err := e.push(a); err != nil {
				return err
			}
		}
		e.b.Call(e.env.FuncIndex(v.AuxStr))
		if v.Type != types.VOID {
			e.finish(v)
		}
		return nil

	case ssa.OpWasmCallIndirect:
		for _, a := range v.Args[1:] {
			if err := e.push(a); err != nil {
				return err
			}
		}
		if err := e.push(v.Args[0]); err != nil {
			return err
		}
		e.b.Wrap()
		results := 1
		if v.Type == types.VOID {
			results = 0
		}
		e.b.CallIndirect(e.env.TypeIndex(len(v.Args)-1, results))
		if v.Type != types.VOID {
			e.finish(v)
		}
		return nil

	case ssa.OpSelectN:
		// Single-result calls only; the select is its argument's alias.
		if err := e.push(v.Args[0]); err != nil {
			return err
		}
		e.finish(v)
		return nil
	}
	return diag.Internalf("codegen", "unhandled op %s in %s", v.Op, e.f.Name)
}
