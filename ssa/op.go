package ssa

import "fmt"

// Op is the operation discriminant of a Value. Generic ops come first;
// the lower_wasm pass replaces most of them with the wasm_* sized
// equivalents before codegen.
type Op int32

const (
	OpInvalid Op = iota

	// Construction-time pseudo ops.
	OpFwdRef // unresolved variable lookup; AuxInt = IR local index
	OpPhi
	OpCopy
	OpArg // AuxInt = argument slot

	// Constants.
	OpConst64     // AuxInt
	OpConstF64    // AuxFloat
	OpConstBool   // AuxInt 0/1
	OpConstString // AuxStr = literal bytes; rewritegeneric decomposes
	OpConstLitPtr // AuxInt = string-literal index, resolved to a data offset at link

	// Composite make/extract.
	OpStringMake
	OpSliceMake
	OpStringPtr
	OpStringLen
	OpSlicePtr
	OpSliceLen
	OpStringConcat

	// Integer arithmetic (operates on 64-bit values; sub-64 types are kept
	// widened in SSA).
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpDivU
	OpMod
	OpModU
	OpAnd
	OpOr
	OpXor
	OpShl
	OpShr  // arithmetic
	OpShrU // logical
	OpNeg
	OpNot // boolean not

	// Comparisons. Signed/unsigned split is decided by the builder from
	// the operand type, so later passes need no type inspection.
	OpEq
	OpNeq
	OpLess
	OpLessU
	OpLeq
	OpLeqU
	OpGreater
	OpGreaterU
	OpGeq
	OpGeqU

	// Widening. AuxInt = source width in bytes.
	OpExtendU
	OpExtendS

	// Memory.
	OpLoad
	OpStore
	OpMove // wide copy; AuxInt = byte count

	// Addresses. Resolved by codegen/linker.
	OpLocalAddr    // AuxInt = local slot index
	OpGlobalAddr   // AuxStr = global name
	OpMetadataAddr // AuxStr = type name
	OpAddPtr       // args[0] + args[1]
	OpOffPtr       // args[0] + AuxInt

	// Calls.
	OpStaticCall   // AuxStr = callee name
	OpCallIndirect // args[0] = table index, rest are call args
	OpSelectN      // AuxInt = result index of a multi-result call

	firstWasmOp

	// Wasm-sized ops emitted by lower_wasm. Every integer value lives as
	// i64 on the Wasm stack; comparisons re-widen their i32 result.
	OpWasmI64Const
	OpWasmF64Const
	OpWasmI64Add
	OpWasmI64Sub
	OpWasmI64Mul
	OpWasmI64DivS
	OpWasmI64DivU
	OpWasmI64RemS
	OpWasmI64RemU
	OpWasmI64And
	OpWasmI64Or
	OpWasmI64Xor
	OpWasmI64Shl
	OpWasmI64ShrS
	OpWasmI64ShrU
	OpWasmI64Eq
	OpWasmI64Ne
	OpWasmI64LtS
	OpWasmI64LtU
	OpWasmI64LeS
	OpWasmI64LeU
	OpWasmI64GtS
	OpWasmI64GtU
	OpWasmI64GeS
	OpWasmI64GeU
	OpWasmI64Eqz
	OpWasmF64Add
	OpWasmF64Sub
	OpWasmF64Mul
	OpWasmF64Div
	OpWasmF64Eq
	OpWasmF64Ne
	OpWasmF64Lt
	OpWasmF64Le
	OpWasmF64Gt
	OpWasmF64Ge
	OpWasmF64Neg
	OpWasmI64Load // AuxInt = static byte offset
	OpWasmI64Load8U
	OpWasmI64Load8S
	OpWasmI64Load16U
	OpWasmI64Load16S
	OpWasmI64Load32U
	OpWasmI64Load32S
	OpWasmF64Load
	OpWasmI64Store
	OpWasmI64Store8
	OpWasmI64Store16
	OpWasmI64Store32
	OpWasmF64Store
	OpWasmCall // AuxStr = callee
	OpWasmCallIndirect

	numOps
)

var opNames = map[Op]string{
	OpInvalid:      "Invalid",
	OpFwdRef:       "FwdRef",
	OpPhi:          "Phi",
	OpCopy:         "Copy",
	OpArg:          "Arg",
	OpConst64:      "Const64",
	OpConstF64:     "ConstF64",
	OpConstBool:    "ConstBool",
	OpConstString:  "ConstString",
	OpConstLitPtr:  "ConstLitPtr",
	OpStringMake:   "StringMake",
	OpSliceMake:    "SliceMake",
	OpStringPtr:    "StringPtr",
	OpStringLen:    "StringLen",
	OpSlicePtr:     "SlicePtr",
	OpSliceLen:     "SliceLen",
	OpStringConcat: "StringConcat",
	OpAdd:          "Add",
	OpSub:          "Sub",
	OpMul:          "Mul",
	OpDiv:          "Div",
	OpDivU:         "DivU",
	OpMod:          "Mod",
	OpModU:         "ModU",
	OpAnd:          "And",
	OpOr:           "Or",
	OpXor:          "Xor",
	OpShl:          "Shl",
	OpShr:          "Shr",
	OpShrU:         "ShrU",
	OpNeg:          "Neg",
	OpNot:          "Not",
	OpEq:           "Eq",
	OpNeq:          "Neq",
	OpLess:         "Less",
	OpLessU:        "LessU",
	OpLeq:          "Leq",
	OpLeqU:         "LeqU",
	OpGreater:      "Greater",
	OpGreaterU:     "GreaterU",
	OpGeq:          "Geq",
	OpGeqU:         "GeqU",
	OpExtendU:      "ExtendU",
	OpExtendS:      "ExtendS",
	OpLoad:         "Load",
	OpStore:        "Store",
	OpMove:         "Move",
	OpLocalAddr:    "LocalAddr",
	OpGlobalAddr:   "GlobalAddr",
	OpMetadataAddr: "MetadataAddr",
	OpAddPtr:       "AddPtr",
	OpOffPtr:       "OffPtr",
	OpStaticCall:   "StaticCall",
	OpCallIndirect: "CallIndirect",
	OpSelectN:      "SelectN",

	OpWasmI64Const:     "WasmI64Const",
	OpWasmF64Const:     "WasmF64Const",
	OpWasmI64Add:       "WasmI64Add",
	OpWasmI64Sub:       "WasmI64Sub",
	OpWasmI64Mul:       "WasmI64Mul",
	OpWasmI64DivS:      "WasmI64DivS",
	OpWasmI64DivU:      "WasmI64DivU",
	OpWasmI64RemS:      "WasmI64RemS",
	OpWasmI64RemU:      "WasmI64RemU",
	OpWasmI64And:       "WasmI64And",
	OpWasmI64Or:        "WasmI64Or",
	OpWasmI64Xor:       "WasmI64Xor",
	OpWasmI64Shl:       "WasmI64Shl",
	OpWasmI64ShrS:      "WasmI64ShrS",
	OpWasmI64ShrU:      "WasmI64ShrU",
	OpWasmI64Eq:        "WasmI64Eq",
	OpWasmI64Ne:        "WasmI64Ne",
	OpWasmI64LtS:       "WasmI64LtS",
	OpWasmI64LtU:       "WasmI64LtU",
	OpWasmI64LeS:       "WasmI64LeS",
	OpWasmI64LeU:       "WasmI64LeU",
	OpWasmI64GtS:       "WasmI64GtS",
	OpWasmI64GtU:       "WasmI64GtU",
	OpWasmI64GeS:       "WasmI64GeS",
	OpWasmI64GeU:       "WasmI64GeU",
	OpWasmI64Eqz:       "WasmI64Eqz",
	OpWasmF64Add:       "WasmF64Add",
	OpWasmF64Sub:       "WasmF64Sub",
	OpWasmF64Mul:       "WasmF64Mul",
	OpWasmF64Div:       "WasmF64Div",
	OpWasmF64Eq:        "WasmF64Eq",
	OpWasmF64Ne:        "WasmF64Ne",
	OpWasmF64Lt:        "WasmF64Lt",
	OpWasmF64Le:        "WasmF64Le",
	OpWasmF64Gt:        "WasmF64Gt",
	OpWasmF64Ge:        "WasmF64Ge",
	OpWasmF64Neg:       "WasmF64Neg",
	OpWasmI64Load:      "WasmI64Load",
	OpWasmI64Load8U:    "WasmI64Load8U",
	OpWasmI64Load8S:    "WasmI64Load8S",
	OpWasmI64Load16U:   "WasmI64Load16U",
	OpWasmI64Load16S:   "WasmI64Load16S",
	OpWasmI64Load32U:   "WasmI64Load32U",
	OpWasmI64Load32S:   "WasmI64Load32S",
	OpWasmF64Load:      "WasmF64Load",
	OpWasmI64Store:     "WasmI64Store",
	OpWasmI64Store8:    "WasmI64Store8",
	OpWasmI64Store16:   "WasmI64Store16",
	OpWasmI64Store32:   "WasmI64Store32",
	OpWasmF64Store:     "WasmF64Store",
	OpWasmCall:         "WasmCall",
	OpWasmCallIndirect: "WasmCallIndirect",
}

func (o Op) String() string {
	if s, ok := opNames[o]; ok {
		return s
	}
	return fmt.Sprintf("Op(%d)", int32(o))
}

// IsWasm reports whether the op is one of the sized wasm_* ops.
func (o Op) IsWasm() bool { return o > firstWasmOp && o < numOps }

// IsConst reports whether the op is a rematerializable constant: codegen
// re-emits these inline instead of spilling them to locals.
func (o Op) IsConst() bool {
	switch o {
	case OpConst64, OpConstF64, OpConstBool, OpConstLitPtr, OpWasmI64Const, OpWasmF64Const:
		return true
	}
	return false
}

// IsMemory reports whether the op reads or writes linear memory; the
// scheduler chains these to preserve program order.
func (o Op) IsMemory() bool {
	switch o {
	case OpLoad, OpStore, OpMove,
		OpWasmI64Load, OpWasmI64Load8U, OpWasmI64Load8S, OpWasmI64Load16U,
		OpWasmI64Load16S, OpWasmI64Load32U, OpWasmI64Load32S, OpWasmF64Load,
		OpWasmI64Store, OpWasmI64Store8, OpWasmI64Store16, OpWasmI64Store32,
		OpWasmF64Store:
		return true
	}
	return false
}

// IsStore reports whether the op writes linear memory.
func (o Op) IsStore() bool {
	switch o {
	case OpStore, OpMove, OpWasmI64Store, OpWasmI64Store8, OpWasmI64Store16,
		OpWasmI64Store32, OpWasmF64Store:
		return true
	}
	return false
}

// IsCall reports whether the op is a call; calls are memory barriers for
// scheduling. In codegen a call result gets a local only when it is
// non-void and has uses.
func (o Op) IsCall() bool {
	switch o {
	case OpStaticCall, OpCallIndirect, OpWasmCall, OpWasmCallIndirect:
		return true
	}
	return false
}
