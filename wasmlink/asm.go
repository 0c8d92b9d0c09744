package wasmlink

import "math"

// Wasm opcode bytes used by the emitter and the runtime bodies.
const (
	OpUnreachable  = 0x00
	OpNop          = 0x01
	OpBlock        = 0x02
	OpLoop         = 0x03
	OpIf           = 0x04
	OpElse         = 0x05
	OpEnd          = 0x0B
	OpBr           = 0x0C
	OpBrIf         = 0x0D
	OpReturn       = 0x0F
	OpCall         = 0x10
	OpCallIndirect = 0x11
	OpDrop         = 0x1A

	OpLocalGet  = 0x20
	OpLocalSet  = 0x21
	OpLocalTee  = 0x22
	OpGlobalGet = 0x23
	OpGlobalSet = 0x24

	OpI64Load    = 0x29
	OpF64Load    = 0x2B
	OpI64Load8S  = 0x30
	OpI64Load8U  = 0x31
	OpI64Load16S = 0x32
	OpI64Load16U = 0x33
	OpI64Load32S = 0x34
	OpI64Load32U = 0x35
	OpI64Store   = 0x37
	OpF64Store   = 0x39
	OpI64Store8  = 0x3C
	OpI64Store16 = 0x3D
	OpI64Store32 = 0x3E

	OpI32Const = 0x41
	OpI64Const = 0x42
	OpF64Const = 0x44

	OpI32Eqz = 0x45

	OpI64Eqz = 0x50
	OpI64Eq  = 0x51
	OpI64Ne  = 0x52
	OpI64LtS = 0x53
	OpI64LtU = 0x54
	OpI64GtS = 0x55
	OpI64GtU = 0x56
	OpI64LeS = 0x57
	OpI64LeU = 0x58
	OpI64GeS = 0x59
	OpI64GeU = 0x5A

	OpF64Eq = 0x61
	OpF64Ne = 0x62
	OpF64Lt = 0x63
	OpF64Gt = 0x64
	OpF64Le = 0x65
	OpF64Ge = 0x66

	OpI64Add  = 0x7C
	OpI64Sub  = 0x7D
	OpI64Mul  = 0x7E
	OpI64DivS = 0x7F
	OpI64DivU = 0x80
	OpI64RemS = 0x81
	OpI64RemU = 0x82
	OpI64And  = 0x83
	OpI64Or   = 0x84
	OpI64Xor  = 0x85
	OpI64Shl  = 0x86
	OpI64ShrS = 0x87
	OpI64ShrU = 0x88

	OpF64Neg = 0x9A
	OpF64Add = 0xA0
	OpF64Sub = 0xA1
	OpF64Mul = 0xA2
	OpF64Div = 0xA3

	OpI32WrapI64    = 0xA7
	OpI64ExtendI32S = 0xAC
	OpI64ExtendI32U = 0xAD

	OpPrefixFC = 0xFC // memory.copy / memory.fill
)

// Value type bytes.
const (
	ValI32     = 0x7F
	ValI64     = 0x7E
	ValF64     = 0x7C
	ValFuncref = 0x70
	BlockVoid  = 0x40
)

// Body assembles one function body: local declarations followed by the
// instruction stream. All scratch locals are i64; f64 slots are declared
// separately when requested.
type Body struct {
	buf       []byte
	numI64    uint32
	numF64    uint32
	numParams uint32
}

// NewBody starts a body for a function with the given parameter count.
func NewBody(numParams uint32) *Body {
	return &Body{numParams: numParams}
}

// AddI64Locals reserves n i64 locals and returns the index of the first.
func (b *Body) AddI64Locals(n uint32) uint32 {
	first := b.numParams + b.numI64
	b.numI64 += n
	return first
}

// AddF64Local reserves one f64 local and returns its index. F64 locals
// index after every i64 local.
func (b *Body) AddF64Local() uint32 {
	idx := b.numParams + b.numI64 + b.numF64
	b.numF64++
	return idx
}

func (b *Body) Op(ops ...byte) { b.buf = append(b.buf, ops...) }
func (b *Body) U32(v uint32)   { b.buf = AppendUint32(b.buf, v) }
func (b *Body) I64(v int64)    { b.buf = AppendInt64(b.buf, v) }

func (b *Body) I32Const(v int32) { b.Op(OpI32Const); b.buf = AppendInt32(b.buf, v) }
func (b *Body) I64Const(v int64) { b.Op(OpI64Const); b.buf = AppendInt64(b.buf, v) }

func (b *Body) F64Const(v float64) {
	b.Op(OpF64Const)
	bits := math.Float64bits(v)
	for i := 0; i < 8; i++ {
		b.buf = append(b.buf, byte(bits>>(8*i)))
	}
}

func (b *Body) LocalGet(i uint32)  { b.Op(OpLocalGet); b.U32(i) }
func (b *Body) LocalSet(i uint32)  { b.Op(OpLocalSet); b.U32(i) }
func (b *Body) LocalTee(i uint32)  { b.Op(OpLocalTee); b.U32(i) }
func (b *Body) GlobalGet(i uint32) { b.Op(OpGlobalGet); b.U32(i) }
func (b *Body) GlobalSet(i uint32) { b.Op(OpGlobalSet); b.U32(i) }

// Load emits a sized load; the address must already be an i32 on the
// stack. align is log2 of the natural alignment.
func (b *Body) Load(op byte, align, offset uint32) {
	b.Op(op)
	b.U32(align)
	b.U32(offset)
}

// Store is Load's mirror.
func (b *Body) Store(op byte, align, offset uint32) {
	b.Op(op)
	b.U32(align)
	b.U32(offset)
}

func (b *Body) Call(funcIdx uint32) { b.Op(OpCall); b.U32(funcIdx) }

// CallIndirect calls through table 0 with the given type.
func (b *Body) CallIndirect(typeIdx uint32) {
	b.Op(OpCallIndirect)
	b.U32(typeIdx)
	b.Op(0x00) // table index
}

func (b *Body) Block()        { b.Op(OpBlock, BlockVoid) }
func (b *Body) Loop()         { b.Op(OpLoop, BlockVoid) }
func (b *Body) If()           { b.Op(OpIf, BlockVoid) }
func (b *Body) Else()         { b.Op(OpElse) }
func (b *Body) End()          { b.Op(OpEnd) }
func (b *Body) Br(d uint32)   { b.Op(OpBr); b.U32(d) }
func (b *Body) BrIf(d uint32) { b.Op(OpBrIf); b.U32(d) }

// Wrap narrows the i64 on the stack to the i32 the memory instructions
// address with.
func (b *Body) Wrap() { b.Op(OpI32WrapI64) }

// ExtendU widens the i32 on the stack back to i64.
func (b *Body) ExtendU() { b.Op(OpI64ExtendI32U) }

// MemoryCopy emits memory.copy (dst, src, n i32s on the stack).
func (b *Body) MemoryCopy() { b.Op(OpPrefixFC); b.U32(10); b.Op(0x00, 0x00) }

// MemoryFill emits memory.fill (dst, val, n on the stack).
func (b *Body) MemoryFill() { b.Op(OpPrefixFC); b.U32(11); b.Op(0x00) }

// Finish returns the encoded body: the locals vector then the
// instructions, terminated by end.
func (b *Body) Finish() []byte {
	var out []byte
	groups := 0
	if b.numI64 > 0 {
		groups++
	}
	if b.numF64 > 0 {
		groups++
	}
	out = AppendUint32(out, uint32(groups))
	if b.numI64 > 0 {
		out = AppendUint32(out, b.numI64)
		out = append(out, ValI64)
	}
	if b.numF64 > 0 {
		out = AppendUint32(out, b.numF64)
		out = append(out, ValF64)
	}
	out = append(out, b.buf...)
	out = append(out, OpEnd)
	return out
}
