package ir

import (
	"fmt"

	"github.com/cot-lang/cotc/types"
)

// Func is one function's IR graph: NodeIndex-addressed nodes grouped into
// Blocks, plus the function's Locals.
type Func struct {
	Name   string
	Params []types.TypeIndex
	Result types.TypeIndex

	nodes  Pool[Node]
	blocks []*Block
	Locals []LocalInfo
}

// FuncBuilder exposes emitXxx(args…, type, span) → NodeIndex operations and
// tracks the current block and local map.
type FuncBuilder struct {
	F       *Func
	current *Block
}

// NewFuncBuilder starts a fresh Func named name.
func NewFuncBuilder(name string, params []types.TypeIndex, result types.TypeIndex) *FuncBuilder {
	f := &Func{Name: name, Params: params, Result: result, nodes: NewPool[Node]()}
	fb := &FuncBuilder{F: f}
	return fb
}

// Block returns the i-th block.
func (f *Func) Block(id BlockID) *Block { return f.blocks[id] }

// NumBlocks returns the number of blocks created so far.
func (f *Func) NumBlocks() int { return len(f.blocks) }

// Node returns the node at idx.
func (f *Func) Node(idx NodeIndex) *Node { return f.nodes.View(int(idx)) }

// AllocLocal reserves a new local slot of the given size/type and returns
// its index.
func (f *Func) AllocLocal(size uint32, typ types.TypeIndex) Local {
	f.Locals = append(f.Locals, LocalInfo{Size: size, Type: typ})
	return Local(len(f.Locals) - 1)
}

// NewBlock allocates a new, empty Block and returns its ID. It does not
// become the current block until SetCurrent is called.
func (fb *FuncBuilder) NewBlock() BlockID {
	id := BlockID(len(fb.F.blocks))
	b := &Block{id: id}
	fb.F.blocks = append(fb.F.blocks, b)
	return id
}

// SetCurrent sets the insertion point.
func (fb *FuncBuilder) SetCurrent(id BlockID) {
	fb.current = fb.F.blocks[id]
}

// Current returns the block currently receiving emitted nodes.
func (fb *FuncBuilder) Current() BlockID {
	return fb.current.id
}

// AddPred records that `from` is a predecessor of `to`. The Lowerer calls
// this whenever it materializes a jump or branch target.
func (fb *FuncBuilder) AddPred(to, from BlockID) {
	fb.F.blocks[to].Preds = append(fb.F.blocks[to].Preds, from)
}

func (fb *FuncBuilder) emit(n Node) NodeIndex {
	ptr := fb.F.nodes.Allocate()
	*ptr = n
	idx := NodeIndex(fb.F.nodes.Allocated() - 1)
	ptr.id = idx
	ptr.block = fb.current
	fb.current.append(idx)
	return idx
}

// --- constants ---

func (fb *FuncBuilder) EmitConstInt(v int64, t types.TypeIndex, span Span) NodeIndex {
	return fb.emit(Node{Op: OpConstInt, Type: t, AuxInt: v, Span: span})
}

func (fb *FuncBuilder) EmitConstFloat(v float64, t types.TypeIndex, span Span) NodeIndex {
	return fb.emit(Node{Op: OpConstFloat, Type: t, AuxFloat: v, Span: span})
}

func (fb *FuncBuilder) EmitConstBool(v bool, t types.TypeIndex, span Span) NodeIndex {
	return fb.emit(Node{Op: OpConstBool, Type: t, AuxBool: v, Span: span})
}

func (fb *FuncBuilder) EmitConstString(v string, t types.TypeIndex, span Span) NodeIndex {
	return fb.emit(Node{Op: OpConstString, Type: t, AuxString: v, Span: span})
}

// --- arithmetic / compare ---

func (fb *FuncBuilder) EmitBinary(op Op, x, y NodeIndex, t types.TypeIndex, span Span) NodeIndex {
	return fb.emit(Node{Op: op, Type: t, Args: []NodeIndex{x, y}, Span: span})
}

func (fb *FuncBuilder) EmitUnary(op Op, x NodeIndex, t types.TypeIndex, span Span) NodeIndex {
	return fb.emit(Node{Op: op, Type: t, Args: []NodeIndex{x}, Span: span})
}

func (fb *FuncBuilder) EmitExtend(signed bool, x NodeIndex, t types.TypeIndex, span Span) NodeIndex {
	op := OpExtendU
	if signed {
		op = OpExtendS
	}
	return fb.emit(Node{Op: op, Type: t, Args: []NodeIndex{x}, Span: span})
}

// --- locals / args / globals / pointers ---

func (fb *FuncBuilder) EmitArg(slot int, t types.TypeIndex, span Span) NodeIndex {
	return fb.emit(Node{Op: OpArg, Type: t, AuxInt: int64(slot), Span: span})
}

func (fb *FuncBuilder) EmitLoadLocal(l Local, t types.TypeIndex, span Span) NodeIndex {
	return fb.emit(Node{Op: OpLoadLocal, Type: t, AuxInt: int64(l), Span: span})
}

func (fb *FuncBuilder) EmitStoreLocal(l Local, v NodeIndex, span Span) NodeIndex {
	return fb.emit(Node{Op: OpStoreLocal, Type: types.VOID, AuxInt: int64(l), Args: []NodeIndex{v}, Span: span})
}

func (fb *FuncBuilder) EmitStoreLocalField(l Local, offset uint32, v NodeIndex, span Span) NodeIndex {
	return fb.emit(Node{Op: OpStoreLocalField, Type: types.VOID, AuxInt: int64(l), AuxInt2: int64(offset), Args: []NodeIndex{v}, Span: span})
}

func (fb *FuncBuilder) EmitLocalAddr(l Local, t types.TypeIndex, span Span) NodeIndex {
	return fb.emit(Node{Op: OpLocalAddr, Type: t, AuxInt: int64(l), Span: span})
}

func (fb *FuncBuilder) EmitGlobalAddr(name string, t types.TypeIndex, span Span) NodeIndex {
	return fb.emit(Node{Op: OpGlobalAddr, Type: t, AuxString: name, Span: span})
}

func (fb *FuncBuilder) EmitPtrLoad(ptr NodeIndex, t types.TypeIndex, span Span) NodeIndex {
	return fb.emit(Node{Op: OpPtrLoad, Type: t, Args: []NodeIndex{ptr}, Span: span})
}

func (fb *FuncBuilder) EmitPtrStore(ptr, v NodeIndex, span Span) NodeIndex {
	return fb.emit(Node{Op: OpPtrStore, Type: types.VOID, Args: []NodeIndex{ptr, v}, Span: span})
}

func (fb *FuncBuilder) EmitAddPtr(ptr NodeIndex, byteOffset int64, t types.TypeIndex, span Span) NodeIndex {
	return fb.emit(Node{Op: OpAddPtr, Type: t, AuxInt: byteOffset, Args: []NodeIndex{ptr}, Span: span})
}

// --- field / index / slice ---

func (fb *FuncBuilder) EmitFieldLoad(x NodeIndex, offset uint32, t types.TypeIndex, span Span) NodeIndex {
	return fb.emit(Node{Op: OpFieldLoad, Type: t, AuxInt: int64(offset), Args: []NodeIndex{x}, Span: span})
}

func (fb *FuncBuilder) EmitFieldAddr(x NodeIndex, offset uint32, t types.TypeIndex, span Span) NodeIndex {
	return fb.emit(Node{Op: OpFieldAddr, Type: t, AuxInt: int64(offset), Args: []NodeIndex{x}, Span: span})
}

func (fb *FuncBuilder) EmitIndexLoad(x, idx NodeIndex, t types.TypeIndex, span Span) NodeIndex {
	return fb.emit(Node{Op: OpIndexLoad, Type: t, Args: []NodeIndex{x, idx}, Span: span})
}

func (fb *FuncBuilder) EmitIndexAddr(x, idx NodeIndex, t types.TypeIndex, span Span) NodeIndex {
	return fb.emit(Node{Op: OpIndexAddr, Type: t, Args: []NodeIndex{x, idx}, Span: span})
}

func (fb *FuncBuilder) EmitSliceExpr(x, lo, hi NodeIndex, t types.TypeIndex, span Span) NodeIndex {
	return fb.emit(Node{Op: OpSliceExpr, Type: t, Args: []NodeIndex{x, lo, hi}, Span: span})
}

// --- calls ---

func (fb *FuncBuilder) EmitCall(callee string, args []NodeIndex, t types.TypeIndex, span Span) NodeIndex {
	return fb.emit(Node{Op: OpCall, Type: t, AuxString: callee, Args: args, Span: span})
}

func (fb *FuncBuilder) EmitCallIndirect(tableIdx NodeIndex, args []NodeIndex, t types.TypeIndex, span Span) NodeIndex {
	all := append([]NodeIndex{tableIdx}, args...)
	return fb.emit(Node{Op: OpCallIndirect, Type: t, Args: all, Span: span})
}

// --- ARC / heap ---

func (fb *FuncBuilder) EmitTypeMetadata(typeName string, span Span) NodeIndex {
	return fb.emit(Node{Op: OpTypeMetadata, Type: types.I64, AuxString: typeName, Span: span})
}

func (fb *FuncBuilder) EmitAlloc(metadataPtr, size NodeIndex, t types.TypeIndex, span Span) NodeIndex {
	return fb.emit(Node{Op: OpAlloc, Type: t, Args: []NodeIndex{metadataPtr, size}, Span: span})
}

func (fb *FuncBuilder) EmitRetain(obj NodeIndex, t types.TypeIndex, span Span) NodeIndex {
	return fb.emit(Node{Op: OpRetain, Type: t, Args: []NodeIndex{obj}, Span: span})
}

func (fb *FuncBuilder) EmitRelease(obj NodeIndex, span Span) NodeIndex {
	return fb.emit(Node{Op: OpRelease, Type: types.VOID, Args: []NodeIndex{obj}, Span: span})
}

// --- list / map / string / union / optional / error-union ---

func (fb *FuncBuilder) EmitListMake(elemCount int, t types.TypeIndex, span Span) NodeIndex {
	return fb.emit(Node{Op: OpListMake, Type: t, AuxInt: int64(elemCount), Span: span})
}

func (fb *FuncBuilder) EmitListAppend(list, v NodeIndex, span Span) NodeIndex {
	return fb.emit(Node{Op: OpListAppend, Type: types.VOID, Args: []NodeIndex{list, v}, Span: span})
}

func (fb *FuncBuilder) EmitListLen(list NodeIndex, span Span) NodeIndex {
	return fb.emit(Node{Op: OpListLen, Type: types.I64, Args: []NodeIndex{list}, Span: span})
}

func (fb *FuncBuilder) EmitListGet(list, idx NodeIndex, t types.TypeIndex, span Span) NodeIndex {
	return fb.emit(Node{Op: OpListGet, Type: t, Args: []NodeIndex{list, idx}, Span: span})
}

func (fb *FuncBuilder) EmitListSet(list, idx, v NodeIndex, span Span) NodeIndex {
	return fb.emit(Node{Op: OpListSet, Type: types.VOID, Args: []NodeIndex{list, idx, v}, Span: span})
}

func (fb *FuncBuilder) EmitMapMake(t types.TypeIndex, span Span) NodeIndex {
	return fb.emit(Node{Op: OpMapMake, Type: t, Span: span})
}

func (fb *FuncBuilder) EmitMapGet(m, key NodeIndex, t types.TypeIndex, span Span) NodeIndex {
	return fb.emit(Node{Op: OpMapGet, Type: t, Args: []NodeIndex{m, key}, Span: span})
}

func (fb *FuncBuilder) EmitMapSet(m, key, v NodeIndex, span Span) NodeIndex {
	return fb.emit(Node{Op: OpMapSet, Type: types.VOID, Args: []NodeIndex{m, key, v}, Span: span})
}

func (fb *FuncBuilder) EmitMapHas(m, key NodeIndex, span Span) NodeIndex {
	return fb.emit(Node{Op: OpMapHas, Type: types.BOOL, Args: []NodeIndex{m, key}, Span: span})
}

func (fb *FuncBuilder) EmitStringConcat(a, b NodeIndex, span Span) NodeIndex {
	return fb.emit(Node{Op: OpStringConcat, Type: types.STRING, Args: []NodeIndex{a, b}, Span: span})
}

func (fb *FuncBuilder) EmitStringLen(s NodeIndex, span Span) NodeIndex {
	return fb.emit(Node{Op: OpStringLen, Type: types.I64, Args: []NodeIndex{s}, Span: span})
}

func (fb *FuncBuilder) EmitStringEq(a, b NodeIndex, span Span) NodeIndex {
	return fb.emit(Node{Op: OpStringEq, Type: types.BOOL, Args: []NodeIndex{a, b}, Span: span})
}

func (fb *FuncBuilder) EmitUnionMake(unionType types.TypeIndex, variant int64, payload NodeIndex, span Span) NodeIndex {
	var args []NodeIndex
	if payload != NodeIndexInvalid {
		args = []NodeIndex{payload}
	}
	return fb.emit(Node{Op: OpUnionMake, Type: unionType, AuxInt: variant, Args: args, Span: span})
}

func (fb *FuncBuilder) EmitUnionTag(u NodeIndex, span Span) NodeIndex {
	return fb.emit(Node{Op: OpUnionTag, Type: types.U32, Args: []NodeIndex{u}, Span: span})
}

func (fb *FuncBuilder) EmitUnionPayload(u NodeIndex, t types.TypeIndex, span Span) NodeIndex {
	return fb.emit(Node{Op: OpUnionPayload, Type: t, Args: []NodeIndex{u}, Span: span})
}

func (fb *FuncBuilder) EmitOptionalMake(hasValue, value NodeIndex, t types.TypeIndex, span Span) NodeIndex {
	var args []NodeIndex
	if value != NodeIndexInvalid {
		args = []NodeIndex{hasValue, value}
	} else {
		args = []NodeIndex{hasValue}
	}
	return fb.emit(Node{Op: OpOptionalMake, Type: t, Args: args, Span: span})
}

func (fb *FuncBuilder) EmitOptionalHasValue(o NodeIndex, span Span) NodeIndex {
	return fb.emit(Node{Op: OpOptionalHasValue, Type: types.BOOL, Args: []NodeIndex{o}, Span: span})
}

func (fb *FuncBuilder) EmitOptionalUnwrap(o NodeIndex, t types.TypeIndex, span Span) NodeIndex {
	return fb.emit(Node{Op: OpOptionalUnwrap, Type: t, Args: []NodeIndex{o}, Span: span})
}

func (fb *FuncBuilder) EmitErrUnionMakeOk(v NodeIndex, t types.TypeIndex, span Span) NodeIndex {
	return fb.emit(Node{Op: OpErrUnionMakeOk, Type: t, Args: []NodeIndex{v}, Span: span})
}

func (fb *FuncBuilder) EmitErrUnionMakeErr(tag int64, t types.TypeIndex, span Span) NodeIndex {
	return fb.emit(Node{Op: OpErrUnionMakeErr, Type: t, AuxInt: tag, Span: span})
}

func (fb *FuncBuilder) EmitErrUnionIsErr(v NodeIndex, span Span) NodeIndex {
	return fb.emit(Node{Op: OpErrUnionIsErr, Type: types.BOOL, Args: []NodeIndex{v}, Span: span})
}

func (fb *FuncBuilder) EmitErrUnionUnwrap(v NodeIndex, t types.TypeIndex, span Span) NodeIndex {
	return fb.emit(Node{Op: OpErrUnionUnwrap, Type: t, Args: []NodeIndex{v}, Span: span})
}

// --- terminators ---

func (fb *FuncBuilder) SetJump(target BlockID) {
	b := fb.current
	b.term = TermJump
	b.Targets = []BlockID{target}
}

func (fb *FuncBuilder) SetBranch(cond NodeIndex, thenB, elseB BlockID) {
	b := fb.current
	b.term = TermBranch
	b.Cond = cond
	b.Targets = []BlockID{thenB, elseB}
}

func (fb *FuncBuilder) SetReturn(v NodeIndex) {
	b := fb.current
	b.term = TermReturn
	b.ReturnValue = v
}

func (f *Func) String() string {
	s := fmt.Sprintf("func %s\n", f.Name)
	for _, b := range f.blocks {
		s += fmt.Sprintf(" block%d:\n", b.id)
		for _, idx := range b.nodes {
			s += "  " + f.Node(idx).String() + "\n"
		}
		switch b.term {
		case TermJump:
			s += fmt.Sprintf("  jump block%d\n", b.Targets[0])
		case TermBranch:
			s += fmt.Sprintf("  branch n%d ? block%d : block%d\n", b.Cond, b.Targets[0], b.Targets[1])
		case TermReturn:
			s += "  return\n"
		}
	}
	return s
}
