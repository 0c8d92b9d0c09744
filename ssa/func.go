// Package ssa implements the SSA middle-end: construction from IR,
// the rewrite/decompose/expand passes, scheduling, block layout and the
// lowering to sized wasm ops consumed by the bytecode emitter.
package ssa

import (
	"fmt"
	"strings"

	"github.com/cot-lang/cotc/ir"
	"github.com/cot-lang/cotc/types"
)

// MaxSSASize is the largest type, in bytes, an SSA value may carry after
// decomposition. Strings fit via two 8-byte values joined by StringMake.
const MaxSSASize = 16

// LocalSlot is one stack-frame slot for a memory-backed local.
type LocalSlot struct {
	Size   uint32
	Offset uint32 // assigned by the builder; frame-pointer relative
	Type   types.TypeIndex
}

// Func is one function in SSA form.
type Func struct {
	Name   string
	Types  *types.Registry
	Params []types.TypeIndex
	Result types.TypeIndex

	Entry  *Block
	Blocks []*Block
	// NumReachable is the length of the reachable prefix of Blocks after
	// layout; the codegen emits only that prefix.
	NumReachable int

	// LocalSlots are the memory-backed locals (composites, address-taken
	// scalars), laid out into the shadow-stack frame by the builder.
	LocalSlots []LocalSlot
	FrameSize  uint32

	// Strings interns string literals for the whole module; shared across
	// the module's functions so data-segment offsets are stable.
	Strings *StringTable

	bid ID
	vid ID

	freeValues *Value
	freeBlocks *Block

	constants map[constKey]*Value

	cachedPostorder []*Block
	cachedIdom      []*Block

	// RegAlloc is populated only on the native path; indexed by value ID.
	RegAlloc []int32
}

type constKey struct {
	val int64
	typ types.TypeIndex
}

// NewFunc returns an empty Func against the given registry and string
// table.
func NewFunc(name string, reg *types.Registry, strings *StringTable) *Func {
	return &Func{
		Name:      name,
		Types:     reg,
		Strings:   strings,
		constants: make(map[constKey]*Value),
	}
}

// NumValues returns an upper bound on value IDs in use.
func (f *Func) NumValues() int { return int(f.vid) }

// NumBlocks returns an upper bound on block IDs in use.
func (f *Func) NumBlocks() int { return int(f.bid) }

// NewBlock allocates a block of the given kind, reusing a freed block if
// one is available.
func (f *Func) NewBlock(kind BlockKind) *Block {
	var b *Block
	if f.freeBlocks != nil {
		b = f.freeBlocks
		f.freeBlocks = b.nextFree
		b.nextFree = nil
	} else {
		b = &Block{ID: f.bid}
		f.bid++
	}
	b.Kind = kind
	b.Func = f
	f.Blocks = append(f.Blocks, b)
	f.invalidateCFG()
	return b
}

func (f *Func) newValueInto(b *Block, op Op, t types.TypeIndex, pos ir.Span) *Value {
	var v *Value
	if f.freeValues != nil {
		v = f.freeValues
		f.freeValues = v.nextFree
		v.nextFree = nil
		v.reset(op)
	} else {
		v = &Value{ID: f.vid}
		v.Args = v.argstorage[:0]
		v.Op = op
		f.vid++
	}
	v.Type = t
	v.Pos = pos
	v.Block = b
	v.Uses = 0
	b.Values = append(b.Values, v)
	return v
}

// NewValue0 creates a value with no operands in block b.
func (f *Func) NewValue0(b *Block, op Op, t types.TypeIndex, pos ir.Span) *Value {
	return f.newValueInto(b, op, t, pos)
}

// NewValue1 creates a value with one operand.
func (f *Func) NewValue1(b *Block, op Op, t types.TypeIndex, pos ir.Span, a *Value) *Value {
	v := f.newValueInto(b, op, t, pos)
	v.AddArg(a)
	return v
}

// NewValue2 creates a value with two operands.
func (f *Func) NewValue2(b *Block, op Op, t types.TypeIndex, pos ir.Span, a0, a1 *Value) *Value {
	v := f.newValueInto(b, op, t, pos)
	v.AddArg(a0)
	v.AddArg(a1)
	return v
}

// NewValue3 creates a value with three operands.
func (f *Func) NewValue3(b *Block, op Op, t types.TypeIndex, pos ir.Span, a0, a1, a2 *Value) *Value {
	v := f.newValueInto(b, op, t, pos)
	v.AddArg(a0)
	v.AddArg(a1)
	v.AddArg(a2)
	return v
}

// ConstInt returns the CSE'd integer constant of the given value and type
// in the entry block.
func (f *Func) ConstInt(val int64, t types.TypeIndex) *Value {
	k := constKey{val, t}
	if v, ok := f.constants[k]; ok {
		return v
	}
	v := f.newValueInto(f.Entry, OpConst64, t, ir.Span{})
	v.AuxInt = val
	f.constants[k] = v
	return v
}

// FreeValue returns v to the free list. v must have no remaining uses.
func (f *Func) FreeValue(v *Value) {
	if v.Uses != 0 {
		panic(fmt.Sprintf("BUG: freeing v%d with %d uses", v.ID, v.Uses))
	}
	if v.Op == OpConst64 {
		delete(f.constants, constKey{v.AuxInt, v.Type})
	}
	v.resetArgs()
	v.Op = OpInvalid
	v.Block = nil
	v.nextFree = f.freeValues
	f.freeValues = v
}

// freeBlock returns b to the free list. It must already be unlinked from
// f.Blocks and carry no values or edges.
func (f *Func) freeBlock(b *Block) {
	b.Kind = BlockInvalid
	b.Values = nil
	b.Preds = nil
	b.Succs = nil
	b.resetControls()
	b.Func = nil
	b.nextFree = f.freeBlocks
	f.freeBlocks = b
}

// removeValue unlinks v from its block's value list without freeing it.
func (b *Block) removeValue(v *Value) {
	for i, w := range b.Values {
		if w == v {
			b.Values = append(b.Values[:i], b.Values[i+1:]...)
			return
		}
	}
}

// invalidateCFG drops the cached postorder and dominator tree.
func (f *Func) invalidateCFG() {
	f.cachedPostorder = nil
	f.cachedIdom = nil
}

// Postorder returns (and caches) the blocks in postorder from the entry.
func (f *Func) Postorder() []*Block {
	if f.cachedPostorder != nil {
		return f.cachedPostorder
	}
	mark := make([]bool, f.bid)
	var order []*Block
	var walk func(b *Block)
	walk = func(b *Block) {
		mark[b.ID] = true
		// Successors walk in reverse so the reverse postorder visits
		// succ 0 (the fallthrough arm) first.
		for i := len(b.Succs) - 1; i >= 0; i-- {
			e := b.Succs[i]
			if !mark[e.b.ID] {
				walk(e.b)
			}
		}
		order = append(order, b)
	}
	if f.Entry != nil {
		walk(f.Entry)
	}
	f.cachedPostorder = order
	return order
}

// Idom returns (and caches) the immediate dominator of each block,
// indexed by block ID, using the simple iterative algorithm over the
// reverse postorder.
func (f *Func) Idom() []*Block {
	if f.cachedIdom != nil {
		return f.cachedIdom
	}
	po := f.Postorder()
	n := len(po)
	rpoNum := make([]int, f.bid)
	for i, b := range po {
		rpoNum[b.ID] = n - 1 - i
	}
	idom := make([]*Block, f.bid)
	idom[f.Entry.ID] = f.Entry
	changed := true
	for changed {
		changed = false
		for i := n - 1; i >= 0; i-- {
			b := po[i]
			if b == f.Entry {
				continue
			}
			var newIdom *Block
			for _, e := range b.Preds {
				p := e.b
				if idom[p.ID] == nil {
					continue
				}
				if newIdom == nil {
					newIdom = p
					continue
				}
				// Intersect along the dominator tree.
				x, y := p, newIdom
				for x != y {
					for rpoNum[x.ID] > rpoNum[y.ID] {
						x = idom[x.ID]
					}
					for rpoNum[y.ID] > rpoNum[x.ID] {
						y = idom[y.ID]
					}
				}
				newIdom = x
			}
			if newIdom != nil && idom[b.ID] != newIdom {
				idom[b.ID] = newIdom
				changed = true
			}
		}
	}
	f.cachedIdom = idom
	return idom
}

// AddLocalSlot appends a frame slot and returns its index. The builder
// assigns offsets once all slots are known.
func (f *Func) AddLocalSlot(size uint32, t types.TypeIndex) int {
	f.LocalSlots = append(f.LocalSlots, LocalSlot{Size: size, Type: t})
	return len(f.LocalSlots) - 1
}

// layoutFrame assigns 8-byte-aligned offsets to every local slot and
// records the total frame size.
func (f *Func) layoutFrame() {
	var off uint32
	for i := range f.LocalSlots {
		f.LocalSlots[i].Offset = off
		sz := f.LocalSlots[i].Size
		if sz%8 != 0 {
			sz += 8 - sz%8
		}
		off += sz
	}
	f.FrameSize = off
}

// Format renders the whole function for golden tests and COT_DEBUG=ssa.
func (f *Func) Format() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "func %s\n", f.Name)
	for _, b := range f.Blocks {
		sb.WriteString(b.LongString())
	}
	return sb.String()
}
