// Package wasmcodegen walks laid-out SSA blocks and emits Wasm bytecode:
// loop reconstruction for back edges, forward-branch scopes, phi moves on
// split edges, and value-to-local spilling with inline rematerialization
// of constants.
package wasmcodegen

import (
	"fmt"
	"sort"

	"github.com/cot-lang/cotc/diag"
	"github.com/cot-lang/cotc/ssa"
	"github.com/cot-lang/cotc/types"
	"github.com/cot-lang/cotc/wasmlink"
)

// Env resolves the link-time symbols the bytecode references.
type Env interface {
	FuncIndex(name string) uint32
	GlobalAddr(name string) int64
	MetadataAddr(name string) int64
	StringAddr(litIndex int64) int64
	SPGlobal() uint32
	TypeIndex(params, results int) uint32
}

// ABISlots returns the Wasm-level (param count, result count) of a
// function: string/slice params take two slots (ptr, len), ref
// aggregates pass as one pointer slot, and an aggregate result adds a
// hidden sret pointer slot in place of the declared result.
func ABISlots(reg *types.Registry, params []types.TypeIndex, result types.TypeIndex) (int, int) {
	sliceShaped := func(t types.TypeIndex) bool {
		k := reg.Info(t).Kind
		return k == types.KindString || k == types.KindSlice
	}
	refAggregate := func(t types.TypeIndex) bool {
		switch reg.Info(t).Kind {
		case types.KindStruct, types.KindUnion, types.KindOptional, types.KindErrorUnion:
			return true
		}
		return false
	}
	n := 0
	for _, p := range params {
		if sliceShaped(p) {
			n += 2
		} else {
			n++
		}
	}
	results := 1
	switch {
	case result == types.VOID:
		results = 0
	case sliceShaped(result), refAggregate(result), reg.Size(result) > ssa.MaxSSASize:
		n++ // sret pointer
		results = 0
	}
	return n, results
}

type scopeKind byte

const (
	scopeLoop scopeKind = iota
	scopeBlock
)

// scope is one open structured construct during emission. Loops span
// [start, closeAfter] and close after that block's terminator; blocks
// close just before their end block's code.
type scope struct {
	kind     scopeKind
	start    int
	end      int // block: layout pos whose start closes it; loop: pos whose terminator closes it
	headerID ssa.ID
}

type emitter struct {
	f   *ssa.Func
	env Env
	b   *wasmlink.Body

	layoutIdx []int
	headers   []bool

	// locals maps value IDs to their wasm local index; -1 means the
	// value is never spilled (constants, void, unused).
	locals []int32
	fp     int32 // frame-pointer local, -1 when frameless

	scopes []scope // static scope list
	open   []int   // indices into scopes, innermost last
}

// Emit produces the encoded body of one function.
func Emit(f *ssa.Func, env Env) ([]byte, error) {
	nparams, _ := ABISlots(f.Types, f.Params, f.Result)
	e := &emitter{f: f, env: env, b: wasmlink.NewBody(uint32(nparams))}
	e.layoutIdx = f.LayoutIndex()
	e.headers = f.LoopHeaders()
	if err := e.assignLocals(); err != nil {
		return nil, err
	}
	e.buildScopes()
	if err := e.emitFunc(); err != nil {
		return nil, err
	}
	body := e.b.Finish()
	if diag.Enabled(diag.PhaseCodegen) {
		diag.Logf(diag.PhaseCodegen, "emitted %s: %d blocks, %d bytes", f.Name, f.NumReachable, len(body))
	}
	return body, nil
}

// needsLocal reports whether a value is spilled to a wasm local.
func needsLocal(v *ssa.Value) bool {
	switch {
	case v.Op.IsConst():
		return false
	case v.Op == ssa.OpArg, v.Op == ssa.OpCopy:
		return false
	case v.Op == ssa.OpStringMake, v.Op == ssa.OpSliceMake:
		return false
	case v.Op == ssa.OpLocalAddr, v.Op == ssa.OpGlobalAddr, v.Op == ssa.OpMetadataAddr:
		return false // rematerialized at use
	case v.Op == ssa.OpPhi:
		return true // set by predecessors even when unread
	case v.Type == types.VOID:
		return false
	}
	return v.Uses > 0
}

// assignLocals gives every spilled value a local: i64 slots first, f64
// slots after, matching the body's locals vector.
func (e *emitter) assignLocals() error {
	e.locals = make([]int32, e.f.NumValues())
	for i := range e.locals {
		e.locals[i] = -1
	}
	var i64s, f64s []*ssa.Value
	for _, b := range e.f.Blocks[:e.f.NumReachable] {
		for _, v := range b.Values {
			if !needsLocal(v) {
				continue
			}
			if e.f.Types.Info(v.Type).Kind == types.KindFloat {
				f64s = append(f64s, v)
			} else {
				i64s = append(i64s, v)
			}
		}
	}
	e.fp = -1
	n := uint32(len(i64s))
	if e.f.FrameSize > 0 {
		n++
	}
	first := e.b.AddI64Locals(n)
	idx := first
	for _, v := range i64s {
		e.locals[v.ID] = int32(idx)
		idx++
	}
	if e.f.FrameSize > 0 {
		e.fp = int32(idx)
	}
	for _, v := range f64s {
		e.locals[v.ID] = int32(e.b.AddF64Local())
	}
	return nil
}

// buildScopes computes the loop and forward-branch scopes. Loop scopes
// run from the header to the last back-edge predecessor; every
// non-fallthrough forward branch target gets a block scope widened until
// the scope set nests.
func (e *emitter) buildScopes() {
	reach := e.f.Blocks[:e.f.NumReachable]

	// Loops.
	for _, b := range reach {
		if !e.headers[b.ID] {
			continue
		}
		h := e.layoutIdx[b.ID]
		closePos := h
		for _, p := range b.Preds {
			if pp := e.layoutIdx[p.Block().ID]; pp >= h && pp > closePos {
				closePos = pp
			}
		}
		e.scopes = append(e.scopes, scope{kind: scopeLoop, start: h, end: closePos, headerID: b.ID})
	}

	// Forward-branch targets.
	starts := map[int]int{} // target pos -> min source pos
	for _, b := range reach {
		p := e.layoutIdx[b.ID]
		for _, s := range b.Succs {
			t := e.layoutIdx[s.Block().ID]
			if t <= p || t == p+1 {
				continue // back edge or fallthrough
			}
			if cur, ok := starts[t]; !ok || p < cur {
				starts[t] = p
			}
		}
	}
	for t, s := range starts {
		e.scopes = append(e.scopes, scope{kind: scopeBlock, start: s, end: t})
	}

	// Widen block starts until every pair nests: a block overlapping a
	// loop or another block from inside extends to that scope's start.
	for changed := true; changed; {
		changed = false
		for i := range e.scopes {
			a := &e.scopes[i]
			if a.kind != scopeBlock {
				continue
			}
			for j := range e.scopes {
				if i == j {
					continue
				}
				o := &e.scopes[j]
				oEnd := o.end
				if o.kind == scopeLoop {
					// A loop's scope covers through its close block.
					if a.start > o.start && a.start <= oEnd && a.end > oEnd {
						a.start = o.start
						changed = true
					}
					continue
				}
				if a.start > o.start && a.start < oEnd && a.end > oEnd {
					a.start = o.start
					changed = true
				}
			}
		}
	}
}

// scopesStartingAt returns the scopes opening at pos, outermost first
// (the one reaching farthest opens first; loops open after blocks that
// outlive them).
func (e *emitter) scopesStartingAt(pos int) []int {
	var out []int
	for i, s := range e.scopes {
		if s.start == pos {
			out = append(out, i)
		}
	}
	sort.Slice(out, func(x, y int) bool {
		a, b := e.scopes[out[x]], e.scopes[out[y]]
		if a.end != b.end {
			return a.end > b.end
		}
		// Same end: the block closes before the loop's terminator, so
		// the block is outer.
		return a.kind == scopeBlock && b.kind == scopeLoop
	})
	return out
}

// brDepth returns the label depth of the open scope si.
func (e *emitter) brDepth(si int) uint32 {
	for i := len(e.open) - 1; i >= 0; i-- {
		if e.open[i] == si {
			return uint32(len(e.open) - 1 - i)
		}
	}
	panic(fmt.Sprintf("BUG: scope %d not open", si))
}

// loopScope finds the open loop scope for a header block.
func (e *emitter) loopScope(headerID ssa.ID) int {
	for i, s := range e.scopes {
		if s.kind == scopeLoop && s.headerID == headerID {
			return i
		}
	}
	panic("BUG: no loop scope for header")
}

// blockScope finds the block scope ending at layout position t.
func (e *emitter) blockScope(t int) int {
	for i, s := range e.scopes {
		if s.kind == scopeBlock && s.end == t {
			return i
		}
	}
	panic(fmt.Sprintf("BUG: no block scope ending at %d", t))
}

func (e *emitter) emitFunc() error {
	// Prologue: carve the frame out of the shadow stack.
	if e.fp >= 0 {
		sp := e.env.SPGlobal()
		e.b.GlobalGet(sp)
		e.b.I64Const(int64(e.f.FrameSize))
		e.b.Op(wasmlink.OpI64Sub)
		e.b.LocalTee(uint32(e.fp))
		e.b.GlobalSet(sp)
	}

	reach := e.f.Blocks[:e.f.NumReachable]
	for pos, blk := range reach {
		// Close the forward scopes targeting this block.
		for i := len(e.open) - 1; i >= 0; i-- {
			s := e.scopes[e.open[i]]
			if s.kind == scopeBlock && s.end == pos {
				e.b.End()
				e.open = e.open[:i]
			} else {
				break
			}
		}
		// Open scopes that begin here.
		for _, si := range e.scopesStartingAt(pos) {
			if e.scopes[si].kind == scopeLoop {
				e.b.Loop()
			} else {
				e.b.Block()
			}
			e.open = append(e.open, si)
		}

		for _, v := range blk.Values {
			if err := e.emitValue(v); err != nil {
				return err
			}
		}
		if err := e.emitTerminator(pos, blk); err != nil {
			return err
		}

		// Close loops whose last back edge just emitted.
		for i := len(e.open) - 1; i >= 0; i-- {
			s := e.scopes[e.open[i]]
			if s.kind == scopeLoop && s.end == pos {
				e.b.End()
				e.open = e.open[:i]
			} else {
				break
			}
		}
	}
	return nil
}

// emitPhiMoves stages the successor's phi inputs: all values pushed,
// then popped into the phi locals in reverse, so a phi reading another
// phi's pre-move value stays correct.
func (e *emitter) emitPhiMoves(b *ssa.Block) error {
	succ := b.Succs[0].Block()
	slot := b.Succs[0].Index()
	var phis []*ssa.Value
	for _, v := range succ.Values {
		if v.Op != ssa.OpPhi {
			break
		}
		phis = append(phis, v)
	}
	for _, phi := range phis {
		if err := e.push(phi.Args[slot]); err != nil {
			return err
		}
	}
	for i := len(phis) - 1; i >= 0; i-- {
		e.b.LocalSet(uint32(e.locals[phis[i].ID]))
	}
	return nil
}

func (e *emitter) emitTerminator(pos int, b *ssa.Block) error {
	next := pos + 1
	switch b.Kind {
	case ssa.BlockPlain, ssa.BlockFirst:
		if len(b.Succs) == 0 {
			return nil
		}
		if err := e.emitPhiMoves(b); err != nil {
			return err
		}
		t := b.Succs[0].Block()
		tp := e.layoutIdx[t.ID]
		switch {
		case tp == next:
			// fallthrough
		case tp <= pos:
			e.b.Br(e.brDepth(e.loopScope(t.ID)))
		default:
			e.b.Br(e.brDepth(e.blockScope(tp)))
		}
		return nil

	case ssa.BlockIf:
		cond := b.Controls[0]
		t0 := e.layoutIdx[b.Succs[0].Block().ID]
		t1 := e.layoutIdx[b.Succs[1].Block().ID]
		brTo := func(tp int, hdr ssa.ID) uint32 {
			if tp <= pos {
				return e.brDepth(e.loopScope(hdr))
			}
			return e.brDepth(e.blockScope(tp))
		}
		switch {
		case t0 == next:
			// Inverted condition falls through to the then arm.
			if err := e.push(cond); err != nil {
				return err
			}
			e.b.Wrap()
			e.b.Op(wasmlink.OpI32Eqz)
			e.b.BrIf(brTo(t1, b.Succs[1].Block().ID))
		case t1 == next:
			if err := e.push(cond); err != nil {
				return err
			}
			e.b.Wrap()
			e.b.BrIf(brTo(t0, b.Succs[0].Block().ID))
		default:
			if err := e.push(cond); err != nil {
				return err
			}
			e.b.Wrap()
			e.b.BrIf(brTo(t0, b.Succs[0].Block().ID))
			e.b.Br(brTo(t1, b.Succs[1].Block().ID))
		}
		return nil

	case ssa.BlockRet:
		if e.fp >= 0 {
			sp := e.env.SPGlobal()
			e.b.GlobalGet(sp)
			e.b.I64Const(int64(e.f.FrameSize))
			e.b.Op(wasmlink.OpI64Add)
			e.b.GlobalSet(sp)
		}
		if b.Controls[0] != nil {
			if err := e.push(b.Controls[0]); err != nil {
				return err
			}
		}
		e.b.Op(wasmlink.OpReturn)
		return nil

	case ssa.BlockExit:
		e.b.Op(wasmlink.OpUnreachable)
		return nil
	}
	return diag.Internalf("codegen", "unhandled block kind %s", b.Kind)
}
