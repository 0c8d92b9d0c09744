package ssa

import (
	"fmt"

	"github.com/cot-lang/cotc/diag"
	"github.com/cot-lang/cotc/ir"
	"github.com/cot-lang/cotc/types"
)

// BuildErrorKind distinguishes the builder's failure modes.
type BuildErrorKind byte

const (
	ErrMissingValue BuildErrorKind = iota
	ErrNoCurrentBlock
	ErrUnsupportedOp
)

// BuildError is a fatal SSA-construction failure; it indicates a frontend
// invariant violation, not a user error.
type BuildError struct {
	Kind BuildErrorKind
	Func string
	Msg  string
}

func (e *BuildError) Error() string {
	kind := "missing value"
	switch e.Kind {
	case ErrNoCurrentBlock:
		kind = "no current block"
	case ErrUnsupportedOp:
		kind = "unsupported op"
	}
	return fmt.Sprintf("ssa: %s in %s: %s", kind, e.Func, e.Msg)
}

// Builder converts one IR function to SSA: classical construction with
// per-block local value numbering and forward references resolved to phis
// after all blocks are processed.
type Builder struct {
	f  *Func
	in *ir.Func

	// blocks maps IR block IDs to their SSA blocks, 1:1.
	blocks []*Block

	cur *Block

	// vars caches the current SSA value of each SSAable IR local within
	// the block being converted; defvars snapshots it per block on exit.
	vars    map[ir.Local]*Value
	defvars []map[ir.Local]*Value

	fwdrefs []*Value

	// nodeVal maps converted IR nodes to their SSA results.
	nodeVal map[ir.NodeIndex]*Value

	// localSlot maps memory-backed IR locals to frame slots, allocated on
	// first touch.
	localSlot map[ir.Local]int

	// argValues holds the entry-block values for each formal parameter.
	argValues []*Value
}

// Build converts in to SSA form against the registry and module string
// table.
func Build(in *ir.Func, reg *types.Registry, strs *StringTable) (*Func, error) {
	f := NewFunc(in.Name, reg, strs)
	f.Params = in.Params
	f.Result = in.Result
	b := &Builder{
		f:         f,
		in:        in,
		nodeVal:   make(map[ir.NodeIndex]*Value),
		localSlot: make(map[ir.Local]int),
	}
	if err := b.build(); err != nil {
		return nil, err
	}
	if diag.Enabled(diag.PhaseSSA) || diag.Tracing(in.Name) {
		diag.Logf(diag.PhaseSSA, "built %s:\n%s", in.Name, f.Format())
	}
	return f, nil
}

// ssaable reports whether a local of type t is register-shaped: held in
// the vars map instead of a frame slot.
func (b *Builder) ssaable(t types.TypeIndex) bool {
	info := b.f.Types.Info(t)
	switch info.Kind {
	case types.KindBool, types.KindInt, types.KindFloat, types.KindPointer,
		types.KindEnum, types.KindList, types.KindMap, types.KindFunc:
		return info.Size <= 8
	}
	return false
}

// slotFor returns (allocating on demand) the frame slot of a
// memory-backed local.
func (b *Builder) slotFor(l ir.Local) int {
	if s, ok := b.localSlot[l]; ok {
		return s
	}
	info := b.in.Locals[l]
	s := b.f.AddLocalSlot(info.Size, info.Type)
	b.localSlot[l] = s
	return s
}

func (b *Builder) build() error {
	nblocks := b.in.NumBlocks()
	b.blocks = make([]*Block, nblocks)
	b.defvars = make([]map[ir.Local]*Value, nblocks)

	for i := 0; i < nblocks; i++ {
		irb := b.in.Block(ir.BlockID(i))
		kind := BlockPlain
		switch irb.Terminator() {
		case ir.TermBranch:
			kind = BlockIf
		case ir.TermReturn, ir.TermNone:
			kind = BlockRet
		}
		b.blocks[i] = b.f.NewBlock(kind)
	}
	b.f.Entry = b.blocks[0]

	if err := b.buildArgs(); err != nil {
		return err
	}

	for _, id := range b.rpo() {
		if err := b.convertBlock(id); err != nil {
			return err
		}
	}

	if err := b.insertPhis(); err != nil {
		return err
	}
	b.reorderPhis()
	b.f.layoutFrame()
	return nil
}

// rpo returns IR block IDs in reverse postorder over the IR CFG.
func (b *Builder) rpo() []ir.BlockID {
	n := b.in.NumBlocks()
	seen := make([]bool, n)
	var post []ir.BlockID
	var walk func(id ir.BlockID)
	walk = func(id ir.BlockID) {
		seen[id] = true
		for _, t := range b.in.Block(id).Targets {
			if !seen[t] {
				walk(t)
			}
		}
		post = append(post, id)
	}
	walk(0)
	out := make([]ir.BlockID, len(post))
	for i, id := range post {
		out[len(post)-1-i] = id
	}
	// Unreachable blocks convert after the reachable ones so their nodes
	// can still reference reachable definitions.
	for i := 0; i < n; i++ {
		if !seen[i] {
			out = append(out, ir.BlockID(i))
		}
	}
	return out
}

// isRefAggregate reports whether values of t live as addresses in SSA:
// structs, unions, optionals and error unions are memory-backed and pass
// by reference. Strings and slices instead use the two-slot (ptr, len)
// convention.
func isRefAggregate(reg *types.Registry, t types.TypeIndex) bool {
	switch reg.Info(t).Kind {
	case types.KindStruct, types.KindUnion, types.KindOptional, types.KindErrorUnion:
		return true
	}
	return false
}

// isSliceShaped reports the 16-byte (ptr, len) pair types.
func isSliceShaped(reg *types.Registry, t types.TypeIndex) bool {
	switch reg.Info(t).Kind {
	case types.KindString, types.KindSlice:
		return true
	}
	return false
}

// buildArgs creates the entry-block argument values under the three-phase
// ABI: scalar params take one slot; string/slice params take two
// consecutive slots joined by SliceMake/StringMake; ref-aggregate params
// pass by reference and take one pointer slot.
func (b *Builder) buildArgs() error {
	entry := b.blocks[0]
	slot := int64(0)
	for _, pt := range b.in.Params {
		switch {
		case isSliceShaped(b.f.Types, pt):
			p := b.f.NewValue0(entry, OpArg, types.U64, ir.Span{})
			p.AuxInt = slot
			l := b.f.NewValue0(entry, OpArg, types.I64, ir.Span{})
			l.AuxInt = slot + 1
			slot += 2
			op := OpSliceMake
			if pt == types.STRING {
				op = OpStringMake
			}
			join := b.f.NewValue2(entry, op, pt, ir.Span{}, p, l)
			b.argValues = append(b.argValues, join)
		case isRefAggregate(b.f.Types, pt):
			v := b.f.NewValue0(entry, OpArg, types.U64, ir.Span{})
			v.AuxInt = slot
			slot++
			b.argValues = append(b.argValues, v)
		default:
			v := b.f.NewValue0(entry, OpArg, pt, ir.Span{})
			v.AuxInt = slot
			slot++
			b.argValues = append(b.argValues, v)
		}
	}
	return nil
}

func (b *Builder) convertBlock(id ir.BlockID) error {
	irb := b.in.Block(id)
	b.cur = b.blocks[id]
	b.vars = make(map[ir.Local]*Value)

	for _, ni := range irb.Nodes() {
		if err := b.convertNode(ni); err != nil {
			return err
		}
	}

	b.defvars[id] = b.vars

	switch irb.Terminator() {
	case ir.TermJump:
		b.cur.AddEdgeTo(b.blocks[irb.Targets[0]])
	case ir.TermBranch:
		cond, err := b.use(irb.Cond)
		if err != nil {
			return err
		}
		b.cur.SetControl(cond)
		b.cur.AddEdgeTo(b.blocks[irb.Targets[0]])
		b.cur.AddEdgeTo(b.blocks[irb.Targets[1]])
	case ir.TermReturn:
		if irb.ReturnValue != ir.NodeIndexInvalid {
			rv, err := b.use(irb.ReturnValue)
			if err != nil {
				return err
			}
			b.cur.SetControl(rv)
		}
	}
	return nil
}

// use returns the SSA value of an already-converted IR node.
func (b *Builder) use(ni ir.NodeIndex) (*Value, error) {
	if v, ok := b.nodeVal[ni]; ok && v != nil {
		return v, nil
	}
	return nil, &BuildError{Kind: ErrMissingValue, Func: b.in.Name,
		Msg: fmt.Sprintf("node n%d has no SSA value", ni)}
}

// variable returns the current SSA value of an SSAable local, creating a
// FwdRef when the definition is not in the current block.
func (b *Builder) variable(l ir.Local, t types.TypeIndex) *Value {
	if v, ok := b.vars[l]; ok {
		return v
	}
	v := b.f.NewValue0(b.cur, OpFwdRef, t, ir.Span{})
	v.AuxInt = int64(l)
	b.fwdrefs = append(b.fwdrefs, v)
	b.vars[l] = v
	return v
}

// lookupVarOutgoing finds the value of local l at the end of block blk,
// creating FwdRefs (future phis) at join points along the way.
func (b *Builder) lookupVarOutgoing(blk *Block, l ir.Local, t types.TypeIndex) (*Value, error) {
	for {
		if vars := b.defvars[b.irID(blk)]; vars != nil {
			if v, ok := vars[l]; ok {
				return v, nil
			}
		}
		if len(blk.Preds) != 1 {
			break
		}
		blk = blk.Preds[0].b
	}
	if len(blk.Preds) == 0 {
		return nil, &BuildError{Kind: ErrMissingValue, Func: b.in.Name,
			Msg: fmt.Sprintf("local %d used before definition", l)}
	}
	v := b.f.NewValue0(blk, OpFwdRef, t, ir.Span{})
	v.AuxInt = int64(l)
	b.fwdrefs = append(b.fwdrefs, v)
	vars := b.defvars[b.irID(blk)]
	if vars == nil {
		vars = make(map[ir.Local]*Value)
		b.defvars[b.irID(blk)] = vars
	}
	vars[l] = v
	return v, nil
}

// irID maps an SSA block back to its IR block ID. Blocks are created 1:1
// in IR order, so the SSA ID is the IR ID.
func (b *Builder) irID(blk *Block) ir.BlockID { return ir.BlockID(blk.ID) }

// insertPhis resolves every FwdRef: when all predecessors agree on a
// value the FwdRef becomes a copy, otherwise a phi with one argument per
// predecessor.
func (b *Builder) insertPhis() error {
	for len(b.fwdrefs) > 0 {
		v := b.fwdrefs[len(b.fwdrefs)-1]
		b.fwdrefs = b.fwdrefs[:len(b.fwdrefs)-1]
		if v.Op != OpFwdRef {
			continue
		}
		blk := v.Block
		l := ir.Local(v.AuxInt)

		args := make([]*Value, len(blk.Preds))
		for i, e := range blk.Preds {
			a, err := b.lookupVarOutgoing(e.b, l, v.Type)
			if err != nil {
				return err
			}
			args[i] = a
		}

		same := true
		var first *Value
		for _, a := range args {
			if a == v {
				continue
			}
			if first == nil {
				first = a
			} else if a != first {
				same = false
				break
			}
		}
		if same && first != nil {
			v.copyOf(first)
			continue
		}
		v.reset(OpPhi)
		for _, a := range args {
			v.AddArg(a)
		}
	}
	return nil
}

// reorderPhis moves phis to the front of each block.
func (b *Builder) reorderPhis() {
	for _, blk := range b.f.Blocks {
		nphi := 0
		for i, v := range blk.Values {
			if v.Op == OpPhi {
				blk.Values[i] = blk.Values[nphi]
				blk.Values[nphi] = v
				nphi++
			}
		}
	}
}

func (b *Builder) convertNode(ni ir.NodeIndex) error {
	if b.cur == nil {
		return &BuildError{Kind: ErrNoCurrentBlock, Func: b.in.Name, Msg: "convertNode"}
	}
	n := b.in.Node(ni)
	v, err := b.convert(n)
	if err != nil {
		return err
	}
	b.nodeVal[ni] = v
	return nil
}

func (b *Builder) convert(n *ir.Node) (*Value, error) {
	f, cur := b.f, b.cur
	switch n.Op {
	case ir.OpConstInt:
		return f.ConstInt(n.AuxInt, n.Type), nil
	case ir.OpConstFloat:
		v := f.NewValue0(cur, OpConstF64, n.Type, n.Span)
		v.AuxFloat = n.AuxFloat
		return v, nil
	case ir.OpConstBool:
		v := f.NewValue0(cur, OpConstBool, n.Type, n.Span)
		if n.AuxBool {
			v.AuxInt = 1
		}
		return v, nil
	case ir.OpConstString:
		v := f.NewValue0(cur, OpConstString, n.Type, n.Span)
		v.AuxStr = n.AuxString
		return v, nil

	case ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpDiv, ir.OpMod,
		ir.OpBand, ir.OpBor, ir.OpBxor, ir.OpShl, ir.OpShr:
		x, err := b.use(n.Args[0])
		if err != nil {
			return nil, err
		}
		y, err := b.use(n.Args[1])
		if err != nil {
			return nil, err
		}
		return f.NewValue2(cur, b.binOp(n.Op, n.Type), n.Type, n.Span, x, y), nil

	case ir.OpCmpEq, ir.OpCmpNe, ir.OpCmpLt, ir.OpCmpLe, ir.OpCmpGt, ir.OpCmpGe:
		x, err := b.use(n.Args[0])
		if err != nil {
			return nil, err
		}
		y, err := b.use(n.Args[1])
		if err != nil {
			return nil, err
		}
		return f.NewValue2(cur, b.cmpOp(n.Op, x.Type), types.BOOL, n.Span, x, y), nil

	case ir.OpLogicalAnd, ir.OpLogicalOr:
		// The Lowerer expands short-circuit forms into control flow; a
		// logical op that survives to here has side-effect-free operands
		// and evaluates both.
		x, err := b.use(n.Args[0])
		if err != nil {
			return nil, err
		}
		y, err := b.use(n.Args[1])
		if err != nil {
			return nil, err
		}
		op := OpAnd
		if n.Op == ir.OpLogicalOr {
			op = OpOr
		}
		return f.NewValue2(cur, op, types.BOOL, n.Span, x, y), nil

	case ir.OpNeg:
		x, err := b.use(n.Args[0])
		if err != nil {
			return nil, err
		}
		return f.NewValue1(cur, OpNeg, n.Type, n.Span, x), nil
	case ir.OpNot:
		x, err := b.use(n.Args[0])
		if err != nil {
			return nil, err
		}
		return f.NewValue1(cur, OpNot, types.BOOL, n.Span, x), nil
	case ir.OpBnot:
		x, err := b.use(n.Args[0])
		if err != nil {
			return nil, err
		}
		return f.NewValue2(cur, OpXor, n.Type, n.Span, x, f.ConstInt(-1, n.Type)), nil

	case ir.OpExtendU, ir.OpExtendS:
		x, err := b.use(n.Args[0])
		if err != nil {
			return nil, err
		}
		op := OpExtendU
		if n.Op == ir.OpExtendS {
			op = OpExtendS
		}
		v := f.NewValue1(cur, op, n.Type, n.Span, x)
		v.AuxInt = int64(b.f.Types.Size(x.Type))
		return v, nil

	case ir.OpArg:
		return b.argValues[n.AuxInt], nil

	case ir.OpLoadLocal:
		return b.convertLoadLocal(n)
	case ir.OpStoreLocal:
		return nil, b.convertStoreLocal(n)
	case ir.OpStoreLocalField:
		val, err := b.use(n.Args[0])
		if err != nil {
			return nil, err
		}
		addr := b.localAddr(ir.Local(n.AuxInt), n.Span)
		dst := f.NewValue1(cur, OpOffPtr, types.U64, n.Span, addr)
		dst.AuxInt = n.AuxInt2
		f.NewValue2(cur, OpStore, val.Type, n.Span, dst, val)
		return nil, nil
	case ir.OpLocalAddr:
		return b.localAddr(ir.Local(n.AuxInt), n.Span), nil

	case ir.OpGlobalAddr:
		v := f.NewValue0(cur, OpGlobalAddr, n.Type, n.Span)
		v.AuxStr = n.AuxString
		return v, nil
	case ir.OpTypeMetadata:
		v := f.NewValue0(cur, OpMetadataAddr, types.I64, n.Span)
		v.AuxStr = n.AuxString
		return v, nil

	case ir.OpPtrLoad:
		ptr, err := b.use(n.Args[0])
		if err != nil {
			return nil, err
		}
		return f.NewValue1(cur, OpLoad, n.Type, n.Span, ptr), nil
	case ir.OpPtrStore:
		ptr, err := b.use(n.Args[0])
		if err != nil {
			return nil, err
		}
		val, err := b.use(n.Args[1])
		if err != nil {
			return nil, err
		}
		f.NewValue2(cur, OpStore, val.Type, n.Span, ptr, val)
		return nil, nil
	case ir.OpAddPtr:
		ptr, err := b.use(n.Args[0])
		if err != nil {
			return nil, err
		}
		v := f.NewValue1(cur, OpOffPtr, n.Type, n.Span, ptr)
		v.AuxInt = n.AuxInt
		return v, nil

	case ir.OpFieldLoad:
		base, err := b.use(n.Args[0])
		if err != nil {
			return nil, err
		}
		addr := f.NewValue1(cur, OpOffPtr, types.U64, n.Span, base)
		addr.AuxInt = n.AuxInt
		return f.NewValue1(cur, OpLoad, n.Type, n.Span, addr), nil
	case ir.OpFieldAddr:
		base, err := b.use(n.Args[0])
		if err != nil {
			return nil, err
		}
		v := f.NewValue1(cur, OpOffPtr, n.Type, n.Span, base)
		v.AuxInt = n.AuxInt
		return v, nil

	case ir.OpIndexLoad, ir.OpIndexAddr:
		return b.convertIndex(n)
	case ir.OpSliceExpr:
		return b.convertSliceExpr(n)

	case ir.OpCall:
		args, err := b.useAll(n.Args)
		if err != nil {
			return nil, err
		}
		call := f.newValueInto(cur, OpStaticCall, n.Type, n.Span)
		call.AuxStr = n.AuxString
		for _, a := range args {
			call.AddArg(a)
		}
		return call, nil
	case ir.OpCallIndirect:
		args, err := b.useAll(n.Args)
		if err != nil {
			return nil, err
		}
		call := f.newValueInto(cur, OpCallIndirect, n.Type, n.Span)
		for _, a := range args {
			call.AddArg(a)
		}
		return call, nil

	case ir.OpAlloc:
		md, err := b.use(n.Args[0])
		if err != nil {
			return nil, err
		}
		size, err := b.use(n.Args[1])
		if err != nil {
			return nil, err
		}
		call := f.NewValue2(cur, OpStaticCall, n.Type, n.Span, md, size)
		call.AuxStr = "cot_alloc"
		return call, nil
	case ir.OpRetain:
		obj, err := b.use(n.Args[0])
		if err != nil {
			return nil, err
		}
		call := f.NewValue1(cur, OpStaticCall, n.Type, n.Span, obj)
		call.AuxStr = "cot_retain"
		return call, nil
	case ir.OpRelease:
		obj, err := b.use(n.Args[0])
		if err != nil {
			return nil, err
		}
		call := f.NewValue1(cur, OpStaticCall, types.VOID, n.Span, obj)
		call.AuxStr = "cot_release"
		return call, nil

	case ir.OpStringConcat:
		x, err := b.use(n.Args[0])
		if err != nil {
			return nil, err
		}
		y, err := b.use(n.Args[1])
		if err != nil {
			return nil, err
		}
		return f.NewValue2(cur, OpStringConcat, types.STRING, n.Span, x, y), nil
	case ir.OpStringLen:
		s, err := b.use(n.Args[0])
		if err != nil {
			return nil, err
		}
		return f.NewValue1(cur, OpStringLen, types.I64, n.Span, s), nil
	case ir.OpStringEq:
		x, err := b.use(n.Args[0])
		if err != nil {
			return nil, err
		}
		y, err := b.use(n.Args[1])
		if err != nil {
			return nil, err
		}
		call := f.NewValue2(cur, OpStaticCall, types.BOOL, n.Span, x, y)
		call.AuxStr = "cot_string_eq"
		return call, nil

	case ir.OpListMake, ir.OpListAppend, ir.OpListLen, ir.OpListGet, ir.OpListSet,
		ir.OpMapMake, ir.OpMapGet, ir.OpMapSet, ir.OpMapHas:
		return b.convertContainer(n)

	case ir.OpUnionMake, ir.OpUnionTag, ir.OpUnionPayload,
		ir.OpOptionalMake, ir.OpOptionalHasValue, ir.OpOptionalUnwrap,
		ir.OpErrUnionMakeOk, ir.OpErrUnionMakeErr, ir.OpErrUnionIsErr, ir.OpErrUnionUnwrap:
		return b.convertTagged(n)
	}
	return nil, &BuildError{Kind: ErrUnsupportedOp, Func: b.in.Name, Msg: n.Op.String()}
}

func (b *Builder) useAll(nis []ir.NodeIndex) ([]*Value, error) {
	out := make([]*Value, len(nis))
	for i, ni := range nis {
		v, err := b.use(ni)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (b *Builder) binOp(op ir.Op, t types.TypeIndex) Op {
	float := b.f.Types.Info(t).Kind == types.KindFloat
	signed := b.f.Types.IsSigned(t)
	switch op {
	case ir.OpAdd:
		return OpAdd
	case ir.OpSub:
		return OpSub
	case ir.OpMul:
		return OpMul
	case ir.OpDiv:
		if float || signed {
			return OpDiv
		}
		return OpDivU
	case ir.OpMod:
		if signed {
			return OpMod
		}
		return OpModU
	case ir.OpBand:
		return OpAnd
	case ir.OpBor:
		return OpOr
	case ir.OpBxor:
		return OpXor
	case ir.OpShl:
		return OpShl
	case ir.OpShr:
		if signed {
			return OpShr
		}
		return OpShrU
	}
	panic("BUG: not a binary op: " + op.String())
}

func (b *Builder) cmpOp(op ir.Op, operand types.TypeIndex) Op {
	signed := b.f.Types.IsSigned(operand) || b.f.Types.Info(operand).Kind == types.KindFloat
	switch op {
	case ir.OpCmpEq:
		return OpEq
	case ir.OpCmpNe:
		return OpNeq
	case ir.OpCmpLt:
		if signed {
			return OpLess
		}
		return OpLessU
	case ir.OpCmpLe:
		if signed {
			return OpLeq
		}
		return OpLeqU
	case ir.OpCmpGt:
		if signed {
			return OpGreater
		}
		return OpGreaterU
	case ir.OpCmpGe:
		if signed {
			return OpGeq
		}
		return OpGeqU
	}
	panic("BUG: not a comparison: " + op.String())
}

// localAddr materializes the frame address of a memory-backed local.
func (b *Builder) localAddr(l ir.Local, pos ir.Span) *Value {
	v := b.f.NewValue0(b.cur, OpLocalAddr, types.U64, pos)
	v.AuxInt = int64(b.slotFor(l))
	return v
}

// convertLoadLocal handles the compound-load case: loading a STRING (or
// any 16-byte slice) from a local emits two 8-byte loads joined by
// SliceMake — SliceMake, not StringMake, because STRING is internally a
// slice; downstream decomposition accepts either.
func (b *Builder) convertLoadLocal(n *ir.Node) (*Value, error) {
	l := ir.Local(n.AuxInt)
	if b.ssaable(n.Type) {
		return b.variable(l, n.Type), nil
	}
	f, cur := b.f, b.cur
	addr := b.localAddr(l, n.Span)
	if isRefAggregate(f.Types, n.Type) {
		// Tagged and struct aggregates are represented by their address.
		return addr, nil
	}
	sz := f.Types.Size(n.Type)
	switch {
	case sz == 16:
		ptr := f.NewValue1(cur, OpLoad, types.U64, n.Span, addr)
		hi := f.NewValue1(cur, OpOffPtr, types.U64, n.Span, addr)
		hi.AuxInt = 8
		ln := f.NewValue1(cur, OpLoad, types.I64, n.Span, hi)
		return f.NewValue2(cur, OpSliceMake, n.Type, n.Span, ptr, ln), nil
	case sz <= 8:
		return f.NewValue1(cur, OpLoad, n.Type, n.Span, addr), nil
	default:
		// Wider than MaxSSASize: the value is its address; expand_calls
		// keeps it opaque.
		return addr, nil
	}
}

func (b *Builder) convertStoreLocal(n *ir.Node) error {
	val, err := b.use(n.Args[0])
	if err != nil {
		return err
	}
	l := ir.Local(n.AuxInt)
	if b.ssaable(b.in.Locals[l].Type) {
		b.vars[l] = val
		return nil
	}
	f, cur := b.f, b.cur
	addr := b.localAddr(l, n.Span)
	t := b.in.Locals[l].Type
	sz := f.Types.Size(t)
	if sz > MaxSSASize || isRefAggregate(f.Types, t) {
		// The source value is an address; copy the aggregate bytes.
		mv := f.NewValue2(cur, OpMove, types.VOID, n.Span, addr, val)
		mv.AuxInt = int64(sz)
		return nil
	}
	f.NewValue2(cur, OpStore, t, n.Span, addr, val)
	return nil
}

func (b *Builder) convertIndex(n *ir.Node) (*Value, error) {
	base, err := b.use(n.Args[0])
	if err != nil {
		return nil, err
	}
	idx, err := b.use(n.Args[1])
	if err != nil {
		return nil, err
	}
	f, cur := b.f, b.cur
	info := f.Types.Info(base.Type)
	var ptr *Value
	switch info.Kind {
	case types.KindSlice, types.KindString:
		op := OpSlicePtr
		if info.Kind == types.KindString {
			op = OpStringPtr
		}
		ptr = f.NewValue1(cur, op, types.U64, n.Span, base)
	default:
		// Pointer to array, or the frame address of an array local.
		ptr = base
	}
	// The element type is the node's own type for IndexLoad and the
	// pointee for IndexAddr.
	elem := n.Type
	if n.Op == ir.OpIndexAddr {
		elem = f.Types.Info(n.Type).Elem
	}
	esz := f.Types.Size(elem)
	off := f.NewValue2(cur, OpMul, types.I64, n.Span, idx, f.ConstInt(int64(esz), types.I64))
	addr := f.NewValue2(cur, OpAddPtr, types.U64, n.Span, ptr, off)
	if n.Op == ir.OpIndexAddr {
		return addr, nil
	}
	return f.NewValue1(cur, OpLoad, n.Type, n.Span, addr), nil
}

func (b *Builder) convertSliceExpr(n *ir.Node) (*Value, error) {
	base, err := b.use(n.Args[0])
	if err != nil {
		return nil, err
	}
	lo, err := b.use(n.Args[1])
	if err != nil {
		return nil, err
	}
	hi, err := b.use(n.Args[2])
	if err != nil {
		return nil, err
	}
	f, cur := b.f, b.cur
	info := f.Types.Info(base.Type)
	op := OpSlicePtr
	if info.Kind == types.KindString {
		op = OpStringPtr
	}
	ptr := f.NewValue1(cur, op, types.U64, n.Span, base)
	esz := f.Types.Size(info.Elem)
	scaled := f.NewValue2(cur, OpMul, types.I64, n.Span, lo, f.ConstInt(int64(esz), types.I64))
	newPtr := f.NewValue2(cur, OpAddPtr, types.U64, n.Span, ptr, scaled)
	newLen := f.NewValue2(cur, OpSub, types.I64, n.Span, hi, lo)
	return f.NewValue2(cur, OpSliceMake, n.Type, n.Span, newPtr, newLen), nil
}

// convertContainer lowers list/map primitives to their runtime calls.
func (b *Builder) convertContainer(n *ir.Node) (*Value, error) {
	f, cur := b.f, b.cur
	args, err := b.useAll(n.Args)
	if err != nil {
		return nil, err
	}
	var callee string
	rt := n.Type
	switch n.Op {
	case ir.OpListMake:
		callee = "cot_list_make"
		info := f.Types.Info(n.Type)
		args = []*Value{f.ConstInt(int64(f.Types.Size(info.Elem)), types.I64)}
	case ir.OpListAppend:
		callee, rt = "cot_list_append", types.VOID
	case ir.OpListLen:
		callee = "cot_list_len"
	case ir.OpListGet:
		callee = "cot_list_get"
	case ir.OpListSet:
		callee, rt = "cot_list_set", types.VOID
	case ir.OpMapMake:
		callee = "cot_map_make"
	case ir.OpMapGet:
		callee = "cot_map_get"
	case ir.OpMapSet:
		callee, rt = "cot_map_set", types.VOID
	case ir.OpMapHas:
		callee = "cot_map_has"
	}
	call := f.newValueInto(cur, OpStaticCall, rt, n.Span)
	call.AuxStr = callee
	for _, a := range args {
		call.AddArg(a)
	}
	return call, nil
}

// convertTagged lowers union/optional/error-union primitives through
// memory: the SSA value of a tagged composite is the frame address of its
// storage, tag at offset 0, payload at offset 8.
func (b *Builder) convertTagged(n *ir.Node) (*Value, error) {
	f, cur := b.f, b.cur
	switch n.Op {
	case ir.OpUnionMake, ir.OpOptionalMake, ir.OpErrUnionMakeOk, ir.OpErrUnionMakeErr:
		sz := f.Types.Size(n.Type)
		if sz < 16 {
			sz = 16
		}
		slot := f.AddLocalSlot(sz, n.Type)
		addr := f.NewValue0(cur, OpLocalAddr, types.U64, n.Span)
		addr.AuxInt = int64(slot)

		var tag *Value
		var payload *Value
		switch n.Op {
		case ir.OpUnionMake:
			tag = f.ConstInt(n.AuxInt, types.I64)
			if len(n.Args) > 0 {
				v, err := b.use(n.Args[0])
				if err != nil {
					return nil, err
				}
				payload = v
			}
		case ir.OpOptionalMake:
			v, err := b.use(n.Args[0])
			if err != nil {
				return nil, err
			}
			tag = v
			if len(n.Args) > 1 {
				pv, err := b.use(n.Args[1])
				if err != nil {
					return nil, err
				}
				payload = pv
			}
		case ir.OpErrUnionMakeOk:
			tag = f.ConstInt(0, types.I64)
			v, err := b.use(n.Args[0])
			if err != nil {
				return nil, err
			}
			payload = v
		case ir.OpErrUnionMakeErr:
			tag = f.ConstInt(n.AuxInt, types.I64)
		}
		f.NewValue2(cur, OpStore, types.I64, n.Span, addr, tag)
		if payload != nil {
			dst := f.NewValue1(cur, OpOffPtr, types.U64, n.Span, addr)
			dst.AuxInt = 8
			// The IR node knows the payload's source type; the SSA value
			// of a ref aggregate is only its address.
			var payloadT types.TypeIndex
			switch n.Op {
			case ir.OpUnionMake, ir.OpErrUnionMakeOk:
				payloadT = b.in.Node(n.Args[0]).Type
			case ir.OpOptionalMake:
				payloadT = b.in.Node(n.Args[1]).Type
			}
			if isRefAggregate(f.Types, payloadT) {
				mv := f.NewValue2(cur, OpMove, types.VOID, n.Span, dst, payload)
				mv.AuxInt = int64(f.Types.Size(payloadT))
			} else {
				f.NewValue2(cur, OpStore, payload.Type, n.Span, dst, payload)
			}
		}
		return addr, nil

	case ir.OpUnionTag:
		u, err := b.use(n.Args[0])
		if err != nil {
			return nil, err
		}
		return f.NewValue1(cur, OpLoad, types.I64, n.Span, u), nil
	case ir.OpOptionalHasValue:
		o, err := b.use(n.Args[0])
		if err != nil {
			return nil, err
		}
		tag := f.NewValue1(cur, OpLoad, types.I64, n.Span, o)
		return f.NewValue2(cur, OpNeq, types.BOOL, n.Span, tag, f.ConstInt(0, types.I64)), nil
	case ir.OpErrUnionIsErr:
		e, err := b.use(n.Args[0])
		if err != nil {
			return nil, err
		}
		tag := f.NewValue1(cur, OpLoad, types.I64, n.Span, e)
		return f.NewValue2(cur, OpNeq, types.BOOL, n.Span, tag, f.ConstInt(0, types.I64)), nil

	case ir.OpUnionPayload, ir.OpOptionalUnwrap, ir.OpErrUnionUnwrap:
		x, err := b.use(n.Args[0])
		if err != nil {
			return nil, err
		}
		addr := f.NewValue1(cur, OpOffPtr, types.U64, n.Span, x)
		addr.AuxInt = 8
		if isRefAggregate(f.Types, n.Type) {
			return addr, nil
		}
		sz := f.Types.Size(n.Type)
		switch {
		case sz == 16:
			ptr := f.NewValue1(cur, OpLoad, types.U64, n.Span, addr)
			hi := f.NewValue1(cur, OpOffPtr, types.U64, n.Span, addr)
			hi.AuxInt = 8
			ln := f.NewValue1(cur, OpLoad, types.I64, n.Span, hi)
			return f.NewValue2(cur, OpSliceMake, n.Type, n.Span, ptr, ln), nil
		case sz <= 8:
			return f.NewValue1(cur, OpLoad, n.Type, n.Span, addr), nil
		default:
			return addr, nil
		}
	}
	return nil, &BuildError{Kind: ErrUnsupportedOp, Func: b.in.Name, Msg: n.Op.String()}
}
