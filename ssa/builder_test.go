package ssa

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cot-lang/cotc/ir"
	"github.com/cot-lang/cotc/types"
)

func testRegistry() *types.Registry { return types.NewRegistry() }

// straightLine builds: fn f(a i64) i64 { let x = a + 10; return x }
func straightLine(t *testing.T) *ir.Func {
	t.Helper()
	fb := ir.NewFuncBuilder("f", []types.TypeIndex{types.I64}, types.I64)
	x := fb.F.AllocLocal(8, types.I64)
	b0 := fb.NewBlock()
	fb.SetCurrent(b0)
	arg := fb.EmitArg(0, types.I64, ir.Span{})
	ten := fb.EmitConstInt(10, types.I64, ir.Span{})
	sum := fb.EmitBinary(ir.OpAdd, arg, ten, types.I64, ir.Span{})
	fb.EmitStoreLocal(x, sum, ir.Span{})
	ld := fb.EmitLoadLocal(x, types.I64, ir.Span{})
	fb.SetReturn(ld)
	return fb.F
}

func TestBuildStraightLine(t *testing.T) {
	f, err := Build(straightLine(t), testRegistry(), NewStringTable())
	require.NoError(t, err)
	require.NoError(t, Verify(f))

	require.Equal(t, BlockRet, f.Entry.Kind)
	require.NotNil(t, f.Entry.Controls[0])

	var add *Value
	for _, v := range f.Entry.Values {
		if v.Op == OpAdd {
			add = v
		}
	}
	require.NotNil(t, add)
	// The returned value is the add itself: the local was SSA'd away.
	require.Equal(t, add, followCopy(f.Entry.Controls[0]))
}

// diamond builds:
//
//	fn f(c bool) i64 { let x i64; if c { x = 1 } else { x = 2 }; return x }
func diamond(t *testing.T) *ir.Func {
	t.Helper()
	fb := ir.NewFuncBuilder("f", []types.TypeIndex{types.BOOL}, types.I64)
	x := fb.F.AllocLocal(8, types.I64)
	b0 := fb.NewBlock()
	bThen := fb.NewBlock()
	bElse := fb.NewBlock()
	bJoin := fb.NewBlock()

	fb.SetCurrent(b0)
	cond := fb.EmitArg(0, types.BOOL, ir.Span{})
	fb.SetBranch(cond, bThen, bElse)

	fb.SetCurrent(bThen)
	one := fb.EmitConstInt(1, types.I64, ir.Span{})
	fb.EmitStoreLocal(x, one, ir.Span{})
	fb.SetJump(bJoin)

	fb.SetCurrent(bElse)
	two := fb.EmitConstInt(2, types.I64, ir.Span{})
	fb.EmitStoreLocal(x, two, ir.Span{})
	fb.SetJump(bJoin)

	fb.SetCurrent(bJoin)
	ld := fb.EmitLoadLocal(x, types.I64, ir.Span{})
	fb.SetReturn(ld)
	return fb.F
}

func TestBuildInsertsPhiAtJoin(t *testing.T) {
	f, err := Build(diamond(t), testRegistry(), NewStringTable())
	require.NoError(t, err)
	require.NoError(t, Verify(f))

	join := f.Blocks[3]
	require.Equal(t, 2, len(join.Preds))

	var phi *Value
	for _, v := range join.Values {
		if v.Op == OpPhi {
			phi = v
		}
	}
	require.NotNil(t, phi, "join block needs a phi for x")
	require.Len(t, phi.Args, 2)
	a0, a1 := followCopy(phi.Args[0]), followCopy(phi.Args[1])
	require.Equal(t, Op(OpConst64), a0.Op)
	require.Equal(t, Op(OpConst64), a1.Op)
	require.ElementsMatch(t, []int64{1, 2}, []int64{a0.AuxInt, a1.AuxInt})

	// Phis precede non-phis after reorderPhis.
	require.Equal(t, OpPhi, join.Values[0].Op)
}

func TestBuildAgreeingPredsGetCopyNotPhi(t *testing.T) {
	// Both arms leave x untouched after a single def in the entry block:
	// the join's lookup must resolve to a copy, not a phi.
	fb := ir.NewFuncBuilder("f", []types.TypeIndex{types.BOOL}, types.I64)
	x := fb.F.AllocLocal(8, types.I64)
	b0 := fb.NewBlock()
	bThen := fb.NewBlock()
	bElse := fb.NewBlock()
	bJoin := fb.NewBlock()

	fb.SetCurrent(b0)
	cond := fb.EmitArg(0, types.BOOL, ir.Span{})
	seven := fb.EmitConstInt(7, types.I64, ir.Span{})
	fb.EmitStoreLocal(x, seven, ir.Span{})
	fb.SetBranch(cond, bThen, bElse)

	fb.SetCurrent(bThen)
	fb.SetJump(bJoin)
	fb.SetCurrent(bElse)
	fb.SetJump(bJoin)

	fb.SetCurrent(bJoin)
	ld := fb.EmitLoadLocal(x, types.I64, ir.Span{})
	fb.SetReturn(ld)

	f, err := Build(fb.F, testRegistry(), NewStringTable())
	require.NoError(t, err)
	require.NoError(t, Verify(f))

	join := f.Blocks[3]
	for _, v := range join.Values {
		require.NotEqual(t, Op(OpPhi), v.Op, "agreeing predecessors must not produce a phi")
	}
	rv := followCopy(join.Values[len(join.Values)-1])
	require.Equal(t, int64(7), rv.AuxInt)
}

// loop builds: fn f() i64 { let i = 0; while i < 3 { i = i + 1 }; return i }
func loopFunc(t *testing.T) *ir.Func {
	t.Helper()
	fb := ir.NewFuncBuilder("f", nil, types.I64)
	i := fb.F.AllocLocal(8, types.I64)
	b0 := fb.NewBlock()
	header := fb.NewBlock()
	body := fb.NewBlock()
	exit := fb.NewBlock()

	fb.SetCurrent(b0)
	zero := fb.EmitConstInt(0, types.I64, ir.Span{})
	fb.EmitStoreLocal(i, zero, ir.Span{})
	fb.SetJump(header)

	fb.SetCurrent(header)
	iv := fb.EmitLoadLocal(i, types.I64, ir.Span{})
	three := fb.EmitConstInt(3, types.I64, ir.Span{})
	lt := fb.EmitBinary(ir.OpCmpLt, iv, three, types.BOOL, ir.Span{})
	fb.SetBranch(lt, body, exit)

	fb.SetCurrent(body)
	iv2 := fb.EmitLoadLocal(i, types.I64, ir.Span{})
	one := fb.EmitConstInt(1, types.I64, ir.Span{})
	inc := fb.EmitBinary(ir.OpAdd, iv2, one, types.I64, ir.Span{})
	fb.EmitStoreLocal(i, inc, ir.Span{})
	fb.SetJump(header)

	fb.SetCurrent(exit)
	fin := fb.EmitLoadLocal(i, types.I64, ir.Span{})
	fb.SetReturn(fin)
	return fb.F
}

func TestBuildLoopPhiAndBackEdge(t *testing.T) {
	f, err := Build(loopFunc(t), testRegistry(), NewStringTable())
	require.NoError(t, err)
	require.NoError(t, Verify(f))

	header := f.Blocks[1]
	require.Equal(t, 2, len(header.Preds), "loop header has entry and back-edge preds")

	var phi *Value
	for _, v := range header.Values {
		if v.Op == OpPhi {
			phi = v
		}
	}
	require.NotNil(t, phi, "i must become a phi in the loop header")
	require.Len(t, phi.Args, 2)
}

func TestBuildCompoundLoadDecomposesToSliceMake(t *testing.T) {
	// Loading a STRING local emits two 8-byte loads joined by slice_make
	// (not string_make): STRING is internally a slice.
	fb := ir.NewFuncBuilder("f", nil, types.I64)
	s := fb.F.AllocLocal(16, types.STRING)
	b0 := fb.NewBlock()
	fb.SetCurrent(b0)
	cs := fb.EmitConstString("hello", types.STRING, ir.Span{})
	fb.EmitStoreLocal(s, cs, ir.Span{})
	ld := fb.EmitLoadLocal(s, types.STRING, ir.Span{})
	ln := fb.EmitStringLen(ld, ir.Span{})
	fb.SetReturn(ln)

	f, err := Build(fb.F, testRegistry(), NewStringTable())
	require.NoError(t, err)
	require.NoError(t, Verify(f))

	var mk *Value
	for _, v := range f.Entry.Values {
		if v.Op == OpSliceMake {
			mk = v
		}
	}
	require.NotNil(t, mk)
	require.Equal(t, types.STRING, mk.Type)
	require.Equal(t, Op(OpLoad), followCopy(mk.Args[0]).Op)
	require.Equal(t, Op(OpLoad), followCopy(mk.Args[1]).Op)

	// The string local is memory-backed: it got a frame slot.
	require.Len(t, f.LocalSlots, 1)
	require.Equal(t, uint32(16), f.LocalSlots[0].Size)
}

func TestBuildMissingValueError(t *testing.T) {
	fb := ir.NewFuncBuilder("f", nil, types.I64)
	b0 := fb.NewBlock()
	fb.SetCurrent(b0)
	// Return references a node that was never emitted.
	fb.SetReturn(ir.NodeIndex(999))

	_, err := Build(fb.F, testRegistry(), NewStringTable())
	require.Error(t, err)
	var be *BuildError
	require.ErrorAs(t, err, &be)
	require.Equal(t, ErrMissingValue, be.Kind)
}
