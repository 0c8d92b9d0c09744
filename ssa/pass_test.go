package ssa

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cot-lang/cotc/ir"
	"github.com/cot-lang/cotc/types"
)

// concatFunc builds: fn f() i64 { let c = "hello " ++ "world"; return @len(c) }
func concatFunc(t *testing.T) *ir.Func {
	t.Helper()
	fb := ir.NewFuncBuilder("f", nil, types.I64)
	b0 := fb.NewBlock()
	fb.SetCurrent(b0)
	a := fb.EmitConstString("hello ", types.STRING, ir.Span{})
	b := fb.EmitConstString("world", types.STRING, ir.Span{})
	c := fb.EmitStringConcat(a, b, ir.Span{})
	ln := fb.EmitStringLen(c, ir.Span{})
	fb.SetReturn(ln)
	return fb.F
}

func TestRewriteConcatBecomesRuntimeCall(t *testing.T) {
	f, err := Build(concatFunc(t), testRegistry(), NewStringTable())
	require.NoError(t, err)
	require.NoError(t, rewritegeneric(f))
	require.NoError(t, Verify(f))
	require.NoError(t, rewritedec(f))
	require.NoError(t, Verify(f))

	var call, add *Value
	for _, b := range f.Blocks {
		for _, v := range b.Values {
			if v.Op == OpStaticCall && v.AuxStr == "cot_string_concat" {
				call = v
			}
			if v.Op == OpAdd {
				add = v
			}
		}
	}
	require.NotNil(t, call, "concat must lower to cot_string_concat")
	require.Len(t, call.Args, 4, "call takes (p1, l1, p2, l2)")
	require.NotNil(t, add, "the result length is add(l1, l2)")

	// Constant literal lengths: the final length folds or stays as the
	// add of the two 6/5 constants.
	l1, l2 := followCopy(add.Args[0]), followCopy(add.Args[1])
	require.Equal(t, int64(6), l1.AuxInt)
	require.Equal(t, int64(5), l2.AuxInt)
}

func TestRewriteStringLenOfStringMake(t *testing.T) {
	// Constant-folding string_len(string_make(p, l)) yields copy(l)
	// regardless of whether l was a constant or a load.
	f, err := Build(concatFunc(t), testRegistry(), NewStringTable())
	require.NoError(t, err)
	require.NoError(t, RunPasses(f))

	// The returned length must resolve to add(6, 5) or its components;
	// the string_len op itself is gone.
	for _, b := range f.Blocks {
		for _, v := range b.Values {
			require.NotEqual(t, Op(OpStringLen), v.Op)
			require.NotEqual(t, Op(OpStringConcat), v.Op)
		}
	}
}

func TestDecomposeIdempotent(t *testing.T) {
	build := func() *Func {
		fb := ir.NewFuncBuilder("f", nil, types.I64)
		s := fb.F.AllocLocal(16, types.STRING)
		b0 := fb.NewBlock()
		fb.SetCurrent(b0)
		cs := fb.EmitConstString("hi", types.STRING, ir.Span{})
		fb.EmitStoreLocal(s, cs, ir.Span{})
		ld := fb.EmitLoadLocal(s, types.STRING, ir.Span{})
		ln := fb.EmitStringLen(ld, ir.Span{})
		fb.SetReturn(ln)
		f, err := Build(fb.F, testRegistry(), NewStringTable())
		require.NoError(t, err)
		require.NoError(t, rewritegeneric(f))
		require.NoError(t, rewritedec(f))
		return f
	}

	f := build()
	require.NoError(t, decompose(f))
	once := f.Format()
	require.NoError(t, decompose(f))
	require.Equal(t, once, f.Format(), "decompose must be idempotent")
	require.NoError(t, VerifyDecomposed(f))
}

func TestDecomposeSizeBound(t *testing.T) {
	f, err := Build(concatFunc(t), testRegistry(), NewStringTable())
	require.NoError(t, err)
	require.NoError(t, RunPasses(f))
	for _, b := range f.Blocks {
		for _, v := range b.Values {
			require.LessOrEqual(t, f.Types.Size(v.Type), uint32(MaxSSASize))
		}
	}
}

func TestExpandCallsSplitsStringArgs(t *testing.T) {
	// A call taking a string passes it as two consecutive slots.
	fb := ir.NewFuncBuilder("f", nil, types.VOID)
	b0 := fb.NewBlock()
	fb.SetCurrent(b0)
	s := fb.EmitConstString("abc", types.STRING, ir.Span{})
	fb.EmitCall("print", []ir.NodeIndex{s}, types.VOID, ir.Span{})
	fb.SetReturn(ir.NodeIndexInvalid)

	f, err := Build(fb.F, testRegistry(), NewStringTable())
	require.NoError(t, err)
	require.NoError(t, rewritegeneric(f))
	require.NoError(t, rewritedec(f))
	require.NoError(t, decompose(f))
	require.NoError(t, expandCalls(f))
	require.NoError(t, VerifyDecomposed(f))

	var call *Value
	for _, v := range f.Entry.Values {
		if v.Op == OpStaticCall && v.AuxStr == "print" {
			call = v
		}
	}
	require.NotNil(t, call)
	require.Len(t, call.Args, 2, "string arg splits into (ptr, len)")
	require.LessOrEqual(t, f.Types.Size(call.Args[0].Type), uint32(8))
	require.LessOrEqual(t, f.Types.Size(call.Args[1].Type), uint32(8))
}

func TestSchedulePhisFirst(t *testing.T) {
	f, err := Build(diamond(t), testRegistry(), NewStringTable())
	require.NoError(t, err)
	require.NoError(t, RunPasses(f))
	require.NoError(t, VerifyScheduled(f))

	for _, b := range f.Blocks {
		sawNonPhi := false
		for _, v := range b.Values {
			if v.Op == OpPhi {
				require.False(t, sawNonPhi, "phis must precede non-phis")
			} else {
				sawNonPhi = true
			}
		}
	}
}

func TestScheduleKeepsStoreLoadOrder(t *testing.T) {
	// A load of an address must not be hoisted above the store that
	// precedes it in program order.
	fb := ir.NewFuncBuilder("f", nil, types.I64)
	x := fb.F.AllocLocal(16, types.STRING) // memory-backed
	_ = x
	y := fb.F.AllocLocal(8, types.I64)
	b0 := fb.NewBlock()
	fb.SetCurrent(b0)
	addr := fb.EmitLocalAddr(x, types.U64, ir.Span{})
	seven := fb.EmitConstInt(7, types.I64, ir.Span{})
	fb.EmitPtrStore(addr, seven, ir.Span{})
	ld := fb.EmitPtrLoad(addr, types.I64, ir.Span{})
	fb.EmitStoreLocal(y, ld, ir.Span{})
	out := fb.EmitLoadLocal(y, types.I64, ir.Span{})
	fb.SetReturn(out)

	f, err := Build(fb.F, testRegistry(), NewStringTable())
	require.NoError(t, err)
	require.NoError(t, RunPasses(f))

	storeIdx, loadIdx := -1, -1
	for i, v := range f.Entry.Values {
		if v.Op.IsStore() && storeIdx < 0 {
			storeIdx = i
		}
		if (v.Op == OpWasmI64Load) && loadIdx < 0 {
			loadIdx = i
		}
	}
	require.GreaterOrEqual(t, storeIdx, 0)
	require.GreaterOrEqual(t, loadIdx, 0)
	require.Less(t, storeIdx, loadIdx, "store must stay before the dependent load")
}

func TestLayoutDetectsLoopHeader(t *testing.T) {
	f, err := Build(loopFunc(t), testRegistry(), NewStringTable())
	require.NoError(t, err)
	require.NoError(t, RunPasses(f))

	hdr := f.LoopHeaders()
	count := 0
	for _, h := range hdr {
		if h {
			count++
		}
	}
	require.Equal(t, 1, count, "exactly one loop header")
	// The header is the block with the back-edge pred: block ID 1.
	require.True(t, hdr[1])
}

func TestVerifyCatchesUseCountViolation(t *testing.T) {
	f, err := Build(straightLine(t), testRegistry(), NewStringTable())
	require.NoError(t, err)
	var some *Value
	for _, v := range f.Entry.Values {
		if v.Op == OpAdd {
			some = v
		}
	}
	require.NotNil(t, some)
	some.Uses += 3
	require.Error(t, Verify(f))
}

func TestVerifyCatchesAsymmetricEdge(t *testing.T) {
	f, err := Build(diamond(t), testRegistry(), NewStringTable())
	require.NoError(t, err)
	// Corrupt one back reference: point it at the join's other pred slot.
	b := f.Blocks[1]
	require.NotEmpty(t, b.Succs)
	b.Succs[0].i = (b.Succs[0].i + 1) % 2
	require.Error(t, Verify(f))
}

func TestRewriteIterationLimit(t *testing.T) {
	f := NewFunc("f", testRegistry(), NewStringTable())
	f.Entry = f.NewBlock(BlockRet)
	// A rule that always reports change never reaches fixpoint.
	f.NewValue0(f.Entry, OpCopy, types.I64, ir.Span{})
	err := applyRewrite(f, "spin", func(_ *Func, _ *Value) bool { return true })
	require.Error(t, err)
	require.Contains(t, err.Error(), "spin")
}
