package wasmcodegen

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cot-lang/cotc/ir"
	"github.com/cot-lang/cotc/ssa"
	"github.com/cot-lang/cotc/types"
	"github.com/cot-lang/cotc/wasmlink"
)

// fakeEnv resolves every symbol to a fixed stand-in.
type fakeEnv struct{}

func (fakeEnv) FuncIndex(name string) uint32         { return 7 }
func (fakeEnv) GlobalAddr(name string) int64         { return 1 << 16 }
func (fakeEnv) MetadataAddr(name string) int64       { return 1<<16 + 64 }
func (fakeEnv) StringAddr(i int64) int64             { return 1<<16 + 128 + i }
func (fakeEnv) SPGlobal() uint32                     { return 0 }
func (fakeEnv) TypeIndex(params, results int) uint32 { return uint32(params) }

func buildAndLower(t *testing.T, irf *ir.Func) *ssa.Func {
	t.Helper()
	f, err := ssa.Build(irf, types.NewRegistry(), ssa.NewStringTable())
	require.NoError(t, err)
	require.NoError(t, ssa.RunPasses(f))
	return f
}

func TestEmitStraightLine(t *testing.T) {
	fb := ir.NewFuncBuilder("f", []types.TypeIndex{types.I64}, types.I64)
	b0 := fb.NewBlock()
	fb.SetCurrent(b0)
	a := fb.EmitArg(0, types.I64, ir.Span{})
	ten := fb.EmitConstInt(10, types.I64, ir.Span{})
	sum := fb.EmitBinary(ir.OpAdd, a, ten, types.I64, ir.Span{})
	fb.SetReturn(sum)

	body, err := Emit(buildAndLower(t, fb.F), fakeEnv{})
	require.NoError(t, err)
	// local.get 0, i64.const 10, i64.add somewhere, ending in return+end.
	require.True(t, bytes.Contains(body, []byte{wasmlink.OpI64Add}))
	require.True(t, bytes.Contains(body, []byte{wasmlink.OpReturn}))
	require.Equal(t, byte(wasmlink.OpEnd), body[len(body)-1])
}

func TestEmitLoopStructure(t *testing.T) {
	// while i < 3 { i = i + 1 } — a loop whose body does not branch
	// still emits the loop/end pair so the br target exists.
	fb := ir.NewFuncBuilder("f", nil, types.I64)
	i := fb.F.AllocLocal(8, types.I64)
	b0 := fb.NewBlock()
	header := fb.NewBlock()
	body := fb.NewBlock()
	exit := fb.NewBlock()

	fb.SetCurrent(b0)
	fb.EmitStoreLocal(i, fb.EmitConstInt(0, types.I64, ir.Span{}), ir.Span{})
	fb.SetJump(header)

	fb.SetCurrent(header)
	iv := fb.EmitLoadLocal(i, types.I64, ir.Span{})
	lt := fb.EmitBinary(ir.OpCmpLt, iv, fb.EmitConstInt(3, types.I64, ir.Span{}), types.BOOL, ir.Span{})
	fb.SetBranch(lt, body, exit)

	fb.SetCurrent(body)
	iv2 := fb.EmitLoadLocal(i, types.I64, ir.Span{})
	inc := fb.EmitBinary(ir.OpAdd, iv2, fb.EmitConstInt(1, types.I64, ir.Span{}), types.I64, ir.Span{})
	fb.EmitStoreLocal(i, inc, ir.Span{})
	fb.SetJump(header)

	fb.SetCurrent(exit)
	fin := fb.EmitLoadLocal(i, types.I64, ir.Span{})
	fb.SetReturn(fin)

	out, err := Emit(buildAndLower(t, fb.F), fakeEnv{})
	require.NoError(t, err)
	require.True(t, bytes.Contains(out, []byte{wasmlink.OpLoop, wasmlink.BlockVoid}), "loop opening expected")
	require.True(t, bytes.Contains(out, []byte{wasmlink.OpBr, 0x00}), "back edge br expected")
	// The branch condition narrows to i32 before br_if.
	require.True(t, bytes.Contains(out, []byte{wasmlink.OpI32WrapI64}))
}

func TestABISlots(t *testing.T) {
	reg := types.NewRegistry()
	structT := reg.MakeStruct("S", []types.Field{{Name: "x", Type: types.I64}})

	for _, tc := range []struct {
		name    string
		params  []types.TypeIndex
		result  types.TypeIndex
		nparams int
		nres    int
	}{
		{"scalar", []types.TypeIndex{types.I64}, types.I64, 1, 1},
		{"void", nil, types.VOID, 0, 0},
		{"string param takes two slots", []types.TypeIndex{types.STRING}, types.I64, 2, 1},
		{"string result via sret", nil, types.STRING, 1, 0},
		{"struct param by reference", []types.TypeIndex{structT}, types.VOID, 1, 0},
		{"struct result via sret", nil, structT, 1, 0},
	} {
		t.Run(tc.name, func(t *testing.T) {
			np, nr := ABISlots(reg, tc.params, tc.result)
			require.Equal(t, tc.nparams, np)
			require.Equal(t, tc.nres, nr)
		})
	}
}
