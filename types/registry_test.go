package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWellKnownIndices(t *testing.T) {
	r := NewRegistry()
	require.Equal(t, Kind(KindBool), r.Info(BOOL).Kind)
	require.EqualValues(t, 1, r.Size(BOOL))
	require.EqualValues(t, 8, r.Size(I64))
	require.EqualValues(t, 4, r.Size(F32))
	require.EqualValues(t, 8, r.Size(F64))
	require.EqualValues(t, 16, r.Size(STRING))
	require.Equal(t, KindString, r.Info(STRING).Kind)
	require.Equal(t, U8, r.Info(STRING).Elem)
}

func TestPointerDedup(t *testing.T) {
	r := NewRegistry()
	p1 := r.MakePointer(I64)
	p2 := r.MakePointer(I64)
	require.Equal(t, p1, p2, "pointer-to-T must be unique")

	p3 := r.MakePointer(F64)
	require.NotEqual(t, p1, p3)
}

func TestCompoundDedup(t *testing.T) {
	r := NewRegistry()
	require.Equal(t, r.MakeSlice(U8), r.MakeSlice(U8))
	require.Equal(t, r.MakeOptional(I32), r.MakeOptional(I32))
	require.Equal(t, r.MakeArray(I32, 4), r.MakeArray(I32, 4))
	require.NotEqual(t, r.MakeArray(I32, 4), r.MakeArray(I32, 5))
	require.Equal(t, r.MakeMap(STRING, I64), r.MakeMap(STRING, I64))
	require.Equal(t, r.MakeErrorUnion(I64, STRING), r.MakeErrorUnion(I64, STRING))
	require.Equal(t, r.MakeFunc([]TypeIndex{I64, I64}, I64), r.MakeFunc([]TypeIndex{I64, I64}, I64))
	require.NotEqual(t, r.MakeFunc([]TypeIndex{I64}, I64), r.MakeFunc([]TypeIndex{I64, I64}, I64))
}

func TestGenericStructInstantiationDedupByName(t *testing.T) {
	// Two instantiations of a generic struct with equivalent-but-nominally
	// distinct TypeIndex parameters must still canonicalize to the same
	// struct identity once named the same; otherwise downstream caches miss
	// and pointer-to-T stops being unique.
	r := NewRegistry()
	p1 := r.MakePointer(I64)
	name := "Box<i64>"
	s1 := r.MakeStruct(name, []Field{{Name: "value", Type: p1}})
	s2 := r.MakeStruct(name, []Field{{Name: "value", Type: p1}})
	require.Equal(t, s1, s2)
}

func TestStructLayout(t *testing.T) {
	r := NewRegistry()
	s := r.MakeStruct("Pair", []Field{
		{Name: "a", Type: U8},
		{Name: "b", Type: I64},
	})
	info := r.Info(s)
	require.EqualValues(t, 0, info.Fields[0].Offset)
	require.EqualValues(t, 8, info.Fields[1].Offset) // padded to i64 alignment
	require.EqualValues(t, 16, info.Size)
}

func TestUnionVariantResolution(t *testing.T) {
	r := NewRegistry()
	payload := r.MakeStruct("Some_payload", []Field{{Name: "v", Type: I64}})
	u := r.MakeUnion("Option", []UnionVariant{
		{Name: "None", HasPayload: false},
		{Name: "Some", HasPayload: true, Payload: payload},
	})
	require.Equal(t, 0, r.VariantIndex(u, "None"))
	require.Equal(t, 1, r.VariantIndex(u, "Some"))
	require.Equal(t, -1, r.VariantIndex(u, "Missing"))
}
