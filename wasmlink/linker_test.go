package wasmlink

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTypeDedup(t *testing.T) {
	l := New()
	a := l.TypeIndex(2, 1)
	b := l.TypeIndex(2, 1)
	c := l.TypeIndex(1, 0)
	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
}

func TestBodyLocalsEncoding(t *testing.T) {
	b := NewBody(1)
	first := b.AddI64Locals(2)
	require.Equal(t, uint32(1), first, "locals index after the params")
	b.I64Const(7)
	b.LocalSet(first)
	out := b.Finish()
	// 1 group, 2 i64 locals, then i64.const 7, local.set 1, end.
	require.Equal(t, []byte{0x01, 0x02, ValI64, OpI64Const, 0x07, OpLocalSet, 0x01, OpEnd}, out)
}

func newTestLinker() *Linker {
	l := New()
	l.SetLiterals([]string{"hello "})
	l.DeclareRuntime(false)
	return l
}

func TestFinalizeModuleShape(t *testing.T) {
	l := newTestLinker()
	l.DeclareFunc("main", 0, 1, true)
	l.ComputeLayout()

	mb := NewBody(0)
	mb.I64Const(42)
	l.SetBody("main", mb.Finish())
	l.EmitRuntimeBodies(false)

	out, err := l.Finalize()
	require.NoError(t, err)

	// Magic and version.
	require.True(t, bytes.HasPrefix(out, []byte{0x00, 'a', 's', 'm', 0x01, 0x00, 0x00, 0x00}))
	// Memory and main are exported by name.
	require.True(t, bytes.Contains(out, []byte("memory")))
	require.True(t, bytes.Contains(out, []byte("main")))
	// The string data segment carries the literal.
	require.True(t, bytes.Contains(out, []byte("hello ")))
	// Runtime literals rode along.
	require.True(t, bytes.Contains(out, []byte("FAILED")))
}

func TestFinalizeRejectsMissingBody(t *testing.T) {
	l := newTestLinker()
	l.DeclareFunc("main", 0, 1, true)
	l.ComputeLayout()
	l.EmitRuntimeBodies(false)
	_, err := l.Finalize()
	require.Error(t, err)
	require.Contains(t, err.Error(), "main")
}

func TestDestructorTable(t *testing.T) {
	l := newTestLinker()
	l.AddMetadata("Tracer", 1, 8)
	l.DeclareFunc("Tracer_deinit", 1, 0, false)
	l.DeclareFunc("main", 0, 1, true)
	l.ComputeLayout()

	// Index 0 is reserved null; the first destructor lands at 1.
	require.Equal(t, uint32(1), l.destructorTableIndex("Tracer"))
	require.Equal(t, uint32(0), l.destructorTableIndex("Other"))
	require.Len(t, l.destructors(), 1)
}

func TestLayoutDeterministic(t *testing.T) {
	build := func() *Linker {
		l := New()
		l.SetLiterals([]string{"a", "bc"})
		l.DeclareRuntime(false)
		l.AddGlobalCell("counter", 8, 5)
		l.AddMetadata("T", 1, 16)
		l.ComputeLayout()
		return l
	}
	a, b := build(), build()
	require.Equal(t, a.StringAddr(0), b.StringAddr(0))
	require.Equal(t, a.StringAddr(1), b.StringAddr(1))
	require.Equal(t, a.GlobalAddr("counter"), b.GlobalAddr("counter"))
	require.Equal(t, a.MetadataAddr("T"), b.MetadataAddr("T"))
	// Strings pack contiguously from the data base.
	require.Equal(t, int64(DataBase), a.StringAddr(0))
	require.Equal(t, int64(DataBase+1), a.StringAddr(1))
	// The heap starts after every segment, 8-aligned.
	require.Equal(t, int64(0), a.heapBase%8)
	require.Greater(t, a.heapBase, a.GlobalAddr("counter"))
}

func TestGlobalInitSegment(t *testing.T) {
	l := newTestLinker()
	l.AddGlobalCell("counter", 8, 7)
	l.DeclareFunc("main", 0, 1, true)
	l.ComputeLayout()
	mb := NewBody(0)
	mb.I64Const(0)
	l.SetBody("main", mb.Finish())
	l.EmitRuntimeBodies(false)
	out, err := l.Finalize()
	require.NoError(t, err)
	// The init value appears as a little-endian cell in the data
	// section.
	require.True(t, bytes.Contains(out, []byte{7, 0, 0, 0, 0, 0, 0, 0}))
}
