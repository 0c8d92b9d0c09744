package arc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cot-lang/cotc/ir"
	"github.com/cot-lang/cotc/types"
)

type emitted struct {
	kind CleanupKind
	node ir.NodeIndex
}

func collect(dst *[]emitted) Emitter {
	return func(kind CleanupKind, node ir.NodeIndex, typ types.TypeIndex) {
		*dst = append(*dst, emitted{kind, node})
	}
}

func TestEmitToDepthLIFO(t *testing.T) {
	var s CleanupStack
	require.Equal(t, 0, s.Depth())
	s.Push(CleanupRelease, 1, types.I64)
	s.Push(CleanupRelease, 2, types.I64)
	s.Push(CleanupRelease, 3, types.I64)

	var got []emitted
	s.EmitToDepth(0, collect(&got))
	require.Equal(t, []emitted{{CleanupRelease, 3}, {CleanupRelease, 2}, {CleanupRelease, 1}}, got)
	require.Equal(t, 0, s.Depth())
}

func TestDisableSkipsEmission(t *testing.T) {
	var s CleanupStack
	s.Push(CleanupRelease, 1, types.I64)
	h := s.Push(CleanupRelease, 2, types.I64)
	s.Push(CleanupRelease, 3, types.I64)
	s.Disable(h)

	var got []emitted
	s.EmitToDepth(0, collect(&got))
	require.Equal(t, []emitted{{CleanupRelease, 3}, {CleanupRelease, 1}}, got)
}

func TestEmitToInnerDepth(t *testing.T) {
	var s CleanupStack
	s.Push(CleanupRelease, 1, types.I64)
	depth := s.Depth()
	s.Push(CleanupRelease, 2, types.I64)
	s.Push(CleanupRelease, 3, types.I64)

	var got []emitted
	s.EmitToDepth(depth, collect(&got))
	require.Equal(t, []emitted{{CleanupRelease, 3}, {CleanupRelease, 2}}, got)
	// The outer cleanup stays registered.
	require.Equal(t, 1, s.Depth())
	require.Equal(t, 1, s.ActiveAbove(0))
}

func TestEmitNoPopLeavesStack(t *testing.T) {
	var s CleanupStack
	s.Push(CleanupRelease, 1, types.I64)
	s.Push(CleanupRelease, 2, types.I64)

	var got []emitted
	s.EmitToDepthNoPop(0, collect(&got))
	require.Len(t, got, 2)
	// break/continue emission must not disturb the stack: the fallthrough
	// path still needs these cleanups.
	require.Equal(t, 2, s.Depth())
}

func TestErrorOnlyCleanups(t *testing.T) {
	var s CleanupStack
	s.Push(CleanupRelease, 1, types.I64)
	s.PushErrorOnly(CleanupRelease, 2, types.I64)

	var normal []emitted
	s.EmitToDepthNoPop(0, collect(&normal))
	require.Equal(t, []emitted{{CleanupRelease, 1}}, normal)

	var errPath []emitted
	s.EmitToDepthForError(0, collect(&errPath))
	require.Equal(t, []emitted{{CleanupRelease, 2}, {CleanupRelease, 1}}, errPath)
}

func TestManagedValueForward(t *testing.T) {
	var s CleanupStack
	mv := ForOwned(&s, 7, types.STRING)
	require.True(t, mv.IsManaged())
	require.Equal(t, ir.NodeIndex(7), mv.Forward(&s))

	var got []emitted
	s.EmitToDepth(0, collect(&got))
	require.Empty(t, got)
}

func TestForTrivial(t *testing.T) {
	var s CleanupStack
	mv := ForTrivial(9)
	require.False(t, mv.IsManaged())
	// Forwarding a trivial value is a no-op on the stack.
	require.Equal(t, ir.NodeIndex(9), mv.Forward(&s))
	require.Equal(t, 0, s.Depth())
}

func TestPushDisableEmitCountsBalance(t *testing.T) {
	// For every owned allocation, releases on scope exit equal pushes
	// minus forwards.
	var s CleanupStack
	a := ForOwned(&s, 1, types.I64)
	ForOwned(&s, 2, types.I64)
	ForOwned(&s, 3, types.I64)
	a.Forward(&s)

	var got []emitted
	s.EmitToDepth(0, collect(&got))
	require.Len(t, got, 2)
}
