// Package arc holds the compile-time state for automatic reference
// counting: the cleanup stack the Lowerer drives on every scope exit, the
// managed-value pairing of an IR node with its cleanup handle, and the
// byte layout of heap objects and type metadata the emitted code relies on.
package arc

import (
	"math"

	"github.com/cot-lang/cotc/ir"
	"github.com/cot-lang/cotc/types"
)

// CleanupHandle is a dense index into a CleanupStack. InvalidHandle is the
// sentinel for values that own no cleanup.
type CleanupHandle uint64

const InvalidHandle CleanupHandle = math.MaxUint64

// CleanupKind discriminates what a cleanup does when emitted.
type CleanupKind byte

const (
	CleanupRelease CleanupKind = iota
	CleanupEndBorrow
)

// CleanupState tracks a cleanup's lifecycle. Dead cleanups were disabled
// by ownership forwarding; active cleanups fire on scope exit. No code
// path assigns StateDormant: errdefer cleanups are active and carry
// ErrorOnly instead.
type CleanupState byte

const (
	StateDormant CleanupState = iota
	StateDead
	StateActive
)

// Cleanup is one registered deferred action.
type Cleanup struct {
	Kind  CleanupKind
	Node  ir.NodeIndex
	Type  types.TypeIndex
	State CleanupState
	// ErrorOnly marks errdefer-registered cleanups, emitted only when
	// flowing out via the error arm of a try/catch.
	ErrorOnly bool
}

// Emitter receives each cleanup as it is emitted. The Lowerer supplies a
// closure that emits the cot_release call (or borrow end) into the current
// IR block.
type Emitter func(kind CleanupKind, node ir.NodeIndex, typ types.TypeIndex)

// CleanupStack is the LIFO of pending cleanups for the function currently
// being lowered. Scope depth is the stack length at entry to a lexical
// block.
type CleanupStack struct {
	cleanups []Cleanup
}

// Depth returns the current stack length; callers record it on scope entry
// and pass it back to EmitToDepth on exit.
func (s *CleanupStack) Depth() int { return len(s.cleanups) }

// Push registers an active cleanup and returns its handle.
func (s *CleanupStack) Push(kind CleanupKind, node ir.NodeIndex, typ types.TypeIndex) CleanupHandle {
	h := CleanupHandle(len(s.cleanups))
	s.cleanups = append(s.cleanups, Cleanup{Kind: kind, Node: node, Type: typ, State: StateActive})
	return h
}

// PushErrorOnly registers an errdefer cleanup, emitted only on error paths.
func (s *CleanupStack) PushErrorOnly(kind CleanupKind, node ir.NodeIndex, typ types.TypeIndex) CleanupHandle {
	h := CleanupHandle(len(s.cleanups))
	s.cleanups = append(s.cleanups, Cleanup{Kind: kind, Node: node, Type: typ, State: StateActive, ErrorOnly: true})
	return h
}

// Disable marks the cleanup dead so later emissions skip it. Used by
// ManagedValue.Forward when ownership transfers out of the scope.
func (s *CleanupStack) Disable(h CleanupHandle) {
	if h == InvalidHandle {
		return
	}
	s.cleanups[h].State = StateDead
}

// ActiveAbove reports how many active cleanups sit above depth.
func (s *CleanupStack) ActiveAbove(depth int) int {
	n := 0
	for i := depth; i < len(s.cleanups); i++ {
		if s.cleanups[i].State == StateActive {
			n++
		}
	}
	return n
}

// EmitToDepth calls emit once per active cleanup above depth, in reverse
// (LIFO) order, then truncates the stack to depth. ErrorOnly cleanups are
// skipped; use EmitToDepthForError on error paths.
func (s *CleanupStack) EmitToDepth(depth int, emit Emitter) {
	s.emitToDepth(depth, false, true, emit)
}

// EmitToDepthForError is EmitToDepth for error-arm exits: errdefer
// cleanups fire too.
func (s *CleanupStack) EmitToDepthForError(depth int, emit Emitter) {
	s.emitToDepth(depth, true, true, emit)
}

// EmitToDepthNoPop emits without truncating, for early exits (break,
// continue, return) that leave the lexical scope alive for fallthrough
// paths still to be lowered.
func (s *CleanupStack) EmitToDepthNoPop(depth int, emit Emitter) {
	s.emitToDepth(depth, false, false, emit)
}

func (s *CleanupStack) emitToDepth(depth int, errorPath, pop bool, emit Emitter) {
	for i := len(s.cleanups) - 1; i >= depth; i-- {
		c := &s.cleanups[i]
		if c.State != StateActive {
			continue
		}
		if c.ErrorOnly && !errorPath {
			continue
		}
		emit(c.Kind, c.Node, c.Type)
	}
	if pop {
		s.cleanups = s.cleanups[:depth]
	}
}

// ManagedValue pairs an IR node with its cleanup handle.
type ManagedValue struct {
	Node   ir.NodeIndex
	Handle CleanupHandle
}

// ForOwned creates a +1 managed value owning a fresh release cleanup.
func ForOwned(s *CleanupStack, node ir.NodeIndex, typ types.TypeIndex) ManagedValue {
	h := s.Push(CleanupRelease, node, typ)
	return ManagedValue{Node: node, Handle: h}
}

// ForTrivial creates a +0 managed value with no cleanup.
func ForTrivial(node ir.NodeIndex) ManagedValue {
	return ManagedValue{Node: node, Handle: InvalidHandle}
}

// Forward transfers ownership: the cleanup is disabled so the value is not
// released on scope exit, and the bare node index is returned.
func (m ManagedValue) Forward(s *CleanupStack) ir.NodeIndex {
	s.Disable(m.Handle)
	return m.Node
}

// IsManaged reports whether the value owns an active cleanup.
func (m ManagedValue) IsManaged() bool { return m.Handle != InvalidHandle }

// Heap object layout (Wasm32). The header precedes the user data:
//
//	[u32 metadata_ptr][i64 refcount]   user data...
//	 0                 4               HeaderSize (12)
const (
	HeaderMetadataOffset = 0
	HeaderRefcountOffset = 4
	HeaderSize           = 12
)

// Metadata record layout, packed into the metadata data segment:
//
//	[u32 type_id][u32 size_placeholder][u32 destructor_table_index]
const (
	MetadataTypeIDOffset     = 0
	MetadataSizeOffset       = 4
	MetadataDestructorOffset = 8
	MetadataRecordSize       = 12
)

// ImmortalRefcount disables retain/release for string-literal-like
// objects.
const ImmortalRefcount int64 = 0x7FFF_FFFF_FFFF_FFFF
