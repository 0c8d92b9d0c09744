// Package ir is the pre-SSA intermediate representation: the Lowerer walks
// the typed AST and populates a FuncBuilder per function, producing
// NodeIndex-addressed nodes grouped into Blocks.
package ir

import (
	"fmt"

	"github.com/cot-lang/cotc/types"
)

// NodeIndex addresses a Node within one Func's node arena. It is dense so
// side tables can be flat slices.
type NodeIndex uint32

const NodeIndexInvalid NodeIndex = ^NodeIndex(0)

// Op discriminates the IR node kinds: constants, arithmetic, loads/stores,
// field/index/slice access, pointer ops, calls, control flow,
// list/map/string/union primitives, and type_metadata, a symbolic type
// reference resolved at link time.
type Op byte

const (
	OpInvalid Op = iota

	// Constants.
	OpConstInt
	OpConstFloat
	OpConstBool
	OpConstString

	// Arithmetic / bitwise / comparison.
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpBand
	OpBor
	OpBxor
	OpShl
	OpShr
	OpNeg
	OpNot
	OpBnot
	OpCmpEq
	OpCmpNe
	OpCmpLt
	OpCmpLe
	OpCmpGt
	OpCmpGe
	OpLogicalAnd // short-circuit; the Lowerer expands to branches
	OpLogicalOr
	OpExtendU // widen an operand < 64 bits to 64 bits, unsigned
	OpExtendS

	// Locals / args / globals / pointers.
	OpArg
	OpLoadLocal
	OpStoreLocal
	OpStoreLocalField
	OpLocalAddr
	OpGlobalAddr
	OpPtrLoad
	OpPtrStore
	OpAddPtr // pointer + byte offset (constant or dynamic)

	// Field / index / slice access.
	OpFieldLoad
	OpFieldAddr
	OpIndexLoad
	OpIndexAddr
	OpSliceExpr

	// Calls.
	OpCall
	OpCallIndirect

	// Control flow terminators (also recorded on Block, see block.go).
	OpJump
	OpBranch
	OpReturn

	// ARC / heap.
	OpAlloc   // cot_alloc(metadata_ptr, size)
	OpRetain  // cot_retain(obj)
	OpRelease // cot_release(obj)
	OpTypeMetadata

	// List / map primitives.
	OpListMake
	OpListAppend
	OpListLen
	OpListGet
	OpListSet

	OpMapMake
	OpMapGet
	OpMapSet
	OpMapHas

	// String primitives.
	OpStringConcat
	OpStringLen
	OpStringEq

	// Union primitives.
	OpUnionMake
	OpUnionTag
	OpUnionPayload

	// Optional / error-union primitives.
	OpOptionalMake
	OpOptionalHasValue
	OpOptionalUnwrap
	OpErrUnionMakeOk
	OpErrUnionMakeErr
	OpErrUnionIsErr
	OpErrUnionUnwrap

	opMax
)

var opNames = [...]string{
	OpInvalid:          "invalid",
	OpConstInt:         "const_int",
	OpConstFloat:       "const_float",
	OpConstBool:        "const_bool",
	OpConstString:      "const_string",
	OpAdd:              "add",
	OpSub:              "sub",
	OpMul:              "mul",
	OpDiv:              "div",
	OpMod:              "mod",
	OpBand:             "band",
	OpBor:              "bor",
	OpBxor:             "bxor",
	OpShl:              "shl",
	OpShr:              "shr",
	OpNeg:              "neg",
	OpNot:              "not",
	OpBnot:             "bnot",
	OpCmpEq:            "cmp_eq",
	OpCmpNe:            "cmp_ne",
	OpCmpLt:            "cmp_lt",
	OpCmpLe:            "cmp_le",
	OpCmpGt:            "cmp_gt",
	OpCmpGe:            "cmp_ge",
	OpLogicalAnd:       "logical_and",
	OpLogicalOr:        "logical_or",
	OpExtendU:          "extend_u",
	OpExtendS:          "extend_s",
	OpArg:              "arg",
	OpLoadLocal:        "load_local",
	OpStoreLocal:       "store_local",
	OpStoreLocalField:  "store_local_field",
	OpLocalAddr:        "local_addr",
	OpGlobalAddr:       "global_addr",
	OpPtrLoad:          "ptr_load",
	OpPtrStore:         "ptr_store",
	OpAddPtr:           "add_ptr",
	OpFieldLoad:        "field_load",
	OpFieldAddr:        "field_addr",
	OpIndexLoad:        "index_load",
	OpIndexAddr:        "index_addr",
	OpSliceExpr:        "slice_expr",
	OpCall:             "call",
	OpCallIndirect:     "call_indirect",
	OpJump:             "jump",
	OpBranch:           "branch",
	OpReturn:           "return",
	OpAlloc:            "alloc",
	OpRetain:           "retain",
	OpRelease:          "release",
	OpTypeMetadata:     "type_metadata",
	OpListMake:         "list_make",
	OpListAppend:       "list_append",
	OpListLen:          "list_len",
	OpListGet:          "list_get",
	OpListSet:          "list_set",
	OpMapMake:          "map_make",
	OpMapGet:           "map_get",
	OpMapSet:           "map_set",
	OpMapHas:           "map_has",
	OpStringConcat:     "string_concat",
	OpStringLen:        "string_len",
	OpStringEq:         "string_eq",
	OpUnionMake:        "union_make",
	OpUnionTag:         "union_tag",
	OpUnionPayload:     "union_payload",
	OpOptionalMake:     "optional_make",
	OpOptionalHasValue: "optional_has_value",
	OpOptionalUnwrap:   "optional_unwrap",
	OpErrUnionMakeOk:   "err_union_make_ok",
	OpErrUnionMakeErr:  "err_union_make_err",
	OpErrUnionIsErr:    "err_union_is_err",
	OpErrUnionUnwrap:   "err_union_unwrap",
}

func (o Op) String() string {
	if int(o) < len(opNames) && opNames[o] != "" {
		return opNames[o]
	}
	return fmt.Sprintf("op(%d)", int(o))
}

// Span mirrors ast.Span without importing the ast package (ir must stay
// below ast in the dependency order so the Lowerer, which imports both,
// is the only place that bridges them).
type Span struct {
	File                string
	StartLine, StartCol int
	EndLine, EndCol     int
}

// Node is one IR instruction. Source spans are preserved on every node for
// diagnostics.
type Node struct {
	Op   Op
	Type types.TypeIndex

	// Args are the node's ordered operands.
	Args []NodeIndex

	// Aux carries op-specific immediate data.
	AuxInt    int64
	AuxInt2   int64 // secondary immediate: field offset for store_local_field
	AuxFloat  float64
	AuxString string // symbol name for type_metadata/global_addr/field name/builtin name/callee
	AuxBool   bool

	Span Span

	id    NodeIndex
	block *Block
}

func (n *Node) ID() NodeIndex { return n.id }

func (n *Node) reset() {
	*n = Node{}
}

func (n *Node) String() string {
	return fmt.Sprintf("n%d = %s<%s> %v", n.id, n.Op, typeName(n.Type), n.Args)
}

func typeName(t types.TypeIndex) string {
	return fmt.Sprintf("t%d", t)
}
