package ssa

import (
	"fmt"
	"strings"

	"github.com/cot-lang/cotc/ir"
	"github.com/cot-lang/cotc/types"
)

// ID is a dense value or block identifier, unique within one Func. Freed
// IDs are reused via the Func free lists to keep the range dense.
type ID int32

// Value is one SSA value: an operation applied to ordered operands,
// producing a result of a single type.
type Value struct {
	ID   ID
	Op   Op
	Type types.TypeIndex

	// AuxInt/AuxFloat/AuxStr carry op-specific immediates (argument slot,
	// constant, symbol name, byte offset).
	AuxInt   int64
	AuxFloat float64
	AuxStr   string

	Args []*Value

	// Block is the owning block; kept consistent with Block.Values by
	// every mutation helper.
	Block *Block

	// Uses counts (arg, control) references across the whole function.
	// Maintained lazily: construction and rewrite helpers keep it current
	// and verify recomputes it.
	Uses int32

	Pos ir.Span

	// nextFree threads the Func.freeValues intrusive list.
	nextFree *Value

	argstorage [3]*Value
}

// AddArg appends a to v's operands and bumps a's use count.
func (v *Value) AddArg(a *Value) {
	v.Args = append(v.Args, a)
	a.Uses++
}

// SetArg replaces operand i, maintaining use counts.
func (v *Value) SetArg(i int, a *Value) {
	v.Args[i].Uses--
	v.Args[i] = a
	a.Uses++
}

// SetArgs1 resets the operand list to one value.
func (v *Value) SetArgs1(a *Value) {
	v.resetArgs()
	v.AddArg(a)
}

// SetArgs2 resets the operand list to two values.
func (v *Value) SetArgs2(a, b *Value) {
	v.resetArgs()
	v.AddArg(a)
	v.AddArg(b)
}

func (v *Value) resetArgs() {
	for _, a := range v.Args {
		a.Uses--
	}
	v.argstorage[0] = nil
	v.argstorage[1] = nil
	v.argstorage[2] = nil
	v.Args = v.argstorage[:0]
}

// reset clears v for reuse from the free list, keeping its ID.
func (v *Value) reset(op Op) {
	v.resetArgs()
	v.Op = op
	v.AuxInt = 0
	v.AuxFloat = 0
	v.AuxStr = ""
}

// copyOf turns v into a Copy of a in place. Rewrite passes use this to
// replace a matched pattern without touching v's uses.
func (v *Value) copyOf(a *Value) {
	if v == a {
		return
	}
	v.reset(OpCopy)
	v.Type = a.Type
	v.AddArg(a)
}

func (v *Value) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "v%d = %s <t%d>", v.ID, v.Op, v.Type)
	if v.AuxInt != 0 {
		fmt.Fprintf(&sb, " [%d]", v.AuxInt)
	}
	if v.AuxStr != "" {
		fmt.Fprintf(&sb, " {%s}", v.AuxStr)
	}
	for _, a := range v.Args {
		fmt.Fprintf(&sb, " v%d", a.ID)
	}
	return sb.String()
}
