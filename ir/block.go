package ir

import "github.com/cot-lang/cotc/types"

// BlockID is the dense identifier of a Block within a Func.
type BlockID uint32

// TerminatorKind discriminates how a Block exits.
type TerminatorKind byte

const (
	TermNone TerminatorKind = iota
	TermJump
	TermBranch
	TermReturn
)

// PhiSource records, for a phi candidate local at a join block, which
// predecessor block contributed which value; consumed by the SSA builder
// when it resolves FwdRef values.
type PhiSource struct {
	Local Local
	Pred  BlockID
	Value NodeIndex
}

// Block owns an ordered list of node indices and an optional terminator.
type Block struct {
	id    BlockID
	nodes []NodeIndex
	term  TerminatorKind
	// Cond is the branch condition node for TermBranch.
	Cond NodeIndex
	// Targets holds jump/branch destinations: len 1 for TermJump, len 2
	// ([then, else]) for TermBranch.
	Targets []BlockID
	// ReturnValue is the node for TermReturn (NodeIndexInvalid for a bare
	// `return`).
	ReturnValue NodeIndex

	Preds []BlockID

	PhiSources []PhiSource
}

func (b *Block) ID() BlockID                { return b.id }
func (b *Block) Nodes() []NodeIndex         { return b.nodes }
func (b *Block) Terminator() TerminatorKind { return b.term }

func (b *Block) append(n NodeIndex) {
	b.nodes = append(b.nodes, n)
}

// Local is a dense index into Func.Locals.
type Local uint32

// LocalInfo records a local's size and type.
type LocalInfo struct {
	Size uint32
	Type types.TypeIndex
}
