package ssa

// layout orders the blocks for structured-control-flow reconstruction:
// reverse postorder from the entry, which places loop headers before
// their bodies so a back edge is exactly an edge to an earlier block in
// the order. The codegen detects loop headers by that property.
//
// Unreachable blocks sort after the reachable ones; NumReachable marks
// the boundary and the codegen emits only the reachable prefix.
func layout(f *Func) {
	splitCriticalEdges(f)
	po := f.Postorder()
	order := make([]*Block, 0, len(f.Blocks))
	for i := len(po) - 1; i >= 0; i-- {
		order = append(order, po[i])
	}
	f.NumReachable = len(order)
	seen := make(map[*Block]bool, len(order))
	for _, b := range order {
		seen[b] = true
	}
	for _, b := range f.Blocks {
		if !seen[b] {
			order = append(order, b)
		}
	}
	f.Blocks = order
}

// splitCriticalEdges inserts an empty block on every edge whose source
// has multiple successors and whose target has multiple predecessors, so
// phi moves always have a single-successor block to live in.
func splitCriticalEdges(f *Func) {
	for _, b := range append([]*Block(nil), f.Blocks...) {
		if len(b.Succs) < 2 {
			continue
		}
		for i := range b.Succs {
			t := b.Succs[i].b
			if len(t.Preds) < 2 {
				continue
			}
			j := b.Succs[i].i
			mid := f.NewBlock(BlockPlain)
			mid.Preds = append(mid.Preds, Edge{b, i})
			mid.Succs = append(mid.Succs, Edge{t, j})
			b.Succs[i] = Edge{mid, 0}
			t.Preds[j] = Edge{mid, 0}
		}
	}
	f.invalidateCFG()
}

// LayoutIndex returns each block's position in the final layout, indexed
// by block ID.
func (f *Func) LayoutIndex() []int {
	idx := make([]int, f.bid)
	for i := range idx {
		idx[i] = -1
	}
	for i, b := range f.Blocks {
		idx[b.ID] = i
	}
	return idx
}

// LoopHeaders reports, indexed by block ID, whether each block is the
// target of a back edge under the current layout.
func (f *Func) LoopHeaders() []bool {
	idx := f.LayoutIndex()
	hdr := make([]bool, f.bid)
	for _, b := range f.Blocks {
		for _, e := range b.Preds {
			if p := idx[e.b.ID]; p >= idx[b.ID] {
				hdr[b.ID] = true
			}
		}
	}
	return hdr
}
