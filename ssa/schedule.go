package ssa

import (
	"fmt"
	"sort"

	"github.com/cot-lang/cotc/diag"
)

// Scheduling priorities; lower runs earlier.
const (
	scorePhi = iota
	scoreArg
	scoreSelect
	scoreStore
	scoreDefault
	scoreControl
)

func schedulePriority(b *Block, v *Value) int {
	switch {
	case v.Op == OpPhi:
		return scorePhi
	case v.Op == OpArg:
		return scoreArg
	case v.Op == OpSelectN:
		return scoreSelect
	case v.Op.IsStore():
		return scoreStore
	case b.Controls[0] == v || b.Controls[1] == v:
		return scoreControl
	default:
		return scoreDefault
	}
}

// schedule orders the values within each block: a priority-based
// topological sort over the operand edges plus memory-ordering edges
// (store->store chains, and store->load on the same memory), tie-broken
// by original position.
func schedule(f *Func) error {
	for _, b := range f.Blocks {
		if err := scheduleBlock(f, b); err != nil {
			return err
		}
	}
	if diag.Enabled(diag.PhaseSchedule) {
		diag.Logf(diag.PhaseSchedule, "scheduled %s:\n%s", f.Name, f.Format())
	}
	return nil
}

func scheduleBlock(f *Func, b *Block) error {
	n := len(b.Values)
	if n == 0 {
		return nil
	}

	origPos := make(map[*Value]int, n)
	inBlock := make(map[*Value]bool, n)
	for i, v := range b.Values {
		origPos[v] = i
		inBlock[v] = true
	}

	// Dependency edges: arg -> user within the block.
	inEdges := make(map[*Value]int, n)
	users := make(map[*Value][]*Value, n)
	addEdge := func(from, to *Value) {
		users[from] = append(users[from], to)
		inEdges[to]++
	}
	for _, v := range b.Values {
		if v.Op == OpPhi {
			// Phi args come from predecessors; no intra-block edges.
			continue
		}
		for _, a := range v.Args {
			if inBlock[a] && a != v {
				addEdge(a, v)
			}
		}
	}

	// Memory-ordering edges preserve the original program order among
	// memory operations: each store chains after the previous memory op,
	// and loads chain after the previous store. Calls act as both.
	var lastStore *Value
	var sinceStore []*Value
	for _, v := range b.Values {
		mem := v.Op.IsMemory() || v.Op.IsCall()
		if !mem {
			continue
		}
		if v.Op.IsStore() || v.Op.IsCall() {
			if lastStore != nil && lastStore != v {
				addEdge(lastStore, v)
			}
			for _, ld := range sinceStore {
				if ld != v {
					addEdge(ld, v)
				}
			}
			lastStore = v
			sinceStore = sinceStore[:0]
		} else {
			if lastStore != nil {
				addEdge(lastStore, v)
			}
			sinceStore = append(sinceStore, v)
		}
	}

	// Ready set seeded with zero-dependency values; pick the lowest
	// priority, tie-breaking by original position.
	ready := make([]*Value, 0, n)
	for _, v := range b.Values {
		if inEdges[v] == 0 {
			ready = append(ready, v)
		}
	}
	pick := func() *Value {
		sort.Slice(ready, func(i, j int) bool {
			pi, pj := schedulePriority(b, ready[i]), schedulePriority(b, ready[j])
			if pi != pj {
				return pi < pj
			}
			return origPos[ready[i]] < origPos[ready[j]]
		})
		v := ready[0]
		ready = ready[1:]
		return v
	}

	order := make([]*Value, 0, n)
	for len(ready) > 0 {
		v := pick()
		order = append(order, v)
		for _, u := range users[v] {
			inEdges[u]--
			if inEdges[u] == 0 {
				ready = append(ready, u)
			}
		}
	}

	if len(order) != n {
		var unplaced []string
		scheduled := make(map[*Value]bool, len(order))
		for _, v := range order {
			scheduled[v] = true
		}
		for _, v := range b.Values {
			if !scheduled[v] {
				unplaced = append(unplaced, fmt.Sprintf("v%d", v.ID))
			}
		}
		return &diag.ScheduleIncompleteError{Func: f.Name, Block: int(b.ID), Unplaced: unplaced}
	}
	copy(b.Values, order)
	return nil
}
