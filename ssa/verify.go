package ssa

import (
	"fmt"

	"github.com/cot-lang/cotc/diag"
)

// Verify checks the SSA invariants: value/block ownership, edge symmetry,
// argument validity, and use counts. It is run after every pass; a
// failure is a compiler bug.
func Verify(f *Func) error {
	fail := func(format string, args ...interface{}) error {
		return &diag.ValidationError{Func: f.Name, Message: fmt.Sprintf(format, args...)}
	}

	// 1. Every value's block backlink matches a block that lists it.
	for _, b := range f.Blocks {
		for _, v := range b.Values {
			if v.Block != b {
				return fail("v%d listed in b%d but claims block %v", v.ID, b.ID, v.Block)
			}
			if v.Op == OpInvalid {
				return fail("freed value v%d still listed in b%d", v.ID, b.ID)
			}
		}
	}

	// 2. Edge symmetry: for each edge A --(succ i)--> B, B's pred slot
	// back-references A at the recorded index.
	for _, b := range f.Blocks {
		for i, e := range b.Succs {
			back := e.b.Preds[e.i]
			if back.b != b || back.i != i {
				return fail("asymmetric edge b%d->b%d", b.ID, e.b.ID)
			}
		}
		for i, e := range b.Preds {
			back := e.b.Succs[e.i]
			if back.b != b || back.i != i {
				return fail("asymmetric pred edge b%d<-b%d", b.ID, e.b.ID)
			}
		}
	}

	// 3. Args reference live values.
	for _, b := range f.Blocks {
		for _, v := range b.Values {
			for _, a := range v.Args {
				if a == nil {
					return fail("v%d has nil arg", v.ID)
				}
				if a.Op == OpInvalid || a.Block == nil {
					return fail("v%d references freed value v%d", v.ID, a.ID)
				}
			}
		}
	}

	// 4. Use counts match the actual (arg, control) reference totals.
	counts := make(map[*Value]int32)
	for _, b := range f.Blocks {
		for _, v := range b.Values {
			for _, a := range v.Args {
				counts[a]++
			}
		}
		for _, c := range b.Controls {
			if c != nil {
				counts[c]++
			}
		}
	}
	for _, b := range f.Blocks {
		for _, v := range b.Values {
			if v.Uses != counts[v] {
				return fail("v%d uses=%d but %d references found", v.ID, v.Uses, counts[v])
			}
		}
	}

	// Phi arity matches predecessor count.
	for _, b := range f.Blocks {
		for _, v := range b.Values {
			if v.Op == OpPhi && len(v.Args) != len(b.Preds) {
				return fail("phi v%d has %d args for %d preds", v.ID, len(v.Args), len(b.Preds))
			}
		}
	}
	return nil
}

// VerifyDecomposed additionally checks the post-decompose size bound.
func VerifyDecomposed(f *Func) error {
	if err := Verify(f); err != nil {
		return err
	}
	for _, b := range f.Blocks {
		for _, v := range b.Values {
			if sz := f.Types.Size(v.Type); sz > MaxSSASize {
				return &diag.ValidationError{Func: f.Name,
					Message: fmt.Sprintf("v%d type size %d exceeds %d after decompose", v.ID, sz, MaxSSASize)}
			}
		}
	}
	return nil
}

// VerifyScheduled additionally checks that phis precede all non-phi
// values in every block.
func VerifyScheduled(f *Func) error {
	if err := Verify(f); err != nil {
		return err
	}
	for _, b := range f.Blocks {
		sawNonPhi := false
		for _, v := range b.Values {
			if v.Op == OpPhi {
				if sawNonPhi {
					return &diag.ValidationError{Func: f.Name,
						Message: fmt.Sprintf("phi v%d after non-phi in b%d", v.ID, b.ID)}
				}
			} else {
				sawNonPhi = true
			}
		}
	}
	return nil
}
