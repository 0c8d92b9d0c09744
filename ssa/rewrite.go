package ssa

import "github.com/cot-lang/cotc/diag"

// rewriteIterLimit bounds every fixpoint rewrite pass; exceeding it means
// a rule reintroduced a pattern another rule removes, which is a bug.
const rewriteIterLimit = 100

// rewriteFn mutates one value in place; it reports whether it changed
// anything.
type rewriteFn func(f *Func, v *Value) bool

// applyRewrite runs fn over every value until fixpoint, bounded by
// rewriteIterLimit.
func applyRewrite(f *Func, passName string, fn rewriteFn) error {
	for iter := 0; ; iter++ {
		if iter >= rewriteIterLimit {
			return &diag.IterationLimitError{Pass: passName, Limit: rewriteIterLimit}
		}
		changed := false
		for _, b := range f.Blocks {
			for _, v := range b.Values {
				if fn(f, v) {
					changed = true
				}
			}
		}
		if !changed {
			return nil
		}
	}
}

// followCopy resolves chains of Copy values to the underlying definition.
func followCopy(v *Value) *Value {
	for v.Op == OpCopy {
		v = v.Args[0]
	}
	return v
}

// extractStringPtr returns the pointer component of a string-shaped
// value, accepting either StringMake or SliceMake producers (STRING is a
// slice internally, so both appear at extraction points). Returns nil if
// the producer is opaque.
func extractStringPtr(v *Value) *Value {
	v = followCopy(v)
	if v.Op == OpStringMake || v.Op == OpSliceMake {
		return followCopy(v.Args[0])
	}
	return nil
}

// extractStringLen is extractStringPtr's length counterpart.
func extractStringLen(v *Value) *Value {
	v = followCopy(v)
	if v.Op == OpStringMake || v.Op == OpSliceMake {
		return followCopy(v.Args[1])
	}
	return nil
}

// replaceValue removes old from its block, inserts news in its position,
// repoints every use of old at the last new value (the semantic result),
// and frees old. The new values must already carry correct args.
func replaceValue(f *Func, old *Value, news []*Value) {
	b := old.Block
	pos := -1
	for i, v := range b.Values {
		if v == old {
			pos = i
			break
		}
	}
	if pos < 0 {
		panic("BUG: replaceValue: old value not in its block")
	}

	// The arena appended news at the block tail; pull them out first.
	for _, nv := range news {
		b.removeValue(nv)
	}
	// Re-find old's position after removals.
	for i, v := range b.Values {
		if v == old {
			pos = i
			break
		}
	}
	rest := append([]*Value(nil), b.Values[pos+1:]...)
	b.Values = append(b.Values[:pos], news...)
	b.Values = append(b.Values, rest...)

	result := news[len(news)-1]
	rewriteUses(f, old, result)
	old.resetArgs()
	f.FreeValue(old)
}

// rewriteUses repoints every arg and control reference of old at new.
func rewriteUses(f *Func, old, new *Value) {
	for _, b := range f.Blocks {
		for _, v := range b.Values {
			for i, a := range v.Args {
				if a == old {
					v.SetArg(i, new)
				}
			}
		}
		for i, c := range b.Controls {
			if c == old {
				old.Uses--
				b.Controls[i] = new
				new.Uses++
			}
		}
	}
}
