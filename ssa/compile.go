package ssa

// RunPasses runs the fixed pass pipeline over f, verifying the SSA
// invariants after each stage. The order matters: the rewrites must see
// un-decomposed composites, expand_calls must see decomposed ones, and
// only layout and lower_wasm run after scheduling, since neither
// reorders the values inside a block.
func RunPasses(f *Func) error {
	type pass struct {
		name   string
		run    func(*Func) error
		verify func(*Func) error
	}
	passes := []pass{
		{"rewritegeneric", rewritegeneric, Verify},
		{"rewritedec", rewritedec, Verify},
		{"decompose", decompose, VerifyDecomposed},
		{"expand_calls", expandCalls, VerifyDecomposed},
		{"schedule", schedule, VerifyScheduled},
		{"layout", func(f *Func) error { layout(f); return nil }, Verify},
		{"lower_wasm", lowerWasm, Verify},
	}
	for _, p := range passes {
		if err := p.run(f); err != nil {
			return err
		}
		if err := p.verify(f); err != nil {
			return err
		}
	}
	return nil
}
