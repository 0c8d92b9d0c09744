package lower

import (
	"github.com/cot-lang/cotc/ir"
	"github.com/cot-lang/cotc/types"
)

// Linker-known globals the runner and the assertion builtins touch.
// The linker reserves memory cells for these names in every test module.
const (
	GlobalAssertFailed = "__assert_failed"
	GlobalTestsPassed  = "__tests_passed"
	GlobalTestsFailed  = "__tests_failed"
)

// emitTestRunner synthesizes the test-mode main: begin, then per test a
// print-name / reset-flag / call / pass-or-fail sequence, then the
// summary. Timing is computed inside the runtime functions by reading
// globals written on test entry — the runner itself reads no clock, so
// the dispatch structure cannot break a cross-block timing reference.
func (l *Lowerer) emitTestRunner() {
	span := ir.Span{}
	l.fb = ir.NewFuncBuilder("main", nil, types.I64)
	entry := l.fb.NewBlock()
	l.fb.SetCurrent(entry)

	l.fb.EmitCall("__test_begin", nil, types.VOID, span)

	for i, name := range l.out.TestNames {
		display := name
		if i < len(l.out.TestDisplayNames) && l.out.TestDisplayNames[i] != "" {
			display = l.out.TestDisplayNames[i]
		}
		nameStr := l.fb.EmitConstString(display, types.STRING, span)
		l.fb.EmitCall("__test_print_name", []ir.NodeIndex{nameStr}, types.VOID, span)

		flagAddr := l.fb.EmitGlobalAddr(GlobalAssertFailed, types.U64, span)
		zero := l.fb.EmitConstInt(0, types.I64, span)
		l.fb.EmitPtrStore(flagAddr, zero, span)

		l.fb.EmitCall(name, nil, types.VOID, span)

		flagAddr2 := l.fb.EmitGlobalAddr(GlobalAssertFailed, types.U64, span)
		failed := l.fb.EmitPtrLoad(flagAddr2, types.I64, span)
		zero2 := l.fb.EmitConstInt(0, types.I64, span)
		ok := l.fb.EmitBinary(ir.OpCmpEq, failed, zero2, types.BOOL, span)

		passB := l.fb.NewBlock()
		failB := l.fb.NewBlock()
		nextB := l.fb.NewBlock()
		l.fb.SetBranch(ok, passB, failB)
		l.fb.AddPred(passB, l.fb.Current())
		l.fb.AddPred(failB, l.fb.Current())

		l.fb.SetCurrent(passB)
		l.fb.EmitCall("__test_pass", nil, types.VOID, span)
		l.fb.SetJump(nextB)
		l.fb.AddPred(nextB, passB)

		l.fb.SetCurrent(failB)
		l.fb.EmitCall("__test_fail", nil, types.VOID, span)
		if l.failFast {
			one := l.fb.EmitConstInt(1, types.I64, span)
			l.fb.SetReturn(one)
		} else {
			l.fb.SetJump(nextB)
			l.fb.AddPred(nextB, failB)
		}

		l.fb.SetCurrent(nextB)
	}

	passedAddr := l.fb.EmitGlobalAddr(GlobalTestsPassed, types.U64, span)
	passed := l.fb.EmitPtrLoad(passedAddr, types.I64, span)
	failedAddr := l.fb.EmitGlobalAddr(GlobalTestsFailed, types.U64, span)
	nfailed := l.fb.EmitPtrLoad(failedAddr, types.I64, span)
	l.fb.EmitCall("__test_summary", []ir.NodeIndex{passed, nfailed}, types.VOID, span)

	// Exit code: the number of failed tests.
	failedAddr2 := l.fb.EmitGlobalAddr(GlobalTestsFailed, types.U64, span)
	code := l.fb.EmitPtrLoad(failedAddr2, types.I64, span)
	l.fb.SetReturn(code)

	l.out.Funcs = append(l.out.Funcs, l.fb.F)
}
