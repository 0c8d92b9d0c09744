package wasmlink

// Test-runtime bodies. Timing is computed inside these functions by
// reading the globals written on test entry; the generated runner calls
// them in strict temporal order and reads no timing value itself.

// writeLit emits a cot_write of a registered runtime literal.
func (l *Linker) writeLit(b *Body, s string) {
	addr, size := l.rtLitAddr(s)
	b.I64Const(addr)
	b.I64Const(size)
	b.Call(l.FuncIndex("cot_write"))
}

// loadCell pushes the value of a named memory cell.
func (l *Linker) loadCell(b *Body, name string) {
	b.I32Const(int32(l.GlobalAddr(name)))
	b.Load(OpI64Load, 3, 0)
}

// bumpCell increments a named memory cell by one.
func (l *Linker) bumpCell(b *Body, name string) {
	addr := int32(l.GlobalAddr(name))
	b.I32Const(addr)
	b.I32Const(addr)
	b.Load(OpI64Load, 3, 0)
	b.I64Const(1)
	b.Op(OpI64Add)
	b.Store(OpI64Store, 3, 0)
}

func (l *Linker) emitTestRuntime() {
	timeIdx := l.FuncIndex("cot_time")
	writeIdx := l.FuncIndex("cot_write")
	printI64 := l.FuncIndex("__test_print_i64")

	// __test_begin: stamp the suite start.
	{
		b := NewBody(0)
		b.Call(timeIdx)
		b.GlobalSet(GlobalSuiteStart)
		l.SetBody("__test_begin", b.Finish())
	}

	// __test_print_name(ptr, len): the heading, then stamp the test
	// start so pass/fail can compute the duration.
	{
		b := NewBody(2)
		l.writeLit(b, "test \"")
		b.LocalGet(0)
		b.LocalGet(1)
		b.Call(writeIdx)
		l.writeLit(b, "\" ... ")
		b.Call(timeIdx)
		b.GlobalSet(GlobalTestStart)
		l.SetBody("__test_print_name", b.Finish())
	}

	// __test_pass: ok (Nms)
	{
		b := NewBody(0)
		l.bumpCell(b, cellTestsPassed)
		l.writeLit(b, "ok (")
		b.Call(timeIdx)
		b.GlobalGet(GlobalTestStart)
		b.Op(OpI64Sub)
		b.Call(printI64)
		l.writeLit(b, "ms)\n")
		l.SetBody("__test_pass", b.Finish())
	}

	// __test_fail: FAIL (Nms), then the expected/received pair from the
	// fail-display globals.
	{
		b := NewBody(0)
		l.bumpCell(b, cellTestsFailed)
		l.writeLit(b, "FAIL (")
		b.Call(timeIdx)
		b.GlobalGet(GlobalTestStart)
		b.Op(OpI64Sub)
		b.Call(printI64)
		l.writeLit(b, "ms)\n")

		l.writeLit(b, "  expected: ")
		b.GlobalGet(GlobalFailIsString)
		b.I64Const(0)
		b.Op(OpI64Ne)
		b.If()
		b.GlobalGet(GlobalFailLeft)
		b.GlobalGet(GlobalFailLeftLen)
		b.Call(writeIdx)
		b.Else()
		b.GlobalGet(GlobalFailLeft)
		b.Call(printI64)
		b.End()
		l.writeLit(b, "\n")

		l.writeLit(b, "  received: ")
		b.GlobalGet(GlobalFailIsString)
		b.I64Const(0)
		b.Op(OpI64Ne)
		b.If()
		b.GlobalGet(GlobalFailRight)
		b.GlobalGet(GlobalFailRightLen)
		b.Call(writeIdx)
		b.Else()
		b.GlobalGet(GlobalFailRight)
		b.Call(printI64)
		b.End()
		l.writeLit(b, "\n")
		l.SetBody("__test_fail", b.Finish())
	}

	// __test_summary(passed, failed):
	// PASSED|FAILED | N passed | M failed (Tms)
	{
		b := NewBody(2)
		b.LocalGet(1)
		b.I64Const(0)
		b.Op(OpI64Ne)
		b.If()
		l.writeLit(b, "FAILED")
		b.Else()
		l.writeLit(b, "PASSED")
		b.End()
		l.writeLit(b, " | ")
		b.LocalGet(0)
		b.Call(printI64)
		l.writeLit(b, " passed | ")
		b.LocalGet(1)
		b.Call(printI64)
		l.writeLit(b, " failed (")
		b.Call(timeIdx)
		b.GlobalGet(GlobalSuiteStart)
		b.Op(OpI64Sub)
		b.Call(printI64)
		l.writeLit(b, "ms)\n")
		l.SetBody("__test_summary", b.Finish())
	}

	// __test_store_fail_values(a, b, c, d, e): the five-slot convention.
	// e==1 means the caller passed two expanded strings: (lp, ll, rp,
	// rl, 1). Otherwise the scalars sit in the first two slots.
	{
		b := NewBody(5)
		b.LocalGet(4)
		b.I64Const(1)
		b.Op(OpI64Eq)
		b.If()
		b.LocalGet(0)
		b.GlobalSet(GlobalFailLeft)
		b.LocalGet(1)
		b.GlobalSet(GlobalFailLeftLen)
		b.LocalGet(2)
		b.GlobalSet(GlobalFailRight)
		b.LocalGet(3)
		b.GlobalSet(GlobalFailRightLen)
		b.I64Const(1)
		b.GlobalSet(GlobalFailIsString)
		b.Else()
		b.LocalGet(0)
		b.GlobalSet(GlobalFailLeft)
		b.LocalGet(1)
		b.GlobalSet(GlobalFailRight)
		b.I64Const(0)
		b.GlobalSet(GlobalFailIsString)
		b.End()

		b.I32Const(int32(l.GlobalAddr(cellAssertFailed)))
		b.I64Const(1)
		b.Store(OpI64Store, 3, 0)
		l.SetBody("__test_store_fail_values", b.Finish())
	}

	// __test_print_i64(v): decimal conversion through the scratch
	// buffer, then one cot_write of the digits.
	{
		b := NewBody(1)
		locals := b.AddI64Locals(3)
		v, p, neg := locals, locals+1, locals+2
		bufEnd := l.GlobalAddr(cellItoaBuf) + 32

		b.LocalGet(0)
		b.LocalSet(v)
		b.I64Const(bufEnd)
		b.LocalSet(p)
		b.I64Const(0)
		b.LocalSet(neg)

		b.LocalGet(v)
		b.I64Const(0)
		b.Op(OpI64LtS)
		b.If()
		b.I64Const(1)
		b.LocalSet(neg)
		b.I64Const(0)
		b.LocalGet(v)
		b.Op(OpI64Sub)
		b.LocalSet(v)
		b.End()

		b.Block()
		b.Loop()
		b.LocalGet(p)
		b.I64Const(1)
		b.Op(OpI64Sub)
		b.LocalSet(p)

		b.LocalGet(p)
		b.Wrap()
		b.LocalGet(v)
		b.I64Const(10)
		b.Op(OpI64RemU)
		b.I64Const('0')
		b.Op(OpI64Add)
		b.Store(OpI64Store8, 0, 0)

		b.LocalGet(v)
		b.I64Const(10)
		b.Op(OpI64DivU)
		b.LocalTee(v)
		b.Op(OpI64Eqz)
		b.BrIf(1)
		b.Br(0)
		b.End()
		b.End()

		b.LocalGet(neg)
		b.I64Const(0)
		b.Op(OpI64Ne)
		b.If()
		b.LocalGet(p)
		b.I64Const(1)
		b.Op(OpI64Sub)
		b.LocalSet(p)
		b.LocalGet(p)
		b.Wrap()
		b.I64Const('-')
		b.Store(OpI64Store8, 0, 0)
		b.End()

		b.LocalGet(p)
		b.I64Const(bufEnd)
		b.LocalGet(p)
		b.Op(OpI64Sub)
		b.Call(l.FuncIndex("cot_write"))
		l.SetBody("__test_print_i64", b.Finish())
	}
}
