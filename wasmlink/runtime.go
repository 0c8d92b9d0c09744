package wasmlink

// The ARC runtime, the container runtime, and the test runtime are
// emitted into every module as hand-assembled bytecode bodies. The heap
// is a bump allocator behind the HP global; release never returns
// memory, it only runs destructors.

// ImmortalRefcount disables retain/release for string-literal-like
// objects.
const ImmortalRefcount = 0x7FFF_FFFF_FFFF_FFFF

// Memory cells the runtime and the generated test runner share.
const (
	cellAssertFailed = "__assert_failed"
	cellTestsPassed  = "__tests_passed"
	cellTestsFailed  = "__tests_failed"
	cellItoaBuf      = "__itoa_buf"
)

// DeclareRuntime declares every runtime function (imports first) and
// registers the literals and cells their bodies reference. Call before
// any user DeclareFunc so host imports take the leading indices.
func (l *Linker) DeclareRuntime(hostImports bool) {
	if hostImports {
		l.AddImport("cot", "cot_write", 2, 0)
		l.AddImport("cot", "cot_time", 0, 1)
	} else {
		l.DeclareFunc("cot_write", 2, 0, false)
		l.DeclareFunc("cot_time", 0, 1, false)
	}

	l.DeclareFunc("cot_alloc", 2, 1, false)
	l.DeclareFunc("cot_retain", 1, 1, false)
	l.DeclareFunc("cot_release", 1, 0, false)
	l.DeclareFunc("cot_string_concat", 4, 1, false)
	l.DeclareFunc("cot_string_eq", 4, 1, false)
	l.DeclareFunc("cot_panic", 0, 0, false)
	l.DeclareFunc("cot_memcpy", 3, 0, false)
	l.DeclareFunc("cot_memset", 3, 0, false)

	l.DeclareFunc("cot_list_make", 1, 1, false)
	l.DeclareFunc("cot_list_append", 2, 0, false)
	l.DeclareFunc("cot_list_len", 1, 1, false)
	l.DeclareFunc("cot_list_get", 2, 1, false)
	l.DeclareFunc("cot_list_set", 3, 0, false)
	l.DeclareFunc("cot_map_make", 0, 1, false)
	l.DeclareFunc("cot_map_get", 2, 1, false)
	l.DeclareFunc("cot_map_set", 3, 0, false)
	l.DeclareFunc("cot_map_has", 2, 1, false)

	l.DeclareFunc("__test_begin", 0, 0, false)
	l.DeclareFunc("__test_print_name", 2, 0, false)
	l.DeclareFunc("__test_pass", 0, 0, false)
	l.DeclareFunc("__test_fail", 0, 0, false)
	l.DeclareFunc("__test_summary", 2, 0, false)
	l.DeclareFunc("__test_store_fail_values", 5, 0, false)
	l.DeclareFunc("__test_print_i64", 1, 0, false)

	l.AddGlobalCell(cellAssertFailed, 8, 0)
	l.AddGlobalCell(cellTestsPassed, 8, 0)
	l.AddGlobalCell(cellTestsFailed, 8, 0)
	l.AddGlobalCell(cellItoaBuf, 32, 0)

	for _, s := range []string{
		"test \"", "\" ... ", "ok (", "FAIL (", "ms)\n",
		"  expected: ", "  received: ", "\n",
		"PASSED", "FAILED", " | ", " passed | ", " failed (",
	} {
		l.rtLit(s)
	}
}

// rtLit interns a runtime-internal literal alongside the user literals.
func (l *Linker) rtLit(s string) {
	for _, lit := range l.literals {
		if lit == s {
			return
		}
	}
	l.literals = append(l.literals, s)
}

func (l *Linker) rtLitAddr(s string) (addr, size int64) {
	for i, lit := range l.literals {
		if lit == s {
			return l.litOffsets[i], int64(len(lit))
		}
	}
	panic("BUG: runtime literal not registered: " + s)
}

// EmitRuntimeBodies assembles every runtime body. Requires
// ComputeLayout.
func (l *Linker) EmitRuntimeBodies(hostImports bool) {
	if !hostImports {
		// Stubs: write drops its args, time reads as zero.
		w := NewBody(2)
		l.SetBody("cot_write", w.Finish())
		tm := NewBody(0)
		tm.I64Const(0)
		l.SetBody("cot_time", tm.Finish())
	}

	l.emitAlloc()
	l.emitRetain()
	l.emitRelease()
	l.emitStringConcat()
	l.emitStringEq()
	l.emitPanic()
	l.emitMemcpy()
	l.emitMemset()
	l.emitListRuntime()
	l.emitMapRuntime()
	l.emitTestRuntime()
}

// bumpAlloc emits: push aligned-up allocation of `sizeLocal` bytes,
// leaving the base address in dst and advancing HP.
func bumpAlloc(b *Body, dst uint32, pushSize func()) {
	b.GlobalGet(GlobalHP)
	b.LocalSet(dst)
	b.GlobalGet(GlobalHP)
	pushSize()
	b.Op(OpI64Add)
	b.I64Const(7)
	b.Op(OpI64Add)
	b.I64Const(-8)
	b.Op(OpI64And)
	b.GlobalSet(GlobalHP)
}

// cot_alloc(metadata_ptr, size) -> i64: bump-allocates header+size,
// writes [metadata_ptr, refcount=1], returns base+12.
func (l *Linker) emitAlloc() {
	b := NewBody(2)
	base := b.AddI64Locals(1)

	bumpAlloc(b, base, func() {
		b.LocalGet(1)
		b.I64Const(12)
		b.Op(OpI64Add)
	})

	// header: metadata_ptr as u32 at +0, refcount at +4.
	b.LocalGet(base)
	b.Wrap()
	b.LocalGet(0)
	b.Store(OpI64Store32, 2, 0)
	b.LocalGet(base)
	b.Wrap()
	b.I64Const(1)
	b.Store(OpI64Store, 2, 4)

	b.LocalGet(base)
	b.I64Const(12)
	b.Op(OpI64Add)
	l.SetBody("cot_alloc", b.Finish())
}

// cot_retain(obj) -> i64: null/immortal checks, then refcount += 1.
func (l *Linker) emitRetain() {
	b := NewBody(1)
	rc := b.AddI64Locals(1)

	b.LocalGet(0)
	b.Op(OpI64Eqz)
	b.If()
	b.LocalGet(0)
	b.Op(OpReturn)
	b.End()

	b.LocalGet(0)
	b.I64Const(8)
	b.Op(OpI64Sub)
	b.Wrap()
	b.Load(OpI64Load, 2, 0)
	b.LocalSet(rc)

	b.LocalGet(rc)
	b.I64Const(ImmortalRefcount)
	b.Op(OpI64Eq)
	b.If()
	b.LocalGet(0)
	b.Op(OpReturn)
	b.End()

	b.LocalGet(0)
	b.I64Const(8)
	b.Op(OpI64Sub)
	b.Wrap()
	b.LocalGet(rc)
	b.I64Const(1)
	b.Op(OpI64Add)
	b.Store(OpI64Store, 2, 0)

	b.LocalGet(0)
	l.SetBody("cot_retain", b.Finish())
}

// cot_release(obj): null/immortal checks, decrement; at zero, load the
// destructor index from the metadata and call_indirect on the object.
func (l *Linker) emitRelease() {
	b := NewBody(1)
	locals := b.AddI64Locals(3)
	rc, md, dtor := locals, locals+1, locals+2

	b.LocalGet(0)
	b.Op(OpI64Eqz)
	b.If()
	b.Op(OpReturn)
	b.End()

	b.LocalGet(0)
	b.I64Const(8)
	b.Op(OpI64Sub)
	b.Wrap()
	b.Load(OpI64Load, 2, 0)
	b.LocalSet(rc)

	b.LocalGet(rc)
	b.I64Const(ImmortalRefcount)
	b.Op(OpI64Eq)
	b.If()
	b.Op(OpReturn)
	b.End()

	b.LocalGet(0)
	b.I64Const(8)
	b.Op(OpI64Sub)
	b.Wrap()
	b.LocalGet(rc)
	b.I64Const(1)
	b.Op(OpI64Sub)
	b.LocalTee(rc)
	b.Store(OpI64Store, 2, 0)

	b.LocalGet(rc)
	b.Op(OpI64Eqz)
	b.If()
	// metadata_ptr from the header.
	b.LocalGet(0)
	b.I64Const(12)
	b.Op(OpI64Sub)
	b.Wrap()
	b.Load(OpI64Load32U, 2, 0)
	b.LocalSet(md)

	b.LocalGet(md)
	b.I64Const(0)
	b.Op(OpI64Ne)
	b.If()
	// destructor table index from the metadata record.
	b.LocalGet(md)
	b.Wrap()
	b.Load(OpI64Load32U, 2, 8)
	b.LocalSet(dtor)

	b.LocalGet(dtor)
	b.I64Const(0)
	b.Op(OpI64Ne)
	b.If()
	b.LocalGet(0)
	b.LocalGet(dtor)
	b.Wrap()
	b.CallIndirect(l.DestructorTypeIndex())
	b.End()
	b.End()
	b.End()

	l.SetBody("cot_release", b.Finish())
}

// cot_string_concat(p1, l1, p2, l2) -> i64: bump-allocates l1+l2 bytes
// and copies both halves.
func (l *Linker) emitStringConcat() {
	b := NewBody(4)
	base := b.AddI64Locals(1)

	bumpAlloc(b, base, func() {
		b.LocalGet(1)
		b.LocalGet(3)
		b.Op(OpI64Add)
	})

	b.LocalGet(base)
	b.Wrap()
	b.LocalGet(0)
	b.Wrap()
	b.LocalGet(1)
	b.Wrap()
	b.MemoryCopy()

	b.LocalGet(base)
	b.LocalGet(1)
	b.Op(OpI64Add)
	b.Wrap()
	b.LocalGet(2)
	b.Wrap()
	b.LocalGet(3)
	b.Wrap()
	b.MemoryCopy()

	b.LocalGet(base)
	l.SetBody("cot_string_concat", b.Finish())
}

// cot_string_eq(p1, l1, p2, l2) -> 0/1.
func (l *Linker) emitStringEq() {
	b := NewBody(4)
	i := b.AddI64Locals(1)

	b.LocalGet(1)
	b.LocalGet(3)
	b.Op(OpI64Ne)
	b.If()
	b.I64Const(0)
	b.Op(OpReturn)
	b.End()

	b.I64Const(0)
	b.LocalSet(i)
	b.Block()
	b.Loop()
	b.LocalGet(i)
	b.LocalGet(1)
	b.Op(OpI64GeS)
	b.BrIf(1)

	b.LocalGet(0)
	b.LocalGet(i)
	b.Op(OpI64Add)
	b.Wrap()
	b.Load(OpI64Load8U, 0, 0)
	b.LocalGet(2)
	b.LocalGet(i)
	b.Op(OpI64Add)
	b.Wrap()
	b.Load(OpI64Load8U, 0, 0)
	b.Op(OpI64Ne)
	b.If()
	b.I64Const(0)
	b.Op(OpReturn)
	b.End()

	b.LocalGet(i)
	b.I64Const(1)
	b.Op(OpI64Add)
	b.LocalSet(i)
	b.Br(0)
	b.End()
	b.End()

	b.I64Const(1)
	l.SetBody("cot_string_eq", b.Finish())
}

func (l *Linker) emitPanic() {
	b := NewBody(0)
	b.Op(OpUnreachable)
	l.SetBody("cot_panic", b.Finish())
}

func (l *Linker) emitMemcpy() {
	b := NewBody(3)
	b.LocalGet(0)
	b.Wrap()
	b.LocalGet(1)
	b.Wrap()
	b.LocalGet(2)
	b.Wrap()
	b.MemoryCopy()
	l.SetBody("cot_memcpy", b.Finish())
}

func (l *Linker) emitMemset() {
	b := NewBody(3)
	b.LocalGet(0)
	b.Wrap()
	b.LocalGet(1)
	b.Wrap()
	b.LocalGet(2)
	b.Wrap()
	b.MemoryFill()
	l.SetBody("cot_memset", b.Finish())
}
