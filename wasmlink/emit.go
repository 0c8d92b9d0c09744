package wasmlink

import "fmt"

// Section IDs in the required order.
const (
	secType    = 1
	secImport  = 2
	secFunc    = 3
	secTable   = 4
	secMemory  = 5
	secGlobal  = 6
	secExport  = 7
	secElement = 9
	secCode    = 10
	secData    = 11
)

func section(dst []byte, id byte, payload []byte) []byte {
	dst = append(dst, id)
	dst = AppendUint32(dst, uint32(len(payload)))
	return append(dst, payload...)
}

func appendName(dst []byte, s string) []byte {
	dst = AppendUint32(dst, uint32(len(s)))
	return append(dst, s...)
}

// Finalize assembles the module bytes. ComputeLayout must have run and
// every declared function must carry a body.
func (l *Linker) Finalize() ([]byte, error) {
	if !l.laidOut {
		return nil, fmt.Errorf("wasmlink: Finalize before ComputeLayout")
	}
	for _, f := range l.funcs {
		if f.body == nil {
			return nil, fmt.Errorf("wasmlink: function %s has no body", f.name)
		}
	}

	out := []byte{0x00, 'a', 's', 'm', 0x01, 0x00, 0x00, 0x00}

	// Type section: every signature is i64^n -> i64^m.
	var p []byte
	p = AppendUint32(p, uint32(len(l.typesList)))
	for _, t := range l.typesList {
		p = append(p, 0x60)
		p = AppendUint32(p, uint32(t.params))
		for i := 0; i < t.params; i++ {
			p = append(p, ValI64)
		}
		p = AppendUint32(p, uint32(t.results))
		for i := 0; i < t.results; i++ {
			p = append(p, ValI64)
		}
	}
	out = section(out, secType, p)

	if len(l.imports) > 0 {
		p = p[:0]
		p = AppendUint32(nil, uint32(len(l.imports)))
		for _, im := range l.imports {
			p = appendName(p, im.module)
			p = appendName(p, im.name)
			p = append(p, 0x00) // func import
			p = AppendUint32(p, im.typeIdx)
		}
		out = section(out, secImport, p)
	}

	p = AppendUint32(nil, uint32(len(l.funcs)))
	for _, f := range l.funcs {
		p = AppendUint32(p, f.typeIdx)
	}
	out = section(out, secFunc, p)

	// Table: index 0 reserved null, destructors follow.
	dtors := l.destructors()
	tableMin := uint32(1 + len(dtors))
	p = AppendUint32(nil, 1)
	p = append(p, ValFuncref, 0x00)
	p = AppendUint32(p, tableMin)
	out = section(out, secTable, p)

	p = AppendUint32(nil, 1)
	p = append(p, 0x01) // min and max present
	p = AppendUint32(p, DefaultMemoryPages)
	p = AppendUint32(p, DefaultMemoryPages)
	out = section(out, secMemory, p)

	// Globals: SP, HP, then the reserved test/assert slots, all mutable
	// i64.
	inits := make([]int64, NumReservedGlobals)
	inits[GlobalSP] = StackTop
	inits[GlobalHP] = l.heapBase
	p = AppendUint32(nil, NumReservedGlobals)
	for _, init := range inits {
		p = append(p, ValI64, 0x01)
		p = append(p, OpI64Const)
		p = AppendInt64(p, init)
		p = append(p, OpEnd)
	}
	out = section(out, secGlobal, p)

	// Exports: memory, then every exported function.
	var exports [][]byte
	e := appendName(nil, "memory")
	e = append(e, 0x02)
	e = AppendUint32(e, 0)
	exports = append(exports, e)
	for _, f := range l.funcs {
		if !f.exported {
			continue
		}
		e = appendName(nil, f.name)
		e = append(e, 0x00)
		e = AppendUint32(e, l.funcByName[f.name])
		exports = append(exports, e)
	}
	p = AppendUint32(nil, uint32(len(exports)))
	for _, e := range exports {
		p = append(p, e...)
	}
	out = section(out, secExport, p)

	if len(dtors) > 0 {
		p = AppendUint32(nil, 1)
		p = append(p, 0x00) // active, table 0
		p = append(p, OpI32Const)
		p = AppendInt32(p, 1)
		p = append(p, OpEnd)
		p = AppendUint32(p, uint32(len(dtors)))
		for _, fi := range dtors {
			p = AppendUint32(p, fi)
		}
		out = section(out, secElement, p)
	}

	p = AppendUint32(nil, uint32(len(l.funcs)))
	for _, f := range l.funcs {
		p = AppendUint32(p, uint32(len(f.body)))
		p = append(p, f.body...)
	}
	out = section(out, secCode, p)

	out = section(out, secData, l.dataSection())
	return out, nil
}

// dataSection packs the string literals, the metadata table, and the
// initialized global cells into active segments at their laid-out
// offsets.
func (l *Linker) dataSection() []byte {
	type segment struct {
		offset int64
		bytes  []byte
	}
	var segs []segment

	if len(l.literals) > 0 {
		var b []byte
		for _, s := range l.literals {
			b = append(b, s...)
		}
		segs = append(segs, segment{DataBase, b})
	}

	if len(l.metas) > 0 {
		var b []byte
		for _, m := range l.metas {
			b = appendU32LE(b, m.typeID)
			b = appendU32LE(b, m.size)
			b = appendU32LE(b, l.destructorTableIndex(m.name))
		}
		segs = append(segs, segment{l.metas[0].offset, b})
	}

	for _, c := range l.cells {
		if c.init == 0 {
			continue // linear memory is zero by default
		}
		var b []byte
		v := uint64(c.init)
		for i := 0; i < 8; i++ {
			b = append(b, byte(v>>(8*i)))
		}
		segs = append(segs, segment{c.offset, b})
	}

	p := AppendUint32(nil, uint32(len(segs)))
	for _, s := range segs {
		p = append(p, 0x00) // active, memory 0
		p = append(p, OpI32Const)
		p = AppendInt32(p, int32(s.offset))
		p = append(p, OpEnd)
		p = AppendUint32(p, uint32(len(s.bytes)))
		p = append(p, s.bytes...)
	}
	return p
}

func appendU32LE(dst []byte, v uint32) []byte {
	return append(dst, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}
