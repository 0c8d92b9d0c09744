// Package wasmlink assembles the final Wasm module: type/function/
// memory/global/table/export/element/code/data sections, the ARC and
// test runtime function bodies, the string-literal and type-metadata data
// segments, and the destructor table driving call_indirect dispatch.
package wasmlink

import (
	"fmt"
	"strings"
)

// Linear-memory layout. Address 0 stays unmapped-by-convention so null
// pointer loads hit the reserved page; the shadow stack grows down from
// StackTop; data segments start at DataBase and the bump heap follows
// them.
const (
	StackTop = 65536
	DataBase = 65536

	// DefaultMemoryPages caps linear memory at 8 MiB.
	DefaultMemoryPages = 128
)

// Wasm global indices. SP is global 0 per the output contract; every
// dynamically added global is offset by this reserved count.
const (
	GlobalSP = iota
	GlobalHP
	GlobalTestStart
	GlobalSuiteStart
	GlobalFailLeft
	GlobalFailRight
	GlobalFailIsString
	GlobalFailLeftLen
	GlobalFailRightLen
	NumReservedGlobals
)

type funcType struct {
	params  int
	results int
}

func (t funcType) key() string { return fmt.Sprintf("%d:%d", t.params, t.results) }

type importEntry struct {
	module, name string
	typeIdx      uint32
}

type funcEntry struct {
	name     string
	typeIdx  uint32
	body     []byte
	exported bool
}

type globalCell struct {
	name   string
	size   uint32
	init   int64
	offset int64
}

type metaEntry struct {
	name   string
	typeID uint32
	size   uint32
	offset int64
}

// Linker owns the per-emitted-module state.
type Linker struct {
	typesList []funcType
	typeIdx   map[string]uint32

	imports    []importEntry
	funcs      []funcEntry
	funcByName map[string]uint32 // module-wide function index (imports first)
	declared   map[string]bool

	literals   []string
	litOffsets []int64

	cells      []globalCell
	cellByName map[string]int

	metas      []metaEntry
	metaByName map[string]int

	heapBase int64

	laidOut bool
}

// New returns an empty Linker.
func New() *Linker {
	return &Linker{
		typeIdx:    make(map[string]uint32),
		funcByName: make(map[string]uint32),
		declared:   make(map[string]bool),
		cellByName: make(map[string]int),
		metaByName: make(map[string]int),
	}
}

// TypeIndex canonicalizes a (params, results) signature to a stable
// index.
func (l *Linker) TypeIndex(params, results int) uint32 {
	t := funcType{params, results}
	if idx, ok := l.typeIdx[t.key()]; ok {
		return idx
	}
	idx := uint32(len(l.typesList))
	l.typesList = append(l.typesList, t)
	l.typeIdx[t.key()] = idx
	return idx
}

// DestructorTypeIndex is the (i64) -> () type used by call_indirect on
// the destructor table.
func (l *Linker) DestructorTypeIndex() uint32 { return l.TypeIndex(1, 0) }

// AddImport declares a host import. Imports must be added before any
// DeclareFunc so the import indices come first.
func (l *Linker) AddImport(module, name string, params, results int) {
	if l.declared[name] {
		return
	}
	if len(l.funcs) > 0 {
		panic("BUG: imports must be declared before functions")
	}
	l.imports = append(l.imports, importEntry{module, name, l.TypeIndex(params, results)})
	l.funcByName[name] = uint32(len(l.imports) - 1)
	l.declared[name] = true
}

// DeclareFunc reserves a function slot; the body arrives via SetBody.
func (l *Linker) DeclareFunc(name string, params, results int, exported bool) {
	if l.declared[name] {
		return
	}
	l.funcs = append(l.funcs, funcEntry{name: name, typeIdx: l.TypeIndex(params, results), exported: exported})
	l.funcByName[name] = uint32(len(l.imports) + len(l.funcs) - 1)
	l.declared[name] = true
}

// SetBody installs a function's encoded body.
func (l *Linker) SetBody(name string, body []byte) {
	for i := range l.funcs {
		if l.funcs[i].name == name {
			l.funcs[i].body = body
			return
		}
	}
	panic("BUG: SetBody for undeclared function " + name)
}

// FuncIndex returns the module-wide index of a declared function.
func (l *Linker) FuncIndex(name string) uint32 {
	idx, ok := l.funcByName[name]
	if !ok {
		panic("BUG: undeclared function " + name)
	}
	return idx
}

// HasFunc reports whether name was declared or imported.
func (l *Linker) HasFunc(name string) bool { return l.declared[name] }

// SetLiterals installs the module's interned string literals, in index
// order.
func (l *Linker) SetLiterals(lits []string) { l.literals = lits }

// AddGlobalCell reserves a linear-memory cell for a named module global.
func (l *Linker) AddGlobalCell(name string, size uint32, init int64) {
	if _, ok := l.cellByName[name]; ok {
		return
	}
	if size < 8 {
		size = 8
	}
	l.cellByName[name] = len(l.cells)
	l.cells = append(l.cells, globalCell{name: name, size: size, init: init})
}

// AddMetadata registers one type-metadata record.
func (l *Linker) AddMetadata(name string, typeID, size uint32) {
	if _, ok := l.metaByName[name]; ok {
		return
	}
	l.metaByName[name] = len(l.metas)
	l.metas = append(l.metas, metaEntry{name: name, typeID: typeID, size: size})
}

// ComputeLayout assigns deterministic data-segment offsets: string
// literals first, then the metadata table, then the global cells, with
// the bump heap starting 8-aligned after everything.
func (l *Linker) ComputeLayout() {
	off := int64(DataBase)
	l.litOffsets = make([]int64, len(l.literals))
	for i, s := range l.literals {
		l.litOffsets[i] = off
		off += int64(len(s))
	}
	off = align8(off)
	for i := range l.metas {
		l.metas[i].offset = off
		off += 12
	}
	off = align8(off)
	for i := range l.cells {
		l.cells[i].offset = off
		off += int64(align8(int64(l.cells[i].size)))
	}
	l.heapBase = align8(off)
	l.laidOut = true
}

func align8(v int64) int64 {
	if v%8 != 0 {
		v += 8 - v%8
	}
	return v
}

// StringAddr returns the absolute address of literal i.
func (l *Linker) StringAddr(i int64) int64 {
	if !l.laidOut {
		panic("BUG: StringAddr before ComputeLayout")
	}
	return l.litOffsets[i]
}

// GlobalAddr returns the absolute address of a named global cell.
func (l *Linker) GlobalAddr(name string) int64 {
	i, ok := l.cellByName[name]
	if !ok {
		panic("BUG: unknown global " + name)
	}
	return l.cells[i].offset
}

// MetadataAddr resolves a type name to its metadata record address.
func (l *Linker) MetadataAddr(name string) int64 {
	i, ok := l.metaByName[name]
	if !ok {
		panic("BUG: no metadata for type " + name)
	}
	return l.metas[i].offset
}

// SPGlobal returns the stack-pointer global index.
func (l *Linker) SPGlobal() uint32 { return GlobalSP }

// destructors returns the function indices of every declared function
// whose name ends in _deinit, in declaration order. They fill table
// slots 1 and up; slot 0 stays the reserved null entry.
func (l *Linker) destructors() []uint32 {
	var out []uint32
	for _, f := range l.funcs {
		if strings.HasSuffix(f.name, "_deinit") {
			out = append(out, l.funcByName[f.name])
		}
	}
	return out
}

// destructorTableIndex returns the table slot of a type's destructor, or
// 0 when the type has none.
func (l *Linker) destructorTableIndex(typeName string) uint32 {
	slot := uint32(1)
	for _, f := range l.funcs {
		if !strings.HasSuffix(f.name, "_deinit") {
			continue
		}
		if strings.TrimSuffix(f.name, "_deinit") == typeName {
			return slot
		}
		slot++
	}
	return 0
}
