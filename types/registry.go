// Package types implements the compiler type registry: a process-lifetime
// table of TypeInfo records addressed by a dense 32-bit TypeIndex, with
// deduplicating compound constructors.
package types

import "fmt"

// TypeIndex addresses a TypeInfo in a TypeRegistry. It is dense: well-known
// indices occupy stable low values, and user/compound types follow in
// construction order.
type TypeIndex uint32

// Kind discriminates the shape of a TypeInfo.
type Kind byte

const (
	KindInvalid Kind = iota
	KindBool
	KindInt
	KindFloat
	KindVoid
	KindString
	KindSSAMem
	KindFlags
	KindTuple
	KindResults
	KindPointer
	KindOptional
	KindErrorUnion
	KindSlice
	KindArray
	KindMap
	KindList
	KindFunc
	KindStruct
	KindEnum
	KindUnion
)

func (k Kind) String() string {
	switch k {
	case KindInvalid:
		return "invalid"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindVoid:
		return "void"
	case KindString:
		return "string"
	case KindSSAMem:
		return "ssa_mem"
	case KindFlags:
		return "flags"
	case KindTuple:
		return "tuple"
	case KindResults:
		return "results"
	case KindPointer:
		return "pointer"
	case KindOptional:
		return "optional"
	case KindErrorUnion:
		return "error_union"
	case KindSlice:
		return "slice"
	case KindArray:
		return "array"
	case KindMap:
		return "map"
	case KindList:
		return "list"
	case KindFunc:
		return "func"
	case KindStruct:
		return "struct"
	case KindEnum:
		return "enum"
	case KindUnion:
		return "union"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Field is a named, offset-positioned member of a struct or tagged payload
// of a union.
type Field struct {
	Name   string
	Type   TypeIndex
	Offset uint32
}

// EnumMember is a name/value pair backing an enum TypeInfo.
type EnumMember struct {
	Name  string
	Value int64
}

// UnionVariant is one arm of a union type: a name, an optional payload
// struct type, and the zero-payload flag used when switch-matching on the
// unqualified variant name.
type UnionVariant struct {
	Name       string
	Payload    TypeIndex // TUPLE-like struct TypeIndex, or invalid if zero-payload
	HasPayload bool
}

// TypeInfo describes one entry of the registry.
type TypeInfo struct {
	Kind Kind
	Name string

	Size      uint32
	Alignment uint32

	// Elem is the pointee/element/optional-inner type for Pointer, Optional,
	// Slice, Array and List kinds.
	Elem TypeIndex
	// Key/Value are populated for Map.
	Key   TypeIndex
	Value TypeIndex
	// ArrayLen is populated for Array.
	ArrayLen uint32

	// Fields is populated for Struct (and as the payload shape referenced by
	// UnionVariant.Payload).
	Fields []Field

	// Backing is the underlying integer type for Enum.
	Backing TypeIndex
	Members []EnumMember

	// Params/Result describe Func.
	Params []TypeIndex
	Result TypeIndex

	// Variants and Tag describe Union.
	Variants []UnionVariant
	Tag      TypeIndex

	// OkType/ErrType describe ErrorUnion.
	OkType  TypeIndex
	ErrType TypeIndex
}

// Well-known stable indices.
const (
	BOOL TypeIndex = iota
	I8
	I16
	I32
	I64
	U8
	U16
	U32
	U64
	F32
	F64
	VOID
	STRING
	SSA_MEM
	FLAGS
	TUPLE
	RESULTS
	firstUserIndex
)

// Registry owns the sequence of TypeInfo records for one compilation.
type Registry struct {
	infos []TypeInfo

	pointerOf    map[TypeIndex]TypeIndex
	optionalOf   map[TypeIndex]TypeIndex
	sliceOf      map[TypeIndex]TypeIndex
	listOf       map[TypeIndex]TypeIndex
	arrayOf      map[arrayKey]TypeIndex
	mapOf        map[mapKey]TypeIndex
	errorUnionOf map[errUnionKey]TypeIndex
	funcOf       map[string]TypeIndex
	structOf     map[string]TypeIndex
	enumOf       map[string]TypeIndex
	unionOf      map[string]TypeIndex
}

type arrayKey struct {
	elem TypeIndex
	n    uint32
}

type mapKey struct {
	key, value TypeIndex
}

type errUnionKey struct {
	ok, err TypeIndex
}

// NewRegistry returns a Registry with the well-known indices pre-populated.
// STRING is represented internally as slice<u8>: its Kind is KindString but
// its Elem is U8, so decomposition passes that expect a slice-shaped value
// can treat it uniformly.
func NewRegistry() *Registry {
	r := &Registry{
		pointerOf:    make(map[TypeIndex]TypeIndex),
		optionalOf:   make(map[TypeIndex]TypeIndex),
		sliceOf:      make(map[TypeIndex]TypeIndex),
		listOf:       make(map[TypeIndex]TypeIndex),
		arrayOf:      make(map[arrayKey]TypeIndex),
		mapOf:        make(map[mapKey]TypeIndex),
		errorUnionOf: make(map[errUnionKey]TypeIndex),
		funcOf:       make(map[string]TypeIndex),
		structOf:     make(map[string]TypeIndex),
		enumOf:       make(map[string]TypeIndex),
		unionOf:      make(map[string]TypeIndex),
	}
	r.infos = make([]TypeInfo, firstUserIndex)
	r.infos[BOOL] = TypeInfo{Kind: KindBool, Name: "bool", Size: 1, Alignment: 1}
	mkint := func(idx TypeIndex, name string, size uint32) {
		r.infos[idx] = TypeInfo{Kind: KindInt, Name: name, Size: size, Alignment: size}
	}
	mkint(I8, "i8", 1)
	mkint(I16, "i16", 2)
	mkint(I32, "i32", 4)
	mkint(I64, "i64", 8)
	mkint(U8, "u8", 1)
	mkint(U16, "u16", 2)
	mkint(U32, "u32", 4)
	mkint(U64, "u64", 8)
	r.infos[F32] = TypeInfo{Kind: KindFloat, Name: "f32", Size: 4, Alignment: 4}
	r.infos[F64] = TypeInfo{Kind: KindFloat, Name: "f64", Size: 8, Alignment: 8}
	r.infos[VOID] = TypeInfo{Kind: KindVoid, Name: "void", Size: 0, Alignment: 1}
	r.infos[STRING] = TypeInfo{Kind: KindString, Name: "string", Size: 16, Alignment: 8, Elem: U8}
	r.infos[SSA_MEM] = TypeInfo{Kind: KindSSAMem, Name: "ssa_mem"}
	r.infos[FLAGS] = TypeInfo{Kind: KindFlags, Name: "flags"}
	r.infos[TUPLE] = TypeInfo{Kind: KindTuple, Name: "tuple"}
	r.infos[RESULTS] = TypeInfo{Kind: KindResults, Name: "results"}
	return r
}

// Info returns the TypeInfo for idx.
func (r *Registry) Info(idx TypeIndex) *TypeInfo {
	return &r.infos[idx]
}

// Size returns the byte size of idx.
func (r *Registry) Size(idx TypeIndex) uint32 {
	return r.infos[idx].Size
}

// IsSigned reports whether idx is one of the signed integer well-knowns.
func (r *Registry) IsSigned(idx TypeIndex) bool {
	switch idx {
	case I8, I16, I32, I64:
		return true
	default:
		return false
	}
}

func (r *Registry) add(info TypeInfo) TypeIndex {
	idx := TypeIndex(len(r.infos))
	r.infos = append(r.infos, info)
	return idx
}

// MakePointer returns the (deduplicated) TypeIndex for a pointer to elem.
func (r *Registry) MakePointer(elem TypeIndex) TypeIndex {
	if idx, ok := r.pointerOf[elem]; ok {
		return idx
	}
	idx := r.add(TypeInfo{Kind: KindPointer, Name: "*" + r.infos[elem].Name, Size: 8, Alignment: 8, Elem: elem})
	r.pointerOf[elem] = idx
	return idx
}

// MakeOptional returns the (deduplicated) TypeIndex for an optional of elem.
func (r *Registry) MakeOptional(elem TypeIndex) TypeIndex {
	if idx, ok := r.optionalOf[elem]; ok {
		return idx
	}
	// Optional is laid out as an 8-byte tag slot followed by the payload,
	// 8-aligned; every optional, pointer-shaped ones included, gets this
	// layout.
	sz := r.infos[elem].Size + 8
	idx := r.add(TypeInfo{Kind: KindOptional, Name: "?" + r.infos[elem].Name, Size: sz, Alignment: 8, Elem: elem})
	r.optionalOf[elem] = idx
	return idx
}

// MakeErrorUnion returns the (deduplicated) TypeIndex for an error-union of
// (ok, err).
func (r *Registry) MakeErrorUnion(ok, errT TypeIndex) TypeIndex {
	k := errUnionKey{ok, errT}
	if idx, ok2 := r.errorUnionOf[k]; ok2 {
		return idx
	}
	sz := r.infos[ok].Size
	if e := r.infos[errT].Size; e > sz {
		sz = e
	}
	sz += 8
	idx := r.add(TypeInfo{Kind: KindErrorUnion, Name: r.infos[ok].Name + "!" + r.infos[errT].Name, Size: sz, Alignment: 8, OkType: ok, ErrType: errT})
	r.errorUnionOf[k] = idx
	return idx
}

// MakeSlice returns the (deduplicated) TypeIndex for a slice of elem. This
// is also how STRING's own shape (slice<u8>) would be constructed if a
// source type alias for it needed one.
func (r *Registry) MakeSlice(elem TypeIndex) TypeIndex {
	if idx, ok := r.sliceOf[elem]; ok {
		return idx
	}
	idx := r.add(TypeInfo{Kind: KindSlice, Name: "[]" + r.infos[elem].Name, Size: 16, Alignment: 8, Elem: elem})
	r.sliceOf[elem] = idx
	return idx
}

// MakeArray returns the (deduplicated) TypeIndex for a fixed-length array.
func (r *Registry) MakeArray(elem TypeIndex, n uint32) TypeIndex {
	k := arrayKey{elem, n}
	if idx, ok := r.arrayOf[k]; ok {
		return idx
	}
	idx := r.add(TypeInfo{Kind: KindArray, Name: fmt.Sprintf("[%d]%s", n, r.infos[elem].Name), Size: r.infos[elem].Size * n, Alignment: r.infos[elem].Alignment, Elem: elem, ArrayLen: n})
	r.arrayOf[k] = idx
	return idx
}

// MakeList returns the (deduplicated) TypeIndex for a growable list of elem.
// Lists are heap-allocated ARC objects referenced by pointer; the SSA-level
// value representing a list is therefore pointer-sized.
func (r *Registry) MakeList(elem TypeIndex) TypeIndex {
	if idx, ok := r.listOf[elem]; ok {
		return idx
	}
	idx := r.add(TypeInfo{Kind: KindList, Name: "List<" + r.infos[elem].Name + ">", Size: 8, Alignment: 8, Elem: elem})
	r.listOf[elem] = idx
	return idx
}

// MakeMap returns the (deduplicated) TypeIndex for a map from key to value.
func (r *Registry) MakeMap(key, value TypeIndex) TypeIndex {
	k := mapKey{key, value}
	if idx, ok := r.mapOf[k]; ok {
		return idx
	}
	idx := r.add(TypeInfo{Kind: KindMap, Name: "Map<" + r.infos[key].Name + "," + r.infos[value].Name + ">", Size: 8, Alignment: 8, Key: key, Value: value})
	r.mapOf[k] = idx
	return idx
}

// signatureKey renders params+result into a stable dedup key.
func signatureKey(params []TypeIndex, result TypeIndex) string {
	b := make([]byte, 0, 4*len(params)+5)
	for _, p := range params {
		b = append(b, byte(p), byte(p>>8), byte(p>>16), byte(p>>24))
	}
	b = append(b, byte(result), byte(result>>8), byte(result>>16), byte(result>>24))
	return string(b)
}

// MakeFunc returns the (deduplicated) TypeIndex for a function type.
func (r *Registry) MakeFunc(params []TypeIndex, result TypeIndex) TypeIndex {
	k := signatureKey(params, result)
	if idx, ok := r.funcOf[k]; ok {
		return idx
	}
	cp := append([]TypeIndex(nil), params...)
	idx := r.add(TypeInfo{Kind: KindFunc, Name: "fn", Size: 8, Alignment: 8, Params: cp, Result: result})
	r.funcOf[k] = idx
	return idx
}

// MakeStruct returns the (deduplicated, by name) TypeIndex for a struct.
// Struct identity is nominal: two calls with the same name return the same
// index regardless of field contents, matching source-level nominal typing;
// callers must supply final field layout on first construction.
func (r *Registry) MakeStruct(name string, fields []Field) TypeIndex {
	if idx, ok := r.structOf[name]; ok {
		return idx
	}
	var size, align uint32 = 0, 1
	for i := range fields {
		fa := r.infos[fields[i].Type].Alignment
		if fa == 0 {
			fa = 1
		}
		if fields[i].Offset == 0 && size != 0 {
			// offsets are assumed caller-supplied and packed; nothing to do.
		}
		if size%fa != 0 {
			size += fa - size%fa
		}
		if fields[i].Offset == 0 {
			fields[i].Offset = size
		}
		size = fields[i].Offset + r.infos[fields[i].Type].Size
		if fa > align {
			align = fa
		}
	}
	if align > 0 && size%align != 0 {
		size += align - size%align
	}
	cp := append([]Field(nil), fields...)
	idx := r.add(TypeInfo{Kind: KindStruct, Name: name, Size: size, Alignment: align, Fields: cp})
	r.structOf[name] = idx
	return idx
}

// MakeEnum returns the (deduplicated, by name) TypeIndex for an enum with
// the given backing integer type and members.
func (r *Registry) MakeEnum(name string, backing TypeIndex, members []EnumMember) TypeIndex {
	if idx, ok := r.enumOf[name]; ok {
		return idx
	}
	cp := append([]EnumMember(nil), members...)
	idx := r.add(TypeInfo{Kind: KindEnum, Name: name, Size: r.infos[backing].Size, Alignment: r.infos[backing].Alignment, Backing: backing, Members: cp})
	r.enumOf[name] = idx
	return idx
}

// MakeUnion returns the (deduplicated, by name) TypeIndex for a tagged
// union. The tag occupies the first 8 bytes; the payload union follows.
func (r *Registry) MakeUnion(name string, variants []UnionVariant) TypeIndex {
	if idx, ok := r.unionOf[name]; ok {
		return idx
	}
	var maxPayload, maxAlign uint32 = 0, 1
	for _, v := range variants {
		if v.HasPayload {
			if s := r.infos[v.Payload].Size; s > maxPayload {
				maxPayload = s
			}
			if a := r.infos[v.Payload].Alignment; a > maxAlign {
				maxAlign = a
			}
		}
	}
	cp := append([]UnionVariant(nil), variants...)
	idx := r.add(TypeInfo{Kind: KindUnion, Name: name, Size: 8 + maxPayload, Alignment: maxAlign, Variants: cp, Tag: U32})
	r.unionOf[name] = idx
	return idx
}

// VariantIndex returns the index of the named variant of a union type, or
// -1 if not found. Resolution accepts the unqualified variant name for both
// field-access and zero-arg-call parse shapes; ast.SwitchArm already
// carries that bare name, and the Lowerer passes it through unchanged.
func (r *Registry) VariantIndex(unionType TypeIndex, name string) int {
	info := &r.infos[unionType]
	for i, v := range info.Variants {
		if v.Name == name {
			return i
		}
	}
	return -1
}
