// Package types implements the global type table: TypeInfo records indexed
// by a dense TypeIndex and by name, per spec §3/§4 (TypeRegistry).
//
// The shape follows the teacher's TypeInfo/FieldInfo pair in
// std/compiler/ir.go, generalized from a closed kind enum to the full C++
// sum type, and from name-keyed lookup alone to TypeIndex-keyed canonical
// storage with a name map layered on top.
package types

import "flashcpp/internal/strtab"

// Index is a dense 32-bit index into the registry's TypeInfo vector.
// Invariant: every distinct type has exactly one Index (canonical form).
type Index uint32

const Invalid Index = 0xFFFFFFFF

// Kind discriminates the TypeInfo sum.
type Kind int

const (
	Void Kind = iota
	Bool
	Int
	Float
	Pointer
	Reference
	Array
	Function
	Struct
	Enum
	TypeAlias
	Dependent
)

// ReferenceKind distinguishes lvalue from rvalue references.
type ReferenceKind int

const (
	LValueRef ReferenceKind = iota
	RValueRef
)

// FuncSignature describes a Function TypeInfo's payload.
type FuncSignature struct {
	Params     []Index
	Return     Index
	IsVariadic bool
}

// TypeInfo is the registry's canonical record for one type.
type TypeInfo struct {
	Name        strtab.Handle
	Kind        Kind
	SizeBits    int
	AlignBits   int
	IsIncomplete bool // is_incomplete_instantiation

	// Kind-specific payloads; exactly one is meaningful per Kind.
	IntSigned bool
	FloatBits int
	Elem      Index // Pointer / Array / TypeAlias
	RefKind   ReferenceKind
	ArrayLen  int64
	Sig       *FuncSignature
	StructPtr *StructInfo
	EnumPtr   *EnumInfo

	// DependentName carries the unresolved source spelling of a Dependent
	// placeholder type; nothing clears or resolves it.
	DependentName strtab.Handle
}

// Member is one data member of a struct.
type Member struct {
	Name     strtab.Handle
	Type     Index
	OffsetBits int
	BitWidth int // 0 means "not a bit-field"
}

// Virtuality classifies a member function's dispatch.
type Virtuality int

const (
	NonVirtual Virtuality = iota
	Virtual
	PureVirtual
	Override
)

// Access is the C++ access specifier.
type Access int

const (
	Public Access = iota
	Protected
	Private
)

// MemberFunction is one member function declaration.
type MemberFunction struct {
	Name       strtab.Handle
	Sig        FuncSignature
	BodyID     int // index into the function-body table; -1 if declaration only
	Virtuality Virtuality
	Access     Access
	VTableSlot int // -1 if not virtual
}

// StaticMember is a static data member.
type StaticMember struct {
	Name   strtab.Handle
	Type   Index
	Access Access
}

// BaseClass is one entry in a struct's base-class list.
type BaseClass struct {
	Type      Index
	OffsetBits int
	IsVirtual bool
	Access    Access
}

// StructInfo is the layout and member tables for a Struct TypeInfo.
//
// Layout invariant (spec §3): for every member, offset+size <= parent size,
// with alignment-respecting padding inserted; layout is computed once, at
// class completion.
type StructInfo struct {
	Members         []Member
	MemberFunctions []MemberFunction
	StaticMembers   []StaticMember
	Bases           []BaseClass
	Friends         []strtab.Handle

	// TemplatePattern links a struct instantiated from a template back to
	// its originating pattern, for diagnostics and for the instantiation
	// cache (see internal/template).
	TemplatePattern strtab.Handle

	HasVTable  bool
	VTableSize int
}

// EnumInfo is the member list for an Enum TypeInfo.
type EnumInfo struct {
	Underlying Index
	IsScoped   bool
	Enumerators []Enumerator
}

type Enumerator struct {
	Name  strtab.Handle
	Value int64
}

// Registry owns all TypeInfo records for one translation unit. Per spec §5,
// one fresh Registry exists per TU; there is no cross-TU sharing.
type Registry struct {
	types   []TypeInfo
	byName  map[strtab.Handle]Index
	strtab  *strtab.Table

	voidIdx, boolIdx Index
	intIdx           [4 /*8,16,32,64 bit widths*/][2 /*signed,unsigned*/]Index
	floatIdx         [2]Index // 32, 64 bit
}

func New(strings *strtab.Table) *Registry {
	r := &Registry{byName: make(map[strtab.Handle]Index), strtab: strings}
	r.voidIdx = r.add(TypeInfo{Kind: Void, Name: strings.InternString("void")})
	r.boolIdx = r.add(TypeInfo{Kind: Bool, Name: strings.InternString("bool"), SizeBits: 8, AlignBits: 8})
	widths := []int{8, 16, 32, 64}
	for wi, w := range widths {
		r.intIdx[wi][0] = r.add(TypeInfo{Kind: Int, IntSigned: true, SizeBits: w, AlignBits: w,
			Name: strings.InternString(signedIntName(w))})
		r.intIdx[wi][1] = r.add(TypeInfo{Kind: Int, IntSigned: false, SizeBits: w, AlignBits: w,
			Name: strings.InternString(unsignedIntName(w))})
	}
	r.floatIdx[0] = r.add(TypeInfo{Kind: Float, FloatBits: 32, SizeBits: 32, AlignBits: 32, Name: strings.InternString("float")})
	r.floatIdx[1] = r.add(TypeInfo{Kind: Float, FloatBits: 64, SizeBits: 64, AlignBits: 64, Name: strings.InternString("double")})
	return r
}

func signedIntName(bits int) string {
	switch bits {
	case 8:
		return "signed char"
	case 16:
		return "short"
	case 32:
		return "int"
	default:
		return "long long"
	}
}

func unsignedIntName(bits int) string {
	switch bits {
	case 8:
		return "unsigned char"
	case 16:
		return "unsigned short"
	case 32:
		return "unsigned int"
	default:
		return "unsigned long long"
	}
}

func (r *Registry) Void() Index   { return r.voidIdx }
func (r *Registry) Bool() Index   { return r.boolIdx }
func (r *Registry) Get(i Index) *TypeInfo { return &r.types[i] }

// NameOf returns the type's spelled name (its interned Name handle,
// resolved through the registry's string table) — used by the mangling
// packages, which need readable source names rather than Index values.
func (r *Registry) NameOf(i Index) string {
	return r.strtab.ViewString(r.types[i].Name)
}

func widthIndex(bits int) int {
	switch bits {
	case 8:
		return 0
	case 16:
		return 1
	case 32:
		return 2
	default:
		return 3
	}
}

func (r *Registry) IntType(bits int, signed bool) Index {
	s := 0
	if !signed {
		s = 1
	}
	return r.intIdx[widthIndex(bits)][s]
}

func (r *Registry) FloatType(bits int) Index {
	if bits == 32 {
		return r.floatIdx[0]
	}
	return r.floatIdx[1]
}

// add appends a type unconditionally (used for primitives during Registry
// construction, which can never collide).
func (r *Registry) add(t TypeInfo) Index {
	idx := Index(len(r.types))
	r.types = append(r.types, t)
	if t.Name != 0 {
		r.byName[t.Name] = idx
	}
	return idx
}

// Intern returns the canonical Index for t, reusing an existing entry with
// structurally-equal payload if one already exists. This is the mechanism
// behind the canonical-type invariant in spec §8: for all type-syntax trees
// denoting the same type, resolution returns the same Index.
func (r *Registry) Intern(t TypeInfo) Index {
	for i := range r.types {
		if r.structurallyEqual(&r.types[i], &t) {
			return Index(i)
		}
	}
	return r.add(t)
}

func (r *Registry) structurallyEqual(a, b *TypeInfo) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case Void, Bool:
		return true
	case Int:
		return a.IntSigned == b.IntSigned && a.SizeBits == b.SizeBits
	case Float:
		return a.FloatBits == b.FloatBits
	case Pointer:
		return a.Elem == b.Elem
	case Reference:
		return a.Elem == b.Elem && a.RefKind == b.RefKind
	case Array:
		return a.Elem == b.Elem && a.ArrayLen == b.ArrayLen
	case Function:
		return funcSigEqual(a.Sig, b.Sig)
	case TypeAlias:
		return a.Elem == b.Elem
	case Struct, Enum, Dependent:
		// Struct/Enum/Dependent identity is nominal (name-keyed), never
		// structural: two distinctly-declared structs are never the same
		// type even with identical members.
		return a.Name == b.Name && a.Name != 0
	}
	return false
}

func funcSigEqual(a, b *FuncSignature) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Return != b.Return || a.IsVariadic != b.IsVariadic || len(a.Params) != len(b.Params) {
		return false
	}
	for i := range a.Params {
		if a.Params[i] != b.Params[i] {
			return false
		}
	}
	return true
}

// Declare registers a new nominal type (struct/enum/alias) under name,
// keyed on the unqualified, hash-suffixed instantiation name for template
// instantiations (see internal/template) or the plain name otherwise.
func (r *Registry) Declare(name strtab.Handle, t TypeInfo) Index {
	t.Name = name
	idx := r.add(t)
	return idx
}

// Lookup resolves a name to its TypeIndex, if one has been declared.
func (r *Registry) Lookup(name strtab.Handle) (Index, bool) {
	idx, ok := r.byName[name]
	return idx, ok
}

// PointerTo returns (interning) the pointer-to-elem type.
func (r *Registry) PointerTo(elem Index) Index {
	return r.Intern(TypeInfo{Kind: Pointer, Elem: elem, SizeBits: 64, AlignBits: 64})
}

// ReferenceTo returns (interning) a reference-to-elem type of the given kind.
func (r *Registry) ReferenceTo(elem Index, kind ReferenceKind) Index {
	return r.Intern(TypeInfo{Kind: Reference, Elem: elem, RefKind: kind, SizeBits: 64, AlignBits: 64})
}

// ArrayOf returns (interning) the array-of-elem[len] type.
func (r *Registry) ArrayOf(elem Index, length int64) Index {
	elemInfo := r.Get(elem)
	return r.Intern(TypeInfo{
		Kind: Array, Elem: elem, ArrayLen: length,
		SizeBits:  elemInfo.SizeBits * int(length),
		AlignBits: elemInfo.AlignBits,
	})
}

// FunctionType returns (interning) the function type for sig.
func (r *Registry) FunctionType(sig FuncSignature) Index {
	return r.Intern(TypeInfo{Kind: Function, Sig: &sig, SizeBits: 0, AlignBits: 64})
}

// NewDependent allocates a fresh Dependent placeholder type; every call
// yields a distinct Index, even for the same name. No substitution pass
// replaces these placeholders, and the parser does not call it.
func (r *Registry) NewDependent(name strtab.Handle) Index {
	return r.add(TypeInfo{Kind: Dependent, DependentName: name, Name: name})
}

// ComputeStructLayout lays out members in declaration order, inserting
// alignment-respecting padding, and rounds the total size up to the
// largest member alignment. It performs no check of member offsets
// against a parent size.
func ComputeStructLayout(reg *Registry, members []Member, getType func(Index) *TypeInfo) (sizeBits, alignBits int) {
	offset := 0
	maxAlign := 8
	for i := range members {
		m := &members[i]
		mt := getType(m.Type)
		align := mt.AlignBits
		if align == 0 {
			align = 8
		}
		if align > maxAlign {
			maxAlign = align
		}
		if m.BitWidth == 0 {
			offset = alignUp(offset, align)
			m.OffsetBits = offset
			offset += mt.SizeBits
		} else {
			// Bit-fields pack into the current byte-aligned allocation unit
			// without forcing field alignment.
			m.OffsetBits = offset
			offset += m.BitWidth
		}
	}
	sizeBits = alignUp(offset, maxAlign)
	alignBits = maxAlign
	return sizeBits, alignBits
}

func alignUp(n, align int) int {
	if align <= 0 {
		return n
	}
	return (n + align - 1) / align * align
}
