package types

import (
	"testing"

	"github.com/stretchr/testify/require"

	"flashcpp/internal/strtab"
)

func TestBuiltinsAreCanonical(t *testing.T) {
	strings := strtab.New()
	r := New(strings)

	require.Equal(t, r.IntType(32, true), r.IntType(32, true))
	require.NotEqual(t, r.IntType(32, true), r.IntType(32, false))
	require.NotEqual(t, r.IntType(32, true), r.IntType(64, true))

	info := r.Get(r.IntType(32, true))
	require.Equal(t, Int, info.Kind)
	require.Equal(t, 32, info.SizeBits)
	require.True(t, info.IntSigned)
	require.Equal(t, "int", r.NameOf(r.IntType(32, true)))
}

func TestInternDeduplicatesStructuralTypes(t *testing.T) {
	strings := strtab.New()
	r := New(strings)

	p1 := r.PointerTo(r.IntType(32, true))
	p2 := r.PointerTo(r.IntType(32, true))
	require.Equal(t, p1, p2, "pointer-to-int must be interned to one Index")

	p3 := r.PointerTo(r.IntType(64, true))
	require.NotEqual(t, p1, p3)
}

func TestArrayOfComputesSize(t *testing.T) {
	strings := strtab.New()
	r := New(strings)

	arr := r.ArrayOf(r.IntType(32, true), 4)
	info := r.Get(arr)
	require.Equal(t, 128, info.SizeBits) // 4 * 32 bits
}

func TestDeclareAndLookupNominalType(t *testing.T) {
	strings := strtab.New()
	r := New(strings)

	name := strings.InternString("Widget")
	idx := r.Declare(name, TypeInfo{Kind: Struct, SizeBits: 64, AlignBits: 64, StructPtr: &StructInfo{}})

	found, ok := r.Lookup(name)
	require.True(t, ok)
	require.Equal(t, idx, found)

	// Two distinct Declare calls under the same name, even with identical
	// payloads, are never the same type: Struct identity is nominal.
	other := r.Declare(name, TypeInfo{Kind: Struct, SizeBits: 64, AlignBits: 64, StructPtr: &StructInfo{}})
	require.NotEqual(t, idx, other)
}

func TestComputeStructLayoutAlignsAndPads(t *testing.T) {
	strings := strtab.New()
	r := New(strings)
	charTy := r.IntType(8, true)
	intTy := r.IntType(32, true)

	members := []Member{
		{Name: strings.InternString("a"), Type: charTy},
		{Name: strings.InternString("b"), Type: intTy},
	}
	size, align := ComputeStructLayout(r, members, r.Get)

	require.Equal(t, 0, members[0].OffsetBits)
	require.Equal(t, 32, members[1].OffsetBits, "int member must be padded up to its own alignment")
	require.Equal(t, 64, size)
	require.Equal(t, 32, align)
}

func TestComputeStructLayoutPacksBitFields(t *testing.T) {
	strings := strtab.New()
	r := New(strings)
	intTy := r.IntType(32, true)

	members := []Member{
		{Name: strings.InternString("flag"), Type: intTy, BitWidth: 1},
		{Name: strings.InternString("rest"), Type: intTy, BitWidth: 7},
	}
	_, _ = ComputeStructLayout(r, members, r.Get)

	require.Equal(t, 0, members[0].OffsetBits)
	require.Equal(t, 1, members[1].OffsetBits, "a bit-field must not force alignment of the next bit-field")
}

func TestNewDependentIsNominalAndDistinct(t *testing.T) {
	strings := strtab.New()
	r := New(strings)
	name := strings.InternString("T")

	d1 := r.NewDependent(name)
	d2 := r.NewDependent(name)
	require.NotEqual(t, d1, d2, "each NewDependent call is a fresh placeholder, even under the same spelling")
	require.Equal(t, Dependent, r.Get(d1).Kind)
}
