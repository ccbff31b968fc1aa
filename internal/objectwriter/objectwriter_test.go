package objectwriter

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendBytesTracksOffsetPerSection(t *testing.T) {
	obj := NewObject()
	obj.AddSection(Section{Name: ".text", Executable: true, Align: 16})

	off1 := obj.AppendBytes(".text", []byte{0x55, 0x48})
	off2 := obj.AppendBytes(".text", []byte{0x89, 0xe5})

	require.Equal(t, uint64(0), off1)
	require.Equal(t, uint64(2), off2)

	sec, ok := obj.Section(".text")
	require.True(t, ok)
	require.Equal(t, []byte{0x55, 0x48, 0x89, 0xe5}, sec.Data)
}

func TestAppendBytesToUndeclaredSectionIsNoOp(t *testing.T) {
	obj := NewObject()
	off := obj.AppendBytes(".bogus", []byte{1, 2, 3})
	require.Equal(t, uint64(0), off)
	_, ok := obj.Section(".bogus")
	require.False(t, ok)
}

func TestAddSymbolAndRelocationAccumulate(t *testing.T) {
	obj := NewObject()
	obj.AddSection(Section{Name: ".text"})
	obj.AddSymbol(Symbol{Name: "add", Section: ".text", Value: 0, IsFunc: true, Binding: Global})
	obj.AddRelocation(Relocation{Section: ".text", Offset: 4, Symbol: "helper", Type: RelPC32})

	require.Len(t, obj.Symbols, 1)
	require.Equal(t, "add", obj.Symbols[0].Name)
	require.Len(t, obj.Relocs, 1)
	require.Equal(t, RelPC32, obj.Relocs[0].Type)
}

func TestPutU16U32U64RoundTrip(t *testing.T) {
	b16 := make([]byte, 2)
	PutU16(b16, 0xABCD)
	require.Equal(t, []byte{0xCD, 0xAB}, b16)

	b32 := make([]byte, 4)
	PutU32(b32, 0x01020304)
	require.Equal(t, []byte{0x04, 0x03, 0x02, 0x01}, b32)

	b64 := make([]byte, 8)
	PutU64(b64, 0x0102030405060708)
	require.Equal(t, []byte{0x08, 0x07, 0x06, 0x05, 0x04, 0x03, 0x02, 0x01}, b64)
}
