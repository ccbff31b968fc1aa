package coff

import (
	"testing"

	"github.com/stretchr/testify/require"

	"flashcpp/internal/objectwriter"
)

func TestFinalizeProducesValidCoffHeader(t *testing.T) {
	obj := objectwriter.NewObject()
	obj.AddSection(objectwriter.Section{Name: ".text", Executable: true, Align: 16})
	obj.AppendBytes(".text", []byte{0x55, 0x48, 0x89, 0xe5, 0xc3})
	obj.AddSymbol(objectwriter.Symbol{Name: "f", Section: ".text", Value: 0, IsFunc: true, Binding: objectwriter.Global})

	out, err := NewWriter().Finalize(obj)
	require.NoError(t, err)

	require.Equal(t, uint16(0x8664), leU16(out[0:]), "IMAGE_FILE_MACHINE_AMD64")
	require.Equal(t, uint16(1), leU16(out[2:]), "one section declared")
}

func TestFinalizeFailsOnUnresolvedRelocationSymbol(t *testing.T) {
	obj := objectwriter.NewObject()
	obj.AddSection(objectwriter.Section{Name: ".text", Executable: true, Align: 16})
	obj.AppendBytes(".text", []byte{0xe8, 0, 0, 0, 0})
	obj.AddRelocation(objectwriter.Relocation{Section: ".text", Offset: 1, Symbol: "nowhere", Type: objectwriter.RelPC32})

	_, err := NewWriter().Finalize(obj)
	require.Error(t, err)
}

func TestFinalizeEncodesLongSectionAndSymbolNamesViaStringTable(t *testing.T) {
	obj := objectwriter.NewObject()
	longName := ".a_much_longer_section_name_than_eight_bytes"
	obj.AddSection(objectwriter.Section{Name: longName, Writable: true, Align: 8})
	obj.AppendBytes(longName, []byte{1, 2, 3, 4})
	obj.AddSymbol(objectwriter.Symbol{Name: "a_symbol_name_longer_than_eight_bytes", Section: longName, Binding: objectwriter.Global})

	out, err := NewWriter().Finalize(obj)
	require.NoError(t, err)
	require.NotEmpty(t, out)
	require.Contains(t, string(out), longName+"\x00", "long section name lands in the string table")
	require.Contains(t, string(out), "a_symbol_name_longer_than_eight_bytes\x00", "long symbol name lands in the string table")
}

func TestFinalizeEmitsRelocationEntryForKnownSymbol(t *testing.T) {
	obj := objectwriter.NewObject()
	obj.AddSection(objectwriter.Section{Name: ".text", Executable: true, Align: 16})
	obj.AppendBytes(".text", []byte{0xe8, 0, 0, 0, 0})
	obj.AddSymbol(objectwriter.Symbol{Name: "callee", Section: ".text", Binding: objectwriter.Global})
	obj.AddRelocation(objectwriter.Relocation{Section: ".text", Offset: 1, Symbol: "callee", Type: objectwriter.RelPC32})

	out, err := NewWriter().Finalize(obj)
	require.NoError(t, err)
	require.NotEmpty(t, out)
}

func leU16(b []byte) uint16 {
	return uint16(b[0]) | uint16(b[1])<<8
}
