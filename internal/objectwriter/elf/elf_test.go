package elf

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"flashcpp/internal/objectwriter"
)

func TestFinalizeProducesValidElfHeader(t *testing.T) {
	obj := objectwriter.NewObject()
	obj.AddSection(objectwriter.Section{Name: ".text", Executable: true, Align: 16})
	obj.AppendBytes(".text", []byte{0x55, 0x48, 0x89, 0xe5, 0xc3})
	obj.AddSymbol(objectwriter.Symbol{Name: "f", Section: ".text", Value: 0, Size: 5, IsFunc: true, Binding: objectwriter.Global})

	w := NewWriter()
	out, err := w.Finalize(obj)
	require.NoError(t, err)

	require.Equal(t, []byte{0x7f, 'E', 'L', 'F'}, out[0:4])
	require.Equal(t, byte(2), out[4], "ELFCLASS64")
	require.Equal(t, byte(1), out[5], "ELFDATA2LSB")
	require.Equal(t, uint16(1), leU16(out[16:]), "e_type == ET_REL")
	require.Equal(t, uint16(62), leU16(out[18:]), "e_machine == EM_X86_64")
}

func TestFinalizeFailsOnUnresolvedRelocationSymbol(t *testing.T) {
	obj := objectwriter.NewObject()
	obj.AddSection(objectwriter.Section{Name: ".text", Executable: true, Align: 16})
	obj.AppendBytes(".text", []byte{0xe8, 0, 0, 0, 0})
	obj.AddRelocation(objectwriter.Relocation{Section: ".text", Offset: 1, Symbol: "nowhere", Type: objectwriter.RelPC32})

	_, err := NewWriter().Finalize(obj)
	require.Error(t, err)
}

func TestFinalizeResolvesRelocationAgainstKnownSymbol(t *testing.T) {
	obj := objectwriter.NewObject()
	obj.AddSection(objectwriter.Section{Name: ".text", Executable: true, Align: 16})
	obj.AppendBytes(".text", []byte{0xe8, 0, 0, 0, 0})
	obj.AddSymbol(objectwriter.Symbol{Name: "callee", Section: ".text", Value: 0, IsFunc: true, Binding: objectwriter.Global})
	obj.AddRelocation(objectwriter.Relocation{Section: ".text", Offset: 1, Symbol: "callee", Type: objectwriter.RelPC32})

	out, err := NewWriter().Finalize(obj)
	require.NoError(t, err)
	require.NotEmpty(t, out)
}

func TestFinalizeOrdersLocalSymbolsBeforeGlobal(t *testing.T) {
	obj := objectwriter.NewObject()
	obj.AddSection(objectwriter.Section{Name: ".text", Executable: true, Align: 16})
	obj.AppendBytes(".text", make([]byte, 4))
	obj.AddSymbol(objectwriter.Symbol{Name: "g", Section: ".text", Binding: objectwriter.Global})
	obj.AddSymbol(objectwriter.Symbol{Name: "l", Section: ".text", Binding: objectwriter.Local})

	out, err := NewWriter().Finalize(obj)
	require.NoError(t, err, "a global symbol registered before a local one must not break the STB_LOCAL-first ordering Finalize relies on")

	shoff := int(binary.LittleEndian.Uint64(out[40:]))
	shnum := int(leU16(out[60:]))
	found := false
	for i := 0; i < shnum; i++ {
		sh := out[shoff+i*64:]
		if binary.LittleEndian.Uint32(sh[4:]) != 2 { // SHT_SYMTAB
			continue
		}
		found = true
		symOff := int(binary.LittleEndian.Uint64(sh[24:]))
		require.Equal(t, byte(0), out[symOff+1*24+4]>>4, "symbol 1 is STB_LOCAL")
		require.Equal(t, byte(1), out[symOff+2*24+4]>>4, "symbol 2 is STB_GLOBAL")
		require.Equal(t, uint32(2), binary.LittleEndian.Uint32(sh[44:]), "sh_info is the first global's index")
	}
	require.True(t, found, "a .symtab section header is present")
}

func leU16(b []byte) uint16 {
	return uint16(b[0]) | uint16(b[1])<<8
}
