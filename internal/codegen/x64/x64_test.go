package x64

import (
	"testing"

	"github.com/stretchr/testify/require"

	"flashcpp/internal/ir"
	"flashcpp/internal/objectwriter"
)

// addFunction builds `long add(long a, long b) { return a + b; }` directly in
// IR, bypassing the parser/irgen front end to exercise Generate in
// isolation.
func addFunction() *ir.Function {
	fn := ir.NewFunction("add", 0)
	fn.Params = []ir.Local{
		{Name: "a", IsParam: true, SizeBits: 64, AlignBits: 64},
		{Name: "b", IsParam: true, SizeBits: 64, AlignBits: 64},
	}
	fn.TempSizes = map[ir.TempVar]int{0: 8, 1: 8, 2: 8}
	fn.Code = []ir.Inst{
		{Op: ir.OpLoadLocal, Result: 0, IntValue: 0, Width: 64},
		{Op: ir.OpLoadLocal, Result: 1, IntValue: 1, Width: 64},
		{Op: ir.OpAdd, Result: 2, Arg1: 0, Arg2: 1, Width: 64},
		{Op: ir.OpReturn, Arg1: 2, Result: ir.NoResult},
	}
	return fn
}

func TestGenerateEmitsTextSectionAndSymbol(t *testing.T) {
	fn := addFunction()
	obj := objectwriter.NewObject()

	layout := Generate(fn, obj, SysV)

	require.Greater(t, layout.Len, uint64(0))
	require.Equal(t, uint64(0), layout.Base, "first function in a fresh object starts at offset 0")

	sec, ok := obj.Section(".text")
	require.True(t, ok)
	require.Len(t, sec.Data, int(layout.Len))
	// push rbp; mov rbp, rsp is the emitter's fixed prologue opening.
	require.Equal(t, byte(0x55), sec.Data[0])

	require.Len(t, obj.Symbols, 1)
	require.Equal(t, "add", obj.Symbols[0].Name)
	require.True(t, obj.Symbols[0].IsFunc)
	require.Equal(t, objectwriter.Local, obj.Symbols[0].Binding)
}

func TestGenerateExportedFunctionGetsGlobalBinding(t *testing.T) {
	fn := addFunction()
	fn.IsExported = true
	obj := objectwriter.NewObject()

	Generate(fn, obj, SysV)

	require.Equal(t, objectwriter.Global, obj.Symbols[0].Binding)
}

func TestGenerateSecondFunctionAppendsAfterFirst(t *testing.T) {
	obj := objectwriter.NewObject()
	first := Generate(addFunction(), obj, SysV)
	second := Generate(addFunction(), obj, SysV)

	require.Equal(t, first.Base+first.Len, second.Base)
}

func TestGenerateCallEmitsRelocation(t *testing.T) {
	fn := ir.NewFunction("caller", 0)
	fn.TempSizes = map[ir.TempVar]int{0: 8}
	fn.Code = []ir.Inst{
		{Op: ir.OpCall, Result: 0, StrValue: "callee", Args: nil},
		{Op: ir.OpReturn, Arg1: 0, Result: ir.NoResult},
	}
	obj := objectwriter.NewObject()
	Generate(fn, obj, SysV)

	require.Len(t, obj.Relocs, 1)
	require.Equal(t, "callee", obj.Relocs[0].Symbol)
	require.Equal(t, objectwriter.RelPC32, obj.Relocs[0].Type)
	require.Equal(t, ".text", obj.Relocs[0].Section)
}

func TestDisassembleListsFunctionNameAndReturn(t *testing.T) {
	fn := addFunction()
	text, err := Disassemble(fn)
	require.NoError(t, err)
	require.Contains(t, text, "add")
	require.Contains(t, text, "RET")
}
