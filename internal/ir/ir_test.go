package ir

import (
	"testing"

	"github.com/stretchr/testify/require"

	"flashcpp/internal/types"
)

func TestNewFunctionStartsEmpty(t *testing.T) {
	fn := NewFunction("add", types.Invalid)
	require.Equal(t, "add", fn.Name)
	require.Empty(t, fn.Params)
	require.Empty(t, fn.Locals)
	require.Empty(t, fn.Code)
	require.NotNil(t, fn.TempSizes)
}

func TestInstAppendPreservesThreeAddressForm(t *testing.T) {
	fn := NewFunction("add", types.Invalid)
	fn.Params = []Local{
		{Name: "a", IsParam: true, SizeBits: 32, AlignBits: 32},
		{Name: "b", IsParam: true, SizeBits: 32, AlignBits: 32},
	}
	t0 := TempVar(0)
	t1 := TempVar(1)
	t2 := TempVar(2)
	fn.Code = append(fn.Code,
		Inst{Op: OpLoadLocal, Result: t0, IntValue: 0, Width: 32},
		Inst{Op: OpLoadLocal, Result: t1, IntValue: 1, Width: 32},
		Inst{Op: OpAdd, Result: t2, Arg1: t0, Arg2: t1, Width: 32},
		Inst{Op: OpReturn, Arg1: t2, Result: NoResult},
	)

	require.Len(t, fn.Code, 4)
	require.Equal(t, OpAdd, fn.Code[2].Op)
	require.Equal(t, t0, fn.Code[2].Arg1)
	require.Equal(t, t1, fn.Code[2].Arg2)
	require.Equal(t, NoResult, fn.Code[3].Result)
}

func TestModuleHoldsMultipleFunctionsAndGlobals(t *testing.T) {
	mod := &Module{
		Funcs: []*Function{
			NewFunction("f", types.Invalid),
			NewFunction("g", types.Invalid),
		},
		Globals: []Global{
			{Name: "counter", Type: types.Invalid, Init: []byte{0, 0, 0, 0}},
		},
	}
	require.Len(t, mod.Funcs, 2)
	require.Equal(t, "f", mod.Funcs[0].Name)
	require.Equal(t, "counter", mod.Globals[0].Name)
}
