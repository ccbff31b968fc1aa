package itanium

import (
	"testing"

	"github.com/stretchr/testify/require"

	"flashcpp/internal/strtab"
	"flashcpp/internal/types"
)

func TestMangleFreeFunctionNoArgs(t *testing.T) {
	reg := types.New(strtab.New())
	got := Mangle([]string{"frobnicate"}, nil, reg)
	require.Equal(t, "_Z10frobnicatev", got)
}

func TestMangleFreeFunctionWithArgs(t *testing.T) {
	reg := types.New(strtab.New())
	params := []types.Index{reg.IntType(32, true), reg.FloatType(64)}
	got := Mangle([]string{"add"}, params, reg)
	require.Equal(t, "_Z3addid", got)
}

func TestMangleNamespaceQualified(t *testing.T) {
	reg := types.New(strtab.New())
	got := Mangle([]string{"ns", "helper"}, nil, reg)
	require.Equal(t, "_ZN2ns6helperEv", got)
}

func TestMangleMainIsExternC(t *testing.T) {
	reg := types.New(strtab.New())
	got := Mangle([]string{"main"}, nil, reg)
	require.Equal(t, "main", got)
}

func TestMangleVariableGlobal(t *testing.T) {
	got := MangleVariable([]string{"counter"})
	require.Equal(t, "_Z7counter", got)
}

func TestMangleVariableNamespaced(t *testing.T) {
	got := MangleVariable([]string{"ns", "counter"})
	require.Equal(t, "_ZN2ns7counterE", got)
}

func TestMangleUnsignedIntType(t *testing.T) {
	reg := types.New(strtab.New())
	params := []types.Index{reg.IntType(32, false)}
	got := Mangle([]string{"f"}, params, reg)
	require.Equal(t, "_Z1fj", got)
}
