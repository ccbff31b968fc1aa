package msvc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"flashcpp/internal/strtab"
	"flashcpp/internal/types"
)

func TestMangleFreeFunctionVoidNoArgs(t *testing.T) {
	reg := types.New(strtab.New())
	got := Mangle([]string{"frobnicate"}, reg.Void(), nil, reg)
	require.Equal(t, "?frobnicate@@YAXXZ", got)
}

func TestMangleFreeFunctionWithArgs(t *testing.T) {
	reg := types.New(strtab.New())
	params := []types.Index{reg.IntType(32, true), reg.FloatType(64)}
	got := Mangle([]string{"add"}, reg.IntType(32, true), params, reg)
	require.Equal(t, "?add@@YAHHNZ", got)
}

func TestMangleNamespaceQualified(t *testing.T) {
	reg := types.New(strtab.New())
	got := Mangle([]string{"ns", "helper"}, reg.Void(), nil, reg)
	require.Equal(t, "?helper@ns@@YAXXZ", got)
}

func TestMangleDeeplyNestedNamespace(t *testing.T) {
	reg := types.New(strtab.New())
	got := Mangle([]string{"outer", "inner", "helper"}, reg.Void(), nil, reg)
	require.Equal(t, "?helper@inner@outer@@YAXXZ", got)
}

func TestMangleMainIsExternC(t *testing.T) {
	reg := types.New(strtab.New())
	got := Mangle([]string{"main"}, reg.IntType(32, true), nil, reg)
	require.Equal(t, "main", got)
}

func TestMangleBoolReturn(t *testing.T) {
	reg := types.New(strtab.New())
	got := Mangle([]string{"isReady"}, reg.Bool(), nil, reg)
	require.Equal(t, "?isReady@@YA_NXZ", got)
}
