package eh

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func emptyFrame(name string) Frame {
	return Frame{FuncName: name, FuncSymbol: name, TextOffset: 0, CodeLen: 16, FrameSize: 32}
}

func TestBuildEHFrameEmptyFunctionGetsMinimalFDE(t *testing.T) {
	f := emptyFrame("empty")
	buf, relocs := BuildEHFrame([]Frame{f})

	require.NotEmpty(t, buf)
	// Two relocations per frame: begin-address (PC32) and LSDA pointer (PC32).
	require.Len(t, relocs, 2)
	require.Equal(t, "empty", relocs[0].Symbol)
	require.Equal(t, "empty$lsda", relocs[1].Symbol)
	for _, r := range relocs {
		require.Equal(t, ".eh_frame", r.Section)
	}
}

func TestBuildEHFrameMultipleFramesShareOneCIE(t *testing.T) {
	f1 := emptyFrame("f1")
	f2 := emptyFrame("f2")
	buf, relocs := BuildEHFrame([]Frame{f1, f2})

	require.Len(t, relocs, 4)
	require.Equal(t, "f1", relocs[0].Symbol)
	require.Equal(t, "f2", relocs[2].Symbol)
	require.NotEmpty(t, buf)
}

func TestBuildGccExceptTableNoTryRegionsIsJustTheHeader(t *testing.T) {
	f := emptyFrame("empty")
	buf, relocs := BuildGccExceptTable(f)

	require.NotEmpty(t, buf)
	require.Empty(t, relocs)
	// @LPStart omitted (0xff) then the ttype encoding byte.
	require.Equal(t, byte(0xff), buf[0])
}

func TestBuildGccExceptTableOneTryRegionWithCatchAll(t *testing.T) {
	f := emptyFrame("withTry")
	f.TryRegions = []TryRegion{
		{StartOffset: 4, EndOffset: 10, LandingPad: 12, Handlers: []Handler{{TypeName: ""}}},
	}
	buf, relocs := BuildGccExceptTable(f)

	require.NotEmpty(t, buf)
	require.Empty(t, relocs, "catch-all has no typeinfo to relocate")
}

func TestBuildGccExceptTableTypedHandlerGetsTypeinfoRelocation(t *testing.T) {
	f := emptyFrame("withCatch")
	f.TryRegions = []TryRegion{
		{StartOffset: 0, EndOffset: 8, LandingPad: 8, Handlers: []Handler{{TypeName: "std::exception"}}},
	}
	_, relocs := BuildGccExceptTable(f)

	require.Len(t, relocs, 1)
	require.Equal(t, "typeinfo$std::exception", relocs[0].Symbol)
	require.Equal(t, ".gcc_except_table", relocs[0].Section)
}

func TestBuildUnwindInfoNonEmptyFrameIncludesAllocLarge(t *testing.T) {
	f := emptyFrame("f")
	buf := BuildUnwindInfo(f, 4)

	require.GreaterOrEqual(t, len(buf), 4)
	// Header: version/flags, sizeOfProlog, countOfCodes, frameRegister.
	require.Equal(t, byte(1), buf[0]&0x0f, "version 1, no EH handler without try regions")
	require.Equal(t, byte(3), buf[2], "push-rbp + set-fpreg + alloc-large = 3 unwind codes")
}

func TestBuildUnwindInfoWithTryRegionsSetsEHandlerFlag(t *testing.T) {
	f := emptyFrame("f")
	f.TryRegions = []TryRegion{{StartOffset: 0, EndOffset: 4, LandingPad: 4}}
	buf := BuildUnwindInfo(f, 4)

	require.Equal(t, byte(0x08), buf[0]&0x08, "UNW_FLAG_EHANDLER must be set when try regions exist")
}

func TestBuildUnwindInfoZeroFrameSizeOmitsAllocLarge(t *testing.T) {
	f := emptyFrame("f")
	f.FrameSize = 0
	buf := BuildUnwindInfo(f, 4)

	require.Equal(t, byte(2), buf[2], "push-rbp + set-fpreg only, no sub rsp")
}

func TestBuildRuntimeFunctionProducesThreeRelocations(t *testing.T) {
	buf, relocs := BuildRuntimeFunction("f", "f$unwind")

	require.Len(t, buf, 12)
	require.Len(t, relocs, 3)
	require.Equal(t, "f", relocs[0].Symbol)
	require.Equal(t, "f$end", relocs[1].Symbol)
	require.Equal(t, "f$unwind", relocs[2].Symbol)
	for _, r := range relocs {
		require.Equal(t, ".pdata", r.Section)
	}
}

func TestBuildFuncInfoMagicAndTryBlockCount(t *testing.T) {
	f := emptyFrame("f")
	f.TryRegions = []TryRegion{
		{Handlers: []Handler{{TypeName: "std::exception"}}},
	}
	buf, relocs := BuildFuncInfo(f, map[string]string{"std::exception": "catch$0"})

	require.GreaterOrEqual(t, len(buf), 4)
	magic := uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24
	require.Equal(t, FuncInfoMagic, magic)
	require.Len(t, relocs, 2, "one typeinfo relocation plus one handler-address relocation")
}
