// Package itanium implements the Itanium C++ ABI name-mangling scheme used
// on the SysV/Linux target, per spec §4.5/§6.
//
// FlashCpp has no mangling of its own in the teacher (rtg emits plain
// package-qualified strings, e.g. Compiler.compileFunc building
// `pkg.Path + "." + name` directly into IRFunc.Name in ir.go); the *shape*
// kept from that — a pure function from a qualified name plus a type list
// to a linkage-name string — is what's generalized here to the real
// Itanium encoding, since a hand-rolled dotted name can't link against a
// real C++ runtime or libstdc++-compiled object.
package itanium

import (
	"fmt"
	"strings"

	"flashcpp/internal/types"
)

// Mangle produces the Itanium-mangled linkage name for a free function
// with the given (possibly namespace-qualified) name and parameter types.
// Substitution compression (the Itanium ABI's S_/St abbreviations) is not
// implemented — every occurrence of a repeated type/name is spelled out in
// full, which is correct but longer than what a production compiler
// would emit.
func Mangle(qualifiedName []string, params []types.Index, reg *types.Registry) string {
	if len(qualifiedName) == 0 {
		return "_Z"
	}
	if isExternC(qualifiedName) {
		return qualifiedName[len(qualifiedName)-1]
	}
	var b strings.Builder
	b.WriteString("_Z")
	if len(qualifiedName) > 1 {
		b.WriteByte('N')
		for _, part := range qualifiedName {
			writeSourceName(&b, part)
		}
		b.WriteByte('E')
	} else {
		writeSourceName(&b, qualifiedName[0])
	}
	if len(params) == 0 {
		b.WriteByte('v')
	} else {
		for _, p := range params {
			writeType(&b, p, reg)
		}
	}
	return b.String()
}

// MangleVariable produces the mangled name for a namespace-scope (or
// global) variable, which has no parameter-list suffix.
func MangleVariable(qualifiedName []string) string {
	if len(qualifiedName) == 0 {
		return "_Z"
	}
	if len(qualifiedName) == 1 {
		var b strings.Builder
		b.WriteString("_Z")
		writeSourceName(&b, qualifiedName[0])
		return b.String()
	}
	var b strings.Builder
	b.WriteString("_ZN")
	for _, part := range qualifiedName {
		writeSourceName(&b, part)
	}
	b.WriteByte('E')
	return b.String()
}

func isExternC(qualifiedName []string) bool {
	return len(qualifiedName) == 1 && qualifiedName[0] == "main"
}

func writeSourceName(b *strings.Builder, name string) {
	fmt.Fprintf(b, "%d%s", len(name), name)
}

func writeType(b *strings.Builder, idx types.Index, reg *types.Registry) {
	if idx == types.Invalid {
		b.WriteByte('v')
		return
	}
	info := reg.Get(idx)
	switch info.Kind {
	case types.Void:
		b.WriteByte('v')
	case types.Bool:
		b.WriteByte('b')
	case types.Int:
		b.WriteString(intCode(info.SizeBits, info.IntSigned))
	case types.Float:
		if info.FloatBits == 32 {
			b.WriteByte('f')
		} else {
			b.WriteByte('d')
		}
	case types.Pointer:
		b.WriteByte('P')
		writeType(b, info.Elem, reg)
	case types.Reference:
		if info.RefKind == types.RValueRef {
			b.WriteByte('O')
		} else {
			b.WriteByte('R')
		}
		writeType(b, info.Elem, reg)
	case types.Array:
		fmt.Fprintf(b, "A%d_", info.ArrayLen)
		writeType(b, info.Elem, reg)
	case types.Struct, types.Enum, types.TypeAlias, types.Dependent:
		writeSourceName(b, reg.NameOf(idx))
	default:
		b.WriteByte('v')
	}
}

func intCode(bits int, signed bool) string {
	switch bits {
	case 8:
		if signed {
			return "c"
		}
		return "h"
	case 16:
		if signed {
			return "s"
		}
		return "t"
	case 32:
		if signed {
			return "i"
		}
		return "j"
	default:
		if signed {
			return "x"
		}
		return "y"
	}
}
