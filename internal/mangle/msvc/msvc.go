// Package msvc implements the Microsoft C++ ABI name-mangling scheme used
// on the Win64 target, per spec §4.5/§6.
//
// Same grounding note as internal/mangle/itanium: the teacher has no
// mangling scheme of its own (plain dotted IRFunc.Name strings in
// std/compiler/ir.go); only the pure-function shape is kept, generalized
// here to MSVC's `?name@@YA<ret><params>Z` encoding instead of Itanium's
// `_Z`.
package msvc

import (
	"strconv"
	"strings"

	"flashcpp/internal/types"
)

// Mangle produces the MSVC-mangled linkage name for a free function.
// Substitution compression (MSVC's @0/@1 back-reference slots for
// previously-seen names and argument types) is not implemented, for the
// same reason as Itanium's: every name is spelled out in full.
func Mangle(qualifiedName []string, ret types.Index, params []types.Index, reg *types.Registry) string {
	if len(qualifiedName) == 0 {
		return "?"
	}
	if qualifiedName[len(qualifiedName)-1] == "main" && len(qualifiedName) == 1 {
		return "main"
	}
	var b strings.Builder
	b.WriteByte('?')
	b.WriteString(qualifiedName[len(qualifiedName)-1])
	// Enclosing scope qualifiers, innermost-first, each preceded by '@';
	// the global-namespace terminator is the final "@@".
	for i := len(qualifiedName) - 2; i >= 0; i-- {
		b.WriteByte('@')
		b.WriteString(qualifiedName[i])
	}
	b.WriteString("@@")
	b.WriteString("YA") // __cdecl, free function
	writeType(&b, ret, reg)
	if len(params) == 0 {
		b.WriteString("XZ")
		return b.String()
	}
	for _, p := range params {
		writeType(&b, p, reg)
	}
	b.WriteByte('Z')
	return b.String()
}

func writeType(b *strings.Builder, idx types.Index, reg *types.Registry) {
	if idx == types.Invalid {
		b.WriteByte('X')
		return
	}
	info := reg.Get(idx)
	switch info.Kind {
	case types.Void:
		b.WriteByte('X')
	case types.Bool:
		b.WriteString("_N")
	case types.Int:
		b.WriteString(intCode(info.SizeBits, info.IntSigned))
	case types.Float:
		if info.FloatBits == 32 {
			b.WriteByte('M')
		} else {
			b.WriteByte('N')
		}
	case types.Pointer:
		b.WriteString("PEA")
		writeType(b, info.Elem, reg)
	case types.Reference:
		b.WriteString("AEA")
		writeType(b, info.Elem, reg)
	case types.Array:
		b.WriteString("QEA")
		writeType(b, info.Elem, reg)
	case types.Struct:
		b.WriteString("U")
		b.WriteString(reg.NameOf(idx))
		b.WriteString("@@")
	case types.Enum:
		b.WriteString("W4")
		b.WriteString(reg.NameOf(idx))
		b.WriteString("@@")
	default:
		b.WriteString(strconv.Itoa(int(idx)))
	}
}

func intCode(bits int, signed bool) string {
	switch bits {
	case 8:
		if signed {
			return "C"
		}
		return "E"
	case 16:
		if signed {
			return "F"
		}
		return "G"
	case 32:
		if signed {
			return "H"
		}
		return "I"
	default:
		if signed {
			return "J"
		}
		return "K"
	}
}
