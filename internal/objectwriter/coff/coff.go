// Package coff builds a relocatable COFF object file (the .obj format
// link.exe consumes) from an objectwriter.Object, for the Win64 target
// (spec §6).
//
// Grounded on the teacher's buildPE64 in std/compiler/pe64.go for its
// fixed-size-header-plus-section-table layout idiom (alignUp to a file
// alignment, RVA bookkeeping, section-by-section byte copies) — but a
// plain COFF object (IMAGE_FILE_HEADER + section headers + raw section
// data + symbol table + string table) rather than the teacher's full
// PE32+ executable, since spec §6 wants linker input, not a runnable
// image: no DOS stub, no optional header, no import table.
package coff

import (
	"fmt"

	"flashcpp/internal/objectwriter"
)

const (
	imageFileMachineAmd64 = 0x8664
	imageScnCntCode       = 0x00000020
	imageScnCntInitData   = 0x00000040
	imageScnMemExecute    = 0x20000000
	imageScnMemRead       = 0x40000000
	imageScnMemWrite      = 0x80000000
	imageScnAlign16Bytes  = 0x00500000

	imageSymClassExternal = 2
	imageSymClassStatic   = 3

	imageRelAmd64Addr64 = 0x0001
	imageRelAmd64Addr32 = 0x0002
	imageRelAmd64Rel32  = 0x0004

	sectionHeaderSize = 40
	symbolEntrySize   = 18
	relocEntrySize    = 10
)

type Writer struct{}

func NewWriter() *Writer { return &Writer{} }

type strtab struct {
	buf []byte
}

// encode returns a COFF short-name encoding: names <= 8 bytes go directly
// in the 8-byte field (zero-padded), longer names get "/<offset>" into the
// string table, per the COFF spec.
func (s *strtab) encode(name string) [8]byte {
	var out [8]byte
	if len(name) <= 8 {
		copy(out[:], name)
		return out
	}
	off := len(s.buf) + 4 // string table offsets are relative to its own size prefix
	copy(out[:], fmt.Sprintf("/%d", off))
	s.buf = append(s.buf, []byte(name)...)
	s.buf = append(s.buf, 0)
	return out
}

func (w *Writer) Finalize(obj *objectwriter.Object) ([]byte, error) {
	numSections := len(obj.Sections)
	strs := &strtab{}

	secIdx := map[string]int{}
	for i, s := range obj.Sections {
		secIdx[s.Name] = i + 1 // COFF section numbers are 1-based
	}

	relocsBySection := map[string][]objectwriter.Relocation{}
	for _, r := range obj.Relocs {
		relocsBySection[r.Section] = append(relocsBySection[r.Section], r)
	}

	symIndex := map[string]int{}
	for i, sym := range obj.Symbols {
		symIndex[sym.Name] = i
	}

	headerSize := 20
	sectionTableSize := numSections * sectionHeaderSize
	offset := headerSize + sectionTableSize

	rawOffsets := make([]int, numSections)
	relocOffsets := make([]int, numSections)
	relocCounts := make([]int, numSections)
	for i, s := range obj.Sections {
		rawOffsets[i] = offset
		offset += len(s.Data)
	}
	for i, s := range obj.Sections {
		relocs := relocsBySection[s.Name]
		relocCounts[i] = len(relocs)
		if len(relocs) == 0 {
			continue
		}
		relocOffsets[i] = offset
		offset += len(relocs) * relocEntrySize
	}
	symtabOffset := offset
	symtabSize := len(obj.Symbols) * symbolEntrySize
	offset = symtabOffset + symtabSize

	// Pre-encode symbol and section short names (may grow strs.buf) before
	// laying out the trailing string table, which must be the very last
	// thing in the file per the COFF spec.
	shortNames := make([][8]byte, len(obj.Symbols))
	for i, sym := range obj.Symbols {
		shortNames[i] = strs.encode(sym.Name)
	}
	sectionNames := make([][8]byte, numSections)
	for i, s := range obj.Sections {
		sectionNames[i] = strs.encode(s.Name)
	}
	strtabOffset := offset
	strtabTotalSize := 4 + len(strs.buf)

	total := strtabOffset + strtabTotalSize
	out := make([]byte, total)

	objectwriter.PutU16(out[0:], imageFileMachineAmd64)
	objectwriter.PutU16(out[2:], uint16(numSections))
	objectwriter.PutU32(out[8:], uint32(symtabOffset))
	objectwriter.PutU32(out[12:], uint32(len(obj.Symbols)))
	objectwriter.PutU16(out[16:], 0) // size of optional header: none, this is an object file

	for i, s := range obj.Sections {
		sh := out[headerSize+i*sectionHeaderSize:]
		copy(sh[0:8], sectionNames[i][:])
		objectwriter.PutU32(sh[16:], uint32(len(s.Data)))
		objectwriter.PutU32(sh[20:], uint32(rawOffsets[i]))
		if relocCounts[i] > 0 {
			objectwriter.PutU32(sh[24:], uint32(relocOffsets[i]))
			objectwriter.PutU16(sh[32:], uint16(relocCounts[i]))
		}
		flags := uint32(imageScnAlign16Bytes)
		if s.Executable {
			flags |= imageScnCntCode | imageScnMemExecute | imageScnMemRead
		} else if s.Writable {
			flags |= imageScnCntInitData | imageScnMemRead | imageScnMemWrite
		} else {
			flags |= imageScnCntInitData | imageScnMemRead
		}
		objectwriter.PutU32(sh[36:], flags)
		copy(out[rawOffsets[i]:], s.Data)
	}

	for i, s := range obj.Sections {
		relocs := relocsBySection[s.Name]
		for j, r := range relocs {
			rb := out[relocOffsets[i]+j*relocEntrySize:]
			objectwriter.PutU32(rb[0:], uint32(r.Offset))
			symIdx, ok := symIndex[r.Symbol]
			if !ok {
				return nil, fmt.Errorf("coff: relocation against unknown symbol %q", r.Symbol)
			}
			objectwriter.PutU32(rb[4:], uint32(symIdx))
			objectwriter.PutU16(rb[8:], relocType(r.Type))
		}
	}

	for i, sym := range obj.Symbols {
		sb := out[symtabOffset+i*symbolEntrySize:]
		copy(sb[0:8], shortNames[i][:])
		sectionNumber := int16(0) // undefined/external
		if idx, ok := secIdx[sym.Section]; ok {
			sectionNumber = int16(idx)
		}
		objectwriter.PutU32(sb[8:], uint32(sym.Value))
		objectwriter.PutU16(sb[12:], uint16(sectionNumber))
		storageClass := byte(imageSymClassStatic)
		if sym.Binding != objectwriter.Local {
			storageClass = imageSymClassExternal
		}
		if sym.IsFunc {
			objectwriter.PutU16(sb[14:], 0x20) // DT_FUNCTION complex type
		}
		sb[16] = storageClass
	}

	objectwriter.PutU32(out[strtabOffset:], uint32(strtabTotalSize))
	copy(out[strtabOffset+4:], strs.buf)

	return out, nil
}

func relocType(t objectwriter.RelocType) uint16 {
	switch t {
	case objectwriter.RelAbs64:
		return imageRelAmd64Addr64
	case objectwriter.RelAbs32:
		return imageRelAmd64Addr32
	case objectwriter.RelPC32:
		return imageRelAmd64Rel32
	default:
		return imageRelAmd64Addr64
	}
}
