// Package x64 lowers internal/ir into x86-64 machine code (IrToMachine,
// spec §4.5), targeting either the SysV/Linux or Win64 ABI.
//
// Grounded on the teacher's mnemonic-level encoder in std/compiler/x64.go
// (REG_RAX.. register constants, rexRR/modrmRR helpers, movRR/addRR/subRR/
// pushR/popR-style one-method-per-mnemonic emitters) and its fixup-list
// idiom in backend.go/backend_x64.go (a CodeGen struct accumulating a code
// []byte plus a list of {CodeOffset, Target} fixups resolved once the
// final layout is known). FlashCpp's Emitter keeps that exact shape; what's
// new is the register allocator (the teacher's IR is a stack machine with
// no TempVar lifetimes to allocate) and ABI-specific calling-convention
// lowering (SysV vs Win64 argument registers and stack alignment), which
// the teacher never needed since rtg only ever targets one calling
// convention.
package x64

import (
	"fmt"
	"math"

	"flashcpp/internal/codegen/eh"
	"flashcpp/internal/ir"
	"flashcpp/internal/objectwriter"
)

// Register numbering matches the x86-64 ModRM/REX encoding (0-15).
const (
	RAX = 0
	RCX = 1
	RDX = 2
	RBX = 3
	RSP = 4
	RBP = 5
	RSI = 6
	RDI = 7
	R8  = 8
	R9  = 9
	R10 = 10
	R11 = 11
)

// ABI selects the calling-convention-specific register assignment.
type ABI int

const (
	SysV ABI = iota
	Win64
)

func (a ABI) intArgRegs() []int {
	if a == Win64 {
		return []int{RCX, RDX, R8, R9}
	}
	return []int{RDI, RSI, RDX, RCX, R8, R9}
}

// relFixup is an unresolved rel32 reference (a call target, a global's
// address, or a rodata string's address), patched once every function's
// start offset in .text is known — the teacher's g.callFixups pattern in
// backend.go, generalized to emit an objectwriter.Relocation instead of
// patching an absolute address in place (this backend targets a
// relocatable object, not a finished executable), and to cover any
// rip-relative reference rather than only call targets.
type relFixup struct {
	offset int
	symbol string
}

// openTry tracks the try region currently being emitted, so its protected
// range and handler landing-pad offsets can be recorded as they're seen in
// the instruction stream (spec §4.5's call-site/action table inputs).
type openTry struct {
	region eh.TryRegion
}

// Emitter accumulates one function's machine code plus the fixups and
// label offsets needed to resolve its internal jumps.
type Emitter struct {
	ABI   ABI
	code  []byte
	fixups []relFixup
	labelOffsets map[int]int
	labelFixups  []struct {
		offset int
		label  int
		kind   byte // 'j' = jmp rel32, 'c' = jcc rel32
	}
	// stackSlot maps a TempVar to its rbp-relative byte offset; every
	// TempVar gets a dedicated spill slot rather than a real register
	// assignment — a deliberately simple allocator (see DESIGN.md) that
	// keeps codegen correct without a graph-coloring allocator.
	stackSlot map[ir.TempVar]int
	// varSlot maps a Function Params+Locals unified index (irgen's
	// declareLocal scheme) to its own rbp-relative offset, separate from
	// the TempVar spill slots above.
	varSlot   map[int]int
	frameSize int

	openTry     *openTry
	tryRegions  []eh.TryRegion
	strCount    int
	obj         *objectwriter.Object
}

func NewEmitter(abi ABI) *Emitter {
	return &Emitter{ABI: abi, labelOffsets: map[int]int{}, stackSlot: map[ir.TempVar]int{}, varSlot: map[int]int{}}
}

func (e *Emitter) emitByte(b byte)        { e.code = append(e.code, b) }
func (e *Emitter) emitBytes(b ...byte)    { e.code = append(e.code, b...) }
func (e *Emitter) emitU32(v uint32) {
	e.emitBytes(byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}
func (e *Emitter) emitU64(v uint64) {
	for i := 0; i < 8; i++ {
		e.emitByte(byte(v >> (8 * i)))
	}
}

func rexRR(w bool, dst, src int) byte {
	rex := byte(0x40)
	if w {
		rex |= 0x08
	}
	if dst >= 8 {
		rex |= 0x04
	}
	if src >= 8 {
		rex |= 0x01
	}
	return rex
}

func modrmRR(dst, src int) byte {
	return 0xC0 | byte(dst&7)<<0 | byte(src&7)<<3
}

func (e *Emitter) movRR(dst, src int) {
	e.emitBytes(rexRR(true, dst, src)|0x08, 0x89, modrmRR(dst, src))
}

// binOpRR emits a two-register ALU instruction (opcode 0x01-family for
// add/sub/and/or/xor, 0x39 for cmp) per the teacher's addRR/subRR/cmpRR
// shape.
func (e *Emitter) binOpRR(opcode byte, dst, src int) {
	rex := rexRR(true, src, dst) // src is the ModRM.reg field for this encoding
	e.emitBytes(rex, opcode, 0xC0|byte(dst&7)|byte(src&7)<<3)
}

func (e *Emitter) addRR(dst, src int) { e.binOpRR(0x01, dst, src) }
func (e *Emitter) subRR(dst, src int) { e.binOpRR(0x29, dst, src) }
func (e *Emitter) andRR(dst, src int) { e.binOpRR(0x21, dst, src) }
func (e *Emitter) orRR(dst, src int)  { e.binOpRR(0x09, dst, src) }
func (e *Emitter) xorRR(dst, src int) { e.binOpRR(0x31, dst, src) }
func (e *Emitter) cmpRR(dst, src int) { e.binOpRR(0x39, dst, src) }

func (e *Emitter) imulRR(dst, src int) {
	rex := rexRR(true, dst, src)
	e.emitBytes(rex, 0x0F, 0xAF, modrmRR(src, dst))
}

func (e *Emitter) negR(reg int) {
	rex := byte(0x48)
	if reg >= 8 {
		rex |= 0x01
	}
	e.emitBytes(rex, 0xF7, 0xD8|byte(reg&7))
}

func (e *Emitter) notR(reg int) {
	rex := byte(0x48)
	if reg >= 8 {
		rex |= 0x01
	}
	e.emitBytes(rex, 0xF7, 0xD0|byte(reg&7))
}

func (e *Emitter) cqo() { e.emitBytes(0x48, 0x99) }

func (e *Emitter) idivR(reg int) {
	rex := byte(0x48)
	if reg >= 8 {
		rex |= 0x01
	}
	e.emitBytes(rex, 0xF7, 0xF8|byte(reg&7))
}

func (e *Emitter) pushR(reg int) {
	if reg >= 8 {
		e.emitByte(0x41)
	}
	e.emitByte(0x50 + byte(reg&7))
}

func (e *Emitter) popR(reg int) {
	if reg >= 8 {
		e.emitByte(0x41)
	}
	e.emitByte(0x58 + byte(reg&7))
}

// regRex builds a REX prefix selecting 64-bit operand size (w) and
// extending reg into r8-r15 — always emitted, even as the bare 0x40 no-op
// prefix, which keeps every memory-access helper's shape uniform.
func (e *Emitter) regRex(w bool, reg int) byte {
	rex := byte(0x40)
	if w {
		rex |= 0x08
	}
	if reg >= 8 {
		rex |= 0x04
	}
	return rex
}

// loadMem emits a width-appropriate `mov reg, [base + disp]` (spec §4.5:
// "never emit a 64-bit load for an 8/16/32-bit value"). 8/16-bit loads go
// through movzx and 32-bit loads use a plain 32-bit mov (which the CPU
// zero-extends), so the rest of the register holds a clean zero-extended
// value; FlashCpp doesn't track per-value signedness and emits no movsx,
// so a signed 8/16/32-bit value loses its sign on widening — a disclosed
// simplification (see DESIGN.md).
func (e *Emitter) loadMem(dst, base, disp, width int) {
	switch width {
	case 8:
		e.emitBytes(e.regRex(false, dst), 0x0F, 0xB6)
	case 16:
		e.emitByte(0x66)
		e.emitBytes(e.regRex(false, dst), 0x0F, 0xB7)
	case 32:
		e.emitBytes(e.regRex(false, dst), 0x8B)
	default:
		e.emitBytes(e.regRex(true, dst), 0x8B)
	}
	e.emitDispModRM(dst, base, disp)
}

// storeMem emits a width-appropriate `mov [base + disp], reg`.
func (e *Emitter) storeMem(base, disp, src, width int) {
	switch width {
	case 16:
		e.emitByte(0x66)
		e.emitBytes(e.regRex(false, src), 0x89)
	case 8:
		e.emitBytes(e.regRex(false, src), 0x88)
	case 32:
		e.emitBytes(e.regRex(false, src), 0x89)
	default:
		e.emitBytes(e.regRex(true, src), 0x89)
	}
	e.emitDispModRM(src, base, disp)
}

func (e *Emitter) loadLocal(dst int, off int, width int)  { e.loadMem(dst, RBP, -off, width) }
func (e *Emitter) storeLocal(off int, src int, width int) { e.storeMem(RBP, -off, src, width) }

// ripLoad/ripStore access a linkage symbol (a global variable or interned
// string) through a rip-relative operand, resolved by a PC32 relocation —
// the same fixup mechanism emitCall uses for call targets.
func (e *Emitter) ripLoad(dst int, sym string, width int) {
	switch width {
	case 8:
		e.emitBytes(e.regRex(false, dst), 0x0F, 0xB6, 0x05|byte(dst&7)<<3)
	case 16:
		e.emitByte(0x66)
		e.emitBytes(e.regRex(false, dst), 0x0F, 0xB7, 0x05|byte(dst&7)<<3)
	case 32:
		e.emitBytes(e.regRex(false, dst), 0x8B, 0x05|byte(dst&7)<<3)
	default:
		e.emitBytes(e.regRex(true, dst), 0x8B, 0x05|byte(dst&7)<<3)
	}
	e.emitRipFixup(sym)
}

func (e *Emitter) ripStore(sym string, src int, width int) {
	switch width {
	case 16:
		e.emitByte(0x66)
		e.emitBytes(e.regRex(false, src), 0x89, 0x05|byte(src&7)<<3)
	case 8:
		e.emitBytes(e.regRex(false, src), 0x88, 0x05|byte(src&7)<<3)
	case 32:
		e.emitBytes(e.regRex(false, src), 0x89, 0x05|byte(src&7)<<3)
	default:
		e.emitBytes(e.regRex(true, src), 0x89, 0x05|byte(src&7)<<3)
	}
	e.emitRipFixup(sym)
}

// leaSymbol emits `lea dst, [rip + sym]`, used for address-of-global and
// string-literal addresses.
func (e *Emitter) leaSymbol(dst int, sym string) {
	e.emitBytes(e.regRex(true, dst), 0x8D, 0x05|byte(dst&7)<<3)
	e.emitRipFixup(sym)
}

func (e *Emitter) emitRipFixup(sym string) {
	pos := len(e.code)
	e.emitU32(0)
	e.fixups = append(e.fixups, relFixup{offset: pos, symbol: sym})
}

// internString appends a NUL-terminated string literal to ".rodata" and
// returns a fresh per-function symbol naming it, for OpConstString to
// address via leaSymbol.
func (e *Emitter) internString(fn *ir.Function, s string) string {
	if _, ok := e.obj.Section(".rodata"); !ok {
		e.obj.AddSection(objectwriter.Section{Name: ".rodata", Align: 1})
	}
	off := e.obj.AppendBytes(".rodata", append([]byte(s), 0))
	sym := fmt.Sprintf("%s$str%d", fn.Name, e.strCount)
	e.strCount++
	e.obj.AddSymbol(objectwriter.Symbol{Name: sym, Section: ".rodata", Value: off, Size: uint64(len(s) + 1)})
	return sym
}

func (e *Emitter) emitDispModRM(reg, base int, disp int) {
	if disp >= -128 && disp <= 127 {
		e.emitByte(0x40 | byte(reg&7)<<3 | byte(base&7))
		e.emitByte(byte(int8(disp)))
	} else {
		e.emitByte(0x80 | byte(reg&7)<<3 | byte(base&7))
		e.emitU32(uint32(int32(disp)))
	}
}

// leaMem emits `lea dst, [base + disp]`, used to materialize a pointer
// value (address-of-local, struct-member GEP) without dereferencing it.
func (e *Emitter) leaMem(dst, base, disp int) {
	e.emitBytes(e.regRex(true, dst), 0x8D)
	e.emitDispModRM(dst, base, disp)
}

// shiftCL emits a `shl`/`shr reg, cl` (opcode 0xD3, /regField selects the
// operation: 4 = SHL, 5 = SHR logical). FlashCpp's IR doesn't yet carry
// per-value signedness, so `>>` always lowers to the logical (not
// arithmetic) form — a disclosed simplification (see DESIGN.md).
func (e *Emitter) shiftCL(regField byte, reg int) {
	e.emitBytes(e.regRex(true, reg), 0xD3, 0xC0|regField<<3|byte(reg&7))
}

func (e *Emitter) movImm64(reg int, val uint64) {
	rex := byte(0x48)
	if reg >= 8 {
		rex = 0x49
	}
	e.emitBytes(rex, 0xB8+byte(reg&7))
	e.emitU64(val)
}

func (e *Emitter) ret() { e.emitByte(0xC3) }

func (e *Emitter) prologue(frameSize int) {
	e.pushR(RBP)
	e.movRR(RBP, RSP)
	if frameSize > 0 {
		aligned := (frameSize + 15) &^ 15
		e.emitBytes(0x48, 0x81, 0xEC)
		e.emitU32(uint32(aligned))
	}
}

func (e *Emitter) epilogue() {
	e.movRR(RSP, RBP)
	e.popR(RBP)
	e.ret()
}

// slotFor returns t's rbp-relative stack offset, allocating one on first
// use sized from fn.TempSizes (falling back to 8 bytes).
func (e *Emitter) slotFor(fn *ir.Function, t ir.TempVar) int {
	if off, ok := e.stackSlot[t]; ok {
		return off
	}
	size := fn.TempSizes[t]
	if size == 0 {
		size = 8
	}
	e.frameSize += size
	e.stackSlot[t] = e.frameSize
	return e.frameSize
}

// varSlotFor returns the rbp-relative stack offset for a Params+Locals
// unified index (see irgen's declareLocal), allocating one on first use.
func (e *Emitter) varSlotFor(fn *ir.Function, idx int) int {
	if off, ok := e.varSlot[idx]; ok {
		return off
	}
	size := 8
	if idx < len(fn.Params) {
		if fn.Params[idx].SizeBits > 0 {
			size = fn.Params[idx].SizeBits / 8
		}
	} else if li := idx - len(fn.Params); li < len(fn.Locals) {
		if fn.Locals[li].SizeBits > 0 {
			size = fn.Locals[li].SizeBits / 8
		}
	}
	e.frameSize += size
	e.varSlot[idx] = e.frameSize
	return e.frameSize
}

// varWidth returns a Params+Locals unified index's declared bit width,
// falling back to 64.
func varWidth(fn *ir.Function, idx int) int {
	if idx < len(fn.Params) {
		if fn.Params[idx].SizeBits > 0 {
			return fn.Params[idx].SizeBits
		}
	} else if li := idx - len(fn.Params); li < len(fn.Locals) {
		if fn.Locals[li].SizeBits > 0 {
			return fn.Locals[li].SizeBits
		}
	}
	return 64
}

// tempWidth returns a TempVar's recorded bit width (from fn.TempSizes,
// populated by irgen's stack-space pre-pass), falling back to 64.
func tempWidth(fn *ir.Function, t ir.TempVar) int {
	if size, ok := fn.TempSizes[t]; ok && size > 0 {
		return size * 8
	}
	return 64
}

// resultWidth returns an instruction's own Width field, falling back to 64
// when unset.
func resultWidth(inst ir.Inst) int {
	if inst.Width > 0 {
		return inst.Width
	}
	return 64
}

// Layout reports where a lowered function landed in ".text", how big its
// stack frame is, and its try regions (.text-relative), so the driver
// can feed internal/codegen/eh everything its FDE/UNWIND_INFO/LSDA need.
type Layout struct {
	Base       uint64
	Len        uint64
	FrameSize  int
	TryRegions []eh.TryRegion
}

// Generate lowers one ir.Function into machine code and a symbol entry,
// appending both into obj's ".text" section.
func Generate(fn *ir.Function, obj *objectwriter.Object, abi ABI) Layout {
	e := NewEmitter(abi)
	e.obj = obj
	// Reserve slots for params first so the calling convention's register
	// args land in predictable stack homes, mirroring the teacher's
	// fixed local-slot-table-before-codegen approach in compileFunc.
	argRegs := abi.intArgRegs()
	for i := range fn.Params {
		slot := e.varSlotFor(fn, i)
		if i < len(argRegs) {
			e.storeLocal(slot, argRegs[i], varWidth(fn, i))
		}
	}
	e.generateBody(fn)
	e.finalizeOpenTry()
	e.resolveLabels()

	final := make([]byte, 0, len(e.code)+64)
	var prologueBuf Emitter
	prologueBuf.ABI = abi
	prologueBuf.prologue(e.frameSize)
	final = append(final, prologueBuf.code...)
	bodyStart := len(final)
	final = append(final, e.code...)

	if _, ok := obj.Section(".text"); !ok {
		obj.AddSection(objectwriter.Section{Name: ".text", Executable: true, Align: 16})
	}
	base := obj.AppendBytes(".text", final)
	for _, fx := range e.fixups {
		obj.AddRelocation(objectwriter.Relocation{
			Section: ".text",
			Offset:  base + uint64(bodyStart+fx.offset),
			Symbol:  fx.symbol,
			Type:    objectwriter.RelPC32,
			Addend:  -4,
		})
	}
	tryRegions := make([]eh.TryRegion, len(e.tryRegions))
	for i, r := range e.tryRegions {
		tryRegions[i] = offsetTryRegion(r, base+uint64(bodyStart))
	}
	obj.AddSymbol(objectwriter.Symbol{
		Name:    fn.Name,
		Section: ".text",
		Value:   base,
		Size:    uint64(len(final)),
		Binding: bindingFor(fn),
		IsFunc:  true,
	})
	return Layout{Base: base, Len: uint64(len(final)), FrameSize: e.frameSize, TryRegions: tryRegions}
}

// offsetTryRegion rebases a try region's function-relative byte offsets
// (recorded against the body-only code stream generateBody fills in) onto
// its final position within the object's ".text" section.
func offsetTryRegion(r eh.TryRegion, base uint64) eh.TryRegion {
	out := eh.TryRegion{
		StartOffset: r.StartOffset + base,
		EndOffset:   r.EndOffset + base,
		LandingPad:  r.LandingPad + base,
		Handlers:    make([]eh.Handler, len(r.Handlers)),
	}
	for i, h := range r.Handlers {
		out.Handlers[i] = eh.Handler{TypeName: h.TypeName, LandingOffset: h.LandingOffset + base}
	}
	return out
}

// finalizeOpenTry closes out any try region still being accumulated once
// generateBody finishes (the common case: the try statement was the last
// thing lowered, or nothing closed it explicitly).
func (e *Emitter) finalizeOpenTry() {
	if e.openTry != nil {
		e.tryRegions = append(e.tryRegions, e.openTry.region)
		e.openTry = nil
	}
}

func bindingFor(fn *ir.Function) objectwriter.SymbolBinding {
	if fn.IsExported {
		return objectwriter.Global
	}
	return objectwriter.Local
}

// generateBody walks fn.Code emitting one or a few x86-64 instructions per
// ir.Inst, spilling every TempVar to its dedicated stack slot between
// operations (see the stackSlot doc comment on Emitter).
func (e *Emitter) generateBody(fn *ir.Function) {
	for _, inst := range fn.Code {
		switch inst.Op {
		case ir.OpConstInt:
			e.movImm64(RAX, uint64(inst.IntValue))
			e.storeLocal(e.slotFor(fn, inst.Result), RAX, resultWidth(inst))
		case ir.OpConstBool:
			v := uint64(0)
			if inst.BoolValue {
				v = 1
			}
			e.movImm64(RAX, v)
			e.storeLocal(e.slotFor(fn, inst.Result), RAX, 8)
		case ir.OpConstNull:
			e.movImm64(RAX, 0)
			e.storeLocal(e.slotFor(fn, inst.Result), RAX, 64)
		case ir.OpConstFloat:
			// No SSE2 float ALU is wired up anywhere in this backend, so a
			// float is carried as its raw IEEE754 bit pattern through the
			// integer registers: correct for load/store/return/pass-through,
			// wrong the moment it reaches OpAdd/OpSub/OpMul, which apply
			// integer arithmetic to the bit pattern (see DESIGN.md).
			bits := math.Float64bits(inst.FloatValue)
			if inst.Width == 32 {
				bits = uint64(math.Float32bits(float32(inst.FloatValue)))
			}
			e.movImm64(RAX, bits)
			e.storeLocal(e.slotFor(fn, inst.Result), RAX, resultWidth(inst))
		case ir.OpConstString:
			sym := e.internString(fn, inst.StrValue)
			e.leaSymbol(RAX, sym)
			e.storeLocal(e.slotFor(fn, inst.Result), RAX, 64)
		case ir.OpLoadLocal:
			e.loadLocal(RAX, e.varSlotFor(fn, int(inst.IntValue)), varWidth(fn, int(inst.IntValue)))
			e.storeLocal(e.slotFor(fn, inst.Result), RAX, resultWidth(inst))
		case ir.OpStoreLocal:
			w := varWidth(fn, int(inst.IntValue))
			if inst.Arg1 != ir.NoResult {
				e.loadLocal(RAX, e.slotFor(fn, inst.Arg1), tempWidth(fn, inst.Arg1))
			}
			e.storeLocal(e.varSlotFor(fn, int(inst.IntValue)), RAX, w)
		case ir.OpLoadGlobal:
			e.ripLoad(RAX, inst.StrValue, resultWidth(inst))
			e.storeLocal(e.slotFor(fn, inst.Result), RAX, resultWidth(inst))
		case ir.OpStoreGlobal:
			w := tempWidth(fn, inst.Arg1)
			e.loadLocal(RAX, e.slotFor(fn, inst.Arg1), w)
			e.ripStore(inst.StrValue, RAX, w)
		case ir.OpAddrOfGlobal:
			e.leaSymbol(RAX, inst.StrValue)
			e.storeLocal(e.slotFor(fn, inst.Result), RAX, 64)
		case ir.OpAddrOfLocal:
			// irgen's lowerUnary doesn't yet thread an lvalue/rvalue
			// distinction through (its "L-value gap", see DESIGN.md), so
			// Arg1 here names the TempVar that already loaded the operand's
			// *value*, not the variable's own slot index. Taking the
			// address of that temp's spill slot is well-defined and lets a
			// pointer round-trip through OpLoad/OpStore, but it points at a
			// copy, not the original variable — writes through it won't be
			// visible to later reads of the source variable.
			e.leaMem(RAX, RBP, -e.slotFor(fn, inst.Arg1))
			e.storeLocal(e.slotFor(fn, inst.Result), RAX, 64)
		case ir.OpLoad:
			e.loadLocal(RAX, e.slotFor(fn, inst.Arg1), 64)
			e.loadMem(RCX, RAX, 0, resultWidth(inst))
			e.storeLocal(e.slotFor(fn, inst.Result), RCX, resultWidth(inst))
		case ir.OpStore:
			e.loadLocal(RAX, e.slotFor(fn, inst.Arg1), 64)
			w := tempWidth(fn, inst.Arg2)
			e.loadLocal(RCX, e.slotFor(fn, inst.Arg2), w)
			e.storeMem(RAX, 0, RCX, w)
		case ir.OpGEP:
			e.loadLocal(RAX, e.slotFor(fn, inst.Arg1), 64)
			e.leaMem(RAX, RAX, int(inst.IntValue))
			e.storeLocal(e.slotFor(fn, inst.Result), RAX, 64)
		case ir.OpIndex:
			// The element stride isn't threaded through OpIndex from irgen
			// (no per-instruction element-size field), so this assumes an
			// 8-byte element until the IR carries a real stride — a
			// disclosed simplification (see DESIGN.md).
			e.loadLocal(RAX, e.slotFor(fn, inst.Arg1), 64)
			e.loadLocal(RCX, e.slotFor(fn, inst.Arg2), tempWidth(fn, inst.Arg2))
			e.movImm64(RDX, 8)
			e.imulRR(RCX, RDX)
			e.addRR(RAX, RCX)
			e.storeLocal(e.slotFor(fn, inst.Result), RAX, 64)
		case ir.OpConvert:
			// loadLocal already zero-extends a narrower source, and
			// storeLocal truncates to the destination width, so a plain
			// load/store round-trip through RAX implements widen/narrow for
			// unsigned values (signed narrowing/widening isn't modeled; see
			// DESIGN.md).
			e.loadLocal(RAX, e.slotFor(fn, inst.Arg1), tempWidth(fn, inst.Arg1))
			e.storeLocal(e.slotFor(fn, inst.Result), RAX, resultWidth(inst))
		case ir.OpAdd, ir.OpSub, ir.OpAnd, ir.OpOr, ir.OpXor, ir.OpMul:
			w1, w2 := tempWidth(fn, inst.Arg1), tempWidth(fn, inst.Arg2)
			e.loadLocal(RAX, e.slotFor(fn, inst.Arg1), w1)
			e.loadLocal(RCX, e.slotFor(fn, inst.Arg2), w2)
			switch inst.Op {
			case ir.OpAdd:
				e.addRR(RAX, RCX)
			case ir.OpSub:
				e.subRR(RAX, RCX)
			case ir.OpAnd:
				e.andRR(RAX, RCX)
			case ir.OpOr:
				e.orRR(RAX, RCX)
			case ir.OpXor:
				e.xorRR(RAX, RCX)
			case ir.OpMul:
				e.imulRR(RAX, RCX)
			}
			e.storeLocal(e.slotFor(fn, inst.Result), RAX, resultWidth(inst))
		case ir.OpShl, ir.OpShr:
			e.loadLocal(RAX, e.slotFor(fn, inst.Arg1), tempWidth(fn, inst.Arg1))
			e.loadLocal(RCX, e.slotFor(fn, inst.Arg2), tempWidth(fn, inst.Arg2))
			if inst.Op == ir.OpShl {
				e.shiftCL(4, RAX)
			} else {
				e.shiftCL(5, RAX)
			}
			e.storeLocal(e.slotFor(fn, inst.Result), RAX, resultWidth(inst))
		case ir.OpDiv, ir.OpMod:
			e.loadLocal(RAX, e.slotFor(fn, inst.Arg1), tempWidth(fn, inst.Arg1))
			e.loadLocal(RCX, e.slotFor(fn, inst.Arg2), tempWidth(fn, inst.Arg2))
			e.cqo()
			e.idivR(RCX)
			if inst.Op == ir.OpDiv {
				e.storeLocal(e.slotFor(fn, inst.Result), RAX, resultWidth(inst))
			} else {
				e.storeLocal(e.slotFor(fn, inst.Result), RDX, resultWidth(inst))
			}
		case ir.OpNeg:
			e.loadLocal(RAX, e.slotFor(fn, inst.Arg1), tempWidth(fn, inst.Arg1))
			e.negR(RAX)
			e.storeLocal(e.slotFor(fn, inst.Result), RAX, resultWidth(inst))
		case ir.OpBitNot, ir.OpNot:
			e.loadLocal(RAX, e.slotFor(fn, inst.Arg1), tempWidth(fn, inst.Arg1))
			e.notR(RAX)
			e.storeLocal(e.slotFor(fn, inst.Result), RAX, resultWidth(inst))
		case ir.OpEq, ir.OpNeq, ir.OpLt, ir.OpGt, ir.OpLeq, ir.OpGeq:
			w := tempWidth(fn, inst.Arg1)
			e.loadLocal(RAX, e.slotFor(fn, inst.Arg1), w)
			e.loadLocal(RCX, e.slotFor(fn, inst.Arg2), w)
			e.cmpRR(RAX, RCX)
			e.setcc(conditionCode(inst.Op), RAX)
			e.storeLocal(e.slotFor(fn, inst.Result), RAX, 8)
		case ir.OpLabel:
			e.labelOffsets[int(inst.IntValue)] = len(e.code)
		case ir.OpJump:
			e.emitJump(int(inst.IntValue))
		case ir.OpJumpIfTrue, ir.OpJumpIfFalse:
			e.loadLocal(RAX, e.slotFor(fn, inst.Arg1), tempWidth(fn, inst.Arg1))
			e.emitBytes(0x48, 0x85, 0xC0) // test rax, rax
			e.emitCondJump(inst.Op == ir.OpJumpIfTrue, int(inst.IntValue))
		case ir.OpCall:
			e.emitCall(fn, inst)
		case ir.OpReturn:
			if inst.Arg1 != ir.NoResult {
				e.loadLocal(RAX, e.slotFor(fn, inst.Arg1), tempWidth(fn, inst.Arg1))
			}
			e.epilogue()
		case ir.OpPhi:
			// A real SSA-lite join would pick based on which predecessor
			// branch ran; instead irgen's lowerShortCircuit/lowerTernary
			// emit one OpPhi at the end of each incoming path, each copying
			// that path's value (Arg1) into the shared Result slot. Arg2 is
			// not read.
			e.loadLocal(RAX, e.slotFor(fn, inst.Arg1), resultWidth(inst))
			e.storeLocal(e.slotFor(fn, inst.Result), RAX, resultWidth(inst))
		case ir.OpTryBegin:
			e.finalizeOpenTry()
			e.openTry = &openTry{region: eh.TryRegion{StartOffset: uint64(len(e.code))}}
		case ir.OpTryEnd:
			if e.openTry != nil {
				e.openTry.region.EndOffset = uint64(len(e.code))
			}
		case ir.OpCatchBegin:
			if e.openTry != nil {
				if e.openTry.region.LandingPad == 0 {
					e.openTry.region.LandingPad = uint64(len(e.code))
				}
				e.openTry.region.Handlers = append(e.openTry.region.Handlers,
					eh.Handler{TypeName: inst.StrValue, LandingOffset: uint64(len(e.code))})
			}
		case ir.OpCatchEnd:
			// Handlers are recorded at OpCatchBegin; nothing to close here
			// beyond what finalizeOpenTry/the next OpTryBegin handle.
		case ir.OpThrow:
			// Calls the platform unwinder entry point directly with the
			// exception value in the first argument register. A complete
			// implementation would also synthesize the type_info and
			// __cxa_allocate_exception/_CxxThrowException's extra
			// arguments; that machinery isn't built (see DESIGN.md), so
			// this only gets the control-transfer half right.
			argRegs := e.ABI.intArgRegs()
			if inst.Arg1 != ir.NoResult && len(argRegs) > 0 {
				e.loadLocal(argRegs[0], e.slotFor(fn, inst.Arg1), tempWidth(fn, inst.Arg1))
			}
			sym := "__cxa_throw"
			if e.ABI == Win64 {
				sym = "_CxxThrowException"
			}
			e.emitByte(0xE8)
			pos := len(e.code)
			e.emitU32(0)
			e.fixups = append(e.fixups, relFixup{offset: pos, symbol: sym})
		}
	}
}

func conditionCode(op ir.Opcode) byte {
	switch op {
	case ir.OpEq:
		return 0x94
	case ir.OpNeq:
		return 0x95
	case ir.OpLt:
		return 0x9C
	case ir.OpGeq:
		return 0x9D
	case ir.OpLeq:
		return 0x9E
	case ir.OpGt:
		return 0x9F
	}
	return 0x94
}

func (e *Emitter) setcc(cc byte, reg int) {
	rex := byte(0x40)
	if reg >= 8 {
		rex |= 0x01
	}
	if rex != 0x40 {
		e.emitByte(rex)
	}
	e.emitBytes(0x0F, cc, 0xC0|byte(reg&7))
	// setcc only writes the low byte; movzx widens it back to a full
	// 64-bit 0/1 value for uniform storage in a temp slot.
	e.emitBytes(0x48, 0x0F, 0xB6, 0xC0|byte(reg&7)<<3|byte(reg&7))
}

func (e *Emitter) emitJump(label int) {
	e.emitByte(0xE9)
	pos := len(e.code)
	e.emitU32(0)
	e.labelFixups = append(e.labelFixups, struct {
		offset int
		label  int
		kind   byte
	}{pos, label, 'j'})
}

func (e *Emitter) emitCondJump(onTrue bool, label int) {
	if onTrue {
		e.emitBytes(0x0F, 0x85) // jnz
	} else {
		e.emitBytes(0x0F, 0x84) // jz
	}
	pos := len(e.code)
	e.emitU32(0)
	e.labelFixups = append(e.labelFixups, struct {
		offset int
		label  int
		kind   byte
	}{pos, label, 'c'})
}

func (e *Emitter) emitCall(fn *ir.Function, inst ir.Inst) {
	argRegs := e.ABI.intArgRegs()
	for i, arg := range inst.Args {
		if i >= len(argRegs) {
			break
		}
		e.loadLocal(argRegs[i], e.slotFor(fn, arg), tempWidth(fn, arg))
	}
	e.emitByte(0xE8)
	pos := len(e.code)
	e.emitU32(0)
	e.fixups = append(e.fixups, relFixup{offset: pos, symbol: inst.StrValue})
	if inst.Result != ir.NoResult {
		e.storeLocal(e.slotFor(fn, inst.Result), RAX, resultWidth(inst))
	}
}

// resolveLabels patches every emitJump/emitCondJump's rel32 placeholder
// now that all OpLabel offsets are known. Call after generateBody.
func (e *Emitter) resolveLabels() {
	for _, fx := range e.labelFixups {
		target, ok := e.labelOffsets[fx.label]
		if !ok {
			continue
		}
		rel := int32(target - (fx.offset + 4))
		e.code[fx.offset] = byte(rel)
		e.code[fx.offset+1] = byte(rel >> 8)
		e.code[fx.offset+2] = byte(rel >> 16)
		e.code[fx.offset+3] = byte(rel >> 24)
	}
}
