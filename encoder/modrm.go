package encoder

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/skubed0007/nasembler/parser"
)

// instEncoding accumulates the pieces of one instruction in emission
// order: legacy prefixes, REX, opcode, ModR/M, SIB, displacement,
// immediate. Multibyte fields are little-endian.
type instEncoding struct {
	prefix66 bool

	rexW, rexR, rexX, rexB bool
	rexRequired            bool // SIL/DIL/BPL/SPL operand present
	rexForbidden           bool // AH/CH/DH/BH operand present

	opcode   []byte
	modrm    byte
	hasModRM bool
	sib      byte
	hasSIB   bool
	disp     []byte
	imm      []byte

	// RIP-relative displacement: disp holds a 4-byte cell that is
	// patched to target - rip_after once the total length is known.
	ripRelative bool
	ripTarget   uint64
}

// setWidth applies the operand width to prefixes
func (ie *instEncoding) setWidth(w parser.RegisterWidth) {
	switch w {
	case parser.Width16:
		ie.prefix66 = true
	case parser.Width64:
		ie.rexW = true
	}
}

// noteReg records REX constraints imposed by a register operand
func (ie *instEncoding) noteReg(reg *parser.Register) {
	if reg.Rex8 {
		ie.rexRequired = true
	}
	if reg.High8 {
		ie.rexForbidden = true
	}
}

// setReg places a register in the ModR/M reg field
func (ie *instEncoding) setReg(reg *parser.Register) {
	ie.hasModRM = true
	ie.modrm |= reg.Num << 3
	if reg.Ext {
		ie.rexR = true
	}
	ie.noteReg(reg)
}

// setRegDirect places a register in the ModR/M r/m field with mod=11
func (ie *instEncoding) setRegDirect(reg *parser.Register) {
	ie.hasModRM = true
	ie.modrm |= 0xC0 | reg.Num
	if reg.Ext {
		ie.rexB = true
	}
	ie.noteReg(reg)
}

// setExt places an opcode extension /digit in the ModR/M reg field
func (ie *instEncoding) setExt(ext byte) {
	ie.hasModRM = true
	ie.modrm |= ext << 3
}

// addToOpcode folds a register number into the last opcode byte
// (the B8+rd / 50+rd forms)
func (ie *instEncoding) addToOpcode(reg *parser.Register) {
	ie.opcode[len(ie.opcode)-1] += reg.Num
	if reg.Ext {
		ie.rexB = true
	}
	ie.noteReg(reg)
}

func (ie *instEncoding) setDisp8(v int8) {
	ie.disp = []byte{byte(v)}
}

func (ie *instEncoding) setDisp32(v int32) {
	ie.disp = make([]byte, 4)
	binary.LittleEndian.PutUint32(ie.disp, uint32(v))
}

func (ie *instEncoding) setImm8(v int64)  { ie.imm = []byte{byte(v)} }
func (ie *instEncoding) setImm16(v int64) {
	ie.imm = make([]byte, 2)
	binary.LittleEndian.PutUint16(ie.imm, uint16(v))
}
func (ie *instEncoding) setImm32(v int64) {
	ie.imm = make([]byte, 4)
	binary.LittleEndian.PutUint32(ie.imm, uint32(v))
}
func (ie *instEncoding) setImm64(v uint64) {
	ie.imm = make([]byte, 8)
	binary.LittleEndian.PutUint64(ie.imm, v)
}

// length returns the total encoded length in bytes
func (ie *instEncoding) length() int {
	n := len(ie.opcode) + len(ie.disp) + len(ie.imm)
	if ie.prefix66 {
		n++
	}
	if ie.needsRex() {
		n++
	}
	if ie.hasModRM {
		n++
	}
	if ie.hasSIB {
		n++
	}
	return n
}

func (ie *instEncoding) needsRex() bool {
	return ie.rexW || ie.rexR || ie.rexX || ie.rexB || ie.rexRequired
}

// bytes assembles the final byte sequence. instAddr is the virtual
// address of the instruction, used to resolve a RIP-relative
// displacement against the address immediately after the instruction.
func (ie *instEncoding) bytes(instAddr uint64) ([]byte, error) {
	if ie.rexForbidden && ie.needsRex() {
		return nil, fmt.Errorf("high byte register cannot be combined with a REX prefix")
	}

	out := make([]byte, 0, ie.length())
	if ie.prefix66 {
		out = append(out, 0x66)
	}
	if ie.needsRex() {
		rex := byte(0x40)
		if ie.rexW {
			rex |= 0x08
		}
		if ie.rexR {
			rex |= 0x04
		}
		if ie.rexX {
			rex |= 0x02
		}
		if ie.rexB {
			rex |= 0x01
		}
		out = append(out, rex)
	}
	out = append(out, ie.opcode...)
	if ie.hasModRM {
		out = append(out, ie.modrm)
	}
	if ie.hasSIB {
		out = append(out, ie.sib)
	}
	dispOff := len(out)
	out = append(out, ie.disp...)
	out = append(out, ie.imm...)

	if ie.ripRelative {
		ripAfter := instAddr + uint64(len(out))
		delta := int64(ie.ripTarget) - int64(ripAfter)
		if delta < math.MinInt32 || delta > math.MaxInt32 {
			return nil, fmt.Errorf("RIP-relative target out of 32-bit range")
		}
		binary.LittleEndian.PutUint32(out[dispOff:], uint32(delta))
	}

	return out, nil
}

// ModR/M mod values and the register numbers with special meaning in
// addressing modes.
const (
	modIndirect   = 0x00
	modDisp8      = 0x40
	modDisp32     = 0x80
	rmSIB         = 4 // r/m=100: SIB byte follows
	rmDispOnly    = 5 // r/m=101 with mod=00: RIP-relative
	sibNoIndex    = 4 // index=100: no index register
	sibNoBase     = 5 // base=101 with mod=00: disp32, no base
	regNumSP      = 4 // rsp/r12 low bits
	regNumBP      = 5 // rbp/r13 low bits
)

// encodeMemory fills the ModR/M, SIB and displacement fields for a
// memory operand. The reg field (register or /digit extension) must be
// set by the caller before or after; this only touches the low modrm
// bits, SIB, displacement and the REX X/B bits.
func (e *Encoder) encodeMemory(ie *instEncoding, inst *parser.Instruction, mem *parser.MemoryRef) error {
	ie.hasModRM = true

	disp := mem.Disp
	hasSymDisp := mem.DispSym != ""

	var symVal uint64
	if hasSymDisp {
		v, err := e.symValue(inst, mem.DispSym)
		if err != nil {
			return err
		}
		symVal = v
	}

	switch {
	case mem.Base == nil && mem.Index == nil && hasSymDisp:
		// [label]: RIP-relative, mod=00 r/m=101
		ie.modrm |= modIndirect | rmDispOnly
		ie.setDisp32(0) // patched in bytes()
		ie.ripRelative = true
		ie.ripTarget = symVal
		return nil

	case mem.Base == nil && mem.Index == nil:
		// [disp32]: SIB with no base and no index
		if !fitsInt32(disp) && !fitsUint32(disp) {
			return newError(inst, parser.ErrorInvalidAddressingMode,
				"absolute displacement does not fit in 32 bits")
		}
		ie.modrm |= modIndirect | rmSIB
		ie.hasSIB = true
		ie.sib = sibNoIndex<<3 | sibNoBase
		ie.setDisp32(int32(disp))
		return nil
	}

	if hasSymDisp {
		// [base+label] / [index*scale+label]: absolute address as disp32
		if symVal > math.MaxUint32 {
			return newError(inst, parser.ErrorInvalidAddressingMode,
				"label displacement does not fit in 32 bits")
		}
		disp = int64(int32(uint32(symVal)))
	}

	if mem.Index != nil {
		// SIB required. RSP cannot be an index register; R12 can,
		// since REX.X disambiguates it.
		if mem.Index.Num == regNumSP && !mem.Index.Ext {
			return newError(inst, parser.ErrorInvalidAddressingMode,
				"rsp cannot be used as an index register")
		}
		ie.hasSIB = true
		ie.sib = scaleBits(mem.Scale)<<6 | mem.Index.Num<<3
		if mem.Index.Ext {
			ie.rexX = true
		}
		ie.modrm |= rmSIB

		if mem.Base == nil {
			// [index*scale+disp32]: mod=00, SIB base=101
			ie.sib |= sibNoBase
			if !fitsInt32(disp) {
				return newError(inst, parser.ErrorInvalidAddressingMode,
					"displacement does not fit in 32 bits")
			}
			ie.modrm |= modIndirect
			ie.setDisp32(int32(disp))
			return nil
		}

		ie.sib |= mem.Base.Num
		if mem.Base.Ext {
			ie.rexB = true
		}
		return e.applyBaseDisp(ie, inst, mem.Base, disp, hasSymDisp)
	}

	// Base register only
	base := mem.Base
	if base.Num == regNumSP {
		// rsp/r12 as base always needs a SIB byte
		ie.hasSIB = true
		ie.sib = sibNoIndex<<3 | base.Num
		ie.modrm |= rmSIB
		if base.Ext {
			ie.rexB = true
		}
	} else {
		ie.modrm |= base.Num
		if base.Ext {
			ie.rexB = true
		}
	}
	return e.applyBaseDisp(ie, inst, base, disp, hasSymDisp)
}

// applyBaseDisp chooses the mod field and displacement width for a
// based memory reference. rbp/r13 as base have no mod=00 form and get
// a zero disp8 instead.
func (e *Encoder) applyBaseDisp(ie *instEncoding, inst *parser.Instruction, base *parser.Register, disp int64, forceDisp32 bool) error {
	switch {
	case forceDisp32:
		ie.modrm |= modDisp32
		ie.setDisp32(int32(disp))
	case disp == 0 && base.Num != regNumBP:
		ie.modrm |= modIndirect
	case fitsInt8(disp):
		ie.modrm |= modDisp8
		ie.setDisp8(int8(disp))
	case fitsInt32(disp):
		ie.modrm |= modDisp32
		ie.setDisp32(int32(disp))
	default:
		return newError(inst, parser.ErrorInvalidAddressingMode,
			"displacement does not fit in 32 bits")
	}
	return nil
}

// scaleBits returns log2 of the SIB scale
func scaleBits(scale int) byte {
	switch scale {
	case 2:
		return 1
	case 4:
		return 2
	case 8:
		return 3
	}
	return 0
}

func fitsInt8(v int64) bool  { return v >= math.MinInt8 && v <= math.MaxInt8 }
func fitsInt32(v int64) bool { return v >= math.MinInt32 && v <= math.MaxInt32 }
func fitsUint32(v int64) bool {
	return v >= 0 && v <= math.MaxUint32
}
