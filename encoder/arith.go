package encoder

import (
	"math"

	"github.com/skubed0007/nasembler/parser"
)

// encodeALU handles the two-operand arithmetic and logic group:
// add, adc, sub, sbb, and, or, xor, cmp.
func (e *Encoder) encodeALU(inst *parser.Instruction, address uint64) ([]byte, error) {
	if len(inst.Operands) != 2 {
		return nil, countError(inst, 2)
	}
	recipe := aluOps[inst.Mnemonic]
	dst, src := inst.Operands[0], inst.Operands[1]

	switch {
	case dst.Kind == parser.OpRegister && src.Kind == parser.OpRegister:
		if !sameWidth(dst.Reg, src.Reg) {
			return nil, shapeError(inst)
		}
		ie := &instEncoding{}
		ie.setWidth(dst.Reg.Width)
		op := recipe.opMR
		if dst.Reg.Width == parser.Width8 {
			op = byteOpcode(op)
		}
		ie.opcode = []byte{op}
		ie.setReg(src.Reg)
		ie.setRegDirect(dst.Reg)
		return e.finish(ie, inst, address)

	case dst.Kind == parser.OpMemory && src.Kind == parser.OpRegister:
		ie := &instEncoding{}
		ie.setWidth(src.Reg.Width)
		op := recipe.opMR
		if src.Reg.Width == parser.Width8 {
			op = byteOpcode(op)
		}
		ie.opcode = []byte{op}
		ie.setReg(src.Reg)
		if err := e.encodeMemory(ie, inst, dst.Mem); err != nil {
			return nil, err
		}
		return e.finish(ie, inst, address)

	case dst.Kind == parser.OpRegister && src.Kind == parser.OpMemory:
		ie := &instEncoding{}
		ie.setWidth(dst.Reg.Width)
		op := recipe.opRM
		if dst.Reg.Width == parser.Width8 {
			op = byteOpcode(op)
		}
		ie.opcode = []byte{op}
		ie.setReg(dst.Reg)
		if err := e.encodeMemory(ie, inst, src.Mem); err != nil {
			return nil, err
		}
		return e.finish(ie, inst, address)

	case dst.Kind == parser.OpRegister && src.Kind == parser.OpImmediate:
		return e.encodeALUImm(inst, address, recipe, dst.Reg, src.Value)

	case dst.Kind == parser.OpRegister && src.Kind == parser.OpLabel:
		// Constants and label addresses as immediates. The full-width
		// immediate form is used unconditionally so the size does not
		// depend on the eventual value.
		value, err := e.symValue(inst, src.Sym)
		if err != nil {
			return nil, err
		}
		return e.encodeALUImmFixed(inst, address, recipe, dst.Reg, int64(value))

	default:
		return nil, shapeError(inst)
	}
}

// encodeALUImmFixed is the symbol-operand variant of encodeALUImm: it
// never picks the short sign-extended imm8 form, keeping the size
// independent of the resolved value.
func (e *Encoder) encodeALUImmFixed(inst *parser.Instruction, address uint64, recipe aluRecipe, dst *parser.Register, value int64) ([]byte, error) {
	ie := &instEncoding{}
	ie.setWidth(dst.Width)
	ie.setExt(recipe.ext)
	ie.setRegDirect(dst)

	switch dst.Width {
	case parser.Width8:
		if !e.sizing && (value < math.MinInt8 || value > math.MaxUint8) {
			return nil, immRangeError(inst, value, 8)
		}
		ie.opcode = []byte{0x80}
		ie.setImm8(value)
	case parser.Width16:
		if !e.sizing && (value < math.MinInt16 || value > math.MaxUint16) {
			return nil, immRangeError(inst, value, 16)
		}
		ie.opcode = []byte{0x81}
		ie.setImm16(value)
	default:
		if !e.sizing && !fitsInt32(value) && !(dst.Width == parser.Width32 && fitsUint32(value)) {
			return nil, immRangeError(inst, value, 32)
		}
		ie.opcode = []byte{0x81}
		ie.setImm32(value)
	}
	return e.finish(ie, inst, address)
}

// encodeALUImm selects the immediate group form: 0x83 with a
// sign-extended imm8 when the value fits, 0x81 with the full-width
// immediate otherwise.
func (e *Encoder) encodeALUImm(inst *parser.Instruction, address uint64, recipe aluRecipe, dst *parser.Register, value int64) ([]byte, error) {
	ie := &instEncoding{}
	ie.setWidth(dst.Width)
	ie.setExt(recipe.ext)
	ie.setRegDirect(dst)

	switch dst.Width {
	case parser.Width8:
		if value < math.MinInt8 || value > math.MaxUint8 {
			return nil, immRangeError(inst, value, 8)
		}
		ie.opcode = []byte{0x80}
		ie.setImm8(value)
	case parser.Width16:
		if fitsInt8(value) {
			ie.opcode = []byte{0x83}
			ie.setImm8(value)
		} else if value >= math.MinInt16 && value <= math.MaxUint16 {
			ie.opcode = []byte{0x81}
			ie.setImm16(value)
		} else {
			return nil, immRangeError(inst, value, 16)
		}
	default: // 32- and 64-bit forms take an imm32, sign-extended for 64
		if fitsInt8(value) {
			ie.opcode = []byte{0x83}
			ie.setImm8(value)
		} else if fitsInt32(value) || (dst.Width == parser.Width32 && fitsUint32(value)) {
			ie.opcode = []byte{0x81}
			ie.setImm32(value)
		} else {
			return nil, immRangeError(inst, value, 32)
		}
	}
	return e.finish(ie, inst, address)
}

// encodeTest handles test r/m, r and test r, imm
func (e *Encoder) encodeTest(inst *parser.Instruction, address uint64) ([]byte, error) {
	if len(inst.Operands) != 2 {
		return nil, countError(inst, 2)
	}
	dst, src := inst.Operands[0], inst.Operands[1]

	switch {
	case dst.Kind == parser.OpRegister && src.Kind == parser.OpRegister:
		if !sameWidth(dst.Reg, src.Reg) {
			return nil, shapeError(inst)
		}
		ie := &instEncoding{}
		ie.setWidth(dst.Reg.Width)
		op := byte(0x85)
		if dst.Reg.Width == parser.Width8 {
			op = byteOpcode(op)
		}
		ie.opcode = []byte{op}
		ie.setReg(src.Reg)
		ie.setRegDirect(dst.Reg)
		return e.finish(ie, inst, address)

	case dst.Kind == parser.OpMemory && src.Kind == parser.OpRegister:
		ie := &instEncoding{}
		ie.setWidth(src.Reg.Width)
		op := byte(0x85)
		if src.Reg.Width == parser.Width8 {
			op = byteOpcode(op)
		}
		ie.opcode = []byte{op}
		ie.setReg(src.Reg)
		if err := e.encodeMemory(ie, inst, dst.Mem); err != nil {
			return nil, err
		}
		return e.finish(ie, inst, address)

	case dst.Kind == parser.OpRegister && src.Kind == parser.OpImmediate:
		ie := &instEncoding{}
		ie.setWidth(dst.Reg.Width)
		ie.setExt(0)
		ie.setRegDirect(dst.Reg)
		switch dst.Reg.Width {
		case parser.Width8:
			if src.Value < math.MinInt8 || src.Value > math.MaxUint8 {
				return nil, immRangeError(inst, src.Value, 8)
			}
			ie.opcode = []byte{0xF6}
			ie.setImm8(src.Value)
		case parser.Width16:
			if src.Value < math.MinInt16 || src.Value > math.MaxUint16 {
				return nil, immRangeError(inst, src.Value, 16)
			}
			ie.opcode = []byte{0xF7}
			ie.setImm16(src.Value)
		default:
			if !fitsInt32(src.Value) && !(dst.Reg.Width == parser.Width32 && fitsUint32(src.Value)) {
				return nil, immRangeError(inst, src.Value, 32)
			}
			ie.opcode = []byte{0xF7}
			ie.setImm32(src.Value)
		}
		return e.finish(ie, inst, address)

	default:
		return nil, shapeError(inst)
	}
}

// encodeUnary handles the one-operand group: inc, dec, neg, not, mul,
// div, idiv (and the one-operand imul form via encodeImul).
func (e *Encoder) encodeUnary(inst *parser.Instruction, address uint64) ([]byte, error) {
	if len(inst.Operands) != 1 {
		return nil, countError(inst, 1)
	}
	return e.encodeUnaryOn(inst, address, inst.Operands[0])
}

func (e *Encoder) encodeUnaryOn(inst *parser.Instruction, address uint64, op parser.Operand) ([]byte, error) {
	recipe := unaryOps[inst.Mnemonic]

	if op.Kind != parser.OpRegister {
		// Bare memory operands carry no operand size
		return nil, shapeError(inst)
	}

	ie := &instEncoding{}
	ie.setWidth(op.Reg.Width)
	opcode := recipe.opcode
	if op.Reg.Width == parser.Width8 {
		opcode = byteOpcode(opcode)
	}
	ie.opcode = []byte{opcode}
	ie.setExt(recipe.ext)
	ie.setRegDirect(op.Reg)
	return e.finish(ie, inst, address)
}

// encodeImul handles the one-operand form (F7 /5) and the two-operand
// form imul r, r/m (0F AF).
func (e *Encoder) encodeImul(inst *parser.Instruction, address uint64) ([]byte, error) {
	switch len(inst.Operands) {
	case 1:
		return e.encodeUnaryOn(inst, address, inst.Operands[0])

	case 2:
		dst, src := inst.Operands[0], inst.Operands[1]
		if dst.Kind != parser.OpRegister || dst.Reg.Width == parser.Width8 {
			return nil, shapeError(inst)
		}
		ie := &instEncoding{}
		ie.setWidth(dst.Reg.Width)
		ie.opcode = []byte{0x0F, 0xAF}
		ie.setReg(dst.Reg)
		switch src.Kind {
		case parser.OpRegister:
			if !sameWidth(dst.Reg, src.Reg) {
				return nil, shapeError(inst)
			}
			ie.setRegDirect(src.Reg)
		case parser.OpMemory:
			if err := e.encodeMemory(ie, inst, src.Mem); err != nil {
				return nil, err
			}
		default:
			return nil, shapeError(inst)
		}
		return e.finish(ie, inst, address)

	default:
		return nil, countError(inst, 2)
	}
}

// encodeShift handles shl/sal/shr/sar r, imm8 and r, cl
func (e *Encoder) encodeShift(inst *parser.Instruction, address uint64) ([]byte, error) {
	if len(inst.Operands) != 2 {
		return nil, countError(inst, 2)
	}
	ext := shiftExt[inst.Mnemonic]
	dst, src := inst.Operands[0], inst.Operands[1]

	if dst.Kind != parser.OpRegister {
		return nil, shapeError(inst)
	}

	ie := &instEncoding{}
	ie.setWidth(dst.Reg.Width)
	ie.setExt(ext)
	ie.setRegDirect(dst.Reg)

	switch {
	case src.Kind == parser.OpImmediate:
		if src.Value < 0 || src.Value > math.MaxUint8 {
			return nil, immRangeError(inst, src.Value, 8)
		}
		op := byte(0xC1)
		if dst.Reg.Width == parser.Width8 {
			op = byteOpcode(op)
		}
		ie.opcode = []byte{op}
		ie.setImm8(src.Value)

	case src.Kind == parser.OpRegister && src.Reg.Name == "cl":
		op := byte(0xD3)
		if dst.Reg.Width == parser.Width8 {
			op = byteOpcode(op)
		}
		ie.opcode = []byte{op}

	default:
		return nil, shapeError(inst)
	}
	return e.finish(ie, inst, address)
}
