package encoder

import (
	"math"

	"github.com/skubed0007/nasembler/parser"
)

// encodeMov handles all accepted mov variants:
// mov r, r / mov r, m / mov m, r / mov r, imm / mov r64, label
func (e *Encoder) encodeMov(inst *parser.Instruction, address uint64) ([]byte, error) {
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
		op := byte(0x89)
		if dst.Reg.Width == parser.Width8 {
			op = byteOpcode(op)
		}
		ie.opcode = []byte{op}
		ie.setReg(src.Reg)
		ie.setRegDirect(dst.Reg)
		return e.finish(ie, inst, address)

	case dst.Kind == parser.OpRegister && src.Kind == parser.OpMemory:
		ie := &instEncoding{}
		ie.setWidth(dst.Reg.Width)
		op := byte(0x8B)
		if dst.Reg.Width == parser.Width8 {
			op = byteOpcode(op)
		}
		ie.opcode = []byte{op}
		ie.setReg(dst.Reg)
		if err := e.encodeMemory(ie, inst, src.Mem); err != nil {
			return nil, err
		}
		return e.finish(ie, inst, address)

	case dst.Kind == parser.OpMemory && src.Kind == parser.OpRegister:
		ie := &instEncoding{}
		ie.setWidth(src.Reg.Width)
		op := byte(0x89)
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
		return e.encodeMovImm(inst, address, dst.Reg, src.Value)

	case dst.Kind == parser.OpRegister && src.Kind == parser.OpLabel:
		// An equ constant behaves like a plain immediate. While the
		// constant is still unresolved during sizing, a 64-bit
		// destination reserves the widest form; emission pads the
		// difference with NOPs.
		if sym, ok := e.symbols.Lookup(src.Sym); ok && sym.Type == parser.SymbolConstant {
			if e.sizing && !sym.Resolved && dst.Reg.Width == parser.Width64 {
				ie := &instEncoding{}
				ie.setWidth(parser.Width64)
				ie.opcode = []byte{0xB8}
				ie.addToOpcode(dst.Reg)
				ie.setImm64(0)
				return e.finish(ie, inst, address)
			}
			return e.encodeMovImm(inst, address, dst.Reg, int64(sym.Value))
		}

		// A label loads its absolute address as an imm64
		if dst.Reg.Width != parser.Width64 {
			return nil, shapeError(inst)
		}
		value, err := e.symValue(inst, src.Sym)
		if err != nil {
			return nil, err
		}
		ie := &instEncoding{}
		ie.setWidth(parser.Width64)
		ie.opcode = []byte{0xB8}
		ie.addToOpcode(dst.Reg)
		ie.setImm64(value)
		return e.finish(ie, inst, address)

	default:
		return nil, shapeError(inst)
	}
}

// encodeMovImm selects the immediate form for the register width.
// 64-bit immediates that fit a signed 32-bit value use the shorter
// sign-extending C7 form; everything wider uses B8+r with imm64.
func (e *Encoder) encodeMovImm(inst *parser.Instruction, address uint64, dst *parser.Register, value int64) ([]byte, error) {
	ie := &instEncoding{}
	ie.setWidth(dst.Width)

	switch dst.Width {
	case parser.Width64:
		if fitsInt32(value) {
			ie.opcode = []byte{0xC7}
			ie.setExt(0)
			ie.setRegDirect(dst)
			ie.setImm32(value)
		} else {
			ie.opcode = []byte{0xB8}
			ie.addToOpcode(dst)
			ie.setImm64(uint64(value))
		}
	case parser.Width32:
		if !fitsInt32(value) && !fitsUint32(value) {
			return nil, immRangeError(inst, value, 32)
		}
		ie.opcode = []byte{0xB8}
		ie.addToOpcode(dst)
		ie.setImm32(value)
	case parser.Width16:
		if value < math.MinInt16 || value > math.MaxUint16 {
			return nil, immRangeError(inst, value, 16)
		}
		ie.opcode = []byte{0xB8}
		ie.addToOpcode(dst)
		ie.setImm16(value)
	case parser.Width8:
		if value < math.MinInt8 || value > math.MaxUint8 {
			return nil, immRangeError(inst, value, 8)
		}
		ie.opcode = []byte{0xB0}
		ie.addToOpcode(dst)
		ie.setImm8(value)
	}
	return e.finish(ie, inst, address)
}

func immRangeError(inst *parser.Instruction, value int64, bits int) *EncodingError {
	return newError(inst, parser.ErrorInvalidOperandCombination,
		"immediate %d does not fit in %d bits", value, bits)
}

// encodeLea handles lea r64, [mem]; a bare [label] encodes RIP-relative
func (e *Encoder) encodeLea(inst *parser.Instruction, address uint64) ([]byte, error) {
	if len(inst.Operands) != 2 {
		return nil, countError(inst, 2)
	}
	dst, src := inst.Operands[0], inst.Operands[1]
	if dst.Kind != parser.OpRegister || src.Kind != parser.OpMemory {
		return nil, shapeError(inst)
	}
	if dst.Reg.Width != parser.Width64 {
		return nil, shapeError(inst)
	}

	ie := &instEncoding{}
	ie.setWidth(parser.Width64)
	ie.opcode = []byte{0x8D}
	ie.setReg(dst.Reg)
	if err := e.encodeMemory(ie, inst, src.Mem); err != nil {
		return nil, err
	}
	return e.finish(ie, inst, address)
}

// encodePush handles push r64 and push imm
func (e *Encoder) encodePush(inst *parser.Instruction, address uint64) ([]byte, error) {
	if len(inst.Operands) != 1 {
		return nil, countError(inst, 1)
	}
	op := inst.Operands[0]

	switch op.Kind {
	case parser.OpRegister:
		// Default operand size is 64-bit; no REX.W needed
		if op.Reg.Width != parser.Width64 {
			return nil, shapeError(inst)
		}
		ie := &instEncoding{}
		ie.opcode = []byte{0x50}
		ie.addToOpcode(op.Reg)
		return e.finish(ie, inst, address)

	case parser.OpImmediate:
		ie := &instEncoding{}
		switch {
		case fitsInt8(op.Value):
			ie.opcode = []byte{0x6A}
			ie.setImm8(op.Value)
		case fitsInt32(op.Value):
			ie.opcode = []byte{0x68}
			ie.setImm32(op.Value)
		default:
			return nil, immRangeError(inst, op.Value, 32)
		}
		return e.finish(ie, inst, address)

	default:
		return nil, shapeError(inst)
	}
}

// encodePop handles pop r64
func (e *Encoder) encodePop(inst *parser.Instruction, address uint64) ([]byte, error) {
	if len(inst.Operands) != 1 {
		return nil, countError(inst, 1)
	}
	op := inst.Operands[0]
	if op.Kind != parser.OpRegister || op.Reg.Width != parser.Width64 {
		return nil, shapeError(inst)
	}

	ie := &instEncoding{}
	ie.opcode = []byte{0x58}
	ie.addToOpcode(op.Reg)
	return e.finish(ie, inst, address)
}

// encodeXchg handles xchg r, r
func (e *Encoder) encodeXchg(inst *parser.Instruction, address uint64) ([]byte, error) {
	if len(inst.Operands) != 2 {
		return nil, countError(inst, 2)
	}
	dst, src := inst.Operands[0], inst.Operands[1]
	if dst.Kind != parser.OpRegister || src.Kind != parser.OpRegister {
		return nil, shapeError(inst)
	}
	if !sameWidth(dst.Reg, src.Reg) {
		return nil, shapeError(inst)
	}

	ie := &instEncoding{}
	ie.setWidth(dst.Reg.Width)
	op := byte(0x87)
	if dst.Reg.Width == parser.Width8 {
		op = byteOpcode(op)
	}
	ie.opcode = []byte{op}
	ie.setReg(src.Reg)
	ie.setRegDirect(dst.Reg)
	return e.finish(ie, inst, address)
}

// finish assembles the accumulated encoding into bytes
func (e *Encoder) finish(ie *instEncoding, inst *parser.Instruction, address uint64) ([]byte, error) {
	out, err := ie.bytes(address)
	if err != nil {
		return nil, newError(inst, parser.ErrorInvalidOperandCombination, "%v", err)
	}
	return out, nil
}
