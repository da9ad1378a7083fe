package encoder

import (
	"encoding/binary"
	"math"

	"github.com/skubed0007/nasembler/parser"
)

// relJump emits an opcode followed by a rel32 displacement computed
// from the address immediately after the instruction.
func (e *Encoder) relJump(inst *parser.Instruction, address uint64, opcode []byte, target uint64) ([]byte, error) {
	size := len(opcode) + 4
	ripAfter := address + uint64(size)
	delta := int64(target) - int64(ripAfter)
	if !e.sizing && (delta < math.MinInt32 || delta > math.MaxInt32) {
		return nil, newError(inst, parser.ErrorInvalidAddressingMode,
			"branch target out of 32-bit range")
	}

	out := make([]byte, size)
	copy(out, opcode)
	binary.LittleEndian.PutUint32(out[len(opcode):], uint32(int32(delta)))
	return out, nil
}

// encodeJump handles jmp and call with a label or register target
func (e *Encoder) encodeJump(inst *parser.Instruction, address uint64) ([]byte, error) {
	if len(inst.Operands) != 1 {
		return nil, countError(inst, 1)
	}
	op := inst.Operands[0]

	switch op.Kind {
	case parser.OpLabel:
		target, err := e.symValue(inst, op.Sym)
		if err != nil {
			return nil, err
		}
		opcode := []byte{0xE9} // jmp rel32
		if inst.Mnemonic == "call" {
			opcode = []byte{0xE8}
		}
		return e.relJump(inst, address, opcode, target)

	case parser.OpRegister:
		// Indirect through a 64-bit register: FF /4 (jmp) or FF /2 (call)
		if op.Reg.Width != parser.Width64 {
			return nil, shapeError(inst)
		}
		ie := &instEncoding{}
		ie.opcode = []byte{0xFF}
		if inst.Mnemonic == "call" {
			ie.setExt(2)
		} else {
			ie.setExt(4)
		}
		ie.setRegDirect(op.Reg)
		return e.finish(ie, inst, address)

	default:
		return nil, shapeError(inst)
	}
}

// encodeCondJump handles the conditional-jump family with rel32 form
func (e *Encoder) encodeCondJump(inst *parser.Instruction, address uint64) ([]byte, error) {
	if len(inst.Operands) != 1 {
		return nil, countError(inst, 1)
	}
	op := inst.Operands[0]
	if op.Kind != parser.OpLabel {
		return nil, shapeError(inst)
	}

	target, err := e.symValue(inst, op.Sym)
	if err != nil {
		return nil, err
	}
	cc := condCode[inst.Mnemonic]
	return e.relJump(inst, address, []byte{0x0F, 0x80 | cc}, target)
}

// encodeControl handles ret, syscall, nop and int
func (e *Encoder) encodeControl(inst *parser.Instruction, address uint64) ([]byte, error) {
	switch inst.Mnemonic {
	case "ret":
		if len(inst.Operands) != 0 {
			return nil, countError(inst, 0)
		}
		return []byte{0xC3}, nil

	case "syscall":
		if len(inst.Operands) != 0 {
			return nil, countError(inst, 0)
		}
		return []byte{0x0F, 0x05}, nil

	case "nop":
		if len(inst.Operands) != 0 {
			return nil, countError(inst, 0)
		}
		return []byte{nopByte}, nil

	case "int":
		if len(inst.Operands) != 1 {
			return nil, countError(inst, 1)
		}
		op := inst.Operands[0]
		if op.Kind != parser.OpImmediate {
			return nil, shapeError(inst)
		}
		if op.Value < 0 || op.Value > math.MaxUint8 {
			return nil, immRangeError(inst, op.Value, 8)
		}
		return []byte{0xCD, byte(op.Value)}, nil
	}
	return nil, newError(inst, parser.ErrorUnknownInstruction,
		"unsupported instruction: %s", inst.Mnemonic)
}
