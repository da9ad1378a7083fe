// Package encoder turns parsed x86-64 instructions into machine code
// and lays out sections and symbols at their virtual addresses.
package encoder

import (
	"fmt"
	"strings"

	"github.com/skubed0007/nasembler/parser"
)

// Encoder converts parsed instructions into x86-64 machine code.
// Instruction variants are selected by (mnemonic, operand shape); each
// shape resolves to a recipe of prefixes, opcode bytes, ModR/M policy
// and immediate policy.
type Encoder struct {
	symbols *parser.SymbolTable

	// sizing selects the sizing pass: unresolved symbol values read as
	// zero and every label-dependent field uses its widest form, so the
	// returned length is an upper bound on the emitted length.
	sizing bool
}

// NewEncoder creates a new encoder instance
func NewEncoder(symbols *parser.SymbolTable) *Encoder {
	return &Encoder{symbols: symbols}
}

// SetSizing switches the encoder between sizing (true) and emission
func (e *Encoder) SetSizing(sizing bool) {
	e.sizing = sizing
}

// EncodeInstruction converts a single parsed instruction into machine
// code. address is the virtual address the instruction will occupy,
// used for RIP-relative and branch displacements.
func (e *Encoder) EncodeInstruction(inst *parser.Instruction, address uint64) ([]byte, error) {
	mnemonic := inst.Mnemonic

	switch mnemonic {
	case "mov":
		return e.encodeMov(inst, address)
	case "lea":
		return e.encodeLea(inst, address)
	case "push":
		return e.encodePush(inst, address)
	case "pop":
		return e.encodePop(inst, address)
	case "xchg":
		return e.encodeXchg(inst, address)

	case "add", "adc", "sub", "sbb", "and", "or", "xor", "cmp":
		return e.encodeALU(inst, address)
	case "test":
		return e.encodeTest(inst, address)
	case "inc", "dec", "neg", "not", "mul", "div", "idiv":
		return e.encodeUnary(inst, address)
	case "imul":
		return e.encodeImul(inst, address)
	case "shl", "sal", "shr", "sar":
		return e.encodeShift(inst, address)

	case "jmp", "call":
		return e.encodeJump(inst, address)
	case "ret", "syscall", "nop", "int":
		return e.encodeControl(inst, address)

	default:
		if _, ok := condCode[mnemonic]; ok {
			return e.encodeCondJump(inst, address)
		}
		return nil, newError(inst, parser.ErrorUnknownInstruction,
			"unsupported instruction: %s", mnemonic)
	}
}

// symValue resolves a symbol to its absolute address. In sizing mode
// unresolved symbols read as zero; in emission mode an unresolved
// symbol is an UndefinedLabel error.
func (e *Encoder) symValue(inst *parser.Instruction, name string) (uint64, error) {
	sym, ok := e.symbols.Lookup(name)
	if ok && sym.Defined {
		return sym.Value, nil
	}
	if e.sizing {
		return 0, nil
	}
	if ok && sym.Extern {
		err := newError(inst, parser.ErrorUndefinedLabel,
			"cannot resolve extern symbol %q", name)
		err.Message += "; linking against external symbols is not supported"
		return 0, err
	}
	return 0, newError(inst, parser.ErrorUndefinedLabel, "undefined label: %q", name)
}

// shapeOf abstracts an operand to its width class for error messages
func shapeOf(op parser.Operand) string {
	switch op.Kind {
	case parser.OpRegister:
		return fmt.Sprintf("r%d", op.Reg.Width)
	case parser.OpImmediate:
		return "imm"
	case parser.OpLabel:
		return "label"
	case parser.OpMemory:
		return "m"
	case parser.OpString:
		return "str"
	}
	return "?"
}

// shapeError builds the InvalidOperandCombination diagnostic carrying
// the rejected shape tuple.
func shapeError(inst *parser.Instruction) *EncodingError {
	shapes := make([]string, len(inst.Operands))
	for i, op := range inst.Operands {
		shapes[i] = shapeOf(op)
	}
	return newError(inst, parser.ErrorInvalidOperandCombination,
		"invalid operand combination: %s %s", inst.Mnemonic, strings.Join(shapes, ", "))
}

// countError reports a wrong number of operands at encode time; the
// parser already validated arity, so this guards statements that were
// kept for AST dumping despite a diagnostic.
func countError(inst *parser.Instruction, want int) *EncodingError {
	return newError(inst, parser.ErrorOperandCountMismatch,
		"%s expects %d operand(s), got %d", inst.Mnemonic, want, len(inst.Operands))
}

// sameWidth reports whether two register operands have the same width
func sameWidth(a, b *parser.Register) bool {
	return a.Width == b.Width
}

// byteOpcode maps a word-form opcode to its 8-bit form
func byteOpcode(op byte) byte {
	return op - 1
}
