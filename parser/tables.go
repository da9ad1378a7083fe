package parser

import "strings"

// RegisterWidth is the operand width of a register in bits
type RegisterWidth int

const (
	Width8  RegisterWidth = 8
	Width16 RegisterWidth = 16
	Width32 RegisterWidth = 32
	Width64 RegisterWidth = 64
)

// Register describes one x86-64 register and the fields needed to
// encode it: the low 3 bits go into ModR/M or SIB, Ext selects the
// REX extension bit, Rex8 marks the byte registers (SIL/DIL/BPL/SPL)
// that are only reachable with a REX prefix, High8 marks AH..BH which
// cannot be combined with any REX prefix.
type Register struct {
	Name  string
	Num   byte // low 3 bits of the register number
	Width RegisterWidth
	Ext   bool // R8..R15 and variants: REX.R/X/B must be set
	Rex8  bool // SIL, DIL, BPL, SPL: require a REX prefix
	High8 bool // AH, CH, DH, BH: incompatible with REX
}

// registers maps lower-case register names to their descriptions.
var registers = map[string]*Register{}

func defineRegisters(width RegisterWidth, names ...string) {
	for i, name := range names {
		if name == "" {
			continue
		}
		registers[name] = &Register{
			Name:  name,
			Num:   byte(i & 7),
			Width: width,
			Ext:   i >= 8,
		}
	}
}

func init() {
	defineRegisters(Width64, "rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi",
		"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15")
	defineRegisters(Width32, "eax", "ecx", "edx", "ebx", "esp", "ebp", "esi", "edi",
		"r8d", "r9d", "r10d", "r11d", "r12d", "r13d", "r14d", "r15d")
	defineRegisters(Width16, "ax", "cx", "dx", "bx", "sp", "bp", "si", "di",
		"r8w", "r9w", "r10w", "r11w", "r12w", "r13w", "r14w", "r15w")
	defineRegisters(Width8, "al", "cl", "dl", "bl", "spl", "bpl", "sil", "dil",
		"r8b", "r9b", "r10b", "r11b", "r12b", "r13b", "r14b", "r15b")

	for _, name := range []string{"spl", "bpl", "sil", "dil"} {
		registers[name].Rex8 = true
	}

	// Legacy high-byte registers share numbers 4..7 without REX
	for i, name := range []string{"ah", "ch", "dh", "bh"} {
		registers[name] = &Register{
			Name:  name,
			Num:   byte(4 + i),
			Width: Width8,
			High8: true,
		}
	}
}

// LookupRegister resolves a register name (case-insensitive).
func LookupRegister(name string) (*Register, bool) {
	reg, ok := registers[strings.ToLower(name)]
	return reg, ok
}

// InstructionClass groups mnemonics into encoder families
type InstructionClass int

const (
	ClassDataMove InstructionClass = iota
	ClassArithmetic
	ClassLogic
	ClassShift
	ClassBranch
	ClassControl
)

// mnemonicInfo holds the arity and family of one mnemonic
type mnemonicInfo struct {
	Class   InstructionClass
	MinOps  int
	MaxOps  int
}

// mnemonics is the accepted x86-64 instruction subset (lower-case).
var mnemonics = map[string]mnemonicInfo{
	// Data movement
	"mov":  {ClassDataMove, 2, 2},
	"lea":  {ClassDataMove, 2, 2},
	"push": {ClassDataMove, 1, 1},
	"pop":  {ClassDataMove, 1, 1},
	"xchg": {ClassDataMove, 2, 2},

	// Arithmetic
	"add":  {ClassArithmetic, 2, 2},
	"adc":  {ClassArithmetic, 2, 2},
	"sub":  {ClassArithmetic, 2, 2},
	"sbb":  {ClassArithmetic, 2, 2},
	"cmp":  {ClassArithmetic, 2, 2},
	"inc":  {ClassArithmetic, 1, 1},
	"dec":  {ClassArithmetic, 1, 1},
	"neg":  {ClassArithmetic, 1, 1},
	"mul":  {ClassArithmetic, 1, 1},
	"imul": {ClassArithmetic, 1, 2},
	"div":  {ClassArithmetic, 1, 1},
	"idiv": {ClassArithmetic, 1, 1},

	// Logic
	"and":  {ClassLogic, 2, 2},
	"or":   {ClassLogic, 2, 2},
	"xor":  {ClassLogic, 2, 2},
	"not":  {ClassLogic, 1, 1},
	"test": {ClassLogic, 2, 2},
	"shl":  {ClassShift, 2, 2},
	"sal":  {ClassShift, 2, 2},
	"shr":  {ClassShift, 2, 2},
	"sar":  {ClassShift, 2, 2},

	// Branches
	"jmp":  {ClassBranch, 1, 1},
	"call": {ClassBranch, 1, 1},
	"je":   {ClassBranch, 1, 1},
	"jne":  {ClassBranch, 1, 1},
	"jz":   {ClassBranch, 1, 1},
	"jnz":  {ClassBranch, 1, 1},
	"jg":   {ClassBranch, 1, 1},
	"jge":  {ClassBranch, 1, 1},
	"jl":   {ClassBranch, 1, 1},
	"jle":  {ClassBranch, 1, 1},
	"ja":   {ClassBranch, 1, 1},
	"jae":  {ClassBranch, 1, 1},
	"jb":   {ClassBranch, 1, 1},
	"jbe":  {ClassBranch, 1, 1},

	// Control
	"ret":     {ClassControl, 0, 0},
	"syscall": {ClassControl, 0, 0},
	"nop":     {ClassControl, 0, 0},
	"int":     {ClassControl, 1, 1},
}

// LookupMnemonic resolves an instruction mnemonic (case-insensitive).
func LookupMnemonic(name string) (mnemonicInfo, bool) {
	info, ok := mnemonics[strings.ToLower(name)]
	return info, ok
}

// IsMnemonic reports whether the identifier is a known instruction
func IsMnemonic(name string) bool {
	_, ok := mnemonics[strings.ToLower(name)]
	return ok
}

// directives is the accepted directive keyword set (lower-case).
var directives = map[string]bool{
	"section": true,
	"global":  true,
	"extern":  true,
	"db":      true,
	"dw":      true,
	"dd":      true,
	"dq":      true,
	"equ":     true,
	"times":   true,
	"resb":    true,
	"resw":    true,
	"resd":    true,
	"resq":    true,
}

// IsDirective reports whether the identifier is a directive keyword
func IsDirective(name string) bool {
	return directives[strings.ToLower(name)]
}

// DataUnitSize maps a data directive to its item size in bytes, or 0.
func DataUnitSize(name string) int {
	switch strings.ToLower(name) {
	case "db", "resb":
		return 1
	case "dw", "resw":
		return 2
	case "dd", "resd":
		return 4
	case "dq", "resq":
		return 8
	}
	return 0
}
