package encoder

// Recipes for the instruction families the encoder dispatches on.
// Opcode bytes are the 16/32/64-bit forms; the 8-bit form of every
// entry is the listed opcode minus one, per the ISA's byte/word split.

// aluRecipe describes one two-operand ALU instruction: opMR is the
// "r/m, r" opcode, opRM the "r, r/m" opcode, and ext the /digit used
// with the 0x81/0x83 immediate group opcodes.
type aluRecipe struct {
	opMR byte
	opRM byte
	ext  byte
}

var aluOps = map[string]aluRecipe{
	"add": {0x01, 0x03, 0},
	"or":  {0x09, 0x0B, 1},
	"adc": {0x11, 0x13, 2},
	"sbb": {0x19, 0x1B, 3},
	"and": {0x21, 0x23, 4},
	"sub": {0x29, 0x2B, 5},
	"xor": {0x31, 0x33, 6},
	"cmp": {0x39, 0x3B, 7},
}

// unaryRecipe describes the one-operand group instructions. The word
// opcode is 0xF7 or 0xFF; the byte form is opcode minus one.
type unaryRecipe struct {
	opcode byte
	ext    byte
}

var unaryOps = map[string]unaryRecipe{
	"inc":  {0xFF, 0},
	"dec":  {0xFF, 1},
	"not":  {0xF7, 2},
	"neg":  {0xF7, 3},
	"mul":  {0xF7, 4},
	"imul": {0xF7, 5},
	"div":  {0xF7, 6},
	"idiv": {0xF7, 7},
}

// shiftExt maps shift mnemonics to their /digit in the 0xC1/0xD3 group.
var shiftExt = map[string]byte{
	"shl": 4,
	"sal": 4,
	"shr": 5,
	"sar": 7,
}

// condCode maps conditional-jump mnemonics to the low nibble of the
// 0x0F 0x8x opcode.
var condCode = map[string]byte{
	"je":  0x4,
	"jz":  0x4,
	"jne": 0x5,
	"jnz": 0x5,
	"jb":  0x2,
	"jae": 0x3,
	"jbe": 0x6,
	"ja":  0x7,
	"jl":  0xC,
	"jge": 0xD,
	"jle": 0xE,
	"jg":  0xF,
}

// Single-byte NOP used to pad emitted encodings up to their sized length.
const nopByte = 0x90
