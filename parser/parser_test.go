package parser_test

import (
	"testing"

	"github.com/skubed0007/nasembler/parser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, src string) (*parser.Program, *parser.ErrorList) {
	t.Helper()
	p := parser.NewParser(src, "test.asm")
	return p.Parse()
}

func mustParse(t *testing.T, src string) *parser.Program {
	t.Helper()
	prog, errs := parse(t, src)
	require.False(t, errs.HasErrors(), "unexpected diagnostics: %s", errs.Error())
	return prog
}

const helloWorld = `section .data
msg db 'Hello, World!', 0
len equ $ - msg

section .text
global _start

_start:
    mov rax, 1
    mov rdi, 1
    mov rsi, msg
    mov rdx, 13
    syscall

    mov rax, 60
    xor rdi, rdi
    syscall
`

func TestParser_HelloWorld(t *testing.T) {
	prog := mustParse(t, helloWorld)

	var kinds []parser.StatementKind
	for _, stmt := range prog.Statements {
		kinds = append(kinds, stmt.Kind)
	}
	assert.Equal(t, []parser.StatementKind{
		parser.StmtSection,
		parser.StmtLabel,
		parser.StmtData,
		parser.StmtEqu,
		parser.StmtSection,
		parser.StmtGlobal,
		parser.StmtLabel,
		parser.StmtInstruction,
		parser.StmtInstruction,
		parser.StmtInstruction,
		parser.StmtInstruction,
		parser.StmtInstruction,
		parser.StmtInstruction,
		parser.StmtInstruction,
		parser.StmtInstruction,
	}, kinds)

	// data items: string plus terminating zero byte
	data := prog.Statements[2]
	require.Len(t, data.Items, 2)
	assert.Equal(t, parser.DataString, data.Items[0].Kind)
	assert.Equal(t, []byte("Hello, World!"), data.Items[0].Bytes)
	assert.Equal(t, parser.DataImm, data.Items[1].Kind)

	// sections created in file order
	require.Len(t, prog.Sections, 2)
	assert.Equal(t, ".data", prog.Sections[0].Name)
	assert.Equal(t, ".text", prog.Sections[1].Name)

	// symbols own their sections
	start, ok := prog.SymbolTable.Lookup("_start")
	require.True(t, ok)
	assert.True(t, start.Defined)
	assert.True(t, start.Global)
	assert.Equal(t, ".text", start.Section)

	msg, ok := prog.SymbolTable.Lookup("msg")
	require.True(t, ok)
	assert.Equal(t, ".data", msg.Section)
}

func TestParser_LabelWithInstructionOnSameLine(t *testing.T) {
	prog := mustParse(t, "loop: mov rax, 1\n")
	require.Len(t, prog.Statements, 2)
	assert.Equal(t, parser.StmtLabel, prog.Statements[0].Kind)
	assert.Equal(t, "loop", prog.Statements[0].Name)
	assert.Equal(t, parser.StmtInstruction, prog.Statements[1].Kind)
}

func TestParser_DefaultSectionIsText(t *testing.T) {
	prog := mustParse(t, "start:\nnop\n")
	assert.Equal(t, ".text", prog.Statements[0].Section)
}

func TestParser_DuplicateLabel(t *testing.T) {
	src := "duplicate:\nnop\nduplicate:\n"
	_, errs := parse(t, src)
	require.True(t, errs.HasErrors())
	err := errs.Errors[0]
	assert.Equal(t, parser.ErrorDuplicateLabel, err.Kind)
	// reported at the second occurrence
	assert.Equal(t, 3, err.Pos.Line)
}

func TestParser_InvalidSection(t *testing.T) {
	_, errs := parse(t, "section nodot\n")
	require.True(t, errs.HasErrors())
	assert.Equal(t, parser.ErrorInvalidSection, errs.Errors[0].Kind)

	_, errs = parse(t, "section .bogus\n")
	require.True(t, errs.HasErrors())
	assert.Equal(t, parser.ErrorInvalidSection, errs.Errors[0].Kind)
}

func TestParser_UnknownInstruction(t *testing.T) {
	prog, errs := parse(t, "bogus rax, 1\nnop\n")
	require.True(t, errs.HasErrors())
	assert.Equal(t, parser.ErrorUnknownInstruction, errs.Errors[0].Kind)

	// parsing continues after the bad line
	require.Len(t, prog.Statements, 1)
	assert.Equal(t, "nop", prog.Statements[0].Inst.Mnemonic)
}

func TestParser_OperandCountMismatch(t *testing.T) {
	_, errs := parse(t, "mov rax\n")
	require.True(t, errs.HasErrors())
	assert.Equal(t, parser.ErrorOperandCountMismatch, errs.Errors[0].Kind)
}

func TestParser_GlobalExternLists(t *testing.T) {
	prog := mustParse(t, "global _start, helper\nextern printf\n_start:\nnop\n")

	assert.Equal(t, []string{"_start", "helper"}, prog.Statements[0].Names)
	assert.Equal(t, []string{"printf"}, prog.Statements[1].Names)

	printf, ok := prog.SymbolTable.Lookup("printf")
	require.True(t, ok)
	assert.True(t, printf.Extern)
	assert.False(t, printf.Defined)
}

func TestParser_MemoryOperands(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		check func(t *testing.T, mem *parser.MemoryRef)
	}{
		{"base only", "mov rcx, [rbx]", func(t *testing.T, mem *parser.MemoryRef) {
			assert.Equal(t, "rbx", mem.Base.Name)
			assert.Nil(t, mem.Index)
			assert.False(t, mem.HasDisp)
		}},
		{"base plus disp", "mov rcx, [rbx+16]", func(t *testing.T, mem *parser.MemoryRef) {
			assert.Equal(t, "rbx", mem.Base.Name)
			assert.Equal(t, int64(16), mem.Disp)
		}},
		{"base minus disp", "mov rcx, [rbx-16]", func(t *testing.T, mem *parser.MemoryRef) {
			assert.Equal(t, int64(-16), mem.Disp)
		}},
		{"base index scale", "lea rax, [rbx+rcx*4]", func(t *testing.T, mem *parser.MemoryRef) {
			assert.Equal(t, "rbx", mem.Base.Name)
			assert.Equal(t, "rcx", mem.Index.Name)
			assert.Equal(t, 4, mem.Scale)
		}},
		{"scale defaults to one", "lea rax, [rbx+rcx]", func(t *testing.T, mem *parser.MemoryRef) {
			assert.Equal(t, 1, mem.Scale)
			assert.Equal(t, "rcx", mem.Index.Name)
		}},
		{"free term order", "lea rax, [8+rbx]", func(t *testing.T, mem *parser.MemoryRef) {
			assert.Equal(t, "rbx", mem.Base.Name)
			assert.Equal(t, int64(8), mem.Disp)
		}},
		{"label displacement", "mov rax, [msg]", func(t *testing.T, mem *parser.MemoryRef) {
			assert.Nil(t, mem.Base)
			assert.Equal(t, "msg", mem.DispSym)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prog := mustParse(t, tt.src+"\n")
			require.Len(t, prog.Statements, 1)
			ops := prog.Statements[0].Inst.Operands
			require.Len(t, ops, 2)
			require.Equal(t, parser.OpMemory, ops[1].Kind)
			tt.check(t, ops[1].Mem)
		})
	}
}

func TestParser_InvalidMemoryReferences(t *testing.T) {
	tests := []string{
		"mov rax, [rbx+*4]",
		"mov rax, [rbx+rcx*3]",
		"mov rax, [rax+rbx*2+rcx*2]",
		"mov rax, [rax+rbx+rcx]",
		"mov rax, []",
		"mov rax, [eax]",
	}
	for _, src := range tests {
		t.Run(src, func(t *testing.T) {
			_, errs := parse(t, src+"\n")
			require.True(t, errs.HasErrors(), "expected diagnostics for %s", src)
			assert.Equal(t, parser.ErrorInvalidMemoryReference, errs.Errors[0].Kind)
		})
	}
}

func TestParser_EquForms(t *testing.T) {
	prog := mustParse(t, "answer equ 42\nsection .data\nmsg db 'hi'\nlen equ $ - msg\nalias equ msg\nsection .text\nglobal _start\n_start:\nnop\n")

	var equs []*parser.Statement
	for _, stmt := range prog.Statements {
		if stmt.Kind == parser.StmtEqu {
			equs = append(equs, stmt)
		}
	}
	require.Len(t, equs, 3)
	assert.Equal(t, parser.EquImmediate, equs[0].Expr.Kind)
	assert.Equal(t, int64(42), equs[0].Expr.Value)
	assert.Equal(t, parser.EquHereMinusSymbol, equs[1].Expr.Kind)
	assert.Equal(t, "msg", equs[1].Expr.Sym)
	assert.Equal(t, parser.EquSymbol, equs[2].Expr.Kind)

	answer, ok := prog.SymbolTable.Lookup("answer")
	require.True(t, ok)
	assert.Equal(t, parser.SymbolConstant, answer.Type)
}

func TestParser_TimesDirective(t *testing.T) {
	prog := mustParse(t, "section .data\ntimes 8 db 0\n")
	require.Len(t, prog.Statements, 2)
	stmt := prog.Statements[1]
	require.Equal(t, parser.StmtTimes, stmt.Kind)
	assert.Equal(t, int64(8), stmt.Count)
	require.NotNil(t, stmt.Inner)
	assert.Equal(t, parser.StmtData, stmt.Inner.Kind)
	assert.Equal(t, 1, stmt.Inner.Unit)
}

func TestParser_TimesInstruction(t *testing.T) {
	prog := mustParse(t, "times 4 nop\n")
	stmt := prog.Statements[0]
	require.Equal(t, parser.StmtTimes, stmt.Kind)
	require.NotNil(t, stmt.Inner)
	assert.Equal(t, parser.StmtInstruction, stmt.Inner.Kind)
	assert.Equal(t, "nop", stmt.Inner.Inst.Mnemonic)
}

func TestParser_StringOnlyValidForDb(t *testing.T) {
	_, errs := parse(t, `section .data`+"\n"+`w dw "AB"`+"\n")
	require.True(t, errs.HasErrors())
}

func TestParser_CharLiteralIsImmediate(t *testing.T) {
	prog := mustParse(t, "mov al, 'A'\n")
	op := prog.Statements[0].Inst.Operands[1]
	require.Equal(t, parser.OpImmediate, op.Kind)
	assert.Equal(t, int64('A'), op.Value)
}

func TestParser_CharEscapeImmediate(t *testing.T) {
	prog := mustParse(t, `mov al, '\n'`+"\n")
	op := prog.Statements[0].Inst.Operands[1]
	require.Equal(t, parser.OpImmediate, op.Kind)
	assert.Equal(t, int64('\n'), op.Value)
}

func TestParser_ReserveDirectives(t *testing.T) {
	prog := mustParse(t, "section .bss\nbuf resb 64\nwords resq 4\n")
	require.Len(t, prog.Statements, 5)
	assert.Equal(t, parser.StmtReserve, prog.Statements[2].Kind)
	assert.Equal(t, int64(64), prog.Statements[2].Count)
	assert.Equal(t, 1, prog.Statements[2].Unit)
	assert.Equal(t, 8, prog.Statements[4].Unit)
}

func TestParser_MalformedLabel(t *testing.T) {
	_, errs := parse(t, "mov:\n")
	require.True(t, errs.HasErrors())
	assert.Equal(t, parser.ErrorMalformedLabel, errs.Errors[0].Kind)
}

func TestParser_NegativeImmediate(t *testing.T) {
	prog := mustParse(t, "mov rax, -16\n")
	op := prog.Statements[0].Inst.Operands[1]
	assert.Equal(t, int64(-16), op.Value)
}

func TestParser_StopOnFirstError(t *testing.T) {
	p := parser.NewParser("bogus1\nbogus2\n", "test.asm")
	p.SetStopOnFirstError(true)
	_, errs := p.Parse()
	assert.Equal(t, 1, errs.Len())
}

func TestParser_DiagnosticsInSourceOrder(t *testing.T) {
	_, errs := parse(t, "bogus1\nnop\nbogus2\nbogus3\n")
	require.Equal(t, 3, errs.Len())
	assert.Equal(t, 1, errs.Errors[0].Pos.Line)
	assert.Equal(t, 3, errs.Errors[1].Pos.Line)
	assert.Equal(t, 4, errs.Errors[2].Pos.Line)
}

func TestParser_RawLineAttached(t *testing.T) {
	_, errs := parse(t, "mov rax\n")
	require.True(t, errs.HasErrors())
	assert.Equal(t, "mov rax", errs.Errors[0].Context)
}
