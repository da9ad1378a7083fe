package parser_test

import (
	"testing"

	"github.com/skubed0007/nasembler/parser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tokenize(t *testing.T, src string) ([]parser.Token, *parser.ErrorList) {
	t.Helper()
	l := parser.NewLexer(src, "test.asm")
	return l.TokenizeAll(), l.Errors()
}

func TestLexer_InstructionLine(t *testing.T) {
	tokens, errs := tokenize(t, "mov rax, 1\n")
	require.False(t, errs.HasErrors())

	types := make([]parser.TokenType, len(tokens))
	for i, tok := range tokens {
		types[i] = tok.Type
	}
	assert.Equal(t, []parser.TokenType{
		parser.TokenInstruction,
		parser.TokenRegister,
		parser.TokenComma,
		parser.TokenNumber,
		parser.TokenNewline,
		parser.TokenEOF,
	}, types)

	assert.Equal(t, "mov", tokens[0].Literal)
	assert.Equal(t, "rax", tokens[1].Literal)
	assert.Equal(t, 1, tokens[0].Pos.Line)
	assert.Equal(t, 1, tokens[0].Pos.Column)
	assert.Equal(t, 5, tokens[1].Pos.Column)
}

func TestLexer_LabelDefinition(t *testing.T) {
	tokens, errs := tokenize(t, "_start:\n")
	require.False(t, errs.HasErrors())
	require.Equal(t, parser.TokenLabelDef, tokens[0].Type)
	assert.Equal(t, "_start", tokens[0].Literal)
}

func TestLexer_CaseInsensitiveMnemonics(t *testing.T) {
	tokens, errs := tokenize(t, "MOV RAX, Msg\n")
	require.False(t, errs.HasErrors())
	assert.Equal(t, parser.TokenInstruction, tokens[0].Type)
	assert.Equal(t, parser.TokenRegister, tokens[1].Type)
	// user identifiers stay case-sensitive
	assert.Equal(t, parser.TokenIdentifier, tokens[3].Type)
	assert.Equal(t, "Msg", tokens[3].Literal)
}

func TestLexer_NumberBases(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{"0x1F", "0x1F"},
		{"0b1010", "0b1010"},
		{"0o755", "0o755"},
		{"42", "42"},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			tokens, errs := tokenize(t, tt.src)
			require.False(t, errs.HasErrors())
			require.Equal(t, parser.TokenNumber, tokens[0].Type)
			assert.Equal(t, tt.want, tokens[0].Literal)
		})
	}
}

func TestLexer_Punctuation(t *testing.T) {
	tokens, errs := tokenize(t, "[rbx+rcx*4-8]")
	require.False(t, errs.HasErrors())

	types := make([]parser.TokenType, 0, len(tokens))
	for _, tok := range tokens {
		types = append(types, tok.Type)
	}
	assert.Equal(t, []parser.TokenType{
		parser.TokenLBracket,
		parser.TokenRegister,
		parser.TokenPlus,
		parser.TokenRegister,
		parser.TokenStar,
		parser.TokenNumber,
		parser.TokenMinus,
		parser.TokenNumber,
		parser.TokenRBracket,
		parser.TokenEOF,
	}, types)
}

func TestLexer_CommentDoesNotConsumeNewline(t *testing.T) {
	tokens, errs := tokenize(t, "nop ; trailing comment\nret\n")
	require.False(t, errs.HasErrors())

	var types []parser.TokenType
	for _, tok := range tokens {
		types = append(types, tok.Type)
	}
	assert.Equal(t, []parser.TokenType{
		parser.TokenInstruction,
		parser.TokenComment,
		parser.TokenNewline,
		parser.TokenInstruction,
		parser.TokenNewline,
		parser.TokenEOF,
	}, types)
}

func TestLexer_StringLiteral(t *testing.T) {
	tokens, errs := tokenize(t, `msg db "Hello, World!", 0`)
	require.False(t, errs.HasErrors())
	require.Equal(t, parser.TokenString, tokens[2].Type)
	assert.Equal(t, "Hello, World!", tokens[2].Literal)
	assert.Equal(t, '"', rune(tokens[2].Quote))
}

func TestLexer_UnclosedString(t *testing.T) {
	// Scenario: message db "Hello at end of file
	_, errs := tokenize(t, `message db "Hello`)
	require.True(t, errs.HasErrors())
	err := errs.Errors[0]
	assert.Equal(t, parser.ErrorUnclosedString, err.Kind)
	// reported at the column of the opening quote
	assert.Equal(t, 12, err.Pos.Column)
}

func TestLexer_UnclosedStringBeforeNewline(t *testing.T) {
	tokens, errs := tokenize(t, "db \"abc\nnop\n")
	require.True(t, errs.HasErrors())
	assert.Equal(t, parser.ErrorUnclosedString, errs.Errors[0].Kind)

	// the lexer recovers and still tokenizes the next line
	var sawNop bool
	for _, tok := range tokens {
		if tok.Type == parser.TokenInstruction && tok.Literal == "nop" {
			sawNop = true
		}
	}
	assert.True(t, sawNop)
}

func TestLexer_UnexpectedCharacter(t *testing.T) {
	tokens, errs := tokenize(t, "mov rax, @oops\n")
	require.True(t, errs.HasErrors())
	err := errs.Errors[0]
	assert.Equal(t, parser.ErrorUnexpectedCharacter, err.Kind)
	assert.Equal(t, 1, err.Pos.Line)
	assert.Equal(t, 10, err.Pos.Column)

	// an Error token is emitted and the stream continues to EOF
	var sawError bool
	for _, tok := range tokens {
		if tok.Type == parser.TokenError {
			sawError = true
		}
	}
	assert.True(t, sawError)
	assert.Equal(t, parser.TokenEOF, tokens[len(tokens)-1].Type)
}

func TestLexer_DollarToken(t *testing.T) {
	tokens, errs := tokenize(t, "len equ $ - msg\n")
	require.False(t, errs.HasErrors())

	assert.Equal(t, parser.TokenIdentifier, tokens[0].Type)
	assert.Equal(t, parser.TokenDirective, tokens[1].Type)
	assert.Equal(t, parser.TokenDollar, tokens[2].Type)
	assert.Equal(t, parser.TokenMinus, tokens[3].Type)
	assert.Equal(t, parser.TokenIdentifier, tokens[4].Type)
}

func TestLexer_PositionsAcrossLines(t *testing.T) {
	tokens, errs := tokenize(t, "nop\nnop\n")
	require.False(t, errs.HasErrors())
	assert.Equal(t, 1, tokens[0].Pos.Line)
	assert.Equal(t, 2, tokens[2].Pos.Line)
	assert.Equal(t, 1, tokens[2].Pos.Column)
}
