package encoder

import (
	"fmt"
	"strings"

	"github.com/skubed0007/nasembler/parser"
)

// EncodingError is a typed encoding failure carrying the instruction
// it came from, so the message can point at the exact source line.
type EncodingError struct {
	Instruction *parser.Instruction // Original instruction that failed to encode
	Kind        parser.ErrorKind
	Message     string // Error description
	Wrapped     error  // Underlying error (may be nil)
}

// Error implements the error interface. The message is prefixed with
// the instruction's source location when one is known, and followed by
// the offending source line.
func (e *EncodingError) Error() string {
	var sb strings.Builder

	switch {
	case e.Instruction == nil:
		sb.WriteString("encoding error: ")
	case e.Instruction.Pos.Filename != "":
		pos := e.Instruction.Pos
		fmt.Fprintf(&sb, "%s:%d:%d: ", pos.Filename, pos.Line, pos.Column)
	case e.Instruction.Pos.Line > 0:
		fmt.Fprintf(&sb, "line %d: ", e.Instruction.Pos.Line)
	}

	sb.WriteString(e.Message)
	if e.Wrapped != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Wrapped.Error())
	}
	if e.Instruction != nil && e.Instruction.RawLine != "" {
		sb.WriteString("\n  source: ")
		sb.WriteString(e.Instruction.RawLine)
	}

	return sb.String()
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *EncodingError) Unwrap() error {
	return e.Wrapped
}

// newError creates an EncodingError for the instruction being encoded.
func newError(inst *parser.Instruction, kind parser.ErrorKind, format string, args ...interface{}) *EncodingError {
	return &EncodingError{
		Instruction: inst,
		Kind:        kind,
		Message:     fmt.Sprintf(format, args...),
	}
}

// Diagnostic converts the encoding error into a collectable parser.Error.
func (e *EncodingError) Diagnostic() *parser.Error {
	pos := parser.Position{}
	context := ""
	if e.Instruction != nil {
		pos = e.Instruction.Pos
		context = e.Instruction.RawLine
	}
	msg := e.Message
	if e.Wrapped != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Wrapped)
	}
	return parser.NewErrorWithContext(pos, e.Kind, msg, context)
}
