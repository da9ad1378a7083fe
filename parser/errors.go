package parser

import (
	"fmt"
	"sort"
	"strings"
)

// Position represents a location in the source file
type Position struct {
	Filename string
	Line     int
	Column   int
}

func (p Position) String() string {
	return fmt.Sprintf("%s:%d:%d", p.Filename, p.Line, p.Column)
}

// ErrorKind categorizes the type of error
type ErrorKind int

const (
	// Lexer errors
	ErrorUnexpectedCharacter ErrorKind = iota
	ErrorUnclosedString
	ErrorInvalidToken

	// Parser errors
	ErrorUnexpectedToken
	ErrorExpectedToken
	ErrorInvalidSection
	ErrorUnknownDirective
	ErrorUnknownInstruction
	ErrorInvalidMemoryReference

	// Symbol errors
	ErrorDuplicateLabel
	ErrorUndefinedLabel
	ErrorMalformedLabel

	// Encoder errors
	ErrorInvalidOperandCombination
	ErrorInvalidAddressingMode
	ErrorOperandCountMismatch

	// Fatal layout/writer/driver errors
	ErrorMissingEntryPoint
	ErrorSection
	ErrorElfWrite
	ErrorUnsupportedFormat
	ErrorFileIO
	ErrorInternal
)

var errorKindNames = map[ErrorKind]string{
	ErrorUnexpectedCharacter:       "UnexpectedCharacter",
	ErrorUnclosedString:            "UnclosedString",
	ErrorInvalidToken:              "InvalidToken",
	ErrorUnexpectedToken:           "UnexpectedToken",
	ErrorExpectedToken:             "ExpectedToken",
	ErrorInvalidSection:            "InvalidSection",
	ErrorUnknownDirective:          "UnknownDirective",
	ErrorUnknownInstruction:        "UnknownInstruction",
	ErrorInvalidMemoryReference:    "InvalidMemoryReference",
	ErrorDuplicateLabel:            "DuplicateLabel",
	ErrorUndefinedLabel:            "UndefinedLabel",
	ErrorMalformedLabel:            "MalformedLabel",
	ErrorInvalidOperandCombination: "InvalidOperandCombination",
	ErrorInvalidAddressingMode:     "InvalidAddressingMode",
	ErrorOperandCountMismatch:      "OperandCountMismatch",
	ErrorMissingEntryPoint:         "MissingEntryPoint",
	ErrorSection:                   "SectionError",
	ErrorElfWrite:                  "ElfWriteError",
	ErrorUnsupportedFormat:         "UnsupportedFormat",
	ErrorFileIO:                    "FileError",
	ErrorInternal:                  "InternalError",
}

func (k ErrorKind) String() string {
	if name, ok := errorKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ErrorKind(%d)", k)
}

// Fatal reports whether this kind of error terminates the pipeline
// immediately instead of being collected.
func (k ErrorKind) Fatal() bool {
	switch k {
	case ErrorMissingEntryPoint, ErrorSection, ErrorElfWrite,
		ErrorUnsupportedFormat, ErrorFileIO, ErrorInternal:
		return true
	}
	return false
}

// Error represents an assembly error with position information
type Error struct {
	Pos     Position
	Kind    ErrorKind
	Message string
	Context string // The line of code where the error occurred
	Help    string // Optional suggestion shown after the message
	Note    string // Optional additional note
}

func (e *Error) Error() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("%s: error[%s]: %s\n", e.Pos, e.Kind, e.Message))

	if e.Context != "" {
		sb.WriteString(fmt.Sprintf("    %s\n", e.Context))
		if e.Pos.Column > 0 {
			sb.WriteString(fmt.Sprintf("    %s^\n", strings.Repeat(" ", e.Pos.Column-1)))
		}
	}
	if e.Help != "" {
		sb.WriteString(fmt.Sprintf("    help: %s\n", e.Help))
	}
	if e.Note != "" {
		sb.WriteString(fmt.Sprintf("    note: %s\n", e.Note))
	}

	return sb.String()
}

// NewError creates a new assembly error
func NewError(pos Position, kind ErrorKind, message string) *Error {
	return &Error{
		Pos:     pos,
		Kind:    kind,
		Message: message,
	}
}

// NewErrorWithContext creates a new assembly error with source context
func NewErrorWithContext(pos Position, kind ErrorKind, message, context string) *Error {
	return &Error{
		Pos:     pos,
		Kind:    kind,
		Message: message,
		Context: context,
	}
}

// Warning represents a non-fatal assembly warning
type Warning struct {
	Pos     Position
	Message string
}

func (w *Warning) String() string {
	return fmt.Sprintf("%s: warning: %s", w.Pos, w.Message)
}

// ErrorList collects multiple errors and warnings in the order they are
// added; Sort puts them in source order.
type ErrorList struct {
	Errors   []*Error
	Warnings []*Warning
}

// AddError adds an error to the list
func (el *ErrorList) AddError(err *Error) {
	el.Errors = append(el.Errors, err)
}

// AddWarning adds a warning to the list
func (el *ErrorList) AddWarning(warn *Warning) {
	el.Warnings = append(el.Warnings, warn)
}

// HasErrors returns true if there are any errors
func (el *ErrorList) HasErrors() bool {
	return len(el.Errors) > 0
}

// Len returns the number of collected errors
func (el *ErrorList) Len() int {
	return len(el.Errors)
}

// Merge appends all diagnostics from another list
func (el *ErrorList) Merge(other *ErrorList) {
	el.Errors = append(el.Errors, other.Errors...)
	el.Warnings = append(el.Warnings, other.Warnings...)
}

// Sort orders diagnostics by source position (ascending line, then
// column). The passes collect in walk order; user-visible output is
// source order.
func (el *ErrorList) Sort() {
	sort.SliceStable(el.Errors, func(i, j int) bool {
		a, b := el.Errors[i].Pos, el.Errors[j].Pos
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.Column < b.Column
	})
	sort.SliceStable(el.Warnings, func(i, j int) bool {
		a, b := el.Warnings[i].Pos, el.Warnings[j].Pos
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.Column < b.Column
	})
}

// Error implements the error interface
func (el *ErrorList) Error() string {
	if !el.HasErrors() {
		return ""
	}

	var sb strings.Builder
	for _, err := range el.Errors {
		sb.WriteString(err.Error())
	}
	return sb.String()
}

// PrintWarnings formats all warnings, one per line
func (el *ErrorList) PrintWarnings() string {
	if len(el.Warnings) == 0 {
		return ""
	}

	var sb strings.Builder
	for _, warn := range el.Warnings {
		sb.WriteString(warn.String())
		sb.WriteString("\n")
	}
	return sb.String()
}
