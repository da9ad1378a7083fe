package parser

import (
	"fmt"
)

// SymbolType represents the type of a symbol
type SymbolType int

const (
	SymbolLabel    SymbolType = iota
	SymbolConstant            // defined with equ
)

// Symbol represents a symbol in the symbol table. Offset is relative to
// the owning section; Value is the absolute virtual address and is only
// meaningful after layout fixes the section base addresses.
type Symbol struct {
	Name    string
	Type    SymbolType
	Section string
	Offset  uint64
	Value   uint64
	Global  bool
	Extern  bool
	Defined bool
	// Resolved is set once the final Value is known: for an equ
	// constant when the size pass reaches its equ, for a label when
	// layout fixes the section bases. equ constants referenced before
	// resolution force the encoder into its widest form, which
	// emission then pads.
	Resolved bool
	Pos      Position
	// Forward references: positions where this symbol is used
	References []Position
}

// SymbolTable manages symbols during assembly. Identifiers are
// case-sensitive and may be defined at most once.
type SymbolTable struct {
	symbols map[string]*Symbol
	order   []string // definition/reference order, for deterministic walks
}

// NewSymbolTable creates a new symbol table
func NewSymbolTable() *SymbolTable {
	return &SymbolTable{
		symbols: make(map[string]*Symbol),
	}
}

// Define defines a new symbol in the given section. The second
// definition of a name is a DuplicateLabel error.
func (st *SymbolTable) Define(name string, symType SymbolType, section string, pos Position) (*Symbol, error) {
	if sym, exists := st.symbols[name]; exists {
		if sym.Defined {
			return nil, fmt.Errorf("symbol %q already defined at %s", name, sym.Pos)
		}
		// A forward reference or a global/extern annotation arrived first
		sym.Type = symType
		sym.Section = section
		sym.Defined = true
		sym.Pos = pos
		return sym, nil
	}

	sym := &Symbol{
		Name:    name,
		Type:    symType,
		Section: section,
		Defined: true,
		Pos:     pos,
	}
	st.symbols[name] = sym
	st.order = append(st.order, name)
	return sym, nil
}

// Reference marks a symbol as referenced at a position, creating a
// placeholder entry for forward references.
func (st *SymbolTable) Reference(name string, pos Position) {
	if sym, exists := st.symbols[name]; exists {
		sym.References = append(sym.References, pos)
		return
	}
	st.symbols[name] = &Symbol{
		Name:       name,
		Type:       SymbolLabel,
		Pos:        pos,
		References: []Position{pos},
	}
	st.order = append(st.order, name)
}

// MarkGlobal flags a symbol as global, creating a placeholder if needed
func (st *SymbolTable) MarkGlobal(name string, pos Position) {
	sym, exists := st.symbols[name]
	if !exists {
		sym = &Symbol{Name: name, Type: SymbolLabel, Pos: pos}
		st.symbols[name] = sym
		st.order = append(st.order, name)
	}
	sym.Global = true
}

// MarkExtern flags a symbol as extern, creating a placeholder if needed
func (st *SymbolTable) MarkExtern(name string, pos Position) {
	sym, exists := st.symbols[name]
	if !exists {
		sym = &Symbol{Name: name, Type: SymbolLabel, Pos: pos}
		st.symbols[name] = sym
		st.order = append(st.order, name)
	}
	sym.Extern = true
}

// Lookup looks up a symbol by name
func (st *SymbolTable) Lookup(name string) (*Symbol, bool) {
	sym, exists := st.symbols[name]
	return sym, exists
}

// Get returns a symbol's absolute address, or an error if undefined
func (st *SymbolTable) Get(name string) (uint64, error) {
	sym, exists := st.symbols[name]
	if !exists {
		return 0, fmt.Errorf("undefined symbol: %q", name)
	}
	if !sym.Defined {
		return 0, fmt.Errorf("symbol %q used but not defined", name)
	}
	return sym.Value, nil
}

// Undefined returns referenced-but-never-defined symbols in first-seen
// order, skipping extern declarations.
func (st *SymbolTable) Undefined() []*Symbol {
	var undefined []*Symbol
	for _, name := range st.order {
		sym := st.symbols[name]
		if !sym.Defined && !sym.Extern && len(sym.References) > 0 {
			undefined = append(undefined, sym)
		}
	}
	return undefined
}

// All returns all symbols in first-seen order
func (st *SymbolTable) All() []*Symbol {
	syms := make([]*Symbol, 0, len(st.order))
	for _, name := range st.order {
		syms = append(syms, st.symbols[name])
	}
	return syms
}

// Section base virtual addresses. These are fixed constants; a symbol's
// absolute address is base + section offset once layout completes.
const (
	TextBase uint64 = 0x400000
	DataBase uint64 = 0x600000
	BssBase  uint64 = 0x800000
)

// Section represents one output section. Statements reference their
// owning section by name; the payload is materialised only after all
// encodings are known.
type Section struct {
	Name   string
	Index  int // order of first reference in the source
	Base   uint64
	Size   uint64
	Data   []byte
	NoBits bool // .bss: occupies memory only
}

// KnownSection reports whether the given name is an accepted section
func KnownSection(name string) bool {
	switch name {
	case ".text", ".data", ".bss", ".rodata":
		return true
	}
	return false
}
