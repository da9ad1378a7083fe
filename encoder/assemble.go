package encoder

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/skubed0007/nasembler/parser"
)

// Image is the fully laid out program: sections with materialised
// payloads, the resolved symbol table, and the entry-point address.
type Image struct {
	Sections []*parser.Section
	Symbols  *parser.SymbolTable
	Entry    uint64
}

// Section returns the named section of the image, or nil
func (img *Image) Section(name string) *parser.Section {
	for _, sec := range img.Sections {
		if sec.Name == name {
			return sec
		}
	}
	return nil
}

// Assembler drives the layout and encoding passes over a parsed
// program:
//
//	pass 1 (parser): symbol collection, duplicate detection
//	pass 2: pessimistic sizing, section-relative offsets, equ resolution
//	pass 3: fixed section bases, absolute symbol addresses
//	emission: final encoding with NOP padding, payload materialisation
type Assembler struct {
	prog    *parser.Program
	symbols *parser.SymbolTable
	errors  *parser.ErrorList
	enc     *Encoder

	stopOnFirst bool
	constValues map[string]int64  // resolved equ constants
	aliases     map[string]string // equ name -> label it aliases
}

// NewAssembler creates an assembler for a parsed program
func NewAssembler(prog *parser.Program) *Assembler {
	return &Assembler{
		prog:        prog,
		symbols:     prog.SymbolTable,
		errors:      &parser.ErrorList{},
		enc:         NewEncoder(prog.SymbolTable),
		constValues: make(map[string]int64),
		aliases:     make(map[string]string),
	}
}

// SetStopOnFirstError makes the first diagnostic terminate assembly
func (a *Assembler) SetStopOnFirstError(stop bool) {
	a.stopOnFirst = stop
}

// Errors returns the collected diagnostics
func (a *Assembler) Errors() *parser.ErrorList {
	return a.errors
}

// Assemble lays out and encodes the program. Non-fatal diagnostics are
// collected in the error list; the returned error is reserved for
// fatal conditions (missing entry point, section overflow, internal
// inconsistencies).
func (a *Assembler) Assemble() (*Image, error) {
	defer a.errors.Sort()

	a.reportUndefined()
	if a.stopOnFirst && a.errors.HasErrors() {
		return nil, nil
	}

	if err := a.sizePass(); err != nil {
		return nil, err
	}
	if a.stopOnFirst && a.errors.HasErrors() {
		return nil, nil
	}

	entry, err := a.layoutPass()
	if err != nil {
		return nil, err
	}

	if err := a.emitPass(); err != nil {
		return nil, err
	}

	return &Image{
		Sections: a.prog.Sections,
		Symbols:  a.symbols,
		Entry:    entry,
	}, nil
}

// reportUndefined emits an UndefinedLabel diagnostic for every symbol
// that is referenced but never defined (extern declarations excluded;
// those fail at encode time with their own message).
func (a *Assembler) reportUndefined() {
	for _, sym := range a.symbols.Undefined() {
		pos := sym.Pos
		if len(sym.References) > 0 {
			pos = sym.References[0]
		}
		a.errors.AddError(parser.NewError(pos, parser.ErrorUndefinedLabel,
			fmt.Sprintf("undefined label: %q", sym.Name)))
		if a.stopOnFirst {
			return
		}
	}
}

// sizePass walks the statements with a per-section byte cursor,
// recording upper-bound instruction sizes and symbol offsets.
func (a *Assembler) sizePass() error {
	a.enc.SetSizing(true)
	defer a.enc.SetSizing(false)

	for _, stmt := range a.prog.Statements {
		sec := a.prog.Section(stmt.Section)
		if sec == nil {
			return parser.NewError(stmt.Pos, parser.ErrorInternal, "statement outside any section")
		}
		if err := a.sizeStatement(stmt, sec); err != nil {
			return err
		}
		if a.stopOnFirst && a.errors.HasErrors() {
			return nil
		}
	}
	return nil
}

// sizeStatement advances the section cursor for one statement
func (a *Assembler) sizeStatement(stmt *parser.Statement, sec *parser.Section) error {
	switch stmt.Kind {
	case parser.StmtLabel:
		sym, ok := a.symbols.Lookup(stmt.Name)
		if !ok || !sym.Defined {
			return parser.NewError(stmt.Pos, parser.ErrorInternal,
				fmt.Sprintf("label %q missing from symbol table", stmt.Name))
		}
		sym.Offset = sec.Size

	case parser.StmtEqu:
		a.resolveEqu(stmt, sec)

	case parser.StmtData:
		if sec.NoBits {
			return parser.NewError(stmt.Pos, parser.ErrorSection,
				fmt.Sprintf("initialized data is not allowed in %s", sec.Name))
		}
		sec.Size += dataSize(stmt)

	case parser.StmtReserve:
		count, ok := a.resolveCount(stmt)
		if !ok {
			return nil
		}
		sec.Size += uint64(count) * uint64(stmt.Unit)

	case parser.StmtTimes:
		return a.sizeTimes(stmt, sec)

	case parser.StmtInstruction:
		if sec.NoBits {
			return parser.NewError(stmt.Pos, parser.ErrorSection,
				fmt.Sprintf("instructions are not allowed in %s", sec.Name))
		}
		inst := stmt.Inst
		bytes, err := a.enc.EncodeInstruction(inst, sec.Base+sec.Size)
		if err != nil {
			a.collect(err)
			inst.Size = -1 // emission skips statements that failed to size
			return nil
		}
		inst.Size = len(bytes)
		sec.Size += uint64(inst.Size)
	}
	return nil
}

// sizeTimes sizes the replicated statement once and multiplies.
// Sizing is address-independent, so one measurement is exact
// for every repetition.
func (a *Assembler) sizeTimes(stmt *parser.Statement, sec *parser.Section) error {
	count, ok := a.resolveCount(stmt)
	if !ok {
		return nil
	}
	stmt.Count = count

	inner := stmt.Inner
	if inner == nil {
		return nil
	}

	switch inner.Kind {
	case parser.StmtData:
		if sec.NoBits {
			return parser.NewError(stmt.Pos, parser.ErrorSection,
				fmt.Sprintf("initialized data is not allowed in %s", sec.Name))
		}
		sec.Size += uint64(count) * dataSize(inner)

	case parser.StmtReserve:
		n, ok := a.resolveCount(inner)
		if !ok {
			return nil
		}
		sec.Size += uint64(count) * uint64(n) * uint64(inner.Unit)

	case parser.StmtInstruction:
		if sec.NoBits {
			return parser.NewError(stmt.Pos, parser.ErrorSection,
				fmt.Sprintf("instructions are not allowed in %s", sec.Name))
		}
		inst := inner.Inst
		bytes, err := a.enc.EncodeInstruction(inst, sec.Base+sec.Size)
		if err != nil {
			a.collect(err)
			inst.Size = -1
			return nil
		}
		inst.Size = len(bytes)
		sec.Size += uint64(count) * uint64(inst.Size)
	}
	return nil
}

// dataSize computes the byte size of a data directive: string bytes
// for db items, the unit size for every other item.
func dataSize(stmt *parser.Statement) uint64 {
	var size uint64
	for _, item := range stmt.Items {
		if item.Kind == parser.DataString {
			size += uint64(len(item.Bytes))
		} else {
			size += uint64(stmt.Unit)
		}
	}
	return size
}

// resolveEqu computes an equ constant at its position in the size
// pass, where $ is the current section cursor.
func (a *Assembler) resolveEqu(stmt *parser.Statement, sec *parser.Section) {
	sym, ok := a.symbols.Lookup(stmt.Name)
	if !ok {
		return
	}

	switch stmt.Expr.Kind {
	case parser.EquImmediate:
		sym.Value = uint64(stmt.Expr.Value)
		sym.Resolved = true
		a.constValues[stmt.Name] = stmt.Expr.Value

	case parser.EquHereMinusSymbol:
		target, ok := a.symbols.Lookup(stmt.Expr.Sym)
		if !ok || !target.Defined || target.Type != parser.SymbolLabel {
			a.addError(stmt.Pos, parser.ErrorUndefinedLabel,
				fmt.Sprintf("equ expression references undefined or later label %q", stmt.Expr.Sym))
			return
		}
		if target.Section != sec.Name {
			a.addError(stmt.Pos, parser.ErrorUndefinedLabel,
				fmt.Sprintf("$ - %s crosses sections (%s is in %s)", stmt.Expr.Sym, stmt.Expr.Sym, target.Section))
			return
		}
		value := int64(sec.Size) - int64(target.Offset)
		sym.Value = uint64(value)
		sym.Resolved = true
		a.constValues[stmt.Name] = value

	case parser.EquSymbol:
		// Alias of another symbol; the address is filled in once
		// section bases are fixed.
		a.aliases[stmt.Name] = stmt.Expr.Sym
	}
}

// resolveCount resolves a times/reserve count that may be a literal or
// a previously defined equ constant.
func (a *Assembler) resolveCount(stmt *parser.Statement) (int64, bool) {
	if stmt.CountSym == "" {
		return stmt.Count, true
	}
	value, ok := a.constValues[stmt.CountSym]
	if !ok {
		a.addError(stmt.Pos, parser.ErrorUndefinedLabel,
			fmt.Sprintf("count %q is not a previously defined constant", stmt.CountSym))
		return 0, false
	}
	if value < 0 {
		a.addError(stmt.Pos, parser.ErrorUnexpectedToken,
			fmt.Sprintf("count %q is negative", stmt.CountSym))
		return 0, false
	}
	return value, true
}

// layoutPass fixes section base addresses, computes absolute symbol
// values and locates the entry point.
func (a *Assembler) layoutPass() (uint64, error) {
	text := a.prog.Section(".text")
	data := a.prog.Section(".data")
	rodata := a.prog.Section(".rodata")
	bss := a.prog.Section(".bss")

	if text != nil {
		text.Base = parser.TextBase
		if parser.TextBase+text.Size > parser.DataBase {
			return 0, parser.NewError(parser.Position{}, parser.ErrorSection,
				fmt.Sprintf(".text payload (%d bytes) overflows into the data segment", text.Size))
		}
	}
	dataEnd := parser.DataBase
	if data != nil {
		data.Base = parser.DataBase
		dataEnd = data.Base + data.Size
	}
	if rodata != nil {
		// .rodata rides in the data segment, after .data
		rodata.Base = align8(dataEnd)
		dataEnd = rodata.Base + rodata.Size
	}
	if dataEnd > parser.BssBase {
		return 0, parser.NewError(parser.Position{}, parser.ErrorSection,
			"data sections overflow into the .bss address range")
	}
	if bss != nil {
		bss.Base = parser.BssBase
	}

	// Absolute addresses: base + section offset
	for _, sym := range a.symbols.All() {
		if !sym.Defined || sym.Type != parser.SymbolLabel {
			continue
		}
		sec := a.prog.Section(sym.Section)
		if sec == nil {
			continue
		}
		sym.Value = sec.Base + sym.Offset
		sym.Resolved = true
	}

	// Aliased equ constants take the address of their target
	for name, target := range a.aliases {
		sym, _ := a.symbols.Lookup(name)
		tgt, ok := a.symbols.Lookup(target)
		if !ok || !tgt.Defined {
			a.addError(sym.Pos, parser.ErrorUndefinedLabel,
				fmt.Sprintf("equ references undefined symbol %q", target))
			continue
		}
		sym.Value = tgt.Value
		sym.Resolved = true
	}

	// The entry point must be a global label in .text
	start, ok := a.symbols.Lookup("_start")
	if !ok || !start.Defined {
		return 0, parser.NewError(parser.Position{}, parser.ErrorMissingEntryPoint,
			"entry point _start is not defined")
	}
	if start.Section != ".text" {
		return 0, parser.NewError(start.Pos, parser.ErrorMissingEntryPoint,
			fmt.Sprintf("entry point _start must be defined in .text, not %s", start.Section))
	}
	if !start.Global {
		return 0, parser.NewError(start.Pos, parser.ErrorMissingEntryPoint,
			"entry point _start must be declared global")
	}
	return start.Value, nil
}

// emitPass encodes every instruction with resolved
// addresses and materialise the section payloads. A shorter-than-sized
// encoding is padded with single-byte NOPs so every address computed
// during sizing stays valid.
func (a *Assembler) emitPass() error {
	cursors := make(map[string]uint64)

	for _, stmt := range a.prog.Statements {
		sec := a.prog.Section(stmt.Section)
		if err := a.emitStatement(stmt, sec, cursors); err != nil {
			return err
		}
		if a.stopOnFirst && a.errors.HasErrors() {
			return nil
		}
	}

	// Size stability: the emitted payload must match the size pass
	if !a.errors.HasErrors() {
		for _, sec := range a.prog.Sections {
			if !sec.NoBits && uint64(len(sec.Data)) != sec.Size {
				return parser.NewError(parser.Position{}, parser.ErrorInternal,
					fmt.Sprintf("section %s: emitted %d bytes, sized %d", sec.Name, len(sec.Data), sec.Size))
			}
		}
	}
	return nil
}

func (a *Assembler) emitStatement(stmt *parser.Statement, sec *parser.Section, cursors map[string]uint64) error {
	switch stmt.Kind {
	case parser.StmtData:
		sec.Data = append(sec.Data, a.materializeData(stmt)...)
		cursors[sec.Name] += dataSize(stmt)

	case parser.StmtReserve:
		count, ok := a.resolveCount(stmt)
		if !ok {
			return nil
		}
		size := uint64(count) * uint64(stmt.Unit)
		if !sec.NoBits {
			sec.Data = append(sec.Data, make([]byte, size)...)
		}
		cursors[sec.Name] += size

	case parser.StmtTimes:
		for i := int64(0); i < stmt.Count; i++ {
			if err := a.emitStatement(stmt.Inner, sec, cursors); err != nil {
				return err
			}
		}

	case parser.StmtInstruction:
		inst := stmt.Inst
		if inst.Size < 0 {
			return nil // sizing already failed with a diagnostic
		}
		inst.Address = sec.Base + cursors[sec.Name]
		bytes, err := a.enc.EncodeInstruction(inst, inst.Address)
		if err != nil {
			a.collect(err)
			// keep layout intact for the remaining instructions
			bytes = nil
		}
		if len(bytes) > inst.Size {
			return parser.NewError(inst.Pos, parser.ErrorInternal,
				fmt.Sprintf("encoding grew from %d to %d bytes", inst.Size, len(bytes)))
		}
		for len(bytes) < inst.Size {
			bytes = append(bytes, nopByte)
		}
		inst.Encoded = bytes
		sec.Data = append(sec.Data, bytes...)
		cursors[sec.Name] += uint64(inst.Size)
	}
	return nil
}

// materializeData produces the byte image of a data directive with all
// label addresses resolved. Values that do not fit their unit are
// truncated with a warning.
func (a *Assembler) materializeData(stmt *parser.Statement) []byte {
	out := make([]byte, 0, dataSize(stmt))

	for _, item := range stmt.Items {
		switch item.Kind {
		case parser.DataString:
			out = append(out, item.Bytes...)

		case parser.DataImm:
			if !fitsUnit(item.Value, stmt.Unit) {
				a.errors.AddWarning(&parser.Warning{
					Pos:     item.Pos,
					Message: fmt.Sprintf("value %d truncated to %d byte(s)", item.Value, stmt.Unit),
				})
			}
			out = appendUnit(out, uint64(item.Value), stmt.Unit)

		case parser.DataLabel:
			value, err := a.symbols.Get(item.Sym)
			if err != nil {
				// already reported as UndefinedLabel
				value = 0
			}
			if stmt.Unit == 4 && value > math.MaxUint32 {
				a.addError(item.Pos, parser.ErrorInvalidOperandCombination,
					fmt.Sprintf("address of %q does not fit in dd", item.Sym))
			}
			out = appendUnit(out, value, stmt.Unit)
		}
	}
	return out
}

// appendUnit appends a little-endian value of the given unit size
func appendUnit(out []byte, value uint64, unit int) []byte {
	switch unit {
	case 1:
		return append(out, byte(value))
	case 2:
		var buf [2]byte
		binary.LittleEndian.PutUint16(buf[:], uint16(value))
		return append(out, buf[:]...)
	case 4:
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], uint32(value))
		return append(out, buf[:]...)
	default:
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], value)
		return append(out, buf[:]...)
	}
}

// fitsUnit reports whether a value fits the unit as signed or unsigned
func fitsUnit(value int64, unit int) bool {
	switch unit {
	case 1:
		return value >= math.MinInt8 && value <= math.MaxUint8
	case 2:
		return value >= math.MinInt16 && value <= math.MaxUint16
	case 4:
		return value >= math.MinInt32 && value <= math.MaxUint32
	default:
		return true
	}
}

func align8(v uint64) uint64 {
	return (v + 7) &^ 7
}

// collect converts an encoding error into a collected diagnostic
func (a *Assembler) collect(err error) {
	if encErr, ok := err.(*EncodingError); ok {
		a.errors.AddError(encErr.Diagnostic())
		return
	}
	a.errors.AddError(parser.NewError(parser.Position{}, parser.ErrorInternal, err.Error()))
}

func (a *Assembler) addError(pos parser.Position, kind parser.ErrorKind, msg string) {
	a.errors.AddError(parser.NewError(pos, kind, msg))
}
