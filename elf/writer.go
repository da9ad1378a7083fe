// Package elf emits statically linked ELF64 executables for x86-64
// Linux from an assembled image.
package elf

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/skubed0007/nasembler/encoder"
	"github.com/skubed0007/nasembler/parser"
)

const (
	headerSize     = 64
	progHeaderSize = 56
	pageSize       = 0x1000

	elfTypeExec    = 2
	machineX86_64  = 0x3E
	progTypeLoad   = 1
	flagsReadExec  = 5 // R+X
	flagsReadWrite = 6 // R+W
)

// elf64Header mirrors Elf64_Ehdr
type elf64Header struct {
	Ident     [16]byte
	Type      uint16
	Machine   uint16
	Version   uint32
	Entry     uint64
	Phoff     uint64
	Shoff     uint64
	Flags     uint32
	Ehsize    uint16
	Phentsize uint16
	Phnum     uint16
	Shentsize uint16
	Shnum     uint16
	Shstrndx  uint16
}

// elf64ProgHeader mirrors Elf64_Phdr
type elf64ProgHeader struct {
	Type   uint32
	Flags  uint32
	Offset uint64
	Vaddr  uint64
	Paddr  uint64
	Filesz uint64
	Memsz  uint64
	Align  uint64
}

// Writer emits one assembled image as an ELF64 ET_EXEC file with two
// PT_LOAD segments: text (R+X) and data (R+W). The section-header
// table is omitted; the kernel loader only reads program headers.
type Writer struct {
	img *encoder.Image
}

// NewWriter creates a writer for an assembled image
func NewWriter(img *encoder.Image) *Writer {
	return &Writer{img: img}
}

// segmentLayout computes the file layout. The file offset of each
// segment must be congruent to its virtual address modulo the page
// size; both 0x400000 and 0x600000 are page-aligned, so page-aligned
// offsets satisfy that.
type segmentLayout struct {
	textOffset uint64
	textBytes  []byte
	dataOffset uint64
	dataBytes  []byte
	dataMemsz  uint64
}

func (w *Writer) layout() segmentLayout {
	var lay segmentLayout

	if text := w.img.Section(".text"); text != nil {
		lay.textBytes = text.Data
	}
	lay.textOffset = pageAlign(headerSize + 2*progHeaderSize)

	// The data segment image covers .data and .rodata at their
	// virtual offsets from the segment base.
	data := w.img.Section(".data")
	rodata := w.img.Section(".rodata")
	end := uint64(0)
	if data != nil {
		end = (data.Base - parser.DataBase) + uint64(len(data.Data))
	}
	if rodata != nil {
		roEnd := (rodata.Base - parser.DataBase) + uint64(len(rodata.Data))
		if roEnd > end {
			end = roEnd
		}
	}
	if end > 0 {
		lay.dataBytes = make([]byte, end)
		if data != nil {
			copy(lay.dataBytes[data.Base-parser.DataBase:], data.Data)
		}
		if rodata != nil {
			copy(lay.dataBytes[rodata.Base-parser.DataBase:], rodata.Data)
		}
	}
	lay.dataOffset = pageAlign(lay.textOffset + uint64(len(lay.textBytes)))

	// .bss lives in the zero-filled tail of the data segment, past
	// p_filesz; p_memsz stretches across the gap up to its end.
	lay.dataMemsz = uint64(len(lay.dataBytes))
	if bss := w.img.Section(".bss"); bss != nil && bss.Size > 0 {
		lay.dataMemsz = (parser.BssBase - parser.DataBase) + bss.Size
	}

	return lay
}

// WriteTo emits the complete ELF image
func (w *Writer) WriteTo(out io.Writer) (int64, error) {
	lay := w.layout()
	buf := &bytes.Buffer{}

	hdr := elf64Header{
		Type:      elfTypeExec,
		Machine:   machineX86_64,
		Version:   1,
		Entry:     w.img.Entry,
		Phoff:     headerSize,
		Ehsize:    headerSize,
		Phentsize: progHeaderSize,
		Phnum:     2,
	}
	// \x7fELF, 64-bit, little-endian, version 1, System V ABI
	copy(hdr.Ident[:], []byte{0x7F, 'E', 'L', 'F', 2, 1, 1, 0})

	if err := binary.Write(buf, binary.LittleEndian, &hdr); err != nil {
		return 0, err
	}

	textHdr := elf64ProgHeader{
		Type:   progTypeLoad,
		Flags:  flagsReadExec,
		Offset: lay.textOffset,
		Vaddr:  parser.TextBase,
		Paddr:  parser.TextBase,
		Filesz: uint64(len(lay.textBytes)),
		Memsz:  uint64(len(lay.textBytes)),
		Align:  pageSize,
	}
	dataHdr := elf64ProgHeader{
		Type:   progTypeLoad,
		Flags:  flagsReadWrite,
		Offset: lay.dataOffset,
		Vaddr:  parser.DataBase,
		Paddr:  parser.DataBase,
		Filesz: uint64(len(lay.dataBytes)),
		Memsz:  lay.dataMemsz,
		Align:  pageSize,
	}
	if err := binary.Write(buf, binary.LittleEndian, &textHdr); err != nil {
		return 0, err
	}
	if err := binary.Write(buf, binary.LittleEndian, &dataHdr); err != nil {
		return 0, err
	}

	pad(buf, lay.textOffset)
	buf.Write(lay.textBytes)
	pad(buf, lay.dataOffset)
	buf.Write(lay.dataBytes)

	n, err := out.Write(buf.Bytes())
	return int64(n), err
}

// WriteFile writes the ELF image to a file. mode should include the
// execute bits when the output is meant to be run directly.
func (w *Writer) WriteFile(path string, mode os.FileMode) error {
	f, err := os.Create(path) // #nosec G304 -- user-chosen output path
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}

	if _, werr := w.WriteTo(f); werr != nil {
		f.Close()
		return fmt.Errorf("failed to write output file: %w", werr)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close output file: %w", err)
	}

	if err := os.Chmod(path, mode); err != nil {
		return fmt.Errorf("failed to set output file mode: %w", err)
	}
	return nil
}

// pad extends the buffer with zero bytes up to the target offset
func pad(buf *bytes.Buffer, target uint64) {
	for uint64(buf.Len()) < target {
		buf.WriteByte(0)
	}
}

// pageAlign rounds up to the next page boundary
func pageAlign(v uint64) uint64 {
	return (v + pageSize - 1) &^ uint64(pageSize-1)
}
