package elf_test

import (
	"bytes"
	debugelf "debug/elf"
	"encoding/binary"
	"testing"

	"github.com/skubed0007/nasembler/elf"
	"github.com/skubed0007/nasembler/encoder"
	"github.com/skubed0007/nasembler/parser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helloWorld = `section .data
msg db 'Hello, World!', 0

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

func buildImage(t *testing.T, src string) *encoder.Image {
	t.Helper()
	p := parser.NewParser(src, "test.asm")
	prog, diags := p.Parse()
	require.False(t, diags.HasErrors(), "parse diagnostics: %s", diags.Error())

	asm := encoder.NewAssembler(prog)
	img, fatal := asm.Assemble()
	require.NoError(t, fatal)
	require.False(t, asm.Errors().HasErrors(), "diagnostics: %s", asm.Errors().Error())
	return img
}

func writeImage(t *testing.T, img *encoder.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	_, err := elf.NewWriter(img).WriteTo(&buf)
	require.NoError(t, err)
	return buf.Bytes()
}

func TestWriter_HeaderFields(t *testing.T) {
	raw := writeImage(t, buildImage(t, helloWorld))

	// e_ident: magic, 64-bit class, little-endian, version, zero padding
	require.True(t, len(raw) > 64)
	assert.Equal(t, []byte{0x7F, 'E', 'L', 'F', 2, 1, 1, 0}, raw[:8])
	assert.Equal(t, make([]byte, 8), raw[8:16])

	assert.Equal(t, uint16(2), binary.LittleEndian.Uint16(raw[16:18]))    // e_type=EXEC
	assert.Equal(t, uint16(0x3E), binary.LittleEndian.Uint16(raw[18:20])) // e_machine
	assert.Equal(t, uint32(1), binary.LittleEndian.Uint32(raw[20:24]))    // e_version
	assert.Equal(t, uint64(0x400000), binary.LittleEndian.Uint64(raw[24:32]))
	assert.Equal(t, uint64(64), binary.LittleEndian.Uint64(raw[32:40])) // e_phoff
	assert.Equal(t, uint64(0), binary.LittleEndian.Uint64(raw[40:48]))  // e_shoff
	assert.Equal(t, uint16(64), binary.LittleEndian.Uint16(raw[52:54])) // e_ehsize
	assert.Equal(t, uint16(56), binary.LittleEndian.Uint16(raw[54:56])) // e_phentsize
	assert.Equal(t, uint16(2), binary.LittleEndian.Uint16(raw[56:58]))  // e_phnum
	assert.Equal(t, uint16(0), binary.LittleEndian.Uint16(raw[58:60]))  // e_shentsize
	assert.Equal(t, uint16(0), binary.LittleEndian.Uint16(raw[60:62]))  // e_shnum
}

func TestWriter_ParsesWithDebugElf(t *testing.T) {
	img := buildImage(t, helloWorld)
	raw := writeImage(t, img)

	f, err := debugelf.NewFile(bytes.NewReader(raw))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, debugelf.ET_EXEC, f.Type)
	assert.Equal(t, debugelf.EM_X86_64, f.Machine)
	assert.Equal(t, debugelf.ELFCLASS64, f.Class)
	assert.Equal(t, debugelf.ELFDATA2LSB, f.Data)
	assert.Equal(t, uint64(0x400000), f.Entry)

	require.Len(t, f.Progs, 2)
	text, data := f.Progs[0], f.Progs[1]

	assert.Equal(t, debugelf.PT_LOAD, text.Type)
	assert.Equal(t, debugelf.PF_R|debugelf.PF_X, text.Flags)
	assert.Equal(t, uint64(0x400000), text.Vaddr)
	assert.Equal(t, uint64(0x1000), text.Align)
	assert.Equal(t, uint64(0), text.Off%0x1000)
	assert.Equal(t, text.Vaddr%0x1000, text.Off%0x1000)

	assert.Equal(t, debugelf.PT_LOAD, data.Type)
	assert.Equal(t, debugelf.PF_R|debugelf.PF_W, data.Flags)
	assert.Equal(t, uint64(0x600000), data.Vaddr)
	assert.Equal(t, data.Vaddr%0x1000, data.Off%0x1000)
	assert.Equal(t, uint64(14), data.Filesz)
}

func TestWriter_SegmentPayloads(t *testing.T) {
	img := buildImage(t, helloWorld)
	raw := writeImage(t, img)

	f, err := debugelf.NewFile(bytes.NewReader(raw))
	require.NoError(t, err)
	defer f.Close()

	text := img.Section(".text")
	off := f.Progs[0].Off
	assert.Equal(t, text.Data, raw[off:off+uint64(len(text.Data))])

	dataOff := f.Progs[1].Off
	assert.Equal(t, append([]byte("Hello, World!"), 0), raw[dataOff:dataOff+14])
}

func TestWriter_BssMemorySize(t *testing.T) {
	img := buildImage(t, `section .data
x db 1

section .bss
buf resb 4096

section .text
global _start
_start:
    ret
`)
	raw := writeImage(t, img)

	f, err := debugelf.NewFile(bytes.NewReader(raw))
	require.NoError(t, err)
	defer f.Close()

	data := f.Progs[1]
	// p_filesz covers only initialized data; p_memsz stretches over the
	// zero-filled gap so .bss at 0x800000 is inside the segment
	assert.Equal(t, uint64(1), data.Filesz)
	assert.Equal(t, uint64(0x800000-0x600000+4096), data.Memsz)
	assert.Equal(t, uint64(0x600000), data.Vaddr)
}

func TestWriter_NoDataSections(t *testing.T) {
	img := buildImage(t, `global _start
_start:
    mov rax, 60
    xor rdi, rdi
    syscall
`)
	raw := writeImage(t, img)

	f, err := debugelf.NewFile(bytes.NewReader(raw))
	require.NoError(t, err)
	defer f.Close()

	require.Len(t, f.Progs, 2)
	assert.Equal(t, uint64(0), f.Progs[1].Filesz)
	assert.Equal(t, uint64(0), f.Progs[1].Memsz)
}

func TestWriter_Deterministic(t *testing.T) {
	one := writeImage(t, buildImage(t, helloWorld))
	two := writeImage(t, buildImage(t, helloWorld))
	assert.Equal(t, one, two)
}

func TestWriter_WriteFile(t *testing.T) {
	img := buildImage(t, helloWorld)
	path := t.TempDir() + "/out"

	require.NoError(t, elf.NewWriter(img).WriteFile(path, 0755))

	f, err := debugelf.Open(path)
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, uint64(0x400000), f.Entry)
}
