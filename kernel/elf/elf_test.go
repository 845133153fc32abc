package elf

import (
	"encoding/binary"
	"testing"
)

// These tests exercise header/program-header decoding and the segment
// skip rules without touching loadSegment's page mapping: Load's PT_LOAD
// path dereferences PMM-sourced physical frames (same limitation as
// kernel/mem/paging, see its paging_test.go), so tests here
// use ELF images with no loadable segment.

type fakeSource struct {
	data []byte
}

func (f *fakeSource) ReadAt(dst []byte, offset int64) (int, error) {
	n := copy(dst, f.data[offset:])
	return n, nil
}

func buildHeader(entry, phoff uint32, phnum uint16) []byte {
	buf := make([]byte, ehsize)
	binary.LittleEndian.PutUint32(buf[0:4], magic)
	binary.LittleEndian.PutUint32(buf[24:28], entry)
	binary.LittleEndian.PutUint32(buf[28:32], phoff)
	binary.LittleEndian.PutUint16(buf[44:46], phnum)
	return buf
}

func buildProgramHeader(pType, vaddr, filesz, memsz uint32) []byte {
	buf := make([]byte, phsize)
	binary.LittleEndian.PutUint32(buf[0:4], pType)
	binary.LittleEndian.PutUint32(buf[8:12], vaddr)
	binary.LittleEndian.PutUint32(buf[16:20], filesz)
	binary.LittleEndian.PutUint32(buf[20:24], memsz)
	return buf
}

func TestLoadRejectsBadMagic(t *testing.T) {
	buf := buildHeader(0x1000, ehsize, 0)
	buf[0] = 0 // corrupt the magic
	src := &fakeSource{data: buf}

	if _, err := Load(src, nil); err == nil {
		t.Fatal("expected an error for a bad magic number")
	}
}

func TestLoadReturnsEntryWithNoLoadSegments(t *testing.T) {
	hdr := buildHeader(0xDEAD1000, ehsize, 2)
	phNote := buildProgramHeader(0x4 /* PT_NOTE */, 0, 0, 0)
	phEmptyLoad := buildProgramHeader(ptLoad, 0x400000, 0, 0) // memsz == 0: skipped
	data := append(append(hdr, phNote...), phEmptyLoad...)

	entry, err := Load(&fakeSource{data: data}, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if entry != 0xDEAD1000 {
		t.Fatalf("entry = %#x; want %#x", entry, 0xDEAD1000)
	}
}

func TestParseProgramHeaderFields(t *testing.T) {
	buf := buildProgramHeader(ptLoad, 0x8048000, 0x100, 0x200)
	binary.LittleEndian.PutUint32(buf[4:8], 0x40) // offset
	binary.LittleEndian.PutUint32(buf[24:28], pfWrite)

	ph := parseProgramHeader(buf)
	if ph.pType != ptLoad || ph.vaddr != 0x8048000 || ph.offset != 0x40 ||
		ph.filesz != 0x100 || ph.memsz != 0x200 || ph.flags != pfWrite {
		t.Fatalf("parseProgramHeader = %+v; fields mismatch", ph)
	}
}
