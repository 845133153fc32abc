// Package elf parses 32-bit ELF executables and loads their PT_LOAD
// segments into a freshly created user address space.
//
// Grounded on original_source/inc/kernel/elf.h's elf_header/program_header
// wire layout and kernel/elf.c's load loop (magic check, walk program
// headers, map+copy+zero-fill each PT_LOAD segment), ported from direct
// struct-cast reads to encoding/binary field decoding, and from the
// original's single mmu_map_current() call per segment to this kernel's
// page-granular paging.MapPhysicalPageToLinear, since this rewrite has no
// single "map a contiguous VA range" primitive.
package elf

import (
	"encoding/binary"
	"unsafe"

	"github.com/ThousandPine/FiRSTSTEP/kernel"
	"github.com/ThousandPine/FiRSTSTEP/kernel/mem/paging"
	"github.com/ThousandPine/FiRSTSTEP/kernel/mem/pmm"
)

const (
	magic = 0x464C457F // little-endian "\x7FELF"

	ehsize = 52 // sizeof(elf_header) for the 32-bit format
	phsize = 32 // sizeof(program_header)

	ptLoad = 1

	pageSize = pmm.PageSize
)

// source is the minimal file interface Load needs; kernel/fs/fat16.File
// satisfies it without this package importing fat16 directly, avoiding an
// import-cycle risk if a future filesystem backend needs to load ELF
// binaries of its own.
type source interface {
	ReadAt(dst []byte, offset int64) (int, error)
}

var allocFrameFn = pmm.Global.AllocFrame

// Load reads f's ELF header and program header table, maps and populates
// every PT_LOAD segment with nonzero memsz into pd (zero-filling the
// [filesz, memsz) tail per segment), and returns the entry point.
func Load(f source, pd *paging.PageDirectory) (entry uintptr, err error) {
	hdr := make([]byte, ehsize)
	if _, err := f.ReadAt(hdr, 0); err != nil {
		return 0, err
	}

	if binary.LittleEndian.Uint32(hdr[0:4]) != magic {
		return 0, &kernel.Error{Module: "elf", Message: "bad magic"}
	}

	e := elfHeader{
		entry: binary.LittleEndian.Uint32(hdr[24:28]),
		phoff: binary.LittleEndian.Uint32(hdr[28:32]),
		phnum: binary.LittleEndian.Uint16(hdr[44:46]),
	}

	for i := uint16(0); i < e.phnum; i++ {
		phBuf := make([]byte, phsize)
		if _, err := f.ReadAt(phBuf, int64(e.phoff)+int64(i)*phsize); err != nil {
			return 0, err
		}
		ph := parseProgramHeader(phBuf)
		if ph.pType != ptLoad || ph.memsz == 0 {
			continue
		}
		if err := loadSegment(f, pd, ph); err != nil {
			return 0, err
		}
	}

	return uintptr(e.entry), nil
}

type elfHeader struct {
	entry uint32
	phoff uint32
	phnum uint16
}

type programHeader struct {
	pType  uint32
	offset uint32
	vaddr  uint32
	filesz uint32
	memsz  uint32
	flags  uint32
}

func parseProgramHeader(buf []byte) programHeader {
	return programHeader{
		pType:  binary.LittleEndian.Uint32(buf[0:4]),
		offset: binary.LittleEndian.Uint32(buf[4:8]),
		vaddr:  binary.LittleEndian.Uint32(buf[8:12]),
		filesz: binary.LittleEndian.Uint32(buf[16:20]),
		memsz:  binary.LittleEndian.Uint32(buf[20:24]),
		flags:  binary.LittleEndian.Uint32(buf[24:28]),
	}
}

const (
	pfWrite = 0x2
)

// loadSegment maps one page per memsz-rounded page of the segment, reading
// filesz bytes from the file into the mapped frames (via the kernel's
// identity-mapped view of physical memory, the same idiom
// paging.copyFrame relies on) and leaving the [filesz, memsz) tail zeroed,
// since a freshly allocated frame is not guaranteed to start zeroed.
func loadSegment(f source, pd *paging.PageDirectory, ph programHeader) error {
	startPage := uintptr(ph.vaddr) &^ (pageSize - 1)
	endPage := (uintptr(ph.vaddr) + uintptr(ph.memsz) + pageSize - 1) &^ (pageSize - 1)
	rw := ph.flags&pfWrite != 0

	fileEnd := int64(ph.offset) + int64(ph.filesz)
	segEnd := int64(ph.vaddr) + int64(ph.filesz)

	for linear := startPage; linear < endPage; linear += pageSize {
		frame := allocFrameFn()
		zeroFrame(frame)
		paging.MapPhysicalPageToLinear(pd, frame, linear, true, rw)

		pageFileStart := int64(linear)
		pageFileEnd := int64(linear) + pageSize
		if pageFileEnd > segEnd {
			pageFileEnd = segEnd
		}
		if pageFileStart >= pageFileEnd {
			continue
		}

		fileOff := int64(ph.offset) + (pageFileStart - int64(ph.vaddr))
		n := pageFileEnd - pageFileStart
		if fileOff+n > fileEnd {
			n = fileEnd - fileOff
		}
		if n <= 0 {
			continue
		}

		buf := make([]byte, n)
		if _, err := f.ReadAt(buf, fileOff); err != nil {
			return err
		}
		writeFrame(frame, uintptr(pageFileStart-int64(linear)), buf)
	}

	return nil
}

func zeroFrame(frame uintptr) {
	buf := (*[pageSize]byte)(unsafe.Pointer(frame))
	for i := range buf {
		buf[i] = 0
	}
}

func writeFrame(frame uintptr, offset uintptr, data []byte) {
	buf := (*[pageSize]byte)(unsafe.Pointer(frame))
	copy(buf[offset:], data)
}
