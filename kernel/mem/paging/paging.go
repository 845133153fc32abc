// Package paging builds and maintains x86 32-bit page directories: the
// single kernel page directory that identity-maps all of RAM, and one user
// page directory per task that shares the kernel's lower entries (and so
// the kernel's page tables) by copying those PD entries.
//
// Grounded on the teacher's kernel/mem/vmm package (pdt.go's
// present/walk/map style, page.go's PDE/PTE flag constants) generalized
// from its 4-level recursively-mapped amd64 scheme down to the flat 2-level
// i386 layout original_source/inc/kernel/page.h and pagemgr.h describe:
// a fixed-size kernel identity map plus a "kernel_area_pd_end_index"
// boundary, no recursive mapping trick, and copy_address_space performing
// an eager deep copy rather than a future copy-on-write scheme.
package paging

import (
	"unsafe"

	"github.com/ThousandPine/FiRSTSTEP/kernel"
	"github.com/ThousandPine/FiRSTSTEP/kernel/cpu"
	"github.com/ThousandPine/FiRSTSTEP/kernel/mem/pmm"
)

const (
	entriesPerTable = 1024
	pageSize        = pmm.PageSize

	// PDE/PTE flag bits, matching the standard x86 format.
	flagPresent = 1 << 0
	flagRW      = 1 << 1
	flagUser    = 1 << 2
)

// entry is one page-directory or page-table entry: a 20-bit frame number in
// the high bits plus the standard flag bits in the low 12.
type entry uint32

func makeEntry(frame uintptr, flags uint32) entry {
	return entry(uint32(frame)&0xFFFFF000 | flags&0xFFF)
}

func (e entry) present() bool  { return e&flagPresent != 0 }
func (e entry) frame() uintptr { return uintptr(e) & 0xFFFFF000 }

// PageDirectory is a 4 KiB, 4 KiB-aligned array of 1024 PDEs. The kernel's
// instance lives at a fixed static address; user instances are allocated
// from the PMM.
type PageDirectory [entriesPerTable]entry

// pageTable is a 4 KiB, 4 KiB-aligned array of 1024 PTEs.
type pageTable [entriesPerTable]entry

// kernelPD is the single statically allocated kernel page directory. Its
// entries below kernelAreaPDEndIndex are copied into every user page
// directory, so the page tables they point at are shared by all address
// spaces.
var kernelPD PageDirectory

// kernelAreaPDEndIndex is the first PD slot not covered by the kernel's
// identity map; every user mapping must land at or above this index.
var kernelAreaPDEndIndex int

var (
	readCR3Fn     = cpu.ReadCR3
	writeCR3Fn    = cpu.WriteCR3
	enablePagingFn = cpu.EnablePaging
)

func tableAt(frame uintptr) *pageTable {
	return (*pageTable)(unsafe.Pointer(frame))
}

// KernelPageInit builds the kernel page directory and page tables, identity
// mapping every physical byte in [0, ramBytes) with us=0, rw=1. Page table
// frames for the identity map are allocated from the PMM, which must
// already be initialized with free memory above the kernel image.
func KernelPageInit(ramBytes uint64) {
	frameCount := uint32((ramBytes + pageSize - 1) / pageSize)
	tableCount := int((frameCount + entriesPerTable - 1) / entriesPerTable)

	for pdIdx := 0; pdIdx < tableCount; pdIdx++ {
		ptFrame := pmm.Global.AllocFrame()
		pt := tableAt(ptFrame)

		for i := 0; i < entriesPerTable; i++ {
			frameNum := uint32(pdIdx*entriesPerTable + i)
			if frameNum >= frameCount {
				pt[i] = 0
				continue
			}
			phys := uintptr(frameNum) * pageSize
			pt[i] = makeEntry(phys, flagPresent|flagRW)
		}

		kernelPD[pdIdx] = makeEntry(ptFrame, flagPresent|flagRW)
	}

	kernelAreaPDEndIndex = tableCount
}

// KernelAreaPDEndIndex returns the first PD slot a user mapping may use.
func KernelAreaPDEndIndex() int { return kernelAreaPDEndIndex }

// KernelPDPhysAddr returns the physical address of the kernel page
// directory, for installing into a fresh TSS/CR3 before the very first
// task runs.
func KernelPDPhysAddr() uintptr {
	return uintptr(unsafe.Pointer(&kernelPD))
}

// PageEnable loads the kernel PD into CR3 and sets CR0.PG.
func PageEnable() {
	writeCR3Fn(KernelPDPhysAddr())
	enablePagingFn()
}

// CreateUserPageDir allocates one frame via the PMM, zeroes it, and copies
// the kernel's PD entries below kernelAreaPDEndIndex into it, so the
// returned directory shares the kernel half by reference.
func CreateUserPageDir() *PageDirectory {
	frame := pmm.Global.AllocFrame()
	pd := (*PageDirectory)(unsafe.Pointer(frame))
	*pd = PageDirectory{}

	for i := 0; i < kernelAreaPDEndIndex; i++ {
		pd[i] = kernelPD[i]
	}
	return pd
}

// DestroyUserPageDir frees every page table and data frame referenced by
// the user half of pd (but never touches the shared kernel half), then
// frees the PD frame itself.
func DestroyUserPageDir(pd *PageDirectory) {
	for i := kernelAreaPDEndIndex; i < entriesPerTable; i++ {
		if !pd[i].present() {
			continue
		}
		pt := tableAt(pd[i].frame())
		for j := 0; j < entriesPerTable; j++ {
			if pt[j].present() {
				pmm.Global.FreeFrame(pt[j].frame())
			}
		}
		pmm.Global.FreeFrame(pd[i].frame())
	}
	pmm.Global.FreeFrame(uintptr(unsafe.Pointer(pd)))
}

// MapPhysicalPage finds the first unmapped linear address in the user half
// of pd, allocating a page table frame on demand, and binds it to phys. It
// panics if the user half is completely full.
func MapPhysicalPage(pd *PageDirectory, phys uintptr, us, rw bool) uintptr {
	for pdIdx := kernelAreaPDEndIndex; pdIdx < entriesPerTable; pdIdx++ {
		var pt *pageTable
		if pd[pdIdx].present() {
			pt = tableAt(pd[pdIdx].frame())
		} else {
			ptFrame := pmm.Global.AllocFrame()
			pt = tableAt(ptFrame)
			*pt = pageTable{}
			pd[pdIdx] = makeEntry(ptFrame, flagPresent|flagRW)
		}

		for ptIdx := 0; ptIdx < entriesPerTable; ptIdx++ {
			if pt[ptIdx].present() {
				continue
			}
			pt[ptIdx] = makeEntry(phys, pteFlags(us, rw))
			return linearAddr(pdIdx, ptIdx)
		}
	}

	panicFn(&kernel.Error{Module: "paging", Message: "user address space exhausted"})
	return 0
}

// MapPhysicalPageToLinear binds phys at the caller-chosen linear address.
// It fails (returns false) if linear falls in the kernel area or is
// already mapped; an existing mapping is never overwritten.
func MapPhysicalPageToLinear(pd *PageDirectory, phys, linear uintptr, us, rw bool) bool {
	pdIdx, ptIdx := indexOf(linear)
	if pdIdx < kernelAreaPDEndIndex {
		return false
	}

	var pt *pageTable
	if pd[pdIdx].present() {
		pt = tableAt(pd[pdIdx].frame())
	} else {
		ptFrame := pmm.Global.AllocFrame()
		pt = tableAt(ptFrame)
		*pt = pageTable{}
		pd[pdIdx] = makeEntry(ptFrame, flagPresent|flagRW)
	}

	if pt[ptIdx].present() {
		return false
	}

	pt[ptIdx] = makeEntry(phys, pteFlags(us, rw))
	return true
}

// CopyAddressSpace deep-copies every present entry in src's user half into
// dst: a new page table per present PDE, a new data frame per present PTE,
// with the 4 KiB of data copied and flags replicated. Both PDs must be
// reachable by identity address, i.e. this must run with the kernel PD
// installed (CR3 = KernelPDPhysAddr()). Returns false (without mutating
// dst further) if the PMM runs out of frames partway through, so the
// caller can roll back the partially built copy.
func CopyAddressSpace(dst, src *PageDirectory) bool {
	for pdIdx := kernelAreaPDEndIndex; pdIdx < entriesPerTable; pdIdx++ {
		if !src[pdIdx].present() {
			continue
		}
		srcPT := tableAt(src[pdIdx].frame())

		dstPTFrame, ok := pmm.Global.TryAllocFrame()
		if !ok {
			return false
		}
		dstPT := tableAt(dstPTFrame)
		*dstPT = pageTable{}
		dst[pdIdx] = makeEntry(dstPTFrame, uint32(src[pdIdx])&0xFFF)

		for ptIdx := 0; ptIdx < entriesPerTable; ptIdx++ {
			if !srcPT[ptIdx].present() {
				continue
			}
			dataFrame, ok := pmm.Global.TryAllocFrame()
			if !ok {
				return false
			}
			copyFrame(dataFrame, srcPT[ptIdx].frame())
			dstPT[ptIdx] = makeEntry(dataFrame, uint32(srcPT[ptIdx])&0xFFF)
		}
	}
	return true
}

// SwitchAddressSpace writes pd's physical address to CR3.
func SwitchAddressSpace(pd *PageDirectory) {
	writeCR3Fn(uintptr(unsafe.Pointer(pd)))
}

func pteFlags(us, rw bool) uint32 {
	flags := uint32(flagPresent)
	if us {
		flags |= flagUser
	}
	if rw {
		flags |= flagRW
	}
	return flags
}

func indexOf(linear uintptr) (pdIdx, ptIdx int) {
	return int((linear >> 22) & 0x3FF), int((linear >> 12) & 0x3FF)
}

func linearAddr(pdIdx, ptIdx int) uintptr {
	return uintptr(pdIdx)<<22 | uintptr(ptIdx)<<12
}

func copyFrame(dst, src uintptr) {
	dstBuf := (*[pageSize]byte)(unsafe.Pointer(dst))
	srcBuf := (*[pageSize]byte)(unsafe.Pointer(src))
	*dstBuf = *srcBuf
}

// panicFn indirects through kernel.Panic so tests can observe the failure
// path without tripping the real CPU halt loop.
var panicFn = kernel.Panic
