// Package gdt builds the kernel's Global Descriptor Table and Task State
// Segment. The layout is fixed at compile time: one flat code+data segment
// pair per privilege level plus a single TSS used only to hold the ring-0
// stack pointer for privilege-level transitions (this kernel never performs
// a hardware task switch through the TSS).
//
// Grounded on original_source/inc/kernel/gdt.h's segment_descriptor and
// tss_struct bit layouts, ported to Go's bitfield-free struct+method style
// the way the teacher's kernel/mem/vmm package encodes page-table entry
// flags as typed constants rather than C bitfields, and reaches raw
// physical addresses via unsafe.Pointer the same way kernel/mem/vmm/pdt.go
// does.
package gdt

import (
	"unsafe"

	"github.com/ThousandPine/FiRSTSTEP/kernel/cpu"
)

// GDT slot indices, matching original_source/inc/kernel/gdt.h.
const (
	NullIndex       = 0
	KernelCodeIndex = 1
	KernelDataIndex = 2
	UserCodeIndex   = 3
	UserDataIndex   = 4
	TSSIndex        = 5

	entryCount = 6
)

// Selector values for the segments above, with RPL bits already applied
// where the segment is only ever loaded at that exact privilege level.
const (
	KernelCodeSelector uint16 = KernelCodeIndex << 3
	KernelDataSelector uint16 = KernelDataIndex << 3
	UserCodeSelector   uint16 = UserCodeIndex<<3 | 3
	UserDataSelector   uint16 = UserDataIndex<<3 | 3
	TSSSelector        uint16 = TSSIndex << 3
)

// Segment descriptor "type" nibbles, from gdt.h's DA_* constants.
const (
	typeDataRW = 0b0010
	typeCodeRX = 0b1010
	typeTSS32  = 0b1001 // 32-bit TSS (available), not busy
)

// descriptor is one packed 8-byte GDT entry in wire order.
type descriptor struct {
	limitLow  uint16
	baseLow   uint16
	baseMid   uint8
	access    uint8
	limitHigh uint8 // low nibble: limit bits 16-19; high nibble: flags
	baseHigh  uint8
}

func newFlatDescriptor(dpl uint8, typ uint8) descriptor {
	const limit = 0xFFFFF // 4 GiB expressed in 4 KiB units

	access := 1<<7 | (dpl&0x3)<<5 | 1<<4 | (typ & 0xF)
	flags := uint8(1<<3 | 1<<2) // 4 KiB granularity, 32-bit operand size

	return descriptor{
		limitLow:  uint16(limit & 0xFFFF),
		access:    access,
		limitHigh: flags<<4 | uint8((limit>>16)&0xF),
	}
}

func newSystemDescriptor(base uintptr, limit uint32, dpl uint8, typ uint8) descriptor {
	access := 1<<7 | (dpl&0x3)<<5 | (typ & 0xF)

	return descriptor{
		limitLow:  uint16(limit & 0xFFFF),
		baseLow:   uint16(base & 0xFFFF),
		baseMid:   uint8((base >> 16) & 0xFF),
		access:    access,
		limitHigh: uint8((limit >> 16) & 0xF),
		baseHigh:  uint8((base >> 24) & 0xFF),
	}
}

// tss mirrors tss_struct from original_source/inc/kernel/gdt.h. Only esp0/ss0
// (the ring-0 stack loaded on every interrupt/syscall entry from ring 3) and
// ioMapBase (set past the segment limit so there is no I/O permission
// bitmap) are meaningfully used; the rest exists because the CPU reads this
// structure as a fixed-size record when LTR/hardware task state is touched.
type tss struct {
	prevTask    uint32
	esp0        uint32
	ss0         uint16
	reserved0   uint16
	esp1        uint32
	ss1         uint16
	reserved1   uint16
	esp2        uint32
	ss2         uint16
	reserved2   uint16
	cr3         uint32
	eip         uint32
	eflags      uint32
	eax, ecx    uint32
	edx, ebx    uint32
	esp, ebp    uint32
	esi, edi    uint32
	es          uint16
	reserved3   uint16
	cs          uint16
	reserved4   uint16
	ss          uint16
	reserved5   uint16
	ds          uint16
	reserved6   uint16
	fs          uint16
	reserved7   uint16
	gs          uint16
	reserved8   uint16
	ldtSelector uint16
	reserved9   uint16
	debugFlag   uint16
	ioMapBase   uint16
}

const sizeofTSS = unsafe.Sizeof(tss{})

type descriptorTableRegister struct {
	size   uint16
	offset uint32
}

var (
	table        [entryCount]descriptor
	gdtRegister  descriptorTableRegister
	tssImage     tss

	loadGDTFn = cpu.LoadGDT
	loadTRFn  = cpu.LoadTR
)

// Init builds the GDT and TSS, loads GDTR and the task register, and
// reloads the segment registers to the new kernel selectors.
// kernelStackTop is the initial ring-0 stack pointer installed into the
// TSS; SetKernelStack updates it on every later context switch.
func Init(kernelStackTop uintptr) {
	table[NullIndex] = descriptor{}
	table[KernelCodeIndex] = newFlatDescriptor(0, typeCodeRX)
	table[KernelDataIndex] = newFlatDescriptor(0, typeDataRW)
	table[UserCodeIndex] = newFlatDescriptor(3, typeCodeRX)
	table[UserDataIndex] = newFlatDescriptor(3, typeDataRW)

	tssImage = tss{
		ss0:       KernelDataSelector,
		esp0:      uint32(kernelStackTop),
		ioMapBase: uint16(sizeofTSS),
	}
	tssAddr := uintptr(unsafe.Pointer(&tssImage))
	table[TSSIndex] = newSystemDescriptor(tssAddr, uint32(sizeofTSS-1), 0, typeTSS32)

	gdtRegister = descriptorTableRegister{
		size:   uint16(len(table)*int(unsafe.Sizeof(descriptor{})) - 1),
		offset: uint32(uintptr(unsafe.Pointer(&table[0]))),
	}

	loadGDTFn(uintptr(unsafe.Pointer(&gdtRegister)), KernelCodeSelector, KernelDataSelector)
	loadTRFn(TSSSelector)
}

// SetKernelStack updates the ring-0 stack pointer the CPU loads on the next
// privilege-level transition into the kernel (interrupt, exception, or
// int 0x80 from ring 3). The scheduler calls this on every context switch.
func SetKernelStack(esp0 uintptr) {
	tssImage.esp0 = uint32(esp0)
}
