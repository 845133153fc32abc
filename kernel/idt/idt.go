// Package idt builds the 256-gate Interrupt Descriptor Table and routes
// every trap, IRQ and syscall gate to a registered Go handler.
//
// Grounded on original_source/inc/kernel/idt.h (GateDescriptor/IDTDescriptor
// wire layout) and original_source/inc/kernel/task.h (interrupt_frame field
// order), with the registration-table idiom lifted from the teacher's
// src/gopheros/kernel/gate package: HandleInterrupt/installIDT/
// dispatchInterrupt are all asm-backed or asm-adjacent there; here Init
// builds the table and Dispatch is the single Go entrypoint every
// generated per-vector stub calls into.
package idt

import (
	"unsafe"

	"github.com/ThousandPine/FiRSTSTEP/kernel"
	"github.com/ThousandPine/FiRSTSTEP/kernel/cpu"
	"github.com/ThousandPine/FiRSTSTEP/kernel/gdt"
	"github.com/ThousandPine/FiRSTSTEP/kernel/kfmt"
)

const entryCount = 256

// Gate numbers with fixed meaning in this kernel.
const (
	TimerVector    = 32
	SpuriousMaster = 39
	SpuriousSlave  = 47
	SyscallVector  = 0x80
)

const (
	gateTypeInterrupt = 0b1110
)

// Registers is the interrupt frame built by the common assembly preamble:
// the four manually pushed segment selectors, the eight PUSHA general
// registers, then the block the CPU itself pushes on entry. Field order
// here is address order (lowest first), matching
// original_source/inc/kernel/task.h's interrupt_frame exactly; the vector
// number and (dummy) error code the stub also pushes are consumed before
// this struct's address is handed to Dispatch, so they are not fields here.
type Registers struct {
	GS, FS, ES, DS uint32

	EDI, ESI, EBP, espDummy uint32
	EBX, EDX, ECX, EAX      uint32

	EIP, CS, EFlags uint32

	// UserESP/UserSS are only meaningful (and only pushed by the CPU) when
	// the interrupt crossed a privilege level, i.e. it interrupted ring 3.
	UserESP, UserSS uint32
}

// DumpTo writes a human-readable register dump, used by the default panic
// handlers installed for vectors 0-31.
func (r *Registers) DumpTo(w kfmt.Writer) {
	kfmt.Fprintf(w, "eax=%08x ebx=%08x ecx=%08x edx=%08x\n", r.EAX, r.EBX, r.ECX, r.EDX)
	kfmt.Fprintf(w, "esi=%08x edi=%08x ebp=%08x\n", r.ESI, r.EDI, r.EBP)
	kfmt.Fprintf(w, "eip=%08x cs=%04x eflags=%08x\n", r.EIP, r.CS, r.EFlags)
	kfmt.Fprintf(w, "ds=%04x es=%04x fs=%04x gs=%04x\n", r.DS, r.ES, r.FS, r.GS)
}

// Handler processes one interrupt/exception/syscall and may freely modify
// *regs; modifications are visible to the interrupted context once the
// common epilogue restores registers and executes IRET.
type Handler func(regs *Registers)

var handlers [entryCount]Handler

// gateDescriptor is one packed 8-byte IDT entry in wire order.
type gateDescriptor struct {
	offsetLow  uint16
	selector   uint16
	reserved   uint8
	typeAttr   uint8
	offsetHigh uint16
}

func newGate(handlerAddr uintptr, selector uint16, dpl uint8) gateDescriptor {
	typeAttr := uint8(1<<7 | (dpl&0x3)<<5 | gateTypeInterrupt)
	return gateDescriptor{
		offsetLow:  uint16(handlerAddr & 0xFFFF),
		selector:   selector,
		typeAttr:   typeAttr,
		offsetHigh: uint16((handlerAddr >> 16) & 0xFFFF),
	}
}

type descriptorTableRegister struct {
	size   uint16
	offset uint32
}

var (
	table    [entryCount]gateDescriptor
	register descriptorTableRegister

	loadIDTFn  = cpu.LoadIDT
	stubAddrFn = stubAddr
)

// stubAddr returns the linear address of the generated per-vector entry
// trampoline for vector. The 256 trampolines themselves (each pushing its
// own vector number, a dummy error code where the CPU supplies none, then
// jumping to the shared preamble) are hand-written assembly, not part of
// this Go source tree.
func stubAddr(vector uint8) uintptr

// exceptionNames labels vectors 0-31 for the default panic handler's
// diagnostic message.
var exceptionNames = [32]string{
	0: "divide-by-zero", 1: "debug", 2: "nmi", 3: "breakpoint",
	4: "overflow", 5: "bound-range-exceeded", 6: "invalid-opcode",
	7: "device-not-available", 8: "double-fault", 9: "coprocessor-segment-overrun",
	10: "invalid-tss", 11: "segment-not-present", 12: "stack-segment-fault",
	13: "general-protection-fault", 14: "page-fault", 15: "reserved",
	16: "x87-fp-exception", 17: "alignment-check", 18: "machine-check",
	19: "simd-fp-exception", 20: "virtualization-exception",
}

// panicFn indirects through kernel.Panic so tests can observe the panic
// path without tripping the real CPU halt loop, following the same
// substitution idiom as kernel.cpuHaltFn.
var panicFn = kernel.Panic

func defaultExceptionHandler(vector uint8) Handler {
	name := exceptionNames[vector]
	if name == "" {
		name = "reserved"
	}
	return func(regs *Registers) {
		kfmt.Printf("\nunhandled exception %d (%s)\n", vector, name)
		regs.DumpTo(kfmtOutput{})
		panicFn(&kernel.Error{Module: "idt", Message: name})
	}
}

func defaultUnknownHandler(vector uint8) Handler {
	return func(regs *Registers) {
		kfmt.Printf("\nunhandled interrupt vector %d\n", vector)
		panicFn(&kernel.Error{Module: "idt", Message: "unhandled interrupt vector"})
	}
}

func spuriousHandler(regs *Registers) {}

// kfmtOutput adapts kfmt.Printf's globally installed sink for DumpTo calls
// that want to share it without importing the concrete tty type.
type kfmtOutput struct{}

func (kfmtOutput) WriteByte(b byte) error {
	kfmt.Printf("%c", b)
	return nil
}

// Init builds all 256 gates (vectors 0-31 as named panic handlers, 32 as
// the not-yet-registered timer slot, 39/47 as spurious-IRQ no-ops, 0x80 as
// the DPL=3 syscall gate, everything else as an unhandled-vector panic),
// loads IDTR, and leaves the table ready for RegisterHandler calls to
// override individual slots (the timer and syscall vectors are wired up
// this way by kmain, not by this package).
func Init() {
	for v := 0; v < 32; v++ {
		handlers[v] = defaultExceptionHandler(uint8(v))
	}
	for v := 32; v < entryCount; v++ {
		handlers[v] = defaultUnknownHandler(uint8(v))
	}
	handlers[SpuriousMaster] = spuriousHandler
	handlers[SpuriousSlave] = spuriousHandler

	for v := 0; v < entryCount; v++ {
		dpl := uint8(0)
		if v == SyscallVector {
			dpl = 3
		}
		table[v] = newGate(stubAddrFn(uint8(v)), gdt.KernelCodeSelector, dpl)
	}

	register = descriptorTableRegister{
		size:   uint16(len(table)*int(unsafe.Sizeof(gateDescriptor{})) - 1),
		offset: uint32(uintptr(unsafe.Pointer(&table[0]))),
	}
	loadIDTFn(uintptr(unsafe.Pointer(&register)))
}

// RegisterHandler installs h as the handler for vector, replacing whatever
// default Init installed.
func RegisterHandler(vector uint8, h Handler) {
	handlers[vector] = h
}

// Dispatch is the single Go entrypoint every generated per-vector assembly
// stub calls into, after the common preamble has built the register frame.
// It is exported under this exact name so the assembly can reference it by
// symbol.
func Dispatch(vector uint8, regs *Registers) {
	h := handlers[vector]
	if h == nil {
		panicFn(&kernel.Error{Module: "idt", Message: "dispatch to unregistered vector"})
		return
	}
	h(regs)
}
