// Package kmain sequences boot: it is the only Go symbol the rt0 trampoline
// in cmd/kernel calls, and it never returns.
//
// Grounded on the teacher's kernel/kmain package (Kmain as the single
// noinline entrypoint invoked after rt0 builds a minimal stack, the
// init-everything-then-panic-if-we-ever-get-here shape) and on spec.md §2's
// explicit boot order: TTY; IDT+PIC; PMM (given [kernel_end, ram_top));
// paging; syscall table; then create init and hand off to the scheduler.
package kmain

import (
	"unsafe"

	"github.com/ThousandPine/FiRSTSTEP/kernel"
	"github.com/ThousandPine/FiRSTSTEP/kernel/cpu"
	"github.com/ThousandPine/FiRSTSTEP/kernel/driver/pic"
	"github.com/ThousandPine/FiRSTSTEP/kernel/driver/pit"
	"github.com/ThousandPine/FiRSTSTEP/kernel/driver/tty"
	"github.com/ThousandPine/FiRSTSTEP/kernel/fs/fat16"
	"github.com/ThousandPine/FiRSTSTEP/kernel/gdt"
	"github.com/ThousandPine/FiRSTSTEP/kernel/idt"
	"github.com/ThousandPine/FiRSTSTEP/kernel/kfmt"
	"github.com/ThousandPine/FiRSTSTEP/kernel/mem/paging"
	"github.com/ThousandPine/FiRSTSTEP/kernel/mem/pmm"
	"github.com/ThousandPine/FiRSTSTEP/kernel/sched"
	"github.com/ThousandPine/FiRSTSTEP/kernel/syscall"
	"github.com/ThousandPine/FiRSTSTEP/kernel/task"
)

const (
	// timerHZ is the scheduler's preemption rate, per spec.md §6.
	timerHZ = 100

	// masterVectorOffset/slaveVectorOffset remap the two 8259 PICs onto the
	// IDT vector range idt.Init already reserved for them.
	masterVectorOffset = idt.TimerVector
	slaveVectorOffset  = idt.SpuriousSlave - 7

	// initPath is the first process the kernel ever runs.
	initPath = "/bin/init"
)

var errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}

// bootStack is the ring-0 stack installed into the TSS before any task
// exists. Every later privilege-level transition uses whichever task's own
// kernel stack the scheduler installed via gdt.SetKernelStack, so this
// array is only ever live between gdt.Init and the first context switch.
var bootStack [4096]byte

// Kmain is the only Go symbol visible from the rt0 trampoline in cmd/kernel.
// rt0 reads the kernel image's [start, end) physical range out of the two
// fixed words the boot loader leaves at 0x1000/0x1004 and passes them in
// here unchanged.
//
//go:noinline
func Kmain(kernelStart, kernelEnd uintptr) {
	tty.Default.Init()
	kfmt.SetOutput(&tty.Default)

	bootStackTop := uintptr(unsafe.Pointer(&bootStack[0])) + uintptr(len(bootStack))
	gdt.Init(bootStackTop)
	idt.Init()
	pic.Remap(masterVectorOffset, slaveVectorOffset)

	ramBytes := pmm.DetectRAM()
	freeBase := pageAlignUp(kernelEnd)
	freeFrames := uint32((ramBytes - uint64(freeBase)) / pmm.PageSize)
	pmm.Global.Init(freeBase, freeFrames)

	paging.KernelPageInit(ramBytes)
	paging.PageEnable()

	syscall.SetConsoleWriter(consoleWrite)
	idt.RegisterHandler(idt.SyscallVector, syscall.Dispatch)
	idt.RegisterHandler(idt.TimerVector, timerISR)
	pit.Init(timerHZ)

	if err := fat16.Init(); err != nil {
		kernel.Panic(err)
	}

	initID, err := task.CreateFromELF(initPath, task.NoTask)
	if err != nil {
		kernel.Panic(err)
	}

	cpu.EnableInterrupts()
	sched.Start(initID)

	// Use kernel.Panic instead of panic to prevent the compiler from
	// treating kernel.Panic as dead code and eliminating it.
	kernel.Panic(errKmainReturned)
}

// timerISR acknowledges the interrupt with the PIC, advances the PIT's own
// tick bookkeeping, and finally hands the saved frame to the scheduler. The
// PIC must be acknowledged before sched.Handler runs: on the path where it
// switches tasks, sched.Handler never returns here, so anything queued
// after it would never execute.
func timerISR(regs *idt.Registers) {
	pic.SendEOI(idt.TimerVector)
	pit.Tick()
	sched.Handler(regs)
}

func consoleWrite(data []byte) int {
	n, _ := tty.Default.Write(data)
	return n
}

func pageAlignUp(addr uintptr) uintptr {
	const mask = pmm.PageSize - 1
	return (addr + mask) &^ mask
}
