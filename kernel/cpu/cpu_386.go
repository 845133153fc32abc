// Package cpu exposes the i386 primitives the rest of the kernel needs:
// port I/O, control-register access and the handful of privileged
// instructions used by the trap plane and the scheduler. The functions
// declared without a body here are implemented in hand-written assembly
// (not part of this Go source tree, see SPEC_FULL.md §6) and linked in at
// build time; every caller in this repository goes through the indirection
// variables below so that package-level tests can substitute fakes and run
// on the host architecture.
package cpu

// InB reads a single byte from the given I/O port.
func InB(port uint16) uint8

// OutB writes a single byte to the given I/O port.
func OutB(port uint16, value uint8)

// InW reads a 16-bit word from the given I/O port.
func InW(port uint16) uint16

// OutW writes a 16-bit word to the given I/O port.
func OutW(port uint16, value uint16)

// EnableInterrupts executes STI.
func EnableInterrupts()

// DisableInterrupts executes CLI.
func DisableInterrupts()

// Halt executes HLT in a loop; it never returns.
func Halt()

// ReadCR2 returns the faulting linear address recorded by the last page
// fault.
func ReadCR2() uintptr

// ReadCR3 returns the physical address of the currently active page
// directory.
func ReadCR3() uintptr

// WriteCR3 loads a new page directory physical address into CR3, flushing
// the entire TLB (CR3 is non-global so any write implicitly flushes).
func WriteCR3(pdPhysAddr uintptr)

// EnablePaging sets the PG bit in CR0, turning on paging. Must only be
// called once CR3 points to a valid page directory.
func EnablePaging()

// LoadGDT loads the GDT register from a {size, offset} descriptor at the
// given linear address and performs the long jump/segment reloads required
// to make the new code/data selectors active.
func LoadGDT(gdtDescriptorAddr uintptr, codeSelector, dataSelector uint16)

// LoadIDT loads the IDT register from a {size, offset} descriptor at the
// given linear address.
func LoadIDT(idtDescriptorAddr uintptr)

// LoadTR loads the task register with the given TSS selector.
func LoadTR(tssSelector uint16)

// InSL reads count 32-bit dwords from port into dst (REP INSD), used by the
// ATA PIO driver to pull a whole sector in one burst.
func InSL(port uint16, dst []byte, count int)

// OutSL writes count 32-bit dwords from src to port (REP OUTSD).
func OutSL(port uint16, src []byte, count int)

// ResumeContext points ESP at the idt.Registers frame stored at frameAddr,
// pops the segment selectors and general registers the common interrupt
// preamble pushed, and executes IRET. It never returns to its caller; the
// CPU resumes whatever EIP/CS/EFlags (and, crossing a ring, UserESP/UserSS)
// were recorded in that frame.
func ResumeContext(frameAddr uintptr)
