// Package pic programs the two cascaded 8259 programmable interrupt
// controllers: remapping their IRQ lines onto a chosen IDT vector range
// (the BIOS default of 0x08/0x70 collides with CPU exception vectors) and
// acknowledging serviced interrupts.
//
// Grounded on spec.md §6's port list (0x20/0xA0 command, 0x21/0xA1 data,
// remapped to IDT 32+/40+, EOI=0x20) and original_source/inc/kernel/pic.h's
// ICW byte sequence, using the same cpu.OutB/InB indirection idiom as
// kernel/mem/pmm's CMOS reader.
package pic

import "github.com/ThousandPine/FiRSTSTEP/kernel/cpu"

const (
	masterCommand = 0x20
	masterData    = 0x21
	slaveCommand  = 0xA0
	slaveData     = 0xA1

	icw1Init       = 0x11 // edge-triggered, cascade mode, ICW4 present
	icw4Mode8086   = 0x01
	masterHasSlave = 1 << 2 // ICW3 for the master: slave wired to IRQ2
	slaveCascadeID = 2      // ICW3 for the slave: its cascade identity

	// EOI is the End-Of-Interrupt command written back to whichever PIC
	// (or both, for a slave-owned IRQ) serviced the interrupt.
	EOI = 0x20

	// slaveVectorFloor is compared against the IDT vector a handler ran
	// at to decide whether the slave PIC also needs an EOI: any vector
	// wired to IRQ8-15 came from the slave.
	slaveVectorFloor = 40
)

var (
	outBFn = cpu.OutB
	inBFn  = cpu.InB
)

// Remap reprograms both PICs so that IRQ0-7 land on IDT vectors
// masterOffset..masterOffset+7 and IRQ8-15 on slaveOffset..slaveOffset+7,
// preserving each PIC's interrupt mask across the reprogram.
func Remap(masterOffset, slaveOffset uint8) {
	masterMask := inBFn(masterData)
	slaveMask := inBFn(slaveData)

	outBFn(masterCommand, icw1Init)
	outBFn(slaveCommand, icw1Init)

	outBFn(masterData, masterOffset)
	outBFn(slaveData, slaveOffset)

	outBFn(masterData, masterHasSlave)
	outBFn(slaveData, slaveCascadeID)

	outBFn(masterData, icw4Mode8086)
	outBFn(slaveData, icw4Mode8086)

	outBFn(masterData, masterMask)
	outBFn(slaveData, slaveMask)
}

// SendEOI acknowledges the interrupt handled at vector (an IDT vector
// number, not a raw IRQ line), so the PIC can deliver further interrupts
// on that line. vector >= slaveVectorFloor also needs the slave PIC
// acknowledged, since it originated there.
func SendEOI(vector uint8) {
	if vector >= slaveVectorFloor {
		outBFn(slaveCommand, EOI)
	}
	outBFn(masterCommand, EOI)
}
