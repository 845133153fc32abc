// Package ata drives the primary ATA PIO channel in LBA48 mode: enough to
// read whole sectors off the boot disk for the filesystem layer above it.
// Writes are not needed by anything this kernel does and are left
// unimplemented.
//
// Grounded on original_source/kernel/ata.c's ata_read: the same
// busy-wait/poll-status sequence, register set and LBA48 port-pair write
// order, ported from inb/outb/insl to the cpu package's port-I/O
// indirection variables.
package ata

import (
	"github.com/ThousandPine/FiRSTSTEP/kernel"
	"github.com/ThousandPine/FiRSTSTEP/kernel/cpu"
)

const (
	portBase = 0x1F0

	regData     = portBase + 0x00
	regSecCount = portBase + 0x02
	regLBA0     = portBase + 0x03
	regLBA1     = portBase + 0x04
	regLBA2     = portBase + 0x05
	regHDDevSel = portBase + 0x06
	regCommand  = portBase + 0x07
	regStatus   = portBase + 0x07

	cmdReadPIOExt = 0x24

	srBSY = 0x80
	srDRDY = 0x40
	srDF   = 0x20
	srDRQ  = 0x08
	srERR  = 0x01

	// SectorSize is the fixed sector size this driver assumes, matching
	// every disk image the rest of the kernel reads.
	SectorSize = 512

	readyPollAttempts = 100000
)

var (
	inBFn  = cpu.InB
	outBFn = cpu.OutB
	inSLFn = cpu.InSL
)

func bsyDelay() {
	for i := 0; i < 4; i++ {
		inBFn(regStatus)
	}
}

func deviceReady() (status uint8, ok bool) {
	bsyDelay()
	for retries := readyPollAttempts; retries > 0; retries-- {
		status = inBFn(regStatus)
		if status&(srBSY|srDRDY) == srDRDY {
			return status, true
		}
	}
	return 0, false
}

func dataReady() bool {
	status, ok := deviceReady()
	if !ok {
		return false
	}
	return status&srDRQ != 0
}

// ReadSectors reads count consecutive 512-byte sectors starting at lba into
// dst (which must be at least count*SectorSize bytes) using LBA48
// addressing and the 0x24 (READ PIO EXT) command. It returns an error if the
// device never reports ready.
func ReadSectors(lba uint64, count uint16, dst []byte) error {
	if len(dst) < int(count)*SectorSize {
		return &kernel.Error{Module: "ata", Message: "destination buffer too small"}
	}
	if lba >= 1<<48 {
		return &kernel.Error{Module: "ata", Message: "lba exceeds 48 bits"}
	}

	if _, ok := deviceReady(); !ok {
		return &kernel.Error{Module: "ata", Message: "device not ready"}
	}

	outBFn(regSecCount, uint8(count>>8))
	outBFn(regLBA0, uint8(lba>>24))
	outBFn(regLBA1, uint8(lba>>32))
	outBFn(regLBA2, uint8(lba>>40))
	outBFn(regSecCount, uint8(count))
	outBFn(regLBA0, uint8(lba))
	outBFn(regLBA1, uint8(lba>>8))
	outBFn(regLBA2, uint8(lba>>16))

	outBFn(regHDDevSel, 0xE0)
	outBFn(regCommand, cmdReadPIOExt)

	remaining := count
	if remaining == 0 {
		remaining = 1 << 15 // count==0 means 65536 sectors; capped defensively
	}

	off := 0
	for {
		if !dataReady() {
			return &kernel.Error{Module: "ata", Message: "data not ready"}
		}
		inSLFn(regData, dst[off:off+SectorSize], SectorSize/4)
		off += SectorSize
		remaining--
		if remaining == 0 {
			break
		}
	}
	return nil
}
