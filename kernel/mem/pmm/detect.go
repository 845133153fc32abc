package pmm

import "github.com/ThousandPine/FiRSTSTEP/kernel/cpu"

const (
	cmosIndexPort = 0x70
	cmosDataPort  = 0x71

	cmosExtMemLow  = 0x34
	cmosExtMemHigh = 0x35

	minRAMBytes = 16 * 1024 * 1024
)

// inBFn/outBFn indirect through cpu.InB/cpu.OutB so tests can fake the CMOS
// without real hardware, following the same substitution idiom used for
// cpu.Halt in the kernel package.
var (
	inBFn  = cpu.InB
	outBFn = cpu.OutB
)

func cmosRead(index uint8) uint8 {
	outBFn(cmosIndexPort, index)
	return inBFn(cmosDataPort)
}

// DetectRAM reads the CMOS RTC's extended-memory registers (0x34/0x35,
// counted in 64 KiB units above the first 16 MiB) and returns total RAM in
// bytes. It panics if the detected amount falls below the 16 MiB minimum
// this kernel requires.
func DetectRAM() uint64 {
	lo := uint64(cmosRead(cmosExtMemLow))
	hi := uint64(cmosRead(cmosExtMemHigh))
	extKiB64 := lo | hi<<8

	total := uint64(minRAMBytes) + extKiB64*64*1024
	assert(total >= minRAMBytes, "DetectRAM: less than 16 MiB of RAM present")
	return total
}
