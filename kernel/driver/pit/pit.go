// Package pit programs PIT channel 0 to raise IRQ0 at a fixed rate. Per
// spec.md §2 ("only its tick callback matters"), this package owns nothing
// beyond the divisor programming and a single registered callback. The
// scheduling decision on every tick is not made here: kmain's timer ISR
// calls kernel/sched.Handler directly after Tick.
package pit

import "github.com/ThousandPine/FiRSTSTEP/kernel/cpu"

const (
	channel0Data = 0x40
	commandPort  = 0x43

	// baseFrequency is the PIT's fixed input clock in Hz; the programmed
	// divisor is baseFrequency/hz, per spec.md §6.
	baseFrequency = 1193180

	// modeRateGenerator selects channel 0, lobyte/hibyte access, mode 3
	// (square wave generator), binary counting.
	modeRateGenerator = 0b00_11_011_0
)

var outBFn = cpu.OutB

// tickFn is the single callback invoked on every IRQ0; nil until OnTick is
// called. A single slot (rather than a slice) avoids a heap allocation in
// a package initialized before the kernel has committed to one.
var tickFn func()

// Init programs channel 0 for a periodic tick at hz Hz.
func Init(hz uint32) {
	divisor := uint16(baseFrequency / hz)
	outBFn(commandPort, modeRateGenerator)
	outBFn(channel0Data, uint8(divisor))
	outBFn(channel0Data, uint8(divisor>>8))
}

// OnTick registers cb as the handler for every subsequent IRQ0, replacing
// any previously registered callback.
func OnTick(cb func()) {
	tickFn = cb
}

// Tick invokes the registered callback, if any. kmain's timer ISR calls
// this after acknowledging the interrupt with the PIC.
func Tick() {
	if tickFn != nil {
		tickFn()
	}
}
