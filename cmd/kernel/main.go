// Command kernel is the rt0 trampoline: the sole Go symbol the hand-written
// assembly startup code (not part of this Go source tree, per SPEC_FULL.md
// §6) calls after switching to protected mode, installing a GDT, and
// allocating the minimal stack Go code needs to run at all.
//
// Grounded on the teacher's root stub.go, which plays the identical role for
// gopher-os's multiboot-driven boot: a package-level variable read at the
// call site keeps the compiler from inlining the call and eliminating
// kmain.Kmain as dead code. This kernel's boot protocol carries no
// multiboot payload; instead, per spec.md §6, the loader leaves the kernel
// image's [start, end) physical range as two fixed 32-bit words at
// addresses 0x1000 and 0x1004.
package main

import (
	"unsafe"

	"github.com/ThousandPine/FiRSTSTEP/kernel/kmain"
)

const (
	kernelStartAddr = 0x1000
	kernelEndAddr   = 0x1004
)

var kernelStart, kernelEnd uintptr

func main() {
	kernelStart = uintptr(*(*uint32)(unsafe.Pointer(uintptr(kernelStartAddr))))
	kernelEnd = uintptr(*(*uint32)(unsafe.Pointer(uintptr(kernelEndAddr))))
	kmain.Kmain(kernelStart, kernelEnd)
}
