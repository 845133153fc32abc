package task

import (
	"unsafe"

	"github.com/ThousandPine/FiRSTSTEP/kernel/idt"
	"github.com/ThousandPine/FiRSTSTEP/kernel/mem/pmm"
)

// defaultAllocFrame/defaultFrameAt/defaultStackBase are the real,
// hardware-touching implementations behind allocFrameFn/frameAtFn/
// stackBaseFn. Tests substitute the Fn variables instead of calling these
// directly, the same indirection idiom used throughout kernel/mem/pmm and
// kernel/mem/paging for code that dereferences raw physical addresses.
func defaultAllocFrame() uintptr {
	return pmm.Global.AllocFrame()
}

func defaultFrameAt(addr uintptr) *idt.Registers {
	return (*idt.Registers)(unsafe.Pointer(addr))
}

func defaultStackBase(s *slot) uintptr {
	return uintptr(unsafe.Pointer(&s.stack[0]))
}
