package sched

import (
	"unsafe"

	"github.com/ThousandPine/FiRSTSTEP/kernel/task"
)

// defaultFrameAddr reads the live address of t's saved interrupt frame,
// which always points into t's own kernel stack slot.
func defaultFrameAddr(t *task.TCB) uintptr {
	return uintptr(unsafe.Pointer(t.Frame))
}
