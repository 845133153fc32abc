package kernel

import (
	"github.com/ThousandPine/FiRSTSTEP/kernel/cpu"
	"github.com/ThousandPine/FiRSTSTEP/kernel/kfmt"
)

var (
	// cpuHaltFn is mocked by tests and is automatically inlined by the compiler.
	cpuHaltFn = cpu.Halt

	errRuntimePanic = &Error{Module: "rt", Message: "unknown cause"}
)

// Panic prints the supplied error (if any) to the active console and halts
// the CPU. Calls to Panic never return. Every unrecoverable failure in the
// kernel — CPU exceptions, PMM exhaustion or inconsistency, an attempt to
// map into the kernel area, a double map, an unknown syscall number, an
// assertion failure — funnels through here.
func Panic(e interface{}) {
	var err *Error

	switch t := e.(type) {
	case *Error:
		err = t
	case string:
		errRuntimePanic.Message = t
		err = errRuntimePanic
	case error:
		errRuntimePanic.Message = t.Error()
		err = errRuntimePanic
	}

	kfmt.Printf("\n-----------------------------------\n")
	if err != nil {
		kfmt.Printf("[%s] unrecoverable error: %s\n", err.Module, err.Message)
	}
	kfmt.Printf("*** kernel panic: system halted ***")
	kfmt.Printf("\n-----------------------------------\n")

	cpuHaltFn()
}

// Assert panics with a formatted message if cond is false. It is the
// kernel-internal equivalent of the assertion checks the spec requires for
// detecting PMM and paging invariant violations.
func Assert(cond bool, module, message string) {
	if !cond {
		Panic(&Error{Module: module, Message: message})
	}
}
