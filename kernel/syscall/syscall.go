// Package syscall builds the int 0x80 dispatch table and implements each
// syscall handler.
//
// Grounded on spec.md §4.5's table (test/write/fork/getpid/exit/wait/
// waitpid/execl, args in ebx/ecx/edx, result in eax) and on
// original_source/kernel/syscall.c's handler-table dispatch style, with
// the handler-table indirection itself modeled on the teacher's
// vmm.FrameAllocatorFn substitution idiom so the table can be driven from
// tests without a real int 0x80.
package syscall

import (
	"unsafe"

	"github.com/ThousandPine/FiRSTSTEP/kernel"
	"github.com/ThousandPine/FiRSTSTEP/kernel/idt"
	"github.com/ThousandPine/FiRSTSTEP/kernel/sched"
	"github.com/ThousandPine/FiRSTSTEP/kernel/task"
)

// Syscall numbers, in the monotone order spec.md §4.5 lists them.
const (
	Test = iota
	Write
	Fork
	GetPID
	Exit
	Wait
	WaitPid
	Execl

	NRSyscall
)

const stdout = 1

// WNOHANG, per spec.md §4.4.5: waitpid returns 0 immediately instead of
// yielding when no child is reapable yet.
const WNOHANG = 1

// handler processes one syscall; its result is written directly into
// regs.EAX, mirroring the register-return convention int 0x80 uses.
type handler func(regs *idt.Registers)

var table [NRSyscall]handler

var (
	panicFn = kernel.Panic

	// consoleWriteFn is the sink sysWrite drains stdout into; kmain points
	// it at the real tty once boot brings that package up, and tests
	// substitute their own capture function.
	consoleWriteFn = func(data []byte) int { return len(data) }

	yieldFn      = sched.Yield
	rescheduleFn = sched.Reschedule
	currentFn    = func() task.ID { return sched.Current(true) }

	// The task.* entry points below are indirected so tests can drive the
	// dispatch table without the real PMM/paging/fat16/elf stack behind
	// them, the same substitution idiom package task itself uses for its
	// own paging calls.
	forkTaskFn    = task.ForkTask
	exitTaskFn    = task.Exit
	waitFn        = task.Wait
	waitPidFn     = task.WaitPid
	execFn        = task.Exec
	switchStateFn = sched.SwitchState
)

func init() {
	table[Test] = sysTest
	table[Write] = sysWrite
	table[Fork] = sysFork
	table[GetPID] = sysGetPID
	table[Exit] = sysExit
	table[Wait] = sysWait
	table[WaitPid] = sysWaitPid
	table[Execl] = sysExecl
}

// Dispatch is registered at idt.SyscallVector. regs.EAX holds the syscall
// number on entry and the result on return. Numbers outside the table
// panic, per spec.md §4.5.
func Dispatch(regs *idt.Registers) {
	n := regs.EAX
	if n >= NRSyscall || table[n] == nil {
		panicFn(&kernel.Error{Module: "syscall", Message: "unknown syscall number"})
		return
	}
	table[n](regs)
}

func sysTest(regs *idt.Registers) {
	regs.EAX = 2333
}

// sysWrite implements write(fd, buf, count): buf/count are user-space
// addresses/lengths taken at face value, per spec.md §4.5's explicit
// non-goal of user-pointer validation.
func sysWrite(regs *idt.Registers) {
	fd, buf, count := regs.EBX, regs.ECX, regs.EDX
	if fd != stdout {
		regs.EAX = ^uint32(0) // -1
		return
	}
	data := readUserBytesFn(buf, count)
	n := consoleWriteFn(data)
	regs.EAX = uint32(n)
}

// SetConsoleWriter installs the sink write(STDOUT, ...) drains into; kmain
// calls this once with the real tty after boot brings it up.
func SetConsoleWriter(w func(data []byte) int) {
	consoleWriteFn = w
}

// readUserBytesFn/readUserCStringFn indirect the raw unsafe.Pointer casts
// that interpret a syscall argument as a linear address into the calling
// task's address space (identity-mapped for the kernel half, so this
// works as long as the caller's pointer is valid, per spec.md §4.5's
// explicit non-goal of address validation). Indirected so tests can
// supply fake "user memory" instead of dereferencing arbitrary addresses
// in a hosted test binary.
var (
	readUserBytesFn   = defaultReadUserBytes
	readUserCStringFn = defaultReadUserCString
)

func defaultReadUserBytes(addr, count uint32) []byte {
	return (*[1 << 20]byte)(unsafe.Pointer(uintptr(addr)))[:count:count]
}

var writeUserInt32Fn = defaultWriteUserInt32

func defaultWriteUserInt32(addr uint32, v int32) {
	*(*int32)(unsafe.Pointer(uintptr(addr))) = v
}

func defaultReadUserCString(addr uint32) string {
	if addr == 0 {
		return ""
	}
	buf := (*[4096]byte)(unsafe.Pointer(uintptr(addr)))
	n := 0
	for n < len(buf) && buf[n] != 0 {
		n++
	}
	return string(buf[:n])
}

func sysFork(regs *idt.Registers) {
	parent := currentFn()
	child, ok := forkTaskFn(parent)
	if !ok {
		regs.EAX = ^uint32(0) // -1
		return
	}
	switchStateFn(child, task.Ready)
	regs.EAX = uint32(task.Get(child).PID)
}

func sysGetPID(regs *idt.Registers) {
	regs.EAX = uint32(task.Get(currentFn()).PID)
}

// sysExit tears down the calling task's address space and reparents its
// children (task.Exit), marks it Zombie (the one place that transition is
// made, via sched.SwitchState), and hands the CPU straight to the next
// ready task. It deliberately calls rescheduleFn rather than yieldFn: Yield
// would try to requeue the caller onto the ready list, but a Zombie task
// is never schedulable again.
func sysExit(regs *idt.Registers) {
	self := currentFn()
	exitTaskFn(self, int(int32(regs.EBX)))
	switchStateFn(self, task.Zombie)
	rescheduleFn()
}

// sysWait implements wait(*status): it polls for a reapable child,
// yielding the CPU (via sched.Yield) between attempts rather than
// descheduling, then writes its exit code through the user-space status
// pointer (again taken at face value) and returns its pid; -1 if the
// caller has no children at all. Mirrors spec.md §4.4.5 ("if none are
// Zombie, yield and retry") and original_source/kernel/syscall.c's
// sys_wait, which calls schedule() and loops rather than blocking.
func sysWait(regs *idt.Registers) {
	waitLoop(regs, -1, regs.EBX, 0)
}

// sysWaitPid reads (pid, *status, options) from (ebx, ecx, edx); WNOHANG in
// options returns 0 immediately instead of yielding when no child is
// reapable yet, per spec.md §4.4.5.
func sysWaitPid(regs *idt.Registers) {
	waitLoop(regs, int(int32(regs.EBX)), regs.ECX, regs.EDX)
}

func waitLoop(regs *idt.Registers, targetPID int, statusPtr, options uint32) {
	self := currentFn()
	noHang := options&WNOHANG != 0

	for {
		var pid, code int
		var found, ok bool
		if targetPID == -1 {
			pid, code, found, ok = waitFn(self)
		} else {
			pid, code, found, ok = waitPidFn(self, targetPID)
		}
		if !ok {
			regs.EAX = ^uint32(0) // -1
			return
		}
		if found {
			if statusPtr != 0 {
				writeUserInt32Fn(statusPtr, int32(code))
			}
			regs.EAX = uint32(pid)
			return
		}
		if noHang {
			regs.EAX = 0
			return
		}
		yieldFn()
	}
}

// sysExecl replaces the calling task's address space with a fresh ELF
// image in place, keeping the same pid/TCB slot. path/argv are taken at
// face value (argv passing into the new image is a known simplification:
// the new entry frame starts with an empty stack rather than one
// populated with argc/argv, consistent with spec.md §4.5 giving execl no
// argv-propagation contract beyond "does not return on success").
func sysExecl(regs *idt.Registers) {
	path := readUserCStringFn(regs.EBX)

	self := currentFn()
	if err := execFn(self, path); err != nil {
		regs.EAX = ^uint32(0) // -1
		return
	}

	// The new entry frame lives at the top of the same kernel stack the
	// interrupt preamble already pushed onto; the common epilogue resumes
	// from *regs, so copy the fresh frame over it in place.
	*regs = *task.Get(self).Frame
}
