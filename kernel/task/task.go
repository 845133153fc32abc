// Package task implements the process table, the parent/child tree, and
// fork/exec/exit/wait semantics. Per SPEC_FULL.md §9's redesign note, the
// tree is expressed with array indices into a fixed-size table rather than
// raw pointers, which sidesteps dangling references when a child is reaped
// while a parent scans its sibling chain.
//
// Grounded on original_source/inc/kernel/task.h's task_struct/task_union
// layout: a TCB co-located with its own kernel stack inside one
// fixed-capacity table of NRTasks slots. Go has no union type, so each slot
// is a struct combining the TCB fields with a fixed-size stack byte array
// instead of a true C union overlay; ESP0 is still set to the top of that
// same slot's stack array, preserving the "TCB lives inside its own kernel
// stack page" structural intent.
package task

import (
	"unsafe"

	"github.com/ThousandPine/FiRSTSTEP/kernel"
	"github.com/ThousandPine/FiRSTSTEP/kernel/elf"
	"github.com/ThousandPine/FiRSTSTEP/kernel/fs/fat16"
	"github.com/ThousandPine/FiRSTSTEP/kernel/gdt"
	"github.com/ThousandPine/FiRSTSTEP/kernel/idt"
	"github.com/ThousandPine/FiRSTSTEP/kernel/mem/paging"
)

const (
	// NRTasks bounds the number of live tasks the process table can hold.
	NRTasks = 100

	// InitPID is the pid assigned to the first task created at boot.
	InitPID = 1

	kernelStackSize = 4096

	// userStackTopLinear is the page-aligned base of the single-page
	// initial user stack mapped for every task; the frame below the
	// 4 GiB boundary is used so the top-of-stack value computed from it
	// never wraps around 32 bits.
	userStackTopLinear = 0xFFFFE000
)

// State is one of the task lifecycle states from original_source's
// task_state enum.
type State int

const (
	None State = iota
	Ready
	Running
	Blocked
	Zombie
	Dead
)

func (s State) String() string {
	switch s {
	case None:
		return "None"
	case Ready:
		return "Ready"
	case Running:
		return "Running"
	case Blocked:
		return "Blocked"
	case Zombie:
		return "Zombie"
	case Dead:
		return "Dead"
	default:
		return "Unknown"
	}
}

// ID is an index into the process table. NoTask marks the absence of a
// task in a link field (parent/child/sibling/prev/next).
type ID int32

const NoTask ID = -1

// TCB is one task control block.
type TCB struct {
	PID      int
	State    State
	ExitCode int

	Frame   *idt.Registers
	PageDir *paging.PageDirectory

	Parent, Child, Sibling ID
	Prev, Next             ID // ready/blocked list links, owned by package sched
}

type slot struct {
	tcb     TCB
	inUse   bool
	stack   [kernelStackSize]byte
}

// fileSource is the minimal file interface CreateFromELF needs, matching
// elf.source's method set so a fileSource value can be passed straight
// into loadELFFn without this package depending on elf's unexported type.
type fileSource interface {
	ReadAt(dst []byte, offset int64) (int, error)
}

var (
	table   [NRTasks]slot
	nextPID = InitPID
	panicFn = kernel.Panic

	// openFileFn/loadELFFn wrap fat16.Open/elf.Load behind the fileSource
	// interface so tests can substitute an in-memory fake file without a
	// real FAT16 image or disk driver.
	openFileFn = func(path string) (fileSource, error) { return fat16.Open(path) }
	loadELFFn  = func(f fileSource, pd *paging.PageDirectory) (uintptr, error) { return elf.Load(f, pd) }

	// The four paging.* entry points below are indirected, like
	// allocFrameFn/frameAtFn/stackBaseFn, so tests can substitute fakes
	// instead of exercising the real PMM-backed page directories (see
	// kernel/mem/paging's paging_test.go for the same limitation).
	createUserPageDirFn       = paging.CreateUserPageDir
	destroyUserPageDirFn      = paging.DestroyUserPageDir
	mapPhysicalPageToLinearFn = paging.MapPhysicalPageToLinear
	copyAddressSpaceFn        = paging.CopyAddressSpace
)

// Get returns a pointer to the TCB at id. Callers must only call this with
// an id returned by one of this package's operations.
func Get(id ID) *TCB {
	return &table[id].tcb
}

// KernelStackTop returns the initial ESP0 value for id's kernel stack: the
// address one past the last byte of its stack array, since the stack grows
// down from there.
func KernelStackTop(id ID) uintptr {
	s := &table[id]
	return uintptr(stackBase(s)) + kernelStackSize
}

func allocSlot() (ID, bool) {
	for i := range table {
		if !table[i].inUse {
			table[i] = slot{inUse: true}
			return ID(i), true
		}
	}
	return NoTask, false
}

func freeSlot(id ID) {
	table[id] = slot{}
}

func linkChild(parent, child ID) {
	if parent == NoTask {
		return
	}
	p := Get(parent)
	Get(child).Sibling = p.Child
	Get(child).Parent = parent
	p.Child = child
}

func unlinkChild(parent, child ID) {
	if parent == NoTask {
		return
	}
	p := Get(parent)
	if p.Child == child {
		p.Child = Get(child).Sibling
		return
	}
	cur := p.Child
	for cur != NoTask {
		next := Get(cur).Sibling
		if next == child {
			Get(cur).Sibling = Get(child).Sibling
			return
		}
		cur = next
	}
}

// CreateFromELF builds a fresh user address space, loads the ELF at path
// into it, allocates a TCB slot, links it as a child of parent, and
// constructs the synthetic ring-3 entry frame at the top of the new task's
// kernel stack. The returned task is born in state None; the scheduler
// transitions it to Ready.
func CreateFromELF(path string, parent ID) (ID, error) {
	pd := createUserPageDirFn()

	f, err := openFileFn(path)
	if err != nil {
		destroyUserPageDirFn(pd)
		return NoTask, err
	}

	entry, err := loadELFFn(f, pd)
	if err != nil {
		destroyUserPageDirFn(pd)
		return NoTask, err
	}

	id, ok := allocSlot()
	if !ok {
		destroyUserPageDirFn(pd)
		return NoTask, &kernel.Error{Module: "task", Message: "process table full"}
	}

	allocUserStack(pd)

	pid := nextPID
	nextPID++

	t := Get(id)
	*t = TCB{
		PID:     pid,
		State:   None,
		PageDir: pd,
		Parent:  NoTask,
		Child:   NoTask,
		Sibling: NoTask,
		Prev:    NoTask,
		Next:    NoTask,
	}
	linkChild(parent, id)

	t.Frame = buildEntryFrame(id, entry, userStackTopLinear+pageSize)
	return id, nil
}

const pageSize = 4096

// allocUserStack maps the single initial user stack page at
// userStackTopLinear for a freshly created task.
func allocUserStack(pd *paging.PageDirectory) {
	frame := allocFrameFn()
	mapPhysicalPageToLinearFn(pd, frame, userStackTopLinear, true, true)
}

var allocFrameFn = defaultAllocFrame

func buildEntryFrame(id ID, entry, userStackTop uintptr) *idt.Registers {
	top := KernelStackTop(id)
	frameAddr := top - frameSize
	frame := frameAt(frameAddr)

	*frame = idt.Registers{
		GS: uint32(gdt.UserDataSelector), FS: uint32(gdt.UserDataSelector),
		ES: uint32(gdt.UserDataSelector), DS: uint32(gdt.UserDataSelector),
		EIP: uint32(entry), CS: uint32(gdt.UserCodeSelector),
		EFlags:  0x202, // IF set, reserved bit 1 always set
		UserESP: uint32(userStackTop), UserSS: uint32(gdt.UserDataSelector),
	}
	return frame
}

var frameSize = unsafe.Sizeof(idt.Registers{})

// ForkTask allocates a TCB slot and a fresh PD sharing the kernel half,
// deep-copies the parent's user half (data included), links the new task
// as a child of parent, and copies the parent's interrupt frame byte for
// byte into the child's kernel stack with the child's saved EAX forced to
// 0. On PMM exhaustion mid-copy the partially built PD is freed and ok is
// false, per the fork rollback requirement in SPEC_FULL.md §7.
func ForkTask(parent ID) (child ID, ok bool) {
	parentTCB := Get(parent)

	childPD := createUserPageDirFn()
	if !copyAddressSpaceFn(childPD, parentTCB.PageDir) {
		destroyUserPageDirFn(childPD)
		return NoTask, false
	}

	id, gotSlot := allocSlot()
	if !gotSlot {
		destroyUserPageDirFn(childPD)
		return NoTask, false
	}

	pid := nextPID
	nextPID++

	t := Get(id)
	*t = TCB{
		PID:     pid,
		State:   None,
		PageDir: childPD,
		Parent:  NoTask,
		Child:   NoTask,
		Sibling: NoTask,
		Prev:    NoTask,
		Next:    NoTask,
	}
	linkChild(parent, id)

	top := KernelStackTop(id)
	childFrame := frameAt(top - frameSize)
	*childFrame = *parentTCB.Frame
	childFrame.EAX = 0
	t.Frame = childFrame

	return id, true
}

// Exec replaces id's address space and entry frame with a fresh ELF image
// loaded from path, keeping its PID and its place in the process tree. The
// old address space is torn down only after the new one is successfully
// built, so a failed exec leaves id running the old image untouched.
func Exec(id ID, path string) error {
	pd := createUserPageDirFn()

	f, err := openFileFn(path)
	if err != nil {
		destroyUserPageDirFn(pd)
		return err
	}

	entry, err := loadELFFn(f, pd)
	if err != nil {
		destroyUserPageDirFn(pd)
		return err
	}

	allocUserStack(pd)

	t := Get(id)
	oldPD := t.PageDir
	t.PageDir = pd
	t.Frame = buildEntryFrame(id, entry, userStackTopLinear+pageSize)
	destroyUserPageDirFn(oldPD)
	return nil
}

// Exit records exitCode and frees id's user address space (TCB, kernel
// stack and state remain for the parent to observe), and reparents its
// children onto init (prepended to init's child list). It does not itself
// touch id's State: the Running->Zombie transition belongs entirely to
// sched.SwitchState, which also has to demote id off the scheduler's
// current-task bookkeeping. Exit's caller is expected to call
// sched.SwitchState(id, Zombie) immediately afterwards.
func Exit(id ID, exitCode int) {
	t := Get(id)
	if t.PID == InitPID {
		panicFn(&kernel.Error{Module: "task", Message: "init task exit"})
		return
	}

	destroyUserPageDirFn(t.PageDir)
	t.PageDir = nil
	t.ExitCode = exitCode

	reparentChildren(id, findInit())
}

func reparentChildren(from, to ID) {
	t := Get(from)
	child := t.Child
	t.Child = NoTask
	for child != NoTask {
		next := Get(child).Sibling
		linkChild(to, child)
		child = next
	}
}

func findInit() ID {
	for i := range table {
		if table[i].inUse && table[i].tcb.PID == InitPID {
			return ID(i)
		}
	}
	return NoTask
}

// Wait scans id's children for a Zombie, detaches and frees it (Zombie ->
// Dead), and returns its pid and exit code. If id has no children at all,
// ok is false. If none of the children are Zombie yet, found is false and
// the caller is expected to yield and retry.
func Wait(id ID) (pid, exitCode int, found, ok bool) {
	return waitFiltered(id, -1)
}

// WaitPid is Wait restricted to a specific child pid; it reports ok=false
// if target is not actually a child of id.
func WaitPid(id ID, targetPID int) (pid, exitCode int, found, ok bool) {
	if !isChild(id, targetPID) {
		return 0, 0, false, false
	}
	return waitFiltered(id, targetPID)
}

func isChild(id ID, pid int) bool {
	child := Get(id).Child
	for child != NoTask {
		if Get(child).PID == pid {
			return true
		}
		child = Get(child).Sibling
	}
	return false
}

func waitFiltered(id ID, targetPID int) (pid, exitCode int, found, ok bool) {
	t := Get(id)
	if t.Child == NoTask {
		return 0, 0, false, false
	}

	child := t.Child
	for child != NoTask {
		c := Get(child)
		if c.State == Zombie && (targetPID == -1 || c.PID == targetPID) {
			unlinkChild(id, child)
			pid, exitCode = c.PID, c.ExitCode
			c.State = Dead
			freeSlot(child)
			return pid, exitCode, true, true
		}
		child = c.Sibling
	}
	return 0, 0, false, true
}

func frameAt(addr uintptr) *idt.Registers {
	return frameAtFn(addr)
}

var frameAtFn = defaultFrameAt

func stackBase(s *slot) uintptr {
	return stackBaseFn(s)
}

var stackBaseFn = defaultStackBase
