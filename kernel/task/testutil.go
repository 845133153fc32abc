package task

import "github.com/ThousandPine/FiRSTSTEP/kernel/mem/paging"

// NewForTest allocates a bare process-table slot with the given pid,
// parent and state, without going through CreateFromELF's ELF/paging/PMM
// path. It exists so other packages' tests (package sched, in particular)
// can put tasks in known states without mocking this package's own
// hardware-facing indirection vars from the outside; production code
// never calls it.
func NewForTest(pid int, parent ID, state State) ID {
	id, ok := allocSlot()
	if !ok {
		return NoTask
	}
	t := Get(id)
	*t = TCB{
		PID:     pid,
		State:   state,
		Parent:  NoTask,
		Child:   NoTask,
		Sibling: NoTask,
		Prev:    NoTask,
		Next:    NoTask,
	}
	linkChild(parent, id)
	return id
}

// ResetForTest clears the whole process table. Exported for the same
// reason as NewForTest.
func ResetForTest() {
	table = [NRTasks]slot{}
	nextPID = InitPID
}

// DestroyUserPageDirForTest overrides the hook Exit uses to free a task's
// address space and returns a restore function. Exported so packages
// whose tests drive real Exit calls against tasks built with NewForTest
// (which never have a real PageDir to free) can stand in a no-op instead
// of exercising paging.DestroyUserPageDir on an address this test binary
// never mapped.
func DestroyUserPageDirForTest(fn func(*paging.PageDirectory)) (restore func()) {
	real := destroyUserPageDirFn
	destroyUserPageDirFn = fn
	return func() { destroyUserPageDirFn = real }
}
