// Package sched implements the ready/blocked task lists and the round-robin
// context switch.
//
// Grounded on original_source/kernel/scheduler.c: task_list_add/
// task_list_remove's doubly-linked list (reworked here onto task.ID indices
// instead of task_struct pointers, per SPEC_FULL.md §9's redesign note),
// switch_task_state's state-transition table, get_next_ready_task's FIFO
// policy, and schedule_handler/context_switch_to's timer-driven switch. The
// inline asm in context_switch_to (locate the frame, pop segments/GPRs,
// IRET) is reproduced behind cpu.ResumeContext, the same forward-declared
// asm-backed idiom idt uses for its per-vector stubs.
package sched

import (
	"github.com/ThousandPine/FiRSTSTEP/kernel"
	"github.com/ThousandPine/FiRSTSTEP/kernel/cpu"
	"github.com/ThousandPine/FiRSTSTEP/kernel/gdt"
	"github.com/ThousandPine/FiRSTSTEP/kernel/idt"
	"github.com/ThousandPine/FiRSTSTEP/kernel/mem/paging"
	"github.com/ThousandPine/FiRSTSTEP/kernel/task"
)

// list is a head/tail pair over task.ID, linked through task.TCB's
// Prev/Next fields.
type list struct {
	head, tail task.ID
}

var (
	ready   = list{head: task.NoTask, tail: task.NoTask}
	blocked = list{head: task.NoTask, tail: task.NoTask}

	current = task.NoTask

	panicFn = kernel.Panic

	setKernelStackFn    = gdt.SetKernelStack
	switchAddressSpaceFn = paging.SwitchAddressSpace
	resumeContextFn      = cpu.ResumeContext
)

func listAdd(l *list, id task.ID) {
	t := task.Get(id)
	t.Prev, t.Next = task.NoTask, task.NoTask
	if l.head == task.NoTask {
		l.head, l.tail = id, id
		return
	}
	t.Prev = l.tail
	task.Get(l.tail).Next = id
	l.tail = id
}

func listRemove(l *list, id task.ID) bool {
	cur := l.head
	for cur != task.NoTask && cur != id {
		cur = task.Get(cur).Next
	}
	if cur == task.NoTask {
		return false
	}

	t := task.Get(id)
	if l.head == id {
		l.head = t.Next
	}
	if l.tail == id {
		l.tail = t.Prev
	}
	if t.Prev != task.NoTask {
		task.Get(t.Prev).Next = t.Next
	}
	if t.Next != task.NoTask {
		task.Get(t.Next).Prev = t.Prev
	}
	t.Prev, t.Next = task.NoTask, task.NoTask
	return true
}

// Current returns the task presently marked Running, or task.NoTask if the
// scheduler hasn't switched to anything yet. notNull mirrors
// original_source's running_task(uint8_t not_null): when true, a missing
// current task is a panic rather than a silent task.NoTask return.
func Current(notNull bool) task.ID {
	if notNull && current == task.NoTask {
		panicFn(&kernel.Error{Module: "sched", Message: "no running task"})
	}
	return current
}

// getNextReady pops and returns the head of the ready list, or task.NoTask
// if it's empty. Ready tasks are served FIFO, matching
// get_next_ready_task's plain "return the head" policy (the round-robin
// fairness comes entirely from always re-appending the preempted task to
// the tail in SwitchState).
func getNextReady() task.ID {
	id := ready.head
	if id == task.NoTask {
		return task.NoTask
	}
	listRemove(&ready, id)
	return id
}

// SwitchState drives id through the validated state-machine transitions
// switch_task_state encodes: entering Running demotes whatever was
// previously Running back to Ready (appended to the ready tail) and
// removes id from the ready list; entering Ready detaches from Running or
// accepts a brand-new (None) task onto the ready tail; entering Zombie
// only from Running; entering Dead only from Zombie. Invalid transitions
// panic, as in the original.
func SwitchState(id task.ID, state task.State) {
	t := task.Get(id)
	if t.State == state {
		return
	}

	switch state {
	case task.Running:
		switch t.State {
		case task.Ready:
			listRemove(&ready, id)
		default:
			panicFn(&kernel.Error{Module: "sched", Message: "invalid state transition to Running"})
			return
		}
		if prev := current; prev != task.NoTask {
			SwitchState(prev, task.Ready)
		}
		t.State = task.Running
		current = id
		contextSwitchTo(id)

	case task.Ready:
		switch t.State {
		case task.None:
		case task.Running:
			current = task.NoTask
		case task.Blocked:
			listRemove(&blocked, id)
		default:
			panicFn(&kernel.Error{Module: "sched", Message: "invalid state transition to Ready"})
			return
		}
		t.State = task.Ready
		listAdd(&ready, id)

	case task.Blocked:
		if t.State != task.Running {
			panicFn(&kernel.Error{Module: "sched", Message: "invalid state transition to Blocked"})
			return
		}
		current = task.NoTask
		t.State = task.Blocked
		listAdd(&blocked, id)

	case task.Zombie:
		if t.State != task.Running {
			panicFn(&kernel.Error{Module: "sched", Message: "invalid state transition to Zombie"})
			return
		}
		current = task.NoTask
		t.State = task.Zombie

	case task.Dead:
		if t.State != task.Zombie {
			panicFn(&kernel.Error{Module: "sched", Message: "invalid state transition to Dead"})
			return
		}
		t.State = task.Dead

	default:
		panicFn(&kernel.Error{Module: "sched", Message: "invalid target state"})
	}
}

// contextSwitchTo installs id's kernel stack and address space, then
// resumes its saved interrupt frame. Per context_switch_to, it never
// returns to its caller: control resumes wherever id's frame says it left
// off, via IRET.
func contextSwitchTo(id task.ID) {
	t := task.Get(id)
	setKernelStackFn(task.KernelStackTop(id))
	switchAddressSpaceFn(t.PageDir)
	resumeContextFn(defaultFrameAddr(t))
}

// Handler is the timer ISR entrypoint, registered by kmain at
// idt.TimerVector. It records the interrupted frame as the current task's
// saved context, picks the next ready task, and switches to it; if none is
// ready it resumes the current task in place (same tick, no real switch).
// If there is neither a ready task nor a current one (every task is
// Zombie/Blocked, e.g. the tick landed inside Reschedule's idle spin right
// after the last runnable task exited), it simply returns and lets the
// common interrupt epilogue resume whatever was interrupted.
func Handler(frame *idt.Registers) {
	if current != task.NoTask {
		task.Get(current).Frame = frame
	}

	next := getNextReady()
	if next == task.NoTask {
		if current == task.NoTask {
			return
		}
		resumeContextFn(defaultFrameAddr(task.Get(current)))
		return
	}

	SwitchState(next, task.Running)
}

// Yield voluntarily gives up the CPU: the calling task (assumed Running)
// is demoted to Ready and the next ready task, if any, takes over. Unlike
// Handler, Yield is called from ordinary (non-interrupt) kernel context,
// e.g. a blocking syscall polling for a condition.
func Yield() {
	self := Current(true)
	SwitchState(self, task.Ready)

	next := getNextReady()
	if next == task.NoTask {
		// Nothing else to run; go right back to Running.
		SwitchState(self, task.Running)
		return
	}
	SwitchState(next, task.Running)
}

// Block moves the calling task (assumed Running) onto the blocked list and
// switches to the next ready task, same shape as Yield but for a task
// waiting on a condition. No production code calls this today: wait/
// waitpid poll via Yield instead (see kernel/syscall's waitLoop), mirroring
// original_source/kernel/syscall.c's sys_wait, which calls schedule() and
// retries rather than descheduling onto a blocked queue. Kept as half of
// the blocked-state machinery SwitchState already validates transitions
// for, exercised directly by this package's own tests.
func Block() {
	self := Current(true)
	SwitchState(self, task.Blocked)

	next := getNextReady()
	if next == task.NoTask {
		SwitchState(self, task.Ready)
		SwitchState(self, task.Running)
		return
	}
	SwitchState(next, task.Running)
}

// Wake moves id from Blocked onto the ready list; it does not itself
// switch to it. Currently has no caller: nothing in this kernel puts a
// task onto the blocked list in production (see Block's comment), so
// there is nothing to wake. Kept alongside Block as the other half of
// that machinery.
func Wake(id task.ID) {
	SwitchState(id, task.Ready)
}

// Start makes init the first Ready task and never returns: it hands
// control to the timer-driven scheduler loop, halting between ticks.
func Start(init task.ID) {
	SwitchState(init, task.Ready)
	for {
		cpu.Halt()
	}
}

// Reschedule picks the next ready task and switches directly to it,
// without first requeuing the caller onto the ready list the way Yield
// does. The caller must already have left Running (typically into Zombie,
// via SwitchState) before calling this, since Reschedule never touches the
// caller's own state. Mirrors schedule_handler(NULL) in
// original_source/kernel/scheduler.c, which sys_exit calls instead of
// letting the exiting task fall through the normal yield/requeue path.
// If no task is ready, it halts in place (same idle loop Start uses)
// rather than returning control to the exited task's stack.
func Reschedule() {
	next := getNextReady()
	if next == task.NoTask {
		for {
			cpu.Halt()
		}
	}
	SwitchState(next, task.Running)
}
