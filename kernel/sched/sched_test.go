package sched

import (
	"testing"

	"github.com/ThousandPine/FiRSTSTEP/kernel"
	"github.com/ThousandPine/FiRSTSTEP/kernel/idt"
	"github.com/ThousandPine/FiRSTSTEP/kernel/mem/paging"
	"github.com/ThousandPine/FiRSTSTEP/kernel/task"
)

// install substitutes every hardware-facing indirection with no-ops/spies
// and resets both package-level state (the ready/blocked lists, current)
// and the task table, the same per-test reset idiom package task uses.
func install(t *testing.T) *spy {
	t.Helper()
	realSetStack := setKernelStackFn
	realSwitchAS := switchAddressSpaceFn
	realResume := resumeContextFn
	realPanic := panicFn
	restoreDestroyPD := task.DestroyUserPageDirForTest(func(*paging.PageDirectory) {})

	s := &spy{}
	setKernelStackFn = func(esp0 uintptr) { s.stacksSet++ }
	switchAddressSpaceFn = func(pd *paging.PageDirectory) { s.spacesSwitched++ }
	resumeContextFn = func(addr uintptr) { s.resumes++ }
	panicFn = func(e interface{}) {
		if pe, ok := e.(*kernel.Error); ok {
			s.panics = append(s.panics, pe)
		}
	}

	t.Cleanup(func() {
		setKernelStackFn = realSetStack
		switchAddressSpaceFn = realSwitchAS
		resumeContextFn = realResume
		panicFn = realPanic
		restoreDestroyPD()
		ready = list{head: task.NoTask, tail: task.NoTask}
		blocked = list{head: task.NoTask, tail: task.NoTask}
		current = task.NoTask
		task.ResetForTest()
	})

	ready = list{head: task.NoTask, tail: task.NoTask}
	blocked = list{head: task.NoTask, tail: task.NoTask}
	current = task.NoTask
	task.ResetForTest()
	return s
}

type spy struct {
	stacksSet      int
	spacesSwitched int
	resumes        int
	panics         []*kernel.Error
}

var nextTestPID = 100

func newTask(t *testing.T, state task.State) task.ID {
	t.Helper()
	nextTestPID++
	id := task.NewForTest(nextTestPID, task.NoTask, state)
	if id == task.NoTask {
		t.Fatal("task.NewForTest: process table full")
	}
	task.Get(id).Frame = &idt.Registers{}
	return id
}

func TestSwitchStateNoneToReadyEnqueues(t *testing.T) {
	install(t)
	id := newTask(t, task.None)

	SwitchState(id, task.Ready)

	if task.Get(id).State != task.Ready {
		t.Fatalf("state = %v; want Ready", task.Get(id).State)
	}
	if ready.head != id || ready.tail != id {
		t.Fatal("expected the new task to be the sole entry on the ready list")
	}
}

func TestSwitchStateReadyToRunningSwitchesContext(t *testing.T) {
	s := install(t)
	id := newTask(t, task.None)
	SwitchState(id, task.Ready)

	SwitchState(id, task.Running)

	if task.Get(id).State != task.Running {
		t.Fatalf("state = %v; want Running", task.Get(id).State)
	}
	if Current(true) != id {
		t.Fatal("expected Current to report the newly running task")
	}
	if s.stacksSet != 1 || s.spacesSwitched != 1 || s.resumes != 1 {
		t.Fatalf("context switch side effects = %+v; want one of each", s)
	}
}

func TestSwitchStateRunningToReadyDemotesAndRequeues(t *testing.T) {
	install(t)
	a := newTask(t, task.None)
	SwitchState(a, task.Ready)
	SwitchState(a, task.Running)

	SwitchState(a, task.Ready)

	if task.Get(a).State != task.Ready {
		t.Fatalf("state = %v; want Ready", task.Get(a).State)
	}
	if Current(false) != task.NoTask {
		t.Fatal("expected no task to be Current after demotion")
	}
	if ready.head != a {
		t.Fatal("expected the demoted task back on the ready list")
	}
}

func TestSwitchStateRunningPreemptsToTailBehindReady(t *testing.T) {
	install(t)
	a := newTask(t, task.None)
	b := newTask(t, task.None)
	SwitchState(a, task.Ready)
	SwitchState(a, task.Running)
	SwitchState(b, task.Ready)

	// Scheduling b makes a (currently Running) demote to the ready tail,
	// behind b... but b is about to leave the ready list to become
	// Running, so afterwards only a should remain ready.
	SwitchState(b, task.Running)

	if Current(true) != b {
		t.Fatal("expected b to be Current")
	}
	if task.Get(a).State != task.Ready {
		t.Fatal("expected a to have been demoted to Ready")
	}
	if ready.head != a || ready.tail != a {
		t.Fatal("expected a to be the sole remaining ready task")
	}
}

func TestSwitchStateInvalidTransitionPanics(t *testing.T) {
	s := install(t)
	id := newTask(t, task.None)

	SwitchState(id, task.Running) // None -> Running is invalid; only Ready -> Running is.

	if len(s.panics) != 1 {
		t.Fatalf("panics = %d; want 1", len(s.panics))
	}
}

func TestGetNextReadyIsFIFO(t *testing.T) {
	install(t)
	a := newTask(t, task.None)
	b := newTask(t, task.None)
	SwitchState(a, task.Ready)
	SwitchState(b, task.Ready)

	if got := getNextReady(); got != a {
		t.Fatalf("first = %v; want %v", got, a)
	}
	if got := getNextReady(); got != b {
		t.Fatalf("second = %v; want %v", got, b)
	}
	if got := getNextReady(); got != task.NoTask {
		t.Fatalf("third = %v; want NoTask", got)
	}
}

func TestHandlerSwitchesToNextReadyTask(t *testing.T) {
	install(t)
	a := newTask(t, task.None)
	b := newTask(t, task.None)
	SwitchState(a, task.Ready)
	SwitchState(a, task.Running)
	SwitchState(b, task.Ready)

	frame := &idt.Registers{EIP: 0xCAFE}
	Handler(frame)

	if task.Get(a).Frame != frame {
		t.Fatal("expected the preempted task's frame to be saved")
	}
	if Current(true) != b {
		t.Fatal("expected the timer tick to switch to the next ready task")
	}
}

func TestHandlerWithNoReadyTaskResumesCurrent(t *testing.T) {
	s := install(t)
	a := newTask(t, task.None)
	SwitchState(a, task.Ready)
	SwitchState(a, task.Running)
	resumesBefore := s.resumes

	Handler(&idt.Registers{})

	if Current(true) != a {
		t.Fatal("expected the only task to remain Current")
	}
	if s.resumes != resumesBefore+1 {
		t.Fatal("expected Handler to resume the current task when nothing else is ready")
	}
}

func TestYieldSwitchesToAnotherReadyTask(t *testing.T) {
	install(t)
	a := newTask(t, task.None)
	b := newTask(t, task.None)
	SwitchState(a, task.Ready)
	SwitchState(a, task.Running)
	SwitchState(b, task.Ready)

	Yield()

	if Current(true) != b {
		t.Fatal("expected Yield to switch to the other ready task")
	}
	if task.Get(a).State != task.Ready {
		t.Fatal("expected the yielding task to be Ready")
	}
}

func TestYieldWithNoOtherReadyTaskStaysRunning(t *testing.T) {
	install(t)
	a := newTask(t, task.None)
	SwitchState(a, task.Ready)
	SwitchState(a, task.Running)

	Yield()

	if Current(true) != a {
		t.Fatal("expected the sole task to remain Current after Yield")
	}
	if task.Get(a).State != task.Running {
		t.Fatalf("state = %v; want Running", task.Get(a).State)
	}
}

func TestBlockThenWakeReturnsTaskToReady(t *testing.T) {
	install(t)
	a := newTask(t, task.None)
	b := newTask(t, task.None)
	SwitchState(a, task.Ready)
	SwitchState(a, task.Running)
	SwitchState(b, task.Ready)

	Block() // a blocks, b should now run

	if task.Get(a).State != task.Blocked {
		t.Fatalf("state = %v; want Blocked", task.Get(a).State)
	}
	if Current(true) != b {
		t.Fatal("expected b to be running after a blocks")
	}

	Wake(a)

	if task.Get(a).State != task.Ready {
		t.Fatalf("state = %v; want Ready", task.Get(a).State)
	}
	if ready.head != a {
		t.Fatal("expected the woken task back on the ready list")
	}
}

func TestSwitchStateZombieOnlyFromRunning(t *testing.T) {
	s := install(t)
	id := newTask(t, task.None)

	SwitchState(id, task.Zombie)

	if len(s.panics) != 1 {
		t.Fatalf("panics = %d; want 1", len(s.panics))
	}
}

func TestHandlerWithNoCurrentAndNoReadyIsNoop(t *testing.T) {
	s := install(t)
	resumesBefore := s.resumes

	Handler(&idt.Registers{})

	if Current(false) != task.NoTask {
		t.Fatal("expected no Current task")
	}
	if s.resumes != resumesBefore {
		t.Fatal("expected Handler not to call resumeContextFn when nothing is current and nothing is ready")
	}
}

func TestRescheduleSwitchesToNextReadyWithoutRequeuingCaller(t *testing.T) {
	install(t)
	a := newTask(t, task.None)
	b := newTask(t, task.None)
	SwitchState(a, task.Ready)
	SwitchState(a, task.Running)
	SwitchState(b, task.Ready)

	// a has already left Running for Zombie, the way sysExit drives it,
	// before calling Reschedule.
	SwitchState(a, task.Zombie)

	Reschedule()

	if Current(true) != b {
		t.Fatal("expected Reschedule to switch to the next ready task")
	}
	if task.Get(a).State != task.Zombie {
		t.Fatal("expected Reschedule not to touch the caller's own state")
	}
	if ready.head != task.NoTask {
		t.Fatal("expected the ready list to be empty, not holding the zombie task")
	}
}

// TestWaitFindsAlreadyZombieChild drives real task.Exit/task.Wait together
// with sched's state machine to cover scenario E1: a parent calling wait
// after its child has already exited finds it Zombie on the very first
// call, no yield required.
func TestWaitFindsAlreadyZombieChild(t *testing.T) {
	install(t)
	parent := newTask(t, task.None)
	SwitchState(parent, task.Ready)
	SwitchState(parent, task.Running)

	child := task.NewForTest(555, parent, task.None)
	task.Get(child).Frame = &idt.Registers{}
	SwitchState(child, task.Ready)
	SwitchState(child, task.Running) // demotes parent back to Ready

	task.Exit(child, 7)
	SwitchState(child, task.Zombie)
	Reschedule() // only parent is ready; hands control back to it

	if Current(true) != parent {
		t.Fatal("expected Reschedule to hand control back to the parent")
	}

	pid, code, found, ok := task.Wait(parent)
	if !found || !ok {
		t.Fatalf("found=%v ok=%v; want both true, child already Zombie", found, ok)
	}
	if pid != 555 || code != 7 {
		t.Fatalf("(pid, code) = (%d, %d); want (555, 7)", pid, code)
	}
}

// TestParentYieldsUntilChildExitsScenarioE3 covers scenario E3: a parent
// calling wait before its child has exited must yield (not block forever)
// and retry, eventually observing the child once it actually exits. This is
// the case that used to deadlock when waitLoop called sched.Block instead
// of sched.Yield, since nothing ever called sched.Wake.
func TestParentYieldsUntilChildExitsScenarioE3(t *testing.T) {
	install(t)
	parent := newTask(t, task.None)
	SwitchState(parent, task.Ready)
	SwitchState(parent, task.Running)

	child := task.NewForTest(777, parent, task.None)
	task.Get(child).Frame = &idt.Registers{}
	SwitchState(child, task.Ready) // child is ready but hasn't run yet

	_, _, found, ok := task.Wait(parent)
	if found || !ok {
		t.Fatalf("found=%v ok=%v; want found=false ok=true (child alive, not yet Zombie)", found, ok)
	}

	Yield() // mirrors waitLoop's retry path
	if Current(true) != child {
		t.Fatal("expected Yield to hand the CPU to the child")
	}

	// Child exits exactly as sysExit drives it: task.Exit, then
	// SwitchState(..., Zombie), then Reschedule straight to the next ready
	// task rather than Yield's requeue-self path.
	task.Exit(child, 42)
	SwitchState(child, task.Zombie)
	Reschedule()

	if Current(true) != parent {
		t.Fatal("expected Reschedule to hand control back to the parent")
	}

	pid, code, found, ok := task.Wait(parent)
	if !found || !ok {
		t.Fatalf("found=%v ok=%v; want both true now that the child has exited", found, ok)
	}
	if pid != 777 || code != 42 {
		t.Fatalf("(pid, code) = (%d, %d); want (777, 42)", pid, code)
	}
}

func TestSwitchStateZombieThenDead(t *testing.T) {
	install(t)
	id := newTask(t, task.None)
	SwitchState(id, task.Ready)
	SwitchState(id, task.Running)

	SwitchState(id, task.Zombie)
	if task.Get(id).State != task.Zombie {
		t.Fatalf("state = %v; want Zombie", task.Get(id).State)
	}
	if Current(false) != task.NoTask {
		t.Fatal("expected no Current task once it goes Zombie")
	}

	SwitchState(id, task.Dead)
	if task.Get(id).State != task.Dead {
		t.Fatalf("state = %v; want Dead", task.Get(id).State)
	}
}
