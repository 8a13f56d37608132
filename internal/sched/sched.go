// Package sched implements the cooperative + timer-driven task scheduler of
// spec §4.9: heavyweight TSS-backed tasks, an immutable captured-context /
// installed-context swap on every tick instead of in-place frame editing
// (per spec §9's REDESIGN FLAGS), and a pluggable "pick next" callback.
package sched

import (
	"sync"

	"github.com/example/x86kernel/internal/cpu"
	"github.com/example/x86kernel/internal/kerrno"
)

// State is a task's run state, spec §3.
type State int

const (
	Ready State = iota
	Running
	Stopped
)

// Context is a full machine-context snapshot: general registers, segment
// selectors, both stack pointers, instruction pointer, flags — spec §3.
// Deliberately a plain value type: spec §9 calls for "an immutable snapshot
// captured on entry to the interrupt and a separate installed context
// written on exit," so a Context is copied, never mutated through a
// pointer shared with the interrupt frame.
type Context struct {
	EAX, EBX, ECX, EDX uint32
	ESI, EDI, EBP      uint32
	EIP, EFLAGS        uint32
	CS, DS, ES, FS, GS, SS uint32
	KStackTop, UStackTop   uint32
	ESP                    uint32
}

// Task is one schedulable thread of execution, spec §4.9.
type Task struct {
	mu sync.Mutex

	id        int
	state     State
	ctx       Context
	tssIndex  int
	ldtIndex  int
}

func (t *Task) ID() int { return t.id }

func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Task) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

// Context returns a copy of the task's captured context.
func (t *Task) Context() Context {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ctx
}

// NextFunc picks the task to run next on a timer tick, or nil to keep
// running the current task, per spec §4.9's task_set_scheduler contract.
type NextFunc func(tick uint64) *Task

// Scheduler owns the task table, the GDT (for TSS descriptor allocation),
// the currently-running task, and the armed next-task callback.
type Scheduler struct {
	mu       sync.Mutex
	gdt      *cpu.GDT
	tasks    []*Task
	current  *Task
	next     NextFunc
	nextID   int
	tick     uint64
}

func New(gdt *cpu.GDT) *Scheduler {
	return &Scheduler{gdt: gdt}
}

// TaskInit allocates a GDT slot for the task's TSS descriptor and records
// an initial Context that starts the task at entry with ESP at kstackTop
// and interrupts enabled, per spec §4.9's task_init contract. No stack
// memory is written.
func (s *Scheduler) TaskInit(entry uint32, kstackTop, ustackTop uint32, codeSel, dataSel uint32) (*Task, error) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.mu.Unlock()

	tssIdx, err := s.gdt.AllocEntry(cpu.Descriptor{Kind: cpu.SegTSS, Ring: cpu.Ring0})
	if err != nil {
		return nil, kerrno.Wrap("sched.TaskInit", err)
	}

	t := &Task{
		id:       id,
		state:    Ready,
		tssIndex: tssIdx,
		ldtIndex: -1,
		ctx: Context{
			EIP:       entry,
			EFLAGS:    0x202, // IF set, reserved bit 1 set
			CS:        codeSel,
			DS:        dataSel,
			ES:        dataSel,
			KStackTop: kstackTop,
			UStackTop: ustackTop,
			ESP:       kstackTop,
		},
	}

	s.mu.Lock()
	s.tasks = append(s.tasks, t)
	s.mu.Unlock()
	return t, nil
}

// TaskKthreadInit is task_kthread_init: a kernel-only task with no user
// stack and no ring transition, per spec §4.9.
func (s *Scheduler) TaskKthreadInit(entry uint32, kstackTop uint32, codeSel, dataSel uint32) (*Task, error) {
	return s.TaskInit(entry, kstackTop, 0, codeSel, dataSel)
}

// SetScheduler arms the "pick next" callback invoked on every timer tick.
func (s *Scheduler) SetScheduler(next NextFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next = next
}

// Current returns the task currently installed in TR, or nil before the
// first tick.
func (s *Scheduler) Current() *Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Tick runs one timer-interrupt scheduling decision, per spec §4.9's steps:
// if no scheduler is armed, do nothing; otherwise ask for the next task and,
// if it differs from current, swap contexts and load TR.
//
// installed is the captured context of whatever was interrupted (the
// "interrupted stack frame"); Tick returns the context that must be written
// back ("installed context") before returning from the interrupt.
func (s *Scheduler) Tick(installed Context) (Context, error) {
	s.mu.Lock()
	s.tick++
	tick := s.tick
	next := s.next
	cur := s.current
	s.mu.Unlock()

	if next == nil {
		return installed, nil
	}

	picked := next(tick)
	if picked == nil || picked == cur {
		return installed, nil
	}

	if cur != nil {
		cur.mu.Lock()
		cur.ctx = installed
		cur.state = Ready
		cur.mu.Unlock()
		if err := s.gdt.ClearBusy(cur.tssIndex); err != nil {
			return installed, kerrno.Wrap("sched.Tick", err)
		}
	}

	picked.mu.Lock()
	newCtx := picked.ctx
	picked.state = Running
	picked.mu.Unlock()

	if err := s.gdt.LoadTR(picked.tssIndex); err != nil {
		return installed, kerrno.Wrap("sched.Tick", err)
	}

	s.mu.Lock()
	s.current = picked
	s.mu.Unlock()

	return newCtx, nil
}

// Teardown frees a stopped task's GDT slot, per spec §9's task-lifetime
// REDESIGN FLAG (the original leaks TSS descriptors forever since tasks
// never end; this rewrite defines real teardown).
func (s *Scheduler) Teardown(t *Task) error {
	t.setState(Stopped)
	if err := s.gdt.Free(t.tssIndex); err != nil {
		return kerrno.Wrap("sched.Teardown", err)
	}
	s.mu.Lock()
	for i, tt := range s.tasks {
		if tt == t {
			s.tasks = append(s.tasks[:i], s.tasks[i+1:]...)
			break
		}
	}
	if s.current == t {
		s.current = nil
	}
	s.mu.Unlock()
	return nil
}
