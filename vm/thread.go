package vm

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Threads
// ---------------------------------------------------------------------------

// Tid identifies a green thread. Tids come from a fixed pool sized by
// the scheduler's thread limit and are recycled after a thread is
// reaped, so a Tid is only meaningful while its thread is live.
type Tid uint8

// ThreadState is the scheduler-visible lifecycle state of a thread.
type ThreadState uint8

const (
	// ThreadRunning threads are eligible for execution passes.
	ThreadRunning ThreadState = iota
	// ThreadWaiting threads are parked until an explicit wake.
	ThreadWaiting
	// ThreadSleeping threads are parked for a counted number of ticks.
	ThreadSleeping
	// ThreadCompleted threads have exited and await reaping.
	ThreadCompleted
)

func (s ThreadState) String() string {
	switch s {
	case ThreadRunning:
		return "RUNNING"
	case ThreadWaiting:
		return "WAITING"
	case ThreadSleeping:
		return "SLEEPING"
	case ThreadCompleted:
		return "COMPLETED"
	default:
		return "INVALID"
	}
}

// Result flags pushed onto a thread's stack after a scheduling request.
// The flag byte sits on top of the stack, above any payload.
const (
	OkFlag    byte = 0
	ErrorFlag byte = 1
)

// Thread is one green thread: a program, a cursor into it, a private
// stack and the catch-label stack for fault recovery. Threads share the
// global region and the heap through mem.
type Thread struct {
	tid     Tid
	program *Program
	stack   *Stack
	mem     *Memory
	stdio   *StdIO

	pc     int
	jumped bool // set when the cursor was redirected this instruction
	state  ThreadState
	sleep  uint64 // remaining ticks while ThreadSleeping

	catch catchStack
}

func newThread(tid Tid, p *Program, mem *Memory, stdio *StdIO) *Thread {
	return &Thread{
		tid:     tid,
		program: p,
		stack:   NewStack(mem.Geometry()),
		mem:     mem,
		stdio:   stdio,
		state:   ThreadRunning,
	}
}

// Tid returns the thread's identifier.
func (t *Thread) Tid() Tid { return t.tid }

// State returns the thread's lifecycle state.
func (t *Thread) State() ThreadState { return t.state }

// PC returns the thread's instruction cursor.
func (t *Thread) PC() int { return t.pc }

// Stack returns the thread's private stack.
func (t *Thread) Stack() *Stack { return t.stack }

// Memory returns the shared memory.
func (t *Thread) Memory() *Memory { return t.mem }

// Program returns the program this thread is running.
func (t *Thread) Program() *Program { return t.program }

// StdIO returns the shared standard I/O surface.
func (t *Thread) StdIO() *StdIO { return t.stdio }

// ReadAt reads size bytes at a flat address, resolving stack-zone
// addresses against this thread's stack.
func (t *Thread) ReadAt(flat, size uint64) ([]byte, error) {
	return t.mem.Read(t.stack, flat, size)
}

// WriteAt writes data at a flat address, resolving stack-zone addresses
// against this thread's stack.
func (t *Thread) WriteAt(flat uint64, data []byte) error {
	return t.mem.Write(t.stack, flat, data)
}

// Flatten resolves a tagged address against this thread's current frame.
func (t *Thread) Flatten(a Address) (uint64, error) {
	return t.mem.Geometry().Flatten(a, t.stack.FramePointer())
}

// PushTidResult reports a scheduling request's outcome onto the stack:
// the affected tid as a little-endian u64, then the OK flag on top.
func (t *Thread) PushTidResult(tid Tid) error {
	var word [8]byte
	binary.LittleEndian.PutUint64(word[:], uint64(tid))
	if err := t.stack.Push(word[:]); err != nil {
		return err
	}
	return t.stack.Push([]byte{OkFlag})
}

// PushErrorResult reports a failed scheduling request: just the ERROR
// flag, no payload.
func (t *Thread) PushErrorResult() error {
	return t.stack.Push([]byte{ErrorFlag})
}

// JumpTo redirects the cursor to an absolute instruction index. The
// scheduler will not advance past a redirected cursor this instruction.
func (t *Thread) JumpTo(index int) {
	t.pc = index
	t.jumped = true
}

// JumpToLabel redirects the cursor to a label's instruction.
func (t *Thread) JumpToLabel(id uuid.UUID) error {
	index, err := t.program.Resolve(id)
	if err != nil {
		return err
	}
	t.JumpTo(index)
	return nil
}

// step advances the cursor unless the instruction redirected it.
func (t *Thread) step() {
	if t.jumped {
		t.jumped = false
		return
	}
	t.pc++
}

// ---------------------------------------------------------------------------
// State transitions (driven by the scheduler)
// ---------------------------------------------------------------------------

func (t *Thread) park() {
	t.state = ThreadWaiting
}

func (t *Thread) parkFor(ticks uint64) {
	t.state = ThreadSleeping
	t.sleep = ticks
}

func (t *Thread) wake() {
	t.state = ThreadRunning
	t.sleep = 0
}

func (t *Thread) complete() {
	t.state = ThreadCompleted
}

// tickSleep decrements a sleeping thread's counter, waking it at zero.
// Exactly n ticks elapse for SLEEP(n) before the thread runs again.
func (t *Thread) tickSleep() {
	if t.state != ThreadSleeping {
		return
	}
	if t.sleep > 0 {
		t.sleep--
	}
	if t.sleep == 0 {
		t.wake()
	}
}

// ---------------------------------------------------------------------------
// Fault recovery
// ---------------------------------------------------------------------------

// recover redirects the cursor to the innermost catch label. The label
// stays armed; the handler disarms it with TryLeave when it no longer
// wants faults routed back to itself. With no label armed the fault is
// fatal for the thread and comes back wrapped as a RuntimeError.
func (t *Thread) recover(fault error) error {
	id, ok := t.catch.top()
	if !ok {
		return &RuntimeError{Tid: t.tid, At: t.pc, Err: fault}
	}
	index, err := t.program.Resolve(id)
	if err != nil {
		// A catch label pointing outside the program is itself fatal.
		return &RuntimeError{Tid: t.tid, At: t.pc, Err: fmt.Errorf("bad catch label: %w", err)}
	}
	t.pc = index
	t.jumped = false
	return nil
}
