package vm

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Fault taxonomy
// ---------------------------------------------------------------------------

// Allocator faults.
var (
	// ErrAllocation indicates no free block can satisfy an allocation.
	ErrAllocation = errors.New("vm: allocation error")

	// ErrFree indicates a free of a block that is not allocated (double free).
	ErrFree = errors.New("vm: free error")

	// ErrInvalidPointer indicates a malformed block (header/footer mismatch),
	// a misaligned offset, or an offset outside the heap.
	ErrInvalidPointer = errors.New("vm: invalid pointer")

	// ErrRead indicates a read outside addressable memory.
	ErrRead = errors.New("vm: read error")

	// ErrWrite indicates a write outside addressable memory.
	ErrWrite = errors.New("vm: write error")
)

// Stack faults.
var (
	ErrStackOverflow  = errors.New("vm: stack overflow")
	ErrStackUnderflow = errors.New("vm: stack underflow")
)

// Addressing faults.
var (
	// ErrMemoryViolation indicates a flat address outside every configured zone.
	ErrMemoryViolation = errors.New("vm: memory violation")
)

// Scheduling faults. These are reported back onto the calling thread's
// stack as in-language error values, never surfaced as host errors.
var (
	ErrInvalidTid     = errors.New("vm: invalid tid")
	ErrTooManyThreads = errors.New("vm: too many threads")
)

// Execution faults.
var (
	// ErrCodeSegmentation indicates a jump or fetch outside the program.
	ErrCodeSegmentation = errors.New("vm: code segmentation")

	ErrMath            = errors.New("vm: math error")
	ErrIndexOutOfBound = errors.New("vm: index out of bound")
	ErrDeserialization = errors.New("vm: deserialization error")
)

// RuntimeError is a fault that escaped every catch label of the thread
// that raised it. It is fatal for that thread's execution pass and is
// returned to the host from Scheduler.Tick.
type RuntimeError struct {
	Tid Tid   // thread that faulted
	At  int   // instruction index at the fault
	Err error // underlying fault
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("vm: thread %d faulted at instruction %d: %v", e.Tid, e.At, e.Err)
}

func (e *RuntimeError) Unwrap() error { return e.Err }
