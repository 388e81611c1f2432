package vm

import "math"

// ---------------------------------------------------------------------------
// Thread operations
// ---------------------------------------------------------------------------
//
// These instructions do not act on the scheduler directly; they raise
// signals, and the scheduler reports outcomes back onto the stack: the
// affected tid as a u64 plus the OK flag on success, or the ERROR flag
// alone when the request was invalid. Faults never come out of a failed
// scheduling request.

// Spawn requests a new thread running the carried program. On the next
// pass the caller finds the child's tid and the OK flag on its stack,
// or the ERROR flag when the pool is exhausted.
type Spawn struct {
	Program *Program
}

func (Spawn) Name() string   { return "SPAWN" }
func (Spawn) Weight() Weight { return WeightLow }
func (in Spawn) Execute(t *Thread) (*Signal, error) {
	return SpawnSignal(in.Program), nil
}

// Exit completes the current thread.
type Exit struct{}

func (Exit) Name() string   { return "EXIT" }
func (Exit) Weight() Weight { return WeightLow }
func (Exit) Execute(t *Thread) (*Signal, error) {
	return ExitSignal(), nil
}

// Close pops a tid and completes that thread from outside.
type Close struct{}

func (Close) Name() string   { return "CLOSE" }
func (Close) Weight() Weight { return WeightLow }
func (Close) Execute(t *Thread) (*Signal, error) {
	tid, err := t.Stack().PopU64()
	if err != nil {
		return nil, err
	}
	if tid > math.MaxUint8 {
		// Beyond the tid range, so it cannot name a live thread.
		return nil, t.PushErrorResult()
	}
	return CloseSignal(Tid(tid)), nil
}

// Wait parks the current thread until another thread wakes it.
type Wait struct{}

func (Wait) Name() string   { return "WAIT" }
func (Wait) Weight() Weight { return WeightLow }
func (Wait) Execute(t *Thread) (*Signal, error) {
	return WaitSignal(), nil
}

// Wake pops a tid and unparks that thread.
type Wake struct{}

func (Wake) Name() string   { return "WAKE" }
func (Wake) Weight() Weight { return WeightLow }
func (Wake) Execute(t *Thread) (*Signal, error) {
	tid, err := t.Stack().PopU64()
	if err != nil {
		return nil, err
	}
	if tid > math.MaxUint8 {
		return nil, t.PushErrorResult()
	}
	return WakeSignal(Tid(tid)), nil
}

// Sleep pops a tick count and parks the current thread for exactly that
// many scheduler ticks.
type Sleep struct{}

func (Sleep) Name() string   { return "SLEEP" }
func (Sleep) Weight() Weight { return WeightLow }
func (Sleep) Execute(t *Thread) (*Signal, error) {
	ticks, err := t.Stack().PopU64()
	if err != nil {
		return nil, err
	}
	return SleepSignal(ticks), nil
}

// Join pops a tid and parks the current thread until that thread
// completes. The waker pushes the joined tid and the OK flag.
type Join struct{}

func (Join) Name() string   { return "JOIN" }
func (Join) Weight() Weight { return WeightLow }
func (Join) Execute(t *Thread) (*Signal, error) {
	tid, err := t.Stack().PopU64()
	if err != nil {
		return nil, err
	}
	if tid > math.MaxUint8 {
		return nil, t.PushErrorResult()
	}
	return JoinSignal(Tid(tid)), nil
}
