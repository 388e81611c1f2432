package vm

import (
	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Instructions
// ---------------------------------------------------------------------------

// Instruction is one executable bytecode operation. Execute runs against
// the current thread and may raise a signal (a scheduler request) or a
// fault (an error routed through the thread's catch labels). Control
// instructions redirect the cursor with Thread.JumpTo; all others leave
// it alone and the scheduler advances it.
type Instruction interface {
	Name() string
	Weight() Weight
	Execute(t *Thread) (*Signal, error)
}

// ---------------------------------------------------------------------------
// Stack operations
// ---------------------------------------------------------------------------

// PushData pushes a literal byte string.
type PushData struct {
	Data []byte
}

func (PushData) Name() string     { return "PUSH_DATA" }
func (PushData) Weight() Weight   { return WeightLow }
func (in PushData) Execute(t *Thread) (*Signal, error) {
	return nil, t.Stack().Push(in.Data)
}

// PushConst pushes a literal u64 operand.
type PushConst struct {
	Value uint64
}

func (PushConst) Name() string   { return "PUSH_CONST" }
func (PushConst) Weight() Weight { return WeightLow }
func (in PushConst) Execute(t *Thread) (*Signal, error) {
	return nil, t.Stack().PushU64(in.Value)
}

// Drop discards the topmost Size bytes.
type Drop struct {
	Size uint64
}

func (Drop) Name() string   { return "DROP" }
func (Drop) Weight() Weight { return WeightLow }
func (in Drop) Execute(t *Thread) (*Signal, error) {
	_, err := t.Stack().Pop(in.Size)
	return nil, err
}

// Dup duplicates the topmost Size bytes.
type Dup struct {
	Size uint64
}

func (Dup) Name() string   { return "DUP" }
func (Dup) Weight() Weight { return WeightLow }
func (in Dup) Execute(t *Thread) (*Signal, error) {
	s := t.Stack()
	if in.Size > s.Top() {
		return nil, ErrStackUnderflow
	}
	data, err := s.Read(s.Top()-in.Size, in.Size)
	if err != nil {
		return nil, err
	}
	return nil, s.Push(data)
}

// ---------------------------------------------------------------------------
// Control flow
// ---------------------------------------------------------------------------

// Jump transfers control to a label unconditionally.
type Jump struct {
	Label uuid.UUID
}

func (Jump) Name() string   { return "JUMP" }
func (Jump) Weight() Weight { return WeightLow }
func (in Jump) Execute(t *Thread) (*Signal, error) {
	return nil, t.JumpToLabel(in.Label)
}

// JumpIf pops one flag byte and jumps when it is non-zero.
type JumpIf struct {
	Label uuid.UUID
}

func (JumpIf) Name() string   { return "JUMP_IF" }
func (JumpIf) Weight() Weight { return WeightLow }
func (in JumpIf) Execute(t *Thread) (*Signal, error) {
	flag, err := t.Stack().Pop(1)
	if err != nil {
		return nil, err
	}
	if flag[0] != 0 {
		return nil, t.JumpToLabel(in.Label)
	}
	return nil, nil
}

// Call pushes the return index, opens a frame with a reserved region,
// and jumps to the label. Ret unwinds the frame and returns.
type Call struct {
	Label    uuid.UUID
	Reserved uint64
}

func (Call) Name() string   { return "CALL" }
func (Call) Weight() Weight { return WeightMedium }
func (in Call) Execute(t *Thread) (*Signal, error) {
	if err := t.Stack().PushU64(uint64(t.PC() + 1)); err != nil {
		return nil, err
	}
	if err := t.Stack().OpenFrame(in.Reserved); err != nil {
		return nil, err
	}
	return nil, t.JumpToLabel(in.Label)
}

// Ret closes the current frame and jumps back to the return index the
// matching Call pushed just below the frame.
type Ret struct{}

func (Ret) Name() string   { return "RET" }
func (Ret) Weight() Weight { return WeightMedium }
func (Ret) Execute(t *Thread) (*Signal, error) {
	if err := t.Stack().CloseFrame(); err != nil {
		return nil, err
	}
	ret, err := t.Stack().PopU64()
	if err != nil {
		return nil, err
	}
	t.JumpTo(int(ret))
	return nil, nil
}

// CleanLocals pops everything above the current frame's zero point,
// keeping the reserved region intact.
type CleanLocals struct{}

func (CleanLocals) Name() string   { return "CLEAN_LOCALS" }
func (CleanLocals) Weight() Weight { return WeightLow }
func (CleanLocals) Execute(t *Thread) (*Signal, error) {
	return nil, t.Stack().CleanFrame()
}

// ---------------------------------------------------------------------------
// Fault handling
// ---------------------------------------------------------------------------

// TryEnter arms a catch label: a fault before the matching TryLeave
// jumps there instead of killing the thread.
type TryEnter struct {
	Label uuid.UUID
}

func (TryEnter) Name() string   { return "TRY_ENTER" }
func (TryEnter) Weight() Weight { return WeightLow }
func (in TryEnter) Execute(t *Thread) (*Signal, error) {
	t.ArmCatch(in.Label)
	return nil, nil
}

// TryLeave disarms the innermost catch label.
type TryLeave struct{}

func (TryLeave) Name() string   { return "TRY_LEAVE" }
func (TryLeave) Weight() Weight { return WeightLow }
func (TryLeave) Execute(t *Thread) (*Signal, error) {
	t.DisarmCatch()
	return nil, nil
}
