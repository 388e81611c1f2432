package vm

import "fmt"

// ---------------------------------------------------------------------------
// Arithmetic and comparison
// ---------------------------------------------------------------------------
//
// Binary operations pop the right operand, then the left, and push the
// result. Operands are unsigned 64-bit little-endian words; arithmetic
// wraps on overflow, the way unsigned machine arithmetic does.

// BinOpKind selects a binary arithmetic operation.
type BinOpKind uint8

const (
	OpAdd BinOpKind = iota
	OpSub
	OpMul
	OpDiv
	OpMod
)

func (k BinOpKind) String() string {
	switch k {
	case OpAdd:
		return "ADD"
	case OpSub:
		return "SUB"
	case OpMul:
		return "MUL"
	case OpDiv:
		return "DIV"
	case OpMod:
		return "MOD"
	default:
		return "INVALID"
	}
}

// BinOp applies a binary arithmetic operation to the two topmost u64
// operands. Division and modulo by zero are math faults, catchable like
// any other fault.
type BinOp struct {
	Kind BinOpKind
}

func (in BinOp) Name() string { return in.Kind.String() }
func (BinOp) Weight() Weight  { return WeightLow }

func (in BinOp) Execute(t *Thread) (*Signal, error) {
	rhs, err := t.Stack().PopU64()
	if err != nil {
		return nil, err
	}
	lhs, err := t.Stack().PopU64()
	if err != nil {
		return nil, err
	}
	var out uint64
	switch in.Kind {
	case OpAdd:
		out = lhs + rhs
	case OpSub:
		out = lhs - rhs
	case OpMul:
		out = lhs * rhs
	case OpDiv:
		if rhs == 0 {
			return nil, fmt.Errorf("%w: division by zero", ErrMath)
		}
		out = lhs / rhs
	case OpMod:
		if rhs == 0 {
			return nil, fmt.Errorf("%w: modulo by zero", ErrMath)
		}
		out = lhs % rhs
	default:
		return nil, fmt.Errorf("%w: unknown binary op %d", ErrDeserialization, in.Kind)
	}
	return nil, t.Stack().PushU64(out)
}

// CmpOpKind selects a comparison.
type CmpOpKind uint8

const (
	CmpEq CmpOpKind = iota
	CmpNe
	CmpLt
	CmpLe
)

func (k CmpOpKind) String() string {
	switch k {
	case CmpEq:
		return "EQ"
	case CmpNe:
		return "NE"
	case CmpLt:
		return "LT"
	case CmpLe:
		return "LE"
	default:
		return "INVALID"
	}
}

// CmpOp compares the two topmost u64 operands and pushes one flag byte:
// 1 when the comparison holds, 0 otherwise. The flag feeds JumpIf.
type CmpOp struct {
	Kind CmpOpKind
}

func (in CmpOp) Name() string { return in.Kind.String() }
func (CmpOp) Weight() Weight  { return WeightLow }

func (in CmpOp) Execute(t *Thread) (*Signal, error) {
	rhs, err := t.Stack().PopU64()
	if err != nil {
		return nil, err
	}
	lhs, err := t.Stack().PopU64()
	if err != nil {
		return nil, err
	}
	var hold bool
	switch in.Kind {
	case CmpEq:
		hold = lhs == rhs
	case CmpNe:
		hold = lhs != rhs
	case CmpLt:
		hold = lhs < rhs
	case CmpLe:
		hold = lhs <= rhs
	default:
		return nil, fmt.Errorf("%w: unknown comparison %d", ErrDeserialization, in.Kind)
	}
	flag := byte(0)
	if hold {
		flag = 1
	}
	return nil, t.Stack().Push([]byte{flag})
}
