// Package wire serializes programs to and from their CBOR distribution
// form. Encoding is canonical, so the same program always produces the
// same bytes and program artifacts can be content-addressed.
package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/casmkit/casm/vm"
)

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("wire: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// FormatVersion is bumped on incompatible changes to the program form.
const FormatVersion = 1

// LabelDoc is the wire form of one label.
type LabelDoc struct {
	ID    string `cbor:"id"`
	Name  string `cbor:"name"`
	Index int    `cbor:"index"`
}

// OpDoc is the wire form of one instruction: an opcode plus whichever
// operand fields that opcode uses. Unused fields encode as zero values
// and cost nothing under canonical CBOR.
type OpDoc struct {
	Code     string      `cbor:"code"`
	Value    uint64      `cbor:"value,omitempty"`
	Size     uint64      `cbor:"size,omitempty"`
	Data     []byte      `cbor:"data,omitempty"`
	Label    string      `cbor:"label,omitempty"`
	Zone     uint8       `cbor:"zone,omitempty"`
	Offset   uint64      `cbor:"offset,omitempty"`
	Reserved uint64      `cbor:"reserved,omitempty"`
	Program  *ProgramDoc `cbor:"program,omitempty"`
}

// ProgramDoc is the wire form of a whole program.
type ProgramDoc struct {
	Version int        `cbor:"version"`
	Labels  []LabelDoc `cbor:"labels"`
	Ops     []OpDoc    `cbor:"ops"`
}

// MarshalProgram serializes a program to canonical CBOR bytes.
func MarshalProgram(p *vm.Program) ([]byte, error) {
	doc, err := programDoc(p)
	if err != nil {
		return nil, err
	}
	return cborEncMode.Marshal(doc)
}

// UnmarshalProgram deserializes a program from CBOR bytes.
func UnmarshalProgram(data []byte) (*vm.Program, error) {
	var doc ProgramDoc
	if err := cbor.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("wire: unmarshal program: %w", err)
	}
	return buildProgram(&doc)
}

func programDoc(p *vm.Program) (*ProgramDoc, error) {
	doc := &ProgramDoc{Version: FormatVersion}
	for _, l := range p.Labels() {
		doc.Labels = append(doc.Labels, LabelDoc{ID: l.ID.String(), Name: l.Name, Index: l.Index})
	}
	for i, in := range p.Instructions() {
		op, err := opDoc(in)
		if err != nil {
			return nil, fmt.Errorf("wire: instruction %d: %w", i, err)
		}
		doc.Ops = append(doc.Ops, op)
	}
	return doc, nil
}

func opDoc(in vm.Instruction) (OpDoc, error) {
	switch op := in.(type) {
	case vm.PushData:
		return OpDoc{Code: op.Name(), Data: op.Data}, nil
	case vm.PushConst:
		return OpDoc{Code: op.Name(), Value: op.Value}, nil
	case vm.Drop:
		return OpDoc{Code: op.Name(), Size: op.Size}, nil
	case vm.Dup:
		return OpDoc{Code: op.Name(), Size: op.Size}, nil
	case vm.Jump:
		return OpDoc{Code: op.Name(), Label: op.Label.String()}, nil
	case vm.JumpIf:
		return OpDoc{Code: op.Name(), Label: op.Label.String()}, nil
	case vm.Call:
		return OpDoc{Code: op.Name(), Label: op.Label.String(), Reserved: op.Reserved}, nil
	case vm.Ret, vm.CleanLocals, vm.TryLeave, vm.Exit, vm.Wait,
		vm.Close, vm.Wake, vm.Sleep, vm.Join,
		vm.HeapAlloc, vm.HeapFree, vm.HeapRealloc,
		vm.StringLen, vm.StringIndex, vm.StringConcat,
		vm.PrintString, vm.ReadLine, vm.OutSpawn, vm.OutFlush, vm.OutDiscard:
		return OpDoc{Code: in.Name()}, nil
	case vm.TryEnter:
		return OpDoc{Code: op.Name(), Label: op.Label.String()}, nil
	case vm.BinOp:
		return OpDoc{Code: op.Name()}, nil
	case vm.CmpOp:
		return OpDoc{Code: op.Name()}, nil
	case vm.LoadAt:
		return OpDoc{Code: op.Name(), Zone: uint8(op.At.Zone), Offset: op.At.Offset, Size: op.Size}, nil
	case vm.StoreAt:
		return OpDoc{Code: op.Name(), Zone: uint8(op.At.Zone), Offset: op.At.Offset, Size: op.Size}, nil
	case vm.Load:
		return OpDoc{Code: op.Name(), Size: op.Size}, nil
	case vm.Store:
		return OpDoc{Code: op.Name(), Size: op.Size}, nil
	case vm.Spawn:
		sub, err := programDoc(op.Program)
		if err != nil {
			return OpDoc{}, err
		}
		return OpDoc{Code: op.Name(), Program: sub}, nil
	case vm.NewString:
		return OpDoc{Code: op.Name(), Data: op.Data}, nil
	case vm.Print:
		return OpDoc{Code: op.Name(), Size: op.Size}, nil
	default:
		return OpDoc{}, fmt.Errorf("unsupported instruction %q", in.Name())
	}
}

func buildProgram(doc *ProgramDoc) (*vm.Program, error) {
	if doc.Version != FormatVersion {
		return nil, fmt.Errorf("wire: unsupported program version %d", doc.Version)
	}
	p := vm.NewProgram()
	for _, l := range doc.Labels {
		id, err := uuid.Parse(l.ID)
		if err != nil {
			return nil, fmt.Errorf("wire: label %q: %w", l.Name, err)
		}
		p.BindAt(id, l.Name, l.Index)
	}
	for i, op := range doc.Ops {
		in, err := buildOp(op)
		if err != nil {
			return nil, fmt.Errorf("wire: instruction %d: %w", i, err)
		}
		p.Append(in)
	}
	return p, nil
}

func buildOp(op OpDoc) (vm.Instruction, error) {
	label := func() (uuid.UUID, error) { return uuid.Parse(op.Label) }

	switch op.Code {
	case "PUSH_DATA":
		return vm.PushData{Data: op.Data}, nil
	case "PUSH_CONST":
		return vm.PushConst{Value: op.Value}, nil
	case "DROP":
		return vm.Drop{Size: op.Size}, nil
	case "DUP":
		return vm.Dup{Size: op.Size}, nil
	case "JUMP":
		id, err := label()
		if err != nil {
			return nil, err
		}
		return vm.Jump{Label: id}, nil
	case "JUMP_IF":
		id, err := label()
		if err != nil {
			return nil, err
		}
		return vm.JumpIf{Label: id}, nil
	case "CALL":
		id, err := label()
		if err != nil {
			return nil, err
		}
		return vm.Call{Label: id, Reserved: op.Reserved}, nil
	case "RET":
		return vm.Ret{}, nil
	case "CLEAN_LOCALS":
		return vm.CleanLocals{}, nil
	case "TRY_ENTER":
		id, err := label()
		if err != nil {
			return nil, err
		}
		return vm.TryEnter{Label: id}, nil
	case "TRY_LEAVE":
		return vm.TryLeave{}, nil
	case "ADD":
		return vm.BinOp{Kind: vm.OpAdd}, nil
	case "SUB":
		return vm.BinOp{Kind: vm.OpSub}, nil
	case "MUL":
		return vm.BinOp{Kind: vm.OpMul}, nil
	case "DIV":
		return vm.BinOp{Kind: vm.OpDiv}, nil
	case "MOD":
		return vm.BinOp{Kind: vm.OpMod}, nil
	case "EQ":
		return vm.CmpOp{Kind: vm.CmpEq}, nil
	case "NE":
		return vm.CmpOp{Kind: vm.CmpNe}, nil
	case "LT":
		return vm.CmpOp{Kind: vm.CmpLt}, nil
	case "LE":
		return vm.CmpOp{Kind: vm.CmpLe}, nil
	case "LOAD_AT":
		return vm.LoadAt{At: vm.Address{Zone: vm.Zone(op.Zone), Offset: op.Offset}, Size: op.Size}, nil
	case "STORE_AT":
		return vm.StoreAt{At: vm.Address{Zone: vm.Zone(op.Zone), Offset: op.Offset}, Size: op.Size}, nil
	case "LOAD":
		return vm.Load{Size: op.Size}, nil
	case "STORE":
		return vm.Store{Size: op.Size}, nil
	case "HEAP_ALLOC":
		return vm.HeapAlloc{}, nil
	case "HEAP_FREE":
		return vm.HeapFree{}, nil
	case "HEAP_REALLOC":
		return vm.HeapRealloc{}, nil
	case "SPAWN":
		if op.Program == nil {
			return nil, fmt.Errorf("spawn without program")
		}
		sub, err := buildProgram(op.Program)
		if err != nil {
			return nil, err
		}
		return vm.Spawn{Program: sub}, nil
	case "EXIT":
		return vm.Exit{}, nil
	case "CLOSE":
		return vm.Close{}, nil
	case "WAIT":
		return vm.Wait{}, nil
	case "WAKE":
		return vm.Wake{}, nil
	case "SLEEP":
		return vm.Sleep{}, nil
	case "JOIN":
		return vm.Join{}, nil
	case "NEW_STRING":
		return vm.NewString{Data: op.Data}, nil
	case "STRING_LEN":
		return vm.StringLen{}, nil
	case "STRING_INDEX":
		return vm.StringIndex{}, nil
	case "STRING_CONCAT":
		return vm.StringConcat{}, nil
	case "PRINT":
		return vm.Print{Size: op.Size}, nil
	case "PRINT_STRING":
		return vm.PrintString{}, nil
	case "READ_LINE":
		return vm.ReadLine{}, nil
	case "OUT_SPAWN":
		return vm.OutSpawn{}, nil
	case "OUT_FLUSH":
		return vm.OutFlush{}, nil
	case "OUT_DISCARD":
		return vm.OutDiscard{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown opcode %q", vm.ErrDeserialization, op.Code)
	}
}
