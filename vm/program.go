package vm

import (
	"fmt"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Program: immutable instruction sequence plus label table
// ---------------------------------------------------------------------------

// Label is a named jump target. Labels are addressed by identity, not by
// name: two programs can both have a "retry" label without colliding,
// and catch registration stores the ID only.
type Label struct {
	ID    uuid.UUID
	Name  string
	Index int
}

// Program is the unit the scheduler executes. Instructions are indexed
// densely from zero; every control transfer goes through the label
// table rather than raw indices, so a linked program cannot jump into
// the middle of a rewritten region.
type Program struct {
	instructions []Instruction
	labels       map[uuid.UUID]Label
}

// NewProgram builds an empty program.
func NewProgram() *Program {
	return &Program{labels: make(map[uuid.UUID]Label)}
}

// Len returns the number of instructions.
func (p *Program) Len() int { return len(p.instructions) }

// Append adds an instruction and returns its index.
func (p *Program) Append(in Instruction) int {
	p.instructions = append(p.instructions, in)
	return len(p.instructions) - 1
}

// Fetch returns the instruction at index i. An index outside the
// program is a code segmentation fault.
func (p *Program) Fetch(i int) (Instruction, error) {
	if i < 0 || i >= len(p.instructions) {
		return nil, fmt.Errorf("%w: index %d of %d", ErrCodeSegmentation, i, len(p.instructions))
	}
	return p.instructions[i], nil
}

// Bind registers a fresh label at the given instruction index and
// returns it.
func (p *Program) Bind(name string, index int) Label {
	l := Label{ID: uuid.New(), Name: name, Index: index}
	p.labels[l.ID] = l
	return l
}

// BindAt registers a label with a caller-supplied identity. Used when
// decoding a program off the wire, where IDs must survive round trips.
func (p *Program) BindAt(id uuid.UUID, name string, index int) Label {
	l := Label{ID: id, Name: name, Index: index}
	p.labels[l.ID] = l
	return l
}

// Resolve maps a label ID to its instruction index.
func (p *Program) Resolve(id uuid.UUID) (int, error) {
	l, ok := p.labels[id]
	if !ok {
		return 0, fmt.Errorf("%w: unknown label %s", ErrCodeSegmentation, id)
	}
	return l.Index, nil
}

// Labels returns every registered label. The order is unspecified.
func (p *Program) Labels() []Label {
	out := make([]Label, 0, len(p.labels))
	for _, l := range p.labels {
		out = append(out, l)
	}
	return out
}

// Instructions returns the instruction slice. Callers must not mutate it.
func (p *Program) Instructions() []Instruction { return p.instructions }
