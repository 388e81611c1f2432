package vm

import (
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestProgramFetchBounds(t *testing.T) {
	p := prog(PushConst{1}, Exit{})

	if _, err := p.Fetch(0); err != nil {
		t.Errorf("Fetch(0): %v", err)
	}
	if _, err := p.Fetch(2); !errors.Is(err, ErrCodeSegmentation) {
		t.Errorf("Fetch past end = %v, want ErrCodeSegmentation", err)
	}
	if _, err := p.Fetch(-1); !errors.Is(err, ErrCodeSegmentation) {
		t.Errorf("Fetch(-1) = %v, want ErrCodeSegmentation", err)
	}
}

func TestProgramLabels(t *testing.T) {
	p := NewProgram()
	a := p.Bind("a", 3)
	b := p.Bind("a", 7) // duplicate names are fine, identity disambiguates

	if a.ID == b.ID {
		t.Fatal("labels with the same name share an ID")
	}
	if got, _ := p.Resolve(a.ID); got != 3 {
		t.Errorf("Resolve(a) = %d, want 3", got)
	}
	if got, _ := p.Resolve(b.ID); got != 7 {
		t.Errorf("Resolve(b) = %d, want 7", got)
	}
	if _, err := p.Resolve(uuid.New()); !errors.Is(err, ErrCodeSegmentation) {
		t.Errorf("Resolve unknown = %v, want ErrCodeSegmentation", err)
	}
}

func TestProgramBindAtRoundTrip(t *testing.T) {
	id := uuid.New()
	p := NewProgram()
	p.BindAt(id, "entry", 5)

	if got, err := p.Resolve(id); err != nil || got != 5 {
		t.Errorf("Resolve = %d, %v, want 5", got, err)
	}
}

func TestBudgetPolicySplitsAcrossThreads(t *testing.T) {
	p := NewBudgetPolicy(100)

	p.BeginPass(4)
	spent := 0
	for p.Accept(WeightHigh) {
		p.Consume(WeightHigh)
		spent += WeightHigh.Units()
	}
	if spent != 24 {
		t.Errorf("spent %d units of a 25-unit share", spent)
	}
	// Zero-weight instructions always pass.
	if !p.Accept(WeightZero) {
		t.Error("zero weight refused")
	}
}
