package vm

// ---------------------------------------------------------------------------
// Scheduling policies
// ---------------------------------------------------------------------------

// SchedulingPolicy bounds how much instruction weight one thread may
// consume during a single execution pass. The scheduler resets the
// policy before each pass and asks it before every instruction; a
// refusal preempts the thread without fault.
type SchedulingPolicy interface {
	// BeginPass announces a new execution pass with the current number
	// of live threads, so per-tick budgets can be split fairly.
	BeginPass(live int)

	// Accept reports whether an instruction of the given weight may run
	// within the remaining budget.
	Accept(w Weight) bool

	// Consume charges the weight of an instruction that ran.
	Consume(w Weight)
}

// RunToCompletion never preempts: every pass runs until the thread
// blocks, exits or faults. Suited to batch execution and tests.
type RunToCompletion struct{}

func (RunToCompletion) BeginPass(int) {}
func (RunToCompletion) Accept(Weight) bool { return true }
func (RunToCompletion) Consume(Weight) {}

// BudgetPolicy splits a fixed per-tick weight budget evenly across live
// threads. A thread is preempted once its share is spent; zero-weight
// instructions always run, so a thread starved of budget still makes
// progress on bookkeeping instructions.
type BudgetPolicy struct {
	TickBudget int

	remaining int
}

// DefaultTickBudget is the per-tick instruction weight shared by all
// threads under the default budget policy.
const DefaultTickBudget = 1024

// NewBudgetPolicy builds a budget policy; budget <= 0 selects the default.
func NewBudgetPolicy(budget int) *BudgetPolicy {
	if budget <= 0 {
		budget = DefaultTickBudget
	}
	return &BudgetPolicy{TickBudget: budget}
}

func (p *BudgetPolicy) BeginPass(live int) {
	if live < 1 {
		live = 1
	}
	p.remaining = p.TickBudget / live
	if p.remaining < 1 {
		p.remaining = 1
	}
}

func (p *BudgetPolicy) Accept(w Weight) bool {
	return w.Units() == 0 || w.Units() <= p.remaining
}

func (p *BudgetPolicy) Consume(w Weight) {
	p.remaining -= w.Units()
}
