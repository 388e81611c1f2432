package vm

// Weight is the declared relative execution cost of an instruction.
// The scheduling policy accumulates consumed weight against a host
// tick budget to bound how much bytecode work one pass performs.
type Weight int

const (
	WeightZero    Weight = 0
	WeightLow     Weight = 1
	WeightMedium  Weight = 2
	WeightHigh    Weight = 4
	WeightExtreme Weight = 8
)

// CustomWeight declares an instruction cost outside the named tiers.
func CustomWeight(units int) Weight {
	if units < 0 {
		units = 0
	}
	return Weight(units)
}

// Units returns the cost in budget units.
func (w Weight) Units() int { return int(w) }
