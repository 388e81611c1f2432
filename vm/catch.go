package vm

import "github.com/google/uuid"

// ---------------------------------------------------------------------------
// Catch labels
// ---------------------------------------------------------------------------

// catchStack is a thread's armed catch labels, innermost last. A fault
// jumps to the innermost label but leaves it armed; only TryLeave pops,
// so a handler disarms its own label before faults can travel outward.
type catchStack struct {
	labels []uuid.UUID
}

func (c *catchStack) push(id uuid.UUID) {
	c.labels = append(c.labels, id)
}

func (c *catchStack) pop() (uuid.UUID, bool) {
	if len(c.labels) == 0 {
		return uuid.Nil, false
	}
	id := c.labels[len(c.labels)-1]
	c.labels = c.labels[:len(c.labels)-1]
	return id, true
}

func (c *catchStack) top() (uuid.UUID, bool) {
	if len(c.labels) == 0 {
		return uuid.Nil, false
	}
	return c.labels[len(c.labels)-1], true
}

func (c *catchStack) depth() int { return len(c.labels) }

// ArmCatch pushes a catch label for this thread. Until disarmed, any
// fault in the thread jumps to the label instead of killing the thread.
func (t *Thread) ArmCatch(id uuid.UUID) {
	t.catch.push(id)
}

// DisarmCatch drops the innermost catch label, typically at the end of
// the protected region. Disarming with nothing armed is a no-op.
func (t *Thread) DisarmCatch() {
	t.catch.pop()
}

// CatchDepth returns how many catch labels are armed.
func (t *Thread) CatchDepth() int { return t.catch.depth() }
