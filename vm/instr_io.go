package vm

// ---------------------------------------------------------------------------
// Standard I/O instructions
// ---------------------------------------------------------------------------

// Print pops Size bytes and writes them to standard output (or the
// innermost open output buffer).
type Print struct {
	Size uint64
}

func (Print) Name() string   { return "PRINT" }
func (Print) Weight() Weight { return WeightMedium }
func (in Print) Execute(t *Thread) (*Signal, error) {
	data, err := t.Stack().Pop(in.Size)
	if err != nil {
		return nil, err
	}
	return nil, t.StdIO().Out.Print(data)
}

// PrintString pops a string pointer and writes the string's payload to
// standard output.
type PrintString struct{}

func (PrintString) Name() string   { return "PRINT_STRING" }
func (PrintString) Weight() Weight { return WeightMedium }
func (PrintString) Execute(t *Thread) (*Signal, error) {
	ptr, err := t.Stack().PopU64()
	if err != nil {
		return nil, err
	}
	data, err := stringBytes(t, ptr)
	if err != nil {
		return nil, err
	}
	return nil, t.StdIO().Out.Print(data)
}

// ReadLine takes one buffered input line, wraps it in a string object
// and pushes the pointer. With no input buffered the thread parks on
// WAIT_STDIN and this instruction re-runs once input arrives.
type ReadLine struct{}

func (ReadLine) Name() string   { return "READ_LINE" }
func (ReadLine) Weight() Weight { return WeightHigh }
func (ReadLine) Execute(t *Thread) (*Signal, error) {
	line, ok := t.StdIO().In.Take()
	if !ok {
		return WaitStdinSignal(), nil
	}
	ptr, err := newStringObject(t, line)
	if err != nil {
		return nil, err
	}
	return nil, t.Stack().PushU64(ptr)
}

// OutSpawn opens a scoped output buffer capturing subsequent prints.
type OutSpawn struct{}

func (OutSpawn) Name() string   { return "OUT_SPAWN" }
func (OutSpawn) Weight() Weight { return WeightLow }
func (OutSpawn) Execute(t *Thread) (*Signal, error) {
	t.StdIO().Out.Spawn()
	return nil, nil
}

// OutFlush closes the innermost output buffer and writes its content
// one level out.
type OutFlush struct{}

func (OutFlush) Name() string   { return "OUT_FLUSH" }
func (OutFlush) Weight() Weight { return WeightLow }
func (OutFlush) Execute(t *Thread) (*Signal, error) {
	return nil, t.StdIO().Out.Flush()
}

// OutDiscard closes the innermost output buffer and drops its content.
type OutDiscard struct{}

func (OutDiscard) Name() string   { return "OUT_DISCARD" }
func (OutDiscard) Weight() Weight { return WeightLow }
func (OutDiscard) Execute(t *Thread) (*Signal, error) {
	t.StdIO().Out.Discard()
	return nil, nil
}
