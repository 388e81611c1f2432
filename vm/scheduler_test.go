package vm

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"testing"
)

func testScheduler(t *testing.T, opts ...SchedulerOption) (*Scheduler, *Memory, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	mem := NewMemory(DefaultGeometry())
	return NewScheduler(mem, NewStdIO(&out), opts...), mem, &out
}

func prog(ins ...Instruction) *Program {
	p := NewProgram()
	for _, in := range ins {
		p.Append(in)
	}
	return p
}

func readGlobalU64(t *testing.T, mem *Memory, offset uint64) uint64 {
	t.Helper()
	raw, err := mem.Read(NewStack(mem.Geometry()), offset, 8)
	if err != nil {
		t.Fatalf("global read at %d: %v", offset, err)
	}
	return binary.LittleEndian.Uint64(raw)
}

func readGlobalByte(t *testing.T, mem *Memory, offset uint64) byte {
	t.Helper()
	raw, err := mem.Read(NewStack(mem.Geometry()), offset, 1)
	if err != nil {
		t.Fatalf("global read at %d: %v", offset, err)
	}
	return raw[0]
}

func mustRun(t *testing.T, s *Scheduler) {
	t.Helper()
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestRunSimpleProgram(t *testing.T) {
	s, mem, _ := testScheduler(t)

	p := prog(
		PushConst{2},
		PushConst{3},
		BinOp{OpAdd},
		StoreAt{At: GlobalAt(0), Size: 8},
		Exit{},
	)
	if _, err := s.Spawn(p); err != nil {
		t.Fatal(err)
	}
	mustRun(t, s)

	if got := readGlobalU64(t, mem, 0); got != 5 {
		t.Errorf("global[0] = %d, want 5", got)
	}
	if got := s.Live(); got != 0 {
		t.Errorf("Live = %d, want 0", got)
	}
}

func TestThreadCompletesAtProgramEnd(t *testing.T) {
	s, mem, _ := testScheduler(t)

	// No explicit Exit: falling off the end completes the thread.
	p := prog(PushConst{1}, StoreAt{At: GlobalAt(0), Size: 8})
	if _, err := s.Spawn(p); err != nil {
		t.Fatal(err)
	}
	mustRun(t, s)
	if got := readGlobalU64(t, mem, 0); got != 1 {
		t.Errorf("global[0] = %d, want 1", got)
	}
}

func TestSpawnReportsChildTid(t *testing.T) {
	s, mem, _ := testScheduler(t)

	child := prog(Exit{})
	parent := prog(
		Spawn{Program: child},
		// Stack after the spawn: child tid (u64), then the OK flag.
		StoreAt{At: GlobalAt(0), Size: 1},
		StoreAt{At: GlobalAt(8), Size: 8},
		Exit{},
	)
	if _, err := s.Spawn(parent); err != nil {
		t.Fatal(err)
	}
	mustRun(t, s)

	if got := readGlobalByte(t, mem, 0); got != OkFlag {
		t.Errorf("spawn flag = %d, want OK", got)
	}
	if got := readGlobalU64(t, mem, 8); got != 2 {
		t.Errorf("child tid = %d, want 2", got)
	}
}

func TestSpawnPoolExhausted(t *testing.T) {
	s, mem, _ := testScheduler(t, WithMaxThreads(1))

	parent := prog(
		Spawn{Program: prog(Exit{})},
		StoreAt{At: GlobalAt(0), Size: 1},
		Exit{},
	)
	if _, err := s.Spawn(parent); err != nil {
		t.Fatal(err)
	}
	mustRun(t, s)

	// The failure lands on the stack as the ERROR flag, not as a fault.
	if got := readGlobalByte(t, mem, 0); got != ErrorFlag {
		t.Errorf("spawn flag = %d, want ERROR", got)
	}
}

func TestHostSpawnPoolExhausted(t *testing.T) {
	s, _, _ := testScheduler(t, WithMaxThreads(2))

	empty := prog(Exit{})
	for i := 0; i < 2; i++ {
		if _, err := s.Spawn(empty); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.Spawn(empty); !errors.Is(err, ErrTooManyThreads) {
		t.Errorf("Spawn over limit = %v, want ErrTooManyThreads", err)
	}
}

func TestTidRecycling(t *testing.T) {
	s, _, _ := testScheduler(t, WithMaxThreads(2))

	tid, err := s.Spawn(prog(Exit{}))
	if err != nil {
		t.Fatal(err)
	}
	mustRun(t, s)

	again, err := s.Spawn(prog(Exit{}))
	if err != nil {
		t.Fatal(err)
	}
	if again != tid {
		t.Errorf("recycled tid = %d, want %d", again, tid)
	}
}

func TestJoinWakesOnExit(t *testing.T) {
	s, mem, _ := testScheduler(t)

	child := prog(
		PushConst{5},
		StoreAt{At: GlobalAt(16), Size: 8},
		Exit{},
	)
	parent := prog(
		Spawn{Program: child},
		Drop{1}, // spawn OK flag
		Join{},  // consumes the child tid
		// The join wake pushed the joined tid and the OK flag.
		StoreAt{At: GlobalAt(0), Size: 1},
		StoreAt{At: GlobalAt(8), Size: 8},
		Exit{},
	)
	if _, err := s.Spawn(parent); err != nil {
		t.Fatal(err)
	}
	mustRun(t, s)

	if got := readGlobalByte(t, mem, 0); got != OkFlag {
		t.Errorf("join flag = %d, want OK", got)
	}
	if got := readGlobalU64(t, mem, 8); got != 2 {
		t.Errorf("joined tid = %d, want 2", got)
	}
	if got := readGlobalU64(t, mem, 16); got != 5 {
		t.Errorf("child result = %d, want 5", got)
	}
}

func TestJoinInvalidTid(t *testing.T) {
	s, mem, _ := testScheduler(t)

	p := prog(
		PushConst{99},
		Join{},
		StoreAt{At: GlobalAt(0), Size: 1},
		Exit{},
	)
	if _, err := s.Spawn(p); err != nil {
		t.Fatal(err)
	}
	mustRun(t, s)

	if got := readGlobalByte(t, mem, 0); got != ErrorFlag {
		t.Errorf("join flag = %d, want ERROR", got)
	}
}

func TestWaitThenWake(t *testing.T) {
	s, mem, _ := testScheduler(t)

	// A is spawned first and parks; B wakes it by tid.
	a := prog(
		Wait{},
		PushConst{7},
		StoreAt{At: GlobalAt(0), Size: 8},
		Exit{},
	)
	b := prog(
		PushConst{1}, // A's tid
		Wake{},
		Drop{9}, // wake result: tid + flag
		Exit{},
	)
	if _, err := s.Spawn(a); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Spawn(b); err != nil {
		t.Fatal(err)
	}
	mustRun(t, s)

	if got := readGlobalU64(t, mem, 0); got != 7 {
		t.Errorf("global[0] = %d, want 7", got)
	}
}

func TestWakeBeforeWaitIsAbsorbed(t *testing.T) {
	s, mem, _ := testScheduler(t)

	// B runs first and wakes A while A is still running; A's later wait
	// must absorb the pending wake instead of parking forever.
	b := prog(
		PushConst{2}, // A's tid
		Wake{},
		Drop{9},
		Exit{},
	)
	a := prog(
		Wait{},
		PushConst{7},
		StoreAt{At: GlobalAt(0), Size: 8},
		Exit{},
	)
	if _, err := s.Spawn(b); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Spawn(a); err != nil {
		t.Fatal(err)
	}
	mustRun(t, s)

	if got := readGlobalU64(t, mem, 0); got != 7 {
		t.Errorf("global[0] = %d, want 7", got)
	}
}

func TestWakeInvalidTid(t *testing.T) {
	s, mem, _ := testScheduler(t)

	p := prog(
		PushConst{42},
		Wake{},
		StoreAt{At: GlobalAt(0), Size: 1},
		Exit{},
	)
	if _, err := s.Spawn(p); err != nil {
		t.Fatal(err)
	}
	mustRun(t, s)

	if got := readGlobalByte(t, mem, 0); got != ErrorFlag {
		t.Errorf("wake flag = %d, want ERROR", got)
	}
}

func TestSleepTicks(t *testing.T) {
	s, _, _ := testScheduler(t)

	p := prog(PushConst{3}, Sleep{}, Exit{})
	if _, err := s.Spawn(p); err != nil {
		t.Fatal(err)
	}
	mustRun(t, s)

	// Tick 1 parks the thread; it sleeps through ticks 2 and 3 and
	// runs again in tick 4.
	if got := s.Ticks(); got != 4 {
		t.Errorf("Ticks = %d, want 4", got)
	}
}

func TestSleepZeroDoesNotPark(t *testing.T) {
	s, _, _ := testScheduler(t)

	p := prog(PushConst{0}, Sleep{}, Exit{})
	if _, err := s.Spawn(p); err != nil {
		t.Fatal(err)
	}
	mustRun(t, s)

	if got := s.Ticks(); got != 2 {
		t.Errorf("Ticks = %d, want 2", got)
	}
}

func TestCloseStopsLoopingThread(t *testing.T) {
	s, mem, _ := testScheduler(t, WithPolicy(NewBudgetPolicy(16)))

	// The child spins forever; only the close ends it.
	loop := NewProgram()
	top := loop.Bind("top", 0)
	loop.Append(Jump{Label: top.ID})

	parent := prog(
		Spawn{Program: loop},
		Drop{1}, // spawn OK flag, child tid stays for the close
		Close{},
		StoreAt{At: GlobalAt(0), Size: 1},
		Exit{},
	)
	if _, err := s.Spawn(parent); err != nil {
		t.Fatal(err)
	}
	mustRun(t, s)

	if got := readGlobalByte(t, mem, 0); got != OkFlag {
		t.Errorf("close flag = %d, want OK", got)
	}
}

func TestCloseOutOfRangeTid(t *testing.T) {
	s, mem, _ := testScheduler(t)

	// 258 truncates to 2 in eight bits; the close must report ERROR
	// instead of retiring the live child that happens to hold tid 2.
	child := prog(Wait{}, Exit{})
	parent := prog(
		Spawn{Program: child},
		Drop{9}, // spawn result
		PushConst{258},
		Close{},
		StoreAt{At: GlobalAt(0), Size: 1},
		Exit{},
	)
	if _, err := s.Spawn(parent); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 4; i++ {
		if err := s.Tick(); err != nil {
			t.Fatal(err)
		}
	}

	if got := readGlobalByte(t, mem, 0); got != ErrorFlag {
		t.Errorf("close flag = %d, want ERROR", got)
	}
	if _, ok := s.Thread(2); !ok {
		t.Errorf("tid 2 gone: out-of-range close hit a live thread")
	}
}

func TestWakeOutOfRangeTid(t *testing.T) {
	s, mem, _ := testScheduler(t)

	// 257 truncates to the caller's own tid.
	p := prog(
		PushConst{257},
		Wake{},
		StoreAt{At: GlobalAt(0), Size: 1},
		Exit{},
	)
	if _, err := s.Spawn(p); err != nil {
		t.Fatal(err)
	}
	mustRun(t, s)

	if got := readGlobalByte(t, mem, 0); got != ErrorFlag {
		t.Errorf("wake flag = %d, want ERROR", got)
	}
}

func TestJoinOutOfRangeTid(t *testing.T) {
	s, mem, _ := testScheduler(t)

	p := prog(
		PushConst{257},
		Join{},
		StoreAt{At: GlobalAt(0), Size: 1},
		Exit{},
	)
	if _, err := s.Spawn(p); err != nil {
		t.Fatal(err)
	}
	mustRun(t, s)

	if got := readGlobalByte(t, mem, 0); got != ErrorFlag {
		t.Errorf("join flag = %d, want ERROR", got)
	}
}

func TestBudgetPreemption(t *testing.T) {
	s, _, _ := testScheduler(t, WithPolicy(NewBudgetPolicy(16)))

	// Forty low-weight instruction pairs cannot fit one 16-unit pass.
	var ins []Instruction
	for i := 0; i < 40; i++ {
		ins = append(ins, PushConst{uint64(i)}, Drop{8})
	}
	ins = append(ins, Exit{})
	if _, err := s.Spawn(prog(ins...)); err != nil {
		t.Fatal(err)
	}
	mustRun(t, s)

	if got := s.Ticks(); got <= 1 {
		t.Errorf("Ticks = %d, want preemption across several ticks", got)
	}
}

func TestUncaughtFaultKillsThread(t *testing.T) {
	s, _, _ := testScheduler(t)

	p := prog(PushConst{1}, PushConst{0}, BinOp{OpDiv}, Exit{})
	tid, err := s.Spawn(p)
	if err != nil {
		t.Fatal(err)
	}
	err = s.Run(context.Background())

	var rerr *RuntimeError
	if !errors.As(err, &rerr) {
		t.Fatalf("Run = %v, want *RuntimeError", err)
	}
	if rerr.Tid != tid {
		t.Errorf("fault tid = %d, want %d", rerr.Tid, tid)
	}
	if !errors.Is(err, ErrMath) {
		t.Errorf("fault cause = %v, want ErrMath", rerr.Err)
	}
}

func TestCaughtFaultJumpsToLabel(t *testing.T) {
	s, mem, _ := testScheduler(t)

	p := NewProgram()
	handler := p.Bind("handler", 5)
	p.Append(TryEnter{Label: handler.ID}) // 0
	p.Append(PushConst{1})                // 1
	p.Append(PushConst{0})                // 2
	p.Append(BinOp{OpDiv})                // 3 faults
	p.Append(Exit{})                      // 4 skipped
	p.Append(PushConst{42})               // 5 handler
	p.Append(StoreAt{At: GlobalAt(0), Size: 8})
	p.Append(Exit{})

	if _, err := s.Spawn(p); err != nil {
		t.Fatal(err)
	}
	mustRun(t, s)

	if got := readGlobalU64(t, mem, 0); got != 42 {
		t.Errorf("global[0] = %d, want 42", got)
	}
}

func TestTryLeaveDisarms(t *testing.T) {
	s, _, _ := testScheduler(t)

	p := NewProgram()
	handler := p.Bind("handler", 6)
	p.Append(TryEnter{Label: handler.ID})
	p.Append(TryLeave{})
	p.Append(PushConst{1})
	p.Append(PushConst{0})
	p.Append(BinOp{OpDiv}) // no label armed anymore
	p.Append(Exit{})
	p.Append(Exit{}) // handler, never reached

	if _, err := s.Spawn(p); err != nil {
		t.Fatal(err)
	}
	err := s.Run(context.Background())
	if !errors.Is(err, ErrMath) {
		t.Errorf("Run = %v, want uncaught ErrMath", err)
	}
}

func TestCaughtFaultLeavesLabelArmed(t *testing.T) {
	mem := NewMemory(DefaultGeometry())

	p := NewProgram()
	handler := p.Bind("handler", 0)
	p.Append(Exit{})

	th := newThread(1, p, mem, nil)
	th.ArmCatch(handler.ID)
	if err := th.recover(ErrMath); err != nil {
		t.Fatalf("recover: %v", err)
	}
	if got := th.PC(); got != 0 {
		t.Errorf("pc after fault = %d, want handler index 0", got)
	}
	// The fault jumps to the label without disarming it; only TryLeave
	// pops.
	if got := th.CatchDepth(); got != 1 {
		t.Errorf("CatchDepth after fault = %d, want 1", got)
	}
}

func TestNestedCatchHandlerFaultReachesOuter(t *testing.T) {
	s, mem, _ := testScheduler(t)

	// The inner handler disarms its own label before doing anything that
	// can fault, so its second fault travels to the outer label.
	p := NewProgram()
	outer := p.Bind("outer", 10)
	inner := p.Bind("inner", 6)
	p.Append(TryEnter{Label: outer.ID}) // 0
	p.Append(TryEnter{Label: inner.ID}) // 1
	p.Append(PushConst{1})              // 2
	p.Append(PushConst{0})              // 3
	p.Append(BinOp{OpDiv})              // 4 first fault -> inner
	p.Append(Exit{})                    // 5
	p.Append(TryLeave{})                // 6 inner handler
	p.Append(PushConst{1})              // 7
	p.Append(PushConst{0})              // 8
	p.Append(BinOp{OpMod})              // 9 second fault -> outer
	p.Append(PushConst{9})              // 10 outer handler
	p.Append(StoreAt{At: GlobalAt(0), Size: 8})
	p.Append(Exit{})

	if _, err := s.Spawn(p); err != nil {
		t.Fatal(err)
	}
	mustRun(t, s)

	if got := readGlobalU64(t, mem, 0); got != 9 {
		t.Errorf("global[0] = %d, want 9", got)
	}
}

func TestReadLineParksUntilInput(t *testing.T) {
	s, _, out := testScheduler(t)

	p := prog(ReadLine{}, PrintString{}, Exit{})
	if _, err := s.Spawn(p); err != nil {
		t.Fatal(err)
	}

	// No input yet: the thread parks and stays live.
	if err := s.Tick(); err != nil {
		t.Fatal(err)
	}
	if got := s.Live(); got != 1 {
		t.Fatalf("Live after park = %d, want 1", got)
	}

	s.StdIn().Feed([]byte("hi"))
	mustRun(t, s)

	if got := out.String(); got != "hi" {
		t.Errorf("output = %q, want %q", got, "hi")
	}
}

func TestRunHonorsContext(t *testing.T) {
	s, _, _ := testScheduler(t, WithPolicy(NewBudgetPolicy(16)))

	loop := NewProgram()
	top := loop.Bind("top", 0)
	loop.Append(Jump{Label: top.ID})
	if _, err := s.Spawn(loop); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Run = %v, want context.Canceled", err)
	}
}
