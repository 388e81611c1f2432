package vm

import "fmt"

// ---------------------------------------------------------------------------
// Signals: thread-to-scheduler requests
// ---------------------------------------------------------------------------

// SignalKind enumerates the scheduler requests an instruction can raise.
type SignalKind uint8

const (
	// SigSpawn requests a new thread running the carried program.
	SigSpawn SignalKind = iota
	// SigExit completes the raising thread.
	SigExit
	// SigClose completes the target thread from outside.
	SigClose
	// SigWait parks the raising thread until another thread wakes it.
	SigWait
	// SigWake unparks the target thread.
	SigWake
	// SigSleep parks the raising thread for a number of scheduler ticks.
	SigSleep
	// SigJoin parks the raising thread until the target completes.
	SigJoin
	// SigWaitStdin parks the raising thread until host input is available.
	SigWaitStdin
)

func (k SignalKind) String() string {
	switch k {
	case SigSpawn:
		return "SPAWN"
	case SigExit:
		return "EXIT"
	case SigClose:
		return "CLOSE"
	case SigWait:
		return "WAIT"
	case SigWake:
		return "WAKE"
	case SigSleep:
		return "SLEEP"
	case SigJoin:
		return "JOIN"
	case SigWaitStdin:
		return "WAIT_STDIN"
	default:
		return "INVALID"
	}
}

// Signal is a scheduler request raised by an instruction. Signals travel
// on their own channel back to the scheduler; they are control flow, not
// faults, and are never visible to catch labels.
type Signal struct {
	Kind    SignalKind
	Tid     Tid      // target of CLOSE, WAKE, JOIN
	Ticks   uint64   // duration of SLEEP
	Program *Program // payload of SPAWN
}

func (s *Signal) String() string {
	switch s.Kind {
	case SigClose, SigWake, SigJoin:
		return fmt.Sprintf("%s(%d)", s.Kind, s.Tid)
	case SigSleep:
		return fmt.Sprintf("SLEEP(%d)", s.Ticks)
	default:
		return s.Kind.String()
	}
}

// Weight returns the scheduling cost charged for handling the signal.
// Spawning is the most expensive request; exiting costs nothing since
// the thread gives up the rest of its budget anyway.
func (s *Signal) Weight() Weight {
	switch s.Kind {
	case SigSpawn:
		return WeightExtreme
	case SigExit:
		return WeightZero
	default:
		return WeightHigh
	}
}

func SpawnSignal(p *Program) *Signal   { return &Signal{Kind: SigSpawn, Program: p} }
func ExitSignal() *Signal              { return &Signal{Kind: SigExit} }
func CloseSignal(tid Tid) *Signal      { return &Signal{Kind: SigClose, Tid: tid} }
func WaitSignal() *Signal              { return &Signal{Kind: SigWait} }
func WakeSignal(tid Tid) *Signal       { return &Signal{Kind: SigWake, Tid: tid} }
func SleepSignal(ticks uint64) *Signal { return &Signal{Kind: SigSleep, Ticks: ticks} }
func JoinSignal(tid Tid) *Signal       { return &Signal{Kind: SigJoin, Tid: tid} }
func WaitStdinSignal() *Signal         { return &Signal{Kind: SigWaitStdin} }
