package vm

import (
	"context"
	"fmt"
)

// ---------------------------------------------------------------------------
// Cooperative scheduler
// ---------------------------------------------------------------------------

// DefaultMaxThreads bounds the thread pool when no limit is configured.
const DefaultMaxThreads = 4

type joinEntry struct {
	waiter Tid
	target Tid
}

// Scheduler multiplexes green threads over one host goroutine. Threads
// run in round-robin execution passes bounded by the scheduling policy;
// blocking is expressed through signals, never by stopping the host.
//
// The scheduler is not safe for concurrent use; drive it from a single
// goroutine. StdIn.Feed is the one safe cross-goroutine entry point.
type Scheduler struct {
	geo    Geometry
	mem    *Memory
	stdio  *StdIO
	policy SchedulingPolicy

	maxThreads int
	threads    map[Tid]*Thread
	order      []Tid // round-robin order, spawn order preserved
	tidPool    []Tid

	joins        []joinEntry
	wakePending  map[Tid]bool // wake arrived while target still running
	stdinWaiters map[Tid]bool

	ticks uint64
}

// SchedulerOption configures a Scheduler at construction.
type SchedulerOption func(*Scheduler)

// WithMaxThreads caps the number of live threads.
func WithMaxThreads(n int) SchedulerOption {
	return func(s *Scheduler) {
		if n > 0 {
			s.maxThreads = n
		}
	}
}

// WithPolicy selects the scheduling policy.
func WithPolicy(p SchedulingPolicy) SchedulerOption {
	return func(s *Scheduler) {
		if p != nil {
			s.policy = p
		}
	}
}

// NewScheduler builds a scheduler over shared memory and I/O. The
// default configuration runs each pass to completion with a pool of
// DefaultMaxThreads tids.
func NewScheduler(mem *Memory, stdio *StdIO, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		geo:          mem.Geometry(),
		mem:          mem,
		stdio:        stdio,
		policy:       RunToCompletion{},
		maxThreads:   DefaultMaxThreads,
		threads:      make(map[Tid]*Thread),
		wakePending:  make(map[Tid]bool),
		stdinWaiters: make(map[Tid]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	// Tids are recycled LIFO; 0 is never issued so a zero Tid in a
	// result payload always means "no thread".
	for i := s.maxThreads; i >= 1; i-- {
		s.tidPool = append(s.tidPool, Tid(i))
	}
	return s
}

// StdIn returns the input gate threads park on. Feeding it is safe from
// other goroutines; everything else on the scheduler is not.
func (s *Scheduler) StdIn() *StdIn { return s.stdio.In }

// Ticks returns how many ticks have elapsed.
func (s *Scheduler) Ticks() uint64 { return s.ticks }

// Live returns the number of threads not yet reaped.
func (s *Scheduler) Live() int { return len(s.threads) }

// Thread returns a live thread by tid.
func (s *Scheduler) Thread(tid Tid) (*Thread, bool) {
	t, ok := s.threads[tid]
	return t, ok
}

// Spawn creates a thread running p and returns its tid. This is the
// host entry point; bytecode spawns go through the SPAWN signal.
func (s *Scheduler) Spawn(p *Program) (Tid, error) {
	t, err := s.spawn(p)
	if err != nil {
		return 0, err
	}
	return t.tid, nil
}

func (s *Scheduler) spawn(p *Program) (*Thread, error) {
	if len(s.tidPool) == 0 {
		return nil, ErrTooManyThreads
	}
	tid := s.tidPool[len(s.tidPool)-1]
	s.tidPool = s.tidPool[:len(s.tidPool)-1]
	t := newThread(tid, p, s.mem, s.stdio)
	s.threads[tid] = t
	s.order = append(s.order, tid)
	return t, nil
}

// Run ticks the scheduler until every thread has been reaped, the
// context is cancelled, or a thread dies of an uncaught fault.
func (s *Scheduler) Run(ctx context.Context) error {
	for s.Live() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := s.Tick(); err != nil {
			return err
		}
	}
	return nil
}

// Tick performs one scheduler round: advance sleep counters, release
// stdin waiters if input arrived, then give every runnable thread one
// execution pass. Returns a *RuntimeError when a thread dies of an
// uncaught fault.
func (s *Scheduler) Tick() error {
	s.ticks++

	for _, t := range s.threads {
		t.tickSleep()
	}
	if s.stdio != nil && s.stdio.In.Ready() {
		for tid := range s.stdinWaiters {
			if t, ok := s.threads[tid]; ok {
				t.wake()
			}
			delete(s.stdinWaiters, tid)
		}
	}

	// Threads spawned during this tick start in the next one.
	round := make([]Tid, len(s.order))
	copy(round, s.order)

	for _, tid := range round {
		t, ok := s.threads[tid]
		if !ok || t.state != ThreadRunning {
			continue
		}
		if err := s.pass(t); err != nil {
			return err
		}
	}

	s.reap()
	return nil
}

// pass runs one thread until it blocks, exits, faults fatally, or the
// policy preempts it.
func (s *Scheduler) pass(t *Thread) error {
	s.policy.BeginPass(s.Live())

	for t.state == ThreadRunning {
		if t.pc >= t.program.Len() {
			// Falling off the end completes the thread.
			s.finish(t)
			return nil
		}
		in, err := t.program.Fetch(t.pc)
		if err != nil {
			if err := t.recover(err); err != nil {
				t.complete()
				return err
			}
			continue
		}
		if !s.policy.Accept(in.Weight()) {
			return nil // preempted, cursor untouched
		}

		sig, err := in.Execute(t)
		s.policy.Consume(in.Weight())
		if err != nil {
			if err := t.recover(err); err != nil {
				t.complete()
				return err
			}
			continue
		}
		if sig != nil {
			s.policy.Consume(sig.Weight())
			advance, err := s.handle(t, sig)
			if err != nil {
				if err := t.recover(err); err != nil {
					t.complete()
					return err
				}
				continue
			}
			if advance {
				t.step()
			}
			return nil // a signal always ends the pass
		}
		t.step()
	}
	return nil
}

// handle services a signal raised by t. Scheduling failures (bad tid,
// exhausted pool) are reported onto t's stack as in-language values,
// never as host faults. The returned advance flag is false only for
// WAIT_STDIN, whose instruction re-attempts after wake.
func (s *Scheduler) handle(t *Thread, sig *Signal) (advance bool, err error) {
	switch sig.Kind {
	case SigSpawn:
		child, err := s.spawn(sig.Program)
		if err != nil {
			return true, t.PushErrorResult()
		}
		return true, t.PushTidResult(child.tid)

	case SigExit:
		s.finish(t)
		return true, nil

	case SigClose:
		target, ok := s.threads[sig.Tid]
		// Closing yourself is what EXIT is for.
		if !ok || sig.Tid == t.tid || target.state == ThreadCompleted {
			return true, t.PushErrorResult()
		}
		s.finish(target)
		return true, t.PushTidResult(sig.Tid)

	case SigWait:
		if s.wakePending[t.tid] {
			// A wake raced ahead of this wait; absorb it.
			delete(s.wakePending, t.tid)
			return true, nil
		}
		t.park()
		return true, nil

	case SigWake:
		target, ok := s.threads[sig.Tid]
		if !ok || target.state == ThreadCompleted {
			return true, t.PushErrorResult()
		}
		if target.state == ThreadWaiting && !s.stdinWaiters[sig.Tid] {
			target.wake()
		} else {
			s.wakePending[sig.Tid] = true
		}
		return true, t.PushTidResult(sig.Tid)

	case SigSleep:
		if sig.Ticks > 0 {
			t.parkFor(sig.Ticks)
		}
		return true, nil

	case SigJoin:
		target, ok := s.threads[sig.Tid]
		if !ok {
			return true, t.PushErrorResult()
		}
		if target.state == ThreadCompleted {
			return true, t.PushTidResult(sig.Tid)
		}
		t.park()
		s.joins = append(s.joins, joinEntry{waiter: t.tid, target: sig.Tid})
		return true, nil

	case SigWaitStdin:
		if s.stdio != nil && s.stdio.In.Ready() {
			return false, nil // input already there, re-attempt now
		}
		t.park()
		s.stdinWaiters[t.tid] = true
		return false, nil

	default:
		return true, fmt.Errorf("%w: unknown signal %d", ErrDeserialization, sig.Kind)
	}
}

// finish completes a thread and releases everything waiting on it: each
// joiner wakes with the completed tid and the OK flag on its stack.
func (s *Scheduler) finish(t *Thread) {
	t.complete()
	kept := s.joins[:0]
	for _, j := range s.joins {
		if j.target != t.tid {
			kept = append(kept, j)
			continue
		}
		waiter, ok := s.threads[j.waiter]
		if !ok {
			continue
		}
		waiter.wake()
		// The waiter's stack has room reserved by the join that parked
		// it; a push failure here would fault on its next pass instead.
		_ = waiter.PushTidResult(t.tid)
	}
	s.joins = kept
}

// reap removes completed threads and recycles their tids.
func (s *Scheduler) reap() {
	kept := s.order[:0]
	for _, tid := range s.order {
		t, ok := s.threads[tid]
		if !ok {
			continue
		}
		if t.state == ThreadCompleted {
			delete(s.threads, tid)
			delete(s.wakePending, tid)
			delete(s.stdinWaiters, tid)
			s.tidPool = append(s.tidPool, tid)
			continue
		}
		kept = append(kept, tid)
	}
	s.order = kept
}
