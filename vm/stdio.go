package vm

import (
	"io"
	"sync"
)

// ---------------------------------------------------------------------------
// Standard I/O surface
// ---------------------------------------------------------------------------

// StdIn is the host input gate. Input arrives as whole lines fed by the
// host pump; a thread that reads with nothing buffered parks on
// WAIT_STDIN until a line lands.
type StdIn struct {
	mu    sync.Mutex
	lines [][]byte
}

// NewStdIn builds an empty input gate.
func NewStdIn() *StdIn { return &StdIn{} }

// Feed buffers one line of host input.
func (s *StdIn) Feed(line []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := make([]byte, len(line))
	copy(buf, line)
	s.lines = append(s.lines, buf)
}

// Ready reports whether a buffered line is available.
func (s *StdIn) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lines) > 0
}

// Take removes and returns the oldest buffered line.
func (s *StdIn) Take() ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.lines) == 0 {
		return nil, false
	}
	line := s.lines[0]
	s.lines = s.lines[1:]
	return line, true
}

// StdOut is the host output surface: a sink plus a stack of scoped
// buffers. With no buffer open, prints go straight to the sink; an open
// buffer captures prints until it is flushed into its parent (or the
// sink) or discarded.
type StdOut struct {
	sink    io.Writer
	buffers [][]byte
}

// NewStdOut builds an output surface writing to sink.
func NewStdOut(sink io.Writer) *StdOut {
	return &StdOut{sink: sink}
}

// Print writes data to the innermost open buffer, or to the sink when
// none is open.
func (s *StdOut) Print(data []byte) error {
	if n := len(s.buffers); n > 0 {
		s.buffers[n-1] = append(s.buffers[n-1], data...)
		return nil
	}
	_, err := s.sink.Write(data)
	return err
}

// Spawn opens a new scoped buffer.
func (s *StdOut) Spawn() {
	s.buffers = append(s.buffers, nil)
}

// Flush closes the innermost buffer and writes its content one level
// out. Flushing with no buffer open is a no-op.
func (s *StdOut) Flush() error {
	n := len(s.buffers)
	if n == 0 {
		return nil
	}
	content := s.buffers[n-1]
	s.buffers = s.buffers[:n-1]
	return s.Print(content)
}

// Discard closes the innermost buffer and drops its content.
func (s *StdOut) Discard() {
	if n := len(s.buffers); n > 0 {
		s.buffers = s.buffers[:n-1]
	}
}

// StdIO bundles the input gate and output surface shared by all threads.
type StdIO struct {
	In  *StdIn
	Out *StdOut
}

// NewStdIO builds a standard I/O surface over the given output sink.
func NewStdIO(sink io.Writer) *StdIO {
	return &StdIO{In: NewStdIn(), Out: NewStdOut(sink)}
}
