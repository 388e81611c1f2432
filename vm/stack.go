package vm

import (
	"encoding/binary"
)

// ---------------------------------------------------------------------------
// Stack: bump allocator with frame checkpoints
// ---------------------------------------------------------------------------

// Frame marks a call boundary on the stack. Bottom is the stack top at
// the moment the frame opened; Zero is Bottom plus the frame's reserved
// region, and is where frame-relative offset 0 resolves. Locals and
// operands live in [Zero, top).
type Frame struct {
	Zero   uint64
	Bottom uint64
}

// Stack is a byte stack bounded by the geometry's stack zone. Every
// thread owns one; there is no sharing and no locking.
type Stack struct {
	geo    Geometry
	buf    []byte
	top    uint64
	frames []Frame
}

// NewStack builds an empty stack for the geometry's stack zone.
func NewStack(geo Geometry) *Stack {
	return &Stack{
		geo: geo,
		buf: make([]byte, geo.StackSize),
	}
}

// Top returns the current stack top (one past the last live byte).
func (s *Stack) Top() uint64 { return s.top }

// Depth returns the number of open frames.
func (s *Stack) Depth() int { return len(s.frames) }

// FramePointer returns the Zero of the innermost frame, or 0 when no
// frame is open. Frame-relative addresses resolve against it.
func (s *Stack) FramePointer() uint64 {
	if len(s.frames) == 0 {
		return 0
	}
	return s.frames[len(s.frames)-1].Zero
}

// Push appends data at the top of the stack.
func (s *Stack) Push(data []byte) error {
	n := uint64(len(data))
	if s.top+n > s.geo.StackSize {
		return ErrStackOverflow
	}
	copy(s.buf[s.top:], data)
	s.top += n
	return nil
}

// Pop removes and returns the topmost size bytes.
func (s *Stack) Pop(size uint64) ([]byte, error) {
	if size > s.top {
		return nil, ErrStackUnderflow
	}
	s.top -= size
	out := make([]byte, size)
	copy(out, s.buf[s.top:s.top+size])
	return out, nil
}

// PushU64 pushes a little-endian u64 operand.
func (s *Stack) PushU64(v uint64) error {
	var word [8]byte
	binary.LittleEndian.PutUint64(word[:], v)
	return s.Push(word[:])
}

// PopU64 pops a little-endian u64 operand.
func (s *Stack) PopU64() (uint64, error) {
	raw, err := s.Pop(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(raw), nil
}

// Read copies size bytes at a stack-zone offset. The range must lie
// entirely below the stack top.
func (s *Stack) Read(offset, size uint64) ([]byte, error) {
	// Subtraction form: offset+size could wrap for hostile operands.
	if offset > s.top || size > s.top-offset {
		return nil, ErrRead
	}
	out := make([]byte, size)
	copy(out, s.buf[offset:offset+size])
	return out, nil
}

// Write copies data at a stack-zone offset. The range must lie entirely
// below the stack top; the stack never grows through Write.
func (s *Stack) Write(offset uint64, data []byte) error {
	if offset > s.top || uint64(len(data)) > s.top-offset {
		return ErrWrite
	}
	copy(s.buf[offset:], data)
	return nil
}

// OpenFrame pushes a new frame with a zeroed reserved region of the
// given size. Bottom is the pre-open top; Zero sits just past the
// reserved region.
func (s *Stack) OpenFrame(reserved uint64) error {
	bottom := s.top
	if err := s.Push(make([]byte, reserved)); err != nil {
		return err
	}
	s.frames = append(s.frames, Frame{Zero: bottom + reserved, Bottom: bottom})
	return nil
}

// CleanFrame pops everything above the innermost frame's Zero, dropping
// locals and operands while preserving the reserved region.
func (s *Stack) CleanFrame() error {
	if len(s.frames) == 0 {
		return ErrStackUnderflow
	}
	zero := s.frames[len(s.frames)-1].Zero
	if _, err := s.Pop(s.top - zero); err != nil {
		return err
	}
	return nil
}

// CloseFrame drops the innermost frame entirely, restoring the top to
// the frame's Bottom.
func (s *Stack) CloseFrame() error {
	if len(s.frames) == 0 {
		return ErrStackUnderflow
	}
	f := s.frames[len(s.frames)-1]
	if _, err := s.Pop(s.top - f.Bottom); err != nil {
		return err
	}
	s.frames = s.frames[:len(s.frames)-1]
	return nil
}
