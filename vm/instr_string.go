package vm

import (
	"encoding/binary"
	"fmt"
)

// ---------------------------------------------------------------------------
// String objects
// ---------------------------------------------------------------------------
//
// A string lives on the heap as a 16-byte header followed by the bytes:
//
//	[8,16)   capacity, little-endian u64
//	[16,24)  length, little-endian u64
//	[24,..)  payload
//
// (offsets relative to the block pointer; [0,8) is the allocator's block
// header). Stack operands hold the flat block pointer.

// StringHeaderSize is the object header preceding the payload.
const StringHeaderSize = 16

// newStringObject allocates a string holding data and returns its flat
// block pointer.
func newStringObject(t *Thread, data []byte) (uint64, error) {
	n := uint64(len(data))
	ptr, err := t.Memory().Heap().Alloc(StringHeaderSize + n)
	if err != nil {
		return 0, err
	}
	var header [StringHeaderSize]byte
	binary.LittleEndian.PutUint64(header[0:], n) // capacity
	binary.LittleEndian.PutUint64(header[8:], n) // length
	if err := t.WriteAt(ptr+8, header[:]); err != nil {
		return 0, err
	}
	if err := t.WriteAt(ptr+8+StringHeaderSize, data); err != nil {
		return 0, err
	}
	return ptr, nil
}

// stringBytes reads a string object's payload.
func stringBytes(t *Thread, ptr uint64) ([]byte, error) {
	header, err := t.ReadAt(ptr+8, StringHeaderSize)
	if err != nil {
		return nil, err
	}
	length := binary.LittleEndian.Uint64(header[8:])
	return t.ReadAt(ptr+8+StringHeaderSize, length)
}

// NewString allocates a string object holding the literal bytes and
// pushes its pointer.
type NewString struct {
	Data []byte
}

func (NewString) Name() string   { return "NEW_STRING" }
func (NewString) Weight() Weight { return WeightHigh }
func (in NewString) Execute(t *Thread) (*Signal, error) {
	ptr, err := newStringObject(t, in.Data)
	if err != nil {
		return nil, err
	}
	return nil, t.Stack().PushU64(ptr)
}

// StringLen pops a string pointer and pushes its length.
type StringLen struct{}

func (StringLen) Name() string   { return "STRING_LEN" }
func (StringLen) Weight() Weight { return WeightMedium }
func (StringLen) Execute(t *Thread) (*Signal, error) {
	ptr, err := t.Stack().PopU64()
	if err != nil {
		return nil, err
	}
	header, err := t.ReadAt(ptr+8, StringHeaderSize)
	if err != nil {
		return nil, err
	}
	return nil, t.Stack().PushU64(binary.LittleEndian.Uint64(header[8:]))
}

// StringIndex pops an index, then a string pointer, and pushes the byte
// at that index as a u64. An index at or past the length is an
// index-out-of-bound fault.
type StringIndex struct{}

func (StringIndex) Name() string   { return "STRING_INDEX" }
func (StringIndex) Weight() Weight { return WeightMedium }
func (StringIndex) Execute(t *Thread) (*Signal, error) {
	index, err := t.Stack().PopU64()
	if err != nil {
		return nil, err
	}
	ptr, err := t.Stack().PopU64()
	if err != nil {
		return nil, err
	}
	data, err := stringBytes(t, ptr)
	if err != nil {
		return nil, err
	}
	if index >= uint64(len(data)) {
		return nil, fmt.Errorf("%w: %d of %d", ErrIndexOutOfBound, index, len(data))
	}
	return nil, t.Stack().PushU64(uint64(data[index]))
}

// StringConcat pops two string pointers (right first) and pushes a new
// string holding their concatenation. The operands are left alive;
// releasing them is the program's business.
type StringConcat struct{}

func (StringConcat) Name() string   { return "STRING_CONCAT" }
func (StringConcat) Weight() Weight { return WeightHigh }
func (StringConcat) Execute(t *Thread) (*Signal, error) {
	rptr, err := t.Stack().PopU64()
	if err != nil {
		return nil, err
	}
	lptr, err := t.Stack().PopU64()
	if err != nil {
		return nil, err
	}
	left, err := stringBytes(t, lptr)
	if err != nil {
		return nil, err
	}
	right, err := stringBytes(t, rptr)
	if err != nil {
		return nil, err
	}
	ptr, err := newStringObject(t, append(left, right...))
	if err != nil {
		return nil, err
	}
	return nil, t.Stack().PushU64(ptr)
}
