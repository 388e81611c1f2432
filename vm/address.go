package vm

// ---------------------------------------------------------------------------
// Unified addressing: one linear space partitioned into Global/Stack/Heap
// ---------------------------------------------------------------------------

// Zone tags a memory address with the region it points into.
type Zone uint8

const (
	ZoneGlobal Zone = iota
	ZoneStack
	ZoneHeap
	// ZoneFrame is an offset relative to the owning stack's current frame
	// pointer. It is never persisted in flat form; Flatten resolves it
	// against the frame pointer first.
	ZoneFrame
)

// String returns a human-readable name for a Zone.
func (z Zone) String() string {
	switch z {
	case ZoneGlobal:
		return "global"
	case ZoneStack:
		return "stack"
	case ZoneHeap:
		return "heap"
	case ZoneFrame:
		return "frame"
	default:
		return "invalid"
	}
}

// Address is a zone-tagged offset. Offsets are relative to the start of
// the zone, not to the flat address space.
type Address struct {
	Zone   Zone
	Offset uint64
}

// GlobalAt, StackAt, HeapAt and FrameAt build zone-tagged addresses.
func GlobalAt(offset uint64) Address { return Address{ZoneGlobal, offset} }
func StackAt(offset uint64) Address  { return Address{ZoneStack, offset} }
func HeapAt(offset uint64) Address   { return Address{ZoneHeap, offset} }
func FrameAt(offset uint64) Address  { return Address{ZoneFrame, offset} }

// Add offsets the address forward, preserving its zone.
func (a Address) Add(n uint64) Address {
	a.Offset += n
	return a
}

// Sub offsets the address backward, saturating at zero rather than
// wrapping across a zone boundary.
func (a Address) Sub(n uint64) Address {
	if n > a.Offset {
		a.Offset = 0
	} else {
		a.Offset -= n
	}
	return a
}

// Geometry describes the configured sizes of the three flat zones.
// The flat space is laid out in ascending order Global, Stack, Heap,
// each range contiguous and non-overlapping.
type Geometry struct {
	GlobalSize uint64
	StackSize  uint64
	HeapSize   uint64
}

// Default zone sizes. These bound every address computation but are
// start-up configuration, not invariants of the algorithms.
const (
	DefaultGlobalSize = 2024
	DefaultStackSize  = 2024
	DefaultHeapSize   = 2048

	// Alignment is the allocation granularity of the heap. Heap block
	// offsets are always multiples of it, which is what frees the low
	// bit of free-list links for the null sentinel.
	Alignment = 8
)

// DefaultGeometry returns the default zone layout.
func DefaultGeometry() Geometry {
	return Geometry{
		GlobalSize: DefaultGlobalSize,
		StackSize:  DefaultStackSize,
		HeapSize:   DefaultHeapSize,
	}
}

// StackBase returns the flat address of the first stack byte.
func (g Geometry) StackBase() uint64 { return g.GlobalSize }

// HeapBase returns the flat address of the first heap byte.
func (g Geometry) HeapBase() uint64 { return g.GlobalSize + g.StackSize }

// Size returns the total flat address-space size.
func (g Geometry) Size() uint64 { return g.GlobalSize + g.StackSize + g.HeapSize }

// Decode classifies a flat address into exactly one zone by range
// membership. Addresses outside every zone are a memory violation.
func (g Geometry) Decode(flat uint64) (Address, error) {
	switch {
	case flat < g.GlobalSize:
		return Address{ZoneGlobal, flat}, nil
	case flat < g.HeapBase():
		return Address{ZoneStack, flat - g.StackBase()}, nil
	case flat < g.Size():
		return Address{ZoneHeap, flat - g.HeapBase()}, nil
	default:
		return Address{}, ErrMemoryViolation
	}
}

// Flatten folds a tagged address back into flat form. Frame-relative
// addresses are resolved against framePointer (the stack offset of the
// current frame's zero) before entering the stack range.
func (g Geometry) Flatten(a Address, framePointer uint64) (uint64, error) {
	switch a.Zone {
	case ZoneGlobal:
		if a.Offset >= g.GlobalSize {
			return 0, ErrMemoryViolation
		}
		return a.Offset, nil
	case ZoneStack:
		if a.Offset >= g.StackSize {
			return 0, ErrMemoryViolation
		}
		return g.StackBase() + a.Offset, nil
	case ZoneHeap:
		if a.Offset >= g.HeapSize {
			return 0, ErrMemoryViolation
		}
		return g.HeapBase() + a.Offset, nil
	case ZoneFrame:
		if a.Offset >= g.StackSize {
			return 0, ErrMemoryViolation
		}
		return g.Flatten(Address{ZoneStack, framePointer + a.Offset}, 0)
	default:
		return 0, ErrMemoryViolation
	}
}

// align rounds size up to the allocation granularity.
func align(size uint64) uint64 {
	return (size + (Alignment - 1)) &^ (Alignment - 1)
}
