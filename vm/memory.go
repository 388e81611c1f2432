package vm

// ---------------------------------------------------------------------------
// Memory: zone dispatch over global data, per-thread stacks and the heap
// ---------------------------------------------------------------------------

// Memory owns the shared zones of the flat address space: the global
// region and the heap. The stack zone belongs to whichever thread is
// executing, so stack accesses are dispatched against the stack passed
// in by the caller.
type Memory struct {
	geo    Geometry
	global []byte
	heap   *Heap
}

// NewMemory builds the shared memory for a geometry.
func NewMemory(geo Geometry) *Memory {
	return &Memory{
		geo:    geo,
		global: make([]byte, geo.GlobalSize),
		heap:   NewHeap(geo),
	}
}

// Geometry returns the zone layout this memory was built with.
func (m *Memory) Geometry() Geometry { return m.geo }

// Heap exposes the allocator for alloc/free/realloc operations.
func (m *Memory) Heap() *Heap { return m.heap }

// Read copies size bytes at a flat address, dispatching on the zone the
// address decodes into. Stack reads resolve against stack.
func (m *Memory) Read(stack *Stack, flat, size uint64) ([]byte, error) {
	a, err := m.geo.Decode(flat)
	if err != nil {
		return nil, err
	}
	switch a.Zone {
	case ZoneGlobal:
		if size > m.geo.GlobalSize-a.Offset {
			return nil, ErrRead
		}
		out := make([]byte, size)
		copy(out, m.global[a.Offset:a.Offset+size])
		return out, nil
	case ZoneStack:
		return stack.Read(a.Offset, size)
	case ZoneHeap:
		return m.heap.Read(flat, size)
	default:
		return nil, ErrMemoryViolation
	}
}

// Write copies data at a flat address, dispatching on the zone.
func (m *Memory) Write(stack *Stack, flat uint64, data []byte) error {
	a, err := m.geo.Decode(flat)
	if err != nil {
		return err
	}
	switch a.Zone {
	case ZoneGlobal:
		if uint64(len(data)) > m.geo.GlobalSize-a.Offset {
			return ErrWrite
		}
		copy(m.global[a.Offset:], data)
		return nil
	case ZoneStack:
		return stack.Write(a.Offset, data)
	case ZoneHeap:
		return m.heap.Write(flat, data)
	default:
		return ErrMemoryViolation
	}
}
