package vm

// ---------------------------------------------------------------------------
// Memory access and heap management
// ---------------------------------------------------------------------------

// LoadAt reads Size bytes at a tagged address and pushes them. Frame
// addresses resolve against the current frame before dispatch.
type LoadAt struct {
	At   Address
	Size uint64
}

func (LoadAt) Name() string   { return "LOAD_AT" }
func (LoadAt) Weight() Weight { return WeightMedium }
func (in LoadAt) Execute(t *Thread) (*Signal, error) {
	flat, err := t.Flatten(in.At)
	if err != nil {
		return nil, err
	}
	data, err := t.ReadAt(flat, in.Size)
	if err != nil {
		return nil, err
	}
	return nil, t.Stack().Push(data)
}

// StoreAt pops Size bytes and writes them at a tagged address.
type StoreAt struct {
	At   Address
	Size uint64
}

func (StoreAt) Name() string   { return "STORE_AT" }
func (StoreAt) Weight() Weight { return WeightMedium }
func (in StoreAt) Execute(t *Thread) (*Signal, error) {
	data, err := t.Stack().Pop(in.Size)
	if err != nil {
		return nil, err
	}
	flat, err := t.Flatten(in.At)
	if err != nil {
		return nil, err
	}
	return nil, t.WriteAt(flat, data)
}

// Load pops a flat pointer and pushes the Size bytes it addresses.
type Load struct {
	Size uint64
}

func (Load) Name() string   { return "LOAD" }
func (Load) Weight() Weight { return WeightMedium }
func (in Load) Execute(t *Thread) (*Signal, error) {
	flat, err := t.Stack().PopU64()
	if err != nil {
		return nil, err
	}
	data, err := t.ReadAt(flat, in.Size)
	if err != nil {
		return nil, err
	}
	return nil, t.Stack().Push(data)
}

// Store pops a flat pointer, then Size bytes, and writes them there.
type Store struct {
	Size uint64
}

func (Store) Name() string   { return "STORE" }
func (Store) Weight() Weight { return WeightMedium }
func (in Store) Execute(t *Thread) (*Signal, error) {
	flat, err := t.Stack().PopU64()
	if err != nil {
		return nil, err
	}
	data, err := t.Stack().Pop(in.Size)
	if err != nil {
		return nil, err
	}
	return nil, t.WriteAt(flat, data)
}

// HeapAlloc pops a size and pushes a flat pointer to a fresh block.
type HeapAlloc struct{}

func (HeapAlloc) Name() string   { return "HEAP_ALLOC" }
func (HeapAlloc) Weight() Weight { return WeightHigh }
func (HeapAlloc) Execute(t *Thread) (*Signal, error) {
	size, err := t.Stack().PopU64()
	if err != nil {
		return nil, err
	}
	ptr, err := t.Memory().Heap().Alloc(size)
	if err != nil {
		return nil, err
	}
	return nil, t.Stack().PushU64(ptr)
}

// HeapFree pops a flat pointer and releases its block.
type HeapFree struct{}

func (HeapFree) Name() string   { return "HEAP_FREE" }
func (HeapFree) Weight() Weight { return WeightHigh }
func (HeapFree) Execute(t *Thread) (*Signal, error) {
	ptr, err := t.Stack().PopU64()
	if err != nil {
		return nil, err
	}
	return nil, t.Memory().Heap().Free(ptr)
}

// HeapRealloc pops a new size, then a flat pointer, and pushes the
// pointer to the resized block.
type HeapRealloc struct{}

func (HeapRealloc) Name() string   { return "HEAP_REALLOC" }
func (HeapRealloc) Weight() Weight { return WeightHigh }
func (HeapRealloc) Execute(t *Thread) (*Signal, error) {
	size, err := t.Stack().PopU64()
	if err != nil {
		return nil, err
	}
	ptr, err := t.Stack().PopU64()
	if err != nil {
		return nil, err
	}
	moved, err := t.Memory().Heap().Realloc(ptr, size)
	if err != nil {
		return nil, err
	}
	return nil, t.Stack().PushU64(moved)
}
