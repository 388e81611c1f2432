package vm

import (
	"encoding/binary"
)

// ---------------------------------------------------------------------------
// Heap: free-list allocator over a fixed byte array
// ---------------------------------------------------------------------------
//
// Block layout (offsets relative to the block start):
//
//	[0,8)        header: size|1 if allocated, size&^1 if free (big-endian)
//	[8,16)       free blocks: previous free offset, or 1 for none
//	[16,24)      free blocks: next free offset, or 1 for none
//	[8,size-8)   allocated blocks: payload
//	[size-8,size) footer: must equal the header
//
// The minimum block size is 32 bytes: 16 bytes of header+footer plus a
// 16-byte payload floor, because a free block's payload must hold the
// two list links. Offsets are 8-byte aligned, so the odd value 1 is an
// impossible offset and doubles as the null link.

const (
	headerSize    = 8
	blockOverhead = 16 // header + footer
	minPayload    = 16
	minBlockSize  = blockOverhead + minPayload

	// nullLink is the odd sentinel marking "no neighbor" in free-list links.
	nullLink uint64 = 1
)

// Heap is a manually managed allocator over one fixed buffer. Pointers
// handed out are flat addresses (heap-zone offsets plus the heap base),
// and point at the block start; payload begins 8 bytes in.
type Heap struct {
	geo Geometry
	buf []byte

	// firstFree caches the head of the address-ordered free list
	// (nullLink when the list is empty). It is kept exactly in sync
	// with the true list head on every structural change.
	firstFree uint64

	allocated uint64 // payload bytes currently allocated
}

// NewHeap initializes a heap covering the geometry's heap zone with a
// single free block spanning the whole buffer.
func NewHeap(geo Geometry) *Heap {
	h := &Heap{
		geo:       geo,
		buf:       make([]byte, geo.HeapSize),
		firstFree: 0,
	}
	h.putBlock(0, geo.HeapSize, false, nullLink, nullLink)
	return h
}

// AllocatedSize returns the payload bytes currently allocated.
func (h *Heap) AllocatedSize() uint64 { return h.allocated }

// block is a parsed view of a byte range, not a first-class object.
type block struct {
	off       uint64
	size      uint64
	allocated bool
	prev      uint64 // link values, only meaningful for free blocks
	next      uint64
}

func (b block) payloadSize() uint64 { return b.size - blockOverhead }
func (b block) end() uint64         { return b.off + b.size }

func decodeHeader(word uint64) (size uint64, allocated bool) {
	return word &^ 7, word&1 != 0
}

func encodeHeader(size uint64, allocated bool) uint64 {
	if allocated {
		return size | 1
	}
	return size &^ 1
}

// readBlock parses and validates the block starting at off.
func (h *Heap) readBlock(off uint64) (block, error) {
	if off&1 != 0 || off+minBlockSize > h.geo.HeapSize {
		return block{}, ErrInvalidPointer
	}
	head := binary.BigEndian.Uint64(h.buf[off:])
	size, allocated := decodeHeader(head)
	if size < minBlockSize || size%Alignment != 0 || off+size > h.geo.HeapSize {
		return block{}, ErrInvalidPointer
	}
	foot := binary.BigEndian.Uint64(h.buf[off+size-headerSize:])
	if head != foot {
		return block{}, ErrInvalidPointer
	}
	b := block{off: off, size: size, allocated: allocated}
	if !allocated {
		b.prev = binary.BigEndian.Uint64(h.buf[off+8:])
		b.next = binary.BigEndian.Uint64(h.buf[off+16:])
	}
	return b, nil
}

// putBlock writes a block's header, footer and (for free blocks) links.
func (h *Heap) putBlock(off, size uint64, allocated bool, prev, next uint64) {
	word := encodeHeader(size, allocated)
	binary.BigEndian.PutUint64(h.buf[off:], word)
	binary.BigEndian.PutUint64(h.buf[off+size-headerSize:], word)
	if !allocated {
		binary.BigEndian.PutUint64(h.buf[off+8:], prev)
		binary.BigEndian.PutUint64(h.buf[off+16:], next)
	}
}

func (h *Heap) setNext(off, next uint64) {
	binary.BigEndian.PutUint64(h.buf[off+16:], next)
}

func (h *Heap) setPrev(off, prev uint64) {
	binary.BigEndian.PutUint64(h.buf[off+8:], prev)
}

// unlink removes a free block from the list, repairing the head cache.
func (h *Heap) unlink(b block) {
	if b.prev != nullLink {
		h.setNext(b.prev, b.next)
	} else {
		h.firstFree = b.next
	}
	if b.next != nullLink {
		h.setPrev(b.next, b.prev)
	}
}

// linkAfter splices a free block into the list between prev and next.
func (h *Heap) linkAfter(off uint64, prev, next uint64) {
	if prev != nullLink {
		h.setNext(prev, off)
	} else {
		h.firstFree = off
	}
	if next != nullLink {
		h.setPrev(next, off)
	}
	h.setPrev(off, prev)
	h.setNext(off, next)
}

// neighbors walks the free list and returns the links surrounding off:
// the last free block below it and the first free block above it.
func (h *Heap) neighbors(off uint64) (prev, next uint64, err error) {
	prev, next = nullLink, nullLink
	for cur := h.firstFree; cur != nullLink; {
		b, err := h.readBlock(cur)
		if err != nil {
			return nullLink, nullLink, err
		}
		if b.off < off {
			prev = b.off
		} else {
			next = b.off
			break
		}
		cur = b.next
	}
	return prev, next, nil
}

// bestFit scans the free list for the smallest block whose payload can
// hold the requested size.
func (h *Heap) bestFit(payload uint64) (block, bool, error) {
	var fit block
	found := false
	for cur := h.firstFree; cur != nullLink; {
		b, err := h.readBlock(cur)
		if err != nil {
			return block{}, false, err
		}
		if b.allocated {
			// A linked allocated block means the list is corrupt.
			return block{}, false, ErrInvalidPointer
		}
		if b.payloadSize() >= payload && (!found || b.size < fit.size) {
			fit = b
			found = true
		}
		cur = b.next
	}
	return fit, found, nil
}

// Alloc carves out a block whose payload holds size bytes and returns a
// flat pointer to the block start. The request is aligned up to 8 and
// floored at the 16-byte free-payload minimum; the best-fit block is
// split when the surplus can form a free block of its own (>=32 bytes),
// otherwise consumed whole to avoid unusable slivers.
func (h *Heap) Alloc(size uint64) (uint64, error) {
	if size > h.geo.HeapSize {
		return 0, ErrAllocation
	}
	payload := align(size)
	if payload < minPayload {
		payload = minPayload
	}
	b, ok, err := h.bestFit(payload)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrAllocation
	}

	if b.payloadSize()-payload >= minBlockSize {
		// Split: allocated block in front, free remainder behind,
		// spliced into the list in place of the original.
		allocSize := payload + blockOverhead
		remOff := b.off + allocSize
		remSize := b.size - allocSize
		h.putBlock(b.off, allocSize, true, 0, 0)
		h.putBlock(remOff, remSize, false, b.prev, b.next)
		if b.prev != nullLink {
			h.setNext(b.prev, remOff)
		} else {
			h.firstFree = remOff
		}
		if b.next != nullLink {
			h.setPrev(b.next, remOff)
		}
		h.allocated += payload
	} else {
		h.unlink(b)
		h.putBlock(b.off, b.size, true, 0, 0)
		h.allocated += b.payloadSize()
	}
	return h.geo.HeapBase() + b.off, nil
}

// Free releases an allocated block, coalescing with free physical
// neighbors on both sides and re-splicing the merged block into the
// address-ordered free list.
func (h *Heap) Free(pointer uint64) error {
	off, err := h.heapOffset(pointer)
	if err != nil {
		return err
	}
	b, err := h.readBlock(off)
	if err != nil {
		return err
	}
	if !b.allocated {
		return ErrFree
	}
	freed := b.payloadSize()

	start, size := b.off, b.size

	// peek left: the neighbor's footer sits just before this block.
	if left, ok := h.peekLeft(b.off); ok && !left.allocated {
		h.unlink(left)
		start = left.off
		size += left.size
	}
	// skip right: the neighbor's header sits right after this block.
	if b.end() < h.geo.HeapSize {
		if right, err := h.readBlock(b.end()); err == nil && !right.allocated {
			h.unlink(right)
			size += right.size
		}
	}

	prev, next, err := h.neighbors(start)
	if err != nil {
		return err
	}
	h.putBlock(start, size, false, prev, next)
	h.linkAfter(start, prev, next)

	h.allocated -= freed
	return nil
}

// peekLeft parses the block physically preceding off via its footer.
func (h *Heap) peekLeft(off uint64) (block, bool) {
	if off < minBlockSize {
		return block{}, false
	}
	foot := binary.BigEndian.Uint64(h.buf[off-headerSize:])
	size, _ := decodeHeader(foot)
	if size < minBlockSize || size > off {
		return block{}, false
	}
	left, err := h.readBlock(off - size)
	if err != nil || left.end() != off {
		return block{}, false
	}
	return left, true
}

// Realloc moves an allocation to a block of the new size, preserving as
// much payload as fits.
func (h *Heap) Realloc(pointer uint64, size uint64) (uint64, error) {
	off, err := h.heapOffset(pointer)
	if err != nil {
		return 0, err
	}
	b, err := h.readBlock(off)
	if err != nil {
		return 0, err
	}
	if !b.allocated {
		return 0, ErrInvalidPointer
	}
	data, err := h.Read(pointer+headerSize, b.payloadSize())
	if err != nil {
		return 0, err
	}
	if err := h.Free(pointer); err != nil {
		return 0, err
	}
	moved, err := h.Alloc(size)
	if err != nil {
		return 0, err
	}
	keep := align(size)
	if keep < minPayload {
		keep = minPayload
	}
	if uint64(len(data)) < keep {
		keep = uint64(len(data))
	}
	if err := h.Write(moved+headerSize, data[:keep]); err != nil {
		return 0, err
	}
	return moved, nil
}

// Read copies size bytes starting at a flat heap address.
func (h *Heap) Read(pointer uint64, size uint64) ([]byte, error) {
	off, err := h.heapOffset(pointer)
	if err != nil {
		return nil, ErrRead
	}
	if size > h.geo.HeapSize-off {
		return nil, ErrRead
	}
	out := make([]byte, size)
	copy(out, h.buf[off:off+size])
	return out, nil
}

// Write copies data into the heap at a flat heap address.
func (h *Heap) Write(pointer uint64, data []byte) error {
	off, err := h.heapOffset(pointer)
	if err != nil {
		return ErrWrite
	}
	if uint64(len(data)) > h.geo.HeapSize-off {
		return ErrWrite
	}
	copy(h.buf[off:], data)
	return nil
}

func (h *Heap) heapOffset(pointer uint64) (uint64, error) {
	base := h.geo.HeapBase()
	if pointer < base || pointer-base >= h.geo.HeapSize {
		return 0, ErrInvalidPointer
	}
	return pointer - base, nil
}

// ---------------------------------------------------------------------------
// Introspection (used by invariant checks in tests and by heap walkers)
// ---------------------------------------------------------------------------

// BlockInfo describes one block for heap walkers.
type BlockInfo struct {
	Offset    uint64
	Size      uint64
	Allocated bool
}

// Blocks walks the heap physically, first block to last.
func (h *Heap) Blocks() ([]BlockInfo, error) {
	var out []BlockInfo
	for off := uint64(0); off < h.geo.HeapSize; {
		b, err := h.readBlock(off)
		if err != nil {
			return nil, err
		}
		out = append(out, BlockInfo{Offset: b.off, Size: b.size, Allocated: b.allocated})
		off = b.end()
	}
	return out, nil
}

// FreeList walks the free list head to tail and returns block offsets.
// A cycle or a linked allocated block yields ErrInvalidPointer.
func (h *Heap) FreeList() ([]uint64, error) {
	seen := make(map[uint64]bool)
	var out []uint64
	for cur := h.firstFree; cur != nullLink; {
		if seen[cur] {
			return nil, ErrInvalidPointer
		}
		seen[cur] = true
		b, err := h.readBlock(cur)
		if err != nil {
			return nil, err
		}
		if b.allocated {
			return nil, ErrInvalidPointer
		}
		out = append(out, b.off)
		cur = b.next
	}
	return out, nil
}
