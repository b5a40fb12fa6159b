// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package smalloc

import (
	"encoding/binary"
	"fmt"
	"reflect"
	"sort"
)

// AllocatorPtr is the fixed offset at which the root pointer to the
// allocator's own persisted state lives.
const AllocatorPtr uint64 = 0

// MinPtr is the lowest address a block header may ever occupy: the root
// pointer word reserves [0, MinPtr).
const MinPtr uint64 = 8

// EmptyPtr marks "no allocator saved yet" at the root pointer address.
// Because a freshly grown Memory reads back as all zero, this package also
// treats a root word of 0 as "nothing saved" (see Retrieve) — 0 can never
// be a legal slice pointer, since every payload starts at MinPtr+HeaderSize
// or later.
const EmptyPtr uint64 = ^uint64(0)

// Allocator is a free-list allocator over a Memory: size-indexed free
// lists, split/merge/coalesce, grow-on-demand, and self-persistence. It is
// the Go rendering of the original crate's StableMemoryAllocator and plays
// the role lldb.Allocator plays for a Filer, minus the atom/tag framing
// and content compression (see DESIGN.md for why compression was dropped).
type Allocator struct {
	mem Memory

	// freeBlocks maps payload size to an ascending (by pointer) sequence
	// of free block pointers of exactly that size. sizeKeys mirrors the
	// map's keys in ascending order, since Go maps have no order of
	// their own.
	freeBlocks map[uint64][]uint64
	sizeKeys   []uint64

	customData map[int]uint64

	freeSize      uint64
	availableSize uint64
	maxPtr        uint64
}

// New returns an empty Allocator bound to mem. It does not touch the root
// pointer; call Store to persist it for the first time.
func New(mem Memory) *Allocator {
	return &Allocator{
		mem:        mem,
		freeBlocks: map[uint64][]uint64{},
		customData: map[int]uint64{},
	}
}

// Retrieve reads the root pointer at AllocatorPtr and restores the
// allocator state it refers to, immediately freeing the bootstrap slice
// that held the encoding so it is available for reuse. If no
// allocator has ever been stored, it returns a fresh, empty Allocator, the
// same one New would.
func Retrieve(mem Memory) *Allocator {
	if mem.SizePages() == 0 {
		return New(mem)
	}

	var word [8]byte
	mem.ReadAt(word[:], AllocatorPtr)
	ptr := binary.LittleEndian.Uint64(word[:])
	if ptr == EmptyPtr || ptr == 0 {
		return New(mem)
	}

	slice := sliceFromPtr(mem, ptr)
	buf := make([]byte, slice.payload)
	slice.ReadBytes(0, buf)

	a := decodeAllocator(buf)
	a.mem = mem
	a.Deallocate(slice)
	return a
}

// Store encodes the allocator, allocates a slice sized to hold that
// encoding plus 100 bytes of slack (the encoding may itself grow while
// the allocator mutates its own free lists to serve this very
// allocation), re-encodes into that slice, and writes the slice's pointer
// at AllocatorPtr.
func (a *Allocator) Store() {
	buf := a.encode()
	slice := a.Allocate(uint64(len(buf)) + 100)

	buf = a.encode()
	slice.WriteBytes(0, buf)

	var word [8]byte
	binary.LittleEndian.PutUint64(word[:], slice.ptr)
	a.mem.WriteAt(word[:], AllocatorPtr)
}

// Allocate returns a Slice of payload >= pad(size). It never returns a
// slice smaller than requested.
func (a *Allocator) Allocate(size uint64) Slice {
	size = padSize(size)

	fb, ok := a.popFreeBlock(size)
	if !ok {
		fb = a.grow(size)
		total := fb.TotalSize()
		a.availableSize += total
		a.freeSize += total
	}

	if canSplit(fb.payload, size) {
		left, right := fb.split(size)
		a.pushFreeBlock(right)
		fb = left
	}

	a.freeSize -= fb.TotalSize()
	return fb.FromFreeBlock()
}

// Deallocate returns slice to the free lists, coalescing with both
// neighbors if they are free.
func (a *Allocator) Deallocate(slice Slice) {
	fb := slice.ToFreeBlock()
	a.freeSize += fb.TotalSize()
	fb = a.tryMergeWithNeighbors(fb)
	a.pushFreeBlock(fb)
}

// Reallocate returns a slice of payload >= pad(newSize). If newSize fits
// the existing payload, the same slice is returned (movedInPlace=true). It
// then tries growing in place by absorbing the next neighbor if that
// neighbor is free and jointly large enough (also movedInPlace=true).
// Otherwise it allocates a new slice, copies the old payload into its
// prefix, frees the old slice, and returns the new one
// (movedInPlace=false) — the old Slice value must not be used afterward.
func (a *Allocator) Reallocate(slice Slice, newSize uint64) (Slice, bool) {
	newSize = padSize(newSize)
	if newSize <= slice.payload {
		return slice, true
	}

	fb := slice.ToFreeBlock()
	if merged, ok := a.tryReallocateInPlace(fb, newSize); ok {
		return merged.FromFreeBlock(), true
	}

	buf := make([]byte, slice.payload)
	fb.ReadBytes(0, buf)

	a.freeSize += fb.TotalSize()
	fb = a.tryMergeWithNeighbors(fb)
	a.pushFreeBlock(fb)

	newSlice := a.Allocate(newSize)
	newSlice.WriteBytes(0, buf)
	return newSlice, false
}

// SetCustomDataPtr binds slot idx to ptr, returning the slot's previous
// value if any.
func (a *Allocator) SetCustomDataPtr(idx int, ptr uint64) (uint64, bool) {
	prev, had := a.customData[idx]
	a.customData[idx] = ptr
	return prev, had
}

// GetCustomDataPtr returns the pointer bound to slot idx, if any.
func (a *Allocator) GetCustomDataPtr(idx int) (uint64, bool) {
	ptr, ok := a.customData[idx]
	return ptr, ok
}

// DeleteCustomDataPtr unbinds slot idx, returning its former value if any.
func (a *Allocator) DeleteCustomDataPtr(idx int) (uint64, bool) {
	prev, had := a.customData[idx]
	delete(a.customData, idx)
	return prev, had
}

// GetAllocatedSize returns the number of bytes currently handed out.
func (a *Allocator) GetAllocatedSize() uint64 { return a.availableSize - a.freeSize }

// GetAvailableSize returns the number of bytes this allocator has ever
// claimed from Memory (allocated + free).
func (a *Allocator) GetAvailableSize() uint64 { return a.availableSize }

// GetFreeSize returns the number of bytes sitting in free lists.
func (a *Allocator) GetFreeSize() uint64 { return a.freeSize }

// FreeBlocksCount reports how many distinct free blocks exist, for tests.
func (a *Allocator) FreeBlocksCount() int {
	n := 0
	for _, ptrs := range a.freeBlocks {
		n += len(ptrs)
	}
	return n
}

// Equal reports whether a and b have identical logical state, the equality
// round-trip persistence is phrased against. Memory identity is
// deliberately excluded.
func (a *Allocator) Equal(b *Allocator) bool {
	return a.freeSize == b.freeSize &&
		a.availableSize == b.availableSize &&
		a.maxPtr == b.maxPtr &&
		reflect.DeepEqual(a.customData, b.customData) &&
		reflect.DeepEqual(a.freeBlocks, b.freeBlocks) &&
		reflect.DeepEqual(a.sizeKeys, b.sizeKeys)
}

func (a *Allocator) tryReallocateInPlace(fb freeBlock, newSize uint64) (freeBlock, bool) {
	next, ok := fb.nextNeighbor(a.maxPtr)
	if !ok {
		return fb, false
	}

	mergedPayload := fb.payload + next.payload + 2*HeaderSize
	if mergedPayload < newSize {
		return fb, false
	}

	a.freeSize -= next.TotalSize()
	a.removeFreeBlock(next)
	merged := mergeFreeBlocks(fb, next)

	if !canSplit(mergedPayload, newSize) {
		return merged, true
	}

	left, right := merged.split(newSize)
	a.freeSize += right.TotalSize()
	a.pushFreeBlock(right)
	return left, true
}

func (a *Allocator) tryMergeWithNeighbors(fb freeBlock) freeBlock {
	if prev, ok := fb.prevNeighbor(); ok {
		a.removeFreeBlock(prev)
		fb = mergeFreeBlocks(prev, fb)
	}

	if next, ok := fb.nextNeighbor(a.maxPtr); ok {
		a.removeFreeBlock(next)
		fb = mergeFreeBlocks(fb, next)
	}

	return fb
}

func (a *Allocator) pushFreeBlock(fb freeBlock) {
	fb.persist()

	ptrs, existed := a.freeBlocks[fb.payload]
	idx := sort.Search(len(ptrs), func(i int) bool { return ptrs[i] >= fb.ptr })
	if idx < len(ptrs) && ptrs[idx] == fb.ptr {
		panic("smalloc: duplicate free block pointer")
	}

	ptrs = append(ptrs, 0)
	copy(ptrs[idx+1:], ptrs[idx:])
	ptrs[idx] = fb.ptr
	a.freeBlocks[fb.payload] = ptrs

	if !existed {
		a.insertSizeKey(fb.payload)
	}
}

func (a *Allocator) popFreeBlock(size uint64) (freeBlock, bool) {
	i := sort.Search(len(a.sizeKeys), func(i int) bool { return a.sizeKeys[i] >= size })
	if i == len(a.sizeKeys) {
		return freeBlock{}, false
	}

	actualSize := a.sizeKeys[i]
	ptrs := a.freeBlocks[actualSize]
	ptr := ptrs[len(ptrs)-1]
	ptrs = ptrs[:len(ptrs)-1]

	if len(ptrs) == 0 {
		delete(a.freeBlocks, actualSize)
		a.sizeKeys = append(a.sizeKeys[:i], a.sizeKeys[i+1:]...)
	} else {
		a.freeBlocks[actualSize] = ptrs
	}

	return freeBlock{Slice{mem: a.mem, ptr: ptr, payload: actualSize}}, true
}

func (a *Allocator) removeFreeBlock(fb freeBlock) {
	ptrs := a.freeBlocks[fb.payload]
	idx := sort.Search(len(ptrs), func(i int) bool { return ptrs[i] >= fb.ptr })
	if idx == len(ptrs) || ptrs[idx] != fb.ptr {
		panic("smalloc: removeFreeBlock of an unindexed pointer")
	}

	ptrs = append(ptrs[:idx], ptrs[idx+1:]...)
	if len(ptrs) == 0 {
		delete(a.freeBlocks, fb.payload)
		a.removeSizeKey(fb.payload)
	} else {
		a.freeBlocks[fb.payload] = ptrs
	}
}

func (a *Allocator) insertSizeKey(size uint64) {
	idx := sort.Search(len(a.sizeKeys), func(i int) bool { return a.sizeKeys[i] >= size })
	a.sizeKeys = append(a.sizeKeys, 0)
	copy(a.sizeKeys[idx+1:], a.sizeKeys[idx:])
	a.sizeKeys[idx] = size
}

func (a *Allocator) removeSizeKey(size uint64) {
	idx := sort.Search(len(a.sizeKeys), func(i int) bool { return a.sizeKeys[i] >= size })
	if idx < len(a.sizeKeys) && a.sizeKeys[idx] == size {
		a.sizeKeys = append(a.sizeKeys[:idx], a.sizeKeys[idx+1:]...)
	}
}

// grow claims fresh memory for a block able to hold at least size payload
// bytes, advancing maxPtr and returning the new tail as a single,
// not-yet-indexed free block. The first ever call also advances maxPtr
// from AllocatorPtr past the reserved root word to MinPtr.
func (a *Allocator) grow(size uint64) freeBlock {
	memoryGrown := a.mem.SizePages() * PageSize

	if a.maxPtr == AllocatorPtr {
		a.maxPtr = MinPtr
	}

	var blockStart, totalSize, newMaxPtr uint64

	switch {
	case a.maxPtr < memoryGrown:
		available := memoryGrown - a.maxPtr
		needed := size + 2*HeaderSize
		if available < needed {
			toGrow := needed - available
			pages := ceilDiv(toGrow, PageSize)
			prevPages := a.growMemory(pages)
			newMaxPtr = (prevPages + pages) * PageSize
			blockStart = a.maxPtr
			totalSize = newMaxPtr - a.maxPtr
		} else {
			blockStart = a.maxPtr
			totalSize = available
			newMaxPtr = a.maxPtr + available
		}
	default:
		pages := ceilDiv(a.maxPtr-memoryGrown+size+2*HeaderSize, PageSize)
		prevPages := a.growMemory(pages)
		newMaxPtr = (prevPages + pages) * PageSize
		blockStart = a.maxPtr
		totalSize = newMaxPtr - a.maxPtr
	}

	a.maxPtr = newMaxPtr
	payload := totalSize - 2*HeaderSize
	return newSlice(a.mem, blockStart+HeaderSize, payload, false).ToFreeBlock()
}

func (a *Allocator) growMemory(pages uint64) uint64 {
	prevPages, err := a.mem.Grow(pages)
	if err != nil {
		panic(fmt.Errorf("smalloc: unable to grow memory: %w", err))
	}
	return prevPages
}

// padSize enforces the minimum payload and the 8-byte alignment
// requirement.
func padSize(size uint64) uint64 {
	if size < MinPayload {
		return MinPayload
	}
	return (size + 7) &^ 7
}

func ceilDiv(n, d uint64) uint64 {
	return (n + d - 1) / d
}
