// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package smalloc

import "encoding/binary"

// freeBlock is a Slice known to be in the free state. It adds neighbor
// navigation (by reading the sentinel word immediately outside either end)
// and split/merge, the Go rendering of the original crate's FreeBlock.
// Unlike an intrusive free list, a freeBlock carries no prev/next link of
// its own: the Allocator indexes free blocks by size in a separate
// structure, so the first 16 payload bytes of a free block are left
// undefined here.
type freeBlock struct {
	Slice
}

// prevNeighbor returns the free block immediately preceding this one, or
// ok=false if there is no such block (we're at MIN_PTR) or it is
// allocated.
func (fb freeBlock) prevNeighbor() (freeBlock, bool) {
	if fb.ptr <= MinPtr+HeaderSize {
		return freeBlock{}, false
	}

	var word [HeaderSize]byte
	fb.mem.ReadAt(word[:], fb.ptr-2*HeaderSize)
	size, allocated := unpackSentinel(binary.LittleEndian.Uint64(word[:]))
	if allocated {
		return freeBlock{}, false
	}

	neighborPtr := fb.ptr - HeaderSize - size - HeaderSize
	return freeBlock{Slice{mem: fb.mem, ptr: neighborPtr, payload: size}}, true
}

// nextNeighbor returns the free block immediately following this one, or
// ok=false if there is no such block (we're at maxPtr) or it is
// allocated.
func (fb freeBlock) nextNeighbor(maxPtr uint64) (freeBlock, bool) {
	trailerEnd := fb.End()
	if trailerEnd >= maxPtr {
		return freeBlock{}, false
	}

	var word [HeaderSize]byte
	fb.mem.ReadAt(word[:], trailerEnd)
	size, allocated := unpackSentinel(binary.LittleEndian.Uint64(word[:]))
	if allocated {
		return freeBlock{}, false
	}

	return freeBlock{Slice{mem: fb.mem, ptr: trailerEnd + HeaderSize, payload: size}}, true
}

// canSplit reports whether a free block with a payload of size bytes can be
// split into a first half with a payload of needed bytes and a legal
// free-block remainder.
func canSplit(size, needed uint64) bool {
	return size >= needed+2*HeaderSize+MinPayload
}

// split divides fb into (a, b) where a has payload newPayload and b holds
// the remainder. Both halves' sentinels are (re)written and both are left
// marked free; the caller decides what, if anything, happens to b. split
// panics if the remainder would not itself be a legal free block — callers
// MUST check canSplit first.
func (fb freeBlock) split(newPayload uint64) (a, b freeBlock) {
	remainder := fb.payload - newPayload - 2*HeaderSize
	if !canSplit(fb.payload, newPayload) {
		panic("smalloc: split of an undersized free block")
	}

	a = newSlice(fb.mem, fb.ptr, newPayload, false).ToFreeBlock()
	bPtr := a.End() + HeaderSize
	b = newSlice(fb.mem, bPtr, remainder, false).ToFreeBlock()
	return a, b
}

// mergeFreeBlocks fuses two adjacent free blocks, a immediately followed
// by b, into one. It panics if they are not contiguous.
func mergeFreeBlocks(a, b freeBlock) freeBlock {
	if a.End()+HeaderSize != b.ptr {
		panic("smalloc: merge of non-adjacent blocks")
	}

	merged := a.payload + b.payload + 2*HeaderSize
	return newSlice(a.mem, a.ptr, merged, false).ToFreeBlock()
}

// persist writes both sentinels of fb to memory. Most constructors already
// do this; persist exists for call sites (like Allocator.pushFreeBlock)
// that want to make the intent explicit, matching FreeBlock::persist in
// the original crate.
func (fb freeBlock) persist() {
	fb.writeSentinels(false)
}
