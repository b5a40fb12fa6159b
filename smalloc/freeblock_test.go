// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package smalloc

import "testing"

func TestFreeBlockNeighbors(t *testing.T) {
	m := NewPageMemory()
	if _, err := m.Grow(1); err != nil {
		t.Fatal(err)
	}

	a := newSlice(m, MinPtr+HeaderSize, 32, false).ToFreeBlock()
	bPtr := a.End() + HeaderSize
	b := newSlice(m, bPtr, 24, false).ToFreeBlock()
	maxPtr := b.End()

	prev, ok := b.prevNeighbor()
	if !ok {
		t.Fatal("want a free prev neighbor")
	}
	if g, e := prev.ptr, a.ptr; g != e {
		t.Fatal(g, e)
	}
	if g, e := prev.payload, a.payload; g != e {
		t.Fatal(g, e)
	}

	next, ok := a.nextNeighbor(maxPtr)
	if !ok {
		t.Fatal("want a free next neighbor")
	}
	if g, e := next.ptr, b.ptr; g != e {
		t.Fatal(g, e)
	}

	if _, ok := b.nextNeighbor(maxPtr); ok {
		t.Fatal("b abuts maxPtr, want no next neighbor")
	}

	if _, ok := a.prevNeighbor(); ok {
		t.Fatal("a is the first block, want no prev neighbor")
	}
}

func TestFreeBlockSplitAndMerge(t *testing.T) {
	m := NewPageMemory()
	if _, err := m.Grow(1); err != nil {
		t.Fatal(err)
	}

	whole := newSlice(m, MinPtr+HeaderSize, 64, false).ToFreeBlock()
	if !canSplit(whole.payload, 16) {
		t.Fatal("want splittable")
	}

	left, right := whole.split(16)
	if g, e := left.payload, uint64(16); g != e {
		t.Fatal(g, e)
	}
	if g, e := right.ptr, left.End()+HeaderSize; g != e {
		t.Fatal(g, e)
	}
	if g, e := left.payload+right.payload+2*HeaderSize, whole.payload; g != e {
		t.Fatal(g, e)
	}

	merged := mergeFreeBlocks(left, right)
	if g, e := merged.ptr, left.ptr; g != e {
		t.Fatal(g, e)
	}
	if g, e := merged.payload, whole.payload; g != e {
		t.Fatal(g, e)
	}
}

func TestCanSplitRejectsTooSmallRemainder(t *testing.T) {
	const size = 40
	if canSplit(size, size) {
		t.Fatal("exact fit must not split")
	}
	if canSplit(size, size-2*HeaderSize-MinPayload+1) {
		t.Fatal("remainder one byte short of MinPayload must not split")
	}
	if !canSplit(size, size-2*HeaderSize-MinPayload) {
		t.Fatal("remainder exactly MinPayload must split")
	}
}
