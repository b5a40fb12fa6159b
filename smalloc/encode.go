// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package smalloc

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
)

// encode renders the allocator's logical state as a self-describing,
// little-endian byte stream. Framing is this package's own choice
// — a direct hand-rolled rendering of the map<size, Vec<ptr>> plus
// map<slot, ptr> shape candid encodes for the original crate — chosen
// because no example repo in the retrieval pack provides a generic
// self-describing serializer that fits this shape any better (see
// DESIGN.md).
func (a *Allocator) encode() []byte {
	var buf bytes.Buffer

	writeU64(&buf, a.freeSize)
	writeU64(&buf, a.availableSize)
	writeU64(&buf, a.maxPtr)

	writeU64(&buf, uint64(len(a.sizeKeys)))
	for _, size := range a.sizeKeys {
		ptrs := a.freeBlocks[size]
		writeU64(&buf, size)
		writeU64(&buf, uint64(len(ptrs)))
		for _, p := range ptrs {
			writeU64(&buf, p)
		}
	}

	writeU64(&buf, uint64(len(a.customData)))
	slots := make([]int, 0, len(a.customData))
	for slot := range a.customData {
		slots = append(slots, slot)
	}
	sort.Ints(slots)
	for _, slot := range slots {
		writeU64(&buf, uint64(int64(slot)))
		writeU64(&buf, a.customData[slot])
	}

	return buf.Bytes()
}

// decodeAllocator is the inverse of encode. It panics on malformed input,
// matching the documented rule that an invariant violation in decode is
// fatal: the memory image is corrupt.
func decodeAllocator(buf []byte) *Allocator {
	r := bytes.NewReader(buf)

	a := &Allocator{
		freeBlocks: map[uint64][]uint64{},
		customData: map[int]uint64{},
	}

	a.freeSize = readU64(r)
	a.availableSize = readU64(r)
	a.maxPtr = readU64(r)

	nSizes := readU64(r)
	a.sizeKeys = make([]uint64, 0, nSizes)
	for i := uint64(0); i < nSizes; i++ {
		size := readU64(r)
		n := readU64(r)
		ptrs := make([]uint64, n)
		for j := range ptrs {
			ptrs[j] = readU64(r)
		}
		a.freeBlocks[size] = ptrs
		a.sizeKeys = append(a.sizeKeys, size)
	}

	nCustom := readU64(r)
	for i := uint64(0); i < nCustom; i++ {
		slot := int(int64(readU64(r)))
		ptr := readU64(r)
		a.customData[slot] = ptr
	}

	return a
}

func writeU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func readU64(r *bytes.Reader) uint64 {
	var b [8]byte
	if _, err := r.Read(b[:]); err != nil {
		panic(fmt.Errorf("smalloc: corrupt allocator encoding: %w", err))
	}
	return binary.LittleEndian.Uint64(b[:])
}
