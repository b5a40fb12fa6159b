// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package smalloc

import (
	"encoding/binary"
	"fmt"
)

// HeaderSize is the width, in bytes, of each of a block's two bidirectional
// sentinel words.
const HeaderSize = 8

// MinPayload is the smallest payload a block may carry.
const MinPayload = 16

// allocatedFlag occupies the top bit of a sentinel word; the remaining 63
// bits carry the payload size in bytes.
const allocatedFlag = uint64(1) << 63

func packSentinel(size uint64, allocated bool) uint64 {
	if allocated {
		return size | allocatedFlag
	}
	return size &^ allocatedFlag
}

func unpackSentinel(word uint64) (size uint64, allocated bool) {
	return word &^ allocatedFlag, word&allocatedFlag != 0
}

// Slice is a typed view over the payload range [ptr, ptr+size) of a block,
// with its header sentinel at ptr-HeaderSize and its trailer sentinel at
// ptr+size. It is the Go rendering of the original crate's SSlice and
// corresponds to the handle/content-block pairing lldb.Allocator.Alloc
// hands back, minus the atom/tag framing — this package addresses bytes
// directly rather than through 16-byte atoms.
type Slice struct {
	mem     Memory
	ptr     uint64
	payload uint64
}

// sliceFromPtr builds a Slice for an existing block at ptr by reading its
// header sentinel. It does not assert the block's allocated/free state.
func sliceFromPtr(mem Memory, ptr uint64) Slice {
	var hdr [HeaderSize]byte
	mem.ReadAt(hdr[:], ptr-HeaderSize)
	size, _ := unpackSentinel(binary.LittleEndian.Uint64(hdr[:]))
	return Slice{mem: mem, ptr: ptr, payload: size}
}

// FromPtr builds a Slice for an existing allocated block at ptr by reading
// its header sentinel, for callers (such as certmap.Node) that persist a
// raw pointer themselves rather than going through Allocator.Retrieve.
func FromPtr(mem Memory, ptr uint64) Slice {
	return sliceFromPtr(mem, ptr)
}

// newSlice writes fresh sentinels for a block of the given payload size at
// ptr and returns the resulting Slice.
func newSlice(mem Memory, ptr, payload uint64, allocated bool) Slice {
	s := Slice{mem: mem, ptr: ptr, payload: payload}
	s.writeSentinels(allocated)
	return s
}

func (s Slice) writeSentinels(allocated bool) {
	var word [HeaderSize]byte
	binary.LittleEndian.PutUint64(word[:], packSentinel(s.payload, allocated))
	s.mem.WriteAt(word[:], s.ptr-HeaderSize)
	s.mem.WriteAt(word[:], s.ptr+s.payload)
}

// Ptr returns the slice's payload start address.
func (s Slice) Ptr() uint64 { return s.ptr }

// PayloadSize returns the number of usable bytes in the slice.
func (s Slice) PayloadSize() uint64 { return s.payload }

// TotalSize returns payload size plus both headers, i.e. the number of
// bytes this block occupies in memory end to end.
func (s Slice) TotalSize() uint64 { return s.payload + 2*HeaderSize }

// End returns the address one past the slice's trailer sentinel, i.e.
// where the next block (if any) begins.
func (s Slice) End() uint64 { return s.ptr + s.payload + HeaderSize }

func (s Slice) checkBounds(off, n uint64) {
	if off+n > s.payload {
		panic(fmt.Sprintf("smalloc: slice bounds out of range: offset %d, length %d, payload %d", off, n, s.payload))
	}
}

// ReadBytes reads len(p) bytes at offset off within the payload.
func (s Slice) ReadBytes(off uint64, p []byte) {
	s.checkBounds(off, uint64(len(p)))
	s.mem.ReadAt(p, s.ptr+off)
}

// WriteBytes writes p at offset off within the payload.
func (s Slice) WriteBytes(off uint64, p []byte) {
	s.checkBounds(off, uint64(len(p)))
	s.mem.WriteAt(p, s.ptr+off)
}

// ReadUint64 reads a little-endian u64 at offset off.
func (s Slice) ReadUint64(off uint64) uint64 {
	var b [8]byte
	s.ReadBytes(off, b[:])
	return binary.LittleEndian.Uint64(b[:])
}

// WriteUint64 writes v as a little-endian u64 at offset off.
func (s Slice) WriteUint64(off uint64, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	s.WriteBytes(off, b[:])
}

// ToFreeBlock flips both sentinels to the free state and returns the
// block as a freeBlock, ready for neighbor navigation and persistence.
func (s Slice) ToFreeBlock() freeBlock {
	s.writeSentinels(false)
	return freeBlock{s}
}

// FromFreeBlock flips both sentinels to the allocated state and returns
// the block as a Slice.
func (fb freeBlock) FromFreeBlock() Slice {
	fb.Slice.writeSentinels(true)
	return fb.Slice
}
