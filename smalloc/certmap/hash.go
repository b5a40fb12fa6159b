// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package certmap

import (
	"reflect"
	"sync"

	"github.com/dolthub/maphash"
)

// keyHasher wraps a maphash.Hasher[K], the fast 64-bit non-cryptographic
// mixing hash a probe loop needs.
//
// maphash.NewHasher seeds each Hasher independently at random, which is
// fine for an in-memory map but wrong here: a slot's position is
// hash_key(K) mod capacity, baked into the on-disk layout the moment a key
// is inserted. A Node reconstructed by FromPtr must probe with the exact
// same hash a later lookup would need to retrace the original insert's
// path, so every Node[K, V] sharing a key type shares one Hasher for the
// lifetime of the process instead of minting a fresh, differently-seeded
// one per instantiation.
var hashers sync.Map // reflect.Type -> any (maphash.Hasher[K])

type keyHasher[K comparable] struct {
	h maphash.Hasher[K]
}

func newKeyHasher[K comparable]() keyHasher[K] {
	var zero K
	t := reflect.TypeOf(&zero).Elem()

	if v, ok := hashers.Load(t); ok {
		return keyHasher[K]{h: v.(maphash.Hasher[K])}
	}

	h := maphash.NewHasher[K]()
	actual, _ := hashers.LoadOrStore(t, h)
	return keyHasher[K]{h: actual.(maphash.Hasher[K])}
}

func (kh keyHasher[K]) hash(k K) uint64 {
	return kh.h.Hash(k)
}
