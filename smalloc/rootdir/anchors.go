// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rootdir

import "github.com/cznic/smalloc/smalloc/certmap"

// Go forbids a method from introducing its own type parameters, so binding
// a Directory's integer anchor slots to a concretely-typed certmap.Node
// has to live as free generic functions rather than methods on Directory.

// CreateNode allocates a new certmap.Node of the given capacity and binds
// it to slot in dir, atomically with respect to other Directory
// operations.
func CreateNode[K comparable, V any](dir *Directory, slot int, capacity uint64, kc certmap.Codec[K], vc certmap.Codec[V]) *certmap.Node[K, V] {
	dir.mu.Lock()
	defer dir.mu.Unlock()

	node := certmap.New[K, V](dir.alloc, capacity, kc, vc)
	dir.alloc.SetCustomDataPtr(slot, node.Ptr())
	if dir.opts.AutoPersist {
		dir.alloc.Store()
	}
	return node
}

// BindNode binds an already-constructed node to slot in dir, returning the
// slot's previous pointer if any. Use this to re-bind a slot to a node
// built via certmap.New directly against dir.Allocator().
func BindNode[K comparable, V any](dir *Directory, slot int, node *certmap.Node[K, V]) (uint64, bool) {
	dir.mu.Lock()
	defer dir.mu.Unlock()

	prev, had := dir.alloc.SetCustomDataPtr(slot, node.Ptr())
	if dir.opts.AutoPersist {
		dir.alloc.Store()
	}
	return prev, had
}

// LoadNode reconstructs the node bound to slot in dir, if any. capacity,
// kc, and vc must match the values the node was created with; this package
// keeps no type information of its own about what a slot holds.
func LoadNode[K comparable, V any](dir *Directory, slot int, capacity uint64, kc certmap.Codec[K], vc certmap.Codec[V]) (*certmap.Node[K, V], bool) {
	dir.mu.Lock()
	ptr, ok := dir.alloc.GetCustomDataPtr(slot)
	dir.mu.Unlock()

	if !ok {
		return nil, false
	}
	return certmap.FromPtr[K, V](dir.mem, ptr, capacity, kc, vc), true
}

// DestroyNode frees node's backing slice and unbinds slot in dir.
func DestroyNode[K comparable, V any](dir *Directory, slot int, node *certmap.Node[K, V]) {
	dir.mu.Lock()
	defer dir.mu.Unlock()

	node.Destroy(dir.alloc)
	dir.alloc.DeleteCustomDataPtr(slot)
	if dir.opts.AutoPersist {
		dir.alloc.Store()
	}
}
