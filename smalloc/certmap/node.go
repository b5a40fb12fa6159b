// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package certmap

import "github.com/cznic/smalloc/smalloc"

// Layout offsets within a node's slice, grounded on
// original_source/src/collections/certified_hash_map/node.rs:
//
//	[0:8)    len       occupied slot count
//	[8:16)   capacity  fixed slot count C
//	[16:24)  next      overflow chain link, 0 if none
//	[24:...) node_hashes[C]   32 bytes each, the implicit Merkle tree
//	[...)    entry_hashes[C]  32 bytes each
//	[...)    slots[C]         1 flag byte + key bytes each
//	[...)    values[C]        value bytes each
const (
	lenOffset      = 0
	capOffset      = 8
	nextOffset     = 16
	nodeHashOffset = 24
)

const (
	emptySlot    = 0x00
	occupiedSlot = 0xff
)

// DefaultCapacity is the slot count a node gets absent an explicit choice,
// matching the original crate's DEFAULT_CAPACITY.
const DefaultCapacity = 7

func entryHashesOffset(capacity uint64) uint64 {
	return nodeHashOffset + 32*capacity
}

func keysOffset(capacity uint64) uint64 {
	return entryHashesOffset(capacity) + 32*capacity
}

func valuesOffset(capacity uint64, keySize int) uint64 {
	return keysOffset(capacity) + uint64(1+keySize)*capacity
}

func layoutSize(capacity uint64, keySize, valSize int) uint64 {
	return valuesOffset(capacity, keySize) + uint64(valSize)*capacity
}

// loadCap is the largest occupied count a node of this capacity may reach
// before Insert of a new key returns ErrFull, matching the original crate's
// is_full threshold: 3/4 of capacity for small nodes, 3/4 of a quarter-
// rounded capacity for larger ones, so deletions always have room to
// back-shift into.
func loadCap(capacity uint64) uint64 {
	if capacity < 12 {
		return capacity * 3 / 4
	}
	return capacity / 4 * 3
}

// Node is a fixed-capacity, open-addressed hash bucket with linear probing,
// certified by an implicit complete binary Merkle tree over its slots
// It is the Go rendering of the original crate's
// SCertifiedHashMapNode, stored as a single smalloc.Slice.
type Node[K comparable, V any] struct {
	slice    smalloc.Slice
	capacity uint64
	kc       Codec[K]
	vc       Codec[V]
	hasher   keyHasher[K]
}

// New allocates and zero-initializes a node of the given capacity.
func New[K comparable, V any](alloc *smalloc.Allocator, capacity uint64, kc Codec[K], vc Codec[V]) *Node[K, V] {
	size := layoutSize(capacity, kc.Size(), vc.Size())
	slice := alloc.Allocate(size)

	zero := make([]byte, slice.PayloadSize())
	slice.WriteBytes(0, zero)
	slice.WriteUint64(capOffset, capacity)

	return &Node[K, V]{slice: slice, capacity: capacity, kc: kc, vc: vc, hasher: newKeyHasher[K]()}
}

// FromPtr reconstructs a node previously written at ptr. capacity must
// match the value the node was created with.
func FromPtr[K comparable, V any](mem smalloc.Memory, ptr uint64, capacity uint64, kc Codec[K], vc Codec[V]) *Node[K, V] {
	slice := smalloc.FromPtr(mem, ptr)
	return &Node[K, V]{slice: slice, capacity: capacity, kc: kc, vc: vc, hasher: newKeyHasher[K]()}
}

// Ptr returns the node's backing slice pointer, suitable for storing in an
// Allocator custom data slot or another node's Next link.
func (n *Node[K, V]) Ptr() uint64 { return n.slice.Ptr() }

// Destroy frees the node's backing slice. The node must not be used
// afterward.
func (n *Node[K, V]) Destroy(alloc *smalloc.Allocator) { alloc.Deallocate(n.slice) }

// Len returns the number of occupied slots.
func (n *Node[K, V]) Len() uint64 { return n.slice.ReadUint64(lenOffset) }

// Capacity returns the node's fixed slot count.
func (n *Node[K, V]) Capacity() uint64 { return n.capacity }

// IsFull reports whether Insert of a new key would return ErrFull.
func (n *Node[K, V]) IsFull() bool { return n.Len() == loadCap(n.capacity) }

// Next returns the overflow chain link, 0 if none.
func (n *Node[K, V]) Next() uint64 { return n.slice.ReadUint64(nextOffset) }

// SetNext sets the overflow chain link.
func (n *Node[K, V]) SetNext(ptr uint64) { n.slice.WriteUint64(nextOffset, ptr) }

// RootHash returns the Merkle root over this node's slots: node_hash[0].
func (n *Node[K, V]) RootHash() Digest { return n.readNodeHash(0) }

func (n *Node[K, V]) writeLen(v uint64) { n.slice.WriteUint64(lenOffset, v) }

func (n *Node[K, V]) slotOffset(i uint64) uint64 {
	return keysOffset(n.capacity) + uint64(1+n.kc.Size())*i
}

func (n *Node[K, V]) valOffset(i uint64) uint64 {
	return valuesOffset(n.capacity, n.kc.Size()) + uint64(n.vc.Size())*i
}

func (n *Node[K, V]) readFlag(i uint64) byte {
	var b [1]byte
	n.slice.ReadBytes(n.slotOffset(i), b[:])
	return b[0]
}

// tryReadKey reads slot i, returning ok=false if it is empty.
func (n *Node[K, V]) tryReadKey(i uint64) (K, bool) {
	if n.readFlag(i) == emptySlot {
		var zero K
		return zero, false
	}
	buf := make([]byte, n.kc.Size())
	n.slice.ReadBytes(n.slotOffset(i)+1, buf)
	return n.kc.Decode(buf), true
}

func (n *Node[K, V]) writeKeyAt(i uint64, k K) {
	buf := make([]byte, 1+n.kc.Size())
	buf[0] = occupiedSlot
	n.kc.Encode(k, buf[1:])
	n.slice.WriteBytes(n.slotOffset(i), buf)
}

func (n *Node[K, V]) clearSlot(i uint64) {
	var b [1]byte
	b[0] = emptySlot
	n.slice.WriteBytes(n.slotOffset(i), b[:])
}

func (n *Node[K, V]) readVal(i uint64) V {
	buf := make([]byte, n.vc.Size())
	n.slice.ReadBytes(n.valOffset(i), buf)
	return n.vc.Decode(buf)
}

func (n *Node[K, V]) writeVal(i uint64, v V) {
	buf := make([]byte, n.vc.Size())
	n.vc.Encode(v, buf)
	n.slice.WriteBytes(n.valOffset(i), buf)
}

func (n *Node[K, V]) readNodeHash(i uint64) Digest {
	var d Digest
	n.slice.ReadBytes(nodeHashOffset+32*i, d[:])
	return d
}

func (n *Node[K, V]) writeNodeHash(i uint64, d Digest) {
	n.slice.WriteBytes(nodeHashOffset+32*i, d[:])
}

func (n *Node[K, V]) readEntryHash(i uint64) Digest {
	var d Digest
	n.slice.ReadBytes(entryHashesOffset(n.capacity)+32*i, d[:])
	return d
}

func (n *Node[K, V]) writeEntryHash(i uint64, d Digest) {
	n.slice.WriteBytes(entryHashesOffset(n.capacity)+32*i, d[:])
}

func (n *Node[K, V]) copyEntry(dst, src uint64) {
	n.writeVal(dst, n.readVal(src))
	n.writeEntryHash(dst, n.readEntryHash(src))
}

// entryOrEmpty returns the entry hash at i, or EmptyDigest if the slot is
// unoccupied. i must be less than the node's capacity.
func (n *Node[K, V]) entryOrEmpty(i uint64) Digest {
	if n.readFlag(i) != occupiedSlot {
		return EmptyDigest
	}
	return n.readEntryHash(i)
}

// childrenHashes returns the node hashes of i's two children in the
// implicit complete binary tree, or EmptyDigest for a child past capacity.
func (n *Node[K, V]) childrenHashes(i uint64) (left, right Digest) {
	l, r := 2*i+1, 2*i+2
	if l < n.capacity {
		left = n.readNodeHash(l)
	}
	if r < n.capacity {
		right = n.readNodeHash(r)
	}
	return left, right
}

// recalc walks from i up to the root, recomputing and writing each
// ancestor's node hash given i's freshly written hash, and returns the new
// root hash. It is a no-op returning hash unchanged when i is already the
// root.
func (n *Node[K, V]) recalc(hash Digest, i uint64) Digest {
	for i > 0 {
		isLeft := i%2 == 1

		var sibling Digest
		if isLeft {
			if i+1 < n.capacity {
				sibling = n.readNodeHash(i + 1)
			}
			i = i / 2
		} else {
			sibling = n.readNodeHash(i - 1)
			i = (i - 1) / 2
		}

		entry := n.entryOrEmpty(i)
		if isLeft {
			hash = shaNode(entry, hash, sibling)
		} else {
			hash = shaNode(entry, sibling, hash)
		}
		n.writeNodeHash(i, hash)
	}
	return hash
}

// findInnerIdx probes from hash_key(k) % capacity, returning the slot index
// holding k, or ok=false if the probe hits an empty slot first.
func (n *Node[K, V]) findInnerIdx(k K) (uint64, bool) {
	i := n.hasher.hash(k) % n.capacity
	for {
		key, ok := n.tryReadKey(i)
		if !ok {
			return 0, false
		}
		if key == k {
			return i, true
		}
		i = (i + 1) % n.capacity
	}
}

// Find returns the value bound to k, if any.
func (n *Node[K, V]) Find(k K) (V, bool) {
	idx, ok := n.findInnerIdx(k)
	if !ok {
		var zero V
		return zero, false
	}
	return n.readVal(idx), true
}

// Insert binds k to v, updating v in place if k is already present. It
// returns the previous value (if any), whether a previous value existed
// (true on an update, false for a new key), the slot index used, and the
// new root hash. Insert of a key not already present
// returns ErrFull once the node is at its load factor cap; updating an
// existing key never fails.
func (n *Node[K, V]) Insert(k K, v V) (prev V, hadPrev bool, idx uint64, root Digest, err error) {
	i := n.hasher.hash(k) % n.capacity
	for {
		key, ok := n.tryReadKey(i)
		if !ok {
			break
		}
		if key == k {
			prev = n.readVal(i)
			n.writeVal(i, v)
			entry := shaEntry(n.kc, n.vc, k, v)
			n.writeEntryHash(i, entry)
			lc, rc := n.childrenHashes(i)
			hash := shaNode(entry, lc, rc)
			n.writeNodeHash(i, hash)
			return prev, true, i, n.recalc(hash, i), nil
		}
		i = (i + 1) % n.capacity
	}

	if n.Len() == loadCap(n.capacity) {
		var zero V
		return zero, false, 0, Digest{}, ErrFull
	}

	n.writeLen(n.Len() + 1)
	n.writeKeyAt(i, k)
	n.writeVal(i, v)
	entry := shaEntry(n.kc, n.vc, k, v)
	n.writeEntryHash(i, entry)
	lc, rc := n.childrenHashes(i)
	hash := shaNode(entry, lc, rc)
	n.writeNodeHash(i, hash)

	var zero V
	return zero, false, i, n.recalc(hash, i), nil
}

// Remove deletes k if present, returning its value, the new root hash, and
// whether k was found. Deletion is non-lazy: it uses the classic open-
// addressing back-shift algorithm rather than tombstones, so later probes
// never have to skip graveyard slots.
func (n *Node[K, V]) Remove(k K) (V, Digest, bool) {
	idx, ok := n.findInnerIdx(k)
	if !ok {
		var zero V
		return zero, Digest{}, false
	}
	v, root := n.removeByIdx(idx)
	return v, root, true
}

// removeByIdx implements the back-shift deletion loop: walking forward from
// the freed slot, any entry whose probe sequence wraps around the gap is
// shifted back to fill it, until an empty slot ends the run. Every slot the
// loop touches (including the final empty one) has its node hash — and
// Merkle ancestry — recomputed, in reverse order of how the shifts
// happened so each recalculation sees the final contents of its subtree.
func (n *Node[K, V]) removeByIdx(hole uint64) (V, Digest) {
	prev := n.readVal(hole)
	n.writeLen(n.Len() - 1)

	touched := []uint64{}
	i, j := hole, hole
	for {
		j = (j + 1) % n.capacity
		key, ok := n.tryReadKey(j)
		if !ok {
			break
		}

		k := n.hasher.hash(key) % n.capacity
		// Wrap-aware displacement predicate: true when j's home slot k
		// does not lie cyclically in (i, j], i.e. the probe run from k
		// to j passes through the hole at i, meaning entry j may
		// legally move back to i.
		if xor3(j < i, k <= i, k > j) {
			n.writeKeyAt(i, key)
			n.copyEntry(i, j)
			touched = append(touched, i)
			n.clearSlot(j)
			i = j
		}
	}

	n.clearSlot(i)
	lc, rc := n.childrenHashes(i)
	hash := shaNode(EmptyDigest, lc, rc)
	n.writeNodeHash(i, hash)
	root := n.recalc(hash, i)

	for idx := len(touched) - 1; idx >= 0; idx-- {
		ti := touched[idx]
		entry := n.entryOrEmpty(ti)
		lc, rc := n.childrenHashes(ti)
		hash := shaNode(entry, lc, rc)
		n.writeNodeHash(ti, hash)
		root = n.recalc(hash, ti)
	}

	return prev, root
}

func xor3(a, b, c bool) bool {
	return (a != b) != c
}

// WitnessKey builds a Merkle witness proving k's binding (or its absence,
// reported via ok=false) to the current root hash.
func (n *Node[K, V]) WitnessKey(k K) (*MerkleWitness[K, V], bool) {
	idx, ok := n.findInnerIdx(k)
	if !ok {
		return nil, false
	}

	v := n.readVal(idx)
	lc, rc := n.childrenHashes(idx)
	tree := []MerkleNode[K, V]{{
		KV:    PlainKV(k, v),
		Left:  PrunedChild(lc),
		Right: PrunedChild(rc),
	}}

	for idx > 0 {
		isLeft := idx%2 == 1

		var sibling Digest
		if isLeft {
			if idx+1 < n.capacity {
				sibling = n.readNodeHash(idx + 1)
			}
			idx = idx / 2
		} else {
			sibling = n.readNodeHash(idx - 1)
			idx = (idx - 1) / 2
		}

		entry := n.entryOrEmpty(idx)
		node := MerkleNode[K, V]{KV: PrunedKV[K, V](entry)}
		if isLeft {
			node.Left = HoleChild()
			node.Right = PrunedChild(sibling)
		} else {
			node.Left = PrunedChild(sibling)
			node.Right = HoleChild()
		}
		tree = append(tree, node)
	}

	return &MerkleWitness[K, V]{Tree: tree}, true
}
