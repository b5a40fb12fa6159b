// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rootdir

import (
	"testing"

	"github.com/cznic/smalloc/smalloc"
	"github.com/cznic/smalloc/smalloc/certmap"
)

const usersSlot = 0

func TestCreateBindLoadRoundTrip(t *testing.T) {
	mem := smalloc.NewPageMemory()
	dir := Create(mem)

	node := CreateNode[uint64, uint64](dir, usersSlot, certmap.DefaultCapacity, certmap.Uint64Codec{}, certmap.Uint64Codec{})
	if _, _, _, _, err := node.Insert(7, 700); err != nil {
		t.Fatal(err)
	}

	loaded, ok := LoadNode[uint64, uint64](dir, usersSlot, certmap.DefaultCapacity, certmap.Uint64Codec{}, certmap.Uint64Codec{})
	if !ok {
		t.Fatal("want slot bound")
	}
	if v, ok := loaded.Find(7); !ok || v != 700 {
		t.Fatal(v, ok)
	}
}

func TestDirectoryPersistsAcrossOpen(t *testing.T) {
	mem := smalloc.NewPageMemory()
	dir := Create(mem)

	node := CreateNode[uint64, uint64](dir, usersSlot, certmap.DefaultCapacity, certmap.Uint64Codec{}, certmap.Uint64Codec{})
	if _, _, _, _, err := node.Insert(1, 111); err != nil {
		t.Fatal(err)
	}
	if _, _, _, _, err := node.Insert(2, 222); err != nil {
		t.Fatal(err)
	}
	dir.Store()

	reopened := Open(mem)
	loaded, ok := LoadNode[uint64, uint64](reopened, usersSlot, certmap.DefaultCapacity, certmap.Uint64Codec{}, certmap.Uint64Codec{})
	if !ok {
		t.Fatal("want slot bound after reopen")
	}

	if v, ok := loaded.Find(1); !ok || v != 111 {
		t.Fatal(v, ok)
	}
	if v, ok := loaded.Find(2); !ok || v != 222 {
		t.Fatal(v, ok)
	}
}

func TestOpenOnNeverTouchedMemory(t *testing.T) {
	dir := Open(smalloc.NewPageMemory())
	if _, ok := dir.GetAnchor(usersSlot); ok {
		t.Fatal("want no anchor on memory that has never been grown")
	}
}

func TestLoadNodeMissingSlot(t *testing.T) {
	dir := Create(smalloc.NewPageMemory())
	if _, ok := LoadNode[uint64, uint64](dir, 99, certmap.DefaultCapacity, certmap.Uint64Codec{}, certmap.Uint64Codec{}); ok {
		t.Fatal("want no binding for an unused slot")
	}
}

func TestDestroyNodeUnbindsSlot(t *testing.T) {
	mem := smalloc.NewPageMemory()
	dir := Create(mem)

	node := CreateNode[uint64, uint64](dir, usersSlot, certmap.DefaultCapacity, certmap.Uint64Codec{}, certmap.Uint64Codec{})
	DestroyNode(dir, usersSlot, node)

	if _, ok := LoadNode[uint64, uint64](dir, usersSlot, certmap.DefaultCapacity, certmap.Uint64Codec{}, certmap.Uint64Codec{}); ok {
		t.Fatal("want slot unbound after DestroyNode")
	}
}

func TestWithAutoPersistFalseRequiresExplicitStore(t *testing.T) {
	mem := smalloc.NewPageMemory()
	dir := Create(mem, WithAutoPersist(false))

	node := CreateNode[uint64, uint64](dir, usersSlot, certmap.DefaultCapacity, certmap.Uint64Codec{}, certmap.Uint64Codec{})
	if _, _, _, _, err := node.Insert(5, 555); err != nil {
		t.Fatal(err)
	}

	// Without an explicit Store, the root pointer was never written, so
	// Open reads an empty allocator back.
	reopened := Open(mem)
	if _, ok := reopened.GetAnchor(usersSlot); ok {
		t.Fatal("want no anchor visible before an explicit Store")
	}

	dir.Store()
	reopened = Open(mem)
	if _, ok := reopened.GetAnchor(usersSlot); !ok {
		t.Fatal("want anchor visible after an explicit Store")
	}
}
