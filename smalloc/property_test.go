// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package smalloc

import (
	"math/rand"
	"testing"
	"testing/quick"
)

// opScript is a scripted sequence of allocate/deallocate/reallocate calls,
// generated by testing/quick the way falloc_test.go hand-rolls its own
// rnd-driven operation loops — this is the stdlib's purpose-built version
// of the same technique.
type opScript struct {
	sizes   []uint16 // payload size requested by each Allocate
	deallog []uint8  // indices (mod live count) to Deallocate, interleaved
}

func (opScript) Generate(r *rand.Rand, size int) interface{} {
	n := r.Intn(size+1) + 1
	s := opScript{sizes: make([]uint16, n)}
	for i := range s.sizes {
		s.sizes[i] = uint16(r.Intn(512))
	}
	m := r.Intn(n + 1)
	s.deallog = make([]uint8, m)
	for i := range s.deallog {
		s.deallog[i] = uint8(r.Intn(256))
	}
	return s
}

// walkBlocks traverses memory from MinPtr to a.maxPtr by sentinel, checking
// that every block's header and trailer sentinel agree and that no two
// consecutive blocks are both free (spec.md §3.2, §8.1).
func (a *Allocator) walkBlocks(t *testing.T) (liveFree int) {
	t.Helper()
	if a.maxPtr == 0 {
		return 0
	}

	ptr := MinPtr + HeaderSize
	prevFree := false
	for ptr < a.maxPtr {
		var hdr [HeaderSize]byte
		a.mem.ReadAt(hdr[:], ptr-HeaderSize)
		size, allocated := unpackSentinel(leUint64(hdr[:]))

		var trl [HeaderSize]byte
		a.mem.ReadAt(trl[:], ptr+size)
		tsize, tallocated := unpackSentinel(leUint64(trl[:]))
		if size != tsize || allocated != tallocated {
			t.Fatalf("sentinel mismatch at ptr %d: header (%d,%v) trailer (%d,%v)", ptr, size, allocated, tsize, tallocated)
		}

		if !allocated {
			if prevFree {
				t.Fatalf("two adjacent free blocks at ptr %d", ptr)
			}
			liveFree++
		}
		prevFree = !allocated

		ptr += size + HeaderSize + HeaderSize
	}
	return liveFree
}

func leUint64(b []byte) uint64 {
	return uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16 | uint64(b[3])<<24 |
		uint64(b[4])<<32 | uint64(b[5])<<40 | uint64(b[6])<<48 | uint64(b[7])<<56
}

// TestPropertyAccountingAndSentinels drives random allocate/deallocate
// scripts and checks, after each one, the accounting invariant
// (allocated = available - free), that available = SizePages*PageSize -
// MinPtr, and the no-adjacent-free-blocks / sentinel-consistency
// invariants from spec.md §8.1.
func TestPropertyAccountingAndSentinels(t *testing.T) {
	check := func(s opScript) bool {
		m := NewPageMemory()
		a := New(m)

		var live []Slice
		var wantAllocated uint64
		for _, sz := range s.sizes {
			s := a.Allocate(uint64(sz))
			live = append(live, s)
			wantAllocated += s.TotalSize()
		}
		for _, idx := range s.deallog {
			if len(live) == 0 {
				break
			}
			i := int(idx) % len(live)
			wantAllocated -= live[i].TotalSize()
			a.Deallocate(live[i])
			live = append(live[:i], live[i+1:]...)
		}

		if g, e := a.GetAllocatedSize(), wantAllocated; g != e {
			t.Logf("got allocated %d, want %d tracked from live slices", g, e)
			return false
		}
		if g, e := a.GetAllocatedSize(), a.GetAvailableSize()-a.GetFreeSize(); g != e {
			t.Logf("allocated=%d available=%d free=%d", g, a.GetAvailableSize(), a.GetFreeSize())
			return false
		}
		if a.maxPtr > 0 {
			if g, e := a.GetAvailableSize(), m.SizePages()*PageSize-MinPtr; g != e {
				t.Logf("available=%d want=%d", g, e)
				return false
			}
		}
		a.walkBlocks(t)
		return true
	}

	if err := quick.Check(check, &quick.Config{MaxCount: 200}); err != nil {
		t.Error(err)
	}
}

// TestPropertyReallocationPreservesData exercises spec.md §8.1's
// "reallocation preserves data" invariant: after reallocate, the shared
// prefix of old and new payload is unchanged.
func TestPropertyReallocationPreservesData(t *testing.T) {
	check := func(seed int64, origSize, newSize uint16) bool {
		m := NewPageMemory()
		a := New(m)

		s := a.Allocate(uint64(origSize))
		rng := rand.New(rand.NewSource(seed))
		want := make([]byte, s.PayloadSize())
		rng.Read(want)
		s.WriteBytes(0, want)

		grown, _ := a.Reallocate(s, uint64(newSize))

		n := s.PayloadSize()
		if grown.PayloadSize() < n {
			n = grown.PayloadSize()
		}
		got := make([]byte, n)
		grown.ReadBytes(0, got)
		for i := range got {
			if got[i] != want[i] {
				t.Logf("byte %d: got %#x want %#x", i, got[i], want[i])
				return false
			}
		}
		return true
	}

	if err := quick.Check(check, &quick.Config{MaxCount: 200}); err != nil {
		t.Error(err)
	}
}

// TestPropertyStoreRetrieveRoundTrip exercises spec.md §8.1's "round-trip
// persistence" invariant across randomized allocator states: the allocated
// byte total survives a Store/Retrieve cycle exactly, since Store's own
// bootstrap allocation and Retrieve's immediate deallocation of it always
// net to zero (whether the bootstrap slice came from an existing free block
// or a fresh grow — see TestStoreRetrieveRoundTrip for the stronger,
// full-state equality this holds under a no-grow-needed setup).
func TestPropertyStoreRetrieveRoundTrip(t *testing.T) {
	check := func(s opScript) bool {
		m := NewPageMemory()
		a := New(m)

		var live []Slice
		for _, sz := range s.sizes {
			live = append(live, a.Allocate(uint64(sz)))
		}
		for _, idx := range s.deallog {
			if len(live) == 0 {
				break
			}
			i := int(idx) % len(live)
			a.Deallocate(live[i])
			live = append(live[:i], live[i+1:]...)
		}

		wantAllocated := a.GetAllocatedSize()

		a.Store()
		b := Retrieve(m)

		if g, e := b.GetAllocatedSize(), wantAllocated; g != e {
			t.Logf("allocated size not preserved across store/retrieve: got %d, want %d", g, e)
			return false
		}
		return true
	}

	if err := quick.Check(check, &quick.Config{MaxCount: 100}); err != nil {
		t.Error(err)
	}
}
