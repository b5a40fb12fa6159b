// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package smalloc implements a free-list allocator over a flat,
// page-addressed, grow-only memory, together with the machinery
// (sentinel-delimited slices and free blocks) it needs to carve that
// memory into variable-sized regions and hand them back out again.
package smalloc

import (
	"fmt"

	"github.com/cznic/mathutil"
)

// PageSize is the granularity Memory grows by. It matches the IC stable
// memory page size this package's data layout was modeled on.
const PageSize = 65536

// Memory is the host collaborator: a flat, grow-only byte array addressed
// by 64-bit offsets. Shrinking is impossible; growth is in whole pages.
// Reads and writes of any range within [0, SizePages()*PageSize) are total.
//
// Memory corresponds to the grow_pages/size_pages/read/write primitives a
// real stable-memory host provides; PageMemory is this repository's
// concrete, in-process stand-in, the Go analogue of lldb.MemFiler.
type Memory interface {
	// SizePages reports how many whole pages have been grown so far.
	SizePages() uint64

	// Grow adds pages whole pages, returning the page count before the
	// growth. It returns an error wrapping ErrOutOfMemory if the host
	// cannot satisfy the request.
	Grow(pages uint64) (previousPages uint64, err error)

	// ReadAt copies len(p) bytes starting at off into p. Reading outside
	// [0, SizePages()*PageSize) is a programmer error.
	ReadAt(p []byte, off uint64)

	// WriteAt copies p into the memory starting at off. Writing outside
	// [0, SizePages()*PageSize) is a programmer error.
	WriteAt(p []byte, off uint64)

	// Clear discards all pages. Testing only.
	Clear()
}

// ErrOutOfMemory is returned by Memory.Grow when the host cannot grow
// further. It is fatal to Allocator: grow() panics rather than returning
// it, matching the original crate's own
// panic!("Unable to grow stable memory - OutOfMemory").
var ErrOutOfMemory = fmt.Errorf("smalloc: out of memory")

// PageMemory is an in-process Memory backed by a slice of fixed-size
// pages, grown by appending zeroed pages and never shrunk. It is the Go
// analogue of lldb.MemFiler: a memory-only implementation kept alongside
// the abstract interface it's defined against, used by tests and by
// callers with no real stable-memory host.
type PageMemory struct {
	pages   [][]byte
	maxPages uint64 // 0 means unbounded; used by tests to exercise ErrOutOfMemory
}

// NewPageMemory returns an empty PageMemory. Use MemoryOption values to
// bound its growth for out-of-memory testing.
func NewPageMemory(opts ...MemoryOption) *PageMemory {
	m := &PageMemory{}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// MemoryOption configures a PageMemory, in the style of dbm/options.go's
// functional Option values.
type MemoryOption func(*PageMemory)

// WithMaxPages caps the number of pages a PageMemory will ever grow to.
// Exceeding the cap makes Grow return ErrOutOfMemory, which is how this
// repository's tests exercise the fatal out-of-memory path without
// actually exhausting process memory.
func WithMaxPages(n uint64) MemoryOption {
	return func(m *PageMemory) { m.maxPages = n }
}

func (m *PageMemory) SizePages() uint64 { return uint64(len(m.pages)) }

func (m *PageMemory) Grow(pages uint64) (uint64, error) {
	previous := uint64(len(m.pages))
	if m.maxPages != 0 && previous+pages > m.maxPages {
		return previous, fmt.Errorf("%w: requested %d pages, have %d of max %d", ErrOutOfMemory, pages, previous, m.maxPages)
	}
	for i := uint64(0); i < pages; i++ {
		m.pages = append(m.pages, make([]byte, PageSize))
	}
	return previous, nil
}

func (m *PageMemory) ReadAt(p []byte, off uint64) {
	n := int64(len(p))
	for n > 0 {
		pgI := off / PageSize
		pgO := off % PageSize
		chunk := mathutil.MinInt64(n, PageSize-int64(pgO))
		nc := int64(copy(p[:chunk], m.pages[pgI][pgO:]))
		off += uint64(nc)
		p = p[nc:]
		n -= nc
	}
}

func (m *PageMemory) WriteAt(p []byte, off uint64) {
	n := int64(len(p))
	for n > 0 {
		pgI := off / PageSize
		pgO := off % PageSize
		chunk := mathutil.MinInt64(n, PageSize-int64(pgO))
		nc := int64(copy(m.pages[pgI][pgO:], p[:chunk]))
		off += uint64(nc)
		p = p[nc:]
		n -= nc
	}
}

func (m *PageMemory) Clear() {
	m.pages = nil
}
