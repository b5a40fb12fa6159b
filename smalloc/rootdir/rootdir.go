// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package rootdir is the fixed anchor registry that ties an Allocator's
// custom data pointer slots to certmap.Node roots, the Go analogue of
// dbm.DB's root Array wiring a filer and an lldb.Allocator together into a
// single addressable database. It is introduced in this repository to give
// the allocator's custom data slots and certmap.Node a concrete place to
// meet end to end; see DESIGN.md.
package rootdir

import (
	"sync"

	"github.com/cznic/smalloc/smalloc"
)

// Options amends the behavior of Create and Open, in the style of
// dbm.Options.
type Options struct {
	// AutoPersist, if true (the default), makes every operation that
	// mutates the allocator's state (SetAnchor, CreateNode, BindNode,
	// DestroyNode) call Store immediately afterward. Set it false to batch several
	// mutations under a single explicit Store call.
	AutoPersist bool
}

func defaultOptions() Options {
	return Options{AutoPersist: true}
}

// Option configures Options.
type Option func(*Options)

// WithAutoPersist overrides the AutoPersist default.
func WithAutoPersist(v bool) Option {
	return func(o *Options) { o.AutoPersist = v }
}

// Directory is a root directory over a Memory: an Allocator plus a big
// kernel lock serializing access to it, the same bkl sync.Mutex role
// dbm.DB plays around its lldb.Allocator.
type Directory struct {
	mu   sync.Mutex
	opts Options

	mem   smalloc.Memory
	alloc *smalloc.Allocator
}

// Create returns a Directory over a freshly initialized, empty Allocator
// bound to mem. Call Store to persist it for the first time.
func Create(mem smalloc.Memory, opts ...Option) *Directory {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Directory{opts: o, mem: mem, alloc: smalloc.New(mem)}
}

// Open reconstructs a Directory from a Memory previously written by Store,
// restoring the allocator's free lists and anchor table. If mem has never
// been used by this package, Open behaves like Create.
func Open(mem smalloc.Memory, opts ...Option) *Directory {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Directory{opts: o, mem: mem, alloc: smalloc.Retrieve(mem)}
}

// Allocator returns the directory's underlying allocator, for callers that
// need to allocate or free slices directly (e.g. building a certmap.Node).
func (d *Directory) Allocator() *smalloc.Allocator { return d.alloc }

// Store persists the allocator's current state, including every anchor set
// through SetAnchor, so a later Open on the same Memory recovers it.
func (d *Directory) Store() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.alloc.Store()
}

// SetAnchor binds slot to ptr, returning the slot's previous binding if
// any. slot is caller-assigned; this package imposes no naming scheme of
// its own, matching the original crate's raw integer custom data indices.
func (d *Directory) SetAnchor(slot int, ptr uint64) (uint64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	prev, had := d.alloc.SetCustomDataPtr(slot, ptr)
	if d.opts.AutoPersist {
		d.alloc.Store()
	}
	return prev, had
}

// GetAnchor returns the pointer bound to slot, if any.
func (d *Directory) GetAnchor(slot int) (uint64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.alloc.GetCustomDataPtr(slot)
}

// Lock and Unlock expose the directory's big kernel lock directly, for
// callers (such as BindNode/LoadNode) that must read or write an anchor's
// node atomically with the anchor lookup itself.
func (d *Directory) Lock()   { d.mu.Lock() }
func (d *Directory) Unlock() { d.mu.Unlock() }
