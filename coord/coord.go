// Copyright (c) 2024 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package coord implements the coordination page: the fixed struct at a
// known offset in the shared region that attaching processes use to elect
// a single initializer, publish the hashtable handle's offset, and track
// the bump allocator's watermark. See spec.md §3 "Coordination page" and
// §4.2 "Region Mapper and Coordination Bootstrap".
package coord

import (
	"sync/atomic"
	"unsafe"

	"github.com/aristanetworks/shmclht/offset"
)

// State is the initializer-election state machine value stored in the
// coordination page's "initialized" word.
type State uint32

const (
	// Uninit means no process has attempted to create the hashtable yet.
	Uninit State = 0
	// Initializing means exactly one process won the election and is
	// running the hashtable constructor; Clht() is not yet valid.
	Initializing State = 1
	// Ready means initialization completed; Clht() holds a valid offset.
	Ready State = 2
)

// Layout offsets within the coordination page. initialized is stored as a
// 32-bit word rather than the 8-bit word of the original C struct: Go's
// sync/atomic has no 8-bit compare-and-swap, and a 32-bit word with only
// the values 0/1/2 ever written is behaviorally identical. table_end
// follows at the next 8-byte-aligned offset.
const (
	offClht        = 0
	offInitialized = 8
	offTableEnd    = 16
	// Size is the number of leading bytes of the coordination
	// sub-region this package interprets; the sub-region itself
	// (region.Region.CoordPage) is sized to the device's mapping
	// alignment (2 MiB for DAX) and is otherwise unused padding.
	Size = 24
)

// Page is a live view over one process's mapping of the coordination page.
// All access goes through sync/atomic so that concurrent processes
// attaching the same region observe a consistent election outcome.
type Page struct {
	clht        *uint64
	initialized *uint32
	tableEnd    *uint64
}

// Open returns a Page over buf, the coordination sub-region produced by
// region.Map. buf must be at least Size bytes.
func Open(buf []byte) *Page {
	if len(buf) < Size {
		panic("coord: coordination page buffer smaller than coord.Size")
	}
	base := unsafe.Pointer(&buf[0])
	return &Page{
		clht:        (*uint64)(unsafe.Add(base, offClht)),
		initialized: (*uint32)(unsafe.Add(base, offInitialized)),
		tableEnd:    (*uint64)(unsafe.Add(base, offTableEnd)),
	}
}

// Clht returns the current offset of the hashtable handle. It is only
// meaningful once State() reports Ready.
func (p *Page) Clht() offset.Off {
	return offset.Off(atomic.LoadUint64(p.clht))
}

// SetClht publishes the hashtable handle's offset. Called exactly once, by
// the process that wins the initializer election, before it sets the
// state to Ready.
func (p *Page) SetClht(off offset.Off) {
	atomic.StoreUint64(p.clht, uint64(off))
}

// State returns the current initializer-election state.
func (p *Page) State() State {
	return State(atomic.LoadUint32(p.initialized))
}

// setState unconditionally stores a new state. Used once the initializer
// has already won the CAS in TryBecomeInitializer, to move Initializing ->
// Ready.
func (p *Page) setState(s State) {
	atomic.StoreUint32(p.initialized, uint32(s))
}

// TryBecomeInitializer attempts the CAS Uninit -> Initializing described in
// spec.md §4.2 step 5. It reports whether this call won the race: at most
// one caller across all attaching processes ever observes true.
func (p *Page) TryBecomeInitializer() bool {
	return atomic.CompareAndSwapUint32(p.initialized, uint32(Uninit), uint32(Initializing))
}

// MarkReady transitions Initializing -> Ready. Only the initializer calls
// this, after SetClht.
func (p *Page) MarkReady() {
	p.setState(Ready)
}

// TableEnd returns the current bump-arena watermark, in bytes from the
// start of the table arena.
func (p *Page) TableEnd() uint64 {
	return atomic.LoadUint64(p.tableEnd)
}

// ResetTableEnd sets the watermark to 0. Called once by the initializer
// before constructing the hashtable.
func (p *Page) ResetTableEnd() {
	atomic.StoreUint64(p.tableEnd, 0)
}

// CompareAndSwapTableEnd is the primitive the bump allocator advances the
// watermark with; see bumpalloc.Alloc.
func (p *Page) CompareAndSwapTableEnd(old, new uint64) bool {
	return atomic.CompareAndSwapUint64(p.tableEnd, old, new)
}
