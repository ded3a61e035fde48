// Copyright (c) 2024 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package bumpalloc implements the monotonic, CAS-advanced bump allocator
// that carves bucket-array memory out of the table arena. See spec.md
// §4.3; it is the Go rendering of clht_table_alloc in clht_shm.c.
package bumpalloc

import (
	"fmt"

	"github.com/aristanetworks/shmclht/coord"
	"github.com/aristanetworks/shmclht/offset"
)

// Watermark is the subset of the coordination page this allocator needs:
// a monotonically non-decreasing counter advanced by compare-and-swap.
// coord.Page satisfies this.
type Watermark interface {
	TableEnd() uint64
	CompareAndSwapTableEnd(old, new uint64) bool
}

var _ Watermark = (*coord.Page)(nil)

// Allocator carves fixed-size allocations out of a table arena of
// ArenaSize bytes, starting at ArenaBase (the offset of the table arena's
// first byte within the shared region). It is lock-free: wait-free per
// thread absent contention, obstruction-free under contention, matching
// spec.md §4.3's properties. Allocations are never freed; Free is a no-op.
type Allocator struct {
	watermark Watermark
	arenaBase offset.Off
	arenaSize uint64
}

// New returns an Allocator over watermark, carving offsets starting at
// arenaBase and never exceeding arenaBase+arenaSize.
func New(watermark Watermark, arenaBase offset.Off, arenaSize uint64) *Allocator {
	return &Allocator{watermark: watermark, arenaBase: arenaBase, arenaSize: arenaSize}
}

// Alloc returns the offset of a fresh size-byte region, or an error if the
// arena would be exhausted. There is no recovery path because offsets
// handed out so far are pre-committed in shared memory, and nothing in
// the core retries. Alloc itself does not abort the process: clht.Create
// and clht.Handle.Put return the wrapped error to their caller, and only
// clht's internal putSeq panics on it.
func (a *Allocator) Alloc(size uint64) (offset.Off, error) {
	for {
		old := a.watermark.TableEnd()
		newEnd := old + size
		if newEnd > a.arenaSize {
			return offset.Null, fmt.Errorf(
				"bumpalloc: out of memory for hashtable: requested %d bytes, %d/%d already used",
				size, old, a.arenaSize)
		}
		if a.watermark.CompareAndSwapTableEnd(old, newEnd) {
			return a.arenaBase + offset.Off(old), nil
		}
	}
}

// Free is a no-op: extension buckets and bucket arrays carved from the
// bump arena are never reclaimed during steady-state operation, per
// spec.md §1 Non-goals.
func (a *Allocator) Free(offset.Off, uint64) {}
