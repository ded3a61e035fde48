// Copyright (c) 2024 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package region opens the backing device or file for a CLHT-over-shared-
// memory table and maps its three fixed sub-regions into the process's
// address space: the small-object allocator arena, the coordination page,
// and the bump arena used for bucket storage. See clht_shm.c in the
// original CXL-CLHT sources for the byte layout this mirrors.
package region

import (
	"fmt"

	"github.com/aristanetworks/shmclht/logger"
)

// Layout describes the size, in bytes, of each of the three sub-regions.
// Every size must already be aligned to the device's mapping alignment
// (Alignment) by the caller; Map does not round sizes up itself so that
// callers can detect a misconfiguration before committing to a mapping.
type Layout struct {
	// AllocArenaSize is the size of the small-object allocator arena at
	// offset 0.
	AllocArenaSize uint64
	// CommSize is the size of the coordination page sub-region,
	// immediately following the allocator arena.
	CommSize uint64
	// TableSize is the size of the bump arena for bucket memory,
	// immediately following the coordination page.
	TableSize uint64
	// Alignment is the required alignment, in bytes, of each sub-region
	// (2 MiB for devdax mappings).
	Alignment uint64
}

// Total returns the number of bytes the whole mapping must cover.
func (l Layout) Total() uint64 {
	return l.AllocArenaSize + l.CommSize + l.TableSize
}

// validate checks that every sub-region respects Alignment and that the
// layout is non-degenerate.
func (l Layout) validate() error {
	if l.AllocArenaSize == 0 || l.CommSize == 0 || l.TableSize == 0 {
		return fmt.Errorf("region: layout has a zero-sized sub-region: %+v", l)
	}
	if l.Alignment == 0 {
		return fmt.Errorf("region: layout alignment must be non-zero")
	}
	for name, size := range map[string]uint64{
		"alloc arena": l.AllocArenaSize,
		"comm page":   l.CommSize,
		"table arena": l.TableSize,
	} {
		if size%l.Alignment != 0 {
			return fmt.Errorf("region: %s size %d is not a multiple of alignment %d",
				name, size, l.Alignment)
		}
	}
	return nil
}

// Region is a process's live mapping of the shared region. AllocArena,
// CoordPage and TableArena alias contiguous windows of the same
// mmap(2)'d memory, at the fixed relative offsets described by Layout.
type Region struct {
	Layout Layout

	// AllocArena backs the small-object allocator.
	AllocArena []byte
	// CoordPage backs the coordination page.
	CoordPage []byte
	// TableArena is the bump arena bucket memory is carved from; the
	// bump allocator's watermark itself lives in the coordination page.
	TableArena []byte

	closer func() error
}

// Map opens path (a DAX device node or a regular file) and maps l.Total()
// bytes from it, then re-derives AllocArena/CoordPage/TableArena as slices
// over the fixed offsets in l. If zero is true, the allocator arena and
// coordination page are zeroed after mapping (the force_init behavior from
// spec.md §4.2 step 3); the table arena is left untouched, since its
// contents are only ever interpreted through the bump watermark in the
// coordination page.
//
// Map returns an error (never panics) on any open/mmap failure, per the
// "Region-mapping error" contract in spec.md §7 — the caller must not
// proceed to Attach on a non-nil error.
func Map(log logger.Logger, path string, l Layout, zero bool) (*Region, error) {
	if err := l.validate(); err != nil {
		return nil, err
	}
	r, err := mapPlatform(log, path, l)
	if err != nil {
		return nil, fmt.Errorf("region: mapping %s: %w", path, err)
	}
	if zero {
		for i := range r.AllocArena {
			r.AllocArena[i] = 0
		}
		for i := range r.CoordPage {
			r.CoordPage[i] = 0
		}
	}
	return r, nil
}

// Unmap tears down this process's mapping of the region. It does not
// touch the contents of the backing device/file.
func (r *Region) Unmap() error {
	if r.closer == nil {
		return nil
	}
	return r.closer()
}

// Zero clears the allocator arena and coordination page, reverting the
// initializer state machine to uninit for the next Attach (spec.md §4.2
// detach/force_destroy).
func (r *Region) Zero() {
	for i := range r.AllocArena {
		r.AllocArena[i] = 0
	}
	for i := range r.CoordPage {
		r.CoordPage[i] = 0
	}
}
