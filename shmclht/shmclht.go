// Copyright (c) 2024 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package shmclht wires region, coord, bumpalloc and clht together into
// the Attach/Detach entry points spec.md §4.2 describes: resolve the
// backing device, map its three sub-regions, run the single-initializer
// election, and hand back a ready-to-use clht.Handle. It is the Go
// analogue of clht_shm_init/clht_shm_term.
package shmclht

import (
	"fmt"
	"os"
	"time"
	"unsafe"

	"github.com/aristanetworks/shmclht/bumpalloc"
	"github.com/aristanetworks/shmclht/clht"
	"github.com/aristanetworks/shmclht/coord"
	"github.com/aristanetworks/shmclht/logger"
	"github.com/aristanetworks/shmclht/offset"
	"github.com/aristanetworks/shmclht/region"
	"github.com/aristanetworks/shmclht/threadreg"
)

// cxlPathEnv is the environment variable spec.md §6.2 names for the
// backing device path override.
const cxlPathEnv = "CXL_PATH"

// defaultCXLPath is the compile-time fallback device, matching
// CXL_PATH_DEFAULT in the original sources.
const defaultCXLPath = "/dev/dax2.0"

// Default sub-region sizes, straight from spec.md §6.1: a 64 GiB table
// arena, a 2 MiB coordination page, and an allocator arena sized to one
// alignment unit. The allocator arena is mapped but unused by this
// module's bump-allocator-only design (see DESIGN.md); its presence
// keeps the region layout byte-compatible with the original for any
// tooling that inspects the device directly.
const (
	DefaultAlignment      = 1 << 21 // 2 MiB, devdax mapping granularity
	DefaultAllocArenaSize = DefaultAlignment
	DefaultCommSize       = DefaultAlignment
	DefaultTableSize      = 1 << 36 // 64 GiB
)

// electionPollInterval bounds how often a process that lost the
// initializer race re-checks coord.Page.State while it spins, per
// spec.md §4.2 step 5's "spin until initialized == 2".
const electionPollInterval = 50 * time.Microsecond

// Handle is a live attachment to a shared-memory CLHT table: the
// mapped region, the coordination page, the bump allocator, the
// resolved table, and a registry new threads must call Init on before
// touching the table (spec.md §4.5).
type Handle struct {
	region *region.Region
	coord  *coord.Page
	alloc  *bumpalloc.Allocator
	table  *clht.Handle
	Thread *threadreg.Registry
}

// Option configures Attach's region layout; the zero value uses the
// spec's default sizes.
type Option struct {
	Path      string // overrides CXL_PATH / the compile-time default
	Alignment uint64
	AllocSize uint64
	CommSize  uint64
	TableSize uint64
}

func (o Option) layout() region.Layout {
	l := region.Layout{
		Alignment:      DefaultAlignment,
		AllocArenaSize: DefaultAllocArenaSize,
		CommSize:       DefaultCommSize,
		TableSize:      DefaultTableSize,
	}
	if o.Alignment != 0 {
		l.Alignment = o.Alignment
	}
	if o.AllocSize != 0 {
		l.AllocArenaSize = o.AllocSize
	}
	if o.CommSize != 0 {
		l.CommSize = o.CommSize
	}
	if o.TableSize != 0 {
		l.TableSize = o.TableSize
	}
	return l
}

func resolvePath(opt Option) string {
	if opt.Path != "" {
		return opt.Path
	}
	if p := os.Getenv(cxlPathEnv); p != "" {
		return p
	}
	return defaultCXLPath
}

// Attach implements spec.md §4.2's attach(node, force_init, num_buckets):
// it maps the region, runs the initializer election, and returns a
// Handle ready for Get/Put/Remove once thread-registered. node is used
// only for logging, matching the original's role for it. Re-attaching
// from the same process is not supported, matching spec.md §4.2's
// stated limitation.
func Attach(log logger.Logger, node int, forceInit bool, numBuckets uint64, opt Option) (*Handle, error) {
	path := resolvePath(opt)
	l := opt.layout()

	r, err := region.Map(log, path, l, forceInit)
	if err != nil {
		return nil, fmt.Errorf("shmclht: attach: %w", err)
	}

	tr := offset.New(unsafe.Pointer(&r.AllocArena[0]))
	cp := coord.Open(r.CoordPage)
	tableArenaBase := offset.Off(l.AllocArenaSize + l.CommSize)
	alloc := bumpalloc.New(cp, tableArenaBase, l.TableSize)

	if cp.TryBecomeInitializer() {
		log.Infof("[%d] Initializing CLHT", node)
		cp.ResetTableEnd()
		handleOff, err := clht.Create(tr, alloc, numBuckets)
		if err != nil {
			return nil, fmt.Errorf("shmclht: attach: creating table: %w", err)
		}
		cp.SetClht(handleOff)
		cp.MarkReady()
	} else {
		log.Infof("[%d] Obtaining CLHT", node)
		for cp.State() == coord.Initializing {
			time.Sleep(electionPollInterval)
		}
	}

	table := clht.Open(tr, alloc, cp.Clht())
	return &Handle{
		region: r,
		coord:  cp,
		alloc:  alloc,
		table:  table,
		Thread: threadreg.New(),
	}, nil
}

// Table returns the attached hashtable. Every goroutine using it must
// first call h.Thread.Init with its own id (spec.md §4.5).
func (h *Handle) Table() *clht.Handle { return h.table }

// Detach implements spec.md §4.2's detach(node, force_destroy): it tears
// down this process's local mapping, and if forceDestroy is set, zeroes
// the allocator arena and coordination page so the next Attach
// reinitializes from scratch. It does not touch the table arena's
// contents directly — zeroing the coordination page reverts the
// initializer state machine to Uninit, which is what makes the stale
// bucket data unreachable for the next attach.
func (h *Handle) Detach(forceDestroy bool) error {
	if forceDestroy {
		h.region.Zero()
	}
	return h.region.Unmap()
}
