// Copyright (c) 2024 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package bumpalloc

import (
	"sync"
	"testing"

	"github.com/aristanetworks/shmclht/coord"
	"github.com/aristanetworks/shmclht/offset"
)

func TestAllocAdvancesWatermark(t *testing.T) {
	p := coord.Open(make([]byte, coord.Size))
	a := New(p, offset.Off(1000), 1024)

	off1, err := a.Alloc(64)
	if err != nil {
		t.Fatalf("Alloc(64) = %v", err)
	}
	if off1 != 1000 {
		t.Fatalf("first Alloc offset = %d, want 1000", off1)
	}

	off2, err := a.Alloc(64)
	if err != nil {
		t.Fatalf("Alloc(64) = %v", err)
	}
	if off2 != 1064 {
		t.Fatalf("second Alloc offset = %d, want 1064", off2)
	}
}

func TestAllocOutOfMemory(t *testing.T) {
	p := coord.Open(make([]byte, coord.Size))
	a := New(p, offset.Off(0), 100)

	if _, err := a.Alloc(64); err != nil {
		t.Fatalf("Alloc(64) = %v, want nil", err)
	}
	if _, err := a.Alloc(64); err == nil {
		t.Fatal("second Alloc(64) = nil error, want out-of-memory error")
	}
}

// TestAllocConcurrentNoOverlap covers property 6 from spec.md §8: the
// watermark never decreases, and concurrent allocations never overlap.
func TestAllocConcurrentNoOverlap(t *testing.T) {
	const n = 256
	const size = 32
	p := coord.Open(make([]byte, coord.Size))
	a := New(p, offset.Off(0), n*size)

	offs := make([]offset.Off, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			off, err := a.Alloc(size)
			if err != nil {
				t.Errorf("Alloc(%d) = %v", size, err)
				return
			}
			offs[i] = off
		}()
	}
	wg.Wait()

	seen := make(map[offset.Off]bool, n)
	for _, off := range offs {
		if off%size != 0 {
			t.Errorf("offset %d not aligned to size %d", off, size)
		}
		if seen[off] {
			t.Fatalf("offset %d handed out twice", off)
		}
		seen[off] = true
	}
	if got := p.TableEnd(); got != n*size {
		t.Fatalf("TableEnd() = %d, want %d", got, n*size)
	}
}
