// Copyright (c) 2024 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package coord

import (
	"sync"
	"testing"

	"github.com/aristanetworks/shmclht/offset"
)

func TestInitialStateIsUninit(t *testing.T) {
	p := Open(make([]byte, Size))
	if got := p.State(); got != Uninit {
		t.Fatalf("State() = %v, want Uninit", got)
	}
	if got := p.TableEnd(); got != 0 {
		t.Fatalf("TableEnd() = %d, want 0", got)
	}
}

func TestClhtRoundTrip(t *testing.T) {
	p := Open(make([]byte, Size))
	p.SetClht(offset.Off(4096))
	if got := p.Clht(); got != 4096 {
		t.Fatalf("Clht() = %d, want 4096", got)
	}
}

func TestMarkReadySequence(t *testing.T) {
	p := Open(make([]byte, Size))
	if !p.TryBecomeInitializer() {
		t.Fatal("first TryBecomeInitializer() = false, want true")
	}
	if got := p.State(); got != Initializing {
		t.Fatalf("State() after win = %v, want Initializing", got)
	}
	p.ResetTableEnd()
	p.SetClht(offset.Off(128))
	p.MarkReady()
	if got := p.State(); got != Ready {
		t.Fatalf("State() after MarkReady = %v, want Ready", got)
	}
}

// TestSingleInitializer covers property 7 from spec.md §8: under N
// concurrent attachers, exactly one observes the winning CAS.
func TestSingleInitializer(t *testing.T) {
	const n = 64
	p := Open(make([]byte, Size))

	var wg sync.WaitGroup
	var winners int32
	var mu sync.Mutex
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			if p.TryBecomeInitializer() {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Fatalf("winners = %d, want 1", winners)
	}
	if got := p.State(); got != Initializing {
		t.Fatalf("State() = %v, want Initializing", got)
	}
}

func TestCompareAndSwapTableEnd(t *testing.T) {
	p := Open(make([]byte, Size))
	if !p.CompareAndSwapTableEnd(0, 128) {
		t.Fatal("CompareAndSwapTableEnd(0, 128) = false, want true")
	}
	if got := p.TableEnd(); got != 128 {
		t.Fatalf("TableEnd() = %d, want 128", got)
	}
	if p.CompareAndSwapTableEnd(0, 256) {
		t.Fatal("CompareAndSwapTableEnd(0, 256) = true after watermark moved, want false")
	}
}
