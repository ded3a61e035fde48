// Copyright (c) 2024 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package clht

import (
	"fmt"
	"sync"
	"testing"
	"unsafe"

	"github.com/aristanetworks/shmclht/offset"
)

// fixedAllocator is a bump allocator over a plain Go byte slice, used so
// these tests don't need a real shared-memory mapping: it satisfies the
// same Allocator interface region+coord+bumpalloc wire together for a
// live attach.
type fixedAllocator struct {
	mu   sync.Mutex
	buf  []byte
	used uint64
}

func newFixedAllocator(size uint64) (*fixedAllocator, offset.Translator) {
	buf := make([]byte, size)
	tr := offset.New(unsafe.Pointer(&buf[0]))
	// Skip the first cache line: offset 0 is offset.Null, which ToPtr
	// resolves to nil, so nothing may be allocated there.
	return &fixedAllocator{buf: buf, used: 64}, tr
}

func (a *fixedAllocator) Alloc(size uint64) (offset.Off, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.used+size > uint64(len(a.buf)) {
		return offset.Null, fmt.Errorf("fixedAllocator: out of memory")
	}
	off := a.used
	a.used += size
	return offset.Off(off), nil
}

func (a *fixedAllocator) Free(offset.Off, uint64) {}

func newTestTable(t *testing.T, numBuckets uint64) *Handle {
	t.Helper()
	alloc, tr := newFixedAllocator(1 << 20)
	handleOff, err := Create(tr, alloc, numBuckets)
	if err != nil {
		t.Fatalf("Create(%d) = %v", numBuckets, err)
	}
	return Open(tr, alloc, handleOff)
}

// TestS1SingleThreadBasics is scenario S1 from spec.md §8.
func TestS1SingleThreadBasics(t *testing.T) {
	h := newTestTable(t, 8)

	ok, err := h.Put(1, 100)
	if err != nil || !ok {
		t.Fatalf("Put(1,100) = (%v,%v), want (true,nil)", ok, err)
	}
	ok, err = h.Put(1, 200)
	if err != nil || ok {
		t.Fatalf("Put(1,200) = (%v,%v), want (false,nil)", ok, err)
	}
	if got := h.Get(1); got != 100 {
		t.Fatalf("Get(1) = %d, want 100", got)
	}
	if got := h.Remove(1); got != 100 {
		t.Fatalf("Remove(1) = %d, want 100", got)
	}
	if got := h.Get(1); got != 0 {
		t.Fatalf("Get(1) after remove = %d, want 0", got)
	}
}

// TestS2ChainExtension is scenario S2 from spec.md §8: every key collides
// into bin 0 (num_buckets=1), forcing extension buckets, then exercises
// tombstone reuse.
func TestS2ChainExtension(t *testing.T) {
	h := newTestTable(t, 1)

	for k := uint64(1); k <= 10; k++ {
		ok, err := h.Put(k, k*10)
		if err != nil || !ok {
			t.Fatalf("Put(%d, %d) = (%v,%v), want (true,nil)", k, k*10, ok, err)
		}
	}
	for k := uint64(1); k <= 10; k++ {
		if got := h.Get(k); got != k*10 {
			t.Errorf("Get(%d) = %d, want %d", k, got, k*10)
		}
	}

	if got := h.Remove(5); got != 50 {
		t.Fatalf("Remove(5) = %d, want 50", got)
	}
	if got := h.Get(5); got != 0 {
		t.Fatalf("Get(5) after remove = %d, want 0", got)
	}
	ok, err := h.Put(5, 555)
	if err != nil || !ok {
		t.Fatalf("Put(5,555) = (%v,%v), want (true,nil)", ok, err)
	}
	if got := h.Get(5); got != 555 {
		t.Fatalf("Get(5) after reinsert = %d, want 555", got)
	}
}

// TestS3PowerOfTwoMasking is scenario S3 from spec.md §8.
func TestS3PowerOfTwoMasking(t *testing.T) {
	h := newTestTable(t, 16)

	for _, kv := range []struct{ k, v uint64 }{{17, 1}, {33, 2}, {1, 3}} {
		ok, err := h.Put(kv.k, kv.v)
		if err != nil || !ok {
			t.Fatalf("Put(%d,%d) = (%v,%v), want (true,nil)", kv.k, kv.v, ok, err)
		}
	}
	if got := h.Get(1); got != 3 {
		t.Errorf("Get(1) = %d, want 3", got)
	}
	if got := h.Get(17); got != 1 {
		t.Errorf("Get(17) = %d, want 1", got)
	}
	if got := h.Get(33); got != 2 {
		t.Errorf("Get(33) = %d, want 2", got)
	}
}

func TestCreateRejectsBadBucketCount(t *testing.T) {
	alloc, tr := newFixedAllocator(4096)
	if _, err := Create(tr, alloc, 0); err == nil {
		t.Fatal("Create(0) = nil error, want error")
	}
	if _, err := Create(tr, alloc, 3); err == nil {
		t.Fatal("Create(3) = nil error, want error (not a power of two)")
	}
}

func TestPutRejectsZeroKey(t *testing.T) {
	h := newTestTable(t, 8)
	if _, err := h.Put(0, 1); err == nil {
		t.Fatal("Put(0, 1) = nil error, want error")
	}
}

func TestSizeAndString(t *testing.T) {
	h := newTestTable(t, 4)
	for _, k := range []uint64{1, 2, 3} {
		if _, err := h.Put(k, k); err != nil {
			t.Fatalf("Put(%d,%d) = %v", k, k, err)
		}
	}
	if got := h.Size(); got != 3 {
		t.Fatalf("Size() = %d, want 3", got)
	}
	if s := h.String(); s == "" {
		t.Fatal("String() = \"\", want non-empty rendering")
	}
}

func TestCopyInto(t *testing.T) {
	src := newTestTable(t, 4)
	for k := uint64(1); k <= 20; k++ {
		if _, err := src.Put(k, k*k); err != nil {
			t.Fatalf("Put(%d,%d) = %v", k, k*k, err)
		}
	}

	dst := newTestTable(t, 4)
	src.CopyInto(dst)

	for k := uint64(1); k <= 20; k++ {
		if got := dst.Get(k); got != k*k {
			t.Errorf("dst.Get(%d) = %d, want %d", k, got, k*k)
		}
	}
}

func TestExists(t *testing.T) {
	h := newTestTable(t, 8)
	if h.exists(42) {
		t.Fatal("exists(42) = true before insert, want false")
	}
	if _, err := h.Put(42, 1); err != nil {
		t.Fatalf("Put(42,1) = %v", err)
	}
	if !h.exists(42) {
		t.Fatal("exists(42) = false after insert, want true")
	}
}

func TestTypeDescription(t *testing.T) {
	if TypeDescription() != "CLHT-LB-NO-RESIZE" {
		t.Fatalf("TypeDescription() = %q, want CLHT-LB-NO-RESIZE", TypeDescription())
	}
}

// TestChainHashing covers property 4 from spec.md §8: every live key
// reachable from bin b hashes to b.
func TestChainHashing(t *testing.T) {
	const numBuckets = 16
	h := newTestTable(t, numBuckets)
	for k := uint64(1); k <= 500; k++ {
		if _, err := h.Put(k, k); err != nil {
			t.Fatalf("Put(%d,%d) = %v", k, k, err)
		}
	}
	for bin := uint64(0); bin < numBuckets; bin++ {
		b := h.headBucket(bin)
		for {
			for j := 0; j < entriesPerBucket; j++ {
				if key := b.keyAt(j); key != 0 {
					if got := key & (numBuckets - 1); got != bin {
						t.Errorf("key %d reachable from bin %d, hashes to %d", key, bin, got)
					}
				}
			}
			if !b.hasNext() {
				break
			}
			b = b.next()
		}
	}
}

// TestConcurrentMixedWorkload is a scaled-down version of scenario S5 from
// spec.md §8: concurrent put/get/remove across many threads, checking
// that nothing crashes or deadlocks, that Size() stays within the key
// space, and invariant 4 (every live key reachable from bin b hashes to b).
func TestConcurrentMixedWorkload(t *testing.T) {
	const numBuckets = 1 << 8
	const numKeys = 1 << 12
	const numThreads = 8

	h := newTestTable(t, numBuckets)

	var wg sync.WaitGroup
	wg.Add(numThreads)
	for tid := 0; tid < numThreads; tid++ {
		tid := tid
		go func() {
			defer wg.Done()
			for i := 0; i < 2000; i++ {
				key := uint64((i*7+tid)%numKeys) + 1
				switch i % 10 {
				case 0:
					h.Remove(key)
				case 1, 2, 3:
					h.Put(key, key)
				default:
					h.Get(key)
				}
			}
		}()
	}
	wg.Wait()

	if h.Size() > numKeys {
		t.Fatalf("Size() = %d, exceeds key space %d", h.Size(), numKeys)
	}
	for bin := uint64(0); bin < numBuckets; bin++ {
		b := h.headBucket(bin)
		for {
			for j := 0; j < entriesPerBucket; j++ {
				if key := b.keyAt(j); key != 0 {
					if got := key & (numBuckets - 1); got != bin {
						t.Fatalf("key %d reachable from bin %d, hashes to %d", key, bin, got)
					}
				}
			}
			if !b.hasNext() {
				break
			}
			b = b.next()
		}
	}
}
