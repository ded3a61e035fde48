// Copyright (c) 2024 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package clht implements CLHT-LB-NO-RESIZE, the lock-based cache-line
// hash table at the core of this module: a bucketed, chained map of
// non-zero uint64 keys to uint64 values, with a fine-grained per-bucket
// lock and a snapshot-then-recheck read protocol that lets Get proceed
// without ever taking a lock. See spec.md §4.4.
package clht

import (
	"fmt"
	"strings"
	"unsafe"

	"github.com/aristanetworks/shmclht/offset"
)

// typeDescription mirrors clht_type_desc() in the original sources.
const typeDescription = "CLHT-LB-NO-RESIZE"

// TypeDescription identifies this hash table variant for logging/debug
// output.
func TypeDescription() string { return typeDescription }

// Allocator is the subset of bumpalloc.Allocator the hash table needs: a
// fixed-size-allocation primitive plus the matching Free. spec.md §4.4.1
// notes that either the small-object allocator or the bump allocator is
// acceptable here, as long as zeroing semantics hold; this module always
// uses the bump allocator (see DESIGN.md's Open Question resolution), so
// Allocator asks for nothing more than those two methods.
type Allocator interface {
	Alloc(size uint64) (offset.Off, error)
	Free(off offset.Off, size uint64)
}

// rawHeader is the hashtable header described in spec.md §3: the offset of
// the bucket array and the (fixed, power-of-two) bucket count.
type rawHeader struct {
	table      uint64
	numBuckets uint64
}

// rawHandle is the single top-level record locating the current hashtable
// header inside the shared region (spec.md §3 "Handle").
type rawHandle struct {
	ht uint64
}

var (
	headerSize = uint64(unsafe.Sizeof(rawHeader{}))
	handleSize = uint64(unsafe.Sizeof(rawHandle{}))
)

// Handle is a process-local view of one attached hashtable: the
// translator needed to resolve offsets, the allocator new extension
// buckets are carved from, and a pointer to the (immutable, since this
// variant never resizes) header.
type Handle struct {
	tr     offset.Translator
	alloc  Allocator
	off    offset.Off
	header *rawHeader
}

func isPowerOfTwo(x uint64) bool { return x != 0 && x&(x-1) == 0 }

// Create builds a fresh hashtable with numBuckets primary buckets, all
// zeroed, and returns the offset of its Handle — the value the
// coordination page's clht field publishes once initialization completes
// (spec.md §4.2 step 5, §4.4.1).
func Create(tr offset.Translator, alloc Allocator, numBuckets uint64) (offset.Off, error) {
	if numBuckets == 0 || !isPowerOfTwo(numBuckets) {
		return offset.Null, fmt.Errorf(
			"clht: num_buckets must be a nonzero power of two, got %d", numBuckets)
	}

	tableOff, err := alloc.Alloc(numBuckets * bucketSize)
	if err != nil {
		return offset.Null, fmt.Errorf("clht: allocating %d buckets: %w", numBuckets, err)
	}
	for i := uint64(0); i < numBuckets; i++ {
		bucketAt(tr, tableOff+offset.Off(i*bucketSize)).zero()
	}

	headerOff, err := alloc.Alloc(headerSize)
	if err != nil {
		return offset.Null, fmt.Errorf("clht: allocating header: %w", err)
	}
	header := (*rawHeader)(tr.ToPtr(headerOff))
	header.table = uint64(tableOff)
	header.numBuckets = numBuckets

	handleOff, err := alloc.Alloc(handleSize)
	if err != nil {
		return offset.Null, fmt.Errorf("clht: allocating handle: %w", err)
	}
	handle := (*rawHandle)(tr.ToPtr(handleOff))
	handle.ht = uint64(headerOff)

	return handleOff, nil
}

// Open resolves a Handle offset, as published in the coordination page,
// into a process-local Handle ready for Get/Put/Remove.
func Open(tr offset.Translator, alloc Allocator, off offset.Off) *Handle {
	rh := (*rawHandle)(tr.ToPtr(off))
	header := (*rawHeader)(tr.ToPtr(offset.Off(rh.ht)))
	return &Handle{tr: tr, alloc: alloc, off: off, header: header}
}

// Offset returns this Handle's own offset (what was returned by Create and
// published via coord.Page.SetClht).
func (h *Handle) Offset() offset.Off { return h.off }

// NumBuckets returns the fixed primary-array size this table was created
// with.
func (h *Handle) NumBuckets() uint64 { return h.header.numBuckets }

// bin computes the primary-array index for key: key & (numBuckets-1).
// spec.md §4.4.2 calls out that a Jenkins mix is available but unused on
// the active path because num_buckets is a power of two and keys are
// assumed already well distributed; jenkinsHash64 below preserves that
// choice rather than "fixing" it.
func (h *Handle) bin(key uint64) uint64 {
	return key & (h.header.numBuckets - 1)
}

// jenkinsHash64 is Jenkins' 64-bit integer mix, ported from
// __ac_Jenkins_hash_64 in the original sources. It is never called from
// the active Get/Put/Remove path — see bin — and exists only so a caller
// that does need a better-distributed derivative key has it available.
func jenkinsHash64(key uint64) uint64 {
	key += ^(key << 32)
	key ^= key >> 22
	key += ^(key << 13)
	key ^= key >> 8
	key += key << 3
	key ^= key >> 15
	key += ^(key << 27)
	key ^= key >> 31
	return key
}

func (h *Handle) headBucket(bin uint64) bucket {
	tableOff := offset.Off(h.header.table)
	return bucketAt(h.tr, tableOff+offset.Off(bin*bucketSize))
}

// Get performs a lock-free read, per spec.md §4.4.3. It returns 0 both
// when key is absent and when a concurrent writer raced the read; callers
// that need to tell the two apart must retry or exclude 0 from their
// value domain (spec.md §7 "Value-zero ambiguity").
func (h *Handle) Get(key uint64) uint64 {
	b := h.headBucket(h.bin(key))
	for {
		for j := 0; j < entriesPerBucket; j++ {
			valSnapshot := b.valAt(j)
			if b.keyAt(j) == key {
				if b.valAt(j) == valSnapshot {
					return valSnapshot
				}
				return 0
			}
		}
		if !b.hasNext() {
			return 0
		}
		b = b.next()
	}
}

// exists is the lock-free existence probe from spec.md's supplemented
// bucket_exists: present for parity with the original, only exercised by
// tests, never by Put/Remove's hot path (matching the original, where it
// is gated behind a build flag that is never set).
func (h *Handle) exists(key uint64) bool {
	b := h.headBucket(h.bin(key))
	for {
		for j := 0; j < entriesPerBucket; j++ {
			if b.keyAt(j) == key {
				return true
			}
		}
		if !b.hasNext() {
			return false
		}
		b = b.next()
	}
}

// Put inserts key -> val if key is not already present. It returns true
// if the key was inserted, false if it already existed (spec.md §4.4.4).
// An error is returned when key is 0 (the empty-slot sentinel) or when
// the bump allocator can't grow the chain; per spec.md §7 the latter has
// no recovery path.
func (h *Handle) Put(key, val uint64) (bool, error) {
	if key == 0 {
		return false, fmt.Errorf("clht: key 0 is reserved as the empty-slot sentinel")
	}

	head := h.headBucket(h.bin(key))
	lockAcquire(head.lockWord())
	defer lockRelease(head.lockWord())

	var empty bucket
	emptyIdx := -1

	b := head
	for {
		for j := 0; j < entriesPerBucket; j++ {
			if b.keyAt(j) == key {
				return false, nil
			}
			if emptyIdx == -1 && b.keyAt(j) == 0 {
				empty, emptyIdx = b, j
			}
		}

		if !b.hasNext() {
			if emptyIdx == -1 {
				newOff, err := h.alloc.Alloc(bucketSize)
				if err != nil {
					return false, fmt.Errorf("clht: extending chain: %w", err)
				}
				nb := bucketAt(h.tr, newOff)
				nb.zero()
				nb.setValAt(0, val)
				nb.setKeyAt(0, key)
				b.linkNext(newOff)
			} else {
				empty.setValAt(emptyIdx, val)
				empty.setKeyAt(emptyIdx, key)
			}
			return true, nil
		}

		b = b.next()
	}
}

// Remove deletes key if present and returns its value, or 0 if key was
// not found (spec.md §4.4.5). The freed slot is a tombstone: key[j] is
// cleared to 0 but the slot is otherwise left in place for reuse by a
// later Put on the same chain; no chain compaction is performed.
func (h *Handle) Remove(key uint64) uint64 {
	head := h.headBucket(h.bin(key))
	lockAcquire(head.lockWord())
	defer lockRelease(head.lockWord())

	b := head
	for {
		for j := 0; j < entriesPerBucket; j++ {
			if b.keyAt(j) == key {
				val := b.valAt(j)
				b.setKeyAt(j, 0)
				return val
			}
		}
		if !b.hasNext() {
			return 0
		}
		b = b.next()
	}
}

// putSeq is the single-threaded insert clht_put_seq provides: no locking,
// used only by CopyInto.
func (h *Handle) putSeq(key, val uint64) bool {
	b := h.headBucket(h.bin(key))
	var empty bucket
	emptyIdx := -1
	for {
		for j := 0; j < entriesPerBucket; j++ {
			if b.keyAt(j) == key {
				return false
			}
			if emptyIdx == -1 && b.keyAt(j) == 0 {
				empty, emptyIdx = b, j
			}
		}
		if !b.hasNext() {
			if emptyIdx == -1 {
				newOff, err := h.alloc.Alloc(bucketSize)
				if err != nil {
					// putSeq has no error return in the original (it
					// returns a bool); arena exhaustion here is the
					// same abort condition as everywhere else in this
					// package, so it is fatal rather than silently
					// dropped.
					panic(err)
				}
				nb := bucketAt(h.tr, newOff)
				nb.zero()
				nb.setValAt(0, val)
				nb.setKeyAt(0, key)
				b.linkNext(newOff)
			} else {
				empty.setValAt(emptyIdx, val)
				empty.setKeyAt(emptyIdx, key)
			}
			return true
		}
		b = b.next()
	}
}

// CopyInto copies every live binding from h into dst using putSeq,
// mirroring bucket_cpy. Per spec.md §4.4.7 this exists for completeness —
// it is the building block a (disabled) resize path would use — and is
// not called anywhere in the Attach/Put/Get/Remove path; it is exercised
// only by tests that want a snapshot of one table inside a fresh one.
func (h *Handle) CopyInto(dst *Handle) {
	n := h.header.numBuckets
	for bin := uint64(0); bin < n; bin++ {
		b := h.headBucket(bin)
		for {
			for j := 0; j < entriesPerBucket; j++ {
				if key := b.keyAt(j); key != 0 {
					dst.putSeq(key, b.valAt(j))
				}
			}
			if !b.hasNext() {
				break
			}
			b = b.next()
		}
	}
}

// Size walks every bin and chain counting live keys. It is best-effort:
// per spec.md §4.4.6 it may run without locks and can observe an
// inconsistent snapshot under concurrent mutation.
func (h *Handle) Size() uint64 {
	var size uint64
	n := h.header.numBuckets
	for bin := uint64(0); bin < n; bin++ {
		b := h.headBucket(bin)
		for {
			for j := 0; j < entriesPerBucket; j++ {
				if b.keyAt(j) != 0 {
					size++
				}
			}
			if !b.hasNext() {
				break
			}
			b = b.next()
		}
	}
	return size
}

// String renders every bin's chain of live keys, the Go analogue of
// clht_print. Best-effort and debug-only, like Size.
func (h *Handle) String() string {
	var sb strings.Builder
	n := h.header.numBuckets
	fmt.Fprintf(&sb, "%s: %d buckets\n", typeDescription, n)
	for bin := uint64(0); bin < n; bin++ {
		fmt.Fprintf(&sb, "[[%05d]] ", bin)
		b := h.headBucket(bin)
		for {
			for j := 0; j < entriesPerBucket; j++ {
				if key := b.keyAt(j); key != 0 {
					fmt.Fprintf(&sb, "(%d)-> ", key)
				}
			}
			if !b.hasNext() {
				break
			}
			b = b.next()
			sb.WriteString(" ** -> ")
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Destroy releases the table's primary bucket array back to the
// allocator; the header, the handle record and any extension buckets are
// not passed to Free. Since this module only ever uses the bump allocator
// (see DESIGN.md), whose Free is a no-op, Destroy does nothing
// observable; it exists so callers tearing
// down a table have a single place to call, matching clht_destroy's role
// if/when a freeing allocator is plugged in instead.
func (h *Handle) Destroy() {
	h.alloc.Free(offset.Off(h.header.table), h.header.numBuckets*bucketSize)
}
