// Copyright (c) 2024 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package clht

import (
	"sync/atomic"
	"unsafe"

	"github.com/aristanetworks/shmclht/offset"
)

// entriesPerBucket is chosen, per spec.md §3, so that the bucket struct
// (lock + next + entriesPerBucket*(key+value)) fills exactly one 64-byte
// cache line: 8 (lock) + 8 (next) + 3*8 (keys) + 3*8 (vals) = 64.
const entriesPerBucket = 3

// rawBucket is the exact in-memory layout of one bucket, as it sits in
// the shared region. lock uses a 64-bit word rather than the single byte
// of the original C struct: Go's sync/atomic has no 8-bit
// compare-and-swap, and only the values 0 (free) and 1 (held) are ever
// stored, so the wider word changes nothing observable. next is an
// offset.Off, never a pointer — see package offset's doc comment for why.
type rawBucket struct {
	lock uint64
	next uint64
	key  [entriesPerBucket]uint64
	val  [entriesPerBucket]uint64
}

const bucketSize = uint64(unsafe.Sizeof(rawBucket{}))

func init() {
	if bucketSize != 64 {
		panic("clht: rawBucket is not cache-line sized")
	}
}

// bucket is a process-local handle onto one rawBucket: a pointer plus the
// translator needed to chase its next offset.
type bucket struct {
	ptr *rawBucket
	tr  offset.Translator
}

func bucketAt(tr offset.Translator, off offset.Off) bucket {
	return bucket{ptr: (*rawBucket)(tr.ToPtr(off)), tr: tr}
}

// zero clears a freshly allocated bucket: every key empty, lock free, no
// extension link. Matches clht_bucket_create / the memset loop in
// clht_hashtable_create.
func (b bucket) zero() {
	atomic.StoreUint64(&b.ptr.lock, 0)
	atomic.StoreUint64(&b.ptr.next, uint64(offset.Null))
	for j := 0; j < entriesPerBucket; j++ {
		atomic.StoreUint64(&b.ptr.key[j], 0)
		atomic.StoreUint64(&b.ptr.val[j], 0)
	}
}

func (b bucket) keyAt(j int) uint64       { return atomic.LoadUint64(&b.ptr.key[j]) }
func (b bucket) valAt(j int) uint64       { return atomic.LoadUint64(&b.ptr.val[j]) }
func (b bucket) setKeyAt(j int, k uint64) { atomic.StoreUint64(&b.ptr.key[j], k) }
func (b bucket) setValAt(j int, v uint64) { atomic.StoreUint64(&b.ptr.val[j], v) }

func (b bucket) nextOff() offset.Off { return offset.Off(atomic.LoadUint64(&b.ptr.next)) }

// next returns the extension bucket, or the zero bucket (ptr == nil) if
// there is none.
func (b bucket) next() bucket {
	return bucketAt(b.tr, b.nextOff())
}

func (b bucket) hasNext() bool { return b.nextOff() != offset.Null }

// linkNext publishes off as this bucket's extension link. Called at most
// once per bucket, from SHM_NULL to a freshly allocated bucket, by Put
// while it still holds the head bucket's lock, or by the single-threaded,
// lock-free putSeq.
func (b bucket) linkNext(off offset.Off) {
	atomic.StoreUint64(&b.ptr.next, uint64(off))
}

func (b bucket) lockWord() *uint64 { return &b.ptr.lock }
