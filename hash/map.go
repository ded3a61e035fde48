// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package hash is a trimmed, non-resizing bucket-chain map used as a
// ground-truth oracle in clht's property-based tests. It started out as
// a generic port of the Go runtime's growable map (bucketed, 8 entries
// per bucket, overflow chaining, incremental evacuation on grow); that
// machinery is gone here, since an oracle that never resizes is the
// right shape to check a no-resize hash table against. The key and
// value domain is narrowed from generic K/E to the uint64 clht itself
// operates on.
package hash

// bucketCnt is how many key/value pairs live directly in a bucket
// before it chains to an overflow bucket.
const bucketCnt = 8

type entry struct {
	key      uint64
	val      uint64
	occupied bool
}

type bucket struct {
	entries  [bucketCnt]entry
	overflow *bucket
}

// Oracle is a fixed-bucket-count reference map from uint64 to uint64,
// with zero excluded from the key domain just like clht.Handle. It is
// not safe for concurrent use: tests drive an Oracle and a clht.Handle
// through the same sequence of operations and diff the results.
type Oracle struct {
	buckets []bucket
	mask    uint64
	count   int
}

// NewOracle returns an Oracle with numBuckets primary buckets.
// numBuckets must be a power of two, matching clht's own constraint, so
// Oracle's bin() is directly comparable to clht.Handle's.
func NewOracle(numBuckets int) *Oracle {
	if numBuckets <= 0 || numBuckets&(numBuckets-1) != 0 {
		panic("hash: NewOracle requires a positive power-of-two bucket count")
	}
	return &Oracle{
		buckets: make([]bucket, numBuckets),
		mask:    uint64(numBuckets - 1),
	}
}

func (o *Oracle) bin(key uint64) uint64 { return key & o.mask }

// Len returns the number of live keys.
func (o *Oracle) Len() int { return o.count }

// Get returns the value for key and whether it was present.
func (o *Oracle) Get(key uint64) (uint64, bool) {
	b := &o.buckets[o.bin(key)]
	for {
		for i := range b.entries {
			if b.entries[i].occupied && b.entries[i].key == key {
				return b.entries[i].val, true
			}
		}
		if b.overflow == nil {
			return 0, false
		}
		b = b.overflow
	}
}

// Set inserts key -> val if key is not already present, matching
// clht.Handle.Put's semantics: it never overwrites an existing binding.
// It reports whether the key was inserted.
func (o *Oracle) Set(key, val uint64) bool {
	b := &o.buckets[o.bin(key)]
	var empty *entry
	for {
		for i := range b.entries {
			e := &b.entries[i]
			if e.occupied && e.key == key {
				return false
			}
			if empty == nil && !e.occupied {
				empty = e
			}
		}
		if b.overflow == nil {
			if empty == nil {
				b.overflow = &bucket{}
				empty = &b.overflow.entries[0]
			}
			empty.key, empty.val, empty.occupied = key, val, true
			o.count++
			return true
		}
		b = b.overflow
	}
}

// Delete removes key if present and returns its value.
func (o *Oracle) Delete(key uint64) (uint64, bool) {
	b := &o.buckets[o.bin(key)]
	for {
		for i := range b.entries {
			e := &b.entries[i]
			if e.occupied && e.key == key {
				val := e.val
				e.occupied = false
				o.count--
				return val, true
			}
		}
		if b.overflow == nil {
			return 0, false
		}
		b = b.overflow
	}
}

// Keys returns every live key, in bucket-then-chain order. There is no
// stronger ordering guarantee, matching clht's own non-goal of ordered
// iteration.
func (o *Oracle) Keys() []uint64 {
	keys := make([]uint64, 0, o.count)
	for i := range o.buckets {
		b := &o.buckets[i]
		for {
			for _, e := range b.entries {
				if e.occupied {
					keys = append(keys, e.key)
				}
			}
			if b.overflow == nil {
				break
			}
			b = b.overflow
		}
	}
	return keys
}
