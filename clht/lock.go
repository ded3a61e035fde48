// Copyright (c) 2024 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package clht

import (
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// spinTriesBeforeBackoff is how many bare compare-and-swap attempts a
// waiter makes before it starts sleeping between attempts. Keeping a few
// tight spins up front avoids paying a timer's overhead for the common
// case where the head bucket's lock is held only for the handful of
// instructions put/remove need.
const spinTriesBeforeBackoff = 64

// lockAcquire spins on word until it can flip it 0 -> 1, per spec.md §5:
// exactly one lock held at a time, unconditionally blocking (no
// cancellation). After the initial tight-spin budget it backs off
// exponentially instead of hammering the cache line, capped low enough
// that a bucket released promptly is still picked up in well under a
// millisecond.
func lockAcquire(word *uint64) {
	for i := 0; i < spinTriesBeforeBackoff; i++ {
		if atomic.CompareAndSwapUint64(word, 0, 1) {
			return
		}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 1 * time.Microsecond
	b.MaxInterval = 200 * time.Microsecond
	b.MaxElapsedTime = 0 // never give up: put/remove have no cancellation point
	for {
		if atomic.CompareAndSwapUint64(word, 0, 1) {
			return
		}
		time.Sleep(b.NextBackOff())
	}
}

// lockRelease is a release-ordered store of the lock word back to free.
func lockRelease(word *uint64) {
	atomic.StoreUint64(word, 0)
}
