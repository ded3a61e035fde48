// Copyright (c) 2024 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package threadreg implements the thread registration hook required
// before any clht operation, per spec.md §4.5. Every thread (goroutine,
// in the Go rendition) that will call into a Handle must call Init
// exactly once with a dense, process-unique id before its first
// operation; operating on the table without registering is undefined
// behavior, matching the original's thread_init/thread_id contract.
//
// Registration exists to bind per-thread reclamation state. Memory
// reclamation is out of scope for the no-resize core (spec.md §4.5,
// §4.4.7, §5's "Memory reclamation" bullet), so Init's hook is a no-op
// today; the registry still tracks live registrations so debug builds
// can catch a missing or double Init instead of silently corrupting
// shared state.
package threadreg

import (
	"fmt"
	"sync"
)

// Registry tracks which thread ids have called Init, scoped to one
// process's attachment to a table. It is the Go analogue of the
// per-process thread-local array the original keeps: Go has no
// first-class thread-local storage, and goroutines are not threads, so
// registration here is keyed explicitly by the caller-assigned id
// rather than inferred from the runtime.
type Registry struct {
	mu   sync.Mutex
	seen map[uint64]bool
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{seen: make(map[uint64]bool)}
}

// Init registers threadID for use with the table this Registry guards.
// It must be called exactly once per thread id before that thread
// performs any get/put/remove; calling it twice for the same id is a
// caller bug and returns an error rather than silently succeeding, so
// debug/test builds surface the mistake instead of masking it.
func (r *Registry) Init(threadID uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seen[threadID] {
		return fmt.Errorf("threadreg: thread %d already registered", threadID)
	}
	r.seen[threadID] = true
	return nil
}

// Registered reports whether threadID has called Init. Operations
// package does not call this on the hot path — per spec.md, an
// unregistered call is undefined behavior, not a checked error — but
// tests and debug tooling use it to catch missing registration early.
func (r *Registry) Registered(threadID uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seen[threadID]
}

// Forget releases threadID's registration, e.g. when a worker goroutine
// exits and its id may be reused by a later one.
func (r *Registry) Forget(threadID uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.seen, threadID)
}

// Count returns the number of currently registered thread ids.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seen)
}
