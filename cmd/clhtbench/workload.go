// Copyright (c) 2024 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package main

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/exp/rand"
	"golang.org/x/sync/errgroup"

	"github.com/aristanetworks/shmclht/clht"
	"github.com/aristanetworks/shmclht/logger"
	"github.com/aristanetworks/shmclht/sync/semaphore"
	"github.com/aristanetworks/shmclht/threadreg"
)

// keysFor reproduces bmarks/simple.cpp's key generation: a dense,
// per-node-disjoint range so concurrently attached benchmark processes
// never collide on the same key.
func keysFor(nodeID int, numKeys uint64) []uint64 {
	keys := make([]uint64, numKeys)
	for i := range keys {
		keys[i] = uint64(i) + uint64(nodeID+1)*numKeys + 1
	}
	return keys
}

// fanOut runs work (one call per thread id in [0, numThreads)) across
// numThreads goroutines, admitting at most sem's capacity at once (run
// sizes sem to -t, so every worker is admitted; the count is not capped
// at the host's parallelism), and joined through an errgroup the
// way errgroup.Group replaces the original's std::thread + pthread_barrier
// pairing (every goroutine returning is this package's barrier).
func fanOut(ctx context.Context, sem *semaphore.Weighted, numThreads int, work func(threadID int) error) error {
	g, ctx := errgroup.WithContext(ctx)
	for t := 0; t < numThreads; t++ {
		t := t
		if err := sem.Acquire(ctx, 1); err != nil {
			return err
		}
		g.Go(func() error {
			defer sem.Release(1)
			return work(t)
		})
	}
	return g.Wait()
}

// loadPhase mirrors bmarks/simple.cpp's Load block: each thread registers
// itself, then puts its disjoint slice of the key range.
func loadPhase(ctx context.Context, log logger.Logger, table *clht.Handle, thread *threadreg.Registry, sem *semaphore.Weighted, cfg config, keys []uint64, m *metrics) (time.Duration, error) {
	start := time.Now()
	perThread := cfg.NumKeys / uint64(cfg.NumThreads)

	err := fanOut(ctx, sem, cfg.NumThreads, func(threadID int) error {
		if err := thread.Init(uint64(threadID)); err != nil {
			return err
		}
		from := perThread * uint64(threadID)
		to := from + perThread
		if threadID == cfg.NumThreads-1 {
			to = cfg.NumKeys
		}
		for i := from; i < to; i++ {
			opStart := time.Now()
			if _, err := table.Put(keys[i], keys[i]); err != nil {
				return fmt.Errorf("clhtbench: load thread %d: %w", threadID, err)
			}
			m.observe("put", opStart)
		}
		return nil
	})
	d := time.Since(start)
	if err != nil {
		return d, err
	}
	log.Infof("[%d] Throughput: load, %f ops/us", cfg.NodeID, float64(cfg.NumKeys)/float64(d.Microseconds()))
	m.recordPhase("load", d)
	return d, nil
}

// verifyPhase mirrors bmarks/simple.cpp's Run block: each thread reads
// back its slice of the key range and fails loud on any mismatch, since
// every key was put with val == key.
func verifyPhase(ctx context.Context, log logger.Logger, table *clht.Handle, sem *semaphore.Weighted, cfg config, keys []uint64, m *metrics) (time.Duration, error) {
	start := time.Now()
	perThread := cfg.NumKeys / uint64(cfg.NumThreads)

	err := fanOut(ctx, sem, cfg.NumThreads, func(threadID int) error {
		from := perThread * uint64(threadID)
		to := from + perThread
		if threadID == cfg.NumThreads-1 {
			to = cfg.NumKeys
		}
		for i := from; i < to; i++ {
			opStart := time.Now()
			got := table.Get(keys[i])
			m.observe("get", opStart)
			if got != keys[i] {
				return fmt.Errorf("clhtbench: wrong value for key %d: got %d, want %d", keys[i], got, keys[i])
			}
		}
		return nil
	})
	d := time.Since(start)
	if err != nil {
		return d, err
	}
	log.Infof("[%d] Throughput: run, %f ops/us", cfg.NodeID, float64(cfg.NumKeys)/float64(d.Microseconds()))
	m.recordPhase("verify", d)
	return d, nil
}

// durationRunPhase supplements randuration.cpp: instead of a single
// verification pass over a fixed key range, each thread runs a
// seeded-random mix of put/get/remove against the shared key range for
// cfg.Duration, reporting an ops/us throughput figure.
func durationRunPhase(ctx context.Context, log logger.Logger, table *clht.Handle, sem *semaphore.Weighted, cfg config, keys []uint64, m *metrics) (time.Duration, error) {
	deadline := time.Now().Add(cfg.Duration)
	var total int64

	err := fanOut(ctx, sem, cfg.NumThreads, func(threadID int) error {
		rng := rand.New(rand.NewSource(uint64(cfg.Seed) + uint64(threadID)))
		mixTotal := cfg.MixPut + cfg.MixGet + cfg.MixRemove
		var n int64
		for time.Now().Before(deadline) {
			key := keys[rng.Intn(len(keys))]
			roll := rng.Intn(mixTotal)
			opStart := time.Now()
			switch {
			case roll < cfg.MixPut:
				table.Put(key, key)
				m.observe("put", opStart)
			case roll < cfg.MixPut+cfg.MixGet:
				table.Get(key)
				m.observe("get", opStart)
			default:
				table.Remove(key)
				m.observe("remove", opStart)
			}
			n++
		}
		atomic.AddInt64(&total, n)
		return nil
	})
	if err != nil {
		return cfg.Duration, err
	}
	log.Infof("[%d] Throughput: run, %f ops/us", cfg.NodeID,
		float64(atomic.LoadInt64(&total))/float64(cfg.Duration.Microseconds()))
	m.recordPhase("run", cfg.Duration)
	return cfg.Duration, nil
}
