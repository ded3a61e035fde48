// Copyright (c) 2024 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Command clhtbench is a Go reimplementation of bmarks/simple.cpp and
// bmarks/randuration.cpp: it attaches a CLHT-LB-NO-RESIZE table over
// shared memory, loads a disjoint range of keys, and then either
// verifies them back (the original's default "-s"-less run) or runs a
// seeded-random put/get/remove mix for a fixed duration (-d, supplementing
// randuration.cpp's behavior).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/aristanetworks/glog"

	glogger "github.com/aristanetworks/shmclht/glog"
	"github.com/aristanetworks/shmclht/logger"
	"github.com/aristanetworks/shmclht/monitor"
	"github.com/aristanetworks/shmclht/shmclht"
	"github.com/aristanetworks/shmclht/sync/semaphore"
)

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: clhtbench -i NODE_ID -b NUM_BUCKETS -k NUM_KEYS -t NUM_THREADS [-s] [-d DURATION] [-config FILE] [-path DEVICE] [-listen ADDR]`)
	flag.PrintDefaults()
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("clhtbench", flag.ContinueOnError)
	fs.Usage = usage

	configPath := fs.String("config", "", "optional YAML workload config; flags below override its fields")
	nodeID := fs.Int("i", -1, "node id (required)")
	numBuckets := fs.Uint64("b", 0, "number of primary buckets, must be a power of two")
	numKeys := fs.Uint64("k", 0, "number of keys to load")
	numThreads := fs.Int("t", 0, "number of worker goroutines")
	loadOnly := fs.Bool("s", false, "load only, then exit (no verification/run phase)")
	duration := fs.Duration("d", 0, "if set, run a timed put/get/remove mix instead of a verification pass")
	path := fs.String("path", "", "backing DAX device or file path (overrides CXL_PATH)")
	listen := fs.String("listen", "", "if set, serve /metrics and /debug on this address")
	forceInit := fs.Bool("force-init", false, "zero the region before attaching (first run on a fresh device)")
	glogV := fs.Int("glog-v", -1, "if set, log through github.com/aristanetworks/glog at this verbosity instead of the default logger")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	if *nodeID != -1 {
		cfg.NodeID = *nodeID
	}
	if *numBuckets != 0 {
		cfg.NumBuckets = *numBuckets
	}
	if *numKeys != 0 {
		cfg.NumKeys = *numKeys
	}
	if *numThreads != 0 {
		cfg.NumThreads = *numThreads
	}
	if *loadOnly {
		cfg.LoadOnly = true
	}
	if *duration != 0 {
		cfg.Duration = *duration
	}
	if *path != "" {
		cfg.Path = *path
	}
	if *listen != "" {
		cfg.Listen = *listen
	}

	if err := cfg.validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		usage()
		return 1
	}

	var log logger.Logger = logger.Std
	if *glogV != -1 {
		log = &glogger.Glog{InfoLevel: glog.Level(*glogV)}
	}
	m := newMetrics()

	if cfg.Listen != "" {
		srv := monitor.NewMonitorServerWithRegistry(cfg.Listen, m.registry)
		go srv.Run()
		log.Infof("[%d] serving metrics on %s", cfg.NodeID, cfg.Listen)
	}

	h, err := shmclht.Attach(log, cfg.NodeID, *forceInit, cfg.NumBuckets, shmclht.Option{Path: cfg.Path})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer h.Detach(false)

	keys := keysFor(cfg.NodeID, cfg.NumKeys)
	sem := semaphore.NewWeighted(int64(cfg.NumThreads))
	ctx := context.Background()

	if _, err := loadPhase(ctx, log, h.Table(), h.Thread, sem, cfg, keys, m); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	if cfg.LoadOnly {
		return 0
	}

	if cfg.Duration > 0 {
		if _, err := durationRunPhase(ctx, log, h.Table(), sem, cfg, keys, m); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
	} else {
		if _, err := verifyPhase(ctx, log, h.Table(), sem, cfg, keys, m); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
	}

	if cfg.Listen != "" {
		// give in-flight scrapes a moment before the process tears down
		// its region mapping.
		time.Sleep(200 * time.Millisecond)
	}
	return 0
}
