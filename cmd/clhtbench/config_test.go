// Copyright (c) 2024 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfigRejectsMissingNodeID(t *testing.T) {
	c := defaultConfig()
	c.NumBuckets, c.NumKeys, c.NumThreads = 8, 100, 4
	if err := c.validate(); err == nil {
		t.Fatal("validate() with no node id = nil, want error")
	}
}

func TestValidateRejectsFewerKeysThanThreads(t *testing.T) {
	c := defaultConfig()
	c.NodeID = 0
	c.NumBuckets = 8
	c.NumKeys = 2
	c.NumThreads = 4
	if err := c.validate(); err == nil {
		t.Fatal("validate() with num_keys < num_threads = nil, want error")
	}
}

func TestLoadConfigYAMLOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bench.yaml")
	yamlBody := "node_id: 2\nnum_buckets: 64\nnum_keys: 1000\nnum_threads: 8\nmix_put: 2\n"
	if err := os.WriteFile(path, []byte(yamlBody), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	c, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig() = %v, want nil", err)
	}
	if c.NodeID != 2 || c.NumBuckets != 64 || c.NumKeys != 1000 || c.NumThreads != 8 {
		t.Fatalf("loadConfig() = %+v, fields not overlaid from YAML", c)
	}
	if c.MixPut != 2 {
		t.Fatalf("MixPut = %d, want 2 (overridden)", c.MixPut)
	}
	if c.MixGet != 8 || c.MixRemove != 1 {
		t.Fatalf("MixGet/MixRemove = %d/%d, want defaults 8/1 preserved", c.MixGet, c.MixRemove)
	}
	if err := c.validate(); err != nil {
		t.Fatalf("validate() = %v, want nil", err)
	}
}

func TestLoadConfigEmptyPathReturnsDefaults(t *testing.T) {
	c, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig(\"\") = %v, want nil", err)
	}
	if c.NodeID != -1 {
		t.Fatalf("NodeID = %d, want -1 sentinel", c.NodeID)
	}
}

func TestKeysForDisjointAcrossNodes(t *testing.T) {
	a := keysFor(0, 10)
	b := keysFor(1, 10)
	seen := map[uint64]bool{}
	for _, k := range a {
		seen[k] = true
	}
	for _, k := range b {
		if seen[k] {
			t.Fatalf("key %d present in both node 0 and node 1 ranges", k)
		}
	}
}
