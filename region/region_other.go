// Copyright (c) 2024 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

//go:build !linux

package region

import (
	"fmt"
	"runtime"

	"github.com/aristanetworks/shmclht/logger"
)

// mapPlatform is unimplemented outside Linux: devdax and MAP_SYNC mappings
// are Linux-specific, and this package does not attempt a degraded mmap
// path on other kernels.
func mapPlatform(log logger.Logger, path string, l Layout) (*Region, error) {
	return nil, fmt.Errorf("region: shared-memory mapping is not supported on %s", runtime.GOOS)
}
