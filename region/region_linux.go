// Copyright (c) 2024 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

//go:build linux

package region

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/aristanetworks/shmclht/logger"
)

// mapPlatform maps path's first l.Total() bytes with MAP_SHARED_VALIDATE|
// MAP_SYNC when the kernel and filesystem support it (devdax, or any
// MAP_SYNC-capable DAX-backed fs), falling back to a plain MAP_SHARED
// mapping for regular files used in development and tests. The comm page
// and table arena are then re-mapped MAP_FIXED at their deterministic
// offsets, exactly as clht_mmap_cxl does in the original sources, so every
// attaching process sees them at the same relative address.
func mapPlatform(log logger.Logger, path string, l Layout) (*Region, error) {
	fd, err := unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	defer unix.Close(fd)

	size := uintptr(l.Total())
	base, err := mmapAt(0, size, unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_SHARED_VALIDATE|unix.MAP_SYNC, fd, 0)
	if err != nil {
		log.Infof("region: MAP_SYNC mapping unavailable (%v), falling back to MAP_SHARED", err)
		base, err = mmapAt(0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED, fd, 0)
		if err != nil {
			return nil, fmt.Errorf("mmap base: %w", err)
		}
	}

	commOff := uintptr(l.AllocArenaSize)
	commLen := uintptr(l.CommSize)
	if _, err := mmapAt(base+commOff, commLen, unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_SHARED|unix.MAP_FIXED, fd, int64(commOff)); err != nil {
		munmap(base, size)
		return nil, fmt.Errorf("mmap comm page: %w", err)
	}

	tableOff := uintptr(l.AllocArenaSize + l.CommSize)
	tableLen := uintptr(l.TableSize)
	if _, err := mmapAt(base+tableOff, tableLen, unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_SHARED|unix.MAP_FIXED, fd, int64(tableOff)); err != nil {
		munmap(base, size)
		return nil, fmt.Errorf("mmap table arena: %w", err)
	}

	r := &Region{
		Layout:     l,
		AllocArena: bytesAt(base, l.AllocArenaSize),
		CoordPage:  bytesAt(base+commOff, l.CommSize),
		TableArena: bytesAt(base+tableOff, l.TableSize),
	}
	r.closer = func() error {
		return munmap(base, size)
	}
	return r, nil
}

// mmapAt issues the mmap(2) syscall directly (rather than through
// golang.org/x/sys/unix.Mmap, which always passes addr=0) so that the
// comm page and table arena can be remapped MAP_FIXED at a deterministic
// offset from the base mapping.
func mmapAt(addr, length uintptr, prot, flags, fd int, offset int64) (uintptr, error) {
	r1, _, errno := unix.Syscall6(unix.SYS_MMAP, addr, length,
		uintptr(prot), uintptr(flags), uintptr(fd), uintptr(offset))
	if errno != 0 {
		return 0, errno
	}
	return r1, nil
}

func munmap(addr, length uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_MUNMAP, addr, length, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

func bytesAt(addr uintptr, size uint64) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)
}
