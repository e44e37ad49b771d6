//go:build unix

package region

import (
	"golang.org/x/sys/unix"
)

const hasGuards = true

// maxReserve caps a single reservation at 8 GiB, enough for a full 32-bit
// address space plus offsets.
const maxReserve = 8 << 30

func pageSize() int {
	return unix.Getpagesize()
}

// reserve maps size bytes with no access rights.
func reserve(size int) ([]byte, error) {
	if size <= 0 {
		return nil, unix.EINVAL
	}
	return unix.Mmap(-1, 0, size, unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANON)
}

func protect(b []byte, rw bool) error {
	if len(b) == 0 {
		return nil
	}
	prot := unix.PROT_NONE
	if rw {
		prot = unix.PROT_READ | unix.PROT_WRITE
	}
	return unix.Mprotect(b, prot)
}

func unmap(b []byte) error {
	if b == nil {
		return nil
	}
	return unix.Munmap(b)
}
