//go:build !unix

package region

import "os"

const hasGuards = false

const maxReserve = 1 << 30

func pageSize() int {
	return os.Getpagesize()
}

// reserve allocates from the heap. There are no guard pages here; bounds
// are enforced by the engine alone.
func reserve(size int) ([]byte, error) {
	return make([]byte, size), nil
}

func protect([]byte, bool) error {
	return nil
}

func discard(b []byte) error {
	clear(b)
	return nil
}

func unmap([]byte) error {
	return nil
}
