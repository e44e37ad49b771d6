//go:build unix && !linux

package region

import "golang.org/x/sys/unix"

// discard zeroes b before releasing its pages, since MADV_DONTNEED does not
// guarantee zero-fill outside Linux.
func discard(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	clear(b)
	return unix.Madvise(b, unix.MADV_DONTNEED)
}
