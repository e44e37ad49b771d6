package region

import (
	"sync/atomic"
	"unsafe"

	"github.com/wippyai/wasm-sandbox/errors"
)

// Region is one isolated memory area. It is owned by at most one caller
// between Acquire and Release.
type Region struct {
	alloc      *Allocator
	mapping    []byte // guards included
	mem        []byte // reserved window
	committed  int
	guard      int
	generation atomic.Uint64
	owned      atomic.Bool
	entered    atomic.Bool
	entries    atomic.Uint64
}

// Base returns the address of the first byte of the reserved window.
func (r *Region) Base() uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(r.mem)))
}

// Size returns the size of the reserved window in bytes.
func (r *Region) Size() int {
	return len(r.mem)
}

// Committed returns the number of accessible bytes at the start of the window.
func (r *Region) Committed() int {
	return r.committed
}

// GuardSize returns the size of each guard.
func (r *Region) GuardSize() int {
	return r.guard
}

// Generation returns the ownership epoch. It increases every time the
// region is handed to a new owner.
func (r *Region) Generation() uint64 {
	return r.generation.Load()
}

// Entries returns how many times the region has been entered.
func (r *Region) Entries() uint64 {
	return r.entries.Load()
}

// Bytes returns the committed prefix of the reserved window. The slice is
// valid until the next Commit, Reset or Release.
func (r *Region) Bytes() []byte {
	return r.mem[:r.committed:r.committed]
}

// Window returns the whole reserved window. Bytes past Committed fault
// when touched on platforms with guard support.
func (r *Region) Window() []byte {
	return r.mem
}

// Commit makes the first n bytes of the window accessible, rounded up to
// the page size. Shrinking is not supported; use Reset.
func (r *Region) Commit(n int) error {
	if !r.owned.Load() {
		return errors.NotOwned(r.Generation())
	}
	if n <= r.committed {
		return nil
	}
	if n > len(r.mem) {
		return errors.New(errors.PhaseRegion, errors.KindOutOfMemory).
			Value(n).
			Detail("commit of %d bytes exceeds reserved %d", n, len(r.mem)).
			Build()
	}
	end := roundUp(n, r.alloc.pageSize)
	if end > len(r.mem) {
		end = len(r.mem)
	}
	if err := protect(r.mem[r.committed:end], true); err != nil {
		return errors.OutOfMemory(uint64(n), err)
	}
	r.committed = end
	return nil
}

// Reset discards the committed contents. After Reset the region has no
// committed bytes; the next Commit yields zero-filled memory.
func (r *Region) Reset() error {
	if !r.owned.Load() {
		return errors.NotOwned(r.Generation())
	}
	return r.decommit()
}

func (r *Region) decommit() error {
	if r.committed == 0 {
		return nil
	}
	if err := discard(r.mem[:r.committed]); err != nil {
		return errors.Wrap(errors.PhaseRegion, errors.KindInvalidState, err, "scrub region")
	}
	if err := protect(r.mem[:r.committed], false); err != nil {
		return errors.Wrap(errors.PhaseRegion, errors.KindInvalidState, err, "decommit region")
	}
	r.committed = 0
	return nil
}

// Enter marks the region as being executed against. A second Enter before
// Exit fails with an invalid_state error: a region is never visible to two
// executing callers at once.
func (r *Region) Enter() error {
	if !r.owned.Load() {
		return errors.NotOwned(r.Generation())
	}
	if !r.entered.CompareAndSwap(false, true) {
		return errors.New(errors.PhaseRegion, errors.KindInvalidState).
			Value(r.Generation()).
			Detail("region already entered").
			Build()
	}
	r.entries.Add(1)
	return nil
}

// Exit ends an Enter.
func (r *Region) Exit() {
	r.entered.Store(false)
}

// Entered reports whether the region is currently entered.
func (r *Region) Entered() bool {
	return r.entered.Load()
}

func roundUp(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}
