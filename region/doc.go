// Package region manages isolated linear-memory regions for sandbox instances.
//
// Each region is one anonymous mapping laid out as
//
//	[guard][reserved][guard]
//
// where both guards and the uncommitted tail of the reserved window are
// mapped without access. Commit makes a prefix of the reserved window
// readable and writable; everything past it faults on the host side, so a
// stray access can never land in another region.
//
// The Allocator pools released regions per size class and hands the most
// recently released one back first. Released regions are decommitted, which
// zero-fills their pages before the next owner sees them.
//
// On platforms without mmap the allocator falls back to heap slices with no
// guard pages.
package region
