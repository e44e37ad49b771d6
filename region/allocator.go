package region

import (
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-sandbox/errors"
)

// Default allocator limits.
const (
	DefaultGuardSize       = 64 << 10
	DefaultMaxRegions      = 1024
	DefaultMaxPoolPerClass = 64
)

// Config configures an Allocator. Zero fields take the defaults.
type Config struct {
	// GuardSize is the size of the guard on each side of a region. It is
	// rounded up to the page size.
	GuardSize int

	// MaxRegions bounds the number of regions owned at once. Acquire fails
	// with an out_of_memory error beyond it.
	MaxRegions int

	// MaxPoolPerClass bounds how many released regions of one size are kept
	// mapped for reuse. Zero means DefaultMaxPoolPerClass; a negative value
	// disables pooling.
	MaxPoolPerClass int

	// Observer receives acquire and release events. May be nil.
	Observer Observer

	Logger *zap.Logger
}

// Observer is notified of pool activity.
type Observer interface {
	RegionAcquired(size int, reused bool)
	RegionReleased(size int)
}

// Stats is a snapshot of allocator counters.
type Stats struct {
	Live     int    // regions currently owned
	Pooled   int    // released regions kept for reuse
	Acquired uint64 // successful acquisitions
	Reused   uint64 // acquisitions served from the pool
	Mapped   uint64 // fresh mappings created
	Unmapped uint64 // mappings returned to the OS
	Failed   uint64 // acquisitions that failed
}

// Allocator hands out regions. It is safe for concurrent use; the pool is
// the only state it shares between callers.
type Allocator struct {
	mu       sync.Mutex
	cfg      Config
	logger   *zap.Logger
	pageSize int
	pools    map[int][]*Region // reserved size -> LIFO free list
	stats    Stats
	closed   bool
}

// New creates an allocator.
func New(cfg Config) *Allocator {
	ps := pageSize()
	if cfg.GuardSize <= 0 {
		cfg.GuardSize = DefaultGuardSize
	}
	cfg.GuardSize = roundUp(cfg.GuardSize, ps)
	if cfg.MaxRegions <= 0 {
		cfg.MaxRegions = DefaultMaxRegions
	}
	if cfg.MaxPoolPerClass < 0 {
		cfg.MaxPoolPerClass = 0
	} else if cfg.MaxPoolPerClass == 0 {
		cfg.MaxPoolPerClass = DefaultMaxPoolPerClass
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Allocator{
		cfg:      cfg,
		logger:   logger.Named("region"),
		pageSize: ps,
		pools:    make(map[int][]*Region),
	}
}

// PageSize returns the allocation granularity.
func (a *Allocator) PageSize() int {
	return a.pageSize
}

// Acquire returns a region whose reserved window holds at least size
// bytes. Nothing is committed yet. The most recently released region of
// the same rounded size is reused when available.
func (a *Allocator) Acquire(size uint64) (*Region, error) {
	if size == 0 {
		size = uint64(a.pageSize)
	}
	if size > uint64(maxReserve) {
		a.recordFailure()
		return nil, errors.OutOfMemory(size, nil)
	}
	reserved := roundUp(int(size), a.pageSize)

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil, errors.Closed(errors.PhaseRegion, "allocator")
	}
	if a.stats.Live >= a.cfg.MaxRegions {
		a.stats.Failed++
		a.mu.Unlock()
		return nil, errors.New(errors.PhaseRegion, errors.KindOutOfMemory).
			Value(size).
			Detail("%d regions already live", a.cfg.MaxRegions).
			Build()
	}
	a.stats.Live++
	var r *Region
	if free := a.pools[reserved]; len(free) > 0 {
		r = free[len(free)-1]
		free[len(free)-1] = nil
		a.pools[reserved] = free[:len(free)-1]
		a.stats.Pooled--
		a.stats.Reused++
	}
	a.mu.Unlock()

	reused := r != nil
	if r == nil {
		var err error
		r, err = a.mapRegion(reserved)
		if err != nil {
			a.mu.Lock()
			a.stats.Live--
			a.stats.Failed++
			a.mu.Unlock()
			return nil, errors.OutOfMemory(size, err)
		}
	}

	r.owned.Store(true)
	r.generation.Add(1)

	a.mu.Lock()
	a.stats.Acquired++
	a.mu.Unlock()

	if a.cfg.Observer != nil {
		a.cfg.Observer.RegionAcquired(reserved, reused)
	}
	return r, nil
}

func (a *Allocator) mapRegion(reserved int) (*Region, error) {
	guard := a.cfg.GuardSize
	if !hasGuards {
		guard = 0
	}
	mapping, err := reserve(guard + reserved + guard)
	if err != nil {
		return nil, err
	}
	r := &Region{
		alloc:   a,
		mapping: mapping,
		mem:     mapping[guard : guard+reserved : guard+reserved],
		guard:   guard,
	}

	a.mu.Lock()
	a.stats.Mapped++
	a.mu.Unlock()

	a.logger.Debug("mapped region",
		zap.Int("reserved", reserved),
		zap.Int("guard", guard))
	return r, nil
}

// Release returns a region to the pool. Its contents are discarded and
// its ownership ends; releasing a region that is not owned fails with
// not_owned.
func (a *Allocator) Release(r *Region) error {
	if r == nil || r.alloc != a {
		return errors.NotOwned(0)
	}
	if r.entered.Load() {
		return errors.InvalidState(errors.PhaseRegion, "release", "entered")
	}
	if !r.owned.CompareAndSwap(true, false) {
		return errors.NotOwned(r.Generation())
	}

	scrubErr := r.decommit()
	size := len(r.mem)

	a.mu.Lock()
	a.stats.Live--
	keep := scrubErr == nil && !a.closed && len(a.pools[size]) < a.cfg.MaxPoolPerClass
	if keep {
		a.pools[size] = append(a.pools[size], r)
		a.stats.Pooled++
	} else {
		a.stats.Unmapped++
	}
	a.mu.Unlock()

	if !keep {
		if err := unmap(r.mapping); err != nil {
			a.logger.Warn("unmap region", zap.Error(err))
		}
		r.mapping, r.mem = nil, nil
	}
	if a.cfg.Observer != nil {
		a.cfg.Observer.RegionReleased(size)
	}
	return scrubErr
}

// Stats returns a snapshot of the allocator counters.
func (a *Allocator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

// Close unmaps pooled regions. Regions still owned are unmapped when
// released. Acquire fails after Close.
func (a *Allocator) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	pools := a.pools
	a.pools = make(map[int][]*Region)
	a.stats.Pooled = 0
	live := a.stats.Live
	a.mu.Unlock()

	var firstErr error
	var n uint64
	for _, free := range pools {
		for _, r := range free {
			if err := unmap(r.mapping); err != nil && firstErr == nil {
				firstErr = err
			}
			r.mapping, r.mem = nil, nil
			n++
		}
	}

	a.mu.Lock()
	a.stats.Unmapped += n
	a.mu.Unlock()

	if live > 0 {
		a.logger.Warn("allocator closed with live regions", zap.Int("live", live))
	}
	return firstErr
}

func (a *Allocator) recordFailure() {
	a.mu.Lock()
	a.stats.Failed++
	a.mu.Unlock()
}
