package region

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/wasm-sandbox/errors"
)

func newTestAllocator(t *testing.T, cfg Config) *Allocator {
	t.Helper()
	a := New(cfg)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestAcquireRoundsToPageSize(t *testing.T) {
	a := newTestAllocator(t, Config{})
	ps := a.PageSize()

	r, err := a.Acquire(uint64(ps) + 1)
	require.NoError(t, err)
	defer a.Release(r)

	assert.Equal(t, 2*ps, r.Size())
	assert.Equal(t, 0, r.Committed())
	assert.Equal(t, uint64(1), r.Generation())
	assert.Empty(t, r.Bytes())
	if hasGuards {
		assert.Equal(t, DefaultGuardSize, r.GuardSize())
		assert.Len(t, r.mapping, 2*ps+2*DefaultGuardSize)
	}
}

func TestCommitAndReset(t *testing.T) {
	a := newTestAllocator(t, Config{})
	ps := a.PageSize()

	r, err := a.Acquire(uint64(4 * ps))
	require.NoError(t, err)
	defer a.Release(r)

	require.NoError(t, r.Commit(10))
	assert.Equal(t, ps, r.Committed())

	b := r.Bytes()
	for i := range b {
		b[i] = 0xAB
	}

	require.NoError(t, r.Commit(3*ps))
	assert.Equal(t, 3*ps, r.Committed())
	assert.Equal(t, byte(0xAB), r.Bytes()[ps-1])
	assert.Equal(t, byte(0), r.Bytes()[ps])

	err = r.Commit(5 * ps)
	assert.True(t, errors.IsKind(err, errors.KindOutOfMemory), "got %v", err)

	require.NoError(t, r.Reset())
	assert.Equal(t, 0, r.Committed())
	require.NoError(t, r.Commit(ps))
	assert.Equal(t, byte(0), r.Bytes()[0], "reset must zero-fill")
}

func TestReleaseReusesMostRecent(t *testing.T) {
	a := newTestAllocator(t, Config{})
	size := uint64(a.PageSize())

	first, err := a.Acquire(size)
	require.NoError(t, err)
	second, err := a.Acquire(size)
	require.NoError(t, err)
	assert.NotEqual(t, first.Base(), second.Base())

	require.NoError(t, first.Commit(1))
	first.Bytes()[0] = 7

	require.NoError(t, a.Release(first))
	require.NoError(t, a.Release(second))

	got, err := a.Acquire(size)
	require.NoError(t, err)
	assert.Same(t, second, got, "LIFO reuse")
	assert.Equal(t, uint64(2), got.Generation())

	again, err := a.Acquire(size)
	require.NoError(t, err)
	assert.Same(t, first, again)
	require.NoError(t, again.Commit(1))
	assert.Equal(t, byte(0), again.Bytes()[0], "reused region must not leak contents")

	stats := a.Stats()
	assert.Equal(t, 2, stats.Live)
	assert.Equal(t, uint64(4), stats.Acquired)
	assert.Equal(t, uint64(2), stats.Reused)
	assert.Equal(t, uint64(2), stats.Mapped)

	require.NoError(t, a.Release(got))
	require.NoError(t, a.Release(again))
}

func TestDifferentSizesDoNotShareClass(t *testing.T) {
	a := newTestAllocator(t, Config{})
	ps := uint64(a.PageSize())

	small, err := a.Acquire(ps)
	require.NoError(t, err)
	require.NoError(t, a.Release(small))

	big, err := a.Acquire(2 * ps)
	require.NoError(t, err)
	defer a.Release(big)
	assert.NotSame(t, small, big)
}

func TestDoubleReleaseIsNotOwned(t *testing.T) {
	a := newTestAllocator(t, Config{})
	r, err := a.Acquire(1)
	require.NoError(t, err)
	require.NoError(t, a.Release(r))

	err = a.Release(r)
	assert.ErrorIs(t, err, errors.ErrNotOwned)

	other := newTestAllocator(t, Config{})
	r2, err := other.Acquire(1)
	require.NoError(t, err)
	assert.ErrorIs(t, a.Release(r2), errors.ErrNotOwned)
	require.NoError(t, other.Release(r2))

	assert.ErrorIs(t, r.Commit(1), errors.ErrNotOwned)
	assert.ErrorIs(t, r.Enter(), errors.ErrNotOwned)
}

func TestMaxRegionsOutOfMemory(t *testing.T) {
	a := newTestAllocator(t, Config{MaxRegions: 2})

	r1, err := a.Acquire(1)
	require.NoError(t, err)
	r2, err := a.Acquire(1)
	require.NoError(t, err)

	_, err = a.Acquire(1)
	require.ErrorIs(t, err, errors.ErrOutOfMemory)
	assert.Equal(t, 2, a.Stats().Live, "failed acquire must leave nothing claimed")
	assert.Equal(t, uint64(1), a.Stats().Failed)

	require.NoError(t, a.Release(r1))
	r3, err := a.Acquire(1)
	require.NoError(t, err)

	require.NoError(t, a.Release(r2))
	require.NoError(t, a.Release(r3))
}

func TestAcquireTooLarge(t *testing.T) {
	a := newTestAllocator(t, Config{})
	_, err := a.Acquire(1 << 62)
	assert.ErrorIs(t, err, errors.ErrOutOfMemory)
	assert.Equal(t, 0, a.Stats().Live)
}

func TestPoolCapUnmapsExcess(t *testing.T) {
	a := newTestAllocator(t, Config{MaxPoolPerClass: 1})
	r1, err := a.Acquire(1)
	require.NoError(t, err)
	r2, err := a.Acquire(1)
	require.NoError(t, err)

	require.NoError(t, a.Release(r1))
	require.NoError(t, a.Release(r2))

	stats := a.Stats()
	assert.Equal(t, 1, stats.Pooled)
	assert.Equal(t, uint64(1), stats.Unmapped)
}

func TestNegativePoolCapDisablesPooling(t *testing.T) {
	a := newTestAllocator(t, Config{MaxPoolPerClass: -1})
	r, err := a.Acquire(1)
	require.NoError(t, err)
	require.NoError(t, a.Release(r))

	r2, err := a.Acquire(1)
	require.NoError(t, err)
	require.NoError(t, a.Release(r2))

	stats := a.Stats()
	assert.Equal(t, 0, stats.Pooled)
	assert.Equal(t, uint64(0), stats.Reused)
	assert.Equal(t, uint64(2), stats.Unmapped)
}

func TestEnterIsExclusive(t *testing.T) {
	a := newTestAllocator(t, Config{})
	r, err := a.Acquire(1)
	require.NoError(t, err)
	defer a.Release(r)

	require.NoError(t, r.Enter())
	assert.True(t, r.Entered())
	assert.ErrorIs(t, r.Enter(), errors.ErrInvalidState)
	assert.ErrorIs(t, a.Release(r), errors.ErrInvalidState, "cannot release while entered")
	r.Exit()
	require.NoError(t, r.Enter())
	r.Exit()
	assert.Equal(t, uint64(2), r.Entries())
}

func TestCloseRejectsAcquire(t *testing.T) {
	a := New(Config{})
	r, err := a.Acquire(1)
	require.NoError(t, err)
	require.NoError(t, a.Release(r))

	require.NoError(t, a.Close())
	assert.Equal(t, 0, a.Stats().Pooled)

	_, err = a.Acquire(1)
	assert.ErrorIs(t, err, errors.ErrClosed)
	require.NoError(t, a.Close())
}

type countingObserver struct {
	mu       sync.Mutex
	acquired int
	reused   int
	released int
}

func (o *countingObserver) RegionAcquired(_ int, reused bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.acquired++
	if reused {
		o.reused++
	}
}

func (o *countingObserver) RegionReleased(int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.released++
}

func TestObserver(t *testing.T) {
	obs := &countingObserver{}
	a := newTestAllocator(t, Config{Observer: obs})

	for i := 0; i < 3; i++ {
		r, err := a.Acquire(1)
		require.NoError(t, err)
		require.NoError(t, a.Release(r))
	}
	assert.Equal(t, 3, obs.acquired)
	assert.Equal(t, 2, obs.reused)
	assert.Equal(t, 3, obs.released)
}

// Workers hammer a small pool; every region a worker holds must be visible
// to it alone, and live regions must never overlap.
func TestConcurrentAcquireRelease(t *testing.T) {
	const workers = 8
	const rounds = 200

	a := newTestAllocator(t, Config{MaxPoolPerClass: 4})
	ps := a.PageSize()

	var mu sync.Mutex
	live := make(map[uintptr]int) // base -> worker

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				r, err := a.Acquire(uint64(ps))
				if !assert.NoError(t, err) {
					return
				}

				mu.Lock()
				for base := range live {
					if base < r.Base()+uintptr(r.Size()) && r.Base() < base+uintptr(ps) {
						t.Errorf("worker %d got region overlapping one held by worker %d", id, live[base])
					}
				}
				live[r.Base()] = id
				mu.Unlock()

				gen := r.Generation()
				if !assert.NoError(t, r.Enter()) {
					return
				}
				assert.NoError(t, r.Commit(ps))
				b := r.Bytes()
				for j := range b {
					b[j] = byte(id)
				}
				for j := range b {
					if b[j] != byte(id) {
						t.Errorf("worker %d saw foreign byte %d", id, b[j])
						break
					}
				}
				assert.Equal(t, gen, r.Generation(), "generation changed while owned")
				r.Exit()

				mu.Lock()
				delete(live, r.Base())
				mu.Unlock()
				assert.NoError(t, a.Release(r))
			}
		}(w)
	}
	wg.Wait()

	stats := a.Stats()
	assert.Equal(t, 0, stats.Live)
	assert.Equal(t, uint64(workers*rounds), stats.Acquired)
}
