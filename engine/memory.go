package engine

import (
	"github.com/tetratelabs/wazero/experimental"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-sandbox/region"
)

// regionAllocator places a wazero linear memory inside reg. The memory
// never moves: growth commits more of the reserved window, and growth
// past the window fails the way memory.grow reports it, with -1.
func regionAllocator(reg *region.Region) experimental.MemoryAllocator {
	return experimental.MemoryAllocatorFunc(func(_, max uint64) experimental.LinearMemory {
		return &regionMemory{reg: reg, max: max}
	})
}

type regionMemory struct {
	reg *region.Region
	max uint64
}

// Reallocate implements experimental.LinearMemory. The returned slice is
// capped at size so that wazero's bounds checks stop at the committed
// prefix.
func (m *regionMemory) Reallocate(size uint64) []byte {
	if size > m.max || size > uint64(m.reg.Size()) {
		return nil
	}
	if err := m.reg.Commit(int(size)); err != nil {
		Logger().Warn("region commit failed", zap.Error(err))
		return nil
	}
	return m.reg.Window()[:size:size]
}

// Free implements experimental.LinearMemory. The region outlives the
// wazero instance; its owner scrubs and releases it.
func (m *regionMemory) Free() {}
